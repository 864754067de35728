package blind

import (
	"fmt"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/srg/tuiss/internal/protocol"
)

// Options is the per-blind configuration. Zero-valued fields take the tag defaults.
type Options struct {
	RestartAttempts    int     `yaml:"restart_attempts" json:"restart_attempts" default:"4"`
	PositionOnRestart  bool    `yaml:"position_on_restart" json:"position_on_restart" default:"false"`
	BlindSpeed         string  `yaml:"blind_speed" json:"blind_speed" default:"Standard"`
	DesiredOrientation bool    `yaml:"desired_orientation" json:"desired_orientation" default:"false"`
	FavoritePosition   float64 `yaml:"favorite_position" json:"favorite_position" default:"50"`

	// RediscoveryDelay is the pause between address lookups; zero retries immediately.
	RediscoveryDelay time.Duration `yaml:"rediscovery_delay" json:"rediscovery_delay" default:"0s"`
	// ResponseTimeout bounds battery and position queries.
	ResponseTimeout time.Duration `yaml:"response_timeout" json:"response_timeout" default:"30s"`
	// FallbackTimeout bounds a move when no usable traversal speed is known.
	FallbackTimeout       time.Duration `yaml:"fallback_timeout" json:"fallback_timeout" default:"120s"`
	ExtrapolationInterval time.Duration `yaml:"extrapolation_interval" json:"extrapolation_interval" default:"1s"`
	StopPollInterval      time.Duration `yaml:"stop_poll_interval" json:"stop_poll_interval" default:"50ms"`
}

// DefaultOptions returns Options with every default applied.
func DefaultOptions() Options {
	var o Options
	defaults.SetDefaults(&o)
	return o
}

// withDefaults fills zero-valued fields.
func (o Options) withDefaults() Options {
	defaults.SetDefaults(&o)
	return o
}

// Validate checks option ranges and the speed name.
func (o Options) Validate() error {
	if o.RestartAttempts < 1 {
		return fmt.Errorf("restart_attempts must be at least 1, got %d", o.RestartAttempts)
	}
	if _, err := protocol.SpeedCommand(o.BlindSpeed); err != nil {
		return err
	}
	if o.FavoritePosition < 0 || o.FavoritePosition > 100 {
		return fmt.Errorf("favorite_position must be within [0,100], got %v", o.FavoritePosition)
	}
	if o.RediscoveryDelay < 0 {
		return fmt.Errorf("rediscovery_delay must not be negative")
	}
	return nil
}
