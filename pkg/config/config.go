package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/tuiss/pkg/blind"
	"gopkg.in/yaml.v3"
)

// ErrNoBlind is returned when a named blind is not configured.
var ErrNoBlind = errors.New("blind not configured")

// Config holds application configuration
type Config struct {
	LogLevel       string        `yaml:"log_level" json:"log_level" default:"info"`
	ScanTimeout    time.Duration `yaml:"scan_timeout" json:"scan_timeout" default:"10s"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout" default:"20s"`
	Blinds         []BlindConfig `yaml:"blinds" json:"blinds"`
}

// BlindConfig is one configured blind.
type BlindConfig struct {
	Address string        `yaml:"address" json:"address"`
	Name    string        `yaml:"name" json:"name"`
	Options blind.Options `yaml:"options" json:"options"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates YAML configuration.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	defaults.SetDefaults(c)
	for i := range c.Blinds {
		defaults.SetDefaults(&c.Blinds[i].Options)
	}
}

// Validate checks the log level and every blind entry.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}

	seen := make(map[string]string, len(c.Blinds))
	for i, b := range c.Blinds {
		if err := blind.ValidateAddress(b.Address); err != nil {
			return fmt.Errorf("blinds[%d]: %w: %q", i, err, b.Address)
		}
		if err := blind.ValidateName(b.Name); err != nil {
			return fmt.Errorf("blinds[%d]: %w", i, err)
		}
		if err := b.Options.Validate(); err != nil {
			return fmt.Errorf("blinds[%d] (%s): %w", i, b.Name, err)
		}

		address := strings.ToUpper(strings.TrimSpace(b.Address))
		if other, dup := seen[address]; dup {
			return fmt.Errorf("blinds[%d] (%s): address %s already used by %s", i, b.Name, address, other)
		}
		seen[address] = b.Name
	}
	return nil
}

// Blind returns the entry whose name (case-insensitive) or address matches.
func (c *Config) Blind(nameOrAddress string) (BlindConfig, error) {
	key := strings.TrimSpace(nameOrAddress)
	for _, b := range c.Blinds {
		if strings.EqualFold(b.Name, key) || strings.EqualFold(b.Address, key) {
			return b, nil
		}
	}
	return BlindConfig{}, fmt.Errorf("%w: %q", ErrNoBlind, nameOrAddress)
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
