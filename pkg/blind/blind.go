// Package blind drives one Tuiss Smartview motor over BLE: connection management,
// command/notify transactions, motion tracking and the facade used by callers.
package blind

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/tuiss/internal/device"
	"github.com/srg/tuiss/internal/groutine"
	"github.com/srg/tuiss/internal/protocol"
)

// Transport is the BLE boundary a blind needs.
type Transport interface {
	device.Resolver
	device.Dialer
}

// Blind is one physical blind.
type Blind struct {
	address string
	name    string
	logger  *logrus.Logger

	st        *state
	link      *Link
	engine    *Engine
	motion    *Motion
	observers *observers

	optsMu       sync.RWMutex
	opts         Options
	pendingSpeed string
}

// New creates a blind. Zero-valued options take their defaults.
func New(address, name string, transport Transport, opts Options, logger *logrus.Logger) (*Blind, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if err := ValidateAddress(address); err != nil {
		return nil, fmt.Errorf("%w: %q", err, address)
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	address = strings.ToUpper(strings.TrimSpace(address))
	b := &Blind{
		address:   address,
		name:      name,
		logger:    logger,
		st:        &state{},
		observers: newObservers(logger),
		opts:      opts,
	}

	b.link = newLink(address, transport, transport, b.linkConfig, logger)
	b.link.onResolved = b.resolved
	b.engine = newEngine(b.link, logger)
	b.motion = &Motion{
		address: address,
		st:      b.st,
		engine:  b.engine,
		options: b.Options,
		publish: b.observers.notify,
		logger:  logger,
	}
	return b, nil
}

func (b *Blind) linkConfig() linkConfig {
	o := b.Options()
	return linkConfig{attempts: o.RestartAttempts, delay: o.RediscoveryDelay}
}

func (b *Blind) resolved(h device.Handle) {
	b.st.mu.Lock()
	if h.Name != "" {
		b.st.model = h.Name
	}
	if h.RSSI != 0 {
		b.st.rssi = ptr(h.RSSI)
	}
	b.st.mu.Unlock()
}

// Address returns the normalized peripheral address.
func (b *Blind) Address() string { return b.address }

// Name returns the configured name.
func (b *Blind) Name() string { return b.name }

// Link exposes the connection manager.
func (b *Blind) Link() *Link { return b.link }

// Options returns the current configuration.
func (b *Blind) Options() Options {
	b.optsMu.RLock()
	defer b.optsMu.RUnlock()
	return b.opts
}

// ApplyConfig replaces the configuration. A speed change is sent with the next move.
func (b *Blind) ApplyConfig(opts Options) error {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return err
	}

	b.optsMu.Lock()
	if !strings.EqualFold(opts.BlindSpeed, b.opts.BlindSpeed) {
		b.pendingSpeed = opts.BlindSpeed
	}
	b.opts = opts
	b.optsMu.Unlock()
	return nil
}

// State returns a snapshot of every field.
func (b *Blind) State() State {
	opts := b.Options()

	b.st.mu.Lock()
	defer b.st.mu.Unlock()
	return State{
		Address:         b.address,
		Name:            b.name,
		Model:           b.st.model,
		Moving:          b.st.moving,
		Stopping:        b.st.stopping,
		Locked:          b.st.locked,
		CurrentPosition: clone(b.st.position),
		DesiredPosition: clone(b.st.desired),
		TraversalSpeed:  clone(b.st.speed),
		Battery:         b.st.battery,
		BatteryStatus:   b.st.battery.String(),
		RSSI:            clone(b.st.rssi),
		Speed:           opts.BlindSpeed,
	}
}

// CoverState derives opening/closing/open/closed.
func (b *Blind) CoverState() CoverState {
	return b.State().Cover()
}

// IsClosed reports a fully closed blind.
func (b *Blind) IsClosed() bool {
	return b.State().IsClosed()
}

// SupportsSpeedControl reports whether the advertised model accepts speed frames.
func (b *Blind) SupportsSpeedControl() bool {
	return protocol.SupportsSpeedControl(b.State().Model)
}

// UpdateRSSI records a signal strength heard by a passive scan.
func (b *Blind) UpdateRSSI(rssi int) {
	b.st.mu.Lock()
	b.st.rssi = ptr(rssi)
	b.st.mu.Unlock()
	b.publish()
}

// RegisterCallback adds an observer; duplicates are ignored.
func (b *Blind) RegisterCallback(o Observer) {
	b.observers.add(o)
}

// RemoveCallback removes an observer if present.
func (b *Blind) RemoveCallback(o Observer) {
	b.observers.remove(o)
}

func (b *Blind) publish() {
	b.observers.notify()
}

func (b *Blind) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if timeout := b.Options().ResponseTimeout; timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

// GetBatteryStatus queries the battery and publishes the result.
func (b *Blind) GetBatteryStatus(ctx context.Context) error {
	return b.query(ctx, protocol.BatteryQuery, b.applyBattery)
}

// GetPosition queries the motor position and publishes the result.
func (b *Blind) GetPosition(ctx context.Context) error {
	return b.query(ctx, protocol.PositionQuery, b.applyPosition)
}

// query runs one transaction whose handler applies the response and disconnects.
func (b *Blind) query(ctx context.Context, cmd protocol.Command, apply func([]byte) error) error {
	ctx, cancel := b.queryContext(ctx)
	defer cancel()

	var (
		responded bool
		applyErr  error
	)
	handler := func(data []byte) {
		responded = true
		applyErr = apply(data)
	}

	if err := b.engine.Execute(ctx, cmd.String(), cmd.Bytes(), handler); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: no response to %s from %s", device.ErrConnectionTimeout, cmd, b.address)
		}
		return err
	}
	if !responded {
		return fmt.Errorf("%w: link dropped before %s response", device.ErrNotConnected, cmd)
	}
	if applyErr != nil {
		b.logger.WithFields(logrus.Fields{
			"address": b.address,
			"command": cmd.String(),
			"error":   applyErr,
		}).Error("Response rejected")
		return applyErr
	}
	b.publish()
	return nil
}

func (b *Blind) applyBattery(data []byte) error {
	fields, err := protocol.DecodeResponse(data)
	if err != nil {
		return err
	}
	status := protocol.InterpretBattery(fields)

	b.st.mu.Lock()
	b.st.battery = status
	b.st.mu.Unlock()

	b.logger.WithFields(logrus.Fields{
		"address": b.address,
		"data":    protocol.FormatFrame(data),
		"battery": status.String(),
	}).Debug("Battery response")
	return nil
}

func (b *Blind) applyPosition(data []byte) error {
	fields, err := protocol.DecodeResponse(data)
	if err != nil {
		return err
	}
	position, err := protocol.InterpretPosition(fields)
	if err != nil {
		return err
	}

	b.st.mu.Lock()
	b.st.position = ptr(position)
	b.st.mu.Unlock()

	b.logger.WithFields(logrus.Fields{
		"address":  b.address,
		"position": position,
	}).Debug("Position response")
	return nil
}

// Move drives the blind; see Motion.Move. A deferred speed change is sent first.
func (b *Blind) Move(ctx context.Context, dir Direction, targetPercent float64) error {
	b.flushPendingSpeed(ctx)
	return b.motion.Move(ctx, dir, targetPercent)
}

// Open moves to fully open.
func (b *Blind) Open(ctx context.Context) error {
	return b.Move(ctx, Opening, 0)
}

// Close moves to fully closed.
func (b *Blind) Close(ctx context.Context) error {
	return b.Move(ctx, Closing, 100)
}

// SetPosition moves to position, in the same space as the reported position.
func (b *Blind) SetPosition(ctx context.Context, position float64) error {
	if position < 0 || position > 100 {
		return fmt.Errorf("%w: position %v outside [0,100]", protocol.ErrEncoding, position)
	}
	dir := Opening
	if current := b.State().CurrentPosition; current != nil && *current > position {
		dir = Closing
	}
	return b.Move(ctx, dir, 100-position)
}

// GoToFavorite moves to the configured favorite position.
func (b *Blind) GoToFavorite(ctx context.Context) error {
	return b.SetPosition(ctx, b.Options().FavoritePosition)
}

// SetExactPosition sends one set-position frame with decimal precision, without
// motion tracking. It holds the move lock, so it fails with ErrBusy during a move.
// With DesiredOrientation set the recorded position is inverted.
func (b *Blind) SetExactPosition(ctx context.Context, position float64) error {
	frame, err := protocol.EncodePosition(100 - position)
	if err != nil {
		return err
	}
	gen, err := b.motion.acquire()
	if err != nil {
		return err
	}
	defer b.motion.release(gen)

	if err := b.engine.SendCommandOnly(ctx, "set-exact-position", frame); err != nil {
		return err
	}

	recorded := position
	if b.Options().DesiredOrientation {
		recorded = 100 - position
	}
	b.st.mu.Lock()
	b.st.position = ptr(recorded)
	b.st.mu.Unlock()
	b.publish()
	return nil
}

// Stop halts the motor. ErrStopFailed is soft; the blind is left idle and unlocked.
func (b *Blind) Stop(ctx context.Context) error {
	return b.motion.Stop(ctx)
}

// SetSpeed records and sends a speed setting. While moving the frame is held
// until the next move starts.
func (b *Blind) SetSpeed(ctx context.Context, name string) error {
	cmd, err := protocol.SpeedCommand(name)
	if err != nil {
		return err
	}

	b.optsMu.Lock()
	b.opts.BlindSpeed = canonicalSpeed(cmd)
	b.st.mu.Lock()
	moving := b.st.moving != Idle
	b.st.mu.Unlock()
	if moving {
		b.pendingSpeed = b.opts.BlindSpeed
		b.optsMu.Unlock()
		b.logger.WithField("speed", name).Info("Blind is moving, speed change deferred")
		return nil
	}
	b.pendingSpeed = ""
	b.optsMu.Unlock()

	if !b.SupportsSpeedControl() {
		b.logger.WithField("model", b.State().Model).Debug("Model may not support speed control")
	}
	return b.engine.SendCommandOnly(ctx, cmd.String(), cmd.Bytes())
}

func (b *Blind) flushPendingSpeed(ctx context.Context) {
	b.st.mu.Lock()
	idle := b.st.moving == Idle
	b.st.mu.Unlock()
	if !idle {
		return
	}

	b.optsMu.Lock()
	pending := b.pendingSpeed
	b.pendingSpeed = ""
	b.optsMu.Unlock()
	if pending == "" {
		return
	}

	cmd, err := protocol.SpeedCommand(pending)
	if err == nil {
		err = b.engine.SendCommandOnly(ctx, cmd.String(), cmd.Bytes())
	}
	if err != nil {
		b.logger.WithFields(logrus.Fields{
			"address": b.address,
			"speed":   pending,
			"error":   err,
		}).Warn("Deferred speed change failed")
	}
}

func canonicalSpeed(cmd protocol.Command) string {
	switch cmd {
	case protocol.SpeedComfort:
		return protocol.SpeedNameComfort
	case protocol.SpeedSlow:
		return protocol.SpeedNameSlow
	default:
		return protocol.SpeedNameStandard
	}
}

// Start runs start-up work in the background: a position read when
// PositionOnRestart is set. The returned task may be nil.
func (b *Blind) Start(ctx context.Context) *groutine.Task {
	if !b.Options().PositionOnRestart {
		return nil
	}
	return groutine.Go(ctx, "position-on-restart-"+b.address, func(ctx context.Context) {
		if err := b.GetPosition(ctx); err != nil {
			b.logger.WithFields(logrus.Fields{
				"address": b.address,
				"error":   err,
			}).Warn("Start-up position read failed")
		}
	})
}
