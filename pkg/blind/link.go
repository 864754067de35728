package blind

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/tuiss/internal/device"
	"github.com/srg/tuiss/internal/groutine"
	"github.com/srg/tuiss/internal/protocol"
)

// LinkState is the lifecycle of the GATT link to one peripheral.
type LinkState int

const (
	Unbound LinkState = iota
	Discovering
	Connected
	Disconnected
)

func (s LinkState) String() string {
	switch s {
	case Discovering:
		return "discovering"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return "unbound"
	}
}

// linkConfig is read on every attempt so ApplyConfig takes effect between transactions.
type linkConfig struct {
	attempts int
	delay    time.Duration
}

// Link owns the GATT client of a single peripheral. No other component touches it.
type Link struct {
	address  string
	resolver device.Resolver
	dialer   device.Dialer
	config   func() linkConfig
	logger   *logrus.Logger

	// onResolved receives every handle returned by discovery.
	onResolved func(h device.Handle)

	mu         sync.Mutex
	state      LinkState
	handle     *device.Handle
	client     device.Client
	subscribed bool
	stopped    chan struct{}
	signalled  bool
}

func newLink(address string, resolver device.Resolver, dialer device.Dialer, config func() linkConfig, logger *logrus.Logger) *Link {
	return &Link{
		address:  address,
		resolver: resolver,
		dialer:   dialer,
		config:   config,
		logger:   logger,
		stopped:  make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (l *Link) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Link) setState(s LinkState) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Connected reports whether a live client is held.
func (l *Link) Connected() bool {
	l.mu.Lock()
	client := l.client
	l.mu.Unlock()
	return client != nil && client.IsConnected()
}

// ResolveDevice looks the address up, retrying up to the restart attempt budget.
func (l *Link) ResolveDevice(ctx context.Context) (*device.Handle, error) {
	cfg := l.config()
	l.setState(Discovering)

	for attempt := 1; attempt <= cfg.attempts; attempt++ {
		h, err := l.resolver.Resolve(ctx, l.address)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			l.logger.WithFields(logrus.Fields{
				"address": l.address,
				"attempt": attempt,
				"error":   err,
			}).Debug("Device lookup failed")
		case h != nil:
			l.mu.Lock()
			l.handle = h
			l.mu.Unlock()
			if l.onResolved != nil {
				l.onResolved(*h)
			}
			return h, nil
		default:
			l.logger.WithFields(logrus.Fields{
				"address": l.address,
				"attempt": attempt,
			}).Debug("Device not visible, rediscovering")
		}

		if attempt < cfg.attempts && cfg.delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(cfg.delay):
			}
		}
	}

	l.setState(Unbound)
	return nil, fmt.Errorf("%w: %s after %d attempts", device.ErrDeviceNotFound, l.address, cfg.attempts)
}

// connect makes one connection attempt and reports whether a live client resulted.
// Failures are logged, never returned.
func (l *Link) connect(ctx context.Context, h *device.Handle) bool {
	cfg := l.config()

	client, err := l.dialer.Dial(ctx, h, cfg.attempts)
	if err != nil {
		l.logger.WithFields(logrus.Fields{
			"address": h.Address,
			"error":   err,
		}).Debug("Connect attempt failed")
		return false
	}

	// The firmware drops the link unless the session-init frame arrives first.
	if err := client.Write(protocol.ControlCharacteristic, protocol.SessionInit.Bytes()); err != nil {
		l.logger.WithFields(logrus.Fields{
			"address": h.Address,
			"error":   err,
		}).Debug("Session init failed")
		_ = client.Disconnect()
		return false
	}
	if !client.IsConnected() {
		return false
	}

	l.mu.Lock()
	l.client = client
	l.subscribed = false
	l.state = Connected
	l.mu.Unlock()

	groutine.Go(context.Background(), "link-monitor-"+l.address, func(context.Context) {
		<-client.Disconnected()
		l.dropped(client)
	})

	l.logger.WithField("address", h.Address).Debug("Connected")
	return true
}

// dropped tears down state after the peripheral closed the link itself.
func (l *Link) dropped(client device.Client) {
	if l.teardown(client) {
		l.logger.WithField("address", l.address).Debug("Link dropped by peripheral")
	}
}

// current returns the live client, nil when disconnected.
func (l *Link) current() device.Client {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.client
}

// disconnectClient drops the link only while client is still the live one.
// A stale client is ignored and stop is not signalled.
func (l *Link) disconnectClient(client device.Client) {
	if client != nil {
		l.teardown(client)
	}
}

// AttemptConnection ensures a live link: resolve, then up to the attempt budget of connects.
func (l *Link) AttemptConnection(ctx context.Context) error {
	if l.Connected() {
		return nil
	}

	h, err := l.ResolveDevice(ctx)
	if err != nil {
		return err
	}

	attempts := l.config().attempts
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if l.connect(ctx, h) {
			return nil
		}
		l.logger.WithFields(logrus.Fields{
			"address": l.address,
			"attempt": attempt,
		}).Debug("Retrying connection")
	}

	l.setState(Disconnected)
	return fmt.Errorf("%w: %s after %d attempts", device.ErrConnectionTimeout, l.address, attempts)
}

// Subscribe installs handler as the only notification handler.
// Notifications are delivered on their own goroutine so handlers may disconnect.
func (l *Link) Subscribe(handler device.NotificationHandler) error {
	l.mu.Lock()
	client := l.client
	residual := l.subscribed
	l.mu.Unlock()

	if client == nil {
		return device.ErrNotConnected
	}
	if residual {
		if err := client.Unsubscribe(protocol.NotifyCharacteristic); err != nil {
			l.logger.WithField("error", err).Debug("Residual unsubscribe failed")
		}
	}

	err := client.Subscribe(protocol.NotifyCharacteristic, func(data []byte) {
		payload := append([]byte(nil), data...)
		groutine.Go(context.Background(), "notify-"+l.address, func(context.Context) {
			handler(payload)
		})
	})
	if err != nil {
		return fmt.Errorf("subscribe failed: %w", err)
	}

	l.mu.Lock()
	l.subscribed = true
	l.mu.Unlock()
	return nil
}

// Write sends frame to the control characteristic.
func (l *Link) Write(frame []byte) error {
	l.mu.Lock()
	client := l.client
	l.mu.Unlock()

	if client == nil {
		return device.ErrNotConnected
	}
	l.logger.WithFields(logrus.Fields{
		"address": l.address,
		"command": protocol.FormatFrame(frame),
	}).Debug("Writing command")
	return client.Write(protocol.ControlCharacteristic, frame)
}

// Disconnect tears the link down. It is idempotent and always signals stop.
func (l *Link) Disconnect() {
	l.teardown(nil)
}

// teardown drops the live client and signals stop. With only set, nothing
// happens unless only is the live client. It reports whether it ran.
func (l *Link) teardown(only device.Client) bool {
	l.mu.Lock()
	if only != nil && l.client != only {
		l.mu.Unlock()
		return false
	}
	client := l.client
	subscribed := l.subscribed
	l.client = nil
	l.subscribed = false
	if client != nil {
		l.state = Disconnected
	}
	l.mu.Unlock()

	if client != nil {
		if subscribed {
			if err := client.Unsubscribe(protocol.NotifyCharacteristic); err != nil {
				l.logger.WithField("error", err).Debug("Unsubscribe during disconnect failed")
			}
		}
		if err := client.Disconnect(); err != nil {
			l.logger.WithField("error", err).Debug("Disconnect failed")
		}
		l.logger.WithField("address", l.address).Debug("Disconnected")
	}

	l.signal()
	return true
}

// Arm clears the stop signal and returns the channel the next Disconnect closes.
func (l *Link) Arm() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.signalled {
		l.stopped = make(chan struct{})
		l.signalled = false
	}
	return l.stopped
}

func (l *Link) signal() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.signalled {
		close(l.stopped)
		l.signalled = true
	}
}

// WaitForStop blocks until Disconnect has signalled since the last Arm.
func (l *Link) WaitForStop(ctx context.Context) error {
	l.mu.Lock()
	stopped := l.stopped
	l.mu.Unlock()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
