package goble

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/tuiss/internal/device"
	"github.com/srg/tuiss/internal/groutine"
	"github.com/srg/tuiss/internal/protocol"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
var DeviceFactory = newPlatformDevice

// TransportOptions tunes discovery and dialing.
type TransportOptions struct {
	ScanTimeout    time.Duration
	ConnectTimeout time.Duration
}

// Transport implements device.Resolver and device.Dialer on top of go-ble.
type Transport struct {
	opts    TransportOptions
	logger  *logrus.Logger
	scanner *Scanner

	mu  sync.Mutex
	dev ble.Device
}

// NewTransport creates a go-ble transport. The host device is opened lazily.
func NewTransport(opts TransportOptions, logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = 10 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 20 * time.Second
	}
	t := &Transport{opts: opts, logger: logger}
	t.scanner = NewScanner(t.device, logger)
	return t
}

// Scanner returns the advertisement cache backing Resolve.
func (t *Transport) Scanner() *Scanner {
	return t.scanner
}

// device opens the host device once and installs it as the go-ble default.
func (t *Transport) device() (ble.Device, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dev != nil {
		return t.dev, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		t.logger.WithField("error", err).Error("Failed to create BLE device")
		return nil, NormalizeError(err)
	}
	ble.SetDefaultDevice(dev)
	t.dev = dev
	return dev, nil
}

// Resolve implements device.Resolver.
func (t *Transport) Resolve(ctx context.Context, address string) (*device.Handle, error) {
	return t.scanner.Lookup(ctx, address, t.opts.ScanTimeout)
}

// Dial implements device.Dialer, retrying up to attempts times.
func (t *Transport) Dial(ctx context.Context, h *device.Handle, attempts int) (device.Client, error) {
	if h == nil {
		return nil, device.ErrDeviceNotFound
	}
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		client, err := t.dialOnce(ctx, h)
		if err == nil {
			return client, nil
		}
		lastErr = err
		t.logger.WithFields(logrus.Fields{
			"address": h.Address,
			"attempt": attempt,
			"error":   err,
		}).Debug("Dial attempt failed")
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("%w: %s after %d attempts: %v", device.ErrConnectionTimeout, h.Address, attempts, lastErr)
}

func (t *Transport) dialOnce(ctx context.Context, h *device.Handle) (device.Client, error) {
	if _, err := t.device(); err != nil {
		return nil, err
	}

	connCtx, cancel := context.WithTimeout(ctx, t.opts.ConnectTimeout)
	defer cancel()

	t.logger.WithField("address", h.Address).Debug("Dialing BLE device...")
	client, err := ble.Dial(connCtx, ble.NewAddr(h.Address))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", h.Address, NormalizeError(err))
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			t.logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection during profile discovery failure")
		}
		return nil, fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	chars := make(map[string]*ble.Characteristic, 2)
	for _, id := range []string{protocol.ControlCharacteristic, protocol.NotifyCharacteristic} {
		c := findCharacteristic(profile, ble.MustParse(id))
		if c == nil {
			_ = client.CancelConnection()
			return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{id}}
		}
		chars[id] = c
	}

	t.logger.WithFields(logrus.Fields{
		"address":  h.Address,
		"services": len(profile.Services),
	}).Info("BLE device connected")

	return newGATTClient(client, chars, t.logger), nil
}

func findCharacteristic(profile *ble.Profile, id ble.UUID) *ble.Characteristic {
	for _, svc := range profile.Services {
		for _, c := range svc.Characteristics {
			if c.UUID.Equal(id) {
				return c
			}
		}
	}
	return nil
}

// gattClient implements device.Client for one go-ble connection.
type gattClient struct {
	client ble.Client
	chars  map[string]*ble.Characteristic
	logger *logrus.Logger

	mu        sync.Mutex
	connected bool
	done      chan struct{}
	closeOnce sync.Once
}

func newGATTClient(client ble.Client, chars map[string]*ble.Characteristic, logger *logrus.Logger) *gattClient {
	c := &gattClient{
		client:    client,
		chars:     chars,
		logger:    logger,
		connected: true,
		done:      make(chan struct{}),
	}

	// Watch the link so a drop initiated by the peripheral is observed.
	if watcher, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(context.Background(), "ble-connection-monitor", func(ctx context.Context) {
			select {
			case <-watcher.Disconnected():
				c.logger.Debug("Peripheral dropped the connection")
				c.markDisconnected()
			case <-c.done:
			}
		})
	}
	return c
}

func (c *gattClient) markDisconnected() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *gattClient) characteristic(id string) (*ble.Characteristic, error) {
	ch, ok := c.chars[id]
	if !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{id}}
	}
	return ch, nil
}

func (c *gattClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *gattClient) Write(characteristic string, data []byte) error {
	if !c.IsConnected() {
		return device.ErrNotConnected
	}
	ch, err := c.characteristic(characteristic)
	if err != nil {
		return err
	}
	return NormalizeError(c.client.WriteCharacteristic(ch, data, false))
}

func (c *gattClient) Subscribe(characteristic string, handler device.NotificationHandler) error {
	if !c.IsConnected() {
		return device.ErrNotConnected
	}
	ch, err := c.characteristic(characteristic)
	if err != nil {
		return err
	}
	return NormalizeError(c.client.Subscribe(ch, false, func(req []byte) {
		handler(req)
	}))
}

func (c *gattClient) Unsubscribe(characteristic string) error {
	if !c.IsConnected() {
		return device.ErrNotConnected
	}
	ch, err := c.characteristic(characteristic)
	if err != nil {
		return err
	}
	return NormalizeError(c.client.Unsubscribe(ch, false))
}

func (c *gattClient) Disconnect() error {
	if !c.IsConnected() {
		return nil
	}
	c.markDisconnected()
	return NormalizeError(c.client.CancelConnection())
}

func (c *gattClient) Disconnected() <-chan struct{} {
	return c.done
}
