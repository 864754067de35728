package testutils

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/srg/tuiss/internal/device"
	"github.com/srg/tuiss/internal/protocol"
	"github.com/stretchr/testify/mock"
)

// Default identity of the simulated blind.
const (
	DefaultAddress   = "AA:BB:CC:DD:EE:01"
	DefaultName      = "Living Room"
	DefaultModelName = "TS5200-0001"
	DefaultRSSI      = -60
)

// ErrDialFailed is returned by simulated failing dials.
var ErrDialFailed = errors.New("simulated dial failure")

type scriptedResponse struct {
	delay         time.Duration
	notifications [][]byte
	dropLink      bool
}

// PeripheralBuilder scripts a simulated blind motor.
type PeripheralBuilder struct {
	handle          device.Handle
	unresolvable    bool
	resolveFailures int
	dialFailures    int
	initFailures    int
	responses       map[string]scriptedResponse
	writeErrors     map[string]error
}

// NewPeripheralBuilder creates a builder for a resolvable, connectable blind that answers nothing.
func NewPeripheralBuilder() *PeripheralBuilder {
	return &PeripheralBuilder{
		handle:      device.Handle{Address: DefaultAddress, Name: DefaultModelName, RSSI: DefaultRSSI},
		responses:   make(map[string]scriptedResponse),
		writeErrors: make(map[string]error),
	}
}

// WithAddress sets the peripheral address.
func (b *PeripheralBuilder) WithAddress(address string) *PeripheralBuilder {
	b.handle.Address = address
	return b
}

// WithAdvertisedName sets the name carried by advertisements (the model).
func (b *PeripheralBuilder) WithAdvertisedName(name string) *PeripheralBuilder {
	b.handle.Name = name
	return b
}

// WithRSSI sets the signal strength reported by discovery.
func (b *PeripheralBuilder) WithRSSI(rssi int) *PeripheralBuilder {
	b.handle.RSSI = rssi
	return b
}

// Unresolvable makes every lookup return no handle.
func (b *PeripheralBuilder) Unresolvable() *PeripheralBuilder {
	b.unresolvable = true
	return b
}

// WithResolveFailures makes the first n lookups return no handle.
func (b *PeripheralBuilder) WithResolveFailures(n int) *PeripheralBuilder {
	b.resolveFailures = n
	return b
}

// WithDialFailures makes the first n dials fail.
func (b *PeripheralBuilder) WithDialFailures(n int) *PeripheralBuilder {
	b.dialFailures = n
	return b
}

// WithSessionInitFailures makes the session-init write fail on the first n connections.
func (b *PeripheralBuilder) WithSessionInitFailures(n int) *PeripheralBuilder {
	b.initFailures = n
	return b
}

// WithResponse answers frame with the given notifications after delay.
func (b *PeripheralBuilder) WithResponse(frame []byte, delay time.Duration, notifications ...[]byte) *PeripheralBuilder {
	b.responses[protocol.FormatFrame(frame)] = scriptedResponse{delay: delay, notifications: notifications}
	return b
}

// WithHangup makes the peripheral drop the link after delay instead of answering frame.
func (b *PeripheralBuilder) WithHangup(frame []byte, delay time.Duration) *PeripheralBuilder {
	b.responses[protocol.FormatFrame(frame)] = scriptedResponse{delay: delay, dropLink: true}
	return b
}

// WithWriteError makes writes of frame fail with err.
func (b *PeripheralBuilder) WithWriteError(frame []byte, err error) *PeripheralBuilder {
	b.writeErrors[protocol.FormatFrame(frame)] = err
	return b
}

// Build creates the simulated peripheral with its mock expectations.
func (b *PeripheralBuilder) Build() *Peripheral {
	p := &Peripheral{
		Resolver:     &MockResolver{},
		Dialer:       &MockDialer{},
		handle:       b.handle,
		responses:    b.responses,
		writeErrors:  b.writeErrors,
		initFailures: b.initFailures,
	}

	switch {
	case b.unresolvable:
		p.Resolver.On("Resolve", mock.Anything, mock.Anything).Return(nil, nil)
	default:
		if b.resolveFailures > 0 {
			p.Resolver.On("Resolve", mock.Anything, mock.Anything).Return(nil, nil).Times(b.resolveFailures)
		}
		h := b.handle
		p.Resolver.On("Resolve", mock.Anything, mock.Anything).Return(&h, nil)
	}

	if b.dialFailures > 0 {
		p.Dialer.On("Dial", mock.Anything, mock.Anything, mock.Anything).Return(nil, ErrDialFailed).Times(b.dialFailures)
	}
	p.Dialer.On("Dial", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	return p
}

// Peripheral is a simulated blind motor implementing device.Resolver and device.Dialer.
type Peripheral struct {
	Resolver *MockResolver
	Dialer   *MockDialer

	handle      device.Handle
	responses   map[string]scriptedResponse
	writeErrors map[string]error

	mu           sync.Mutex
	initFailures int
	clients      []*MockClient
	writes       [][]byte
}

// Resolve implements device.Resolver.
func (p *Peripheral) Resolve(ctx context.Context, address string) (*device.Handle, error) {
	args := p.Resolver.MethodCalled("Resolve", ctx, address)
	h, _ := args.Get(0).(*device.Handle)
	if h != nil {
		c := *h
		h = &c
	}
	return h, args.Error(1)
}

// Dial implements device.Dialer; successful dials return a fresh MockClient.
func (p *Peripheral) Dial(ctx context.Context, h *device.Handle, attempts int) (device.Client, error) {
	args := p.Dialer.MethodCalled("Dial", ctx, h, attempts)
	if err := args.Error(1); err != nil {
		return nil, err
	}

	c := NewMockClient().ExpectLink()
	c.OnWrite = p.onWrite

	p.mu.Lock()
	p.clients = append(p.clients, c)
	p.mu.Unlock()
	return c, nil
}

func (p *Peripheral) onWrite(c *MockClient, data []byte) error {
	frame := protocol.FormatFrame(data)

	p.mu.Lock()
	p.writes = append(p.writes, append([]byte(nil), data...))
	if frame == protocol.FormatFrame(protocol.SessionInit.Bytes()) && p.initFailures > 0 {
		p.initFailures--
		p.mu.Unlock()
		return ErrDialFailed
	}
	p.mu.Unlock()

	if err, ok := p.writeErrors[frame]; ok {
		return err
	}

	resp, ok := p.responses[frame]
	if !ok {
		return nil
	}
	go func() {
		time.Sleep(resp.delay)
		if resp.dropLink {
			c.Drop()
			return
		}
		for _, n := range resp.notifications {
			c.Notify(n)
		}
	}()
	return nil
}

// Clients returns every client handed out so far.
func (p *Peripheral) Clients() []*MockClient {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*MockClient(nil), p.clients...)
}

// LastClient returns the most recent client or nil.
func (p *Peripheral) LastClient() *MockClient {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.clients) == 0 {
		return nil
	}
	return p.clients[len(p.clients)-1]
}

// Writes returns every frame written, session-init frames included.
func (p *Peripheral) Writes() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.writes))
	copy(out, p.writes)
	return out
}

// CommandWrites returns written frames excluding session-init, as hex.
func (p *Peripheral) CommandWrites() []string {
	init := protocol.FormatFrame(protocol.SessionInit.Bytes())
	var out []string
	for _, w := range p.Writes() {
		if f := protocol.FormatFrame(w); f != init {
			out = append(out, f)
		}
	}
	return out
}

// Handle returns the handle discovery reports.
func (p *Peripheral) Handle() device.Handle {
	return p.handle
}

// BatteryFrame builds a battery notification; level < 10 reads as good.
func BatteryFrame(level byte) []byte {
	return []byte{0xff, 0x01, 0x02, 0x03, 210, level, 0x00, 0x00}
}

// PositionFrame builds a position notification for a device-space position.
func PositionFrame(position float64) []byte {
	v := int(position*10 + 0.5)
	return []byte{0xff, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, byte(v % 256), byte(v / 256)}
}

// AckFrame is a generic notification used to end set-position sessions.
func AckFrame() []byte {
	return []byte{0xff, 0x78, 0xea, 0x41, 0xbf, 0x03, 0x01}
}
