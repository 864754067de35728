package testutils

import (
	"context"
	"sync"

	"github.com/srg/tuiss/internal/device"
	"github.com/stretchr/testify/mock"
)

// MockResolver is a testify mock of device.Resolver.
type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) Resolve(ctx context.Context, address string) (*device.Handle, error) {
	args := m.Called(ctx, address)
	h, _ := args.Get(0).(*device.Handle)
	return h, args.Error(1)
}

// MockDialer is a testify mock of device.Dialer.
type MockDialer struct {
	mock.Mock
}

func (m *MockDialer) Dial(ctx context.Context, h *device.Handle, attempts int) (device.Client, error) {
	args := m.Called(ctx, h, attempts)
	c, _ := args.Get(0).(device.Client)
	return c, args.Error(1)
}

// MockClient is a testify mock of device.Client that also behaves like a link:
// it tracks connection state and delivers notifications to its subscriber.
type MockClient struct {
	mock.Mock

	// OnWrite, when set, runs after a successful Write expectation.
	OnWrite func(c *MockClient, data []byte) error

	mu        sync.Mutex
	connected bool
	handler   device.NotificationHandler
	done      chan struct{}
	doneOnce  sync.Once
}

// NewMockClient returns a connected client with no expectations.
func NewMockClient() *MockClient {
	return &MockClient{connected: true, done: make(chan struct{})}
}

// ExpectLink registers permissive expectations for every GATT primitive.
func (m *MockClient) ExpectLink() *MockClient {
	m.On("Write", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("Subscribe", mock.Anything).Return(nil).Maybe()
	m.On("Unsubscribe", mock.Anything).Return(nil).Maybe()
	m.On("Disconnect").Return(nil).Maybe()
	return m
}

func (m *MockClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockClient) Write(characteristic string, data []byte) error {
	args := m.Called(characteristic, data)
	if err := args.Error(0); err != nil {
		return err
	}
	if m.OnWrite != nil {
		return m.OnWrite(m, data)
	}
	return nil
}

func (m *MockClient) Subscribe(characteristic string, handler device.NotificationHandler) error {
	args := m.Called(characteristic)
	if err := args.Error(0); err != nil {
		return err
	}
	m.mu.Lock()
	m.handler = handler
	m.mu.Unlock()
	return nil
}

func (m *MockClient) Unsubscribe(characteristic string) error {
	args := m.Called(characteristic)
	m.mu.Lock()
	m.handler = nil
	m.mu.Unlock()
	return args.Error(0)
}

func (m *MockClient) Disconnect() error {
	args := m.Called()
	m.Drop()
	return args.Error(0)
}

func (m *MockClient) Disconnected() <-chan struct{} {
	return m.done
}

// Notify delivers data to the current subscriber, as the peripheral would.
// It reports whether a subscriber was present.
func (m *MockClient) Notify(data []byte) bool {
	m.mu.Lock()
	h := m.handler
	connected := m.connected
	m.mu.Unlock()
	if h == nil || !connected {
		return false
	}
	h(data)
	return true
}

// Drop closes the link without a Disconnect call, as if the peripheral hung up.
func (m *MockClient) Drop() {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	m.doneOnce.Do(func() { close(m.done) })
}
