package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// NotFoundError represents an error when a GATT resource is missing on the peripheral
type NotFoundError struct {
	Resource string   // "service", "characteristic"
	UUIDs    []string // One or more UUIDs
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %q not found", e.Resource, strings.Join(e.UUIDs, ", "))
}

// ConnectionState represents the specific kind of connection failure
type ConnectionState string

const (
	NotConnected      ConnectionState = "not_connected"
	DeviceNotFound    ConnectionState = "device_not_found"
	ConnectionTimeout ConnectionState = "connection_timeout"
	BluetoothOff      ConnectionState = "bluetooth_off"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected      = &ConnectionError{State: NotConnected}
	ErrDeviceNotFound    = &ConnectionError{State: DeviceNotFound}
	ErrConnectionTimeout = &ConnectionError{State: ConnectionTimeout}
	ErrBluetoothOff      = &ConnectionError{State: BluetoothOff}
)

var ErrUnsupported = errors.New("unsupported")

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// NormalizeError maps known transport error strings to structured ConnectionError types.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return err
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "is bluetooth turned on"),
		containsIgnoreCase(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "device not connected"),
		containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case errors.Is(err, context.DeadlineExceeded),
		containsIgnoreCase(msg, "timeout"),
		containsIgnoreCase(msg, "timed out"),
		containsIgnoreCase(msg, "connection refused"):
		return fmt.Errorf("%w: %v", ErrConnectionTimeout, err)
	default:
		return err
	}
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// Handle is a connectable peripheral as last seen by discovery.
type Handle struct {
	Address string
	Name    string
	RSSI    int
}

// Resolver looks up a connectable peripheral by address.
// A nil handle with a nil error means the address is not currently visible.
type Resolver interface {
	Resolve(ctx context.Context, address string) (*Handle, error)
}

// Dialer opens a GATT connection, retrying internally up to attempts times.
type Dialer interface {
	Dial(ctx context.Context, h *Handle, attempts int) (Client, error)
}

// NotificationHandler receives one notification payload.
type NotificationHandler func(data []byte)

// Client is a live GATT connection. It is owned by exactly one connection manager.
type Client interface {
	IsConnected() bool
	Write(characteristic string, data []byte) error
	Subscribe(characteristic string, handler NotificationHandler) error
	Unsubscribe(characteristic string) error
	Disconnect() error
	// Disconnected is closed when the link drops for any reason.
	Disconnected() <-chan struct{}
}
