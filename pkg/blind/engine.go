package blind

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/tuiss/internal/device"
)

// Engine runs command/notify transactions over a Link, one at a time.
type Engine struct {
	link   *Link
	logger *logrus.Logger
	mu     sync.Mutex

	// live is the session whose frame has been written, until it closes.
	live atomic.Pointer[Session]
}

func newEngine(link *Link, logger *logrus.Logger) *Engine {
	return &Engine{link: link, logger: logger}
}

// Session is one connect, subscribe, write, notify, disconnect cycle.
// It holds the engine until Close.
type Session struct {
	engine  *Engine
	name    string
	client  device.Client
	started time.Time
	stopped <-chan struct{}
	closed  atomic.Bool
	once    sync.Once
}

// Begin connects if needed, subscribes handler exclusively and writes frame.
// The handler sees the first notification only; the session's link is dropped
// once it returns. Notifications arriving after Close are discarded.
func (e *Engine) Begin(ctx context.Context, name string, frame []byte, handler device.NotificationHandler) (*Session, error) {
	e.mu.Lock()

	stopped := e.link.Arm()
	if err := e.link.AttemptConnection(ctx); err != nil {
		e.mu.Unlock()
		return nil, err
	}

	s := &Session{
		engine:  e,
		name:    name,
		client:  e.link.current(),
		stopped: stopped,
	}

	var delivered atomic.Bool
	once := func(data []byte) {
		if s.closed.Load() {
			e.logger.WithField("command", name).Debug("Dropping notification for a closed session")
			return
		}
		if !delivered.CompareAndSwap(false, true) {
			e.logger.WithField("command", name).Debug("Dropping extra notification")
			return
		}
		handler(data)
		e.link.disconnectClient(s.client)
	}

	if err := e.link.Subscribe(once); err != nil {
		e.link.Disconnect()
		e.mu.Unlock()
		return nil, err
	}
	if err := e.link.Write(frame); err != nil {
		e.link.Disconnect()
		e.mu.Unlock()
		return nil, err
	}
	s.started = time.Now()
	e.live.Store(s)
	return s, nil
}

// Done is closed when the link drops.
func (s *Session) Done() <-chan struct{} {
	return s.stopped
}

// Started returns when the command was written.
func (s *Session) Started() time.Time {
	return s.started
}

// Wait blocks until the link drops or ctx ends.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close force-disconnects and releases the engine. Safe to call repeatedly.
func (s *Session) Close() {
	s.once.Do(func() {
		s.closed.Store(true)
		s.engine.live.CompareAndSwap(s, nil)
		s.engine.link.disconnectClient(s.client)
		s.engine.mu.Unlock()
	})
}

// Execute runs a full transaction and blocks until the handler has returned.
func (e *Engine) Execute(ctx context.Context, name string, frame []byte, handler device.NotificationHandler) error {
	s, err := e.Begin(ctx, name, frame, handler)
	if err != nil {
		return err
	}
	defer s.Close()
	return s.Wait(ctx)
}

// SendCommandOnly writes frame on its own link and disconnects without waiting
// for a notification. It queues behind any transaction in flight.
func (e *Engine) SendCommandOnly(ctx context.Context, name string, frame []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.link.AttemptConnection(ctx); err != nil {
		return err
	}
	e.logger.WithField("command", name).Debug("Sending command")
	err := e.link.Write(frame)
	e.link.Disconnect()
	return err
}

// Preempt writes frame on the link of the session in flight and drops it,
// ending that session. Without one it falls back to SendCommandOnly.
// Only stop may use it.
func (e *Engine) Preempt(ctx context.Context, name string, frame []byte) error {
	s := e.live.Swap(nil)
	if s == nil {
		return e.SendCommandOnly(ctx, name, frame)
	}
	e.logger.WithFields(logrus.Fields{
		"command": name,
		"session": s.name,
	}).Debug("Writing on the live link")
	err := e.link.Write(frame)
	e.link.disconnectClient(s.client)
	return err
}

// inFlight reports whether a session has written its frame and not yet closed.
func (e *Engine) inFlight() bool {
	return e.live.Load() != nil
}
