package blind

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/tuiss/internal/groutine"
	"github.com/srg/tuiss/internal/protocol"
)

// deadlineFactor pads the expected travel time of a move.
const deadlineFactor = 1.5

// minUsableSpeed is the smallest learned speed trusted for sizing deadlines.
const minUsableSpeed = 1

// Motion sequences moves and stops for one blind.
type Motion struct {
	address string
	st      *state
	engine  *Engine
	options func() Options
	publish func()
	logger  *logrus.Logger
}

// Move drives the blind to targetPercent (caller space, 100 is open) in direction dir.
// It returns once the move completed, timed out or was preempted by Stop.
func (m *Motion) Move(ctx context.Context, dir Direction, targetPercent float64) error {
	frame, err := protocol.EncodePosition(targetPercent)
	if err != nil {
		return err
	}
	opts := m.options()

	gen, err := m.acquire()
	if err != nil {
		return err
	}
	defer m.release(gen)

	m.st.mu.Lock()
	target := 100 - targetPercent
	start := startPosition(m.st.position, dir)
	m.st.moving = dir
	m.st.desired = ptr(target)
	deadline := moveDeadline(m.st.speed, start, target, opts.FallbackTimeout)
	m.st.mu.Unlock()
	m.publish()

	log := m.logger.WithFields(logrus.Fields{
		"address": m.address,
		"start":   start,
		"target":  target,
	})
	log.WithField("deadline", deadline).Info("Moving")

	session, err := m.engine.Begin(ctx, "set-position", frame, m.acknowledged)
	if err != nil {
		m.settle(gen, nil)
		return err
	}
	defer session.Close()

	extrapolation := groutine.Go(ctx, "extrapolate-"+m.address, func(ctx context.Context) {
		m.extrapolate(ctx, dir, start, target, session.Started(), opts.ExtrapolationInterval)
	})
	defer extrapolation.Stop()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case <-session.Done():
		extrapolation.Stop()
		elapsed := time.Since(session.Started())

		m.st.mu.Lock()
		if m.st.stopping {
			m.st.mu.Unlock()
			log.Debug("Move preempted by stop")
			m.settle(gen, nil)
			return nil
		}
		distance := math.Abs(target - start)
		if distance > 0 && elapsed > 0 {
			m.st.speed = ptr(distance / elapsed.Seconds())
		}
		m.st.position = ptr(target)
		m.st.moving = Idle
		speed := clone(m.st.speed)
		m.st.mu.Unlock()

		log.WithFields(logrus.Fields{"elapsed": elapsed, "speed": derefOr(speed, 0)}).Info("Move finished")
		m.publish()
		return nil

	case <-timer.C:
		extrapolation.Stop()
		session.Close()
		log.Warn("Move timed out, assuming target reached")
		m.settle(gen, ptr(target))
		return nil

	case <-ctx.Done():
		extrapolation.Stop()
		session.Close()
		m.settle(gen, nil)
		return ctx.Err()
	}
}

// settle ends a move without learning speed. A nil position keeps the last
// value, and so does a stop, which leaves the blind where it halted.
func (m *Motion) settle(gen uint64, position *float64) {
	m.st.mu.Lock()
	if m.st.moveGen != gen {
		m.st.mu.Unlock()
		return
	}
	if position != nil && !m.st.stopping {
		m.st.position = position
	}
	m.st.moving = Idle
	m.st.mu.Unlock()
	m.publish()
}

// acquire takes the move lock for a new generation, or fails with ErrBusy.
func (m *Motion) acquire() (uint64, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	if m.st.locked {
		return 0, ErrBusy
	}
	m.st.locked = true
	m.st.stopping = false
	m.st.moveGen++
	return m.st.moveGen, nil
}

// release frees the move lock unless a later move owns it.
func (m *Motion) release(gen uint64) {
	m.st.mu.Lock()
	if m.st.moveGen == gen {
		m.st.locked = false
	}
	m.st.mu.Unlock()
}

// acknowledged logs the motor's report; the session ends after it returns.
func (m *Motion) acknowledged(data []byte) {
	m.logger.WithFields(logrus.Fields{
		"address": m.address,
		"data":    protocol.FormatFrame(data),
	}).Debug("Set-position notification")
}

// extrapolate publishes an estimated position every interval while the motor runs.
func (m *Motion) extrapolate(ctx context.Context, dir Direction, start, target float64, started time.Time, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		m.st.mu.Lock()
		if m.st.stopping || m.st.speed == nil {
			m.st.mu.Unlock()
			continue
		}
		delta := time.Since(started).Seconds() * *m.st.speed * float64(dir)
		m.st.position = ptr(extrapolatedPosition(start, delta, target))
		m.st.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		default:
			m.publish()
		}
	}
}

// Stop halts the motor and ends any move in flight. A write failure is reported
// as ErrStopFailed. The move it interrupts releases its own lock; Stop returns
// once that happened and never touches a move started after it.
func (m *Motion) Stop(ctx context.Context) error {
	opts := m.options()
	poll := opts.StopPollInterval
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}

	m.st.mu.Lock()
	m.st.stopping = true
	gen := m.st.moveGen
	m.st.mu.Unlock()

	// A move still connecting is stopped once its frame is on the wire.
	m.waitWhile(ctx, poll, func() bool { return m.owns(gen) && !m.engine.inFlight() })

	sendErr := m.engine.Preempt(ctx, "stop", protocol.Stop.Bytes())

	m.waitWhile(ctx, poll, func() bool { return m.owns(gen) })

	m.st.mu.Lock()
	if !m.st.locked {
		m.st.moving = Idle
	}
	m.st.mu.Unlock()
	m.publish()

	if sendErr != nil {
		m.logger.WithFields(logrus.Fields{
			"address": m.address,
			"error":   sendErr,
		}).Warn("Stop command failed")
		return fmt.Errorf("%w: %w", ErrStopFailed, sendErr)
	}
	return nil
}

// owns reports whether generation gen still holds the move lock.
func (m *Motion) owns(gen uint64) bool {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	return m.st.locked && m.st.moveGen == gen
}

func (m *Motion) waitWhile(ctx context.Context, poll time.Duration, cond func() bool) {
	for cond() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(poll):
		}
	}
}

// moveDeadline sizes the wait for a move from the learned speed.
func moveDeadline(speed *float64, start, target float64, fallback time.Duration) time.Duration {
	if speed != nil && *speed >= minUsableSpeed {
		d := time.Duration(*speed * math.Abs(target-start) * deadlineFactor * float64(time.Second))
		if d > 0 {
			return d
		}
	}
	return fallback
}

// startPosition assumes full travel when the position was never read.
func startPosition(position *float64, dir Direction) float64 {
	if position != nil {
		return *position
	}
	if dir == Opening {
		return 0
	}
	return 100
}

// extrapolatedPosition never overshoots target and keeps two decimals.
func extrapolatedPosition(start, delta, target float64) float64 {
	values := []float64{start, start + delta, target}
	sort.Float64s(values)
	p := math.Round(values[1]*100) / 100
	return math.Max(0, math.Min(100, p))
}

func derefOr[T any](p *T, fallback T) T {
	if p == nil {
		return fallback
	}
	return *p
}
