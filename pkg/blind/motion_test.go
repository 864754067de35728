package blind

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srg/tuiss/internal/device"
	"github.com/srg/tuiss/internal/protocol"
	"github.com/srg/tuiss/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type MotionSuite struct {
	blindSuite
}

func TestMotionSuite(t *testing.T) {
	suite.Run(t, new(MotionSuite))
}

// TestCloseCompletes verifies a tracked move that the motor acknowledges.
//
// GOAL: A completed move lands on its target, learns a speed and releases the lock.
//
// TEST SCENARIO: Position 100, close → frame ff78ea41bf030000, ack after 50ms → position 0, idle, speed learned
func (s *MotionSuite) TestCloseCompletes() {
	s.WithPeripheral().WithResponse(positionFrame(100), 50*time.Millisecond, testutils.AckFrame())
	s.BuildPeripheral()
	b := s.newBlind(fastOptions())
	s.setPosition(b, 100)

	err := b.Move(context.Background(), Closing, 100)

	s.Require().NoError(err, "acknowledged move MUST succeed")
	st := b.State()
	s.Require().NotNil(st.CurrentPosition)
	s.Equal(0.0, *st.CurrentPosition, "position MUST equal the target")
	s.Equal(Idle, st.Moving)
	s.False(st.Locked, "lock MUST be released")
	s.Require().NotNil(st.TraversalSpeed, "speed MUST be learned")
	s.Greater(*st.TraversalSpeed, 0.0)
	s.LessOrEqual(*st.TraversalSpeed, 100/0.05, "speed MUST reflect the observed travel time")
	s.Equal([]string{"ff78ea41bf030000"}, s.Peripheral.CommandWrites())
	s.False(b.Link().Connected())
}

func (s *MotionSuite) TestOpenEncodesFullTravel() {
	s.WithPeripheral().WithResponse(positionFrame(0), 10*time.Millisecond, testutils.AckFrame())
	s.BuildPeripheral()
	b := s.newBlind(fastOptions())

	s.Require().NoError(b.Open(context.Background()))

	s.Equal([]string{"ff78ea41bf03e803"}, s.Peripheral.CommandWrites(), "open MUST encode device 100 in group 03")
	s.Equal(100.0, *b.State().CurrentPosition)
	s.Equal(100.0, *b.State().DesiredPosition)
}

func (s *MotionSuite) TestUnknownStartAssumesFullTravel() {
	s.WithPeripheral().WithResponse(positionFrame(100), 20*time.Millisecond, testutils.AckFrame())
	s.BuildPeripheral()
	b := s.newBlind(fastOptions())

	s.Require().NoError(b.Close(context.Background()))

	s.Require().NotNil(b.State().TraversalSpeed, "a full close from an unknown position MUST still learn a speed")
	s.Equal(0.0, *b.State().CurrentPosition)
}

// TestBusyRejectsMove verifies the move lock.
//
// GOAL: A move requested while another holds the lock is refused without touching state.
//
// TEST SCENARIO: Lock held → Move → ErrBusy, moving and position unchanged, no radio traffic
func (s *MotionSuite) TestBusyRejectsMove() {
	b := s.newBlind(fastOptions())
	s.setPosition(b, 40)
	b.st.mu.Lock()
	b.st.locked = true
	b.st.mu.Unlock()

	err := b.Move(context.Background(), Opening, 0)

	s.Require().ErrorIs(err, ErrBusy)
	st := b.State()
	s.Equal(Idle, st.Moving, "a refused move MUST NOT change direction")
	s.Equal(40.0, *st.CurrentPosition)
	s.Nil(st.DesiredPosition)
	s.True(st.Locked, "the existing owner MUST keep the lock")
	s.Peripheral.Resolver.AssertNumberOfCalls(s.T(), "Resolve", 0)
}

func (s *MotionSuite) TestConcurrentMoveIsBusy() {
	b := s.newBlind(fastOptions())
	s.setPosition(b, 100)

	done := make(chan error, 1)
	go func() { done <- b.Close(context.Background()) }()
	s.eventually(func() bool { return len(s.Peripheral.CommandWrites()) > 0 }, "first move MUST reach the motor")

	s.ErrorIs(b.Open(context.Background()), ErrBusy, "a second move MUST be refused while the first runs")

	s.Require().NoError(b.Stop(context.Background()))
	s.NoError(<-done)
}

// TestTimeoutKeepsSpeed verifies the deadline path.
//
// GOAL: A move that never hears back assumes the target after the deadline and learns nothing.
//
// TEST SCENARIO: Speed 0.5 (below usable) so the 100ms fallback applies, no reply → target assumed, speed unchanged
func (s *MotionSuite) TestTimeoutKeepsSpeed() {
	opts := fastOptions()
	opts.FallbackTimeout = 100 * time.Millisecond
	b := s.newBlind(opts)
	s.setPosition(b, 100)
	s.setSpeed(b, 0.5)

	start := time.Now()
	err := b.Close(context.Background())

	s.Require().NoError(err, "a timed out move MUST NOT fail")
	s.GreaterOrEqual(time.Since(start), 100*time.Millisecond)
	st := b.State()
	s.Equal(0.5, *st.TraversalSpeed, "speed MUST be unchanged after a timeout")
	s.Equal(0.0, *st.CurrentPosition, "position MUST be assumed at the target")
	s.Equal(Idle, st.Moving)
	s.False(st.Locked)
	s.False(b.Link().Connected(), "the session MUST be torn down")
}

// TestStopPreemptsMove verifies stop during a move.
//
// GOAL: A stop mid-move does not learn speed, leaves the position short of the target and frees the lock.
//
// TEST SCENARIO: Close with no reply, stop once the frame is written → stop frame on the live link, move returns, state idle
func (s *MotionSuite) TestStopPreemptsMove() {
	b := s.newBlind(fastOptions())
	s.setPosition(b, 100)

	done := make(chan error, 1)
	go func() { done <- b.Close(context.Background()) }()
	s.eventually(func() bool { return len(s.Peripheral.CommandWrites()) == 1 }, "set-position MUST be written")

	err := b.Stop(context.Background())
	s.Require().NoError(err, "stop MUST succeed")

	select {
	case moveErr := <-done:
		s.NoError(moveErr, "a preempted move MUST return cleanly")
	case <-time.After(s.TestTimeout):
		s.FailNow("move MUST return after stop")
	}

	st := b.State()
	s.Nil(st.TraversalSpeed, "a preempted move MUST NOT learn speed")
	s.NotEqual(0.0, *st.CurrentPosition, "position MUST NOT jump to the target")
	s.Equal(Idle, st.Moving)
	s.False(st.Locked)
	s.Equal([]string{"ff78ea41bf030000", "ff78ea415f0301"}, s.Peripheral.CommandWrites())
	s.Len(s.Peripheral.Clients(), 1, "stop MUST reuse the live link")
	s.False(b.Link().Connected())
}

func (s *MotionSuite) TestMoveAfterStopIsAccepted() {
	s.WithPeripheral().WithResponse(positionFrame(0), 10*time.Millisecond, testutils.AckFrame())
	s.BuildPeripheral()
	b := s.newBlind(fastOptions())
	s.setPosition(b, 50)

	s.Require().NoError(b.Stop(context.Background()))
	s.Require().NoError(b.Open(context.Background()), "a fresh move MUST clear the stopping flag")

	s.False(b.State().Stopping)
	s.NotNil(b.State().TraversalSpeed)
}

func (s *MotionSuite) TestStopFailureIsSoft() {
	writeErr := errors.New("gatt write rejected")
	s.WithPeripheral().WithWriteError(protocol.Stop.Bytes(), writeErr)
	s.BuildPeripheral()
	b := s.newBlind(fastOptions())

	err := b.Stop(context.Background())

	s.Require().ErrorIs(err, ErrStopFailed)
	s.ErrorIs(err, writeErr)
	s.Equal(Idle, b.State().Moving)
	s.False(b.State().Locked, "a failed stop MUST still release the lock")
	s.False(b.Link().Connected())
}

func (s *MotionSuite) TestConnectionFailureReleasesLock() {
	s.WithPeripheral().Unresolvable()
	s.BuildPeripheral()
	b := s.newBlind(fastOptions())
	s.setPosition(b, 30)

	err := b.Open(context.Background())

	s.Require().ErrorIs(err, device.ErrDeviceNotFound)
	st := b.State()
	s.Equal(Idle, st.Moving)
	s.False(st.Locked)
	s.Equal(30.0, *st.CurrentPosition, "a failed move MUST keep the last position")
}

func (s *MotionSuite) TestCancelledMove() {
	b := s.newBlind(fastOptions())
	s.setPosition(b, 100)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- b.Close(ctx) }()
	s.eventually(func() bool { return len(s.Peripheral.CommandWrites()) == 1 }, "set-position MUST be written")
	cancel()

	s.ErrorIs(<-done, context.Canceled)
	s.Equal(Idle, b.State().Moving)
	s.Equal(100.0, *b.State().CurrentPosition)
	s.False(b.State().Locked)
}

// TestExactPositionDuringMoveIsBusy verifies that an exact set-position cannot cut into a move.
//
// GOAL: While a move holds the lock, an exact position request is refused and the move completes untouched.
//
// TEST SCENARIO: Open from 0 with the ack after 300ms, exact 30 requested mid-move → ErrBusy, one frame written, move lands at 100
func (s *MotionSuite) TestExactPositionDuringMoveIsBusy() {
	s.WithPeripheral().WithResponse(positionFrame(0), 300*time.Millisecond, testutils.AckFrame())
	s.BuildPeripheral()
	b := s.newBlind(fastOptions())
	s.setPosition(b, 0)

	done := make(chan error, 1)
	go func() { done <- b.Open(context.Background()) }()
	s.eventually(func() bool { return len(s.Peripheral.CommandWrites()) == 1 }, "open MUST reach the motor")

	err := b.SetExactPosition(context.Background(), 30)

	s.Require().ErrorIs(err, ErrBusy, "an exact position MUST be refused during a move")
	s.Require().NoError(<-done)
	st := b.State()
	s.Equal(100.0, *st.CurrentPosition, "the move MUST land on its own target")
	s.Require().NotNil(st.TraversalSpeed)
	s.Less(*st.TraversalSpeed, 100/0.25, "speed MUST reflect the full travel time")
	s.Equal([]string{"ff78ea41bf03e803"}, s.Peripheral.CommandWrites(), "the exact frame MUST NOT be written")
	s.False(st.Locked)
}

// TestStopLeavesNextMoveLocked verifies that a stop only releases the move it interrupted.
//
// GOAL: A move started while a stop is finishing keeps its lock and direction, so further moves stay refused.
//
// TEST SCENARIO: Close without reply, stop with a 200ms poll, open retried until accepted → after stop returns open is moving and locked, a third move is busy
func (s *MotionSuite) TestStopLeavesNextMoveLocked() {
	s.WithPeripheral().WithResponse(positionFrame(0), 300*time.Millisecond, testutils.AckFrame())
	s.BuildPeripheral()
	opts := fastOptions()
	opts.StopPollInterval = 200 * time.Millisecond
	b := s.newBlind(opts)
	s.setPosition(b, 100)
	ctx := context.Background()

	closed := make(chan error, 1)
	go func() { closed <- b.Close(ctx) }()
	s.eventually(func() bool { return len(s.Peripheral.CommandWrites()) == 1 }, "close MUST reach the motor")

	stopped := make(chan error, 1)
	go func() { stopped <- b.Stop(ctx) }()

	opened := make(chan error, 1)
	go func() {
		for {
			err := b.Open(ctx)
			if !errors.Is(err, ErrBusy) {
				opened <- err
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	s.Require().NoError(<-closed)
	s.Require().NoError(<-stopped)
	s.eventually(func() bool { return b.State().Moving == Opening }, "the retried open MUST be accepted")

	st := b.State()
	s.True(st.Locked, "the running open MUST keep its lock")
	s.Equal(Opening, st.Moving)
	s.ErrorIs(b.Close(ctx), ErrBusy, "a third move MUST be refused while open runs")

	s.Require().NoError(<-opened)
	s.Equal(100.0, *b.State().CurrentPosition)
	s.False(b.State().Locked)
}

// TestPublicationOrder verifies observers see the move as it happens.
//
// GOAL: Observers receive moving first and idle last, with extrapolated positions in between.
//
// TEST SCENARIO: Speed 50%/s, reply after 200ms, 10ms extrapolation → intermediate positions, final at target
func (s *MotionSuite) TestPublicationOrder() {
	s.WithPeripheral().WithResponse(positionFrame(100), 200*time.Millisecond, testutils.AckFrame())
	s.BuildPeripheral()
	b := s.newBlind(fastOptions())
	s.setPosition(b, 100)
	s.setSpeed(b, 50)
	rec := newRecorder(b)

	s.Require().NoError(b.Close(context.Background()))

	states := rec.snapshot()
	s.Require().GreaterOrEqual(len(states), 3)
	s.Equal(Closing, states[0].Moving, "the first publication MUST announce the move")
	s.Equal(Idle, states[len(states)-1].Moving, "the last publication MUST be idle")
	s.Equal(0.0, *states[len(states)-1].CurrentPosition)

	intermediate := 0
	for _, st := range states[1 : len(states)-1] {
		s.Equal(Closing, st.Moving, "no idle publication MUST precede the end of the move")
		if p := *st.CurrentPosition; p > 0 && p < 100 {
			intermediate++
		}
	}
	s.Positive(intermediate, "extrapolated positions MUST be published while moving")
}

func TestMoveDeadline(t *testing.T) {
	fallback := 2 * time.Minute

	tests := []struct {
		name     string
		speed    *float64
		start    float64
		target   float64
		expected time.Duration
	}{
		{"unknown speed", nil, 100, 0, fallback},
		{"speed below usable", ptr(0.5), 100, 0, fallback},
		{"learned speed", ptr(2.0), 100, 50, 150 * time.Second},
		{"no travel", ptr(5.0), 40, 40, fallback},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, moveDeadline(tt.speed, tt.start, tt.target, fallback))
		})
	}
}

func TestExtrapolatedPosition(t *testing.T) {
	tests := []struct {
		name     string
		start    float64
		delta    float64
		target   float64
		expected float64
	}{
		{"opening in progress", 20, 15.5, 80, 35.5},
		{"opening overshoot", 20, 90, 80, 80},
		{"closing in progress", 90, -30, 10, 60},
		{"closing overshoot", 90, -120, 10, 10},
		{"wrong-way delta", 50, -10, 80, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, extrapolatedPosition(tt.start, tt.delta, tt.target), 0.0001)
		})
	}
}

func TestStartPosition(t *testing.T) {
	assert.Equal(t, 0.0, startPosition(nil, Opening))
	assert.Equal(t, 100.0, startPosition(nil, Closing))
	assert.Equal(t, 42.0, startPosition(ptr(42.0), Closing))
}
