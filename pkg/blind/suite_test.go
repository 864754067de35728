package blind

import (
	"sync"
	"time"

	"github.com/srg/tuiss/internal/protocol"
	"github.com/srg/tuiss/internal/testutils"
)

// blindSuite is the shared base for the package suites.
type blindSuite struct {
	testutils.MockPeripheralSuite
}

// fastOptions keeps timers short enough for unit tests.
func fastOptions() Options {
	o := DefaultOptions()
	o.FallbackTimeout = time.Second
	o.ResponseTimeout = time.Second
	o.ExtrapolationInterval = 10 * time.Millisecond
	o.StopPollInterval = 5 * time.Millisecond
	return o
}

func (s *blindSuite) newBlind(opts Options) *Blind {
	b, err := New(testutils.DefaultAddress, testutils.DefaultName, s.Peripheral, opts, s.Logger)
	s.Require().NoError(err, "blind construction MUST succeed")
	return b
}

func (s *blindSuite) setPosition(b *Blind, position float64) {
	b.st.mu.Lock()
	b.st.position = ptr(position)
	b.st.mu.Unlock()
}

func (s *blindSuite) setSpeed(b *Blind, speed float64) {
	b.st.mu.Lock()
	b.st.speed = ptr(speed)
	b.st.mu.Unlock()
}

func (s *blindSuite) eventually(cond func() bool, msg string) {
	s.Require().True(testutils.Eventually(s.TestTimeout, cond), msg)
}

func positionFrame(percent float64) []byte {
	frame, err := protocol.EncodePosition(percent)
	if err != nil {
		panic(err)
	}
	return frame
}

// recorder is an observer keeping every published state.
type recorder struct {
	blind  *Blind
	mu     sync.Mutex
	states []State
}

func newRecorder(b *Blind) *recorder {
	r := &recorder{blind: b}
	b.RegisterCallback(r)
	return r
}

func (r *recorder) BlindUpdated() {
	st := r.blind.State()
	r.mu.Lock()
	r.states = append(r.states, st)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}
