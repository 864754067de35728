package blind

import (
	"sync"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Observer is notified after every state change. Implementations must be
// comparable (typically pointers) and must not call back into moves synchronously.
type Observer interface {
	BlindUpdated()
}

// FuncObserver adapts a function to Observer. Register the returned pointer;
// registering it twice keeps a single entry.
type FuncObserver struct {
	fn func()
}

// NewObserver wraps fn.
func NewObserver(fn func()) *FuncObserver {
	return &FuncObserver{fn: fn}
}

func (o *FuncObserver) BlindUpdated() {
	if o.fn != nil {
		o.fn()
	}
}

// observers is a set of callbacks invoked in registration order.
type observers struct {
	mu      sync.Mutex
	set     *orderedmap.OrderedMap[Observer, struct{}]
	publish sync.Mutex
	logger  *logrus.Logger
}

func newObservers(logger *logrus.Logger) *observers {
	return &observers{
		set:    orderedmap.New[Observer, struct{}](),
		logger: logger,
	}
}

func (o *observers) add(obs Observer) {
	if obs == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.set.Set(obs, struct{}{})
}

func (o *observers) remove(obs Observer) {
	if obs == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.set.Delete(obs)
}

func (o *observers) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.set.Len()
}

func (o *observers) snapshot() []Observer {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Observer, 0, o.set.Len())
	for pair := o.set.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

// notify invokes a snapshot of the set. Publications are serialized so
// observers see transitions in order; a panicking observer does not stop the rest.
func (o *observers) notify() {
	o.publish.Lock()
	defer o.publish.Unlock()

	for _, obs := range o.snapshot() {
		o.invoke(obs)
	}
}

func (o *observers) invoke(obs Observer) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.WithField("panic", r).Warn("Observer failed")
		}
	}()
	obs.BlindUpdated()
}
