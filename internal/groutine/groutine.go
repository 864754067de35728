// Package groutine runs named background work as cancellable tasks.
package groutine

import (
	"context"
	"runtime/pprof"
	"sync"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// Task is a running named goroutine.
type Task struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Go starts fn in a goroutine labelled with name and returns its Task.
// The context passed to fn is cancelled by Task.Cancel or when parentCtx ends.
// If parentCtx is nil, context.Background() is used.
//
//	task := groutine.Go(ctx, "extrapolate", func(ctx context.Context) {
//	    // work until ctx.Done()
//	})
//	defer task.Stop()
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) *Task {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	ctx, cancel := context.WithCancel(parentCtx)
	t := &Task{name: name, cancel: cancel, done: make(chan struct{})}
	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(ctx, labels, func(ctx context.Context) {
		defer close(t.done)
		defer cancel()
		fn(context.WithValue(ctx, goroutineNameKey, name))
	})
	return t
}

// Name returns the name the task was started with.
func (t *Task) Name() string {
	return t.name
}

// Cancel requests the task to finish. Cancelling a finished task is a no-op.
func (t *Task) Cancel() {
	if t == nil {
		return
	}
	t.once.Do(t.cancel)
}

// Done is closed once the task function has returned.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task function has returned.
func (t *Task) Wait() {
	if t == nil {
		return
	}
	<-t.done
}

// Stop cancels the task and waits for it to return.
func (t *Task) Stop() {
	t.Cancel()
	t.Wait()
}

// GetName retrieves the goroutine name from the context.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(goroutineNameKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
