package main

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter displays progress messages with elapsed time.
//
// Usage:
//
//	p := NewProgressPrinter(w, ...)
//	p.Start()
//	defer p.Stop()
//
// A ProgressPrinter is single-use. Start may be called at most once; Stop is
// safe to call repeatedly. After Stop, the instance cannot be restarted.
type ProgressPrinter struct {
	out       io.Writer
	prefix    string
	phase     atomic.Value // stores string - current phase name
	startTime time.Time
	stopChan  chan struct{}
	done      chan struct{} // closed when goroutine exits
	started   atomic.Bool   // ensures Start is called at most once
	stopOnce  sync.Once
}

// NewProgressPrinter creates a progress printer that counts up (shows elapsed time).
func NewProgressPrinter(out io.Writer, prefix string, phase string) *ProgressPrinter {
	p := &ProgressPrinter{
		out:      out,
		prefix:   prefix,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	p.phase.Store(phase)
	return p
}

// Start begins displaying progress updates in a background goroutine.
// Panics if called more than once on the same ProgressPrinter instance.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}
	p.startTime = time.Now()
	fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, p.phase.Load().(string))

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stopChan:
				return
			case <-ticker.C:
				seconds := int(time.Since(p.startTime).Seconds())
				fmt.Fprintf(p.out, "\r%s (%s %ds)   ", p.prefix, p.phase.Load().(string), seconds)
			}
		}
	}()
}

// SetPhase updates the phase shown on the next tick. Safe for concurrent use.
func (p *ProgressPrinter) SetPhase(phase string) {
	p.phase.Store(phase)
}

// Stop stops the progress display and clears the line.
func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
		if p.started.Load() {
			<-p.done
			fmt.Fprint(p.out, clearLineSequence)
		}
	})
}
