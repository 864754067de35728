// Package hub groups the blinds of one installation and fans commands out to them.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/tuiss/internal/device"
	"github.com/srg/tuiss/internal/groutine"
	"github.com/srg/tuiss/pkg/blind"
)

// Manufacturer is reported for every blind managed by a hub.
const Manufacturer = "Tuiss and Blinds2go"

var (
	// ErrDuplicate is returned when an address is registered twice.
	ErrDuplicate = errors.New("blind already registered")
	// ErrUnknownBlind is returned for addresses or names the hub does not manage.
	ErrUnknownBlind = errors.New("unknown blind")
)

// Hub is a registry of blinds keyed by normalized address.
type Hub struct {
	transport blind.Transport
	logger    *logrus.Logger
	blinds    *hashmap.Map[string, *blind.Blind]
}

// New creates an empty hub whose blinds share transport.
func New(transport blind.Transport, logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.New()
	}
	return &Hub{
		transport: transport,
		logger:    logger,
		blinds:    hashmap.New[string, *blind.Blind](),
	}
}

// Add creates and registers a blind.
func (h *Hub) Add(address, name string, opts blind.Options) (*blind.Blind, error) {
	b, err := blind.New(address, name, h.transport, opts, h.logger)
	if err != nil {
		return nil, err
	}

	if existing, loaded := h.blinds.GetOrInsert(b.Address(), b); loaded {
		return nil, fmt.Errorf("%w: %s (%s)", ErrDuplicate, existing.Address(), existing.Name())
	}

	h.logger.WithFields(logrus.Fields{
		"address": b.Address(),
		"name":    b.Name(),
	}).Debug("Blind registered")
	return b, nil
}

// Get returns the blind registered under address.
func (h *Hub) Get(address string) (*blind.Blind, bool) {
	return h.blinds.Get(strings.ToUpper(strings.TrimSpace(address)))
}

// Find resolves an address or a case-insensitive name.
func (h *Hub) Find(nameOrAddress string) (*blind.Blind, error) {
	if b, ok := h.Get(nameOrAddress); ok {
		return b, nil
	}
	for _, b := range h.Blinds() {
		if strings.EqualFold(b.Name(), strings.TrimSpace(nameOrAddress)) {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBlind, nameOrAddress)
}

// Remove unregisters address and reports whether it was present.
func (h *Hub) Remove(address string) bool {
	return h.blinds.Del(strings.ToUpper(strings.TrimSpace(address)))
}

// Len returns the number of registered blinds.
func (h *Hub) Len() int {
	return h.blinds.Len()
}

// Blinds returns every blind ordered by name, then address.
func (h *Hub) Blinds() []*blind.Blind {
	out := make([]*blind.Blind, 0, h.blinds.Len())
	h.blinds.Range(func(_ string, b *blind.Blind) bool {
		out = append(out, b)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name() != out[j].Name() {
			return out[i].Name() < out[j].Name()
		}
		return out[i].Address() < out[j].Address()
	})
	return out
}

// MoveAll sends every blind to position at the same time and waits for all of them.
// Failures are joined; one blind failing never cancels the others.
func (h *Hub) MoveAll(ctx context.Context, position float64) error {
	return h.each(ctx, "move-all", func(ctx context.Context, b *blind.Blind) error {
		return b.SetPosition(ctx, position)
	})
}

// StopAll stops every blind at the same time.
func (h *Hub) StopAll(ctx context.Context) error {
	return h.each(ctx, "stop-all", func(ctx context.Context, b *blind.Blind) error {
		return b.Stop(ctx)
	})
}

func (h *Hub) each(ctx context.Context, op string, fn func(context.Context, *blind.Blind) error) error {
	blinds := h.Blinds()
	errs := make([]error, len(blinds))
	tasks := make([]*groutine.Task, len(blinds))

	for i, b := range blinds {
		tasks[i] = groutine.Go(ctx, op+"-"+b.Address(), func(ctx context.Context) {
			if err := fn(ctx, b); err != nil {
				errs[i] = fmt.Errorf("%s (%s): %w", b.Name(), b.Address(), err)
			}
		})
	}
	for _, t := range tasks {
		t.Wait()
	}

	err := errors.Join(errs...)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"command": op,
			"error":   err,
		}).Warn("Not every blind completed")
	}
	return err
}

// Start runs every blind's start-up routine and returns the tasks that were scheduled.
func (h *Hub) Start(ctx context.Context) []*groutine.Task {
	var tasks []*groutine.Task
	for _, b := range h.Blinds() {
		if t := b.Start(ctx); t != nil {
			tasks = append(tasks, t)
		}
	}
	return tasks
}

// HandleAdvertisement routes a passively received advertisement to its blind.
// It reports whether the address belongs to a registered blind.
func (h *Hub) HandleAdvertisement(adv device.Handle) bool {
	b, ok := h.Get(adv.Address)
	if !ok {
		return false
	}
	b.UpdateRSSI(adv.RSSI)
	return true
}
