package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/tuiss/internal/device"
)

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration        time.Duration
	DuplicateFilter bool
	AllowList       []string
	BlockList       []string
	// NamePrefixes keeps only peripherals whose advertised name starts with one of these.
	NamePrefixes []string
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:        10 * time.Second,
		DuplicateFilter: false,
	}
}

// Scanner keeps the most recent advertisement of every peripheral it has heard.
type Scanner struct {
	cache     *hashmap.Map[string, Advertisement]
	logger    *logrus.Logger
	newDevice func() (ble.Device, error)
}

// NewScanner creates a scanner that obtains its host device from newDevice.
func NewScanner(newDevice func() (ble.Device, error), logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{
		cache:     hashmap.New[string, Advertisement](),
		logger:    logger,
		newDevice: newDevice,
	}
}

// Scan listens for advertisements until ctx ends or opts.Duration elapses.
// onAdv, when set, is called for every accepted advertisement.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, onAdv func(Advertisement)) (map[string]Advertisement, error) {
	if opts == nil {
		opts = DefaultScanOptions()
	}
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	dev, err := s.newDevice()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}

	s.logger.WithField("duration", opts.Duration).Info("Starting BLE scan...")

	seen := hashmap.New[string, Advertisement]()
	err = dev.Scan(ctx, !opts.DuplicateFilter, func(a ble.Advertisement) {
		adv := s.record(a)
		if !shouldInclude(adv, opts) {
			return
		}
		seen.Set(adv.Handle.Address, adv)
		if onAdv != nil {
			onAdv(adv)
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", NormalizeError(err))
	}

	s.logger.WithField("device_count", seen.Len()).Info("BLE scan completed")

	result := make(map[string]Advertisement, seen.Len())
	seen.Range(func(key string, value Advertisement) bool {
		result[key] = value
		return true
	})
	return result, nil
}

// Lookup returns the cached handle for address, scanning for up to timeout when
// the address has not been heard yet. A nil handle means it was not found.
func (s *Scanner) Lookup(ctx context.Context, address string, timeout time.Duration) (*device.Handle, error) {
	address = NormalizeAddress(address)
	if adv, ok := s.cache.Get(address); ok && adv.Connectable {
		h := adv.Handle
		return &h, nil
	}

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.logger.WithField("address", address).Debug("Address not cached, scanning...")
	_, err := s.Scan(scanCtx, &ScanOptions{Duration: timeout, AllowList: []string{address}}, func(adv Advertisement) {
		if adv.Connectable {
			cancel()
		}
	})
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if adv, ok := s.cache.Get(address); ok && adv.Connectable {
		h := adv.Handle
		return &h, nil
	}
	return nil, nil
}

// Cached returns the last advertisement heard from address.
func (s *Scanner) Cached(address string) (Advertisement, bool) {
	return s.cache.Get(NormalizeAddress(address))
}

// record updates the cache with a new advertisement and returns the merged entry.
func (s *Scanner) record(a ble.Advertisement) Advertisement {
	next := newAdvertisement(a)
	prev, existing := s.cache.Get(next.Handle.Address)
	if existing {
		next = prev.merged(next)
	} else {
		s.logger.WithFields(logrus.Fields{
			"name":    next.Handle.Name,
			"address": next.Handle.Address,
			"rssi":    next.Handle.RSSI,
		}).Debug("Discovered new device")
	}
	s.cache.Set(next.Handle.Address, next)
	return next
}

// shouldInclude applies the allow/block/name filters
func shouldInclude(adv Advertisement, opts *ScanOptions) bool {
	addr := adv.Handle.Address

	for _, blocked := range opts.BlockList {
		if addr == NormalizeAddress(blocked) {
			return false
		}
	}

	if len(opts.AllowList) > 0 {
		allowed := false
		for _, a := range opts.AllowList {
			if addr == NormalizeAddress(a) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if len(opts.NamePrefixes) > 0 {
		for _, prefix := range opts.NamePrefixes {
			if strings.HasPrefix(strings.ToUpper(adv.Handle.Name), strings.ToUpper(prefix)) {
				return true
			}
		}
		return false
	}

	return true
}
