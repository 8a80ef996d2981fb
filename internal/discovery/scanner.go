package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/deskble/internal/device"
	"github.com/srg/deskble/internal/ringchan"
	"github.com/srg/deskble/internal/variant"
)

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// Phases reported through ProgressCallback, in order.
const (
	PhaseScanning   = "Scanning"
	PhaseProcessing = "Processing results"
	PhaseValidating = "Validating"
)

// Candidate is a device seen during a scan. It has not been validated yet.
type Candidate struct {
	Address  string
	Name     string // empty when the device did not advertise one
	Services []string
	RSSI     int

	seen uint64
}

// EventType marks if the candidate was newly discovered or updated
type EventType int

const (
	EventNew EventType = iota
	EventUpdated
)

type Event struct {
	Type      EventType
	Candidate Candidate
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration        time.Duration
	DuplicateFilter bool
	// ServiceUUIDs drops devices whose advertisement lists services but none
	// of these. Devices advertising no services at all are kept; the
	// validator decides for them.
	ServiceUUIDs []string
	// AllowList, when set, keeps only these addresses. Separators and case
	// are ignored.
	AllowList []string
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:        10 * time.Second,
		DuplicateFilter: true,
		ServiceUUIDs:    variant.AllServiceIDs(),
	}
}

// Scanner handles BLE device discovery
type Scanner struct {
	radio   device.Scanner
	devices *hashmap.Map[string, Candidate]
	events  *ringchan.RingChannel[Event]
	logger  *logrus.Logger
	seq     atomic.Uint64

	scanOptions *ScanOptions
}

// NewScanner creates a scanner on top of a transport scanner.
func NewScanner(radio device.Scanner, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}

	return &Scanner{
		radio:  radio,
		events: ringchan.New[Event](100),
		logger: logger,
	}
}

// Scan listens for advertisements for opts.Duration or until ctx is done and
// returns the devices seen, in discovery order. Running out of time is the
// normal way for a scan to end and is not reported as an error.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) ([]Candidate, error) {
	s.devices = hashmap.New[string, Candidate]()

	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progressCallback == nil {
		progressCallback = func(string) {} // No-op callback
	}

	s.logger.WithField("duration", opts.Duration).Info("Starting BLE scan...")
	progressCallback(PhaseScanning)

	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	s.scanOptions = opts
	defer func() {
		s.scanOptions = nil
	}()
	err := s.radio.Scan(ctx, !opts.DuplicateFilter, s.handleAdvertisement)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	s.logger.WithField("device_count", s.devices.Len()).Info("BLE scan completed")
	progressCallback(PhaseProcessing)

	devices := make([]Candidate, 0, s.devices.Len())
	s.devices.Range(func(_ string, c Candidate) bool {
		devices = append(devices, c)
		return true
	})
	sort.Slice(devices, func(i, j int) bool { return devices[i].seen < devices[j].seen })

	return devices, nil
}

// handleAdvertisement updates existing or adds a new candidate
func (s *Scanner) handleAdvertisement(adv device.Advertisement) {
	opts := s.scanOptions
	if opts == nil {
		return
	}
	addr := strings.ToLower(adv.Addr())

	c, existing := s.devices.Get(addr)
	if !existing {
		if !shouldIncludeDevice(adv, opts) {
			return
		}
		c, existing = s.devices.GetOrInsert(addr, Candidate{
			Address:  adv.Addr(),
			Name:     adv.LocalName(),
			Services: device.NormalizeUUIDs(adv.Services()),
			RSSI:     adv.RSSI(),
			seen:     s.seq.Add(1),
		})
	}

	event := Event{Candidate: c}

	if existing {
		c = mergeAdvertisement(c, adv)
		s.devices.Set(addr, c)
		event.Type = EventUpdated
		event.Candidate = c
	} else {
		s.logger.WithFields(logrus.Fields{
			"device":  c.Name,
			"address": c.Address,
			"rssi":    c.RSSI,
		}).Info("Discovered new device")
		event.Type = EventNew
	}

	s.events.Send(event)
}

// mergeAdvertisement folds a repeated advertisement (or scan response) into c.
func mergeAdvertisement(c Candidate, adv device.Advertisement) Candidate {
	if name := adv.LocalName(); name != "" {
		c.Name = name
	}
	c.RSSI = adv.RSSI()

	known := make(map[string]struct{}, len(c.Services))
	for _, u := range c.Services {
		known[u] = struct{}{}
	}
	services := append([]string(nil), c.Services...)
	for _, u := range device.NormalizeUUIDs(adv.Services()) {
		if _, ok := known[u]; !ok {
			services = append(services, u)
			known[u] = struct{}{}
		}
	}
	c.Services = services
	return c
}

// shouldIncludeDevice applies the connectable, allow-list and service filters
func shouldIncludeDevice(adv device.Advertisement, opts *ScanOptions) bool {
	if !adv.Connectable() {
		return false
	}

	if len(opts.AllowList) > 0 {
		addr := addressKey(adv.Addr())
		allowed := false
		for _, a := range opts.AllowList {
			if addressKey(a) == addr {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	advertised := adv.Services()
	if len(opts.ServiceUUIDs) > 0 && len(advertised) > 0 {
		for _, required := range opts.ServiceUUIDs {
			want := device.NormalizeUUID(required)
			for _, u := range advertised {
				if device.NormalizeUUID(u) == want {
					return true
				}
			}
		}
		return false
	}

	return true
}

// addressKey compares MACs and platform UUIDs regardless of separators.
func addressKey(addr string) string {
	return strings.ToLower(strings.NewReplacer(":", "", "-", "").Replace(addr))
}

// Events returns a read-only channel of discovery events. Slow readers lose
// the oldest events.
func (s *Scanner) Events() <-chan Event {
	return s.events.C()
}
