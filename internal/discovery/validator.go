package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/deskble/internal/device"
	"github.com/srg/deskble/internal/groutine"
	"github.com/srg/deskble/internal/variant"
)

// Validator confirms that candidates speak a known desk dialect by
// inspecting their GATT table.
type Validator struct {
	connector device.Connector
	registry  *variant.Registry
	logger    *logrus.Logger
}

// NewValidator creates a validator. A nil registry means variant.Default().
func NewValidator(connector device.Connector, registry *variant.Registry, logger *logrus.Logger) *Validator {
	if registry == nil {
		registry = variant.Default()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Validator{connector: connector, registry: registry, logger: logger}
}

// ValidateDevice connects to c, looks for a registered service exposing all
// of its required characteristics and returns the matching desk. It returns
// nil when c is not a desk, cannot be reached within timeout, or reports
// itself not connected. The timeout is a hard deadline: a connector that
// overruns it is abandoned and its late connection is still released.
func (v *Validator) ValidateDevice(ctx context.Context, c Candidate, timeout time.Duration) *variant.DiscoveredDesk {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resultCh := make(chan *variant.DiscoveredDesk, 1)
	groutine.Go(ctx, fmt.Sprintf("validate-%s", c.Address), func(ctx context.Context) {
		resultCh <- v.probe(ctx, c)
	})

	select {
	case d := <-resultCh:
		return d
	case <-ctx.Done():
		v.logger.WithField("address", c.Address).Debug("Probe deadline exceeded")
		return nil
	}
}

// probe does the connect and GATT match for ValidateDevice. The probing
// connection is always released.
func (v *Validator) probe(ctx context.Context, c Candidate) *variant.DiscoveredDesk {
	logger := v.logger.WithField("address", c.Address)

	conn, err := v.connector.Connect(ctx, c.Address)
	if err != nil {
		logger.WithError(err).Debug("Probe connect failed")
		return nil
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close probe connection")
		}
	}()

	if !conn.IsConnected() {
		logger.Debug("Probe connection is not connected")
		return nil
	}

	cfg, ok := v.Match(conn.Services())
	if !ok {
		logger.Debug("No known desk service found")
		return nil
	}

	logger.WithFields(logrus.Fields{
		"service_uuid": cfg.ServiceUUID,
		"variant":      cfg.Variant,
	}).Info("Validated desk")

	return &variant.DiscoveredDesk{Address: c.Address, Name: c.Name, Config: cfg}
}

// Match returns the config of the first service in services that is
// registered and exposes every characteristic the config requires.
func (v *Validator) Match(services []device.Service) (variant.DeskConfig, bool) {
	for _, svc := range services {
		cfg, ok := v.registry.ConfigFor(svc.UUID())
		if !ok {
			continue
		}
		if device.HasCharacteristics(svc, cfg.RequiredCharacteristics()...) {
			return cfg, true
		}
		v.logger.WithFields(logrus.Fields{
			"service_uuid":    svc.UUID(),
			"characteristics": svc.Characteristics(),
		}).Debug("Service is missing required characteristics")
	}
	return variant.DeskConfig{}, false
}

// ValidateDevices probes every candidate concurrently, each with its own
// connection and timeout, and returns the desks among them in input order.
// It returns by the batch deadline with whatever probes have finished.
func (v *Validator) ValidateDevices(ctx context.Context, candidates []Candidate, timeout time.Duration) []variant.DiscoveredDesk {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var mu sync.Mutex
	results := make([]*variant.DiscoveredDesk, len(candidates))

	var wg sync.WaitGroup
	for i, c := range candidates {
		groutine.GoWait(ctx, &wg, fmt.Sprintf("probe-%s", c.Address), func(ctx context.Context) {
			d := v.ValidateDevice(ctx, c, timeout)
			mu.Lock()
			results[i] = d
			mu.Unlock()
		})
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		v.logger.WithField("candidates", len(candidates)).Debug("Validation deadline reached, returning finished probes")
	}

	mu.Lock()
	defer mu.Unlock()
	desks := make([]variant.DiscoveredDesk, 0, len(candidates))
	for _, d := range results {
		if d != nil {
			desks = append(desks, *d)
		}
	}
	return desks
}
