package discovery

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/deskble/internal/variant"
)

// CandidateSource yields scan candidates. *Scanner implements it.
type CandidateSource interface {
	Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) ([]Candidate, error)
}

// DeskValidator confirms candidates. *Validator implements it.
type DeskValidator interface {
	ValidateDevices(ctx context.Context, candidates []Candidate, timeout time.Duration) []variant.DiscoveredDesk
}

// Finder scans and then validates.
type Finder struct {
	source    CandidateSource
	validator DeskValidator
	logger    *logrus.Logger

	// ScanOptions is used for the scan phase; Duration is overridden by
	// Find's scanTimeout.
	ScanOptions ScanOptions
	Progress    ProgressCallback
}

func NewFinder(source CandidateSource, validator DeskValidator, logger *logrus.Logger) *Finder {
	if logger == nil {
		logger = logrus.New()
	}
	return &Finder{
		source:      source,
		validator:   validator,
		logger:      logger,
		ScanOptions: *DefaultScanOptions(),
	}
}

// Find scans for scanTimeout and validates what was seen, giving each probe
// validateTimeout. Finding nothing is not an error; only a failing adapter is.
func (f *Finder) Find(ctx context.Context, scanTimeout, validateTimeout time.Duration) ([]variant.DiscoveredDesk, error) {
	opts := f.ScanOptions
	opts.Duration = scanTimeout

	candidates, err := f.source.Scan(ctx, &opts, f.Progress)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		f.logger.Info("No devices found")
		return nil, nil
	}

	if f.Progress != nil {
		f.Progress(PhaseValidating)
	}
	desks := f.validator.ValidateDevices(ctx, candidates, validateTimeout)

	f.logger.WithFields(logrus.Fields{
		"candidates": len(candidates),
		"desks":      len(desks),
	}).Info("Desk discovery completed")
	return desks, nil
}
