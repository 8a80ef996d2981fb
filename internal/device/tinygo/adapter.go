//go:build !darwin

// Package tinygo is the tinygo.org/x/bluetooth backend (BlueZ on Linux, WinRT
// on Windows). macOS uses the go-ble backend instead.
package tinygo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/deskble/internal/device"
	"tinygo.org/x/bluetooth"
)

const stopScanRetry = 50 * time.Millisecond

var (
	enableOnce sync.Once
	enableErr  error
)

// enable powers the default adapter once per process.
func enable() (*bluetooth.Adapter, error) {
	adapter := bluetooth.DefaultAdapter
	enableOnce.Do(func() {
		if enableErr = adapter.Enable(); enableErr != nil {
			return
		}
		// One handler per adapter; it fires with connected=false when a peer drops.
		adapter.SetConnectHandler(func(dev bluetooth.Device, connected bool) {
			if !connected {
				dropLink(dev.Address.String())
			}
		})
	})
	if enableErr != nil {
		return nil, fmt.Errorf("%w: %v", device.ErrBluetoothOff, enableErr)
	}
	return adapter, nil
}

type advertisement struct {
	addr     string
	name     string
	rssi     int
	services []string
}

func (a *advertisement) Addr() string       { return a.addr }
func (a *advertisement) LocalName() string  { return a.name }
func (a *advertisement) RSSI() int          { return a.rssi }
func (a *advertisement) Services() []string { return a.services }
func (a *advertisement) Connectable() bool  { return true }

// Scanner scans with the default adapter. tinygo does not list advertised
// service UUIDs, so Services() on reported advertisements only contains the
// entries of watch that the packet carries.
type Scanner struct {
	logger *logrus.Logger
	watch  []bluetooth.UUID
}

// NewScanner returns a Scanner that reports which of watchServices each
// advertisement carries.
func NewScanner(logger *logrus.Logger, watchServices ...string) (*Scanner, error) {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Scanner{logger: logger}
	for _, u := range watchServices {
		expanded, err := device.ExpandUUID(u)
		if err != nil {
			return nil, err
		}
		parsed, err := bluetooth.ParseUUID(expanded)
		if err != nil {
			return nil, fmt.Errorf("invalid service UUID %q: %w", u, err)
		}
		s.watch = append(s.watch, parsed)
	}
	return s, nil
}

// Scan blocks until ctx is done. allowDup is ignored; the adapter always
// reports repeated advertisements.
func (s *Scanner) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	adapter, err := enable()
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// StopScan is a no-op until the adapter is scanning, so keep retrying
	// until Scan returns.
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		ticker := time.NewTicker(stopScanRetry)
		defer ticker.Stop()
		for {
			if err := adapter.StopScan(); err != nil {
				s.logger.WithField("error", err).Debug("StopScan failed")
			}
			select {
			case <-done:
				return
			case <-ticker.C:
			}
		}
	}()

	err = adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		adv := &advertisement{
			addr: result.Address.String(),
			name: result.LocalName(),
			rssi: int(result.RSSI),
		}
		for _, u := range s.watch {
			if result.HasServiceUUID(u) {
				adv.services = append(adv.services, device.NormalizeUUID(u.String()))
			}
		}
		handler(adv)
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return device.NormalizeError(err)
	}
	return ctx.Err()
}
