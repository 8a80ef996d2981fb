// Package devicefactory selects a BLE backend by name.
package devicefactory

import (
	"fmt"
	"runtime"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/srg/deskble/internal/device"
	goble "github.com/srg/deskble/internal/device/go-ble"
)

// Backend names a BLE stack implementation.
type Backend string

const (
	BackendGoBLE  Backend = "go-ble"
	BackendTinyGo Backend = "tinygo"
)

type backend struct {
	scanner   func(logger *logrus.Logger, watchServices []string) (device.Scanner, error)
	connector func(logger *logrus.Logger) device.Connector
}

var backends = map[Backend]backend{
	BackendGoBLE: {
		scanner: func(_ *logrus.Logger, _ []string) (device.Scanner, error) {
			return goble.NewScanner()
		},
		connector: func(logger *logrus.Logger) device.Connector {
			return goble.NewConnector(logger)
		},
	},
}

// DefaultBackend is go-ble on macOS (CoreBluetooth) and tinygo elsewhere (BlueZ, WinRT).
func DefaultBackend() Backend {
	if runtime.GOOS == "darwin" {
		return BackendGoBLE
	}
	return BackendTinyGo
}

// Available lists the backends compiled into this binary.
func Available() []Backend {
	out := make([]Backend, 0, len(backends))
	for name := range backends {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func lookup(name Backend) (backend, error) {
	if name == "" {
		name = DefaultBackend()
	}
	b, ok := backends[name]
	if !ok {
		return backend{}, fmt.Errorf("%w: backend %q is not available on %s (available: %v)",
			device.ErrUnsupported, name, runtime.GOOS, Available())
	}
	return b, nil
}

// ScannerFactory creates the scanner for a backend. watchServices lists the
// service UUIDs the caller filters on. This is a variable so that it can be
// overridden in tests.
var ScannerFactory = func(name Backend, logger *logrus.Logger, watchServices ...string) (device.Scanner, error) {
	b, err := lookup(name)
	if err != nil {
		return nil, err
	}
	return b.scanner(logger, watchServices)
}

// ConnectorFactory creates the connector for a backend. This is a variable so
// that it can be overridden in tests.
var ConnectorFactory = func(name Backend, logger *logrus.Logger) (device.Connector, error) {
	b, err := lookup(name)
	if err != nil {
		return nil, err
	}
	return b.connector(logger), nil
}
