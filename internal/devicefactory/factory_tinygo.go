//go:build !darwin

package devicefactory

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/deskble/internal/device"
	"github.com/srg/deskble/internal/device/tinygo"
)

func init() {
	backends[BackendTinyGo] = backend{
		scanner: func(logger *logrus.Logger, watchServices []string) (device.Scanner, error) {
			s, err := tinygo.NewScanner(logger, watchServices...)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		connector: func(logger *logrus.Logger) device.Connector {
			return tinygo.NewConnector(logger)
		},
	}
}
