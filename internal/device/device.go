package device

import (
	"context"
)

// Advertisement is one advertising packet observed during a scan.
type Advertisement interface {
	Addr() string
	LocalName() string
	Services() []string
	RSSI() int
	Connectable() bool
}

// Scanner represents a BLE adapter capable of scanning for advertisements.
// Scan blocks until ctx is done or the adapter fails.
type Scanner interface {
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error
}

// Connector opens GATT connections. Implementations must honour ctx as the
// connect deadline.
type Connector interface {
	Connect(ctx context.Context, address string) (Connection, error)
}

// Service is a discovered GATT service with the UUIDs of its characteristics.
type Service interface {
	UUID() string
	Characteristics() []string
}

// Connection is a live GATT client connection.
//
// Characteristic operations address a characteristic by its service and
// characteristic UUIDs; both are accepted in any form NormalizeUUID understands.
type Connection interface {
	Address() string
	IsConnected() bool
	Services() []Service

	ReadCharacteristic(ctx context.Context, service, uuid string) ([]byte, error)
	WriteCharacteristic(ctx context.Context, service, uuid string, data []byte) error

	// Subscribe enables notifications. The handler is invoked once per
	// notification, in arrival order, from a single goroutine.
	Subscribe(service, uuid string, handler func([]byte)) error
	Unsubscribe(service, uuid string) error

	Close() error
}

// BasicService is a plain Service value, used by backends and test doubles.
type BasicService struct {
	ServiceUUID string
	CharUUIDs   []string
}

func (s *BasicService) UUID() string              { return s.ServiceUUID }
func (s *BasicService) Characteristics() []string { return s.CharUUIDs }

// HasCharacteristics reports whether svc exposes every characteristic in uuids.
func HasCharacteristics(svc Service, uuids ...string) bool {
	have := make(map[string]struct{}, len(svc.Characteristics()))
	for _, c := range svc.Characteristics() {
		have[NormalizeUUID(c)] = struct{}{}
	}
	for _, u := range uuids {
		if _, ok := have[NormalizeUUID(u)]; !ok {
			return false
		}
	}
	return true
}

// FindService returns the service with the given UUID, or nil.
func FindService(conn Connection, uuid string) Service {
	want := NormalizeUUID(uuid)
	for _, svc := range conn.Services() {
		if NormalizeUUID(svc.UUID()) == want {
			return svc
		}
	}
	return nil
}
