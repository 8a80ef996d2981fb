package testutils

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/srg/deskble/internal/device"
)

// FakeTransport is an in-memory device.Scanner and device.Connector. Each
// registered peripheral is advertised once per Scan and can be connected to
// any number of times.
type FakeTransport struct {
	mu          sync.Mutex
	peripherals []*FakePeripheral
	connections []*FakeConnection
	connects    map[string]int

	// ScanErr is returned from Scan after all advertisements were delivered.
	ScanErr error
	// BlockScan makes Scan wait for ctx like a real radio does.
	BlockScan bool
}

// FakePeripheral describes one simulated device.
type FakePeripheral struct {
	Address  string
	Name     string
	Services []*device.BasicService

	// AdvertisedServices is what the advertisement carries; it may differ
	// from the GATT table.
	AdvertisedServices []string
	// NotConnectable marks the advertisement as non-connectable (a beacon).
	NotConnectable bool

	// Values maps normalized characteristic UUID to read value.
	Values   map[string][]byte
	ReadErrs map[string]error

	ConnectErr   error
	ConnectDelay time.Duration
	// StallConnect makes Connect sit out ConnectDelay even after ctx ends,
	// like a radio stack that cannot be interrupted.
	StallConnect bool
	// Unconnected makes Connect succeed with a link that reports not connected.
	Unconnected bool
	CloseErr    error
	WriteErr    error

	// OnWrite is invoked after every successful write, e.g. to answer with
	// notifications through conn.Notify.
	OnWrite func(conn *FakeConnection, char string, data []byte)
}

// NewFakeTransport returns an empty transport.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{connects: make(map[string]int)}
}

// AddPeripheral registers p and returns it for further tweaking.
func (f *FakeTransport) AddPeripheral(p *FakePeripheral) *FakePeripheral {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.Values == nil {
		p.Values = make(map[string][]byte)
	}
	if p.ReadErrs == nil {
		p.ReadErrs = make(map[string]error)
	}
	f.peripherals = append(f.peripherals, p)
	return p
}

// AddDesk registers a peripheral exposing one service with the given characteristics.
func (f *FakeTransport) AddDesk(address, name, service string, chars ...string) *FakePeripheral {
	return f.AddPeripheral(&FakePeripheral{
		Address:            address,
		Name:               name,
		Services:           []*device.BasicService{{ServiceUUID: service, CharUUIDs: chars}},
		AdvertisedServices: []string{service},
	})
}

// WithService adds a GATT service to the peripheral.
func (p *FakePeripheral) WithService(service string, chars ...string) *FakePeripheral {
	p.Services = append(p.Services, &device.BasicService{ServiceUUID: service, CharUUIDs: chars})
	return p
}

// WithValue sets the value returned when char is read.
func (p *FakePeripheral) WithValue(char string, value []byte) *FakePeripheral {
	p.Values[device.NormalizeUUID(char)] = value
	return p
}

// ConnectCount returns how many times address was dialled.
func (f *FakeTransport) ConnectCount(address string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects[strings.ToLower(address)]
}

// Connections returns every connection handed out, in order.
func (f *FakeTransport) Connections() []*FakeConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeConnection(nil), f.connections...)
}

// LastConnection returns the most recent connection or nil.
func (f *FakeTransport) LastConnection() *FakeConnection {
	conns := f.Connections()
	if len(conns) == 0 {
		return nil
	}
	return conns[len(conns)-1]
}

type fakeAdvertisement struct {
	addr, name  string
	services    []string
	connectable bool
}

func (a *fakeAdvertisement) Addr() string       { return a.addr }
func (a *fakeAdvertisement) LocalName() string  { return a.name }
func (a *fakeAdvertisement) Services() []string { return a.services }
func (a *fakeAdvertisement) RSSI() int          { return -50 }
func (a *fakeAdvertisement) Connectable() bool  { return a.connectable }

// Scan delivers one advertisement per peripheral.
func (f *FakeTransport) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	f.mu.Lock()
	peripherals := append([]*FakePeripheral(nil), f.peripherals...)
	f.mu.Unlock()

	for _, p := range peripherals {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		handler(&fakeAdvertisement{
			addr:        p.Address,
			name:        p.Name,
			services:    device.NormalizeUUIDs(p.AdvertisedServices),
			connectable: !p.NotConnectable,
		})
	}
	if f.ScanErr != nil {
		return f.ScanErr
	}
	if f.BlockScan {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

// Connect dials a registered peripheral.
func (f *FakeTransport) Connect(ctx context.Context, address string) (device.Connection, error) {
	f.mu.Lock()
	f.connects[strings.ToLower(address)]++
	var target *FakePeripheral
	for _, p := range f.peripherals {
		if strings.EqualFold(p.Address, address) {
			target = p
			break
		}
	}
	f.mu.Unlock()

	if target == nil {
		return nil, device.ConnectFailedError(address, fmt.Errorf("no such device"))
	}
	if target.ConnectDelay > 0 && target.StallConnect {
		time.Sleep(target.ConnectDelay)
	} else if target.ConnectDelay > 0 {
		select {
		case <-time.After(target.ConnectDelay):
		case <-ctx.Done():
			return nil, device.ConnectFailedError(address, ctx.Err())
		}
	}
	if target.ConnectErr != nil {
		return nil, target.ConnectErr
	}

	conn := &FakeConnection{
		peripheral: target,
		connected:  !target.Unconnected,
		handlers:   make(map[string]func([]byte)),
	}
	f.mu.Lock()
	f.connections = append(f.connections, conn)
	f.mu.Unlock()
	return conn, nil
}

// FakeWrite is one recorded characteristic write.
type FakeWrite struct {
	Service string
	Char    string
	Data    []byte
	At      time.Time
}

// FakeConnection is the device.Connection handed out by FakeTransport.
type FakeConnection struct {
	peripheral *FakePeripheral

	mu           sync.Mutex
	connected    bool
	closed       int
	writes       []FakeWrite
	handlers     map[string]func([]byte)
	unsubscribes []string
	notifyMu     sync.Mutex
}

func (c *FakeConnection) Address() string { return c.peripheral.Address }

func (c *FakeConnection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *FakeConnection) Services() []device.Service {
	out := make([]device.Service, 0, len(c.peripheral.Services))
	for _, s := range c.peripheral.Services {
		out = append(out, s)
	}
	return out
}

func (c *FakeConnection) hasChar(service, uuid string) bool {
	for _, s := range c.peripheral.Services {
		if device.NormalizeUUID(s.ServiceUUID) == device.NormalizeUUID(service) {
			return device.HasCharacteristics(s, uuid)
		}
	}
	return false
}

func (c *FakeConnection) ReadCharacteristic(ctx context.Context, service, uuid string) ([]byte, error) {
	if !c.IsConnected() {
		return nil, device.ErrNotConnected
	}
	key := device.NormalizeUUID(uuid)
	if err := c.peripheral.ReadErrs[key]; err != nil {
		return nil, err
	}
	if !c.hasChar(service, uuid) {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service, uuid}}
	}
	return c.peripheral.Values[key], nil
}

func (c *FakeConnection) WriteCharacteristic(ctx context.Context, service, uuid string, data []byte) error {
	if !c.IsConnected() {
		return device.ErrNotConnected
	}
	if c.peripheral.WriteErr != nil {
		return c.peripheral.WriteErr
	}
	if !c.hasChar(service, uuid) {
		return &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service, uuid}}
	}
	c.mu.Lock()
	c.writes = append(c.writes, FakeWrite{
		Service: device.NormalizeUUID(service),
		Char:    device.NormalizeUUID(uuid),
		Data:    append([]byte(nil), data...),
		At:      time.Now(),
	})
	c.mu.Unlock()

	if c.peripheral.OnWrite != nil {
		c.peripheral.OnWrite(c, device.NormalizeUUID(uuid), data)
	}
	return nil
}

func (c *FakeConnection) Subscribe(service, uuid string, handler func([]byte)) error {
	if !c.IsConnected() {
		return device.ErrNotConnected
	}
	if !c.hasChar(service, uuid) {
		return &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service, uuid}}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[device.NormalizeUUID(uuid)] = handler
	return nil
}

func (c *FakeConnection) Unsubscribe(service, uuid string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := device.NormalizeUUID(uuid)
	delete(c.handlers, key)
	c.unsubscribes = append(c.unsubscribes, key)
	return nil
}

func (c *FakeConnection) Close() error {
	c.mu.Lock()
	c.connected = false
	c.closed++
	c.handlers = make(map[string]func([]byte))
	c.mu.Unlock()
	return c.peripheral.CloseErr
}

// Notify delivers data to the subscriber of char, if any. Deliveries are
// serialised like a real transport's.
func (c *FakeConnection) Notify(char string, data []byte) bool {
	c.mu.Lock()
	h := c.handlers[device.NormalizeUUID(char)]
	c.mu.Unlock()
	if h == nil {
		return false
	}
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	h(data)
	return true
}

// Writes returns every recorded write.
func (c *FakeConnection) Writes() []FakeWrite {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]FakeWrite(nil), c.writes...)
}

// WrittenFrames returns only the written payloads.
func (c *FakeConnection) WrittenFrames() [][]byte {
	writes := c.Writes()
	out := make([][]byte, len(writes))
	for i, w := range writes {
		out[i] = w.Data
	}
	return out
}

// CloseCount returns how many times Close was called.
func (c *FakeConnection) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Subscribed reports whether char currently has a handler.
func (c *FakeConnection) Subscribed(char string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.handlers[device.NormalizeUUID(char)]
	return ok
}

// Unsubscribes returns the characteristics Unsubscribe was called for.
func (c *FakeConnection) Unsubscribes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.unsubscribes...)
}

// Disconnect simulates the peer dropping the link.
func (c *FakeConnection) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}
