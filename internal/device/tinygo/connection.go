//go:build !darwin

package tinygo

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/deskble/internal/device"
	"tinygo.org/x/bluetooth"
)

// readBufferSize bounds a single characteristic read; DIS strings are short.
const readBufferSize = 512

// Connector dials desks with the default adapter.
type Connector struct {
	logger *logrus.Logger
}

// NewConnector returns a device.Connector backed by tinygo bluetooth.
func NewConnector(logger *logrus.Logger) *Connector {
	if logger == nil {
		logger = logrus.New()
	}
	return &Connector{logger: logger}
}

// Connect dials address. The adapter's own connect call cannot be cancelled;
// when ctx ends first the late connection is torn down in the background.
func (c *Connector) Connect(ctx context.Context, address string) (device.Connection, error) {
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("device address is empty")
	}
	adapter, err := enable()
	if err != nil {
		return nil, err
	}

	var addr bluetooth.Address
	addr.Set(address)

	c.logger.WithField("address", address).Info("Connecting to BLE device...")

	type connectResult struct {
		dev bluetooth.Device
		err error
	}
	ch := make(chan connectResult, 1)
	go func() {
		dev, err := adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{dev, err}
	}()

	var dev bluetooth.Device
	select {
	case <-ctx.Done():
		go func() {
			if late := <-ch; late.err == nil {
				_ = late.dev.Disconnect()
			}
		}()
		return nil, device.ConnectFailedError(address, ctx.Err())
	case res := <-ch:
		if res.err != nil {
			return nil, device.ConnectFailedError(address, device.NormalizeError(res.err))
		}
		dev = res.dev
	}

	conn, err := discover(ctx, address, dev, c.logger)
	if err != nil {
		_ = dev.Disconnect()
		return nil, device.ConnectFailedError(address, err)
	}
	trackLink(conn)

	c.logger.WithFields(logrus.Fields{
		"address":  address,
		"services": len(conn.services),
	}).Info("BLE device connected successfully")
	return conn, nil
}

type service struct {
	uuid  string
	chars map[string]*bluetooth.DeviceCharacteristic
}

func (s *service) UUID() string { return s.uuid }

func (s *service) Characteristics() []string {
	out := make([]string, 0, len(s.chars))
	for u := range s.chars {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Connection is a live tinygo GATT connection.
type Connection struct {
	address    string
	dev        bluetooth.Device
	logger     *logrus.Logger
	writeMutex sync.Mutex
	mu         sync.RWMutex
	connected  bool
	services   map[string]*service
	subs       map[string]*notifyPump
}

// discover runs GATT discovery, which the adapter cannot cancel, and gives up
// when ctx ends. The caller disconnects, which fails the abandoned discovery.
func discover(ctx context.Context, address string, dev bluetooth.Device, logger *logrus.Logger) (*Connection, error) {
	type discoverResult struct {
		conn *Connection
		err  error
	}
	ch := make(chan discoverResult, 1)
	go func() {
		conn, err := newConnection(address, dev, logger)
		ch <- discoverResult{conn, err}
	}()

	select {
	case res := <-ch:
		return res.conn, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newConnection(address string, dev bluetooth.Device, logger *logrus.Logger) (*Connection, error) {
	svcs, err := dev.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to discover services: %w", err)
	}

	c := &Connection{
		address:   address,
		dev:       dev,
		logger:    logger,
		connected: true,
		services:  make(map[string]*service, len(svcs)),
		subs:      make(map[string]*notifyPump),
	}
	for i := range svcs {
		svcUUID := device.NormalizeUUID(svcs[i].UUID().String())
		chars, err := svcs[i].DiscoverCharacteristics(nil)
		if err != nil {
			logger.WithFields(logrus.Fields{
				"service_uuid": svcUUID,
				"error":        err,
			}).Warn("Failed to discover characteristics")
			continue
		}
		svc := &service{uuid: svcUUID, chars: make(map[string]*bluetooth.DeviceCharacteristic, len(chars))}
		for j := range chars {
			svc.chars[device.NormalizeUUID(chars[j].UUID().String())] = &chars[j]
		}
		c.services[svcUUID] = svc
	}
	return c, nil
}

func (c *Connection) Address() string { return c.address }

func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *Connection) Services() []device.Service {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]device.Service, 0, len(c.services))
	for _, s := range c.services {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID() < out[j].UUID() })
	return out
}

func (c *Connection) characteristic(serviceUUID, uuid string) (*bluetooth.DeviceCharacteristic, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected {
		return nil, device.ErrNotConnected
	}
	svc, ok := c.services[device.NormalizeUUID(serviceUUID)]
	if !ok {
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{serviceUUID}}
	}
	ch, ok := svc.chars[device.NormalizeUUID(uuid)]
	if !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{serviceUUID, uuid}}
	}
	return ch, nil
}

func (c *Connection) ReadCharacteristic(ctx context.Context, serviceUUID, uuid string) ([]byte, error) {
	ch, err := c.characteristic(serviceUUID, uuid)
	if err != nil {
		return nil, err
	}

	type readResult struct {
		data []byte
		err  error
	}
	resultCh := make(chan readResult, 1)
	go func() {
		buf := make([]byte, readBufferSize)
		n, err := ch.Read(buf)
		resultCh <- readResult{buf[:n], err}
	}()

	select {
	case r := <-resultCh:
		if r.err != nil {
			return nil, fmt.Errorf("failed to read characteristic %s: %w", uuid, device.NormalizeError(r.err))
		}
		return r.data, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("timeout reading characteristic %s: %w", uuid, ctx.Err())
	}
}

func (c *Connection) WriteCharacteristic(ctx context.Context, serviceUUID, uuid string, data []byte) error {
	ch, err := c.characteristic(serviceUUID, uuid)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	if _, err := ch.WriteWithoutResponse(data); err != nil {
		return fmt.Errorf("failed to write characteristic %s: %w", uuid, device.NormalizeError(err))
	}
	return nil
}

func (c *Connection) Subscribe(serviceUUID, uuid string, handler func([]byte)) error {
	ch, err := c.characteristic(serviceUUID, uuid)
	if err != nil {
		return err
	}
	key := device.NormalizeUUID(serviceUUID) + "/" + device.NormalizeUUID(uuid)

	c.mu.Lock()
	if _, exists := c.subs[key]; exists {
		c.mu.Unlock()
		return fmt.Errorf("characteristic %s is already subscribed", uuid)
	}
	pump := newNotifyPump(key, handler, c.logger)
	c.subs[key] = pump
	c.mu.Unlock()

	if err := ch.EnableNotifications(pump.push); err != nil {
		c.mu.Lock()
		delete(c.subs, key)
		c.mu.Unlock()
		pump.stop()
		return fmt.Errorf("failed to subscribe to %s: %w", uuid, device.NormalizeError(err))
	}

	c.logger.WithFields(logrus.Fields{
		"service_uuid": device.NormalizeUUID(serviceUUID),
		"char_uuid":    device.NormalizeUUID(uuid),
	}).Info("Subscribed to characteristic notifications")
	return nil
}

func (c *Connection) Unsubscribe(serviceUUID, uuid string) error {
	key := device.NormalizeUUID(serviceUUID) + "/" + device.NormalizeUUID(uuid)
	c.mu.Lock()
	pump, ok := c.subs[key]
	delete(c.subs, key)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	pump.stop()

	ch, err := c.characteristic(serviceUUID, uuid)
	if err != nil {
		return nil
	}
	if err := ch.EnableNotifications(nil); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", uuid, device.NormalizeError(err))
	}
	return nil
}

func (c *Connection) Close() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = false
	pumps := c.subs
	c.subs = make(map[string]*notifyPump)
	c.mu.Unlock()

	untrackLink(c)
	for _, p := range pumps {
		p.stop()
	}
	if err := c.dev.Disconnect(); err != nil {
		c.logger.WithField("error", err).Warn("BLE device disconnected with errors")
		return device.NormalizeError(err)
	}
	c.logger.WithField("address", c.address).Info("BLE device disconnected successfully")
	return nil
}

// The adapter has a single connect handler, so live connections are looked up
// by address when it reports a dropped link.
var (
	linksMu sync.Mutex
	links   = make(map[string]*Connection)
)

func linkKey(address string) string {
	return strings.ToLower(address)
}

func trackLink(c *Connection) {
	linksMu.Lock()
	defer linksMu.Unlock()
	links[linkKey(c.address)] = c
}

func untrackLink(c *Connection) {
	linksMu.Lock()
	defer linksMu.Unlock()
	if links[linkKey(c.address)] == c {
		delete(links, linkKey(c.address))
	}
}

// dropLink marks the connection to address as lost after the peer went away.
func dropLink(address string) {
	linksMu.Lock()
	c := links[linkKey(address)]
	delete(links, linkKey(address))
	linksMu.Unlock()

	if c != nil {
		c.markDisconnected()
	}
}

func (c *Connection) markDisconnected() {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	c.connected = false
	pumps := c.subs
	c.subs = make(map[string]*notifyPump)
	c.mu.Unlock()

	for _, p := range pumps {
		p.stop()
	}
	c.logger.WithField("address", c.address).Warn("BLE device disconnected by peer")
}
