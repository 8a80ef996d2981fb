package goble

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/deskble/internal/device"
	"github.com/srg/deskble/internal/groutine"
)

const (
	// DefaultNotificationBuffer is the number of notifications queued per
	// subscription before the oldest is dropped.
	DefaultNotificationBuffer = 64

	// DefaultBLEWriteChunkSize is the ATT_MTU payload of BLE 4.0/4.1.
	DefaultBLEWriteChunkSize = 20

	// DefaultBLEWriteDelay is the delay between consecutive write chunks.
	DefaultBLEWriteDelay = 10 * time.Millisecond
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking as goble.DeviceFactory
var DeviceFactory = newPlatformDevice

// Connector dials desks through go-ble.
type Connector struct {
	logger *logrus.Logger
}

// NewConnector returns a device.Connector backed by go-ble.
func NewConnector(logger *logrus.Logger) *Connector {
	if logger == nil {
		logger = logrus.New()
	}
	return &Connector{logger: logger}
}

// Connect dials address, discovers its GATT profile and returns the live connection.
func (c *Connector) Connect(ctx context.Context, address string) (device.Connection, error) {
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("device address is empty")
	}

	c.logger.WithField("address", address).Info("Connecting to BLE device...")

	dev, err := DeviceFactory()
	if err != nil {
		c.logger.WithField("error", err).Error("Failed to create BLE device")
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}

	client, err := dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Debug("Failed to dial BLE device")
		return nil, device.ConnectFailedError(address, NormalizeError(err))
	}

	profile, err := discoverProfile(ctx, client)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			c.logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection during profile discovery failure")
		}
		return nil, fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	conn := newBLEConnection(address, client, profile, c.logger)
	conn.monitor()

	c.logger.WithFields(logrus.Fields{
		"address":  address,
		"services": len(conn.services),
	}).Info("BLE device connected successfully")
	return conn, nil
}

// discoverProfile runs DiscoverProfile, which takes no context, and gives up
// when ctx ends. The caller cancels the connection, which unblocks the
// abandoned discovery.
func discoverProfile(ctx context.Context, client ble.Client) (*ble.Profile, error) {
	type profileResult struct {
		profile *ble.Profile
		err     error
	}
	ch := make(chan profileResult, 1)
	groutine.Go(ctx, "discover-profile", func(context.Context) {
		p, err := client.DiscoverProfile(true)
		ch <- profileResult{p, err}
	})

	select {
	case res := <-ch:
		return res.profile, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// BLEService is a discovered GATT service with live characteristic handles.
type BLEService struct {
	uuid  string
	chars map[string]*ble.Characteristic
}

func (s *BLEService) UUID() string {
	return s.uuid
}

// Characteristics returns the normalized characteristic UUIDs, sorted.
func (s *BLEService) Characteristics() []string {
	result := make([]string, 0, len(s.chars))
	for u := range s.chars {
		result = append(result, u)
	}
	sort.Strings(result)
	return result
}

type subscription struct {
	char  *ble.Characteristic
	queue chan []byte
	stop  chan struct{}
	done  chan struct{}
}

// BLEConnection is a live go-ble client connection.
type BLEConnection struct {
	address    string
	client     ble.Client
	logger     *logrus.Logger
	writeMutex sync.Mutex
	connMutex  sync.RWMutex
	connected  bool
	services   map[string]*BLEService
	subs       map[string]*subscription
	closed     chan struct{}
	closeOnce  sync.Once
}

func newBLEConnection(address string, client ble.Client, profile *ble.Profile, logger *logrus.Logger) *BLEConnection {
	c := &BLEConnection{
		address:   address,
		client:    client,
		logger:    logger,
		connected: true,
		services:  make(map[string]*BLEService),
		subs:      make(map[string]*subscription),
		closed:    make(chan struct{}),
	}

	for _, bleSvc := range profile.Services {
		svcUUID := device.NormalizeUUID(bleSvc.UUID.String())
		svc, ok := c.services[svcUUID]
		if !ok {
			svc = &BLEService{uuid: svcUUID, chars: make(map[string]*ble.Characteristic)}
			c.services[svcUUID] = svc
		}
		for _, ch := range bleSvc.Characteristics {
			charUUID := device.NormalizeUUID(ch.UUID.String())
			svc.chars[charUUID] = ch
			logger.WithFields(logrus.Fields{
				"service_uuid": svcUUID,
				"char_uuid":    charUUID,
			}).Debug("Found characteristic UUID")
		}
	}
	return c
}

// monitor marks the connection closed when the peer drops it.
func (c *BLEConnection) monitor() {
	disc, ok := c.client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		c.logger.Debug("Client does not support Disconnected() channel")
		return
	}
	groutine.Go(context.Background(), "ble-connection-monitor", func(ctx context.Context) {
		select {
		case <-disc.Disconnected():
			c.logger.WithField("address", c.address).Warn("Peer reported disconnection")
			c.connMutex.Lock()
			c.connected = false
			c.connMutex.Unlock()
		case <-c.closed:
		}
	})
}

func (c *BLEConnection) Address() string {
	return c.address
}

func (c *BLEConnection) IsConnected() bool {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.connected
}

// Services returns all discovered services sorted by UUID.
func (c *BLEConnection) Services() []device.Service {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()

	result := make([]device.Service, 0, len(c.services))
	for _, v := range c.services {
		result = append(result, v)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UUID() < result[j].UUID()
	})
	return result
}

// characteristic resolves a live handle. Callers must hold connMutex.
func (c *BLEConnection) characteristic(service, uuid string) (*ble.Characteristic, error) {
	if !c.connected {
		return nil, device.ErrNotConnected
	}
	svc, ok := c.services[device.NormalizeUUID(service)]
	if !ok {
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{service}}
	}
	ch, ok := svc.chars[device.NormalizeUUID(uuid)]
	if !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service, uuid}}
	}
	return ch, nil
}

// ReadCharacteristic reads a characteristic value, giving up when ctx is done.
func (c *BLEConnection) ReadCharacteristic(ctx context.Context, service, uuid string) ([]byte, error) {
	c.connMutex.RLock()
	ch, err := c.characteristic(service, uuid)
	c.connMutex.RUnlock()
	if err != nil {
		return nil, err
	}

	type readResult struct {
		data []byte
		err  error
	}
	resultCh := make(chan readResult, 1)

	go func() {
		data, err := c.client.ReadCharacteristic(ch)
		resultCh <- readResult{data: data, err: err}
	}()

	select {
	case result := <-resultCh:
		if result.err != nil {
			return nil, fmt.Errorf("failed to read characteristic %s: %w", uuid, NormalizeError(result.err))
		}
		return result.data, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("timeout reading characteristic %s: %w", uuid, ctx.Err())
	}
}

// WriteCharacteristic writes data without response, in DefaultBLEWriteChunkSize chunks.
// Writes on one connection never overlap.
func (c *BLEConnection) WriteCharacteristic(ctx context.Context, service, uuid string, data []byte) error {
	c.connMutex.RLock()
	ch, err := c.characteristic(service, uuid)
	c.connMutex.RUnlock()
	if err != nil {
		return err
	}

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	for offset := 0; offset < len(data); offset += DefaultBLEWriteChunkSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(offset+DefaultBLEWriteChunkSize, len(data))
		if err := c.client.WriteCharacteristic(ch, data[offset:end], true); err != nil {
			return fmt.Errorf("failed to write characteristic %s: %w", uuid, NormalizeError(err))
		}
		if end < len(data) {
			time.Sleep(DefaultBLEWriteDelay)
		}
	}

	c.logger.WithFields(logrus.Fields{
		"char_uuid": device.NormalizeUUID(uuid),
		"bytes":     fmt.Sprintf("%x", data),
	}).Debug("Wrote characteristic")
	return nil
}

func subKey(service, uuid string) string {
	return device.NormalizeUUID(service) + "/" + device.NormalizeUUID(uuid)
}

// Subscribe enables notifications on a characteristic. go-ble invokes its
// handler from arbitrary goroutines; notifications are queued and handed to
// handler from one pump goroutine so they arrive one at a time, in order.
func (c *BLEConnection) Subscribe(service, uuid string, handler func([]byte)) error {
	c.connMutex.Lock()
	ch, err := c.characteristic(service, uuid)
	if err != nil {
		c.connMutex.Unlock()
		return err
	}
	key := subKey(service, uuid)
	if _, exists := c.subs[key]; exists {
		c.connMutex.Unlock()
		return fmt.Errorf("characteristic %s is already subscribed", uuid)
	}
	sub := &subscription{
		char:  ch,
		queue: make(chan []byte, DefaultNotificationBuffer),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	c.subs[key] = sub
	c.connMutex.Unlock()

	groutine.Go(context.Background(), "ble-notify-"+key, func(ctx context.Context) {
		defer close(sub.done)
		for {
			select {
			case data := <-sub.queue:
				handler(data)
			case <-sub.stop:
				return
			}
		}
	})

	err = NormalizeError(c.client.Subscribe(ch, false, func(data []byte) {
		buf := append([]byte(nil), data...)
		select {
		case sub.queue <- buf:
		default:
			c.logger.WithField("char_uuid", device.NormalizeUUID(uuid)).Warn("Notification queue full, dropping notification")
		}
	}))
	if err != nil {
		c.stopSubscription(key)
		c.logger.WithFields(logrus.Fields{
			"service_uuid": device.NormalizeUUID(service),
			"char_uuid":    device.NormalizeUUID(uuid),
			"error":        err,
		}).Error("Failed to subscribe to characteristic notifications")
		return fmt.Errorf("failed to subscribe to %s: %w", uuid, err)
	}

	c.logger.WithFields(logrus.Fields{
		"service_uuid": device.NormalizeUUID(service),
		"char_uuid":    device.NormalizeUUID(uuid),
	}).Info("Subscribed to characteristic notifications")
	return nil
}

// stopSubscription removes and stops the pump for key, returning its handle.
func (c *BLEConnection) stopSubscription(key string) *subscription {
	c.connMutex.Lock()
	sub, ok := c.subs[key]
	delete(c.subs, key)
	c.connMutex.Unlock()
	if !ok {
		return nil
	}
	close(sub.stop)
	<-sub.done
	return sub
}

// Unsubscribe disables notifications on a characteristic.
func (c *BLEConnection) Unsubscribe(service, uuid string) error {
	sub := c.stopSubscription(subKey(service, uuid))
	if sub == nil {
		return nil
	}
	if err := c.client.Unsubscribe(sub.char, false); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", uuid, NormalizeError(err))
	}
	return nil
}

// Close unsubscribes everything and drops the link. Unsubscribe failures are
// logged, only the link teardown error is returned.
func (c *BLEConnection) Close() error {
	c.connMutex.Lock()
	if !c.connected && len(c.subs) == 0 {
		c.connMutex.Unlock()
		c.closeOnce.Do(func() { close(c.closed) })
		return nil
	}
	keys := make([]string, 0, len(c.subs))
	for k := range c.subs {
		keys = append(keys, k)
	}
	c.connected = false
	c.connMutex.Unlock()

	for _, k := range keys {
		sub := c.stopSubscription(k)
		if sub == nil {
			continue
		}
		if err := c.client.Unsubscribe(sub.char, false); err != nil {
			c.logger.WithFields(logrus.Fields{
				"subscription": k,
				"error":        err,
			}).Warn("Failed to unsubscribe during disconnect")
		}
	}

	c.closeOnce.Do(func() { close(c.closed) })

	if err := c.client.CancelConnection(); err != nil {
		c.logger.WithField("error", err).Warn("BLE device disconnected with errors")
		return NormalizeError(err)
	}
	c.logger.WithField("address", c.address).Info("BLE device disconnected successfully")
	return nil
}
