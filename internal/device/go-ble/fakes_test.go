package goble

import (
	"context"
	"sync"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// fakeDevice implements only the ble.Device methods the backend calls.
type fakeDevice struct {
	ble.Device
	mock.Mock
}

func (d *fakeDevice) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	args := d.Called(ctx, allowDup, h)
	return args.Error(0)
}

func (d *fakeDevice) Dial(ctx context.Context, a ble.Addr) (ble.Client, error) {
	args := d.Called(ctx, a.String())
	c, _ := args.Get(0).(ble.Client)
	return c, args.Error(1)
}

// fakeClient records GATT traffic against a fixed profile.
type fakeClient struct {
	ble.Client

	mu           sync.Mutex
	profile      *ble.Profile
	profileErr   error
	profileBlock chan struct{}
	reads        map[string][]byte
	readBlock    chan struct{}
	writes       [][]byte
	noRsp        []bool
	handlers     map[string]ble.NotificationHandler
	unsubscribed []string
	cancelCalls  int
	cancelErr    error
	disconnected chan struct{}
}

func newFakeClient(profile *ble.Profile) *fakeClient {
	return &fakeClient{
		profile:      profile,
		reads:        make(map[string][]byte),
		handlers:     make(map[string]ble.NotificationHandler),
		disconnected: make(chan struct{}),
	}
}

func (c *fakeClient) DiscoverProfile(force bool) (*ble.Profile, error) {
	if c.profileBlock != nil {
		<-c.profileBlock
	}
	return c.profile, c.profileErr
}

func (c *fakeClient) ReadCharacteristic(ch *ble.Characteristic) ([]byte, error) {
	if c.readBlock != nil {
		<-c.readBlock
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads[ch.UUID.String()], nil
}

func (c *fakeClient) WriteCharacteristic(ch *ble.Characteristic, value []byte, noRsp bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), value...))
	c.noRsp = append(c.noRsp, noRsp)
	return nil
}

func (c *fakeClient) Subscribe(ch *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[ch.UUID.String()] = h
	return nil
}

func (c *fakeClient) Unsubscribe(ch *ble.Characteristic, ind bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribed = append(c.unsubscribed, ch.UUID.String())
	delete(c.handlers, ch.UUID.String())
	return nil
}

func (c *fakeClient) CancelConnection() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelCalls++
	return c.cancelErr
}

func (c *fakeClient) cancelCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelCalls
}

func (c *fakeClient) Disconnected() <-chan struct{} {
	return c.disconnected
}

func (c *fakeClient) notify(char string, data []byte) {
	c.mu.Lock()
	h := c.handlers[char]
	c.mu.Unlock()
	if h != nil {
		h(data)
	}
}

func (c *fakeClient) snapshotWrites() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

func deskProfile() *ble.Profile {
	return &ble.Profile{
		Services: []*ble.Service{
			{
				UUID: ble.UUID16(0xFF00),
				Characteristics: []*ble.Characteristic{
					{UUID: ble.UUID16(0xFF01)},
					{UUID: ble.UUID16(0xFF02)},
					{UUID: ble.UUID16(0xFE63)},
				},
			},
			{
				UUID: ble.UUID16(0x180A),
				Characteristics: []*ble.Characteristic{
					{UUID: ble.UUID16(0x2A29)},
				},
			},
		},
	}
}
