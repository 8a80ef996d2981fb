package discovery_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srg/deskble/internal/device"
	"github.com/srg/deskble/internal/discovery"
	"github.com/srg/deskble/internal/testutils"
	"github.com/srg/deskble/internal/variant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testConfig = variant.DeskConfig{
	ServiceUUID:    "service-1",
	InputCharUUID:  "char-1",
	OutputCharUUID: "char-2",
	NameCharUUID:   "char-3",
}

func testRegistry(t *testing.T) *variant.Registry {
	t.Helper()
	r, err := variant.NewRegistry(map[string]variant.DeskConfig{"service-1": testConfig})
	require.NoError(t, err)
	return r
}

func TestValidateDevice(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(ft *testutils.FakeTransport)
		expected bool
	}{
		{
			name: "exact service and characteristics match",
			setup: func(ft *testutils.FakeTransport) {
				ft.AddDesk("AA:BB:CC:DD:EE:FF", "Test Desk", "service-1", "char-1", "char-2", "char-3")
			},
			expected: true,
		},
		{
			name: "extra characteristics still match",
			setup: func(ft *testutils.FakeTransport) {
				ft.AddDesk("AA:BB:CC:DD:EE:FF", "Test Desk", "service-1", "char-0", "char-3", "char-2", "char-1")
			},
			expected: true,
		},
		{
			name: "missing characteristic",
			setup: func(ft *testutils.FakeTransport) {
				ft.AddDesk("AA:BB:CC:DD:EE:FF", "Test Desk", "service-1", "char-1", "char-2")
			},
			expected: false,
		},
		{
			name: "wrong service",
			setup: func(ft *testutils.FakeTransport) {
				ft.AddDesk("AA:BB:CC:DD:EE:FF", "Test Desk", "wrong-service", "char-1", "char-2", "char-3")
			},
			expected: false,
		},
		{
			name: "characteristics under another service",
			setup: func(ft *testutils.FakeTransport) {
				ft.AddDesk("AA:BB:CC:DD:EE:FF", "Test Desk", "service-1", "char-1").
					WithService("service-2", "char-2", "char-3")
			},
			expected: false,
		},
		{
			name: "not connected",
			setup: func(ft *testutils.FakeTransport) {
				p := ft.AddDesk("AA:BB:CC:DD:EE:FF", "Test Desk", "service-1", "char-1", "char-2", "char-3")
				p.Unconnected = true
			},
			expected: false,
		},
		{
			name: "connect failure",
			setup: func(ft *testutils.FakeTransport) {
				p := ft.AddDesk("AA:BB:CC:DD:EE:FF", "Test Desk", "service-1", "char-1", "char-2", "char-3")
				p.ConnectErr = device.ConnectFailedError("AA:BB:CC:DD:EE:FF", errors.New("le-connection-abort-by-local"))
			},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			helper := testutils.NewTestHelper(t)
			ft := testutils.NewFakeTransport()
			tt.setup(ft)
			v := discovery.NewValidator(ft, testRegistry(t), helper.Logger)

			desk := v.ValidateDevice(context.Background(), discovery.Candidate{Address: "AA:BB:CC:DD:EE:FF", Name: "Test Desk"}, time.Second)

			if !tt.expected {
				assert.Nil(t, desk, "non-matching device MUST be reported as absent")
				return
			}
			require.NotNil(t, desk)
			assert.Equal(t, "AA:BB:CC:DD:EE:FF", desk.Address)
			assert.Equal(t, "Test Desk", desk.Name)
			assert.Equal(t, testConfig, desk.Config)
		})
	}
}

func TestValidateDevice_ReleasesConnection(t *testing.T) {
	helper := testutils.NewTestHelper(t)

	for _, unconnected := range []bool{false, true} {
		ft := testutils.NewFakeTransport()
		p := ft.AddDesk("AA:BB:CC:DD:EE:FF", "", "service-1", "char-1", "char-2", "char-3")
		p.Unconnected = unconnected
		p.CloseErr = errors.New("already closed")

		v := discovery.NewValidator(ft, testRegistry(t), helper.Logger)
		v.ValidateDevice(context.Background(), discovery.Candidate{Address: "AA:BB:CC:DD:EE:FF"}, time.Second)

		conn := ft.LastConnection()
		require.NotNil(t, conn)
		assert.Equal(t, 1, conn.CloseCount(), "probe connection MUST be closed exactly once (unconnected=%v)", unconnected)
	}
}

func TestValidateDevice_DefaultRegistry(t *testing.T) {
	// GOAL: real desks are matched through the builtin table, whatever UUID
	// form the backend reports
	helper := testutils.NewTestHelper(t)
	ft := testutils.NewFakeTransport()
	ft.AddDesk("11:22:33:44:55:66", "OMNIDESK", "0000FE60-0000-1000-8000-00805F9B34FB",
		"0000fe61-0000-1000-8000-00805f9b34fb", "FE62", "0xfe63")

	v := discovery.NewValidator(ft, nil, helper.Logger)
	desk := v.ValidateDevice(context.Background(), discovery.Candidate{Address: "11:22:33:44:55:66", Name: "OMNIDESK"}, time.Second)

	require.NotNil(t, desk)
	assert.Equal(t, variant.Omnidesk0xFE60, desk.Config.Variant)
}

func TestValidateDevice_FirstMatchingServiceWins(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	ft := testutils.NewFakeTransport()
	// omnidesk service without its name characteristic comes first
	ft.AddDesk("11:22:33:44:55:66", "", "ff12", "ff01", "ff02").
		WithService("ff00", "ff01", "ff02", "fe63").
		WithService("00ff", "01ff", "02ff", "36ef")

	v := discovery.NewValidator(ft, nil, helper.Logger)
	desk := v.ValidateDevice(context.Background(), discovery.Candidate{Address: "11:22:33:44:55:66"}, time.Second)

	require.NotNil(t, desk)
	assert.Equal(t, variant.Jiecang0xFF00, desk.Config.Variant)
}

func TestValidateDevice_Timeout(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	ft := testutils.NewFakeTransport()
	p := ft.AddDesk("AA:BB:CC:DD:EE:FF", "", "service-1", "char-1", "char-2", "char-3")
	p.ConnectDelay = time.Second

	v := discovery.NewValidator(ft, testRegistry(t), helper.Logger)
	start := time.Now()
	desk := v.ValidateDevice(context.Background(), discovery.Candidate{Address: "AA:BB:CC:DD:EE:FF"}, 20*time.Millisecond)

	assert.Nil(t, desk)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "probe MUST give up at its deadline")
}

func TestValidateDevice_StalledConnectorIsAbandoned(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	ft := testutils.NewFakeTransport()
	p := ft.AddDesk("AA:BB:CC:DD:EE:FF", "", "service-1", "char-1", "char-2", "char-3")
	p.ConnectDelay = 600 * time.Millisecond
	p.StallConnect = true

	v := discovery.NewValidator(ft, testRegistry(t), helper.Logger)
	start := time.Now()
	desk := v.ValidateDevice(context.Background(), discovery.Candidate{Address: "AA:BB:CC:DD:EE:FF"}, 50*time.Millisecond)

	assert.Nil(t, desk)
	assert.Less(t, time.Since(start), 300*time.Millisecond, "probe MUST return at its deadline even if the connector ignores ctx")
}

func TestValidateDevices_HardDeadline(t *testing.T) {
	// GOAL: one connector that ignores cancellation cannot hold up the batch
	//
	// TEST SCENARIO: a valid desk next to a stalled one, validated with a
	// 50ms timeout
	helper := testutils.NewTestHelper(t)
	ft := testutils.NewFakeTransport()
	stalled := ft.AddDesk("BB:BB:BB:BB:BB:BB", "Stalled", "service-1", "char-1", "char-2", "char-3")
	stalled.ConnectDelay = 600 * time.Millisecond
	stalled.StallConnect = true
	ft.AddDesk("AA:AA:AA:AA:AA:AA", "Valid Desk", "service-1", "char-1", "char-2", "char-3")

	v := discovery.NewValidator(ft, testRegistry(t), helper.Logger)
	start := time.Now()
	desks := v.ValidateDevices(context.Background(), []discovery.Candidate{
		{Address: "BB:BB:BB:BB:BB:BB", Name: "Stalled"},
		{Address: "AA:AA:AA:AA:AA:AA", Name: "Valid Desk"},
	}, 50*time.Millisecond)

	assert.Less(t, time.Since(start), 300*time.Millisecond, "batch MUST return by its deadline")
	require.Len(t, desks, 1, "finished probes MUST still be reported")
	assert.Equal(t, "AA:AA:AA:AA:AA:AA", desks[0].Address)
}

func TestValidateDevices(t *testing.T) {
	// GOAL: only matching devices are returned, independent of the others
	//
	// TEST SCENARIO: one valid desk among a wrong-service device, a failing
	// connect and a slow device that times out
	helper := testutils.NewTestHelper(t)
	ft := testutils.NewFakeTransport()
	ft.AddDesk("BB:BB:BB:BB:BB:BB", "Invalid Desk", "service-invalid", "char-1", "char-2", "char-3")
	ft.AddDesk("CC:CC:CC:CC:CC:CC", "Broken", "service-1", "char-1", "char-2", "char-3").
		ConnectErr = errors.New("boom")
	ft.AddDesk("DD:DD:DD:DD:DD:DD", "Slow", "service-1", "char-1", "char-2", "char-3").
		ConnectDelay = time.Second
	ft.AddDesk("AA:AA:AA:AA:AA:AA", "Valid Desk", "service-1", "char-1", "char-2", "char-3")

	candidates := []discovery.Candidate{
		{Address: "BB:BB:BB:BB:BB:BB", Name: "Invalid Desk"},
		{Address: "CC:CC:CC:CC:CC:CC", Name: "Broken"},
		{Address: "DD:DD:DD:DD:DD:DD", Name: "Slow"},
		{Address: "AA:AA:AA:AA:AA:AA", Name: "Valid Desk"},
	}

	v := discovery.NewValidator(ft, testRegistry(t), helper.Logger)
	desks := v.ValidateDevices(context.Background(), candidates, 50*time.Millisecond)

	require.Len(t, desks, 1)
	assert.Equal(t, "AA:AA:AA:AA:AA:AA", desks[0].Address)
	assert.Equal(t, "Valid Desk", desks[0].Name)

	for _, c := range candidates {
		assert.Equal(t, 1, ft.ConnectCount(c.Address), "every candidate MUST be probed exactly once")
	}
}

func TestValidateDevices_PreservesInputOrder(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	ft := testutils.NewFakeTransport()
	ft.AddDesk("AA:AA:AA:AA:AA:AA", "", "service-1", "char-1", "char-2", "char-3").ConnectDelay = 30 * time.Millisecond
	ft.AddDesk("BB:BB:BB:BB:BB:BB", "", "service-1", "char-1", "char-2", "char-3")

	v := discovery.NewValidator(ft, testRegistry(t), helper.Logger)
	desks := v.ValidateDevices(context.Background(), []discovery.Candidate{
		{Address: "AA:AA:AA:AA:AA:AA"},
		{Address: "BB:BB:BB:BB:BB:BB"},
	}, time.Second)

	require.Len(t, desks, 2)
	assert.Equal(t, "AA:AA:AA:AA:AA:AA", desks[0].Address)
	assert.Equal(t, "BB:BB:BB:BB:BB:BB", desks[1].Address)
}

func TestValidateDevices_Empty(t *testing.T) {
	v := discovery.NewValidator(testutils.NewFakeTransport(), nil, nil)
	assert.Empty(t, v.ValidateDevices(context.Background(), nil, time.Second))
}
