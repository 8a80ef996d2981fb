package discovery_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srg/deskble/internal/device"
	"github.com/srg/deskble/internal/discovery"
	"github.com/srg/deskble/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type ScannerTestSuite struct {
	suite.Suite
	helper    *testutils.TestHelper
	transport *testutils.FakeTransport
}

func (s *ScannerTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.transport = testutils.NewFakeTransport()
	s.transport.AddDesk("AA:BB:CC:DD:EE:01", "Desk A", "ff00", "ff01", "ff02", "fe63")
	s.transport.AddDesk("AA:BB:CC:DD:EE:02", "Headphones", "180f", "2a19")
	s.transport.AddPeripheral(&testutils.FakePeripheral{Address: "AA:BB:CC:DD:EE:03", Name: "Quiet Desk"})
}

func addresses(cs []discovery.Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Address
	}
	return out
}

func (s *ScannerTestSuite) TestScan_ReturnsDevicesInDiscoveryOrder() {
	scanner := discovery.NewScanner(s.transport, s.helper.Logger)

	devices, err := scanner.Scan(context.Background(), &discovery.ScanOptions{Duration: time.Second}, nil)

	s.Require().NoError(err)
	s.Equal([]string{"AA:BB:CC:DD:EE:01", "AA:BB:CC:DD:EE:02", "AA:BB:CC:DD:EE:03"}, addresses(devices),
		"scan MUST report every device in the order it was first seen")
	s.Equal("Desk A", devices[0].Name)
	s.Equal([]string{"ff00"}, devices[0].Services, "advertised services MUST be normalized")
}

func (s *ScannerTestSuite) TestScan_ServiceFilter() {
	// GOAL: the known-service filter is an optimization only
	//
	// TEST SCENARIO: device advertising a desk service is kept, device
	// advertising only unrelated services is dropped, device advertising
	// nothing is kept for the validator to decide
	scanner := discovery.NewScanner(s.transport, s.helper.Logger)

	devices, err := scanner.Scan(context.Background(), discovery.DefaultScanOptions(), nil)

	s.Require().NoError(err)
	s.Equal([]string{"AA:BB:CC:DD:EE:01", "AA:BB:CC:DD:EE:03"}, addresses(devices))
}

func (s *ScannerTestSuite) TestScan_AllowList() {
	tests := []struct {
		name     string
		allow    []string
		expected []string
	}{
		{"keeps only listed devices", []string{"aa:bb:cc:dd:ee:02"}, []string{"AA:BB:CC:DD:EE:02"}},
		{"ignores separators and case", []string{"AABBCCDDEE03"}, []string{"AA:BB:CC:DD:EE:03"}},
		{"unknown address yields nothing", []string{"11:22:33:44:55:66"}, []string{}},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			scanner := discovery.NewScanner(s.transport, s.helper.Logger)
			devices, err := scanner.Scan(context.Background(), &discovery.ScanOptions{AllowList: tt.allow}, nil)
			s.Require().NoError(err)
			s.Equal(tt.expected, addresses(devices))
		})
	}
}

func (s *ScannerTestSuite) TestScan_DropsNonConnectable() {
	s.transport.AddPeripheral(&testutils.FakePeripheral{
		Address:            "AA:BB:CC:DD:EE:04",
		Name:               "Beacon",
		AdvertisedServices: []string{"ff00"},
		NotConnectable:     true,
	})
	scanner := discovery.NewScanner(s.transport, s.helper.Logger)

	devices, err := scanner.Scan(context.Background(), &discovery.ScanOptions{}, nil)

	s.Require().NoError(err)
	s.NotContains(addresses(devices), "AA:BB:CC:DD:EE:04", "non-connectable advertisers MUST NOT become candidates")
	s.Len(devices, 3)
}

func (s *ScannerTestSuite) TestScan_MergesRepeatedAdvertisements() {
	s.transport.AddPeripheral(&testutils.FakePeripheral{
		Address:            "aa:bb:cc:dd:ee:03",
		Name:               "Quiet Desk (renamed)",
		AdvertisedServices: []string{"0000ff12-0000-1000-8000-00805f9b34fb"},
	})
	scanner := discovery.NewScanner(s.transport, s.helper.Logger)

	devices, err := scanner.Scan(context.Background(), &discovery.ScanOptions{}, nil)

	s.Require().NoError(err)
	s.Require().Len(devices, 3, "the same address in another case MUST NOT create a new candidate")
	s.Equal("Quiet Desk (renamed)", devices[2].Name)
	s.Equal([]string{"ff12"}, devices[2].Services)

	var kinds []discovery.EventType
	for len(kinds) < 4 {
		select {
		case ev := <-scanner.Events():
			kinds = append(kinds, ev.Type)
		default:
			s.FailNow("expected 4 events", "got %v", kinds)
		}
	}
	s.Equal([]discovery.EventType{discovery.EventNew, discovery.EventNew, discovery.EventNew, discovery.EventUpdated}, kinds)
}

func (s *ScannerTestSuite) TestScan_TimeoutIsNormalResult() {
	s.transport.BlockScan = true
	scanner := discovery.NewScanner(s.transport, s.helper.Logger)

	var phases []string
	devices, err := scanner.Scan(context.Background(), &discovery.ScanOptions{Duration: 20 * time.Millisecond}, func(p string) {
		phases = append(phases, p)
	})

	s.NoError(err, "scan deadline MUST NOT be reported as an error")
	s.Len(devices, 3)
	s.Equal([]string{"Scanning", "Processing results"}, phases)
}

func (s *ScannerTestSuite) TestScan_CancelledContextIsNormalResult() {
	s.transport.BlockScan = true
	scanner := discovery.NewScanner(s.transport, s.helper.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)
	devices, err := scanner.Scan(ctx, &discovery.ScanOptions{}, nil)

	s.NoError(err)
	s.Len(devices, 3)
}

func (s *ScannerTestSuite) TestScan_AdapterFailure() {
	s.transport.ScanErr = device.ErrBluetoothOff
	scanner := discovery.NewScanner(s.transport, s.helper.Logger)

	devices, err := scanner.Scan(context.Background(), &discovery.ScanOptions{}, nil)

	s.Nil(devices)
	s.Require().Error(err)
	s.True(errors.Is(err, device.ErrBluetoothOff), "adapter errors MUST keep their cause")
}

func TestScannerTestSuite(t *testing.T) {
	suite.Run(t, new(ScannerTestSuite))
}
