package main

import (
	"testing"

	"github.com/srg/deskble/internal/device"
	"github.com/srg/deskble/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type FindTestSuite struct {
	CommandTestSuite
}

func (s *FindTestSuite) TestFind_Table() {
	// GOAL: Verify find lists only devices that match a desk variant, in scan order
	//
	// TEST SCENARIO: two desks and a non-desk peripheral advertise → table lists both desks with their variants

	s.AddJiecangDesk(TestDeskAddress1, "desk-a")
	s.Transport.AddPeripheral(&testutils.FakePeripheral{
		Address:  "aa:bb:cc:dd:ee:77",
		Name:     "heart-rate",
		Services: []*device.BasicService{{ServiceUUID: "180d", CharUUIDs: []string{"2a37"}}},
	})
	s.AddOmnideskDesk(TestDeskAddress2, "")

	stdout, stderr, err := s.ExecuteCommand("find")
	s.Require().NoError(err, "find MUST succeed")

	testutils.NewTextAsserter(s.T()).Assert(stdout, `Found 2 desk(s):
  - aa:bb:cc:dd:ee:01  (desk-a)   jiecang_0x00ff
  - aa:bb:cc:dd:ee:02  (unnamed)  omnidesk_0xfe60
`)
	s.Assert().Equal("Scanning for desks...\n", stderr, "status MUST go to stderr")
}

func (s *FindTestSuite) TestFind_JSON() {
	s.AddJiecangDesk(TestDeskAddress1, "desk-a")
	s.AddOmnideskDesk(TestDeskAddress2, "")

	stdout, _, err := s.ExecuteCommand("find", "--format", "json")
	s.Require().NoError(err, "find MUST succeed")

	testutils.NewJSONAsserter(s.T()).Assert(stdout, `[
		{"address": "aa:bb:cc:dd:ee:01", "name": "desk-a", "variant": "jiecang_0x00ff", "service_uuid": "00ff"},
		{"address": "aa:bb:cc:dd:ee:02", "name": null, "variant": "omnidesk_0xfe60", "service_uuid": "fe60"}
	]`)
}

func (s *FindTestSuite) TestFind_ByAddress() {
	// GOAL: --address limits find to that device, other desks are not even probed
	s.AddJiecangDesk(TestDeskAddress1, "desk-a")
	s.AddOmnideskDesk(TestDeskAddress2, "desk-b")

	stdout, _, err := s.ExecuteCommand("find", "--address", "AA:BB:CC:DD:EE:02")
	s.Require().NoError(err, "find MUST succeed")

	testutils.NewTextAsserter(s.T()).Assert(stdout, `Found 1 desk(s):
  - aa:bb:cc:dd:ee:02  (desk-b)  omnidesk_0xfe60
`)
	s.Assert().Zero(s.Transport.ConnectCount(TestDeskAddress1), "desks outside the allow list MUST NOT be probed")
}

func (s *FindTestSuite) TestFind_NoDesks() {
	stdout, _, err := s.ExecuteCommand("find")
	s.Require().NoError(err, "an empty scan MUST NOT be an error for find")
	s.Assert().Equal("No desks found\n", stdout)

	stdout, _, err = s.ExecuteCommand("find", "-f", "json")
	s.Require().NoError(err)
	s.Assert().Equal("[]\n", stdout, "json output MUST be an empty array")
}

func (s *FindTestSuite) TestFind_BluetoothOff() {
	s.Transport.ScanErr = device.ErrBluetoothOff

	_, _, err := s.ExecuteCommand("find")
	s.Require().Error(err, "scan failure MUST be reported")
	s.Assert().Equal("Bluetooth is turned off, turn it on and try again", FormatUserError(err))
}

func (s *FindTestSuite) TestFind_InvalidBackend() {
	_, _, err := s.ExecuteCommand("find", "--backend", "bogus")
	s.Require().Error(err)
	s.Assert().Contains(err.Error(), `backend must be go-ble or tinygo, got "bogus"`)
}

func TestFindTestSuite(t *testing.T) {
	suite.Run(t, new(FindTestSuite))
}
