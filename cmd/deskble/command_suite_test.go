package main

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/srg/deskble/internal/device"
	"github.com/srg/deskble/internal/devicefactory"
	"github.com/srg/deskble/internal/protocol"
	"github.com/srg/deskble/internal/testutils"
	"github.com/stretchr/testify/suite"
)

// Test desk addresses for consistent fake peripheral identification
const (
	TestDeskAddress1 = "aa:bb:cc:dd:ee:01"
	TestDeskAddress2 = "aa:bb:cc:dd:ee:02"
)

// fastConfig keeps command tests quick and the logger silent.
const fastConfig = `
log_level: panic
scan_timeout: 1s
validate_timeout: 1s
connect_timeout: 1s
notification_timeout: 20ms
wake_interval: 1ms
`

// CommandTestSuite runs the real command tree against an in-memory transport.
// All cmd/deskble test suites should embed it.
type CommandTestSuite struct {
	suite.Suite

	Transport  *testutils.FakeTransport
	ConfigPath string

	origScanner   func(devicefactory.Backend, *logrus.Logger, ...string) (device.Scanner, error)
	origConnector func(devicefactory.Backend, *logrus.Logger) (device.Connector, error)
	origGOOS      string
	origNoColor   bool
}

func (s *CommandTestSuite) SetupSuite() {
	s.origScanner = devicefactory.ScannerFactory
	s.origConnector = devicefactory.ConnectorFactory
	s.origGOOS = goos
	s.origNoColor = color.NoColor
	color.NoColor = true
}

func (s *CommandTestSuite) TearDownSuite() {
	devicefactory.ScannerFactory = s.origScanner
	devicefactory.ConnectorFactory = s.origConnector
	goos = s.origGOOS
	color.NoColor = s.origNoColor
}

func (s *CommandTestSuite) SetupTest() {
	// Keep a developer's own ~/.config/deskble out of the tests
	s.T().Setenv("HOME", s.T().TempDir())

	s.ConfigPath = filepath.Join(s.T().TempDir(), "config.yaml")
	s.Require().NoError(os.WriteFile(s.ConfigPath, []byte(fastConfig), 0o600), "config fixture MUST be written")

	goos = "linux"
	s.Transport = testutils.NewFakeTransport()
	devicefactory.ScannerFactory = func(devicefactory.Backend, *logrus.Logger, ...string) (device.Scanner, error) {
		return s.Transport, nil
	}
	devicefactory.ConnectorFactory = func(devicefactory.Backend, *logrus.Logger) (device.Connector, error) {
		return s.Transport, nil
	}
}

// AddJiecangDesk registers a jiecang_0x00ff desk.
func (s *CommandTestSuite) AddJiecangDesk(address, name string) *testutils.FakePeripheral {
	return s.Transport.AddDesk(address, name, "00ff", "01ff", "02ff", "36ef")
}

// AddOmnideskDesk registers an omnidesk_0xfe60 desk.
func (s *CommandTestSuite) AddOmnideskDesk(address, name string) *testutils.FakePeripheral {
	return s.Transport.AddDesk(address, name, "fe60", "fe61", "fe62", "fe63")
}

// ReportHeightOn makes a jiecang desk answer the given command opcode with a
// height notification of raw (tenths of a millimetre).
func (s *CommandTestSuite) ReportHeightOn(p *testutils.FakePeripheral, opcode byte, raw uint16) {
	p.OnWrite = func(conn *testutils.FakeConnection, char string, data []byte) {
		if len(data) < 3 || data[2] != opcode {
			return
		}
		frame, _ := protocol.Encode(int(protocol.NotifyHeight), []byte{byte(raw >> 8), byte(raw)}, protocol.SyncBytes{0xF2, 0xF2})
		conn.Notify("02ff", frame)
	}
}

// ExecuteCommand runs the command tree with args and the suite's config file.
// It returns stdout and stderr separately.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (stdout, stderr string, err error) {
	cmd := newRootCmd()
	outBuf, errBuf := new(bytes.Buffer), new(bytes.Buffer)
	cmd.SetOut(outBuf)
	cmd.SetErr(errBuf)
	cmd.SetArgs(append([]string{"--config", s.ConfigPath}, args...))
	err = cmd.Execute()
	return outBuf.String(), errBuf.String(), err
}
