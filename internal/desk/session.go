package desk

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/deskble/internal/device"
	"github.com/srg/deskble/internal/protocol"
	"github.com/srg/deskble/internal/units"
	"github.com/srg/deskble/internal/variant"
)

// State is the connection state of a Session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session controls one validated desk over one connection.
//
// cmdMu serialises connect, disconnect and commands, so at most one write is
// in flight. mu guards the fields below it and is the only lock taken on the
// notification path, which lets a transport deliver notifications while a
// command is being written.
type Session struct {
	desk      variant.DiscoveredDesk
	connector device.Connector
	opts      Options
	logger    *logrus.Logger

	cmdMu sync.Mutex

	mu         sync.Mutex
	state      State
	conn       device.Connection
	heightMM   int
	haveHeight bool
	sub        *Subscription
}

// NewSession creates a disconnected session. nil opts means DefaultOptions().
func NewSession(desk variant.DiscoveredDesk, connector device.Connector, opts *Options, logger *logrus.Logger) *Session {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = logrus.New()
	}
	o := *opts
	if o.EventBuffer <= 0 {
		o.EventBuffer = DefaultOptions().EventBuffer
	}
	return &Session{
		desk:      desk,
		connector: connector,
		opts:      o,
		logger:    logger,
	}
}

// Desk returns the desk this session controls.
func (s *Session) Desk() variant.DiscoveredDesk {
	return s.desk
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) IsConnected() bool {
	return s.State() == StateConnected
}

// LastKnownHeight returns the most recent height reported by the desk.
func (s *Session) LastKnownHeight() (mm int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heightMM, s.haveHeight
}

func (s *Session) log() *logrus.Entry {
	return s.logger.WithFields(logrus.Fields{
		"address": s.desk.Address,
		"variant": s.desk.Config.Variant,
	})
}

// Connect opens the connection and subscribes to desk notifications. It is a
// no-op when already connected.
func (s *Session) Connect(ctx context.Context) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	return s.connectLocked(ctx)
}

func (s *Session) connectLocked(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateConnected && s.conn != nil && s.conn.IsConnected() {
		s.mu.Unlock()
		return nil
	}
	stale := s.conn
	s.conn = nil
	s.state = StateConnecting
	s.mu.Unlock()

	logger := s.log()
	if stale != nil {
		logger.Warn("Connection was lost, reconnecting")
		s.release(stale)
	}

	cfg := s.desk.Config
	logger.Info("Connecting to desk...")

	connectCtx := ctx
	if s.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, s.opts.ConnectTimeout)
		defer cancel()
	}

	conn, err := s.connector.Connect(connectCtx, s.desk.Address)
	if err == nil && !conn.IsConnected() {
		_ = conn.Close()
		err = errors.New("link not established")
	}
	if err == nil {
		if err = conn.Subscribe(cfg.ServiceUUID, cfg.OutputCharUUID, s.handleNotification); err != nil {
			_ = conn.Close()
			err = fmt.Errorf("failed to subscribe to %s: %w", cfg.OutputCharUUID, err)
		}
	}
	if err != nil {
		s.mu.Lock()
		s.state = StateDisconnected
		s.mu.Unlock()
		logger.WithError(err).Error("Failed to connect to desk")
		if errors.Is(err, device.ErrConnectFailed) {
			return err
		}
		return device.ConnectFailedError(s.desk.Address, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.state = StateConnected
	s.mu.Unlock()

	logger.WithField("characteristic", cfg.OutputCharUUID).Info("Connected and subscribed to notifications")
	return nil
}

// Disconnect drops the subscription and the connection. Transport errors
// while closing are logged and otherwise ignored.
func (s *Session) Disconnect() {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	if conn == nil {
		return
	}
	s.release(conn)
	s.log().Info("Disconnected")
}

// Close disconnects and closes the active subscription.
func (s *Session) Close() {
	s.Disconnect()

	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()
	if sub != nil {
		sub.ring.Close()
	}
}

func (s *Session) release(conn device.Connection) {
	cfg := s.desk.Config
	logger := s.log()
	if err := conn.Unsubscribe(cfg.ServiceUUID, cfg.OutputCharUUID); err != nil {
		logger.WithError(err).Warn("Failed to unsubscribe from notifications")
	}
	if err := conn.Close(); err != nil {
		logger.WithError(err).Warn("Failed to close connection, treating as disconnected")
	}
}

// SendCommand encodes and writes one command frame and returns the bytes
// written. It connects first if needed, sends the wake preamble when the
// dialect requires it, and waits out the notification window afterwards.
// The wake command itself gets neither preamble nor wait.
func (s *Session) SendCommand(ctx context.Context, opcode byte, payload []byte) ([]byte, error) {
	if opcode == protocol.OpUnsafeInternalConfig {
		return nil, ErrUnsafeOpcode
	}
	cfg := s.desk.Config
	frame, err := protocol.Encode(int(opcode), payload, cfg.CommandSyncBytes)
	if err != nil {
		return nil, err
	}

	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if err := s.connectLocked(ctx); err != nil {
		return nil, err
	}

	if cfg.RequiresWake && opcode != protocol.OpWake {
		wake, _ := protocol.Encode(int(protocol.OpWake), nil, cfg.CommandSyncBytes)
		for i := 0; i < s.opts.WakeRepeats; i++ {
			if err := s.write(ctx, protocol.OpWake, wake); err != nil {
				return nil, err
			}
			if err := sleep(ctx, s.opts.WakeInterval); err != nil {
				return nil, err
			}
		}
	}

	if err := s.write(ctx, opcode, frame); err != nil {
		return nil, err
	}

	if opcode != protocol.OpWake && s.opts.NotificationTimeout > 0 {
		s.log().WithField("timeout", s.opts.NotificationTimeout).Debug("Waiting for notifications")
		if err := sleep(ctx, s.opts.NotificationTimeout); err != nil {
			return frame, err
		}
	}
	return frame, nil
}

func (s *Session) write(ctx context.Context, opcode byte, frame []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return device.ErrNotConnected
	}

	cfg := s.desk.Config
	if err := conn.WriteCharacteristic(ctx, cfg.ServiceUUID, cfg.InputCharUUID, frame); err != nil {
		return fmt.Errorf("failed to write opcode 0x%02X: %w", opcode, err)
	}

	entry := s.log().WithFields(logrus.Fields{
		"opcode": fmt.Sprintf("0x%02X", opcode),
		"bytes":  hex.EncodeToString(frame),
	})
	if opcode == protocol.OpWake {
		entry.Debug("Sent wake")
	} else {
		entry.Info("Sent command")
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleNotification is the subscription callback. The transport delivers
// notifications one at a time, in order.
func (s *Session) handleNotification(data []byte) {
	logger := s.log()
	logger.WithField("bytes", hex.EncodeToString(data)).Debug("Received notification")

	frames := protocol.Scan(data, s.desk.Config.NotificationSyncBytes, func(offset int, err error) {
		logger.WithError(err).WithField("offset", offset).Debug("Skipped invalid frame")
	})
	for _, f := range frames {
		s.publish(s.apply(f))
	}
}

// apply folds f into the cached state and returns its event.
func (s *Session) apply(f protocol.NotificationFrame) Event {
	logger := s.log().WithField("opcode", fmt.Sprintf("0x%02X", f.Opcode))

	switch f.Opcode {
	case protocol.NotifyHeight:
		mm, ok := s.scaled(f.Payload)
		if !ok {
			break
		}
		s.mu.Lock()
		s.heightMM, s.haveHeight = mm, true
		s.mu.Unlock()
		logger.WithField("height_mm", mm).Infof("Current height: %s", units.FormatHeight(mm))
		return HeightEvent{MM: mm}

	case protocol.NotifyResetRequired:
		logger.Warn("Desk is reporting an error state (RST) and likely needs to be manually reset")
		return ResetRequiredEvent{}

	case protocol.NotifyCalibrationHeight:
		mm, ok := s.scaled(f.Payload)
		if !ok {
			break
		}
		logger.WithField("height_mm", mm).Infof("Calibration height: %s", units.FormatHeight(mm))
		return CalibrationHeightEvent{MM: mm}

	case protocol.NotifyHeightLimitMax:
		mm, ok := s.scaled(f.Payload)
		if !ok {
			break
		}
		logger.WithField("height_mm", mm).Infof("Height limit max: %s", units.FormatHeight(mm))
		return HeightLimitMaxEvent{MM: mm}

	default:
		if kind, ok := telemetryKinds[f.Opcode]; ok {
			logger.WithField("payload", hex.EncodeToString(f.Payload)).
				Infof("Received %s, support for this notification is experimental", kind)
			return TelemetryEvent{Kind: kind, Opcode: f.Opcode, Payload: f.Payload}
		}
	}

	logger.WithField("payload", hex.EncodeToString(f.Payload)).Info("Received unknown notification")
	return UnknownEvent{Opcode: f.Opcode, Payload: f.Payload}
}

// maxHeightPayload bounds scaled payloads; desks report two bytes and longer
// values are not heights.
const maxHeightPayload = 4

// scaled reads a big-endian unsigned payload of 1 to 4 bytes and converts it
// to millimetres.
func (s *Session) scaled(payload []byte) (int, bool) {
	if len(payload) == 0 || len(payload) > maxHeightPayload {
		return 0, false
	}
	var buf [4]byte
	copy(buf[4-len(payload):], payload)
	return s.desk.Config.HeightScale.ToMM(uint64(binary.BigEndian.Uint32(buf[:]))), true
}
