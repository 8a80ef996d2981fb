package desk

import (
	"fmt"

	"github.com/srg/deskble/internal/protocol"
	"github.com/srg/deskble/internal/ringchan"
	"github.com/srg/deskble/internal/units"
)

// EventType names a class of desk notification.
type EventType string

const (
	EventHeight            EventType = "HEIGHT"
	EventResetRequired     EventType = "RESET_REQUIRED"
	EventCalibrationHeight EventType = "CALIBRATION_HEIGHT"
	EventHeightLimitMax    EventType = "HEIGHT_LIMIT_MAX"
	EventTelemetry         EventType = "TELEMETRY"
	EventUnknown           EventType = "UNKNOWN"
)

// Event is one interpreted notification frame.
type Event interface {
	Type() EventType
	String() string
}

// HeightEvent reports the current desk height.
type HeightEvent struct {
	MM int
}

func (HeightEvent) Type() EventType  { return EventHeight }
func (e HeightEvent) String() string { return units.FormatHeight(e.MM) }

// ResetRequiredEvent means the desk is in an error state and likely needs a
// manual reset.
type ResetRequiredEvent struct{}

func (ResetRequiredEvent) Type() EventType { return EventResetRequired }
func (ResetRequiredEvent) String() string  { return "desk requires a manual reset" }

type CalibrationHeightEvent struct {
	MM int
}

func (CalibrationHeightEvent) Type() EventType  { return EventCalibrationHeight }
func (e CalibrationHeightEvent) String() string { return units.FormatHeight(e.MM) }

type HeightLimitMaxEvent struct {
	MM int
}

func (HeightLimitMaxEvent) Type() EventType  { return EventHeightLimitMax }
func (e HeightLimitMaxEvent) String() string { return units.FormatHeight(e.MM) }

// TelemetryKind identifies a partially understood notification.
type TelemetryKind string

const (
	TelemetryInternalConfig TelemetryKind = "internal_config"
	TelemetryHeightPreset1  TelemetryKind = "height_preset_1"
	TelemetryHeightPreset2  TelemetryKind = "height_preset_2"
	TelemetryHeightPreset3  TelemetryKind = "height_preset_3"
	TelemetryHeightPreset4  TelemetryKind = "height_preset_4"
)

var telemetryKinds = map[byte]TelemetryKind{
	protocol.NotifyInternalConfig: TelemetryInternalConfig,
	protocol.NotifyHeightPreset1:  TelemetryHeightPreset1,
	protocol.NotifyHeightPreset2:  TelemetryHeightPreset2,
	protocol.NotifyHeightPreset3:  TelemetryHeightPreset3,
	protocol.NotifyHeightPreset4:  TelemetryHeightPreset4,
}

// TelemetryEvent carries a recognised but experimental notification. It is
// informational only; the session never acts on it.
type TelemetryEvent struct {
	Kind    TelemetryKind
	Opcode  byte
	Payload []byte
}

func (TelemetryEvent) Type() EventType { return EventTelemetry }
func (e TelemetryEvent) String() string {
	return fmt.Sprintf("%s opcode=0x%02X payload=0x%x", e.Kind, e.Opcode, e.Payload)
}

// UnknownEvent carries a frame the session could not interpret.
type UnknownEvent struct {
	Opcode  byte
	Payload []byte
}

func (UnknownEvent) Type() EventType { return EventUnknown }
func (e UnknownEvent) String() string {
	return fmt.Sprintf("opcode=0x%02X payload=0x%x", e.Opcode, e.Payload)
}

// Subscription receives the events of one Session. A session has at most one
// active subscription; subscribing again closes the previous one.
type Subscription struct {
	session *Session
	ring    *ringchan.RingChannel[Event]
}

// Subscribe attaches a new subscriber and detaches any previous one, whose
// channel is closed.
func (s *Session) Subscribe() *Subscription {
	sub := &Subscription{session: s, ring: ringchan.New[Event](s.opts.EventBuffer)}

	s.mu.Lock()
	old := s.sub
	s.sub = sub
	s.mu.Unlock()

	if old != nil {
		old.ring.Close()
	}
	return sub
}

// Events returns the event stream. It is closed by Close, by a later
// Subscribe, or by Session.Close.
func (sub *Subscription) Events() <-chan Event {
	return sub.ring.C()
}

// Dropped returns how many events were discarded because the reader fell behind.
func (sub *Subscription) Dropped() int64 {
	return sub.ring.GetMetrics().Overwritten
}

// Close detaches the subscription. It is safe to call more than once.
func (sub *Subscription) Close() {
	s := sub.session
	s.mu.Lock()
	if s.sub == sub {
		s.sub = nil
	}
	s.mu.Unlock()
	sub.ring.Close()
}

func (s *Session) publish(ev Event) {
	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()

	if sub != nil {
		sub.ring.Send(ev)
	}
}
