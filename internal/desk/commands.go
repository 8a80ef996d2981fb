package desk

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/srg/deskble/internal/protocol"
)

// ErrUnsafeOpcode is returned when asked to send the internal configuration
// opcode, whose effects on real hardware are undocumented and unsafe.
var ErrUnsafeOpcode = errors.New("opcode 0x12 is never sent: its effect on the desk is undocumented and unsafe")

// ArgumentError reports a command parameter outside its allowed range. No
// bytes are written when it is returned.
type ArgumentError struct {
	Arg   string
	Value int
	Min   int
	Max   int
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("%s must be in range [%d, %d], got %d", e.Arg, e.Min, e.Max, e.Value)
}

// Unit is the display unit of the desk controller.
type Unit byte

const (
	UnitCentimeters Unit = 0x00
	UnitInches      Unit = 0x01
)

func (u Unit) String() string {
	switch u {
	case UnitCentimeters:
		return "centimeters"
	case UnitInches:
		return "inches"
	default:
		return fmt.Sprintf("unit(0x%02X)", byte(u))
	}
}

// ParseUnit accepts "cm" or "in".
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cm":
		return UnitCentimeters, nil
	case "in":
		return UnitInches, nil
	default:
		return 0, fmt.Errorf("unknown unit %q, expected cm or in", s)
	}
}

// Limit selects which saved height limit to clear.
type Limit byte

const (
	LimitMax Limit = 0x01
	LimitMin Limit = 0x02
)

func (l Limit) String() string {
	switch l {
	case LimitMax:
		return "max"
	case LimitMin:
		return "min"
	default:
		return fmt.Sprintf("limit(0x%02X)", byte(l))
	}
}

func uint16Payload(arg string, v int) ([]byte, error) {
	if v < 0 || v > 0xFFFF {
		return nil, &ArgumentError{Arg: arg, Value: v, Min: 0, Max: 0xFFFF}
	}
	return []byte{byte(v >> 8), byte(v)}, nil
}

// Wake sends a single wake frame. It never triggers the wake preamble and
// does not wait for notifications.
func (s *Session) Wake(ctx context.Context) ([]byte, error) {
	return s.SendCommand(ctx, protocol.OpWake, nil)
}

func (s *Session) MoveUp(ctx context.Context) ([]byte, error) {
	return s.SendCommand(ctx, protocol.OpMoveUp, nil)
}

func (s *Session) MoveDown(ctx context.Context) ([]byte, error) {
	return s.SendCommand(ctx, protocol.OpMoveDown, nil)
}

func (s *Session) MoveToHeightPreset1(ctx context.Context) ([]byte, error) {
	return s.SendCommand(ctx, protocol.OpHeightPreset1, nil)
}

func (s *Session) MoveToHeightPreset2(ctx context.Context) ([]byte, error) {
	return s.SendCommand(ctx, protocol.OpHeightPreset2, nil)
}

// RequestHeightLimits asks the desk to report its height and limits.
func (s *Session) RequestHeightLimits(ctx context.Context) ([]byte, error) {
	return s.SendCommand(ctx, protocol.OpRequestHeightLimits, nil)
}

func (s *Session) SetUnits(ctx context.Context, unit Unit) ([]byte, error) {
	if unit != UnitCentimeters && unit != UnitInches {
		return nil, &ArgumentError{Arg: "unit", Value: int(unit), Min: int(UnitCentimeters), Max: int(UnitInches)}
	}
	return s.SendCommand(ctx, protocol.OpSetUnits, []byte{byte(unit)})
}

func (s *Session) SetCalibrationOffset(ctx context.Context, offset int) ([]byte, error) {
	payload, err := uint16Payload("calibration_offset", offset)
	if err != nil {
		return nil, err
	}
	return s.SendCommand(ctx, protocol.OpSetCalibrationOffset, payload)
}

func (s *Session) SetHeightLimitMax(ctx context.Context, maxHeight int) ([]byte, error) {
	payload, err := uint16Payload("max_height", maxHeight)
	if err != nil {
		return nil, err
	}
	return s.SendCommand(ctx, protocol.OpSetHeightLimitMax, payload)
}

// MoveToSpecifiedHeight moves the desk to height, in millimetres.
func (s *Session) MoveToSpecifiedHeight(ctx context.Context, height int) ([]byte, error) {
	payload, err := uint16Payload("height", height)
	if err != nil {
		return nil, err
	}
	return s.SendCommand(ctx, protocol.OpMoveToHeight, payload)
}

func (s *Session) SetCurrentHeightAsLimitMax(ctx context.Context) ([]byte, error) {
	return s.SendCommand(ctx, protocol.OpSetCurrentAsLimitMax, nil)
}

func (s *Session) SetCurrentHeightAsLimitMin(ctx context.Context) ([]byte, error) {
	return s.SendCommand(ctx, protocol.OpSetCurrentAsLimitMin, nil)
}

func (s *Session) ClearHeightLimit(ctx context.Context, limit Limit) ([]byte, error) {
	if limit != LimitMax && limit != LimitMin {
		return nil, &ArgumentError{Arg: "limit", Value: int(limit), Min: int(LimitMax), Max: int(LimitMin)}
	}
	return s.SendCommand(ctx, protocol.OpClearHeightLimit, []byte{byte(limit)})
}

func (s *Session) StopMovement(ctx context.Context) ([]byte, error) {
	return s.SendCommand(ctx, protocol.OpStopMovement, nil)
}

func (s *Session) Reset(ctx context.Context) ([]byte, error) {
	return s.SendCommand(ctx, protocol.OpReset, nil)
}

// GetCurrentHeight requests a height report and returns the last height seen
// once the notification window has passed. ok is false when the desk has not
// reported a height yet. This is best effort, not a round trip.
func (s *Session) GetCurrentHeight(ctx context.Context) (mm int, ok bool, err error) {
	if _, err := s.RequestHeightLimits(ctx); err != nil {
		return 0, false, err
	}
	mm, ok = s.LastKnownHeight()
	return mm, ok, nil
}
