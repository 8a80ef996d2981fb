package protocol

import (
	"bytes"
	"fmt"
)

const (
	// Terminator closes every frame.
	Terminator byte = 0x7E

	// MaxPayload is the largest payload a one-byte length field can describe.
	MaxPayload = 0xFF

	// overhead is sync(2) + opcode + length + checksum + terminator.
	overhead = 6
)

// SyncBytes is the two-byte marker that opens a frame.
type SyncBytes [2]byte

var (
	// DefaultCommandSync is used by Uplift/Jiecang desks for client -> desk frames.
	DefaultCommandSync = SyncBytes{0xF1, 0xF1}
	// DefaultNotificationSync is used by Uplift/Jiecang desks for desk -> client frames.
	DefaultNotificationSync = SyncBytes{0xF2, 0xF2}
)

func (s SyncBytes) String() string {
	return fmt.Sprintf("%02X%02X", s[0], s[1])
}

// CommandFrame is a single outbound command before encoding.
type CommandFrame struct {
	Opcode  byte
	Payload []byte
}

// NotificationFrame is one validated inbound frame. Payload never aliases the
// buffer handed to Decode.
type NotificationFrame struct {
	Opcode  byte
	Payload []byte
}

func (f NotificationFrame) String() string {
	return fmt.Sprintf("opcode=0x%02X payload=%x", f.Opcode, f.Payload)
}

// Checksum returns (opcode + len(payload) + sum(payload)) mod 256.
func Checksum(opcode byte, payload []byte) byte {
	sum := opcode + byte(len(payload))
	for _, b := range payload {
		sum += b
	}
	return sum
}

// NewCommandFrame validates opcode and payload ranges.
func NewCommandFrame(opcode int, payload []byte) (CommandFrame, error) {
	if opcode < 0 || opcode > 0xFF {
		return CommandFrame{}, &ProtocolError{
			Kind:   InvalidOpcode,
			Detail: fmt.Sprintf("opcode not in range [0,255]: %d", opcode),
		}
	}
	if len(payload) > MaxPayload {
		return CommandFrame{}, &ProtocolError{
			Kind:   PayloadTooLong,
			Detail: fmt.Sprintf("payload length not in range [0,255]: %d", len(payload)),
		}
	}
	return CommandFrame{Opcode: byte(opcode), Payload: payload}, nil
}

// Bytes renders the frame using the given command-direction sync bytes.
func (f CommandFrame) Bytes(sync SyncBytes) []byte {
	out := make([]byte, 0, overhead+len(f.Payload))
	out = append(out, sync[0], sync[1], f.Opcode, byte(len(f.Payload)))
	out = append(out, f.Payload...)
	out = append(out, Checksum(f.Opcode, f.Payload), Terminator)
	return out
}

// Encode builds a wire frame for opcode and payload.
func Encode(opcode int, payload []byte, sync SyncBytes) ([]byte, error) {
	f, err := NewCommandFrame(opcode, payload)
	if err != nil {
		return nil, err
	}
	return f.Bytes(sync), nil
}

// SkipFunc receives the offset and reason for every sync marker that did not
// start a valid frame.
type SkipFunc func(offset int, err error)

// Decode returns every valid frame found in buf, in order. Invalid data is
// skipped; Decode never fails.
func Decode(buf []byte, sync SyncBytes) []NotificationFrame {
	return Scan(buf, sync, nil)
}

// Scan is Decode with a hook for rejected candidates.
//
// Resynchronisation: after a candidate at offset i is rejected the search for
// the next marker resumes at i+1, never past the rejected frame's claimed
// length. A corrupted length byte therefore cannot swallow a valid frame that
// follows it.
func Scan(buf []byte, sync SyncBytes, onSkip SkipFunc) []NotificationFrame {
	var frames []NotificationFrame
	marker := sync[:]

	pos := 0
	for pos+overhead <= len(buf) {
		idx := bytes.Index(buf[pos:], marker)
		if idx < 0 {
			break
		}
		start := pos + idx

		frame, n, err := parseAt(buf, start)
		if err != nil {
			if onSkip != nil {
				onSkip(start, err)
			}
			pos = start + 1
			continue
		}

		frames = append(frames, frame)
		pos = start + n
	}
	return frames
}

// parseAt reads a frame whose sync marker begins at start and returns it with
// its total length on the wire.
func parseAt(buf []byte, start int) (NotificationFrame, int, error) {
	rest := buf[start:]
	if len(rest) < overhead {
		return NotificationFrame{}, 0, ErrTruncated
	}

	opcode := rest[2]
	length := int(rest[3])
	total := overhead + length
	if len(rest) < total {
		return NotificationFrame{}, 0, &ProtocolError{
			Kind:   Truncated,
			Detail: fmt.Sprintf("need %d bytes, have %d", total, len(rest)),
		}
	}

	payload := rest[4 : 4+length]
	got := rest[4+length]
	if want := Checksum(opcode, payload); got != want {
		return NotificationFrame{}, 0, &ProtocolError{
			Kind:   ChecksumMismatch,
			Detail: fmt.Sprintf("want 0x%02X, got 0x%02X", want, got),
		}
	}
	if term := rest[5+length]; term != Terminator {
		return NotificationFrame{}, 0, &ProtocolError{
			Kind:   BadTerminator,
			Detail: fmt.Sprintf("got 0x%02X", term),
		}
	}

	return NotificationFrame{
		Opcode:  opcode,
		Payload: bytes.Clone(payload),
	}, total, nil
}
