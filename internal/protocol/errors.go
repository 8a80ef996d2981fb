package protocol

import (
	"fmt"
)

// ErrorKind classifies a ProtocolError.
type ErrorKind string

const (
	InvalidOpcode    ErrorKind = "invalid_opcode"
	PayloadTooLong   ErrorKind = "payload_too_long"
	ChecksumMismatch ErrorKind = "checksum_mismatch"
	Truncated        ErrorKind = "truncated"
	BadTerminator    ErrorKind = "bad_terminator"
)

// ProtocolError is returned by Encode for arguments that cannot be framed and is
// reported (never returned) by Scan for bytes that do not form a valid frame.
type ProtocolError struct {
	Kind   ErrorKind
	Detail string
}

func (e *ProtocolError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Is lets errors.Is compare ProtocolError values by Kind.
func (e *ProtocolError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ProtocolError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

var (
	ErrInvalidOpcode    = &ProtocolError{Kind: InvalidOpcode}
	ErrPayloadTooLong   = &ProtocolError{Kind: PayloadTooLong}
	ErrChecksumMismatch = &ProtocolError{Kind: ChecksumMismatch}
	ErrTruncated        = &ProtocolError{Kind: Truncated}
	ErrBadTerminator    = &ProtocolError{Kind: BadTerminator}
)
