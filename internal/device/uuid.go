package device

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// sigBaseSuffix is the tail of the Bluetooth SIG base UUID
// 0000xxxx-0000-1000-8000-00805f9b34fb.
const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the canonical comparison form:
// lowercase, no dashes, no 0x prefix. A full 128-bit UUID built on the
// Bluetooth SIG base is shortened to its 16-bit form, so "0000ff01-0000-1000-8000-00805f9b34fb",
// "FF01" and "0xff01" all normalize to "ff01". Other 128-bit UUIDs are kept whole.
func NormalizeUUID(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "0x")
	s = strings.ReplaceAll(s, "-", "")

	if len(s) == 32 && strings.HasPrefix(s, "0000") && strings.HasSuffix(s, sigBaseSuffix) {
		return s[4:8]
	}
	return s
}

// NormalizeUUIDs normalizes a slice of UUID strings.
func NormalizeUUIDs(uuids []string) []string {
	out := make([]string, len(uuids))
	for i, u := range uuids {
		out[i] = NormalizeUUID(u)
	}
	return out
}

// ExpandUUID returns the dashed 128-bit form of a UUID. 16-bit and 32-bit
// short forms are placed on the Bluetooth SIG base.
func ExpandUUID(s string) (string, error) {
	n := NormalizeUUID(s)
	switch len(n) {
	case 4:
		n = "0000" + n + sigBaseSuffix
	case 8:
		n = n + sigBaseSuffix
	}

	u, err := uuid.Parse(n)
	if err != nil {
		return "", fmt.Errorf("invalid UUID %q: %w", s, err)
	}
	return u.String(), nil
}
