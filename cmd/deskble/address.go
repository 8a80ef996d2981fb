package main

import (
	"fmt"
	"regexp"
	"runtime"
	"strings"

	"github.com/google/uuid"
)

// goos is swapped in tests to exercise the macOS address rule.
var goos = runtime.GOOS

var macAddressRE = regexp.MustCompile(`^([0-9A-Fa-f]{2}[:-]){5}[0-9A-Fa-f]{2}$`)

// normalizeAddress validates a user supplied desk address and returns its
// lowercase form. CoreBluetooth hides MAC addresses behind per-host UUIDs,
// so macOS accepts only the UUID form.
func normalizeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if macAddressRE.MatchString(addr) {
		if goos == "darwin" {
			return "", fmt.Errorf("macOS requires uuid addresses, not mac addresses, got %s", addr)
		}
		return strings.ToLower(addr), nil
	}
	if id, err := uuid.Parse(addr); err == nil {
		return id.String(), nil
	}
	return "", fmt.Errorf("'%s' is not a valid MAC address or UUID", addr)
}

// sameAddress compares addresses ignoring case and separator style.
func sameAddress(a, b string) bool {
	return canonicalAddress(a) == canonicalAddress(b)
}

func canonicalAddress(addr string) string {
	return strings.NewReplacer(":", "", "-", "").Replace(strings.ToLower(addr))
}
