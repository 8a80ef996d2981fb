package main

import (
	"errors"
	"fmt"

	"github.com/srg/deskble/internal/desk"
	"github.com/srg/deskble/internal/device"
)

// Desk selection errors
var (
	ErrNoDesks       = errors.New("no desks found")
	ErrDeskNotFound  = errors.New("no desk found")
	ErrMultipleDesks = errors.New("more than one desk found")
)

// FormatUserError turns an error into a one-line (or short multi-line)
// message for the terminal.
func FormatUserError(err error) string {
	var argErr *desk.ArgumentError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &argErr):
		return fmt.Sprintf("invalid argument: %s", argErr)
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off, turn it on and try again"
	case errors.Is(err, desk.ErrUnsafeOpcode):
		return err.Error()
	case errors.Is(err, device.ErrUnsupported):
		return fmt.Sprintf("not supported on this platform: %s", err)
	case errors.Is(err, device.ErrConnectFailed):
		return fmt.Sprintf("could not connect to the desk: %s", err)
	default:
		return err.Error()
	}
}
