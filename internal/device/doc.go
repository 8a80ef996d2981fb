// Package device defines the Bluetooth Low Energy transport boundary used by
// desk discovery and desk sessions.
//
// The package only declares capabilities; radio access lives in the backend
// packages:
//   - go-ble: github.com/go-ble/ble (CoreBluetooth on macOS, HCI on Linux)
//   - tinygo: tinygo.org/x/bluetooth (BlueZ on Linux, WinRT on Windows)
//
// UUIDs crossing this boundary are compared in NormalizeUUID form.
package device
