package protocol

// Command opcodes (client -> desk).
const (
	OpWake                 byte = 0x00
	OpMoveUp               byte = 0x01
	OpMoveDown             byte = 0x02
	OpHeightPreset1        byte = 0x05
	OpHeightPreset2        byte = 0x06
	OpRequestHeightLimits  byte = 0x07
	OpSetUnits             byte = 0x0E
	OpSetCalibrationOffset byte = 0x10
	OpSetHeightLimitMax    byte = 0x11
	OpMoveToHeight         byte = 0x1B
	OpSetCurrentAsLimitMax byte = 0x21
	OpSetCurrentAsLimitMin byte = 0x22
	OpClearHeightLimit     byte = 0x23
	OpStopMovement         byte = 0x2B
	OpReset                byte = 0xFE
)

// Notification opcodes (desk -> client).
const (
	NotifyHeight            byte = 0x01
	NotifyResetRequired     byte = 0x04
	NotifyCalibrationHeight byte = 0x10
	NotifyHeightLimitMax    byte = 0x11
	NotifyInternalConfig    byte = 0x12
	NotifyHeightPreset1     byte = 0x25
	NotifyHeightPreset2     byte = 0x26
	NotifyHeightPreset3     byte = 0x27
	NotifyHeightPreset4     byte = 0x28
)

// OpUnsafeInternalConfig is reported by desks as NotifyInternalConfig. Writing it
// alters motor behaviour and display scaling in undocumented ways, so it is
// never sent.
const OpUnsafeInternalConfig byte = 0x12
