package types

import "fmt"

// CANID is a CAN identifier.
// Bit 31 set means extended (29-bit) identifier, clear means standard (11-bit).
// Bits 28..0 hold the identifier value.
type CANID uint32

const (
	CANIDFlagIDE CANID = 1 << 31    // Extended identifier flag
	CANStdIDMask CANID = 0x7FF      // 11 bits
	CANExtIDMask CANID = 0x1FFFFFFF // 29 bits
)

// MakeStdID builds a standard identifier
func MakeStdID(id uint16) CANID {
	return CANID(id) & CANStdIDMask
}

// MakeExtID builds an extended identifier with the IDE flag set
func MakeExtID(id uint32) CANID {
	return (CANID(id) & CANExtIDMask) | CANIDFlagIDE
}

// IsExt returns true for extended identifiers
func (id CANID) IsExt() bool {
	return id&CANIDFlagIDE != 0
}

// Raw returns the identifier value without flags
func (id CANID) Raw() uint32 {
	if id.IsExt() {
		return uint32(id & CANExtIDMask)
	}
	return uint32(id & CANStdIDMask)
}

// String returns string representation of CANID
func (id CANID) String() string {
	if id.IsExt() {
		return fmt.Sprintf("%08X", id.Raw())
	}
	return fmt.Sprintf("%03X", id.Raw())
}
