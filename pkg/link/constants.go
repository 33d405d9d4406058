package link

import "errors"

// Envelope start bytes for CAN frames carried over byte-oriented media
const (
	StartByte1 uint8 = 0x43
	StartByte2 uint8 = 0x54
)

// Envelope sizes
const (
	PrefixSize   = 4                           // Start bytes + flags + data length
	HeaderSize   = 8                           // Prefix + 32-bit identifier
	CRCSize      = 2                           // Trailing CRC-16
	MinFrameSize = HeaderSize + CRCSize        // Envelope with empty data
	MaxFrameSize = HeaderSize + MaxFDData + CRCSize
)

// Data field limits
const (
	MaxClassicData = 8  // Classic CAN data bytes
	MaxFDData      = 64 // CAN FD data bytes
)

// Envelope flag bits
const (
	FlagExtended uint8 = 0x01 // 29-bit identifier
	FlagFD       uint8 = 0x02 // CAN FD frame
	FlagBRS      uint8 = 0x04 // CAN FD bit rate switch
)

// canDLCToLength maps a data length code to the number of data bytes
var canDLCToLength = [16]uint8{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}

// canLengthToDLC maps a number of data bytes to the smallest DLC that fits
var canLengthToDLC = [65]uint8{
	0, 1, 2, 3, 4, 5, 6, 7, 8, // 0-8
	9, 9, 9, 9, // 9-12
	10, 10, 10, 10, // 13-16
	11, 11, 11, 11, // 17-20
	12, 12, 12, 12, // 21-24
	13, 13, 13, 13, 13, 13, 13, 13, // 25-32
	14, 14, 14, 14, 14, 14, 14, 14, 14, 14, 14, 14, 14, 14, 14, 14, // 33-48
	15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15, // 49-64
}

// Errors
var (
	ErrInvalidStartBytes = errors.New("invalid start bytes")
	ErrInvalidLength     = errors.New("invalid frame length")
	ErrInvalidCRC        = errors.New("invalid CRC")
	ErrFrameTooShort     = errors.New("frame too short")
	ErrFrameTooLong      = errors.New("frame too long")
	ErrInvalidID         = errors.New("invalid CAN identifier")
)

// DLCToLength returns the data length of a DLC
func DLCToLength(dlc uint8) int {
	return int(canDLCToLength[dlc&0x0F])
}

// LengthToDLC returns the smallest DLC able to carry n bytes
func LengthToDLC(n int) uint8 {
	if n < 0 {
		return 0
	}
	if n > MaxFDData {
		n = MaxFDData
	}
	return canLengthToDLC[n]
}

// RoundUpLength returns the smallest valid CAN FD data length >= n
func RoundUpLength(n int) int {
	return DLCToLength(LengthToDLC(n))
}

// IsValidDataLength reports whether n is a data length a CAN or CAN FD
// frame can carry exactly
func IsValidDataLength(n int) bool {
	return n >= 0 && n <= MaxFDData && RoundUpLength(n) == n
}
