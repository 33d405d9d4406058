package link

// CRC-16 protecting the frame envelope.
// Polynomial 0x3D65 (reversed 0xA6BC), final value inverted.

var crcTable [256]uint16

func init() {
	const poly uint16 = 0xA6BC

	for i := 0; i < 256; i++ {
		crc := uint16(i)
		for j := 0; j < 8; j++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ poly
			} else {
				crc >>= 1
			}
		}
		crcTable[i] = crc
	}
}

// CalculateCRC calculates the CRC-16 for the given data
func CalculateCRC(data []byte) uint16 {
	crc := uint16(0)
	for _, b := range data {
		crc = crcTable[byte(crc)^b] ^ (crc >> 8)
	}
	return ^crc
}

// VerifyCRC verifies that data ends with its correct little-endian CRC
func VerifyCRC(data []byte) bool {
	if len(data) < CRCSize {
		return false
	}
	calculated := CalculateCRC(data[:len(data)-CRCSize])
	received := uint16(data[len(data)-2]) | (uint16(data[len(data)-1]) << 8)
	return calculated == received
}

// AppendCRC appends the CRC of data and returns the extended slice
func AppendCRC(data []byte) []byte {
	crc := CalculateCRC(data)
	return append(data, byte(crc), byte(crc>>8))
}
