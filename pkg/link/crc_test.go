package link

import (
	"testing"
)

// TestCalculateCRC_Degenerate tests CRC values that follow from the inverted zero seed
func TestCalculateCRC_Degenerate(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected uint16
	}{
		{"Empty data", []byte{}, 0xFFFF},
		{"Single zero", []byte{0x00}, 0xFFFF},
		{"All zeros (16 bytes)", make([]byte, 16), 0xFFFF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CalculateCRC(tt.data); got != tt.expected {
				t.Errorf("CalculateCRC() = 0x%04X, want 0x%04X", got, tt.expected)
			}
		})
	}
}

// TestCalculateCRC_TableConsistency tests the table against the bitwise definition
func TestCalculateCRC_TableConsistency(t *testing.T) {
	bitwise := func(data []byte) uint16 {
		crc := uint16(0)
		for _, b := range data {
			crc ^= uint16(b)
			for i := 0; i < 8; i++ {
				if crc&1 != 0 {
					crc = (crc >> 1) ^ 0xA6BC
				} else {
					crc >>= 1
				}
			}
		}
		return ^crc
	}

	inputs := [][]byte{
		{StartByte1, StartByte2},
		{0x01},
		{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F},
		{0xFF, 0xFF, 0xFF, 0xFF},
	}

	for _, in := range inputs {
		if got, want := CalculateCRC(in), bitwise(in); got != want {
			t.Errorf("CalculateCRC(% X) = 0x%04X, want 0x%04X", in, got, want)
		}
	}
}

// TestAppendCRC_Verify tests that appended CRCs verify and corruption is detected
func TestAppendCRC_Verify(t *testing.T) {
	data := AppendCRC([]byte{0x43, 0x54, 0x00, 0x02, 0xE0, 0x07, 0x00, 0x00, 0x02, 0x10})

	if !VerifyCRC(data) {
		t.Fatal("VerifyCRC() = false for freshly appended CRC")
	}

	for i := range data {
		corrupted := make([]byte, len(data))
		copy(corrupted, data)
		corrupted[i] ^= 0x01
		if VerifyCRC(corrupted) {
			t.Errorf("VerifyCRC() = true with bit flip at byte %d", i)
		}
	}

	if VerifyCRC([]byte{0x01}) {
		t.Error("VerifyCRC() = true for 1-byte input")
	}
}
