package types

import (
	"errors"
	"fmt"
)

// PduID identifies a PDU logically across layers
type PduID uint16

// PduLength is the number of valid payload bytes of a PDU
type PduLength uint16

// NetworkHandle identifies a network channel
type NetworkHandle uint8

// ErrPduLength is returned when a PDU declares more bytes than it holds
var ErrPduLength = errors.New("pdu length exceeds buffer capacity")

// PduInfo describes a PDU buffer: payload, valid length and metadata
type PduInfo struct {
	Data     []byte    // Payload buffer (Tx or Rx)
	Length   PduLength // Number of valid bytes in Data
	MetaData []byte    // Optional metadata
}

// NewPduInfo creates a PduInfo covering the whole of data
func NewPduInfo(data []byte) PduInfo {
	return PduInfo{Data: data, Length: PduLength(len(data))}
}

// Validate checks that the declared length fits the referenced buffer
func (p PduInfo) Validate() error {
	if int(p.Length) > len(p.Data) {
		return fmt.Errorf("%w: length %d, capacity %d", ErrPduLength, p.Length, len(p.Data))
	}
	return nil
}

// Payload returns the valid bytes of the PDU.
// If the declared length is invalid the whole buffer is returned.
func (p PduInfo) Payload() []byte {
	if int(p.Length) > len(p.Data) {
		return p.Data
	}
	return p.Data[:p.Length]
}

// String returns string representation of PduInfo
func (p PduInfo) String() string {
	return fmt.Sprintf("PduInfo{Length=%d, Cap=%d, Meta=%d}", p.Length, len(p.Data), len(p.MetaData))
}
