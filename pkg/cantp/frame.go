package cantp

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"comstack/cantp-go/pkg/link"
)

// Protocol control information, high nibble of the first byte
const (
	pciSingleFrame      uint8 = 0x00
	pciFirstFrame       uint8 = 0x10
	pciConsecutiveFrame uint8 = 0x20
	pciFlowControl      uint8 = 0x30

	pciTypeMask uint8 = 0xF0
	pciLowMask  uint8 = 0x0F
)

// Frame layout limits
const (
	ClassicFrameSize  = 8          // Classic CAN data field
	MaxShortFFLength  = 0xFFF      // Largest length in the 12-bit FF_DL
	SequenceModulo    = 16         // Consecutive frame sequence numbers wrap at 16
	DefaultPadByte    = 0xCC       // Fill byte for CAN FD length rounding
	maxEscapeFFLength = 0xFFFFFFFF // Largest length in the 32-bit FF_DL
)

// FrameKind classifies a transport frame
type FrameKind uint8

const (
	FrameSingle FrameKind = iota
	FrameFirst
	FrameConsecutive
	FrameFlowControl
	FrameUnknown
)

// String returns string representation of FrameKind
func (k FrameKind) String() string {
	switch k {
	case FrameSingle:
		return "SF"
	case FrameFirst:
		return "FF"
	case FrameConsecutive:
		return "CF"
	case FrameFlowControl:
		return "FC"
	default:
		return "Unknown"
	}
}

// FlowStatus is the status nibble of a Flow Control frame
type FlowStatus uint8

const (
	FlowContinue FlowStatus = 0 // Continue to send
	FlowWait     FlowStatus = 1 // Wait for another flow control
	FlowOverflow FlowStatus = 2 // Receiver cannot take the message
)

// String returns string representation of FlowStatus
func (s FlowStatus) String() string {
	switch s {
	case FlowContinue:
		return "CTS"
	case FlowWait:
		return "WAIT"
	case FlowOverflow:
		return "OVFLW"
	default:
		return fmt.Sprintf("FS(%d)", uint8(s))
	}
}

// DecodedFrame is the result of DecodeFrame
type DecodedFrame struct {
	Kind FrameKind

	// Length is the data length of a Single Frame or the total message
	// length declared by a First Frame
	Length int

	// Data holds the payload bytes carried by this frame. For Consecutive
	// Frames it may include trailing padding.
	Data []byte

	SequenceNumber uint8 // Consecutive Frame

	Status    FlowStatus // Flow Control
	BlockSize uint8      // Flow Control
	STmin     uint8      // Flow Control, raw encoded separation time
}

// Codec encodes and decodes transport frames for one medium.
// It holds no state and is safe to copy.
type Codec struct {
	// FrameSize is the largest data field of the medium: 8 for classic CAN,
	// 12 to 64 for CAN FD
	FrameSize int

	// Padding, when set, fills every frame up to FrameSize
	Padding *byte
}

// NewCodec creates a codec for the given frame size
func NewCodec(frameSize int, padding *byte) Codec {
	return Codec{FrameSize: frameSize, Padding: padding}
}

// SingleFrameCapacity returns the largest payload of a Single Frame
func (c Codec) SingleFrameCapacity() int {
	if c.FrameSize > ClassicFrameSize {
		return c.FrameSize - 2
	}
	return c.FrameSize - 1
}

// FirstFrameCapacity returns the payload carried by the First Frame of a
// message of the given total length
func (c Codec) FirstFrameCapacity(total int) int {
	if total > MaxShortFFLength {
		return c.FrameSize - 6
	}
	return c.FrameSize - 2
}

// ConsecutiveFrameCapacity returns the payload of one Consecutive Frame
func (c Codec) ConsecutiveFrameCapacity() int {
	return c.FrameSize - 1
}

// FrameCount returns the number of frames needed for a message
func (c Codec) FrameCount(total int) int {
	if total <= c.SingleFrameCapacity() {
		return 1
	}
	rest := total - c.FirstFrameCapacity(total)
	cf := c.ConsecutiveFrameCapacity()
	return 1 + (rest+cf-1)/cf
}

// EncodeSingleFrame encodes a complete message into one frame
func (c Codec) EncodeSingleFrame(data []byte) ([]byte, error) {
	n := len(data)
	if n == 0 {
		return nil, ErrEmptyPayload
	}
	if n > c.SingleFrameCapacity() {
		return nil, fmt.Errorf("single frame with %d bytes: %w", n, ErrFrameCapacity)
	}

	frame := make([]byte, 0, c.FrameSize)
	if n <= ClassicFrameSize-1 {
		frame = append(frame, pciSingleFrame|uint8(n))
	} else {
		// CAN FD escape: length in the second byte
		frame = append(frame, pciSingleFrame, uint8(n))
	}
	frame = append(frame, data...)
	return c.pad(frame), nil
}

// EncodeFirstFrame encodes the first segment of a message of total bytes.
// data must fill the First Frame capacity exactly.
func (c Codec) EncodeFirstFrame(total int, data []byte) ([]byte, error) {
	if total <= c.SingleFrameCapacity() || uint64(total) > maxEscapeFFLength {
		return nil, fmt.Errorf("first frame for %d bytes: %w", total, ErrInvalidLength)
	}
	if len(data) != c.FirstFrameCapacity(total) {
		return nil, fmt.Errorf("first frame with %d bytes: %w", len(data), ErrFrameCapacity)
	}

	frame := make([]byte, 0, c.FrameSize)
	if total <= MaxShortFFLength {
		frame = append(frame, pciFirstFrame|uint8(total>>8)&pciLowMask, uint8(total))
	} else {
		frame = append(frame, pciFirstFrame, 0, 0, 0, 0, 0)
		binary.BigEndian.PutUint32(frame[2:6], uint32(total))
	}
	return append(frame, data...), nil
}

// EncodeConsecutiveFrame encodes one segment following the First Frame
func (c Codec) EncodeConsecutiveFrame(sn uint8, data []byte) ([]byte, error) {
	if sn >= SequenceModulo {
		return nil, ErrInvalidSequence
	}
	if len(data) == 0 || len(data) > c.ConsecutiveFrameCapacity() {
		return nil, fmt.Errorf("consecutive frame with %d bytes: %w", len(data), ErrFrameCapacity)
	}

	frame := make([]byte, 0, c.FrameSize)
	frame = append(frame, pciConsecutiveFrame|sn)
	frame = append(frame, data...)
	return c.pad(frame), nil
}

// EncodeFlowControl encodes a Flow Control frame
func (c Codec) EncodeFlowControl(status FlowStatus, blockSize uint8, stmin uint8) ([]byte, error) {
	if status > FlowOverflow {
		return nil, ErrInvalidStatus
	}
	frame := []byte{pciFlowControl | uint8(status), blockSize, stmin}
	return c.pad(frame), nil
}

// pad fills a frame with the padding byte, or rounds a CAN FD frame above
// 8 bytes up to the next valid data length
func (c Codec) pad(frame []byte) []byte {
	target := len(frame)
	fill := byte(DefaultPadByte)
	if c.Padding != nil {
		target = c.FrameSize
		fill = *c.Padding
	} else if target > ClassicFrameSize {
		target = link.RoundUpLength(target)
	}
	for len(frame) < target {
		frame = append(frame, fill)
	}
	return frame
}

// DecodeFrame classifies and decodes a raw frame. It never panics: frames
// that cannot be decoded are returned as FrameUnknown with an error, and
// the Kind of a frame with a valid type nibble but bad fields is reported
// through the error's context only.
func (c Codec) DecodeFrame(raw []byte) (DecodedFrame, error) {
	unknown := DecodedFrame{Kind: FrameUnknown}
	if len(raw) == 0 {
		return unknown, ErrFrameTooShort
	}

	pci := raw[0]
	switch pci & pciTypeMask {
	case pciSingleFrame:
		n := int(pci & pciLowMask)
		offset := 1
		if n == 0 {
			// Escape sequence, only valid on frames longer than 8 bytes
			if len(raw) <= ClassicFrameSize {
				return unknown, fmt.Errorf("single frame length 0: %w", ErrInvalidLength)
			}
			n = int(raw[1])
			offset = 2
			if n == 0 {
				return unknown, fmt.Errorf("single frame length 0: %w", ErrInvalidLength)
			}
		} else if n > ClassicFrameSize-1 {
			return unknown, fmt.Errorf("single frame length %d: %w", n, ErrInvalidLength)
		}
		if len(raw) < offset+n {
			return unknown, fmt.Errorf("single frame of %d bytes: %w", n, ErrFrameTooShort)
		}
		return DecodedFrame{Kind: FrameSingle, Length: n, Data: raw[offset : offset+n]}, nil

	case pciFirstFrame:
		if len(raw) < 2 {
			return unknown, ErrFrameTooShort
		}
		total := int(pci&pciLowMask)<<8 | int(raw[1])
		offset := 2
		if total == 0 {
			if len(raw) < 6 {
				return unknown, ErrFrameTooShort
			}
			dl := binary.BigEndian.Uint32(raw[2:6])
			if dl <= MaxShortFFLength || uint64(dl) > math.MaxInt {
				return unknown, fmt.Errorf("escaped first frame length %d: %w", dl, ErrInvalidLength)
			}
			total = int(dl)
			offset = 6
		}
		data := raw[offset:]
		if total <= len(data) {
			return unknown, fmt.Errorf("first frame length %d: %w", total, ErrInvalidLength)
		}
		return DecodedFrame{Kind: FrameFirst, Length: total, Data: data}, nil

	case pciConsecutiveFrame:
		if len(raw) < 2 {
			return unknown, ErrFrameTooShort
		}
		return DecodedFrame{
			Kind:           FrameConsecutive,
			SequenceNumber: pci & pciLowMask,
			Data:           raw[1:],
		}, nil

	case pciFlowControl:
		if len(raw) < 3 {
			return unknown, ErrFrameTooShort
		}
		status := FlowStatus(pci & pciLowMask)
		if status > FlowOverflow {
			return unknown, fmt.Errorf("%s: %w", status, ErrInvalidStatus)
		}
		return DecodedFrame{
			Kind:      FrameFlowControl,
			Status:    status,
			BlockSize: raw[1],
			STmin:     raw[2],
		}, nil

	default:
		return unknown, fmt.Errorf("control byte 0x%02X: %w", pci, ErrUnknownFrame)
	}
}

// FrameKindOf returns the kind named by the type nibble of raw, without
// validating the rest of the frame
func FrameKindOf(raw []byte) FrameKind {
	if len(raw) == 0 {
		return FrameUnknown
	}
	switch raw[0] & pciTypeMask {
	case pciSingleFrame:
		return FrameSingle
	case pciFirstFrame:
		return FrameFirst
	case pciConsecutiveFrame:
		return FrameConsecutive
	case pciFlowControl:
		return FrameFlowControl
	default:
		return FrameUnknown
	}
}

// STminToDuration decodes a separation time byte.
// 0x00-0x7F are milliseconds, 0xF1-0xF9 are 100-900 microseconds;
// reserved values are read as the maximum of 127 ms.
func STminToDuration(b uint8) time.Duration {
	switch {
	case b <= 0x7F:
		return time.Duration(b) * time.Millisecond
	case b >= 0xF1 && b <= 0xF9:
		return time.Duration(b-0xF0) * 100 * time.Microsecond
	default:
		return 127 * time.Millisecond
	}
}

// EncodeSTmin encodes a separation time, rounding up to the next
// representable value and saturating at 127 ms
func EncodeSTmin(d time.Duration) uint8 {
	switch {
	case d <= 0:
		return 0
	case d <= 900*time.Microsecond:
		steps := (d + 100*time.Microsecond - 1) / (100 * time.Microsecond)
		return 0xF0 + uint8(steps)
	case d >= 127*time.Millisecond:
		return 0x7F
	default:
		return uint8((d + time.Millisecond - 1) / time.Millisecond)
	}
}
