package link

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"comstack/cantp-go/pkg/types"
)

// Frame represents a CAN or CAN FD data frame
type Frame struct {
	ID   types.CANID // Identifier, IDE flag selects 29-bit
	FD   bool        // CAN FD frame
	BRS  bool        // Bit rate switch (CAN FD only)
	Data []byte      // Data field
}

// NewFrame creates a new classic CAN frame
func NewFrame(id types.CANID, data []byte) *Frame {
	return &Frame{ID: id, Data: data}
}

// NewFDFrame creates a new CAN FD frame with bit rate switching
func NewFDFrame(id types.CANID, data []byte) *Frame {
	return &Frame{ID: id, FD: true, BRS: true, Data: data}
}

// DLC returns the data length code of the frame
func (f *Frame) DLC() uint8 {
	return LengthToDLC(len(f.Data))
}

// Validate checks the data field against the frame format
func (f *Frame) Validate() error {
	if !f.FD {
		if f.BRS {
			return fmt.Errorf("bit rate switch on classic frame: %w", ErrInvalidLength)
		}
		if len(f.Data) > MaxClassicData {
			return ErrFrameTooLong
		}
		return nil
	}
	if len(f.Data) > MaxFDData {
		return ErrFrameTooLong
	}
	if !IsValidDataLength(len(f.Data)) {
		return fmt.Errorf("%d bytes is not a CAN FD length: %w", len(f.Data), ErrInvalidLength)
	}
	return nil
}

func (f *Frame) flags() uint8 {
	var flags uint8
	if f.ID.IsExt() {
		flags |= FlagExtended
	}
	if f.FD {
		flags |= FlagFD
	}
	if f.BRS {
		flags |= FlagBRS
	}
	return flags
}

// Serialize converts frame to its envelope with CRC
func (f *Frame) Serialize() ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	dataLen := len(f.Data)
	result := make([]byte, HeaderSize, HeaderSize+dataLen+CRCSize)
	result[0] = StartByte1
	result[1] = StartByte2
	result[2] = f.flags()
	result[3] = byte(dataLen)
	binary.LittleEndian.PutUint32(result[4:8], f.ID.Raw())
	result = append(result, f.Data...)

	return AppendCRC(result), nil
}

// EnvelopeLength returns the total envelope size announced by prefix.
// prefix must hold at least PrefixSize bytes.
func EnvelopeLength(prefix []byte) (int, error) {
	if len(prefix) < PrefixSize {
		return 0, ErrFrameTooShort
	}
	if prefix[0] != StartByte1 || prefix[1] != StartByte2 {
		return 0, ErrInvalidStartBytes
	}
	dataLen := int(prefix[3])
	if dataLen > MaxFDData {
		return 0, ErrInvalidLength
	}
	return HeaderSize + dataLen + CRCSize, nil
}

// Parse parses an envelope into a Frame.
// Returns the frame and the number of bytes consumed.
func Parse(data []byte) (*Frame, int, error) {
	if len(data) < MinFrameSize {
		return nil, len(data), ErrFrameTooShort
	}

	expectedSize, err := EnvelopeLength(data)
	if err != nil {
		return nil, 0, err
	}
	if len(data) < expectedSize {
		return nil, 0, ErrFrameTooShort
	}
	if !VerifyCRC(data[:expectedSize]) {
		return nil, 0, ErrInvalidCRC
	}

	flags := data[2]
	raw := binary.LittleEndian.Uint32(data[4:8])

	frame := &Frame{
		FD:  flags&FlagFD != 0,
		BRS: flags&FlagBRS != 0,
	}
	if flags&FlagExtended != 0 {
		if raw > uint32(types.CANExtIDMask) {
			return nil, 0, ErrInvalidID
		}
		frame.ID = types.MakeExtID(raw)
	} else {
		if raw > uint32(types.CANStdIDMask) {
			return nil, 0, ErrInvalidID
		}
		frame.ID = types.MakeStdID(uint16(raw))
	}

	dataLen := int(data[3])
	frame.Data = make([]byte, dataLen)
	copy(frame.Data, data[HeaderSize:HeaderSize+dataLen])

	if err := frame.Validate(); err != nil {
		return nil, 0, err
	}

	return frame, expectedSize, nil
}

// String returns a string representation of the frame
func (f *Frame) String() string {
	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("Frame{ID=%s, ", f.ID))
	if f.FD {
		buf.WriteString(fmt.Sprintf("FD=true, BRS=%t, ", f.BRS))
	}
	buf.WriteString(fmt.Sprintf("DLC=%d, Data=% X}", f.DLC(), f.Data))
	return buf.String()
}

// Clone creates a deep copy of the frame
func (f *Frame) Clone() *Frame {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)

	return &Frame{
		ID:   f.ID,
		FD:   f.FD,
		BRS:  f.BRS,
		Data: data,
	}
}
