package channel

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"comstack/cantp-go/pkg/link"
	"comstack/cantp-go/pkg/types"
)

// SLCAN line terminators
const (
	slcanOK    byte = '\r'
	slcanError byte = 0x07
)

var (
	ErrSLCANSyntax   = errors.New("slcan: malformed line")
	ErrSLCANBitrate  = errors.New("slcan: unsupported bitrate")
	ErrSLCANAdapter  = errors.New("slcan: adapter reported error")
	ErrSLCANRTRFrame = errors.New("slcan: remote frames are not supported")
)

// slcanBitrates maps CAN bitrates to the S command index
var slcanBitrates = map[int]byte{
	10000:   '0',
	20000:   '1',
	50000:   '2',
	100000:  '3',
	125000:  '4',
	250000:  '5',
	500000:  '6',
	800000:  '7',
	1000000: '8',
}

// SLCANBitrateCommand returns the command selecting a bus bitrate
func SLCANBitrateCommand(bitrate int) ([]byte, error) {
	idx, ok := slcanBitrates[bitrate]
	if !ok {
		return nil, fmt.Errorf("%d bit/s: %w", bitrate, ErrSLCANBitrate)
	}
	return []byte{'S', idx, slcanOK}, nil
}

// EncodeSLCAN converts a frame to its SLCAN line including the terminator.
// Classic frames use t/T, CAN FD frames d/D, or b/B with bit rate switch.
func EncodeSLCAN(frame *link.Frame) ([]byte, error) {
	if err := frame.Validate(); err != nil {
		return nil, err
	}

	ext := frame.ID.IsExt()
	var cmd byte
	switch {
	case frame.FD && frame.BRS:
		cmd = 'b'
	case frame.FD:
		cmd = 'd'
	default:
		cmd = 't'
	}
	if ext {
		cmd -= 'a' - 'A'
	}

	line := make([]byte, 0, 1+8+1+2*len(frame.Data)+1)
	line = append(line, cmd)
	if ext {
		line = fmt.Appendf(line, "%08X", frame.ID.Raw())
	} else {
		line = fmt.Appendf(line, "%03X", frame.ID.Raw())
	}
	line = append(line, "0123456789ABCDEF"[frame.DLC()])
	line = fmt.Appendf(line, "%X", frame.Data)
	return append(line, slcanOK), nil
}

// DecodeSLCAN parses one SLCAN frame line. The terminator is optional.
func DecodeSLCAN(line []byte) (*link.Frame, error) {
	if n := len(line); n > 0 && line[n-1] == slcanOK {
		line = line[:n-1]
	}
	if len(line) == 0 {
		return nil, ErrSLCANSyntax
	}

	frame := &link.Frame{}
	ext := false
	switch line[0] {
	case 't':
	case 'T':
		ext = true
	case 'd':
		frame.FD = true
	case 'D':
		frame.FD, ext = true, true
	case 'b':
		frame.FD, frame.BRS = true, true
	case 'B':
		frame.FD, frame.BRS, ext = true, true, true
	case 'r', 'R':
		return nil, ErrSLCANRTRFrame
	default:
		return nil, fmt.Errorf("command %q: %w", line[0], ErrSLCANSyntax)
	}

	idLen := 3
	if ext {
		idLen = 8
	}
	if len(line) < 1+idLen+1 {
		return nil, fmt.Errorf("short line %q: %w", line, ErrSLCANSyntax)
	}

	raw, err := strconv.ParseUint(string(line[1:1+idLen]), 16, 32)
	if err != nil {
		return nil, fmt.Errorf("identifier: %w", ErrSLCANSyntax)
	}
	if ext {
		if raw > uint64(types.CANExtIDMask) {
			return nil, link.ErrInvalidID
		}
		frame.ID = types.MakeExtID(uint32(raw))
	} else {
		if raw > uint64(types.CANStdIDMask) {
			return nil, link.ErrInvalidID
		}
		frame.ID = types.MakeStdID(uint16(raw))
	}

	dlc, err := strconv.ParseUint(string(line[1+idLen:2+idLen]), 16, 8)
	if err != nil {
		return nil, fmt.Errorf("dlc: %w", ErrSLCANSyntax)
	}
	if !frame.FD && dlc > link.MaxClassicData {
		return nil, fmt.Errorf("classic dlc %d: %w", dlc, ErrSLCANSyntax)
	}

	n := link.DLCToLength(uint8(dlc))
	payload := line[2+idLen:]
	// Some adapters append a 4 digit timestamp
	if len(payload) != 2*n && len(payload) != 2*n+4 {
		return nil, fmt.Errorf("%d data digits for dlc %d: %w", len(payload), dlc, ErrSLCANSyntax)
	}

	frame.Data = make([]byte, n)
	if _, err := hex.Decode(frame.Data, payload[:2*n]); err != nil {
		return nil, fmt.Errorf("data: %w", ErrSLCANSyntax)
	}
	return frame, nil
}

// slcanSplitter accumulates serial input into lines
type slcanSplitter struct {
	pending []byte
}

// feed appends input and returns the complete lines it closed, without
// terminators. An adapter error byte yields a nil entry.
func (s *slcanSplitter) feed(input []byte) [][]byte {
	var lines [][]byte
	for _, b := range input {
		switch b {
		case slcanOK:
			if len(s.pending) > 0 {
				lines = append(lines, s.pending)
				s.pending = nil
			}
		case slcanError:
			s.pending = nil
			lines = append(lines, nil)
		default:
			if len(s.pending) < slcanMaxLine {
				s.pending = append(s.pending, b)
			}
		}
	}
	return lines
}

// Longest line: B + 8 id digits + dlc + 128 data digits + timestamp
const slcanMaxLine = 1 + 8 + 1 + 2*link.MaxFDData + 4
