package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comstack/cantp-go/pkg/link"
	"comstack/cantp-go/pkg/types"
)

// TestSLCAN_Encode tests frame to line conversion
func TestSLCAN_Encode(t *testing.T) {
	tests := []struct {
		name  string
		frame *link.Frame
		want  string
	}{
		{"Standard", link.NewFrame(types.MakeStdID(0x7E8), []byte{0x02, 0x10, 0x03}), "t7E83021003\r"},
		{"Standard empty", link.NewFrame(types.MakeStdID(0x001), nil), "t0010\r"},
		{"Extended", link.NewFrame(types.MakeExtID(0x18DAF110), []byte{0xAA}), "T18DAF1101AA\r"},
		{"FD without BRS", &link.Frame{ID: types.MakeStdID(0x123), FD: true, Data: make([]byte, 12)}, "d1239" + "000000000000000000000000" + "\r"},
		{"FD with BRS", &link.Frame{ID: types.MakeExtID(0x1), FD: true, BRS: true, Data: []byte{1, 2}}, "B0000000120102\r"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeSLCAN(tt.frame)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}

	_, err := EncodeSLCAN(link.NewFrame(types.MakeStdID(1), make([]byte, 9)))
	assert.Error(t, err)
}

// TestSLCAN_Decode tests line to frame conversion
func TestSLCAN_Decode(t *testing.T) {
	f, err := DecodeSLCAN([]byte("t7E83021003\r"))
	require.NoError(t, err)
	assert.Equal(t, types.MakeStdID(0x7E8), f.ID)
	assert.Equal(t, []byte{0x02, 0x10, 0x03}, f.Data)
	assert.False(t, f.FD)

	f, err = DecodeSLCAN([]byte("T18DAF1101aa"))
	require.NoError(t, err)
	assert.True(t, f.ID.IsExt())
	assert.Equal(t, uint32(0x18DAF110), f.ID.Raw())
	assert.Equal(t, []byte{0xAA}, f.Data)

	// Timestamp suffix
	f, err = DecodeSLCAN([]byte("t1232BEEF1A2B"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xBE, 0xEF}, f.Data)

	f, err = DecodeSLCAN([]byte("b1239000000000000000000000000"))
	require.NoError(t, err)
	assert.True(t, f.FD)
	assert.True(t, f.BRS)
	assert.Len(t, f.Data, 12)

	invalid := []struct {
		name string
		line string
	}{
		{"Empty", ""},
		{"Unknown command", "x1230"},
		{"Remote frame", "r1230"},
		{"Short", "t12"},
		{"Bad identifier", "tXYZ0"},
		{"Standard identifier range", "t8000"},
		{"Classic DLC above 8", "t1239" + "000000000000000000000000"},
		{"Missing data", "t1232AA"},
		{"Bad data", "t1231ZZ"},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeSLCAN([]byte(tt.line))
			assert.Error(t, err)
		})
	}
}

// TestSLCAN_RoundTrip tests that decoding inverts encoding
func TestSLCAN_RoundTrip(t *testing.T) {
	frames := []*link.Frame{
		link.NewFrame(types.MakeStdID(0x7DF), []byte{1, 2, 3, 4, 5, 6, 7, 8}),
		link.NewFDFrame(types.MakeExtID(0x18DA00F1), make([]byte, 64)),
	}
	for _, frame := range frames {
		line, err := EncodeSLCAN(frame)
		require.NoError(t, err)
		got, err := DecodeSLCAN(line)
		require.NoError(t, err)
		assert.Equal(t, frame, got)
	}
}

// TestSLCAN_Bitrate tests the bitrate command table
func TestSLCAN_Bitrate(t *testing.T) {
	cmd, err := SLCANBitrateCommand(500000)
	require.NoError(t, err)
	assert.Equal(t, "S6\r", string(cmd))

	cmd, err = SLCANBitrateCommand(1000000)
	require.NoError(t, err)
	assert.Equal(t, "S8\r", string(cmd))

	_, err = SLCANBitrateCommand(33333)
	assert.ErrorIs(t, err, ErrSLCANBitrate)
}

// TestSLCAN_Splitter tests line assembly across reads
func TestSLCAN_Splitter(t *testing.T) {
	var s slcanSplitter

	assert.Empty(t, s.feed([]byte("t12")))
	lines := s.feed([]byte("30\r\rt4561AA\r\at78"))
	require.Len(t, lines, 3)
	assert.Equal(t, "t1230", string(lines[0]))
	assert.Equal(t, "t4561AA", string(lines[1]))
	assert.Nil(t, lines[2])

	lines = s.feed([]byte("90\r"))
	require.Len(t, lines, 1)
	assert.Equal(t, "t7890", string(lines[0]))
}
