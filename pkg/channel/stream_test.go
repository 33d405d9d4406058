package channel

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comstack/cantp-go/pkg/link"
	"comstack/cantp-go/pkg/types"
)

func envelope(t *testing.T, id uint16, data []byte) []byte {
	t.Helper()
	b, err := link.NewFrame(types.MakeStdID(id), data).Serialize()
	require.NoError(t, err)
	return b
}

// TestReadEnvelope_BackToBack tests splitting a stream into envelopes
func TestReadEnvelope_BackToBack(t *testing.T) {
	first := envelope(t, 0x100, []byte{1, 2, 3})
	second := envelope(t, 0x200, nil)

	r := bytes.NewReader(append(append([]byte{}, first...), second...))

	got, err := readEnvelope(r)
	require.NoError(t, err)
	assert.Equal(t, first, got)

	got, err = readEnvelope(r)
	require.NoError(t, err)
	assert.Equal(t, second, got)

	_, err = readEnvelope(r)
	assert.ErrorIs(t, err, io.EOF)
}

// TestReadEnvelope_Resync tests skipping garbage before a start sequence
func TestReadEnvelope_Resync(t *testing.T) {
	want := envelope(t, 0x7E0, []byte{0x02, 0x3E, 0x00})
	stream := append([]byte{0x00, link.StartByte1, 0x11, link.StartByte1}, want...)

	got, err := readEnvelope(bytes.NewReader(stream))
	assert.True(t, errors.Is(err, ErrResync))
	assert.Equal(t, want, got)
}

// TestReadEnvelope_Truncated tests a stream ending inside an envelope
func TestReadEnvelope_Truncated(t *testing.T) {
	full := envelope(t, 0x10, []byte{1, 2, 3, 4})

	_, err := readEnvelope(bytes.NewReader(full[:len(full)-1]))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	bad := append([]byte{}, full...)
	bad[3] = 200
	_, err = readEnvelope(bytes.NewReader(bad))
	assert.ErrorIs(t, err, link.ErrInvalidLength)
}
