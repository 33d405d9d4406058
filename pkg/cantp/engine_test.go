package cantp

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comstack/cantp-go/pkg/types"
)

func newPair(t *testing.T, mutate func(*Config)) (a, b *Engine, sa, sb *fakeSink, ra, rb *recorder) {
	t.Helper()
	a, sa, ra = newTestEngine(t, mutate)
	b, sb, rb = newTestEngine(t, mutate)
	return
}

// TestRoundTrip tests transfers between two engines across sizes, block
// sizes and separation times
func TestRoundTrip(t *testing.T) {
	sizes := []int{1, 7, 8, 12, 100, 500, 4095}
	blockSizes := []uint8{0, 2, 8}
	separations := []time.Duration{0, 2 * time.Millisecond}

	for _, size := range sizes {
		for _, bs := range blockSizes {
			for _, st := range separations {
				name := fmt.Sprintf("%d bytes bs=%d stmin=%s", size, bs, st)
				t.Run(name, func(t *testing.T) {
					a, b, sa, sb, ra, rb := newPair(t, func(c *Config) {
						c.BlockSize = bs
						c.STmin = st
					})
					payload := pattern(size)

					require.NoError(t, a.StartTx(keyAB, payload))
					fromA, fromB := connect(a, b, sa, sb, 5000, func() bool {
						return len(ra.tx) == 1 && len(rb.rx) == 1
					})

					require.Len(t, ra.tx, 1)
					require.Len(t, rb.rx, 1)
					assert.True(t, types.IsSuccess(ra.tx[0].result), ra.tx[0].result.String())
					assert.True(t, types.IsSuccess(rb.rx[0].result), rb.rx[0].result.String())
					assert.Equal(t, keyAB, rb.rx[0].key)
					assert.Equal(t, payload, rb.rx[0].data)

					frames := a.Codec().FrameCount(size)
					assert.Len(t, fromA, frames)
					if size <= a.Codec().SingleFrameCapacity() {
						assert.Empty(t, fromB)
					} else {
						cfs := frames - 1
						want := 1
						if bs > 0 {
							want += (cfs - 1) / int(bs)
						}
						assert.Len(t, fromB, want)
						for _, f := range fromB {
							assert.Equal(t, keyBA, f.key)
						}
					}

					for _, e := range []*Engine{a, b} {
						assert.Equal(t, 0, e.ActiveSessions())
						assert.Equal(t, 0, e.BuffersHeld())
					}
				})
			}
		}
	}
}

// TestRoundTrip_SequenceWrap tests sequence numbers wrapping after 15
func TestRoundTrip_SequenceWrap(t *testing.T) {
	a, b, sa, sb, ra, rb := newPair(t, nil)
	payload := pattern(146)

	require.NoError(t, a.StartTx(keyAB, payload))
	fromA, _ := connect(a, b, sa, sb, 100, func() bool { return len(rb.rx) == 1 })

	require.Len(t, fromA, 21)
	want := []uint8{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 0, 1, 2, 3, 4}
	for i, f := range fromA[1:] {
		kind := FrameKindOf(f.data)
		require.Equal(t, FrameConsecutive, kind)
		assert.Equal(t, want[i], f.data[0]&0x0F, "frame %d", i+1)
	}
	require.Len(t, ra.tx, 1)
	assert.Equal(t, payload, rb.rx[0].data)
}

// TestRoundTrip_CANFD tests 64-byte frames
func TestRoundTrip_CANFD(t *testing.T) {
	a, b, sa, sb, ra, rb := newPair(t, func(c *Config) { c.FrameSize = 64 })
	payload := pattern(1000)

	require.NoError(t, a.StartTx(keyAB, payload))
	fromA, fromB := connect(a, b, sa, sb, 100, func() bool { return len(rb.rx) == 1 })

	require.Len(t, fromA, 16)
	assert.Equal(t, []byte{0x13, 0xE8}, fromA[0].data[:2])
	for _, f := range fromA {
		assert.Len(t, f.data, 64)
	}
	assert.Len(t, fromB, 1)
	require.Len(t, ra.tx, 1)
	assert.True(t, types.IsSuccess(ra.tx[0].result))
	assert.Equal(t, payload, rb.rx[0].data)

	// Single frames use the escape form above 7 bytes
	require.NoError(t, a.StartTx(keyAB, pattern(30)))
	frames := sa.take()
	require.Len(t, frames, 1)
	assert.Equal(t, []byte{0x00, 30}, frames[0].data[:2])
	b.OnFrameReceived(keyAB, frames[0].data)
	require.Len(t, rb.rx, 2)
	assert.Equal(t, pattern(30), rb.rx[1].data)
}

// TestRoundTrip_Padding tests padded classic frames
func TestRoundTrip_Padding(t *testing.T) {
	pad := byte(0x55)
	a, b, sa, sb, _, rb := newPair(t, func(c *Config) { c.Padding = &pad })
	payload := pattern(40)

	require.NoError(t, a.StartTx(keyAB, payload))
	fromA, fromB := connect(a, b, sa, sb, 100, func() bool { return len(rb.rx) == 1 })

	for _, f := range append(fromA, fromB...) {
		assert.Len(t, f.data, ClassicFrameSize)
	}
	assert.Equal(t, []byte{0x30, 0x00, 0x00, pad, pad, pad, pad, pad}, fromB[0].data)
	assert.Equal(t, payload, rb.rx[0].data)
}

// TestRoundTrip_BothDirections tests concurrent transfers on one address pair
func TestRoundTrip_BothDirections(t *testing.T) {
	a, b, sa, sb, ra, rb := newPair(t, nil)
	toB, toA := pattern(300), pattern(200)

	require.NoError(t, a.StartTx(keyAB, toB))
	require.NoError(t, b.StartTx(keyBA, toA))
	connect(a, b, sa, sb, 100, func() bool { return len(ra.rx) == 1 && len(rb.rx) == 1 })

	require.Len(t, ra.tx, 1)
	require.Len(t, rb.tx, 1)
	assert.Equal(t, toB, rb.rx[0].data)
	assert.Equal(t, toA, ra.rx[0].data)
	assert.Equal(t, 0, a.ActiveSessions())
	assert.Equal(t, 0, b.ActiveSessions())
}

// TestNewEngine tests constructor validation
func TestNewEngine(t *testing.T) {
	_, err := NewEngine(DefaultConfig(), nil, nil, nil)
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.FrameSize = 9
	_, err = NewEngine(cfg, &fakeSink{}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	e, err := NewEngine(DefaultConfig(), SinkFunc(func(Key, []byte) error { return nil }), nil, nil)
	require.NoError(t, err)
	assert.NoError(t, e.StartTx(keyAB, []byte{1}))
}
