package channel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestUDPChannel_Hub tests a hub fanning envelopes out to the peers it learned
func TestUDPChannel_Hub(t *testing.T) {
	rec := &stateRecorder{established: make(chan struct{}, 1), lost: make(chan struct{}, 1)}

	hub, err := NewUDPChannel(UDPChannelConfig{
		Address:     "127.0.0.1:0",
		IsServer:    true,
		PeerExpiry:  200 * time.Millisecond,
		ReadTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	defer hub.Close()
	hub.SetConnectionStateListener(rec)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	assert.ErrorIs(t, hub.Write(ctx, envelope(t, 0x7E8, []byte{1})), ErrNotConnected)

	a, err := NewUDPChannel(UDPChannelConfig{Address: hub.LocalAddr().String()})
	require.NoError(t, err)
	defer a.Close()
	b, err := NewUDPChannel(UDPChannelConfig{Address: hub.LocalAddr().String()})
	require.NoError(t, err)
	defer b.Close()

	for _, node := range []*UDPChannel{a, b} {
		sent := envelope(t, 0x7E0, []byte{0x02, 0x3E, 0x00})
		require.NoError(t, node.Write(ctx, sent))
		got, err := hub.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, sent, got)
	}
	assert.Equal(t, 2, hub.Peers())
	assert.Len(t, rec.established, 1)

	broadcast := envelope(t, 0x7E8, []byte{0x02, 0x7E, 0x00})
	require.NoError(t, hub.Write(ctx, broadcast))
	for _, node := range []*UDPChannel{a, b} {
		got, err := node.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, broadcast, got)
	}
	assert.Equal(t, uint64(2*len(broadcast)), hub.Statistics().BytesSent)

	// Silent peers expire while the hub polls
	idle, stop := context.WithTimeout(ctx, 500*time.Millisecond)
	defer stop()
	_, err = hub.Read(idle)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, hub.Peers())
	assert.Len(t, rec.lost, 1)
	assert.Equal(t, uint64(2), hub.Statistics().Disconnects)
}

// TestUDPChannel_Garbage tests that datagrams which are not one envelope are skipped
func TestUDPChannel_Garbage(t *testing.T) {
	hub, err := NewUDPChannel(UDPChannelConfig{Address: "127.0.0.1:0", IsServer: true})
	require.NoError(t, err)
	defer hub.Close()

	client, err := NewUDPChannel(UDPChannelConfig{Address: hub.LocalAddr().String()})
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	valid := envelope(t, 0x123, []byte{0xAA})
	require.NoError(t, client.Write(ctx, []byte{0x01, 0x02}))
	require.NoError(t, client.Write(ctx, append(append([]byte{}, valid...), 0xFF)))
	require.NoError(t, client.Write(ctx, valid))

	got, err := hub.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, valid, got)
	assert.Equal(t, uint64(2), hub.Statistics().ReadErrors)

	require.NoError(t, hub.Close())
	_, err = hub.Read(ctx)
	assert.ErrorIs(t, err, ErrChannelClosed)
	assert.Equal(t, 1, client.Peers())

	_, err = NewUDPChannel(UDPChannelConfig{})
	assert.Error(t, err)
}
