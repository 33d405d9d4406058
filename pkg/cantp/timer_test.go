package cantp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSupervisor_Expiry tests countdown, last-writer-wins and cancellation
func TestSupervisor_Expiry(t *testing.T) {
	s := NewSupervisor()
	a := makeSessionID(0, DirectionTx)
	b := makeSessionID(0, DirectionRx)

	s.Arm(a, TimerPeerResponse, 3)
	s.Arm(b, TimerConsecutiveFrame, 2)

	assert.Empty(t, s.Tick())
	assert.Equal(t, []Expiry{{Session: b, Kind: TimerConsecutiveFrame}}, s.Tick())

	// Rearming replaces the deadline and the kind
	s.Arm(a, TimerBlockWait, 2)
	kind, remaining, ok := s.Armed(a)
	require.True(t, ok)
	assert.Equal(t, TimerBlockWait, kind)
	assert.Equal(t, 2, remaining)

	assert.Empty(t, s.Tick())
	assert.Equal(t, []Expiry{{Session: a, Kind: TimerBlockWait}}, s.Tick())
	assert.Equal(t, 0, s.Len())

	s.Arm(a, TimerPeerResponse, 1)
	s.Cancel(a)
	s.Cancel(a)
	assert.Empty(t, s.Tick())
}

// TestSupervisor_Order tests that expiries are reported in session order
func TestSupervisor_Order(t *testing.T) {
	s := NewSupervisor()
	for _, slotIdx := range []int{5, 1, 3, 0} {
		s.Arm(makeSessionID(slotIdx, DirectionRx), TimerConsecutiveFrame, 1)
	}

	expired := s.Tick()
	require.Len(t, expired, 4)
	for i := 1; i < len(expired); i++ {
		assert.Less(t, expired[i-1].Session, expired[i].Session)
	}
}

// TestSupervisor_ZeroTicks tests that a zero timeout expires on the next tick
func TestSupervisor_ZeroTicks(t *testing.T) {
	s := NewSupervisor()
	id := makeSessionID(2, DirectionTx)
	s.Arm(id, TimerPeerResponse, 0)

	assert.Equal(t, []Expiry{{Session: id, Kind: TimerPeerResponse}}, s.Tick())
}

// TestSessionID tests slot and direction packing
func TestSessionID(t *testing.T) {
	id := makeSessionID(7, DirectionRx)
	assert.Equal(t, 7, id.Slot())
	assert.Equal(t, DirectionRx, id.Direction())
	assert.Equal(t, "7/Rx", id.String())
	assert.Equal(t, Key{Source: 2, Target: 1}, Key{Source: 1, Target: 2}.Reverse())
}
