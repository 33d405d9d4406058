package cantp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"comstack/cantp-go/pkg/internal/logger"
	"comstack/cantp-go/pkg/types"
)

// firstFrame encodes the First Frame of payload with the engine's codec
func firstFrame(t *testing.T, e *Engine, payload []byte) []byte {
	t.Helper()
	c := e.Codec()
	frame, err := c.EncodeFirstFrame(len(payload), payload[:c.FirstFrameCapacity(len(payload))])
	require.NoError(t, err)
	return frame
}

// TestRx_SingleFrame tests delivery of a one-frame message
func TestRx_SingleFrame(t *testing.T) {
	e, sink, rec := newTestEngine(t, nil)

	e.OnFrameReceived(keyAB, []byte{0x03, 7, 8, 9, 0xCC, 0xCC, 0xCC, 0xCC})

	require.Len(t, rec.rx, 1)
	assert.Equal(t, keyAB, rec.rx[0].key)
	assert.Equal(t, []byte{7, 8, 9}, rec.rx[0].data)
	assert.True(t, types.IsSuccess(rec.rx[0].result))
	assert.Empty(t, sink.take(), "single frames are not acknowledged")
	assert.Equal(t, 0, e.BuffersHeld())
}

// TestRx_TwelveBytes tests the canonical segmented reception
func TestRx_TwelveBytes(t *testing.T) {
	e, sink, rec := newTestEngine(t, nil)

	e.OnFrameReceived(keyAB, []byte{0x10, 0x0C, 0, 1, 2, 3, 4, 5})
	frames := sink.take()
	require.Len(t, frames, 1)
	assert.Equal(t, keyBA, frames[0].key)
	assert.Equal(t, fcContinue, frames[0].data)

	state, ok := e.RxState(keyAB)
	require.True(t, ok)
	assert.Equal(t, RxAwaitingCF, state)

	e.OnFrameReceived(keyAB, []byte{0x21, 6, 7, 8, 9, 10, 11})
	require.Len(t, rec.rx, 1)
	assert.Equal(t, []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, rec.rx[0].data)
	assert.True(t, types.IsSuccess(rec.rx[0].result))
	assert.Empty(t, sink.take())
	assert.Equal(t, 0, e.BuffersHeld())
	assert.Equal(t, uint64(1), e.Statistics().GetRxMessages())
}

// TestRx_AnnouncedParameters tests the block size and STmin sent in flow control
func TestRx_AnnouncedParameters(t *testing.T) {
	e, sink, rec := newTestEngine(t, func(c *Config) {
		c.BlockSize = 2
		c.STmin = 500 * time.Microsecond
	})

	payload := pattern(30)
	e.OnFrameReceived(keyAB, firstFrame(t, e, payload))
	assert.Equal(t, []byte{0x30, 0x02, 0xF5}, sink.take()[0].data)

	e.OnFrameReceived(keyAB, append([]byte{0x21}, payload[6:13]...))
	assert.Empty(t, sink.take())
	e.OnFrameReceived(keyAB, append([]byte{0x22}, payload[13:20]...))
	assert.Len(t, sink.take(), 1, "flow control after each block")
	e.OnFrameReceived(keyAB, append([]byte{0x23}, payload[20:27]...))
	e.OnFrameReceived(keyAB, append([]byte{0x24}, payload[27:30]...))

	assert.Empty(t, sink.take(), "no flow control after the last frame")
	require.Len(t, rec.rx, 1)
	assert.Equal(t, payload, rec.rx[0].data)
}

// TestRx_WrongSequence tests an out of order Consecutive Frame
func TestRx_WrongSequence(t *testing.T) {
	e, sink, rec := newTestEngine(t, nil)

	payload := pattern(20)
	e.OnFrameReceived(keyAB, firstFrame(t, e, payload))
	sink.take()
	e.OnFrameReceived(keyAB, append([]byte{0x22}, payload[6:13]...))

	require.Len(t, rec.rx, 1)
	assert.Equal(t, types.ProtocolFailure{Kind: types.ProtocolWrongSequence}, rec.rx[0].result)
	assert.Equal(t, types.NtfrsltEWrongSN, rec.rx[0].result.Code())
	assert.Empty(t, rec.rx[0].data)
	assert.Equal(t, uint64(1), e.Statistics().GetSequenceErrors())
	assert.Equal(t, 0, e.BuffersHeld())

	// The key is free again
	e.OnFrameReceived(keyAB, []byte{0x01, 0x42})
	require.Len(t, rec.rx, 2)
	assert.True(t, types.IsSuccess(rec.rx[1].result))
}

// TestRx_ConsecutiveFrameTimeout tests expiry while waiting for data
func TestRx_ConsecutiveFrameTimeout(t *testing.T) {
	e, _, rec := newTestEngine(t, func(c *Config) { c.ConsecutiveFrameTicks = 4 })

	payload := pattern(20)
	e.OnFrameReceived(keyAB, firstFrame(t, e, payload))
	ticks(e, 3)
	e.OnFrameReceived(keyAB, append([]byte{0x21}, payload[6:13]...))

	// The Consecutive Frame restarted the timer
	ticks(e, 3)
	assert.Empty(t, rec.rx)

	e.OnTick()
	require.Len(t, rec.rx, 1)
	assert.Equal(t, types.TimeoutFailure{Phase: types.PhaseConsecutiveFrame}, rec.rx[0].result)
	assert.Equal(t, 0, e.BuffersHeld())
	assert.Equal(t, 0, e.ActiveSessions())

	ticks(e, 10)
	assert.Len(t, rec.rx, 1)
}

// TestRx_BusyBound tests WAIT frames while the buffer stays busy
func TestRx_BusyBound(t *testing.T) {
	e, sink, rec := newTestEngine(t, func(c *Config) {
		c.MaxWaitFrames = 3
		c.WaitRetryTicks = 2
	})
	calls := 0
	e.SetRxBufferGate(RxBufferGateFunc(func(Key, int) types.BufReqResult {
		calls++
		return types.BufReqBusy
	}))

	e.OnFrameReceived(keyAB, firstFrame(t, e, pattern(20)))
	ticks(e, 5)
	assert.Empty(t, rec.rx)

	e.OnTick()
	require.Len(t, rec.rx, 1)
	assert.Equal(t, types.ResourceFailure{Kind: types.ResourceBusyExhausted}, rec.rx[0].result)
	assert.Equal(t, 4, calls)

	frames := sink.take()
	require.Len(t, frames, 3)
	for _, f := range frames {
		assert.Equal(t, fcWait, f.data)
		assert.Equal(t, keyBA, f.key)
	}
	assert.Equal(t, 0, e.ActiveSessions())
}

// TestRx_BusyThenGranted tests reception resuming once a buffer is granted
func TestRx_BusyThenGranted(t *testing.T) {
	e, sink, rec := newTestEngine(t, func(c *Config) { c.WaitRetryTicks = 2 })
	answer := types.BufReqBusy
	e.SetRxBufferGate(RxBufferGateFunc(func(Key, int) types.BufReqResult { return answer }))

	payload := pattern(12)
	e.OnFrameReceived(keyAB, firstFrame(t, e, payload))
	assert.Equal(t, fcWait, sink.take()[0].data)

	state, _ := e.RxState(keyAB)
	assert.Equal(t, RxReassemblingFF, state)

	answer = types.BufReqOK
	ticks(e, 2)
	assert.Equal(t, fcContinue, sink.take()[0].data)

	e.OnFrameReceived(keyAB, append([]byte{0x21}, payload[6:]...))
	require.Len(t, rec.rx, 1)
	assert.Equal(t, payload, rec.rx[0].data)
}

// TestRx_Overflow tests a message larger than any obtainable buffer
func TestRx_Overflow(t *testing.T) {
	e, sink, rec := newTestEngine(t, func(c *Config) { c.BufferSize = 100 })

	e.OnFrameReceived(keyAB, []byte{0x10, 0xC8, 0, 1, 2, 3, 4, 5})

	frames := sink.take()
	require.Len(t, frames, 1)
	assert.Equal(t, fcOverflow, frames[0].data)
	require.Len(t, rec.rx, 1)
	assert.Equal(t, types.ResourceFailure{Kind: types.ResourceNoBuffer}, rec.rx[0].result)
	assert.Equal(t, 0, e.ActiveSessions())
}

// TestRx_RejectWhileActive tests that a second message on a busy key is dropped
func TestRx_RejectWhileActive(t *testing.T) {
	e, sink, rec := newTestEngine(t, nil)

	payload := pattern(12)
	e.OnFrameReceived(keyAB, firstFrame(t, e, payload))
	sink.take()

	e.OnFrameReceived(keyAB, firstFrame(t, e, pattern(40)))
	e.OnFrameReceived(keyAB, []byte{0x02, 1, 2})
	assert.Empty(t, sink.take())
	assert.Empty(t, rec.rx)
	assert.Equal(t, uint64(2), e.Statistics().GetBusyRejections())

	e.OnFrameReceived(keyAB, append([]byte{0x21}, payload[6:]...))
	require.Len(t, rec.rx, 1)
	assert.Equal(t, payload, rec.rx[0].data)
}

// TestRx_Malformed tests undecodable frames against an active session
func TestRx_Malformed(t *testing.T) {
	e, _, rec := newTestEngine(t, nil)

	// Without a session the frame is dropped
	e.OnFrameReceived(keyAB, []byte{0x45, 0x00})
	assert.Empty(t, rec.rx)

	e.OnFrameReceived(keyAB, firstFrame(t, e, pattern(20)))
	e.OnFrameReceived(keyAB, []byte{0x45, 0x00})

	require.Len(t, rec.rx, 1)
	assert.Equal(t, types.ProtocolFailure{Kind: types.ProtocolMalformed}, rec.rx[0].result)
	assert.Equal(t, uint64(2), e.Statistics().GetProtocolErrors())
}

// TestRx_MalformedReported tests that a malformed frame without a session
// stays visible with debug output filtered
func TestRx_MalformedReported(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := logger.NewZapLogger(zap.New(core))
	log.SetLevel(logger.LevelWarn)

	rec := &recorder{}
	e, err := NewEngine(DefaultConfig(), &fakeSink{}, rec, log)
	require.NoError(t, err)

	e.OnFrameReceived(keyAB, []byte{0x45, 0x00})

	assert.Empty(t, rec.rx)
	assert.Equal(t, uint64(1), e.Statistics().GetProtocolErrors())
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, zapcore.WarnLevel, logs.All()[0].Level)
	assert.Contains(t, logs.All()[0].Message, "malformed frame dropped")
}

// TestRx_UnexpectedConsecutiveFrame tests data arriving before a buffer is granted
func TestRx_UnexpectedConsecutiveFrame(t *testing.T) {
	e, _, rec := newTestEngine(t, nil)
	e.SetRxBufferGate(RxBufferGateFunc(func(Key, int) types.BufReqResult { return types.BufReqBusy }))

	payload := pattern(20)
	e.OnFrameReceived(keyAB, firstFrame(t, e, payload))
	e.OnFrameReceived(keyAB, append([]byte{0x21}, payload[6:13]...))

	require.Len(t, rec.rx, 1)
	assert.Equal(t, types.ProtocolFailure{Kind: types.ProtocolUnexpectedFrame}, rec.rx[0].result)
}

// TestRx_StrayConsecutiveFrame tests data without a session
func TestRx_StrayConsecutiveFrame(t *testing.T) {
	e, sink, rec := newTestEngine(t, nil)

	e.OnFrameReceived(keyAB, []byte{0x21, 1, 2, 3})
	assert.Empty(t, rec.rx)
	assert.Empty(t, sink.take())
	assert.Equal(t, uint64(1), e.Statistics().GetDroppedFrames())
}

// TestRx_SingleFrameGate tests a single frame refused by the consumer
func TestRx_SingleFrameGate(t *testing.T) {
	e, _, rec := newTestEngine(t, nil)
	e.SetRxBufferGate(RxBufferGateFunc(func(Key, int) types.BufReqResult { return types.BufReqNotOK }))

	e.OnFrameReceived(keyAB, []byte{0x01, 0x42})
	require.Len(t, rec.rx, 1)
	assert.Equal(t, types.NtfrsltENotOK, rec.rx[0].result.Code())
	assert.Equal(t, 0, e.ActiveSessions())
}

// TestRx_Cancel tests cancellation of a reception
func TestRx_Cancel(t *testing.T) {
	e, _, rec := newTestEngine(t, nil)

	e.OnFrameReceived(keyAB, firstFrame(t, e, pattern(20)))
	e.Cancel(keyAB, DirectionRx)
	e.OnTick()

	require.Len(t, rec.rx, 1)
	assert.Equal(t, types.Cancelled{}, rec.rx[0].result)
	assert.Equal(t, 0, e.BuffersHeld())
}

// TestRx_Post tests the inbox drained by OnTick
func TestRx_Post(t *testing.T) {
	e, _, rec := newTestEngine(t, func(c *Config) { c.InboxSize = 2 })

	require.NoError(t, e.Post(keyAB, []byte{0x01, 0x0A}))
	require.NoError(t, e.Post(Key{Source: 3, Target: 2}, []byte{0x01, 0x0B}))
	assert.ErrorIs(t, e.Post(keyAB, []byte{0x01, 0x0C}), ErrInboxFull)
	assert.Empty(t, rec.rx)

	e.OnTick()
	require.Len(t, rec.rx, 2)
	assert.Equal(t, []byte{0x0A}, rec.rx[0].data)
	assert.Equal(t, []byte{0x0B}, rec.rx[1].data)
	assert.Equal(t, uint64(1), e.Statistics().GetDroppedFrames())
}

// TestRx_RxSlots tests that the buffer pool limits concurrent receptions
func TestRx_RxSlots(t *testing.T) {
	e, sink, rec := newTestEngine(t, func(c *Config) {
		c.RxSlots = 1
		c.MaxWaitFrames = 0
	})

	e.OnFrameReceived(keyAB, firstFrame(t, e, pattern(20)))
	other := Key{Source: 5, Target: 2}
	e.OnFrameReceived(other, firstFrame(t, e, pattern(20)))

	frames := sink.take()
	require.Len(t, frames, 1)
	assert.Equal(t, keyBA, frames[0].key)

	require.Len(t, rec.rx, 1)
	assert.Equal(t, other, rec.rx[0].key)
	assert.Equal(t, types.ResourceFailure{Kind: types.ResourceBusyExhausted}, rec.rx[0].result)
}

// TestSessions tests the session snapshot
func TestSessions(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)

	require.NoError(t, e.StartTx(keyAB, pattern(20)))
	e.OnFrameReceived(keyBA, firstFrame(t, e, pattern(30)))

	sessions := e.Sessions()
	require.Len(t, sessions, 2)

	byDir := map[Direction]SessionInfo{}
	for _, s := range sessions {
		byDir[s.Direction] = s
	}
	assert.Equal(t, keyAB, byDir[DirectionTx].Key)
	assert.Equal(t, "AwaitingFlowControl", byDir[DirectionTx].State)
	assert.Equal(t, 6, byDir[DirectionTx].Transferred)
	assert.Equal(t, keyBA, byDir[DirectionRx].Key)
	assert.Equal(t, 30, byDir[DirectionRx].Total)
	assert.Equal(t, "AwaitingCF", byDir[DirectionRx].State)
}
