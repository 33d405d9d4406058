package cantp

import (
	"errors"

	"comstack/cantp-go/pkg/types"
)

// TxState is the state of a transmit session
type TxState uint8

const (
	TxIdle TxState = iota
	TxSegmenting
	TxAwaitingFlowControl
	TxSendingBlock
	TxCompleted
	TxFailed
)

// String returns string representation of TxState
func (s TxState) String() string {
	switch s {
	case TxIdle:
		return "Idle"
	case TxSegmenting:
		return "Segmenting"
	case TxAwaitingFlowControl:
		return "AwaitingFlowControl"
	case TxSendingBlock:
		return "SendingBlock"
	case TxCompleted:
		return "Completed"
	case TxFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// txSession is the state of one outbound transfer
type txSession struct {
	id    SessionID
	key   Key
	state TxState

	total  int
	offset int // Bytes handed to the driver, including the First Frame
	sn     uint8

	blockSize  uint8 // Negotiated, 0 is unbounded
	blockSent  int
	stminTicks int
	sepWait    int    // Ticks left before the next Consecutive Frame
	sentTick   uint64 // Tick the last Consecutive Frame went out in

	waitFrames int       // Consecutive FC WAIT frames received
	waitTimer  TimerKind // Timer guarding AwaitingFlowControl

	// A frame the driver refused, resent from OnTick
	pending     []byte
	pendingKind FrameKind
	pendingLen  int // Payload bytes in pending
	retry       types.RetryInfo
	retries     int

	done bool
}

// startTx handles the start of a transfer. Messages that fit one frame are
// sent without a session unless the driver asks for a retry.
func (e *Engine) startTx(key Key, payload []byte) error {
	if len(payload) <= e.codec.SingleFrameCapacity() {
		frame, err := e.codec.EncodeSingleFrame(payload)
		if err != nil {
			return err
		}

		err = e.transmit(key, frame)
		switch {
		case err == nil:
			e.log.Debug("tx %s: single frame, %d bytes", key, len(payload))
			if e.cfg.EnableStatistics {
				e.stats.IncrementTxMessages()
			}
			e.listener.TxConfirmation(key, types.Success{})
			return nil
		case errors.Is(err, ErrTransmitBusy):
			s := e.newTxSession(key, len(payload))
			s.state = TxIdle
			s.setPending(FrameSingle, frame, len(payload))
			return nil
		default:
			e.log.Warn("tx %s: single frame refused: %v", key, err)
			e.listener.TxConfirmation(key, types.GenericFailure{Reason: err.Error()})
			return nil
		}
	}

	s := e.newTxSession(key, len(payload))
	if err := e.broker.AttachTxPayload(s.id, payload); err != nil {
		e.removeSession(s.id)
		return err
	}

	s.state = TxSegmenting
	ffLen := e.codec.FirstFrameCapacity(s.total)
	frame, err := e.codec.EncodeFirstFrame(s.total, payload[:ffLen])
	if err != nil {
		e.broker.ReleaseBuffer(s.id)
		e.removeSession(s.id)
		return err
	}

	e.log.Debug("tx %s: first frame, total %d bytes", key, s.total)
	e.sendTxFrame(s, FrameFirst, frame, ffLen)
	return nil
}

func (s *txSession) setPending(kind FrameKind, frame []byte, n int) {
	s.pending = frame
	s.pendingKind = kind
	s.pendingLen = n
	s.retry = types.RetryInfo{State: types.TpDataRetry, TxTpDataCnt: types.PduLength(n)}
}

func (s *txSession) clearPending() {
	s.pending = nil
	s.pendingLen = 0
	s.retries = 0
	s.retry = types.RetryInfo{State: types.TpDataConf}
}

// sendTxFrame hands a frame of the session to the driver and advances the
// session on local confirmation
func (e *Engine) sendTxFrame(s *txSession, kind FrameKind, frame []byte, n int) {
	err := e.transmit(s.key, frame)
	if errors.Is(err, ErrTransmitBusy) {
		s.setPending(kind, frame, n)
		return
	}
	if err != nil {
		e.failTx(s, types.GenericFailure{Reason: err.Error()})
		return
	}
	e.confirmTxFrame(s, kind, n)
}

// confirmTxFrame advances the session after the driver accepted a frame
func (e *Engine) confirmTxFrame(s *txSession, kind FrameKind, n int) {
	switch kind {
	case FrameSingle:
		e.completeTx(s)

	case FrameFirst:
		s.offset = n
		s.sn = 1
		s.state = TxAwaitingFlowControl
		s.waitTimer = TimerPeerResponse
		e.timers.Arm(s.id, TimerPeerResponse, e.cfg.PeerResponseTicks)

	case FrameConsecutive:
		s.offset += n
		s.sn = (s.sn + 1) % SequenceModulo
		s.blockSent++

		switch {
		case s.offset >= s.total:
			e.completeTx(s)
		case s.blockSize > 0 && s.blockSent >= int(s.blockSize):
			s.blockSent = 0
			s.state = TxAwaitingFlowControl
			s.waitTimer = TimerBlockWait
			e.timers.Arm(s.id, TimerBlockWait, e.cfg.BlockWaitTicks)
		default:
			s.sepWait = s.stminTicks
			s.sentTick = e.tick
		}
	}
}

// pumpTx sends Consecutive Frames until the block ends, the separation
// time has to elapse or the driver is busy
func (e *Engine) pumpTx(s *txSession) {
	cfCap := e.codec.ConsecutiveFrameCapacity()
	for s.state == TxSendingBlock && s.sepWait == 0 && s.pending == nil {
		payload := e.broker.Buffer(s.id)
		end := min(s.offset+cfCap, s.total)

		frame, err := e.codec.EncodeConsecutiveFrame(s.sn, payload[s.offset:end])
		if err != nil {
			e.failTx(s, types.GenericFailure{Reason: err.Error()})
			return
		}
		e.sendTxFrame(s, FrameConsecutive, frame, end-s.offset)
	}
}

// onFlowControl feeds a received Flow Control frame to the session
func (e *Engine) onFlowControl(s *txSession, fc DecodedFrame) {
	if s.state != TxAwaitingFlowControl {
		e.log.Debug("tx %s: flow control ignored in %s", s.key, s.state)
		if e.cfg.EnableStatistics {
			e.stats.IncrementDroppedFrames()
		}
		return
	}

	switch fc.Status {
	case FlowContinue:
		e.timers.Cancel(s.id)
		s.blockSize = fc.BlockSize
		s.blockSent = 0
		s.waitFrames = 0
		s.stminTicks = e.cfg.Ticks(STminToDuration(fc.STmin))
		s.sepWait = 0
		s.state = TxSendingBlock
		e.log.Debug("tx %s: CTS bs=%d stmin=%d ticks", s.key, s.blockSize, s.stminTicks)
		e.pumpTx(s)

	case FlowWait:
		s.waitFrames++
		if s.waitFrames > e.cfg.MaxWaitFrames {
			e.failTx(s, types.GenericFailure{Reason: "flow control wait limit exceeded"})
			return
		}
		ticks := e.cfg.PeerResponseTicks
		if s.waitTimer == TimerBlockWait {
			ticks = e.cfg.BlockWaitTicks
		}
		e.timers.Arm(s.id, s.waitTimer, ticks)

	case FlowOverflow:
		if e.cfg.EnableStatistics {
			e.stats.IncrementBufferOverflows()
		}
		e.failTx(s, types.ResourceFailure{Kind: types.ResourceNoBuffer})
	}
}

// progressTx runs the per-tick work of a session: driver retries and
// separation time pacing
func (e *Engine) progressTx(s *txSession) {
	if s.pending != nil {
		frame, kind, n := s.pending, s.pendingKind, s.pendingLen
		err := e.transmit(s.key, frame)
		switch {
		case errors.Is(err, ErrTransmitBusy):
			s.retries++
			if e.cfg.EnableStatistics {
				e.stats.IncrementTransmitRetries()
			}
			if s.retries > e.cfg.MaxTransmitRetries {
				e.failTx(s, types.GenericFailure{Reason: "transmit retries exhausted"})
			}
			return
		case err != nil:
			e.failTx(s, types.GenericFailure{Reason: err.Error()})
			return
		}
		s.clearPending()
		e.confirmTxFrame(s, kind, n)
		if s.state == TxSendingBlock && s.sepWait == 0 {
			e.pumpTx(s)
		}
		return
	}

	// The tick a frame went out in does not count towards its separation time
	if s.state == TxSendingBlock && s.sepWait > 0 && s.sentTick != e.tick {
		s.sepWait--
		if s.sepWait == 0 {
			e.pumpTx(s)
		}
	}
}

func (e *Engine) completeTx(s *txSession) {
	s.state = TxCompleted
	if e.cfg.EnableStatistics {
		e.stats.IncrementTxMessages()
	}
	e.log.Debug("tx %s: completed, %d bytes", s.key, s.total)
	e.finishTx(s, types.Success{})
}

func (e *Engine) failTx(s *txSession, result types.Result) {
	s.state = TxFailed
	e.log.Warn("tx %s: failed: %s", s.key, types.Describe(result))
	e.finishTx(s, result)
}

// finishTx tears the session down and delivers its single notification
func (e *Engine) finishTx(s *txSession, result types.Result) {
	if s.done {
		return
	}
	s.done = true
	e.timers.Cancel(s.id)
	e.broker.ReleaseBuffer(s.id)
	e.removeSession(s.id)
	e.listener.TxConfirmation(s.key, result)
}
