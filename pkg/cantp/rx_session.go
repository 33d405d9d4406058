package cantp

import (
	"errors"

	"comstack/cantp-go/pkg/types"
)

// RxState is the state of a receive session
type RxState uint8

const (
	RxIdle RxState = iota
	RxReassemblingFF
	RxAwaitingCF
	RxCompleted
	RxFailed
)

// String returns string representation of RxState
func (s RxState) String() string {
	switch s {
	case RxIdle:
		return "Idle"
	case RxReassemblingFF:
		return "ReassemblingFF"
	case RxAwaitingCF:
		return "AwaitingCF"
	case RxCompleted:
		return "Completed"
	case RxFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// rxSession is the state of one inbound transfer
type rxSession struct {
	id    SessionID
	key   Key
	state RxState

	total      int
	received   int
	expectedSN uint8
	blockRecv  int

	firstData []byte // First Frame payload, kept until a buffer is granted
	waitSent  int    // FC WAIT frames sent for the buffer request
	retryWait int    // Ticks before the buffer is requested again

	pendingFC []byte // Flow control the driver refused
	fcRetries int

	done bool
}

// onSingleFrame delivers a message carried in one frame
func (e *Engine) onSingleFrame(key Key, f DecodedFrame) {
	if e.rxSession(key) != nil {
		e.rejectRx(key, f.Kind)
		return
	}

	s := e.newRxSession(key, f.Length)
	switch r := e.broker.RequestRxBuffer(s.id, key, f.Length); r {
	case types.BufReqOK:
		copy(e.broker.Buffer(s.id), f.Data)
		s.received = f.Length
		e.completeRx(s)
	case types.BufReqOverflow:
		if e.cfg.EnableStatistics {
			e.stats.IncrementBufferOverflows()
		}
		e.failRx(s, types.ResourceFailure{Kind: types.ResourceNoBuffer})
	default:
		e.failRx(s, types.GenericFailure{Reason: "single frame buffer " + r.String()})
	}
}

// onFirstFrame opens a segmented reception
func (e *Engine) onFirstFrame(key Key, f DecodedFrame) {
	if e.rxSession(key) != nil {
		e.rejectRx(key, f.Kind)
		return
	}

	s := e.newRxSession(key, f.Length)
	s.state = RxReassemblingFF
	n := min(len(f.Data), f.Length)
	s.firstData = make([]byte, n)
	copy(s.firstData, f.Data)

	e.log.Debug("rx %s: first frame, total %d bytes", key, f.Length)
	e.requestRxBuffer(s)
}

// requestRxBuffer negotiates the reassembly buffer and answers the sender
func (e *Engine) requestRxBuffer(s *rxSession) {
	switch r := e.broker.RequestRxBuffer(s.id, s.key, s.total); r {
	case types.BufReqOK:
		copy(e.broker.Buffer(s.id), s.firstData)
		s.received = len(s.firstData)
		s.firstData = nil
		s.expectedSN = 1
		s.blockRecv = 0
		s.state = RxAwaitingCF
		e.timers.Arm(s.id, TimerConsecutiveFrame, e.cfg.ConsecutiveFrameTicks)
		e.sendFlowControl(s, FlowContinue)

	case types.BufReqBusy:
		s.waitSent++
		if s.waitSent > e.cfg.MaxWaitFrames {
			e.failRx(s, types.ResourceFailure{Kind: types.ResourceBusyExhausted})
			return
		}
		s.retryWait = e.cfg.WaitRetryTicks
		e.log.Debug("rx %s: buffer busy, FC WAIT %d/%d", s.key, s.waitSent, e.cfg.MaxWaitFrames)
		e.sendFlowControl(s, FlowWait)

	case types.BufReqOverflow:
		if e.cfg.EnableStatistics {
			e.stats.IncrementBufferOverflows()
		}
		e.sendFlowControl(s, FlowOverflow)
		e.failRx(s, types.ResourceFailure{Kind: types.ResourceNoBuffer})

	default:
		e.failRx(s, types.GenericFailure{Reason: "rx buffer " + r.String()})
	}
}

// sendFlowControl answers the sender of the session
func (e *Engine) sendFlowControl(s *rxSession, status FlowStatus) {
	frame, err := e.codec.EncodeFlowControl(status, e.cfg.BlockSize, EncodeSTmin(e.cfg.STmin))
	if err != nil {
		e.failRx(s, types.GenericFailure{Reason: err.Error()})
		return
	}

	err = e.transmit(s.key.Reverse(), frame)
	switch {
	case err == nil:
		s.pendingFC = nil
		s.fcRetries = 0
	case status == FlowOverflow:
		// The session fails regardless
	case errors.Is(err, ErrTransmitBusy):
		s.pendingFC = frame
	default:
		e.failRx(s, types.GenericFailure{Reason: err.Error()})
	}
}

// onConsecutiveFrame appends one segment to the session
func (e *Engine) onConsecutiveFrame(s *rxSession, f DecodedFrame) {
	if s.state != RxAwaitingCF {
		if e.cfg.EnableStatistics {
			e.stats.IncrementProtocolErrors()
		}
		e.failRx(s, types.ProtocolFailure{Kind: types.ProtocolUnexpectedFrame})
		return
	}

	if f.SequenceNumber != s.expectedSN {
		e.log.Warn("rx %s: sequence %d, want %d", s.key, f.SequenceNumber, s.expectedSN)
		if e.cfg.EnableStatistics {
			e.stats.IncrementSequenceErrors()
		}
		e.failRx(s, types.ProtocolFailure{Kind: types.ProtocolWrongSequence})
		return
	}

	buf := e.broker.Buffer(s.id)
	n := copy(buf[s.received:], f.Data)
	s.received += n
	s.expectedSN = (s.expectedSN + 1) % SequenceModulo
	s.blockRecv++

	if s.received >= s.total {
		e.completeRx(s)
		return
	}

	e.timers.Arm(s.id, TimerConsecutiveFrame, e.cfg.ConsecutiveFrameTicks)
	if e.cfg.BlockSize > 0 && s.blockRecv >= int(e.cfg.BlockSize) {
		s.blockRecv = 0
		e.sendFlowControl(s, FlowContinue)
	}
}

// progressRx runs the per-tick work of a session: flow control retries and
// paced buffer requests
func (e *Engine) progressRx(s *rxSession) {
	if s.pendingFC != nil {
		err := e.transmit(s.key.Reverse(), s.pendingFC)
		switch {
		case err == nil:
			s.pendingFC = nil
			s.fcRetries = 0
		case errors.Is(err, ErrTransmitBusy):
			s.fcRetries++
			if e.cfg.EnableStatistics {
				e.stats.IncrementTransmitRetries()
			}
			if s.fcRetries > e.cfg.MaxTransmitRetries {
				e.failRx(s, types.GenericFailure{Reason: "flow control retries exhausted"})
				return
			}
		default:
			e.failRx(s, types.GenericFailure{Reason: err.Error()})
			return
		}
	}

	if s.state == RxReassemblingFF && s.retryWait > 0 {
		s.retryWait--
		if s.retryWait == 0 {
			e.requestRxBuffer(s)
		}
	}
}

// rejectRx drops a frame that would open a second Rx session for a key
func (e *Engine) rejectRx(key Key, kind FrameKind) {
	e.log.Debug("rx %s: %s rejected, session active", key, kind)
	if e.cfg.EnableStatistics {
		e.stats.IncrementBusyRejections()
	}
}

// completeRx hands the buffer to the consumer
func (e *Engine) completeRx(s *rxSession) {
	if s.done {
		return
	}
	s.done = true
	s.state = RxCompleted

	e.timers.Cancel(s.id)
	data := e.broker.Handoff(s.id)
	e.removeSession(s.id)

	if e.cfg.EnableStatistics {
		e.stats.IncrementRxMessages()
	}
	e.log.Debug("rx %s: completed, %d bytes", s.key, s.total)
	e.listener.RxIndication(s.key, types.PduInfo{Data: data, Length: types.PduLength(s.total)}, types.Success{})
}

func (e *Engine) failRx(s *rxSession, result types.Result) {
	if s.done {
		return
	}
	s.done = true
	s.state = RxFailed

	e.timers.Cancel(s.id)
	e.broker.ReleaseBuffer(s.id)
	e.removeSession(s.id)

	e.log.Warn("rx %s: failed: %s", s.key, types.Describe(result))
	e.listener.RxIndication(s.key, types.PduInfo{}, result)
}
