package cantp

import (
	"errors"
	"fmt"
	"sync"

	"comstack/cantp-go/pkg/internal/logger"
	"comstack/cantp-go/pkg/types"
)

// slot holds the sessions of one key
type slot struct {
	key Key
	tx  *txSession
	rx  *rxSession
}

type inbound struct {
	key Key
	raw []byte
}

type cancelRequest struct {
	key Key
	dir Direction
}

// SessionInfo is a snapshot of one active session
type SessionInfo struct {
	ID             SessionID
	Key            Key
	Direction      Direction
	State          string
	Total          int
	Transferred    int
	SequenceNumber uint8
}

// Engine is the session table and dispatcher of the transport protocol.
// It owns the timer supervisor and the buffer broker and routes frames and
// ticks to the sessions of each key.
type Engine struct {
	cfg      Config
	codec    Codec
	sink     Sink
	listener Listener
	log      logger.Logger

	timers *Supervisor
	broker *Broker
	stats  *Statistics

	// Session table: arena of slots indexed by key
	slots []slot
	index map[Key]int
	free  []int

	inbox chan inbound
	tick  uint64 // OnTick calls so far

	cancelMu sync.Mutex
	cancels  []cancelRequest
}

// NewEngine creates a transport protocol engine
func NewEngine(cfg Config, sink Sink, listener Listener, log logger.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, errors.New("sink is required")
	}
	if listener == nil {
		listener = ListenerFuncs{}
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	return &Engine{
		cfg:      cfg,
		codec:    NewCodec(cfg.FrameSize, cfg.Padding),
		sink:     sink,
		listener: listener,
		log:      log,
		timers:   NewSupervisor(),
		broker:   NewBroker(cfg.BufferSize, cfg.RxSlots),
		stats:    NewStatistics(),
		index:    make(map[Key]int),
		inbox:    make(chan inbound, cfg.InboxSize),
	}, nil
}

// SetRxBufferGate lets the consumer answer Rx buffer requests
func (e *Engine) SetRxBufferGate(gate RxBufferGate) {
	e.broker.SetGate(gate)
}

// Config returns the engine configuration
func (e *Engine) Config() Config {
	return e.cfg
}

// Codec returns the frame codec of the engine
func (e *Engine) Codec() Codec {
	return e.codec
}

// Statistics returns the engine statistics
func (e *Engine) Statistics() *Statistics {
	return e.stats
}

// StartTx starts sending payload on key. The engine keeps a reference to
// payload until the TxConfirmation for key is delivered.
// Returns ErrBusy when key already has a Tx session.
func (e *Engine) StartTx(key Key, payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyPayload
	}
	if len(payload) > e.cfg.BufferSize {
		return fmt.Errorf("%d bytes: %w", len(payload), ErrPayloadTooLarge)
	}

	e.applyCancels()

	if e.txSession(key) != nil {
		if e.cfg.EnableStatistics {
			e.stats.IncrementBusyRejections()
		}
		return ErrBusy
	}
	return e.startTx(key, payload)
}

// OnFrameReceived processes a frame received on key.
// The engine does not retain raw after returning.
func (e *Engine) OnFrameReceived(key Key, raw []byte) {
	e.applyCancels()
	e.dispatch(key, raw)
}

// Post queues a received frame for the next OnTick.
// It is safe to call from any goroutine and never blocks.
func (e *Engine) Post(key Key, raw []byte) error {
	frame := make([]byte, len(raw))
	copy(frame, raw)

	select {
	case e.inbox <- inbound{key: key, raw: frame}:
		return nil
	default:
		if e.cfg.EnableStatistics {
			e.stats.IncrementDroppedFrames()
		}
		return ErrInboxFull
	}
}

// Cancel requests cancellation of the session of key in direction dir.
// The session fails with Cancelled at the next tick or frame event.
// It is safe to call from any goroutine.
func (e *Engine) Cancel(key Key, dir Direction) {
	e.cancelMu.Lock()
	e.cancels = append(e.cancels, cancelRequest{key: key, dir: dir})
	e.cancelMu.Unlock()
}

// CancelAll fails every active session with Cancelled immediately
func (e *Engine) CancelAll() {
	for i := range e.slots {
		if s := e.slots[i].tx; s != nil {
			e.cancelTx(s)
		}
		if s := e.slots[i].rx; s != nil {
			e.cancelRx(s)
		}
	}
}

// OnTick advances the engine by one tick: pending cancellations, queued
// frames, timer expiries and paced transmissions, in that order
func (e *Engine) OnTick() {
	e.tick++
	e.applyCancels()

	for n := len(e.inbox); n > 0; n-- {
		f := <-e.inbox
		e.dispatch(f.key, f.raw)
	}

	for _, exp := range e.timers.Tick() {
		e.onExpiry(exp)
	}

	for i := 0; i < len(e.slots); i++ {
		if s := e.slots[i].tx; s != nil {
			e.progressTx(s)
		}
		if s := e.slots[i].rx; s != nil {
			e.progressRx(s)
		}
	}
}

// ActiveSessions returns the number of active Tx and Rx sessions
func (e *Engine) ActiveSessions() int {
	n := 0
	for i := range e.slots {
		if e.slots[i].tx != nil {
			n++
		}
		if e.slots[i].rx != nil {
			n++
		}
	}
	return n
}

// Sessions returns a snapshot of all active sessions
func (e *Engine) Sessions() []SessionInfo {
	var out []SessionInfo
	for i := range e.slots {
		if s := e.slots[i].tx; s != nil {
			out = append(out, SessionInfo{
				ID: s.id, Key: s.key, Direction: DirectionTx, State: s.state.String(),
				Total: s.total, Transferred: s.offset, SequenceNumber: s.sn,
			})
		}
		if s := e.slots[i].rx; s != nil {
			out = append(out, SessionInfo{
				ID: s.id, Key: s.key, Direction: DirectionRx, State: s.state.String(),
				Total: s.total, Transferred: s.received, SequenceNumber: s.expectedSN,
			})
		}
	}
	return out
}

// TxState returns the state of the Tx session of key
func (e *Engine) TxState(key Key) (TxState, bool) {
	if s := e.txSession(key); s != nil {
		return s.state, true
	}
	return TxIdle, false
}

// RxState returns the state of the Rx session of key
func (e *Engine) RxState(key Key) (RxState, bool) {
	if s := e.rxSession(key); s != nil {
		return s.state, true
	}
	return RxIdle, false
}

// BuffersHeld returns the number of buffers held by the broker
func (e *Engine) BuffersHeld() int {
	return e.broker.Held()
}

// dispatch classifies a frame and routes it to its session
func (e *Engine) dispatch(key Key, raw []byte) {
	if e.cfg.EnableStatistics {
		e.stats.IncrementRxFrames()
	}
	logger.FrameDebug(e.log, "RX "+key.String(), raw)

	f, err := e.codec.DecodeFrame(raw)
	if err != nil {
		e.onMalformed(key, raw, err)
		return
	}

	switch f.Kind {
	case FrameSingle:
		e.onSingleFrame(key, f)
	case FrameFirst:
		e.onFirstFrame(key, f)
	case FrameConsecutive:
		s := e.rxSession(key)
		if s == nil {
			e.drop(key, f.Kind)
			return
		}
		e.onConsecutiveFrame(s, f)
	case FrameFlowControl:
		// Flow control answers the Tx session of the opposite direction
		s := e.txSession(key.Reverse())
		if s == nil {
			e.drop(key, f.Kind)
			return
		}
		e.onFlowControl(s, f)
	}
}

// onMalformed fails the session a frame that cannot be decoded belongs to
func (e *Engine) onMalformed(key Key, raw []byte, err error) {
	if e.cfg.EnableStatistics {
		e.stats.IncrementProtocolErrors()
	}
	failure := types.ProtocolFailure{Kind: types.ProtocolMalformed}

	if FrameKindOf(raw) == FrameFlowControl {
		if s := e.txSession(key.Reverse()); s != nil {
			e.log.Warn("tx %s: malformed flow control: %v", s.key, err)
			e.failTx(s, failure)
			return
		}
	} else if s := e.rxSession(key); s != nil {
		e.log.Warn("rx %s: malformed frame: %v", key, err)
		e.failRx(s, failure)
		return
	}

	e.log.Warn("rx %s: malformed frame dropped: %v", key, err)
}

func (e *Engine) drop(key Key, kind FrameKind) {
	e.log.Debug("rx %s: stray %s dropped", key, kind)
	if e.cfg.EnableStatistics {
		e.stats.IncrementDroppedFrames()
	}
}

// onExpiry delivers a timer expiry to its session
func (e *Engine) onExpiry(exp Expiry) {
	idx := exp.Session.Slot()
	if idx >= len(e.slots) {
		return
	}

	switch exp.Session.Direction() {
	case DirectionTx:
		s := e.slots[idx].tx
		if s == nil {
			return
		}
		phase := types.PhasePeerResponse
		if exp.Kind == TimerBlockWait {
			phase = types.PhaseBlockWait
		}
		e.countTimeout()
		e.failTx(s, types.TimeoutFailure{Phase: phase})
	case DirectionRx:
		s := e.slots[idx].rx
		if s == nil {
			return
		}
		e.countTimeout()
		e.failRx(s, types.TimeoutFailure{Phase: types.PhaseConsecutiveFrame})
	}
}

func (e *Engine) countTimeout() {
	if e.cfg.EnableStatistics {
		e.stats.IncrementTimeoutErrors()
	}
}

// applyCancels fails the sessions named by pending Cancel calls
func (e *Engine) applyCancels() {
	e.cancelMu.Lock()
	pending := e.cancels
	e.cancels = nil
	e.cancelMu.Unlock()

	for _, c := range pending {
		switch c.dir {
		case DirectionTx:
			if s := e.txSession(c.key); s != nil {
				e.cancelTx(s)
				continue
			}
		case DirectionRx:
			if s := e.rxSession(c.key); s != nil {
				e.cancelRx(s)
				continue
			}
		}
		e.log.Debug("cancel %s %s: no session", c.key, c.dir)
	}
}

func (e *Engine) cancelTx(s *txSession) {
	if e.cfg.EnableStatistics {
		e.stats.IncrementCancellations()
	}
	e.failTx(s, types.Cancelled{})
}

func (e *Engine) cancelRx(s *rxSession) {
	if e.cfg.EnableStatistics {
		e.stats.IncrementCancellations()
	}
	e.failRx(s, types.Cancelled{})
}

// transmit hands one frame to the sink
func (e *Engine) transmit(key Key, frame []byte) error {
	if err := e.sink.Transmit(key, frame); err != nil {
		return err
	}
	if e.cfg.EnableStatistics {
		e.stats.IncrementTxFrames()
	}
	logger.FrameDebug(e.log, "TX "+key.String(), frame)
	return nil
}

func (e *Engine) txSession(key Key) *txSession {
	if idx, ok := e.index[key]; ok {
		return e.slots[idx].tx
	}
	return nil
}

func (e *Engine) rxSession(key Key) *rxSession {
	if idx, ok := e.index[key]; ok {
		return e.slots[idx].rx
	}
	return nil
}

// slotFor returns the slot of key, claiming a free one if needed
func (e *Engine) slotFor(key Key) int {
	if idx, ok := e.index[key]; ok {
		return idx
	}

	var idx int
	if n := len(e.free); n > 0 {
		idx = e.free[n-1]
		e.free = e.free[:n-1]
	} else {
		idx = len(e.slots)
		e.slots = append(e.slots, slot{})
	}
	e.slots[idx] = slot{key: key}
	e.index[key] = idx
	return idx
}

func (e *Engine) newTxSession(key Key, total int) *txSession {
	idx := e.slotFor(key)
	s := &txSession{id: makeSessionID(idx, DirectionTx), key: key, total: total}
	e.slots[idx].tx = s
	return s
}

func (e *Engine) newRxSession(key Key, total int) *rxSession {
	idx := e.slotFor(key)
	s := &rxSession{id: makeSessionID(idx, DirectionRx), key: key, total: total}
	e.slots[idx].rx = s
	return s
}

// removeSession clears a session from the table and frees the key once
// both directions are empty
func (e *Engine) removeSession(id SessionID) {
	idx := id.Slot()
	if idx >= len(e.slots) {
		return
	}

	if id.Direction() == DirectionTx {
		e.slots[idx].tx = nil
	} else {
		e.slots[idx].rx = nil
	}

	if e.slots[idx].tx == nil && e.slots[idx].rx == nil {
		delete(e.index, e.slots[idx].key)
		e.slots[idx] = slot{}
		e.free = append(e.free, idx)
	}
}
