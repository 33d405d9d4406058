// Package stack wires a bus channel, the CAN interface, and the transport
// protocol engine into one node driven by a single event loop.
package stack

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"comstack/cantp-go/pkg/canif"
	"comstack/cantp-go/pkg/cantp"
	"comstack/cantp-go/pkg/channel"
	"comstack/cantp-go/pkg/internal/logger"
	"comstack/cantp-go/pkg/internal/queue"
	"comstack/cantp-go/pkg/trace"
	"comstack/cantp-go/pkg/types"
)

var (
	ErrNotRunning     = errors.New("stack is not running")
	ErrAlreadyRunning = errors.New("stack is already running")
	ErrUnknownPdu     = errors.New("unknown pdu")
	ErrStopped        = errors.New("stack was stopped")
)

// Callbacks receive transfer outcomes in the order the engine produced
// them. They run on a dedicated goroutine and may call Send.
type Callbacks struct {
	// OnTxConfirmation reports the outcome of a Send
	OnTxConfirmation func(pduID types.PduID, result types.Result)

	// OnRxIndication reports a received message, or a failed reception
	// with nil data. The callee owns data.
	OnRxIndication func(pduID types.PduID, data []byte, result types.Result)
}

// Options configures a Stack
type Options struct {
	Name   string
	Engine cantp.Config
	Routes []canif.Route

	FD        bool // Send CAN FD frames
	BRS       bool // Bit rate switch on CAN FD frames
	QueueSize int  // Channel transmit queue, 0 selects channel.DefaultQueueSize

	// RxBufferGate decides on receive buffers, nil accepts what fits.
	// It runs on the event loop goroutine.
	RxBufferGate cantp.RxBufferGate

	// Trace records every frame crossing the interface when set
	Trace *trace.Recorder

	// Tags selects the layers that log, empty selects the default set
	Tags []string

	// Logger is the base logger, nil selects the package default
	Logger logger.Logger
}

// Statistics is a snapshot of the node counters
type Statistics struct {
	Engine    cantp.Statistics
	Channel   ChannelStatistics
	Interface InterfaceStatistics
	Physical  channel.TransportStats
	Sessions  int
}

// ChannelStatistics are the frame counters of the bus channel
type ChannelStatistics struct {
	FramesTx    uint64
	FramesRx    uint64
	BadFrames   uint64
	CRCErrors   uint64
	Unrouted    uint64
	QueueFull   uint64
	WriteErrors uint64
}

// InterfaceStatistics are the counters of the CAN interface
type InterfaceStatistics struct {
	TxFrames   uint64
	RxFrames   uint64
	TxBusy     uint64
	TxRejected uint64
	RxDropped  uint64
	UnknownIDs uint64
}

// Stack is one CAN TP node. The engine is owned by the event loop
// goroutine; every other method is safe for concurrent use.
type Stack struct {
	name      string
	callbacks Callbacks
	logger    logger.Logger

	channel    *channel.Channel
	controller *canif.Controller
	engine     *cantp.Engine
	tickPeriod time.Duration

	requests   chan func()
	active     atomic.Int64
	ownedTrace *trace.Recorder

	// Outcomes waiting for the callback goroutine
	notes *queue.PriorityQueue[notification]

	// State
	running     bool
	stopped     bool
	stateMu     sync.Mutex
	lifecycleMu sync.Mutex

	// Concurrency
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	dispatchStop chan struct{}
	dispatchWg   sync.WaitGroup
}

type notification struct {
	tx     bool
	pduID  types.PduID
	data   []byte
	result types.Result
}

// New creates a node on physical. The node is idle until Start.
func New(opts Options, physical channel.PhysicalChannel, callbacks Callbacks) (*Stack, error) {
	log := opts.Logger
	if log == nil {
		log = logger.GetDefault()
	}
	if opts.Name == "" {
		opts.Name = "cantp"
	}

	mask := logger.DefaultTagMask
	if len(opts.Tags) > 0 {
		parsed, unknown := logger.ParseTagMask(opts.Tags)
		if len(unknown) > 0 {
			return nil, fmt.Errorf("unknown log tags %q", unknown)
		}
		mask = parsed
	}

	ch := channel.New(opts.Name, physical, opts.QueueSize, logger.Tagged(log, logger.TagMcalCan, mask))

	ctrl, err := canif.New(canif.Config{Routes: opts.Routes, FD: opts.FD, BRS: opts.BRS}, ch,
		logger.Tagged(log, logger.TagEcuCanIf, mask))
	if err != nil {
		return nil, err
	}

	s := &Stack{
		name:       opts.Name,
		callbacks:  callbacks,
		logger:     log,
		channel:    ch,
		controller: ctrl,
		tickPeriod: opts.Engine.TickPeriod,
		requests:   make(chan func()),
		notes:      queue.NewPriorityQueue[notification](0),
	}

	engine, err := cantp.NewEngine(opts.Engine, ctrl, s, logger.Tagged(log, logger.TagSrvCanTp, mask))
	if err != nil {
		return nil, err
	}
	if opts.RxBufferGate != nil {
		engine.SetRxBufferGate(opts.RxBufferGate)
	}
	s.engine = engine

	ctrl.SetReceiver(engine)
	if opts.Trace != nil {
		ctrl.SetTap(opts.Trace.Observe)
	}
	if err := ctrl.Attach(ch); err != nil {
		return nil, err
	}
	physical.SetConnectionStateListener(s)

	return s, nil
}

// Start opens the channel, starts the controller and runs the event loop
func (s *Stack) Start() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.stateMu.Lock()
	running, stopped := s.running, s.stopped
	s.stateMu.Unlock()
	if running {
		return ErrAlreadyRunning
	}
	if stopped {
		return ErrStopped
	}

	if s.controller.State() == types.ControllerUninit {
		if err := s.controller.Init(); err != nil {
			return err
		}
	}
	if err := s.channel.Open(); err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	if err := s.controller.SetMode(types.ControllerStarted); err != nil {
		s.channel.Close()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.stateMu.Lock()
	s.ctx, s.cancel = ctx, cancel
	s.running = true
	s.stateMu.Unlock()

	s.dispatchStop = make(chan struct{})
	s.dispatchWg.Add(1)
	go func() {
		defer s.dispatchWg.Done()
		s.dispatch()
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()

	s.logger.Info("Stack %s started: %d routes, tick %s", s.name, s.controller.Routes().Len(), s.tickPeriod)
	return nil
}

// Stop ends the event loop and closes the channel. Active sessions are
// reported as Cancelled before Stop returns. A stopped stack cannot be
// started again.
func (s *Stack) Stop() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.stateMu.Lock()
	if !s.running {
		s.stateMu.Unlock()
		return nil
	}
	s.running = false
	s.stopped = true
	cancel := s.cancel
	s.stateMu.Unlock()

	s.logger.Info("Stack %s stopping", s.name)

	cancel()
	s.wg.Wait()

	close(s.dispatchStop)
	s.dispatchWg.Wait()

	if err := s.controller.SetMode(types.ControllerStopped); err != nil {
		s.logger.Error("Stack %s: %v", s.name, err)
	}
	if err := s.channel.Close(); err != nil {
		s.logger.Error("Stack %s: closing channel: %v", s.name, err)
	}
	if s.ownedTrace != nil {
		if err := s.ownedTrace.Close(); err != nil {
			s.logger.Error("Stack %s: closing trace: %v", s.name, err)
		}
	}

	s.logger.Info("Stack %s stopped", s.name)
	return nil
}

// run owns the engine until ctx is cancelled
func (s *Stack) run(ctx context.Context) {
	ticker := time.NewTicker(s.tickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.engine.CancelAll()
			s.active.Store(0)
			return
		case <-ticker.C:
			s.engine.OnTick()
		case req := <-s.requests:
			req()
		}
		s.active.Store(int64(s.engine.ActiveSessions()))
	}
}

// dispatch delivers outcomes to the callbacks until stopped, then drains
// what is left
func (s *Stack) dispatch() {
	for {
		select {
		case <-s.notes.Notify():
			s.deliver()
		case <-s.dispatchStop:
			s.deliver()
			return
		}
	}
}

func (s *Stack) deliver() {
	for {
		n, ok := s.notes.Pop()
		if !ok {
			return
		}
		if n.tx {
			if s.callbacks.OnTxConfirmation != nil {
				s.callbacks.OnTxConfirmation(n.pduID, n.result)
			}
		} else if s.callbacks.OnRxIndication != nil {
			s.callbacks.OnRxIndication(n.pduID, n.data, n.result)
		}
	}
}

// do runs fn on the event loop and waits for it
func (s *Stack) do(ctx context.Context, fn func()) error {
	s.stateMu.Lock()
	running := s.running
	loopCtx := s.ctx
	s.stateMu.Unlock()
	if !running {
		return ErrNotRunning
	}

	done := make(chan struct{})
	req := func() {
		fn()
		close(done)
	}

	select {
	case s.requests <- req:
	case <-loopCtx.Done():
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// Send starts a transfer of payload on the route of pduID. The outcome
// arrives through OnTxConfirmation. The stack keeps its own copy of
// payload.
func (s *Stack) Send(pduID types.PduID, payload []byte) error {
	return s.SendContext(context.Background(), pduID, payload)
}

// SendContext is Send bounded by ctx while waiting for the event loop
func (s *Stack) SendContext(ctx context.Context, pduID types.PduID, payload []byte) error {
	route, ok := s.controller.Routes().ByPduID(pduID)
	if !ok {
		return fmt.Errorf("pdu %d: %w", pduID, ErrUnknownPdu)
	}

	data := make([]byte, len(payload))
	copy(data, payload)

	var err error
	if derr := s.do(ctx, func() { err = s.engine.StartTx(route.Key, data) }); derr != nil {
		return derr
	}
	return err
}

// Cancel requests cancellation of the transfer of pduID in direction dir.
// The outcome is reported as Cancelled through the callbacks.
func (s *Stack) Cancel(pduID types.PduID, dir cantp.Direction) error {
	route, ok := s.controller.Routes().ByPduID(pduID)
	if !ok {
		return fmt.Errorf("pdu %d: %w", pduID, ErrUnknownPdu)
	}

	key := route.Key
	if dir == cantp.DirectionRx {
		key = route.RxKey()
	}
	s.engine.Cancel(key, dir)
	return nil
}

// Sessions returns a snapshot of the active sessions. It waits for the
// event loop.
func (s *Stack) Sessions() ([]cantp.SessionInfo, error) {
	var out []cantp.SessionInfo
	err := s.do(context.Background(), func() { out = s.engine.Sessions() })
	return out, err
}

// Controller returns the CAN interface of the node
func (s *Stack) Controller() *canif.Controller {
	return s.controller
}

// Running reports whether the event loop runs
func (s *Stack) Running() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.running
}

// Statistics returns a snapshot of the node counters
func (s *Stack) Statistics() Statistics {
	es := s.engine.Statistics()
	cs := s.channel.GetStatistics()
	is := s.controller.Statistics()

	stats := Statistics{
		Engine: cantp.Statistics{
			TxFrames:        es.GetTxFrames(),
			RxFrames:        es.GetRxFrames(),
			TxMessages:      es.GetTxMessages(),
			RxMessages:      es.GetRxMessages(),
			SequenceErrors:  es.GetSequenceErrors(),
			TimeoutErrors:   es.GetTimeoutErrors(),
			BufferOverflows: es.GetBufferOverflows(),
			ProtocolErrors:  es.GetProtocolErrors(),
			Cancellations:   es.GetCancellations(),
			BusyRejections:  es.GetBusyRejections(),
			DroppedFrames:   es.GetDroppedFrames(),
			TransmitRetries: es.GetTransmitRetries(),
		},
		Channel: ChannelStatistics{
			FramesTx:    cs.GetFramesTx(),
			FramesRx:    cs.GetFramesRx(),
			BadFrames:   cs.GetBadFrames(),
			CRCErrors:   cs.GetCRCErrors(),
			Unrouted:    cs.GetUnrouted(),
			QueueFull:   cs.GetQueueFull(),
			WriteErrors: cs.GetWriteErrors(),
		},
		Interface: InterfaceStatistics{
			TxFrames:   is.GetTxFrames(),
			RxFrames:   is.GetRxFrames(),
			TxBusy:     is.GetTxBusy(),
			TxRejected: is.GetTxRejected(),
			RxDropped:  is.GetRxDropped(),
			UnknownIDs: is.GetUnknownIDs(),
		},
		Physical: s.channel.GetPhysicalStatistics(),
		Sessions: int(s.active.Load()),
	}
	return stats
}

// TxConfirmation implements cantp.Listener
func (s *Stack) TxConfirmation(key cantp.Key, result types.Result) {
	route, ok := s.controller.Routes().ByKey(key)
	if !ok {
		s.logger.Warn("Stack %s: confirmation for unrouted key %s", s.name, key)
		return
	}
	s.logger.Debug("Stack %s: pdu %d sent: %s", s.name, route.PduID, types.Describe(result))
	s.notify(notification{tx: true, pduID: route.PduID, result: result})
}

// RxIndication implements cantp.Listener
func (s *Stack) RxIndication(key cantp.Key, info types.PduInfo, result types.Result) {
	route, ok := s.controller.Routes().ByRxKey(key)
	if !ok {
		s.logger.Warn("Stack %s: indication for unrouted key %s", s.name, key)
		return
	}
	s.logger.Debug("Stack %s: pdu %d received: %s", s.name, route.PduID, types.Describe(result))

	var data []byte
	if types.IsSuccess(result) {
		data = info.Payload()
	}
	s.notify(notification{pduID: route.PduID, data: data, result: result})
}

// notify queues an outcome for the callback goroutine. The queue is
// unbounded and all outcomes share one priority, so order is kept.
func (s *Stack) notify(n notification) {
	_ = s.notes.Push(n, 0)
}

// OnConnectionEstablished implements channel.ConnectionStateListener
func (s *Stack) OnConnectionEstablished() {
	s.logger.Info("Stack %s: medium connected", s.name)
}

// OnConnectionLost implements channel.ConnectionStateListener
func (s *Stack) OnConnectionLost() {
	s.logger.Warn("Stack %s: medium connection lost", s.name)
}

// String returns string representation of Stack
func (s *Stack) String() string {
	return fmt.Sprintf("Stack{Name=%s, Routes=%d, Running=%v}", s.name, s.controller.Routes().Len(), s.Running())
}
