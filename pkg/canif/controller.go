package canif

import (
	"errors"
	"fmt"
	"sync"

	"comstack/cantp-go/pkg/cantp"
	"comstack/cantp-go/pkg/channel"
	"comstack/cantp-go/pkg/internal/logger"
	"comstack/cantp-go/pkg/link"
	"comstack/cantp-go/pkg/types"
)

var (
	ErrControllerNotStarted = errors.New("controller not started")
	ErrNotInitialized       = errors.New("controller not initialized")
	ErrAlreadyInitialized   = errors.New("controller already initialized")
	ErrInvalidTransition    = errors.New("invalid controller mode transition")
)

// FrameWriter queues frames for the bus without blocking.
// *channel.Channel implements it.
type FrameWriter interface {
	Enqueue(frame *link.Frame, priority types.TxPriority) error
}

// Receiver is the upper layer fed with received frames.
// *cantp.Engine implements it.
type Receiver interface {
	Post(key cantp.Key, raw []byte) error
}

// HandlerRegistry registers frame handlers per identifier.
// *channel.Channel implements it.
type HandlerRegistry interface {
	AddHandler(id types.CANID, handler channel.FrameHandler) error
}

// TapFunc observes frames crossing the interface. dir is DirectionTx for
// frames accepted by the channel and DirectionRx for routed frames
// received while Started.
type TapFunc func(dir cantp.Direction, frame *link.Frame)

// ModeFunc is called after each controller mode change
type ModeFunc func(from, to types.ControllerState)

// Config configures a Controller
type Config struct {
	Routes []Route
	FD     bool // Send CAN FD frames
	BRS    bool // Bit rate switch on CAN FD frames
}

// Controller is the CAN interface between the bus channel and the TP
// engine. It holds the controller mode and translates between CAN
// identifiers and transport keys.
type Controller struct {
	mu    sync.RWMutex
	state types.ControllerState

	routes *RouteTable
	writer FrameWriter
	upper  Receiver
	fd     bool
	brs    bool

	tap    TapFunc
	onMode ModeFunc

	stats  *Statistics
	logger logger.Logger
}

// New creates a controller in the Uninit state
func New(config Config, writer FrameWriter, log logger.Logger) (*Controller, error) {
	routes, err := NewRouteTable(config.Routes...)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	return &Controller{
		state:  types.ControllerUninit,
		routes: routes,
		writer: writer,
		fd:     config.FD,
		brs:    config.FD && config.BRS,
		stats:  NewStatistics(),
		logger: log,
	}, nil
}

// SetReceiver sets the upper layer. Frames received before are dropped.
func (c *Controller) SetReceiver(upper Receiver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upper = upper
}

// SetTap sets an observer for transmitted and received frames
func (c *Controller) SetTap(tap TapFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tap = tap
}

// SetModeListener sets the mode change callback
func (c *Controller) SetModeListener(fn ModeFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMode = fn
}

// Routes returns the route table
func (c *Controller) Routes() *RouteTable {
	return c.routes
}

// Statistics returns interface statistics
func (c *Controller) Statistics() *Statistics {
	return c.stats
}

// Attach registers the controller as handler of every receive identifier
func (c *Controller) Attach(registry HandlerRegistry) error {
	for _, r := range c.routes.Routes() {
		if err := registry.AddHandler(r.RxID, c); err != nil {
			return fmt.Errorf("attach %s: %w", r, err)
		}
	}
	return nil
}

// Init moves the controller from Uninit to Stopped
func (c *Controller) Init() error {
	c.mu.Lock()
	if c.state != types.ControllerUninit {
		c.mu.Unlock()
		return ErrAlreadyInitialized
	}
	c.state = types.ControllerStopped
	onMode := c.onMode
	c.mu.Unlock()

	c.logger.Info("Controller initialized with %d routes", c.routes.Len())
	if onMode != nil {
		onMode(types.ControllerUninit, types.ControllerStopped)
	}
	return nil
}

// SetMode requests a mode change. Allowed transitions are Stopped to
// Started or Sleep, and back to Stopped. Requesting the current mode is a
// no-op.
func (c *Controller) SetMode(to types.ControllerState) error {
	c.mu.Lock()
	from := c.state
	if from == types.ControllerUninit {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	if from == to {
		c.mu.Unlock()
		return nil
	}
	if !validTransition(from, to) {
		c.mu.Unlock()
		return fmt.Errorf("%s to %s: %w", from, to, ErrInvalidTransition)
	}
	c.state = to
	onMode := c.onMode
	c.mu.Unlock()

	c.logger.Info("Controller mode %s -> %s", from, to)
	if onMode != nil {
		onMode(from, to)
	}
	return nil
}

func validTransition(from, to types.ControllerState) bool {
	switch from {
	case types.ControllerStopped:
		return to == types.ControllerStarted || to == types.ControllerSleep
	case types.ControllerStarted, types.ControllerSleep:
		return to == types.ControllerStopped
	}
	return false
}

// State returns the controller mode
func (c *Controller) State() types.ControllerState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Transmit implements cantp.Sink. The frame goes out on the transmit
// identifier of the route owning key. A full channel queue is reported as
// cantp.ErrTransmitBusy so the engine retries.
func (c *Controller) Transmit(key cantp.Key, data []byte) error {
	c.mu.RLock()
	state := c.state
	tap := c.tap
	c.mu.RUnlock()

	if state != types.ControllerStarted {
		c.stats.txReject()
		return ErrControllerNotStarted
	}

	route, ok := c.routes.ByKey(key)
	if !ok {
		c.stats.txReject()
		return fmt.Errorf("key %s: %w", key, ErrUnknownRoute)
	}

	payload := make([]byte, len(data))
	copy(payload, data)

	frame := link.NewFrame(route.TxID, payload)
	if c.fd {
		frame.FD = true
		frame.BRS = c.brs
	}

	if err := c.writer.Enqueue(frame, route.Priority); err != nil {
		if errors.Is(err, channel.ErrTxQueueFull) {
			c.stats.txBusy()
			return cantp.ErrTransmitBusy
		}
		c.stats.txReject()
		return fmt.Errorf("transmit on %s: %w", route.TxID, err)
	}

	c.stats.txFrame()
	if tap != nil {
		tap(cantp.DirectionTx, frame)
	}
	return nil
}

// OnFrame implements channel.FrameHandler
func (c *Controller) OnFrame(frame *link.Frame) error {
	return c.OnReceive(frame)
}

// OnReceive maps the frame identifier to its receive key and posts the
// data to the upper layer. Frames are dropped while the controller is
// not Started.
func (c *Controller) OnReceive(frame *link.Frame) error {
	c.mu.RLock()
	state := c.state
	upper := c.upper
	tap := c.tap
	c.mu.RUnlock()

	route, ok := c.routes.ByRxID(frame.ID)
	if !ok {
		c.stats.unknownID()
		return fmt.Errorf("rx id %s: %w", frame.ID, ErrUnknownRoute)
	}

	if state != types.ControllerStarted || upper == nil {
		c.stats.rxDrop()
		c.logger.Debug("Dropped frame on %s in mode %s", frame.ID, state)
		return nil
	}

	// Tapped before posting so the trace keeps bus order
	if tap != nil {
		tap(cantp.DirectionRx, frame)
	}
	if err := upper.Post(route.RxKey(), frame.Data); err != nil {
		c.stats.rxDrop()
		return fmt.Errorf("deliver %s: %w", frame.ID, err)
	}

	c.stats.rxFrame()
	return nil
}
