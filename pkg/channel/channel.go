package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"comstack/cantp-go/pkg/internal/logger"
	"comstack/cantp-go/pkg/internal/queue"
	"comstack/cantp-go/pkg/link"
	"comstack/cantp-go/pkg/types"
)

var (
	ErrChannelClosed  = errors.New("channel is closed")
	ErrChannelOpen    = errors.New("channel is already open")
	ErrNotConnected   = errors.New("no connection")
	ErrTxQueueFull    = errors.New("transmit queue full")
	ErrNoRoute        = errors.New("no handler for identifier")
	ErrDuplicateRoute = errors.New("identifier already routed")
)

// DefaultQueueSize is the transmit queue capacity used when none is given
const DefaultQueueSize = 64

// Channel moves CAN frames between a physical medium and the handlers
// registered on its router. Writes are queued by priority and sent by a
// single writer goroutine.
type Channel struct {
	id              string
	physicalChannel PhysicalChannel
	router          *Router
	stats           *Statistics
	logger          logger.Logger

	// State
	state   ChannelState
	stateMu sync.RWMutex

	// Concurrency
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	writeQueue *queue.PriorityQueue[*link.Frame]
}

// New creates a new channel. queueSize <= 0 selects DefaultQueueSize.
func New(id string, physical PhysicalChannel, queueSize int, log logger.Logger) *Channel {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	return &Channel{
		id:              id,
		physicalChannel: physical,
		router:          NewRouter(),
		stats:           NewStatistics(),
		logger:          log,
		state:           ChannelStateClosed,
		writeQueue:      queue.NewPriorityQueue[*link.Frame](queueSize),
	}
}

// ID returns the channel ID
func (c *Channel) ID() string {
	return c.id
}

// Open starts the read and write loops
func (c *Channel) Open() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.state == ChannelStateOpen {
		return ErrChannelOpen
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.state = ChannelStateOpen
	c.logger.Info("Channel %s opening", c.id)

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.readLoop()
	}()
	go func() {
		defer c.wg.Done()
		c.writeLoop()
	}()

	c.logger.Info("Channel %s opened", c.id)
	return nil
}

// Close stops the loops and closes the medium. Queued frames are discarded.
func (c *Channel) Close() error {
	c.stateMu.Lock()
	if c.state == ChannelStateClosed {
		c.stateMu.Unlock()
		return nil
	}
	c.state = ChannelStateClosed
	c.stateMu.Unlock()

	c.logger.Info("Channel %s closing", c.id)

	c.cancel()

	if err := c.physicalChannel.Close(); err != nil {
		c.logger.Error("Error closing physical channel: %v", err)
	}

	c.wg.Wait()
	c.writeQueue.Clear()

	c.logger.Info("Channel %s closed", c.id)
	return nil
}

// readLoop reads envelopes from the medium and routes their frames
func (c *Channel) readLoop() {
	c.logger.Debug("Channel %s read loop started", c.id)
	defer c.logger.Debug("Channel %s read loop stopped", c.id)

	for {
		data, err := c.physicalChannel.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil || errors.Is(err, ErrChannelClosed) {
				return
			}
			c.logger.Error("Channel %s read error: %v", c.id, err)
			c.stats.BadFrame()
			continue
		}

		frame, _, err := link.Parse(data)
		if err != nil {
			if errors.Is(err, link.ErrInvalidCRC) {
				c.stats.CRCError()
			}
			c.logger.Warn("Channel %s parse error: %v", c.id, err)
			c.stats.BadFrame()
			continue
		}

		c.stats.FrameRx()
		logger.FrameDebug(c.logger, "CAN RX "+frame.ID.String(), frame.Data)

		if err := c.router.Route(frame); err != nil {
			if errors.Is(err, ErrNoRoute) {
				c.stats.Unrouted()
				c.logger.Debug("Channel %s: %v", c.id, err)
				continue
			}
			c.logger.Warn("Channel %s routing error: %v", c.id, err)
		}
	}
}

// writeLoop sends queued frames, highest priority first
func (c *Channel) writeLoop() {
	c.logger.Debug("Channel %s write loop started", c.id)
	defer c.logger.Debug("Channel %s write loop stopped", c.id)

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.writeQueue.Notify():
		}

		for {
			frame, ok := c.writeQueue.Pop()
			if !ok {
				break
			}
			c.send(frame)
			if c.ctx.Err() != nil {
				return
			}
		}
	}
}

func (c *Channel) send(frame *link.Frame) {
	data, err := frame.Serialize()
	if err != nil {
		c.logger.Error("Channel %s: cannot serialize %s: %v", c.id, frame, err)
		c.stats.WriteError()
		return
	}

	if err := c.physicalChannel.Write(c.ctx, data); err != nil {
		if c.ctx.Err() == nil {
			c.logger.Error("Channel %s write error: %v", c.id, err)
		}
		c.stats.WriteError()
		return
	}

	c.stats.FrameTx()
	logger.FrameDebug(c.logger, "CAN TX "+frame.ID.String(), frame.Data)
}

// Enqueue queues frame for transmission without blocking.
// Returns ErrTxQueueFull when the queue holds its capacity.
func (c *Channel) Enqueue(frame *link.Frame, priority types.TxPriority) error {
	c.stateMu.RLock()
	open := c.state == ChannelStateOpen
	c.stateMu.RUnlock()
	if !open {
		return ErrChannelClosed
	}

	if err := frame.Validate(); err != nil {
		return err
	}

	if err := c.writeQueue.Push(frame, int(priority)); err != nil {
		c.stats.QueueFull()
		return ErrTxQueueFull
	}
	return nil
}

// QueueLen returns the number of frames waiting for transmission
func (c *Channel) QueueLen() int {
	return c.writeQueue.Len()
}

// AddHandler routes frames with identifier id to handler
func (c *Channel) AddHandler(id types.CANID, handler FrameHandler) error {
	if err := c.router.AddHandler(id, handler); err != nil {
		return err
	}

	c.stats.SetHandlers(uint64(c.router.GetHandlerCount()))
	c.logger.Debug("Channel %s: added handler for %s", c.id, id)
	return nil
}

// RemoveHandler removes the handler of id
func (c *Channel) RemoveHandler(id types.CANID) {
	c.router.RemoveHandler(id)
	c.stats.SetHandlers(uint64(c.router.GetHandlerCount()))
	c.logger.Debug("Channel %s: removed handler for %s", c.id, id)
}

// SetFallback sets the handler for frames no handler is registered for
func (c *Channel) SetFallback(handler FrameHandler) {
	c.router.SetFallback(handler)
}

// GetStatistics returns channel statistics
func (c *Channel) GetStatistics() *Statistics {
	return c.stats
}

// GetPhysicalStatistics returns physical channel statistics
func (c *Channel) GetPhysicalStatistics() TransportStats {
	return c.physicalChannel.Statistics()
}

// State returns the current channel state
func (c *Channel) State() ChannelState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// String returns string representation of channel
func (c *Channel) String() string {
	return fmt.Sprintf("Channel{ID=%s, State=%s, Handlers=%d}",
		c.id, c.State(), c.router.GetHandlerCount())
}
