package channel

import "sync/atomic"

// Statistics tracks channel-level statistics
type Statistics struct {
	numFramesTx    uint64
	numFramesRx    uint64
	numBadFrames   uint64
	numCRCErrors   uint64
	numUnrouted    uint64
	numQueueFull   uint64
	numWriteErrors uint64

	numHandlers uint64
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{}
}

// FrameTx increments transmitted frames
func (s *Statistics) FrameTx() {
	atomic.AddUint64(&s.numFramesTx, 1)
}

// FrameRx increments received frames
func (s *Statistics) FrameRx() {
	atomic.AddUint64(&s.numFramesRx, 1)
}

// BadFrame increments envelopes that could not be parsed
func (s *Statistics) BadFrame() {
	atomic.AddUint64(&s.numBadFrames, 1)
}

// CRCError increments envelopes with a bad CRC
func (s *Statistics) CRCError() {
	atomic.AddUint64(&s.numCRCErrors, 1)
}

// Unrouted increments frames without a handler
func (s *Statistics) Unrouted() {
	atomic.AddUint64(&s.numUnrouted, 1)
}

// QueueFull increments frames refused by a full write queue
func (s *Statistics) QueueFull() {
	atomic.AddUint64(&s.numQueueFull, 1)
}

// WriteError increments failed medium writes
func (s *Statistics) WriteError() {
	atomic.AddUint64(&s.numWriteErrors, 1)
}

// SetHandlers sets the number of registered handlers
func (s *Statistics) SetHandlers(count uint64) {
	atomic.StoreUint64(&s.numHandlers, count)
}

// GetFramesTx returns transmitted frames
func (s *Statistics) GetFramesTx() uint64 {
	return atomic.LoadUint64(&s.numFramesTx)
}

// GetFramesRx returns received frames
func (s *Statistics) GetFramesRx() uint64 {
	return atomic.LoadUint64(&s.numFramesRx)
}

// GetBadFrames returns envelopes that could not be parsed
func (s *Statistics) GetBadFrames() uint64 {
	return atomic.LoadUint64(&s.numBadFrames)
}

// GetCRCErrors returns CRC errors
func (s *Statistics) GetCRCErrors() uint64 {
	return atomic.LoadUint64(&s.numCRCErrors)
}

// GetUnrouted returns frames without a handler
func (s *Statistics) GetUnrouted() uint64 {
	return atomic.LoadUint64(&s.numUnrouted)
}

// GetQueueFull returns frames refused by a full write queue
func (s *Statistics) GetQueueFull() uint64 {
	return atomic.LoadUint64(&s.numQueueFull)
}

// GetWriteErrors returns failed medium writes
func (s *Statistics) GetWriteErrors() uint64 {
	return atomic.LoadUint64(&s.numWriteErrors)
}

// GetHandlers returns the number of registered handlers
func (s *Statistics) GetHandlers() uint64 {
	return atomic.LoadUint64(&s.numHandlers)
}

// Reset resets all counters
func (s *Statistics) Reset() {
	atomic.StoreUint64(&s.numFramesTx, 0)
	atomic.StoreUint64(&s.numFramesRx, 0)
	atomic.StoreUint64(&s.numBadFrames, 0)
	atomic.StoreUint64(&s.numCRCErrors, 0)
	atomic.StoreUint64(&s.numUnrouted, 0)
	atomic.StoreUint64(&s.numQueueFull, 0)
	atomic.StoreUint64(&s.numWriteErrors, 0)
}
