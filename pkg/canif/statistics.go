package canif

import "sync/atomic"

// Statistics tracks interface-level counters
type Statistics struct {
	numTxFrames   uint64
	numRxFrames   uint64
	numTxBusy     uint64
	numTxRejected uint64
	numRxDropped  uint64
	numUnknownIDs uint64
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{}
}

func (s *Statistics) txFrame()   { atomic.AddUint64(&s.numTxFrames, 1) }
func (s *Statistics) rxFrame()   { atomic.AddUint64(&s.numRxFrames, 1) }
func (s *Statistics) txBusy()    { atomic.AddUint64(&s.numTxBusy, 1) }
func (s *Statistics) txReject()  { atomic.AddUint64(&s.numTxRejected, 1) }
func (s *Statistics) rxDrop()    { atomic.AddUint64(&s.numRxDropped, 1) }
func (s *Statistics) unknownID() { atomic.AddUint64(&s.numUnknownIDs, 1) }

// GetTxFrames returns frames handed to the channel
func (s *Statistics) GetTxFrames() uint64 {
	return atomic.LoadUint64(&s.numTxFrames)
}

// GetRxFrames returns frames passed to the upper layer
func (s *Statistics) GetRxFrames() uint64 {
	return atomic.LoadUint64(&s.numRxFrames)
}

// GetTxBusy returns transmissions refused by a full queue
func (s *Statistics) GetTxBusy() uint64 {
	return atomic.LoadUint64(&s.numTxBusy)
}

// GetTxRejected returns transmissions refused for state, route or format
func (s *Statistics) GetTxRejected() uint64 {
	return atomic.LoadUint64(&s.numTxRejected)
}

// GetRxDropped returns received frames not delivered upward
func (s *Statistics) GetRxDropped() uint64 {
	return atomic.LoadUint64(&s.numRxDropped)
}

// GetUnknownIDs returns received frames on identifiers without a route
func (s *Statistics) GetUnknownIDs() uint64 {
	return atomic.LoadUint64(&s.numUnknownIDs)
}

// Reset resets all counters
func (s *Statistics) Reset() {
	atomic.StoreUint64(&s.numTxFrames, 0)
	atomic.StoreUint64(&s.numRxFrames, 0)
	atomic.StoreUint64(&s.numTxBusy, 0)
	atomic.StoreUint64(&s.numTxRejected, 0)
	atomic.StoreUint64(&s.numRxDropped, 0)
	atomic.StoreUint64(&s.numUnknownIDs, 0)
}
