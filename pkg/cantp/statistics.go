package cantp

import (
	"sync/atomic"
	"time"
)

// Statistics tracks transport protocol metrics.
// Counters may be read from any goroutine.
type Statistics struct {
	// Frame counts
	TxFrames uint64
	RxFrames uint64

	// Message counts
	TxMessages uint64
	RxMessages uint64

	// Error counts
	SequenceErrors  uint64
	TimeoutErrors   uint64
	BufferOverflows uint64
	ProtocolErrors  uint64
	Cancellations   uint64
	BusyRejections  uint64
	DroppedFrames   uint64
	TransmitRetries uint64

	// Timing (stored as Unix nano for atomic operations)
	lastTxTimeNano int64
	lastRxTimeNano int64
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{}
}

// IncrementTxFrames increments transmitted frame count
func (s *Statistics) IncrementTxFrames() {
	atomic.AddUint64(&s.TxFrames, 1)
}

// IncrementRxFrames increments received frame count
func (s *Statistics) IncrementRxFrames() {
	atomic.AddUint64(&s.RxFrames, 1)
}

// IncrementTxMessages increments transmitted message count
func (s *Statistics) IncrementTxMessages() {
	atomic.AddUint64(&s.TxMessages, 1)
	atomic.StoreInt64(&s.lastTxTimeNano, time.Now().UnixNano())
}

// IncrementRxMessages increments received message count
func (s *Statistics) IncrementRxMessages() {
	atomic.AddUint64(&s.RxMessages, 1)
	atomic.StoreInt64(&s.lastRxTimeNano, time.Now().UnixNano())
}

// IncrementSequenceErrors increments sequence error count
func (s *Statistics) IncrementSequenceErrors() {
	atomic.AddUint64(&s.SequenceErrors, 1)
}

// IncrementTimeoutErrors increments timeout error count
func (s *Statistics) IncrementTimeoutErrors() {
	atomic.AddUint64(&s.TimeoutErrors, 1)
}

// IncrementBufferOverflows increments buffer overflow count
func (s *Statistics) IncrementBufferOverflows() {
	atomic.AddUint64(&s.BufferOverflows, 1)
}

// IncrementProtocolErrors increments protocol error count
func (s *Statistics) IncrementProtocolErrors() {
	atomic.AddUint64(&s.ProtocolErrors, 1)
}

// IncrementCancellations increments cancellation count
func (s *Statistics) IncrementCancellations() {
	atomic.AddUint64(&s.Cancellations, 1)
}

// IncrementBusyRejections increments rejected start count
func (s *Statistics) IncrementBusyRejections() {
	atomic.AddUint64(&s.BusyRejections, 1)
}

// IncrementDroppedFrames increments dropped frame count
func (s *Statistics) IncrementDroppedFrames() {
	atomic.AddUint64(&s.DroppedFrames, 1)
}

// IncrementTransmitRetries increments driver retry count
func (s *Statistics) IncrementTransmitRetries() {
	atomic.AddUint64(&s.TransmitRetries, 1)
}

// GetTxFrames returns transmitted frame count
func (s *Statistics) GetTxFrames() uint64 {
	return atomic.LoadUint64(&s.TxFrames)
}

// GetRxFrames returns received frame count
func (s *Statistics) GetRxFrames() uint64 {
	return atomic.LoadUint64(&s.RxFrames)
}

// GetTxMessages returns transmitted message count
func (s *Statistics) GetTxMessages() uint64 {
	return atomic.LoadUint64(&s.TxMessages)
}

// GetRxMessages returns received message count
func (s *Statistics) GetRxMessages() uint64 {
	return atomic.LoadUint64(&s.RxMessages)
}

// GetSequenceErrors returns sequence error count
func (s *Statistics) GetSequenceErrors() uint64 {
	return atomic.LoadUint64(&s.SequenceErrors)
}

// GetTimeoutErrors returns timeout error count
func (s *Statistics) GetTimeoutErrors() uint64 {
	return atomic.LoadUint64(&s.TimeoutErrors)
}

// GetBufferOverflows returns buffer overflow count
func (s *Statistics) GetBufferOverflows() uint64 {
	return atomic.LoadUint64(&s.BufferOverflows)
}

// GetProtocolErrors returns protocol error count
func (s *Statistics) GetProtocolErrors() uint64 {
	return atomic.LoadUint64(&s.ProtocolErrors)
}

// GetCancellations returns cancellation count
func (s *Statistics) GetCancellations() uint64 {
	return atomic.LoadUint64(&s.Cancellations)
}

// GetBusyRejections returns rejected start count
func (s *Statistics) GetBusyRejections() uint64 {
	return atomic.LoadUint64(&s.BusyRejections)
}

// GetDroppedFrames returns dropped frame count
func (s *Statistics) GetDroppedFrames() uint64 {
	return atomic.LoadUint64(&s.DroppedFrames)
}

// GetTransmitRetries returns driver retry count
func (s *Statistics) GetTransmitRetries() uint64 {
	return atomic.LoadUint64(&s.TransmitRetries)
}

// GetLastTxTime returns the time of the last completed transmission
func (s *Statistics) GetLastTxTime() time.Time {
	nano := atomic.LoadInt64(&s.lastTxTimeNano)
	if nano == 0 {
		return time.Time{}
	}
	return time.Unix(0, nano)
}

// GetLastRxTime returns the time of the last completed reception
func (s *Statistics) GetLastRxTime() time.Time {
	nano := atomic.LoadInt64(&s.lastRxTimeNano)
	if nano == 0 {
		return time.Time{}
	}
	return time.Unix(0, nano)
}

// Reset resets all statistics to zero
func (s *Statistics) Reset() {
	atomic.StoreUint64(&s.TxFrames, 0)
	atomic.StoreUint64(&s.RxFrames, 0)
	atomic.StoreUint64(&s.TxMessages, 0)
	atomic.StoreUint64(&s.RxMessages, 0)
	atomic.StoreUint64(&s.SequenceErrors, 0)
	atomic.StoreUint64(&s.TimeoutErrors, 0)
	atomic.StoreUint64(&s.BufferOverflows, 0)
	atomic.StoreUint64(&s.ProtocolErrors, 0)
	atomic.StoreUint64(&s.Cancellations, 0)
	atomic.StoreUint64(&s.BusyRejections, 0)
	atomic.StoreUint64(&s.DroppedFrames, 0)
	atomic.StoreUint64(&s.TransmitRetries, 0)
	atomic.StoreInt64(&s.lastTxTimeNano, 0)
	atomic.StoreInt64(&s.lastRxTimeNano, 0)
}
