package channel

import (
	"context"
	"sync"
)

// LoopbackChannel is an in-process PhysicalChannel. Envelopes written to
// one end of a pair are read from the other.
type LoopbackChannel struct {
	stateNotifier

	rx   chan []byte
	peer *LoopbackChannel

	closeChan chan struct{}
	closeOnce sync.Once

	stats transportCounters
}

// NewLoopbackPair creates two connected loopback ends. depth is the number
// of envelopes buffered per direction.
func NewLoopbackPair(depth int) (*LoopbackChannel, *LoopbackChannel) {
	if depth <= 0 {
		depth = 64
	}
	a := &LoopbackChannel{rx: make(chan []byte, depth), closeChan: make(chan struct{})}
	b := &LoopbackChannel{rx: make(chan []byte, depth), closeChan: make(chan struct{})}
	a.peer, b.peer = b, a
	a.stats.connects.Add(1)
	b.stats.connects.Add(1)
	return a, b
}

// Read implements PhysicalChannel.Read
func (l *LoopbackChannel) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closeChan:
		return nil, ErrChannelClosed
	case data := <-l.rx:
		l.stats.bytesReceived.Add(uint64(len(data)))
		return data, nil
	}
}

// Write implements PhysicalChannel.Write
func (l *LoopbackChannel) Write(ctx context.Context, data []byte) error {
	select {
	case <-l.closeChan:
		return ErrChannelClosed
	case <-l.peer.closeChan:
		l.stats.writeErrors.Add(1)
		return ErrNotConnected
	default:
	}

	frame := make([]byte, len(data))
	copy(frame, data)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.closeChan:
		return ErrChannelClosed
	case <-l.peer.closeChan:
		l.stats.writeErrors.Add(1)
		return ErrNotConnected
	case l.peer.rx <- frame:
		l.stats.bytesSent.Add(uint64(len(frame)))
		return nil
	}
}

// Close implements PhysicalChannel.Close
func (l *LoopbackChannel) Close() error {
	l.closeOnce.Do(func() {
		close(l.closeChan)
		l.stats.disconnects.Add(1)
		l.peer.notifyLost()
	})
	return nil
}

// Statistics implements PhysicalChannel.Statistics
func (l *LoopbackChannel) Statistics() TransportStats {
	return l.stats.snapshot()
}
