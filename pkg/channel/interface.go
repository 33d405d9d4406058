package channel

import (
	"context"
	"sync"
	"sync/atomic"
)

// ConnectionStateListener receives notifications about connection state changes
type ConnectionStateListener interface {
	// OnConnectionEstablished is called when a new connection is established
	OnConnectionEstablished()

	// OnConnectionLost is called when a connection is lost
	OnConnectionLost()
}

// PhysicalChannel is a medium carrying CAN frame envelopes.
// Implementations exist for TCP, UDP, QUIC, serial SLCAN adapters and an
// in-process loopback; users may plug in their own.
type PhysicalChannel interface {
	// Read blocks until one complete envelope (link.Frame.Serialize
	// layout) is available or ctx is cancelled
	Read(ctx context.Context) ([]byte, error)

	// Write sends one envelope. It must be safe for concurrent use.
	Write(ctx context.Context, data []byte) error

	// Close releases the medium and unblocks pending Read and Write calls
	Close() error

	// Statistics returns transport-level statistics.
	// Zero values are allowed for counters a medium does not track.
	Statistics() TransportStats

	// SetConnectionStateListener sets a listener for connection state changes.
	// Connectionless media may never call it.
	SetConnectionStateListener(listener ConnectionStateListener)
}

// TransportStats provides transport-level statistics
type TransportStats struct {
	BytesSent     uint64 // Total bytes sent
	BytesReceived uint64 // Total bytes received
	WriteErrors   uint64 // Number of write errors
	ReadErrors    uint64 // Number of read errors
	Connects      uint64 // Number of connections (for connection-oriented transports)
	Disconnects   uint64 // Number of disconnections
}

// ChannelState represents the state of a channel
type ChannelState int

const (
	ChannelStateOpen ChannelState = iota
	ChannelStateClosed
)

// String returns string representation of ChannelState
func (s ChannelState) String() string {
	switch s {
	case ChannelStateOpen:
		return "Open"
	case ChannelStateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// transportCounters is embedded by the media to back Statistics
type transportCounters struct {
	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64
	writeErrors   atomic.Uint64
	readErrors    atomic.Uint64
	connects      atomic.Uint64
	disconnects   atomic.Uint64
}

func (c *transportCounters) snapshot() TransportStats {
	return TransportStats{
		BytesSent:     c.bytesSent.Load(),
		BytesReceived: c.bytesReceived.Load(),
		WriteErrors:   c.writeErrors.Load(),
		ReadErrors:    c.readErrors.Load(),
		Connects:      c.connects.Load(),
		Disconnects:   c.disconnects.Load(),
	}
}

// stateNotifier holds the connection state listener of a medium
type stateNotifier struct {
	listener ConnectionStateListener
	mu       sync.RWMutex
}

// SetConnectionStateListener sets a listener for connection state changes
func (n *stateNotifier) SetConnectionStateListener(listener ConnectionStateListener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listener = listener
}

func (n *stateNotifier) notifyEstablished() {
	n.mu.RLock()
	listener := n.listener
	n.mu.RUnlock()

	if listener != nil {
		listener.OnConnectionEstablished()
	}
}

func (n *stateNotifier) notifyLost() {
	n.mu.RLock()
	listener := n.listener
	n.mu.RUnlock()

	if listener != nil {
		listener.OnConnectionLost()
	}
}
