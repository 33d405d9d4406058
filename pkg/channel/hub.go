package channel

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"comstack/cantp-go/pkg/link"
)

// streamPeer is one reliable byte stream to a remote node
type streamPeer interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// hubPeer serialises writes on one peer
type hubPeer struct {
	streamPeer
	writeMu sync.Mutex
}

// streamHub multiplexes envelope streams of any number of peers into one
// bus: each peer has its own reader, received envelopes are merged in
// arrival order and every write goes to all peers. The stream media embed
// it and only add dialing or accepting.
type streamHub struct {
	stateNotifier

	peers    map[*hubPeer]struct{}
	peersMu  sync.Mutex
	incoming chan []byte

	idleTimeout  time.Duration
	writeTimeout time.Duration

	stats transportCounters

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

func (h *streamHub) initHub(idleTimeout, writeTimeout time.Duration) {
	h.peers = make(map[*hubPeer]struct{})
	h.incoming = make(chan []byte, 64)
	h.idleTimeout = idleTimeout
	h.writeTimeout = writeTimeout
	h.ctx, h.cancel = context.WithCancel(context.Background())
}

// addPeer registers p and starts its reader. The first peer brings the
// bus up. A hub that is shutting down closes p instead.
func (h *streamHub) addPeer(p streamPeer) {
	c := &hubPeer{streamPeer: p}

	h.peersMu.Lock()
	if h.closed.Load() {
		h.peersMu.Unlock()
		p.Close()
		return
	}
	h.peers[c] = struct{}{}
	first := len(h.peers) == 1
	h.stats.connects.Add(1)
	h.wg.Add(1)
	h.peersMu.Unlock()

	go h.readLoop(c)

	if first {
		h.notifyEstablished()
	}
}

// removePeer closes c unless it is already gone. Losing the last peer
// takes the bus down.
func (h *streamHub) removePeer(c *hubPeer, counter *atomic.Uint64) {
	h.peersMu.Lock()
	_, present := h.peers[c]
	if present {
		delete(h.peers, c)
		c.Close()
		h.stats.disconnects.Add(1)
	}
	last := present && len(h.peers) == 0
	h.peersMu.Unlock()

	if present && counter != nil {
		counter.Add(1)
	}
	if last && !h.closed.Load() {
		h.notifyLost()
	}
}

// readLoop splits one peer's stream into envelopes
func (h *streamHub) readLoop(c *hubPeer) {
	defer h.wg.Done()

	for {
		if h.idleTimeout > 0 {
			c.SetReadDeadline(time.Now().Add(h.idleTimeout))
		}

		envelope, err := readEnvelope(c)
		if errors.Is(err, ErrResync) || errors.Is(err, link.ErrInvalidLength) {
			// Lost bytes, the stream resynchronises on the next start sequence
			h.stats.readErrors.Add(1)
			if envelope == nil {
				continue
			}
			err = nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) || h.closed.Load() {
				h.removePeer(c, nil)
			} else {
				h.removePeer(c, &h.stats.readErrors)
			}
			return
		}

		h.stats.bytesReceived.Add(uint64(len(envelope)))
		select {
		case h.incoming <- envelope:
		case <-h.ctx.Done():
			return
		}
	}
}

// Read implements PhysicalChannel.Read
func (h *streamHub) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.ctx.Done():
		return nil, ErrChannelClosed
	case envelope := <-h.incoming:
		return envelope, nil
	}
}

func (h *streamHub) snapshot() []*hubPeer {
	h.peersMu.Lock()
	defer h.peersMu.Unlock()
	peers := make([]*hubPeer, 0, len(h.peers))
	for c := range h.peers {
		peers = append(peers, c)
	}
	return peers
}

// Write implements PhysicalChannel.Write. The write succeeds when at
// least one peer took the envelope.
func (h *streamHub) Write(ctx context.Context, data []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.ctx.Done():
		return ErrChannelClosed
	default:
	}

	peers := h.snapshot()
	if len(peers) == 0 {
		h.stats.writeErrors.Add(1)
		return ErrNotConnected
	}

	var firstErr error
	delivered := 0
	for _, c := range peers {
		c.writeMu.Lock()
		c.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		_, err := c.Write(data)
		c.writeMu.Unlock()

		if err != nil {
			h.removePeer(c, &h.stats.writeErrors)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		delivered++
		h.stats.bytesSent.Add(uint64(len(data)))
	}

	if delivered == 0 {
		return firstErr
	}
	return nil
}

// shutdown stops the hub and closes every peer. It reports false when the
// hub was already shut down. Callers wait on wg after releasing their own
// accept or dial resources.
func (h *streamHub) shutdown() bool {
	if !h.closed.CompareAndSwap(false, true) {
		return false
	}

	h.cancel()

	h.peersMu.Lock()
	for c := range h.peers {
		c.Close()
		h.stats.disconnects.Add(1)
	}
	clear(h.peers)
	h.peersMu.Unlock()
	return true
}

// Statistics implements PhysicalChannel.Statistics
func (h *streamHub) Statistics() TransportStats {
	return h.stats.snapshot()
}

// Peers returns the number of connected peers
func (h *streamHub) Peers() int {
	h.peersMu.Lock()
	defer h.peersMu.Unlock()
	return len(h.peers)
}

// IsConnected returns true if at least one peer is connected
func (h *streamHub) IsConnected() bool {
	return h.Peers() > 0
}
