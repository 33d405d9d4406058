package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"comstack/cantp-go/pkg/link"
)

// UDPChannel implements PhysicalChannel over UDP, one envelope per datagram.
//
// A client sends every envelope to one hub address. A hub (server mode)
// learns its peers from the datagrams it receives and fans every envelope
// out to all of them, so several nodes share one virtual bus. Peers that
// stay silent for PeerExpiry are forgotten.
type UDPChannel struct {
	stateNotifier

	conn   *net.UDPConn
	remote *net.UDPAddr // Client mode destination
	hub    bool

	peers      map[string]*udpPeer
	peersMu    sync.Mutex
	peerExpiry time.Duration

	readTimeout  time.Duration
	writeTimeout time.Duration

	stats transportCounters

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

type udpPeer struct {
	addr     *net.UDPAddr
	lastSeen time.Time
}

// UDPChannelConfig configures a UDP channel
type UDPChannelConfig struct {
	Address      string        // "host:port" format
	IsServer     bool          // true = bind as hub, false = send to the hub at Address
	PeerExpiry   time.Duration // Hub only: forget silent peers after this long (0 = 1m)
	ReadTimeout  time.Duration // Read poll interval (0 = 1s)
	WriteTimeout time.Duration // Write timeout (0 = 10s)
}

// NewUDPChannel creates a new UDP channel
func NewUDPChannel(config UDPChannelConfig) (*UDPChannel, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("address is required")
	}
	if config.PeerExpiry == 0 {
		config.PeerExpiry = time.Minute
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 10 * time.Second
	}

	addr, err := net.ResolveUDPAddr("udp", config.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address %s: %w", config.Address, err)
	}

	bind := addr
	if !config.IsServer {
		bind = &net.UDPAddr{}
	}
	conn, err := net.ListenUDP("udp", bind)
	if err != nil {
		return nil, fmt.Errorf("failed to bind UDP socket for %s: %w", config.Address, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	uc := &UDPChannel{
		conn:         conn,
		hub:          config.IsServer,
		peers:        make(map[string]*udpPeer),
		peerExpiry:   config.PeerExpiry,
		readTimeout:  config.ReadTimeout,
		writeTimeout: config.WriteTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
	if !config.IsServer {
		uc.remote = addr
	}
	uc.stats.connects.Add(1)
	return uc, nil
}

// Read implements PhysicalChannel.Read
func (uc *UDPChannel) Read(ctx context.Context) ([]byte, error) {
	buffer := make([]byte, link.MaxFrameSize)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-uc.ctx.Done():
			return nil, ErrChannelClosed
		default:
		}

		uc.conn.SetReadDeadline(time.Now().Add(uc.readTimeout))
		n, from, err := uc.conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				uc.expirePeers(time.Now())
				continue
			}
			if uc.closed.Load() {
				return nil, ErrChannelClosed
			}
			uc.stats.readErrors.Add(1)
			return nil, err
		}

		if uc.hub && from != nil {
			uc.learnPeer(from, time.Now())
		}

		size, err := link.EnvelopeLength(buffer[:n])
		if err != nil || n != size {
			uc.stats.readErrors.Add(1)
			continue
		}

		envelope := make([]byte, n)
		copy(envelope, buffer[:n])
		uc.stats.bytesReceived.Add(uint64(n))
		return envelope, nil
	}
}

// learnPeer records a sender. The first peer brings the bus up.
func (uc *UDPChannel) learnPeer(addr *net.UDPAddr, now time.Time) {
	key := addr.String()

	uc.peersMu.Lock()
	peer, known := uc.peers[key]
	if known {
		peer.lastSeen = now
	} else {
		uc.peers[key] = &udpPeer{addr: addr, lastSeen: now}
	}
	first := !known && len(uc.peers) == 1
	uc.peersMu.Unlock()

	if !known {
		uc.stats.connects.Add(1)
	}
	if first {
		uc.notifyEstablished()
	}
}

// expirePeers drops silent peers. Losing the last one takes the bus down.
func (uc *UDPChannel) expirePeers(now time.Time) {
	if !uc.hub {
		return
	}

	uc.peersMu.Lock()
	had := len(uc.peers)
	for key, peer := range uc.peers {
		if now.Sub(peer.lastSeen) >= uc.peerExpiry {
			delete(uc.peers, key)
			uc.stats.disconnects.Add(1)
		}
	}
	lost := had > 0 && len(uc.peers) == 0
	uc.peersMu.Unlock()

	if lost {
		uc.notifyLost()
	}
}

// destinations returns where an envelope goes
func (uc *UDPChannel) destinations() []*net.UDPAddr {
	if !uc.hub {
		return []*net.UDPAddr{uc.remote}
	}

	uc.peersMu.Lock()
	defer uc.peersMu.Unlock()
	addrs := make([]*net.UDPAddr, 0, len(uc.peers))
	for _, peer := range uc.peers {
		addrs = append(addrs, peer.addr)
	}
	return addrs
}

// Write implements PhysicalChannel.Write. A hub without peers reports
// ErrNotConnected; a write reaching at least one peer succeeds.
func (uc *UDPChannel) Write(ctx context.Context, data []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-uc.ctx.Done():
		return ErrChannelClosed
	default:
	}

	dests := uc.destinations()
	if len(dests) == 0 {
		uc.stats.writeErrors.Add(1)
		return fmt.Errorf("no peer has joined the hub yet: %w", ErrNotConnected)
	}

	uc.conn.SetWriteDeadline(time.Now().Add(uc.writeTimeout))

	var firstErr error
	delivered := 0
	for _, dest := range dests {
		if _, err := uc.conn.WriteToUDP(data, dest); err != nil {
			uc.stats.writeErrors.Add(1)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		delivered++
		uc.stats.bytesSent.Add(uint64(len(data)))
	}
	if delivered == 0 {
		if uc.closed.Load() {
			return ErrChannelClosed
		}
		return firstErr
	}
	return nil
}

// Close implements PhysicalChannel.Close
func (uc *UDPChannel) Close() error {
	if !uc.closed.CompareAndSwap(false, true) {
		return nil
	}

	uc.cancel()
	err := uc.conn.Close()
	uc.stats.disconnects.Add(1)
	return err
}

// Statistics implements PhysicalChannel.Statistics
func (uc *UDPChannel) Statistics() TransportStats {
	return uc.stats.snapshot()
}

// LocalAddr returns the bound address of the socket
func (uc *UDPChannel) LocalAddr() net.Addr {
	return uc.conn.LocalAddr()
}

// Peers returns the number of peers a hub currently fans out to
func (uc *UDPChannel) Peers() int {
	if !uc.hub {
		return 1
	}
	uc.peersMu.Lock()
	defer uc.peersMu.Unlock()
	return len(uc.peers)
}
