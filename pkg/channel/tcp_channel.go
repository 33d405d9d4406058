package channel

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// TCPChannel implements PhysicalChannel over TCP streams.
// Envelopes are written back to back; readers resynchronise on the
// envelope start bytes.
//
// A client keeps one connection to the server and redials when it drops.
// A server accepts any number of peers and behaves as one node on the bus
// they share.
type TCPChannel struct {
	streamHub

	// Configuration
	address        string
	isServer       bool
	listener       net.Listener
	reconnectDelay time.Duration
}

// TCPChannelConfig configures a TCP channel
type TCPChannelConfig struct {
	Address        string        // "host:port" format
	IsServer       bool          // true = listen, false = connect
	ReconnectDelay time.Duration // Delay between reconnection attempts (client only)
	ReadTimeout    time.Duration // Drop a peer silent for this long (0 = never)
	WriteTimeout   time.Duration // Write timeout (0 = 10s)
}

// NewTCPChannel creates a new TCP channel
func NewTCPChannel(config TCPChannelConfig) (*TCPChannel, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("address is required")
	}

	if config.ReconnectDelay == 0 {
		config.ReconnectDelay = 5 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 10 * time.Second
	}

	tc := &TCPChannel{
		address:        config.Address,
		isServer:       config.IsServer,
		reconnectDelay: config.ReconnectDelay,
	}
	tc.initHub(config.ReadTimeout, config.WriteTimeout)

	var err error
	if config.IsServer {
		err = tc.startServer()
	} else {
		err = tc.connect()
	}
	if err != nil {
		tc.cancel()
		return nil, err
	}

	return tc, nil
}

// startServer starts listening for incoming connections
func (tc *TCPChannel) startServer() error {
	listener, err := net.Listen("tcp", tc.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", tc.address, err)
	}

	tc.listener = listener

	tc.wg.Add(1)
	go tc.acceptLoop()

	return nil
}

// acceptLoop accepts peers until the channel closes
func (tc *TCPChannel) acceptLoop() {
	defer tc.wg.Done()

	for {
		conn, err := tc.listener.Accept()
		if err != nil {
			if tc.closed.Load() {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case <-tc.ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		tc.addPeer(conn)
	}
}

// connect establishes a connection to the remote server
func (tc *TCPChannel) connect() error {
	conn, err := net.DialTimeout("tcp", tc.address, 10*time.Second)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", tc.address, err)
	}
	tc.addPeer(conn)

	tc.wg.Add(1)
	go tc.reconnectLoop()

	return nil
}

// reconnectLoop redials after the connection was dropped (client mode)
func (tc *TCPChannel) reconnectLoop() {
	defer tc.wg.Done()

	for {
		select {
		case <-tc.ctx.Done():
			return
		case <-time.After(1 * time.Second):
		}

		if tc.IsConnected() {
			continue
		}

		select {
		case <-tc.ctx.Done():
			return
		case <-time.After(tc.reconnectDelay):
		}

		dialer := net.Dialer{Timeout: 10 * time.Second}
		conn, err := dialer.DialContext(tc.ctx, "tcp", tc.address)
		if err != nil {
			continue
		}
		tc.addPeer(conn)
	}
}

// Close implements PhysicalChannel.Close
func (tc *TCPChannel) Close() error {
	if !tc.shutdown() {
		return nil
	}

	if tc.listener != nil {
		tc.listener.Close()
	}

	tc.wg.Wait()
	return nil
}

// ListenAddr returns the bound address in server mode
func (tc *TCPChannel) ListenAddr() net.Addr {
	if tc.listener == nil {
		return nil
	}
	return tc.listener.Addr()
}
