package channel

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

// QUICProtocol is the ALPN protocol name of the CAN envelope stream
const QUICProtocol = "cantp-quic"

// QUICChannel implements PhysicalChannel over QUIC. Every connection
// carries one bidirectional stream of envelopes written back to back.
//
// A client keeps one connection to the server and redials when it dies.
// A server accepts any number of peers and behaves as one node on the bus
// they share.
type QUICChannel struct {
	streamHub

	// Configuration
	address        string
	isServer       bool
	listener       *quic.Listener
	packetConn     net.PacketConn // Server socket, closed with the channel
	reconnectDelay time.Duration
	tlsConfig      *tls.Config
}

// quicConfig keeps idle buses alive past the QUIC idle timeout
func quicConfig() *quic.Config {
	return &quic.Config{KeepAlivePeriod: 10 * time.Second}
}

// quicPeer is the envelope stream of one connection. Closing it closes
// the connection and the socket a client dialed from.
type quicPeer struct {
	*quic.Stream
	conn *quic.Conn
	udp  net.PacketConn
}

func (p *quicPeer) Close() error {
	p.Stream.Close()
	err := p.conn.CloseWithError(0, "closed")
	if p.udp != nil {
		p.udp.Close()
	}
	return err
}

// QUICChannelConfig configures a QUIC channel
type QUICChannelConfig struct {
	Address        string        // "host:port" format
	IsServer       bool          // true = listen, false = connect
	ReconnectDelay time.Duration // Delay between reconnection attempts (client only)
	ReadTimeout    time.Duration // Drop a peer silent for this long (0 = never)
	WriteTimeout   time.Duration // Write timeout (0 = 10s)
	TLSConfig      *tls.Config   // Optional, a self-signed certificate is generated when nil
}

// NewQUICChannel creates a new QUIC channel
func NewQUICChannel(config QUICChannelConfig) (*QUICChannel, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("address is required")
	}

	if config.ReconnectDelay == 0 {
		config.ReconnectDelay = 5 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 10 * time.Second
	}

	tlsConfig := config.TLSConfig
	if tlsConfig == nil {
		var err error
		tlsConfig, err = generateTLSConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to generate TLS config: %w", err)
		}
	}

	qc := &QUICChannel{
		address:        config.Address,
		isServer:       config.IsServer,
		reconnectDelay: config.ReconnectDelay,
		tlsConfig:      tlsConfig,
	}
	qc.initHub(config.ReadTimeout, config.WriteTimeout)

	var err error
	if config.IsServer {
		err = qc.startServer()
	} else {
		err = qc.connect()
	}
	if err != nil {
		qc.cancel()
		return nil, err
	}

	return qc, nil
}

// generateTLSConfig generates a self-signed certificate
func generateTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates:       []tls.Certificate{tlsCert},
		NextProtos:         []string{QUICProtocol},
		InsecureSkipVerify: true, // Self-signed
	}, nil
}

// startServer starts listening for incoming QUIC connections
func (qc *QUICChannel) startServer() error {
	udpAddr, err := net.ResolveUDPAddr("udp", qc.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address %s: %w", qc.address, err)
	}

	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", qc.address, err)
	}

	listener, err := quic.Listen(udpConn, qc.tlsConfig, quicConfig())
	if err != nil {
		udpConn.Close()
		return fmt.Errorf("failed to create QUIC listener: %w", err)
	}

	qc.listener = listener
	qc.packetConn = udpConn

	qc.wg.Add(1)
	go qc.acceptLoop()

	return nil
}

// acceptLoop accepts peers until the channel closes
func (qc *QUICChannel) acceptLoop() {
	defer qc.wg.Done()

	for {
		conn, err := qc.listener.Accept(qc.ctx)
		if err != nil {
			if qc.closed.Load() || qc.ctx.Err() != nil {
				return
			}
			continue
		}

		qc.wg.Add(1)
		go qc.acceptStream(conn)
	}
}

// acceptStream waits for the peer to open its envelope stream. quic-go
// announces a stream with its first data, so a peer joins the bus when
// it sends its first envelope.
func (qc *QUICChannel) acceptStream(conn *quic.Conn) {
	defer qc.wg.Done()

	stream, err := conn.AcceptStream(qc.ctx)
	if err != nil {
		conn.CloseWithError(0, "no stream")
		return
	}
	qc.addPeer(&quicPeer{Stream: stream, conn: conn})
}

// dial opens a connection and the envelope stream to the server
func (qc *QUICChannel) dial() (*quicPeer, error) {
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("failed to create UDP socket: %w", err)
	}

	remoteAddr, err := net.ResolveUDPAddr("udp", qc.address)
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("failed to resolve remote address %s: %w", qc.address, err)
	}

	conn, err := quic.Dial(qc.ctx, udpConn, remoteAddr, qc.tlsConfig, quicConfig())
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", qc.address, err)
	}

	stream, err := conn.OpenStreamSync(qc.ctx)
	if err != nil {
		conn.CloseWithError(0, "failed to open stream")
		udpConn.Close()
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}

	return &quicPeer{Stream: stream, conn: conn, udp: udpConn}, nil
}

// connect establishes the client connection
func (qc *QUICChannel) connect() error {
	peer, err := qc.dial()
	if err != nil {
		return err
	}
	qc.addPeer(peer)

	qc.wg.Add(1)
	go qc.reconnectLoop()

	return nil
}

// reconnectLoop redials after the connection died (client mode)
func (qc *QUICChannel) reconnectLoop() {
	defer qc.wg.Done()

	for {
		select {
		case <-qc.ctx.Done():
			return
		case <-time.After(1 * time.Second):
		}

		if qc.IsConnected() {
			continue
		}

		select {
		case <-qc.ctx.Done():
			return
		case <-time.After(qc.reconnectDelay):
		}

		peer, err := qc.dial()
		if err != nil {
			continue
		}
		qc.addPeer(peer)
	}
}

// Close implements PhysicalChannel.Close
func (qc *QUICChannel) Close() error {
	if !qc.shutdown() {
		return nil
	}

	if qc.listener != nil {
		qc.listener.Close()
	}

	qc.wg.Wait()

	if qc.packetConn != nil {
		qc.packetConn.Close()
	}
	return nil
}

// ListenAddr returns the bound address in server mode
func (qc *QUICChannel) ListenAddr() net.Addr {
	if qc.listener == nil {
		return nil
	}
	return qc.listener.Addr()
}
