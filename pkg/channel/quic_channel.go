package channel

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"

	"avaneesh/vwtp-go/pkg/can"
	"avaneesh/vwtp-go/internal/logger"
)

// QUICNextProto is the ALPN protocol for the CAN tunnel
const QUICNextProto = "vwtp-can"

// QUICChannel implements Bus by tunnelling can_frame records over one QUIC stream
type QUICChannel struct {
	// Connection
	connection *quic.Conn
	stream     *quic.Stream
	connLock   sync.RWMutex
	writeLock  sync.Mutex

	// Configuration
	address        string
	isServer       bool
	listener       *quic.Listener
	reconnectDelay time.Duration
	writeTimeout   time.Duration
	tlsConfig      *tls.Config
	log            logger.Logger

	readChan chan can.Frame

	// Connection state listener
	stateListener     ConnectionStateListener
	stateListenerLock sync.RWMutex

	// Statistics
	stats struct {
		framesSent     atomic.Uint64
		framesReceived atomic.Uint64
		writeErrors    atomic.Uint64
		readErrors     atomic.Uint64
		connects       atomic.Uint64
		disconnects    atomic.Uint64
	}

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// QUICChannelConfig configures a QUIC channel
type QUICChannelConfig struct {
	Address        string        // "host:port" format
	IsServer       bool          // true = listen, false = connect
	ReconnectDelay time.Duration // Delay between reconnection attempts (client only)
	WriteTimeout   time.Duration // Write timeout (0 = default)
	TLSConfig      *tls.Config   // Optional TLS config (if nil, will generate self-signed cert)
	Logger         logger.Logger
}

// NewQUICChannel creates a new QUIC channel
func NewQUICChannel(config QUICChannelConfig) (*QUICChannel, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("address is required")
	}

	if config.ReconnectDelay == 0 {
		config.ReconnectDelay = 2 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 5 * time.Second
	}
	if config.Logger == nil {
		config.Logger = logger.NewNoOpLogger()
	}

	tlsConfig := config.TLSConfig
	if tlsConfig == nil {
		var err error
		tlsConfig, err = generateTLSConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to generate TLS config: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	qc := &QUICChannel{
		address:        config.Address,
		isServer:       config.IsServer,
		reconnectDelay: config.ReconnectDelay,
		writeTimeout:   config.WriteTimeout,
		tlsConfig:      tlsConfig,
		log:            config.Logger,
		readChan:       make(chan can.Frame, 128),
		ctx:            ctx,
		cancel:         cancel,
	}

	if config.IsServer {
		if err := qc.startServer(); err != nil {
			cancel()
			return nil, err
		}
	} else {
		if err := qc.connect(); err != nil {
			cancel()
			return nil, err
		}
	}

	return qc, nil
}

// generateTLSConfig generates a self-signed certificate for the tunnel
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
		NextProtos:         []string{QUICNextProto},
		InsecureSkipVerify: true,
	}, nil
}

func (qc *QUICChannel) startServer() error {
	udpAddr, err := net.ResolveUDPAddr("udp", qc.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address %s: %w", qc.address, err)
	}

	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", qc.address, err)
	}

	listener, err := quic.Listen(udpConn, qc.tlsConfig, nil)
	if err != nil {
		udpConn.Close()
		return fmt.Errorf("failed to create QUIC listener: %w", err)
	}

	qc.listener = listener
	qc.log.Info("QUIC bus listening on %s", listener.Addr())

	qc.wg.Add(1)
	go qc.acceptLoop()

	return nil
}

func (qc *QUICChannel) acceptLoop() {
	defer qc.wg.Done()

	for {
		conn, err := qc.listener.Accept(qc.ctx)
		if err != nil {
			if qc.closed.Load() || qc.ctx.Err() != nil {
				return
			}
			qc.log.Warn("QUIC accept on %s: %v", qc.address, err)
			continue
		}

		qc.wg.Add(1)
		go qc.acceptStream(conn)
	}
}

// acceptStream waits for the peer's stream. It only arrives once the peer writes.
func (qc *QUICChannel) acceptStream(conn *quic.Conn) {
	defer qc.wg.Done()

	stream, err := conn.AcceptStream(qc.ctx)
	if err != nil {
		conn.CloseWithError(0, "no stream")
		return
	}

	qc.log.Info("QUIC bus peer connected from %s", conn.RemoteAddr())
	qc.attach(conn, stream)
}

func (qc *QUICChannel) dial() (*quic.Conn, *quic.Stream, error) {
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create UDP socket: %w", err)
	}

	remoteAddr, err := net.ResolveUDPAddr("udp", qc.address)
	if err != nil {
		udpConn.Close()
		return nil, nil, fmt.Errorf("failed to resolve remote address %s: %w", qc.address, err)
	}

	conn, err := quic.Dial(qc.ctx, udpConn, remoteAddr, qc.tlsConfig, nil)
	if err != nil {
		udpConn.Close()
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", qc.address, err)
	}

	stream, err := conn.OpenStreamSync(qc.ctx)
	if err != nil {
		conn.CloseWithError(0, "failed to open stream")
		return nil, nil, fmt.Errorf("failed to open stream: %w", err)
	}

	return conn, stream, nil
}

func (qc *QUICChannel) connect() error {
	conn, stream, err := qc.dial()
	if err != nil {
		return err
	}

	qc.attach(conn, stream)

	qc.wg.Add(1)
	go qc.reconnectLoop()

	return nil
}

// attach makes conn/stream active, replacing any previous peer
func (qc *QUICChannel) attach(conn *quic.Conn, stream *quic.Stream) {
	qc.connLock.Lock()
	previous := qc.connection
	qc.connection = conn
	qc.stream = stream
	qc.stats.connects.Add(1)
	qc.connLock.Unlock()

	if previous != nil {
		previous.CloseWithError(0, "replaced")
		qc.stats.disconnects.Add(1)
		qc.notifyConnectionLost()
	}
	qc.notifyConnectionEstablished()

	qc.wg.Add(1)
	go qc.readLoop(conn, stream)
}

func (qc *QUICChannel) readLoop(conn *quic.Conn, stream *quic.Stream) {
	defer qc.wg.Done()

	err := pumpRecords(qc.ctx.Done(), stream, qc.readChan,
		func() { qc.stats.framesReceived.Add(1) },
		func(err error) {
			qc.stats.readErrors.Add(1)
			qc.log.Warn("QUIC bus %s: dropped record: %v", qc.address, err)
		})

	if err != nil && !errors.Is(err, io.EOF) && !qc.closed.Load() {
		qc.stats.readErrors.Add(1)
		qc.log.Warn("QUIC bus %s read: %v", qc.address, err)
	}
	qc.detach(conn, "read error")
}

// detach drops conn if it is still the active connection
func (qc *QUICChannel) detach(conn *quic.Conn, reason string) {
	qc.connLock.Lock()
	if qc.connection != conn {
		qc.connLock.Unlock()
		return
	}
	qc.connection = nil
	qc.stream = nil
	qc.connLock.Unlock()

	conn.CloseWithError(0, reason)
	qc.stats.disconnects.Add(1)
	if !qc.closed.Load() {
		qc.notifyConnectionLost()
	}
}

func (qc *QUICChannel) reconnectLoop() {
	defer qc.wg.Done()

	for {
		select {
		case <-qc.ctx.Done():
			return
		case <-time.After(qc.reconnectDelay):
		}

		if qc.IsConnected() {
			continue
		}

		conn, stream, err := qc.dial()
		if err != nil {
			qc.log.Debug("QUIC reconnect to %s: %v", qc.address, err)
			continue
		}
		if qc.closed.Load() {
			conn.CloseWithError(0, "channel closed")
			return
		}
		qc.log.Info("QUIC bus reconnected to %s", qc.address)
		qc.attach(conn, stream)
	}
}

// Read implements Bus.Read
func (qc *QUICChannel) Read(ctx context.Context) (can.Frame, error) {
	select {
	case <-ctx.Done():
		return can.Frame{}, ctx.Err()
	case f := <-qc.readChan:
		return f, nil
	case <-qc.ctx.Done():
		return can.Frame{}, ErrBusClosed
	}
}

// Write implements Bus.Write
func (qc *QUICChannel) Write(ctx context.Context, frame can.Frame) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-qc.ctx.Done():
		return ErrBusClosed
	default:
	}

	record, err := EncodeFrame(frame)
	if err != nil {
		qc.stats.writeErrors.Add(1)
		return err
	}

	qc.connLock.RLock()
	conn, stream := qc.connection, qc.stream
	qc.connLock.RUnlock()

	if stream == nil {
		qc.stats.writeErrors.Add(1)
		return ErrNotConnected
	}

	deadline := time.Now().Add(qc.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	// Stream writes must not interleave.
	qc.writeLock.Lock()
	stream.SetWriteDeadline(deadline)
	_, err = stream.Write(record)
	qc.writeLock.Unlock()

	if err != nil {
		qc.stats.writeErrors.Add(1)
		qc.detach(conn, "write error")
		return fmt.Errorf("quic write: %w", err)
	}

	qc.stats.framesSent.Add(1)
	return nil
}

// Close implements Bus.Close
func (qc *QUICChannel) Close() error {
	if !qc.closed.CompareAndSwap(false, true) {
		return nil
	}

	qc.cancel()

	if qc.listener != nil {
		qc.listener.Close()
	}

	qc.connLock.Lock()
	if qc.connection != nil {
		qc.connection.CloseWithError(0, "channel closed")
	}
	qc.connLock.Unlock()

	qc.wg.Wait()
	return nil
}

// Statistics implements Bus.Statistics
func (qc *QUICChannel) Statistics() TransportStats {
	sent := qc.stats.framesSent.Load()
	received := qc.stats.framesReceived.Load()
	return TransportStats{
		FramesSent:     sent,
		FramesReceived: received,
		BytesSent:      sent * FrameRecordSize,
		BytesReceived:  received * FrameRecordSize,
		WriteErrors:    qc.stats.writeErrors.Load(),
		ReadErrors:     qc.stats.readErrors.Load(),
		Connects:       qc.stats.connects.Load(),
		Disconnects:    qc.stats.disconnects.Load(),
	}
}

// IsConnected returns true if there is an active connection
func (qc *QUICChannel) IsConnected() bool {
	qc.connLock.RLock()
	defer qc.connLock.RUnlock()
	return qc.connection != nil && qc.connection.Context().Err() == nil
}

// Addr returns the listening address in server mode, the remote address otherwise
func (qc *QUICChannel) Addr() net.Addr {
	if qc.listener != nil {
		return qc.listener.Addr()
	}
	qc.connLock.RLock()
	defer qc.connLock.RUnlock()
	if qc.connection != nil {
		return qc.connection.RemoteAddr()
	}
	return nil
}

// SetConnectionStateListener sets a listener for connection state changes
func (qc *QUICChannel) SetConnectionStateListener(listener ConnectionStateListener) {
	qc.stateListenerLock.Lock()
	defer qc.stateListenerLock.Unlock()
	qc.stateListener = listener
}

func (qc *QUICChannel) notifyConnectionEstablished() {
	qc.stateListenerLock.RLock()
	listener := qc.stateListener
	qc.stateListenerLock.RUnlock()

	if listener != nil {
		listener.OnConnectionEstablished()
	}
}

func (qc *QUICChannel) notifyConnectionLost() {
	qc.stateListenerLock.RLock()
	listener := qc.stateListener
	qc.stateListenerLock.RUnlock()

	if listener != nil {
		listener.OnConnectionLost()
	}
}

// String returns the tunnel endpoint
func (qc *QUICChannel) String() string {
	if qc.isServer {
		return "QUIC server: " + qc.address
	}
	return "QUIC client: " + qc.address
}
