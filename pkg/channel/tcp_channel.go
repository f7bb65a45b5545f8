package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"avaneesh/vwtp-go/pkg/can"
	"avaneesh/vwtp-go/internal/logger"
)

// TCPChannel implements Bus by tunnelling can_frame records over TCP
type TCPChannel struct {
	// Connection
	conn     net.Conn
	connLock sync.RWMutex

	// Configuration
	address        string
	isServer       bool
	listener       net.Listener
	reconnectDelay time.Duration
	writeTimeout   time.Duration
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

// TCPChannelConfig configures a TCP channel
type TCPChannelConfig struct {
	Address        string        // "host:port" format
	IsServer       bool          // true = listen, false = connect
	ReconnectDelay time.Duration // Delay between reconnection attempts (client only)
	WriteTimeout   time.Duration // Write timeout (0 = no timeout)
	Logger         logger.Logger
}

// NewTCPChannel creates a new TCP channel
func NewTCPChannel(config TCPChannelConfig) (*TCPChannel, error) {
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

	ctx, cancel := context.WithCancel(context.Background())

	tc := &TCPChannel{
		address:        config.Address,
		isServer:       config.IsServer,
		reconnectDelay: config.ReconnectDelay,
		writeTimeout:   config.WriteTimeout,
		log:            config.Logger,
		readChan:       make(chan can.Frame, 128),
		ctx:            ctx,
		cancel:         cancel,
	}

	if config.IsServer {
		if err := tc.startServer(); err != nil {
			cancel()
			return nil, err
		}
	} else {
		if err := tc.connect(); err != nil {
			cancel()
			return nil, err
		}
	}

	return tc, nil
}

func (tc *TCPChannel) startServer() error {
	listener, err := net.Listen("tcp", tc.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", tc.address, err)
	}

	tc.listener = listener
	tc.log.Info("TCP bus listening on %s", listener.Addr())

	tc.wg.Add(1)
	go tc.acceptLoop()

	return nil
}

// acceptLoop accepts tunnel peers; a new peer replaces the previous one
func (tc *TCPChannel) acceptLoop() {
	defer tc.wg.Done()

	for {
		conn, err := tc.listener.Accept()
		if err != nil {
			if tc.closed.Load() {
				return
			}
			tc.log.Warn("TCP accept on %s: %v", tc.address, err)
			continue
		}

		tc.log.Info("TCP bus peer connected from %s", conn.RemoteAddr())
		tc.attach(conn)
	}
}

func (tc *TCPChannel) connect() error {
	conn, err := net.DialTimeout("tcp", tc.address, 10*time.Second)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", tc.address, err)
	}

	tc.attach(conn)

	tc.wg.Add(1)
	go tc.reconnectLoop()

	return nil
}

// attach makes conn the active connection and starts reading from it
func (tc *TCPChannel) attach(conn net.Conn) {
	tc.connLock.Lock()
	previous := tc.conn
	tc.conn = conn
	tc.stats.connects.Add(1)
	tc.connLock.Unlock()

	if previous != nil {
		previous.Close()
		tc.stats.disconnects.Add(1)
		tc.notifyConnectionLost()
	}
	tc.notifyConnectionEstablished()

	tc.wg.Add(1)
	go tc.readLoop(conn)
}

func (tc *TCPChannel) readLoop(conn net.Conn) {
	defer tc.wg.Done()

	err := pumpRecords(tc.ctx.Done(), conn, tc.readChan,
		func() { tc.stats.framesReceived.Add(1) },
		func(err error) {
			tc.stats.readErrors.Add(1)
			tc.log.Warn("TCP bus %s: dropped record: %v", tc.address, err)
		})

	if err != nil && !errors.Is(err, io.EOF) && !tc.closed.Load() {
		tc.stats.readErrors.Add(1)
		tc.log.Warn("TCP bus %s read: %v", tc.address, err)
	}
	tc.detach(conn)
}

// detach drops conn if it is still the active connection
func (tc *TCPChannel) detach(conn net.Conn) {
	tc.connLock.Lock()
	if tc.conn != conn {
		tc.connLock.Unlock()
		return
	}
	tc.conn = nil
	tc.connLock.Unlock()

	conn.Close()
	tc.stats.disconnects.Add(1)
	if !tc.closed.Load() {
		tc.notifyConnectionLost()
	}
}

// reconnectLoop redials the server while the client has no connection
func (tc *TCPChannel) reconnectLoop() {
	defer tc.wg.Done()

	for {
		select {
		case <-tc.ctx.Done():
			return
		case <-time.After(tc.reconnectDelay):
		}

		if tc.IsConnected() {
			continue
		}

		conn, err := net.DialTimeout("tcp", tc.address, 10*time.Second)
		if err != nil {
			tc.log.Debug("TCP reconnect to %s: %v", tc.address, err)
			continue
		}
		if tc.closed.Load() {
			conn.Close()
			return
		}
		tc.log.Info("TCP bus reconnected to %s", tc.address)
		tc.attach(conn)
	}
}

// Read implements Bus.Read
func (tc *TCPChannel) Read(ctx context.Context) (can.Frame, error) {
	select {
	case <-ctx.Done():
		return can.Frame{}, ctx.Err()
	case f := <-tc.readChan:
		return f, nil
	case <-tc.ctx.Done():
		return can.Frame{}, ErrBusClosed
	}
}

// Write implements Bus.Write
func (tc *TCPChannel) Write(ctx context.Context, frame can.Frame) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tc.ctx.Done():
		return ErrBusClosed
	default:
	}

	record, err := EncodeFrame(frame)
	if err != nil {
		tc.stats.writeErrors.Add(1)
		return err
	}

	tc.connLock.RLock()
	conn := tc.conn
	tc.connLock.RUnlock()

	if conn == nil {
		tc.stats.writeErrors.Add(1)
		return ErrNotConnected
	}

	deadline := time.Now().Add(tc.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetWriteDeadline(deadline)

	if _, err := conn.Write(record); err != nil {
		tc.stats.writeErrors.Add(1)
		tc.detach(conn)
		return fmt.Errorf("tcp write: %w", err)
	}

	tc.stats.framesSent.Add(1)
	return nil
}

// Close implements Bus.Close
func (tc *TCPChannel) Close() error {
	if !tc.closed.CompareAndSwap(false, true) {
		return nil
	}

	tc.cancel()

	if tc.listener != nil {
		tc.listener.Close()
	}

	tc.connLock.Lock()
	if tc.conn != nil {
		tc.conn.Close()
	}
	tc.connLock.Unlock()

	tc.wg.Wait()
	return nil
}

// Statistics implements Bus.Statistics
func (tc *TCPChannel) Statistics() TransportStats {
	sent := tc.stats.framesSent.Load()
	received := tc.stats.framesReceived.Load()
	return TransportStats{
		FramesSent:     sent,
		FramesReceived: received,
		BytesSent:      sent * FrameRecordSize,
		BytesReceived:  received * FrameRecordSize,
		WriteErrors:    tc.stats.writeErrors.Load(),
		ReadErrors:     tc.stats.readErrors.Load(),
		Connects:       tc.stats.connects.Load(),
		Disconnects:    tc.stats.disconnects.Load(),
	}
}

// IsConnected returns true if there is an active connection
func (tc *TCPChannel) IsConnected() bool {
	tc.connLock.RLock()
	defer tc.connLock.RUnlock()
	return tc.conn != nil
}

// Addr returns the listening address in server mode, the remote address otherwise
func (tc *TCPChannel) Addr() net.Addr {
	if tc.listener != nil {
		return tc.listener.Addr()
	}
	tc.connLock.RLock()
	defer tc.connLock.RUnlock()
	if tc.conn != nil {
		return tc.conn.RemoteAddr()
	}
	return nil
}

// SetConnectionStateListener sets a listener for connection state changes
func (tc *TCPChannel) SetConnectionStateListener(listener ConnectionStateListener) {
	tc.stateListenerLock.Lock()
	defer tc.stateListenerLock.Unlock()
	tc.stateListener = listener
}

func (tc *TCPChannel) notifyConnectionEstablished() {
	tc.stateListenerLock.RLock()
	listener := tc.stateListener
	tc.stateListenerLock.RUnlock()

	if listener != nil {
		listener.OnConnectionEstablished()
	}
}

func (tc *TCPChannel) notifyConnectionLost() {
	tc.stateListenerLock.RLock()
	listener := tc.stateListener
	tc.stateListenerLock.RUnlock()

	if listener != nil {
		listener.OnConnectionLost()
	}
}

// String returns the tunnel endpoint
func (tc *TCPChannel) String() string {
	if tc.isServer {
		return "TCP server: " + tc.address
	}
	return "TCP client: " + tc.address
}
