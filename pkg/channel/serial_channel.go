package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"go.bug.st/serial"

	"avaneesh/vwtp-go/pkg/can"
	"avaneesh/vwtp-go/internal/logger"
)

var ErrNACK = errors.New("bridge rejected frame")

// SerialChannel implements Bus for a USB serial CAN bridge
type SerialChannel struct {
	port   io.ReadWriteCloser
	config SerialChannelConfig
	logger logger.Logger

	readChan chan can.Frame
	ackChan  chan bool
	writeMu  sync.Mutex // serializes frame + ACK exchanges
	portMu   sync.Mutex // serializes raw port writes

	stats struct {
		framesSent     atomic.Uint64
		framesReceived atomic.Uint64
		bytesSent      atomic.Uint64
		bytesReceived  atomic.Uint64
		writeErrors    atomic.Uint64
		readErrors     atomic.Uint64
	}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// SerialChannelConfig configures a serial bridge
type SerialChannelConfig struct {
	PortName    string        // e.g. /dev/ttyACM0
	BaudRate    int           // Default: 921600
	ReadTimeout time.Duration // Port poll interval. Default: 5ms
	ACKTimeout  time.Duration // Wait for ACK per attempt. Default: 100ms
	MaxRetries  uint          // Write attempts. Default: 3
	RetryDelay  time.Duration // First backoff delay. Default: 200ms
	Logger      logger.Logger
}

// DefaultSerialChannelConfig returns the bridge defaults
func DefaultSerialChannelConfig(portName string) SerialChannelConfig {
	return SerialChannelConfig{
		PortName:    portName,
		BaudRate:    921600,
		ReadTimeout: 5 * time.Millisecond,
		ACKTimeout:  100 * time.Millisecond,
		MaxRetries:  3,
		RetryDelay:  200 * time.Millisecond,
	}
}

// NewSerialChannel opens the serial port and starts the reader
func NewSerialChannel(config SerialChannelConfig) (*SerialChannel, error) {
	if config.PortName == "" {
		return nil, fmt.Errorf("port name is required")
	}
	config = config.withDefaults()

	port, err := serial.Open(config.PortName, &serial.Mode{BaudRate: config.BaudRate})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", config.PortName, err)
	}
	if err := port.SetReadTimeout(config.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	return newSerialChannel(port, config), nil
}

func (c SerialChannelConfig) withDefaults() SerialChannelConfig {
	d := DefaultSerialChannelConfig(c.PortName)
	if c.BaudRate == 0 {
		c.BaudRate = d.BaudRate
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.ACKTimeout == 0 {
		c.ACKTimeout = d.ACKTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.Logger == nil {
		c.Logger = logger.NewNoOpLogger()
	}
	return c
}

// newSerialChannel wraps an already open port
func newSerialChannel(port io.ReadWriteCloser, config SerialChannelConfig) *SerialChannel {
	ctx, cancel := context.WithCancel(context.Background())
	sc := &SerialChannel{
		port:     port,
		config:   config,
		logger:   config.Logger,
		readChan: make(chan can.Frame, 128),
		ackChan:  make(chan bool, 16),
		ctx:      ctx,
		cancel:   cancel,
	}

	sc.wg.Add(1)
	go sc.readLoop()
	return sc
}

// readLoop decodes the byte stream, answering every frame with ACK or NACK
func (sc *SerialChannel) readLoop() {
	defer sc.wg.Done()

	var dec serialDecoder
	buf := make([]byte, 64)

	for {
		if sc.ctx.Err() != nil {
			return
		}

		n, err := sc.port.Read(buf)
		if err != nil {
			if sc.closed.Load() {
				return
			}
			sc.stats.readErrors.Add(1)
			sc.logger.Error("Serial %s read error: %v", sc.config.PortName, err)
			sc.cancel()
			return
		}
		sc.stats.bytesReceived.Add(uint64(n))

		for _, b := range buf[:n] {
			ev, ok := dec.Feed(b)
			if !ok {
				continue
			}
			if ev.isAck {
				select {
				case sc.ackChan <- ev.ack:
				default:
					sc.logger.Warn("Serial %s: ACK queue full, dropping", sc.config.PortName)
				}
				continue
			}
			if ev.err != nil {
				sc.stats.readErrors.Add(1)
				sc.logger.Warn("Serial %s: %v", sc.config.PortName, ev.err)
				sc.writeRaw([]byte{SerialNACK})
				continue
			}

			sc.writeRaw([]byte{SerialACK})
			sc.stats.framesReceived.Add(1)
			select {
			case sc.readChan <- ev.frame:
			case <-sc.ctx.Done():
				return
			}
		}
	}
}

func (sc *SerialChannel) writeRaw(data []byte) error {
	sc.portMu.Lock()
	defer sc.portMu.Unlock()

	n, err := sc.port.Write(data)
	sc.stats.bytesSent.Add(uint64(n))
	return err
}

// Read implements Bus.Read
func (sc *SerialChannel) Read(ctx context.Context) (can.Frame, error) {
	select {
	case <-ctx.Done():
		return can.Frame{}, ctx.Err()
	case <-sc.ctx.Done():
		return can.Frame{}, ErrBusClosed
	case f := <-sc.readChan:
		return f, nil
	}
}

// Write implements Bus.Write.
// The frame is resent with exponential backoff until the bridge ACKs it.
func (sc *SerialChannel) Write(ctx context.Context, frame can.Frame) error {
	wire, err := EncodeSerialFrame(frame)
	if err != nil {
		sc.stats.writeErrors.Add(1)
		return err
	}

	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()

	err = retry.Do(
		func() error {
			if sc.ctx.Err() != nil {
				return retry.Unrecoverable(ErrBusClosed)
			}
			sc.drainACKs()
			if err := sc.writeRaw(wire); err != nil {
				return retry.Unrecoverable(err)
			}
			return sc.awaitACK(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(sc.config.MaxRetries),
		retry.Delay(sc.config.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			sc.logger.Debug("Serial %s: retrying %s (attempt %d): %v", sc.config.PortName, frame, n+2, err)
		}),
	)
	if err != nil {
		sc.stats.writeErrors.Add(1)
		return err
	}

	sc.stats.framesSent.Add(1)
	return nil
}

func (sc *SerialChannel) awaitACK(ctx context.Context) error {
	select {
	case ok := <-sc.ackChan:
		if !ok {
			return ErrNACK
		}
		return nil
	case <-time.After(sc.config.ACKTimeout):
		return fmt.Errorf("no ACK within %s", sc.config.ACKTimeout)
	case <-ctx.Done():
		return ctx.Err()
	case <-sc.ctx.Done():
		return ErrBusClosed
	}
}

// drainACKs discards stale ACK/NACK bytes from a previous attempt
func (sc *SerialChannel) drainACKs() {
	for {
		select {
		case <-sc.ackChan:
		default:
			return
		}
	}
}

// Close implements Bus.Close
func (sc *SerialChannel) Close() error {
	if !sc.closed.CompareAndSwap(false, true) {
		return nil
	}

	sc.cancel()
	err := sc.port.Close()
	sc.wg.Wait()
	return err
}

// Statistics implements Bus.Statistics
func (sc *SerialChannel) Statistics() TransportStats {
	return TransportStats{
		FramesSent:     sc.stats.framesSent.Load(),
		FramesReceived: sc.stats.framesReceived.Load(),
		BytesSent:      sc.stats.bytesSent.Load(),
		BytesReceived:  sc.stats.bytesReceived.Load(),
		WriteErrors:    sc.stats.writeErrors.Load(),
		ReadErrors:     sc.stats.readErrors.Load(),
	}
}

// String returns a string representation of the bridge
func (sc *SerialChannel) String() string {
	return fmt.Sprintf("Serial: %s @ %d", sc.config.PortName, sc.config.BaudRate)
}
