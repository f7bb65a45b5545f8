package channel

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	ecan "go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"

	"avaneesh/vwtp-go/pkg/can"
	"avaneesh/vwtp-go/internal/logger"
)

// SocketCANChannel implements Bus for a Linux SocketCAN interface (can0, vcan0)
type SocketCANChannel struct {
	iface string
	conn  net.Conn
	tx    *socketcan.Transmitter
	log   logger.Logger

	readChan chan can.Frame

	stats struct {
		framesSent     atomic.Uint64
		framesReceived atomic.Uint64
		writeErrors    atomic.Uint64
		readErrors     atomic.Uint64
	}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewSocketCANChannel opens iface and starts receiving
func NewSocketCANChannel(ctx context.Context, iface string, log logger.Logger) (*SocketCANChannel, error) {
	if iface == "" {
		return nil, fmt.Errorf("interface name is required")
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", iface, err)
	}

	cctx, cancel := context.WithCancel(context.Background())
	sc := &SocketCANChannel{
		iface:    iface,
		conn:     conn,
		tx:       socketcan.NewTransmitter(conn),
		log:      log,
		readChan: make(chan can.Frame, 128),
		ctx:      cctx,
		cancel:   cancel,
	}

	sc.wg.Add(1)
	go sc.receiveLoop(socketcan.NewReceiver(conn))
	return sc, nil
}

func (sc *SocketCANChannel) receiveLoop(rx *socketcan.Receiver) {
	defer sc.wg.Done()
	defer sc.cancel()

	for rx.Receive() {
		if rx.HasErrorFrame() {
			sc.stats.readErrors.Add(1)
			sc.log.Warn("SocketCAN %s error frame: %v", sc.iface, rx.ErrorFrame())
			continue
		}
		f := rx.Frame()
		if f.IsRemote {
			continue
		}

		frame := fromEinride(f)
		sc.stats.framesReceived.Add(1)
		select {
		case sc.readChan <- frame:
		case <-sc.ctx.Done():
			return
		}
	}

	if err := rx.Err(); err != nil && !sc.closed.Load() {
		sc.stats.readErrors.Add(1)
		sc.log.Error("SocketCAN %s receive error: %v", sc.iface, err)
	}
}

func fromEinride(f ecan.Frame) can.Frame {
	out := can.Frame{ID: f.ID, Extended: f.IsExtended, Len: f.Length}
	if out.Len > can.MaxDataLen {
		out.Len = can.MaxDataLen
	}
	copy(out.Data[:], f.Data[:out.Len])
	return out
}

func toEinride(f can.Frame) ecan.Frame {
	out := ecan.Frame{ID: f.ID, Length: f.Len, IsExtended: f.Extended}
	copy(out.Data[:], f.Data[:f.Len])
	return out
}

// Read implements Bus.Read
func (sc *SocketCANChannel) Read(ctx context.Context) (can.Frame, error) {
	select {
	case <-ctx.Done():
		return can.Frame{}, ctx.Err()
	case f := <-sc.readChan:
		return f, nil
	case <-sc.ctx.Done():
		return can.Frame{}, ErrBusClosed
	}
}

// Write implements Bus.Write
func (sc *SocketCANChannel) Write(ctx context.Context, frame can.Frame) error {
	if sc.closed.Load() {
		return ErrBusClosed
	}
	if err := frame.Validate(); err != nil {
		sc.stats.writeErrors.Add(1)
		return err
	}

	if err := sc.tx.TransmitFrame(ctx, toEinride(frame)); err != nil {
		sc.stats.writeErrors.Add(1)
		return fmt.Errorf("transmit on %s: %w", sc.iface, err)
	}
	sc.stats.framesSent.Add(1)
	return nil
}

// Close implements Bus.Close
func (sc *SocketCANChannel) Close() error {
	if !sc.closed.CompareAndSwap(false, true) {
		return nil
	}

	sc.cancel()
	err := sc.conn.Close()
	sc.wg.Wait()
	return err
}

// Statistics implements Bus.Statistics
func (sc *SocketCANChannel) Statistics() TransportStats {
	return TransportStats{
		FramesSent:     sc.stats.framesSent.Load(),
		FramesReceived: sc.stats.framesReceived.Load(),
		BytesSent:      sc.stats.framesSent.Load() * FrameRecordSize,
		BytesReceived:  sc.stats.framesReceived.Load() * FrameRecordSize,
		WriteErrors:    sc.stats.writeErrors.Load(),
		ReadErrors:     sc.stats.readErrors.Load(),
	}
}

// String returns the interface name
func (sc *SocketCANChannel) String() string {
	return "SocketCAN: " + sc.iface
}
