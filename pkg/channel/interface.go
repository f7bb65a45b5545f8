package channel

import (
	"context"
	"errors"

	"avaneesh/vwtp-go/pkg/can"
)

var (
	ErrBusClosed    = errors.New("bus is closed")
	ErrNotConnected = errors.New("bus has no active connection")
)

// ConnectionStateListener receives notifications about connection state changes
type ConnectionStateListener interface {
	// OnConnectionEstablished is called when a new connection is established
	OnConnectionEstablished()

	// OnConnectionLost is called when a connection is lost
	OnConnectionLost()
}

// Bus is a CAN bus adapter.
// Implementations exist for SocketCAN, serial bridges, TCP/QUIC tunnels and tests.
type Bus interface {
	// Read blocks until the next frame arrives or ctx is cancelled
	Read(ctx context.Context) (can.Frame, error)

	// Write transmits one frame. Must be safe for concurrent use.
	Write(ctx context.Context, frame can.Frame) error

	// Close releases the adapter and unblocks pending Read/Write calls
	Close() error

	// Statistics returns adapter-level counters
	Statistics() TransportStats
}

// StateNotifier is implemented by connection-oriented buses
type StateNotifier interface {
	SetConnectionStateListener(listener ConnectionStateListener)
}

// TransportStats provides adapter-level statistics
type TransportStats struct {
	FramesSent     uint64 // Frames written to the bus
	FramesReceived uint64 // Frames read from the bus
	BytesSent      uint64 // Wire bytes written, including framing
	BytesReceived  uint64 // Wire bytes read, including framing
	WriteErrors    uint64 // Number of write errors
	ReadErrors     uint64 // Number of read or decode errors
	Connects       uint64 // Number of connections (for connection-oriented transports)
	Disconnects    uint64 // Number of disconnections
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
