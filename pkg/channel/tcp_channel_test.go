package channel

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"avaneesh/vwtp-go/pkg/can"
)

type countingListener struct {
	established atomic.Int32
	lost        atomic.Int32
}

func (l *countingListener) OnConnectionEstablished() { l.established.Add(1) }
func (l *countingListener) OnConnectionLost()        { l.lost.Add(1) }

func readWithTimeout(t *testing.T, bus Bus) can.Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	f, err := bus.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	return f
}

func TestTCPChannel_Loopback(t *testing.T) {
	server, err := NewTCPChannel(TCPChannelConfig{Address: "127.0.0.1:0", IsServer: true})
	if err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Close()

	listener := &countingListener{}
	server.SetConnectionStateListener(listener)

	client, err := NewTCPChannel(TCPChannelConfig{Address: server.Addr().String()})
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	ctx := context.Background()
	request := can.MustFrame(0x740, 0x10, 0x00, 0x02, 0x1A, 0x9B)
	if err := client.Write(ctx, request); err != nil {
		t.Fatalf("Client write failed: %v", err)
	}

	if got := readWithTimeout(t, server); got != request {
		t.Errorf("Expected %s, got %s", request, got)
	}
	waitFor(t, func() bool { return listener.established.Load() == 1 })

	ack := can.MustFrame(0x300, 0xB1)
	if err := server.Write(ctx, ack); err != nil {
		t.Fatalf("Server write failed: %v", err)
	}
	if got := readWithTimeout(t, client); got != ack {
		t.Errorf("Expected %s, got %s", ack, got)
	}

	stats := server.Statistics()
	if stats.FramesReceived != 1 || stats.FramesSent != 1 || stats.Connects != 1 {
		t.Errorf("Unexpected server stats %+v", stats)
	}
}

func TestTCPChannel_WriteWithoutPeer(t *testing.T) {
	server, err := NewTCPChannel(TCPChannelConfig{Address: "127.0.0.1:0", IsServer: true})
	if err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Close()

	if err := server.Write(context.Background(), can.MustFrame(0x300, 0xB1)); err != ErrNotConnected {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
}

func TestTCPChannel_ReadAfterClose(t *testing.T) {
	server, err := NewTCPChannel(TCPChannelConfig{Address: "127.0.0.1:0", IsServer: true})
	if err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	server.Close()

	if _, err := server.Read(context.Background()); err != ErrBusClosed {
		t.Errorf("Expected ErrBusClosed, got %v", err)
	}
}
