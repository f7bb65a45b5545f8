package channel

import (
	"context"
	"sync"

	"avaneesh/vwtp-go/pkg/can"
)

// MockChannel is an in-memory Bus for tests and examples.
// Frames injected with InjectRead are returned by Read; frames passed to Write
// are collected for Written.
type MockChannel struct {
	readChan  chan can.Frame
	closeChan chan struct{}
	closed    bool
	written   []can.Frame
	writeErr  error
	listener  ConnectionStateListener
	mu        sync.RWMutex
	stats     TransportStats
}

// NewMockChannel creates a new mock bus
func NewMockChannel() *MockChannel {
	return &MockChannel{
		readChan:  make(chan can.Frame, 64),
		closeChan: make(chan struct{}),
	}
}

// Read implements Bus.Read
func (m *MockChannel) Read(ctx context.Context) (can.Frame, error) {
	select {
	case <-ctx.Done():
		return can.Frame{}, ctx.Err()
	case <-m.closeChan:
		return can.Frame{}, ErrBusClosed
	case f := <-m.readChan:
		m.mu.Lock()
		m.stats.FramesReceived++
		m.stats.BytesReceived += uint64(f.Len)
		m.mu.Unlock()
		return f, nil
	}
}

// Write implements Bus.Write
func (m *MockChannel) Write(ctx context.Context, frame can.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrBusClosed
	}
	if m.writeErr != nil {
		m.stats.WriteErrors++
		return m.writeErr
	}
	m.written = append(m.written, frame)
	m.stats.FramesSent++
	m.stats.BytesSent += uint64(frame.Len)
	return nil
}

// Close implements Bus.Close
func (m *MockChannel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	m.closed = true
	close(m.closeChan)
	return nil
}

// Statistics implements Bus.Statistics
func (m *MockChannel) Statistics() TransportStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// InjectRead queues a frame for Read
func (m *MockChannel) InjectRead(frame can.Frame) {
	m.readChan <- frame
}

// Written returns a copy of all frames written so far
func (m *MockChannel) Written() []can.Frame {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]can.Frame, len(m.written))
	copy(out, m.written)
	return out
}

// ClearWritten discards collected frames
func (m *MockChannel) ClearWritten() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.written = nil
}

// SetWriteError makes subsequent writes fail with err (nil restores success)
func (m *MockChannel) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// SetConnectionStateListener implements StateNotifier
func (m *MockChannel) SetConnectionStateListener(listener ConnectionStateListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listener = listener
}

// SimulateReconnect reports a lost connection followed by a new one to the listener
func (m *MockChannel) SimulateReconnect() {
	m.mu.RLock()
	listener := m.listener
	m.mu.RUnlock()

	if listener != nil {
		listener.OnConnectionLost()
		listener.OnConnectionEstablished()
	}
}
