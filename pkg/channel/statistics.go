package channel

import "sync/atomic"

// Statistics tracks channel-level routing statistics
type Statistics struct {
	framesRx      uint64
	framesTx      uint64
	unrouted      uint64
	handlerErrors uint64
	writeErrors   uint64
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{}
}

// FrameRx increments received frames
func (s *Statistics) FrameRx() {
	atomic.AddUint64(&s.framesRx, 1)
}

// FrameTx increments transmitted frames
func (s *Statistics) FrameTx() {
	atomic.AddUint64(&s.framesTx, 1)
}

// Unrouted increments frames with no registered handler
func (s *Statistics) Unrouted() {
	atomic.AddUint64(&s.unrouted, 1)
}

// HandlerError increments frames whose handler returned an error
func (s *Statistics) HandlerError() {
	atomic.AddUint64(&s.handlerErrors, 1)
}

// WriteError increments failed writes
func (s *Statistics) WriteError() {
	atomic.AddUint64(&s.writeErrors, 1)
}

// GetFramesRx returns received frames
func (s *Statistics) GetFramesRx() uint64 {
	return atomic.LoadUint64(&s.framesRx)
}

// GetFramesTx returns transmitted frames
func (s *Statistics) GetFramesTx() uint64 {
	return atomic.LoadUint64(&s.framesTx)
}

// GetUnrouted returns frames with no registered handler
func (s *Statistics) GetUnrouted() uint64 {
	return atomic.LoadUint64(&s.unrouted)
}

// GetHandlerErrors returns handler failures
func (s *Statistics) GetHandlerErrors() uint64 {
	return atomic.LoadUint64(&s.handlerErrors)
}

// GetWriteErrors returns failed writes
func (s *Statistics) GetWriteErrors() uint64 {
	return atomic.LoadUint64(&s.writeErrors)
}

// Reset resets all statistics
func (s *Statistics) Reset() {
	atomic.StoreUint64(&s.framesRx, 0)
	atomic.StoreUint64(&s.framesTx, 0)
	atomic.StoreUint64(&s.unrouted, 0)
	atomic.StoreUint64(&s.handlerErrors, 0)
	atomic.StoreUint64(&s.writeErrors, 0)
}
