package vwtp

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Statistics tracks VWTP session counters
type Statistics struct {
	txFrames   atomic.Uint64
	rxFrames   atomic.Uint64
	txMessages atomic.Uint64
	rxMessages atomic.Uint64

	acksSent     atomic.Uint64
	acksReceived atomic.Uint64

	sequenceErrors   atomic.Uint64
	malformedFrames  atomic.Uint64
	timeoutErrors    atomic.Uint64
	lengthMismatches atomic.Uint64

	lastTxTimeNano atomic.Int64
	lastRxTimeNano atomic.Int64
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{}
}

// IncrementTxFrames adds n transmitted frames
func (s *Statistics) IncrementTxFrames(n int) {
	s.txFrames.Add(uint64(n))
}

// IncrementRxFrames increments received frame count
func (s *Statistics) IncrementRxFrames() {
	s.rxFrames.Add(1)
}

// IncrementTxMessages increments transmitted message count
func (s *Statistics) IncrementTxMessages() {
	s.txMessages.Add(1)
	s.lastTxTimeNano.Store(time.Now().UnixNano())
}

// IncrementRxMessages increments reassembled message count
func (s *Statistics) IncrementRxMessages() {
	s.rxMessages.Add(1)
	s.lastRxTimeNano.Store(time.Now().UnixNano())
}

func (s *Statistics) IncrementAcksSent()         { s.acksSent.Add(1) }
func (s *Statistics) IncrementAcksReceived()     { s.acksReceived.Add(1) }
func (s *Statistics) IncrementSequenceErrors()   { s.sequenceErrors.Add(1) }
func (s *Statistics) IncrementMalformedFrames()  { s.malformedFrames.Add(1) }
func (s *Statistics) IncrementTimeoutErrors()    { s.timeoutErrors.Add(1) }
func (s *Statistics) IncrementLengthMismatches() { s.lengthMismatches.Add(1) }

func (s *Statistics) GetTxFrames() uint64         { return s.txFrames.Load() }
func (s *Statistics) GetRxFrames() uint64         { return s.rxFrames.Load() }
func (s *Statistics) GetTxMessages() uint64       { return s.txMessages.Load() }
func (s *Statistics) GetRxMessages() uint64       { return s.rxMessages.Load() }
func (s *Statistics) GetAcksSent() uint64         { return s.acksSent.Load() }
func (s *Statistics) GetAcksReceived() uint64     { return s.acksReceived.Load() }
func (s *Statistics) GetSequenceErrors() uint64   { return s.sequenceErrors.Load() }
func (s *Statistics) GetMalformedFrames() uint64  { return s.malformedFrames.Load() }
func (s *Statistics) GetTimeoutErrors() uint64    { return s.timeoutErrors.Load() }
func (s *Statistics) GetLengthMismatches() uint64 { return s.lengthMismatches.Load() }

// GetLastTxTime returns the time of the last transmitted message
func (s *Statistics) GetLastTxTime() time.Time {
	nano := s.lastTxTimeNano.Load()
	if nano == 0 {
		return time.Time{}
	}
	return time.Unix(0, nano)
}

// GetLastRxTime returns the time of the last reassembled message
func (s *Statistics) GetLastRxTime() time.Time {
	nano := s.lastRxTimeNano.Load()
	if nano == 0 {
		return time.Time{}
	}
	return time.Unix(0, nano)
}

// Reset resets all statistics to zero
func (s *Statistics) Reset() {
	for _, c := range []*atomic.Uint64{
		&s.txFrames, &s.rxFrames, &s.txMessages, &s.rxMessages,
		&s.acksSent, &s.acksReceived,
		&s.sequenceErrors, &s.malformedFrames, &s.timeoutErrors, &s.lengthMismatches,
	} {
		c.Store(0)
	}
	s.lastTxTimeNano.Store(0)
	s.lastRxTimeNano.Store(0)
}

// String summarizes the counters on one line
func (s *Statistics) String() string {
	return fmt.Sprintf("frames tx=%d rx=%d, messages tx=%d rx=%d, acks tx=%d rx=%d, errors seq=%d malformed=%d timeout=%d length=%d",
		s.GetTxFrames(), s.GetRxFrames(), s.GetTxMessages(), s.GetRxMessages(),
		s.GetAcksSent(), s.GetAcksReceived(),
		s.GetSequenceErrors(), s.GetMalformedFrames(), s.GetTimeoutErrors(), s.GetLengthMismatches())
}
