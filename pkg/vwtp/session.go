package vwtp

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"avaneesh/vwtp-go/pkg/can"
)

// Session is the ECU side of one VWTP2 channel.
// Frames arrive on the local id, acks and responses go to the peer id.
type Session struct {
	localID     uint32
	peerID      uint32
	established bool

	// TX direction (ECU → tester)
	txSequence uint8

	// RX direction (tester → ECU)
	rxReassembler   *Reassembler
	reassemblyTimer *time.Timer
	timerGen        uint64

	config Config
	stats  *Statistics

	mu sync.Mutex
}

// NewSession creates an unestablished session listening on localID
func NewSession(localID uint32, config Config) *Session {
	if config.ReassemblyTimeout <= 0 {
		config.ReassemblyTimeout = DefaultConfig().ReassemblyTimeout
	}
	return &Session{
		localID:       localID,
		rxReassembler: NewReassembler(),
		config:        config,
		stats:         NewStatistics(),
	}
}

// Establish binds the session to the tester's channel id and clears transfer state
func (s *Session) Establish(peerID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopReassemblyTimer()
	s.rxReassembler.Reset()
	s.peerID = peerID
	s.txSequence = 0
	s.established = true
}

// Established returns true once a setup handshake has completed
func (s *Session) Established() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.established
}

// PeerID returns the tester's channel id
func (s *Session) PeerID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerID
}

// LocalID returns the id this session receives on
func (s *Session) LocalID() uint32 {
	return s.localID
}

// Receive processes one frame addressed to the local id.
// For ack-requested opcodes the ack is handed to send before the frame is reassembled.
// Returns the complete request payload once the last frame of a transfer arrives.
func (s *Session) Receive(frame can.Frame, send func(can.Frame) error) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.established {
		return nil, ErrSessionNotEstablished
	}

	data := frame.Payload()
	h, err := DecodeHeader(data)
	if err != nil {
		s.stats.IncrementMalformedFrames()
		return nil, err
	}
	s.stats.IncrementRxFrames()

	if h.Opcode == OpAck {
		s.stats.IncrementAcksReceived()
		return nil, nil
	}
	if !h.Opcode.IsData() {
		s.stats.IncrementMalformedFrames()
		return nil, fmt.Errorf("%w: unexpected opcode %s", ErrMalformedFrame, h.Opcode)
	}

	// Acked before validation: the tester waits for the ack of every frame that requests one
	if h.Opcode.AckRequested() {
		if err := send(EncodeAck(s.peerID, (h.Seq+1)&SeqMask)); err != nil {
			return nil, fmt.Errorf("send ack: %w", err)
		}
		s.stats.IncrementAcksSent()
	}

	payload, err := s.rxReassembler.Process(data)
	if err != nil {
		if s.rxReassembler.Discarding() {
			s.startReassemblyTimer()
		} else {
			s.stopReassemblyTimer()
		}
		switch {
		case errors.Is(err, ErrUnexpectedSequence):
			s.stats.IncrementSequenceErrors()
		case errors.Is(err, ErrLengthMismatch):
			s.stats.IncrementLengthMismatches()
		default:
			s.stats.IncrementMalformedFrames()
		}
		return nil, err
	}

	if payload != nil {
		s.stopReassemblyTimer()
		s.stats.IncrementRxMessages()
		return payload, nil
	}

	s.startReassemblyTimer()
	return nil, nil
}

// Send segments payload into frames addressed to the peer.
// Every response is a new transfer starting at sequence 0.
func (s *Session) Send(payload []byte) ([]can.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.established {
		return nil, ErrSessionNotEstablished
	}

	segments, err := SegmentData(payload, 0)
	if err != nil {
		return nil, err
	}
	s.txSequence = NextSeq(segments, 0)

	frames := make([]can.Frame, len(segments))
	for i, seg := range segments {
		frames[i] = seg.Frame(s.peerID)
	}

	s.stats.IncrementTxFrames(len(frames))
	s.stats.IncrementTxMessages()
	return frames, nil
}

// startReassemblyTimer starts or restarts the inactivity timer.
// Must be called with s.mu held.
func (s *Session) startReassemblyTimer() {
	s.stopReassemblyTimer()

	s.timerGen++
	gen := s.timerGen
	s.reassemblyTimer = time.AfterFunc(s.config.ReassemblyTimeout, func() {
		s.mu.Lock()
		// A frame processed while this callback waited for the lock supersedes it
		if gen != s.timerGen {
			s.mu.Unlock()
			return
		}
		if s.rxReassembler.Discarding() {
			// The rest of a broken transfer never came; nothing was pending
			s.rxReassembler.Reset()
			s.reassemblyTimer = nil
			s.mu.Unlock()
			return
		}
		if !s.rxReassembler.InProgress() {
			s.mu.Unlock()
			return
		}
		s.rxReassembler.Reset()
		s.reassemblyTimer = nil
		s.stats.IncrementTimeoutErrors()
		onTimeout := s.config.OnTimeout
		s.mu.Unlock()

		if onTimeout != nil {
			onTimeout(ErrTransferTimeout)
		}
	})
}

// stopReassemblyTimer stops the inactivity timer.
// Must be called with s.mu held.
func (s *Session) stopReassemblyTimer() {
	s.timerGen++
	if s.reassemblyTimer != nil {
		s.reassemblyTimer.Stop()
		s.reassemblyTimer = nil
	}
}

// Stats returns session statistics
func (s *Session) Stats() *Statistics {
	return s.stats
}

// Reset drops any partial transfer and the peer binding
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopReassemblyTimer()
	s.rxReassembler.Reset()
	s.txSequence = 0
	s.peerID = 0
	s.established = false
}

// IsReceiving returns true while a transfer is being reassembled
func (s *Session) IsReceiving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rxReassembler.InProgress()
}

// IsDiscarding returns true while frames of a broken transfer are being dropped
func (s *Session) IsDiscarding() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rxReassembler.Discarding()
}

// TxSequence returns the sequence value following the last transmitted frame.
// Diagnostics only: every Send starts a new transfer at sequence 0.
func (s *Session) TxSequence() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txSequence
}
