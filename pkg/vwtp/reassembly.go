package vwtp

import (
	"bytes"
	"errors"
	"fmt"
)

var ErrBufferOverflow = errors.New("reassembly buffer overflow")

// MaxReassemblySize bounds the buffer: the largest payload plus one frame of CAN padding
const MaxReassemblySize = MaxPayloadSize + FrameCapacity

// Reassembler rebuilds a payload from the VWTP frames of one transfer.
// Any data frame received while Idle opens a transfer, since the tester's
// sequence counter runs across transfers. Seq 0 always opens a new one,
// unless it is the wrapped continuation of the current transfer.
//
// After a sequence error the rest of the broken transfer is discarded:
// frames are dropped until its last frame, a seq 0 frame or Reset.
type Reassembler struct {
	buffer      bytes.Buffer
	expectedSeq uint8
	totalLen    uint8
	inProgress  bool
	discarding  bool
}

// NewReassembler creates an idle reassembler
func NewReassembler() *Reassembler {
	return &Reassembler{}
}

// Process consumes the CAN data bytes of one data frame.
// Returns the complete payload when the transfer ends, nil while more frames are expected.
func (r *Reassembler) Process(data []byte) ([]byte, error) {
	h, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}
	if !h.Opcode.IsData() {
		return nil, fmt.Errorf("%w: opcode %s is not a data opcode", ErrMalformedFrame, h.Opcode)
	}

	if r.discarding {
		if h.Seq != 0 {
			if h.Opcode.IsLast() {
				r.Reset()
			}
			return nil, fmt.Errorf("%w: seq %d belongs to a broken transfer", ErrUnexpectedSequence, h.Seq)
		}
		r.discarding = false
	}

	first := !r.inProgress || (h.Seq == 0 && r.expectedSeq != 0)
	if first {
		total, err := DecodeFirstFrameLength(data)
		if err != nil {
			r.Reset()
			return nil, err
		}
		r.buffer.Reset()
		r.buffer.Write(PayloadSlice(data, true))
		r.totalLen = total
		r.inProgress = true
	} else {
		if h.Seq != r.expectedSeq {
			want := r.expectedSeq
			r.Reset()
			// A mismatched last frame ends the broken transfer itself
			r.discarding = !h.Opcode.IsLast()
			return nil, fmt.Errorf("%w: got %d, want %d", ErrUnexpectedSequence, h.Seq, want)
		}
		r.buffer.Write(PayloadSlice(data, false))
	}

	if r.buffer.Len() > MaxReassemblySize {
		r.Reset()
		return nil, ErrBufferOverflow
	}

	r.expectedSeq = (h.Seq + 1) & SeqMask

	if !h.Opcode.IsLast() {
		return nil, nil
	}

	total := int(r.totalLen)
	if r.buffer.Len() < total {
		got := r.buffer.Len()
		r.Reset()
		return nil, fmt.Errorf("%w: got %d of %d bytes", ErrLengthMismatch, got, total)
	}

	// Bytes past the announced length are CAN padding
	result := make([]byte, total)
	copy(result, r.buffer.Bytes()[:total])
	r.Reset()
	return result, nil
}

// Reset discards any partial transfer and returns to Idle
func (r *Reassembler) Reset() {
	r.buffer.Reset()
	r.inProgress = false
	r.discarding = false
	r.expectedSeq = 0
	r.totalLen = 0
}

// InProgress returns true while a transfer is being received
func (r *Reassembler) InProgress() bool {
	return r.inProgress
}

// Discarding returns true while frames of a broken transfer are being dropped
func (r *Reassembler) Discarding() bool {
	return r.discarding
}

// ExpectedSeq returns the next continuation sequence number
func (r *Reassembler) ExpectedSeq() uint8 {
	return r.expectedSeq
}
