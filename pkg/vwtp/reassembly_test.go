package vwtp

import (
	"bytes"
	"errors"
	"testing"
)

func TestReassembler_RoundTrip(t *testing.T) {
	r := NewReassembler()
	for n := 0; n <= MaxPayloadSize; n++ {
		payload := sequentialPayload(n)
		segments, err := SegmentData(payload, 0)
		if err != nil {
			t.Fatalf("n=%d: SegmentData failed: %v", n, err)
		}

		var result []byte
		for i, seg := range segments {
			out, err := r.Process(seg.Serialize())
			if err != nil {
				t.Fatalf("n=%d frame %d: Process failed: %v", n, i, err)
			}
			if out != nil && i != len(segments)-1 {
				t.Fatalf("n=%d: completed early at frame %d", n, i)
			}
			result = out
		}

		if result == nil || !bytes.Equal(result, payload) {
			t.Fatalf("n=%d: round trip mismatch", n)
		}
		if r.InProgress() {
			t.Fatalf("n=%d: reassembler should be idle", n)
		}
	}
}

func TestReassembler_SingleFrameRequest(t *testing.T) {
	r := NewReassembler()
	out, err := r.Process([]byte{0x10, 0x00, 0x02, 0x1A, 0x9B})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !bytes.Equal(out, []byte{0x1A, 0x9B}) {
		t.Errorf("Expected [1A 9B], got %X", out)
	}
}

func TestReassembler_PaddingTrimmed(t *testing.T) {
	r := NewReassembler()
	out, err := r.Process([]byte{0x10, 0x00, 0x02, 0x1A, 0x9B, 0x55, 0x55, 0x55})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !bytes.Equal(out, []byte{0x1A, 0x9B}) {
		t.Errorf("Expected padding to be dropped, got %X", out)
	}
}

func TestReassembler_SequenceError(t *testing.T) {
	r := NewReassembler()
	if _, err := r.Process([]byte{0x20, 0x00, 0x0A, 1, 2, 3, 4, 5}); err != nil {
		t.Fatalf("First frame failed: %v", err)
	}

	_, err := r.Process([]byte{0x12, 6, 7, 8, 9, 10})
	if !errors.Is(err, ErrUnexpectedSequence) {
		t.Fatalf("Expected ErrUnexpectedSequence, got %v", err)
	}
	if r.InProgress() {
		t.Error("Reassembler should reset to idle after a sequence error")
	}
}

func TestReassembler_LostFrameDiscardsTransfer(t *testing.T) {
	r := NewReassembler()
	r.Process([]byte{0x20, 0x00, 0x14, 1, 2, 3, 4, 5})

	// seq 1 lost
	_, err := r.Process([]byte{0x22, 6, 7, 8, 9, 10, 11, 12})
	if !errors.Is(err, ErrUnexpectedSequence) {
		t.Fatalf("Expected ErrUnexpectedSequence, got %v", err)
	}
	if !r.Discarding() {
		t.Fatal("Reassembler should discard the rest of the broken transfer")
	}

	// The broken transfer's last frame must not be taken as a new request
	out, err := r.Process([]byte{0x13, 0x00, 0x02, 0x1A, 0x9B, 0x55, 0x55})
	if !errors.Is(err, ErrUnexpectedSequence) {
		t.Fatalf("Expected ErrUnexpectedSequence, got %v", err)
	}
	if out != nil {
		t.Fatalf("Expected no payload, got %X", out)
	}
	if r.Discarding() || r.InProgress() {
		t.Fatal("Reassembler should be idle after the broken transfer ended")
	}

	out, err = r.Process([]byte{0x11, 0x00, 0x02, 0x1A, 0x9B})
	if err != nil || !bytes.Equal(out, []byte{0x1A, 0x9B}) {
		t.Errorf("Unexpected result after discard %X %v", out, err)
	}
}

func TestReassembler_DiscardEndsOnNewTransfer(t *testing.T) {
	r := NewReassembler()
	r.Process([]byte{0x20, 0x00, 0x14, 1, 2, 3, 4, 5})
	r.Process([]byte{0x22, 6, 7, 8, 9, 10, 11, 12})

	out, err := r.Process([]byte{0x10, 0x00, 0x02, 0x1A, 0x9B})
	if err != nil || !bytes.Equal(out, []byte{0x1A, 0x9B}) {
		t.Errorf("Expected seq 0 frame to start a new transfer, got %X %v", out, err)
	}
	if r.Discarding() {
		t.Error("Discard state should end on a seq 0 frame")
	}
}

func TestReassembler_IdleAcceptsAnySeq(t *testing.T) {
	r := NewReassembler()
	out, err := r.Process([]byte{0x11, 0x00, 0x02, 0x1A, 0x9B})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !bytes.Equal(out, []byte{0x1A, 0x9B}) {
		t.Errorf("Expected [1A 9B], got %X", out)
	}

	// Transfer starting at seq 9 continues at 10
	r.Process([]byte{0x29, 0x00, 0x07, 1, 2, 3, 4, 5})
	if r.ExpectedSeq() != 10 {
		t.Fatalf("Expected next seq 10, got %d", r.ExpectedSeq())
	}
	out, err = r.Process([]byte{0x1A, 6, 7})
	if err != nil || !bytes.Equal(out, []byte{1, 2, 3, 4, 5, 6, 7}) {
		t.Errorf("Unexpected result %X %v", out, err)
	}
}

func TestReassembler_ShortFirstFrame(t *testing.T) {
	r := NewReassembler()
	_, err := r.Process([]byte{0x13, 0x00})
	if !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("Expected ErrMalformedFrame, got %v", err)
	}
}

func TestReassembler_LengthMismatch(t *testing.T) {
	r := NewReassembler()
	_, err := r.Process([]byte{0x10, 0x00, 0x09, 0x1A, 0x9B})
	if !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("Expected ErrLengthMismatch, got %v", err)
	}
	if r.InProgress() {
		t.Error("Reassembler should be idle after a length mismatch")
	}
}

func TestReassembler_NewTransferRestarts(t *testing.T) {
	r := NewReassembler()
	r.Process([]byte{0x20, 0x00, 0x0A, 1, 2, 3, 4, 5})

	out, err := r.Process([]byte{0x10, 0x00, 0x02, 0x1A, 0x9B})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !bytes.Equal(out, []byte{0x1A, 0x9B}) {
		t.Errorf("Expected restarted transfer result, got %X", out)
	}
}

func TestReassembler_NonDataOpcode(t *testing.T) {
	r := NewReassembler()
	_, err := r.Process([]byte{0xA8})
	if !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("Expected ErrMalformedFrame, got %v", err)
	}
}

func TestReassembler_OverflowWithoutLastFrame(t *testing.T) {
	r := NewReassembler()
	r.Process([]byte{0x20, 0x00, 0xFF, 0, 0, 0, 0, 0})

	var err error
	for seq := uint8(1); err == nil; seq++ {
		_, err = r.Process([]byte{0x20 | seq&SeqMask, 0, 0, 0, 0, 0, 0, 0})
	}
	if !errors.Is(err, ErrBufferOverflow) {
		t.Errorf("Expected ErrBufferOverflow, got %v", err)
	}
}
