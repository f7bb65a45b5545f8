package can

import (
	"bytes"
	"errors"
	"testing"
)

func TestFrame_NewFrame(t *testing.T) {
	f, err := NewFrame(0x740, []byte{0x11, 0x00, 0x02})
	if err != nil {
		t.Fatalf("NewFrame failed: %v", err)
	}

	if f.ID != 0x740 {
		t.Errorf("Expected ID 0x740, got 0x%X", f.ID)
	}
	if f.Len != 3 {
		t.Errorf("Expected Len 3, got %d", f.Len)
	}
	if !bytes.Equal(f.Payload(), []byte{0x11, 0x00, 0x02}) {
		t.Errorf("Payload mismatch: %X", f.Payload())
	}
}

func TestFrame_NewFrameTooLong(t *testing.T) {
	_, err := NewFrame(0x740, make([]byte, 9))
	if !errors.Is(err, ErrInvalidLen) {
		t.Errorf("Expected ErrInvalidLen, got %v", err)
	}
}

func TestFrame_NewFrameInvalidID(t *testing.T) {
	_, err := NewFrame(0x800, []byte{0x01})
	if !errors.Is(err, ErrInvalidID) {
		t.Errorf("Expected ErrInvalidID, got %v", err)
	}
}

func TestFrame_ExtendedValidate(t *testing.T) {
	f := Frame{ID: 0x18DAF110, Extended: true, Len: 1}
	if err := f.Validate(); err != nil {
		t.Errorf("Extended frame should be valid: %v", err)
	}

	f.ID = 0x3FFFFFFF
	if err := f.Validate(); !errors.Is(err, ErrInvalidID) {
		t.Errorf("Expected ErrInvalidID, got %v", err)
	}
}

func TestFrame_PayloadIsCopy(t *testing.T) {
	f := MustFrame(0x200, 0x01, 0x02)
	p := f.Payload()
	p[0] = 0xFF

	if f.Data[0] != 0x01 {
		t.Error("Payload must not alias frame data")
	}
}

func TestFrame_String(t *testing.T) {
	f := MustFrame(0x201, 0x00, 0xD0)
	want := "ID: 0x201, DLC: 2, Data: 00 D0"
	if f.String() != want {
		t.Errorf("Expected %q, got %q", want, f.String())
	}
}
