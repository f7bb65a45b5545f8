package can

import (
	"errors"
	"fmt"
	"strings"
)

// Frame limits
const (
	MaxDataLen = 8          // Classical CAN payload size
	MaxStdID   = 0x7FF      // 11-bit identifier
	MaxExtID   = 0x1FFFFFFF // 29-bit identifier
)

var (
	ErrInvalidID  = errors.New("invalid CAN identifier")
	ErrInvalidLen = errors.New("invalid CAN data length")
)

// Frame represents a classical CAN data frame
type Frame struct {
	ID       uint32  // Arbitration ID
	Extended bool    // 29-bit identifier
	Len      uint8   // Data length code (0-8)
	Data     [8]byte // Payload, only the first Len bytes are valid
}

// NewFrame creates a standard (11-bit) frame carrying data
func NewFrame(id uint32, data []byte) (Frame, error) {
	var f Frame
	if len(data) > MaxDataLen {
		return f, fmt.Errorf("%w: %d bytes", ErrInvalidLen, len(data))
	}
	f.ID = id
	f.Len = uint8(len(data))
	copy(f.Data[:], data)
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// MustFrame is NewFrame for constant inputs; it panics on invalid frames
func MustFrame(id uint32, data ...byte) Frame {
	f, err := NewFrame(id, data)
	if err != nil {
		panic(err)
	}
	return f
}

// Validate returns an error if the identifier or length is out of range
func (f Frame) Validate() error {
	if f.Len > MaxDataLen {
		return ErrInvalidLen
	}
	if f.Extended {
		if f.ID > MaxExtID {
			return ErrInvalidID
		}
	} else if f.ID > MaxStdID {
		return ErrInvalidID
	}
	return nil
}

// Payload returns a copy of the valid data bytes
func (f Frame) Payload() []byte {
	n := int(f.Len)
	if n > MaxDataLen {
		n = MaxDataLen
	}
	out := make([]byte, n)
	copy(out, f.Data[:n])
	return out
}

// String returns a human-readable representation of the frame
func (f Frame) String() string {
	parts := make([]string, 0, f.Len)
	for _, b := range f.Payload() {
		parts = append(parts, fmt.Sprintf("%02X", b))
	}
	return fmt.Sprintf("ID: 0x%03X, DLC: %d, Data: %s", f.ID, f.Len, strings.Join(parts, " "))
}
