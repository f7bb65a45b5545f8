package channel

import (
	"errors"
	"fmt"

	"avaneesh/vwtp-go/pkg/can"
)

// Serial CAN bridge protocol:
//
//	[0x7E] stuffed([id hi][id lo][dlc][data...][crc8]) [0x7F]
//
// 0x7E, 0x7F and 0x1B inside a frame are sent as 0x1B followed by 0x01, 0x02, 0x03.
// Every frame is answered with a single ACK (0x06) or NACK (0x15) byte.
const (
	SerialStartMarker = 0x7E
	SerialEndMarker   = 0x7F
	SerialEscapeChar  = 0x1B
	SerialACK         = 0x06
	SerialNACK        = 0x15

	crc8Polynomial = 0x07
)

var (
	ErrInvalidEscape = errors.New("invalid escape sequence")
	ErrChecksum      = errors.New("serial frame checksum mismatch")
	ErrShortFrame    = errors.New("serial frame too short")
)

// crc8 computes CRC-8 (polynomial 0x07, init 0x00) over id, dlc and data
func crc8(frame can.Frame) byte {
	var crc byte
	update := func(b byte) {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ crc8Polynomial
			} else {
				crc <<= 1
			}
		}
	}

	update(byte(frame.ID >> 8))
	update(byte(frame.ID))
	update(frame.Len)
	for _, b := range frame.Data[:frame.Len] {
		update(b)
	}
	return crc
}

func stuff(out []byte, b byte) []byte {
	switch b {
	case SerialStartMarker:
		return append(out, SerialEscapeChar, 0x01)
	case SerialEndMarker:
		return append(out, SerialEscapeChar, 0x02)
	case SerialEscapeChar:
		return append(out, SerialEscapeChar, 0x03)
	default:
		return append(out, b)
	}
}

func unstuff(b byte) (byte, error) {
	switch b {
	case 0x01:
		return SerialStartMarker, nil
	case 0x02:
		return SerialEndMarker, nil
	case 0x03:
		return SerialEscapeChar, nil
	default:
		return 0, fmt.Errorf("%w: 0x%02X", ErrInvalidEscape, b)
	}
}

// EncodeSerialFrame builds the stuffed wire bytes for frame.
// The bridge only carries 11-bit ids.
func EncodeSerialFrame(frame can.Frame) ([]byte, error) {
	if frame.Extended {
		return nil, fmt.Errorf("%w: serial bridge does not carry extended ids", can.ErrInvalidID)
	}
	if err := frame.Validate(); err != nil {
		return nil, err
	}

	body := make([]byte, 0, 3+int(frame.Len)+1)
	body = append(body, byte(frame.ID>>8), byte(frame.ID), frame.Len)
	body = append(body, frame.Data[:frame.Len]...)
	body = append(body, crc8(frame))

	out := []byte{SerialStartMarker}
	for _, b := range body {
		out = stuff(out, b)
	}
	return append(out, SerialEndMarker), nil
}

// DecodeSerialBody parses an unstuffed frame body and verifies its checksum
func DecodeSerialBody(body []byte) (can.Frame, error) {
	if len(body) < 4 {
		return can.Frame{}, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(body))
	}
	dlc := body[2]
	if dlc > can.MaxDataLen {
		return can.Frame{}, fmt.Errorf("%w: dlc %d", can.ErrInvalidLen, dlc)
	}
	if len(body) < 3+int(dlc)+1 {
		return can.Frame{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrShortFrame, 3+int(dlc)+1, len(body))
	}

	f := can.Frame{ID: uint32(body[0])<<8 | uint32(body[1]), Len: dlc}
	copy(f.Data[:], body[3:3+dlc])

	if got, want := body[3+dlc], crc8(f); got != want {
		return can.Frame{}, fmt.Errorf("%w: got 0x%02X, want 0x%02X", ErrChecksum, got, want)
	}
	return f, f.Validate()
}

// serialEvent is one decoded unit of the serial byte stream
type serialEvent struct {
	frame can.Frame
	err   error // decode error for a delimited frame
	ack   bool  // ACK/NACK byte received outside a frame
	isAck bool  // true when this event is an ACK/NACK
}

// serialDecoder reassembles frames from the serial byte stream
type serialDecoder struct {
	buffer  []byte
	inFrame bool
	escaped bool
}

// Feed consumes one byte and returns an event when a frame or ACK/NACK completes
func (d *serialDecoder) Feed(b byte) (serialEvent, bool) {
	if !d.inFrame {
		switch b {
		case SerialACK, SerialNACK:
			return serialEvent{isAck: true, ack: b == SerialACK}, true
		case SerialStartMarker:
			d.inFrame = true
			d.escaped = false
			d.buffer = d.buffer[:0]
		}
		return serialEvent{}, false
	}

	switch {
	case d.escaped:
		d.escaped = false
		u, err := unstuff(b)
		if err != nil {
			d.inFrame = false
			d.buffer = d.buffer[:0]
			return serialEvent{err: err}, true
		}
		d.buffer = append(d.buffer, u)
	case b == SerialEscapeChar:
		d.escaped = true
	case b == SerialStartMarker:
		d.buffer = d.buffer[:0]
	case b == SerialEndMarker:
		d.inFrame = false
		f, err := DecodeSerialBody(d.buffer)
		d.buffer = d.buffer[:0]
		return serialEvent{frame: f, err: err}, true
	default:
		d.buffer = append(d.buffer, b)
	}
	return serialEvent{}, false
}
