package vwtp

import (
	"errors"
	"fmt"

	"avaneesh/vwtp-go/pkg/can"
)

var (
	ErrMalformedFrame        = errors.New("malformed VWTP frame")
	ErrUnexpectedSequence    = errors.New("unexpected VWTP sequence number")
	ErrTransferTimeout       = errors.New("VWTP transfer timed out")
	ErrPayloadTooLarge       = errors.New("payload exceeds 255 bytes")
	ErrLengthMismatch        = errors.New("reassembled length shorter than announced")
	ErrSessionNotEstablished = errors.New("VWTP session not established")
)

// Frame layout constants
const (
	FirstHeaderSize = 3   // [opcode|seq][0x00][total length]
	HeaderSize      = 1   // [opcode|seq]
	MaxPayloadSize  = 255 // length byte is a single octet
	SeqMask         = 0x0F
)

// Opcode is the high nibble of the first byte of every VWTP frame
type Opcode uint8

// VWTP2 opcodes
const (
	OpMoreAck   Opcode = 0x0 // more packets follow, ack requested
	OpLastAck   Opcode = 0x1 // last packet, ack requested
	OpMoreNoAck Opcode = 0x2 // more packets follow, no ack
	OpLastNoAck Opcode = 0x3 // last packet, no ack
	OpAck       Opcode = 0xB // receiver ready, next expected seq in low nibble
)

// IsData returns true for the four data opcodes
func (o Opcode) IsData() bool {
	return o <= OpLastNoAck
}

// IsLast returns true if the frame terminates a transfer
func (o Opcode) IsLast() bool {
	return o == OpLastAck || o == OpLastNoAck
}

// AckRequested returns true if the sender waits for an ack
func (o Opcode) AckRequested() bool {
	return o == OpMoreAck || o == OpLastAck
}

func (o Opcode) String() string {
	switch o {
	case OpMoreAck:
		return "MORE_ACK"
	case OpLastAck:
		return "LAST_ACK"
	case OpMoreNoAck:
		return "MORE_NOACK"
	case OpLastNoAck:
		return "LAST_NOACK"
	case OpAck:
		return "ACK"
	default:
		return fmt.Sprintf("OPCODE_%X", uint8(o))
	}
}

// Header is the decoded first byte of a VWTP frame
type Header struct {
	Opcode Opcode
	Seq    uint8
}

// Byte encodes the header as opcode<<4 | seq
func (h Header) Byte() byte {
	return byte(h.Opcode&0x0F)<<4 | h.Seq&SeqMask
}

// DecodeHeader splits byte 0 into opcode and sequence
func DecodeHeader(data []byte) (Header, error) {
	if len(data) == 0 {
		return Header{}, ErrMalformedFrame
	}
	return Header{
		Opcode: Opcode(data[0] >> 4),
		Seq:    data[0] & SeqMask,
	}, nil
}

// DecodeFirstFrameLength returns the total payload length announced by a first frame
func DecodeFirstFrameLength(data []byte) (uint8, error) {
	if len(data) < FirstHeaderSize {
		return 0, fmt.Errorf("%w: first frame has %d bytes", ErrMalformedFrame, len(data))
	}
	return data[2], nil
}

// PayloadSlice returns the data bytes after the frame header
func PayloadSlice(data []byte, first bool) []byte {
	n := HeaderSize
	if first {
		n = FirstHeaderSize
	}
	if len(data) <= n {
		return []byte{}
	}
	return data[n:]
}

// EncodeAck builds the one-byte ack frame for the next expected sequence
func EncodeAck(peerID uint32, nextSeq uint8) can.Frame {
	h := Header{Opcode: OpAck, Seq: nextSeq}
	return can.Frame{ID: peerID, Len: 1, Data: [8]byte{h.Byte()}}
}
