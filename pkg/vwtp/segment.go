package vwtp

import "avaneesh/vwtp-go/pkg/can"

// Per-frame payload capacity
const (
	FirstFrameCapacity = can.MaxDataLen - FirstHeaderSize // 5
	FrameCapacity      = can.MaxDataLen - HeaderSize      // 7
)

// Segment is one VWTP frame of an outgoing transfer
type Segment struct {
	Header
	First    bool   // carries the length preamble
	TotalLen uint8  // only meaningful when First is set
	Data     []byte // payload chunk
}

// Serialize converts the segment to CAN data bytes
func (s *Segment) Serialize() []byte {
	if s.First {
		out := make([]byte, FirstHeaderSize+len(s.Data))
		out[0] = s.Header.Byte()
		out[1] = 0x00
		out[2] = s.TotalLen
		copy(out[FirstHeaderSize:], s.Data)
		return out
	}
	out := make([]byte, HeaderSize+len(s.Data))
	out[0] = s.Header.Byte()
	copy(out[HeaderSize:], s.Data)
	return out
}

// Frame addresses the serialized segment to id
func (s *Segment) Frame(id uint32) can.Frame {
	f := can.Frame{ID: id}
	b := s.Serialize()
	f.Len = uint8(copy(f.Data[:], b))
	return f
}

// SegmentData splits payload into VWTP frames starting at startSeq.
// The last segment uses OpLastAck, all others OpMoreNoAck.
func SegmentData(payload []byte, startSeq uint8) ([]*Segment, error) {
	if len(payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}

	total := uint8(len(payload))
	seq := startSeq & SeqMask
	var segments []*Segment

	for offset, first := 0, true; first || offset < len(payload); first = false {
		capacity := FrameCapacity
		if first {
			capacity = FirstFrameCapacity
		}

		remaining := len(payload) - offset
		last := remaining <= capacity
		n := capacity
		if last {
			n = remaining
		}

		op := OpMoreNoAck
		if last {
			op = OpLastAck
		}

		segments = append(segments, &Segment{
			Header:   Header{Opcode: op, Seq: seq},
			First:    first,
			TotalLen: total,
			Data:     payload[offset : offset+n],
		})

		offset += n
		seq = (seq + 1) & SeqMask
	}

	return segments, nil
}

// NextSeq returns the sequence number following the last segment
func NextSeq(segments []*Segment, startSeq uint8) uint8 {
	return (startSeq + uint8(len(segments))) & SeqMask
}
