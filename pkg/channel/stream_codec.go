package channel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"avaneesh/vwtp-go/pkg/can"
)

// Tunnelled frames use the Linux SocketCAN can_frame layout (little-endian):
//
//	0..3  can_id, bit 31 set for 29-bit ids
//	4     can_dlc
//	5..7  padding
//	8..15 data
const (
	FrameRecordSize = 16

	canEffFlag = 0x80000000
	canEffMask = 0x1FFFFFFF
	canStdMask = 0x7FF
)

// EncodeFrame serializes frame as a 16-byte can_frame record
func EncodeFrame(frame can.Frame) ([]byte, error) {
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	id := frame.ID
	if frame.Extended {
		id |= canEffFlag
	}
	buf := make([]byte, FrameRecordSize)
	binary.LittleEndian.PutUint32(buf[0:4], id)
	buf[4] = frame.Len
	copy(buf[8:16], frame.Data[:frame.Len])
	return buf, nil
}

// DecodeFrame parses a 16-byte can_frame record
func DecodeFrame(record []byte) (can.Frame, error) {
	if len(record) < FrameRecordSize {
		return can.Frame{}, fmt.Errorf("can_frame record needs %d bytes, got %d", FrameRecordSize, len(record))
	}
	id := binary.LittleEndian.Uint32(record[0:4])

	var f can.Frame
	f.Extended = id&canEffFlag != 0
	if f.Extended {
		f.ID = id & canEffMask
	} else {
		f.ID = id & canStdMask
	}
	f.Len = record[4]
	if f.Len > can.MaxDataLen {
		return can.Frame{}, fmt.Errorf("%w: dlc %d", can.ErrInvalidLen, f.Len)
	}
	copy(f.Data[:f.Len], record[8:8+f.Len])
	return f, nil
}

// readFrameRecord reads exactly one record from r
func readFrameRecord(r io.Reader) (can.Frame, error) {
	var record [FrameRecordSize]byte
	if _, err := io.ReadFull(r, record[:]); err != nil {
		return can.Frame{}, err
	}
	return DecodeFrame(record[:])
}

// pumpRecords decodes records from r into out until r fails or done closes.
// Records with a bad dlc are passed to onBad and skipped.
func pumpRecords(done <-chan struct{}, r io.Reader, out chan<- can.Frame, onFrame func(), onBad func(error)) error {
	for {
		f, err := readFrameRecord(r)
		if errors.Is(err, can.ErrInvalidLen) {
			onBad(err)
			continue
		}
		if err != nil {
			return err
		}
		onFrame()

		select {
		case out <- f:
		case <-done:
			return nil
		}
	}
}
