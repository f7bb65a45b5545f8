// Package capture writes and reads CAN frame traces as a stream of CBOR records.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"avaneesh/vwtp-go/pkg/can"
	"avaneesh/vwtp-go/pkg/channel"
)

// Direction of a captured frame relative to the ECU
type Direction uint8

const (
	DirRx Direction = iota
	DirTx
)

// String returns "RX" or "TX"
func (d Direction) String() string {
	if d == DirTx {
		return "TX"
	}
	return "RX"
}

// Record is one captured frame
type Record struct {
	Time      time.Time `cbor:"1,keyasint"`
	Direction Direction `cbor:"2,keyasint"`
	ID        uint32    `cbor:"3,keyasint"`
	Extended  bool      `cbor:"4,keyasint,omitempty"`
	Data      []byte    `cbor:"5,keyasint"`
}

// Frame rebuilds the captured frame
func (r Record) Frame() (can.Frame, error) {
	if len(r.Data) > can.MaxDataLen {
		return can.Frame{}, fmt.Errorf("%w: %d bytes", can.ErrInvalidLen, len(r.Data))
	}
	f := can.Frame{ID: r.ID, Extended: r.Extended, Len: uint8(len(r.Data))}
	copy(f.Data[:], r.Data)
	if err := f.Validate(); err != nil {
		return can.Frame{}, err
	}
	return f, nil
}

// String renders the record as one trace line
func (r Record) String() string {
	return fmt.Sprintf("%s %s ID: 0x%03X % X", r.Time.Format("15:04:05.000"), r.Direction, r.ID, r.Data)
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
}

// Recorder appends records to a writer. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	enc    *cbor.Encoder
	closer io.Closer
	count  uint64
	now    func() time.Time
}

// NewRecorder writes records to w
func NewRecorder(w io.Writer) *Recorder {
	r := &Recorder{enc: encMode.NewEncoder(w), now: time.Now}
	if c, ok := w.(io.Closer); ok {
		r.closer = c
	}
	return r
}

// Create opens path for writing, truncating any previous trace
func Create(path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create capture %s: %w", path, err)
	}
	return NewRecorder(f), nil
}

// Record appends one frame
func (r *Recorder) Record(dir Direction, frame can.Frame) error {
	rec := Record{
		Time:      r.now(),
		Direction: dir,
		ID:        frame.ID,
		Extended:  frame.Extended,
		Data:      frame.Payload(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enc.Encode(rec); err != nil {
		return fmt.Errorf("encode capture record: %w", err)
	}
	r.count++
	return nil
}

// Count returns the number of records written
func (r *Recorder) Count() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Close closes the underlying writer if it is closable
func (r *Recorder) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Reader decodes records written by a Recorder
type Reader struct {
	dec *cbor.Decoder
}

// NewReader reads records from r
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: cbor.NewDecoder(r)}
}

// Next returns the next record, or io.EOF at the end of the trace
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("decode capture record: %w", err)
	}
	return rec, nil
}

// ReadAll returns every record in r
func ReadAll(r io.Reader) ([]Record, error) {
	reader := NewReader(r)
	var out []Record
	for {
		rec, err := reader.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

// Bus records every frame passing through an underlying channel.Bus.
// Capture failures never fail the bus operation.
type Bus struct {
	channel.Bus
	rec   *Recorder
	onErr func(error)
}

// Tap wraps bus so reads and successful writes are recorded to rec
func Tap(bus channel.Bus, rec *Recorder, onErr func(error)) *Bus {
	if onErr == nil {
		onErr = func(error) {}
	}
	return &Bus{Bus: bus, rec: rec, onErr: onErr}
}

// Read implements channel.Bus
func (b *Bus) Read(ctx context.Context) (can.Frame, error) {
	f, err := b.Bus.Read(ctx)
	if err != nil {
		return f, err
	}
	if err := b.rec.Record(DirRx, f); err != nil {
		b.onErr(err)
	}
	return f, nil
}

// Write implements channel.Bus
func (b *Bus) Write(ctx context.Context, frame can.Frame) error {
	if err := b.Bus.Write(ctx, frame); err != nil {
		return err
	}
	if err := b.rec.Record(DirTx, frame); err != nil {
		b.onErr(err)
	}
	return nil
}

// Close closes the bus, then the recorder
func (b *Bus) Close() error {
	busErr := b.Bus.Close()
	if err := b.rec.Close(); err != nil && busErr == nil {
		return err
	}
	return busErr
}
