package channel

import (
	"bytes"
	"testing"

	"avaneesh/vwtp-go/pkg/can"
)

func TestEncodeFrame_Layout(t *testing.T) {
	rec, err := EncodeFrame(can.MustFrame(0x740, 0xB1))
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}
	want := []byte{0x40, 0x07, 0x00, 0x00, 0x01, 0, 0, 0, 0xB1, 0, 0, 0, 0, 0, 0, 0}
	if !bytes.Equal(rec, want) {
		t.Errorf("Expected %X, got %X", want, rec)
	}
}

func TestEncodeFrame_Extended(t *testing.T) {
	f := can.Frame{ID: 0x18DAF110, Extended: true, Len: 2, Data: [8]byte{0x3E, 0x00}}
	rec, err := EncodeFrame(f)
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}
	if rec[3]&0x80 == 0 {
		t.Error("Expected EFF flag in byte 3")
	}

	got, err := DecodeFrame(rec)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	if got != f {
		t.Errorf("Expected %s, got %s", f, got)
	}
}

func TestDecodeFrame_Invalid(t *testing.T) {
	if _, err := DecodeFrame(make([]byte, 8)); err == nil {
		t.Error("Expected error for short record")
	}

	rec := make([]byte, FrameRecordSize)
	rec[4] = 9
	if _, err := DecodeFrame(rec); err == nil {
		t.Error("Expected error for dlc 9")
	}
}

func TestReadFrameRecord(t *testing.T) {
	var buf bytes.Buffer
	for _, f := range []can.Frame{can.MustFrame(0x200, 0x01, 0xC0), can.MustFrame(0x201, 0x00, 0xD0)} {
		rec, _ := EncodeFrame(f)
		buf.Write(rec)
	}

	first, err := readFrameRecord(&buf)
	if err != nil || first.ID != 0x200 {
		t.Fatalf("Unexpected first record %s %v", first, err)
	}
	second, err := readFrameRecord(&buf)
	if err != nil || second.ID != 0x201 {
		t.Fatalf("Unexpected second record %s %v", second, err)
	}
	if _, err := readFrameRecord(&buf); err == nil {
		t.Error("Expected EOF after two records")
	}
}
