package link

import (
	"bytes"
	"errors"
	"testing"

	"avaneesh/vwtp-go/pkg/can"
)

func setupFrame(peer uint16, byte5Flags uint8, app uint8) can.Frame {
	return can.MustFrame(TesterCANID, 0x01, 0xC0, 0x00, 0x10, byte(peer), byte(peer>>8)|byte5Flags, app)
}

func TestSetupHandler_ValidRequest(t *testing.T) {
	h := NewSetupHandler(DefaultAddressing())

	resp, req, err := h.Handle(setupFrame(0x123, 0, 0x01))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if req.PeerID != 0x123 {
		t.Errorf("Expected peer 0x123, got 0x%X", req.PeerID)
	}
	if resp.ID != 0x201 {
		t.Errorf("Expected response on 0x201, got 0x%X", resp.ID)
	}
	want := []byte{0x00, 0xD0, 0x23, 0x01, 0x40, 0x07, 0x01}
	if !bytes.Equal(resp.Payload(), want) {
		t.Errorf("Expected %X, got %X", want, resp.Payload())
	}
}

func TestSetupHandler_InvalidDestinationBit(t *testing.T) {
	h := NewSetupHandler(DefaultAddressing())

	resp, _, err := h.Handle(setupFrame(0x300, CANIDInvalidBit, 0x01))
	if !errors.Is(err, ErrInvalidDestinationID) {
		t.Fatalf("Expected ErrInvalidDestinationID, got %v", err)
	}
	if resp.Len != 0 {
		t.Errorf("Expected no response frame, got %s", resp)
	}
}

func TestSetupHandler_UnsupportedAppType(t *testing.T) {
	h := NewSetupHandler(DefaultAddressing())

	resp, _, err := h.Handle(setupFrame(0x300, 0, 0x02))
	if !errors.Is(err, ErrUnsupportedAppType) {
		t.Fatalf("Expected ErrUnsupportedAppType, got %v", err)
	}
	if resp.Len != 0 {
		t.Errorf("Expected no response frame, got %s", resp)
	}
}

func TestParseSetupRequest_Short(t *testing.T) {
	_, err := ParseSetupRequest([]byte{0x01, 0xC0, 0x00})
	if !errors.Is(err, ErrMalformedSetup) {
		t.Errorf("Expected ErrMalformedSetup, got %v", err)
	}
}

func TestParseSetupRequest_PeerIDLittleEndian(t *testing.T) {
	req, err := ParseSetupRequest([]byte{0x01, 0xC0, 0x00, 0x10, 0x40, 0x07, 0x01})
	if err != nil {
		t.Fatalf("ParseSetupRequest failed: %v", err)
	}
	if req.PeerID != 0x740 {
		t.Errorf("Expected peer 0x740, got 0x%X", req.PeerID)
	}
}

func TestSetupHandler_OtherAddress(t *testing.T) {
	h := NewSetupHandler(DefaultAddressing())
	f := can.MustFrame(TesterCANID, 0x02, 0xC0, 0x00, 0x10, 0x00, 0x03, 0x01)

	if _, _, err := h.Handle(f); !errors.Is(err, ErrMalformedSetup) {
		t.Errorf("Expected ErrMalformedSetup for another ECU, got %v", err)
	}
}
