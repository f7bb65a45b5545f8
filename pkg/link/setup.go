package link

import (
	"encoding/binary"
	"fmt"

	"avaneesh/vwtp-go/pkg/can"
)

// SetupRequest is a decoded channel setup request
type SetupRequest struct {
	LogicalAddress uint8
	PeerID         uint32 // id the tester receives on
	AppType        uint8
}

// ParseSetupRequest validates a setup request and extracts the tester's channel id
func ParseSetupRequest(data []byte) (SetupRequest, error) {
	if len(data) < SetupFrameSize {
		return SetupRequest{}, fmt.Errorf("%w: %d bytes", ErrMalformedSetup, len(data))
	}
	if data[1] != SetupRequestOpcode {
		return SetupRequest{}, fmt.Errorf("%w: opcode 0x%02X", ErrMalformedSetup, data[1])
	}
	if data[5]&CANIDInvalidBit != 0 {
		return SetupRequest{}, ErrInvalidDestinationID
	}
	if data[6] != AppTypeKWP2000 {
		return SetupRequest{}, fmt.Errorf("%w: 0x%02X", ErrUnsupportedAppType, data[6])
	}

	return SetupRequest{
		LogicalAddress: data[0],
		PeerID:         uint32(binary.LittleEndian.Uint16(data[4:6])),
		AppType:        data[6],
	}, nil
}

// SetupHandler answers channel setup requests for one ECU
type SetupHandler struct {
	addr Addressing
}

// NewSetupHandler creates a setup handler for addr
func NewSetupHandler(addr Addressing) *SetupHandler {
	return &SetupHandler{addr: addr}
}

// Handle parses a setup request frame and builds the response frame.
// On error no response must be sent.
func (h *SetupHandler) Handle(frame can.Frame) (can.Frame, SetupRequest, error) {
	req, err := ParseSetupRequest(frame.Payload())
	if err != nil {
		return can.Frame{}, SetupRequest{}, err
	}
	if req.LogicalAddress != h.addr.LogicalAddress {
		return can.Frame{}, SetupRequest{}, fmt.Errorf("%w: address 0x%02X", ErrMalformedSetup, req.LogicalAddress)
	}

	resp := can.Frame{ID: h.addr.ResponseID(), Len: SetupFrameSize}
	resp.Data[0] = 0x00
	resp.Data[1] = SetupResponseOpcode
	binary.LittleEndian.PutUint16(resp.Data[2:4], uint16(req.PeerID))
	binary.LittleEndian.PutUint16(resp.Data[4:6], uint16(h.addr.LocalID))
	resp.Data[6] = req.AppType
	return resp, req, nil
}
