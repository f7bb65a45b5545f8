package link

import "errors"

// VWTP2 channel setup constants

// Well-known identifiers
const (
	TesterCANID        uint32 = 0x200 // Setup requests arrive here
	ResponseCANIDDelta uint32 = 1     // Setup responses go to tester id + 1
	ECULogicalAddress  uint8  = 0x01  // Engine control unit
	LocalVWTPCANID     uint32 = 0x740 // Channel id this ECU receives on
)

// Setup opcodes
const (
	SetupRequestOpcode  uint8 = 0xC0
	SetupResponseOpcode uint8 = 0xD0
)

// Setup frame fields
const (
	SetupFrameSize  = 7    // [addr][opcode][rx lo][rx hi][tx lo][tx hi][app]
	CANIDInvalidBit = 0x10 // Set in byte 5 when the proposed id is not valid
	AppTypeKWP2000  = 0x01
)

var (
	ErrMalformedSetup       = errors.New("malformed setup request")
	ErrInvalidDestinationID = errors.New("invalid destination VWTP CAN id")
	ErrUnsupportedAppType   = errors.New("unsupported application type")
)

// Addressing identifies the ECU on the bus
type Addressing struct {
	TesterID       uint32 // Setup request id
	LogicalAddress uint8  // Byte 0 of setup requests for this ECU
	LocalID        uint32 // VWTP channel id this ECU receives on
}

// DefaultAddressing returns the engine ECU addressing
func DefaultAddressing() Addressing {
	return Addressing{
		TesterID:       TesterCANID,
		LogicalAddress: ECULogicalAddress,
		LocalID:        LocalVWTPCANID,
	}
}

// ResponseID returns the id setup responses are sent on
func (a Addressing) ResponseID() uint32 {
	return a.TesterID + ResponseCANIDDelta
}
