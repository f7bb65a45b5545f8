package kwp

// Service identifiers
const (
	ReadECUIdentification         byte = 0x1A
	ReadECUIdentificationResponse byte = 0x5A
	NegativeResponse              byte = 0x7F

	// Positive responses set bit 6 of the request service id
	PositiveResponseOffset byte = 0x40
)

// ReadECUIdentification parameters
const (
	ParamExtendedIdentification byte = 0x86
	ParamVIN                    byte = 0x90
	ParamImmobilizer            byte = 0x92
	ParamSoftwareVersion        byte = 0x95
	ParamEngineType             byte = 0x97
	ParamItemNumber             byte = 0x9B
)

// PositiveResponseID returns the response service id for a request service id
func PositiveResponseID(sid byte) byte {
	return sid + PositiveResponseOffset
}
