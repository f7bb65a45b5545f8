package kwp

import (
	"fmt"
	"strings"
)

// Identification record field widths
const (
	PartNumberLen     = 11
	IdentBlockLen     = 15
	EngineLen         = 20
	IdentificationLen = PartNumberLen + IdentBlockLen + EngineLen // 46
	VINLen            = 17
)

// DefaultIdentBlock is the coding/version block reported by the emulated engine ECU
var DefaultIdentBlock = [IdentBlockLen]byte{
	0x20, 0x30, 0x30, 0x31, 0x30, 0x10, 0x00,
	0x00, 0x00, 0x00, 0x01, 0x02, 0x03, 0x04, 0x05,
}

// Identification is the item-number record returned for 0x1A/0x9B
type Identification struct {
	PartNumber string
	Block      [IdentBlockLen]byte
	Engine     string
}

// DefaultIdentification returns the emulated 2.0 TFSI engine ECU
func DefaultIdentification() Identification {
	return Identification{
		PartNumber: "8P0907115AQ",
		Block:      DefaultIdentBlock,
		Engine:     "2.0l R4/4V TFSI",
	}
}

// MarshalBinary lays out the record as 11 + 15 + 20 bytes.
// Strings are left-justified and space-padded; longer strings are rejected.
func (id Identification) MarshalBinary() ([]byte, error) {
	part, err := padField("part number", id.PartNumber, PartNumberLen)
	if err != nil {
		return nil, err
	}
	engine, err := padField("engine", id.Engine, EngineLen)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, IdentificationLen)
	out = append(out, part...)
	out = append(out, id.Block[:]...)
	out = append(out, engine...)
	return out, nil
}

// UnmarshalBinary parses a 46-byte record, trimming the space padding
func (id *Identification) UnmarshalBinary(data []byte) error {
	if len(data) < IdentificationLen {
		return fmt.Errorf("identification record has %d bytes, want %d", len(data), IdentificationLen)
	}
	id.PartNumber = strings.TrimRight(string(data[:PartNumberLen]), " ")
	copy(id.Block[:], data[PartNumberLen:PartNumberLen+IdentBlockLen])
	id.Engine = strings.TrimRight(string(data[PartNumberLen+IdentBlockLen:IdentificationLen]), " ")
	return nil
}

func padField(name, s string, width int) ([]byte, error) {
	if len(s) > width {
		return nil, fmt.Errorf("%w: %s %q exceeds %d bytes", ErrFieldTooLong, name, s, width)
	}
	return []byte(s + strings.Repeat(" ", width-len(s))), nil
}

// ItemNumberHandler answers ReadECUIdentification/ItemNumber with id
func ItemNumberHandler(id Identification) HandlerFunc {
	return func(req Request) (*Response, error) {
		data, err := id.MarshalBinary()
		if err != nil {
			return nil, err
		}
		return &Response{
			Opcode:    PositiveResponseID(req.Opcode),
			Parameter: ParamItemNumber,
			Data:      data,
		}, nil
	}
}

// VINHandler answers ReadECUIdentification/VIN with a 17-byte space-padded VIN
func VINHandler(vin string) HandlerFunc {
	return func(req Request) (*Response, error) {
		data, err := padField("VIN", vin, VINLen)
		if err != nil {
			return nil, err
		}
		return &Response{
			Opcode:    PositiveResponseID(req.Opcode),
			Parameter: ParamVIN,
			Data:      data,
		}, nil
	}
}

// RegisterIdentification installs the identification handlers on d.
// The VIN handler is only installed when vin is non-empty.
func RegisterIdentification(d *Dispatcher, id Identification, vin string) {
	d.Register(ReadECUIdentification, ParamItemNumber, ItemNumberHandler(id))
	if vin != "" {
		d.Register(ReadECUIdentification, ParamVIN, VINHandler(vin))
	}
}
