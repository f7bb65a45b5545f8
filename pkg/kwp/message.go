package kwp

import "fmt"

// Request is a diagnostic request reassembled from one transfer
type Request struct {
	Opcode    byte
	Parameter byte
	Data      []byte
}

// ParseRequest splits a transfer payload into service id, parameter and data
func ParseRequest(payload []byte) (Request, error) {
	if len(payload) < 2 {
		return Request{}, fmt.Errorf("%w: %d bytes", ErrShortRequest, len(payload))
	}
	data := make([]byte, len(payload)-2)
	copy(data, payload[2:])
	return Request{
		Opcode:    payload[0],
		Parameter: payload[1],
		Data:      data,
	}, nil
}

func (r Request) String() string {
	return fmt.Sprintf("request 0x%02X/0x%02X (%d data bytes)", r.Opcode, r.Parameter, len(r.Data))
}

// Response is a diagnostic response handed to the transport
type Response struct {
	Opcode    byte
	Parameter byte
	Data      []byte
}

// Bytes returns [opcode, parameter] + data
func (r *Response) Bytes() []byte {
	out := make([]byte, 0, 2+len(r.Data))
	out = append(out, r.Opcode, r.Parameter)
	return append(out, r.Data...)
}

// IsNegative returns true for 0x7F responses
func (r *Response) IsNegative() bool {
	return r.Opcode == NegativeResponse
}

// NewNegativeResponse builds [0x7F, request service id, code]
func NewNegativeResponse(sid byte, code byte) *Response {
	return &Response{Opcode: NegativeResponse, Parameter: sid, Data: []byte{code}}
}
