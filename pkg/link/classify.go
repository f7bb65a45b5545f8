package link

import (
	"fmt"

	"avaneesh/vwtp-go/pkg/can"
	"avaneesh/vwtp-go/pkg/vwtp"
)

// Kind is the decoded role of a received CAN frame
type Kind int

const (
	KindUnrecognized Kind = iota
	KindSetupRequest
	KindData
	KindAck
)

func (k Kind) String() string {
	switch k {
	case KindSetupRequest:
		return "SETUP_REQUEST"
	case KindData:
		return "DATA"
	case KindAck:
		return "ACK"
	default:
		return "UNRECOGNIZED"
	}
}

// Classify decodes which role frame plays for an ECU with the given addressing.
// VWTP2 runs on 11-bit ids only, so extended frames are unrecognized.
func Classify(frame can.Frame, addr Addressing) Kind {
	if frame.Extended {
		return KindUnrecognized
	}
	data := frame.Payload()

	switch frame.ID {
	case addr.TesterID:
		if len(data) >= 2 && data[0] == addr.LogicalAddress && data[1] == SetupRequestOpcode {
			return KindSetupRequest
		}
	case addr.LocalID:
		h, err := vwtp.DecodeHeader(data)
		if err != nil {
			return KindUnrecognized
		}
		switch {
		case h.Opcode.IsData():
			return KindData
		case h.Opcode == vwtp.OpAck:
			return KindAck
		}
	}
	return KindUnrecognized
}

// Describe returns a short log description of a classified frame
func Describe(frame can.Frame, kind Kind) string {
	if kind == KindData || kind == KindAck {
		h, _ := vwtp.DecodeHeader(frame.Payload())
		return fmt.Sprintf("%s %s seq=%d", kind, h.Opcode, h.Seq)
	}
	return fmt.Sprintf("%s id=0x%03X", kind, frame.ID)
}
