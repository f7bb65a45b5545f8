package kwp

import (
	"errors"
	"fmt"
)

var (
	ErrUnhandledRequest = errors.New("unhandled diagnostic request")
	ErrShortRequest     = errors.New("diagnostic request shorter than 2 bytes")
	ErrFieldTooLong     = errors.New("identification field too long")
)

// Negative response codes
const (
	CodeGeneralReject                byte = 0x10
	CodeServiceNotSupported          byte = 0x11
	CodeSubFunctionNotSupported      byte = 0x12
	CodeBusyRepeatRequest            byte = 0x21
	CodeConditionsNotCorrect         byte = 0x22
	CodeRequestOutOfRange            byte = 0x31
	CodeSecurityAccessDenied         byte = 0x33
	CodeResponsePending              byte = 0x78
	CodeServiceNotSupportedInSession byte = 0x80
)

var (
	ErrGeneralReject                = &Error{CodeGeneralReject, "General reject"}
	ErrServiceNotSupported          = &Error{CodeServiceNotSupported, "Service not supported"}
	ErrSubFunctionNotSupported      = &Error{CodeSubFunctionNotSupported, "Sub-function not supported or invalid format"}
	ErrBusyRepeatRequest            = &Error{CodeBusyRepeatRequest, "Busy, repeat request"}
	ErrConditionsNotCorrect         = &Error{CodeConditionsNotCorrect, "Conditions not correct or request sequence error"}
	ErrRequestOutOfRange            = &Error{CodeRequestOutOfRange, "Request out of range"}
	ErrSecurityAccessDenied         = &Error{CodeSecurityAccessDenied, "Security access denied"}
	ErrResponsePending              = &Error{CodeResponsePending, "Response pending"}
	ErrServiceNotSupportedInSession = &Error{CodeServiceNotSupportedInSession, "Service not supported in current diagnostic session"}
)

// Error is a negative response a handler returns to the tester
type Error struct {
	Code byte
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (0x%02X)", e.Msg, e.Code)
}

// Is matches errors with the same response code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// TranslateErrorCode maps a negative response code to its error
func TranslateErrorCode(code byte) error {
	switch code {
	case 0x00:
		return nil
	case CodeGeneralReject:
		return ErrGeneralReject
	case CodeServiceNotSupported:
		return ErrServiceNotSupported
	case CodeSubFunctionNotSupported:
		return ErrSubFunctionNotSupported
	case CodeBusyRepeatRequest:
		return ErrBusyRepeatRequest
	case CodeConditionsNotCorrect:
		return ErrConditionsNotCorrect
	case CodeRequestOutOfRange:
		return ErrRequestOutOfRange
	case CodeSecurityAccessDenied:
		return ErrSecurityAccessDenied
	case CodeResponsePending:
		return ErrResponsePending
	case CodeServiceNotSupportedInSession:
		return ErrServiceNotSupportedInSession
	default:
		return &Error{code, "Unknown error"}
	}
}
