package vxi11

import "strconv"

// ErrorCode is a VXI-11 Device_ErrorCode. Values are the wire values, except
// UnknownProtocolError, which is never sent by a server and stands for any
// code outside the defined set.
type ErrorCode uint32

const (
	NoError                   ErrorCode = 0
	SyntaxError               ErrorCode = 1
	DeviceNotAccessible       ErrorCode = 3
	InvalidLinkIdentifier     ErrorCode = 4
	ParameterError            ErrorCode = 5
	ChannelNotEstablished     ErrorCode = 6
	OperationNotSupported     ErrorCode = 8
	OutOfResources            ErrorCode = 9
	DeviceLockedByAnotherLink ErrorCode = 11
	NoLockHeldByThisLink      ErrorCode = 12
	IOTimeout                 ErrorCode = 15
	IOError                   ErrorCode = 17
	InvalidAddress            ErrorCode = 21
	Abort                     ErrorCode = 23
	ChannelAlreadyEstablished ErrorCode = 29
	UnknownProtocolError      ErrorCode = 0xFFFFFFFF
)

var errorCodeNames = map[ErrorCode]string{
	NoError:                   "no_error",
	SyntaxError:               "syntax_error",
	DeviceNotAccessible:       "device_not_accessible",
	InvalidLinkIdentifier:     "invalid_link_identifier",
	ParameterError:            "parameter_error",
	ChannelNotEstablished:     "channel_not_established",
	OperationNotSupported:     "operation_not_supported",
	OutOfResources:            "out_of_resources",
	DeviceLockedByAnotherLink: "device_locked_by_another_link",
	NoLockHeldByThisLink:      "no_lock_held_by_this_link",
	IOTimeout:                 "io_timeout",
	IOError:                   "io_error",
	InvalidAddress:            "invalid_address",
	Abort:                     "abort",
	ChannelAlreadyEstablished: "channel_already_established",
	UnknownProtocolError:      "unknown_protocol_error",
}

// MapErrorCode converts a wire error value into an ErrorCode. Values outside
// the defined set map to UnknownProtocolError.
func MapErrorCode(raw uint32) ErrorCode {
	code := ErrorCode(raw)
	if _, ok := errorCodeNames[code]; ok {
		return code
	}
	return UnknownProtocolError
}

func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return "error_" + strconv.FormatUint(uint64(c), 10)
}

// ErrorCodes returns every defined code, UnknownProtocolError included, in
// ascending wire order.
func ErrorCodes() []ErrorCode {
	return []ErrorCode{
		NoError, SyntaxError, DeviceNotAccessible, InvalidLinkIdentifier,
		ParameterError, ChannelNotEstablished, OperationNotSupported,
		OutOfResources, DeviceLockedByAnotherLink, NoLockHeldByThisLink,
		IOTimeout, IOError, InvalidAddress, Abort, ChannelAlreadyEstablished,
		UnknownProtocolError,
	}
}
