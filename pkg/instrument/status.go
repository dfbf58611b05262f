package instrument

import (
	"fmt"

	"github.com/marmos91/govxi11/internal/protocol/vxi11"
)

// Status is a VISA-style completion or error code. Values with the high bit
// set are errors; the rest are completion codes.
type Status uint32

const (
	Success                    Status = 0x00000000
	SuccessTermChar            Status = 0x3FFF0005
	SuccessMaxCount            Status = 0x3FFF0006
	ErrorSystemError           Status = 0xBFFF0000
	ErrorInvalidObject         Status = 0xBFFF000E
	ErrorResourceLocked        Status = 0xBFFF000F
	ErrorInvalidExpression     Status = 0xBFFF0010
	ErrorResourceNotFound      Status = 0xBFFF0011
	ErrorTimeout               Status = 0xBFFF0015
	ErrorAbort                 Status = 0xBFFF0030
	ErrorInvalidSetup          Status = 0xBFFF003A
	ErrorAllocation            Status = 0xBFFF003C
	ErrorIO                    Status = 0xBFFF003E
	ErrorInvalidFormat         Status = 0xBFFF003F
	ErrorNonsupportedOperation Status = 0xBFFF0067
	ErrorInvalidParameter      Status = 0xBFFF0078
	ErrorSessionNotLocked      Status = 0xBFFF009C
	ErrorConnectionLost        Status = 0xBFFF00A6
)

var statusNames = map[Status]string{
	Success:                    "success",
	SuccessTermChar:            "success_termination_character_read",
	SuccessMaxCount:            "success_max_count_read",
	ErrorSystemError:           "error_system_error",
	ErrorInvalidObject:         "error_invalid_object",
	ErrorResourceLocked:        "error_resource_locked",
	ErrorInvalidExpression:     "error_invalid_expression",
	ErrorResourceNotFound:      "error_resource_not_found",
	ErrorTimeout:               "error_timeout",
	ErrorAbort:                 "error_abort",
	ErrorInvalidSetup:          "error_invalid_setup",
	ErrorAllocation:            "error_allocation",
	ErrorIO:                    "error_io",
	ErrorInvalidFormat:         "error_invalid_format",
	ErrorNonsupportedOperation: "error_nonsupported_operation",
	ErrorInvalidParameter:      "error_invalid_parameter",
	ErrorSessionNotLocked:      "error_session_not_locked",
	ErrorConnectionLost:        "error_connection_lost",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status_0x%08X", uint32(s))
}

// MarshalText encodes the status by name, so JSON and YAML output stay readable.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (s *Status) UnmarshalText(text []byte) error {
	name := string(text)
	for status, n := range statusNames {
		if n == name {
			*s = status
			return nil
		}
	}
	var raw uint32
	if _, err := fmt.Sscanf(name, "status_0x%08X", &raw); err == nil {
		*s = Status(raw)
		return nil
	}
	return fmt.Errorf("unknown status %q", name)
}

// IsError reports whether s is an error code.
func (s Status) IsError() bool {
	return s&0x80000000 != 0
}

// Err returns nil for completion codes and a *StatusError otherwise.
func (s Status) Err() error {
	if !s.IsError() {
		return nil
	}
	return &StatusError{Status: s}
}

// StatusError carries a failing Status as an error. Op names the session
// operation and Reason the transport diagnostic, when there is one.
type StatusError struct {
	Op     string
	Status Status
	Reason string
}

func (e *StatusError) Error() string {
	msg := e.Status.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

// Is matches another *StatusError with the same Status, so callers can test
// errors.Is(err, ErrorTimeout.Err()).
func (e *StatusError) Is(target error) bool {
	t, ok := target.(*StatusError)
	return ok && t.Status == e.Status
}

// errorCodeStatus maps every code the core client can produce.
var errorCodeStatus = map[vxi11.ErrorCode]Status{
	vxi11.NoError:                   Success,
	vxi11.SyntaxError:               ErrorInvalidFormat,
	vxi11.DeviceNotAccessible:       ErrorConnectionLost,
	vxi11.InvalidLinkIdentifier:     ErrorConnectionLost,
	vxi11.ParameterError:            ErrorInvalidParameter,
	vxi11.ChannelNotEstablished:     ErrorConnectionLost,
	vxi11.OperationNotSupported:     ErrorNonsupportedOperation,
	vxi11.OutOfResources:            ErrorAllocation,
	vxi11.DeviceLockedByAnotherLink: ErrorResourceLocked,
	vxi11.NoLockHeldByThisLink:      ErrorSessionNotLocked,
	vxi11.IOTimeout:                 ErrorTimeout,
	vxi11.IOError:                   ErrorIO,
	vxi11.InvalidAddress:            ErrorInvalidExpression,
	vxi11.Abort:                     ErrorAbort,
	vxi11.ChannelAlreadyEstablished: ErrorInvalidSetup,
	vxi11.UnknownProtocolError:      ErrorSystemError,
}

// StatusFromErrorCode translates a VXI-11 error code. Codes without an
// entry map to ErrorSystemError.
func StatusFromErrorCode(code vxi11.ErrorCode) Status {
	if s, ok := errorCodeStatus[code]; ok {
		return s
	}
	return ErrorSystemError
}
