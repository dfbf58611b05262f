package rpc

import (
	"errors"
	"fmt"
	"time"
)

// ErrClosed is wrapped by the IOError returned from calls on a closed Client.
var ErrClosed = errors.New("rpc: client closed")

// ErrDesynchronized is wrapped by the IOError returned once an earlier call
// abandoned the stream in the middle of a record.
var ErrDesynchronized = errors.New("rpc: record stream desynchronized")

// ConnectionError reports a failure to establish the TCP connection:
// refused, unreachable, or unresolvable host.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("rpc: connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError reports that no matching reply arrived before the deadline.
// Reason is the text of the underlying socket error.
type TimeoutError struct {
	Timeout time.Duration
	Reason  string
	Err     error
}

func (e *TimeoutError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("rpc: timed out after %s: %s", e.Timeout, e.Reason)
	}
	return "rpc: timed out: " + e.Reason
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// IOError reports a broken stream, malformed framing, or a message that is
// not an RPC reply.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("rpc: %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// RejectedError reports a reply that was denied or accepted with a status
// other than SUCCESS. For MSG_DENIED, Stat is the reject_stat; for
// MSG_ACCEPTED it is the accept_stat. Low and High carry the supported
// version range for PROG_MISMATCH and RPC_MISMATCH; AuthStat is set for
// AUTH_ERROR denials.
type RejectedError struct {
	ReplyStat uint32
	Stat      uint32
	Low       uint32
	High      uint32
	AuthStat  uint32
}

func (e *RejectedError) Error() string {
	if e.ReplyStat == MsgDenied {
		switch e.Stat {
		case RPCMismatch:
			return fmt.Sprintf("rpc: call denied: rpc version mismatch (supported %d-%d)", e.Low, e.High)
		case AuthError:
			return fmt.Sprintf("rpc: call denied: auth error %d", e.AuthStat)
		default:
			return fmt.Sprintf("rpc: call denied: reject_stat %d", e.Stat)
		}
	}
	switch e.Stat {
	case ProgUnavail:
		return "rpc: program unavailable"
	case ProgMismatch:
		return fmt.Sprintf("rpc: program version mismatch (supported %d-%d)", e.Low, e.High)
	case ProcUnavail:
		return "rpc: procedure unavailable"
	case GarbageArgs:
		return "rpc: server could not decode arguments"
	case SystemErr:
		return "rpc: remote system error"
	default:
		return fmt.Sprintf("rpc: call rejected: accept_stat %d", e.Stat)
	}
}

// IsTimeout reports whether err is, or wraps, a *TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
