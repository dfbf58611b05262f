// Package rpc implements an ONC RPC version 2 client over TCP (RFC 5531).
//
// A Client owns one TCP connection to one host:port. Calls are framed with
// record marking, correlated to replies by transaction id (XID), and bounded
// by a caller-supplied timeout. At most one call is in flight per Client.
//
// Failures are classified so higher layers can treat them as data:
//   - *ConnectionError: the connection could not be established
//   - *TimeoutError: no matching reply before the deadline
//   - *IOError: the stream broke or carried malformed framing
//   - *RejectedError: the server answered but refused the call
//   - *xdr.CodecError: the reply header could not be decoded
package rpc

// RPCVersion is the only ONC RPC protocol version spoken (RFC 5531 Section 8).
const RPCVersion = 2

// Message types (msg_type)
const (
	MsgCall  = 0
	MsgReply = 1
)

// Reply status (reply_stat)
const (
	MsgAccepted = 0
	MsgDenied   = 1
)

// Accept status (accept_stat) for MSG_ACCEPTED replies
const (
	Success      = 0 // RPC executed successfully
	ProgUnavail  = 1 // remote hasn't exported program
	ProgMismatch = 2 // remote can't support version
	ProcUnavail  = 3 // program can't support procedure
	GarbageArgs  = 4 // procedure can't decode params
	SystemErr    = 5 // e.g. memory allocation failure
)

// Reject status (reject_stat) for MSG_DENIED replies
const (
	RPCMismatch = 0 // RPC version number != 2
	AuthError   = 1 // remote can't authenticate caller
)

// AuthNull is the only authentication flavor used; VXI-11 servers do not
// authenticate callers.
const AuthNull = 0

// Record marking (RFC 5531 Section 11)
const (
	lastFragmentBit = 0x80000000
	fragmentLenMask = 0x7FFFFFFF

	// DefaultMaxRecordSize bounds a reassembled reply. VXI-11 reads are
	// capped by the request size, so replies stay well below this.
	DefaultMaxRecordSize = 16 * 1024 * 1024
)
