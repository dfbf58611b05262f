package logger

import (
	"fmt"
	"log/slog"
	"time"
)

// Standard field keys for structured logging. Use these consistently so log
// lines from the transport, the VXI-11 client and the session can be joined.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// ========================================================================
	// ONC RPC Transport
	// ========================================================================
	KeyXID       = "xid"       // Transaction identifier of the call
	KeyProgram   = "program"   // RPC program number
	KeyVersion   = "version"   // RPC program version
	KeyProcedure = "procedure" // Procedure name: create_link, device_read, GETPORT, ...
	KeyHost      = "host"      // Remote host
	KeyPort      = "port"      // Remote TCP port
	KeyAddr      = "addr"      // host:port
	KeyTimeout   = "timeout"   // Per-call timeout
	KeyFragments = "fragments" // Record-marking fragments in a reply

	// ========================================================================
	// VXI-11 Link
	// ========================================================================
	KeySessionID   = "session_id"    // Instrument session UUID
	KeyDevice      = "device"        // Device name sent in create_link
	KeyLink        = "link"          // Link identifier
	KeyAbortPort   = "abort_port"    // Abort channel TCP port
	KeyMaxRecvSize = "max_recv_size" // Negotiated maximum write chunk
	KeyFlags       = "flags"         // Operation flags
	KeyReason      = "reason"        // Read reason bits or transport failure text
	KeyStb         = "stb"           // Status byte

	// ========================================================================
	// Results
	// ========================================================================
	KeyErrorCode    = "error_code" // VXI-11 error code name
	KeyStatus       = "status"     // Session status (VISA-style)
	KeyBytesRead    = "bytes_read"
	KeyBytesWritten = "bytes_written"
	KeyCount        = "count" // Requested byte count
	KeyChunks       = "chunks"
	KeyDurationMs   = "duration_ms"
	KeyError        = "error"

	// ========================================================================
	// Monitor / API
	// ========================================================================
	KeyCommand  = "command"
	KeyInterval = "interval"
	KeyMethod   = "method"
	KeyPath     = "path"
	KeyRequest  = "request_id"
)

// ============================================================================
// Field constructors
// ============================================================================

func TraceID(id string) slog.Attr { return slog.String(KeyTraceID, id) }
func SpanID(id string) slog.Attr  { return slog.String(KeySpanID, id) }

// XID renders the transaction id in hex, the way packet captures show it.
func XID(xid uint32) slog.Attr {
	return slog.String(KeyXID, fmt.Sprintf("0x%08x", xid))
}

func Program(prog uint32) slog.Attr     { return slog.Any(KeyProgram, prog) }
func Version(vers uint32) slog.Attr     { return slog.Any(KeyVersion, vers) }
func Procedure(name string) slog.Attr   { return slog.String(KeyProcedure, name) }
func Host(h string) slog.Attr           { return slog.String(KeyHost, h) }
func Port(p int) slog.Attr              { return slog.Int(KeyPort, p) }
func Addr(a string) slog.Attr           { return slog.String(KeyAddr, a) }
func Timeout(d time.Duration) slog.Attr { return slog.Duration(KeyTimeout, d) }

func SessionID(id string) slog.Attr  { return slog.String(KeySessionID, id) }
func Device(name string) slog.Attr   { return slog.String(KeyDevice, name) }
func Link(id int32) slog.Attr        { return slog.Int(KeyLink, int(id)) }
func AbortPort(p uint16) slog.Attr   { return slog.Int(KeyAbortPort, int(p)) }
func MaxRecvSize(n uint32) slog.Attr { return slog.Any(KeyMaxRecvSize, n) }

// Flags renders operation flags in hex (0x08 = END, 0x80 = TERMCHRSET).
func Flags(f uint32) slog.Attr {
	return slog.String(KeyFlags, fmt.Sprintf("0x%02x", f))
}

// Stb renders the IEEE 488.2 status byte in hex.
func Stb(b byte) slog.Attr {
	return slog.String(KeyStb, fmt.Sprintf("0x%02x", b))
}

func ErrorCode(name string) slog.Attr { return slog.String(KeyErrorCode, name) }
func Status(name string) slog.Attr    { return slog.String(KeyStatus, name) }
func BytesRead(n int) slog.Attr       { return slog.Int(KeyBytesRead, n) }
func BytesWritten(n int) slog.Attr    { return slog.Int(KeyBytesWritten, n) }
func Count(n int) slog.Attr           { return slog.Int(KeyCount, n) }
func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }

// Err returns an error attribute; a nil error yields an empty attribute that
// handlers skip.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
