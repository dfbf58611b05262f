package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for instrument-control spans.
const (
	// ========================================================================
	// ONC RPC
	// ========================================================================
	AttrRPCXID       = "rpc.xid"
	AttrRPCProgram   = "rpc.program"
	AttrRPCVersion   = "rpc.version"
	AttrRPCProcedure = "rpc.procedure"
	AttrServerAddr   = "server.address"
	AttrServerPort   = "server.port"

	// ========================================================================
	// VXI-11
	// ========================================================================
	AttrVXI11Procedure = "vxi11.procedure"
	AttrVXI11Device    = "vxi11.device"
	AttrVXI11Link      = "vxi11.link"
	AttrVXI11Error     = "vxi11.error"
	AttrVXI11Bytes     = "vxi11.bytes"
	AttrVXI11Flags     = "vxi11.flags"
	AttrVXI11Reason    = "vxi11.reason"

	// Resource attributes naming the instrument a process talks to.
	AttrInstrumentHost   = "vxi11.instrument.host"
	AttrInstrumentDevice = "vxi11.instrument.device"

	// ========================================================================
	// Session
	// ========================================================================
	AttrSessionID = "session.id"
	AttrStatus    = "session.status"
)

// Span name prefixes.
const (
	SpanPrefixVXI11   = "vxi11."
	SpanPrefixPortmap = "portmap."
	SpanPrefixSession = "instrument."
)

func RPCXID(xid uint32) attribute.KeyValue {
	return attribute.Int64(AttrRPCXID, int64(xid))
}

func RPCProgram(prog uint32) attribute.KeyValue {
	return attribute.Int64(AttrRPCProgram, int64(prog))
}

func RPCVersion(vers uint32) attribute.KeyValue {
	return attribute.Int64(AttrRPCVersion, int64(vers))
}

func RPCProcedure(proc uint32) attribute.KeyValue {
	return attribute.Int64(AttrRPCProcedure, int64(proc))
}

func ServerAddr(host string) attribute.KeyValue {
	return attribute.String(AttrServerAddr, host)
}

func ServerPort(port int) attribute.KeyValue {
	return attribute.Int(AttrServerPort, port)
}

func VXI11Procedure(name string) attribute.KeyValue {
	return attribute.String(AttrVXI11Procedure, name)
}

func VXI11Device(name string) attribute.KeyValue {
	return attribute.String(AttrVXI11Device, name)
}

func VXI11Link(id int32) attribute.KeyValue {
	return attribute.Int64(AttrVXI11Link, int64(id))
}

// VXI11Error records the VXI-11 error code name ("no_error", "io_timeout", ...).
func VXI11Error(name string) attribute.KeyValue {
	return attribute.String(AttrVXI11Error, name)
}

func VXI11Bytes(n int) attribute.KeyValue {
	return attribute.Int(AttrVXI11Bytes, n)
}

func VXI11Flags(flags uint32) attribute.KeyValue {
	return attribute.Int64(AttrVXI11Flags, int64(flags))
}

func VXI11Reason(reason uint32) attribute.KeyValue {
	return attribute.Int64(AttrVXI11Reason, int64(reason))
}

func SessionID(id string) attribute.KeyValue {
	return attribute.String(AttrSessionID, id)
}

func Status(name string) attribute.KeyValue {
	return attribute.String(AttrStatus, name)
}

// StartProcedureSpan starts a client span for a VXI-11 procedure.
func StartProcedureSpan(ctx context.Context, procedure string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{VXI11Procedure(procedure)}, attrs...)
	return StartSpan(ctx, SpanPrefixVXI11+procedure,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(all...),
	)
}

// StartPortmapSpan starts a client span for a port mapper procedure.
func StartPortmapSpan(ctx context.Context, procedure string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanPrefixPortmap+procedure,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

// StartSessionSpan starts an internal span for a session-level operation
// (read, write, query) that fans out into several procedure calls.
func StartSessionSpan(ctx context.Context, operation string, sessionID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{SessionID(sessionID)}, attrs...)
	return StartSpan(ctx, SpanPrefixSession+operation, trace.WithAttributes(all...))
}
