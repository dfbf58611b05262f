package metrics

import "time"

// Byte directions reported through RecordBytes.
const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

// RPCMetrics observes ONC RPC traffic and VXI-11 link activity.
//
// The transport reports wire bytes, the VXI-11 client reports one call per
// procedure, and instrument sessions report link open/close. Pass nil to
// disable collection.
type RPCMetrics interface {
	// RecordCall records a completed procedure call.
	//
	// Parameters:
	//   - procedure: procedure name (e.g., "device_read", "create_link", "GETPORT")
	//   - errorCode: VXI-11 error code name, "no_error" on success
	//   - duration: wall time spent in the call, including transport waits
	RecordCall(procedure string, errorCode string, duration time.Duration)

	// RecordTimeout counts a call that ended because the transport deadline passed.
	RecordTimeout(procedure string)

	// RecordBytes records record-marked bytes written to or read from the socket.
	RecordBytes(direction string, n int)

	// AddOpenLinks adjusts the open link gauge by delta (+1 on create_link,
	// -1 on destroy_link).
	AddOpenLinks(delta int)
}
