// Package vxi11 implements the client side of the VXI-11 instrument control
// protocol (VXIbus Consortium VXI-11 rev 1.0) on top of ONC RPC.
//
// The core channel (DEVICE_CORE) carries link management and data transfer.
// The abort channel (DEVICE_ASYNC) is a second connection used only to
// interrupt an operation in progress on the core channel.
//
// Protocol failures are returned as data: every CoreClient method yields a
// result carrying an ErrorCode and a reason string. Transport failures are
// folded into the same shape (IOTimeout or IOError), so callers never see a
// raw socket error for an instrument-side condition.
package vxi11

// RPC programs, all version 1.
const (
	ProgramCore  = 0x0607AF // DEVICE_CORE
	ProgramAsync = 0x0607B0 // DEVICE_ASYNC (abort channel)
	ProgramIntr  = 0x0607B1 // DEVICE_INTR (service request callbacks)

	VersionCore  = 1
	VersionAsync = 1
	VersionIntr  = 1
)

// Procedure numbers.
const (
	ProcDeviceAbort     = 1 // DEVICE_ASYNC
	ProcCreateLink      = 10
	ProcDeviceWrite     = 11
	ProcDeviceRead      = 12
	ProcDeviceReadStb   = 13
	ProcDeviceTrigger   = 14
	ProcDeviceClear     = 15
	ProcDeviceRemote    = 16
	ProcDeviceLocal     = 17
	ProcDeviceLock      = 18
	ProcDeviceUnlock    = 19
	ProcDeviceEnableSrq = 20
	ProcDeviceDocmd     = 22
	ProcDestroyLink     = 23
	ProcCreateIntrChan  = 25
	ProcDestroyIntrChan = 26
	ProcDeviceIntrSrq   = 30 // DEVICE_INTR
)

// Operation flags (Device_Flags).
const (
	FlagWaitLock    = 0x01 // block until the lock is released, up to lock_timeout
	FlagEnd         = 0x08 // END indicator on the last byte of a write
	FlagTermCharSet = 0x80 // termChar is valid for this read
)

// Read reasons returned by device_read.
const (
	ReasonRequestCount = 0x01 // requestSize bytes transferred
	ReasonTermChar     = 0x02 // termination character seen
	ReasonEnd          = 0x04 // END indicator seen
)

// Address families for create_intr_chan.
const (
	FamilyTCP = 0
	FamilyUDP = 1
)

// MaxSrqHandle is the longest handle accepted by device_enable_srq.
const MaxSrqHandle = 40

// MaxDataSize bounds the data of one device_write, device_read or
// device_docmd call. Callers size their chunks below it; a reply at the
// limit still fits in rpc.DefaultMaxRecordSize with its headers.
const MaxDataSize = 8 * 1024 * 1024

var procedureNames = map[uint32]string{
	ProcCreateLink:      "create_link",
	ProcDeviceWrite:     "device_write",
	ProcDeviceRead:      "device_read",
	ProcDeviceReadStb:   "device_readstb",
	ProcDeviceTrigger:   "device_trigger",
	ProcDeviceClear:     "device_clear",
	ProcDeviceRemote:    "device_remote",
	ProcDeviceLocal:     "device_local",
	ProcDeviceLock:      "device_lock",
	ProcDeviceUnlock:    "device_unlock",
	ProcDeviceEnableSrq: "device_enable_srq",
	ProcDeviceDocmd:     "device_docmd",
	ProcDestroyLink:     "destroy_link",
	ProcCreateIntrChan:  "create_intr_chan",
	ProcDestroyIntrChan: "destroy_intr_chan",
}

// ProcedureName returns the name of a DEVICE_CORE procedure.
func ProcedureName(proc uint32) string {
	if name, ok := procedureNames[proc]; ok {
		return name
	}
	return "unknown"
}
