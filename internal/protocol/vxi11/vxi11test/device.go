// Package vxi11test provides a simulated VXI-11 instrument for tests.
//
// A Device serves DEVICE_CORE and DEVICE_ASYNC on an rpctest.Server and
// registers the core channel with an in-memory port mapper on the same
// port, so clients can go through the full GETPORT, create_link, write,
// read sequence against loopback TCP.
package vxi11test

import (
	"bytes"
	"sync"
	"testing"

	"github.com/marmos91/govxi11/internal/protocol/portmap"
	"github.com/marmos91/govxi11/internal/protocol/portmap/portmaptest"
	"github.com/marmos91/govxi11/internal/protocol/rpc"
	"github.com/marmos91/govxi11/internal/protocol/rpc/rpctest"
	"github.com/marmos91/govxi11/internal/protocol/vxi11"
	"github.com/marmos91/govxi11/internal/protocol/xdr"
)

// DefaultMaxRecvSize matches what small bench instruments advertise.
const DefaultMaxRecvSize = 1024

// Device is a simulated instrument.
type Device struct {
	Server   *rpctest.Server
	Registry *portmaptest.Registry

	mu          sync.Mutex
	maxRecvSize uint32
	devices     map[string]bool
	respond     func(msg []byte) []byte
	nextLink    int32
	links       map[int32]string
	lockHolder  int32
	input       bytes.Buffer
	output      []byte
	stb         byte
	messages    [][]byte
	triggers    int
	clears      int
	remote      bool
	srqEnabled  bool
	srqHandle   []byte
	intrChan    bool
	aborts      int
}

// Option configures a Device.
type Option func(*Device)

// WithMaxRecvSize sets the max_recv_size returned by create_link.
func WithMaxRecvSize(n uint32) Option {
	return func(d *Device) { d.maxRecvSize = n }
}

// WithDevices sets the accepted device names (default "inst0").
func WithDevices(names ...string) Option {
	return func(d *Device) {
		d.devices = make(map[string]bool, len(names))
		for _, n := range names {
			d.devices[n] = true
		}
	}
}

// WithResponder sets the function that turns a complete message (written
// with the END flag) into the bytes returned by subsequent reads. The
// default answers "*IDN?" and echoes anything else ending in '?'.
func WithResponder(fn func(msg []byte) []byte) Option {
	return func(d *Device) { d.respond = fn }
}

// NewDevice starts a simulated instrument. It is stopped when the test ends.
func NewDevice(tb testing.TB, opts ...Option) *Device {
	tb.Helper()

	srv, reg := portmaptest.NewServer(tb)
	d := &Device{
		Server:      srv,
		Registry:    reg,
		maxRecvSize: DefaultMaxRecvSize,
		devices:     map[string]bool{"inst0": true},
		respond:     defaultResponder,
		nextLink:    1,
		links:       make(map[int32]string),
		lockHolder:  -1,
	}
	for _, opt := range opts {
		opt(d)
	}

	reg.Set(portmap.Mapping{Prog: vxi11.ProgramCore, Vers: vxi11.VersionCore, Prot: portmap.ProtoTCP, Port: uint32(srv.Port())})
	reg.Set(portmap.Mapping{Prog: vxi11.ProgramAsync, Vers: vxi11.VersionAsync, Prot: portmap.ProtoTCP, Port: uint32(srv.Port())})
	d.install()
	return d
}

func defaultResponder(msg []byte) []byte {
	msg = bytes.TrimRight(msg, "\r\n")
	switch {
	case bytes.Equal(msg, []byte("*IDN?")):
		return []byte("GOVXI11,SIM,0,1.0\n")
	case bytes.HasSuffix(msg, []byte("?")):
		return append(append([]byte(nil), msg...), '\n')
	default:
		return nil
	}
}

// Host returns the address to dial.
func (d *Device) Host() string { return d.Server.Host() }

// Port returns the TCP port serving the port mapper, core and abort channels.
func (d *Device) Port() int { return d.Server.Port() }

// SetOutput replaces the bytes returned by the next reads.
func (d *Device) SetOutput(b []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.output = append([]byte(nil), b...)
}

// SetStb sets the status byte returned by device_readstb.
func (d *Device) SetStb(stb byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stb = stb
}

// Messages returns every complete message received, in order.
func (d *Device) Messages() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.messages...)
}

// OpenLinks returns the number of links not yet destroyed.
func (d *Device) OpenLinks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.links)
}

// Counters returns how many triggers, clears and aborts were received.
func (d *Device) Counters() (triggers, clears, aborts int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.triggers, d.clears, d.aborts
}

// Remote reports whether the device is in remote state.
func (d *Device) Remote() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.remote
}

// SRQ reports the service request state set by device_enable_srq.
func (d *Device) SRQ() (enabled bool, handle []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.srqEnabled, append([]byte(nil), d.srqHandle...)
}

// LockHolder returns the link holding the device lock, or -1.
func (d *Device) LockHolder() int32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lockHolder
}

// Handle overrides one DEVICE_CORE procedure, typically to inject failures.
func (d *Device) Handle(proc uint32, h rpctest.HandlerFunc) {
	d.Server.Handle(vxi11.ProgramCore, proc, h)
}

// ============================================================================
// Procedure handlers
// ============================================================================

func (d *Device) install() {
	core := map[uint32]rpctest.HandlerFunc{
		vxi11.ProcCreateLink:      d.createLink,
		vxi11.ProcDeviceWrite:     d.deviceWrite,
		vxi11.ProcDeviceRead:      d.deviceRead,
		vxi11.ProcDeviceReadStb:   d.readStb,
		vxi11.ProcDeviceTrigger:   d.generic(func() { d.triggers++ }),
		vxi11.ProcDeviceClear:     d.generic(d.clear),
		vxi11.ProcDeviceRemote:    d.generic(func() { d.remote = true }),
		vxi11.ProcDeviceLocal:     d.generic(func() { d.remote = false }),
		vxi11.ProcDeviceLock:      d.lock,
		vxi11.ProcDeviceUnlock:    d.unlock,
		vxi11.ProcDeviceEnableSrq: d.enableSrq,
		vxi11.ProcDeviceDocmd:     d.docmd,
		vxi11.ProcDestroyLink:     d.destroyLink,
		vxi11.ProcCreateIntrChan:  d.createIntrChan,
		vxi11.ProcDestroyIntrChan: d.destroyIntrChan,
	}
	for proc, h := range core {
		d.Server.Handle(vxi11.ProgramCore, proc, h)
	}
	d.Server.Handle(vxi11.ProgramAsync, vxi11.ProcDeviceAbort, d.abort)
}

func errorReply(code vxi11.ErrorCode) rpctest.Reply {
	return rpctest.Results(&vxi11.DeviceError{Error: uint32(code)})
}

func garbage() rpctest.Reply {
	return rpctest.Reply{AcceptStat: rpc.GarbageArgs}
}

// validLink reports whether link is open. Callers hold d.mu.
func (d *Device) validLink(link int32) bool {
	_, ok := d.links[link]
	return ok
}

// lockedOut reports whether another link holds the lock. Callers hold d.mu.
func (d *Device) lockedOut(link int32) bool {
	return d.lockHolder >= 0 && d.lockHolder != link
}

func (d *Device) createLink(call rpctest.Call) rpctest.Reply {
	var p vxi11.CreateLinkParms
	if err := xdr.Unmarshal(call.Args, &p); err != nil {
		return garbage()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.devices[p.Device] {
		return rpctest.Results(&vxi11.CreateLinkResp{Error: uint32(vxi11.InvalidAddress)})
	}
	if p.LockDevice && d.lockHolder >= 0 {
		return rpctest.Results(&vxi11.CreateLinkResp{Error: uint32(vxi11.DeviceLockedByAnotherLink)})
	}

	link := d.nextLink
	d.nextLink++
	d.links[link] = p.Device
	if p.LockDevice {
		d.lockHolder = link
	}
	return rpctest.Results(&vxi11.CreateLinkResp{
		LinkID:      link,
		AbortPort:   uint16(d.Server.Port()),
		MaxRecvSize: d.maxRecvSize,
	})
}

func (d *Device) deviceWrite(call rpctest.Call) rpctest.Reply {
	var p vxi11.DeviceWriteParms
	if err := xdr.Unmarshal(call.Args, &p); err != nil {
		return garbage()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case !d.validLink(p.LinkID):
		return rpctest.Results(&vxi11.DeviceWriteResp{Error: uint32(vxi11.InvalidLinkIdentifier)})
	case d.lockedOut(p.LinkID):
		return rpctest.Results(&vxi11.DeviceWriteResp{Error: uint32(vxi11.DeviceLockedByAnotherLink)})
	case uint32(len(p.Data)) > d.maxRecvSize:
		return rpctest.Results(&vxi11.DeviceWriteResp{Error: uint32(vxi11.ParameterError)})
	}

	d.input.Write(p.Data)
	if p.Flags&vxi11.FlagEnd != 0 {
		msg := append([]byte(nil), d.input.Bytes()...)
		d.input.Reset()
		d.messages = append(d.messages, msg)
		if out := d.respond(msg); out != nil {
			d.output = out
		}
	}
	return rpctest.Results(&vxi11.DeviceWriteResp{Size: uint32(len(p.Data))})
}

func (d *Device) deviceRead(call rpctest.Call) rpctest.Reply {
	var p vxi11.DeviceReadParms
	if err := xdr.Unmarshal(call.Args, &p); err != nil {
		return garbage()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case !d.validLink(p.LinkID):
		return rpctest.Results(&vxi11.DeviceReadResp{Error: uint32(vxi11.InvalidLinkIdentifier)})
	case d.lockedOut(p.LinkID):
		return rpctest.Results(&vxi11.DeviceReadResp{Error: uint32(vxi11.DeviceLockedByAnotherLink)})
	case len(d.output) == 0:
		return rpctest.Results(&vxi11.DeviceReadResp{Error: uint32(vxi11.IOTimeout)})
	}

	n := min(int(p.RequestSize), len(d.output))
	var reason uint32
	if p.Flags&vxi11.FlagTermCharSet != 0 {
		if i := bytes.IndexByte(d.output[:n], p.TermChar); i >= 0 {
			n = i + 1
			reason |= vxi11.ReasonTermChar
		}
	}
	chunk := append([]byte(nil), d.output[:n]...)
	d.output = d.output[n:]
	switch {
	case len(d.output) == 0:
		reason |= vxi11.ReasonEnd
	case reason == 0:
		reason = vxi11.ReasonRequestCount
	}
	return rpctest.Results(&vxi11.DeviceReadResp{Reason: reason, Data: chunk})
}

func (d *Device) readStb(call rpctest.Call) rpctest.Reply {
	var p vxi11.DeviceGenericParms
	if err := xdr.Unmarshal(call.Args, &p); err != nil {
		return garbage()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.validLink(p.LinkID) {
		return rpctest.Results(&vxi11.DeviceReadStbResp{Error: uint32(vxi11.InvalidLinkIdentifier)})
	}
	return rpctest.Results(&vxi11.DeviceReadStbResp{Stb: d.stb})
}

func (d *Device) generic(apply func()) rpctest.HandlerFunc {
	return func(call rpctest.Call) rpctest.Reply {
		var p vxi11.DeviceGenericParms
		if err := xdr.Unmarshal(call.Args, &p); err != nil {
			return garbage()
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		switch {
		case !d.validLink(p.LinkID):
			return errorReply(vxi11.InvalidLinkIdentifier)
		case d.lockedOut(p.LinkID):
			return errorReply(vxi11.DeviceLockedByAnotherLink)
		}
		apply()
		return errorReply(vxi11.NoError)
	}
}

// clear drops pending input and output. Callers hold d.mu.
func (d *Device) clear() {
	d.clears++
	d.output = nil
	d.input.Reset()
}

func (d *Device) lock(call rpctest.Call) rpctest.Reply {
	var p vxi11.DeviceLockParms
	if err := xdr.Unmarshal(call.Args, &p); err != nil {
		return garbage()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case !d.validLink(p.LinkID):
		return errorReply(vxi11.InvalidLinkIdentifier)
	case d.lockedOut(p.LinkID):
		return errorReply(vxi11.DeviceLockedByAnotherLink)
	}
	d.lockHolder = p.LinkID
	return errorReply(vxi11.NoError)
}

func (d *Device) unlock(call rpctest.Call) rpctest.Reply {
	var link vxi11.DeviceLink
	if err := xdr.Unmarshal(call.Args, &link); err != nil {
		return garbage()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case !d.validLink(int32(link)):
		return errorReply(vxi11.InvalidLinkIdentifier)
	case d.lockHolder != int32(link):
		return errorReply(vxi11.NoLockHeldByThisLink)
	}
	d.lockHolder = -1
	return errorReply(vxi11.NoError)
}

func (d *Device) enableSrq(call rpctest.Call) rpctest.Reply {
	var p vxi11.DeviceEnableSrqParms
	if err := xdr.Unmarshal(call.Args, &p); err != nil {
		return garbage()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.validLink(p.LinkID) {
		return errorReply(vxi11.InvalidLinkIdentifier)
	}
	d.srqEnabled = p.Enable
	d.srqHandle = p.Handle
	return errorReply(vxi11.NoError)
}

// docmd echoes data_in for any command.
func (d *Device) docmd(call rpctest.Call) rpctest.Reply {
	var p vxi11.DeviceDocmdParms
	if err := xdr.Unmarshal(call.Args, &p); err != nil {
		return garbage()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.validLink(p.LinkID) {
		return rpctest.Results(&vxi11.DeviceDocmdResp{Error: uint32(vxi11.InvalidLinkIdentifier)})
	}
	return rpctest.Results(&vxi11.DeviceDocmdResp{DataOut: p.DataIn})
}

func (d *Device) destroyLink(call rpctest.Call) rpctest.Reply {
	var link vxi11.DeviceLink
	if err := xdr.Unmarshal(call.Args, &link); err != nil {
		return garbage()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.validLink(int32(link)) {
		return errorReply(vxi11.InvalidLinkIdentifier)
	}
	delete(d.links, int32(link))
	if d.lockHolder == int32(link) {
		d.lockHolder = -1
	}
	return errorReply(vxi11.NoError)
}

func (d *Device) createIntrChan(call rpctest.Call) rpctest.Reply {
	var p vxi11.DeviceRemoteFunc
	if err := xdr.Unmarshal(call.Args, &p); err != nil {
		return garbage()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.intrChan {
		return errorReply(vxi11.ChannelAlreadyEstablished)
	}
	d.intrChan = true
	return errorReply(vxi11.NoError)
}

func (d *Device) destroyIntrChan(rpctest.Call) rpctest.Reply {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.intrChan {
		return errorReply(vxi11.ChannelNotEstablished)
	}
	d.intrChan = false
	return errorReply(vxi11.NoError)
}

func (d *Device) abort(call rpctest.Call) rpctest.Reply {
	var link vxi11.DeviceLink
	if err := xdr.Unmarshal(call.Args, &link); err != nil {
		return garbage()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.validLink(int32(link)) {
		return errorReply(vxi11.InvalidLinkIdentifier)
	}
	d.aborts++
	return errorReply(vxi11.NoError)
}
