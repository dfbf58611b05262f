package vxi11

import (
	"context"
	"errors"
	"time"

	"github.com/marmos91/govxi11/internal/logger"
	"github.com/marmos91/govxi11/internal/protocol/portmap"
	"github.com/marmos91/govxi11/internal/protocol/rpc"
	"github.com/marmos91/govxi11/internal/protocol/xdr"
	"github.com/marmos91/govxi11/internal/telemetry"
	"github.com/marmos91/govxi11/pkg/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultTimeoutSlack is added to the instrument-side timeout of each call
// to form the socket deadline, so a server that honours io_timeout gets to
// report it before the socket gives up.
const DefaultTimeoutSlack = time.Second

// Caller issues one ONC RPC call. *rpc.Client satisfies it.
type Caller interface {
	Call(ctx context.Context, prog, vers, proc uint32, args []byte, timeout time.Duration) ([]byte, error)
	Close() error
}

type options struct {
	slack       time.Duration
	corePort    int
	portmapPort int
	resolveWait time.Duration
	metrics     metrics.RPCMetrics
	rpcOpts     []rpc.Option
}

// Option configures a CoreClient.
type Option func(*options)

// WithTimeoutSlack overrides DefaultTimeoutSlack.
func WithTimeoutSlack(d time.Duration) Option {
	return func(o *options) { o.slack = d }
}

// WithCorePort skips the port mapper and connects to port directly.
func WithCorePort(port int) Option {
	return func(o *options) { o.corePort = port }
}

// WithPortmapPort overrides the port mapper's well-known port.
func WithPortmapPort(port int) Option {
	return func(o *options) { o.portmapPort = port }
}

// WithResolveTimeout bounds the GETPORT call made by DialCore.
func WithResolveTimeout(d time.Duration) Option {
	return func(o *options) { o.resolveWait = d }
}

// WithMetrics reports calls, timeouts and wire bytes to m.
func WithMetrics(m metrics.RPCMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithRPCOptions passes options to the underlying rpc.Client.
func WithRPCOptions(opts ...rpc.Option) Option {
	return func(o *options) { o.rpcOpts = append(o.rpcOpts, opts...) }
}

func applyOptions(opts []Option) options {
	o := options{
		slack:       DefaultTimeoutSlack,
		portmapPort: portmap.DefaultPort,
		resolveWait: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Result is the outcome of a procedure. Error is NoError on success;
// Reason holds the transport's diagnostic when Error is IOTimeout or IOError
// because of a socket failure, and is empty otherwise.
type Result struct {
	Error  ErrorCode
	Reason string
}

// OK reports whether the procedure succeeded.
func (r Result) OK() bool { return r.Error == NoError }

type CreateLinkResult struct {
	Result
	LinkID      int32
	AbortPort   uint16
	MaxRecvSize uint32
}

type WriteResult struct {
	Result
	Size uint32
}

// ReadResult carries the read reason bitmask in ReasonFlags. Data is never
// nil; it is empty whenever Error is not NoError.
type ReadResult struct {
	Result
	ReasonFlags uint32
	Data        []byte
}

type ReadStbResult struct {
	Result
	Stb byte
}

type DocmdResult struct {
	Result
	DataOut []byte
}

// CoreClient calls DEVICE_CORE procedures over one connection.
//
// Methods return (result, error). Protocol and transport failures are
// reported in the result; the error is non-nil only when the reply could
// not be decoded or the arguments could not be encoded.
type CoreClient struct {
	caller  Caller
	slack   time.Duration
	metrics metrics.RPCMetrics
}

// NewCoreClient wraps an established caller.
func NewCoreClient(caller Caller, opts ...Option) *CoreClient {
	o := applyOptions(opts)
	return &CoreClient{caller: caller, slack: o.slack, metrics: o.metrics}
}

// DialCore connects to the core channel of host. The port comes from the
// port mapper unless WithCorePort is given.
func DialCore(ctx context.Context, host string, opts ...Option) (*CoreClient, error) {
	o := applyOptions(opts)
	rpcOpts := append([]rpc.Option{rpc.WithMetrics(o.metrics)}, o.rpcOpts...)

	port := o.corePort
	if port == 0 {
		p, err := portmap.Resolve(ctx, host, ProgramCore, VersionCore, o.resolveWait,
			portmap.WithPort(o.portmapPort),
			portmap.WithRPCOptions(o.rpcOpts...))
		if err != nil {
			return nil, err
		}
		port = int(p)
	}

	c, err := rpc.Dial(ctx, host, port, rpcOpts...)
	if err != nil {
		return nil, err
	}
	logger.Debug("vxi11 core channel connected", logger.KeyHost, host, logger.KeyPort, port)

	return &CoreClient{caller: c, slack: o.slack, metrics: o.metrics}, nil
}

// Close closes the core channel connection. It does not destroy links.
func (c *CoreClient) Close() error {
	return c.caller.Close()
}

// ============================================================================
// Procedures
// ============================================================================

// CreateLink opens a link to device. lockTimeout applies when lockDevice is
// set and the device is locked by another link.
func (c *CoreClient) CreateLink(ctx context.Context, clientID int32, lockDevice bool, lockTimeout time.Duration, device string) (CreateLinkResult, error) {
	parms := &CreateLinkParms{
		ClientID:    clientID,
		LockDevice:  lockDevice,
		LockTimeout: millis(lockTimeout),
		Device:      device,
	}
	var resp CreateLinkResp
	res, err := c.do(ctx, ProcCreateLink, parms, &resp, lockTimeout, telemetry.VXI11Device(device))
	if err != nil {
		return CreateLinkResult{}, err
	}
	out := CreateLinkResult{Result: res}
	if res.OK() {
		out.LinkID = resp.LinkID
		out.AbortPort = resp.AbortPort
		out.MaxRecvSize = resp.MaxRecvSize
		if c.metrics != nil {
			c.metrics.AddOpenLinks(1)
		}
	}
	return out, nil
}

// DeviceWrite sends data in one call. flags usually carries FlagEnd on the
// last chunk of a message and FlagWaitLock when lockTimeout should apply.
func (c *CoreClient) DeviceWrite(ctx context.Context, link int32, ioTimeout, lockTimeout time.Duration, flags uint32, data []byte) (WriteResult, error) {
	parms := &DeviceWriteParms{
		LinkID:      link,
		IOTimeout:   millis(ioTimeout),
		LockTimeout: millis(lockTimeout),
		Flags:       flags,
		Data:        data,
	}
	var resp DeviceWriteResp
	res, err := c.do(ctx, ProcDeviceWrite, parms, &resp, ioTimeout+lockTimeout,
		telemetry.VXI11Link(link), telemetry.VXI11Flags(flags))
	if err != nil {
		return WriteResult{}, err
	}
	out := WriteResult{Result: res}
	if res.OK() {
		out.Size = resp.Size
		telemetry.SetAttributes(ctx, telemetry.VXI11Bytes(int(resp.Size)))
	}
	return out, nil
}

// DeviceRead reads at most requestSize bytes. termChar is honoured only
// when flags has FlagTermCharSet.
func (c *CoreClient) DeviceRead(ctx context.Context, link int32, requestSize uint32, ioTimeout, lockTimeout time.Duration, flags uint32, termChar byte) (ReadResult, error) {
	parms := &DeviceReadParms{
		LinkID:      link,
		RequestSize: requestSize,
		IOTimeout:   millis(ioTimeout),
		LockTimeout: millis(lockTimeout),
		Flags:       flags,
		TermChar:    termChar,
	}
	var resp DeviceReadResp
	res, err := c.do(ctx, ProcDeviceRead, parms, &resp, ioTimeout+lockTimeout,
		telemetry.VXI11Link(link), telemetry.VXI11Flags(flags))
	if err != nil {
		return ReadResult{}, err
	}
	out := ReadResult{Result: res, Data: []byte{}}
	if res.OK() {
		out.ReasonFlags = resp.Reason
		out.Data = resp.Data
		telemetry.SetAttributes(ctx, telemetry.VXI11Bytes(len(resp.Data)), telemetry.VXI11Reason(resp.Reason))
	}
	return out, nil
}

// DeviceReadStb reads the status byte.
func (c *CoreClient) DeviceReadStb(ctx context.Context, link int32, flags uint32, lockTimeout, ioTimeout time.Duration) (ReadStbResult, error) {
	var resp DeviceReadStbResp
	res, err := c.generic(ctx, ProcDeviceReadStb, link, flags, lockTimeout, ioTimeout, &resp)
	if err != nil {
		return ReadStbResult{}, err
	}
	out := ReadStbResult{Result: res}
	if res.OK() {
		out.Stb = resp.Stb
	}
	return out, nil
}

// DeviceTrigger sends a group execute trigger.
func (c *CoreClient) DeviceTrigger(ctx context.Context, link int32, flags uint32, lockTimeout, ioTimeout time.Duration) (Result, error) {
	return c.generic(ctx, ProcDeviceTrigger, link, flags, lockTimeout, ioTimeout, &DeviceError{})
}

// DeviceClear sends a selected device clear.
func (c *CoreClient) DeviceClear(ctx context.Context, link int32, flags uint32, lockTimeout, ioTimeout time.Duration) (Result, error) {
	return c.generic(ctx, ProcDeviceClear, link, flags, lockTimeout, ioTimeout, &DeviceError{})
}

// DeviceRemote places the device in remote state.
func (c *CoreClient) DeviceRemote(ctx context.Context, link int32, flags uint32, lockTimeout, ioTimeout time.Duration) (Result, error) {
	return c.generic(ctx, ProcDeviceRemote, link, flags, lockTimeout, ioTimeout, &DeviceError{})
}

// DeviceLocal places the device in local state.
func (c *CoreClient) DeviceLocal(ctx context.Context, link int32, flags uint32, lockTimeout, ioTimeout time.Duration) (Result, error) {
	return c.generic(ctx, ProcDeviceLocal, link, flags, lockTimeout, ioTimeout, &DeviceError{})
}

func (c *CoreClient) generic(ctx context.Context, proc uint32, link int32, flags uint32, lockTimeout, ioTimeout time.Duration, resp reply) (Result, error) {
	parms := &DeviceGenericParms{
		LinkID:      link,
		Flags:       flags,
		LockTimeout: millis(lockTimeout),
		IOTimeout:   millis(ioTimeout),
	}
	return c.do(ctx, proc, parms, resp, ioTimeout+lockTimeout,
		telemetry.VXI11Link(link), telemetry.VXI11Flags(flags))
}

// DeviceLock acquires the device lock. With FlagWaitLock the server waits
// up to lockTimeout for another link to release it.
func (c *CoreClient) DeviceLock(ctx context.Context, link int32, flags uint32, lockTimeout time.Duration) (Result, error) {
	parms := &DeviceLockParms{LinkID: link, Flags: flags, LockTimeout: millis(lockTimeout)}
	return c.do(ctx, ProcDeviceLock, parms, &DeviceError{}, lockTimeout,
		telemetry.VXI11Link(link), telemetry.VXI11Flags(flags))
}

// DeviceUnlock releases the device lock held by link.
func (c *CoreClient) DeviceUnlock(ctx context.Context, link int32) (Result, error) {
	return c.do(ctx, ProcDeviceUnlock, DeviceLink(link), &DeviceError{}, 0, telemetry.VXI11Link(link))
}

// DeviceEnableSrq enables or disables service requests. handle is echoed
// back by the device in device_intr_srq and is limited to MaxSrqHandle bytes.
func (c *CoreClient) DeviceEnableSrq(ctx context.Context, link int32, enable bool, handle []byte) (Result, error) {
	parms := &DeviceEnableSrqParms{LinkID: link, Enable: enable, Handle: handle}
	return c.do(ctx, ProcDeviceEnableSrq, parms, &DeviceError{}, 0, telemetry.VXI11Link(link))
}

// DeviceDocmd runs a device-specific command.
func (c *CoreClient) DeviceDocmd(ctx context.Context, link int32, flags uint32, ioTimeout, lockTimeout time.Duration, cmd int32, networkOrder bool, dataSize int32, dataIn []byte) (DocmdResult, error) {
	parms := &DeviceDocmdParms{
		LinkID:       link,
		Flags:        flags,
		IOTimeout:    millis(ioTimeout),
		LockTimeout:  millis(lockTimeout),
		Cmd:          cmd,
		NetworkOrder: networkOrder,
		DataSize:     dataSize,
		DataIn:       dataIn,
	}
	var resp DeviceDocmdResp
	res, err := c.do(ctx, ProcDeviceDocmd, parms, &resp, ioTimeout+lockTimeout,
		telemetry.VXI11Link(link), telemetry.VXI11Flags(flags))
	if err != nil {
		return DocmdResult{}, err
	}
	out := DocmdResult{Result: res, DataOut: []byte{}}
	if res.OK() {
		out.DataOut = resp.DataOut
	}
	return out, nil
}

// CreateIntrChan asks the device to connect back to a DEVICE_INTR server.
func (c *CoreClient) CreateIntrChan(ctx context.Context, hostAddr uint32, hostPort uint16, progNum, progVers, family uint32) (Result, error) {
	parms := &DeviceRemoteFunc{
		HostAddr: hostAddr,
		HostPort: hostPort,
		ProgNum:  progNum,
		ProgVers: progVers,
		Family:   family,
	}
	return c.do(ctx, ProcCreateIntrChan, parms, &DeviceError{}, 0)
}

// DestroyIntrChan closes the interrupt channel.
func (c *CoreClient) DestroyIntrChan(ctx context.Context) (Result, error) {
	return c.do(ctx, ProcDestroyIntrChan, nil, &DeviceError{}, 0)
}

// DestroyLink closes link on the device.
func (c *CoreClient) DestroyLink(ctx context.Context, link int32) (Result, error) {
	res, err := c.do(ctx, ProcDestroyLink, DeviceLink(link), &DeviceError{}, 0, telemetry.VXI11Link(link))
	if err == nil && res.OK() && c.metrics != nil {
		c.metrics.AddOpenLinks(-1)
	}
	return res, err
}

// ============================================================================
// Call plumbing
// ============================================================================

// callTimeout is the socket deadline for a call that lets the instrument
// spend wait. It is never zero, since rpc treats zero as no deadline.
func callTimeout(wait, slack time.Duration) time.Duration {
	if t := wait + slack; t > 0 {
		return t
	}
	return DefaultTimeoutSlack
}

// do encodes args, issues the call with a socket deadline of wait plus the
// slack, and decodes the reply into resp.
//
// Transport failures come back as Result{IOTimeout|IOError, reason}. A
// reply that cannot be decoded is returned as an error.
func (c *CoreClient) do(ctx context.Context, proc uint32, args xdr.XdrEncoder, resp reply, wait time.Duration, attrs ...attribute.KeyValue) (Result, error) {
	name := ProcedureName(proc)
	ctx, span := telemetry.StartProcedureSpan(ctx, name, attrs...)
	defer span.End()

	var body []byte
	if args != nil {
		var err error
		if body, err = xdr.Marshal(args); err != nil {
			telemetry.RecordError(ctx, err)
			return Result{}, err
		}
	}

	start := time.Now()
	raw, err := c.caller.Call(ctx, ProgramCore, VersionCore, proc, body, callTimeout(wait, c.slack))
	elapsed := time.Since(start)

	var res Result
	switch {
	case err == nil:
		if err := xdr.Unmarshal(raw, resp); err != nil {
			telemetry.RecordError(ctx, err)
			logger.WarnCtx(ctx, "vxi11 reply could not be decoded", logger.KeyProcedure, name, logger.KeyError, err)
			return Result{}, err
		}
		res.Error = MapErrorCode(resp.code())
	case xdr.IsCodecError(err):
		telemetry.RecordError(ctx, err)
		return Result{}, err
	default:
		res = transportFailure(err)
		if res.Error == IOTimeout && c.metrics != nil {
			c.metrics.RecordTimeout(name)
		}
	}

	telemetry.SetAttributes(ctx, telemetry.VXI11Error(res.Error.String()))
	if !res.OK() {
		span.SetStatus(codes.Error, res.Error.String())
	}
	if c.metrics != nil {
		c.metrics.RecordCall(name, res.Error.String(), elapsed)
	}

	logger.DebugCtx(ctx, "vxi11 call",
		logger.KeyProcedure, name,
		logger.KeyErrorCode, res.Error.String(),
		logger.KeyDurationMs, float64(elapsed.Microseconds())/1000)
	if res.Reason != "" {
		logger.DebugCtx(ctx, "vxi11 transport failure", logger.KeyProcedure, name, logger.KeyReason, res.Reason)
	}
	return res, nil
}

// transportFailure folds an rpc error into a Result. A timeout keeps the
// socket error text as the reason.
func transportFailure(err error) Result {
	var te *rpc.TimeoutError
	if errors.As(err, &te) {
		return Result{Error: IOTimeout, Reason: te.Reason}
	}
	return Result{Error: IOError, Reason: err.Error()}
}

// millis converts d to the protocol's unsigned millisecond timeout.
func millis(d time.Duration) uint32 {
	switch {
	case d <= 0:
		return 0
	case d/time.Millisecond > 0xFFFFFFFF:
		return 0xFFFFFFFF
	default:
		return uint32(d / time.Millisecond)
	}
}
