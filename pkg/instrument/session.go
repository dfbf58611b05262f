// Package instrument provides a session to one VXI-11 device: link
// lifecycle, chunked reads and writes, device control procedures, and
// VISA-style status codes.
//
// A Session is safe for concurrent use; calls are serialised on the core
// channel, except Abort which uses the separate abort channel.
package instrument

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/govxi11/internal/logger"
	"github.com/marmos91/govxi11/internal/protocol/rpc"
	"github.com/marmos91/govxi11/internal/protocol/vxi11"
	"github.com/marmos91/govxi11/internal/telemetry"
	"github.com/marmos91/govxi11/pkg/metrics"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// minMaxRecvSize is the smallest max_recv_size a conforming device may
// advertise. It is used when a device reports zero.
const minMaxRecvSize = 1024

// Core is the subset of *vxi11.CoreClient a Session uses.
type Core interface {
	DeviceWrite(ctx context.Context, link int32, ioTimeout, lockTimeout time.Duration, flags uint32, data []byte) (vxi11.WriteResult, error)
	DeviceRead(ctx context.Context, link int32, requestSize uint32, ioTimeout, lockTimeout time.Duration, flags uint32, termChar byte) (vxi11.ReadResult, error)
	DeviceReadStb(ctx context.Context, link int32, flags uint32, lockTimeout, ioTimeout time.Duration) (vxi11.ReadStbResult, error)
	DeviceTrigger(ctx context.Context, link int32, flags uint32, lockTimeout, ioTimeout time.Duration) (vxi11.Result, error)
	DeviceClear(ctx context.Context, link int32, flags uint32, lockTimeout, ioTimeout time.Duration) (vxi11.Result, error)
	DeviceRemote(ctx context.Context, link int32, flags uint32, lockTimeout, ioTimeout time.Duration) (vxi11.Result, error)
	DeviceLocal(ctx context.Context, link int32, flags uint32, lockTimeout, ioTimeout time.Duration) (vxi11.Result, error)
	DeviceLock(ctx context.Context, link int32, flags uint32, lockTimeout time.Duration) (vxi11.Result, error)
	DeviceUnlock(ctx context.Context, link int32) (vxi11.Result, error)
	DeviceEnableSrq(ctx context.Context, link int32, enable bool, handle []byte) (vxi11.Result, error)
	DeviceDocmd(ctx context.Context, link int32, flags uint32, ioTimeout, lockTimeout time.Duration, cmd int32, networkOrder bool, dataSize int32, dataIn []byte) (vxi11.DocmdResult, error)
	DestroyLink(ctx context.Context, link int32) (vxi11.Result, error)
	Close() error
}

// Aborter sends device_abort. *vxi11.AbortClient satisfies it.
type Aborter interface {
	DeviceAbort(ctx context.Context, link int32, timeout time.Duration) (vxi11.Result, error)
	Close() error
}

// LinkInfo is what create_link returned.
type LinkInfo struct {
	ID          int32
	AbortPort   uint16
	MaxRecvSize uint32
}

type options struct {
	metrics metrics.RPCMetrics
	aborter Aborter
}

// Option configures a Session.
type Option func(*options)

// WithMetrics reports the session's procedure calls to m.
func WithMetrics(m metrics.RPCMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithAborter supplies the abort channel instead of dialing it on first use.
func WithAborter(a Aborter) Option {
	return func(o *options) { o.aborter = a }
}

// Session owns one core channel connection and one link.
type Session struct {
	id      string
	core    Core
	cfg     Config
	link    LinkInfo
	maxRecv uint32
	lc      *logger.LogContext

	mu          sync.Mutex
	ioTimeout   time.Duration
	lockTimeout time.Duration
	aborter     Aborter

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Open connects to cfg.Host and creates a link to cfg.Device.
//
// Dial and resolve failures are returned as errors. A create_link refused
// by the device is returned as a *StatusError; the connection is closed in
// both cases.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Session, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := applyOptions(opts)

	core, err := vxi11.DialCore(ctx, cfg.Host,
		vxi11.WithTimeoutSlack(cfg.TimeoutSlack),
		vxi11.WithPortmapPort(cfg.PortmapPort),
		vxi11.WithCorePort(cfg.CorePort),
		vxi11.WithResolveTimeout(cfg.DialTimeout),
		vxi11.WithMetrics(o.metrics),
		vxi11.WithRPCOptions(rpc.WithDialTimeout(cfg.DialTimeout)),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Host, err)
	}

	res, err := core.CreateLink(ctx, cfg.ClientID, cfg.LockDevice, cfg.LockTimeout, cfg.Device)
	if err != nil {
		_ = core.Close()
		return nil, fmt.Errorf("create_link %s: %w", cfg.Device, err)
	}
	if !res.OK() {
		_ = core.Close()
		return nil, &StatusError{Op: "create_link", Status: StatusFromErrorCode(res.Error), Reason: res.Reason}
	}

	link := LinkInfo{ID: res.LinkID, AbortPort: res.AbortPort, MaxRecvSize: res.MaxRecvSize}
	return NewSession(core, link, cfg, opts...), nil
}

// NewSession assembles a session around an existing link.
func NewSession(core Core, link LinkInfo, cfg Config, opts ...Option) *Session {
	cfg.ApplyDefaults()
	o := applyOptions(opts)

	s := &Session{
		id:          uuid.NewString(),
		core:        core,
		cfg:         cfg,
		link:        link,
		maxRecv:     effectiveMaxRecv(link.MaxRecvSize, cfg.MaxRecvSize),
		ioTimeout:   cfg.IOTimeout,
		lockTimeout: cfg.LockTimeout,
		aborter:     o.aborter,
	}
	s.lc = logger.NewLogContext(s.id, cfg.Host, cfg.Device).WithLink(link.ID)

	logger.Info("instrument session opened",
		logger.KeySessionID, s.id,
		logger.KeyHost, cfg.Host,
		logger.KeyDevice, cfg.Device,
		logger.KeyLink, link.ID,
		logger.KeyMaxRecvSize, s.maxRecv,
		logger.KeyAbortPort, link.AbortPort)
	return s
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// effectiveMaxRecv picks the chunk size for reads and writes: the device's
// value, lowered to the configured ceiling when that is smaller and never
// above vxi11.MaxDataSize.
func effectiveMaxRecv(device, ceiling uint32) uint32 {
	n := device
	if n == 0 {
		n = minMaxRecvSize
	}
	if ceiling > 0 && ceiling < n {
		n = ceiling
	}
	return min(n, vxi11.MaxDataSize)
}

// ============================================================================
// Accessors
// ============================================================================

// ID returns the session's UUID, used as session_id in logs and spans.
func (s *Session) ID() string { return s.id }

func (s *Session) LinkID() int32 { return s.link.ID }

// MaxRecvSize returns the write chunk size in use.
func (s *Session) MaxRecvSize() uint32 { return s.maxRecv }

func (s *Session) AbortPort() uint16 { return s.link.AbortPort }

func (s *Session) Host() string { return s.cfg.Host }

func (s *Session) Device() string { return s.cfg.Device }

// Closed reports whether Close has been called.
func (s *Session) Closed() bool { return s.closed.Load() }

func (s *Session) IOTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ioTimeout
}

// SetIOTimeout changes the timeout sent with subsequent calls.
func (s *Session) SetIOTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ioTimeout = max(d, 0)
}

func (s *Session) LockTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockTimeout
}

// SetLockTimeout changes how long subsequent calls wait for a lock held by
// another link. Zero fails immediately when the device is locked.
func (s *Session) SetLockTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockTimeout = max(d, 0)
}

func (s *Session) timeouts() (io, lock time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ioTimeout, s.lockTimeout
}

func lockFlags(lockTimeout time.Duration) uint32 {
	if lockTimeout > 0 {
		return vxi11.FlagWaitLock
	}
	return 0
}

// ============================================================================
// Read / Write
// ============================================================================

// Read reads until the device signals END, the termination character is
// seen (when enabled), or maxBytes bytes have arrived.
//
// On error the bytes received before the failing call are returned with
// the mapped status. The returned slice is never nil.
func (s *Session) Read(ctx context.Context, maxBytes int) ([]byte, Status) {
	if s.closed.Load() {
		return []byte{}, ErrorInvalidObject
	}
	if maxBytes <= 0 {
		return []byte{}, ErrorInvalidParameter
	}

	ctx, span := s.startSpan(ctx, "read")
	defer span.End()

	ioTimeout, lockTimeout := s.timeouts()
	flags := lockFlags(lockTimeout)
	if s.cfg.TermCharEnabled {
		flags |= vxi11.FlagTermCharSet
	}

	data := make([]byte, 0, min(maxBytes, int(s.maxRecv)))
	chunks := 0
	status := Success
loop:
	for {
		want := min(uint64(s.maxRecv), uint64(maxBytes-len(data)))
		res, err := s.core.DeviceRead(ctx, s.link.ID, uint32(want), ioTimeout, lockTimeout, flags, s.cfg.TermChar)
		if err != nil {
			status = s.failed(ctx, "read", err)
			break
		}
		chunks++
		if !res.OK() {
			status = s.mapResult(ctx, "read", res.Result)
			break
		}
		if len(res.Data) > int(want) {
			logger.WarnCtx(ctx, "device returned more data than requested",
				logger.KeyCount, want,
				logger.KeyBytesRead, len(res.Data))
			data = append(data, res.Data[:want]...)
			status = ErrorIO
			break
		}
		data = append(data, res.Data...)

		switch {
		case res.ReasonFlags&vxi11.ReasonEnd != 0:
			status = Success
			break loop
		case s.cfg.TermCharEnabled && res.ReasonFlags&vxi11.ReasonTermChar != 0:
			status = SuccessTermChar
			break loop
		case len(data) >= maxBytes:
			status = SuccessMaxCount
			break loop
		case len(res.Data) == 0:
			logger.WarnCtx(ctx, "device returned an empty chunk without a termination reason",
				logger.KeyReason, res.ReasonFlags)
			status = ErrorIO
			break loop
		}
	}

	s.finishSpan(ctx, span, status)
	logger.DebugCtx(ctx, "instrument read",
		logger.KeyCount, maxBytes,
		logger.KeyBytesRead, len(data),
		logger.KeyChunks, chunks,
		logger.KeyStatus, status.String())
	return data, status
}

// Write sends data in chunks of at most MaxRecvSize bytes. The last chunk
// carries END when the session is configured with SendEnd.
//
// It returns the number of bytes the device acknowledged. A device that
// accepts fewer bytes than sent ends the write with ErrorIO.
func (s *Session) Write(ctx context.Context, data []byte) (int, Status) {
	if s.closed.Load() {
		return 0, ErrorInvalidObject
	}
	if len(data) == 0 {
		return 0, Success
	}

	ctx, span := s.startSpan(ctx, "write")
	defer span.End()

	ioTimeout, lockTimeout := s.timeouts()
	chunkSize := int(s.maxRecv)

	offset := 0
	chunks := 0
	status := Success
	for offset < len(data) {
		end := min(offset+chunkSize, len(data))
		flags := lockFlags(lockTimeout)
		if end == len(data) && s.cfg.SendEnd {
			flags |= vxi11.FlagEnd
		}

		res, err := s.core.DeviceWrite(ctx, s.link.ID, ioTimeout, lockTimeout, flags, data[offset:end])
		if err != nil {
			status = s.failed(ctx, "write", err)
			break
		}
		chunks++
		if !res.OK() {
			status = s.mapResult(ctx, "write", res.Result)
			break
		}

		sent := end - offset
		n := min(int(res.Size), sent)
		offset += n
		if n < sent {
			logger.WarnCtx(ctx, "device accepted a partial chunk",
				logger.KeyCount, sent,
				logger.KeyBytesWritten, n)
			status = ErrorIO
			break
		}
	}

	s.finishSpan(ctx, span, status)
	logger.DebugCtx(ctx, "instrument write",
		logger.KeyCount, len(data),
		logger.KeyBytesWritten, offset,
		logger.KeyChunks, chunks,
		logger.KeyStatus, status.String())
	return offset, status
}

// Query writes cmd and reads the response.
func (s *Session) Query(ctx context.Context, cmd []byte, maxBytes int) ([]byte, Status) {
	if _, status := s.Write(ctx, cmd); status.IsError() {
		return []byte{}, status
	}
	return s.Read(ctx, maxBytes)
}

// ============================================================================
// Device control
// ============================================================================

type genericCall func(ctx context.Context, link int32, flags uint32, lockTimeout, ioTimeout time.Duration) (vxi11.Result, error)

func (s *Session) control(ctx context.Context, op string, call genericCall) Status {
	if s.closed.Load() {
		return ErrorInvalidObject
	}
	ctx, span := s.startSpan(ctx, op)
	defer span.End()

	ioTimeout, lockTimeout := s.timeouts()
	res, err := call(ctx, s.link.ID, lockFlags(lockTimeout), lockTimeout, ioTimeout)
	status := s.result(ctx, op, res, err)
	s.finishSpan(ctx, span, status)
	return status
}

// Clear sends a device clear.
func (s *Session) Clear(ctx context.Context) Status {
	return s.control(ctx, "clear", s.core.DeviceClear)
}

// Trigger sends a group execute trigger.
func (s *Session) Trigger(ctx context.Context) Status {
	return s.control(ctx, "trigger", s.core.DeviceTrigger)
}

// Local returns the device to front-panel control.
func (s *Session) Local(ctx context.Context) Status {
	return s.control(ctx, "local", s.core.DeviceLocal)
}

// Remote places the device under remote control.
func (s *Session) Remote(ctx context.Context) Status {
	return s.control(ctx, "remote", s.core.DeviceRemote)
}

// ReadSTB reads the status byte.
func (s *Session) ReadSTB(ctx context.Context) (byte, Status) {
	if s.closed.Load() {
		return 0, ErrorInvalidObject
	}
	ctx, span := s.startSpan(ctx, "read_stb")
	defer span.End()

	ioTimeout, lockTimeout := s.timeouts()
	res, err := s.core.DeviceReadStb(ctx, s.link.ID, lockFlags(lockTimeout), lockTimeout, ioTimeout)
	status := s.result(ctx, "read_stb", res.Result, err)
	s.finishSpan(ctx, span, status)
	if status.IsError() {
		return 0, status
	}
	return res.Stb, status
}

// Lock acquires the device lock, waiting up to timeout for another link to
// release it.
func (s *Session) Lock(ctx context.Context, timeout time.Duration) Status {
	if s.closed.Load() {
		return ErrorInvalidObject
	}
	ctx, span := s.startSpan(ctx, "lock")
	defer span.End()

	res, err := s.core.DeviceLock(ctx, s.link.ID, lockFlags(timeout), timeout)
	status := s.result(ctx, "lock", res, err)
	s.finishSpan(ctx, span, status)
	return status
}

// Unlock releases the device lock.
func (s *Session) Unlock(ctx context.Context) Status {
	if s.closed.Load() {
		return ErrorInvalidObject
	}
	ctx, span := s.startSpan(ctx, "unlock")
	defer span.End()

	res, err := s.core.DeviceUnlock(ctx, s.link.ID)
	status := s.result(ctx, "unlock", res, err)
	s.finishSpan(ctx, span, status)
	return status
}

// EnableSRQ turns service requests on or off. handle is at most
// vxi11.MaxSrqHandle bytes.
func (s *Session) EnableSRQ(ctx context.Context, enable bool, handle []byte) Status {
	if s.closed.Load() {
		return ErrorInvalidObject
	}
	if len(handle) > vxi11.MaxSrqHandle {
		return ErrorInvalidParameter
	}
	ctx, span := s.startSpan(ctx, "enable_srq")
	defer span.End()

	res, err := s.core.DeviceEnableSrq(ctx, s.link.ID, enable, handle)
	status := s.result(ctx, "enable_srq", res, err)
	s.finishSpan(ctx, span, status)
	return status
}

// Docmd runs a device-specific command and returns its output, which is
// empty on error.
func (s *Session) Docmd(ctx context.Context, cmd int32, networkOrder bool, dataSize int32, dataIn []byte) ([]byte, Status) {
	if s.closed.Load() {
		return []byte{}, ErrorInvalidObject
	}
	ctx, span := s.startSpan(ctx, "docmd")
	defer span.End()

	ioTimeout, lockTimeout := s.timeouts()
	res, err := s.core.DeviceDocmd(ctx, s.link.ID, lockFlags(lockTimeout), ioTimeout, lockTimeout, cmd, networkOrder, dataSize, dataIn)
	status := s.result(ctx, "docmd", res.Result, err)
	s.finishSpan(ctx, span, status)
	if status.IsError() || res.DataOut == nil {
		return []byte{}, status
	}
	return res.DataOut, status
}

// Abort interrupts an operation in progress on the link through the abort
// channel, connecting to it on first use.
func (s *Session) Abort(ctx context.Context) Status {
	if s.closed.Load() {
		return ErrorInvalidObject
	}
	ctx, span := s.startSpan(ctx, "abort")
	defer span.End()

	a, err := s.abortChannel(ctx)
	if err != nil {
		logger.WarnCtx(ctx, "abort channel unavailable", logger.KeyAbortPort, s.link.AbortPort, logger.KeyError, err)
		telemetry.RecordError(ctx, err)
		s.finishSpan(ctx, span, ErrorIO)
		return ErrorIO
	}

	res, err := a.DeviceAbort(ctx, s.link.ID, s.IOTimeout()+s.cfg.TimeoutSlack)
	status := s.result(ctx, "abort", res, err)
	s.finishSpan(ctx, span, status)
	return status
}

func (s *Session) abortChannel(ctx context.Context) (Aborter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aborter != nil {
		return s.aborter, nil
	}
	if s.link.AbortPort == 0 {
		return nil, errors.New("device did not report an abort port")
	}
	a, err := vxi11.DialAbort(ctx, s.cfg.Host, s.link.AbortPort, rpc.WithDialTimeout(s.cfg.DialTimeout))
	if err != nil {
		return nil, err
	}
	s.aborter = a
	return a, nil
}

// ============================================================================
// Close
// ============================================================================

// Close destroys the link and closes the connections. Only the first call
// does anything; later calls return the same error. The connection is
// closed even when destroy_link fails.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		ctx = logger.WithContext(ctx, s.lc)

		var errs []error
		res, err := s.core.DestroyLink(ctx, s.link.ID)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("destroy_link: %w", err))
		case !res.OK():
			errs = append(errs, &StatusError{Op: "destroy_link", Status: StatusFromErrorCode(res.Error), Reason: res.Reason})
		}
		if err := s.core.Close(); err != nil {
			errs = append(errs, err)
		}

		s.mu.Lock()
		if s.aborter != nil {
			if err := s.aborter.Close(); err != nil {
				errs = append(errs, err)
			}
			s.aborter = nil
		}
		s.mu.Unlock()

		s.closeErr = errors.Join(errs...)
		if s.closeErr != nil {
			logger.WarnCtx(ctx, "instrument session closed with errors", logger.KeyError, s.closeErr)
		} else {
			logger.InfoCtx(ctx, "instrument session closed", logger.KeyDurationMs, s.lc.DurationMs())
		}
	})
	return s.closeErr
}

// ============================================================================
// Helpers
// ============================================================================

func (s *Session) startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	ctx, span := telemetry.StartSessionSpan(ctx, op, s.id, telemetry.VXI11Link(s.link.ID))
	lc := s.lc
	if traceID := telemetry.TraceID(ctx); traceID != "" {
		lc = lc.WithTrace(traceID, telemetry.SpanID(ctx))
	}
	return logger.WithContext(ctx, lc), span
}

func (s *Session) finishSpan(ctx context.Context, span trace.Span, status Status) {
	telemetry.SetAttributes(ctx, telemetry.Status(status.String()))
	if status.IsError() {
		span.SetStatus(codes.Error, status.String())
	}
}

func (s *Session) result(ctx context.Context, op string, res vxi11.Result, err error) Status {
	if err != nil {
		return s.failed(ctx, op, err)
	}
	return s.mapResult(ctx, op, res)
}

// mapResult translates a procedure result and logs failures.
func (s *Session) mapResult(ctx context.Context, op string, res vxi11.Result) Status {
	status := StatusFromErrorCode(res.Error)
	if status.IsError() {
		args := []any{logger.KeyCommand, op, logger.KeyErrorCode, res.Error.String(), logger.KeyStatus, status.String()}
		if res.Reason != "" {
			args = append(args, logger.KeyReason, res.Reason)
		}
		logger.DebugCtx(ctx, "instrument operation failed", args...)
	}
	return status
}

// failed handles an error from the core client, which only happens when a
// reply cannot be decoded or arguments cannot be encoded.
func (s *Session) failed(ctx context.Context, op string, err error) Status {
	telemetry.RecordError(ctx, err)
	logger.ErrorCtx(ctx, "instrument protocol failure", logger.KeyCommand, op, logger.KeyError, err)
	return ErrorSystemError
}
