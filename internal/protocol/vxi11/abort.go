package vxi11

import (
	"context"
	"time"

	"github.com/marmos91/govxi11/internal/logger"
	"github.com/marmos91/govxi11/internal/protocol/rpc"
	"github.com/marmos91/govxi11/internal/protocol/xdr"
	"github.com/marmos91/govxi11/internal/telemetry"
	"go.opentelemetry.io/otel/codes"
)

// AbortClient calls device_abort on the DEVICE_ASYNC channel, whose port is
// returned by create_link. It uses its own connection so an abort can be
// sent while the core channel is blocked in a read or write.
type AbortClient struct {
	caller Caller
}

// NewAbortClient wraps an established caller.
func NewAbortClient(caller Caller) *AbortClient {
	return &AbortClient{caller: caller}
}

// DialAbort connects to the abort channel at host:abortPort.
func DialAbort(ctx context.Context, host string, abortPort uint16, opts ...rpc.Option) (*AbortClient, error) {
	c, err := rpc.Dial(ctx, host, int(abortPort), opts...)
	if err != nil {
		return nil, err
	}
	return &AbortClient{caller: c}, nil
}

// DeviceAbort interrupts the operation in progress on link. Failures are
// reported in the Result as for CoreClient methods.
func (a *AbortClient) DeviceAbort(ctx context.Context, link int32, timeout time.Duration) (Result, error) {
	ctx, span := telemetry.StartProcedureSpan(ctx, "device_abort", telemetry.VXI11Link(link))
	defer span.End()

	body, err := xdr.Marshal(DeviceLink(link))
	if err != nil {
		return Result{}, err
	}

	raw, err := a.caller.Call(ctx, ProgramAsync, VersionAsync, ProcDeviceAbort, body, callTimeout(timeout, 0))
	if err != nil {
		if xdr.IsCodecError(err) {
			telemetry.RecordError(ctx, err)
			return Result{}, err
		}
		res := transportFailure(err)
		span.SetStatus(codes.Error, res.Error.String())
		logger.DebugCtx(ctx, "vxi11 abort failed", logger.KeyLink, link, logger.KeyReason, res.Reason)
		return res, nil
	}

	var resp DeviceError
	if err := xdr.Unmarshal(raw, &resp); err != nil {
		telemetry.RecordError(ctx, err)
		return Result{}, err
	}
	res := Result{Error: MapErrorCode(resp.Error)}
	telemetry.SetAttributes(ctx, telemetry.VXI11Error(res.Error.String()))
	return res, nil
}

// Close closes the abort channel connection.
func (a *AbortClient) Close() error {
	return a.caller.Close()
}
