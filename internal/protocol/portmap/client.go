package portmap

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/marmos91/govxi11/internal/logger"
	"github.com/marmos91/govxi11/internal/protocol/rpc"
	"github.com/marmos91/govxi11/internal/protocol/xdr"
	"github.com/marmos91/govxi11/internal/telemetry"
	"go.opentelemetry.io/otel/codes"
)

type options struct {
	port    int
	rpcOpts []rpc.Option
}

// Option configures Dial and Resolve.
type Option func(*options)

// WithPort overrides the well-known port 111.
func WithPort(port int) Option {
	return func(o *options) { o.port = port }
}

// WithRPCOptions passes options through to the underlying rpc.Client.
func WithRPCOptions(opts ...rpc.Option) Option {
	return func(o *options) { o.rpcOpts = append(o.rpcOpts, opts...) }
}

// Client talks to one host's port mapper over TCP.
type Client struct {
	rpc  *rpc.Client
	host string
}

// Dial connects to the port mapper on host.
func Dial(ctx context.Context, host string, opts ...Option) (*Client, error) {
	o := options{port: DefaultPort}
	for _, opt := range opts {
		opt(&o)
	}

	c, err := rpc.Dial(ctx, host, o.port, o.rpcOpts...)
	if err != nil {
		return nil, err
	}
	return &Client{rpc: c, host: host}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.rpc.Close()
}

// Null pings the port mapper.
func (c *Client) Null(ctx context.Context, timeout time.Duration) error {
	ctx, span := telemetry.StartPortmapSpan(ctx, "null", telemetry.ServerAddr(c.host))
	defer span.End()

	_, err := c.call(ctx, ProcNull, nil, timeout)
	return err
}

// GetPort returns the port registered for (prog, vers, prot).
//
// A reply of port 0 yields *ServiceNotFoundError. Transport failures are
// returned as the rpc package's typed errors.
func (c *Client) GetPort(ctx context.Context, prog, vers, prot uint32, timeout time.Duration) (uint16, error) {
	ctx, span := telemetry.StartPortmapSpan(ctx, "getport",
		telemetry.ServerAddr(c.host),
		telemetry.RPCProgram(prog),
		telemetry.RPCVersion(vers))
	defer span.End()

	args, err := xdr.Marshal(&Mapping{Prog: prog, Vers: vers, Prot: prot})
	if err != nil {
		return 0, err
	}

	res, err := c.call(ctx, ProcGetport, args, timeout)
	if err != nil {
		return 0, err
	}

	port, err := xdr.DecodeUint32(bytes.NewReader(res))
	if err != nil {
		telemetry.RecordError(ctx, err)
		return 0, err
	}
	if port == 0 {
		err := &ServiceNotFoundError{Prog: prog, Vers: vers, Prot: prot}
		telemetry.SetStatus(ctx, codes.Error, err.Error())
		return 0, err
	}
	if port > 0xFFFF {
		err := &xdr.CodecError{Field: "port", Err: fmt.Errorf("value %d out of range", port)}
		telemetry.RecordError(ctx, err)
		return 0, err
	}

	telemetry.SetAttributes(ctx, telemetry.ServerPort(int(port)))
	logger.DebugCtx(ctx, "portmap getport",
		logger.KeyHost, c.host,
		logger.KeyProgram, prog,
		logger.KeyVersion, vers,
		logger.KeyPort, port)
	return uint16(port), nil
}

// Dump returns every registration known to the port mapper.
func (c *Client) Dump(ctx context.Context, timeout time.Duration) ([]Mapping, error) {
	ctx, span := telemetry.StartPortmapSpan(ctx, "dump", telemetry.ServerAddr(c.host))
	defer span.End()

	res, err := c.call(ctx, ProcDump, nil, timeout)
	if err != nil {
		return nil, err
	}

	var list DumpList
	if err := xdr.Unmarshal(res, &list); err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	logger.DebugCtx(ctx, "portmap dump", logger.KeyHost, c.host, logger.KeyCount, len(list))
	return list, nil
}

func (c *Client) call(ctx context.Context, proc uint32, args []byte, timeout time.Duration) ([]byte, error) {
	res, err := c.rpc.Call(ctx, ProgramPortmap, PortmapVersion2, proc, args, timeout)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	return res, nil
}

// Resolve dials the port mapper on host, asks for the TCP port of
// (prog, vers) and closes the connection.
func Resolve(ctx context.Context, host string, prog, vers uint32, timeout time.Duration, opts ...Option) (uint16, error) {
	c, err := Dial(ctx, host, opts...)
	if err != nil {
		return 0, err
	}
	defer func() { _ = c.Close() }()

	return c.GetPort(ctx, prog, vers, ProtoTCP, timeout)
}
