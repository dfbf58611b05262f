package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/govxi11/internal/logger"
	"github.com/marmos91/govxi11/internal/telemetry"
	"github.com/marmos91/govxi11/pkg/metrics"
)

const (
	// DefaultDialTimeout bounds connection establishment when the context
	// carries no earlier deadline.
	DefaultDialTimeout = 10 * time.Second

	keepAlivePeriod = 30 * time.Second
)

// aLongTimeAgo is a deadline in the past, used to unblock pending I/O.
var aLongTimeAgo = time.Unix(1, 0)

type options struct {
	dialTimeout   time.Duration
	maxRecordSize int
	metrics       metrics.RPCMetrics
}

// Option configures a Client.
type Option func(*options)

// WithDialTimeout overrides DefaultDialTimeout.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) { o.dialTimeout = d }
}

// WithMaxRecordSize bounds the size of a reassembled reply record.
func WithMaxRecordSize(n int) Option {
	return func(o *options) { o.maxRecordSize = n }
}

// WithMetrics reports wire bytes to m. A nil m disables reporting.
func WithMetrics(m metrics.RPCMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// Client is an ONC RPC client bound to a single TCP connection.
//
// Calls are serialized: a Client never has more than one call in flight, so
// callers sharing a Client block on each other. XIDs are drawn from a
// per-client counter seeded randomly and are never reused while a call is
// outstanding.
type Client struct {
	conn net.Conn
	addr string
	opts options

	mu     sync.Mutex // serializes calls; guards xid and desync
	xid    uint32
	desync bool

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Dial connects to host:port over TCP.
//
// Refused connections, unreachable hosts and resolution failures are
// returned as *ConnectionError.
func Dial(ctx context.Context, host string, port int, opts ...Option) (*Client, error) {
	o := applyOptions(opts)
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	dialer := net.Dialer{Timeout: o.dialTimeout, KeepAlive: keepAlivePeriod}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Addr: addr, Err: err}
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	logger.Debug("rpc connection established", logger.KeyAddr, addr, "local", conn.LocalAddr().String())
	return newClient(conn, addr, o), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn, opts ...Option) *Client {
	return newClient(conn, conn.RemoteAddr().String(), applyOptions(opts))
}

func applyOptions(opts []Option) options {
	o := options{
		dialTimeout:   DefaultDialTimeout,
		maxRecordSize: DefaultMaxRecordSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func newClient(conn net.Conn, addr string, o options) *Client {
	return &Client{
		conn: conn,
		addr: addr,
		opts: o,
		xid:  rand.Uint32(),
	}
}

// RemoteAddr returns the address of the server.
func (c *Client) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// LocalAddr returns the local end of the connection.
func (c *Client) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// Call sends one request and waits for the reply with the matching XID.
//
// The wait is bounded by timeout and by the context deadline, whichever is
// earlier; timeout <= 0 leaves only the context deadline. Replies carrying
// other XIDs (late answers to earlier, timed-out calls) are discarded.
//
// On success the returned bytes are the procedure results that follow the
// accepted reply header.
func (c *Client) Call(ctx context.Context, prog, vers, proc uint32, args []byte, timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return nil, &IOError{Op: "call", Err: ErrClosed}
	}
	if c.desync {
		return nil, &IOError{Op: "call", Err: ErrDesynchronized}
	}
	if err := ctx.Err(); err != nil {
		return nil, c.classify(ctx, "call", timeout, err)
	}

	c.xid++
	xid := c.xid
	telemetry.SetAttributes(ctx, telemetry.RPCXID(xid), telemetry.RPCProgram(prog), telemetry.RPCVersion(vers))

	msg, err := EncodeCall(xid, prog, vers, proc, args)
	if err != nil {
		return nil, err
	}

	if err := c.conn.SetDeadline(callDeadline(ctx, timeout)); err != nil {
		return nil, c.classify(ctx, "set deadline", timeout, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = c.conn.SetDeadline(aLongTimeAgo) })
	defer stop()

	frame := AppendRecordMark(msg)
	n, err := c.conn.Write(frame)
	c.recordBytes(metrics.DirectionSent, n)
	if err != nil {
		if n > 0 {
			c.desync = true
		}
		return nil, c.classify(ctx, "write call", timeout, err)
	}

	logger.Debug("rpc call sent",
		logger.KeyXID, fmt.Sprintf("0x%08x", xid),
		logger.KeyProgram, prog,
		logger.KeyProcedure, proc,
		logger.KeyTimeout, timeout)

	for {
		record, fragments, consumed, err := readRecord(c.conn, c.opts.maxRecordSize)
		if err != nil {
			if consumed {
				c.desync = true
			}
			return nil, c.classify(ctx, "read reply", timeout, err)
		}
		c.recordBytes(metrics.DirectionReceived, len(record)+4*fragments)

		prefix, err := decodeReplyPrefix(record)
		if err != nil {
			return nil, err
		}
		if prefix.MsgType != MsgReply {
			return nil, &IOError{Op: "read reply", Err: fmt.Errorf("unexpected msg_type %d", prefix.MsgType)}
		}
		if prefix.XID != xid {
			logger.Debug("discarding reply with unexpected xid",
				logger.KeyXID, fmt.Sprintf("0x%08x", prefix.XID),
				"expected", fmt.Sprintf("0x%08x", xid))
			continue
		}

		hdr, results, err := DecodeReply(record)
		if err != nil {
			return nil, err
		}
		if err := hdr.Err(); err != nil {
			return nil, err
		}
		return results, nil
	}
}

func callDeadline(ctx context.Context, timeout time.Duration) time.Time {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	return deadline
}

// classify maps a socket or context error onto the error taxonomy.
func (c *Client) classify(ctx context.Context, op string, timeout time.Duration, err error) error {
	if c.closed.Load() {
		return &IOError{Op: op, Err: ErrClosed}
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return &TimeoutError{Timeout: timeout, Reason: err.Error(), Err: err}
		}
		return &IOError{Op: op, Err: ctxErr}
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &TimeoutError{Timeout: timeout, Reason: err.Error(), Err: err}
	}
	return &IOError{Op: op, Err: err}
}

func (c *Client) recordBytes(direction string, n int) {
	if c.opts.metrics != nil && n > 0 {
		c.opts.metrics.RecordBytes(direction, n)
	}
}

// Close closes the connection. It is safe to call more than once and may be
// called while a Call is blocked; that Call then fails with ErrClosed.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.conn.Close()
		logger.Debug("rpc connection closed", logger.KeyAddr, c.addr)
	})
	return c.closeErr
}
