// Package rpctest provides an in-process ONC RPC server for tests.
//
// A Server listens on loopback TCP, decodes record-marked calls and answers
// through handlers registered per (program, procedure). Replies can be
// delayed, dropped, preceded by a stale XID, split into fragments or denied,
// so transport behaviour can be exercised without a real instrument.
package rpctest

import (
	"bytes"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/govxi11/internal/protocol/rpc"
	"github.com/marmos91/govxi11/internal/protocol/xdr"
)

// Call is a decoded request as seen by a handler.
type Call struct {
	XID       uint32
	Program   uint32
	Version   uint32
	Procedure uint32
	Args      []byte
}

// Reply describes how the server answers a call.
type Reply struct {
	// Results are appended to a SUCCESS reply.
	Results []byte

	// AcceptStat is the accept_stat of an accepted reply (default SUCCESS).
	// Low and High are sent with PROG_MISMATCH.
	AcceptStat uint32
	Low, High  uint32

	// Denied sends MSG_DENIED with RejectStat; Low/High are the supported
	// versions for RPC_MISMATCH, AuthStat the auth_stat for AUTH_ERROR.
	Denied     bool
	RejectStat uint32
	AuthStat   uint32

	// Delay postpones the reply.
	Delay time.Duration

	// Drop suppresses the reply entirely.
	Drop bool

	// StaleFirst sends a reply for XID-1 before the real one.
	StaleFirst bool

	// FragmentSize splits the reply into fragments of this many bytes.
	FragmentSize int

	// Raw, when set, is framed and sent verbatim instead of a reply.
	Raw []byte

	// CloseAfter closes the connection after the reply is written.
	CloseAfter bool
}

// HandlerFunc answers a call.
type HandlerFunc func(call Call) Reply

// Results builds a SUCCESS reply whose results are v encoded as XDR.
func Results(v xdr.XdrEncoder) Reply {
	b, err := xdr.Marshal(v)
	if err != nil {
		panic(err)
	}
	return Reply{Results: b}
}

type handlerKey struct {
	prog, proc uint32
}

// Server is a loopback ONC RPC server.
type Server struct {
	ln   net.Listener
	done chan struct{}
	wg   sync.WaitGroup

	mu       sync.Mutex
	handlers map[handlerKey]HandlerFunc
	programs map[uint32]bool
	calls    []Call
	conns    map[net.Conn]struct{}
	accepted int

	closeOnce sync.Once
}

// NewServer starts a server on 127.0.0.1:0. It is closed automatically when
// the test ends.
func NewServer(tb testing.TB) *Server {
	tb.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("rpctest: listen: %v", err)
	}

	s := &Server{
		ln:       ln,
		done:     make(chan struct{}),
		handlers: make(map[handlerKey]HandlerFunc),
		programs: make(map[uint32]bool),
		conns:    make(map[net.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	tb.Cleanup(s.Close)
	return s
}

// Handle registers h for calls to (prog, proc).
func (s *Server) Handle(prog, proc uint32, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[handlerKey{prog, proc}] = h
	s.programs[prog] = true
}

// Addr returns the listening address as host:port.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Host returns the listening IP.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

// Port returns the listening TCP port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	p, _ := strconv.Atoi(port)
	return p
}

// Calls returns every call received so far, in arrival order.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallsTo returns the calls received for one procedure.
func (s *Server) CallsTo(prog, proc uint32) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.Program == prog && c.Procedure == proc {
			out = append(out, c)
		}
	}
	return out
}

// Connections returns how many connections have been accepted.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Close stops the listener, drops open connections and waits for handlers.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.ln.Close()
		s.mu.Lock()
		for c := range s.conns {
			_ = c.Close()
		}
		s.mu.Unlock()
		s.wg.Wait()
	})
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		select {
		case <-s.done:
			s.mu.Unlock()
			_ = conn.Close()
			return
		default:
		}
		s.conns[conn] = struct{}{}
		s.accepted++
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		record, err := rpc.ReadRecord(conn, 0)
		if err != nil {
			return
		}
		hdr, args, err := rpc.DecodeCall(record)
		if err != nil {
			return
		}

		call := Call{
			XID:       hdr.XID,
			Program:   hdr.Program,
			Version:   hdr.Version,
			Procedure: hdr.Procedure,
			Args:      append([]byte(nil), args...),
		}
		s.mu.Lock()
		s.calls = append(s.calls, call)
		h, ok := s.handlers[handlerKey{call.Program, call.Procedure}]
		knownProg := s.programs[call.Program]
		s.mu.Unlock()

		var reply Reply
		switch {
		case ok:
			reply = h(call)
		case knownProg:
			reply = Reply{AcceptStat: rpc.ProcUnavail}
		default:
			reply = Reply{AcceptStat: rpc.ProgUnavail}
		}

		if !s.respond(conn, call.XID, reply) {
			return
		}
	}
}

// respond writes reply and reports whether the connection should stay open.
func (s *Server) respond(conn net.Conn, xid uint32, reply Reply) bool {
	if reply.Delay > 0 {
		select {
		case <-time.After(reply.Delay):
		case <-s.done:
			return false
		}
	}
	if reply.Drop {
		return !reply.CloseAfter
	}

	var out bytes.Buffer
	if reply.StaleFirst {
		out.Write(rpc.AppendRecordMark(encodeReply(xid-1, reply)))
	}

	msg := encodeReply(xid, reply)
	if reply.Raw != nil {
		msg = reply.Raw
	}
	if err := rpc.WriteFragments(&out, msg, reply.FragmentSize); err != nil {
		return false
	}

	if _, err := conn.Write(out.Bytes()); err != nil {
		return false
	}
	return !reply.CloseAfter
}

func encodeReply(xid uint32, reply Reply) []byte {
	if reply.Denied {
		if reply.RejectStat == rpc.AuthError {
			return rpc.EncodeDeniedReply(xid, reply.RejectStat, reply.AuthStat, 0)
		}
		return rpc.EncodeDeniedReply(xid, reply.RejectStat, reply.Low, reply.High)
	}
	return rpc.EncodeAcceptedReply(xid, reply.AcceptStat, reply.Low, reply.High, reply.Results)
}
