// Package portmaptest provides an in-memory port mapper that answers
// NULL, SET, UNSET, GETPORT and DUMP on an rpctest.Server.
package portmaptest

import (
	"bytes"
	"cmp"
	"slices"
	"sync"
	"testing"

	"github.com/marmos91/govxi11/internal/protocol/portmap"
	"github.com/marmos91/govxi11/internal/protocol/rpc"
	"github.com/marmos91/govxi11/internal/protocol/rpc/rpctest"
	"github.com/marmos91/govxi11/internal/protocol/xdr"
)

// registryKey identifies a registration: (program, version, protocol).
type registryKey struct {
	prog, vers, prot uint32
}

// Registry is a thread-safe store of port mapper registrations.
type Registry struct {
	mu       sync.RWMutex
	mappings map[registryKey]portmap.Mapping
}

func NewRegistry() *Registry {
	return &Registry{mappings: make(map[registryKey]portmap.Mapping)}
}

// Set adds or replaces a mapping. Port 0 is rejected.
func (r *Registry) Set(m portmap.Mapping) bool {
	if m.Port == 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mappings[registryKey{m.Prog, m.Vers, m.Prot}] = m
	return true
}

// Unset removes a mapping and reports whether it existed.
func (r *Registry) Unset(prog, vers, prot uint32) bool {
	key := registryKey{prog, vers, prot}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.mappings[key]; !ok {
		return false
	}
	delete(r.mappings, key)
	return true
}

// Getport returns the registered port, or 0.
func (r *Registry) Getport(prog, vers, prot uint32) uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mappings[registryKey{prog, vers, prot}].Port
}

// Dump returns a snapshot sorted by (prog, vers, prot).
func (r *Registry) Dump() []portmap.Mapping {
	r.mu.RLock()
	out := make([]portmap.Mapping, 0, len(r.mappings))
	for _, m := range r.mappings {
		out = append(out, m)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b portmap.Mapping) int {
		if c := cmp.Compare(a.Prog, b.Prog); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Vers, b.Vers); c != 0 {
			return c
		}
		return cmp.Compare(a.Prot, b.Prot)
	})
	return out
}

// Install registers the port mapper procedures on srv, backed by r.
func (r *Registry) Install(srv *rpctest.Server) {
	srv.Handle(portmap.ProgramPortmap, portmap.ProcNull, r.versioned(func(rpctest.Call) rpctest.Reply {
		return rpctest.Reply{}
	}))
	srv.Handle(portmap.ProgramPortmap, portmap.ProcSet, r.versioned(r.withMapping(func(m portmap.Mapping) []byte {
		return boolResult(r.Set(m))
	})))
	srv.Handle(portmap.ProgramPortmap, portmap.ProcUnset, r.versioned(r.withMapping(func(m portmap.Mapping) []byte {
		return boolResult(r.Unset(m.Prog, m.Vers, m.Prot))
	})))
	srv.Handle(portmap.ProgramPortmap, portmap.ProcGetport, r.versioned(r.withMapping(func(m portmap.Mapping) []byte {
		var buf bytes.Buffer
		_ = xdr.WriteUint32(&buf, r.Getport(m.Prog, m.Vers, m.Prot))
		return buf.Bytes()
	})))
	srv.Handle(portmap.ProgramPortmap, portmap.ProcDump, r.versioned(func(rpctest.Call) rpctest.Reply {
		return rpctest.Results(portmap.DumpList(r.Dump()))
	}))
}

// versioned answers PROG_MISMATCH for anything but version 2.
func (r *Registry) versioned(h rpctest.HandlerFunc) rpctest.HandlerFunc {
	return func(call rpctest.Call) rpctest.Reply {
		if call.Version != portmap.PortmapVersion2 {
			return rpctest.Reply{AcceptStat: rpc.ProgMismatch, Low: portmap.PortmapVersion2, High: portmap.PortmapVersion2}
		}
		return h(call)
	}
}

func (r *Registry) withMapping(fn func(portmap.Mapping) []byte) rpctest.HandlerFunc {
	return func(call rpctest.Call) rpctest.Reply {
		var m portmap.Mapping
		if err := xdr.Unmarshal(call.Args, &m); err != nil {
			return rpctest.Reply{AcceptStat: rpc.GarbageArgs}
		}
		return rpctest.Reply{Results: fn(m)}
	}
}

func boolResult(v bool) []byte {
	var buf bytes.Buffer
	_ = xdr.WriteBool(&buf, v)
	return buf.Bytes()
}

// NewServer starts an rpctest.Server with a port mapper installed and
// returns both. Handlers for other programs can be added to the server.
func NewServer(tb testing.TB) (*rpctest.Server, *Registry) {
	tb.Helper()
	srv := rpctest.NewServer(tb)
	reg := NewRegistry()
	reg.Install(srv)
	return srv, reg
}
