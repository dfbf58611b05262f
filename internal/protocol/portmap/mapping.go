package portmap

import (
	"bytes"
	"fmt"
	"io"

	"github.com/marmos91/govxi11/internal/protocol/xdr"
)

// MappingSize is the encoded size of a Mapping.
const MappingSize = 16

// maxDumpEntries bounds a DUMP reply so a hostile list cannot grow forever.
const maxDumpEntries = 4096

// Mapping is one port mapper registration.
//
// Wire format: [prog:uint32][vers:uint32][prot:uint32][port:uint32]
//
// GETPORT, SET and UNSET all take a Mapping as their argument; GETPORT
// ignores Port.
type Mapping struct {
	Prog uint32
	Vers uint32
	Prot uint32
	Port uint32
}

func (m *Mapping) Encode(buf *bytes.Buffer) error {
	for _, v := range [...]uint32{m.Prog, m.Vers, m.Prot, m.Port} {
		if err := xdr.WriteUint32(buf, v); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mapping) Decode(r io.Reader) error {
	var err error
	for _, p := range [...]*uint32{&m.Prog, &m.Vers, &m.Prot, &m.Port} {
		if *p, err = xdr.DecodeUint32(r); err != nil {
			return err
		}
	}
	return nil
}

func (m Mapping) String() string {
	return fmt.Sprintf("%d v%d %s port %d", m.Prog, m.Vers, ProtoName(m.Prot), m.Port)
}

// DumpList is the DUMP result: an XDR optional-data linked list, encoded as
// a "value follows" boolean before each Mapping and a final FALSE.
type DumpList []Mapping

func (l DumpList) Encode(buf *bytes.Buffer) error {
	for i := range l {
		if err := xdr.WriteBool(buf, true); err != nil {
			return err
		}
		if err := l[i].Encode(buf); err != nil {
			return err
		}
	}
	return xdr.WriteBool(buf, false)
}

func (l *DumpList) Decode(r io.Reader) error {
	var out DumpList
	for {
		more, err := xdr.DecodeBool(r)
		if err != nil {
			return err
		}
		if !more {
			*l = out
			return nil
		}
		if len(out) >= maxDumpEntries {
			return &xdr.CodecError{Field: "pmaplist", Err: xdr.ErrLengthExceeded}
		}
		var m Mapping
		if err := m.Decode(r); err != nil {
			return err
		}
		out = append(out, m)
	}
}
