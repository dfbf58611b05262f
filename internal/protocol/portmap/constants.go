// Package portmap implements a client for the ONC RPC port mapper
// (program 100000, version 2, RFC 1833 Section 3).
//
// VXI-11 servers register their core channel with the port mapper; a client
// asks GETPORT for the TCP port of DEVICE_CORE before creating a link.
package portmap

import "strconv"

// Program identity
const (
	ProgramPortmap  = 100000
	PortmapVersion2 = 2
	DefaultPort     = 111
)

// Procedures. CALLIT (5) is not supported.
const (
	ProcNull    = 0
	ProcSet     = 1
	ProcUnset   = 2
	ProcGetport = 3
	ProcDump    = 4
)

// Protocol numbers carried in Mapping.Prot.
const (
	ProtoTCP = 6  // IPPROTO_TCP
	ProtoUDP = 17 // IPPROTO_UDP
)

// ProtoName returns "tcp", "udp" or the number as text.
func ProtoName(prot uint32) string {
	switch prot {
	case ProtoTCP:
		return "tcp"
	case ProtoUDP:
		return "udp"
	default:
		return strconv.FormatUint(uint64(prot), 10)
	}
}

