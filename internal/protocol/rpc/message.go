package rpc

import (
	"bytes"
	"fmt"
	"io"

	"github.com/marmos91/govxi11/internal/protocol/xdr"
	goxdr "github.com/rasky/go-xdr/xdr2"
)

// maxAuthBody is the largest opaque_auth body allowed (RFC 5531 Section 8.2).
const maxAuthBody = 400

// OpaqueAuth is an authentication credential or verifier.
type OpaqueAuth struct {
	Flavor uint32
	Body   []byte
}

// CallHeader is the fixed part of an RPC CALL message.
//
// Wire format per RFC 5531:
//
//	XID:        [uint32]
//	MsgType:    [uint32] = 0 (CALL)
//	RPCVersion: [uint32] = 2
//	Program:    [uint32]
//	Version:    [uint32]
//	Procedure:  [uint32]
//	Cred:       opaque_auth
//	Verf:       opaque_auth
//	Args:       [procedure args]
type CallHeader struct {
	XID        uint32
	MsgType    uint32
	RPCVersion uint32
	Program    uint32
	Version    uint32
	Procedure  uint32
	Cred       OpaqueAuth
	Verf       OpaqueAuth
}

// replyPrefix is the part shared by every reply: enough to correlate and
// classify it before decoding the reply union.
type replyPrefix struct {
	XID     uint32
	MsgType uint32
}

// ReplyHeader is a decoded RPC REPLY header.
//
// For MSG_ACCEPTED replies Verf and AcceptStat are set, plus Low/High for
// PROG_MISMATCH. For MSG_DENIED replies RejectStat is set, plus Low/High for
// RPC_MISMATCH or AuthStat for AUTH_ERROR.
type ReplyHeader struct {
	XID        uint32
	MsgType    uint32
	ReplyStat  uint32
	Verf       OpaqueAuth
	AcceptStat uint32
	RejectStat uint32
	Low        uint32
	High       uint32
	AuthStat   uint32
}

// Err converts a non-successful reply into a *RejectedError.
func (h *ReplyHeader) Err() error {
	switch h.ReplyStat {
	case MsgAccepted:
		if h.AcceptStat == Success {
			return nil
		}
		return &RejectedError{ReplyStat: MsgAccepted, Stat: h.AcceptStat, Low: h.Low, High: h.High}
	default:
		return &RejectedError{ReplyStat: MsgDenied, Stat: h.RejectStat, Low: h.Low, High: h.High, AuthStat: h.AuthStat}
	}
}

// EncodeCall builds an unframed CALL message with AUTH_NULL credentials
// followed by the already-encoded procedure arguments.
func EncodeCall(xid, prog, vers, proc uint32, args []byte) ([]byte, error) {
	hdr := CallHeader{
		XID:        xid,
		MsgType:    MsgCall,
		RPCVersion: RPCVersion,
		Program:    prog,
		Version:    vers,
		Procedure:  proc,
		Cred:       OpaqueAuth{Flavor: AuthNull, Body: []byte{}},
		Verf:       OpaqueAuth{Flavor: AuthNull, Body: []byte{}},
	}

	var buf bytes.Buffer
	buf.Grow(40 + len(args))
	if _, err := goxdr.Marshal(&buf, &hdr); err != nil {
		return nil, fmt.Errorf("marshal call header: %w", err)
	}
	buf.Write(args)
	return buf.Bytes(), nil
}

// DecodeCall splits a CALL message into its header and argument bytes.
func DecodeCall(msg []byte) (*CallHeader, []byte, error) {
	r := bytes.NewReader(msg)
	var hdr CallHeader
	if _, err := goxdr.Unmarshal(r, &hdr); err != nil {
		return nil, nil, &xdr.CodecError{Field: "rpc call header", Err: err}
	}
	if hdr.MsgType != MsgCall {
		return nil, nil, &xdr.CodecError{Field: "rpc call header", Err: fmt.Errorf("msg_type %d is not CALL", hdr.MsgType)}
	}
	return &hdr, msg[len(msg)-r.Len():], nil
}

func decodeReplyPrefix(msg []byte) (replyPrefix, error) {
	var p replyPrefix
	if _, err := goxdr.Unmarshal(bytes.NewReader(msg), &p); err != nil {
		return p, &xdr.CodecError{Field: "rpc reply header", Err: err}
	}
	return p, nil
}

// DecodeReply decodes a REPLY message and returns its header and the result
// bytes that follow an accepted reply. Truncated or malformed headers yield
// a *xdr.CodecError.
func DecodeReply(msg []byte) (*ReplyHeader, []byte, error) {
	prefix, err := decodeReplyPrefix(msg)
	if err != nil {
		return nil, nil, err
	}

	r := bytes.NewReader(msg[8:])
	h := &ReplyHeader{XID: prefix.XID, MsgType: prefix.MsgType}
	if h.ReplyStat, err = xdr.DecodeUint32(r); err != nil {
		return nil, nil, err
	}

	switch h.ReplyStat {
	case MsgAccepted:
		if err := decodeAccepted(r, h); err != nil {
			return nil, nil, err
		}
	case MsgDenied:
		if err := decodeDenied(r, h); err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, &xdr.CodecError{Field: "reply_stat", Err: fmt.Errorf("invalid value %d", h.ReplyStat)}
	}

	return h, msg[len(msg)-r.Len():], nil
}

func decodeAccepted(r io.Reader, h *ReplyHeader) error {
	var err error
	if h.Verf.Flavor, err = xdr.DecodeUint32(r); err != nil {
		return err
	}
	if h.Verf.Body, err = xdr.DecodeOpaqueMax(r, maxAuthBody); err != nil {
		return err
	}
	if h.AcceptStat, err = xdr.DecodeUint32(r); err != nil {
		return err
	}
	if h.AcceptStat == ProgMismatch {
		if h.Low, err = xdr.DecodeUint32(r); err != nil {
			return err
		}
		if h.High, err = xdr.DecodeUint32(r); err != nil {
			return err
		}
	}
	return nil
}

func decodeDenied(r io.Reader, h *ReplyHeader) error {
	var err error
	if h.RejectStat, err = xdr.DecodeUint32(r); err != nil {
		return err
	}
	switch h.RejectStat {
	case RPCMismatch:
		if h.Low, err = xdr.DecodeUint32(r); err != nil {
			return err
		}
		h.High, err = xdr.DecodeUint32(r)
		return err
	case AuthError:
		h.AuthStat, err = xdr.DecodeUint32(r)
		return err
	default:
		return &xdr.CodecError{Field: "reject_stat", Err: fmt.Errorf("invalid value %d", h.RejectStat)}
	}
}

// ============================================================================
// Reply encoding (used by in-process test servers)
// ============================================================================

// EncodeAcceptedReply builds an unframed MSG_ACCEPTED reply. results is
// appended only for SUCCESS; low and high are written for PROG_MISMATCH.
func EncodeAcceptedReply(xid, acceptStat, low, high uint32, results []byte) []byte {
	var buf bytes.Buffer
	_ = xdr.WriteUint32(&buf, xid)
	_ = xdr.WriteUint32(&buf, MsgReply)
	_ = xdr.WriteUint32(&buf, MsgAccepted)
	_ = xdr.WriteUint32(&buf, AuthNull) // verf flavor
	_ = xdr.WriteUint32(&buf, 0)        // verf length
	_ = xdr.WriteUint32(&buf, acceptStat)
	switch acceptStat {
	case Success:
		buf.Write(results)
	case ProgMismatch:
		_ = xdr.WriteUint32(&buf, low)
		_ = xdr.WriteUint32(&buf, high)
	}
	return buf.Bytes()
}

// EncodeDeniedReply builds an unframed MSG_DENIED reply. For RPC_MISMATCH
// a and b are the supported low/high versions; for AUTH_ERROR a is the
// auth_stat and b is ignored.
func EncodeDeniedReply(xid, rejectStat, a, b uint32) []byte {
	var buf bytes.Buffer
	_ = xdr.WriteUint32(&buf, xid)
	_ = xdr.WriteUint32(&buf, MsgReply)
	_ = xdr.WriteUint32(&buf, MsgDenied)
	_ = xdr.WriteUint32(&buf, rejectStat)
	switch rejectStat {
	case RPCMismatch:
		_ = xdr.WriteUint32(&buf, a)
		_ = xdr.WriteUint32(&buf, b)
	case AuthError:
		_ = xdr.WriteUint32(&buf, a)
	}
	return buf.Bytes()
}
