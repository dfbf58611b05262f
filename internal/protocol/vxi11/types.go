package vxi11

import (
	"bytes"
	"fmt"
	"io"

	"github.com/marmos91/govxi11/internal/protocol/xdr"
)

// ============================================================================
// Wire structures (VXI-11 rev 1.0, appendix "RPCL description")
// ============================================================================
//
// Every structure encodes its fields in declaration order. Link identifiers
// are Device_Link (long), timeouts are milliseconds (unsigned long).

// reply is implemented by every result structure; code returns the raw
// Device_ErrorCode it carries.
type reply interface {
	xdr.XdrDecoder
	code() uint32
}

// encodeAll writes a sequence of uint32 fields.
func encodeAll(buf *bytes.Buffer, vals ...uint32) error {
	for _, v := range vals {
		if err := xdr.WriteUint32(buf, v); err != nil {
			return err
		}
	}
	return nil
}

// decodeAll reads a sequence of uint32 fields.
func decodeAll(r io.Reader, ptrs ...*uint32) error {
	for _, p := range ptrs {
		v, err := xdr.DecodeUint32(r)
		if err != nil {
			return err
		}
		*p = v
	}
	return nil
}

// ----------------------------------------------------------------------------
// create_link
// ----------------------------------------------------------------------------

// CreateLinkParms opens a link to a device such as "inst0" or "gpib0,5".
type CreateLinkParms struct {
	ClientID    int32
	LockDevice  bool
	LockTimeout uint32
	Device      string
}

func (p *CreateLinkParms) Encode(buf *bytes.Buffer) error {
	if err := xdr.WriteInt32(buf, p.ClientID); err != nil {
		return err
	}
	if err := xdr.WriteBool(buf, p.LockDevice); err != nil {
		return err
	}
	if err := xdr.WriteUint32(buf, p.LockTimeout); err != nil {
		return err
	}
	return xdr.WriteXDRString(buf, p.Device)
}

func (p *CreateLinkParms) Decode(r io.Reader) error {
	var err error
	if p.ClientID, err = xdr.DecodeInt32(r); err != nil {
		return err
	}
	if p.LockDevice, err = xdr.DecodeBool(r); err != nil {
		return err
	}
	if p.LockTimeout, err = xdr.DecodeUint32(r); err != nil {
		return err
	}
	p.Device, err = xdr.DecodeString(r)
	return err
}

// CreateLinkResp carries the new link, the abort channel port and the
// largest write the device accepts in one device_write.
type CreateLinkResp struct {
	Error       uint32
	LinkID      int32
	AbortPort   uint16 // sent as unsigned short, widened to 4 bytes on the wire
	MaxRecvSize uint32
}

func (p *CreateLinkResp) code() uint32 { return p.Error }

func (p *CreateLinkResp) Encode(buf *bytes.Buffer) error {
	return encodeAll(buf, p.Error, uint32(p.LinkID), uint32(p.AbortPort), p.MaxRecvSize)
}

func (p *CreateLinkResp) Decode(r io.Reader) error {
	var link, port uint32
	if err := decodeAll(r, &p.Error, &link, &port, &p.MaxRecvSize); err != nil {
		return err
	}
	if port > 0xFFFF {
		return &xdr.CodecError{Field: "abortPort", Err: fmt.Errorf("value %d out of range", port)}
	}
	p.LinkID = int32(link)
	p.AbortPort = uint16(port)
	return nil
}

// ----------------------------------------------------------------------------
// device_write
// ----------------------------------------------------------------------------

type DeviceWriteParms struct {
	LinkID      int32
	IOTimeout   uint32
	LockTimeout uint32
	Flags       uint32
	Data        []byte
}

func (p *DeviceWriteParms) Encode(buf *bytes.Buffer) error {
	if err := encodeAll(buf, uint32(p.LinkID), p.IOTimeout, p.LockTimeout, p.Flags); err != nil {
		return err
	}
	return xdr.WriteXDROpaque(buf, p.Data)
}

func (p *DeviceWriteParms) Decode(r io.Reader) error {
	var link uint32
	if err := decodeAll(r, &link, &p.IOTimeout, &p.LockTimeout, &p.Flags); err != nil {
		return err
	}
	p.LinkID = int32(link)
	var err error
	p.Data, err = xdr.DecodeOpaqueMax(r, MaxDataSize)
	return err
}

type DeviceWriteResp struct {
	Error uint32
	Size  uint32
}

func (p *DeviceWriteResp) code() uint32 { return p.Error }

func (p *DeviceWriteResp) Encode(buf *bytes.Buffer) error {
	return encodeAll(buf, p.Error, p.Size)
}

func (p *DeviceWriteResp) Decode(r io.Reader) error {
	return decodeAll(r, &p.Error, &p.Size)
}

// ----------------------------------------------------------------------------
// device_read
// ----------------------------------------------------------------------------

type DeviceReadParms struct {
	LinkID      int32
	RequestSize uint32
	IOTimeout   uint32
	LockTimeout uint32
	Flags       uint32
	TermChar    byte // sent as a char widened to 4 bytes
}

func (p *DeviceReadParms) Encode(buf *bytes.Buffer) error {
	return encodeAll(buf, uint32(p.LinkID), p.RequestSize, p.IOTimeout, p.LockTimeout, p.Flags, uint32(p.TermChar))
}

func (p *DeviceReadParms) Decode(r io.Reader) error {
	var link, term uint32
	if err := decodeAll(r, &link, &p.RequestSize, &p.IOTimeout, &p.LockTimeout, &p.Flags, &term); err != nil {
		return err
	}
	p.LinkID = int32(link)
	p.TermChar = byte(term)
	return nil
}

// DeviceReadResp carries the read reason bitmask (ReasonRequestCount,
// ReasonTermChar, ReasonEnd) and the bytes read.
type DeviceReadResp struct {
	Error  uint32
	Reason uint32
	Data   []byte
}

func (p *DeviceReadResp) code() uint32 { return p.Error }

func (p *DeviceReadResp) Encode(buf *bytes.Buffer) error {
	if err := encodeAll(buf, p.Error, p.Reason); err != nil {
		return err
	}
	return xdr.WriteXDROpaque(buf, p.Data)
}

func (p *DeviceReadResp) Decode(r io.Reader) error {
	if err := decodeAll(r, &p.Error, &p.Reason); err != nil {
		return err
	}
	var err error
	p.Data, err = xdr.DecodeOpaqueMax(r, MaxDataSize)
	return err
}

// ----------------------------------------------------------------------------
// device_readstb
// ----------------------------------------------------------------------------

type DeviceReadStbResp struct {
	Error uint32
	Stb   byte // unsigned char widened to 4 bytes
}

func (p *DeviceReadStbResp) code() uint32 { return p.Error }

func (p *DeviceReadStbResp) Encode(buf *bytes.Buffer) error {
	return encodeAll(buf, p.Error, uint32(p.Stb))
}

func (p *DeviceReadStbResp) Decode(r io.Reader) error {
	var stb uint32
	if err := decodeAll(r, &p.Error, &stb); err != nil {
		return err
	}
	p.Stb = byte(stb)
	return nil
}

// ----------------------------------------------------------------------------
// Generic, lock and SRQ parameters
// ----------------------------------------------------------------------------

// DeviceGenericParms is shared by readstb, trigger, clear, remote and local.
type DeviceGenericParms struct {
	LinkID      int32
	Flags       uint32
	LockTimeout uint32
	IOTimeout   uint32
}

func (p *DeviceGenericParms) Encode(buf *bytes.Buffer) error {
	return encodeAll(buf, uint32(p.LinkID), p.Flags, p.LockTimeout, p.IOTimeout)
}

func (p *DeviceGenericParms) Decode(r io.Reader) error {
	var link uint32
	if err := decodeAll(r, &link, &p.Flags, &p.LockTimeout, &p.IOTimeout); err != nil {
		return err
	}
	p.LinkID = int32(link)
	return nil
}

type DeviceLockParms struct {
	LinkID      int32
	Flags       uint32
	LockTimeout uint32
}

func (p *DeviceLockParms) Encode(buf *bytes.Buffer) error {
	return encodeAll(buf, uint32(p.LinkID), p.Flags, p.LockTimeout)
}

func (p *DeviceLockParms) Decode(r io.Reader) error {
	var link uint32
	if err := decodeAll(r, &link, &p.Flags, &p.LockTimeout); err != nil {
		return err
	}
	p.LinkID = int32(link)
	return nil
}

// DeviceLink is the bare link argument of device_unlock and destroy_link.
type DeviceLink int32

func (l DeviceLink) Encode(buf *bytes.Buffer) error {
	return xdr.WriteInt32(buf, int32(l))
}

func (l *DeviceLink) Decode(r io.Reader) error {
	v, err := xdr.DecodeInt32(r)
	*l = DeviceLink(v)
	return err
}

type DeviceEnableSrqParms struct {
	LinkID int32
	Enable bool
	Handle []byte // at most MaxSrqHandle bytes
}

func (p *DeviceEnableSrqParms) Encode(buf *bytes.Buffer) error {
	if len(p.Handle) > MaxSrqHandle {
		return fmt.Errorf("srq handle is %d bytes, limit %d: %w", len(p.Handle), MaxSrqHandle, xdr.ErrLengthExceeded)
	}
	if err := xdr.WriteInt32(buf, p.LinkID); err != nil {
		return err
	}
	if err := xdr.WriteBool(buf, p.Enable); err != nil {
		return err
	}
	return xdr.WriteXDROpaque(buf, p.Handle)
}

func (p *DeviceEnableSrqParms) Decode(r io.Reader) error {
	var err error
	if p.LinkID, err = xdr.DecodeInt32(r); err != nil {
		return err
	}
	if p.Enable, err = xdr.DecodeBool(r); err != nil {
		return err
	}
	p.Handle, err = xdr.DecodeOpaqueMax(r, MaxSrqHandle)
	return err
}

// ----------------------------------------------------------------------------
// device_docmd
// ----------------------------------------------------------------------------

type DeviceDocmdParms struct {
	LinkID       int32
	Flags        uint32
	IOTimeout    uint32
	LockTimeout  uint32
	Cmd          int32
	NetworkOrder bool
	DataSize     int32
	DataIn       []byte
}

func (p *DeviceDocmdParms) Encode(buf *bytes.Buffer) error {
	if err := encodeAll(buf, uint32(p.LinkID), p.Flags, p.IOTimeout, p.LockTimeout, uint32(p.Cmd)); err != nil {
		return err
	}
	if err := xdr.WriteBool(buf, p.NetworkOrder); err != nil {
		return err
	}
	if err := xdr.WriteInt32(buf, p.DataSize); err != nil {
		return err
	}
	return xdr.WriteXDROpaque(buf, p.DataIn)
}

func (p *DeviceDocmdParms) Decode(r io.Reader) error {
	var link, cmd uint32
	if err := decodeAll(r, &link, &p.Flags, &p.IOTimeout, &p.LockTimeout, &cmd); err != nil {
		return err
	}
	p.LinkID = int32(link)
	p.Cmd = int32(cmd)
	var err error
	if p.NetworkOrder, err = xdr.DecodeBool(r); err != nil {
		return err
	}
	if p.DataSize, err = xdr.DecodeInt32(r); err != nil {
		return err
	}
	p.DataIn, err = xdr.DecodeOpaqueMax(r, MaxDataSize)
	return err
}

type DeviceDocmdResp struct {
	Error   uint32
	DataOut []byte
}

func (p *DeviceDocmdResp) code() uint32 { return p.Error }

func (p *DeviceDocmdResp) Encode(buf *bytes.Buffer) error {
	if err := xdr.WriteUint32(buf, p.Error); err != nil {
		return err
	}
	return xdr.WriteXDROpaque(buf, p.DataOut)
}

func (p *DeviceDocmdResp) Decode(r io.Reader) error {
	var err error
	if p.Error, err = xdr.DecodeUint32(r); err != nil {
		return err
	}
	p.DataOut, err = xdr.DecodeOpaqueMax(r, MaxDataSize)
	return err
}

// ----------------------------------------------------------------------------
// Interrupt channel
// ----------------------------------------------------------------------------

// DeviceRemoteFunc tells the device where to send service requests.
type DeviceRemoteFunc struct {
	HostAddr uint32 // IPv4 address, host order value
	HostPort uint16 // unsigned short widened to 4 bytes
	ProgNum  uint32
	ProgVers uint32
	Family   uint32 // FamilyTCP or FamilyUDP
}

func (p *DeviceRemoteFunc) Encode(buf *bytes.Buffer) error {
	return encodeAll(buf, p.HostAddr, uint32(p.HostPort), p.ProgNum, p.ProgVers, p.Family)
}

func (p *DeviceRemoteFunc) Decode(r io.Reader) error {
	var port uint32
	if err := decodeAll(r, &p.HostAddr, &port, &p.ProgNum, &p.ProgVers, &p.Family); err != nil {
		return err
	}
	p.HostPort = uint16(port)
	return nil
}

// ----------------------------------------------------------------------------
// Device_Error
// ----------------------------------------------------------------------------

// DeviceError is the result of every procedure that returns only an error.
type DeviceError struct {
	Error uint32
}

func (p *DeviceError) code() uint32 { return p.Error }

func (p *DeviceError) Encode(buf *bytes.Buffer) error {
	return xdr.WriteUint32(buf, p.Error)
}

func (p *DeviceError) Decode(r io.Reader) error {
	var err error
	p.Error, err = xdr.DecodeUint32(r)
	return err
}
