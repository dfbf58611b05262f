package xdr

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// ============================================================================
// XDR Encoding Helpers - Go Types → Wire Format
// ============================================================================

// WriteXDROpaque encodes variable-length opaque data: length + data + padding.
//
// Per RFC 4506 Section 4.10 (Variable-Length Opaque Data):
// Format: [length:uint32][data:length bytes][padding:0-3 bytes]
//
// VXI-11 carries instrument payloads (device_write data, device_read data,
// docmd data_in/data_out, SRQ handles) in this form.
//
// Example:
//
//	[]byte{0x01, 0x02, 0x03} → [00 00 00 03][01 02 03][00] (8 bytes total)
func WriteXDROpaque(buf *bytes.Buffer, data []byte) error {
	length := uint32(len(data))
	if err := WriteUint32(buf, length); err != nil {
		return fmt.Errorf("write opaque length: %w", err)
	}
	if _, err := buf.Write(data); err != nil {
		return fmt.Errorf("write opaque data: %w", err)
	}
	return WriteXDRPadding(buf, length)
}

// WriteXDRString encodes a string with the same layout as opaque data.
//
// Per RFC 4506 Section 4.11 (String). Device names such as "inst0" or
// "gpib0,5" travel in create_link as XDR strings.
//
// Example:
//
//	"abc" (3 bytes)  → [00 00 00 03][61 62 63][00] (8 bytes total)
//	"test" (4 bytes) → [00 00 00 04][74 65 73 74] (8 bytes total)
func WriteXDRString(buf *bytes.Buffer, s string) error {
	length := uint32(len(s))
	if err := WriteUint32(buf, length); err != nil {
		return fmt.Errorf("write string length: %w", err)
	}
	if _, err := buf.WriteString(s); err != nil {
		return fmt.Errorf("write string data: %w", err)
	}
	return WriteXDRPadding(buf, length)
}

// WriteFixedOpaque encodes fixed-length opaque data: data + padding, with no
// length prefix (RFC 4506 Section 4.9). The receiver must know the length.
func WriteFixedOpaque(buf *bytes.Buffer, data []byte) error {
	if _, err := buf.Write(data); err != nil {
		return fmt.Errorf("write fixed opaque: %w", err)
	}
	return WriteXDRPadding(buf, uint32(len(data)))
}

// WriteXDRPadding writes the zero bytes that align dataLen to a 4-byte
// boundary: 3 → 1 byte, 4 → none, 5 → 3 bytes.
func WriteXDRPadding(buf *bytes.Buffer, dataLen uint32) error {
	var zero [3]byte
	if pad := Padding(dataLen); pad > 0 {
		if _, err := buf.Write(zero[:pad]); err != nil {
			return fmt.Errorf("write padding: %w", err)
		}
	}
	return nil
}

// WriteUint32 encodes a big-endian unsigned 32-bit integer (RFC 4506 Section 4.2).
func WriteUint32(buf *bytes.Buffer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	if _, err := buf.Write(b[:]); err != nil {
		return fmt.Errorf("write uint32: %w", err)
	}
	return nil
}

// WriteInt32 encodes a two's complement 32-bit integer (RFC 4506 Section 4.1).
func WriteInt32(buf *bytes.Buffer, v int32) error {
	return WriteUint32(buf, uint32(v))
}

// WriteUint64 encodes an unsigned hyper integer (RFC 4506 Section 4.5).
func WriteUint64(buf *bytes.Buffer, v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	if _, err := buf.Write(b[:]); err != nil {
		return fmt.Errorf("write uint64: %w", err)
	}
	return nil
}

// WriteInt64 encodes a signed hyper integer (RFC 4506 Section 4.5).
func WriteInt64(buf *bytes.Buffer, v int64) error {
	return WriteUint64(buf, uint64(v))
}

// WriteBool encodes a boolean as 0 or 1 in a 32-bit slot (RFC 4506 Section 4.4).
func WriteBool(buf *bytes.Buffer, v bool) error {
	if v {
		return WriteUint32(buf, 1)
	}
	return WriteUint32(buf, 0)
}
