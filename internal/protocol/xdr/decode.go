package xdr

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ============================================================================
// XDR Decoding Helpers - Wire Format → Go Types
// ============================================================================

// MaxOpaqueLength bounds every variable-length item decoded through
// DecodeOpaque and DecodeString. Larger declared lengths are rejected before
// any allocation happens.
const MaxOpaqueLength = 1024 * 1024 // 1 MiB

// DecodeOpaque decodes variable-length opaque data bounded by MaxOpaqueLength.
//
// Per RFC 4506 Section 4.10 (Variable-Length Opaque Data):
// Format: [length:uint32][data:length bytes][padding:0-3 bytes]
//
// The returned slice is never nil on success, so an empty payload decodes
// to []byte{}.
func DecodeOpaque(reader io.Reader) ([]byte, error) {
	return DecodeOpaqueMax(reader, MaxOpaqueLength)
}

// DecodeOpaqueMax decodes variable-length opaque data whose declared length
// must not exceed max. Used for fields with a protocol limit, such as the
// 40-byte VXI-11 SRQ handle.
func DecodeOpaqueMax(reader io.Reader, max uint32) ([]byte, error) {
	length, err := DecodeUint32(reader)
	if err != nil {
		return nil, codecErr("opaque length", err)
	}
	if length > max {
		return nil, &CodecError{
			Field: "opaque length",
			Err:   fmt.Errorf("%w: %d > %d", ErrLengthExceeded, length, max),
		}
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(reader, data); err != nil {
		return nil, codecErr("opaque data", err)
	}
	if err := skipPadding(reader, length); err != nil {
		return nil, err
	}
	return data, nil
}

// DecodeFixedOpaque decodes n bytes of fixed-length opaque data followed by
// its padding (RFC 4506 Section 4.9).
func DecodeFixedOpaque(reader io.Reader, n uint32) ([]byte, error) {
	if n > MaxOpaqueLength {
		return nil, &CodecError{
			Field: "fixed opaque",
			Err:   fmt.Errorf("%w: %d > %d", ErrLengthExceeded, n, uint32(MaxOpaqueLength)),
		}
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(reader, data); err != nil {
		return nil, codecErr("fixed opaque", err)
	}
	if err := skipPadding(reader, n); err != nil {
		return nil, err
	}
	return data, nil
}

// DecodeString decodes an XDR string (RFC 4506 Section 4.11).
func DecodeString(reader io.Reader) (string, error) {
	data, err := DecodeOpaque(reader)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeUint32 decodes a big-endian unsigned 32-bit integer.
func DecodeUint32(reader io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(reader, b[:]); err != nil {
		return 0, codecErr("uint32", err)
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// DecodeInt32 decodes a two's complement 32-bit integer.
func DecodeInt32(reader io.Reader) (int32, error) {
	v, err := DecodeUint32(reader)
	if err != nil {
		return 0, codecErr("int32", err)
	}
	return int32(v), nil
}

// DecodeUint64 decodes an unsigned hyper integer.
func DecodeUint64(reader io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(reader, b[:]); err != nil {
		return 0, codecErr("uint64", err)
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

// DecodeInt64 decodes a signed hyper integer.
func DecodeInt64(reader io.Reader) (int64, error) {
	v, err := DecodeUint64(reader)
	if err != nil {
		return 0, codecErr("int64", err)
	}
	return int64(v), nil
}

// DecodeBool decodes an XDR boolean.
//
// Per RFC 4506 Section 4.4 booleans are 0 or 1. Some instrument firmware
// sends other non-zero values for true, so any non-zero value decodes as true.
func DecodeBool(reader io.Reader) (bool, error) {
	v, err := DecodeUint32(reader)
	if err != nil {
		return false, codecErr("bool", err)
	}
	return v != 0, nil
}

func skipPadding(reader io.Reader, length uint32) error {
	pad := Padding(length)
	if pad == 0 {
		return nil
	}
	var padBuf [3]byte
	if _, err := io.ReadFull(reader, padBuf[:pad]); err != nil {
		return codecErr("padding", err)
	}
	return nil
}
