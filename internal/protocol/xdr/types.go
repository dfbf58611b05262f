// Package xdr provides XDR (External Data Representation) encoding and
// decoding per RFC 4506, as spoken by ONC RPC, the port mapper and VXI-11.
//
// Key characteristics of XDR:
//   - Big-endian byte order for all multi-byte integers
//   - 4-byte alignment for all data types
//   - Variable-length data is preceded by a 4-byte length
//   - Strings and opaque data are zero padded to 4-byte boundaries
//
// Encoders append to a *bytes.Buffer and cannot fail for well-typed input.
// Decoders consume an io.Reader and report every short or malformed input
// as a *CodecError; they never panic and never allocate more than the
// declared opaque bound.
//
// Reference: RFC 4506 - XDR: External Data Representation Standard
// https://tools.ietf.org/html/rfc4506
package xdr

import (
	"bytes"
	"io"
)

// ============================================================================
// XDR Codec Interfaces
// ============================================================================

// XdrEncoder is implemented by composite structures that write their fields
// in call-specific order (VXI-11 parameter blocks, port mapper mappings).
type XdrEncoder interface {
	Encode(buf *bytes.Buffer) error
}

// XdrDecoder is implemented by composite structures that read their fields
// back from a reply body.
type XdrDecoder interface {
	Decode(r io.Reader) error
}

// Marshal encodes v into a freshly allocated byte slice.
func Marshal(v XdrEncoder) ([]byte, error) {
	var buf bytes.Buffer
	if err := v.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes data into v. Trailing bytes after the structure are
// ignored, matching how RPC result bodies are consumed.
func Unmarshal(data []byte, v XdrDecoder) error {
	return v.Decode(bytes.NewReader(data))
}

// Padding returns the number of zero bytes that follow n bytes of
// variable-length data.
func Padding(n uint32) uint32 {
	return (4 - (n % 4)) % 4
}
