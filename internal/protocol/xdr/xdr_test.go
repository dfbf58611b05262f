package xdr

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Encoding Layout Tests
// ============================================================================

func TestWriteXDROpaque_Layout(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want []byte
	}{
		{"Empty", []byte{}, []byte{0, 0, 0, 0}},
		{"ThreeBytes", []byte{1, 2, 3}, []byte{0, 0, 0, 3, 1, 2, 3, 0}},
		{"FourBytes", []byte{1, 2, 3, 4}, []byte{0, 0, 0, 4, 1, 2, 3, 4}},
		{"FiveBytes", []byte{1, 2, 3, 4, 5}, []byte{0, 0, 0, 5, 1, 2, 3, 4, 5, 0, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteXDROpaque(&buf, tt.data))
			assert.Equal(t, tt.want, buf.Bytes())
			assert.Zero(t, buf.Len()%4)
		})
	}
}

func TestWriteXDRString_Layout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXDRString(&buf, "inst0"))
	assert.Equal(t, []byte{0, 0, 0, 5, 'i', 'n', 's', 't', '0', 0, 0, 0}, buf.Bytes())
}

func TestWriteIntegers_BigEndian(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteUint32(&buf, 0x0607AF))
	require.NoError(t, WriteInt32(&buf, -1))
	require.NoError(t, WriteBool(&buf, true))
	require.NoError(t, WriteBool(&buf, false))
	require.NoError(t, WriteUint64(&buf, 0x0102030405060708))

	assert.Equal(t, []byte{
		0x00, 0x06, 0x07, 0xAF,
		0xFF, 0xFF, 0xFF, 0xFF,
		0, 0, 0, 1,
		0, 0, 0, 0,
		1, 2, 3, 4, 5, 6, 7, 8,
	}, buf.Bytes())
}

func TestWriteFixedOpaque_NoLengthPrefix(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFixedOpaque(&buf, []byte{0xAA, 0xBB}))
	assert.Equal(t, []byte{0xAA, 0xBB, 0, 0}, buf.Bytes())
}

// ============================================================================
// Round-trip Tests
// ============================================================================

// sample exercises every primitive in one composite, the way VXI-11
// parameter blocks are built.
type sample struct {
	U32    uint32
	I32    int32
	U64    uint64
	I64    int64
	Flag   bool
	Name   string
	Data   []byte
	Handle []byte
}

func (s *sample) Encode(buf *bytes.Buffer) error {
	if err := WriteUint32(buf, s.U32); err != nil {
		return err
	}
	if err := WriteInt32(buf, s.I32); err != nil {
		return err
	}
	if err := WriteUint64(buf, s.U64); err != nil {
		return err
	}
	if err := WriteInt64(buf, s.I64); err != nil {
		return err
	}
	if err := WriteBool(buf, s.Flag); err != nil {
		return err
	}
	if err := WriteXDRString(buf, s.Name); err != nil {
		return err
	}
	if err := WriteXDROpaque(buf, s.Data); err != nil {
		return err
	}
	return WriteFixedOpaque(buf, s.Handle)
}

func (s *sample) Decode(r io.Reader) error {
	var err error
	if s.U32, err = DecodeUint32(r); err != nil {
		return err
	}
	if s.I32, err = DecodeInt32(r); err != nil {
		return err
	}
	if s.U64, err = DecodeUint64(r); err != nil {
		return err
	}
	if s.I64, err = DecodeInt64(r); err != nil {
		return err
	}
	if s.Flag, err = DecodeBool(r); err != nil {
		return err
	}
	if s.Name, err = DecodeString(r); err != nil {
		return err
	}
	if s.Data, err = DecodeOpaque(r); err != nil {
		return err
	}
	s.Handle, err = DecodeFixedOpaque(r, 6)
	return err
}

func newSample() *sample {
	return &sample{
		U32:    0xDEADBEEF,
		I32:    -42,
		U64:    1 << 40,
		I64:    -(1 << 40),
		Flag:   true,
		Name:   "gpib0,5",
		Data:   []byte("*IDN?\n"),
		Handle: []byte{1, 2, 3, 4, 5, 6},
	}
}

func TestRoundTrip_Composite(t *testing.T) {
	original := newSample()

	encoded, err := Marshal(original)
	require.NoError(t, err)
	assert.Zero(t, len(encoded)%4, "encoded length must be 4-byte aligned")

	var decoded sample
	require.NoError(t, Unmarshal(encoded, &decoded))
	assert.Equal(t, *original, decoded)
}

func TestRoundTrip_EmptyOpaqueIsNonNil(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXDROpaque(&buf, nil))

	data, err := DecodeOpaque(&buf)
	require.NoError(t, err)
	assert.NotNil(t, data)
	assert.Empty(t, data)
}

func TestUnmarshal_ToleratesTrailingBytes(t *testing.T) {
	encoded, err := Marshal(newSample())
	require.NoError(t, err)
	encoded = append(encoded, 0, 0, 0, 9)

	var decoded sample
	require.NoError(t, Unmarshal(encoded, &decoded))
	assert.Equal(t, *newSample(), decoded)
}

// ============================================================================
// Malformed Input Tests
// ============================================================================

func TestDecode_TruncatedAlwaysCodecError(t *testing.T) {
	encoded, err := Marshal(newSample())
	require.NoError(t, err)

	for k := 1; k <= len(encoded); k++ {
		var decoded sample
		err := Unmarshal(encoded[:len(encoded)-k], &decoded)
		require.Error(t, err, "truncating %d bytes must fail", k)

		var ce *CodecError
		require.True(t, errors.As(err, &ce), "truncating %d bytes: got %T", k, err)
		assert.True(t, IsCodecError(err))
		assert.True(t,
			errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF),
			"cause should be EOF-ish, got %v", ce.Err)
	}
}

func TestDecodeOpaque_LengthAboveMaximum(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteUint32(&buf, MaxOpaqueLength+1))

	_, err := DecodeOpaque(&buf)
	require.Error(t, err)
	assert.True(t, IsCodecError(err))
	assert.ErrorIs(t, err, ErrLengthExceeded)
}

func TestDecodeOpaqueMax_TightBound(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXDROpaque(&buf, make([]byte, 41)))

	_, err := DecodeOpaqueMax(&buf, 40)
	assert.ErrorIs(t, err, ErrLengthExceeded)
}

func TestDecodeOpaque_MissingPadding(t *testing.T) {
	// Length 1, one data byte, no padding.
	_, err := DecodeOpaque(bytes.NewReader([]byte{0, 0, 0, 1, 0x41}))
	require.Error(t, err)
	var ce *CodecError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "padding", ce.Field)
}

func TestDecodeBool_NonZeroIsTrue(t *testing.T) {
	v, err := DecodeBool(bytes.NewReader([]byte{0, 0, 0, 2}))
	require.NoError(t, err)
	assert.True(t, v)
}

func TestDecodeEmptyInput(t *testing.T) {
	_, err := DecodeUint32(bytes.NewReader(nil))
	assert.True(t, IsCodecError(err))
	assert.ErrorIs(t, err, io.EOF)
}
