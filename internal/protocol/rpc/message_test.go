package rpc

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/marmos91/govxi11/internal/protocol/xdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeCall_Layout(t *testing.T) {
	msg, err := EncodeCall(0x01020304, 0x0607AF, 1, 10, []byte{0xAA, 0xBB, 0xCC, 0xDD})
	require.NoError(t, err)
	require.Len(t, msg, 44)

	words := make([]uint32, 10)
	for i := range words {
		words[i] = binary.BigEndian.Uint32(msg[i*4:])
	}
	assert.Equal(t, []uint32{
		0x01020304, // xid
		MsgCall,
		RPCVersion,
		0x0607AF,
		1,
		10,
		AuthNull, 0, // cred
		AuthNull, 0, // verf
	}, words)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC, 0xDD}, msg[40:])
}

func TestDecodeCall(t *testing.T) {
	msg, err := EncodeCall(7, 100000, 2, 3, []byte{0, 0, 0, 1})
	require.NoError(t, err)

	hdr, args, err := DecodeCall(msg)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), hdr.XID)
	assert.Equal(t, uint32(100000), hdr.Program)
	assert.Equal(t, uint32(2), hdr.Version)
	assert.Equal(t, uint32(3), hdr.Procedure)
	assert.Equal(t, []byte{0, 0, 0, 1}, args)

	t.Run("RejectsReply", func(t *testing.T) {
		_, _, err := DecodeCall(EncodeAcceptedReply(7, Success, 0, 0, nil))
		assert.True(t, xdr.IsCodecError(err))
	})
}

func TestDecodeReply(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		hdr, results, err := DecodeReply(EncodeAcceptedReply(42, Success, 0, 0, []byte{1, 2, 3, 4}))
		require.NoError(t, err)
		assert.Equal(t, uint32(42), hdr.XID)
		assert.Equal(t, uint32(MsgReply), hdr.MsgType)
		assert.NoError(t, hdr.Err())
		assert.Equal(t, []byte{1, 2, 3, 4}, results)
	})

	t.Run("ProgMismatch", func(t *testing.T) {
		hdr, _, err := DecodeReply(EncodeAcceptedReply(1, ProgMismatch, 1, 3, nil))
		require.NoError(t, err)
		var re *RejectedError
		require.ErrorAs(t, hdr.Err(), &re)
		assert.Equal(t, uint32(1), re.Low)
		assert.Equal(t, uint32(3), re.High)
		assert.Contains(t, re.Error(), "1-3")
	})

	t.Run("AuthError", func(t *testing.T) {
		hdr, _, err := DecodeReply(EncodeDeniedReply(1, AuthError, 5, 0))
		require.NoError(t, err)
		var re *RejectedError
		require.ErrorAs(t, hdr.Err(), &re)
		assert.Equal(t, uint32(MsgDenied), re.ReplyStat)
		assert.Equal(t, uint32(5), re.AuthStat)
	})

	t.Run("VerifierBodySkipped", func(t *testing.T) {
		var buf bytes.Buffer
		for _, v := range []uint32{9, MsgReply, MsgAccepted, 1, 8} {
			_ = xdr.WriteUint32(&buf, v)
		}
		buf.Write(make([]byte, 8))
		_ = xdr.WriteUint32(&buf, Success)
		buf.Write([]byte{0xFE, 0xED, 0xFA, 0xCE})

		hdr, results, err := DecodeReply(buf.Bytes())
		require.NoError(t, err)
		assert.Equal(t, uint32(1), hdr.Verf.Flavor)
		assert.Len(t, hdr.Verf.Body, 8)
		assert.Equal(t, []byte{0xFE, 0xED, 0xFA, 0xCE}, results)
	})

	t.Run("Malformed", func(t *testing.T) {
		full := EncodeAcceptedReply(1, ProgMismatch, 1, 3, nil)
		for n := 0; n < len(full); n++ {
			_, _, err := DecodeReply(full[:n])
			assert.True(t, xdr.IsCodecError(err), "truncated at %d: %v", n, err)
		}

		var buf bytes.Buffer
		for _, v := range []uint32{1, MsgReply, 7} {
			_ = xdr.WriteUint32(&buf, v)
		}
		_, _, err := DecodeReply(buf.Bytes())
		var ce *xdr.CodecError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "reply_stat", ce.Field)
	})
}
