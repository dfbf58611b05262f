package instrument

import (
	"errors"
	"testing"

	"github.com/marmos91/govxi11/internal/protocol/vxi11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFromErrorCode(t *testing.T) {
	tests := []struct {
		code vxi11.ErrorCode
		want Status
	}{
		{vxi11.NoError, Success},
		{vxi11.SyntaxError, ErrorInvalidFormat},
		{vxi11.DeviceNotAccessible, ErrorConnectionLost},
		{vxi11.InvalidLinkIdentifier, ErrorConnectionLost},
		{vxi11.ParameterError, ErrorInvalidParameter},
		{vxi11.ChannelNotEstablished, ErrorConnectionLost},
		{vxi11.OperationNotSupported, ErrorNonsupportedOperation},
		{vxi11.OutOfResources, ErrorAllocation},
		{vxi11.DeviceLockedByAnotherLink, ErrorResourceLocked},
		{vxi11.NoLockHeldByThisLink, ErrorSessionNotLocked},
		{vxi11.IOTimeout, ErrorTimeout},
		{vxi11.IOError, ErrorIO},
		{vxi11.InvalidAddress, ErrorInvalidExpression},
		{vxi11.Abort, ErrorAbort},
		{vxi11.ChannelAlreadyEstablished, ErrorInvalidSetup},
		{vxi11.UnknownProtocolError, ErrorSystemError},
	}

	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFromErrorCode(tt.code))
		})
	}

	t.Run("EveryCodeHasAnEntry", func(t *testing.T) {
		for _, code := range vxi11.ErrorCodes() {
			_, ok := errorCodeStatus[code]
			assert.True(t, ok, "no status for %s", code)
		}
	})

	t.Run("TimeoutIsNeverIO", func(t *testing.T) {
		assert.NotEqual(t, ErrorIO, StatusFromErrorCode(vxi11.IOTimeout))
	})

	t.Run("Unlisted", func(t *testing.T) {
		assert.Equal(t, ErrorSystemError, StatusFromErrorCode(vxi11.ErrorCode(99)))
	})
}

func TestStatus(t *testing.T) {
	t.Run("Names", func(t *testing.T) {
		assert.Equal(t, "success", Success.String())
		assert.Equal(t, "success_termination_character_read", SuccessTermChar.String())
		assert.Equal(t, "success_max_count_read", SuccessMaxCount.String())
		assert.Equal(t, "error_timeout", ErrorTimeout.String())
		assert.Equal(t, "error_connection_lost", ErrorConnectionLost.String())
		assert.Equal(t, "status_0x12345678", Status(0x12345678).String())
	})

	t.Run("IsError", func(t *testing.T) {
		for s := range statusNames {
			want := s != Success && s != SuccessTermChar && s != SuccessMaxCount
			assert.Equal(t, want, s.IsError(), s.String())
		}
	})

	t.Run("Err", func(t *testing.T) {
		assert.NoError(t, Success.Err())
		assert.NoError(t, SuccessMaxCount.Err())

		err := ErrorTimeout.Err()
		require.Error(t, err)
		var se *StatusError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, ErrorTimeout, se.Status)
		assert.True(t, errors.Is(err, ErrorTimeout.Err()))
		assert.False(t, errors.Is(err, ErrorIO.Err()))
	})

	t.Run("MarshalText", func(t *testing.T) {
		text, err := ErrorResourceLocked.MarshalText()
		require.NoError(t, err)
		assert.Equal(t, "error_resource_locked", string(text))

		for _, want := range []Status{Success, ErrorResourceLocked, Status(0x12345678)} {
			text, err := want.MarshalText()
			require.NoError(t, err)
			var got Status
			require.NoError(t, got.UnmarshalText(text))
			assert.Equal(t, want, got)
		}

		var s Status
		assert.Error(t, s.UnmarshalText([]byte("error_nope")))
	})

	t.Run("ErrorText", func(t *testing.T) {
		err := &StatusError{Op: "read", Status: ErrorTimeout, Reason: "i/o timeout"}
		assert.Equal(t, "read: error_timeout (i/o timeout)", err.Error())
		assert.Equal(t, "error_io", (&StatusError{Status: ErrorIO}).Error())
	})
}

func TestEffectiveMaxRecv(t *testing.T) {
	assert.Equal(t, uint32(4096), effectiveMaxRecv(4096, 0))
	assert.Equal(t, uint32(512), effectiveMaxRecv(4096, 512))
	assert.Equal(t, uint32(4096), effectiveMaxRecv(4096, 8192))
	assert.Equal(t, uint32(minMaxRecvSize), effectiveMaxRecv(0, 0))
	assert.Equal(t, uint32(vxi11.MaxDataSize), effectiveMaxRecv(64<<20, 0))
	assert.Equal(t, uint32(vxi11.MaxDataSize), effectiveMaxRecv(64<<20, 32<<20))
}

func TestConfig(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg := DefaultConfig("10.0.0.5")
		assert.Equal(t, "inst0", cfg.Device)
		assert.True(t, cfg.SendEnd)
		assert.False(t, cfg.TermCharEnabled)
		assert.Equal(t, byte('\n'), cfg.TermChar)
		assert.Equal(t, 111, cfg.PortmapPort)
		require.NoError(t, cfg.Validate())
	})

	t.Run("ApplyDefaults", func(t *testing.T) {
		cfg := Config{Host: "h"}
		cfg.ApplyDefaults()
		assert.Equal(t, DefaultDevice, cfg.Device)
		assert.Equal(t, vxi11.DefaultTimeoutSlack, cfg.TimeoutSlack)
		assert.False(t, cfg.SendEnd)
	})

	t.Run("Validate", func(t *testing.T) {
		bad := []Config{
			{},
			{Host: "h", IOTimeout: -1},
			{Host: "h", CorePort: 70000},
			{Host: "h", PortmapPort: -1},
		}
		for _, cfg := range bad {
			assert.Error(t, cfg.Validate())
		}
	})
}
