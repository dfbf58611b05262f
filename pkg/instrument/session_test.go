package instrument_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/govxi11/internal/protocol/portmap"
	"github.com/marmos91/govxi11/internal/protocol/vxi11"
	"github.com/marmos91/govxi11/internal/protocol/vxi11/vxi11test"
	"github.com/marmos91/govxi11/internal/protocol/xdr"
	"github.com/marmos91/govxi11/pkg/instrument"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const timeoutReason = "read tcp 127.0.0.1:1024: i/o timeout"

// ============================================================================
// Fake core client
// ============================================================================

type readRequest struct {
	size        uint32
	ioTimeout   time.Duration
	lockTimeout time.Duration
	flags       uint32
	termChar    byte
}

type writeRequest struct {
	data  []byte
	flags uint32
}

type fakeCore struct {
	mu sync.Mutex

	reads    []vxi11.ReadResult
	readErr  error
	readReqs []readRequest

	// writeReply answers the i-th device_write; nil accepts every byte.
	writeReply func(i int, data []byte) (vxi11.WriteResult, error)
	writes     []writeRequest

	calls      map[string]int
	result     vxi11.Result
	stb        byte
	destroyRes vxi11.Result
	destroys   int
	closes     int
}

func newFakeCore() *fakeCore {
	return &fakeCore{calls: make(map[string]int)}
}

func (f *fakeCore) queueReads(rs ...vxi11.ReadResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, rs...)
}

func chunk(data string, reason uint32) vxi11.ReadResult {
	return vxi11.ReadResult{ReasonFlags: reason, Data: []byte(data)}
}

func failure(code vxi11.ErrorCode, reason string) vxi11.ReadResult {
	return vxi11.ReadResult{Result: vxi11.Result{Error: code, Reason: reason}, Data: []byte{}}
}

func (f *fakeCore) DeviceRead(_ context.Context, _ int32, size uint32, ioTimeout, lockTimeout time.Duration, flags uint32, termChar byte) (vxi11.ReadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readReqs = append(f.readReqs, readRequest{size, ioTimeout, lockTimeout, flags, termChar})
	if f.readErr != nil {
		return vxi11.ReadResult{}, f.readErr
	}
	if len(f.reads) == 0 {
		return failure(vxi11.IOTimeout, ""), nil
	}
	r := f.reads[0]
	f.reads = f.reads[1:]
	return r, nil
}

func (f *fakeCore) DeviceWrite(_ context.Context, _ int32, _, _ time.Duration, flags uint32, data []byte) (vxi11.WriteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.writes)
	f.writes = append(f.writes, writeRequest{append([]byte(nil), data...), flags})
	if f.writeReply != nil {
		return f.writeReply(i, data)
	}
	return vxi11.WriteResult{Size: uint32(len(data))}, nil
}

func (f *fakeCore) count(name string) vxi11.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	return f.result
}

func (f *fakeCore) DeviceReadStb(context.Context, int32, uint32, time.Duration, time.Duration) (vxi11.ReadStbResult, error) {
	res := f.count("read_stb")
	return vxi11.ReadStbResult{Result: res, Stb: f.stb}, nil
}

func (f *fakeCore) DeviceTrigger(context.Context, int32, uint32, time.Duration, time.Duration) (vxi11.Result, error) {
	return f.count("trigger"), nil
}

func (f *fakeCore) DeviceClear(context.Context, int32, uint32, time.Duration, time.Duration) (vxi11.Result, error) {
	return f.count("clear"), nil
}

func (f *fakeCore) DeviceRemote(context.Context, int32, uint32, time.Duration, time.Duration) (vxi11.Result, error) {
	return f.count("remote"), nil
}

func (f *fakeCore) DeviceLocal(context.Context, int32, uint32, time.Duration, time.Duration) (vxi11.Result, error) {
	return f.count("local"), nil
}

func (f *fakeCore) DeviceLock(_ context.Context, _ int32, flags uint32, _ time.Duration) (vxi11.Result, error) {
	if flags&vxi11.FlagWaitLock != 0 {
		f.count("lock_wait")
	}
	return f.count("lock"), nil
}

func (f *fakeCore) DeviceUnlock(context.Context, int32) (vxi11.Result, error) {
	return f.count("unlock"), nil
}

func (f *fakeCore) DeviceEnableSrq(context.Context, int32, bool, []byte) (vxi11.Result, error) {
	return f.count("enable_srq"), nil
}

func (f *fakeCore) DeviceDocmd(_ context.Context, _ int32, _ uint32, _, _ time.Duration, _ int32, _ bool, _ int32, dataIn []byte) (vxi11.DocmdResult, error) {
	res := f.count("docmd")
	if !res.OK() {
		return vxi11.DocmdResult{Result: res, DataOut: []byte{}}, nil
	}
	return vxi11.DocmdResult{Result: res, DataOut: dataIn}, nil
}

func (f *fakeCore) DestroyLink(context.Context, int32) (vxi11.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroys++
	return f.destroyRes, nil
}

func (f *fakeCore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

type fakeAborter struct {
	res    vxi11.Result
	aborts int
	closes int
}

func (a *fakeAborter) DeviceAbort(context.Context, int32, time.Duration) (vxi11.Result, error) {
	a.aborts++
	return a.res, nil
}

func (a *fakeAborter) Close() error {
	a.closes++
	return nil
}

func newSession(t *testing.T, core *fakeCore, maxRecv uint32, mutate ...func(*instrument.Config)) *instrument.Session {
	t.Helper()
	cfg := instrument.DefaultConfig("127.0.0.1")
	cfg.LockTimeout = 0
	for _, m := range mutate {
		m(&cfg)
	}
	s := instrument.NewSession(core, instrument.LinkInfo{ID: 3, AbortPort: 0, MaxRecvSize: maxRecv}, cfg)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

// ============================================================================
// Read
// ============================================================================

func TestRead(t *testing.T) {
	ctx := context.Background()

	t.Run("SingleEndChunk", func(t *testing.T) {
		core := newFakeCore()
		core.queueReads(chunk("1.2345E+00\n", vxi11.ReasonEnd))
		s := newSession(t, core, 1024)

		data, status := s.Read(ctx, 4096)
		assert.Equal(t, instrument.Success, status)
		assert.Equal(t, []byte("1.2345E+00\n"), data)
		require.Len(t, core.readReqs, 1)
		assert.Equal(t, uint32(1024), core.readReqs[0].size)
		assert.Equal(t, instrument.DefaultIOTimeout, core.readReqs[0].ioTimeout)
	})

	t.Run("AccumulatesChunksUntilEnd", func(t *testing.T) {
		core := newFakeCore()
		core.queueReads(
			chunk("abcd", vxi11.ReasonRequestCount),
			chunk("efgh", vxi11.ReasonRequestCount),
			chunk("ij", vxi11.ReasonEnd),
		)
		s := newSession(t, core, 4)

		data, status := s.Read(ctx, 100)
		assert.Equal(t, instrument.Success, status)
		assert.Equal(t, "abcdefghij", string(data))
		require.Len(t, core.readReqs, 3)
		for _, req := range core.readReqs {
			assert.Equal(t, uint32(4), req.size)
			assert.Equal(t, instrument.DefaultIOTimeout, req.ioTimeout)
		}
	})

	t.Run("MaxCount", func(t *testing.T) {
		core := newFakeCore()
		core.queueReads(
			chunk("abcd", vxi11.ReasonRequestCount),
			chunk("ef", vxi11.ReasonRequestCount),
		)
		s := newSession(t, core, 4)

		data, status := s.Read(ctx, 6)
		assert.Equal(t, instrument.SuccessMaxCount, status)
		assert.Equal(t, "abcdef", string(data))
		require.Len(t, core.readReqs, 2)
		assert.Equal(t, uint32(4), core.readReqs[0].size)
		assert.Equal(t, uint32(2), core.readReqs[1].size)
	})

	t.Run("EndWinsOverMaxCount", func(t *testing.T) {
		core := newFakeCore()
		core.queueReads(chunk("abcd", vxi11.ReasonRequestCount|vxi11.ReasonEnd))
		s := newSession(t, core, 1024)

		data, status := s.Read(ctx, 4)
		assert.Equal(t, instrument.Success, status)
		assert.Equal(t, "abcd", string(data))
	})

	t.Run("TermChar", func(t *testing.T) {
		core := newFakeCore()
		core.queueReads(chunk("12;", vxi11.ReasonTermChar))
		s := newSession(t, core, 1024, func(c *instrument.Config) {
			c.TermChar = ';'
			c.TermCharEnabled = true
		})

		data, status := s.Read(ctx, 100)
		assert.Equal(t, instrument.SuccessTermChar, status)
		assert.Equal(t, "12;", string(data))
		require.Len(t, core.readReqs, 1)
		assert.NotZero(t, core.readReqs[0].flags&vxi11.FlagTermCharSet)
		assert.Equal(t, byte(';'), core.readReqs[0].termChar)
	})

	t.Run("TermCharReasonIgnoredWhenDisabled", func(t *testing.T) {
		core := newFakeCore()
		core.queueReads(
			chunk("12;", vxi11.ReasonTermChar),
			chunk("34", vxi11.ReasonEnd),
		)
		s := newSession(t, core, 1024)

		data, status := s.Read(ctx, 100)
		assert.Equal(t, instrument.Success, status)
		assert.Equal(t, "12;34", string(data))
		assert.Zero(t, core.readReqs[0].flags&vxi11.FlagTermCharSet)
	})

	t.Run("TransportTimeout", func(t *testing.T) {
		core := newFakeCore()
		core.queueReads(failure(vxi11.IOTimeout, timeoutReason))
		s := newSession(t, core, 1024)

		data, status := s.Read(ctx, 100)
		assert.Equal(t, instrument.ErrorTimeout, status)
		assert.NotNil(t, data)
		assert.Empty(t, data)
	})

	t.Run("KeepsDataBeforeFailingChunk", func(t *testing.T) {
		core := newFakeCore()
		core.queueReads(
			chunk("ab", vxi11.ReasonRequestCount),
			failure(vxi11.IOTimeout, timeoutReason),
		)
		s := newSession(t, core, 2)

		data, status := s.Read(ctx, 100)
		assert.Equal(t, instrument.ErrorTimeout, status)
		assert.Equal(t, "ab", string(data))
	})

	t.Run("EveryErrorCodeMapped", func(t *testing.T) {
		for _, code := range vxi11.ErrorCodes() {
			if code == vxi11.NoError {
				continue
			}
			t.Run(code.String(), func(t *testing.T) {
				core := newFakeCore()
				core.queueReads(failure(code, ""))
				s := newSession(t, core, 1024)

				data, status := s.Read(ctx, 100)
				assert.Equal(t, instrument.StatusFromErrorCode(code), status)
				assert.True(t, status.IsError())
				assert.NotNil(t, data)
				assert.Empty(t, data)
			})
		}
	})

	t.Run("ProtocolFailure", func(t *testing.T) {
		core := newFakeCore()
		core.readErr = &xdr.CodecError{Field: "data", Err: io.ErrUnexpectedEOF}
		s := newSession(t, core, 1024)

		data, status := s.Read(ctx, 100)
		assert.Equal(t, instrument.ErrorSystemError, status)
		assert.Empty(t, data)
	})

	t.Run("EmptyChunkWithoutReason", func(t *testing.T) {
		core := newFakeCore()
		core.queueReads(chunk("", 0))
		s := newSession(t, core, 1024)

		_, status := s.Read(ctx, 100)
		assert.Equal(t, instrument.ErrorIO, status)
		assert.Len(t, core.readReqs, 1)
	})

	t.Run("InvalidCount", func(t *testing.T) {
		core := newFakeCore()
		s := newSession(t, core, 1024)

		data, status := s.Read(ctx, 0)
		assert.Equal(t, instrument.ErrorInvalidParameter, status)
		assert.NotNil(t, data)
		assert.Empty(t, core.readReqs)
	})

	t.Run("ChunkLargerThanRequested", func(t *testing.T) {
		core := newFakeCore()
		core.queueReads(chunk("abcdefgh", vxi11.ReasonEnd))
		s := newSession(t, core, 4)

		data, status := s.Read(ctx, 100)
		assert.Equal(t, instrument.ErrorIO, status)
		assert.Equal(t, "abcd", string(data))
	})

	t.Run("ChunkLargerThanMaxBytes", func(t *testing.T) {
		core := newFakeCore()
		core.queueReads(chunk("abcdef", vxi11.ReasonEnd))
		s := newSession(t, core, 1024)

		data, status := s.Read(ctx, 3)
		assert.Equal(t, instrument.ErrorIO, status)
		assert.Equal(t, "abc", string(data))
		require.Len(t, core.readReqs, 1)
		assert.Equal(t, uint32(3), core.readReqs[0].size)
	})

	t.Run("LockTimeoutSetsWaitLock", func(t *testing.T) {
		core := newFakeCore()
		core.queueReads(chunk("x", vxi11.ReasonEnd), chunk("y", vxi11.ReasonEnd))
		s := newSession(t, core, 1024)

		_, _ = s.Read(ctx, 10)
		s.SetLockTimeout(2 * time.Second)
		s.SetIOTimeout(750 * time.Millisecond)
		_, _ = s.Read(ctx, 10)

		require.Len(t, core.readReqs, 2)
		assert.Zero(t, core.readReqs[0].flags&vxi11.FlagWaitLock)
		assert.NotZero(t, core.readReqs[1].flags&vxi11.FlagWaitLock)
		assert.Equal(t, 2*time.Second, core.readReqs[1].lockTimeout)
		assert.Equal(t, 750*time.Millisecond, core.readReqs[1].ioTimeout)
	})
}

// ============================================================================
// Write
// ============================================================================

func TestWrite(t *testing.T) {
	ctx := context.Background()

	t.Run("SingleChunk", func(t *testing.T) {
		core := newFakeCore()
		s := newSession(t, core, 8)

		n, status := s.Write(ctx, []byte("*RST;\n\x00x"))
		assert.Equal(t, instrument.Success, status)
		assert.Equal(t, 8, n)
		require.Len(t, core.writes, 1)
		assert.NotZero(t, core.writes[0].flags&vxi11.FlagEnd)
	})

	t.Run("Chunked", func(t *testing.T) {
		core := newFakeCore()
		s := newSession(t, core, 4)

		n, status := s.Write(ctx, []byte("0123456789"))
		assert.Equal(t, instrument.Success, status)
		assert.Equal(t, 10, n)
		require.Len(t, core.writes, 3)
		assert.Equal(t, "0123", string(core.writes[0].data))
		assert.Equal(t, "4567", string(core.writes[1].data))
		assert.Equal(t, "89", string(core.writes[2].data))
		assert.Zero(t, core.writes[0].flags&vxi11.FlagEnd)
		assert.Zero(t, core.writes[1].flags&vxi11.FlagEnd)
		assert.NotZero(t, core.writes[2].flags&vxi11.FlagEnd)
	})

	t.Run("ConfiguredCeiling", func(t *testing.T) {
		core := newFakeCore()
		s := newSession(t, core, 1024, func(c *instrument.Config) { c.MaxRecvSize = 3 })

		assert.Equal(t, uint32(3), s.MaxRecvSize())
		n, status := s.Write(ctx, []byte("abcdefg"))
		assert.Equal(t, instrument.Success, status)
		assert.Equal(t, 7, n)
		assert.Len(t, core.writes, 3)
	})

	t.Run("WithoutEnd", func(t *testing.T) {
		core := newFakeCore()
		s := newSession(t, core, 1024, func(c *instrument.Config) { c.SendEnd = false })

		_, status := s.Write(ctx, []byte("MEAS"))
		assert.Equal(t, instrument.Success, status)
		require.Len(t, core.writes, 1)
		assert.Zero(t, core.writes[0].flags&vxi11.FlagEnd)
	})

	t.Run("Empty", func(t *testing.T) {
		core := newFakeCore()
		s := newSession(t, core, 1024)

		n, status := s.Write(ctx, nil)
		assert.Equal(t, instrument.Success, status)
		assert.Zero(t, n)
		assert.Empty(t, core.writes)
	})

	t.Run("TimeoutMidway", func(t *testing.T) {
		core := newFakeCore()
		core.writeReply = func(i int, data []byte) (vxi11.WriteResult, error) {
			if i == 1 {
				return vxi11.WriteResult{Result: vxi11.Result{Error: vxi11.IOTimeout, Reason: timeoutReason}}, nil
			}
			return vxi11.WriteResult{Size: uint32(len(data))}, nil
		}
		s := newSession(t, core, 4)

		n, status := s.Write(ctx, []byte("0123456789"))
		assert.Equal(t, instrument.ErrorTimeout, status)
		assert.Equal(t, 4, n)
		assert.Len(t, core.writes, 2)
	})

	t.Run("ShortWrite", func(t *testing.T) {
		core := newFakeCore()
		core.writeReply = func(int, []byte) (vxi11.WriteResult, error) {
			return vxi11.WriteResult{Size: 2}, nil
		}
		s := newSession(t, core, 4)

		n, status := s.Write(ctx, []byte("0123456789"))
		assert.Equal(t, instrument.ErrorIO, status)
		assert.Equal(t, 2, n)
		assert.Len(t, core.writes, 1)
	})

	t.Run("EveryErrorCodeMapped", func(t *testing.T) {
		for _, code := range vxi11.ErrorCodes() {
			if code == vxi11.NoError {
				continue
			}
			t.Run(code.String(), func(t *testing.T) {
				core := newFakeCore()
				core.writeReply = func(int, []byte) (vxi11.WriteResult, error) {
					return vxi11.WriteResult{Result: vxi11.Result{Error: code}}, nil
				}
				s := newSession(t, core, 1024)

				n, status := s.Write(ctx, []byte("*CLS\n"))
				assert.Equal(t, instrument.StatusFromErrorCode(code), status)
				assert.Zero(t, n)
			})
		}
	})

	t.Run("ProtocolFailure", func(t *testing.T) {
		core := newFakeCore()
		core.writeReply = func(int, []byte) (vxi11.WriteResult, error) {
			return vxi11.WriteResult{}, &xdr.CodecError{Field: "size", Err: io.ErrUnexpectedEOF}
		}
		s := newSession(t, core, 1024)

		n, status := s.Write(ctx, []byte("x"))
		assert.Equal(t, instrument.ErrorSystemError, status)
		assert.Zero(t, n)
	})
}

func TestQuery(t *testing.T) {
	ctx := context.Background()

	t.Run("WriteThenRead", func(t *testing.T) {
		core := newFakeCore()
		core.queueReads(chunk("+1.0\n", vxi11.ReasonEnd))
		s := newSession(t, core, 1024)

		data, status := s.Query(ctx, []byte("MEAS:VOLT?\n"), 64)
		assert.Equal(t, instrument.Success, status)
		assert.Equal(t, "+1.0\n", string(data))
		require.Len(t, core.writes, 1)
		assert.Equal(t, "MEAS:VOLT?\n", string(core.writes[0].data))
	})

	t.Run("WriteFailureSkipsRead", func(t *testing.T) {
		core := newFakeCore()
		core.writeReply = func(int, []byte) (vxi11.WriteResult, error) {
			return vxi11.WriteResult{Result: vxi11.Result{Error: vxi11.DeviceLockedByAnotherLink}}, nil
		}
		s := newSession(t, core, 1024)

		data, status := s.Query(ctx, []byte("*IDN?\n"), 64)
		assert.Equal(t, instrument.ErrorResourceLocked, status)
		assert.NotNil(t, data)
		assert.Empty(t, core.readReqs)
	})
}

// ============================================================================
// Control procedures and lifecycle
// ============================================================================

func TestControls(t *testing.T) {
	ctx := context.Background()

	t.Run("Generic", func(t *testing.T) {
		core := newFakeCore()
		s := newSession(t, core, 1024)

		assert.Equal(t, instrument.Success, s.Clear(ctx))
		assert.Equal(t, instrument.Success, s.Trigger(ctx))
		assert.Equal(t, instrument.Success, s.Remote(ctx))
		assert.Equal(t, instrument.Success, s.Local(ctx))
		for _, name := range []string{"clear", "trigger", "remote", "local"} {
			assert.Equal(t, 1, core.calls[name], name)
		}
	})

	t.Run("GenericFailure", func(t *testing.T) {
		core := newFakeCore()
		core.result = vxi11.Result{Error: vxi11.OperationNotSupported}
		s := newSession(t, core, 1024)

		assert.Equal(t, instrument.ErrorNonsupportedOperation, s.Trigger(ctx))
	})

	t.Run("ReadSTB", func(t *testing.T) {
		core := newFakeCore()
		core.stb = 0x42
		s := newSession(t, core, 1024)

		stb, status := s.ReadSTB(ctx)
		assert.Equal(t, instrument.Success, status)
		assert.Equal(t, byte(0x42), stb)

		core.result = vxi11.Result{Error: vxi11.IOTimeout}
		stb, status = s.ReadSTB(ctx)
		assert.Equal(t, instrument.ErrorTimeout, status)
		assert.Zero(t, stb)
	})

	t.Run("Lock", func(t *testing.T) {
		core := newFakeCore()
		s := newSession(t, core, 1024)

		assert.Equal(t, instrument.Success, s.Lock(ctx, 0))
		assert.Equal(t, 0, core.calls["lock_wait"])
		assert.Equal(t, instrument.Success, s.Lock(ctx, time.Second))
		assert.Equal(t, 1, core.calls["lock_wait"])

		core.result = vxi11.Result{Error: vxi11.NoLockHeldByThisLink}
		assert.Equal(t, instrument.ErrorSessionNotLocked, s.Unlock(ctx))
	})

	t.Run("EnableSRQ", func(t *testing.T) {
		core := newFakeCore()
		s := newSession(t, core, 1024)

		assert.Equal(t, instrument.Success, s.EnableSRQ(ctx, true, []byte("h")))
		assert.Equal(t, instrument.ErrorInvalidParameter, s.EnableSRQ(ctx, true, make([]byte, vxi11.MaxSrqHandle+1)))
		assert.Equal(t, 1, core.calls["enable_srq"])
	})

	t.Run("Docmd", func(t *testing.T) {
		core := newFakeCore()
		s := newSession(t, core, 1024)

		out, status := s.Docmd(ctx, 0x20000, true, 1, []byte{7})
		assert.Equal(t, instrument.Success, status)
		assert.Equal(t, []byte{7}, out)

		core.result = vxi11.Result{Error: vxi11.OperationNotSupported}
		out, status = s.Docmd(ctx, 0x20000, true, 1, []byte{7})
		assert.Equal(t, instrument.ErrorNonsupportedOperation, status)
		assert.NotNil(t, out)
		assert.Empty(t, out)
	})

	t.Run("Abort", func(t *testing.T) {
		core := newFakeCore()
		a := &fakeAborter{}
		s := instrument.NewSession(core, instrument.LinkInfo{ID: 1, MaxRecvSize: 1024},
			instrument.DefaultConfig("127.0.0.1"), instrument.WithAborter(a))

		assert.Equal(t, instrument.Success, s.Abort(ctx))
		a.res = vxi11.Result{Error: vxi11.InvalidLinkIdentifier}
		assert.Equal(t, instrument.ErrorConnectionLost, s.Abort(ctx))
		assert.Equal(t, 2, a.aborts)

		require.NoError(t, s.Close(ctx))
		assert.Equal(t, 1, a.closes)
	})

	t.Run("AbortWithoutPort", func(t *testing.T) {
		core := newFakeCore()
		s := newSession(t, core, 1024)

		assert.Equal(t, instrument.ErrorIO, s.Abort(ctx))
	})
}

func TestClose(t *testing.T) {
	ctx := context.Background()

	t.Run("DestroysLinkOnce", func(t *testing.T) {
		core := newFakeCore()
		s := newSession(t, core, 1024)

		require.NoError(t, s.Close(ctx))
		require.NoError(t, s.Close(ctx))
		assert.Equal(t, 1, core.destroys)
		assert.Equal(t, 1, core.closes)
		assert.True(t, s.Closed())
	})

	t.Run("ClosesConnectionWhenDestroyFails", func(t *testing.T) {
		core := newFakeCore()
		core.destroyRes = vxi11.Result{Error: vxi11.InvalidLinkIdentifier}
		s := newSession(t, core, 1024)

		err := s.Close(ctx)
		require.Error(t, err)
		assert.True(t, errors.Is(err, instrument.ErrorConnectionLost.Err()))
		assert.Equal(t, 1, core.closes)
		assert.Equal(t, err, s.Close(ctx))
	})

	t.Run("OperationsAfterClose", func(t *testing.T) {
		core := newFakeCore()
		s := newSession(t, core, 1024)
		require.NoError(t, s.Close(ctx))

		data, status := s.Read(ctx, 10)
		assert.Equal(t, instrument.ErrorInvalidObject, status)
		assert.NotNil(t, data)

		n, status := s.Write(ctx, []byte("x"))
		assert.Equal(t, instrument.ErrorInvalidObject, status)
		assert.Zero(t, n)

		assert.Equal(t, instrument.ErrorInvalidObject, s.Clear(ctx))
		assert.Empty(t, core.readReqs)
		assert.Empty(t, core.writes)
	})
}

func TestSessionIdentity(t *testing.T) {
	a := newSession(t, newFakeCore(), 1024)
	b := newSession(t, newFakeCore(), 1024)

	assert.Len(t, a.ID(), 36)
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, int32(3), a.LinkID())
	assert.Equal(t, "inst0", a.Device())
}

// ============================================================================
// End to end against the simulated instrument
// ============================================================================

func openDevice(t *testing.T, dev *vxi11test.Device, mutate ...func(*instrument.Config)) *instrument.Session {
	t.Helper()
	cfg := instrument.DefaultConfig(dev.Host())
	cfg.PortmapPort = dev.Port()
	cfg.IOTimeout = time.Second
	cfg.LockTimeout = 0
	cfg.TimeoutSlack = 500 * time.Millisecond
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := instrument.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestOpenEndToEnd(t *testing.T) {
	ctx := context.Background()
	dev := vxi11test.NewDevice(t, vxi11test.WithMaxRecvSize(16))
	s := openDevice(t, dev)

	assert.Equal(t, uint32(16), s.MaxRecvSize())
	assert.Equal(t, uint16(dev.Port()), s.AbortPort())
	assert.Equal(t, 1, dev.OpenLinks())

	t.Run("Query", func(t *testing.T) {
		data, status := s.Query(ctx, []byte("*IDN?\n"), 256)
		assert.Equal(t, instrument.Success, status)
		assert.Equal(t, "GOVXI11,SIM,0,1.0\n", string(data))
	})

	t.Run("LongWriteIsOneMessage", func(t *testing.T) {
		msg := []byte(":SOURCE:VOLTAGE:LEVEL:IMMEDIATE:AMPLITUDE 1.25?\n")
		n, status := s.Write(ctx, msg)
		assert.Equal(t, instrument.Success, status)
		assert.Equal(t, len(msg), n)

		msgs := dev.Messages()
		require.NotEmpty(t, msgs)
		assert.Equal(t, msg, msgs[len(msgs)-1])

		// The echo is longer than max_recv_size and arrives in chunks.
		data, status := s.Read(ctx, 1024)
		assert.Equal(t, instrument.Success, status)
		assert.Equal(t, bytes.TrimRight(msg, "\n"), bytes.TrimRight(data, "\n"))
	})

	t.Run("TermChar", func(t *testing.T) {
		dev.SetOutput([]byte("1,2\n3,4\n"))
		s2 := openDevice(t, dev, func(c *instrument.Config) { c.TermCharEnabled = true })

		data, status := s2.Read(ctx, 64)
		assert.Equal(t, instrument.SuccessTermChar, status)
		assert.Equal(t, "1,2\n", string(data))

		data, status = s2.Read(ctx, 64)
		assert.Equal(t, instrument.Success, status)
		assert.Equal(t, "3,4\n", string(data))
	})

	t.Run("NothingToRead", func(t *testing.T) {
		data, status := s.Read(ctx, 64)
		assert.Equal(t, instrument.ErrorTimeout, status)
		assert.NotNil(t, data)
		assert.Empty(t, data)
	})

	t.Run("Controls", func(t *testing.T) {
		dev.SetStb(0x10)
		stb, status := s.ReadSTB(ctx)
		assert.Equal(t, instrument.Success, status)
		assert.Equal(t, byte(0x10), stb)

		assert.Equal(t, instrument.Success, s.Trigger(ctx))
		assert.Equal(t, instrument.Success, s.Clear(ctx))
		assert.Equal(t, instrument.Success, s.Remote(ctx))
		assert.True(t, dev.Remote())
		assert.Equal(t, instrument.Success, s.Local(ctx))
		assert.False(t, dev.Remote())

		assert.Equal(t, instrument.Success, s.Lock(ctx, 0))
		assert.Equal(t, s.LinkID(), dev.LockHolder())
		assert.Equal(t, instrument.Success, s.Unlock(ctx))
		assert.Equal(t, instrument.ErrorSessionNotLocked, s.Unlock(ctx))

		assert.Equal(t, instrument.Success, s.EnableSRQ(ctx, true, []byte("srq")))
		enabled, handle := dev.SRQ()
		assert.True(t, enabled)
		assert.Equal(t, []byte("srq"), handle)

		out, status := s.Docmd(ctx, 0x20000, true, 1, []byte{1})
		assert.Equal(t, instrument.Success, status)
		assert.Equal(t, []byte{1}, out)

		assert.Equal(t, instrument.Success, s.Abort(ctx))
		triggers, clears, aborts := dev.Counters()
		assert.Equal(t, 1, triggers)
		assert.GreaterOrEqual(t, clears, 1)
		assert.Equal(t, 1, aborts)
	})

	t.Run("LockedByAnotherSession", func(t *testing.T) {
		other := openDevice(t, dev)
		require.Equal(t, instrument.Success, other.Lock(ctx, 0))
		defer other.Unlock(ctx)

		_, status := s.Write(ctx, []byte("*CLS\n"))
		assert.Equal(t, instrument.ErrorResourceLocked, status)
	})

	t.Run("Close", func(t *testing.T) {
		before := dev.OpenLinks()
		require.NoError(t, s.Close(ctx))
		assert.Equal(t, before-1, dev.OpenLinks())
	})
}

func TestLargeRead(t *testing.T) {
	ctx := context.Background()

	t.Run("ChunkAboveOneMebibyte", func(t *testing.T) {
		dev := vxi11test.NewDevice(t, vxi11test.WithMaxRecvSize(8<<20))
		s := openDevice(t, dev, func(c *instrument.Config) { c.IOTimeout = 5 * time.Second })
		require.Equal(t, uint32(8<<20), s.MaxRecvSize())

		waveform := bytes.Repeat([]byte{0x00, 0x7f, 0x80, 0xff}, (2<<20)/4)
		dev.SetOutput(waveform)

		data, status := s.Read(ctx, 4<<20)
		assert.Equal(t, instrument.Success, status)
		assert.Len(t, data, len(waveform))
		assert.True(t, bytes.Equal(waveform, data))
	})

	t.Run("DeviceLimitAboveDataSize", func(t *testing.T) {
		dev := vxi11test.NewDevice(t, vxi11test.WithMaxRecvSize(64<<20))
		s := openDevice(t, dev)
		assert.Equal(t, uint32(vxi11.MaxDataSize), s.MaxRecvSize())
	})
}

func TestOpenFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("UnknownDevice", func(t *testing.T) {
		dev := vxi11test.NewDevice(t)
		cfg := instrument.DefaultConfig(dev.Host())
		cfg.PortmapPort = dev.Port()
		cfg.Device = "gpib0,9"

		_, err := instrument.Open(ctx, cfg)
		require.Error(t, err)
		var se *instrument.StatusError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, "create_link", se.Op)
		assert.Equal(t, instrument.ErrorInvalidExpression, se.Status)
		assert.Equal(t, 0, dev.OpenLinks())
	})

	t.Run("NotRegistered", func(t *testing.T) {
		dev := vxi11test.NewDevice(t)
		dev.Registry.Unset(vxi11.ProgramCore, vxi11.VersionCore, portmap.ProtoTCP)
		cfg := instrument.DefaultConfig(dev.Host())
		cfg.PortmapPort = dev.Port()

		_, err := instrument.Open(ctx, cfg)
		require.Error(t, err)
		assert.True(t, errors.Is(err, portmap.ErrServiceNotFound))
	})

	t.Run("InvalidConfig", func(t *testing.T) {
		_, err := instrument.Open(ctx, instrument.Config{})
		assert.Error(t, err)
	})
}
