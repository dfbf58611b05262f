package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// value reads the current value of a single-series counter or gauge.
func value(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	close(ch)

	m, ok := <-ch
	require.True(t, ok, "collector produced no metric")

	var pb dto.Metric
	require.NoError(t, m.Write(&pb))
	switch {
	case pb.Counter != nil:
		return pb.Counter.GetValue()
	case pb.Gauge != nil:
		return pb.Gauge.GetValue()
	default:
		t.Fatalf("unsupported metric type")
		return 0
	}
}

func TestRPCMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newRPCMetrics(reg)

	m.RecordCall("device_read", "no_error", 3*time.Millisecond)
	m.RecordCall("device_read", "io_timeout", 5*time.Second)
	m.RecordCall("device_write", "no_error", time.Millisecond)
	m.RecordTimeout("device_read")
	m.RecordBytes("sent", 64)
	m.RecordBytes("sent", 0)
	m.RecordBytes("received", 128)
	m.AddOpenLinks(1)
	m.AddOpenLinks(1)
	m.AddOpenLinks(-1)

	t.Run("CallsByOutcome", func(t *testing.T) {
		assert.Equal(t, 1.0, value(t, m.calls.WithLabelValues("device_read", "no_error")))
		assert.Equal(t, 1.0, value(t, m.calls.WithLabelValues("device_read", "io_timeout")))
		assert.Equal(t, 1.0, value(t, m.calls.WithLabelValues("device_write", "no_error")))
	})

	t.Run("Timeouts", func(t *testing.T) {
		assert.Equal(t, 1.0, value(t, m.timeouts.WithLabelValues("device_read")))
	})

	t.Run("BytesIgnoreEmpty", func(t *testing.T) {
		assert.Equal(t, 64.0, value(t, m.bytes.WithLabelValues("sent")))
		assert.Equal(t, 128.0, value(t, m.bytes.WithLabelValues("received")))
	})

	t.Run("OpenLinksGauge", func(t *testing.T) {
		assert.Equal(t, 1.0, value(t, m.openLinks))
	})

	t.Run("RegisteredFamilies", func(t *testing.T) {
		families, err := reg.Gather()
		require.NoError(t, err)

		names := make(map[string]int)
		for _, f := range families {
			names[f.GetName()] = len(f.GetMetric())
		}
		assert.Equal(t, 3, names["vxi11_rpc_calls_total"])
		assert.Equal(t, 2, names["vxi11_rpc_call_duration_milliseconds"])
		assert.Equal(t, 1, names["vxi11_rpc_timeouts_total"])
		assert.Equal(t, 2, names["vxi11_bytes_total"])
		assert.Equal(t, 1, names["vxi11_open_links"])
	})
}

func TestNewRPCMetrics_DisabledReturnsNil(t *testing.T) {
	// The global registry is never initialized in this package's tests.
	assert.Nil(t, NewRPCMetrics())
}
