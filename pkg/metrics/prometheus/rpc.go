// Package prometheus implements the metrics interfaces on top of the
// Prometheus client, registered on metrics.GetRegistry().
package prometheus

import (
	"time"

	"github.com/marmos91/govxi11/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// rpcMetrics is the Prometheus implementation of metrics.RPCMetrics.
type rpcMetrics struct {
	calls     *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	timeouts  *prometheus.CounterVec
	bytes     *prometheus.CounterVec
	openLinks prometheus.Gauge
}

// NewRPCMetrics creates a Prometheus-backed RPCMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewRPCMetrics() metrics.RPCMetrics {
	if !metrics.IsEnabled() {
		return nil
	}
	return newRPCMetrics(metrics.GetRegistry())
}

func newRPCMetrics(reg prometheus.Registerer) *rpcMetrics {
	return &rpcMetrics{
		calls: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "vxi11_rpc_calls_total",
				Help: "Total number of VXI-11 and port mapper procedure calls by outcome",
			},
			[]string{"procedure", "error_code"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "vxi11_rpc_call_duration_milliseconds",
				Help: "Duration of procedure calls in milliseconds",
				Buckets: []float64{
					0.5,   // loopback / simulator
					1,     // fast LAN instrument
					5,     // typical SCPI query
					10,    //
					50,    // slow measurement
					100,   //
					500,   // acquisition
					1000,  // 1s
					5000,  // default io timeout
					30000, // long sweeps
				},
			},
			[]string{"procedure"},
		),
		timeouts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "vxi11_rpc_timeouts_total",
				Help: "Procedure calls abandoned because the transport deadline passed",
			},
			[]string{"procedure"},
		),
		bytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "vxi11_bytes_total",
				Help: "Record-marked bytes exchanged with instruments",
			},
			[]string{"direction"},
		),
		openLinks: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "vxi11_open_links",
				Help: "Number of device links currently open",
			},
		),
	}
}

func (m *rpcMetrics) RecordCall(procedure string, errorCode string, duration time.Duration) {
	m.calls.WithLabelValues(procedure, errorCode).Inc()
	m.duration.WithLabelValues(procedure).Observe(float64(duration.Microseconds()) / 1000.0)
}

func (m *rpcMetrics) RecordTimeout(procedure string) {
	m.timeouts.WithLabelValues(procedure).Inc()
}

func (m *rpcMetrics) RecordBytes(direction string, n int) {
	if n <= 0 {
		return
	}
	m.bytes.WithLabelValues(direction).Add(float64(n))
}

func (m *rpcMetrics) AddOpenLinks(delta int) {
	m.openLinks.Add(float64(delta))
}
