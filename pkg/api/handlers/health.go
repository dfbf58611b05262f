// Package handlers implements the HTTP endpoints of the monitor API.
package handlers

import (
	"net/http"
	"time"

	"github.com/marmos91/govxi11/pkg/monitor"
)

// Readings is the part of *monitor.Poller the handlers read.
type Readings interface {
	Latest() (monitor.Reading, bool)
	Stats() monitor.Stats
}

// Link is the part of *instrument.Session the handlers report on.
type Link interface {
	Host() string
	Device() string
	LinkID() int32
	Closed() bool
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	readings  Readings
	link      Link
	startedAt time.Time
}

// NewHealthHandler creates a health handler. Either argument may be nil, in
// which case readiness reports unhealthy.
func NewHealthHandler(readings Readings, link Link) *HealthHandler {
	return &HealthHandler{
		readings:  readings,
		link:      link,
		startedAt: time.Now(),
	}
}

// Liveness handles GET /health.
//
// Returns 200 OK as long as the HTTP server is responsive.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startedAt)
	writeJSON(w, http.StatusOK, healthyResponse(map[string]interface{}{
		"service":    "vxi11ctl",
		"started_at": h.startedAt.UTC().Format(time.RFC3339),
		"uptime":     uptime.Round(time.Second).String(),
		"uptime_sec": int64(uptime.Seconds()),
	}))
}

// Readiness handles GET /health/ready.
//
// Returns 200 OK when the link is open and the latest poll succeeded,
// 503 Service Unavailable otherwise.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.link == nil || h.readings == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("monitor not initialized"))
		return
	}
	if h.link.Closed() {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("instrument link closed"))
		return
	}

	reading, ok := h.readings.Latest()
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("no reading yet"))
		return
	}
	if !reading.OK() {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("last poll failed: "+reading.Status.String()))
		return
	}

	writeJSON(w, http.StatusOK, healthyResponse(map[string]interface{}{
		"host":      h.link.Host(),
		"device":    h.link.Device(),
		"link":      h.link.LinkID(),
		"last_poll": reading.Time.UTC().Format(time.RFC3339Nano),
	}))
}
