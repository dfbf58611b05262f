package handlers

import (
	"net/http"

	"github.com/marmos91/govxi11/pkg/monitor"
)

// ReadingsHandler serves monitor readings.
type ReadingsHandler struct {
	readings Readings
}

func NewReadingsHandler(readings Readings) *ReadingsHandler {
	return &ReadingsHandler{readings: readings}
}

// LatestResponse is the payload of GET /readings/latest.
type LatestResponse struct {
	Reading monitor.Reading `json:"reading"`
	Stats   monitor.Stats   `json:"stats"`
}

// Latest handles GET /readings/latest. It returns 404 before the first poll.
func (h *ReadingsHandler) Latest(w http.ResponseWriter, r *http.Request) {
	if h.readings == nil {
		NotFound(w, "no reading yet")
		return
	}
	reading, ok := h.readings.Latest()
	if !ok {
		NotFound(w, "no reading yet")
		return
	}
	writeJSON(w, http.StatusOK, okResponse(LatestResponse{
		Reading: reading,
		Stats:   h.readings.Stats(),
	}))
}
