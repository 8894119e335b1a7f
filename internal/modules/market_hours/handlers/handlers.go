// Package handlers provides HTTP handlers for market phase inspection.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/aristath/algorunner/internal/modules/market_hours"
	"github.com/rs/zerolog"
)

// PhaseSource is the subset of the probe the handlers need.
type PhaseSource interface {
	Classify(ctx context.Context, now time.Time) market_hours.Phase
	LastError() error
	Location() *time.Location
	Sessions() market_hours.Sessions
}

// Handler handles market phase HTTP requests
type Handler struct {
	probe PhaseSource
	now   func() time.Time
	log   zerolog.Logger
}

// NewHandler creates a new market phase handler
func NewHandler(probe PhaseSource, log zerolog.Logger) *Handler {
	return &Handler{
		probe: probe,
		now:   time.Now,
		log:   log.With().Str("handler", "market_hours").Logger(),
	}
}

// HandleGetPhase handles GET /api/market/phase
// Returns the current classification, served from the probe cache when still valid
func (h *Handler) HandleGetPhase(w http.ResponseWriter, r *http.Request) {
	phase := h.probe.Classify(r.Context(), h.now())

	data := map[string]interface{}{
		"status":      phase.Status,
		"open":        phase.Open(),
		"boundaries":  phase.Boundaries,
		"valid_until": phase.ValidUntil.Format(time.RFC3339),
		"timezone":    h.probe.Location().String(),
	}
	if err := h.probe.LastError(); err != nil {
		data["probe_error"] = err.Error()
	}

	response := map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}

	h.writeJSON(w, http.StatusOK, response)
}

// HandleGetSessions handles GET /api/market/sessions
// Returns the configured session table
func (h *Handler) HandleGetSessions(w http.ResponseWriter, r *http.Request) {
	s := h.probe.Sessions()

	response := map[string]interface{}{
		"data": map[string]interface{}{
			"timezone": h.probe.Location().String(),
			"am_open":  s.AMOpen.String(),
			"am_close": s.AMClose.String(),
			"fm_open":  s.FMOpen.String(),
			"fm_close": s.FMClose.String(),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}

	h.writeJSON(w, http.StatusOK, response)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
