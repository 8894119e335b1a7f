package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/algorunner/internal/events"
	"github.com/aristath/algorunner/internal/scheduler"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// JobSource lists and runs installed jobs.
type JobSource interface {
	Entries() []scheduler.JobInfo
	RunNow(id string) error
	Has(id string) bool
}

// HistorySource reads recorded job runs.
type HistorySource interface {
	Recent(ctx context.Context, jobID string, limit int) ([]scheduler.JobRun, error)
}

// EventTarget accepts manually raised events.
type EventTarget interface {
	TriggerContext(ctx context.Context, ev events.Event) error
	Running() bool
	Pending() int
}

// HealthChecker verifies a backing store.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// SystemHandlers serves health, job and event endpoints. Every dependency is optional.
type SystemHandlers struct {
	jobs      JobSource
	history   HistorySource
	engine    EventTarget
	db        HealthChecker
	startedAt time.Time
	log       zerolog.Logger
}

// NewSystemHandlers creates system handlers.
func NewSystemHandlers(jobs JobSource, history HistorySource, engine EventTarget, db HealthChecker, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		jobs:      jobs,
		history:   history,
		engine:    engine,
		db:        db,
		startedAt: time.Now(),
		log:       log.With().Str("component", "system_handlers").Logger(),
	}
}

// HandleHealth handles GET /health
// Reports process resources, engine state and database reachability. A failing
// database turns the response into 503.
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	cpuPercent, ramPercent := h.getSystemStats()

	status := "healthy"
	code := http.StatusOK

	response := map[string]interface{}{
		"service":     "algorunner",
		"uptime":      time.Since(h.startedAt).Round(time.Second).String(),
		"goroutines":  runtime.NumGoroutine(),
		"cpu_percent": cpuPercent,
		"ram_percent": ramPercent,
	}

	if h.engine != nil {
		response["engine"] = map[string]interface{}{
			"running": h.engine.Running(),
			"pending": h.engine.Pending(),
		}
	}
	if h.jobs != nil {
		response["jobs"] = len(h.jobs.Entries())
	}
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.HealthCheck(ctx); err != nil {
			h.log.Warn().Err(err).Msg("Database health check failed")
			response["database"] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
		} else {
			response["database"] = "ok"
		}
	}
	response["status"] = status

	h.writeJSON(w, code, response)
}

// HandleJobs handles GET /api/jobs
func (h *SystemHandlers) HandleJobs(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		h.writeError(w, http.StatusServiceUnavailable, "scheduler not available")
		return
	}

	jobs := h.jobs.Entries()
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": jobs,
		"metadata": map[string]interface{}{
			"count":     len(jobs),
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleJobHistory handles GET /api/jobs/history?job=<id>&limit=<n>
func (h *SystemHandlers) HandleJobHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.writeError(w, http.StatusServiceUnavailable, "job history not available")
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	jobID := r.URL.Query().Get("job")

	runs, err := h.history.Recent(r.Context(), jobID, limit)
	if err != nil {
		h.log.Error().Err(err).Str("job", jobID).Msg("Failed to read job history")
		h.writeError(w, http.StatusInternalServerError, "failed to read job history")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": runs,
		"metadata": map[string]interface{}{
			"count":     len(runs),
			"job":       jobID,
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleRunJob handles POST /api/jobs/{id}/run
func (h *SystemHandlers) HandleRunJob(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		h.writeError(w, http.StatusServiceUnavailable, "scheduler not available")
		return
	}

	id := chi.URLParam(r, "id")
	if !h.jobs.Has(id) {
		h.writeError(w, http.StatusNotFound, "unknown job: "+id)
		return
	}

	h.log.Info().Str("job", id).Msg("Manual job run requested")
	if err := h.jobs.RunNow(id); err != nil {
		h.writeJSON(w, http.StatusOK, map[string]string{
			"status":  "error",
			"job":     id,
			"message": err.Error(),
		})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"job":    id,
	})
}

type triggerRequest struct {
	Params map[string]any `json:"params"`
}

// HandleTriggerEvent handles POST /api/events/{type}
// Raises a lifecycle event by hand. The body is optional: {"params": {...}}.
func (h *SystemHandlers) HandleTriggerEvent(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		h.writeError(w, http.StatusServiceUnavailable, "event engine not available")
		return
	}

	typ := events.EventType(chi.URLParam(r, "type"))
	if !events.IsLifecycle(typ) {
		h.writeError(w, http.StatusBadRequest, "unknown event type: "+string(typ))
		return
	}

	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ev := events.FromData(&events.ManualTriggerData{
		Type:   typ,
		Source: "api",
		Params: req.Params,
	})

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := h.engine.TriggerContext(ctx, ev); err != nil {
		h.log.Warn().Err(err).Str("event_type", string(typ)).Msg("Manual trigger rejected")
		h.writeError(w, http.StatusServiceUnavailable, "event queue is full")
		return
	}

	h.log.Info().Str("event_type", string(typ)).Str("event_id", ev.ID().String()).Msg("Manual event triggered")
	h.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status": "queued",
		"event":  ev,
	})
}

// getSystemStats returns CPU and RAM usage percentages
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *SystemHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
