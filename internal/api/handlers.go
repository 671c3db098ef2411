package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"admission/internal/circuit"
	"admission/internal/models"
	"admission/internal/ratelimit"
	"admission/internal/storage"
	"admission/internal/version"
)

// healthPingTimeout bounds the storage check in HealthCheck.
const healthPingTimeout = 2 * time.Second

// Handlers contains the HTTP handlers for health and the admin API.
type Handlers struct {
	limiter       ratelimit.Admin
	breaker       *circuit.Breaker
	store         storage.Storage
	blockDuration time.Duration
	version       version.Info
	startTime     time.Time
	now           func() time.Time
}

// HandlerOption configures optional Handlers dependencies.
type HandlerOption func(*Handlers)

// WithStorage sets the audit event store. Without one, admin actions are
// not persisted and the events endpoint returns an empty list.
func WithStorage(store storage.Storage) HandlerOption {
	return func(h *Handlers) {
		h.store = store
	}
}

// WithBlockDuration sets the duration used by manual blocks that do not
// specify one.
func WithBlockDuration(d time.Duration) HandlerOption {
	return func(h *Handlers) {
		if d > 0 {
			h.blockDuration = d
		}
	}
}

// WithVersion sets the build information reported by HealthCheck.
func WithVersion(v version.Info) HandlerOption {
	return func(h *Handlers) {
		h.version = v
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handlers) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandlers creates a new handlers instance
func NewHandlers(limiter ratelimit.Admin, breaker *circuit.Breaker, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		limiter:       limiter,
		breaker:       breaker,
		blockDuration: ratelimit.DefaultConfig().BlockDuration,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.startTime = h.now()
	return h
}

// HealthCheck handles health check requests
// GET /health
// Storage failures degrade the service but never fail the check, since
// admission decisions do not depend on the audit store.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = h.version.Version
	response.Uptime = h.now().Sub(h.startTime).Round(time.Second).String()

	stats := h.limiter.GlobalStats()
	response.AddComponent("rate_limiter", models.StatusHealthy, "Rate limiter is operational")
	response.AddMetric("tracked_clients", stats.TrackedClients)
	response.AddMetric("blocked_clients", stats.BlockedClients)

	open := 0
	for _, s := range h.breaker.Snapshots() {
		if s.State != circuit.StateClosed {
			open++
		}
	}
	response.AddMetric("open_circuits", open)
	if open > 0 {
		response.Status = models.StatusDegraded
		response.AddComponent("circuits", models.StatusDegraded, "One or more dependency circuits are not closed")
	} else {
		response.AddComponent("circuits", models.StatusHealthy, "All dependency circuits are closed")
	}

	switch {
	case h.store == nil:
		response.AddComponent("storage", models.StatusUnknown, "Audit storage is not configured")
	default:
		ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			slog.Warn("Storage health check failed", "error", err)
			response.Status = models.StatusDegraded
			response.AddComponent("storage", models.StatusUnhealthy, "Storage is unreachable")
		} else {
			response.AddComponent("storage", models.StatusHealthy, "Storage is operational")
		}
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// recordEvent persists an audit event. Failures are logged and never
// surface to the caller.
func (h *Handlers) recordEvent(ctx context.Context, event *models.AuditEvent) {
	if h.store == nil {
		return
	}
	if err := h.store.RecordEvent(context.WithoutCancel(ctx), event); err != nil {
		slog.Error("Failed to record audit event",
			"kind", event.Kind,
			"subject", event.Subject,
			"error", err)
	}
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data any) {
	writeJSON(w, statusCode, data)
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	writeJSON(w, statusCode, models.NewErrorResponse(message, errorCode))
}

func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written; log and give up.
		slog.Error("Error encoding JSON response", "error", err)
	}
}
