package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"admission/internal/models"
	"admission/internal/ratelimit"

	"github.com/gorilla/mux"
)

// maxEventLimit caps the limit query parameter of ListEvents.
const maxEventLimit = 1000

// maxBlockSeconds is the longest block a time.Duration can express.
const maxBlockSeconds = math.MaxInt64 / int64(time.Second)

// GetStats returns limiter totals and every circuit snapshot.
// GET /api/v1/admin/stats
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, &models.StatsResponse{
		RateLimit: h.limiter.GlobalStats(),
		Circuits:  h.breaker.Snapshots(),
		Timestamp: h.now(),
	})
}

// ListClients returns a snapshot of every tracked client ordered by ID.
// GET /api/v1/admin/clients?blocked=true
func (h *Handlers) ListClients(w http.ResponseWriter, r *http.Request) {
	var blockedOnly bool
	if v := r.URL.Query().Get("blocked"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "blocked must be a boolean")
			return
		}
		blockedOnly = b
	}

	response := &models.ListClientsResponse{Clients: []ratelimit.ClientStats{}}
	for _, id := range h.limiter.Clients() {
		stats, ok := h.limiter.ClientStats(id)
		if !ok || (blockedOnly && !stats.Blocked) {
			continue
		}
		response.Clients = append(response.Clients, stats)
	}
	response.TotalCount = len(response.Clients)

	h.writeJSONResponse(w, http.StatusOK, response)
}

// GetClient returns one client's counters.
// GET /api/v1/admin/clients/{client_id}
func (h *Handlers) GetClient(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["client_id"]

	stats, ok := h.limiter.ClientStats(clientID)
	if !ok {
		h.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeClientNotFound, "Client not found: "+clientID)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, stats)
}

// ResetClient clears a client's windows and any active block.
// POST /api/v1/admin/clients/{client_id}/reset
func (h *Handlers) ResetClient(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["client_id"]
	actor := actorName(r)

	if !h.limiter.ResetClient(clientID) {
		h.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeClientNotFound, "Client not found: "+clientID)
		return
	}

	slog.Info("Client reset", "client_id", clientID, "actor", actor)

	event := models.NewAuditEvent(models.EventClientReset, clientID)
	event.Actor = actor
	h.recordEvent(r.Context(), event)

	h.writeJSONResponse(w, http.StatusOK, &models.ResetClientResponse{
		ClientID: clientID,
		Message:  "Client state reset",
	})
}

// BlockClient blocks a client for the requested or configured duration.
// Unknown clients are created so they can be blocked before their first
// request.
// POST /api/v1/admin/clients/{client_id}/block
func (h *Handlers) BlockClient(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["client_id"]
	actor := actorName(r)

	var req models.BlockClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}
	if req.DurationSeconds < 0 {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "duration_seconds cannot be negative")
		return
	}
	if int64(req.DurationSeconds) > maxBlockSeconds {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest,
			fmt.Sprintf("duration_seconds cannot exceed %d", maxBlockSeconds))
		return
	}

	duration := h.blockDuration
	if req.DurationSeconds > 0 {
		duration = time.Duration(req.DurationSeconds) * time.Second
	}

	until := h.limiter.BlockClient(clientID, duration)

	slog.Info("Client blocked manually",
		"client_id", clientID,
		"actor", actor,
		"blocked_until", until,
		"reason", req.Reason)

	event := models.NewAuditEvent(models.EventClientBlockedManual, clientID)
	event.Actor = actor
	event.Reason = req.Reason
	event.Until = until
	event.Metadata["duration_seconds"] = strconv.Itoa(int(duration / time.Second))
	h.recordEvent(r.Context(), event)

	h.writeJSONResponse(w, http.StatusOK, &models.BlockClientResponse{
		ClientID:     clientID,
		BlockedUntil: until,
		Message:      "Client blocked",
	})
}

// ListCircuits returns every circuit that has seen a call.
// GET /api/v1/admin/circuits
func (h *Handlers) ListCircuits(w http.ResponseWriter, r *http.Request) {
	circuits := h.breaker.Snapshots()
	h.writeJSONResponse(w, http.StatusOK, &models.ListCircuitsResponse{
		Circuits:   circuits,
		TotalCount: len(circuits),
	})
}

// GetCircuit returns one circuit.
// GET /api/v1/admin/circuits/{name}
func (h *Handlers) GetCircuit(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	status, ok := h.breaker.Snapshot(name)
	if !ok {
		h.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeCircuitNotFound, "Circuit not found: "+name)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, status)
}

// ListEvents returns audit events, newest first.
// GET /api/v1/admin/events?limit=&kind=&subject=
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := models.EventFilter{
		Kind:    query.Get("kind"),
		Subject: query.Get("subject"),
	}

	if limitParam := query.Get("limit"); limitParam != "" {
		limit, err := strconv.Atoi(limitParam)
		if err != nil || limit <= 0 {
			h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = min(limit, maxEventLimit)
	}

	response := &models.ListEventsResponse{Events: []*models.AuditEvent{}}
	if h.store != nil {
		events, err := h.store.ListEvents(r.Context(), filter)
		if err != nil {
			slog.Error("Failed to list audit events", "error", err)
			h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to list events")
			return
		}
		if events != nil {
			response.Events = events
		}
	}
	response.TotalCount = len(response.Events)

	h.writeJSONResponse(w, http.StatusOK, response)
}
