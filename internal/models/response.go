// Package models - API response types and error handling.
// This file defines all outgoing API response structures with consistent formatting.
//
// Response Design Principles:
// - Consistent JSON structure across all endpoints
// - Optional fields use omitempty to reduce response size
// - Machine-readable error codes next to human-readable messages
// - RFC3339 timestamps for international compatibility
package models

import (
	"time"

	"admission/internal/circuit"
	"admission/internal/ratelimit"
)

// ErrorResponse provides structured error information.
//
// Rejections by the rate limiter use ErrorCodeRateLimitExceeded and carry
// the limit reason and retry delay in Details.
type ErrorResponse struct {
	Error     string            `json:"error"`                // Error type (always "error")
	Message   string            `json:"message"`              // Human-readable error description
	Code      string            `json:"code,omitempty"`       // Machine-readable error code
	Details   map[string]string `json:"details,omitempty"`    // Extra context, e.g. retry_after
	Timestamp time.Time         `json:"timestamp"`            // Error occurrence time
	RequestID string            `json:"request_id,omitempty"` // Unique request identifier
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
	Metrics    map[string]any             `json:"metrics,omitempty"`
}

type ComponentHealth struct {
	Status    string         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// StatsResponse summarises the admission engine for operators.
type StatsResponse struct {
	RateLimit ratelimit.GlobalStats `json:"rate_limit"`
	Circuits  []circuit.Status      `json:"circuits"`
	Timestamp time.Time             `json:"timestamp"`
}

type ListClientsResponse struct {
	Clients    []ratelimit.ClientStats `json:"clients"`
	TotalCount int                     `json:"total_count"`
}

// BlockClientRequest is the body of a manual block. A zero duration uses
// the configured block duration.
type BlockClientRequest struct {
	DurationSeconds int    `json:"duration_seconds"`
	Reason          string `json:"reason,omitempty"`
}

type BlockClientResponse struct {
	ClientID     string    `json:"client_id"`
	BlockedUntil time.Time `json:"blocked_until"`
	Message      string    `json:"message"`
}

type ResetClientResponse struct {
	ClientID string `json:"client_id"`
	Message  string `json:"message"`
}

type ListCircuitsResponse struct {
	Circuits   []circuit.Status `json:"circuits"`
	TotalCount int              `json:"total_count"`
}

type ListEventsResponse struct {
	Events     []*AuditEvent `json:"events"`
	TotalCount int           `json:"total_count"`
}

// Health Status Constants
const (
	StatusHealthy   = "healthy"   // All systems operational
	StatusUnhealthy = "unhealthy" // Major system issues
	StatusDegraded  = "degraded"  // Partial functionality
	StatusUnknown   = "unknown"   // Status indeterminate
)

// Standard HTTP Error Codes
const (
	ErrorCodeNotFound           = "NOT_FOUND"           // 404: Resource doesn't exist
	ErrorCodeClientNotFound     = "CLIENT_NOT_FOUND"    // 404: No state for client
	ErrorCodeCircuitNotFound    = "CIRCUIT_NOT_FOUND"   // 404: Dependency never called
	ErrorCodeBadRequest         = "BAD_REQUEST"         // 400: Invalid request format
	ErrorCodeInvalidRequest     = "INVALID_REQUEST"     // 400: Invalid request data
	ErrorCodeInternalError      = "INTERNAL_ERROR"      // 500: Server-side error
	ErrorCodeUnauthorized       = "UNAUTHORIZED"        // 401: Authentication required
	ErrorCodeForbidden          = "FORBIDDEN"           // 403: Permission denied
	ErrorCodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"  // 405: Wrong verb for route
	ErrorCodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED" // 429: Admission denied
	ErrorCodeServiceUnavailable = "SERVICE_UNAVAILABLE" // 503: Dependency circuit open
	ErrorCodeBadGateway         = "BAD_GATEWAY"         // 502: Upstream failed
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

// WithDetail adds a key to Details and returns the response.
func (e *ErrorResponse) WithDetail(key, value string) *ErrorResponse {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
		Metrics:    make(map[string]any),
	}
}

func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]any),
	}
}

func (h *HealthCheckResponse) AddMetric(name string, value any) {
	h.Metrics[name] = value
}
