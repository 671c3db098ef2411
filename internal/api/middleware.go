package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"admission/internal/models"

	"github.com/gorilla/mux"
)

// Permission represents the different permission levels
type Permission string

const (
	PermissionRead  Permission = models.PermissionRead
	PermissionAdmin Permission = models.PermissionAdmin
)

type contextKey string

const apiKeyContextKey contextKey = "api_key"

// anonymousActor names the caller of admin actions when auth is disabled.
const anonymousActor = "anonymous"

// SecurityContext represents the security information for a request
type SecurityContext struct {
	APIKey *models.APIKey
}

// HasPermission checks if the security context has the required permission
func (sc *SecurityContext) HasPermission(required Permission) bool {
	if sc == nil || sc.APIKey == nil {
		return false
	}
	return sc.APIKey.HasPermission(string(required))
}

// GetSecurityContext extracts security context from request context
func GetSecurityContext(r *http.Request) *SecurityContext {
	if apiKey, ok := r.Context().Value(apiKeyContextKey).(*models.APIKey); ok {
		return &SecurityContext{APIKey: apiKey}
	}
	return nil
}

// actorName returns the API key name recorded on audit events.
func actorName(r *http.Request) string {
	sc := GetSecurityContext(r)
	if sc == nil || sc.APIKey == nil {
		return anonymousActor
	}
	if sc.APIKey.Name != "" {
		return sc.APIKey.Name
	}
	return "unnamed-key"
}

// findAPIKey returns the enabled configured key matching token. Every key
// is compared so the lookup time does not depend on which key matched.
func findAPIKey(keys []models.APIKey, token string) *models.APIKey {
	var found *models.APIKey
	for i := range keys {
		if keys[i].Matches(token) && keys[i].Enabled && found == nil {
			found = &keys[i]
		}
	}
	return found
}

// authMiddleware authenticates Bearer API keys against the configured keys.
func authMiddleware(keys []models.APIKey) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Authorization required", models.ErrorCodeUnauthorized))
				return
			}
			const prefix = "Bearer "
			if len(authHeader) <= len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
				writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Invalid authorization format", models.ErrorCodeUnauthorized))
				return
			}

			apiKey := findAPIKey(keys, strings.TrimSpace(authHeader[len(prefix):]))
			if apiKey == nil {
				slog.Warn("Rejected admin request with invalid API key",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr)
				writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Invalid API key", models.ErrorCodeUnauthorized))
				return
			}

			ctx := context.WithValue(r.Context(), apiKeyContextKey, apiKey)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermission creates middleware that enforces a specific permission
func RequirePermission(required Permission) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !GetSecurityContext(r).HasPermission(required) {
				writeJSON(w, http.StatusForbidden, models.NewErrorResponse(
					"Insufficient permissions for this operation",
					models.ErrorCodeForbidden,
				))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		slog.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr)
	})
}

// recoveryMiddleware handles panics
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				slog.Error("Panic recovered", "error", err, "path", r.URL.Path)
				writeJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Internal server error", models.ErrorCodeInternalError))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
