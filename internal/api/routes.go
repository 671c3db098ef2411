package api

import (
	"net/http"
	"strings"

	"admission/internal/models"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

const adminPrefix = "/api/v1/admin"

// RouteOption configures optional route behavior.
type RouteOption func(*mux.Router)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(r *mux.Router) {
		r.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" &&
					r.URL.Path != "/api/v1/health" &&
					r.URL.Path != "/metrics"
			}),
		))
	}
}

// isServicePath reports whether path belongs to this service rather than
// the proxied upstream.
func isServicePath(path string) bool {
	return path == "/health" ||
		path == "/api/v1/health" ||
		path == adminPrefix ||
		strings.HasPrefix(path, adminPrefix+"/")
}

// SetupRoutes configures the HTTP routes. Health and admin routes are
// served locally; every other path goes to gateway.
func SetupRoutes(handlers *Handlers, config *models.Config, gateway http.Handler, opts ...RouteOption) *mux.Router {
	router := mux.NewRouter()

	for _, opt := range opts {
		opt(router)
	}

	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	router.HandleFunc("/api/v1/health", handlers.HealthCheck).Methods("GET")

	admin := router.PathPrefix(adminPrefix).Subrouter()
	if config.Security.EnableAuth {
		admin.Use(authMiddleware(config.Security.APIKeys))
	}

	// Reads need the read permission, mutations need admin.
	guard := func(required Permission, h http.HandlerFunc) http.Handler {
		if !config.Security.EnableAuth {
			return h
		}
		return RequirePermission(required)(h)
	}

	admin.Handle("/stats", guard(PermissionRead, handlers.GetStats)).Methods("GET")
	admin.Handle("/clients", guard(PermissionRead, handlers.ListClients)).Methods("GET")
	admin.Handle("/clients/{client_id}", guard(PermissionRead, handlers.GetClient)).Methods("GET")
	admin.Handle("/clients/{client_id}/reset", guard(PermissionAdmin, handlers.ResetClient)).Methods("POST")
	admin.Handle("/clients/{client_id}/block", guard(PermissionAdmin, handlers.BlockClient)).Methods("POST")
	admin.Handle("/circuits", guard(PermissionRead, handlers.ListCircuits)).Methods("GET")
	admin.Handle("/circuits/{name}", guard(PermissionRead, handlers.GetCircuit)).Methods("GET")
	admin.Handle("/events", guard(PermissionRead, handlers.ListEvents)).Methods("GET")

	// Everything outside the service paths is proxied. The path check is
	// the route's only matcher so method mismatches on service routes
	// still produce 405.
	if gateway != nil {
		router.MatcherFunc(func(r *http.Request, _ *mux.RouteMatch) bool {
			return !isServicePath(r.URL.Path)
		}).Handler(gateway)
	}

	router.Use(loggingMiddleware)
	router.Use(recoveryMiddleware)

	router.NotFoundHandler = http.HandlerFunc(notFoundHandler)
	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)

	return router
}
