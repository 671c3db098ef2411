package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"admission/internal/admission"
	"admission/internal/api"
	"admission/internal/circuit"
	"admission/internal/config"
	"admission/internal/logger"
	"admission/internal/models"
	"admission/internal/observability"
	"admission/internal/ratelimit"
	"admission/internal/storage"
	"admission/internal/version"
)

var (
	configFile  = flag.String("config", "", "Path to configuration file")
	showVersion = flag.Bool("version", false, "Print version information and exit")
	example     = flag.String("example-config", "", "Write an example configuration file to this path and exit")
)

func main() {
	flag.Parse()

	info := version.GetInfo()
	if *showVersion {
		fmt.Println(info.String())
		return
	}
	if *example != "" {
		if err := config.SaveExample(*example); err != nil {
			slog.Error("Failed to write example configuration", "error", err)
			os.Exit(1)
		}
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logging
	closer, err := logger.Install(cfg.Logging, info)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(context.Background(), cfg.Metrics, cfg.Observability, info)
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	instruments, err := otelProvider.Instruments()
	if err != nil {
		slog.Error("Failed to create instruments", "error", err)
		os.Exit(1)
	}

	// Initialize audit storage
	store, err := initializeStorage(cfg)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	breaker := newBreaker(cfg, instruments, store)

	limiter := ratelimit.NewMemoryLimiter(cfg.RateLimit.Limiter(),
		ratelimit.WithRetention(cfg.RateLimit.Retention))
	if err := instruments.RegisterGauges(limiter, breaker); err != nil {
		slog.Error("Failed to register gauges", "error", err)
		os.Exit(1)
	}

	// A nil limiter admits everything while keeping the admin API usable.
	var inbound ratelimit.Limiter = limiter
	if !cfg.RateLimit.Enabled {
		slog.Warn("Rate limiting is disabled")
		inbound = nil
	}

	pipeline := admission.New(inbound, breaker,
		admission.WithKeyFunc(admission.ClientKey(cfg.Security.TrustProxyHeaders, admission.KnownKeys(cfg.Security.APIKeys))),
		admission.WithObserver(instruments),
		admission.WithEventRecorder(store),
	)

	gateway, err := api.NewGateway(cfg.Proxy, pipeline)
	if err != nil {
		slog.Error("Failed to create gateway", "error", err)
		os.Exit(1)
	}

	handlers := api.NewHandlers(limiter, breaker,
		api.WithStorage(store),
		api.WithBlockDuration(cfg.RateLimit.BlockDuration),
		api.WithVersion(info),
	)

	// Setup routes with middleware
	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}
	router := api.SetupRoutes(handlers, cfg, gateway, routeOpts...)

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("Starting server",
			"addr", server.Addr,
			"upstream", cfg.Proxy.UpstreamURL,
			"auth", cfg.Security.EnableAuth,
			"storage", cfg.Storage.Type,
		)

		var err error
		if cfg.Server.TLSEnabled {
			slog.Info("Starting HTTPS server with TLS")
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			slog.Info("Starting HTTP server")
			err = server.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server shutdown complete")
}

// initializeStorage creates the configured audit store, instrumented when
// metrics are enabled.
func initializeStorage(cfg *models.Config) (storage.Storage, error) {
	store, err := storage.NewFactory().Create(cfg.Storage)
	if err != nil {
		return nil, err
	}
	if !cfg.Metrics.Enabled {
		return store, nil
	}

	instrumented, err := observability.NewInstrumentedStorage(store)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to instrument storage: %w", err)
	}
	return instrumented, nil
}

// newBreaker builds the circuit breaker with per-dependency overrides.
// Transitions are logged, counted and written to the audit log.
func newBreaker(cfg *models.Config, instruments *observability.Instruments, store storage.Storage) *circuit.Breaker {
	opts := []circuit.Option{
		circuit.WithStateChange(func(name string, from, to circuit.State) {
			instruments.OnStateChange(name, from, to)

			level := slog.LevelInfo
			if to == circuit.StateOpen {
				level = slog.LevelWarn
			}
			slog.Log(context.Background(), level, "Circuit state changed",
				"dependency", name,
				"from", from.String(),
				"to", to.String(),
			)

			event := models.NewAuditEvent(models.EventCircuitStateChanged, name)
			event.Reason = from.String() + " -> " + to.String()
			event.Metadata["from"] = from.String()
			event.Metadata["to"] = to.String()
			if err := store.RecordEvent(context.Background(), event); err != nil {
				slog.Error("Failed to record circuit event", "dependency", name, "error", err)
			}
		}),
	}
	for name, settings := range cfg.CircuitBreaker.Overrides() {
		opts = append(opts, circuit.WithSettings(name, settings))
	}
	return circuit.New(cfg.CircuitBreaker.Defaults(), opts...)
}
