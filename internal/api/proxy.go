package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"admission/internal/admission"
	"admission/internal/models"
)

// NewGateway returns the handler for all non-admin traffic: the admission
// middleware in front of a reverse proxy to cfg.UpstreamURL. Upstream
// round trips go through the circuit named cfg.DependencyName. Without an
// upstream, admitted requests get 404.
func NewGateway(cfg models.ProxyConfig, pipeline *admission.Pipeline) (http.Handler, error) {
	var upstream http.Handler = http.HandlerFunc(notFoundHandler)
	if cfg.UpstreamURL != "" {
		proxy, err := newReverseProxy(cfg, pipeline)
		if err != nil {
			return nil, err
		}
		upstream = proxy
	}
	return pipeline.Middleware()(upstream), nil
}

func newReverseProxy(cfg models.ProxyConfig, pipeline *admission.Pipeline) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream url: %w", err)
	}

	base := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Timeout > 0 {
		base.ResponseHeaderTimeout = cfg.Timeout
	}

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		Transport: pipeline.Transport(cfg.DependencyName, base),
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			slog.Warn("Upstream request failed",
				"dependency", cfg.DependencyName,
				"path", r.URL.Path,
				"error", err)
			writeJSON(w, http.StatusBadGateway,
				models.NewErrorResponse("Upstream request failed", models.ErrorCodeBadGateway).
					WithDetail("dependency", cfg.DependencyName))
		},
	}, nil
}

// notFoundHandler writes a JSON 404.
func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, models.NewErrorResponse("Resource not found", models.ErrorCodeNotFound))
}

// methodNotAllowedHandler handles requests with invalid HTTP methods
func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, models.NewErrorResponse("Method not allowed", models.ErrorCodeMethodNotAllowed))
}
