// Package admission puts the rate limiter in front of inbound HTTP traffic
// and the circuit breaker around outbound dependency calls.
package admission

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"admission/internal/circuit"
	"admission/internal/models"
	"admission/internal/ratelimit"

	"golang.org/x/time/rate"
)

// Call outcomes reported to the Observer.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeRejected  = "rejected"
	OutcomeCancelled = "cancelled"
)

// Observer receives admission and dependency-call outcomes, typically to
// feed metrics.
type Observer interface {
	OnDecision(ctx context.Context, allowed bool, reason string)
	OnCircuitCall(ctx context.Context, dependency, outcome string)
}

// EventRecorder persists audit events.
type EventRecorder interface {
	RecordEvent(ctx context.Context, event *models.AuditEvent) error
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithKeyFunc overrides client identification.
func WithKeyFunc(fn KeyFunc) Option {
	return func(p *Pipeline) {
		if fn != nil {
			p.keyFunc = fn
		}
	}
}

// WithObserver registers an outcome observer.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// WithEventRecorder records a client_blocked event whenever a decision
// starts a block.
func WithEventRecorder(r EventRecorder) Option {
	return func(p *Pipeline) { p.events = r }
}

// WithClock overrides the time source used for Retry-After on open circuits.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// Pipeline combines an optional limiter with a breaker. A nil limiter
// admits everything.
type Pipeline struct {
	limiter  ratelimit.Limiter
	breaker  *circuit.Breaker
	keyFunc  KeyFunc
	observer Observer
	events   EventRecorder
	now      func() time.Time

	denyLog rate.Sometimes
}

// New creates a pipeline.
func New(limiter ratelimit.Limiter, breaker *circuit.Breaker, opts ...Option) *Pipeline {
	p := &Pipeline{
		limiter: limiter,
		breaker: breaker,
		keyFunc: ClientKey(false, nil),
		now:     time.Now,
		denyLog: rate.Sometimes{First: 10, Interval: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Breaker returns the pipeline's circuit breaker.
func (p *Pipeline) Breaker() *circuit.Breaker {
	return p.breaker
}

// Admit checks and records one request for clientID.
func (p *Pipeline) Admit(ctx context.Context, clientID string) (bool, ratelimit.Info) {
	if p.limiter == nil {
		return true, ratelimit.Info{}
	}

	allowed, info := p.limiter.Admit(clientID)
	if p.observer != nil {
		p.observer.OnDecision(ctx, allowed, info.Reason)
	}
	if info.NewlyBlocked {
		p.recordBlock(ctx, clientID, info)
	}
	return allowed, info
}

// recordBlock stores a client_blocked event. Storage failures are logged
// and never affect the request.
func (p *Pipeline) recordBlock(ctx context.Context, clientID string, info ratelimit.Info) {
	slog.Info("Client blocked",
		"client_id", clientID,
		"reason", info.Reason,
		"blocked_until", info.BlockedUntil,
	)
	if p.events == nil {
		return
	}

	event := models.NewAuditEvent(models.EventClientBlocked, clientID)
	event.Reason = info.Reason
	event.Until = info.BlockedUntil
	event.Metadata["retry_after"] = strconv.Itoa(retryAfterSeconds(info.RetryAfter))
	if err := p.events.RecordEvent(context.WithoutCancel(ctx), event); err != nil {
		slog.Error("Failed to record block event", "client_id", clientID, "error", err)
	}
}

// Middleware enforces admission on every request. It always sets the
// X-RateLimit headers; denied requests get 429 with Retry-After.
func (p *Pipeline) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if p.limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			clientID := p.keyFunc(r)
			allowed, info := p.Admit(r.Context(), clientID)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetAt.Unix(), 10))

			if !allowed {
				p.deny(w, clientID, info)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (p *Pipeline) deny(w http.ResponseWriter, clientID string, info ratelimit.Info) {
	retryAfter := retryAfterSeconds(info.RetryAfter)
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	errorResp := models.NewErrorResponse("Rate limit exceeded", models.ErrorCodeRateLimitExceeded).
		WithDetail("reason", info.Reason).
		WithDetail("retry_after", strconv.Itoa(retryAfter))
	json.NewEncoder(w).Encode(errorResp)

	p.denyLog.Do(func() {
		slog.Warn("Rate limit exceeded",
			"client_id", clientID,
			"reason", info.Reason,
			"limit", info.Limit,
			"retry_after", retryAfter,
		)
	})
}

// retryAfterSeconds rounds d up to whole seconds, with a minimum of one.
func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	return max(1, secs)
}
