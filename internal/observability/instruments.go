package observability

import (
	"context"
	"fmt"

	"admission/internal/circuit"
	"admission/internal/ratelimit"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instruments records admission decisions and circuit breaker activity.
// It satisfies the admission pipeline's Observer and can be registered as
// a breaker state-change hook.
type Instruments struct {
	decisions   metric.Int64Counter
	calls       metric.Int64Counter
	transitions metric.Int64Counter
	meter       metric.Meter
}

// NewInstruments creates the counters on meter.
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	decisions, err := meter.Int64Counter(
		"admission.decisions",
		metric.WithDescription("Admission decisions by outcome and denial reason"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create decisions counter: %w", err)
	}

	calls, err := meter.Int64Counter(
		"circuit.calls",
		metric.WithDescription("Dependency calls through the circuit breaker by outcome"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create calls counter: %w", err)
	}

	transitions, err := meter.Int64Counter(
		"circuit.transitions",
		metric.WithDescription("Circuit state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create transitions counter: %w", err)
	}

	return &Instruments{
		decisions:   decisions,
		calls:       calls,
		transitions: transitions,
		meter:       meter,
	}, nil
}

// OnDecision counts one admission decision.
func (i *Instruments) OnDecision(ctx context.Context, allowed bool, reason string) {
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}
	attrs := []attribute.KeyValue{attribute.String("outcome", outcome)}
	if reason != "" {
		attrs = append(attrs, attribute.String("reason", reason))
	}
	i.decisions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// OnCircuitCall counts one dependency call.
func (i *Instruments) OnCircuitCall(ctx context.Context, dependency, outcome string) {
	i.calls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("dependency", dependency),
		attribute.String("outcome", outcome),
	))
}

// OnStateChange counts a circuit transition. It matches circuit.StateChangeFunc.
func (i *Instruments) OnStateChange(name string, from, to circuit.State) {
	i.transitions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("dependency", name),
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	))
}

// RegisterGauges publishes limiter occupancy and circuit states as
// observable gauges read at collection time. Either source may be nil.
func (i *Instruments) RegisterGauges(limiter ratelimit.Admin, breaker *circuit.Breaker) error {
	tracked, err := i.meter.Int64ObservableGauge(
		"admission.clients.tracked",
		metric.WithDescription("Clients with limiter state in memory"),
	)
	if err != nil {
		return fmt.Errorf("failed to create tracked clients gauge: %w", err)
	}

	blocked, err := i.meter.Int64ObservableGauge(
		"admission.clients.blocked",
		metric.WithDescription("Clients currently blocked"),
	)
	if err != nil {
		return fmt.Errorf("failed to create blocked clients gauge: %w", err)
	}

	state, err := i.meter.Int64ObservableGauge(
		"circuit.state",
		metric.WithDescription("Circuit state per dependency (0 closed, 1 open, 2 half-open)"),
	)
	if err != nil {
		return fmt.Errorf("failed to create circuit state gauge: %w", err)
	}

	_, err = i.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		if limiter != nil {
			stats := limiter.GlobalStats()
			o.ObserveInt64(tracked, int64(stats.TrackedClients))
			o.ObserveInt64(blocked, int64(stats.BlockedClients))
		}
		if breaker != nil {
			for _, s := range breaker.Snapshots() {
				o.ObserveInt64(state, int64(s.State), metric.WithAttributes(attribute.String("dependency", s.Name)))
			}
		}
		return nil
	}, tracked, blocked, state)
	if err != nil {
		return fmt.Errorf("failed to register gauge callback: %w", err)
	}

	return nil
}
