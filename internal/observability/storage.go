package observability

import (
	"context"
	"time"

	"admission/internal/models"
	"admission/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedStorage wraps a storage.Storage implementation with
// OpenTelemetry tracing and metrics instrumentation.
type InstrumentedStorage struct {
	inner    storage.Storage
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// NewInstrumentedStorage creates a new storage wrapper that records trace spans,
// operation latency histograms, and error counters for every storage method call.
func NewInstrumentedStorage(inner storage.Storage) (*InstrumentedStorage, error) {
	tracer := otel.Tracer("admission/storage")
	meter := otel.Meter("admission/storage")

	duration, err := meter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Duration of storage operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"storage.operation.errors",
		metric.WithDescription("Number of storage operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStorage{
		inner:    inner,
		tracer:   tracer,
		duration: duration,
		errors:   errCounter,
	}, nil
}

func (s *InstrumentedStorage) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("storage.operation", operation),
		}, attrs...)...),
	)
}

func (s *InstrumentedStorage) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	elapsed := time.Since(start).Seconds()
	attrs := metric.WithAttributes(attribute.String("operation", operation))

	s.duration.Record(ctx, elapsed, attrs)

	if err != nil {
		s.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

func (s *InstrumentedStorage) RecordEvent(ctx context.Context, event *models.AuditEvent) error {
	var attrs []attribute.KeyValue
	if event != nil {
		attrs = append(attrs,
			attribute.String("event.kind", event.Kind),
			attribute.String("event.subject", event.Subject),
		)
	}
	ctx, span := s.startSpan(ctx, "RecordEvent", attrs...)
	start := time.Now()
	err := s.inner.RecordEvent(ctx, event)
	s.record(ctx, span, "RecordEvent", start, err)
	return err
}

func (s *InstrumentedStorage) ListEvents(ctx context.Context, filter models.EventFilter) ([]*models.AuditEvent, error) {
	ctx, span := s.startSpan(ctx, "ListEvents",
		attribute.String("filter.kind", filter.Kind),
		attribute.String("filter.subject", filter.Subject),
		attribute.Int("filter.limit", filter.EffectiveLimit()),
	)
	start := time.Now()
	result, err := s.inner.ListEvents(ctx, filter)
	span.SetAttributes(attribute.Int("result.count", len(result)))
	s.record(ctx, span, "ListEvents", start, err)
	return result, err
}

func (s *InstrumentedStorage) Ping(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.record(ctx, span, "Ping", start, err)
	return err
}

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}
