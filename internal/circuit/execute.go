package circuit

import (
	"context"
	"errors"
	"log/slog"
)

// Execute runs op through the circuit for name. When the circuit rejects
// the call, op is not invoked and fallback's value is returned with a nil
// error. Errors from op are recorded and returned unchanged; a panic in op
// is recorded as a failure and re-raised. Errors caused by the caller's own
// context cancellation are not held against the dependency.
func Execute[T any](ctx context.Context, b *Breaker, name string, op func(context.Context) (T, error), fallback func() T) (T, error) {
	t, allowed := b.admit(name)
	if !allowed {
		b.fallbackLog.Do(func() {
			slog.Warn("Circuit open, returning fallback", "dependency", name)
		})
		var zero T
		if fallback == nil {
			return zero, nil
		}
		return fallback(), nil
	}
	return run(ctx, b, name, t, op)
}

// Do runs op through the circuit for name, returning ErrOpen when the
// circuit rejects the call.
func (b *Breaker) Do(ctx context.Context, name string, op func(context.Context) error) error {
	t, allowed := b.admit(name)
	if !allowed {
		return ErrOpen
	}
	_, err := run(ctx, b, name, t, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func run[T any](ctx context.Context, b *Breaker, name string, t ticket, op func(context.Context) (T, error)) (T, error) {
	defer func() {
		if r := recover(); r != nil {
			b.failure(name, t)
			panic(r)
		}
	}()

	result, err := op(ctx)
	switch {
	case err == nil:
		b.success(name, t)
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		b.abandon(name, t)
	default:
		b.failure(name, t)
	}
	return result, err
}
