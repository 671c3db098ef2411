package admission

import (
	"context"
	"errors"

	"admission/internal/circuit"
)

// Call runs op against the named dependency through the pipeline's
// breaker. It behaves like circuit.Execute and additionally reports the
// outcome to the Observer.
func Call[T any](ctx context.Context, p *Pipeline, name string, op func(context.Context) (T, error), fallback func() T) (T, error) {
	invoked := false
	result, err := circuit.Execute(ctx, p.breaker, name, func(ctx context.Context) (T, error) {
		invoked = true
		return op(ctx)
	}, fallback)

	if p.observer != nil {
		p.observer.OnCircuitCall(ctx, name, callOutcome(ctx, invoked, err))
	}
	return result, err
}

func callOutcome(ctx context.Context, invoked bool, err error) string {
	switch {
	case !invoked:
		return OutcomeRejected
	case err == nil:
		return OutcomeSuccess
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return OutcomeCancelled
	default:
		return OutcomeFailure
	}
}
