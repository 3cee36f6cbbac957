package recovery

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/wesm/recoverybot/internal/apperr"
)

// Policy is a fixed retry schedule. The number of attempts is len(Schedule),
// and at least one. The first attempt runs at once; attempt k waits
// Schedule[k-2] first.
type Policy struct {
	Schedule []time.Duration
	Clock    Clock
	Logger   *zap.Logger
}

func (p Policy) attempts() int {
	if len(p.Schedule) == 0 {
		return 1
	}
	return len(p.Schedule)
}

func (p Policy) clock() Clock {
	if p.Clock == nil {
		return realClock{}
	}
	return p.Clock
}

func (p Policy) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

// Do runs action under the policy in two phases. Phase one makes plain
// attempts. Phase two is the final attempt, preceded by refresh unless the
// final attempt is also the first; action is expected to pick up the
// refreshed credential. Exhausted attempts and a failed refresh both yield a
// backend-unavailable error carrying the last failure. Errors classified
// with a kind other than transport are returned at once, unchanged. Context
// cancellation aborts the loop and returns ctx.Err().
func Do[T any](ctx context.Context, p Policy, action func(context.Context) (T, error), refresh func(context.Context) error) (T, error) {
	var zero T
	n := p.attempts()
	log := p.logger()

	var lastErr error
	for i := 0; i < n-1; i++ {
		if err := p.wait(ctx, i); err != nil {
			return zero, err
		}
		v, err := action(ctx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if !retryable(err) {
			return zero, err
		}
		lastErr = err
		log.Warn("attempt failed, retrying",
			zap.Int("attempt", i+1),
			zap.Int("of", n),
			zap.Error(err))
	}

	final := n - 1
	if err := p.wait(ctx, final); err != nil {
		return zero, err
	}
	if final > 0 && refresh != nil {
		if err := refresh(ctx); err != nil {
			if ctx.Err() != nil {
				return zero, ctx.Err()
			}
			return zero, apperr.Wrap(apperr.KindBackendUnavailable, err,
				"refresh before final attempt failed (last failure: %s)", message(lastErr))
		}
	}

	v, err := action(ctx)
	if err == nil {
		return v, nil
	}
	if ctx.Err() != nil {
		return zero, ctx.Err()
	}
	if !retryable(err) {
		return zero, err
	}
	return zero, apperr.Wrap(apperr.KindBackendUnavailable, err, "all %d attempts failed", n)
}

// retryable reports whether err may clear on a later attempt. Unclassified
// errors are treated as transient.
func retryable(err error) bool {
	var e *apperr.Error
	if !errors.As(err, &e) {
		return true
	}
	return e.Kind == apperr.KindTransport
}

// wait pauses before attempt i.
func (p Policy) wait(ctx context.Context, i int) error {
	if i == 0 {
		return nil
	}
	d := p.Schedule[i-1]
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.clock().After(d):
		return nil
	}
}

func message(err error) string {
	if err == nil {
		return "none"
	}
	return err.Error()
}
