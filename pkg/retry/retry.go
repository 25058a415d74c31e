// Package retry runs best-effort remote actions with a bounded number of
// attempts and a fixed delay. Failures are never returned to the caller; they
// are logged and reported through an Outcome.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	retrygo "github.com/avast/retry-go/v4"
	"github.com/dukex/amhsctl/pkg/remote"
)

// Action is one attempt. It fails when it returns an error or an envelope
// with success:false.
type Action func(ctx context.Context) (*remote.Envelope, error)

// Policy bounds the attempts of an action.
type Policy struct {
	MaxAttempts uint
	Delay       time.Duration
}

// Outcome reports what happened to a suppressed action.
type Outcome struct {
	Attempts  uint
	Succeeded bool
	Envelope  *remote.Envelope
	Err       error
}

var errNilEnvelope = errors.New("action returned no response")

// Run executes action up to policy.MaxAttempts times, waiting policy.Delay
// between attempts. It never returns an error; inspect the Outcome instead.
func Run(ctx context.Context, action Action, policy Policy, logger *slog.Logger) Outcome {
	if logger == nil {
		logger = slog.Default()
	}

	attempts := max(policy.MaxAttempts, 1)

	var (
		outcome Outcome
		last    *remote.Envelope
	)

	err := retrygo.Do(
		func() error {
			outcome.Attempts++

			envelope, err := action(ctx)
			if err != nil {
				return err
			}

			if envelope == nil {
				return errNilEnvelope
			}

			last = envelope

			return envelope.Failure("side effect")
		},
		retrygo.Attempts(attempts),
		retrygo.Delay(policy.Delay),
		retrygo.DelayType(retrygo.FixedDelay),
		retrygo.LastErrorOnly(true),
		retrygo.Context(ctx),
		retrygo.OnRetry(func(n uint, err error) {
			logger.InfoContext(ctx, "Side effect attempt failed",
				"attempt", n+1,
				"max_attempts", attempts,
				"error", err,
			)
		}),
	)

	outcome.Envelope = last

	if err != nil {
		outcome.Err = err
		logger.WarnContext(ctx, "Side effect gave up",
			"attempts", outcome.Attempts,
			"error", err,
		)

		return outcome
	}

	outcome.Succeeded = true

	return outcome
}

// Detach starts Run in its own goroutine on a context that ignores the
// caller's cancellation. The returned channel receives exactly one Outcome
// and is never closed before that; callers may ignore it.
func Detach(ctx context.Context, action Action, policy Policy, logger *slog.Logger) <-chan Outcome {
	done := make(chan Outcome, 1)
	detached := context.WithoutCancel(ctx)

	go func() {
		done <- Run(detached, action, policy, logger)
		close(done)
	}()

	return done
}
