// Package backoff is the retry policy shared by every outbound HTTP
// surface: bounded attempts, exponential delay from a fixed base, and
// random jitter so parallel workers don't hammer a struggling endpoint
// in lockstep.
package backoff

import (
	"context"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
)

type Policy struct {
	Attempts uint
	Base     time.Duration
	Max      time.Duration
	Jitter   time.Duration
}

// Default returns the standard policy with the configured attempt cap.
// Zero attempts would mean retry-forever upstream, so it is clamped to
// one: every retry loop here terminates.
func Default(attempts uint) Policy {
	if attempts == 0 {
		attempts = 1
	}
	return Policy{
		Attempts: attempts,
		Base:     500 * time.Millisecond,
		Max:      time.Minute,
		Jitter:   250 * time.Millisecond,
	}
}

// Options expands the policy into retry options. Callers append their
// own RetryIf predicate, and may override DelayType when the upstream
// advertises its own wait (rate-limit resets).
func (p Policy) Options(ctx context.Context, l *slog.Logger, what string) []retry.Option {
	return []retry.Option{
		retry.Attempts(p.Attempts),
		retry.Delay(p.Base),
		retry.MaxDelay(p.Max),
		retry.MaxJitter(p.Jitter),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			l.Info("retrying",
				"what", what,
				"attempt", n+1,
				"err", err,
			)
		}),
		retry.Context(ctx),
	}
}
