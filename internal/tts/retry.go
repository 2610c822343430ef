package tts

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds the retry loop for transient provider failures.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy mirrors the conservative defaults the provider's rate
// limiting tolerates well.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 5 * time.Second,
		MaxBackoff:     60 * time.Second,
	}
}

// Result carries the outcome of a retried synthesis call.
type Result struct {
	Audio    []byte
	Attempts int
}

// SynthesizeWithRetry runs one synthesis call under exponential backoff.
// Transient failures are retried up to the policy's attempt cap; fatal
// failures abort immediately so no further money is spent. The attempt
// count is reported either way.
func SynthesizeWithRetry(ctx context.Context, synth Synthesizer, req Request, policy RetryPolicy, log *slog.Logger) (Result, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = policy.InitialBackoff
	expo.MaxInterval = policy.MaxBackoff
	expo.Multiplier = 2

	attempts := 0
	operation := func() ([]byte, error) {
		attempts++
		audio, err := synth.Synthesize(ctx, req)
		if err == nil {
			return audio, nil
		}
		var fatal *FatalError
		if errors.As(err, &fatal) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	notify := func(err error, next time.Duration) {
		log.Warn("synthesis failed, backing off",
			slog.Int("attempt", attempts),
			slog.Duration("next_retry_in", next),
			slog.String("error", err.Error()))
	}

	audio, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(policy.MaxAttempts)),
		backoff.WithNotify(notify))
	if err != nil {
		return Result{Attempts: attempts}, err
	}
	return Result{Audio: audio, Attempts: attempts}, nil
}
