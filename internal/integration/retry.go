package integration

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/valter-silva-au/interview-capture/internal/core"
)

// RetryingDispatcher retries retryable transport failures up to
// policy.MaxAttempts, spacing attempts at least policy.Backoff apart.
type RetryingDispatcher struct {
	next   core.UploadDispatcher
	policy core.RetryPolicy
}

// NewRetryingDispatcher wraps next with policy. A MaxAttempts below one is
// treated as one.
func NewRetryingDispatcher(next core.UploadDispatcher, policy core.RetryPolicy) *RetryingDispatcher {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &RetryingDispatcher{next: next, policy: policy}
}

// Send delegates to the wrapped dispatcher. The returned Ack or
// TransportError carries the number of attempts made.
func (d *RetryingDispatcher) Send(ctx context.Context, artifact *core.UploadArtifact) (*core.Ack, error) {
	// rate.Every treats a non-positive backoff as no limit.
	limiter := rate.NewLimiter(rate.Every(d.policy.Backoff), 1)

	var lastErr error
	for attempt := 1; attempt <= d.policy.MaxAttempts; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return nil, withAttempts(lastErr, attempt-1, core.AbandonedError(err))
		}

		ack, err := d.next.Send(ctx, artifact)
		if err == nil {
			ack.Attempts = attempt
			return ack, nil
		}
		lastErr = err

		var te *core.TransportError
		if !errors.As(err, &te) || !te.Retryable() || attempt == d.policy.MaxAttempts {
			return nil, withAttempts(err, attempt, nil)
		}
		slog.Warn("upload attempt failed, retrying",
			"session_id", artifact.SessionID, "kind", artifact.Kind, "attempt", attempt, "error", err)
	}
	return nil, withAttempts(lastErr, d.policy.MaxAttempts, nil)
}

// withAttempts records the attempt count on a TransportError. When cause is
// set it replaces the error's cause, keeping the last status code.
func withAttempts(err error, attempts int, cause error) error {
	var te *core.TransportError
	if errors.As(err, &te) {
		out := *te
		out.Attempts = attempts
		if cause != nil {
			out.Err = errors.Join(cause, te.Err)
		}
		return &out
	}
	if cause != nil {
		return &core.TransportError{Attempts: attempts, Err: errors.Join(cause, err)}
	}
	return err
}
