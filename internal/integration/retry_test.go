package integration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/valter-silva-au/interview-capture/internal/core"
)

// scriptedDispatcher returns the scripted errors in order, then succeeds.
type scriptedDispatcher struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (d *scriptedDispatcher) Send(_ context.Context, a *core.UploadArtifact) (*core.Ack, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		return nil, err
	}
	return &core.Ack{StatusCode: 200, Attempts: 1, Bytes: a.Size()}, nil
}

func serverError() error {
	return &core.TransportError{Endpoint: "http://collector", StatusCode: 503, Attempts: 1, Err: errors.New("unavailable")}
}

func TestRetryingDispatcher_DefaultIsSingleAttempt(t *testing.T) {
	next := &scriptedDispatcher{errs: []error{serverError()}}
	d := NewRetryingDispatcher(next, core.DefaultRetryPolicy())

	_, err := d.Send(context.Background(), testArtifact())
	var te *core.TransportError
	if !errors.As(err, &te) || te.Attempts != 1 {
		t.Fatalf("expected TransportError after one attempt, got %v", err)
	}
	if next.calls != 1 {
		t.Errorf("expected one call, got %d", next.calls)
	}
}

func TestRetryingDispatcher_RetriesRetryableFailures(t *testing.T) {
	next := &scriptedDispatcher{errs: []error{serverError(), serverError()}}
	d := NewRetryingDispatcher(next, core.RetryPolicy{MaxAttempts: 3, Backoff: 10 * time.Millisecond})

	start := time.Now()
	ack, err := d.Send(context.Background(), testArtifact())
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if ack.Attempts != 3 {
		t.Errorf("expected ack after 3 attempts, got %d", ack.Attempts)
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Errorf("expected attempts to be spaced by the backoff, took %s", elapsed)
	}
}

func TestRetryingDispatcher_StopsOnPermanentFailure(t *testing.T) {
	permanent := &core.TransportError{Endpoint: "http://collector", StatusCode: 400, Err: errors.New("bad request")}
	next := &scriptedDispatcher{errs: []error{permanent}}
	d := NewRetryingDispatcher(next, core.RetryPolicy{MaxAttempts: 5})

	_, err := d.Send(context.Background(), testArtifact())
	var te *core.TransportError
	if !errors.As(err, &te) || te.StatusCode != 400 {
		t.Fatalf("expected the 400 to be returned, got %v", err)
	}
	if next.calls != 1 {
		t.Errorf("expected no retry after a 400, got %d calls", next.calls)
	}
}

func TestRetryingDispatcher_GivesUpAfterMaxAttempts(t *testing.T) {
	next := &scriptedDispatcher{errs: []error{serverError(), serverError(), serverError()}}
	d := NewRetryingDispatcher(next, core.RetryPolicy{MaxAttempts: 2, Backoff: time.Millisecond})

	_, err := d.Send(context.Background(), testArtifact())
	var te *core.TransportError
	if !errors.As(err, &te) || te.Attempts != 2 {
		t.Fatalf("expected failure after 2 attempts, got %v", err)
	}
	if next.calls != 2 {
		t.Errorf("expected 2 calls, got %d", next.calls)
	}
}

func TestRetryingDispatcher_CancelledDuringBackoff(t *testing.T) {
	next := &scriptedDispatcher{errs: []error{serverError(), serverError()}}
	d := NewRetryingDispatcher(next, core.RetryPolicy{MaxAttempts: 3, Backoff: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := d.Send(ctx, testArtifact())
	var te *core.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if te.Retryable() {
		t.Error("an abandoned upload must not be retryable")
	}
	if te.StatusCode != 503 {
		t.Errorf("expected the last status to be kept, got %d", te.StatusCode)
	}
}
