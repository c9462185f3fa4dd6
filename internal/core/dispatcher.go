package core

import (
	"context"
	"time"
)

// Ack is the collector's acknowledgement of a successful upload.
type Ack struct {
	StatusCode int       `json:"status_code,omitempty"`
	Location   string    `json:"location,omitempty"`
	Attempts   int       `json:"attempts"`
	Bytes      int       `json:"bytes"`
	At         time.Time `json:"at"`
}

// UploadDispatcher transmits a finished artifact to a collector. Failures are
// reported as *TransportError.
type UploadDispatcher interface {
	Send(ctx context.Context, artifact *UploadArtifact) (*Ack, error)
}

// RetryPolicy bounds upload attempts. Backoff is the minimum spacing between
// attempts.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy makes a single attempt.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1, Backoff: 2 * time.Second}
}
