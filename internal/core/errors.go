package core

import (
	"errors"
	"fmt"
)

// Expected outcomes of acquisition and capture. Callers match them with errors.Is.
var (
	ErrPermissionDenied   = errors.New("permission denied")
	ErrDeviceUnavailable  = errors.New("device unavailable")
	ErrUserCancelled      = errors.New("cancelled by user")
	ErrInvalidStreamState = errors.New("invalid stream state")
	ErrNotRecording       = errors.New("not recording")
	ErrNoMediaCaptured    = errors.New("no media captured")
	ErrInvalidTransition  = errors.New("invalid state transition")
)

// TransportError reports a failed upload attempt. StatusCode is zero when no
// response was received.
type TransportError struct {
	Endpoint   string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upload to %s failed with status %d: %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upload to %s failed: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt could succeed. Network failures,
// throttling and server errors are retryable; other client errors are not.
func (e *TransportError) Retryable() bool {
	if errors.Is(e.Err, errContextDone) {
		return false
	}
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == 429:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}

// errContextDone is wrapped by dispatchers when the caller gave up.
var errContextDone = errors.New("upload abandoned")

// AbandonedError wraps a context error so retry logic stops.
func AbandonedError(err error) error {
	return fmt.Errorf("%w: %w", errContextDone, err)
}

// UserMessage converts an error into the text shown to the candidate.
func UserMessage(err error) string {
	var te *TransportError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermissionDenied):
		return "Camera and microphone permissions are required."
	case errors.Is(err, ErrDeviceUnavailable):
		return "No camera or microphone could be opened. Check that the devices are connected."
	case errors.Is(err, ErrUserCancelled):
		return "Screen sharing was cancelled. Share your screen to start the interview."
	case errors.Is(err, ErrNoMediaCaptured):
		return "Nothing was recorded. Please try again."
	case errors.As(err, &te):
		return "The recording could not be uploaded."
	default:
		return err.Error()
	}
}
