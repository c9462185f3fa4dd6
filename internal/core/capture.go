package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/valter-silva-au/interview-capture/pkg/models"
)

// finalizeTimeout bounds how long an encoder may take to flush on stop.
const finalizeTimeout = 15 * time.Second

// CompletionFunc receives the outcome of a capture session that reached
// recording. It is called once, before Wait returns, and must not call Wait.
// Exactly one of artifact and err is non-nil.
type CompletionFunc func(s *CaptureSession, artifact *UploadArtifact, err error)

// CaptureSession records one stream into ordered chunks and assembles them
// into an UploadArtifact when stopped.
type CaptureSession struct {
	id          string
	contentType string
	onComplete  CompletionFunc
	now         func() time.Time

	mu        sync.Mutex
	status    models.CaptureStatus
	kind      models.MediaKind
	handle    *MediaStreamHandle
	encoder   Encoder
	chunks    []RecordingChunk
	nextSeq   uint64
	dropped   int
	startedAt time.Time
	artifact  *UploadArtifact
	err       error
	done      chan struct{}
}

// NewCaptureSession creates an idle capture session. onComplete may be nil.
func NewCaptureSession(id, contentType string, onComplete CompletionFunc) *CaptureSession {
	if contentType == "" {
		contentType = DefaultContentType
	}
	return &CaptureSession{
		id:          id,
		contentType: contentType,
		onComplete:  onComplete,
		now:         time.Now,
		status:      models.CaptureIdle,
		done:        make(chan struct{}),
	}
}

// Start binds h and begins encoding it.
func (s *CaptureSession) Start(h *MediaStreamHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != models.CaptureIdle {
		return fmt.Errorf("starting capture %s in status %s: %w", s.id, s.status, ErrInvalidStreamState)
	}
	if h == nil {
		return fmt.Errorf("starting capture %s without a stream: %w", s.id, ErrInvalidStreamState)
	}
	if err := h.bind(); err != nil {
		return err
	}

	enc, err := h.source.NewEncoder()
	if err != nil {
		h.unbind()
		return fmt.Errorf("creating %s encoder: %w", h.Kind(), err)
	}

	s.status = models.CaptureRecording
	s.kind = h.Kind()
	s.handle = h
	s.encoder = enc
	s.startedAt = s.now()

	if err := enc.Start(s.Deliver); err != nil {
		s.status = models.CaptureFailed
		s.err = fmt.Errorf("starting %s encoder: %w", h.Kind(), err)
		s.handle = nil
		h.unbind()
		close(s.done)
		return s.err
	}
	return nil
}

// Deliver appends one chunk while recording and reports whether it was kept.
// Chunks arriving in any other status are dropped.
func (s *CaptureSession) Deliver(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != models.CaptureRecording {
		s.dropped++
		return false
	}
	s.appendLocked(data)
	return true
}

func (s *CaptureSession) appendLocked(data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)
	s.chunks = append(s.chunks, RecordingChunk{Seq: s.nextSeq, Data: buf, At: s.now()})
	s.nextSeq++
}

// Stop moves the session to finalizing and flushes the encoder in the
// background. Stopping a session that is already stopping or finished is a
// no-op.
func (s *CaptureSession) Stop(ctx context.Context) error {
	s.mu.Lock()
	switch s.status {
	case models.CaptureIdle:
		s.mu.Unlock()
		return fmt.Errorf("stopping capture %s: %w", s.id, ErrNotRecording)
	case models.CaptureFinalizing, models.CaptureCompleted, models.CaptureFailed:
		s.mu.Unlock()
		return nil
	}
	s.status = models.CaptureFinalizing
	enc := s.encoder
	s.mu.Unlock()

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	go func() {
		defer cancel()
		s.finalize(fctx, enc)
	}()
	return nil
}

func (s *CaptureSession) finalize(ctx context.Context, enc Encoder) {
	trailing, stopErr := enc.Stop(ctx)

	s.mu.Lock()
	if len(trailing) > 0 {
		s.appendLocked(trailing)
	}
	if s.handle != nil {
		s.handle.unbind()
	}

	size := 0
	for _, c := range s.chunks {
		size += len(c.Data)
	}

	switch {
	case size == 0:
		s.status = models.CaptureFailed
		s.err = fmt.Errorf("capture %s: %w", s.id, errors.Join(ErrNoMediaCaptured, stopErr))
	default:
		if stopErr != nil {
			slog.Warn("encoder stopped with error, keeping captured media",
				"session_id", s.id, "kind", s.kind, "error", stopErr)
		}
		s.artifact = assembleArtifact(s.id, s.kind, s.contentType, s.chunks, s.startedAt, s.now())
		s.status = models.CaptureCompleted
	}
	artifact, err := s.artifact, s.err
	cb := s.onComplete
	s.mu.Unlock()

	if cb != nil {
		cb(s, artifact, err)
	}
	close(s.done)
}

// Wait blocks until the session is completed or failed and the completion
// callback has returned.
func (s *CaptureSession) Wait(ctx context.Context) (*UploadArtifact, error) {
	select {
	case <-s.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.artifact, s.err
}

// ID returns the session identifier.
func (s *CaptureSession) ID() string { return s.id }

// Kind returns the kind of the bound stream, empty before Start.
func (s *CaptureSession) Kind() models.MediaKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kind
}

// Status returns the current status.
func (s *CaptureSession) Status() models.CaptureStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// StartedAt returns when recording began.
func (s *CaptureSession) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Chunks returns a copy of the chunks captured so far.
func (s *CaptureSession) Chunks() []RecordingChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RecordingChunk, len(s.chunks))
	copy(out, s.chunks)
	return out
}

// Dropped returns the number of chunks that arrived outside recording.
func (s *CaptureSession) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
