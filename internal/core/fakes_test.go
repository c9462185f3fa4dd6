package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/valter-silva-au/interview-capture/pkg/models"
)

// fakeEncoder lets tests push chunks as if they came from a media encoder.
type fakeEncoder struct {
	mu       sync.Mutex
	onChunk  func([]byte) bool
	trailing []byte
	startErr error
	stopErr  error
	stops    atomic.Int32
}

func (e *fakeEncoder) Start(onChunk func([]byte) bool) error {
	if e.startErr != nil {
		return e.startErr
	}
	e.mu.Lock()
	e.onChunk = onChunk
	e.mu.Unlock()
	return nil
}

func (e *fakeEncoder) Stop(_ context.Context) ([]byte, error) {
	e.stops.Add(1)
	return e.trailing, e.stopErr
}

func (e *fakeEncoder) emit(data []byte) {
	e.mu.Lock()
	fn := e.onChunk
	e.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

type fakeSource struct {
	encoder *fakeEncoder
	ended   chan struct{}
	endOnce sync.Once
	closes  atomic.Int32
}

func newFakeSource() *fakeSource {
	return &fakeSource{encoder: &fakeEncoder{}, ended: make(chan struct{})}
}

func (s *fakeSource) Tracks() []Track {
	return []Track{{ID: "v0", Kind: "video", Label: "fake video"}, {ID: "a0", Kind: "audio", Label: "fake audio"}}
}

func (s *fakeSource) NewEncoder() (Encoder, error) { return s.encoder, nil }

func (s *fakeSource) Ended() <-chan struct{} { return s.ended }

func (s *fakeSource) Close() error {
	s.closes.Add(1)
	return nil
}

func (s *fakeSource) end() {
	s.endOnce.Do(func() { close(s.ended) })
}

// fakeBackend hands out pre-built sources and records how often it was asked.
type fakeBackend struct {
	mu          sync.Mutex
	camera      *fakeSource
	screen      *fakeSource
	cameraErr   error
	screenErr   error
	cameraOpens int
	screenOpens int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{camera: newFakeSource(), screen: newFakeSource()}
}

func (b *fakeBackend) OpenCamera(_ context.Context) (StreamSource, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cameraOpens++
	if b.cameraErr != nil {
		return nil, b.cameraErr
	}
	return b.camera, nil
}

func (b *fakeBackend) OpenScreen(_ context.Context) (StreamSource, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.screenOpens++
	if b.screenErr != nil {
		return nil, b.screenErr
	}
	return b.screen, nil
}

// fakeDispatcher records every artifact it receives.
type fakeDispatcher struct {
	mu        sync.Mutex
	artifacts []*UploadArtifact
	err       error
	block     chan struct{}
}

func (d *fakeDispatcher) Send(ctx context.Context, a *UploadArtifact) (*Ack, error) {
	if d.block != nil {
		select {
		case <-d.block:
		case <-ctx.Done():
			return nil, &TransportError{Endpoint: "fake", Err: AbandonedError(ctx.Err())}
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.artifacts = append(d.artifacts, a)
	if d.err != nil {
		return nil, d.err
	}
	return &Ack{StatusCode: 200, Attempts: 1, Bytes: a.Size()}, nil
}

func (d *fakeDispatcher) sent() []*UploadArtifact {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*UploadArtifact, len(d.artifacts))
	copy(out, d.artifacts)
	return out
}

// recordingEvents collects logged events.
type recordingEvents struct {
	mu     sync.Mutex
	events []string
	data   []map[string]any
}

func (r *recordingEvents) LogEvent(eventType string, data map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
	r.data = append(r.data, data)
	return nil
}

func (r *recordingEvents) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == eventType {
			n++
		}
	}
	return n
}

// denyPrompter refuses every permission request.
type denyPrompter struct{}

func (denyPrompter) Confirm(_ context.Context, kind models.MediaKind) error {
	if kind == models.MediaScreen {
		return ErrUserCancelled
	}
	return ErrPermissionDenied
}

var errBoom = errors.New("boom")
