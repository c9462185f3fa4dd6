package cli

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/valter-silva-au/interview-capture/internal/core"
)

// stubEncoder emits nothing while running and returns its trailing bytes on
// Stop.
type stubEncoder struct {
	trailing []byte
}

func (e *stubEncoder) Start(func([]byte) bool) error { return nil }

func (e *stubEncoder) Stop(context.Context) ([]byte, error) { return e.trailing, nil }

type stubSource struct {
	ended chan struct{}
	data  []byte
}

func (s *stubSource) Tracks() []core.Track {
	return []core.Track{{ID: "v0", Kind: "video", Label: "stub"}}
}

func (s *stubSource) NewEncoder() (core.Encoder, error) {
	return &stubEncoder{trailing: s.data}, nil
}

func (s *stubSource) Ended() <-chan struct{} { return s.ended }

func (s *stubSource) Close() error { return nil }

type stubBackend struct {
	cameraErr error
	screenErr error
}

func (b *stubBackend) OpenCamera(context.Context) (core.StreamSource, error) {
	if b.cameraErr != nil {
		return nil, b.cameraErr
	}
	return &stubSource{ended: make(chan struct{}), data: []byte("webm-bytes")}, nil
}

func (b *stubBackend) OpenScreen(context.Context) (core.StreamSource, error) {
	if b.screenErr != nil {
		return nil, b.screenErr
	}
	return &stubSource{ended: make(chan struct{}), data: []byte("screen")}, nil
}

type stubDispatcher struct {
	mu    sync.Mutex
	sends int
	err   error
}

func (d *stubDispatcher) Send(_ context.Context, a *core.UploadArtifact) (*core.Ack, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sends++
	if d.err != nil {
		return nil, d.err
	}
	return &core.Ack{StatusCode: 201, Location: "https://uploads.example/1", Attempts: 1, Bytes: a.Size(), At: time.Now()}, nil
}

type discardEvents struct{}

func (discardEvents) LogEvent(string, map[string]any) error { return nil }

// newStubSession returns a controller whose one second interview expires
// after a single short tick.
func newStubSession(backend *stubBackend, dispatcher *stubDispatcher, prompter core.PermissionPrompter, chat bool) *core.SessionController {
	opts := core.ControllerOptions{
		Duration:     time.Second,
		TimerEnabled: true,
		ChatEnabled:  chat,
		TickInterval: 5 * time.Millisecond,
	}
	return core.NewSessionController(core.NewMediaGateway(backend, prompter), dispatcher, discardEvents{}, opts)
}

// newSharingSession returns a controller that needs a screen share before it
// starts recording.
func newSharingSession(backend *stubBackend, dispatcher *stubDispatcher) *core.SessionController {
	opts := core.ControllerOptions{
		Duration:     time.Second,
		TimerEnabled: true,
		ShareScreen:  true,
		TickInterval: 5 * time.Millisecond,
	}
	return core.NewSessionController(core.NewMediaGateway(backend, nil), dispatcher, discardEvents{}, opts)
}

// newUntimedSession returns a controller that records until it is ended.
func newUntimedSession(chat bool) *core.SessionController {
	opts := core.ControllerOptions{
		Duration:    time.Second,
		ChatEnabled: chat,
	}
	return core.NewSessionController(core.NewMediaGateway(&stubBackend{}, nil), &stubDispatcher{}, discardEvents{}, opts)
}

// useSessionFactory swaps NewSession for the duration of a test.
func useSessionFactory(t *testing.T, factory SessionFactory) {
	t.Helper()
	orig := NewSession
	NewSession = factory
	t.Cleanup(func() { NewSession = orig })
}
