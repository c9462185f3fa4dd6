package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/valter-silva-au/interview-capture/pkg/models"
)

// Track describes one audio or video track of a stream.
type Track struct {
	ID    string `json:"id"`
	Kind  string `json:"kind"` // audio, video
	Label string `json:"label"`
}

// Encoder turns a live stream into container-format chunks.
//
// onChunk is called from the encoder's own goroutine, in order, and never from
// within Start itself. It reports whether the chunk was accepted; an encoder
// keeps rejected bytes and returns them from Stop together with anything the
// muxer flushed after the last accepted chunk.
type Encoder interface {
	Start(onChunk func(data []byte) bool) error
	Stop(ctx context.Context) ([]byte, error)
}

// StreamSource is the platform side of a media stream.
type StreamSource interface {
	Tracks() []Track
	NewEncoder() (Encoder, error)
	// Ended is closed when the platform stops the stream on its own.
	Ended() <-chan struct{}
	Close() error
}

// MediaStreamHandle is a reference to a live audio/video source. The acquirer
// owns it; capture sessions and previews borrow it.
type MediaStreamHandle struct {
	id     string
	kind   models.MediaKind
	source StreamSource

	mu       sync.Mutex
	released bool
	bound    bool
}

// NewMediaStreamHandle wraps an opened source.
func NewMediaStreamHandle(kind models.MediaKind, source StreamSource) *MediaStreamHandle {
	return &MediaStreamHandle{
		id:     uuid.NewString(),
		kind:   kind,
		source: source,
	}
}

// ID returns the handle identifier.
func (h *MediaStreamHandle) ID() string { return h.id }

// Kind returns whether the handle is a camera or a screen stream.
func (h *MediaStreamHandle) Kind() models.MediaKind { return h.kind }

// Tracks returns the stream's tracks in order.
func (h *MediaStreamHandle) Tracks() []Track {
	tracks := h.source.Tracks()
	out := make([]Track, len(tracks))
	copy(out, tracks)
	return out
}

// Ended is closed when the platform ends the stream.
func (h *MediaStreamHandle) Ended() <-chan struct{} {
	return h.source.Ended()
}

// Live reports whether the stream can still produce media.
func (h *MediaStreamHandle) Live() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.liveLocked()
}

func (h *MediaStreamHandle) liveLocked() bool {
	if h.released {
		return false
	}
	select {
	case <-h.source.Ended():
		return false
	default:
		return true
	}
}

// Bound reports whether a recording capture session holds the handle.
func (h *MediaStreamHandle) Bound() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bound
}

// Release stops all tracks. Only the first call has an effect. A handle bound
// to an active capture cannot be released.
func (h *MediaStreamHandle) Release() error {
	h.mu.Lock()
	if h.bound {
		h.mu.Unlock()
		return fmt.Errorf("releasing %s stream %s while recording: %w", h.kind, h.id, ErrInvalidStreamState)
	}
	if h.released {
		h.mu.Unlock()
		return nil
	}
	h.released = true
	h.mu.Unlock()

	if err := h.source.Close(); err != nil {
		return fmt.Errorf("closing %s stream: %w", h.kind, err)
	}
	return nil
}

func (h *MediaStreamHandle) bind() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.liveLocked() {
		return fmt.Errorf("%s stream %s is not live: %w", h.kind, h.id, ErrInvalidStreamState)
	}
	if h.bound {
		return fmt.Errorf("%s stream %s is already recording: %w", h.kind, h.id, ErrInvalidStreamState)
	}
	h.bound = true
	return nil
}

func (h *MediaStreamHandle) unbind() {
	h.mu.Lock()
	h.bound = false
	h.mu.Unlock()
}
