package core

import (
	"errors"
	"fmt"
	"sync"

	"github.com/valter-silva-au/interview-capture/pkg/models"
)

// StreamRegistry is the per-session directory of acquired stream handles. It
// holds at most one handle per kind and never releases a handle it is asked
// to replace; callers release before clearing.
type StreamRegistry struct {
	mu      sync.Mutex
	handles map[models.MediaKind]*MediaStreamHandle
}

// NewStreamRegistry creates an empty registry.
func NewStreamRegistry() *StreamRegistry {
	return &StreamRegistry{handles: make(map[models.MediaKind]*MediaStreamHandle)}
}

// Set stores h under its kind. Replacing a different live handle is refused
// so that the old one is not leaked.
func (r *StreamRegistry) Set(h *MediaStreamHandle) error {
	if h == nil {
		return fmt.Errorf("registering nil stream: %w", ErrInvalidStreamState)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.handles[h.Kind()]; ok && existing != h && existing.Live() {
		return fmt.Errorf("a live %s stream is already registered: %w", h.Kind(), ErrInvalidStreamState)
	}
	r.handles[h.Kind()] = h
	return nil
}

// Get returns the handle registered for kind, or nil.
func (r *StreamRegistry) Get(kind models.MediaKind) *MediaStreamHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handles[kind]
}

// Camera returns the registered camera handle, or nil.
func (r *StreamRegistry) Camera() *MediaStreamHandle { return r.Get(models.MediaCamera) }

// Screen returns the registered screen handle, or nil.
func (r *StreamRegistry) Screen() *MediaStreamHandle { return r.Get(models.MediaScreen) }

// Clear removes and returns the handle registered for kind without releasing it.
func (r *StreamRegistry) Clear(kind models.MediaKind) *MediaStreamHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.handles[kind]
	delete(r.handles, kind)
	return h
}

// Teardown releases every registered handle and empties the registry.
func (r *StreamRegistry) Teardown() error {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[models.MediaKind]*MediaStreamHandle)
	r.mu.Unlock()

	var errs []error
	for _, h := range handles {
		if err := h.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
