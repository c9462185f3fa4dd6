package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/valter-silva-au/interview-capture/pkg/models"
)

// DeviceBackend opens platform media sources.
type DeviceBackend interface {
	OpenCamera(ctx context.Context) (StreamSource, error)
	OpenScreen(ctx context.Context) (StreamSource, error)
}

// PermissionPrompter asks the user to allow access to a kind of media. It
// returns nil when access is granted.
type PermissionPrompter interface {
	Confirm(ctx context.Context, kind models.MediaKind) error
}

// MediaGateway obtains and releases media stream handles.
type MediaGateway interface {
	AcquireCamera(ctx context.Context) (*MediaStreamHandle, error)
	AcquireScreen(ctx context.Context) (*MediaStreamHandle, error)
	Release(h *MediaStreamHandle) error
}

type mediaGateway struct {
	backend  DeviceBackend
	prompter PermissionPrompter
}

// NewMediaGateway creates a MediaGateway over the given backend. A nil
// prompter grants every request.
func NewMediaGateway(backend DeviceBackend, prompter PermissionPrompter) MediaGateway {
	return &mediaGateway{backend: backend, prompter: prompter}
}

// AcquireCamera opens combined audio and video input. Every call prompts and
// opens anew.
func (g *mediaGateway) AcquireCamera(ctx context.Context) (*MediaStreamHandle, error) {
	if err := g.confirm(ctx, models.MediaCamera); err != nil {
		return nil, err
	}
	src, err := g.backend.OpenCamera(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring camera: %w", classifyAcquireError(err, ErrDeviceUnavailable))
	}
	return NewMediaStreamHandle(models.MediaCamera, src), nil
}

// AcquireScreen opens display capture.
func (g *mediaGateway) AcquireScreen(ctx context.Context) (*MediaStreamHandle, error) {
	if err := g.confirm(ctx, models.MediaScreen); err != nil {
		return nil, err
	}
	src, err := g.backend.OpenScreen(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring screen: %w", classifyAcquireError(err, ErrPermissionDenied))
	}
	return NewMediaStreamHandle(models.MediaScreen, src), nil
}

// Release stops the handle's tracks. Releasing twice is a no-op.
func (g *mediaGateway) Release(h *MediaStreamHandle) error {
	if h == nil {
		return nil
	}
	return h.Release()
}

func (g *mediaGateway) confirm(ctx context.Context, kind models.MediaKind) error {
	if g.prompter == nil {
		return nil
	}
	if err := g.prompter.Confirm(ctx, kind); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%s permission prompt: %w", kind, ErrUserCancelled)
		}
		return fmt.Errorf("%s permission prompt: %w", kind, classifyAcquireError(err, ErrPermissionDenied))
	}
	return nil
}

// classifyAcquireError keeps errors already in the taxonomy and wraps others
// with fallback.
func classifyAcquireError(err, fallback error) error {
	for _, known := range []error{ErrPermissionDenied, ErrDeviceUnavailable, ErrUserCancelled} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", fallback, err)
}
