//go:build !gstreamer

package gstcapture

import (
	"context"
	"fmt"

	"github.com/valter-silva-au/interview-capture/internal/core"
	"github.com/valter-silva-au/interview-capture/internal/integration"
)

// Available reports whether the binary was built with GStreamer support.
const Available = false

// Backend is a placeholder used when the binary is built without the
// gstreamer tag. Every acquisition fails with ErrDeviceUnavailable.
type Backend struct{}

// NewBackend returns a Backend that cannot open devices.
func NewBackend(integration.GStreamerOptions) *Backend { return &Backend{} }

func (b *Backend) OpenCamera(context.Context) (core.StreamSource, error) {
	return nil, errUnavailable()
}

func (b *Backend) OpenScreen(context.Context) (core.StreamSource, error) {
	return nil, errUnavailable()
}

func errUnavailable() error {
	return fmt.Errorf("built without gstreamer support, rebuild with -tags gstreamer: %w", core.ErrDeviceUnavailable)
}
