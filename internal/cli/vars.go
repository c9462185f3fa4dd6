package cli

import (
	"github.com/valter-silva-au/interview-capture/internal/core"
	"github.com/valter-silva-au/interview-capture/internal/integration"
	"github.com/valter-silva-au/interview-capture/internal/observability"
	"github.com/valter-silva-au/interview-capture/pkg/models"
)

// SessionFactory builds a session controller whose gateway asks prompter for
// device access. A nil prompter grants every request.
type SessionFactory func(prompter core.PermissionPrompter) (*core.SessionController, error)

// Package-level dependencies, set during app initialization in app.go.
var (
	BasePath      string
	Config        *models.GlobalConfig
	ConfigMgr     core.ConfigurationManager
	NewSession    SessionFactory
	FFmpegChecker integration.FFmpegChecker

	// GStreamerAvailable reports whether the binary was built with the
	// gstreamer tag.
	GStreamerAvailable bool
)

// Observability service instances, set during app initialization in app.go.
var (
	EventLog    observability.EventLog
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator
	Notifier    observability.Notifier
)
