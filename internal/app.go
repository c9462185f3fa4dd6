// Package internal provides the App struct that wires all components of the
// interview capture system together and initializes the CLI layer.
package internal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/valter-silva-au/interview-capture/internal/cli"
	"github.com/valter-silva-au/interview-capture/internal/core"
	"github.com/valter-silva-au/interview-capture/internal/gstcapture"
	"github.com/valter-silva-au/interview-capture/internal/integration"
	"github.com/valter-silva-au/interview-capture/internal/observability"
	"github.com/valter-silva-au/interview-capture/pkg/models"
)

const (
	eventLogFile = ".icap_events.jsonl"
	logFile      = ".icap.log"
)

// App holds all service dependencies for the interview capture system.
type App struct {
	BasePath string
	Config   *models.GlobalConfig

	// Configuration
	ConfigMgr core.ConfigurationManager

	// Capture and upload
	Backend    core.DeviceBackend
	Dispatcher core.UploadDispatcher

	// Observability
	EventLog    observability.EventLog
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator
	Notifier    observability.Notifier

	logOut io.Closer
}

// NewApp creates and wires all components. basePath is the directory holding
// .icapconfig, the event log and the diagnostic log (typically ~/.icap or the
// current directory).
func NewApp(basePath string) (*App, error) {
	app := &App{BasePath: basePath}

	// --- Configuration ---
	app.ConfigMgr = core.NewConfigurationManager(basePath)
	globalCfg, err := app.ConfigMgr.LoadGlobalConfig()
	if err != nil {
		// Fall back to defaults so doctor and config validate can still run.
		globalCfg = core.DefaultGlobalConfig()
	}
	app.Config = globalCfg

	// --- Logging ---
	logOut, err := os.OpenFile(filepath.Join(basePath, logFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err == nil {
		app.logOut = logOut
		slog.SetDefault(slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: logLevel()})))
	} else {
		// Non-fatal: keep logging out of the terminal UI.
		slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	}

	// --- Observability ---
	app.EventLog, err = observability.NewJSONLEventLog(filepath.Join(basePath, eventLogFile))
	if err != nil {
		// Non-fatal: disable observability if log can't be created.
		slog.Warn("event log disabled", "error", err)
		app.EventLog = nil
	}
	if app.EventLog != nil {
		app.AlertEngine = observability.NewAlertEngine(app.EventLog, alertThresholds(globalCfg.Notifications.Alerts))
		app.MetricsCalc = observability.NewMetricsCalculator(app.EventLog)
	}
	if globalCfg.Notifications.Enabled && globalCfg.Notifications.Slack.WebhookURL != "" {
		app.Notifier = observability.NewSlackNotifier(globalCfg.Notifications.Slack.WebhookURL)
	}

	// --- Capture backend ---
	switch globalCfg.Capture.Backend {
	case models.BackendGStreamer:
		app.Backend = gstcapture.NewBackend(integration.GStreamerOptionsFromConfig(globalCfg.Capture))
	default:
		app.Backend = integration.NewFFmpegBackend(integration.FFmpegOptionsFromConfig(globalCfg.Capture))
	}

	var evtAdapter core.EventLogger
	if app.EventLog != nil {
		evtAdapter = &eventLogAdapter{log: app.EventLog}
	}

	// --- Wire CLI package-level variables ---
	cli.BasePath = basePath
	cli.Config = globalCfg
	cli.ConfigMgr = app.ConfigMgr
	cli.FFmpegChecker = integration.NewFFmpegChecker(integration.FFmpegOptionsFromConfig(globalCfg.Capture).Binary)
	cli.GStreamerAvailable = gstcapture.Available

	cli.EventLog = app.EventLog
	cli.AlertEngine = app.AlertEngine
	cli.MetricsCalc = app.MetricsCalc
	cli.Notifier = app.Notifier

	cli.NewSession = func(prompter core.PermissionPrompter) (*core.SessionController, error) {
		dispatcher, err := app.dispatcher()
		if err != nil {
			return nil, err
		}
		opts := core.ControllerOptionsFromConfig(globalCfg.Interview, globalCfg.Upload.ContentType)
		gateway := core.NewMediaGateway(app.Backend, prompter)
		return core.NewSessionController(gateway, dispatcher, evtAdapter, opts), nil
	}

	return app, nil
}

// dispatcher builds the upload dispatcher on first use. The S3 client loads
// AWS credentials, which only the record command needs.
func (a *App) dispatcher() (core.UploadDispatcher, error) {
	if a.Dispatcher != nil {
		return a.Dispatcher, nil
	}
	up := a.Config.Upload

	var next core.UploadDispatcher
	switch up.Target {
	case models.UploadTargetS3:
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s3d, err := integration.NewS3Dispatcher(ctx, up.S3Bucket, up.S3Prefix, up.Timeout)
		if err != nil {
			return nil, fmt.Errorf("creating s3 dispatcher: %w", err)
		}
		next = s3d
	default:
		next = integration.NewHTTPDispatcher(up.Endpoint, up.FieldName, up.Timeout)
	}

	a.Dispatcher = integration.NewRetryingDispatcher(next, core.RetryPolicy{
		MaxAttempts: up.MaxAttempts,
		Backoff:     up.Backoff,
	})
	return a.Dispatcher, nil
}

// Close releases resources held by the App, such as the event log file handle.
// It is safe to call Close on an App whose EventLog is nil.
func (a *App) Close() error {
	var err error
	if a.EventLog != nil {
		err = a.EventLog.Close()
	}
	if a.logOut != nil {
		if cerr := a.logOut.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func alertThresholds(cfg models.AlertConfig) observability.AlertThresholds {
	thresholds := observability.DefaultAlertThresholds()
	if cfg.MaxUploadFailures > 0 {
		thresholds.MaxUploadFailures = cfg.MaxUploadFailures
	}
	if cfg.MaxPermissionDenials > 0 {
		thresholds.MaxPermissionDenials = cfg.MaxPermissionDenials
	}
	if cfg.WindowHours > 0 {
		thresholds.WindowHours = cfg.WindowHours
	}
	if cfg.StuckUploadMinutes > 0 {
		thresholds.StuckUploadMinutes = cfg.StuckUploadMinutes
	}
	return thresholds
}

// logLevel reads ICAP_LOG_LEVEL (debug, info, warn, error).
func logLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(os.Getenv("ICAP_LOG_LEVEL"))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// ResolveBasePath determines the data directory. It checks ICAP_HOME, then
// walks up from the current directory looking for .icapconfig.
func ResolveBasePath() string {
	if home := os.Getenv("ICAP_HOME"); home != "" {
		return home
	}
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	for {
		for _, name := range []string{core.ConfigFileName, core.ConfigFileName + ".yaml"} {
			if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
				return dir
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	// Fall back to cwd.
	cwd, _ := os.Getwd()
	return cwd
}

// --- Adapters ---

// eventLogAdapter adapts observability.EventLog to core.EventLogger.
type eventLogAdapter struct {
	log observability.EventLog
}

func (a *eventLogAdapter) LogEvent(eventType string, data map[string]any) error {
	return a.log.Write(observability.Event{
		Time:    time.Now().UTC(),
		Level:   eventLevel(eventType, data),
		Type:    eventType,
		Message: eventType,
		Data:    data,
	})
}

func eventLevel(eventType string, data map[string]any) string {
	switch {
	case strings.HasSuffix(eventType, ".failed"), eventType == "permission.denied":
		return "WARN"
	case eventType == "session.transition" && data["to"] == string(models.StateFailed):
		return "ERROR"
	default:
		return "INFO"
	}
}
