// Package core contains the recording pipeline: media acquisition, the stream
// registry, capture sessions, upload contracts, the interview session
// controller and configuration.
package core

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pion/webrtc/v3"
	"github.com/spf13/viper"
	"github.com/valter-silva-au/interview-capture/pkg/models"
)

// ConfigFileName is the name of the YAML configuration file, without extension.
const ConfigFileName = ".icapconfig"

// ConfigurationManager loads and validates configuration from .icapconfig,
// an optional .env file and ICAP_* environment variables.
type ConfigurationManager interface {
	LoadGlobalConfig() (*models.GlobalConfig, error)
	ValidateConfig(cfg *models.GlobalConfig) error
}

// viperConfigManager implements ConfigurationManager using Viper.
type viperConfigManager struct {
	basePath string
}

// NewConfigurationManager creates a ConfigurationManager that reads files in basePath.
func NewConfigurationManager(basePath string) ConfigurationManager {
	return &viperConfigManager{basePath: basePath}
}

// DefaultGlobalConfig returns the built-in configuration.
func DefaultGlobalConfig() *models.GlobalConfig {
	return &models.GlobalConfig{
		Interview: models.InterviewConfig{
			Duration:     10 * time.Minute,
			TimerEnabled: true,
			ChatEnabled:  true,
			ShareScreen:  true,
		},
		Capture: models.CaptureConfig{
			Backend:    models.BackendFFmpeg,
			VideoCodec: webrtc.MimeTypeVP8,
			AudioCodec: webrtc.MimeTypeOpus,
			ChunkSize:  64 * 1024,
		},
		Upload: models.UploadConfig{
			Target:      models.UploadTargetHTTP,
			Endpoint:    "http://localhost:3000/api/upload",
			FieldName:   "file",
			ContentType: DefaultContentType,
			Timeout:     60 * time.Second,
			MaxAttempts: 1,
			Backoff:     2 * time.Second,
			S3Prefix:    "recordings",
		},
		Notifications: models.NotificationConfig{
			Alerts: models.AlertConfig{
				MaxUploadFailures:    3,
				MaxPermissionDenials: 5,
				WindowHours:          24,
				StuckUploadMinutes:   30,
			},
		},
	}
}

// LoadGlobalConfig reads .icapconfig from the base path. A missing file
// yields the defaults, still subject to environment overrides.
func (cm *viperConfigManager) LoadGlobalConfig() (*models.GlobalConfig, error) {
	// .env values become environment variables; existing ones win.
	_ = godotenv.Load(filepath.Join(cm.basePath, ".env"))

	def := DefaultGlobalConfig()

	v := viper.New()
	v.SetConfigName(ConfigFileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(cm.basePath)
	v.SetEnvPrefix("ICAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("interview.duration", def.Interview.Duration)
	v.SetDefault("interview.timer_enabled", def.Interview.TimerEnabled)
	v.SetDefault("interview.chat_enabled", def.Interview.ChatEnabled)
	v.SetDefault("interview.share_screen", def.Interview.ShareScreen)
	v.SetDefault("interview.record_screen", def.Interview.RecordScreen)
	v.SetDefault("interview.end_on_share_stop", def.Interview.EndOnShareStop)
	v.SetDefault("capture.backend", string(def.Capture.Backend))
	v.SetDefault("capture.video_codec", def.Capture.VideoCodec)
	v.SetDefault("capture.audio_codec", def.Capture.AudioCodec)
	v.SetDefault("capture.camera_device", def.Capture.CameraDevice)
	v.SetDefault("capture.audio_device", def.Capture.AudioDevice)
	v.SetDefault("capture.display", def.Capture.Display)
	v.SetDefault("capture.chunk_size", def.Capture.ChunkSize)
	v.SetDefault("upload.target", string(def.Upload.Target))
	v.SetDefault("upload.endpoint", def.Upload.Endpoint)
	v.SetDefault("upload.field_name", def.Upload.FieldName)
	v.SetDefault("upload.content_type", def.Upload.ContentType)
	v.SetDefault("upload.timeout", def.Upload.Timeout)
	v.SetDefault("upload.max_attempts", def.Upload.MaxAttempts)
	v.SetDefault("upload.backoff", def.Upload.Backoff)
	v.SetDefault("upload.s3_bucket", def.Upload.S3Bucket)
	v.SetDefault("upload.s3_prefix", def.Upload.S3Prefix)
	v.SetDefault("notifications.enabled", def.Notifications.Enabled)
	v.SetDefault("notifications.slack.webhook_url", def.Notifications.Slack.WebhookURL)
	v.SetDefault("notifications.alerts.max_upload_failures", def.Notifications.Alerts.MaxUploadFailures)
	v.SetDefault("notifications.alerts.max_permission_denials", def.Notifications.Alerts.MaxPermissionDenials)
	v.SetDefault("notifications.alerts.window_hours", def.Notifications.Alerts.WindowHours)
	v.SetDefault("notifications.alerts.stuck_upload_minutes", def.Notifications.Alerts.StuckUploadMinutes)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading %s: %w", ConfigFileName, err)
		}
	}

	cfg := &models.GlobalConfig{
		Interview: models.InterviewConfig{
			Duration:       v.GetDuration("interview.duration"),
			TimerEnabled:   v.GetBool("interview.timer_enabled"),
			ChatEnabled:    v.GetBool("interview.chat_enabled"),
			ShareScreen:    v.GetBool("interview.share_screen"),
			RecordScreen:   v.GetBool("interview.record_screen"),
			EndOnShareStop: v.GetBool("interview.end_on_share_stop"),
		},
		Capture: models.CaptureConfig{
			Backend:      models.CaptureBackend(v.GetString("capture.backend")),
			VideoCodec:   v.GetString("capture.video_codec"),
			AudioCodec:   v.GetString("capture.audio_codec"),
			CameraDevice: v.GetString("capture.camera_device"),
			AudioDevice:  v.GetString("capture.audio_device"),
			Display:      v.GetString("capture.display"),
			ChunkSize:    v.GetInt("capture.chunk_size"),
		},
		Upload: models.UploadConfig{
			Target:      models.UploadTarget(v.GetString("upload.target")),
			Endpoint:    v.GetString("upload.endpoint"),
			FieldName:   v.GetString("upload.field_name"),
			ContentType: v.GetString("upload.content_type"),
			Timeout:     v.GetDuration("upload.timeout"),
			MaxAttempts: v.GetInt("upload.max_attempts"),
			Backoff:     v.GetDuration("upload.backoff"),
			S3Bucket:    v.GetString("upload.s3_bucket"),
			S3Prefix:    v.GetString("upload.s3_prefix"),
		},
		Notifications: models.NotificationConfig{
			Enabled: v.GetBool("notifications.enabled"),
			Slack: models.SlackConfig{
				WebhookURL: v.GetString("notifications.slack.webhook_url"),
			},
			Alerts: models.AlertConfig{
				MaxUploadFailures:    v.GetInt("notifications.alerts.max_upload_failures"),
				MaxPermissionDenials: v.GetInt("notifications.alerts.max_permission_denials"),
				WindowHours:          v.GetInt("notifications.alerts.window_hours"),
				StuckUploadMinutes:   v.GetInt("notifications.alerts.stuck_upload_minutes"),
			},
		},
	}
	return cfg, nil
}

var validVideoCodecs = map[string]bool{
	strings.ToLower(webrtc.MimeTypeVP8): true,
	strings.ToLower(webrtc.MimeTypeVP9): true,
}

var validAudioCodecs = map[string]bool{
	strings.ToLower(webrtc.MimeTypeOpus): true,
}

// ValidateConfig checks the configuration and reports every invalid field.
func (cm *viperConfigManager) ValidateConfig(cfg *models.GlobalConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	var errs []string

	if cfg.Interview.Duration <= 0 {
		errs = append(errs, fmt.Sprintf("interview.duration must be positive, got %s", cfg.Interview.Duration))
	}

	switch cfg.Capture.Backend {
	case models.BackendFFmpeg, models.BackendGStreamer:
	default:
		errs = append(errs, fmt.Sprintf("capture.backend %q is invalid, must be one of: ffmpeg, gstreamer", cfg.Capture.Backend))
	}
	if !validVideoCodecs[strings.ToLower(cfg.Capture.VideoCodec)] {
		errs = append(errs, fmt.Sprintf("capture.video_codec %q is not supported in WebM, use %s or %s",
			cfg.Capture.VideoCodec, webrtc.MimeTypeVP8, webrtc.MimeTypeVP9))
	}
	if !validAudioCodecs[strings.ToLower(cfg.Capture.AudioCodec)] {
		errs = append(errs, fmt.Sprintf("capture.audio_codec %q is not supported in WebM, use %s",
			cfg.Capture.AudioCodec, webrtc.MimeTypeOpus))
	}
	if cfg.Capture.ChunkSize <= 0 {
		errs = append(errs, fmt.Sprintf("capture.chunk_size must be positive, got %d", cfg.Capture.ChunkSize))
	}

	switch cfg.Upload.Target {
	case models.UploadTargetHTTP:
		u, err := url.Parse(cfg.Upload.Endpoint)
		if cfg.Upload.Endpoint == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Sprintf("upload.endpoint %q must be an http or https URL", cfg.Upload.Endpoint))
		}
		if cfg.Upload.FieldName == "" {
			errs = append(errs, "upload.field_name must not be empty")
		}
	case models.UploadTargetS3:
		if cfg.Upload.S3Bucket == "" {
			errs = append(errs, "upload.s3_bucket must be set when upload.target is s3")
		}
	default:
		errs = append(errs, fmt.Sprintf("upload.target %q is invalid, must be one of: http, s3", cfg.Upload.Target))
	}
	if cfg.Upload.ContentType == "" {
		errs = append(errs, "upload.content_type must not be empty")
	}
	if cfg.Upload.MaxAttempts < 1 {
		errs = append(errs, fmt.Sprintf("upload.max_attempts must be at least 1, got %d", cfg.Upload.MaxAttempts))
	}
	if cfg.Upload.Timeout < 0 {
		errs = append(errs, fmt.Sprintf("upload.timeout must not be negative, got %s", cfg.Upload.Timeout))
	}
	if cfg.Upload.Backoff < 0 {
		errs = append(errs, fmt.Sprintf("upload.backoff must not be negative, got %s", cfg.Upload.Backoff))
	}

	if cfg.Notifications.Enabled && cfg.Notifications.Slack.WebhookURL == "" {
		errs = append(errs, "notifications.slack.webhook_url must be set when notifications are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
