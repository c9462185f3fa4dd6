package models

import "time"

// UploadTarget selects which collector receives finished recordings.
type UploadTarget string

const (
	UploadTargetHTTP UploadTarget = "http"
	UploadTargetS3   UploadTarget = "s3"
)

// CaptureBackend selects the platform media stack used to open devices.
type CaptureBackend string

const (
	BackendFFmpeg    CaptureBackend = "ffmpeg"
	BackendGStreamer CaptureBackend = "gstreamer"
)

// InterviewConfig controls the interview flow presented to the candidate.
type InterviewConfig struct {
	Duration       time.Duration `yaml:"duration" mapstructure:"duration"`
	TimerEnabled   bool          `yaml:"timer_enabled" mapstructure:"timer_enabled"`
	ChatEnabled    bool          `yaml:"chat_enabled" mapstructure:"chat_enabled"`
	ShareScreen    bool          `yaml:"share_screen" mapstructure:"share_screen"`
	RecordScreen   bool          `yaml:"record_screen" mapstructure:"record_screen"`
	EndOnShareStop bool          `yaml:"end_on_share_stop" mapstructure:"end_on_share_stop"`
}

// CaptureConfig selects devices and encoders.
type CaptureConfig struct {
	Backend      CaptureBackend `yaml:"backend" mapstructure:"backend"`
	VideoCodec   string         `yaml:"video_codec" mapstructure:"video_codec"`
	AudioCodec   string         `yaml:"audio_codec" mapstructure:"audio_codec"`
	CameraDevice string         `yaml:"camera_device,omitempty" mapstructure:"camera_device"`
	AudioDevice  string         `yaml:"audio_device,omitempty" mapstructure:"audio_device"`
	Display      string         `yaml:"display,omitempty" mapstructure:"display"`
	ChunkSize    int            `yaml:"chunk_size" mapstructure:"chunk_size"`
}

// UploadConfig describes where and how recordings are transmitted.
type UploadConfig struct {
	Target      UploadTarget  `yaml:"target" mapstructure:"target"`
	Endpoint    string        `yaml:"endpoint" mapstructure:"endpoint"`
	FieldName   string        `yaml:"field_name" mapstructure:"field_name"`
	ContentType string        `yaml:"content_type" mapstructure:"content_type"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff" mapstructure:"backoff"`
	S3Bucket    string        `yaml:"s3_bucket,omitempty" mapstructure:"s3_bucket"`
	S3Prefix    string        `yaml:"s3_prefix,omitempty" mapstructure:"s3_prefix"`
}

// SlackConfig holds Slack webhook settings.
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// AlertConfig holds alert thresholds.
type AlertConfig struct {
	MaxUploadFailures    int `yaml:"max_upload_failures" mapstructure:"max_upload_failures"`
	MaxPermissionDenials int `yaml:"max_permission_denials" mapstructure:"max_permission_denials"`
	WindowHours          int `yaml:"window_hours" mapstructure:"window_hours"`
	StuckUploadMinutes   int `yaml:"stuck_upload_minutes" mapstructure:"stuck_upload_minutes"`
}

// NotificationConfig groups alert delivery settings.
type NotificationConfig struct {
	Enabled bool        `yaml:"enabled" mapstructure:"enabled"`
	Slack   SlackConfig `yaml:"slack" mapstructure:"slack"`
	Alerts  AlertConfig `yaml:"alerts" mapstructure:"alerts"`
}

// GlobalConfig holds system-wide settings read from .icapconfig via Viper.
type GlobalConfig struct {
	Interview     InterviewConfig    `yaml:"interview" mapstructure:"interview"`
	Capture       CaptureConfig      `yaml:"capture" mapstructure:"capture"`
	Upload        UploadConfig       `yaml:"upload" mapstructure:"upload"`
	Notifications NotificationConfig `yaml:"notifications" mapstructure:"notifications"`
}
