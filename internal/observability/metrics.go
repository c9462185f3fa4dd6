package observability

import (
	"fmt"
	"time"
)

// Metrics holds calculated metrics derived from the event log.
type Metrics struct {
	SessionsStarted   int            `json:"sessions_started"`
	SessionsCompleted int            `json:"sessions_completed"`
	SessionsFailed    int            `json:"sessions_failed"`
	PermissionDenials int            `json:"permission_denials"`
	CapturesFailed    int            `json:"captures_failed"`
	UploadsSucceeded  int            `json:"uploads_succeeded"`
	UploadsFailed     int            `json:"uploads_failed"`
	BytesUploaded     int64          `json:"bytes_uploaded"`
	ScreenShareEnded  int            `json:"screen_share_ended"`
	FailuresByReason  map[string]int `json:"failures_by_reason"`
	EventCount        int            `json:"event_count"`
	OldestEvent       *time.Time     `json:"oldest_event,omitempty"`
	NewestEvent       *time.Time     `json:"newest_event,omitempty"`
}

// UploadSuccessRate returns the share of upload attempts that succeeded, or
// zero when nothing was uploaded.
func (m *Metrics) UploadSuccessRate() float64 {
	total := m.UploadsSucceeded + m.UploadsFailed
	if total == 0 {
		return 0
	}
	return float64(m.UploadsSucceeded) / float64(total)
}

// MetricsCalculator derives metrics from the event log.
type MetricsCalculator interface {
	Calculate(since time.Time) (*Metrics, error)
}

// metricsCalculator implements MetricsCalculator by reading from an EventLog.
type metricsCalculator struct {
	eventLog EventLog
}

// NewMetricsCalculator creates a new MetricsCalculator that reads from the given EventLog.
func NewMetricsCalculator(eventLog EventLog) MetricsCalculator {
	return &metricsCalculator{eventLog: eventLog}
}

// Calculate reads all events since the given time and aggregates them into metrics.
func (mc *metricsCalculator) Calculate(since time.Time) (*Metrics, error) {
	events, err := mc.eventLog.Read(EventFilter{Since: &since})
	if err != nil {
		return nil, fmt.Errorf("reading events for metrics: %w", err)
	}

	m := &Metrics{FailuresByReason: make(map[string]int)}
	m.EventCount = len(events)

	for i, event := range events {
		if i == 0 {
			t := event.Time
			m.OldestEvent = &t
		}
		t := event.Time
		m.NewestEvent = &t

		switch event.Type {
		case "session.started":
			m.SessionsStarted++
		case "session.transition":
			switch event.Data["to"] {
			case "completed":
				m.SessionsCompleted++
			case "failed":
				m.SessionsFailed++
				m.FailuresByReason[failureReason(event)]++
			}
		case "permission.denied":
			m.PermissionDenials++
		case "capture.failed":
			m.CapturesFailed++
		case "upload.succeeded":
			m.UploadsSucceeded++
			m.BytesUploaded += int64(numberField(event.Data, "bytes"))
		case "upload.failed":
			m.UploadsFailed++
		case "screen.ended":
			m.ScreenShareEnded++
		}
	}

	return m, nil
}

// failureReason keeps the part of a transition reason before the first
// colon, e.g. "upload failed" from "upload failed: status 500".
func failureReason(event Event) string {
	reason, _ := event.Data["reason"].(string)
	for i := 0; i < len(reason); i++ {
		if reason[i] == ':' {
			return reason[:i]
		}
	}
	if reason == "" {
		return "unknown"
	}
	return reason
}

// numberField reads a numeric field that may have been decoded from JSON as
// float64 or written in-process as an int.
func numberField(data map[string]any, key string) float64 {
	switch v := data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}
