package observability

import (
	"fmt"
	"time"
)

// AlertSeverity represents the urgency of an alert.
type AlertSeverity string

const (
	SeverityHigh   AlertSeverity = "high"
	SeverityMedium AlertSeverity = "medium"
	SeverityLow    AlertSeverity = "low"
)

// Alert represents a triggered alert condition.
type Alert struct {
	ID          string        `json:"id"`
	Condition   string        `json:"condition"`
	Severity    AlertSeverity `json:"severity"`
	Message     string        `json:"message"`
	TriggeredAt time.Time     `json:"triggered_at"`
}

// AlertThresholds configures when alerts should fire. Counts are compared
// against events inside the trailing WindowHours.
type AlertThresholds struct {
	MaxUploadFailures    int `yaml:"max_upload_failures" json:"max_upload_failures"`
	MaxPermissionDenials int `yaml:"max_permission_denials" json:"max_permission_denials"`
	WindowHours          int `yaml:"window_hours" json:"window_hours"`
	StuckUploadMinutes   int `yaml:"stuck_upload_minutes" json:"stuck_upload_minutes"`
}

// DefaultAlertThresholds returns the default alert thresholds.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		MaxUploadFailures:    3,
		MaxPermissionDenials: 5,
		WindowHours:          24,
		StuckUploadMinutes:   30,
	}
}

// AlertEngine evaluates alert conditions against the event log.
type AlertEngine interface {
	Evaluate() ([]Alert, error)
}

// alertEngine implements AlertEngine by reading events and checking thresholds.
type alertEngine struct {
	eventLog   EventLog
	thresholds AlertThresholds
	now        func() time.Time
}

// NewAlertEngine creates a new AlertEngine with the given EventLog and thresholds.
func NewAlertEngine(eventLog EventLog, thresholds AlertThresholds) AlertEngine {
	return &alertEngine{
		eventLog:   eventLog,
		thresholds: thresholds,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate reads events and checks all alert conditions, returning any triggered alerts.
func (ae *alertEngine) Evaluate() ([]Alert, error) {
	now := ae.now()
	var alerts []Alert

	uploadAlerts, err := ae.checkUploadFailures(now)
	if err != nil {
		return nil, fmt.Errorf("checking upload failures: %w", err)
	}
	alerts = append(alerts, uploadAlerts...)

	permissionAlerts, err := ae.checkPermissionDenials(now)
	if err != nil {
		return nil, fmt.Errorf("checking permission denials: %w", err)
	}
	alerts = append(alerts, permissionAlerts...)

	stuckAlerts, err := ae.checkStuckUploads(now)
	if err != nil {
		return nil, fmt.Errorf("checking stuck uploads: %w", err)
	}
	alerts = append(alerts, stuckAlerts...)

	return alerts, nil
}

func (ae *alertEngine) window(now time.Time) time.Time {
	return now.Add(-time.Duration(ae.thresholds.WindowHours) * time.Hour)
}

// checkUploadFailures fires when more uploads failed inside the window than allowed.
func (ae *alertEngine) checkUploadFailures(now time.Time) ([]Alert, error) {
	since := ae.window(now)
	events, err := ae.eventLog.Read(EventFilter{Type: "upload.failed", Since: &since})
	if err != nil {
		return nil, err
	}
	if len(events) <= ae.thresholds.MaxUploadFailures {
		return nil, nil
	}
	return []Alert{{
		ID:        "upload-failures",
		Condition: "upload_failures_exceeded",
		Severity:  SeverityHigh,
		Message: fmt.Sprintf("%d uploads failed in the last %d hours, exceeding the maximum of %d; recordings were lost",
			len(events), ae.thresholds.WindowHours, ae.thresholds.MaxUploadFailures),
		TriggeredAt: now,
	}}, nil
}

// checkPermissionDenials fires when candidates keep refusing device access.
func (ae *alertEngine) checkPermissionDenials(now time.Time) ([]Alert, error) {
	since := ae.window(now)
	events, err := ae.eventLog.Read(EventFilter{Type: "permission.denied", Since: &since})
	if err != nil {
		return nil, err
	}
	if len(events) <= ae.thresholds.MaxPermissionDenials {
		return nil, nil
	}
	return []Alert{{
		ID:        "permission-denials",
		Condition: "permission_denials_exceeded",
		Severity:  SeverityMedium,
		Message: fmt.Sprintf("%d permission requests were denied in the last %d hours, exceeding the maximum of %d",
			len(events), ae.thresholds.WindowHours, ae.thresholds.MaxPermissionDenials),
		TriggeredAt: now,
	}}, nil
}

// checkStuckUploads looks for sessions whose last transition was into
// uploading longer ago than the threshold.
func (ae *alertEngine) checkStuckUploads(now time.Time) ([]Alert, error) {
	events, err := ae.eventLog.Read(EventFilter{Type: "session.transition"})
	if err != nil {
		return nil, err
	}

	type sessionState struct {
		state     string
		changedAt time.Time
	}
	sessions := make(map[string]*sessionState)
	for _, event := range events {
		id := event.SessionID()
		to, _ := event.Data["to"].(string)
		if id == "" || to == "" {
			continue
		}
		sessions[id] = &sessionState{state: to, changedAt: event.Time}
	}

	threshold := time.Duration(ae.thresholds.StuckUploadMinutes) * time.Minute
	var alerts []Alert
	for id, st := range sessions {
		if st.state == "uploading" && now.Sub(st.changedAt) > threshold {
			alerts = append(alerts, Alert{
				ID:          fmt.Sprintf("stuck-%s", id),
				Condition:   "upload_stuck",
				Severity:    SeverityLow,
				Message:     fmt.Sprintf("session %s has been uploading for more than %d minutes", id, ae.thresholds.StuckUploadMinutes),
				TriggeredAt: now,
			})
		}
	}
	return alerts, nil
}
