package observability

import (
	"testing"
	"time"
)

func TestMetricsCalculator_CountsSessionOutcomes(t *testing.T) {
	log := openTestLog(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	writeEvents(t, log,
		sessionEvent(base, "session.started", "s1", nil),
		sessionEvent(base.Add(time.Minute), "upload.succeeded", "s1", map[string]any{"bytes": 2048}),
		sessionEvent(base.Add(time.Minute), "session.transition", "s1", map[string]any{"from": "uploading", "to": "completed", "reason": "recording uploaded"}),
		sessionEvent(base.Add(2*time.Minute), "session.started", "s2", nil),
		sessionEvent(base.Add(3*time.Minute), "upload.failed", "s2", map[string]any{"status_code": 500}),
		sessionEvent(base.Add(3*time.Minute), "session.transition", "s2", map[string]any{"from": "uploading", "to": "failed", "reason": "upload failed: status 500"}),
		sessionEvent(base.Add(4*time.Minute), "permission.denied", "s3", map[string]any{"kind": "camera"}),
		sessionEvent(base.Add(4*time.Minute), "session.transition", "s3", map[string]any{"from": "permissions-pending", "to": "failed", "reason": "permission denied"}),
		sessionEvent(base.Add(5*time.Minute), "screen.ended", "s4", nil),
	)

	m, err := NewMetricsCalculator(log).Calculate(base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("calculating metrics: %v", err)
	}

	if m.SessionsStarted != 2 {
		t.Errorf("SessionsStarted = %d, want 2", m.SessionsStarted)
	}
	if m.SessionsCompleted != 1 || m.SessionsFailed != 2 {
		t.Errorf("completed/failed = %d/%d, want 1/2", m.SessionsCompleted, m.SessionsFailed)
	}
	if m.PermissionDenials != 1 {
		t.Errorf("PermissionDenials = %d, want 1", m.PermissionDenials)
	}
	if m.UploadsSucceeded != 1 || m.UploadsFailed != 1 {
		t.Errorf("uploads = %d/%d, want 1/1", m.UploadsSucceeded, m.UploadsFailed)
	}
	if m.BytesUploaded != 2048 {
		t.Errorf("BytesUploaded = %d, want 2048", m.BytesUploaded)
	}
	if m.FailuresByReason["upload failed"] != 1 || m.FailuresByReason["permission denied"] != 1 {
		t.Errorf("unexpected FailuresByReason %v", m.FailuresByReason)
	}
	if m.ScreenShareEnded != 1 {
		t.Errorf("ScreenShareEnded = %d, want 1", m.ScreenShareEnded)
	}
	if m.UploadSuccessRate() != 0.5 {
		t.Errorf("UploadSuccessRate = %v, want 0.5", m.UploadSuccessRate())
	}
	if m.EventCount != 9 {
		t.Errorf("EventCount = %d, want 9", m.EventCount)
	}
	if m.OldestEvent == nil || !m.OldestEvent.Equal(base) {
		t.Errorf("OldestEvent = %v, want %v", m.OldestEvent, base)
	}
}

func TestMetricsCalculator_SinceExcludesOlderEvents(t *testing.T) {
	log := openTestLog(t)
	now := time.Now().UTC()

	writeEvents(t, log,
		sessionEvent(now.Add(-72*time.Hour), "session.started", "old", nil),
		sessionEvent(now.Add(-time.Hour), "session.started", "new", nil),
	)

	m, err := NewMetricsCalculator(log).Calculate(now.Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("calculating metrics: %v", err)
	}
	if m.SessionsStarted != 1 {
		t.Errorf("SessionsStarted = %d, want 1", m.SessionsStarted)
	}
}

func TestMetricsCalculator_EmptyLog(t *testing.T) {
	m, err := NewMetricsCalculator(openTestLog(t)).Calculate(time.Time{})
	if err != nil {
		t.Fatalf("calculating metrics: %v", err)
	}
	if m.EventCount != 0 || m.OldestEvent != nil || m.UploadSuccessRate() != 0 {
		t.Errorf("expected empty metrics, got %+v", m)
	}
}
