package observability

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func openTestLog(t *testing.T) EventLog {
	t.Helper()
	log, err := NewJSONLEventLog(filepath.Join(t.TempDir(), "events.jsonl"))
	if err != nil {
		t.Fatalf("creating event log: %v", err)
	}
	t.Cleanup(func() { _ = log.Close() })
	return log
}

func writeEvents(t *testing.T, log EventLog, events ...Event) {
	t.Helper()
	for _, e := range events {
		if err := log.Write(e); err != nil {
			t.Fatalf("writing event: %v", err)
		}
	}
}

func sessionEvent(at time.Time, eventType, sessionID string, data map[string]any) Event {
	if data == nil {
		data = map[string]any{}
	}
	data["session_id"] = sessionID
	return Event{Time: at, Level: "INFO", Type: eventType, Message: eventType, Data: data}
}

func TestEventLog_WriteAndRead(t *testing.T) {
	log := openTestLog(t)
	now := time.Now().UTC().Truncate(time.Millisecond)

	writeEvents(t, log,
		sessionEvent(now, "session.started", "s1", map[string]any{"duration_seconds": 600}),
		Event{Time: now.Add(time.Second), Level: "WARN", Type: "upload.failed", Message: "upload.failed",
			Data: map[string]any{"session_id": "s1", "status_code": 500}},
	)

	result, err := log.Read(EventFilter{})
	if err != nil {
		t.Fatalf("reading events: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("expected 2 events, got %d", len(result))
	}
	if result[0].Type != "session.started" {
		t.Errorf("expected type session.started, got %s", result[0].Type)
	}
	if result[0].SessionID() != "s1" {
		t.Errorf("expected session s1, got %q", result[0].SessionID())
	}
	if result[1].Level != "WARN" {
		t.Errorf("expected level WARN, got %s", result[1].Level)
	}
	if code, _ := result[1].Data["status_code"].(float64); code != 500 {
		t.Errorf("expected status_code 500, got %v", result[1].Data["status_code"])
	}
}

func TestEventLog_Filters(t *testing.T) {
	log := openTestLog(t)
	now := time.Now().UTC()

	writeEvents(t, log,
		sessionEvent(now.Add(-2*time.Hour), "session.started", "s1", nil),
		sessionEvent(now.Add(-time.Hour), "upload.succeeded", "s1", nil),
		sessionEvent(now, "upload.failed", "s2", nil),
		sessionEvent(now, "permission.denied", "s3", nil),
	)

	tests := []struct {
		name   string
		filter EventFilter
		want   int
	}{
		{"exact type", EventFilter{Type: "upload.failed"}, 1},
		{"type prefix", EventFilter{Type: "upload.*"}, 2},
		{"session", EventFilter{SessionID: "s1"}, 2},
		{"since", EventFilter{Since: ptrTime(now.Add(-90 * time.Minute))}, 3},
		{"until", EventFilter{Until: ptrTime(now.Add(-90 * time.Minute))}, 1},
		{"combined", EventFilter{Type: "upload.*", SessionID: "s2"}, 1},
		{"no match", EventFilter{Level: "ERROR"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := log.Read(tt.filter)
			if err != nil {
				t.Fatalf("reading events: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("expected %d events, got %d", tt.want, len(got))
			}
		})
	}
}

func ptrTime(t time.Time) *time.Time { return &t }

func TestEventLog_SkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	content := `{"time":"2026-01-02T10:00:00Z","level":"INFO","type":"session.started","msg":"x"}
not json
{"time":"2026-01-02T10:01:00Z","level":"INFO","type":"upload.succeeded","msg":"y"}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing log: %v", err)
	}

	log, err := NewJSONLEventLog(path)
	if err != nil {
		t.Fatalf("creating event log: %v", err)
	}
	defer log.Close()

	events, err := log.Read(EventFilter{})
	if err != nil {
		t.Fatalf("reading events: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("expected 2 valid events, got %d", len(events))
	}
}

func TestEventLog_ConcurrentWrites(t *testing.T) {
	log := openTestLog(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = log.Write(sessionEvent(time.Now().UTC(), "session.transition", "s1", map[string]any{"to": "recording"}))
		}()
	}
	wg.Wait()

	events, err := log.Read(EventFilter{})
	if err != nil {
		t.Fatalf("reading events: %v", err)
	}
	if len(events) != 20 {
		t.Errorf("expected 20 events, got %d", len(events))
	}
}
