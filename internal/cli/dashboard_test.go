package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/valter-silva-au/interview-capture/internal/observability"
)

// mockDashboardMetrics implements observability.MetricsCalculator.
type mockDashboardMetrics struct {
	metrics *observability.Metrics
	err     error
}

func (m *mockDashboardMetrics) Calculate(_ time.Time) (*observability.Metrics, error) {
	return m.metrics, m.err
}

// mockDashboardAlerts implements observability.AlertEngine.
type mockDashboardAlerts struct {
	alerts []observability.Alert
	err    error
}

func (m *mockDashboardAlerts) Evaluate() ([]observability.Alert, error) {
	return m.alerts, m.err
}

func TestDashboardModel_Init(t *testing.T) {
	m := newDashboardModel()

	if m.activePanel != panelSessions {
		t.Errorf("expected activePanel = %d, got %d", panelSessions, m.activePanel)
	}
	if !m.loading {
		t.Error("expected loading = true on init")
	}
	if m.stateCounts == nil {
		t.Error("expected stateCounts to be initialized")
	}

	// Init should return a command (loadData).
	cmd := m.Init()
	if cmd == nil {
		t.Error("expected Init to return a non-nil command")
	}
}

func TestDashboardModel_KeyQ(t *testing.T) {
	m := newDashboardModel()
	m.loading = false

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("expected tea.Quit command from q key")
	}

	// Verify the command produces a quit message.
	msg := cmd()
	if _, ok := msg.(tea.QuitMsg); !ok {
		t.Errorf("expected tea.QuitMsg, got %T", msg)
	}

	// Model should be unchanged.
	dm := updated.(dashboardModel)
	if dm.activePanel != panelSessions {
		t.Errorf("expected activePanel unchanged, got %d", dm.activePanel)
	}
}

func TestDashboardModel_KeyEsc(t *testing.T) {
	m := newDashboardModel()
	m.loading = false

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEscape})
	if cmd == nil {
		t.Fatal("expected tea.Quit command from esc key")
	}
	msg := cmd()
	if _, ok := msg.(tea.QuitMsg); !ok {
		t.Errorf("expected tea.QuitMsg, got %T", msg)
	}
}

func TestDashboardModel_KeyTab(t *testing.T) {
	m := newDashboardModel()
	if m.activePanel != panelSessions {
		t.Fatalf("expected initial panel = %d, got %d", panelSessions, m.activePanel)
	}

	// Tab should cycle forward.
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyTab})
	if cmd != nil {
		t.Error("expected no command from tab key")
	}
	dm := updated.(dashboardModel)
	if dm.activePanel != panelMetrics {
		t.Errorf("expected panel %d after first tab, got %d", panelMetrics, dm.activePanel)
	}

	// Tab again.
	updated, _ = dm.Update(tea.KeyMsg{Type: tea.KeyTab})
	dm = updated.(dashboardModel)
	if dm.activePanel != panelAlerts {
		t.Errorf("expected panel %d after second tab, got %d", panelAlerts, dm.activePanel)
	}

	// Tab wraps around.
	updated, _ = dm.Update(tea.KeyMsg{Type: tea.KeyTab})
	dm = updated.(dashboardModel)
	if dm.activePanel != panelSessions {
		t.Errorf("expected panel %d after wrap, got %d", panelSessions, dm.activePanel)
	}
}

func TestDashboardModel_KeyShiftTab(t *testing.T) {
	m := newDashboardModel()

	// Shift+Tab should cycle backward (wrap from 0 to panelCount-1).
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyShiftTab})
	if cmd != nil {
		t.Error("expected no command from shift+tab")
	}
	dm := updated.(dashboardModel)
	if dm.activePanel != panelAlerts {
		t.Errorf("expected panel %d after shift+tab from 0, got %d", panelAlerts, dm.activePanel)
	}
}

func TestDashboardModel_KeyR(t *testing.T) {
	m := newDashboardModel()
	m.loading = false

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})
	dm := updated.(dashboardModel)
	if !dm.loading {
		t.Error("expected loading = true after pressing r")
	}
	if cmd == nil {
		t.Error("expected a command (loadData) from r key")
	}
}

func TestDashboardModel_DataLoaded(t *testing.T) {
	m := newDashboardModel()

	msg := dataLoadedMsg{
		stateCounts: map[string]int{
			"recording": 1,
			"completed": 5,
			"failed":    2,
		},
		recent: []sessionSnapshot{{id: "3f2a9c1e-aaaa", state: "recording", started: "01-15 10:30"}},
		metrics: &metricsSnapshot{
			sessionsStarted:   8,
			sessionsCompleted: 5,
			sessionsFailed:    2,
			eventCount:        42,
		},
		alerts: []alertSnapshot{
			{severity: "high", message: "4 uploads failed", time: "2026-01-15 10:30 UTC"},
			{severity: "low", message: "session stuck uploading", time: "2026-01-15 10:30 UTC"},
		},
	}

	updated, cmd := m.Update(msg)
	if cmd != nil {
		t.Error("expected no command after dataLoadedMsg")
	}

	dm := updated.(dashboardModel)
	if dm.loading {
		t.Error("expected loading = false after data loaded")
	}
	if dm.err != nil {
		t.Errorf("expected no error, got: %v", dm.err)
	}
	if dm.stateCounts["completed"] != 5 {
		t.Errorf("expected completed = 5, got %d", dm.stateCounts["completed"])
	}
	if len(dm.recent) != 1 {
		t.Errorf("expected 1 recent session, got %d", len(dm.recent))
	}
	if dm.metricsData == nil {
		t.Fatal("expected metricsData to be set")
	}
	if dm.metricsData.sessionsStarted != 8 {
		t.Errorf("expected sessionsStarted = 8, got %d", dm.metricsData.sessionsStarted)
	}
	if dm.metricsData.eventCount != 42 {
		t.Errorf("expected eventCount = 42, got %d", dm.metricsData.eventCount)
	}
	if len(dm.alerts) != 2 {
		t.Errorf("expected 2 alerts, got %d", len(dm.alerts))
	}
}

func TestDashboardModel_DataLoadedError(t *testing.T) {
	m := newDashboardModel()

	msg := dataLoadedMsg{
		err: errors.New("connection failed"),
	}

	updated, _ := m.Update(msg)
	dm := updated.(dashboardModel)
	if dm.loading {
		t.Error("expected loading = false after error")
	}
	if dm.err == nil {
		t.Fatal("expected error to be set")
	}
	if dm.err.Error() != "connection failed" {
		t.Errorf("expected error 'connection failed', got %q", dm.err.Error())
	}
}

func TestDashboardModel_WindowResize(t *testing.T) {
	m := newDashboardModel()

	updated, cmd := m.Update(tea.WindowSizeMsg{Width: 200, Height: 50})
	if cmd != nil {
		t.Error("expected no command from window resize")
	}
	dm := updated.(dashboardModel)
	if dm.width != 200 {
		t.Errorf("expected width = 200, got %d", dm.width)
	}
	if dm.height != 50 {
		t.Errorf("expected height = 50, got %d", dm.height)
	}
}

func TestDashboardModel_ViewLoading(t *testing.T) {
	m := newDashboardModel()
	m.width = 100
	m.height = 40

	view := m.View()
	if !contains(view, "Loading data") {
		t.Error("expected loading view to contain 'Loading data'")
	}
}

func TestDashboardModel_ViewWithData(t *testing.T) {
	m := newDashboardModel()
	m.width = 130
	m.height = 40
	m.loading = false
	m.stateCounts = map[string]int{
		"uploading": 2,
		"completed": 1,
	}
	m.recent = []sessionSnapshot{{id: "3f2a9c1e-aaaa", state: "uploading", started: "01-15 10:30"}}
	m.metricsData = &metricsSnapshot{
		sessionsStarted:   5,
		sessionsCompleted: 3,
		eventCount:        20,
	}
	m.alerts = []alertSnapshot{
		{severity: "high", message: "4 uploads failed"},
	}

	view := m.View()
	if !contains(view, "Sessions") {
		t.Error("expected view to contain 'Sessions' panel")
	}
	if !contains(view, "Metrics") {
		t.Error("expected view to contain 'Metrics' panel")
	}
	if !contains(view, "Alerts") {
		t.Error("expected view to contain 'Alerts' panel")
	}
	if !contains(view, "uploading") {
		t.Error("expected view to contain 'uploading' state")
	}
	if !contains(view, "3f2a9c1e") {
		t.Error("expected view to contain the short session id")
	}
}

func TestDashboardModel_ViewVerticalLayout(t *testing.T) {
	m := newDashboardModel()
	m.width = 80 // Less than 120, should use vertical layout.
	m.height = 40
	m.loading = false
	m.stateCounts = map[string]int{"failed": 1}

	view := m.View()
	if !contains(view, "Sessions") {
		t.Error("expected vertical layout view to contain 'Sessions'")
	}
}

func TestDashboardLoadData(t *testing.T) {
	// Save and restore package-level vars.
	origEventLog := EventLog
	origMetrics := MetricsCalc
	origAlerts := AlertEngine
	defer func() {
		EventLog = origEventLog
		MetricsCalc = origMetrics
		AlertEngine = origAlerts
	}()

	log, err := observability.NewJSONLEventLog(filepath.Join(t.TempDir(), "events.jsonl"))
	if err != nil {
		t.Fatalf("creating event log: %v", err)
	}
	defer log.Close()

	now := time.Now().UTC()
	for i, state := range []string{"completed", "completed", "failed"} {
		e := observability.Event{
			Time: now.Add(-time.Duration(i) * time.Minute),
			Type: "session.transition",
			Data: map[string]any{"session_id": fmt.Sprintf("s%d", i), "to": state},
		}
		if err := log.Write(e); err != nil {
			t.Fatalf("writing event: %v", err)
		}
	}
	EventLog = log

	MetricsCalc = &mockDashboardMetrics{
		metrics: &observability.Metrics{
			SessionsStarted:   3,
			SessionsCompleted: 2,
			SessionsFailed:    1,
			EventCount:        15,
			OldestEvent:       &now,
			NewestEvent:       &now,
		},
	}

	AlertEngine = &mockDashboardAlerts{
		alerts: []observability.Alert{
			{Severity: observability.SeverityLow, Message: "session stuck uploading", TriggeredAt: now},
			{Severity: observability.SeverityHigh, Message: "4 uploads failed", TriggeredAt: now},
		},
	}

	msg := loadData()
	data, ok := msg.(dataLoadedMsg)
	if !ok {
		t.Fatalf("expected dataLoadedMsg, got %T", msg)
	}
	if data.err != nil {
		t.Fatalf("unexpected error: %v", data.err)
	}
	if data.stateCounts["completed"] != 2 || data.stateCounts["failed"] != 1 {
		t.Errorf("unexpected state counts %v", data.stateCounts)
	}
	if len(data.recent) != 3 || data.recent[0].id != "s0" {
		t.Errorf("unexpected recent sessions %+v", data.recent)
	}
	if data.metrics == nil {
		t.Fatal("expected metrics to be set")
	}
	if data.metrics.sessionsStarted != 3 {
		t.Errorf("expected sessionsStarted = 3, got %d", data.metrics.sessionsStarted)
	}
	if len(data.alerts) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(data.alerts))
	}
	if data.alerts[0].severity != "high" {
		t.Errorf("expected high severity first, got %q", data.alerts[0].severity)
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("3f2a9c1e-1111-2222"); got != "3f2a9c1e" {
		t.Errorf("shortID = %q", got)
	}
	if got := shortID("plain"); got != "plain" {
		t.Errorf("shortID = %q", got)
	}
}

func TestDashboardCmd_NilMetricsCalc(t *testing.T) {
	origMetrics := MetricsCalc
	defer func() { MetricsCalc = origMetrics }()
	MetricsCalc = nil

	err := dashboardCmd.RunE(dashboardCmd, nil)
	if err == nil {
		t.Fatal("expected error when MetricsCalc is nil")
	}
	if !contains(err.Error(), "metrics calculator not initialized") {
		t.Errorf("unexpected error message: %s", err.Error())
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && searchSubstring(s, substr)
}

func searchSubstring(s, sub string) bool {
	for i := 0; i <= len(s)-len(sub); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
