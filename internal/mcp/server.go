// Package mcp provides an MCP (Model Context Protocol) server that exposes
// interview session history, metrics and alerts to MCP clients.
package mcp

import (
	"context"
	"fmt"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/valter-silva-au/interview-capture/internal/observability"
)

// Server wraps icap observability services and exposes them as MCP tools.
type Server struct {
	server      *gomcp.Server
	eventLog    observability.EventLog
	metricsCalc observability.MetricsCalculator
	alertEngine observability.AlertEngine
}

// NewServer creates a new MCP server. Any dependency may be nil if
// observability is disabled; the matching tools then report an error.
func NewServer(eventLog observability.EventLog, metricsCalc observability.MetricsCalculator, alertEngine observability.AlertEngine, version string) *Server {
	if version == "" {
		version = "dev"
	}

	s := &Server{
		eventLog:    eventLog,
		metricsCalc: metricsCalc,
		alertEngine: alertEngine,
	}

	s.server = gomcp.NewServer(
		&gomcp.Implementation{Name: "icap", Version: version},
		nil,
	)

	s.registerTools()

	return s
}

// Run starts the MCP server on stdio, blocking until the client disconnects
// or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// MCPServer returns the underlying mcp.Server for testing purposes.
func (s *Server) MCPServer() *gomcp.Server {
	return s.server
}

// --- Tool input/output types ---

type listSessionsInput struct {
	Since string `json:"since,omitempty" jsonschema:"time window (e.g. 7d, 30d, 24h). Defaults to 7d."`
	State string `json:"state,omitempty" jsonschema:"only return sessions in this state (instructions, permissions-pending, ready, recording, uploading, completed, failed)"`
}

type sessionOutput struct {
	ID             string `json:"id"`
	StartedAt      string `json:"started_at"`
	UpdatedAt      string `json:"updated_at"`
	State          string `json:"state"`
	Reason         string `json:"reason,omitempty"`
	BytesUploaded  int64  `json:"bytes_uploaded"`
	Uploads        int    `json:"uploads"`
	UploadFailures int    `json:"upload_failures"`
	Answers        int    `json:"answers"`
}

type listSessionsOutput struct {
	Sessions []sessionOutput `json:"sessions"`
	Count    int             `json:"count"`
}

type getSessionInput struct {
	SessionID string `json:"session_id" jsonschema:"required,the session identifier printed by icap record"`
}

type eventOutput struct {
	Time  string         `json:"time"`
	Level string         `json:"level"`
	Type  string         `json:"type"`
	Data  map[string]any `json:"data,omitempty"`
}

type getSessionOutput struct {
	Session sessionOutput `json:"session"`
	Events  []eventOutput `json:"events"`
}

type getMetricsInput struct {
	Since string `json:"since,omitempty" jsonschema:"time window for metrics (e.g. 7d, 30d, 24h). Defaults to 7d."`
}

type metricsOutput struct {
	SessionsStarted   int            `json:"sessions_started"`
	SessionsCompleted int            `json:"sessions_completed"`
	SessionsFailed    int            `json:"sessions_failed"`
	PermissionDenials int            `json:"permission_denials"`
	UploadsSucceeded  int            `json:"uploads_succeeded"`
	UploadsFailed     int            `json:"uploads_failed"`
	UploadSuccessRate float64        `json:"upload_success_rate"`
	BytesUploaded     int64          `json:"bytes_uploaded"`
	FailuresByReason  map[string]int `json:"failures_by_reason"`
	EventCount        int            `json:"event_count"`
	OldestEvent       string         `json:"oldest_event,omitempty"`
	NewestEvent       string         `json:"newest_event,omitempty"`
}

type getAlertsInput struct{}

type alertOutput struct {
	ID          string `json:"id"`
	Condition   string `json:"condition"`
	Severity    string `json:"severity"`
	Message     string `json:"message"`
	TriggeredAt string `json:"triggered_at"`
}

type getAlertsOutput struct {
	Alerts []alertOutput `json:"alerts"`
	Count  int           `json:"count"`
}

// --- Tool registration ---

func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "list_sessions",
		Description: "List recent interview sessions with their final state, bytes uploaded and failure reason, most recent first.",
	}, s.handleListSessions)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_session",
		Description: "Get one interview session summary together with every event recorded for it.",
	}, s.handleGetSession)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_metrics",
		Description: "Get aggregated metrics from the event log: sessions, permission denials, upload outcomes and failures by reason.",
	}, s.handleGetMetrics)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_alerts",
		Description: "Evaluate and return active alerts (repeated upload failures, permission denials, sessions stuck uploading).",
	}, s.handleGetAlerts)
}

// --- Tool handlers ---

func (s *Server) handleListSessions(_ context.Context, _ *gomcp.CallToolRequest, input listSessionsInput) (*gomcp.CallToolResult, listSessionsOutput, error) {
	if s.eventLog == nil {
		return errorResult("event log not available (observability may be disabled)"), listSessionsOutput{Sessions: []sessionOutput{}}, nil
	}

	since, err := parseSince(orDefault(input.Since, "7d"))
	if err != nil {
		return errorResult(fmt.Sprintf("parsing since duration: %s", err)), listSessionsOutput{Sessions: []sessionOutput{}}, nil
	}

	sessions, err := observability.ListSessions(s.eventLog, since)
	if err != nil {
		return errorResult(fmt.Sprintf("listing sessions: %s", err)), listSessionsOutput{Sessions: []sessionOutput{}}, nil
	}

	out := listSessionsOutput{Sessions: make([]sessionOutput, 0, len(sessions))}
	for _, sess := range sessions {
		if input.State != "" && sess.State != input.State {
			continue
		}
		out.Sessions = append(out.Sessions, sessionToOutput(sess))
	}
	out.Count = len(out.Sessions)
	return nil, out, nil
}

func (s *Server) handleGetSession(_ context.Context, _ *gomcp.CallToolRequest, input getSessionInput) (*gomcp.CallToolResult, getSessionOutput, error) {
	if input.SessionID == "" {
		return errorResult("session_id is required"), getSessionOutput{}, nil
	}
	if s.eventLog == nil {
		return errorResult("event log not available (observability may be disabled)"), getSessionOutput{}, nil
	}

	events, err := s.eventLog.Read(observability.EventFilter{SessionID: input.SessionID})
	if err != nil {
		return errorResult(fmt.Sprintf("reading events for session %s: %s", input.SessionID, err)), getSessionOutput{}, nil
	}
	summaries := observability.SummarizeSessions(events)
	if len(summaries) == 0 {
		return errorResult(fmt.Sprintf("session %s not found", input.SessionID)), getSessionOutput{}, nil
	}

	out := getSessionOutput{
		Session: sessionToOutput(summaries[0]),
		Events:  make([]eventOutput, len(events)),
	}
	for i, e := range events {
		out.Events[i] = eventOutput{
			Time:  e.Time.Format(time.RFC3339Nano),
			Level: e.Level,
			Type:  e.Type,
			Data:  e.Data,
		}
	}
	return nil, out, nil
}

func (s *Server) handleGetMetrics(_ context.Context, _ *gomcp.CallToolRequest, input getMetricsInput) (*gomcp.CallToolResult, metricsOutput, error) {
	if s.metricsCalc == nil {
		return errorResult("metrics calculator not available (observability may be disabled)"), emptyMetricsOutput(), nil
	}

	sinceTime, err := parseSince(orDefault(input.Since, "7d"))
	if err != nil {
		return errorResult(fmt.Sprintf("parsing since duration: %s", err)), emptyMetricsOutput(), nil
	}

	metrics, err := s.metricsCalc.Calculate(sinceTime)
	if err != nil {
		return errorResult(fmt.Sprintf("calculating metrics: %s", err)), emptyMetricsOutput(), nil
	}

	out := metricsOutput{
		SessionsStarted:   metrics.SessionsStarted,
		SessionsCompleted: metrics.SessionsCompleted,
		SessionsFailed:    metrics.SessionsFailed,
		PermissionDenials: metrics.PermissionDenials,
		UploadsSucceeded:  metrics.UploadsSucceeded,
		UploadsFailed:     metrics.UploadsFailed,
		UploadSuccessRate: metrics.UploadSuccessRate(),
		BytesUploaded:     metrics.BytesUploaded,
		FailuresByReason:  metrics.FailuresByReason,
		EventCount:        metrics.EventCount,
	}
	if out.FailuresByReason == nil {
		out.FailuresByReason = make(map[string]int)
	}
	if metrics.OldestEvent != nil {
		out.OldestEvent = metrics.OldestEvent.Format(time.RFC3339)
	}
	if metrics.NewestEvent != nil {
		out.NewestEvent = metrics.NewestEvent.Format(time.RFC3339)
	}

	return nil, out, nil
}

func (s *Server) handleGetAlerts(_ context.Context, _ *gomcp.CallToolRequest, _ getAlertsInput) (*gomcp.CallToolResult, getAlertsOutput, error) {
	if s.alertEngine == nil {
		return errorResult("alert engine not available (observability may be disabled)"), getAlertsOutput{Alerts: []alertOutput{}}, nil
	}

	alerts, err := s.alertEngine.Evaluate()
	if err != nil {
		return errorResult(fmt.Sprintf("evaluating alerts: %s", err)), getAlertsOutput{Alerts: []alertOutput{}}, nil
	}

	out := getAlertsOutput{
		Alerts: make([]alertOutput, len(alerts)),
		Count:  len(alerts),
	}
	for i, a := range alerts {
		out.Alerts[i] = alertOutput{
			ID:          a.ID,
			Condition:   a.Condition,
			Severity:    string(a.Severity),
			Message:     a.Message,
			TriggeredAt: a.TriggeredAt.Format(time.RFC3339),
		}
	}

	return nil, out, nil
}

// --- Helpers ---

func sessionToOutput(s observability.SessionSummary) sessionOutput {
	return sessionOutput{
		ID:             s.ID,
		StartedAt:      s.StartedAt.Format(time.RFC3339),
		UpdatedAt:      s.UpdatedAt.Format(time.RFC3339),
		State:          s.State,
		Reason:         s.Reason,
		BytesUploaded:  s.BytesUploaded,
		Uploads:        s.Uploads,
		UploadFailures: s.UploadFailures,
		Answers:        s.Answers,
	}
}

func emptyMetricsOutput() metricsOutput {
	return metricsOutput{FailuresByReason: make(map[string]int)}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func errorResult(msg string) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: msg}},
		IsError: true,
	}
}

// parseSince parses a human-friendly duration string like "7d", "30d", or "24h"
// into the corresponding time in the past.
func parseSince(s string) (time.Time, error) {
	now := time.Now().UTC()

	if len(s) < 2 {
		return time.Time{}, fmt.Errorf("invalid duration %q", s)
	}

	suffix := s[len(s)-1]
	numStr := s[:len(s)-1]
	var num int
	if _, err := fmt.Sscanf(numStr, "%d", &num); err != nil {
		return time.Time{}, fmt.Errorf("invalid duration %q: %w", s, err)
	}

	switch suffix {
	case 'd':
		return now.AddDate(0, 0, -num), nil
	case 'h':
		return now.Add(-time.Duration(num) * time.Hour), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported duration suffix %q (use d or h)", string(suffix))
	}
}
