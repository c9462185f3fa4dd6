package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/valter-silva-au/interview-capture/internal/observability"
)

// Dashboard panel indices.
const (
	panelSessions = iota
	panelMetrics
	panelAlerts
	panelCount
)

type dashboardModel struct {
	activePanel int
	width       int
	height      int

	// Data.
	stateCounts map[string]int
	recent      []sessionSnapshot
	metricsData *metricsSnapshot
	alerts      []alertSnapshot

	// State.
	loading bool
	err     error
}

type sessionSnapshot struct {
	id      string
	state   string
	started string
}

type metricsSnapshot struct {
	sessionsStarted   int
	sessionsCompleted int
	sessionsFailed    int
	uploadsSucceeded  int
	uploadsFailed     int
	bytesUploaded     int64
	eventCount        int
}

type alertSnapshot struct {
	severity string
	message  string
	time     string
}

// dataLoadedMsg carries loaded data back to the model.
type dataLoadedMsg struct {
	stateCounts map[string]int
	recent      []sessionSnapshot
	metrics     *metricsSnapshot
	alerts      []alertSnapshot
	err         error
}

// Style definitions.
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(1, 2)

	activePanelStyle = lipgloss.NewStyle().
				BorderStyle(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62")).
				Padding(1, 2)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			MarginBottom(1)

	stateRecording = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	stateCompleted = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	stateFailed    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	stateUploading = lipgloss.NewStyle().Foreground(lipgloss.Color("141"))
	stateWaiting   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	severityHigh   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	severityMedium = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	severityLow    = lipgloss.NewStyle().Foreground(lipgloss.Color("69"))

	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func newDashboardModel() dashboardModel {
	return dashboardModel{
		activePanel: panelSessions,
		loading:     true,
		stateCounts: make(map[string]int),
	}
}

func (m dashboardModel) Init() tea.Cmd {
	return loadData
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "tab":
			m.activePanel = (m.activePanel + 1) % panelCount
			return m, nil
		case "shift+tab":
			m.activePanel = (m.activePanel - 1 + panelCount) % panelCount
			return m, nil
		case "r":
			m.loading = true
			return m, loadData
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case dataLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.stateCounts = msg.stateCounts
		m.recent = msg.recent
		m.metricsData = msg.metrics
		m.alerts = msg.alerts
		m.err = nil
		return m, nil
	}

	return m, nil
}

func (m dashboardModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	title := titleStyle.Render(" icap Dashboard ")
	help := helpStyle.Render("tab: switch panel | r: refresh | q: quit")

	if m.loading {
		return fmt.Sprintf("%s\n\n  Loading data...\n\n%s", title, help)
	}

	if m.err != nil {
		return fmt.Sprintf("%s\n\n  Error: %s\n\n%s", title, m.err, help)
	}

	sessionsPanel := m.renderSessionsPanel()
	metricsPanel := m.renderMetricsPanel()
	alertsPanel := m.renderAlertsPanel()

	// Available width for panels after accounting for margins.
	availableWidth := m.width - 2

	var body string
	if availableWidth > 120 {
		// Horizontal layout: three columns.
		colWidth := availableWidth / 3
		sessionsPanel = m.applyPanelStyle(panelSessions, sessionsPanel, colWidth-4)
		metricsPanel = m.applyPanelStyle(panelMetrics, metricsPanel, colWidth-4)
		alertsPanel = m.applyPanelStyle(panelAlerts, alertsPanel, colWidth-4)
		body = lipgloss.JoinHorizontal(lipgloss.Top, sessionsPanel, metricsPanel, alertsPanel)
	} else {
		// Vertical layout: stacked.
		panelWidth := availableWidth - 4
		if panelWidth < 20 {
			panelWidth = 20
		}
		sessionsPanel = m.applyPanelStyle(panelSessions, sessionsPanel, panelWidth)
		metricsPanel = m.applyPanelStyle(panelMetrics, metricsPanel, panelWidth)
		alertsPanel = m.applyPanelStyle(panelAlerts, alertsPanel, panelWidth)
		body = lipgloss.JoinVertical(lipgloss.Left, sessionsPanel, metricsPanel, alertsPanel)
	}

	return fmt.Sprintf("%s\n\n%s\n\n%s", title, body, help)
}

func (m dashboardModel) applyPanelStyle(panel int, content string, width int) string {
	style := panelStyle
	if m.activePanel == panel {
		style = activePanelStyle
	}
	return style.Width(width).Render(content)
}

func (m dashboardModel) renderSessionsPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Sessions (7d)"))
	b.WriteString("\n")

	if len(m.stateCounts) == 0 {
		b.WriteString("  No sessions found.")
		return b.String()
	}

	// Display in lifecycle order.
	order := []string{"recording", "uploading", "ready", "permissions-pending", "instructions", "completed", "failed"}
	for _, state := range order {
		count, ok := m.stateCounts[state]
		if !ok || count == 0 {
			continue
		}
		label := fmt.Sprintf("  %-20s %d", state, count)
		b.WriteString(styleForState(state).Render(label))
		b.WriteString("\n")
	}

	if len(m.recent) > 0 {
		b.WriteString("\n  Recent:\n")
		for _, s := range m.recent {
			b.WriteString(fmt.Sprintf("  %s %s ", s.started, shortID(s.id)))
			b.WriteString(styleForState(s.state).Render(s.state))
			b.WriteString("\n")
		}
	}

	return b.String()
}

func (m dashboardModel) renderMetricsPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Metrics (7d)"))
	b.WriteString("\n")

	if m.metricsData == nil {
		b.WriteString("  No metrics available.")
		return b.String()
	}

	md := m.metricsData
	lines := []struct {
		label string
		value string
	}{
		{"Events", fmt.Sprint(md.eventCount)},
		{"Started", fmt.Sprint(md.sessionsStarted)},
		{"Completed", fmt.Sprint(md.sessionsCompleted)},
		{"Failed", fmt.Sprint(md.sessionsFailed)},
		{"Uploads", fmt.Sprintf("%d ok / %d failed", md.uploadsSucceeded, md.uploadsFailed)},
		{"Uploaded", formatBytes(md.bytesUploaded)},
	}

	for _, l := range lines {
		b.WriteString(fmt.Sprintf("  %-14s %s\n", l.label, l.value))
	}

	return b.String()
}

func (m dashboardModel) renderAlertsPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Alerts"))
	b.WriteString("\n")

	if len(m.alerts) == 0 {
		b.WriteString("  No active alerts.")
		return b.String()
	}

	for _, a := range m.alerts {
		sev := styleForSeverity(a.severity).Render(fmt.Sprintf("[%s]", strings.ToUpper(a.severity)))
		b.WriteString(fmt.Sprintf("  %s %s\n", sev, a.message))
	}

	b.WriteString(fmt.Sprintf("\n  Total: %d alert(s)", len(m.alerts)))

	return b.String()
}

func styleForState(state string) lipgloss.Style {
	switch state {
	case "recording":
		return stateRecording
	case "completed":
		return stateCompleted
	case "failed":
		return stateFailed
	case "uploading":
		return stateUploading
	case "instructions", "permissions-pending", "ready":
		return stateWaiting
	default:
		return lipgloss.NewStyle()
	}
}

// shortID keeps the first block of a UUID.
func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}

func styleForSeverity(severity string) lipgloss.Style {
	switch strings.ToLower(severity) {
	case "high":
		return severityHigh
	case "medium":
		return severityMedium
	case "low":
		return severityLow
	default:
		return lipgloss.NewStyle()
	}
}

// recentSessionLimit caps the sessions listed in the sessions panel.
const recentSessionLimit = 5

func loadData() tea.Msg {
	result := dataLoadedMsg{
		stateCounts: make(map[string]int),
	}
	since := time.Now().UTC().AddDate(0, 0, -7)

	// Load sessions from the event log.
	if EventLog != nil {
		sessions, err := observability.ListSessions(EventLog, since)
		if err != nil {
			result.err = fmt.Errorf("loading sessions: %w", err)
			return result
		}
		for i, s := range sessions {
			result.stateCounts[s.State]++
			if i < recentSessionLimit {
				result.recent = append(result.recent, sessionSnapshot{
					id:      s.ID,
					state:   s.State,
					started: s.StartedAt.Format("01-02 15:04"),
				})
			}
		}
	}

	// Load metrics from MetricsCalc.
	if MetricsCalc != nil {
		metrics, err := MetricsCalc.Calculate(since)
		if err != nil {
			result.err = fmt.Errorf("loading metrics: %w", err)
			return result
		}
		result.metrics = &metricsSnapshot{
			sessionsStarted:   metrics.SessionsStarted,
			sessionsCompleted: metrics.SessionsCompleted,
			sessionsFailed:    metrics.SessionsFailed,
			uploadsSucceeded:  metrics.UploadsSucceeded,
			uploadsFailed:     metrics.UploadsFailed,
			bytesUploaded:     metrics.BytesUploaded,
			eventCount:        metrics.EventCount,
		}
	}

	// Load alerts from AlertEngine.
	if AlertEngine != nil {
		alerts, err := AlertEngine.Evaluate()
		if err != nil {
			result.err = fmt.Errorf("loading alerts: %w", err)
			return result
		}
		result.alerts = make([]alertSnapshot, 0, len(alerts))

		// Sort alerts by severity: high first, then medium, then low.
		sort.Slice(alerts, func(i, j int) bool {
			return severityRank(string(alerts[i].Severity)) < severityRank(string(alerts[j].Severity))
		})

		for _, a := range alerts {
			result.alerts = append(result.alerts, alertSnapshot{
				severity: string(a.Severity),
				message:  a.Message,
				time:     a.TriggeredAt.Format("2006-01-02 15:04 UTC"),
			})
		}
	}

	return result
}

func severityRank(s string) int {
	switch s {
	case "high":
		return 0
	case "medium":
		return 1
	case "low":
		return 2
	default:
		return 3
	}
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Interactive TUI dashboard for interview sessions, metrics and alerts",
	Long: `Launch an interactive terminal dashboard showing recent interview
sessions, upload metrics, and alerts.

Navigate between panels with Tab, refresh with r, quit with q.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if MetricsCalc == nil {
			return fmt.Errorf("metrics calculator not initialized (observability may be disabled)")
		}
		p := tea.NewProgram(newDashboardModel(), tea.WithAltScreen())
		_, err := p.Run()
		return err
	},
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
}
