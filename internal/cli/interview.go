package cli

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/valter-silva-au/interview-capture/internal/core"
	"github.com/valter-silva-au/interview-capture/pkg/models"
)

// permissionRequestMsg asks the candidate to allow access to a device. The
// model answers on reply exactly once.
type permissionRequestMsg struct {
	kind  models.MediaKind
	reply chan error
}

// teaPrompter implements core.PermissionPrompter by asking inside the running
// bubbletea program.
type teaPrompter struct {
	mu   sync.Mutex
	send func(tea.Msg)
}

func (p *teaPrompter) attach(send func(tea.Msg)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.send = send
}

func (p *teaPrompter) Confirm(ctx context.Context, kind models.MediaKind) error {
	p.mu.Lock()
	send := p.send
	p.mu.Unlock()
	if send == nil {
		return fmt.Errorf("no terminal to ask for %s access: %w", kind, core.ErrPermissionDenied)
	}

	reply := make(chan error, 1)
	send(permissionRequestMsg{kind: kind, reply: reply})
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type transitionMsg models.Transition

type transitionsClosedMsg struct{}

// actionResultMsg carries the result of a controller call made off the
// update loop.
type actionResultMsg struct {
	err error
}

type clockMsg time.Time

type interviewModel struct {
	ctx         context.Context
	ctrl        *core.SessionController
	transitions <-chan models.Transition

	state     models.ControllerState
	remaining time.Duration
	prompt    *permissionRequestMsg
	answer    []rune
	answers   int
	busy      bool
	notice    string
	errMsg    string
	width     int
}

var (
	recordingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	noticeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	promptStyle    = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
)

func newInterviewModel(ctx context.Context, ctrl *core.SessionController) interviewModel {
	return interviewModel{
		ctx:         ctx,
		ctrl:        ctrl,
		transitions: ctrl.Subscribe(),
		state:       ctrl.State(),
		remaining:   ctrl.Remaining(),
	}
}

func (m interviewModel) Init() tea.Cmd {
	return tea.Batch(waitForTransition(m.transitions), clockTick())
}

func waitForTransition(ch <-chan models.Transition) tea.Cmd {
	return func() tea.Msg {
		tr, ok := <-ch
		if !ok {
			return transitionsClosedMsg{}
		}
		return transitionMsg(tr)
	}
}

func clockTick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return clockMsg(t) })
}

func (m interviewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case permissionRequestMsg:
		m.prompt = &msg
		return m, nil

	case transitionMsg:
		if msg.From == msg.To {
			m.notice = msg.Reason
		} else {
			m.state = msg.To
			m.notice = ""
		}
		return m, waitForTransition(m.transitions)

	case transitionsClosedMsg:
		m.state = m.ctrl.State()
		if m.state == models.StateFailed {
			m.errMsg = core.UserMessage(m.ctrl.LastError())
		}
		return m, nil

	case actionResultMsg:
		m.busy = false
		m.state = m.ctrl.State()
		if msg.err != nil {
			m.errMsg = core.UserMessage(msg.err)
		} else {
			m.errMsg = ""
		}
		return m, nil

	case clockMsg:
		m.remaining = m.ctrl.Remaining()
		if m.state.Terminal() {
			return m, nil
		}
		return m, clockTick()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m interviewModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		if m.prompt != nil {
			m.prompt.reply <- context.Canceled
			m.prompt = nil
		}
		return m, tea.Quit
	}

	if m.prompt != nil {
		switch msg.String() {
		case "y", "Y", "enter":
			m.prompt.reply <- nil
		case "n", "N":
			m.prompt.reply <- fmt.Errorf("%s access refused: %w", m.prompt.kind, core.ErrPermissionDenied)
		case "esc":
			m.prompt.reply <- context.Canceled
		default:
			return m, nil
		}
		m.prompt = nil
		return m, nil
	}

	switch m.state {
	case models.StateInstructions, models.StateReady:
		switch msg.String() {
		case "enter":
			if m.busy {
				return m, nil
			}
			m.busy = true
			if m.state == models.StateInstructions {
				return m, m.call(m.ctrl.RequestPermissions)
			}
			return m, m.call(m.ctrl.Begin)
		case "q", "esc":
			return m, tea.Quit
		}

	case models.StateRecording:
		return m.handleRecordingKey(msg)

	case models.StateCompleted, models.StateFailed:
		switch msg.String() {
		case "q", "esc", "enter":
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m interviewModel) handleRecordingKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlE:
		ctrl := m.ctrl
		return m, func() tea.Msg {
			return actionResultMsg{err: ctrl.End("ended by candidate")}
		}
	}

	if !m.ctrl.Options().ChatEnabled {
		return m, nil
	}

	switch msg.Type {
	case tea.KeyEnter:
		if err := m.ctrl.SubmitAnswer(string(m.answer)); err != nil {
			m.errMsg = err.Error()
			return m, nil
		}
		m.answer = nil
		m.answers++
		m.errMsg = ""
	case tea.KeyBackspace:
		if len(m.answer) > 0 {
			m.answer = m.answer[:len(m.answer)-1]
		}
	case tea.KeySpace:
		m.answer = append(m.answer, ' ')
	case tea.KeyRunes:
		m.answer = append(m.answer, msg.Runes...)
	}
	return m, nil
}

// call runs a blocking controller operation off the update loop.
func (m interviewModel) call(fn func(context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return actionResultMsg{err: fn(ctx)}
	}
}

func (m interviewModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(" icap Interview "))
	b.WriteString("\n\n")

	opts := m.ctrl.Options()
	switch m.state {
	case models.StateInstructions:
		b.WriteString(fmt.Sprintf("  This mock interview lasts %s.\n", formatRemaining(opts.Duration)))
		b.WriteString("  Your camera and microphone will be recorded")
		if opts.RecordScreen {
			b.WriteString(", together with your screen")
		}
		b.WriteString(".\n")
		if opts.ShareScreen || opts.RecordScreen {
			b.WriteString("  You will be asked to share your screen when the interview starts.\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("  enter: allow devices | q: quit"))

	case models.StatePermissionsPending:
		b.WriteString("  Requesting camera and microphone access...")

	case models.StateReady:
		b.WriteString(successStyle.Render("  Camera and microphone are ready."))
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("  enter: start interview | q: quit"))

	case models.StateRecording:
		b.WriteString(recordingStyle.Render("  ● REC"))
		if opts.TimerEnabled {
			b.WriteString(fmt.Sprintf("  %s remaining", formatRemaining(m.remaining)))
		}
		b.WriteString("\n\n")
		if opts.ChatEnabled {
			b.WriteString(fmt.Sprintf("  Answers submitted: %d\n", m.answers))
			b.WriteString(fmt.Sprintf("  > %s_\n\n", string(m.answer)))
			b.WriteString(helpStyle.Render("  enter: submit answer | ctrl+e: end interview"))
		} else {
			b.WriteString(helpStyle.Render("  ctrl+e: end interview"))
		}

	case models.StateUploading:
		b.WriteString("  Uploading your recording...")

	case models.StateCompleted:
		b.WriteString(successStyle.Render("  Your interview was recorded and uploaded. Thank you."))
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("  q: quit"))

	case models.StateFailed:
		b.WriteString(errorStyle.Render("  The interview could not be completed."))
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("  q: quit"))
	}

	if m.prompt != nil {
		b.WriteString("\n\n")
		b.WriteString(promptStyle.Render(fmt.Sprintf("Allow icap to use %s? [y/n]", promptSubject(m.prompt.kind))))
	}
	if m.notice != "" {
		b.WriteString("\n\n  ")
		b.WriteString(noticeStyle.Render(m.notice))
	}
	if m.errMsg != "" {
		b.WriteString("\n\n  ")
		b.WriteString(errorStyle.Render(m.errMsg))
	}
	b.WriteString("\n")
	return b.String()
}

func promptSubject(kind models.MediaKind) string {
	if kind == models.MediaScreen {
		return "your screen"
	}
	return "your camera and microphone"
}

// formatRemaining renders a duration as mm:ss, rounding partial seconds up.
func formatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int((d + time.Second - 1) / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}
