package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/valter-silva-au/interview-capture/internal/core"
	"github.com/valter-silva-au/interview-capture/pkg/models"
)

var (
	recordHeadless bool
	recordYes      bool
)

// closeTimeout bounds how long the command waits for a pending upload after
// the interview screen is closed.
var closeTimeout = 5 * time.Minute

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Run a recorded mock interview",
	Long: `Run a timed mock interview. icap asks for camera and microphone access,
optionally asks you to share your screen, records until you end the interview
or the timer runs out, and uploads the recording.

With --headless the interview runs without the terminal UI: devices are
granted without prompting and Ctrl+C ends the interview.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if NewSession == nil {
			return fmt.Errorf("session factory not initialized")
		}
		if recordHeadless {
			return runHeadless(cmd)
		}
		return runInteractive(cmd)
	},
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func runInteractive(cmd *cobra.Command) error {
	prompter := &teaPrompter{}
	var pp core.PermissionPrompter = prompter
	if recordYes {
		pp = nil
	}
	ctrl, err := NewSession(pp)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	ctx, cancel := context.WithCancel(commandContext(cmd))
	p := tea.NewProgram(newInterviewModel(ctx, ctrl), tea.WithAltScreen(), tea.WithContext(ctx))
	prompter.attach(p.Send)
	_, runErr := p.Run()
	cancel()

	if err := closeSession(ctrl, cmd.OutOrStdout()); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("running interview: %w", runErr)
	}
	return sessionError(ctrl)
}

func runHeadless(cmd *cobra.Command) error {
	ctrl, err := NewSession(nil)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	transitions := ctrl.Subscribe()
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for tr := range transitions {
			printTransition(out, tr)
		}
	}()

	startErr := ctrl.RequestPermissions(ctx)
	if startErr == nil {
		startErr = ctrl.Begin(ctx)
	}
	if startErr == nil {
		select {
		case <-ctx.Done():
			_ = ctrl.End("interrupted")
		case <-ctrl.Done():
		}
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	closeErr := ctrl.Close(closeCtx)
	<-printed

	if closeErr != nil {
		return fmt.Errorf("closing session: %w", closeErr)
	}
	printSessionResult(out, ctrl)
	if err := sessionError(ctrl); err != nil {
		return err
	}
	if startErr != nil && !errors.Is(startErr, core.ErrUserCancelled) {
		return fmt.Errorf("interview did not start: %s", core.UserMessage(startErr))
	}
	return nil
}

func printTransition(w io.Writer, tr models.Transition) {
	if tr.From == tr.To {
		fmt.Fprintf(w, "[%s] %s\n", tr.To, tr.Reason)
		return
	}
	fmt.Fprintf(w, "[%s] %s -> %s: %s\n", tr.At.Format("15:04:05"), tr.From, tr.To, tr.Reason)
	if tr.To == models.StateRecording {
		fmt.Fprintln(w, "Recording. Press Ctrl+C to end the interview.")
	}
}

func closeSession(ctrl *core.SessionController, out io.Writer) error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := ctrl.Close(ctx); err != nil {
		return fmt.Errorf("closing session: %w", err)
	}
	printSessionResult(out, ctrl)
	return nil
}

func printSessionResult(w io.Writer, ctrl *core.SessionController) {
	fmt.Fprintf(w, "Session %s: %s\n", ctrl.ID(), ctrl.State())
	for _, ack := range ctrl.Acks() {
		line := fmt.Sprintf("  uploaded %d bytes in %d attempt(s)", ack.Bytes, ack.Attempts)
		if ack.StatusCode != 0 {
			line += fmt.Sprintf(", status %d", ack.StatusCode)
		}
		if ack.Location != "" {
			line += ", " + ack.Location
		}
		fmt.Fprintln(w, line)
	}
	if answers := ctrl.Answers(); len(answers) > 0 {
		fmt.Fprintf(w, "  %d answer(s) submitted\n", len(answers))
	}
}

// sessionError turns a failed session into the command's error. Quitting
// before the interview started is not an error.
func sessionError(ctrl *core.SessionController) error {
	if ctrl.State() != models.StateFailed {
		return nil
	}
	err := ctrl.LastError()
	if errors.Is(err, core.ErrUserCancelled) {
		return nil
	}
	return fmt.Errorf("interview failed: %s", core.UserMessage(err))
}

func init() {
	recordCmd.Flags().BoolVar(&recordHeadless, "headless", false, "Run without the terminal UI, granting device access automatically")
	recordCmd.Flags().BoolVarP(&recordYes, "yes", "y", false, "Grant device access without prompting")
	rootCmd.AddCommand(recordCmd)
}
