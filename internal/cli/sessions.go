package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/interview-capture/internal/observability"
)

var (
	sessionsJSON  bool
	sessionsSince string
	sessionsState string
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recent interview sessions",
	Long: `List interview sessions reconstructed from the event log, most recent
first. Use --state to show only sessions in a given state, e.g. failed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if EventLog == nil {
			return fmt.Errorf("event log not initialized (observability may be disabled)")
		}

		since, err := parseSinceDuration(sessionsSince)
		if err != nil {
			return fmt.Errorf("parsing --since: %w", err)
		}
		sessions, err := observability.ListSessions(EventLog, since)
		if err != nil {
			return fmt.Errorf("listing sessions: %w", err)
		}
		if sessionsState != "" {
			filtered := sessions[:0]
			for _, s := range sessions {
				if s.State == sessionsState {
					filtered = append(filtered, s)
				}
			}
			sessions = filtered
		}

		out := cmd.OutOrStdout()
		if sessionsJSON {
			data, err := json.MarshalIndent(sessions, "", "  ")
			if err != nil {
				return fmt.Errorf("formatting sessions as JSON: %w", err)
			}
			fmt.Fprintln(out, string(data))
			return nil
		}

		if len(sessions) == 0 {
			fmt.Fprintln(out, "No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SESSION\tSTARTED\tSTATE\tUPLOADED\tANSWERS\tREASON")
		for _, s := range sessions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
				s.ID,
				s.StartedAt.Format("2006-01-02 15:04"),
				s.State,
				formatBytes(s.BytesUploaded),
				s.Answers,
				s.Reason,
			)
		}
		return w.Flush()
	},
}

func init() {
	sessionsCmd.Flags().BoolVar(&sessionsJSON, "json", false, "Output sessions as JSON")
	sessionsCmd.Flags().StringVar(&sessionsSince, "since", "7d", "Time window (e.g. 7d, 30d, 24h)")
	sessionsCmd.Flags().StringVar(&sessionsState, "state", "", "Only show sessions in this state")
	rootCmd.AddCommand(sessionsCmd)
}
