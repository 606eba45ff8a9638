package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/playbookd/internal/transcript"
)

var inspectSession string

var transcriptCmd = &cobra.Command{
	Use:   "transcript",
	Short: "Inspect transcript sinks",
}

var transcriptInspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Replay a transcript's records",
	Long: `Replay the records of a JSONL transcript in order.

Examples:
  pbctl transcript inspect transcript.jsonl
  pbctl transcript inspect transcript.jsonl --session sess-ab12cd34`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	transcriptInspectCmd.Flags().StringVar(&inspectSession, "session", "", "only show records for this session id")
	transcriptCmd.AddCommand(transcriptInspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	records, err := transcript.Read(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	shown := 0
	for _, rec := range records {
		if inspectSession != "" && rec.SessionID != inspectSession {
			continue
		}
		shown++

		ts := rec.Timestamp.Format("15:04:05.000")
		switch rec.Kind {
		case transcript.KindPhaseTransition:
			tr := rec.Transition
			if tr == nil {
				fmt.Fprintf(out, "%s  %-10s (malformed transition record)\n", ts, rec.SessionID)
				continue
			}
			fmt.Fprintf(out, "%s  %-10s %s -> %s (retry %d) %s\n",
				ts, rec.SessionID, tr.From, tr.To, tr.RetryCount, tr.Reason)
		case transcript.KindRoleEvent:
			fmt.Fprintf(out, "%s  %-10s %s role=%s\n", ts, rec.SessionID, rec.Event, rec.Role)
		default:
			fmt.Fprintf(out, "%s  %-10s %s\n", ts, rec.SessionID, rec.Kind)
		}
	}

	fmt.Fprintf(out, "\n%d records", shown)
	if inspectSession != "" {
		fmt.Fprintf(out, " (session %s)", inspectSession)
	}
	fmt.Fprintln(out)
	return nil
}
