package cli

import (
	"context"
	"fmt"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/mill/internal/journal"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Journal string
	Session string
	Project string
	Outcome string
	Limit   int
}

// HistoryEntry is one journal entry in JSON output.
type HistoryEntry struct {
	Seq       int64  `json:"seq"`
	SessionID string `json:"session_id"`
	Project   string `json:"project"`
	Path      string `json:"path"`
	Kind      string `json:"kind"`
	Processor string `json:"processor,omitempty"`
	Outcome   string `json:"outcome"`
	Message   string `json:"message,omitempty"`
	Synthetic bool   `json:"synthetic,omitempty"`
}

var validOutcomes = []string{
	string(journal.OutcomeOK),
	string(journal.OutcomeFailed),
	string(journal.OutcomeNoop),
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent dispatches from the journal",
		Long: `Show the most recent processor outcomes recorded by watch (and by build
when --journal is given), oldest first.

Examples:
  mill history
  mill history --outcome failed
  mill history --project widgets --limit 200 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", DefaultJournal, "journal path")
	cmd.Flags().StringVar(&opts.Session, "session", "", "only entries of this session")
	cmd.Flags().StringVar(&opts.Project, "project", "", "only entries of this module")
	cmd.Flags().StringVar(&opts.Outcome, "outcome", "", "only entries with this outcome (ok|failed|noop)")
	cmd.Flags().IntVar(&opts.Limit, "limit", journal.DefaultLimit, "maximum number of entries")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
	}

	if opts.Outcome != "" && !slices.Contains(validOutcomes, opts.Outcome) {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid outcome %q: must be one of %v", opts.Outcome, validOutcomes))
	}
	if opts.Limit <= 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid limit %d: must be positive", opts.Limit))
	}

	dir := opts.Dir
	if dir == "" {
		dir = "."
	}
	path := journalPath(opts.Journal, dir)
	if _, err := os.Stat(path); err != nil {
		_ = formatter.Error(ErrCodeJournal, fmt.Sprintf("journal not found: %s", path), nil)
		return WrapExitError(ExitCommandError, "journal not found", err)
	}

	j, err := openJournal(path)
	if err != nil {
		return err
	}
	defer j.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	entries, err := j.Recent(ctx, journal.Filter{
		SessionID: opts.Session,
		Project:   opts.Project,
		Outcome:   journal.Outcome(opts.Outcome),
		Limit:     opts.Limit,
	})
	if err != nil {
		_ = formatter.Error(ErrCodeJournal, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	result := make([]HistoryEntry, len(entries))
	for i, e := range entries {
		result[i] = HistoryEntry{
			Seq:       e.Seq,
			SessionID: e.SessionID,
			Project:   e.Project,
			Path:      e.Path,
			Kind:      string(e.Kind),
			Processor: e.Processor,
			Outcome:   string(e.Outcome),
			Message:   e.Message,
			Synthetic: e.Synthetic,
		}
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	return printHistory(cmd, result)
}

func printHistory(cmd *cobra.Command, entries []HistoryEntry) error {
	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "No entries.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tPROJECT\tKIND\tPROCESSOR\tOUTCOME\tPATH")
	for _, e := range entries {
		proc := e.Processor
		if proc == "" {
			proc = "-"
		}
		kind := e.Kind
		if e.Synthetic {
			kind += "*"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", e.Seq, e.Project, kind, proc, e.Outcome, e.Path)
		if e.Message != "" {
			fmt.Fprintf(tw, "\t\t\t\t\t%s\n", e.Message)
		}
	}
	return tw.Flush()
}
