package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/mill/internal/engine"
	"github.com/roach88/mill/internal/journal"
)

// BuildOptions holds flags for the build command.
type BuildOptions struct {
	*RootOptions
	Journal string

	// SessionIDs allows overriding the session id generator (for testing).
	SessionIDs engine.SessionIDGenerator
}

// BuildResult is the outcome of one project's cold pass.
type BuildResult struct {
	Project  string         `json:"project"`
	Role     string         `json:"role"`
	Ran      int            `json:"ran"`
	Failures []BuildFailure `json:"failures"`
}

// BuildFailure is one failed processor.
type BuildFailure struct {
	Processor string `json:"processor"`
	Error     string `json:"error"`
}

// BuildReport is the build command's JSON payload.
type BuildReport struct {
	SessionID string        `json:"session_id,omitempty"`
	Projects  []BuildResult `json:"projects"`
	Failed    int           `json:"failed"`
}

// NewBuildCommand creates the build command.
func NewBuildCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BuildOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Run the cold pass once and exit",
		Long: `Run every processor's full pass for the watched project's contributors,
then for the watched project itself, and exit.

Exits 1 if any processor failed.

Example:
  mill build
  mill build --watched-project site --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "record the build in this journal")

	return cmd
}

func runBuild(opts *BuildOptions, cmd *cobra.Command) error {
	configureLogging(cmd.ErrOrStderr(), opts.Verbose)
	formatter := &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	r, err := loadReactor(opts.RootOptions)
	if err != nil {
		_ = formatter.Error(errorCode(err), err.Error(), nil)
		return err
	}

	members, chains, err := buildChains(r.Registry)
	if err != nil {
		_ = formatter.Error(errorCode(err), err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to configure processors", err)
	}

	j, err := openJournal(journalPath(opts.Journal, r.Dir))
	if err != nil {
		_ = formatter.Error(ErrCodeJournal, err.Error(), nil)
		return err
	}
	defer j.Close()

	report := BuildReport{}
	clock := engine.NewClock()
	if j != nil {
		ids := opts.SessionIDs
		if ids == nil {
			ids = engine.UUIDv7Generator{}
		}
		if report.SessionID, clock, err = beginBuildSession(ctx, j, r, ids.Generate()); err != nil {
			_ = formatter.Error(ErrCodeJournal, err.Error(), nil)
			return err
		}
	}

	for i, m := range members {
		dopts := []engine.DispatcherOption{engine.WithClock(clock)}
		if j != nil {
			dopts = append(dopts, engine.WithRecorder(j, report.SessionID))
		}
		d := engine.NewDispatcher(m.Project, chains[i], dopts...)

		res := d.ProcessAll(ctx)
		br := BuildResult{Project: m.Project.ID, Role: string(m.Role), Ran: len(res.Ran), Failures: []BuildFailure{}}
		for _, f := range res.Failures {
			br.Failures = append(br.Failures, BuildFailure{Processor: f.Processor, Error: f.Err.Error()})
		}
		report.Failed += len(br.Failures)
		report.Projects = append(report.Projects, br)
	}

	if opts.Format == "json" {
		if err := formatter.Success(report); err != nil {
			return err
		}
	} else {
		printBuildReport(cmd, report)
	}

	if report.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d processor(s) failed", report.Failed))
	}
	return nil
}

func beginBuildSession(ctx context.Context, j *journal.Store, r *Reactor, id string) (string, *engine.Clock, error) {
	last, err := j.LastSeq(ctx)
	if err != nil {
		return "", nil, WrapExitError(ExitCommandError, "failed to read journal", err)
	}
	var ids []string
	for _, m := range r.Registry.Members() {
		ids = append(ids, m.Project.ID)
	}
	err = j.BeginSession(ctx, journal.Session{
		ID:        id,
		Target:    r.Registry.Target().ID,
		Projects:  ids,
		StartedAt: time.Now(),
	})
	if err != nil {
		return "", nil, WrapExitError(ExitCommandError, "failed to record build", err)
	}
	slog.Debug("build session", "session", id, "after_seq", last)
	return id, engine.NewClockAt(last), nil
}

func printBuildReport(cmd *cobra.Command, report BuildReport) {
	out := cmd.OutOrStdout()
	for _, p := range report.Projects {
		status := "ok"
		if len(p.Failures) > 0 {
			status = fmt.Sprintf("%d failed", len(p.Failures))
		}
		fmt.Fprintf(out, "%s (%s): %d processors, %s\n", p.Project, p.Role, p.Ran, status)
		for _, f := range p.Failures {
			fmt.Fprintf(out, "  %s: %s\n", f.Processor, f.Error)
		}
	}
	if report.Failed == 0 {
		fmt.Fprintln(out, "Build succeeded.")
	} else {
		fmt.Fprintf(out, "Build failed: %d processor(s) failed.\n", report.Failed)
	}
}
