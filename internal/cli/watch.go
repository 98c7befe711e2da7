package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/mill/internal/engine"
	"github.com/roach88/mill/internal/monitor"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Port     int
	Host     string
	NoServer bool
	Debounce time.Duration
	Journal  string

	// SessionIDs allows overriding the session id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	SessionIDs engine.SessionIDGenerator

	// ready, when set, is called once the session has started.
	ready func(*engine.Session)
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	return newWatchCommand(&WatchOptions{RootOptions: rootOpts})
}

func newWatchCommand(opts *WatchOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Build, then rebuild on every file change",
		Long: `Run the cold pass for the watched project and its contributors, then
watch every module and re-run the affected processors on each change.

Contributors' final script artifacts are copied into the watched project's
lib directory and re-processed there. The watched project's output, lib and
test output directories are served over HTTP unless --no-server is given or
the project disables run_server.

Example:
  mill watch
  mill watch --watched-project site --port 9000
  mill watch --no-server --journal ""`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Port, "port", -1, "artifact server port (default: the project's serve_port)")
	cmd.Flags().StringVar(&opts.Host, "host", "", "interface the artifact server binds to (default: all)")
	cmd.Flags().BoolVar(&opts.NoServer, "no-server", false, "do not start the artifact server")
	cmd.Flags().DurationVar(&opts.Debounce, "debounce", monitor.DefaultDebounce, "window for coalescing file events")
	cmd.Flags().StringVar(&opts.Journal, "journal", DefaultJournal, `dispatch journal path ("" disables)`)

	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	configureLogging(cmd.ErrOrStderr(), opts.Verbose)

	r, err := loadReactor(opts.RootOptions)
	if err != nil {
		return err
	}

	j, err := openJournal(journalPath(opts.Journal, r.Dir))
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := j.Close(); closeErr != nil {
			slog.Error("error closing journal", "error", closeErr)
		}
	}()

	ids := opts.SessionIDs
	if ids == nil {
		ids = engine.UUIDv7Generator{}
	}
	sopts := []engine.Option{
		engine.WithDebounce(opts.Debounce),
		engine.WithServer(!opts.NoServer),
		engine.WithPort(opts.Port),
		engine.WithHost(opts.Host),
		engine.WithSessionIDs(ids),
	}
	if j != nil {
		sopts = append(sopts, engine.WithJournal(j))
	}
	session := engine.New(r.Registry, sopts...)

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	target := r.Registry.Target()
	slog.Info("starting",
		"target", target.ID,
		"contributors", len(r.Registry.ListContributors()),
		"journal", journalPath(opts.Journal, r.Dir),
	)

	if err := session.Start(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to start session", err)
	}
	defer func() {
		if stopErr := session.Stop(); stopErr != nil {
			slog.Error("error stopping session", "error", stopErr)
		}
	}()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Watching %s (session %s).\n", target.ID, session.ID())
	if addr := session.ServerAddr(); addr != "" {
		fmt.Fprintf(out, "Serving %s on http://%s/\n", target.ID, addr)
	}
	fmt.Fprintln(out, "Press Ctrl-C to stop.")
	if opts.ready != nil {
		opts.ready(session)
	}

	if err := session.Wait(ctx); err != nil {
		return WrapExitError(ExitFailure, "session error", err)
	}
	return nil
}
