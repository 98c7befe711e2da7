package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose        bool
	Format         string // "json" | "text"
	Dir            string // working directory the workspace is resolved from
	Workspace      string // explicit workspace file, empty to look it up in Dir
	WatchedProject string // reactor target override
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the mill CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "mill",
		Short: "mill - incremental asset builds on file change",
		Long: `Watch a multi-module web project and rebuild its assets as files change.

Each module runs an ordered chain of processors (copy, compile, aggregate,
validate, optimize). Modules other than the watched project feed their final
script artifact into the watched project's lib directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Dir, "dir", "C", ".", "working directory")
	cmd.PersistentFlags().StringVarP(&opts.Workspace, "workspace", "w", "", "workspace file (default: mill.yaml, mill.yml or mill.cue in --dir)")
	cmd.PersistentFlags().StringVar(&opts.WatchedProject, "watched-project", "", "module id of the reactor target")

	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewBuildCommand(opts))
	cmd.AddCommand(NewChainCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// configureLogging installs the process-wide text logger on w. Verbose
// enables Debug records.
func configureLogging(w io.Writer, verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}
