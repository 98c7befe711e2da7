package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/mill/internal/chain"
)

// ChainOptions holds flags for the chain command.
type ChainOptions struct {
	*RootOptions
}

// ProjectChain is one project's chain in JSON output.
type ProjectChain struct {
	Project string       `json:"project"`
	Role    string       `json:"role"`
	Root    string       `json:"root"`
	Steps   []chain.Step `json:"steps"`
}

// NewChainCommand creates the chain command.
func NewChainCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ChainOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "chain",
		Short: "Print each project's processor chain",
		Long: `Print the ordered processors every module of the reactor runs, contributors
first, the watched project last.

Example:
  mill chain
  mill chain --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChain(opts, cmd)
		},
	}

	return cmd
}

func runChain(opts *ChainOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
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

	if opts.Format == "json" {
		result := make([]ProjectChain, len(members))
		for i, m := range members {
			result[i] = ProjectChain{
				Project: m.Project.ID,
				Role:    string(m.Role),
				Root:    m.Project.Root,
				Steps:   chain.Steps(chains[i]),
			}
		}
		return formatter.Success(result)
	}

	out := cmd.OutOrStdout()
	for i, m := range members {
		if i > 0 {
			fmt.Fprintln(out)
		}
		if err := chain.Describe(out, m.Project, chains[i]); err != nil {
			return err
		}
	}
	return nil
}
