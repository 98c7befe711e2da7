package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/roach88/mill/internal/chain"
	"github.com/roach88/mill/internal/journal"
	"github.com/roach88/mill/internal/processor"
	"github.com/roach88/mill/internal/project"
	"github.com/roach88/mill/internal/reactor"
)

// DefaultJournal is the journal path, relative to the working directory.
var DefaultJournal = filepath.Join(".mill", "journal.db")

// Reactor is a resolved workspace: the modules and the target's registry.
type Reactor struct {
	Workspace *project.Workspace
	Registry  *reactor.Registry
	Dir       string // absolute working directory
}

// loadReactor resolves the workspace for opts and plans the reactor around
// its target. A directory without a workspace file is a single-module
// workspace named after the directory.
func loadReactor(opts *RootOptions) (*Reactor, error) {
	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to resolve working directory", err)
	}

	ws, err := loadWorkspace(opts.Workspace, dir)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load workspace", err)
	}

	target, err := ws.Target(opts.WatchedProject, dir)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to resolve watched project", err)
	}

	reg, err := reactor.FromWorkspace(ws, target)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to plan reactor", err)
	}
	return &Reactor{Workspace: ws, Registry: reg, Dir: dir}, nil
}

func loadWorkspace(file, dir string) (*project.Workspace, error) {
	if file != "" {
		if !filepath.IsAbs(file) {
			file = filepath.Join(dir, file)
		}
		return project.Load(file)
	}

	path, err := project.Find(dir)
	if errors.Is(err, os.ErrNotExist) {
		return project.Single(dir)
	}
	if err != nil {
		return nil, err
	}
	return project.Load(path)
}

// buildChains configures every member's chain in reactor order. Each
// contributor gets a propagation stage into the target that copies without
// re-triggering.
func buildChains(reg *reactor.Registry) ([]reactor.Member, [][]processor.Processor, error) {
	members := reg.Members()
	chains := make([][]processor.Processor, len(members))
	for i, m := range members {
		var copts chain.Options
		if m.Role == reactor.RoleContributor {
			copts.Propagate = &processor.PropagateOptions{Target: reg.Target()}
		}
		procs, err := chain.Build(m.Project, copts)
		if err != nil {
			return nil, nil, err
		}
		chains[i] = procs
	}
	return members, chains, nil
}

// journalPath resolves path against dir. Empty disables the journal.
func journalPath(path, dir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// openJournal opens the journal at path, or returns nil when path is empty.
func openJournal(path string) (*journal.Store, error) {
	if path == "" {
		return nil, nil
	}
	j, err := journal.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("failed to open journal %s", path), err)
	}
	return j, nil
}

// errorCode maps an error to the JSON error code.
func errorCode(err error) string {
	switch {
	case project.IsConfigError(err):
		return ErrCodeConfig
	case errors.Is(err, os.ErrNotExist):
		return ErrCodeWorkspace
	default:
		return ErrCodeGeneric
	}
}
