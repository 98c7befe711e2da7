package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/roach88/mill/internal/fsevent"
	"github.com/roach88/mill/internal/project"
)

// propagator copies a contributor's final script artifact into the target's
// libs directory and re-triggers the target chain for the copy. It is
// always the last stage of a contributor's dispatch set, so the artifact it
// sees is the one the contributor just finished building.
type propagator struct {
	base
	source    *project.Project
	target    *project.Project
	artifact  string
	dest      string
	retrigger func(fsevent.Event)
}

func newPropagator(kind Kind) Processor {
	return &propagator{base: base{kind: kind}}
}

func (g *propagator) Name() string {
	if g.source == nil || g.target == nil {
		return string(g.kind)
	}
	return fmt.Sprintf("%s:%s->%s", g.kind, g.source.ID, g.target.ID)
}

func (g *propagator) Configure(p *project.Project, opts Options) error {
	if err := g.bind(p); err != nil {
		return err
	}
	o, err := optionsAs[PropagateOptions](g.kind, p, opts)
	if err != nil {
		return err
	}
	if o.Target.ID == p.ID {
		return configError(g.kind, p, "a project cannot propagate into itself")
	}

	g.source = p
	g.target = o.Target
	g.retrigger = o.Retrigger
	g.artifact = p.FinalArtifact("js")
	g.dest = filepath.Join(o.Target.LibsDir(), filepath.Base(g.artifact))
	return nil
}

// Target is the project receiving the artifact.
func (g *propagator) Target() *project.Project {
	return g.target
}

func (g *propagator) Accept(path string) bool {
	return path == g.artifact
}

// ProcessAll copies the current artifact without re-triggering; the target's
// own cold pass runs afterwards.
func (g *propagator) ProcessAll(_ context.Context) error {
	if _, err := os.Stat(g.artifact); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return copyFile(g.artifact, g.dest)
}

func (g *propagator) Created(_ context.Context, _ string) error {
	return g.push(fsevent.Created)
}

func (g *propagator) Updated(_ context.Context, _ string) error {
	return g.push(fsevent.Updated)
}

func (g *propagator) Deleted(_ context.Context, _ string) error {
	if err := remove(g.dest); err != nil {
		return err
	}
	g.fire(fsevent.Deleted)
	return nil
}

func (g *propagator) push(kind fsevent.Kind) error {
	if err := copyFile(g.artifact, g.dest); err != nil {
		return err
	}
	g.fire(kind)
	return nil
}

func (g *propagator) fire(kind fsevent.Kind) {
	if g.retrigger == nil {
		return
	}
	g.retrigger(fsevent.Event{
		Path:      g.dest,
		Kind:      kind,
		Project:   g.target,
		Synthetic: true,
	})
}
