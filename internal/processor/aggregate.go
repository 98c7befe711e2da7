package processor

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/mill/internal/project"
)

// aggregator concatenates named outputs into the project's final artifact.
// It accepts the sources of its family as well as the compiled outputs and
// libraries it reads, so it runs after the compile stages for the same
// event and again when their outputs land on disk.
type aggregator struct {
	base
	ext    string
	names  []string
	output string

	// accepted directories with the patterns claimed inside each
	watch map[string][]string
	// lookup order for a name
	search []string
}

func newAggregator(kind Kind) Processor {
	ext := "js"
	if kind == KindAggregateStyles {
		ext = "css"
	}
	return &aggregator{base: base{kind: kind}, ext: ext}
}

func (a *aggregator) Configure(p *project.Project, opts Options) error {
	if err := a.bind(p); err != nil {
		return err
	}
	o, err := optionsAs[AggregateOptions](a.kind, p, opts)
	if err != nil {
		return err
	}

	a.names = append([]string(nil), o.Names...)
	a.output = o.Output
	if a.output == "" {
		a.output = p.FinalArtifact(a.ext)
	}

	if a.ext == "js" {
		a.search = []string{p.ScriptsOutputDir(), p.LibsDir()}
		a.watch = map[string][]string{
			p.ScriptsDir():       {"**/*.js", "**/*.coffee", "**/*.dust"},
			p.ScriptsOutputDir(): {"**/*.js"},
			p.LibsDir():          {"**/*.js"},
		}
	} else {
		a.search = []string{p.StylesOutputDir(), p.LibsDir()}
		a.watch = map[string][]string{
			p.StylesDir():       {"**/*.css", "**/*.less"},
			p.StylesOutputDir(): {"**/*.css"},
			p.LibsDir():         {"**/*.css"},
		}
	}
	return nil
}

func (a *aggregator) Accept(path string) bool {
	if path == a.output {
		return false
	}
	for dir, patterns := range a.watch {
		if rel, ok := within(dir, path); ok && matchAny(patterns, rel) {
			return true
		}
	}
	return false
}

func (a *aggregator) ProcessAll(_ context.Context) error {
	return a.aggregate()
}

func (a *aggregator) Created(_ context.Context, _ string) error { return a.aggregate() }
func (a *aggregator) Updated(_ context.Context, _ string) error { return a.aggregate() }
func (a *aggregator) Deleted(_ context.Context, _ string) error { return a.aggregate() }

func (a *aggregator) aggregate() error {
	var (
		buf     bytes.Buffer
		missing []string
	)
	for _, name := range a.names {
		data, err := a.read(name)
		if errors.Is(err, os.ErrNotExist) {
			missing = append(missing, name)
			continue
		}
		if err != nil {
			return err
		}
		buf.Write(data)
		if len(data) > 0 && data[len(data)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	if len(missing) > 0 {
		return Failf("cannot aggregate %s: missing %s", filepath.Base(a.output), strings.Join(missing, ", "))
	}
	return writeAtomic(a.output, buf.Bytes())
}

func (a *aggregator) read(name string) ([]byte, error) {
	for _, dir := range a.search {
		data, err := os.ReadFile(filepath.Join(dir, name+"."+a.ext))
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	return nil, os.ErrNotExist
}
