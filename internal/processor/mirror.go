package processor

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/roach88/mill/internal/project"
	"github.com/roach88/mill/internal/tool"
)

// mirrorSpec describes a stage that maps every matching source file to one
// output file under a parallel directory.
type mirrorSpec struct {
	src      func(*project.Project) string
	dst      func(*project.Project) string
	patterns []string
	ext      string // replacement extension, empty keeps the source name
	tool     string // empty copies the file verbatim

	// reserved lists outputs written by other stages. Sources mapping onto
	// or below one of them are left to the owning stage.
	reserved func(*project.Project) []string
}

var mirrorSpecs = map[Kind]mirrorSpec{
	KindCopyAssets: {
		src:      (*project.Project).AssetsDir,
		dst:      (*project.Project).OutputDir,
		patterns: []string{"**"},
		reserved: func(p *project.Project) []string {
			return []string{
				p.ScriptsOutputDir(),
				p.StylesOutputDir(),
				p.TestOutputDir(),
				p.FinalArtifact("js"),
				p.FinalArtifact("css"),
			}
		},
	},
	KindCopyScripts: {
		src:      (*project.Project).ScriptsDir,
		dst:      (*project.Project).ScriptsOutputDir,
		patterns: []string{"**/*.js"},
	},
	KindCopyTestScripts: {
		src:      (*project.Project).TestScriptsDir,
		dst:      (*project.Project).TestOutputDir,
		patterns: []string{"**/*.js"},
	},
	KindCopyStyles: {
		src:      (*project.Project).StylesDir,
		dst:      (*project.Project).StylesOutputDir,
		patterns: []string{"**/*.css"},
	},
	KindCompileStyles: {
		src:      (*project.Project).StylesDir,
		dst:      (*project.Project).StylesOutputDir,
		patterns: []string{"**/*.less"},
		ext:      ".css",
		tool:     ToolStyles,
	},
	KindCompileScripts: {
		src:      (*project.Project).ScriptsDir,
		dst:      (*project.Project).ScriptsOutputDir,
		patterns: []string{"**/*.coffee"},
		ext:      ".js",
		tool:     ToolScripts,
	},
	KindCompileTestScripts: {
		src:      (*project.Project).TestScriptsDir,
		dst:      (*project.Project).TestOutputDir,
		patterns: []string{"**/*.coffee"},
		ext:      ".js",
		tool:     ToolScripts,
	},
	KindCompileTemplates: {
		src:      (*project.Project).ScriptsDir,
		dst:      (*project.Project).ScriptsOutputDir,
		patterns: []string{"**/*.dust"},
		ext:      ".js",
		tool:     ToolTemplates,
	},
}

// mirror copies or compiles sources 1:1 into an output directory.
type mirror struct {
	base
	spec     mirrorSpec
	src      string
	dst      string
	reserved []string
	cmd      *tool.Command
}

func newMirror(kind Kind) Processor {
	return &mirror{base: base{kind: kind}, spec: mirrorSpecs[kind]}
}

func (m *mirror) Configure(p *project.Project, opts Options) error {
	if err := m.bind(p); err != nil {
		return err
	}
	if err := noOptions(m.kind, p, opts); err != nil {
		return err
	}

	m.src = m.spec.src(p)
	m.dst = m.spec.dst(p)
	m.reserved = nil
	if m.spec.reserved != nil {
		m.reserved = m.spec.reserved(p)
	}
	m.cmd = nil
	if m.spec.tool != "" {
		cmd, err := command(p, m.spec.tool)
		if err != nil {
			return err
		}
		m.cmd = cmd
	}
	return nil
}

func (m *mirror) Accept(path string) bool {
	rel, ok := within(m.src, path)
	return ok && matchAny(m.spec.patterns, rel) && !m.shadowed(path)
}

func (m *mirror) ProcessAll(ctx context.Context) error {
	return walk(m.src, m.spec.patterns, func(path string) error {
		if m.shadowed(path) {
			return nil
		}
		return Wrap(m, "build", path, m.build(ctx, path))
	})
}

// shadowed reports whether path maps onto an output another stage owns.
func (m *mirror) shadowed(path string) bool {
	out := m.output(path)
	for _, r := range m.reserved {
		if _, below := within(r, out); below || out == r {
			return true
		}
	}
	return false
}

func (m *mirror) Created(ctx context.Context, path string) error {
	return m.build(ctx, path)
}

func (m *mirror) Updated(ctx context.Context, path string) error {
	return m.build(ctx, path)
}

func (m *mirror) Deleted(_ context.Context, path string) error {
	if m.shadowed(path) {
		return nil
	}
	return remove(m.output(path))
}

// output maps a source path to its artifact.
func (m *mirror) output(path string) string {
	rel, _ := within(m.src, path)
	if m.spec.ext != "" {
		rel = strings.TrimSuffix(rel, filepath.Ext(rel)) + m.spec.ext
	}
	return filepath.Join(m.dst, rel)
}

func (m *mirror) build(ctx context.Context, path string) error {
	if isDir(path) || m.shadowed(path) {
		return nil
	}
	out := m.output(path)
	if m.cmd == nil {
		return copyFile(path, out)
	}

	// Tools write to a sibling temp path, renamed once they succeed.
	tmp := filepath.Join(filepath.Dir(out), ".mill-"+filepath.Base(out))
	if err := ensureDir(out); err != nil {
		return err
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	err := m.cmd.Run(ctx, m.project.Root, map[string]string{
		tool.EnvInput:  path,
		tool.EnvOutput: tmp,
		tool.EnvName:   name,
	})
	if err != nil {
		_ = remove(tmp)
		return err
	}
	return rename(tmp, out)
}
