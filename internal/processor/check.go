package processor

import (
	"context"
	"path/filepath"
	"strconv"

	"github.com/roach88/mill/internal/project"
	"github.com/roach88/mill/internal/tool"
)

// checker runs a tool on each accepted source without producing an output
// of its own: validators lint the source, optimizers rewrite the copy made
// by an earlier stage of the chain.
type checker struct {
	base
	src      func(*project.Project) string
	dst      func(*project.Project) string // nil for validators
	patterns []string
	toolName string

	dir   string
	out   string
	level int
	cmd   *tool.Command
}

func newValidator(kind Kind) Processor {
	c := &checker{base: base{kind: kind}}
	switch kind {
	case KindValidateScripts:
		c.src, c.patterns, c.toolName = (*project.Project).ScriptsDir, []string{"**/*.js"}, ToolValidateScripts
	case KindValidateStyles:
		c.src, c.patterns, c.toolName = (*project.Project).StylesDir, []string{"**/*.css"}, ToolValidateStyles
	}
	return c
}

func newOptimizer(kind Kind) Processor {
	c := &checker{
		base: base{kind: kind},
		src:  (*project.Project).AssetsDir,
		dst:  (*project.Project).OutputDir,
	}
	switch kind {
	case KindOptimizePNG:
		c.patterns, c.toolName = []string{"**/*.png"}, ToolOptimizePNG
	case KindOptimizeJPEG:
		c.patterns, c.toolName = []string{"**/*.jpg", "**/*.jpeg"}, ToolOptimizeJPEG
	case KindCompressHTML:
		c.patterns, c.toolName = []string{"**/*.html", "**/*.htm"}, ToolCompressHTML
	}
	return c
}

func (c *checker) Configure(p *project.Project, opts Options) error {
	if err := c.bind(p); err != nil {
		return err
	}

	c.level = 0
	if c.kind == KindOptimizePNG {
		o, err := optionsAs[OptimizeOptions](c.kind, p, opts)
		if err != nil {
			return err
		}
		c.level = o.Level
	} else if err := noOptions(c.kind, p, opts); err != nil {
		return err
	}

	cmd, err := command(p, c.toolName)
	if err != nil {
		return err
	}
	c.cmd = cmd
	c.dir = c.src(p)
	c.out = ""
	if c.dst != nil {
		c.out = c.dst(p)
	}
	return nil
}

func (c *checker) Accept(path string) bool {
	rel, ok := within(c.dir, path)
	return ok && matchAny(c.patterns, rel)
}

func (c *checker) ProcessAll(ctx context.Context) error {
	return walk(c.dir, c.patterns, func(path string) error {
		return Wrap(c, "check", path, c.run(ctx, path))
	})
}

func (c *checker) Created(ctx context.Context, path string) error { return c.run(ctx, path) }
func (c *checker) Updated(ctx context.Context, path string) error { return c.run(ctx, path) }

// Deleted has nothing to undo.
func (c *checker) Deleted(context.Context, string) error { return nil }

func (c *checker) run(ctx context.Context, path string) error {
	if isDir(path) {
		return nil
	}
	env := map[string]string{
		tool.EnvInput: path,
		tool.EnvLevel: strconv.Itoa(c.level),
	}
	if c.out != "" {
		rel, _ := within(c.dir, path)
		env[tool.EnvOutput] = filepath.Join(c.out, rel)
	}
	return c.cmd.Run(ctx, c.project.Root, env)
}
