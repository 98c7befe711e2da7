package project

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

// Workspace file names looked up by Find, in preference order.
var WorkspaceFiles = []string{"mill.yaml", "mill.yml", "mill.cue"}

// Workspace is the set of modules of one multi-module build, in reactor
// order.
type Workspace struct {
	// WatchedProject is the id of the reactor target. Empty means the
	// current project.
	WatchedProject string `yaml:"watched_project"`

	Modules []*Project `yaml:"modules"`

	// Dir is the directory the workspace was loaded from. Relative module
	// roots are resolved against it.
	Dir string `yaml:"-"`
}

// Load reads a workspace file. Files ending in .cue are evaluated with CUE,
// everything else is parsed as YAML.
func Load(path string) (*Workspace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workspace: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace path: %w", err)
	}
	dir := filepath.Dir(abs)

	if filepath.Ext(path) == ".cue" {
		return ParseCUE(data, abs, dir)
	}
	return Parse(data, dir)
}

// Find returns the workspace file in dir, or an error wrapping
// os.ErrNotExist if there is none.
func Find(dir string) (string, error) {
	for _, name := range WorkspaceFiles {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no workspace file in %s: %w", dir, os.ErrNotExist)
}

// Parse decodes a YAML workspace and resolves module roots against dir.
func Parse(data []byte, dir string) (*Workspace, error) {
	ws := &Workspace{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(ws); err != nil {
		return nil, fmt.Errorf("decode workspace: %w", err)
	}
	ws.Dir = dir

	if err := ws.resolve(); err != nil {
		return nil, err
	}
	return ws, nil
}

// ParseCUE evaluates a CUE workspace. The value must be concrete; it is
// exported to JSON and decoded by Parse so both formats share defaults.
func ParseCUE(data []byte, filename, dir string) (*Workspace, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile workspace: %w", err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("validate workspace: %w", err)
	}

	js, err := v.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("export workspace: %w", err)
	}
	return Parse(js, dir)
}

// Single builds a one-module workspace for a directory without a workspace
// file. The module id is the directory name.
func Single(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	p := New(filepath.Base(abs), abs)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Workspace{Modules: []*Project{p}, Dir: abs}, nil
}

func (w *Workspace) resolve() error {
	if len(w.Modules) == 0 {
		return &ConfigError{Field: "modules", Message: "at least one module is required"}
	}

	seen := make(map[string]bool, len(w.Modules))
	for i, p := range w.Modules {
		if p == nil {
			return &ConfigError{Field: fmt.Sprintf("modules[%d]", i), Message: "empty module"}
		}
		if seen[p.ID] {
			return &ConfigError{Project: p.ID, Field: "id", Message: "duplicate module id"}
		}
		seen[p.ID] = true

		if p.Root == "" {
			p.Root = p.ID
		}
		if !filepath.IsAbs(p.Root) {
			p.Root = filepath.Join(w.Dir, p.Root)
		}
		p.Root = filepath.Clean(p.Root)
		if p.FinalName == "" {
			p.FinalName = p.ID
		}

		if err := p.Validate(); err != nil {
			return err
		}
	}

	if w.WatchedProject != "" {
		if _, ok := w.Module(w.WatchedProject); !ok {
			return &ConfigError{Field: "watched_project", Message: fmt.Sprintf("unknown module %q", w.WatchedProject)}
		}
	}
	return nil
}

// Module returns the module with the given id.
func (w *Workspace) Module(id string) (*Project, bool) {
	for _, p := range w.Modules {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// Current returns the module rooted at dir, falling back to the first
// module.
func (w *Workspace) Current(dir string) *Project {
	if abs, err := filepath.Abs(dir); err == nil {
		for _, p := range w.Modules {
			if p.Root == abs {
				return p
			}
		}
	}
	return w.Modules[0]
}

// Target resolves the reactor target: override, then the workspace's
// watched_project, then the current project.
func (w *Workspace) Target(override, cwd string) (*Project, error) {
	id := override
	if id == "" {
		id = w.WatchedProject
	}
	if id == "" {
		return w.Current(cwd), nil
	}
	p, ok := w.Module(id)
	if !ok {
		return nil, &ConfigError{Field: "watched_project", Message: fmt.Sprintf("unknown module %q", id)}
	}
	return p, nil
}
