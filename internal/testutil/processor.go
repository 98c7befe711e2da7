package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/roach88/mill/internal/processor"
	"github.com/roach88/mill/internal/project"
)

// CallLog records processor invocations in the order they happen.
type CallLog struct {
	mu    sync.Mutex
	calls []string
}

// Add appends "name hook path".
func (l *CallLog) Add(name, hook, path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, strings.TrimSpace(name+" "+hook+" "+path))
}

// Calls returns a copy of the log.
func (l *CallLog) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// Processor is a configurable fake chain stage. It accepts paths by suffix
// and logs every hook it receives.
type Processor struct {
	ID     string
	Suffix string // empty accepts everything
	Fail   error  // returned from every hook
	Log    *CallLog

	project *project.Project
}

// NewProcessor returns a fake named id that accepts paths ending in suffix.
func NewProcessor(id, suffix string, log *CallLog) *Processor {
	return &Processor{ID: id, Suffix: suffix, Log: log}
}

func (p *Processor) Kind() processor.Kind { return processor.Kind("fake") }
func (p *Processor) Name() string         { return p.ID }

func (p *Processor) Configure(proj *project.Project, _ processor.Options) error {
	p.project = proj
	return nil
}

func (p *Processor) Accept(path string) bool {
	return p.Suffix == "" || strings.HasSuffix(path, p.Suffix)
}

func (p *Processor) ProcessAll(_ context.Context) error {
	return p.hook("all", "")
}

func (p *Processor) Created(_ context.Context, path string) error {
	return p.hook("created", path)
}

func (p *Processor) Updated(_ context.Context, path string) error {
	return p.hook("updated", path)
}

func (p *Processor) Deleted(_ context.Context, path string) error {
	return p.hook("deleted", path)
}

func (p *Processor) hook(name, path string) error {
	if p.Log != nil {
		p.Log.Add(p.ID, name, path)
	}
	if p.Fail != nil {
		return fmt.Errorf("%s: %w", p.ID, p.Fail)
	}
	return nil
}

// NewProject returns a project in a temp dir whose external tools are shell
// builtins: compilers write a one-line marker, validators and optimizers
// succeed without touching anything.
func NewProject(t *testing.T, id string) *project.Project {
	t.Helper()
	p := project.New(id, t.TempDir())
	p.Tools = map[string]string{
		processor.ToolScripts:         `echo "// $MILL_NAME" > "$MILL_OUTPUT"`,
		processor.ToolStyles:          `echo "/* $MILL_NAME */" > "$MILL_OUTPUT"`,
		processor.ToolTemplates:       `echo "dust('$MILL_NAME')" > "$MILL_OUTPUT"`,
		processor.ToolValidateScripts: `true`,
		processor.ToolValidateStyles:  `true`,
		processor.ToolOptimizePNG:     `true`,
		processor.ToolOptimizeJPEG:    `true`,
		processor.ToolCompressHTML:    `true`,
	}
	return p
}

// WriteFile writes content to path, creating parent directories.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// ReadFile returns the content of path, or "" if it does not exist.
func ReadFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ""
	}
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}
