package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/roach88/mill/internal/project"
)

// Kind tags a processor variant.
type Kind string

const (
	KindCopyAssets         Kind = "copy-assets"
	KindCopyScripts        Kind = "copy-scripts"
	KindCopyTestScripts    Kind = "copy-test-scripts"
	KindCopyStyles         Kind = "copy-styles"
	KindCompileStyles      Kind = "compile-styles"
	KindCompileScripts     Kind = "compile-scripts"
	KindCompileTestScripts Kind = "compile-test-scripts"
	KindCompileTemplates   Kind = "compile-templates"
	KindAggregateScripts   Kind = "aggregate-scripts"
	KindAggregateStyles    Kind = "aggregate-styles"
	KindValidateScripts    Kind = "validate-scripts"
	KindValidateStyles     Kind = "validate-styles"
	KindOptimizePNG        Kind = "optimize-png"
	KindOptimizeJPEG       Kind = "optimize-jpeg"
	KindCompressHTML       Kind = "compress-html"
	KindPropagate          Kind = "propagate"
)

// Processor is one stage of a chain, bound to exactly one project.
type Processor interface {
	Kind() Kind

	// Name identifies the instance in logs and the journal.
	Name() string

	Configure(p *project.Project, opts Options) error
	Accept(path string) bool
	ProcessAll(ctx context.Context) error
	Created(ctx context.Context, path string) error
	Updated(ctx context.Context, path string) error
	Deleted(ctx context.Context, path string) error
}

// Options is the typed configuration of one processor kind.
type Options interface {
	Validate() error
}

// base holds what every processor shares.
type base struct {
	kind    Kind
	project *project.Project
}

func (b *base) Kind() Kind   { return b.kind }
func (b *base) Name() string { return string(b.kind) }

func (b *base) bind(p *project.Project) error {
	if p == nil {
		return &project.ConfigError{Field: string(b.kind), Message: "processor needs a project"}
	}
	b.project = p
	return nil
}

// Error is a processor-scoped failure. It never aborts the chain.
type Error struct {
	Processor string
	Op        string
	Path      string
	Message   string
	Err       error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Processor)
	if e.Op != "" {
		sb.WriteString(" " + e.Op)
	}
	if e.Path != "" {
		sb.WriteString(" " + e.Path)
	}
	if e.Message != "" {
		sb.WriteString(": " + e.Message)
	}
	if e.Err != nil {
		sb.WriteString(": " + e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Failf returns a message-only processor failure.
func Failf(format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches the processor identity, operation and path to err. A nil
// err stays nil.
func Wrap(p Processor, op, path string, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		out := *pe
		if out.Processor == "" {
			out.Processor = p.Name()
		}
		if out.Op == "" {
			out.Op = op
		}
		if out.Path == "" {
			out.Path = path
		}
		return &out
	}
	return &Error{Processor: p.Name(), Op: op, Path: path, Err: err}
}

// IsError reports whether err wraps a processor Error.
func IsError(err error) bool {
	var pe *Error
	return errors.As(err, &pe)
}

// within returns path relative to dir when path is strictly inside dir.
func within(dir, path string) (string, bool) {
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}

func matchAny(patterns []string, rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// walk calls fn for every regular file under dir whose relative path matches
// patterns. A missing dir is not an error. Failures from fn are collected so
// one bad file does not stop the pass.
func walk(dir string, patterns []string, fn func(path string) error) error {
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	var errs []error
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, ok := within(dir, path)
		if !ok || !matchAny(patterns, rel) {
			return nil
		}
		if err := fn(path); err != nil {
			errs = append(errs, err)
		}
		return nil
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("walk %s: %w", dir, err))
	}
	return errors.Join(errs...)
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
