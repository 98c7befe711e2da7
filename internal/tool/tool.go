// Package tool runs the external transformers (script compilers, linters,
// image optimizers) that processors delegate to.
//
// A command is a shell snippet parsed once when a chain is built, so a
// malformed override is a configuration error rather than a failure on the
// first changed file. Snippets run in-process through mvdan.cc/sh with the
// project root as working directory and receive their arguments through
// environment variables (MILL_INPUT, MILL_OUTPUT, MILL_NAME, MILL_LEVEL).
package tool

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// Environment variable names passed to commands.
const (
	EnvInput  = "MILL_INPUT"
	EnvOutput = "MILL_OUTPUT"
	EnvName   = "MILL_NAME"
	EnvLevel  = "MILL_LEVEL"
)

// Command is a parsed shell snippet.
type Command struct {
	Name   string
	Source string
	file   *syntax.File
}

// Parse parses src. It performs no I/O.
func Parse(name, src string) (*Command, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("tool %s: empty command", name)
	}
	f, err := syntax.NewParser().Parse(strings.NewReader(src), name)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}
	return &Command{Name: name, Source: src, file: f}, nil
}

// Run executes the command in dir with env added to the process
// environment. Output is captured and attached to the returned error.
func (c *Command) Run(ctx context.Context, dir string, env map[string]string) error {
	var out bytes.Buffer

	runner, err := interp.New(
		interp.Dir(dir),
		interp.Env(expand.ListEnviron(environ(env)...)),
		interp.StdIO(nil, &out, &out),
	)
	if err != nil {
		return &Error{Tool: c.Name, Err: err}
	}

	if err := runner.Run(ctx, c.file); err != nil {
		return &Error{Tool: c.Name, Output: strings.TrimSpace(out.String()), Err: err}
	}
	return nil
}

func environ(env map[string]string) []string {
	pairs := os.Environ()

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		pairs = append(pairs, k+"="+env[k])
	}
	return pairs
}

// Error is a failed tool invocation.
type Error struct {
	Tool   string
	Output string
	Err    error
}

func (e *Error) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("%s: %v: %s", e.Tool, e.Err, e.Output)
	}
	return fmt.Sprintf("%s: %v", e.Tool, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
