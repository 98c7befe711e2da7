package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// testWorkspace is a two-module reactor: widgets feeds site. Compilers
// copy their input so outputs are predictable without node tooling.
const testWorkspace = `
watched_project: site
modules:
  - id: widgets
    root: widgets
    aggregation:
      scripts: [w]
    features:
      run_server: false
    tools: &tools
      scripts: 'cat "$MILL_INPUT" > "$MILL_OUTPUT"'
      styles: 'cat "$MILL_INPUT" > "$MILL_OUTPUT"'
      templates: 'echo "dust($MILL_NAME)" > "$MILL_OUTPUT"'
      optimize_png: 'true'
      optimize_jpeg: 'true'
      compress_html: 'true'
  - id: site
    root: site
    aggregation:
      scripts: [widgets, main]
    features:
      run_server: false
    tools: *tools
  - id: docs
    root: docs
    packaging: static
    tools: *tools
`

// setupWorkspace writes testWorkspace and one source per module into a temp
// dir and returns it.
func setupWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	write := func(rel, content string) {
		path := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	write("mill.yaml", testWorkspace)
	write("widgets/src/js/w.coffee", "widget")
	write("site/src/js/main.coffee", "main")
	write("docs/src/assets/index.html", "<h1>docs</h1>")
	return dir
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}
