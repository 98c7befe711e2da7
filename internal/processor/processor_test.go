package processor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mill/internal/fsevent"
	"github.com/roach88/mill/internal/project"
)

// newTestProject returns a project in a temp dir whose tools are shell
// builtins, so no external compiler is needed.
func newTestProject(t *testing.T, id string) *project.Project {
	t.Helper()
	p := project.New(id, t.TempDir())
	p.Tools = map[string]string{
		ToolScripts:         `echo "// compiled $MILL_NAME" > "$MILL_OUTPUT"`,
		ToolStyles:          `echo "/* compiled $MILL_NAME */" > "$MILL_OUTPUT"`,
		ToolTemplates:       `echo "dust.register('$MILL_NAME')" > "$MILL_OUTPUT"`,
		ToolValidateScripts: `true`,
		ToolValidateStyles:  `true`,
		ToolOptimizePNG:     `echo "level $MILL_LEVEL" >> "$MILL_OUTPUT"`,
		ToolOptimizeJPEG:    `true`,
		ToolCompressHTML:    `true`,
	}
	return p
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func mustNew(t *testing.T, kind Kind, p *project.Project, opts Options) Processor {
	t.Helper()
	proc, err := New(kind, p, opts)
	require.NoError(t, err)
	return proc
}

func TestNew_UnknownKind(t *testing.T) {
	p := newTestProject(t, "app")
	_, err := New("minify-everything", p, nil)
	require.Error(t, err)
	assert.True(t, project.IsConfigError(err))
	assert.Contains(t, err.Error(), "unknown processor kind")
}

func TestNew_NilProject(t *testing.T) {
	_, err := New(KindCopyAssets, nil, nil)
	require.Error(t, err)
	assert.True(t, project.IsConfigError(err))
}

func TestNew_WrongOptions(t *testing.T) {
	p := newTestProject(t, "app")

	_, err := New(KindCopyScripts, p, OptimizeOptions{Level: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "takes no options")

	_, err = New(KindAggregateScripts, p, OptimizeOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want processor.AggregateOptions")

	_, err = New(KindAggregateScripts, p, AggregateOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "names are required")

	_, err = New(KindOptimizePNG, p, OptimizeOptions{Level: 9})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")

	_, err = New(KindPropagate, p, PropagateOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target project is required")

	_, err = New(KindPropagate, p, PropagateOptions{Target: p})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "into itself")
}

func TestNew_BadToolOverride(t *testing.T) {
	p := newTestProject(t, "app")
	p.Tools[ToolScripts] = `echo "unterminated`

	_, err := New(KindCompileScripts, p, nil)
	require.Error(t, err)

	var ce *project.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "tools.scripts", ce.Field)
	assert.Equal(t, "app", ce.Project)
}

func TestKinds_CoversEveryStage(t *testing.T) {
	kinds := Kinds()
	for _, k := range []Kind{
		KindCopyAssets, KindCopyScripts, KindCopyTestScripts, KindCopyStyles,
		KindCompileStyles, KindCompileScripts, KindCompileTestScripts, KindCompileTemplates,
		KindAggregateScripts, KindAggregateStyles, KindValidateScripts, KindValidateStyles,
		KindOptimizePNG, KindOptimizeJPEG, KindCompressHTML, KindPropagate,
	} {
		assert.Contains(t, kinds, k)
	}
}

func TestRegister_SameKindTwiceKeepsOne(t *testing.T) {
	calls := 0
	Register("test-only", func(kind Kind) Processor {
		calls++
		return newValidator(KindValidateScripts)
	})
	Register("test-only", func(kind Kind) Processor {
		calls += 10
		return newValidator(KindValidateScripts)
	})
	t.Cleanup(func() {
		registryMu.Lock()
		delete(registry, "test-only")
		registryMu.Unlock()
	})

	n := 0
	for _, k := range Kinds() {
		if k == "test-only" {
			n++
		}
	}
	assert.Equal(t, 1, n)

	_, err := New("test-only", newTestProject(t, "app"), nil)
	require.NoError(t, err)
	assert.Equal(t, 10, calls)
}

func TestWrap(t *testing.T) {
	p := newTestProject(t, "app")
	proc := mustNew(t, KindCopyAssets, p, nil)

	assert.NoError(t, Wrap(proc, "build", "/x", nil))

	err := Wrap(proc, "build", "/x", os.ErrPermission)
	require.Error(t, err)
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "copy-assets", pe.Processor)
	assert.ErrorIs(t, err, os.ErrPermission)
	assert.True(t, IsError(err))

	inner := Failf("missing %s", "vendor")
	err = Wrap(proc, "aggregate", "/y", inner)
	assert.Equal(t, "copy-assets aggregate /y: missing vendor", err.Error())
}

func TestAccept_NoHookWhenRejected(t *testing.T) {
	p := newTestProject(t, "app")
	for _, kind := range []Kind{KindCopyAssets, KindCopyScripts, KindCompileScripts, KindValidateStyles, KindOptimizePNG} {
		proc := mustNew(t, kind, p, nil)
		assert.False(t, proc.Accept(filepath.Join(p.Root, "README.md")), kind)
		assert.False(t, proc.Accept(filepath.Join(filepath.Dir(p.Root), "elsewhere", "a.js")), kind)
	}
}

func TestPropagate_AcceptsOnlyFinalArtifact(t *testing.T) {
	contrib := newTestProject(t, "widgets")
	target := newTestProject(t, "site")
	proc := mustNew(t, KindPropagate, contrib, PropagateOptions{Target: target})

	assert.Equal(t, "propagate:widgets->site", proc.Name())
	assert.True(t, proc.Accept(contrib.FinalArtifact("js")))
	assert.False(t, proc.Accept(contrib.FinalArtifact("css")))
	assert.False(t, proc.Accept(filepath.Join(contrib.ScriptsOutputDir(), "widgets.js")))
	assert.False(t, proc.Accept(target.FinalArtifact("js")))
}

func TestPropagate_CopiesAndRetriggers(t *testing.T) {
	contrib := newTestProject(t, "widgets")
	target := newTestProject(t, "site")

	var fired []fsevent.Event
	proc := mustNew(t, KindPropagate, contrib, PropagateOptions{
		Target:    target,
		Retrigger: func(ev fsevent.Event) { fired = append(fired, ev) },
	})

	ctx := context.Background()
	artifact := contrib.FinalArtifact("js")
	dest := filepath.Join(target.LibsDir(), "widgets.js")

	writeFile(t, artifact, "var widgets = 1;\n")
	require.NoError(t, proc.Created(ctx, artifact))
	assert.Equal(t, "var widgets = 1;\n", readFile(t, dest))

	writeFile(t, artifact, "var widgets = 2;\n")
	require.NoError(t, proc.Updated(ctx, artifact))
	assert.Equal(t, "var widgets = 2;\n", readFile(t, dest))

	require.NoError(t, os.Remove(artifact))
	require.NoError(t, proc.Deleted(ctx, artifact))
	assert.NoFileExists(t, dest)

	require.Len(t, fired, 3)
	for i, kind := range []fsevent.Kind{fsevent.Created, fsevent.Updated, fsevent.Deleted} {
		assert.Equal(t, kind, fired[i].Kind)
		assert.Equal(t, dest, fired[i].Path)
		assert.Same(t, target, fired[i].Project)
		assert.True(t, fired[i].Synthetic)
	}
}

func TestPropagate_ProcessAllDoesNotRetrigger(t *testing.T) {
	contrib := newTestProject(t, "widgets")
	target := newTestProject(t, "site")

	fired := 0
	proc := mustNew(t, KindPropagate, contrib, PropagateOptions{
		Target:    target,
		Retrigger: func(fsevent.Event) { fired++ },
	})

	// No artifact yet.
	require.NoError(t, proc.ProcessAll(context.Background()))
	assert.NoFileExists(t, filepath.Join(target.LibsDir(), "widgets.js"))

	writeFile(t, contrib.FinalArtifact("js"), "w")
	require.NoError(t, proc.ProcessAll(context.Background()))
	assert.Equal(t, "w", readFile(t, filepath.Join(target.LibsDir(), "widgets.js")))
	assert.Zero(t, fired)
}
