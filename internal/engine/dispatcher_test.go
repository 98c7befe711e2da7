package engine

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mill/internal/chain"
	"github.com/roach88/mill/internal/fsevent"
	"github.com/roach88/mill/internal/journal"
	"github.com/roach88/mill/internal/processor"
	"github.com/roach88/mill/internal/project"
	"github.com/roach88/mill/internal/testutil"
)

func setupTestJournal(t *testing.T, sessionID string) *journal.Store {
	t.Helper()
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	require.NoError(t, j.BeginSession(context.Background(), journal.Session{ID: sessionID, Target: "app", StartedAt: time.Now()}))
	return j
}

// panicky is a processor whose hooks panic.
type panicky struct{ testutil.Processor }

func (p *panicky) Updated(context.Context, string) error { panic("kaboom") }

func TestDispatch_FailureIsolation(t *testing.T) {
	log := &testutil.CallLog{}
	p := project.New("app", t.TempDir())
	second := testutil.NewProcessor("second", "", log)
	second.Fail = errors.New("compiler crashed")

	d := NewDispatcher(p, []processor.Processor{
		testutil.NewProcessor("first", "", log),
		second,
		testutil.NewProcessor("third", "", log),
	})

	res := d.Dispatch(context.Background(), fsevent.Event{Path: "/src/a.js", Kind: fsevent.Updated})

	assert.Equal(t, []string{
		"first updated /src/a.js",
		"second updated /src/a.js",
		"third updated /src/a.js",
	}, log.Calls())
	assert.Equal(t, []string{"first", "second", "third"}, res.Ran)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "second", res.Failures[0].Processor)
	assert.Contains(t, res.Failures[0].Err.Error(), "compiler crashed")
	assert.True(t, processor.IsError(res.Failures[0].Err))
}

func TestDispatch_OnlyAcceptedProcessorsRun(t *testing.T) {
	log := &testutil.CallLog{}
	d := NewDispatcher(project.New("app", t.TempDir()), []processor.Processor{
		testutil.NewProcessor("styles", ".css", log),
		testutil.NewProcessor("scripts", ".js", log),
		testutil.NewProcessor("all", "", log),
	})

	ctx := context.Background()
	d.Dispatch(ctx, fsevent.Event{Path: "/x/app.js", Kind: fsevent.Created})
	d.Dispatch(ctx, fsevent.Event{Path: "/x/app.js", Kind: fsevent.Deleted})

	assert.Equal(t, []string{
		"scripts created /x/app.js",
		"all created /x/app.js",
		"scripts deleted /x/app.js",
		"all deleted /x/app.js",
	}, log.Calls())
}

func TestDispatch_NoopIsJournaled(t *testing.T) {
	j := setupTestJournal(t, "sess-1")
	log := &testutil.CallLog{}
	d := NewDispatcher(project.New("app", t.TempDir()), []processor.Processor{
		testutil.NewProcessor("styles", ".css", log),
	}, WithRecorder(j, "sess-1"))

	res := d.Dispatch(context.Background(), fsevent.Event{Path: "/x/README.md", Kind: fsevent.Updated})
	assert.False(t, res.Handled())
	assert.False(t, res.Failed())
	assert.Empty(t, log.Calls())

	entries, err := j.Recent(context.Background(), journal.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, journal.OutcomeNoop, entries[0].Outcome)
	assert.Equal(t, "/x/README.md", entries[0].Path)
	assert.Empty(t, entries[0].Processor)
}

func TestDispatch_FailureIsJournaled(t *testing.T) {
	j := setupTestJournal(t, "sess-1")
	bad := testutil.NewProcessor("lint", "", nil)
	bad.Fail = errors.New("missing semicolon")
	d := NewDispatcher(project.New("app", t.TempDir()), []processor.Processor{
		testutil.NewProcessor("copy", "", nil),
		bad,
	}, WithRecorder(j, "sess-1"), WithClock(NewClockAt(10)))

	d.Dispatch(context.Background(), fsevent.Event{Path: "/x/a.js", Kind: fsevent.Created, Synthetic: true})

	entries, err := j.Recent(context.Background(), journal.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, int64(11), e.Seq, "one seq per dispatch")
		assert.Equal(t, journal.KindCreated, e.Kind)
		assert.True(t, e.Synthetic)
	}
	assert.Equal(t, journal.OutcomeOK, entries[0].Outcome)
	assert.Equal(t, "lint", entries[1].Processor)
	assert.Equal(t, journal.OutcomeFailed, entries[1].Outcome)
	assert.Contains(t, entries[1].Message, "missing semicolon")
}

func TestDispatch_PanicIsContained(t *testing.T) {
	log := &testutil.CallLog{}
	bad := &panicky{Processor: *testutil.NewProcessor("bad", "", log)}
	d := NewDispatcher(project.New("app", t.TempDir()), []processor.Processor{
		bad,
		testutil.NewProcessor("after", "", log),
	})

	res := d.Dispatch(context.Background(), fsevent.Event{Path: "/a", Kind: fsevent.Updated})
	require.Len(t, res.Failures, 1)
	assert.Contains(t, res.Failures[0].Err.Error(), "kaboom")
	assert.Equal(t, []string{"after updated /a"}, log.Calls())
}

func TestDispatch_HooksIgnoreCancellation(t *testing.T) {
	p := testutil.NewProject(t, "app")
	procs, err := chain.Build(p, chain.Options{})
	require.NoError(t, err)
	d := NewDispatcher(p, procs)

	src := filepath.Join(p.ScriptsDir(), "app.coffee")
	testutil.WriteFile(t, src, "x = 1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := d.Dispatch(ctx, fsevent.Event{Path: src, Kind: fsevent.Created})
	assert.False(t, res.Failed())
	assert.Equal(t, "// app\n", testutil.ReadFile(t, filepath.Join(p.ScriptsOutputDir(), "app.js")))
}

func TestDispatch_CompileBeforeAggregate(t *testing.T) {
	p := testutil.NewProject(t, "app")
	p.Aggregation.Scripts = []string{"vendor", "app"}
	procs, err := chain.Build(p, chain.Options{})
	require.NoError(t, err)
	d := NewDispatcher(p, procs)

	testutil.WriteFile(t, filepath.Join(p.LibsDir(), "vendor.js"), "var vendor;\n")
	src := filepath.Join(p.ScriptsDir(), "app.coffee")
	testutil.WriteFile(t, src, "app = 1")

	res := d.Dispatch(context.Background(), fsevent.Event{Path: src, Kind: fsevent.Created})
	require.False(t, res.Failed(), "%v", res.Failures)

	compile := indexOf(res.Ran, string(processor.KindCompileScripts))
	aggregate := indexOf(res.Ran, string(processor.KindAggregateScripts))
	require.NotEqual(t, -1, compile)
	assert.Less(t, compile, aggregate)

	// The aggregate already contains the freshly compiled output.
	assert.Equal(t, "var vendor;\n// app\n", testutil.ReadFile(t, p.FinalArtifact("js")))
}

func TestDispatch_CreateThenDeleteLeavesNoOutput(t *testing.T) {
	p := testutil.NewProject(t, "app")
	procs, err := chain.Build(p, chain.Options{})
	require.NoError(t, err)
	d := NewDispatcher(p, procs)
	ctx := context.Background()

	sources := []string{
		filepath.Join(p.ScriptsDir(), "app.coffee"),
		filepath.Join(p.ScriptsDir(), "util.js"),
		filepath.Join(p.StylesDir(), "main.less"),
		filepath.Join(p.StylesDir(), "reset.css"),
		filepath.Join(p.ScriptsDir(), "row.dust"),
		filepath.Join(p.TestScriptsDir(), "app_test.coffee"),
		filepath.Join(p.AssetsDir(), "img", "logo.png"),
	}
	for _, src := range sources {
		testutil.WriteFile(t, src, "x")
		require.False(t, d.Dispatch(ctx, fsevent.Event{Path: src, Kind: fsevent.Created}).Failed())
	}
	assert.NotEmpty(t, listFiles(t, p.OutputDir()))

	for _, src := range sources {
		require.NoError(t, os.Remove(src))
		require.False(t, d.Dispatch(ctx, fsevent.Event{Path: src, Kind: fsevent.Deleted}).Failed())
	}
	assert.Empty(t, listFiles(t, p.OutputDir()))
	assert.Empty(t, listFiles(t, p.TestOutputDir()))
}

func TestProcessAll_RunsEveryProcessor(t *testing.T) {
	j := setupTestJournal(t, "sess-1")
	log := &testutil.CallLog{}
	bad := testutil.NewProcessor("bad", "", log)
	bad.Fail = errors.New("nope")

	p := project.New("app", t.TempDir())
	d := NewDispatcher(p, []processor.Processor{
		testutil.NewProcessor("a", ".js", log),
		bad,
		testutil.NewProcessor("c", ".css", log),
	}, WithRecorder(j, "sess-1"))

	res := d.ProcessAll(context.Background())
	assert.Equal(t, []string{"a all", "bad all", "c all"}, log.Calls())
	require.Len(t, res.Failures, 1)

	entries, err := j.Recent(context.Background(), journal.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for _, e := range entries {
		assert.Equal(t, journal.KindCold, e.Kind)
		assert.Equal(t, p.Root, e.Path)
	}
	assert.Equal(t, journal.OutcomeFailed, entries[1].Outcome)
}

func TestProcessAll_Idempotent(t *testing.T) {
	p := testutil.NewProject(t, "app")
	p.Aggregation.Scripts = []string{"app"}
	p.Aggregation.Styles = []string{"main"}
	testutil.WriteFile(t, filepath.Join(p.ScriptsDir(), "app.coffee"), "a")
	testutil.WriteFile(t, filepath.Join(p.StylesDir(), "main.less"), "b")
	testutil.WriteFile(t, filepath.Join(p.AssetsDir(), "index.html"), "<p>")
	testutil.WriteFile(t, filepath.Join(p.TestScriptsDir(), "spec.js"), "spec")

	procs, err := chain.Build(p, chain.Options{})
	require.NoError(t, err)
	d := NewDispatcher(p, procs)

	require.False(t, d.ProcessAll(context.Background()).Failed())
	first := snapshot(t, p.Root)

	require.False(t, d.ProcessAll(context.Background()).Failed())
	assert.Equal(t, first, snapshot(t, p.Root))
	assert.Equal(t, "// app\n", first["out/app.js"])
	assert.Equal(t, "/* main */\n", first["out/app.css"])
}

func TestRun_DrainsInOrderAndStops(t *testing.T) {
	log := &testutil.CallLog{}
	d := NewDispatcher(project.New("app", t.TempDir()), []processor.Processor{
		testutil.NewProcessor("p", "", log),
	})

	for _, path := range []string{"/1", "/2", "/3"} {
		require.True(t, d.Enqueue(fsevent.Event{Path: path, Kind: fsevent.Updated}))
	}

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	require.Eventually(t, func() bool { return len(log.Calls()) == 3 }, time.Second, 5*time.Millisecond)
	d.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}

	assert.Equal(t, []string{"p updated /1", "p updated /2", "p updated /3"}, log.Calls())
	assert.False(t, d.Enqueue(fsevent.Event{Path: "/4", Kind: fsevent.Updated}))
}

func TestRun_ContextCancel(t *testing.T) {
	d := NewDispatcher(project.New("app", t.TempDir()), nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestEnqueue_DefaultsProject(t *testing.T) {
	p := project.New("app", t.TempDir())
	d := NewDispatcher(p, nil)
	require.True(t, d.Enqueue(fsevent.Event{Path: "/a", Kind: fsevent.Created}))

	got, ok := d.queue.TryDequeue()
	require.True(t, ok)
	assert.Same(t, p, got.Project)
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

// listFiles returns the regular files under dir, relative to it.
func listFiles(t *testing.T, dir string) []string {
	t.Helper()
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if !d.IsDir() {
			rel, _ := filepath.Rel(dir, path)
			files = append(files, rel)
		}
		return nil
	})
	require.NoError(t, err)
	return files
}

// snapshot reads every file under root, keyed by slash-separated path.
func snapshot(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	for _, rel := range listFiles(t, root) {
		data, err := os.ReadFile(filepath.Join(root, rel))
		require.NoError(t, err)
		out[filepath.ToSlash(rel)] = string(data)
	}
	return out
}
