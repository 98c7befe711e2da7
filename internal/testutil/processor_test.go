package testutil

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mill/internal/processor"
)

// The fake must satisfy the real interface.
var _ processor.Processor = (*Processor)(nil)

func TestProcessor_LogsHooks(t *testing.T) {
	log := &CallLog{}
	p := NewProcessor("copy", ".js", log)
	ctx := context.Background()

	assert.True(t, p.Accept("/a/b.js"))
	assert.False(t, p.Accept("/a/b.css"))

	require.NoError(t, p.Created(ctx, "/a/b.js"))
	require.NoError(t, p.Updated(ctx, "/a/b.js"))
	require.NoError(t, p.Deleted(ctx, "/a/b.js"))
	require.NoError(t, p.ProcessAll(ctx))

	assert.Equal(t, []string{
		"copy created /a/b.js",
		"copy updated /a/b.js",
		"copy deleted /a/b.js",
		"copy all",
	}, log.Calls())
}

func TestProcessor_Fail(t *testing.T) {
	boom := errors.New("boom")
	p := &Processor{ID: "lint", Fail: boom}
	err := p.Updated(context.Background(), "/x")
	assert.ErrorIs(t, err, boom)
	assert.True(t, p.Accept("/anything"))
}

func TestNewProject(t *testing.T) {
	p := NewProject(t, "app")
	assert.Equal(t, "app", p.ID)
	assert.DirExists(t, p.Root)
	require.NoError(t, p.Validate())

	path := filepath.Join(p.ScriptsDir(), "a.js")
	assert.Equal(t, "", ReadFile(t, path))
	WriteFile(t, path, "x")
	assert.Equal(t, "x", ReadFile(t, path))
}
