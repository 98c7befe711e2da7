package journal

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func beginTestSession(t *testing.T, s *Store, id string) {
	t.Helper()
	require.NoError(t, s.BeginSession(context.Background(), Session{
		ID:        id,
		Target:    "site",
		Projects:  []string{"widgets", "site"},
		StartedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}))
}

func TestOpen_CreatesDirectoryAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".mill", "journal.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("journal file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)
	for name, want := range map[string]string{
		"journal_mode": "wal",
		"synchronous":  "1",
		"busy_timeout": "5000",
		"foreign_keys": "1",
		"user_version": "2",
	} {
		if err := s.verifyPragma(name, want); err != nil {
			t.Error(err)
		}
	}
}

func TestOpen_MigratesVersion1(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE sessions (id TEXT PRIMARY KEY, target TEXT NOT NULL, projects TEXT NOT NULL, started_at TEXT NOT NULL);
		CREATE TABLE dispatches (
			id INTEGER PRIMARY KEY AUTOINCREMENT, seq INTEGER NOT NULL, session_id TEXT NOT NULL,
			project TEXT NOT NULL, path TEXT NOT NULL, kind TEXT NOT NULL, processor TEXT NOT NULL DEFAULT '',
			outcome TEXT NOT NULL, message TEXT NOT NULL DEFAULT ''
		);
		PRAGMA user_version = 1;
	`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	beginTestSession(t, s, "sess-1")
	require.NoError(t, s.Record(context.Background(), Entry{
		Seq: 1, SessionID: "sess-1", Project: "site", Path: "/x", Kind: KindUpdated,
		Processor: "copy-assets", Outcome: OutcomeOK, Synthetic: true,
	}))
	entries, err := s.Recent(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Synthetic)
}

func TestRecord_RequiresSession(t *testing.T) {
	s := createTestStore(t)
	err := s.Record(context.Background(), Entry{
		Seq: 1, SessionID: "missing", Project: "p", Path: "/x", Kind: KindCreated, Outcome: OutcomeNoop,
	})
	require.Error(t, err)
}

func TestRecord_RejectsUnknownOutcome(t *testing.T) {
	s := createTestStore(t)
	beginTestSession(t, s, "sess-1")
	err := s.Record(context.Background(), Entry{
		Seq: 1, SessionID: "sess-1", Project: "p", Path: "/x", Kind: KindCreated, Outcome: "exploded",
	})
	require.Error(t, err)
}

func TestRecent_OrderAndFilters(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	beginTestSession(t, s, "sess-1")

	entries := []Entry{
		{Seq: 1, Project: "widgets", Path: "/w", Kind: KindCold, Processor: "copy-assets", Outcome: OutcomeOK},
		{Seq: 2, Project: "site", Path: "/s/a.coffee", Kind: KindCreated, Processor: "compile-scripts", Outcome: OutcomeFailed, Message: "syntax error"},
		{Seq: 2, Project: "site", Path: "/s/a.coffee", Kind: KindCreated, Processor: "aggregate-scripts", Outcome: OutcomeOK},
		{Seq: 3, Project: "site", Path: "/s/README", Kind: KindUpdated, Outcome: OutcomeNoop},
	}
	for _, e := range entries {
		e.SessionID = "sess-1"
		require.NoError(t, s.Record(ctx, e))
	}

	all, err := s.Recent(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, int64(1), all[0].Seq)
	assert.Equal(t, "compile-scripts", all[1].Processor)
	assert.Equal(t, "aggregate-scripts", all[2].Processor)
	assert.Equal(t, OutcomeNoop, all[3].Outcome)

	failed, err := s.Recent(ctx, Filter{Outcome: OutcomeFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "syntax error", failed[0].Message)
	assert.Equal(t, KindCreated, failed[0].Kind)

	widgets, err := s.Recent(ctx, Filter{Project: "widgets"})
	require.NoError(t, err)
	require.Len(t, widgets, 1)

	last2, err := s.Recent(ctx, Filter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, last2, 2)
	assert.Equal(t, "aggregate-scripts", last2[0].Processor)
	assert.Equal(t, int64(3), last2[1].Seq)

	none, err := s.Recent(ctx, Filter{SessionID: "other"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestLastSeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	seq, err := s.LastSeq(ctx)
	require.NoError(t, err)
	assert.Zero(t, seq)

	beginTestSession(t, s, "sess-1")
	for _, n := range []int64{4, 9, 7} {
		require.NoError(t, s.Record(ctx, Entry{Seq: n, SessionID: "sess-1", Project: "p", Path: "/x", Kind: KindUpdated, Outcome: OutcomeNoop}))
	}
	seq, err = s.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(9), seq)
}

func TestReadSession(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	beginTestSession(t, s, "sess-1")
	beginTestSession(t, s, "sess-1")

	sess, ok, err := s.ReadSession(ctx, "sess-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "site", sess.Target)
	assert.Equal(t, []string{"widgets", "site"}, sess.Projects)
	assert.True(t, sess.StartedAt.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))

	_, ok, err = s.ReadSession(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClose_Nil(t *testing.T) {
	var s *Store
	assert.NoError(t, s.Close())
}
