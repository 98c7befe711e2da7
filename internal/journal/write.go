package journal

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Kind is the event kind of a dispatch, plus "cold" for the startup pass.
type Kind string

const (
	KindCreated Kind = "created"
	KindUpdated Kind = "updated"
	KindDeleted Kind = "deleted"
	KindCold    Kind = "cold"
)

// Outcome is what happened to one processor (or to an unmatched event).
type Outcome string

const (
	OutcomeOK     Outcome = "ok"
	OutcomeFailed Outcome = "failed"
	OutcomeNoop   Outcome = "noop"
)

// Session is one run of the engine.
type Session struct {
	ID        string
	Target    string
	Projects  []string
	StartedAt time.Time
}

// Entry is one dispatch outcome.
type Entry struct {
	Seq       int64
	SessionID string
	Project   string
	Path      string
	Kind      Kind
	Processor string // empty for noop
	Outcome   Outcome
	Message   string
	Synthetic bool
}

// BeginSession records a new session. Writing the same id twice is a no-op.
func (s *Store) BeginSession(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, target, projects, started_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		sess.ID,
		sess.Target,
		strings.Join(sess.Projects, ","),
		sess.StartedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("begin session: %w", err)
	}
	return nil
}

// Record appends a dispatch outcome. The session must exist.
func (s *Store) Record(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dispatches
		(seq, session_id, project, path, kind, processor, outcome, message, synthetic)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.Seq,
		e.SessionID,
		e.Project,
		e.Path,
		string(e.Kind),
		e.Processor,
		string(e.Outcome),
		e.Message,
		e.Synthetic,
	)
	if err != nil {
		return fmt.Errorf("record dispatch: %w", err)
	}
	return nil
}
