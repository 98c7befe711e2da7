package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// DefaultLimit bounds Recent when the filter sets no limit.
const DefaultLimit = 50

// Filter narrows Recent. Zero fields match everything.
type Filter struct {
	SessionID string
	Project   string
	Outcome   Outcome
	Limit     int
}

// Recent returns the newest entries matching f, oldest first.
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) Recent(ctx context.Context, f Filter) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.Project != "" {
		where = append(where, "project = ?")
		args = append(args, f.Project)
	}
	if f.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, string(f.Outcome))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	query := `SELECT seq, session_id, project, path, kind, processor, outcome, message, synthetic FROM dispatches`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query dispatches: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e             Entry
			kind, outcome string
		)
		if err := rows.Scan(&e.Seq, &e.SessionID, &e.Project, &e.Path, &kind, &e.Processor, &outcome, &e.Message, &e.Synthetic); err != nil {
			return nil, fmt.Errorf("scan dispatch: %w", err)
		}
		e.Kind = Kind(kind)
		e.Outcome = Outcome(outcome)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dispatches: %w", err)
	}

	// Newest were selected; present them in order.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// LastSeq returns the highest recorded seq, or 0 for an empty journal. A
// new session's clock resumes from here so seq stays increasing across
// sessions.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM dispatches`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("query last seq: %w", err)
	}
	return seq.Int64, nil
}

// ReadSession returns a recorded session.
func (s *Store) ReadSession(ctx context.Context, id string) (Session, bool, error) {
	var (
		sess              Session
		projects, started string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, target, projects, started_at FROM sessions WHERE id = ?
	`, id).Scan(&sess.ID, &sess.Target, &projects, &started)
	if err == sql.ErrNoRows {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("read session: %w", err)
	}
	if projects != "" {
		sess.Projects = strings.Split(projects, ",")
	}
	sess.StartedAt, err = time.Parse(time.RFC3339Nano, started)
	if err != nil {
		return Session{}, false, fmt.Errorf("read session %s: bad started_at: %w", id, err)
	}
	return sess, true, nil
}
