package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ReadSession returns the session with the given id.
func (s *Store) ReadSession(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, host_name, host_version, engine_version, sample_rate, max_frames
		FROM sessions
		WHERE id = ?
	`, id)
	sess, err := scanSession(row)
	if err != nil {
		return Session{}, fmt.Errorf("read session %s: %w", id, err)
	}
	return sess, nil
}

// LatestSession returns the most recently started session.
//
// Session ids are UUIDv7, so ordering by id breaks ties between sessions
// started in the same instant.
func (s *Store) LatestSession(ctx context.Context) (Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, host_name, host_version, engine_version, sample_rate, max_frames
		FROM sessions
		ORDER BY started_at DESC, id DESC
		LIMIT 1
	`)
	sess, err := scanSession(row)
	if err != nil {
		return Session{}, fmt.Errorf("read latest session: %w", err)
	}
	return sess, nil
}

// ReadSessions returns every session, oldest first.
func (s *Store) ReadSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, host_name, host_version, engine_version, sample_rate, max_frames
		FROM sessions
		ORDER BY started_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("read sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("read sessions: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read sessions: %w", err)
	}
	return out, nil
}

// LatestStates returns the latest snapshot of every plugin still present
// at the end of the session, ordered by unique id.
func (s *Store) LatestStates(ctx context.Context, sessionID string) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.session_id, p.seq, p.unique_id, p.plugin, p.state_hash, p.state, p.removed
		FROM plugin_states p
		WHERE p.session_id = ?
		  AND p.seq = (
			SELECT MAX(seq) FROM plugin_states
			WHERE session_id = p.session_id AND unique_id = p.unique_id
		  )
		  AND p.removed = 0
		ORDER BY p.unique_id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("read latest states: %w", err)
	}
	return collectSnapshots(rows)
}

// History returns every snapshot of one plugin instance, in seq order.
func (s *Store) History(ctx context.Context, sessionID string, uniqueID uint64) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, seq, unique_id, plugin, state_hash, state, removed
		FROM plugin_states
		WHERE session_id = ? AND unique_id = ?
		ORDER BY seq ASC, id ASC
	`, sessionID, uniqueID)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return collectSnapshots(rows)
}

// MaxSeq returns the highest snapshot seq of a session, or 0.
func (s *Store) MaxSeq(ctx context.Context, sessionID string) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM plugin_states WHERE session_id = ?`, sessionID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("read max seq: %w", err)
	}
	return seq.Int64, nil
}

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var (
		sess    Session
		started string
	)
	err := row.Scan(
		&sess.ID,
		&started,
		&sess.Host.Name,
		&sess.Host.Version,
		&sess.EngineVersion,
		&sess.SampleRate,
		&sess.MaxFrames,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	if sess.StartedAt, err = parseTime(started); err != nil {
		return Session{}, err
	}
	return sess, nil
}

func collectSnapshots(rows *sql.Rows) ([]Snapshot, error) {
	defer rows.Close()
	var out []Snapshot
	for rows.Next() {
		var (
			snap  Snapshot
			state string
		)
		if err := rows.Scan(
			&snap.SessionID,
			&snap.Seq,
			&snap.UniqueID,
			&snap.Plugin,
			&snap.Hash,
			&state,
			&snap.Removed,
		); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		st, err := unmarshalSaveState(state)
		if err != nil {
			return nil, err
		}
		snap.State = st
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}
	return out, nil
}
