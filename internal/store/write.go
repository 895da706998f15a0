package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/plughost/internal/ir"
)

// Session is one engine run.
type Session struct {
	ID            string
	StartedAt     time.Time
	Host          ir.HostInfo
	EngineVersion string
	SampleRate    float64
	MaxFrames     uint32
}

// Snapshot is one persisted save state of a plugin instance.
type Snapshot struct {
	SessionID string
	// Seq orders snapshots within a session.
	Seq      int64
	UniqueID uint64
	// Plugin is the instance id in its string form.
	Plugin  string
	State   ir.PluginSaveState
	Hash    string
	Removed bool
}

// WriteSession inserts a session record.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - duplicate IDs are silently ignored.
func (s *Store) WriteSession(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions
		(id, started_at, host_name, host_version, engine_version, sample_rate, max_frames)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		sess.ID,
		formatTime(sess.StartedAt),
		sess.Host.Name,
		sess.Host.Version,
		sess.EngineVersion,
		sess.SampleRate,
		sess.MaxFrames,
	)
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// WriteSnapshot stores snap unless the latest snapshot of the same plugin
// in the session has the same hash and removed flag. It reports whether a
// row was written. An empty Hash is computed from State.
//
// Note: The session referenced by SessionID must exist (foreign key constraint).
func (s *Store) WriteSnapshot(ctx context.Context, snap Snapshot) (bool, error) {
	return writeSnapshot(ctx, s.db, snap)
}

// execer is implemented by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func writeSnapshot(ctx context.Context, db execer, snap Snapshot) (bool, error) {
	if snap.Hash == "" {
		h, err := ir.SaveStateHash(snap.State)
		if err != nil {
			return false, fmt.Errorf("write snapshot: %w", err)
		}
		snap.Hash = h
	}
	state, err := marshalSaveState(snap.State)
	if err != nil {
		return false, fmt.Errorf("write snapshot: %w", err)
	}

	res, err := db.ExecContext(ctx, `
		INSERT INTO plugin_states
		(session_id, seq, unique_id, plugin, rdn, format, state_hash, state, removed)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM plugin_states p
			WHERE p.session_id = ? AND p.unique_id = ?
			  AND p.state_hash = ? AND p.removed = ?
			  AND p.seq = (
				SELECT MAX(seq) FROM plugin_states
				WHERE session_id = ? AND unique_id = ?
			  )
		)
		ON CONFLICT DO NOTHING
	`,
		snap.SessionID, snap.Seq, snap.UniqueID, snap.Plugin,
		snap.State.Key.RDN, string(snap.State.Key.Format),
		snap.Hash, state, snap.Removed,
		snap.SessionID, snap.UniqueID, snap.Hash, snap.Removed,
		snap.SessionID, snap.UniqueID,
	)
	if err != nil {
		return false, fmt.Errorf("write snapshot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write snapshot: %w", err)
	}
	return n > 0, nil
}

// WriteSnapshots writes snaps in one transaction and returns how many
// rows were written.
func (s *Store) WriteSnapshots(ctx context.Context, snaps []Snapshot) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("write snapshots: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	written := 0
	for _, snap := range snaps {
		ok, err := writeSnapshot(ctx, tx, snap)
		if err != nil {
			return 0, err
		}
		if ok {
			written++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("write snapshots: %w", err)
	}
	return written, nil
}
