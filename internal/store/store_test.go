package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/plughost/internal/ir"
)

func TestOpen_AppliesPragmas(t *testing.T) {
	s := createTestStore(t)

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, s.verifyPragma("user_version", "2"))
}

func indexExists(t *testing.T, s *Store, name string) bool {
	t.Helper()
	var n int
	require.NoError(t, s.db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?`, name,
	).Scan(&n))
	return n == 1
}

func TestOpen_MigratesOlderSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s1, err := Open(path)
	require.NoError(t, err)
	_, err = s1.db.Exec(`DROP INDEX idx_plugin_states_rdn`)
	require.NoError(t, err)
	_, err = s1.db.Exec(`PRAGMA user_version = 1`)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	assert.NoError(t, s2.verifyPragma("user_version", "2"))
	assert.True(t, indexExists(t, s2, "idx_sessions_started"))
	assert.True(t, indexExists(t, s2, "idx_plugin_states_rdn"))
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s1, err := Open(path)
	require.NoError(t, err)
	_, err = s1.db.Exec(`PRAGMA user_version = 99`)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	_, err = Open(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than supported")
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s1, err := Open(path)
	require.NoError(t, err)
	createTestSession(t, s1, "s1", time.Unix(100, 0))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	sess, err := s2.ReadSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", sess.ID)
}

func TestSession_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	started := time.Date(2024, 1, 1, 12, 0, 0, 500, time.UTC)
	want := createTestSession(t, s, "s1", started)

	// duplicate ids are ignored
	require.NoError(t, s.WriteSession(ctx, want))

	got, err := s.ReadSession(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, got.StartedAt.Equal(started))
	got.StartedAt = want.StartedAt
	assert.Equal(t, want, got)

	_, err = s.ReadSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLatestSession(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.LatestSession(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	createTestSession(t, s, "a", time.Unix(200, 0))
	createTestSession(t, s, "b", time.Unix(100, 0))

	latest, err := s.LatestSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", latest.ID)

	all, err := s.ReadSessions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].ID)
	assert.Equal(t, "a", all[1].ID)
}

func TestLatestSession_SubSecond(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	createTestSession(t, s, "later", base.Add(500*time.Millisecond))
	createTestSession(t, s, "earlier", base)

	latest, err := s.LatestSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "later", latest.ID)
	assert.True(t, latest.StartedAt.Equal(base.Add(500*time.Millisecond)))

	all, err := s.ReadSessions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, []string{"earlier", "later"}, []string{all[0].ID, all[1].ID})
}

func TestWriteSnapshot_SkipsUnchanged(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestSession(t, s, "s1", time.Unix(100, 0))

	tests := []struct {
		name  string
		snap  Snapshot
		wrote bool
	}{
		{"first", createTestSnapshot("s1", 1, 7, "a"), true},
		{"unchanged", createTestSnapshot("s1", 2, 7, "a"), false},
		{"changed", createTestSnapshot("s1", 3, 7, "b"), true},
		{"changed back", createTestSnapshot("s1", 4, 7, "a"), true},
		{"retry of seq", createTestSnapshot("s1", 4, 7, "c"), false},
		{"other plugin", createTestSnapshot("s1", 4, 8, "a"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrote, err := s.WriteSnapshot(ctx, tt.snap)
			require.NoError(t, err)
			assert.Equal(t, tt.wrote, wrote)
		})
	}

	history, err := s.History(ctx, "s1", 7)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, []byte("a"), history[2].State.RawState)

	seq, err := s.MaxSeq(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), seq)
}

func TestWriteSnapshot_RequiresSession(t *testing.T) {
	s := createTestStore(t)
	_, err := s.WriteSnapshot(context.Background(), createTestSnapshot("nope", 1, 1, "a"))
	assert.Error(t, err)
}

func TestLatestStates(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestSession(t, s, "s1", time.Unix(100, 0))

	removed := createTestSnapshot("s1", 3, 2, "x")
	removed.Removed = true
	n, err := s.WriteSnapshots(ctx, []Snapshot{
		createTestSnapshot("s1", 1, 1, "one"),
		createTestSnapshot("s1", 1, 2, "two"),
		createTestSnapshot("s1", 2, 1, "one-v2"),
		removed,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	latest, err := s.LatestStates(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, uint64(1), latest[0].UniqueID)
	assert.Equal(t, []byte("one-v2"), latest[0].State.RawState)
	assert.Equal(t, ir.FormatInternal, latest[0].State.Key.Format)

	hash, err := ir.SaveStateHash(latest[0].State)
	require.NoError(t, err)
	assert.Equal(t, hash, latest[0].Hash)
}

func TestMaxSeq_EmptySession(t *testing.T) {
	s := createTestStore(t)
	createTestSession(t, s, "s1", time.Unix(100, 0))
	seq, err := s.MaxSeq(context.Background(), "s1")
	require.NoError(t, err)
	assert.Zero(t, seq)
}
