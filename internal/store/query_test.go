package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/plughost/internal/statequery"
)

func TestCompileStateQuery(t *testing.T) {
	sql, params, err := compileStateQuery(StateQuery{
		SessionID: "s1",
		Filter: statequery.And{Predicates: []statequery.Predicate{
			statequery.Equals{Field: statequery.FieldRDN, Value: "app.plughost.gain"},
			statequery.Not{Predicate: statequery.Equals{Field: statequery.FieldRemoved, Value: true}},
		}},
	})
	require.NoError(t, err)

	assert.Contains(t, sql, "p.session_id = ? AND (p.rdn = ? AND NOT (p.removed = ?))")
	assert.Contains(t, sql, "ORDER BY p.unique_id ASC, p.seq ASC")
	assert.NotContains(t, sql, "app.plughost.gain")
	assert.Equal(t, []any{"s1", "app.plughost.gain", true}, params)
}

func TestCompileStateQuery_RejectsInvalidFilter(t *testing.T) {
	_, _, err := compileStateQuery(StateQuery{
		SessionID: "s1",
		Filter:    statequery.Equals{Field: "state; DROP TABLE sessions", Value: "x"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter")
}

func TestQueryStates(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestSession(t, s, "s1", time.Unix(100, 0))

	removed := createTestSnapshot("s1", 4, 4, `{"gain":1}`)
	removed.Removed = true
	_, err := s.WriteSnapshots(ctx, []Snapshot{
		createTestSnapshot("s1", 1, 3, `{"gain":0.5}`),
		createTestSnapshot("s1", 2, 4, `{"gain":1}`),
		createTestSnapshot("s1", 3, 3, `{"gain":0.25}`),
		removed,
	})
	require.NoError(t, err)

	t.Run("all", func(t *testing.T) {
		snaps, err := s.QueryStates(ctx, StateQuery{SessionID: "s1"})
		require.NoError(t, err)
		require.Len(t, snaps, 4)
		assert.Equal(t, []int64{1, 3, 2, 4}, seqs(snaps))
	})

	t.Run("latest", func(t *testing.T) {
		snaps, err := s.QueryStates(ctx, StateQuery{SessionID: "s1", Latest: true})
		require.NoError(t, err)
		assert.Equal(t, []int64{3, 4}, seqs(snaps))
	})

	t.Run("latest_not_removed", func(t *testing.T) {
		p, err := statequery.Parse("removed=false")
		require.NoError(t, err)

		snaps, err := s.QueryStates(ctx, StateQuery{SessionID: "s1", Latest: true, Filter: p})
		require.NoError(t, err)
		require.Len(t, snaps, 1)
		assert.Equal(t, uint64(3), snaps[0].UniqueID)
		assert.JSONEq(t, `{"gain":0.25}`, string(snaps[0].State.RawState))
	})

	t.Run("by_unique_id", func(t *testing.T) {
		p, err := statequery.Parse("unique_id=4")
		require.NoError(t, err)

		snaps, err := s.QueryStates(ctx, StateQuery{SessionID: "s1", Filter: p})
		require.NoError(t, err)
		assert.Equal(t, []int64{2, 4}, seqs(snaps))
	})

	t.Run("other_session", func(t *testing.T) {
		snaps, err := s.QueryStates(ctx, StateQuery{SessionID: "s2"})
		require.NoError(t, err)
		assert.Empty(t, snaps)
	})
}

func seqs(snaps []Snapshot) []int64 {
	out := make([]int64, len(snaps))
	for i, s := range snaps {
		out[i] = s.Seq
	}
	return out
}
