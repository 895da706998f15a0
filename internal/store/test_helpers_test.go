package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/plughost/internal/ir"
)

// createTestStore creates a new store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestSession writes a session with minimal required fields.
func createTestSession(t *testing.T, s *Store, id string, started time.Time) Session {
	t.Helper()
	sess := Session{
		ID:            id,
		StartedAt:     started,
		Host:          ir.HostInfo{Name: "plughost", Version: ir.EngineVersion},
		EngineVersion: ir.EngineVersion,
		SampleRate:    48000,
		MaxFrames:     512,
	}
	if err := s.WriteSession(context.Background(), sess); err != nil {
		t.Fatalf("WriteSession() failed: %v", err)
	}
	return sess
}

// createTestSnapshot returns a snapshot of a gain-like plugin whose raw
// state is raw.
func createTestSnapshot(sessionID string, seq int64, uniqueID uint64, raw string) Snapshot {
	st := ir.NewSaveState(ir.PluginKey{RDN: "app.plughost.gain", Format: ir.FormatInternal})
	st.RawState = []byte(raw)
	return Snapshot{
		SessionID: sessionID,
		Seq:       seq,
		UniqueID:  uniqueID,
		Plugin:    "app.plughost.gain",
		State:     st,
	}
}
