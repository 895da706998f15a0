package cli

import (
	"context"
	"fmt"

	"github.com/roach88/plughost/internal/engine"
	"github.com/roach88/plughost/internal/ir"
	"github.com/roach88/plughost/internal/store"
)

// persister writes changed save states of a running engine.
type persister struct {
	store   *store.Store
	engine  *engine.Engine
	session string
	seq     int64

	// last is the latest persisted entry per unique id, written again
	// with the removed flag once the plugin leaves the graph.
	last    map[uint64]engine.SaveStateEntry
	written int
}

func newPersister(ctx context.Context, st *store.Store, eng *engine.Engine) (*persister, error) {
	seq, err := st.MaxSeq(ctx, eng.SessionID())
	if err != nil {
		return nil, err
	}
	return &persister{
		store:   st,
		engine:  eng,
		session: eng.SessionID(),
		seq:     seq,
		last:    make(map[uint64]engine.SaveStateEntry),
	}, nil
}

// Flush writes every save state that changed since the previous call.
func (p *persister) Flush(ctx context.Context) error {
	entries := p.engine.CollectLatestSaveStates()
	if len(entries) == 0 {
		return nil
	}
	snaps := make([]store.Snapshot, 0, len(entries))
	for _, e := range entries {
		snaps = append(snaps, p.snapshot(e, false))
		p.last[e.ID.UniqueID] = e
	}
	return p.write(ctx, snaps)
}

// Removed marks the plugins of removal events as gone.
func (p *persister) Removed(ctx context.Context, events []ir.Event) error {
	var snaps []store.Snapshot
	for _, ev := range events {
		if ev.Type != ir.EventPluginRemoved || ev.Plugin == nil {
			continue
		}
		e, ok := p.last[ev.Plugin.UniqueID]
		if !ok {
			continue
		}
		delete(p.last, ev.Plugin.UniqueID)
		snaps = append(snaps, p.snapshot(e, true))
	}
	if len(snaps) == 0 {
		return nil
	}
	return p.write(ctx, snaps)
}

func (p *persister) snapshot(e engine.SaveStateEntry, removed bool) store.Snapshot {
	p.seq++
	return store.Snapshot{
		SessionID: p.session,
		Seq:       p.seq,
		UniqueID:  e.ID.UniqueID,
		Plugin:    e.ID.String(),
		State:     e.State,
		Hash:      e.Hash,
		Removed:   removed,
	}
}

func (p *persister) write(ctx context.Context, snaps []store.Snapshot) error {
	n, err := p.store.WriteSnapshots(ctx, snaps)
	if err != nil {
		return fmt.Errorf("persist save states: %w", err)
	}
	p.written += n
	return nil
}
