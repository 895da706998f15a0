package engine

import (
	"time"

	"github.com/roach88/plughost/internal/audiograph"
	"github.com/roach88/plughost/internal/ir"
	"github.com/roach88/plughost/internal/timer"
)

// OnTimer advances the timer wheel and returns the events produced since
// the last call together with the instant it must next be called at.
//
// The main idle key drives every plugin host and recompiles when one of
// them asked for it; the garbage-collect key frees retired audio-thread
// resources; plugin timer keys fire the plugin's own timers.
func (e *Engine) OnTimer() ([]ir.Event, time.Time) {
	events := e.queue.Drain(nil)

	now := e.now.Now()
	e.keys = e.wheel.Advance(now, e.keys[:0])
	for _, k := range e.keys {
		switch k.Kind {
		case timer.KeyMainIdle:
			events = e.onIdle(events)
		case timer.KeyGarbageCollect:
			if n := e.collector.Collect(); n > 0 {
				e.logger.Debug("collected retired resources", "count", n)
			}
		case timer.KeyPluginTimer:
			e.onPluginTimer(k)
		}
	}
	events = e.queue.Drain(events)

	next, ok := e.wheel.NextExpectedTick()
	if !ok {
		next = now.Add(e.settings.IdlePeriod)
	}
	return events, next
}

func (e *Engine) onIdle(events []ir.Event) []ir.Event {
	if e.graph == nil {
		return events
	}
	out := e.graph.OnIdle()
	events = append(events, out.Events...)
	e.applyTimerOps(out.TimerOps)
	for _, id := range out.Removed {
		e.forgetPlugin(id)
	}
	if e.graph.Dirty() {
		if err := e.graph.Compile(); err != nil {
			e.crash(err)
		}
	}
	return events
}

func (e *Engine) applyTimerOps(ops []audiograph.PluginTimerOp) {
	now := e.now.Now()
	for _, op := range ops {
		uid := op.Plugin.UniqueID
		if op.Op.Register {
			e.wheel.RegisterPluginTimer(now, uid, op.Op.ID, op.Op.Period)
			continue
		}
		e.wheel.UnregisterPluginTimer(uid, op.Op.ID)
	}
}

func (e *Engine) onPluginTimer(k timer.Key) {
	id, ok := e.byUID[k.PluginID]
	if !ok {
		e.wheel.Unregister(k)
		return
	}
	h, ok := e.graph.Host(id)
	if !ok {
		e.wheel.Unregister(k)
		return
	}
	h.OnTimer(k.TimerID)
}
