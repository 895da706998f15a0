// Package host implements the control-thread side of one hosted plugin:
// its lifecycle state machine, parameter cache, port configuration and
// save state, plus the audio-side Processor that runs it in a schedule.
package host

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/plughost/internal/ir"
	"github.com/roach88/plughost/internal/plugin"
	"github.com/roach88/plughost/internal/schedule"
)

// DefaultEventCapacity is the processor's event buffer size when Config
// leaves it zero.
const DefaultEventCapacity = 512

// Config is what NewHost needs to instantiate a plugin.
type Config struct {
	ID        ir.PluginInstanceID
	SaveState ir.PluginSaveState
	// Factory is nil when no factory provides the save state's key. The
	// host is then created around a placeholder.
	Factory  plugin.Factory
	HostInfo ir.HostInfo
	Loader   plugin.ResourceLoader
	Logger   *slog.Logger

	EventCapacity int
}

// ParamState is the cached state of one parameter.
type ParamState struct {
	Info      plugin.ParamInfo
	Value     float64
	ModAmount float64
	// Gesturing is set between gesture begin and end events.
	Gesturing bool
}

// Host owns one plugin instance on the control thread.
type Host struct {
	id      ir.PluginInstanceID
	key     ir.PluginKey
	main    plugin.MainThread
	request *plugin.HostRequest
	logger  *slog.Logger

	missing bool
	loadErr error

	shared *shared
	slot   *schedule.ProcessorSlot
	proc   *Processor

	// Queues of the current activation.
	toProc *plugin.ParamQueue
	toUser *plugin.ParamQueue

	paramIDs []ir.ParamID
	params   map[ir.ParamID]*ParamState

	audioPorts *ir.AudioPortsConfig
	notePorts  *ir.NotePortsConfig
	latency    int64

	rawState []byte
	guiSize  *ir.GUISize
	internal plugin.InternalHandle

	eventCapacity int
	activation    activation
	activated     bool // at least one successful activation
	wantActive    bool
	rescanPorts   bool
	restart       bool
	remove        bool
	activateErr   error
	timers        map[ir.TimerID]struct{}

	// deferred holds parameter writes made while the audio thread may
	// still own the processor. They are flushed once the plugin is
	// inactive.
	deferred     []plugin.Event
	flushPending bool
}

// activation is the argument set of the last Activate call, reused when
// the plugin restarts itself.
type activation struct {
	sampleRate           float64
	minFrames, maxFrames uint32
}

// NewHost instantiates the plugin of cfg.SaveState. A plugin that cannot
// be instantiated, or whose state fails to load, is replaced by a
// placeholder keeping the save state's backup ports; LoadError reports
// why.
func NewHost(cfg Config) *Host {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &Host{
		id:            cfg.ID,
		key:           cfg.SaveState.Key,
		request:       plugin.NewHostRequest(),
		logger:        logger.With("plugin", cfg.ID.String()),
		shared:        &shared{},
		slot:          &schedule.ProcessorSlot{},
		params:        make(map[ir.ParamID]*ParamState),
		rawState:      cfg.SaveState.RawState,
		eventCapacity: cfg.EventCapacity,
		wantActive:    cfg.SaveState.Active,
		timers:        make(map[ir.TimerID]struct{}),
	}
	if h.eventCapacity <= 0 {
		h.eventCapacity = DefaultEventCapacity
	}
	if cfg.SaveState.GUISize != nil {
		g := *cfg.SaveState.GUISize
		h.guiSize = &g
	}
	h.shared.bypassed.Store(cfg.SaveState.Bypassed)

	h.main, h.loadErr = instantiate(cfg, h.request)
	if h.loadErr != nil {
		h.logger.Warn("plugin failed to load, using placeholder", "key", cfg.SaveState.Key.String(), "error", h.loadErr)
		h.main = newMissingPlugin(cfg.SaveState)
		h.missing = true
	}

	h.readPorts(cfg.SaveState)
	h.rescanParams()
	return h
}

func instantiate(cfg Config, req *plugin.HostRequest) (plugin.MainThread, error) {
	if cfg.Factory == nil {
		return nil, fmt.Errorf("no plugin factory for %s", cfg.SaveState.Key)
	}
	main, err := cfg.Factory.New(plugin.Context{
		HostInfo: cfg.HostInfo,
		Request:  req,
		Loader:   cfg.Loader,
		UniqueID: cfg.ID.UniqueID,
	})
	if err != nil {
		return nil, fmt.Errorf("instantiate %s: %w", cfg.SaveState.Key, err)
	}
	if len(cfg.SaveState.RawState) > 0 {
		if err := main.LoadState(cfg.SaveState.RawState); err != nil {
			main.Destroy()
			return nil, fmt.Errorf("load state of %s: %w", cfg.SaveState.Key, err)
		}
	}
	return main, nil
}

// readPorts reads the port configuration, falling back to the backup
// configuration when the plugin cannot report it.
func (h *Host) readPorts(s ir.PluginSaveState) {
	audio, err := h.main.AudioPorts()
	if err != nil || audio == nil {
		h.logger.Warn("plugin did not report audio ports, using backup", "error", err)
		audio = s.BackupAudioPorts.Clone()
		if audio == nil {
			audio = &ir.AudioPortsConfig{}
		}
	}
	notes, err := h.main.NotePorts()
	if err != nil || notes == nil {
		h.logger.Warn("plugin did not report note ports, using backup", "error", err)
		notes = s.BackupNotePorts.Clone()
		if notes == nil {
			notes = &ir.NotePortsConfig{}
		}
	}
	h.audioPorts, h.notePorts = audio, notes
}

// rescanParams reloads the parameter list and values, keeping modulation
// amounts of parameters that still exist.
func (h *Host) rescanParams() {
	n := h.main.NumParams()
	ids := make([]ir.ParamID, 0, n)
	params := make(map[ir.ParamID]*ParamState, n)
	for i := range n {
		info, ok := h.main.ParamInfo(i)
		if !ok {
			h.logger.Warn("plugin did not report param info", "index", i)
			continue
		}
		if _, dup := params[info.ID]; dup {
			h.logger.Warn("plugin reported duplicate param id", "param", info.ID)
			continue
		}
		st := &ParamState{Info: info, Value: info.Default}
		if v, ok := h.main.ParamValue(info.ID); ok {
			st.Value = v
		}
		if old, ok := h.params[info.ID]; ok {
			st.ModAmount = old.ModAmount
		}
		ids = append(ids, info.ID)
		params[info.ID] = st
	}
	h.paramIDs, h.params = ids, params
}

// ID returns the host's plugin instance id.
func (h *Host) ID() ir.PluginInstanceID { return h.id }

// Key returns the plugin type key.
func (h *Host) Key() ir.PluginKey { return h.key }

// Missing reports whether the host runs a placeholder.
func (h *Host) Missing() bool { return h.missing }

// LoadError is the reason the plugin was replaced by a placeholder.
func (h *Host) LoadError() error { return h.loadErr }

// State returns the current lifecycle state.
func (h *Host) State() ActiveState { return h.shared.load() }

// Slot is the cell the schedule's plugin task reads the processor from.
func (h *Host) Slot() *schedule.ProcessorSlot { return h.slot }

// AudioPorts returns the current audio port configuration.
func (h *Host) AudioPorts() *ir.AudioPortsConfig { return h.audioPorts }

// NotePorts returns the current note port configuration.
func (h *Host) NotePorts() *ir.NotePortsConfig { return h.notePorts }

// Latency returns the latency reported at the last activation.
func (h *Host) Latency() int64 { return h.latency }

// HasAutomationPorts reports whether the plugin exposes automation ports.
func (h *Host) HasAutomationPorts() bool { return len(h.paramIDs) > 0 }

// Internal returns the control handle of an internal plugin.
func (h *Host) Internal() plugin.InternalHandle { return h.internal }

// GUI returns the plugin's GUI capabilities.
func (h *Host) GUI() plugin.GUIInfo { return h.main.GUI() }

// Request returns the plugin's request flags. Collaborators that talk to
// the plugin outside the host use it to raise requests.
func (h *Host) Request() *plugin.HostRequest { return h.request }

// WantsActive reports whether the plugin should be active: the save
// state's flag until the first activation or deactivation changes it.
func (h *Host) WantsActive() bool { return h.wantActive }

// Bypassed reports whether the plugin is bypassed.
func (h *Host) Bypassed() bool { return h.shared.bypassed.Load() }

// SetBypassed toggles bypass. It takes effect on the next block.
func (h *Host) SetBypassed(b bool) { h.shared.bypassed.Store(b) }

// ParamIDs returns the parameter ids in plugin order.
func (h *Host) ParamIDs() []ir.ParamID { return slices.Clone(h.paramIDs) }

// Param returns the cached state of one parameter.
func (h *Host) Param(id ir.ParamID) (ParamState, bool) {
	p, ok := h.params[id]
	if !ok {
		return ParamState{}, false
	}
	return *p, true
}

// Timers returns the ids of the plugin's registered timers.
func (h *Host) Timers() []ir.TimerID {
	ids := make([]ir.TimerID, 0, len(h.timers))
	for id := range h.timers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// OnTimer forwards a fired timer to the plugin.
func (h *Host) OnTimer(id ir.TimerID) {
	if _, ok := h.timers[id]; ok {
		h.main.OnTimer(id)
	}
}

// SaveState returns the current save state. The port configuration is
// stored as backup so the node keeps its ports if the plugin is missing on
// reload.
func (h *Host) SaveState() ir.PluginSaveState {
	raw, err := h.main.SaveState()
	if err != nil {
		h.logger.Warn("plugin failed to save state, keeping previous", "error", err)
		raw = h.rawState
	} else {
		h.rawState = raw
	}
	s := ir.PluginSaveState{
		Key:              h.key,
		Active:           h.wantActive,
		Bypassed:         h.Bypassed(),
		RawState:         append([]byte(nil), raw...),
		BackupAudioPorts: h.audioPorts.Clone(),
		BackupNotePorts:  h.notePorts.Clone(),
	}
	if h.guiSize != nil {
		g := *h.guiSize
		s.GUISize = &g
	}
	return s
}

// SetParamValue writes a parameter value and returns it clamped to range.
// An active plugin receives it on its next block; an inactive one through
// its parameter flush. A plugin being deactivated gets it flushed once the
// audio thread has released the processor.
func (h *Host) SetParamValue(id ir.ParamID, value float64) (float64, error) {
	p, ok := h.params[id]
	if !ok {
		return 0, &ParamError{Code: ErrCodeParamDoesNotExist, Param: id}
	}
	if p.Info.Flags.Has(plugin.ParamReadOnly) {
		return 0, &ParamError{Code: ErrCodeParamIsReadOnly, Param: id}
	}
	v := p.Info.Clamp(value)
	p.Value = v
	if h.queueActive() {
		h.toProc.SetValue(id, v)
		return v, nil
	}
	h.flushOrDefer(plugin.Event{Kind: plugin.EventParamValue, ParamID: id, Value: v, Cookie: p.Info.Cookie})
	return v, nil
}

// SetParamModAmount sets a parameter's modulation offset. The amount is
// clamped to the width of the parameter's range in either direction.
func (h *Host) SetParamModAmount(id ir.ParamID, amount float64) (float64, error) {
	p, ok := h.params[id]
	if !ok {
		return 0, &ParamError{Code: ErrCodeParamDoesNotExist, Param: id}
	}
	if !p.Info.Flags.Has(plugin.ParamModulatable) {
		return 0, &ParamError{Code: ErrCodeParamIsNotModulatable, Param: id}
	}
	span := p.Info.Max - p.Info.Min
	a := max(-span, min(span, amount))
	p.ModAmount = a
	if h.queueActive() {
		h.toProc.SetMod(id, a)
		return a, nil
	}
	h.flushOrDefer(plugin.Event{Kind: plugin.EventParamMod, ParamID: id, Value: a, Cookie: p.Info.Cookie})
	return a, nil
}

// queueActive reports whether parameter writes go to the audio thread.
func (h *Host) queueActive() bool {
	return h.toProc != nil && h.State() == StateActive
}

// flushOrDefer flushes e now if no processor exists. Otherwise the
// processor is on its way out and e waits for flushDeferred.
func (h *Host) flushOrDefer(e plugin.Event) {
	if h.State().IsActive() {
		h.deferred = append(h.deferred, e)
		return
	}
	h.flush(e)
}

// flushDeferred sends the writes and flush requests that arrived while the
// processor was being dropped. The plugin must be inactive.
func (h *Host) flushDeferred() []ir.ParamChange {
	if len(h.deferred) == 0 && !h.flushPending {
		return nil
	}
	changes := h.flush(h.deferred...)
	h.deferred = h.deferred[:0]
	h.flushPending = false
	return changes
}

// flush sends events through the plugin's main-thread flush and applies
// what the plugin reports back.
func (h *Host) flush(in ...plugin.Event) []ir.ParamChange {
	out := plugin.NewEventBuffer(h.eventCapacity)
	h.main.ParamFlush(in, out)
	changes := make([]ir.ParamChange, 0, out.Len())
	for _, e := range out.Events() {
		if c, ok := h.applyParamEvent(e); ok {
			changes = append(changes, c)
		}
	}
	return changes
}

func (h *Host) applyParamEvent(e plugin.Event) (ir.ParamChange, bool) {
	p, ok := h.params[e.ParamID]
	if !ok {
		return ir.ParamChange{}, false
	}
	c := ir.ParamChange{ID: e.ParamID}
	switch e.Kind {
	case plugin.EventParamValue:
		p.Value = e.Value
		v := e.Value
		c.Value = &v
	case plugin.EventParamMod:
		p.ModAmount = e.Value
		a := e.Value
		c.ModAmount = &a
	case plugin.EventParamGestureBegin:
		p.Gesturing = true
		c.GestureBegin = true
	case plugin.EventParamGestureEnd:
		p.Gesturing = false
		c.GestureEnd = true
	default:
		return ir.ParamChange{}, false
	}
	return c, true
}

// Destroy releases the plugin. The host must be inactive.
func (h *Host) Destroy() {
	h.slot.Clear()
	h.main.Destroy()
}
