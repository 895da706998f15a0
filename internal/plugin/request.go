package plugin

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/plughost/internal/ir"
)

// RequestFlags is the set of requests a plugin may raise toward the host.
type RequestFlags uint32

const (
	RequestMarkDirty RequestFlags = 1 << iota
	RequestCallback
	RequestRescanParams
	RequestFlushParams
	RequestRestart
	RequestProcess
	RequestRescanAudioPorts
	RequestRescanNotePorts
	RequestRescanLatency
	RequestGUIClosed
	RequestGUIDestroyed
	RequestGUIShow
	RequestGUIHide
	RequestGUIResize
	RequestGUIHintsChanged
	RequestTimers
)

// Has reports whether every flag in f2 is set.
func (f RequestFlags) Has(f2 RequestFlags) bool { return f&f2 == f2 }

// TimerOp is a pending plugin timer registration change.
type TimerOp struct {
	ID       ir.TimerID
	Period   time.Duration
	Register bool
}

// HostRequest carries plugin-to-host requests. Flags are lock-free and may
// be raised from any thread, including the audio thread. Timer operations
// are only legal on the main thread and are guarded by a mutex.
type HostRequest struct {
	flags   atomic.Uint32
	guiSize atomic.Uint64

	mu          sync.Mutex
	nextTimerID ir.TimerID
	timerOps    []TimerOp
}

// NewHostRequest creates an empty request set.
func NewHostRequest() *HostRequest {
	return &HostRequest{}
}

// Request raises f.
func (r *HostRequest) Request(f RequestFlags) {
	r.flags.Or(uint32(f))
}

// RequestGUIResize raises RequestGUIResize with the wanted size.
func (r *HostRequest) RequestGUIResize(width, height uint32) {
	r.guiSize.Store(uint64(width)<<32 | uint64(height))
	r.Request(RequestGUIResize)
}

// GUISize returns the last size passed to RequestGUIResize.
func (r *HostRequest) GUISize() ir.GUISize {
	v := r.guiSize.Load()
	return ir.GUISize{Width: uint32(v >> 32), Height: uint32(v)}
}

// Take returns and clears every raised flag.
func (r *HostRequest) Take() RequestFlags {
	return RequestFlags(r.flags.Swap(0))
}

// Peek returns the raised flags without clearing them.
func (r *HostRequest) Peek() RequestFlags {
	return RequestFlags(r.flags.Load())
}

// RegisterTimer allocates a timer id and queues its registration.
func (r *HostRequest) RegisterTimer(period time.Duration) ir.TimerID {
	r.mu.Lock()
	r.nextTimerID++
	id := r.nextTimerID
	r.timerOps = append(r.timerOps, TimerOp{ID: id, Period: period, Register: true})
	r.mu.Unlock()
	r.Request(RequestTimers)
	return id
}

// UnregisterTimer queues the removal of a timer.
func (r *HostRequest) UnregisterTimer(id ir.TimerID) {
	r.mu.Lock()
	r.timerOps = append(r.timerOps, TimerOp{ID: id})
	r.mu.Unlock()
	r.Request(RequestTimers)
}

// TakeTimerOps returns and clears the queued timer operations.
func (r *HostRequest) TakeTimerOps() []TimerOp {
	r.mu.Lock()
	defer r.mu.Unlock()
	ops := r.timerOps
	r.timerOps = nil
	return ops
}
