package plugin

import (
	"math"
	"sync/atomic"
)

// InternalKind enumerates the internal plugins that expose a control handle.
type InternalKind int

const (
	InternalNone InternalKind = iota
	InternalGain
	InternalSampler
)

// InternalHandle is a tagged variant over the closed set of internal plugin
// control handles. Exactly the field matching Kind is non-nil.
type InternalHandle struct {
	Kind    InternalKind
	Gain    *GainControl
	Sampler *SamplerControl
}

// GainControl sets a gain plugin's linear gain from the control thread.
type GainControl struct {
	bits atomic.Uint64
}

// NewGainControl creates a control starting at gain.
func NewGainControl(gain float64) *GainControl {
	g := &GainControl{}
	g.Set(gain)
	return g
}

// Set stores a new linear gain.
func (g *GainControl) Set(gain float64) { g.bits.Store(math.Float64bits(gain)) }

// Get returns the current linear gain.
func (g *GainControl) Get() float64 { return math.Float64frombits(g.bits.Load()) }

// SamplerControl hands a new sample to a sampler plugin. The audio thread
// swaps the pending sample in at the start of a block; the replaced sample
// is handed back through Retired so the control thread releases it.
type SamplerControl struct {
	pending atomic.Pointer[Sample]
	retired atomic.Pointer[Sample]
}

// Load queues s to replace the current sample.
func (c *SamplerControl) Load(s *Sample) {
	c.pending.Store(s)
}

// TakePending is called by the audio thread.
func (c *SamplerControl) TakePending() *Sample {
	return c.pending.Swap(nil)
}

// Retire is called by the audio thread with the sample it stopped using.
func (c *SamplerControl) Retire(s *Sample) {
	c.retired.Store(s)
}

// TakeRetired returns the sample the audio thread stopped using, if any.
func (c *SamplerControl) TakeRetired() *Sample {
	return c.retired.Swap(nil)
}
