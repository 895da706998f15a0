package schedule

import "github.com/roach88/plughost/internal/plugin"

// BufferPool recycles schedule buffers across recompiles. It is owned by the
// control thread: buffers are taken while compiling and returned by the
// collector teardown of a retired schedule.
type BufferPool struct {
	maxFrames     int
	eventCapacity int
	audio         []*plugin.AudioBuffer
	events        []*plugin.EventBuffer
}

// NewBufferPool creates a pool of buffers sized for maxFrames and
// eventCapacity.
func NewBufferPool(maxFrames, eventCapacity int) *BufferPool {
	return &BufferPool{maxFrames: maxFrames, eventCapacity: eventCapacity}
}

// MaxFrames returns the frame capacity of pooled audio buffers.
func (p *BufferPool) MaxFrames() int { return p.maxFrames }

// GetAudio returns a zeroed buffer with the given id.
func (p *BufferPool) GetAudio(id uint32, constant bool) *plugin.AudioBuffer {
	if n := len(p.audio); n > 0 {
		b := p.audio[n-1]
		p.audio = p.audio[:n-1]
		b.Reset(id, constant)
		return b
	}
	if constant {
		return plugin.NewSilenceBuffer(id, p.maxFrames)
	}
	return plugin.NewAudioBuffer(id, p.maxFrames)
}

// PutAudio returns a buffer to the pool. Buffers of another size are
// dropped.
func (p *BufferPool) PutAudio(b *plugin.AudioBuffer) {
	if b.Cap() != p.maxFrames {
		return
	}
	p.audio = append(p.audio, b)
}

// GetEvents returns an empty event buffer.
func (p *BufferPool) GetEvents() *plugin.EventBuffer {
	if n := len(p.events); n > 0 {
		b := p.events[n-1]
		p.events = p.events[:n-1]
		b.Clear()
		b.Label = ""
		return b
	}
	return plugin.NewEventBuffer(p.eventCapacity)
}

// PutEvents returns an event buffer to the pool.
func (p *BufferPool) PutEvents(b *plugin.EventBuffer) {
	if b.ReadOnly() || b.Cap() != p.eventCapacity {
		return
	}
	p.events = append(p.events, b)
}

// Idle returns the number of pooled audio and event buffers.
func (p *BufferPool) Idle() (audio, events int) {
	return len(p.audio), len(p.events)
}
