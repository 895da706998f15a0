package plugin

import "fmt"

// AudioBuffer is one channel of audio owned by a schedule. The audio thread
// borrows it for reading or writing around every task; a second exclusive
// borrow, or a write borrow while readers exist, panics. Such a conflict can
// only come from a scheduler bug that assigned one buffer twice, so it is
// reported immediately rather than corrupting audio.
type AudioBuffer struct {
	// Label names the buffer in schedule dumps.
	Label string

	id      uint32
	data    []float64
	borrows int32 // >0 readers, -1 one writer
	silent  bool
	// constant marks buffers that must never be written (shared silence).
	constant bool
}

// NewAudioBuffer allocates a buffer of maxFrames samples.
func NewAudioBuffer(id uint32, maxFrames int) *AudioBuffer {
	return &AudioBuffer{id: id, data: make([]float64, maxFrames), silent: true}
}

// NewSilenceBuffer allocates a read-only all-zero buffer.
func NewSilenceBuffer(id uint32, maxFrames int) *AudioBuffer {
	b := NewAudioBuffer(id, maxFrames)
	b.constant = true
	return b
}

// Reset prepares a pooled buffer for reuse under a new id.
func (b *AudioBuffer) Reset(id uint32, constant bool) {
	if b.borrows != 0 {
		panic(fmt.Sprintf("audio buffer %d: reset while borrowed", b.id))
	}
	clear(b.data)
	b.id = id
	b.Label = ""
	b.silent = true
	b.constant = constant
}

// Name returns Label, or "a<id>" when no label is set.
func (b *AudioBuffer) Name() string {
	if b.Label != "" {
		return b.Label
	}
	return fmt.Sprintf("a%d", b.id)
}

// ID returns the buffer's slot id.
func (b *AudioBuffer) ID() uint32 { return b.id }

// Cap returns the buffer capacity in frames.
func (b *AudioBuffer) Cap() int { return len(b.data) }

// IsConstant reports whether the buffer is the read-only silence buffer.
func (b *AudioBuffer) IsConstant() bool { return b.constant }

// Silent reports whether the buffer is known to contain only zeros.
func (b *AudioBuffer) Silent() bool { return b.silent }

// SetSilent records whether the buffer contains only zeros.
func (b *AudioBuffer) SetSilent(silent bool) {
	if !b.constant {
		b.silent = silent
	}
}

// BorrowRead takes a shared borrow and returns the first frames samples.
func (b *AudioBuffer) BorrowRead(frames int) []float64 {
	if b.borrows < 0 {
		panic(fmt.Sprintf("audio buffer %d: read borrow while mutably borrowed", b.id))
	}
	b.borrows++
	return b.data[:frames]
}

// BorrowWrite takes the exclusive borrow and returns the first frames
// samples.
func (b *AudioBuffer) BorrowWrite(frames int) []float64 {
	if b.constant {
		panic(fmt.Sprintf("audio buffer %d: write borrow of constant buffer", b.id))
	}
	if b.borrows != 0 {
		panic(fmt.Sprintf("audio buffer %d: write borrow while borrowed (%d)", b.id, b.borrows))
	}
	b.borrows = -1
	return b.data[:frames]
}

// Release ends the current borrow.
func (b *AudioBuffer) Release() {
	switch {
	case b.borrows < 0:
		b.borrows = 0
	case b.borrows > 0:
		b.borrows--
	default:
		panic(fmt.Sprintf("audio buffer %d: release without borrow", b.id))
	}
}

// Borrowed reports whether any borrow is outstanding.
func (b *AudioBuffer) Borrowed() bool { return b.borrows != 0 }

// Clear zeroes the first frames samples and marks the buffer silent.
func (b *AudioBuffer) Clear(frames int) {
	if b.constant {
		return
	}
	clear(b.data[:frames])
	b.silent = true
}

// PortBuffer is the borrowed view of one audio port for a Process call.
type PortBuffer struct {
	StableID uint32
	Channels [][]float64
	// ConstantMask has bit i set when channel i is all zeros. Inputs carry
	// it from the producer; a processor may set it on outputs.
	ConstantMask uint64
}

// ProcBuffers holds the borrowed port views for one Process call.
type ProcBuffers struct {
	AudioIn  []PortBuffer
	AudioOut []PortBuffer
	Frames   int
}

// ClearOutputs zeroes every output channel.
func (p *ProcBuffers) ClearOutputs() {
	for i := range p.AudioOut {
		for _, ch := range p.AudioOut[i].Channels {
			clear(ch)
		}
		p.AudioOut[i].ConstantMask = ^uint64(0)
	}
}

// InputsSilent reports whether every input channel is silent.
func (p *ProcBuffers) InputsSilent() bool {
	for i := range p.AudioIn {
		n := len(p.AudioIn[i].Channels)
		if n == 0 {
			continue
		}
		want := uint64(1)<<uint(n) - 1
		if n >= 64 {
			want = ^uint64(0)
		}
		if p.AudioIn[i].ConstantMask&want != want {
			return false
		}
	}
	return true
}
