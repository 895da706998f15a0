// Package otobackend plays the engine's output through the system audio
// device with oto.
package otobackend

import (
	"sync/atomic"
	"unsafe"

	"github.com/roach88/plughost/internal/audio"
)

// reader adapts an audio.Processor to the io.Reader oto pulls float32
// little-endian samples from.
type reader struct {
	proc     atomic.Pointer[procBox]
	channels int
	out      []float32
}

type procBox struct{ p audio.Processor }

func newReader(channels, frames int) *reader {
	return &reader{channels: channels, out: make([]float32, frames*channels)}
}

func (r *reader) set(p audio.Processor) {
	if p == nil {
		r.proc.Store(nil)
		return
	}
	r.proc.Store(&procBox{p: p})
}

// Read renders whole frames into p. A partial trailing frame is left
// unwritten and not counted. Samples are copied in host byte order, which
// is little-endian on every platform oto supports.
func (r *reader) Read(p []byte) (int, error) {
	frameBytes := 4 * r.channels
	frames := len(p) / frameBytes
	n := frames * frameBytes
	if frames == 0 {
		return 0, nil
	}

	box := r.proc.Load()
	if box == nil {
		clear(p[:n])
		return n, nil
	}

	samples := frames * r.channels
	if len(r.out) < samples {
		r.out = make([]float32, samples)
	}
	out := r.out[:samples]
	box.p.ProcessInterleaved(nil, out, frames)
	copy(p[:n], unsafe.Slice((*byte)(unsafe.Pointer(&out[0])), n))
	return n, nil
}
