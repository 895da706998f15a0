package schedule

import (
	"sync/atomic"

	"github.com/roach88/plughost/internal/ir"
	"github.com/roach88/plughost/internal/plugin"
)

const (
	playNoRequest int32 = iota
	playRequestPlay
	playRequestPause
)

// Transport is the engine's playhead. It is shared by every schedule. The
// control thread posts requests through atomics; the audio thread applies
// them at the start of each block and advances the playhead.
type Transport struct {
	sampleRate float64

	seekReq atomic.Int64 // -1 when no seek is pending
	playReq atomic.Int32
	loopReq atomic.Pointer[ir.LoopState]
	tempo   atomic.Pointer[ir.TempoMap]

	// Audio-thread state. block is the snapshot handed to processors.
	info  plugin.TransportInfo
	block plugin.TransportInfo

	// Snapshot published for the control thread.
	playhead atomic.Uint64
	playing  atomic.Bool
}

// NewTransport creates a stopped transport at seekFrame.
func NewTransport(sampleRate float64, seekFrame uint64, loop ir.LoopState, tempo ir.TempoMap) *Transport {
	t := &Transport{sampleRate: sampleRate}
	t.seekReq.Store(-1)
	t.info.PlayheadFrame = seekFrame
	t.applyLoop(loop)
	t.applyTempo(&tempo)
	t.playhead.Store(seekFrame)
	return t
}

// Seek moves the playhead. Control thread.
func (t *Transport) Seek(frame uint64) {
	t.seekReq.Store(int64(frame))
}

// SetPlaying starts or pauses the transport. Control thread.
func (t *Transport) SetPlaying(playing bool) {
	if playing {
		t.playReq.Store(playRequestPlay)
	} else {
		t.playReq.Store(playRequestPause)
	}
}

// SetLoop replaces the loop range. Control thread.
func (t *Transport) SetLoop(l ir.LoopState) {
	t.loopReq.Store(&l)
}

// SetTempo replaces the tempo map. Control thread.
func (t *Transport) SetTempo(m ir.TempoMap) {
	t.tempo.Store(&m)
}

// Playhead returns the last playhead the audio thread published.
func (t *Transport) Playhead() uint64 { return t.playhead.Load() }

// Playing returns the last play state the audio thread published.
func (t *Transport) Playing() bool { return t.playing.Load() }

// Advance applies pending requests and returns the transport state for the
// block starting now, then moves the playhead forward by frames. Audio
// thread only. The returned pointer is valid until the next call.
func (t *Transport) Advance(frames int) *plugin.TransportInfo {
	if seek := t.seekReq.Swap(-1); seek >= 0 {
		t.info.PlayheadFrame = uint64(seek)
	}
	switch t.playReq.Swap(playNoRequest) {
	case playRequestPlay:
		t.info.Playing = true
	case playRequestPause:
		t.info.Playing = false
	}
	if l := t.loopReq.Swap(nil); l != nil {
		t.applyLoop(*l)
	}
	if m := t.tempo.Swap(nil); m != nil {
		t.applyTempo(m)
	}

	t.info.BeatPosition = t.beats(t.info.PlayheadFrame)
	t.block = t.info

	if t.info.Playing {
		next := t.info.PlayheadFrame + uint64(frames)
		if t.info.LoopActive && t.info.LoopEnd > t.info.LoopStart && next >= t.info.LoopEnd {
			span := t.info.LoopEnd - t.info.LoopStart
			next = t.info.LoopStart + (next-t.info.LoopEnd)%span
		}
		t.info.PlayheadFrame = next
	}
	t.playhead.Store(t.info.PlayheadFrame)
	t.playing.Store(t.info.Playing)
	return &t.block
}

func (t *Transport) applyLoop(l ir.LoopState) {
	t.info.LoopActive = l.Active
	t.info.LoopStart = l.StartFrame
	t.info.LoopEnd = l.EndFrame
}

func (t *Transport) applyTempo(m *ir.TempoMap) {
	t.info.BPM = m.BPM
	t.info.Numerator = m.Numerator
	t.info.Denominator = m.Denominator
}

func (t *Transport) beats(frame uint64) float64 {
	if t.sampleRate <= 0 || t.info.BPM <= 0 {
		return 0
	}
	return float64(frame) / t.sampleRate * t.info.BPM / 60
}
