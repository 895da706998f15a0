package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/plughost/internal/ir"
)

func TestTransportStoppedDoesNotMove(t *testing.T) {
	tr := NewTransport(48000, 100, ir.LoopState{}, ir.DefaultTempoMap())
	info := tr.Advance(64)
	assert.False(t, info.Playing)
	assert.Equal(t, uint64(100), info.PlayheadFrame)
	assert.Equal(t, uint64(100), tr.Playhead())
	assert.Equal(t, 120.0, info.BPM)
}

func TestTransportPlaySeekLoop(t *testing.T) {
	tr := NewTransport(48000, 0, ir.LoopState{Active: true, StartFrame: 100, EndFrame: 200}, ir.DefaultTempoMap())
	tr.SetPlaying(true)

	info := tr.Advance(64)
	assert.True(t, info.Playing)
	assert.Equal(t, uint64(0), info.PlayheadFrame, "info describes the block start")
	assert.Equal(t, uint64(64), tr.Playhead())
	assert.True(t, tr.Playing())

	tr.Seek(180)
	info = tr.Advance(64)
	assert.Equal(t, uint64(180), info.PlayheadFrame)
	assert.Equal(t, uint64(144), tr.Playhead(), "wrapped into the loop")

	tr.SetLoop(ir.LoopState{})
	tr.SetTempo(ir.TempoMap{BPM: 60, Numerator: 3, Denominator: 4})
	tr.Seek(48000)
	info = tr.Advance(10)
	assert.False(t, info.LoopActive)
	assert.Equal(t, 1.0, info.BeatPosition)
	assert.Equal(t, uint16(3), info.Numerator)

	tr.SetPlaying(false)
	tr.Advance(10)
	assert.False(t, tr.Playing())
}
