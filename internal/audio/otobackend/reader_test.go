package otobackend

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rampProcessor struct{ calls int }

func (p *rampProcessor) ProcessInterleaved(in, out []float32, frames int) {
	p.calls++
	for i := range out {
		out[i] = float32(i) / 8
	}
}

func TestReader_SilentWithoutProcessor(t *testing.T) {
	r := newReader(2, 4)
	p := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}

	n, err := r.Read(p)

	require.NoError(t, err)
	assert.Equal(t, 8, n, "one stereo frame, the partial frame is left")
	assert.Equal(t, make([]byte, 8), p[:8])
	assert.Equal(t, byte(9), p[8])
}

func TestReader_RendersFloat32LE(t *testing.T) {
	r := newReader(2, 2)
	proc := &rampProcessor{}
	r.set(proc)
	p := make([]byte, 4*2*3)

	n, err := r.Read(p)

	require.NoError(t, err)
	require.Equal(t, len(p), n)
	assert.Equal(t, 1, proc.calls)
	for i := range 6 {
		v := math.Float32frombits(binary.LittleEndian.Uint32(p[i*4:]))
		assert.Equal(t, float32(i)/8, v)
	}

	r.set(nil)
	_, err = r.Read(p)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, len(p)), p)
}

func TestReader_ShortBuffer(t *testing.T) {
	r := newReader(2, 2)
	r.set(&rampProcessor{})
	n, err := r.Read(make([]byte, 7))
	require.NoError(t, err)
	assert.Zero(t, n)
}
