package engine

import "github.com/roach88/plughost/internal/ir"

// SetTransportPlaying starts or stops the transport.
func (e *Engine) SetTransportPlaying(playing bool) error {
	if e.active == nil {
		return ErrNotActive
	}
	e.active.Transport.SetPlaying(playing)
	return nil
}

// SeekTransport moves the playhead. The audio thread applies it on its
// next block.
func (e *Engine) SeekTransport(frame uint64) error {
	if e.active == nil {
		return ErrNotActive
	}
	e.active.Transport.Seek(frame)
	return nil
}

func (e *Engine) SetTransportLoop(l ir.LoopState) error {
	if e.active == nil {
		return ErrNotActive
	}
	e.active.Transport.SetLoop(l)
	return nil
}

func (e *Engine) SetTransportTempo(m ir.TempoMap) error {
	if e.active == nil {
		return ErrNotActive
	}
	if m.BPM <= 0 {
		m = ir.DefaultTempoMap()
	}
	e.active.Transport.SetTempo(m)
	return nil
}
