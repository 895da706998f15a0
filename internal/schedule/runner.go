package schedule

import "sync/atomic"

// Runner executes the latest published schedule on the audio thread. It
// never allocates, locks or logs inside Process.
type Runner struct {
	shared    *SharedSchedule
	current   *Handle
	maxFrames int
	numIn     int
	numOut    int

	steadyTime int64
	ctx        BlockContext
	inViews    [][]float64
	outViews   [][]float64

	// Scratch for ProcessInterleaved.
	deIn      [][]float64
	deOut     [][]float64
	deInView  [][]float64
	deOutView [][]float64

	liveVersion atomic.Uint64
	blocks      atomic.Uint64
}

// NewRunner creates a runner for numIn/numOut device channels that splits
// callbacks into blocks of at most maxFrames.
func NewRunner(shared *SharedSchedule, maxFrames, numIn, numOut int) *Runner {
	r := &Runner{
		shared:    shared,
		maxFrames: maxFrames,
		numIn:     numIn,
		numOut:    numOut,
		inViews:   make([][]float64, numIn),
		outViews:  make([][]float64, numOut),
		deIn:      make([][]float64, numIn),
		deOut:     make([][]float64, numOut),
		deInView:  make([][]float64, numIn),
		deOutView: make([][]float64, numOut),
	}
	for c := range r.deIn {
		r.deIn[c] = make([]float64, maxFrames)
	}
	for c := range r.deOut {
		r.deOut[c] = make([]float64, maxFrames)
	}
	return r
}

// NumInputs and NumOutputs return the device channel counts.
func (r *Runner) NumInputs() int  { return r.numIn }
func (r *Runner) NumOutputs() int { return r.numOut }

// LiveVersion returns the version of the schedule the runner last adopted.
// Safe from any thread.
func (r *Runner) LiveVersion() uint64 { return r.liveVersion.Load() }

// Blocks returns how many blocks were processed. Safe from any thread.
func (r *Runner) Blocks() uint64 { return r.blocks.Load() }

// adopt switches to the newest published schedule, if any. Processors on
// the new schedule's drop list are released here, after the superseded
// schedule can no longer run them.
func (r *Runner) adopt() {
	h := r.shared.Take()
	if h == nil {
		return
	}
	old := r.current
	r.current = h
	s := h.Get()
	for _, p := range s.ProcsToDrop {
		p.DropOnAudioThread()
	}
	r.liveVersion.Store(s.Version)
	if old != nil {
		old.Drop()
	}
}

// Process runs frames of audio. in and out hold one slice per channel,
// each at least frames long.
func (r *Runner) Process(in, out [][]float64, frames int) {
	r.adopt()
	if r.current == nil {
		for _, ch := range out {
			clear(ch[:frames])
		}
		return
	}
	s := r.current.Get()

	block := r.maxFrames
	if s.MaxFrames > 0 && s.MaxFrames < block {
		block = s.MaxFrames
	}
	nIn := min(len(in), r.numIn)
	nOut := min(len(out), r.numOut)
	for c := nOut; c < len(out); c++ {
		clear(out[c][:frames])
	}

	for off := 0; off < frames; off += block {
		n := min(block, frames-off)
		for c := 0; c < nIn; c++ {
			r.inViews[c] = in[c][off : off+n]
		}
		for c := 0; c < nOut; c++ {
			r.outViews[c] = out[c][off : off+n]
		}
		r.ctx.Frames = n
		r.ctx.SteadyTime = r.steadyTime
		r.ctx.Version = s.Version
		r.ctx.In = r.inViews[:nIn]
		r.ctx.Out = r.outViews[:nOut]
		r.ctx.Transport = nil
		if s.Transport != nil {
			r.ctx.Transport = s.Transport.Advance(n)
		}
		for _, t := range s.Tasks {
			t.Run(&r.ctx)
		}
		r.steadyTime += int64(n)
		r.blocks.Add(1)
	}
}

// ProcessInterleaved runs frames of interleaved float32 audio with the
// runner's channel counts.
func (r *Runner) ProcessInterleaved(in, out []float32, frames int) {
	for off := 0; off < frames; off += r.maxFrames {
		n := min(r.maxFrames, frames-off)
		for c := 0; c < r.numIn; c++ {
			ch := r.deIn[c][:n]
			if len(in) >= (off+n)*r.numIn {
				for i := range ch {
					ch[i] = float64(in[(off+i)*r.numIn+c])
				}
			} else {
				clear(ch)
			}
			r.deInView[c] = ch
		}
		for c := 0; c < r.numOut; c++ {
			r.deOutView[c] = r.deOut[c][:n]
		}
		r.Process(r.deInView, r.deOutView, n)
		for c := 0; c < r.numOut; c++ {
			ch := r.deOutView[c]
			for i, v := range ch {
				out[(off+i)*r.numOut+c] = float32(v)
			}
		}
	}
}

// Current returns the schedule the runner last adopted, or nil. It reads
// audio-thread state and must not race with Process.
func (r *Runner) Current() *Schedule {
	if r.current == nil {
		return nil
	}
	return r.current.Get()
}

// Close releases the runner's schedule. Call from the control thread once
// the audio callback can no longer run.
func (r *Runner) Close() {
	if r.current != nil {
		r.current.Drop()
		r.current = nil
	}
}
