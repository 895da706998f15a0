// Package audio defines the device side of the audio thread: a Backend
// pulls interleaved blocks from a Processor at the device's pace.
package audio

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Processor renders interleaved float32 audio. *schedule.Runner
// implements it.
type Processor interface {
	ProcessInterleaved(in, out []float32, frames int)
}

// Backend drives a Processor from an audio device.
//
// Start may be called once. After Close returns the Processor is never
// called again, so the control thread may release it.
type Backend interface {
	Start(p Processor) error
	Close() error
}

// ErrStarted is returned by Start on a backend that is already running.
var ErrStarted = errors.New("audio: backend already started")

// Config describes the stream a backend opens.
type Config struct {
	SampleRate  float64
	NumInputs   int
	NumOutputs  int
	BlockFrames int
}

// Null is a backend without a device. It calls the processor from its own
// goroutine, one block per block period, feeding silence and discarding
// the output.
type Null struct {
	cfg    Config
	logger *slog.Logger
	// Unpaced makes the goroutine run blocks back to back.
	Unpaced bool

	blocks  atomic.Uint64
	started bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewNull creates a null backend for cfg.
func NewNull(cfg Config, logger *slog.Logger) *Null {
	if logger == nil {
		logger = slog.Default()
	}
	return &Null{cfg: cfg, logger: logger, stop: make(chan struct{})}
}

// Start launches the processing goroutine.
func (n *Null) Start(p Processor) error {
	if n.started {
		return ErrStarted
	}
	n.started = true

	frames := n.cfg.BlockFrames
	in := make([]float32, frames*n.cfg.NumInputs)
	out := make([]float32, frames*n.cfg.NumOutputs)
	period := time.Duration(float64(time.Second) * float64(frames) / n.cfg.SampleRate)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		var tick <-chan time.Time
		if !n.Unpaced {
			t := time.NewTicker(period)
			defer t.Stop()
			tick = t.C
		}
		for {
			select {
			case <-n.stop:
				return
			default:
			}
			if tick != nil {
				select {
				case <-n.stop:
					return
				case <-tick:
				}
			}
			p.ProcessInterleaved(in, out, frames)
			n.blocks.Add(1)
		}
	}()
	n.logger.Debug("null audio backend started", "block_frames", frames, "period", period)
	return nil
}

// Blocks returns how many blocks were processed.
func (n *Null) Blocks() uint64 { return n.blocks.Load() }

// Close stops the goroutine and waits for it to exit.
func (n *Null) Close() error {
	if !n.started {
		return nil
	}
	select {
	case <-n.stop:
	default:
		close(n.stop)
	}
	n.wg.Wait()
	return nil
}
