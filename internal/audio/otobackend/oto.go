//go:build !headless

package otobackend

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/roach88/plughost/internal/audio"
)

// Backend is an output-only audio.Backend on oto. Inputs are fed silence.
//
// oto allows one context per process, so at most one Backend may exist.
type Backend struct {
	ctx    *oto.Context
	reader *reader
	logger *slog.Logger

	mu     sync.Mutex
	player *oto.Player
}

// New opens the default output device for cfg.
func New(cfg audio.Config, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	block := time.Duration(float64(time.Second) * float64(cfg.BlockFrames) / cfg.SampleRate)
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   int(cfg.SampleRate),
		ChannelCount: cfg.NumOutputs,
		Format:       oto.FormatFloat32LE,
		BufferSize:   2 * block,
	})
	if err != nil {
		return nil, fmt.Errorf("open audio device: %w", err)
	}
	<-ready

	logger.Info("audio device opened",
		"sample_rate", cfg.SampleRate,
		"channels", cfg.NumOutputs,
		"buffer", 2*block,
	)
	return &Backend{
		ctx:    ctx,
		reader: newReader(cfg.NumOutputs, cfg.BlockFrames),
		logger: logger,
	}, nil
}

// Start begins playback of p.
func (b *Backend) Start(p audio.Processor) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.player != nil {
		return audio.ErrStarted
	}
	b.reader.set(p)
	b.player = b.ctx.NewPlayer(b.reader)
	b.player.Play()
	return nil
}

// Close stops playback. The processor is not called after Close returns.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.player == nil {
		return nil
	}
	b.player.Pause()
	err := b.player.Close()
	b.player = nil
	b.reader.set(nil)
	if err != nil {
		return fmt.Errorf("close audio player: %w", err)
	}
	return nil
}
