//go:build headless

package otobackend

import (
	"errors"
	"log/slog"

	"github.com/roach88/plughost/internal/audio"
)

// ErrUnavailable is returned by New in headless builds.
var ErrUnavailable = errors.New("otobackend: built without audio device support")

// Backend is unavailable in headless builds.
type Backend struct{}

func New(audio.Config, *slog.Logger) (*Backend, error) { return nil, ErrUnavailable }

func (*Backend) Start(audio.Processor) error { return ErrUnavailable }
func (*Backend) Close() error                { return nil }
