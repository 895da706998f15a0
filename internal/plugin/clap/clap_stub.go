//go:build !darwin && !linux

package clap

import "github.com/roach88/plughost/internal/plugin"

// Library is an opened CLAP binary.
type Library struct{}

// Open always fails on this platform.
func Open(path string, opts Options) (*Library, error) {
	return nil, ErrUnsupported
}

// Path returns the opened path.
func (l *Library) Path() string { return "" }

// Factories returns nothing on this platform.
func (l *Library) Factories() []plugin.Factory { return nil }

// Close is a no-op on this platform.
func (l *Library) Close() error { return nil }
