package plugin

import (
	"fmt"
	"sync"
)

// Sample is decoded sample data, one slice per channel.
type Sample struct {
	Key        string
	SampleRate float64
	Channels   [][]float64
}

// Frames returns the sample length in frames.
func (s *Sample) Frames() int {
	if s == nil || len(s.Channels) == 0 {
		return 0
	}
	return len(s.Channels[0])
}

// ResourceLoader turns a resource key into sample data. Only hosted plugins
// use it; the engine core never loads resources itself.
type ResourceLoader interface {
	LoadSample(key string) (*Sample, error)
}

// MapLoader is an in-memory ResourceLoader.
type MapLoader struct {
	mu      sync.RWMutex
	samples map[string]*Sample
}

// NewMapLoader creates an empty loader.
func NewMapLoader() *MapLoader {
	return &MapLoader{samples: make(map[string]*Sample)}
}

// Put registers s under its key.
func (l *MapLoader) Put(s *Sample) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.samples[s.Key] = s
}

// LoadSample implements ResourceLoader.
func (l *MapLoader) LoadSample(key string) (*Sample, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.samples[key]
	if !ok {
		return nil, fmt.Errorf("resource %q not found", key)
	}
	return s, nil
}
