// Package scanner discovers plugins: the internal factories plus every
// .clap binary or bundle under the configured search directories. A
// Scanner is the factory catalog the audio graph instantiates from.
package scanner

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/plughost/internal/ir"
	"github.com/roach88/plughost/internal/plugin"
	"github.com/roach88/plughost/internal/plugin/clap"
)

// Extension is the file extension of CLAP binaries and bundles.
const Extension = ".clap"

// Library is an opened plugin binary.
type Library interface {
	Path() string
	Factories() []plugin.Factory
	Close() error
}

// OpenFunc opens the plugin binary at path.
type OpenFunc func(path string) (Library, error)

// CLAPOpener returns an OpenFunc backed by the CLAP adapter.
func CLAPOpener(opts clap.Options) OpenFunc {
	return func(path string) (Library, error) {
		lib, err := clap.Open(path, opts)
		if err != nil {
			return nil, err
		}
		return lib, nil
	}
}

// Config configures a Scanner.
type Config struct {
	// Internal are the factories that ship with the host.
	Internal []plugin.Factory
	// Dirs are searched recursively for .clap files and bundles.
	Dirs []string
	// Open loads a discovered binary. Nil disables external plugins.
	Open   OpenFunc
	Logger *slog.Logger
}

// Failure is a binary that could not be loaded.
type Failure struct {
	Path string `json:"path"`
	Err  string `json:"error"`
}

// Result is the outcome of a scan.
type Result struct {
	Plugins  []plugin.Descriptor `json:"plugins"`
	Failures []Failure           `json:"failures,omitempty"`
}

// Scanner is safe for concurrent use.
type Scanner struct {
	internal []plugin.Factory
	open     OpenFunc
	logger   *slog.Logger

	mu        sync.RWMutex
	dirs      []string
	libs      map[string]Library
	factories map[ir.PluginKey]plugin.Factory
	plugins   []plugin.Descriptor
}

// New returns a scanner that knows only the internal factories until
// Rescan is called.
func New(cfg Config) *Scanner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scanner{
		internal: cfg.Internal,
		open:     cfg.Open,
		logger:   logger,
		dirs:     slices.Clone(cfg.Dirs),
		libs:     make(map[string]Library),
	}
	s.rebuild(nil)
	return s
}

// Internal returns the descriptors of the internal factories.
func (s *Scanner) Internal() []plugin.Descriptor {
	out := make([]plugin.Descriptor, 0, len(s.internal))
	for _, f := range s.internal {
		out = append(out, f.Descriptor())
	}
	sortDescriptors(out)
	return out
}

// SetDirs replaces the search directories used by the next Rescan.
func (s *Scanner) SetDirs(dirs []string) {
	s.mu.Lock()
	s.dirs = slices.Clone(dirs)
	s.mu.Unlock()
}

// Rescan walks the search directories and loads binaries not seen
// before. Libraries that are already open stay open, since instances may
// still run from them; a library no longer found stops supplying
// factories but is only unloaded by Close.
func (s *Scanner) Rescan() Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res Result
	var found []string
	for _, dir := range s.dirs {
		paths, err := discover(dir)
		if err != nil {
			s.logger.Warn("plugin directory scan failed", "dir", dir, "error", err)
			res.Failures = append(res.Failures, Failure{Path: dir, Err: err.Error()})
			continue
		}
		found = append(found, paths...)
	}

	var present []Library
	for _, path := range found {
		if lib, ok := s.libs[path]; ok {
			present = append(present, lib)
			continue
		}
		if s.open == nil {
			continue
		}
		lib, err := s.open(path)
		if err != nil {
			s.logger.Warn("failed to load plugin binary", "path", path, "error", err)
			res.Failures = append(res.Failures, Failure{Path: path, Err: err.Error()})
			continue
		}
		s.libs[path] = lib
		present = append(present, lib)
		s.logger.Debug("loaded plugin binary", "path", path, "plugins", len(lib.Factories()))
	}

	s.rebuild(present)
	res.Plugins = slices.Clone(s.plugins)
	return res
}

// rebuild recomputes the catalog from the internal factories and libs.
// Internal factories win over binaries claiming the same key; among
// binaries the first path in lexical order wins.
func (s *Scanner) rebuild(libs []Library) {
	s.factories = make(map[ir.PluginKey]plugin.Factory)
	s.plugins = s.plugins[:0]
	add := func(f plugin.Factory, path string) {
		d := f.Descriptor()
		if prev, ok := s.factories[d.Key()]; ok {
			s.logger.Warn("duplicate plugin id, keeping the first",
				"id", d.ID,
				"path", path,
				"kept", prev.Descriptor().Path,
			)
			return
		}
		s.factories[d.Key()] = f
		s.plugins = append(s.plugins, d)
	}
	for _, f := range s.internal {
		add(f, "")
	}
	slices.SortFunc(libs, func(a, b Library) int { return strings.Compare(a.Path(), b.Path()) })
	for _, lib := range libs {
		for _, f := range lib.Factories() {
			add(f, lib.Path())
		}
	}
	sortDescriptors(s.plugins)
}

// Factory returns the factory for a plugin key.
func (s *Scanner) Factory(key ir.PluginKey) (plugin.Factory, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.factories[key]
	return f, ok
}

// Plugins returns every known plugin, internal first.
func (s *Scanner) Plugins() []plugin.Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.plugins)
}

// Close unloads every opened library.
func (s *Scanner) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for path, lib := range s.libs {
		if err := lib.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", path, err))
		}
		delete(s.libs, path)
	}
	s.rebuild(nil)
	return errors.Join(errs...)
}

// discover returns every .clap file or bundle under dir, sorted. Bundles
// are not descended into. A missing directory yields nothing.
func discover(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if path == dir || !strings.EqualFold(filepath.Ext(path), Extension) {
			return nil
		}
		out = append(out, path)
		if d.IsDir() {
			return fs.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(out)
	return out, nil
}

func sortDescriptors(ds []plugin.Descriptor) {
	slices.SortStableFunc(ds, func(a, b plugin.Descriptor) int {
		return cmp.Or(
			cmp.Compare(formatRank(a.Format), formatRank(b.Format)),
			strings.Compare(a.ID, b.ID),
		)
	})
}

func formatRank(f ir.PluginFormat) int {
	if f == ir.FormatInternal {
		return 0
	}
	return 1
}

// DefaultDirs returns the conventional CLAP search directories of the
// current platform, followed by the entries of CLAP_PATH.
func DefaultDirs() []string {
	var dirs []string
	home, _ := os.UserHomeDir()
	switch {
	case home != "" && runtime.GOOS == "darwin":
		dirs = append(dirs, filepath.Join(home, "Library/Audio/Plug-Ins/CLAP"), "/Library/Audio/Plug-Ins/CLAP")
	case home != "":
		dirs = append(dirs, filepath.Join(home, ".clap"), "/usr/lib/clap")
	}
	if env := os.Getenv("CLAP_PATH"); env != "" {
		dirs = append(dirs, filepath.SplitList(env)...)
	}
	return dirs
}
