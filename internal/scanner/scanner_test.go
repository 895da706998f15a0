package scanner

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/plughost/internal/ir"
	"github.com/roach88/plughost/internal/plugin"
	"github.com/roach88/plughost/internal/plugin/builtin"
	"github.com/roach88/plughost/internal/testutil"
)

// binFactory presents a fake factory as one found in a binary.
type binFactory struct {
	*testutil.FakeFactory
	path string
}

func (f binFactory) Descriptor() plugin.Descriptor {
	d := f.FakeFactory.Descriptor()
	d.Format = ir.FormatCLAP
	d.Path = f.path
	return d
}

type fakeLibrary struct {
	path      string
	factories []plugin.Factory
	closed    int
	closeErr  error
}

func (l *fakeLibrary) Path() string                { return l.path }
func (l *fakeLibrary) Factories() []plugin.Factory { return l.factories }
func (l *fakeLibrary) Close() error {
	l.closed++
	return l.closeErr
}

// fakeOpener serves one library per file, its plugin ids read from the
// file contents.
type fakeOpener struct {
	opened map[string]*fakeLibrary
	calls  int
}

func (o *fakeOpener) open(path string) (Library, error) {
	o.calls++
	raw, err := os.ReadFile(path)
	if err != nil {
		// bundles are directories
		raw, err = os.ReadFile(filepath.Join(path, "id"))
	}
	if err != nil {
		return nil, err
	}
	if string(raw) == "broken" {
		return nil, errors.New("no clap_entry")
	}
	lib := &fakeLibrary{path: path}
	lib.factories = []plugin.Factory{binFactory{
		FakeFactory: testutil.NewFakeFactory(testutil.FakeConfig{RDN: string(raw)}),
		path:        path,
	}}
	if o.opened == nil {
		o.opened = make(map[string]*fakeLibrary)
	}
	o.opened[path] = lib
	return lib, nil
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func ids(ds []plugin.Descriptor) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.ID
	}
	return out
}

func TestNew_InternalOnly(t *testing.T) {
	s := New(Config{Internal: builtin.Factories()})

	assert.Equal(t, []string{builtin.GainRDN, builtin.SamplerRDN, builtin.ToneRDN}, ids(s.Internal()))
	assert.Equal(t, ids(s.Internal()), ids(s.Plugins()))

	f, ok := s.Factory(ir.PluginKey{RDN: builtin.GainRDN, Format: ir.FormatInternal})
	require.True(t, ok)
	assert.Equal(t, builtin.GainRDN, f.Descriptor().ID)

	_, ok = s.Factory(ir.PluginKey{RDN: builtin.GainRDN, Format: ir.FormatCLAP})
	assert.False(t, ok, "keys include the format")
}

func TestRescan_DiscoversBinaries(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.clap"), "com.vendor.b")
	writeFile(t, filepath.Join(dir, "nested", "a.CLAP"), "com.vendor.a")
	writeFile(t, filepath.Join(dir, "Bundle.clap", "id"), "com.vendor.bundle")
	writeFile(t, filepath.Join(dir, "readme.txt"), "com.vendor.ignored")
	writeFile(t, filepath.Join(dir, "bad.clap"), "broken")

	o := &fakeOpener{}
	s := New(Config{Internal: builtin.Factories(), Dirs: []string{dir, filepath.Join(dir, "missing")}, Open: o.open})
	res := s.Rescan()

	assert.Equal(t, []string{
		builtin.GainRDN, builtin.SamplerRDN, builtin.ToneRDN,
		"com.vendor.a", "com.vendor.b", "com.vendor.bundle",
	}, ids(res.Plugins))
	require.Len(t, res.Failures, 1)
	assert.Equal(t, filepath.Join(dir, "bad.clap"), res.Failures[0].Path)
	assert.Contains(t, res.Failures[0].Err, "no clap_entry")

	f, ok := s.Factory(ir.PluginKey{RDN: "com.vendor.bundle", Format: ir.FormatCLAP})
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "Bundle.clap"), f.Descriptor().Path)
}

func TestRescan_KeepsOpenLibraries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.clap")
	writeFile(t, path, "com.vendor.a")
	o := &fakeOpener{}
	s := New(Config{Dirs: []string{dir}, Open: o.open})

	s.Rescan()
	s.Rescan()
	assert.Equal(t, 1, o.calls, "a loaded binary is not reopened")

	require.NoError(t, os.Remove(path))
	res := s.Rescan()
	assert.Empty(t, res.Plugins)
	_, ok := s.Factory(ir.PluginKey{RDN: "com.vendor.a", Format: ir.FormatCLAP})
	assert.False(t, ok)
	assert.Zero(t, o.opened[path].closed, "unloaded only by Close")

	require.NoError(t, s.Close())
	assert.Equal(t, 1, o.opened[path].closed)
}

func TestRescan_DuplicateIDs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.clap"), "com.vendor.dup")
	writeFile(t, filepath.Join(dir, "b.clap"), "com.vendor.dup")
	s := New(Config{Dirs: []string{dir}, Open: (&fakeOpener{}).open})

	res := s.Rescan()

	require.Len(t, res.Plugins, 1)
	assert.Equal(t, filepath.Join(dir, "a.clap"), res.Plugins[0].Path)
}

func TestRescan_WithoutOpener(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.clap"), "com.vendor.a")
	s := New(Config{Internal: []plugin.Factory{builtin.GainFactory{}}, Dirs: []string{dir}})

	res := s.Rescan()

	assert.Equal(t, []string{builtin.GainRDN}, ids(res.Plugins))
	assert.Empty(t, res.Failures)
}

func TestSetDirs(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(second, "a.clap"), "com.vendor.a")
	s := New(Config{Dirs: []string{first}, Open: (&fakeOpener{}).open})
	assert.Empty(t, s.Rescan().Plugins)

	s.SetDirs([]string{second})
	assert.Equal(t, []string{"com.vendor.a"}, ids(s.Rescan().Plugins))
}

func TestClose_JoinsErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.clap"), "com.vendor.a")
	o := &fakeOpener{}
	s := New(Config{Dirs: []string{dir}, Open: o.open})
	s.Rescan()
	o.opened[filepath.Join(dir, "a.clap")].closeErr = errors.New("instances alive")

	err := s.Close()

	assert.ErrorContains(t, err, "instances alive")
	assert.Empty(t, s.Plugins())
}

func TestDefaultDirs_IncludesClapPath(t *testing.T) {
	t.Setenv("CLAP_PATH", "/opt/a"+string(os.PathListSeparator)+"/opt/b")
	dirs := DefaultDirs()
	assert.Equal(t, []string{"/opt/a", "/opt/b"}, dirs[len(dirs)-2:])
}
