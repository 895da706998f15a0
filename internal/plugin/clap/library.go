//go:build darwin || linux

package clap

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/roach88/plughost/internal/ir"
	"github.com/roach88/plughost/internal/plugin"
)

// Library is an opened CLAP binary. It stays loaded until Close.
type Library struct {
	path    string
	handle  uintptr
	entry   *clapPluginEntry
	factory *clapPluginFactory
	opts    Options
	logger  *slog.Logger

	mu        sync.Mutex
	closed    bool
	live      atomic.Int32
	factories []plugin.Factory
}

// Open loads the binary at path, initializes its entry point and reads
// its plugin descriptors. On darwin a .clap bundle directory is resolved
// to the binary inside it.
func Open(path string, opts Options) (*Library, error) {
	bin, err := resolveBinary(path)
	if err != nil {
		return nil, err
	}
	handle, err := purego.Dlopen(bin, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		return nil, fmt.Errorf("clap: open %s: %w", path, err)
	}
	sym, err := purego.Dlsym(handle, "clap_entry")
	if err != nil {
		purego.Dlclose(handle)
		return nil, fmt.Errorf("clap: %s has no clap_entry: %w", path, err)
	}
	l := &Library{
		path:   path,
		handle: handle,
		entry:  (*clapPluginEntry)(unsafe.Pointer(sym)),
		opts:   opts,
		logger: opts.logger().With("library", path),
	}
	if l.entry.Version.Major < 1 {
		purego.Dlclose(handle)
		return nil, fmt.Errorf("clap: %s: unsupported CLAP version %d.%d.%d",
			path, l.entry.Version.Major, l.entry.Version.Minor, l.entry.Version.Revision)
	}

	cpath := cstring(path)
	if r, _, _ := purego.SyscallN(l.entry.Init, uintptr(unsafe.Pointer(&cpath[0]))); !cbool(r) {
		purego.Dlclose(handle)
		return nil, fmt.Errorf("clap: %s: entry init failed", path)
	}
	cid := cstring(clapPluginFactoryID)
	f, _, _ := purego.SyscallN(l.entry.GetFactory, uintptr(unsafe.Pointer(&cid[0])))
	if f == 0 {
		l.deinit()
		return nil, fmt.Errorf("clap: %s: no plugin factory", path)
	}
	l.factory = (*clapPluginFactory)(unsafe.Pointer(f))

	count, _, _ := purego.SyscallN(l.factory.GetPluginCount, f)
	for i := range uint32(count) {
		d, _, _ := purego.SyscallN(l.factory.GetPluginDescriptor, f, uintptr(i))
		if d == 0 {
			l.logger.Warn("plugin descriptor missing", "index", i)
			continue
		}
		desc := readDescriptor((*clapPluginDescriptor)(unsafe.Pointer(d)), path)
		if desc.ID == "" {
			l.logger.Warn("plugin descriptor has no id", "index", i)
			continue
		}
		l.factories = append(l.factories, &factory{lib: l, desc: desc})
	}
	return l, nil
}

// Path returns the path the library was opened from.
func (l *Library) Path() string { return l.path }

// Factories returns one factory per plugin type in the binary.
func (l *Library) Factories() []plugin.Factory { return l.factories }

// Close deinitializes and unloads the binary. Every instance created from
// the library must be destroyed first.
func (l *Library) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	if n := l.live.Load(); n > 0 {
		return fmt.Errorf("clap: close %s: %d instances still alive", l.path, n)
	}
	l.closed = true
	return l.deinit()
}

func (l *Library) deinit() error {
	purego.SyscallN(l.entry.Deinit)
	if err := purego.Dlclose(l.handle); err != nil {
		return fmt.Errorf("clap: unload %s: %w", l.path, err)
	}
	return nil
}

func readDescriptor(d *clapPluginDescriptor, path string) plugin.Descriptor {
	return plugin.Descriptor{
		ID:          goString(d.ID),
		Name:        goString(d.Name),
		Vendor:      goString(d.Vendor),
		Version:     goString(d.VersionStr),
		Description: goString(d.Description),
		Format:      ir.FormatCLAP,
		Features:    stringArray(d.Features),
		Path:        path,
	}
}

// resolveBinary maps a bundle directory to its executable. Plain files
// are returned unchanged.
func resolveBinary(path string) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("clap: %w", err)
	}
	if !fi.IsDir() {
		return path, nil
	}
	if runtime.GOOS != "darwin" {
		return "", fmt.Errorf("clap: %s is a directory", path)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	bin := filepath.Join(path, "Contents", "MacOS", name)
	if _, err := os.Stat(bin); err != nil {
		return "", fmt.Errorf("clap: bundle %s: %w", path, err)
	}
	return bin, nil
}

// factory creates instances of one plugin type of a Library.
type factory struct {
	lib  *Library
	desc plugin.Descriptor
}

func (f *factory) Descriptor() plugin.Descriptor { return f.desc }

var errClosed = errors.New("clap: library closed")

func (f *factory) New(ctx plugin.Context) (plugin.MainThread, error) {
	l := f.lib
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, errClosed
	}
	logger := l.logger.With("plugin", f.desc.ID, "unique_id", ctx.UniqueID)
	req := ctx.Request
	if req == nil {
		req = plugin.NewHostRequest()
	}
	host, err := newHostContext(ctx.HostInfo, f.desc.ID, req, logger)
	if err != nil {
		return nil, err
	}
	cid := cstring(f.desc.ID)
	p, _, _ := purego.SyscallN(l.factory.CreatePlugin,
		uintptr(unsafe.Pointer(l.factory)), host.ptr(), uintptr(unsafe.Pointer(&cid[0])))
	if p == 0 {
		host.release()
		return nil, fmt.Errorf("clap: create %s failed", f.desc.ID)
	}
	inst := newInstance(l, f.desc, host, p, logger)
	if r, _, _ := purego.SyscallN(inst.vt.Init, p); !cbool(r) {
		purego.SyscallN(inst.vt.Destroy, p)
		host.release()
		return nil, fmt.Errorf("clap: init %s failed", f.desc.ID)
	}
	inst.loadExtensions()
	l.live.Add(1)
	return inst, nil
}
