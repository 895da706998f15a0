// Package clap adapts plugins in the CLAP binary format to the uniform
// plugin interface. All FFI handling lives here: binaries are opened with
// purego (no cgo), plugin entry points are called through their vtables,
// and the host vtable handed to plugins is built from purego callbacks.
package clap

import (
	"errors"
	"log/slog"

	"github.com/roach88/plughost/internal/ir"
)

// ErrUnsupported is returned by Open on platforms without a CLAP loader.
var ErrUnsupported = errors.New("clap: plugin loading is not supported on this platform")

// Options configure a Library.
type Options struct {
	HostInfo ir.HostInfo
	Logger   *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}
