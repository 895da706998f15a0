//go:build darwin || linux

package clap

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/roach88/plughost/internal/ir"
	"github.com/roach88/plughost/internal/plugin"
)

// hostContext is the Go side of one clap_host handed to one plugin
// instance. The C struct lives inside it and is pinned for the instance
// lifetime.
type hostContext struct {
	c      clapHost
	id     uintptr
	pinner runtime.Pinner

	name, vendor, url, version []byte

	rdn        string
	request    *plugin.HostRequest
	logger     *slog.Logger
	processing atomic.Bool
}

var hosts registry[hostContext]

func newHostContext(info ir.HostInfo, rdn string, req *plugin.HostRequest, logger *slog.Logger) (*hostContext, error) {
	cb := hostCallbacks()
	h := &hostContext{
		name:    cstring(info.Name),
		vendor:  cstring(info.Vendor),
		url:     cstring(info.URL),
		version: cstring(info.Version),
		rdn:     rdn,
		request: req,
		logger:  logger,
	}
	id, err := hosts.add(h)
	if err != nil {
		return nil, err
	}
	h.id = id
	h.pinner.Pin(h)
	h.pinner.Pin(&h.name[0])
	h.pinner.Pin(&h.vendor[0])
	h.pinner.Pin(&h.url[0])
	h.pinner.Pin(&h.version[0])
	h.c = clapHost{
		Version:         hostClapVersion,
		HostData:        id,
		Name:            bytePtr(h.name),
		Vendor:          bytePtr(h.vendor),
		URL:             bytePtr(h.url),
		VersionStr:      bytePtr(h.version),
		GetExtension:    cb.getExtension,
		RequestRestart:  cb.requestRestart,
		RequestProcess:  cb.requestProcess,
		RequestCallback: cb.requestCallback,
	}
	return h, nil
}

func (h *hostContext) ptr() uintptr { return uintptr(unsafe.Pointer(&h.c)) }

func (h *hostContext) release() {
	hosts.remove(h.id)
	h.pinner.Unpin()
}

// hostFrom maps the clap_host pointer a plugin passes back to its context.
func hostFrom(p uintptr) *hostContext {
	if p == 0 {
		return nil
	}
	return hosts.get((*clapHost)(unsafe.Pointer(p)).HostData)
}

func raise(p uintptr, f plugin.RequestFlags) {
	if h := hostFrom(p); h != nil {
		h.request.Request(f)
	}
}

// Host extension vtables shared by every instance.
var (
	hostLogExt         clapHostLog
	hostThreadCheckExt clapHostThreadCheck
	hostParamsExt      clapHostParams
	hostAudioPortsExt  clapHostAudioPorts
	hostNotePortsExt   clapHostNotePorts
	hostLatencyExt     clapHostLatency
	hostStateExt       clapHostState
	hostGUIExt         clapHostGUI
	hostTimerExt       clapHostTimerSupport
)

type callbacks struct {
	getExtension    uintptr
	requestRestart  uintptr
	requestProcess  uintptr
	requestCallback uintptr
}

var (
	callbacksOnce sync.Once
	hostCB        callbacks
)

// hostCallbacks creates the C entry points once. purego callbacks are
// never freed, so they must not be created per instance.
func hostCallbacks() callbacks {
	callbacksOnce.Do(func() {
		hostCB = callbacks{
			getExtension:    purego.NewCallback(hostGetExtension),
			requestRestart:  purego.NewCallback(func(h uintptr) uintptr { raise(h, plugin.RequestRestart); return 0 }),
			requestProcess:  purego.NewCallback(func(h uintptr) uintptr { raise(h, plugin.RequestProcess); return 0 }),
			requestCallback: purego.NewCallback(func(h uintptr) uintptr { raise(h, plugin.RequestCallback); return 0 }),
		}

		hostLogExt.Log = purego.NewCallback(hostLog)
		hostThreadCheckExt = clapHostThreadCheck{
			IsMainThread: purego.NewCallback(func(h uintptr) uintptr {
				c := hostFrom(h)
				return boolArg(c != nil && !c.processing.Load())
			}),
			IsAudioThread: purego.NewCallback(func(h uintptr) uintptr {
				c := hostFrom(h)
				return boolArg(c != nil && c.processing.Load())
			}),
		}
		hostParamsExt = clapHostParams{
			Rescan:       purego.NewCallback(func(h, _ uintptr) uintptr { raise(h, plugin.RequestRescanParams); return 0 }),
			Clear:        purego.NewCallback(func(_, _, _ uintptr) uintptr { return 0 }),
			RequestFlush: purego.NewCallback(func(h uintptr) uintptr { raise(h, plugin.RequestFlushParams); return 0 }),
		}
		hostAudioPortsExt = clapHostAudioPorts{
			IsRescanFlagSupported: purego.NewCallback(func(_, _ uintptr) uintptr { return 1 }),
			Rescan:                purego.NewCallback(func(h, _ uintptr) uintptr { raise(h, plugin.RequestRescanAudioPorts); return 0 }),
		}
		hostNotePortsExt = clapHostNotePorts{
			SupportedDialects: purego.NewCallback(func(uintptr) uintptr { return noteDialectCLAP }),
			Rescan:            purego.NewCallback(func(h, _ uintptr) uintptr { raise(h, plugin.RequestRescanNotePorts); return 0 }),
		}
		hostLatencyExt.Changed = purego.NewCallback(func(h uintptr) uintptr { raise(h, plugin.RequestRescanLatency); return 0 })
		hostStateExt.MarkDirty = purego.NewCallback(func(h uintptr) uintptr { raise(h, plugin.RequestMarkDirty); return 0 })
		hostGUIExt = clapHostGUI{
			ResizeHintsChanged: purego.NewCallback(func(h uintptr) uintptr { raise(h, plugin.RequestGUIHintsChanged); return 0 }),
			RequestResize:      purego.NewCallback(hostGUIRequestResize),
			RequestShow:        purego.NewCallback(func(h uintptr) uintptr { raise(h, plugin.RequestGUIShow); return 1 }),
			RequestHide:        purego.NewCallback(func(h uintptr) uintptr { raise(h, plugin.RequestGUIHide); return 1 }),
			Closed:             purego.NewCallback(hostGUIClosed),
		}
		hostTimerExt = clapHostTimerSupport{
			RegisterTimer:   purego.NewCallback(hostRegisterTimer),
			UnregisterTimer: purego.NewCallback(hostUnregisterTimer),
		}
	})
	return hostCB
}

func hostGetExtension(h, id uintptr) uintptr {
	var p unsafe.Pointer
	switch goString(id) {
	case extLog:
		p = unsafe.Pointer(&hostLogExt)
	case extThreadCheck:
		p = unsafe.Pointer(&hostThreadCheckExt)
	case extParams:
		p = unsafe.Pointer(&hostParamsExt)
	case extAudioPorts:
		p = unsafe.Pointer(&hostAudioPortsExt)
	case extNotePorts:
		p = unsafe.Pointer(&hostNotePortsExt)
	case extLatency:
		p = unsafe.Pointer(&hostLatencyExt)
	case extState:
		p = unsafe.Pointer(&hostStateExt)
	case extGUI:
		p = unsafe.Pointer(&hostGUIExt)
	case extTimerSupport:
		p = unsafe.Pointer(&hostTimerExt)
	default:
		return 0
	}
	return uintptr(p)
}

var logLevels = [...]slog.Level{
	0: slog.LevelDebug,
	1: slog.LevelInfo,
	2: slog.LevelWarn,
	3: slog.LevelError,
	4: slog.LevelError,
	5: slog.LevelWarn,
	6: slog.LevelWarn,
}

func hostLog(h, severity, msg uintptr) uintptr {
	c := hostFrom(h)
	if c == nil {
		return 0
	}
	level := slog.LevelInfo
	if s := int32(severity); s >= 0 && int(s) < len(logLevels) {
		level = logLevels[s]
	}
	c.logger.Log(context.Background(), level, goString(msg), "plugin", c.rdn, "severity", int32(severity))
	return 0
}

func hostGUIRequestResize(h, width, height uintptr) uintptr {
	c := hostFrom(h)
	if c == nil {
		return 0
	}
	c.request.RequestGUIResize(uint32(width), uint32(height))
	return 1
}

func hostGUIClosed(h, wasDestroyed uintptr) uintptr {
	if cbool(wasDestroyed) {
		raise(h, plugin.RequestGUIDestroyed)
	} else {
		raise(h, plugin.RequestGUIClosed)
	}
	return 0
}

func hostRegisterTimer(h, periodMS, out uintptr) uintptr {
	c := hostFrom(h)
	if c == nil || out == 0 {
		return 0
	}
	id := c.request.RegisterTimer(time.Duration(uint32(periodMS)) * time.Millisecond)
	*(*uint32)(unsafe.Pointer(out)) = uint32(id)
	return 1
}

func hostUnregisterTimer(h, id uintptr) uintptr {
	c := hostFrom(h)
	if c == nil {
		return 0
	}
	c.request.UnregisterTimer(ir.TimerID(uint32(id)))
	return 1
}
