//go:build darwin || linux

package clap

import (
	"bytes"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

// stream backs one clap_ostream or clap_istream for the duration of a
// state save or load.
type stream struct {
	id  uintptr
	out clapOStream
	in  clapIStream
	buf bytes.Buffer
	src []byte
}

var streams registry[stream]

var (
	streamCBOnce sync.Once
	streamWrite  uintptr
	streamRead   uintptr
)

func streamCallbacks() {
	streamCBOnce.Do(func() {
		streamWrite = purego.NewCallback(func(s, buf, size uintptr) uintptr {
			st := streams.get((*clapOStream)(unsafe.Pointer(s)).Ctx)
			if st == nil || (buf == 0 && size > 0) {
				return ^uintptr(0)
			}
			if size > 0 {
				st.buf.Write(unsafe.Slice((*byte)(unsafe.Pointer(buf)), size))
			}
			return size
		})
		streamRead = purego.NewCallback(func(s, buf, size uintptr) uintptr {
			st := streams.get((*clapIStream)(unsafe.Pointer(s)).Ctx)
			if st == nil || (buf == 0 && size > 0) {
				return ^uintptr(0)
			}
			n := copy(unsafe.Slice((*byte)(unsafe.Pointer(buf)), size), st.src)
			st.src = st.src[n:]
			return uintptr(n)
		})
	})
}

func newStream(src []byte) (*stream, error) {
	streamCallbacks()
	s := &stream{src: src}
	id, err := streams.add(s)
	if err != nil {
		return nil, err
	}
	s.id = id
	s.out = clapOStream{Ctx: id, Write: streamWrite}
	s.in = clapIStream{Ctx: id, Read: streamRead}
	return s, nil
}

func (s *stream) release() { streams.remove(s.id) }
