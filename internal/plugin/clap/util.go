//go:build darwin || linux

package clap

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"
)

// cstring returns s as a NUL-terminated byte slice. The caller keeps the
// slice alive while C code may read it.
func cstring(s string) []byte {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return b
}

func bytePtr(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

// goString copies the NUL-terminated C string at p.
func goString(p uintptr) string {
	if p == 0 {
		return ""
	}
	n := 0
	for *(*byte)(unsafe.Add(unsafe.Pointer(p), n)) != 0 {
		n++
	}
	return string(unsafe.Slice((*byte)(unsafe.Pointer(p)), n))
}

// fixedString decodes a NUL-padded fixed-size C char array.
func fixedString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// stringArray decodes a NULL-terminated array of C strings.
func stringArray(p uintptr) []string {
	if p == 0 {
		return nil
	}
	var out []string
	for i := 0; ; i++ {
		s := *(*uintptr)(unsafe.Add(unsafe.Pointer(p), i*int(unsafe.Sizeof(uintptr(0)))))
		if s == 0 {
			return out
		}
		out = append(out, goString(s))
	}
}

func cbool(r uintptr) bool { return r&0xff != 0 }

func boolArg(b bool) uintptr {
	if b {
		return 1
	}
	return 0
}

const maxInstances = 1024

// registry maps small integer ids, stored in C-visible context fields, to
// Go objects. get is lock-free so callbacks on the audio thread may use it.
type registry[T any] struct {
	mu    sync.Mutex
	slots [maxInstances]atomic.Pointer[T]
	free  []uintptr
	next  uintptr
}

func (r *registry[T]) add(v *T) (uintptr, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var id uintptr
	if n := len(r.free); n > 0 {
		id = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		if r.next+1 >= maxInstances {
			return 0, fmt.Errorf("clap: more than %d live objects", maxInstances-1)
		}
		r.next++
		id = r.next
	}
	r.slots[id].Store(v)
	return id, nil
}

func (r *registry[T]) get(id uintptr) *T {
	if id == 0 || id >= maxInstances {
		return nil
	}
	return r.slots[id].Load()
}

func (r *registry[T]) remove(id uintptr) {
	if id == 0 || id >= maxInstances {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.slots[id].Swap(nil) != nil {
		r.free = append(r.free, id)
	}
}
