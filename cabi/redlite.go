// Command cabi (built with `go build -buildmode=c-shared`) is the stable
// C-ABI boundary: a shared-library surface wrapping the engine for
// non-Go host languages. Handles are opaque int64 tokens backed by
// runtime/cgo.Handle so no Go pointer ever crosses into C; every returned
// buffer is caller-owned and must be released with its matching
// redlite_free_* call.
package main

/*
#include "redlite.h"
#include <stdlib.h>
*/
import "C"

import (
	"context"
	"runtime/cgo"
	"sync"
	"unsafe"

	"go.uber.org/zap"

	"github.com/redlite/redlite/internal/config"
	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/errs"
	"github.com/redlite/redlite/internal/hashes"
	"github.com/redlite/redlite/internal/lists"
	"github.com/redlite/redlite/internal/sets"
	"github.com/redlite/redlite/internal/strings"
	"github.com/redlite/redlite/internal/zsets"
)

// handleState bundles the engine with its ops packages and a per-handle
// "thread-local" error slot. The spec calls for a genuinely thread-local
// slot; Go has no native concept of OS-thread-affine storage without
// runtime.LockOSThread gymnastics that would fight the goroutine scheduler,
// so this simplifies to one slot per open handle guarded by a mutex,
// documented as a deliberate simplification.
type handleState struct {
	core *engine.Core

	strings *strings.Ops
	hashes  *hashes.Ops
	lists   *lists.Ops
	sets    *sets.Ops
	zsets   *zsets.Ops

	mu       sync.Mutex
	lastErr  string
	hasError bool
}

func (h *handleState) setErr(err error) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err == nil {
		h.hasError = false
		h.lastErr = ""
		return 0
	}
	h.hasError = true
	e, ok := err.(*errs.Error)
	if !ok {
		e = errs.Wrap(errs.KindInternal, err, "%v", err)
	}
	h.lastErr = e.Error()
	return e.CABICode()
}

func lookup(h C.int64_t) *handleState {
	v := cgo.Handle(h).Value()
	state, _ := v.(*handleState)
	return state
}

func openCore(opts config.Options) (C.int64_t, C.int) {
	log := zap.NewNop()
	core, err := engine.Open(context.Background(), opts, log)
	if err != nil {
		return 0, -1
	}
	state := &handleState{
		core:    core,
		strings: strings.New(core.Keys),
		hashes:  hashes.New(core.Keys),
		lists:   lists.New(core.Keys),
		sets:    sets.New(core.Keys),
		zsets:   zsets.New(core.Keys),
	}
	return C.int64_t(cgo.NewHandle(state)), 0
}

//export redlite_open
func redlite_open(path *C.char, cacheMB C.int64_t) C.int64_t {
	opts := config.Default()
	opts.Storage = config.StorageFile
	opts.DBPath = C.GoString(path)
	opts.CacheMB = int64(cacheMB)
	h, _ := openCore(opts)
	return h
}

//export redlite_open_with_cache
func redlite_open_with_cache(path *C.char, cacheMB C.int64_t) C.int64_t {
	return redlite_open(path, cacheMB)
}

//export redlite_open_memory
func redlite_open_memory(cacheMB C.int64_t) C.int64_t {
	opts := config.Default()
	opts.Storage = config.StorageMemory
	opts.CacheMB = int64(cacheMB)
	h, _ := openCore(opts)
	return h
}

//export redlite_close
func redlite_close(h C.int64_t) C.int {
	state := lookup(h)
	if state == nil {
		return -1
	}
	err := state.core.Close()
	cgo.Handle(h).Delete()
	if err != nil {
		return -1
	}
	return 0
}

//export redlite_version
func redlite_version() *C.char {
	return C.CString("redlite-0.1.0")
}

//export redlite_last_error
func redlite_last_error(h C.int64_t) *C.char {
	state := lookup(h)
	if state == nil {
		return nil
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	if !state.hasError {
		return nil
	}
	return C.CString(state.lastErr)
}

//export redlite_free_string
func redlite_free_string(s *C.char) {
	C.free(unsafe.Pointer(s))
}

//export redlite_free_bytes
func redlite_free_bytes(b C.RedliteBytes) {
	if b.data != nil {
		C.free(unsafe.Pointer(b.data))
	}
}

//export redlite_free_string_array
func redlite_free_string_array(a C.RedliteStringArray) {
	if a.strings == nil {
		return
	}
	n := int(a.len)
	base := unsafe.Slice(a.strings, n)
	for i := 0; i < n; i++ {
		C.free(unsafe.Pointer(base[i]))
	}
	C.free(unsafe.Pointer(a.strings))
}

//export redlite_free_bytes_array
func redlite_free_bytes_array(a C.RedliteBytesArray) {
	if a.items == nil {
		return
	}
	n := int(a.len)
	base := unsafe.Slice(a.items, n)
	for i := 0; i < n; i++ {
		if base[i].data != nil {
			C.free(unsafe.Pointer(base[i].data))
		}
	}
	C.free(unsafe.Pointer(a.items))
}

// goBytes copies a C-supplied (ptr, len) pair into a Go byte slice; used at
// every command entry point taking key/value input, since the underlying
// memory is owned by the caller and may be freed the moment the call
// returns.
func goBytes(data *C.uint8_t, length C.size_t) []byte {
	if data == nil || length == 0 {
		return nil
	}
	return C.GoBytes(unsafe.Pointer(data), C.int(length))
}

// cBytes allocates a caller-owned RedliteBytes from a Go byte slice. A nil
// slice with present=false produces the absent sentinel (NULL data, len 0).
func cBytes(b []byte, present bool) C.RedliteBytes {
	if !present {
		return C.RedliteBytes{data: nil, len: 0}
	}
	if len(b) == 0 {
		// Empty-but-present: allocate a non-NULL one-byte-capacity buffer
		// so data != NULL distinguishes it from "absent" on the C side.
		return C.RedliteBytes{data: (*C.uint8_t)(C.malloc(1)), len: 0}
	}
	ptr := C.CBytes(b)
	return C.RedliteBytes{data: (*C.uint8_t)(ptr), len: C.size_t(len(b))}
}

func cStringArray(ss []string) C.RedliteStringArray {
	if len(ss) == 0 {
		return C.RedliteStringArray{strings: nil, len: 0}
	}
	arr := C.malloc(C.size_t(len(ss)) * C.size_t(unsafe.Sizeof(uintptr(0))))
	out := unsafe.Slice((**C.char)(arr), len(ss))
	for i, s := range ss {
		out[i] = C.CString(s)
	}
	return C.RedliteStringArray{strings: (**C.char)(arr), len: C.size_t(len(ss))}
}

func cBytesArray(bs [][]byte) C.RedliteBytesArray {
	if len(bs) == 0 {
		return C.RedliteBytesArray{items: nil, len: 0}
	}
	arr := C.malloc(C.size_t(len(bs)) * C.size_t(unsafe.Sizeof(C.RedliteBytes{})))
	out := unsafe.Slice((*C.RedliteBytes)(arr), len(bs))
	for i, b := range bs {
		out[i] = cBytes(b, true)
	}
	return C.RedliteBytesArray{items: (*C.RedliteBytes)(arr), len: C.size_t(len(bs))}
}

func main() {}
