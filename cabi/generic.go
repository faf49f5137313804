package main

/*
#include "redlite.h"
*/
import "C"

import (
	"context"
	"database/sql"

	"github.com/redlite/redlite/internal/engine"
)

//export redlite_keys
func redlite_keys(h C.int64_t, db C.int32_t, pattern *C.char, out *C.RedliteStringArray) C.int {
	state := lookup(h)
	if state == nil {
		return -1
	}
	var names [][]byte
	err := state.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		names, e = state.core.Keys.Keys(context.Background(), tx, int(db), C.GoString(pattern), engine.Now())
		return e
	})
	if err != nil {
		return C.int(state.setErr(err))
	}
	ss := make([]string, len(names))
	for i, n := range names {
		ss[i] = string(n)
	}
	*out = cStringArray(ss)
	return 0
}

//export redlite_ttl
func redlite_ttl(h C.int64_t, db C.int32_t, key *C.uint8_t, keyLen C.size_t, outTTLMillis *C.int64_t) C.int {
	state := lookup(h)
	if state == nil {
		return -1
	}
	entry, ok, err := state.core.ExistsCached(context.Background(), int(db), goBytes(key, keyLen))
	if err != nil {
		return C.int(state.setErr(err))
	}
	if !ok {
		*outTTLMillis = -2
		return 0
	}
	if entry.ExpireAt == 0 {
		*outTTLMillis = -1
		return 0
	}
	remaining := entry.ExpireAt - engine.Now()
	if remaining < 0 {
		remaining = 0
	}
	*outTTLMillis = C.int64_t(remaining)
	return 0
}
