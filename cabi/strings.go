package main

/*
#include "redlite.h"
*/
import "C"

import (
	"context"
	"database/sql"

	"github.com/redlite/redlite/internal/engine"
	redstrings "github.com/redlite/redlite/internal/strings"
)

//export redlite_get
func redlite_get(h C.int64_t, db C.int32_t, key *C.uint8_t, keyLen C.size_t, out *C.RedliteBytes) C.int {
	state := lookup(h)
	if state == nil {
		return -1
	}
	var val []byte
	var ok bool
	err := state.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		val, ok, e = state.strings.Get(context.Background(), tx, int(db), goBytes(key, keyLen), engine.Now())
		return e
	})
	if err != nil {
		return C.int(state.setErr(err))
	}
	*out = cBytes(val, ok)
	return 0
}

//export redlite_set
func redlite_set(h C.int64_t, db C.int32_t, key *C.uint8_t, keyLen C.size_t, value *C.uint8_t, valueLen C.size_t) C.int {
	state := lookup(h)
	if state == nil {
		return -1
	}
	k := goBytes(key, keyLen)
	v := goBytes(value, valueLen)
	err := state.core.Do(context.Background(), int(db), []string{string(k)}, func(tx *sql.Tx) error {
		_, e := state.strings.Set(context.Background(), tx, int(db), k, v, engine.Now(), redstrings.SetOptions{})
		return e
	})
	if err != nil {
		return C.int(state.setErr(err))
	}
	return 0
}

//export redlite_append
func redlite_append(h C.int64_t, db C.int32_t, key *C.uint8_t, keyLen C.size_t, suffix *C.uint8_t, suffixLen C.size_t, outLen *C.int64_t) C.int {
	state := lookup(h)
	if state == nil {
		return -1
	}
	k := goBytes(key, keyLen)
	s := goBytes(suffix, suffixLen)
	var n int64
	err := state.core.Do(context.Background(), int(db), []string{string(k)}, func(tx *sql.Tx) error {
		var e error
		n, e = state.strings.Append(context.Background(), tx, int(db), k, s, engine.Now())
		return e
	})
	if err != nil {
		return C.int(state.setErr(err))
	}
	*outLen = C.int64_t(n)
	return 0
}

//export redlite_strlen
func redlite_strlen(h C.int64_t, db C.int32_t, key *C.uint8_t, keyLen C.size_t, outLen *C.int64_t) C.int {
	state := lookup(h)
	if state == nil {
		return -1
	}
	var n int64
	err := state.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		n, e = state.strings.StrLen(context.Background(), tx, int(db), goBytes(key, keyLen), engine.Now())
		return e
	})
	if err != nil {
		return C.int(state.setErr(err))
	}
	*outLen = C.int64_t(n)
	return 0
}

//export redlite_incrby
func redlite_incrby(h C.int64_t, db C.int32_t, key *C.uint8_t, keyLen C.size_t, delta C.int64_t, outVal *C.int64_t) C.int {
	state := lookup(h)
	if state == nil {
		return -1
	}
	k := goBytes(key, keyLen)
	var n int64
	err := state.core.Do(context.Background(), int(db), []string{string(k)}, func(tx *sql.Tx) error {
		var e error
		n, e = state.strings.Incr(context.Background(), tx, int(db), k, int64(delta), engine.Now())
		return e
	})
	if err != nil {
		return C.int(state.setErr(err))
	}
	*outVal = C.int64_t(n)
	return 0
}

//export redlite_del
func redlite_del(h C.int64_t, db C.int32_t, key *C.uint8_t, keyLen C.size_t, outDeleted *C.int) C.int {
	state := lookup(h)
	if state == nil {
		return -1
	}
	k := goBytes(key, keyLen)
	var deleted bool
	err := state.core.Do(context.Background(), int(db), []string{string(k)}, func(tx *sql.Tx) error {
		var e error
		deleted, e = state.core.Keys.Delete(context.Background(), tx, int(db), k, engine.Now())
		return e
	})
	if err != nil {
		return C.int(state.setErr(err))
	}
	if deleted {
		*outDeleted = 1
	} else {
		*outDeleted = 0
	}
	return 0
}

//export redlite_exists
func redlite_exists(h C.int64_t, db C.int32_t, key *C.uint8_t, keyLen C.size_t, outExists *C.int) C.int {
	state := lookup(h)
	if state == nil {
		return -1
	}
	_, ok, err := state.core.ExistsCached(context.Background(), int(db), goBytes(key, keyLen))
	if err != nil {
		return C.int(state.setErr(err))
	}
	if ok {
		*outExists = 1
	} else {
		*outExists = 0
	}
	return 0
}
