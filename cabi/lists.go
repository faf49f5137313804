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

//export redlite_lpush
func redlite_lpush(h C.int64_t, db C.int32_t, key *C.uint8_t, keyLen C.size_t, value *C.uint8_t, valueLen C.size_t, outLen *C.int64_t) C.int {
	return listPush(h, db, key, keyLen, value, valueLen, outLen, true)
}

//export redlite_rpush
func redlite_rpush(h C.int64_t, db C.int32_t, key *C.uint8_t, keyLen C.size_t, value *C.uint8_t, valueLen C.size_t, outLen *C.int64_t) C.int {
	return listPush(h, db, key, keyLen, value, valueLen, outLen, false)
}

func listPush(h C.int64_t, db C.int32_t, key *C.uint8_t, keyLen C.size_t, value *C.uint8_t, valueLen C.size_t, outLen *C.int64_t, left bool) C.int {
	state := lookup(h)
	if state == nil {
		return -1
	}
	k := goBytes(key, keyLen)
	v := goBytes(value, valueLen)
	var n int64
	err := state.core.Do(context.Background(), int(db), []string{string(k)}, func(tx *sql.Tx) error {
		var e error
		if left {
			n, e = state.lists.LPush(context.Background(), tx, int(db), k, [][]byte{v}, engine.Now())
		} else {
			n, e = state.lists.RPush(context.Background(), tx, int(db), k, [][]byte{v}, engine.Now())
		}
		return e
	})
	if err != nil {
		return C.int(state.setErr(err))
	}
	*outLen = C.int64_t(n)
	return 0
}

//export redlite_llen
func redlite_llen(h C.int64_t, db C.int32_t, key *C.uint8_t, keyLen C.size_t, outLen *C.int64_t) C.int {
	state := lookup(h)
	if state == nil {
		return -1
	}
	var n int64
	err := state.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		n, e = state.lists.LLen(context.Background(), tx, int(db), goBytes(key, keyLen), engine.Now())
		return e
	})
	if err != nil {
		return C.int(state.setErr(err))
	}
	*outLen = C.int64_t(n)
	return 0
}

//export redlite_lrange
func redlite_lrange(h C.int64_t, db C.int32_t, key *C.uint8_t, keyLen C.size_t, start, stop C.int64_t, out *C.RedliteBytesArray) C.int {
	state := lookup(h)
	if state == nil {
		return -1
	}
	var vals [][]byte
	err := state.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		vals, e = state.lists.LRange(context.Background(), tx, int(db), goBytes(key, keyLen), int64(start), int64(stop), engine.Now())
		return e
	})
	if err != nil {
		return C.int(state.setErr(err))
	}
	*out = cBytesArray(vals)
	return 0
}

//export redlite_lpop
func redlite_lpop(h C.int64_t, db C.int32_t, key *C.uint8_t, keyLen C.size_t, out *C.RedliteBytes) C.int {
	return listPop(h, db, key, keyLen, out, true)
}

//export redlite_rpop
func redlite_rpop(h C.int64_t, db C.int32_t, key *C.uint8_t, keyLen C.size_t, out *C.RedliteBytes) C.int {
	return listPop(h, db, key, keyLen, out, false)
}

func listPop(h C.int64_t, db C.int32_t, key *C.uint8_t, keyLen C.size_t, out *C.RedliteBytes, left bool) C.int {
	state := lookup(h)
	if state == nil {
		return -1
	}
	var vals [][]byte
	err := state.core.Do(context.Background(), int(db), []string{string(goBytes(key, keyLen))}, func(tx *sql.Tx) error {
		var e error
		if left {
			vals, e = state.lists.LPop(context.Background(), tx, int(db), goBytes(key, keyLen), 1, engine.Now())
		} else {
			vals, e = state.lists.RPop(context.Background(), tx, int(db), goBytes(key, keyLen), 1, engine.Now())
		}
		return e
	})
	if err != nil {
		return C.int(state.setErr(err))
	}
	if len(vals) == 0 {
		*out = cBytes(nil, false)
		return 0
	}
	*out = cBytes(vals[0], true)
	return 0
}
