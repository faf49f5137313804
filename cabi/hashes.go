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

//export redlite_hset
func redlite_hset(h C.int64_t, db C.int32_t, key *C.uint8_t, keyLen C.size_t, field *C.uint8_t, fieldLen C.size_t, value *C.uint8_t, valueLen C.size_t) C.int {
	state := lookup(h)
	if state == nil {
		return -1
	}
	k := goBytes(key, keyLen)
	f := string(goBytes(field, fieldLen))
	v := goBytes(value, valueLen)
	err := state.core.Do(context.Background(), int(db), []string{string(k)}, func(tx *sql.Tx) error {
		_, e := state.hashes.HSet(context.Background(), tx, int(db), k, map[string][]byte{f: v}, engine.Now())
		return e
	})
	if err != nil {
		return C.int(state.setErr(err))
	}
	return 0
}

//export redlite_hget
func redlite_hget(h C.int64_t, db C.int32_t, key *C.uint8_t, keyLen C.size_t, field *C.uint8_t, fieldLen C.size_t, out *C.RedliteBytes) C.int {
	state := lookup(h)
	if state == nil {
		return -1
	}
	var val []byte
	var ok bool
	err := state.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		val, ok, e = state.hashes.HGet(context.Background(), tx, int(db), goBytes(key, keyLen), string(goBytes(field, fieldLen)), engine.Now())
		return e
	})
	if err != nil {
		return C.int(state.setErr(err))
	}
	*out = cBytes(val, ok)
	return 0
}

//export redlite_hgetall
func redlite_hgetall(h C.int64_t, db C.int32_t, key *C.uint8_t, keyLen C.size_t, out *C.RedliteBytesArray) C.int {
	state := lookup(h)
	if state == nil {
		return -1
	}
	var fields map[string][]byte
	err := state.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		fields, e = state.hashes.HGetAll(context.Background(), tx, int(db), goBytes(key, keyLen), engine.Now())
		return e
	})
	if err != nil {
		return C.int(state.setErr(err))
	}
	// Flattened as alternating field/value entries, matching RedliteKV's
	// intent without a second struct array type for this one call.
	flat := make([][]byte, 0, len(fields)*2)
	for f, v := range fields {
		flat = append(flat, []byte(f), v)
	}
	*out = cBytesArray(flat)
	return 0
}

//export redlite_hdel
func redlite_hdel(h C.int64_t, db C.int32_t, key *C.uint8_t, keyLen C.size_t, field *C.uint8_t, fieldLen C.size_t, outDeleted *C.int64_t) C.int {
	state := lookup(h)
	if state == nil {
		return -1
	}
	k := goBytes(key, keyLen)
	f := string(goBytes(field, fieldLen))
	var n int64
	err := state.core.Do(context.Background(), int(db), []string{string(k)}, func(tx *sql.Tx) error {
		var e error
		n, e = state.hashes.HDel(context.Background(), tx, int(db), k, []string{f}, engine.Now())
		return e
	})
	if err != nil {
		return C.int(state.setErr(err))
	}
	*outDeleted = C.int64_t(n)
	return 0
}

//export redlite_hlen
func redlite_hlen(h C.int64_t, db C.int32_t, key *C.uint8_t, keyLen C.size_t, outLen *C.int64_t) C.int {
	state := lookup(h)
	if state == nil {
		return -1
	}
	var n int64
	err := state.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		n, e = state.hashes.HLen(context.Background(), tx, int(db), goBytes(key, keyLen), engine.Now())
		return e
	})
	if err != nil {
		return C.int(state.setErr(err))
	}
	*outLen = C.int64_t(n)
	return 0
}
