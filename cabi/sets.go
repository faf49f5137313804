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

//export redlite_sadd
func redlite_sadd(h C.int64_t, db C.int32_t, key *C.uint8_t, keyLen C.size_t, member *C.uint8_t, memberLen C.size_t, outAdded *C.int64_t) C.int {
	state := lookup(h)
	if state == nil {
		return -1
	}
	k := goBytes(key, keyLen)
	m := goBytes(member, memberLen)
	var n int64
	err := state.core.Do(context.Background(), int(db), []string{string(k)}, func(tx *sql.Tx) error {
		var e error
		n, e = state.sets.SAdd(context.Background(), tx, int(db), k, [][]byte{m}, engine.Now())
		return e
	})
	if err != nil {
		return C.int(state.setErr(err))
	}
	*outAdded = C.int64_t(n)
	return 0
}

//export redlite_srem
func redlite_srem(h C.int64_t, db C.int32_t, key *C.uint8_t, keyLen C.size_t, member *C.uint8_t, memberLen C.size_t, outRemoved *C.int64_t) C.int {
	state := lookup(h)
	if state == nil {
		return -1
	}
	k := goBytes(key, keyLen)
	m := goBytes(member, memberLen)
	var n int64
	err := state.core.Do(context.Background(), int(db), []string{string(k)}, func(tx *sql.Tx) error {
		var e error
		n, e = state.sets.SRem(context.Background(), tx, int(db), k, [][]byte{m}, engine.Now())
		return e
	})
	if err != nil {
		return C.int(state.setErr(err))
	}
	*outRemoved = C.int64_t(n)
	return 0
}

//export redlite_sismember
func redlite_sismember(h C.int64_t, db C.int32_t, key *C.uint8_t, keyLen C.size_t, member *C.uint8_t, memberLen C.size_t, outIsMember *C.int) C.int {
	state := lookup(h)
	if state == nil {
		return -1
	}
	var ok bool
	err := state.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		ok, e = state.sets.SIsMember(context.Background(), tx, int(db), goBytes(key, keyLen), goBytes(member, memberLen), engine.Now())
		return e
	})
	if err != nil {
		return C.int(state.setErr(err))
	}
	if ok {
		*outIsMember = 1
	} else {
		*outIsMember = 0
	}
	return 0
}

//export redlite_smembers
func redlite_smembers(h C.int64_t, db C.int32_t, key *C.uint8_t, keyLen C.size_t, out *C.RedliteBytesArray) C.int {
	state := lookup(h)
	if state == nil {
		return -1
	}
	var members [][]byte
	err := state.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		members, e = state.sets.SMembers(context.Background(), tx, int(db), goBytes(key, keyLen), engine.Now())
		return e
	})
	if err != nil {
		return C.int(state.setErr(err))
	}
	*out = cBytesArray(members)
	return 0
}

//export redlite_scard
func redlite_scard(h C.int64_t, db C.int32_t, key *C.uint8_t, keyLen C.size_t, outLen *C.int64_t) C.int {
	state := lookup(h)
	if state == nil {
		return -1
	}
	var n int64
	err := state.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		n, e = state.sets.SCard(context.Background(), tx, int(db), goBytes(key, keyLen), engine.Now())
		return e
	})
	if err != nil {
		return C.int(state.setErr(err))
	}
	*outLen = C.int64_t(n)
	return 0
}
