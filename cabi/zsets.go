package main

/*
#include "redlite.h"
*/
import "C"

import (
	"context"
	"database/sql"

	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/zsets"
)

//export redlite_zadd
func redlite_zadd(h C.int64_t, db C.int32_t, key *C.uint8_t, keyLen C.size_t, score C.double, member *C.uint8_t, memberLen C.size_t, outAdded *C.int64_t) C.int {
	state := lookup(h)
	if state == nil {
		return -1
	}
	k := goBytes(key, keyLen)
	m := goBytes(member, memberLen)
	var n int64
	err := state.core.Do(context.Background(), int(db), []string{string(k)}, func(tx *sql.Tx) error {
		var e error
		n, e = state.zsets.ZAdd(context.Background(), tx, int(db), k, []zsets.Member{{Score: float64(score), Member: m}}, zsets.AddOptions{}, engine.Now())
		return e
	})
	if err != nil {
		return C.int(state.setErr(err))
	}
	*outAdded = C.int64_t(n)
	return 0
}

//export redlite_zscore
func redlite_zscore(h C.int64_t, db C.int32_t, key *C.uint8_t, keyLen C.size_t, member *C.uint8_t, memberLen C.size_t, outScore *C.double, outFound *C.int) C.int {
	state := lookup(h)
	if state == nil {
		return -1
	}
	var score float64
	var ok bool
	err := state.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		score, ok, e = state.zsets.ZScore(context.Background(), tx, int(db), goBytes(key, keyLen), goBytes(member, memberLen), engine.Now())
		return e
	})
	if err != nil {
		return C.int(state.setErr(err))
	}
	*outScore = C.double(score)
	if ok {
		*outFound = 1
	} else {
		*outFound = 0
	}
	return 0
}

//export redlite_zrange
func redlite_zrange(h C.int64_t, db C.int32_t, key *C.uint8_t, keyLen C.size_t, start, stop C.int64_t, out *C.RedliteBytesArray) C.int {
	state := lookup(h)
	if state == nil {
		return -1
	}
	var members []zsets.Member
	err := state.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		members, e = state.zsets.ZRange(context.Background(), tx, int(db), goBytes(key, keyLen), int64(start), int64(stop), false, engine.Now())
		return e
	})
	if err != nil {
		return C.int(state.setErr(err))
	}
	names := make([][]byte, len(members))
	for i, m := range members {
		names[i] = m.Member
	}
	*out = cBytesArray(names)
	return 0
}

//export redlite_zcard
func redlite_zcard(h C.int64_t, db C.int32_t, key *C.uint8_t, keyLen C.size_t, outLen *C.int64_t) C.int {
	state := lookup(h)
	if state == nil {
		return -1
	}
	var n int64
	err := state.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		n, e = state.zsets.ZCard(context.Background(), tx, int(db), goBytes(key, keyLen), engine.Now())
		return e
	})
	if err != nil {
		return C.int(state.setErr(err))
	}
	*outLen = C.int64_t(n)
	return 0
}
