package resp

import (
	"context"
	"database/sql"

	"github.com/tidwall/redcon"

	"github.com/redlite/redlite/internal/engine"
	redstrings "github.com/redlite/redlite/internal/strings"
)

func registerStringCommands(d map[string]handlerFunc) {
	reg(d, "GET", cmdGet)
	reg(d, "SET", cmdSet)
	reg(d, "GETDEL", cmdGetDel)
	reg(d, "GETSET", cmdGetSet)
	reg(d, "APPEND", cmdAppend)
	reg(d, "STRLEN", cmdStrLen)
	reg(d, "GETRANGE", cmdGetRange)
	reg(d, "SETRANGE", cmdSetRange)
	reg(d, "INCR", cmdIncr)
	reg(d, "DECR", cmdDecr)
	reg(d, "INCRBY", cmdIncrBy)
	reg(d, "DECRBY", cmdDecrBy)
	reg(d, "INCRBYFLOAT", cmdIncrByFloat)
	reg(d, "MGET", cmdMGet)
	reg(d, "MSET", cmdMSet)
	reg(d, "MSETNX", cmdMSetNX)
	reg(d, "SETNX", cmdSetNX)
	reg(d, "SETEX", cmdSetEX)
	reg(d, "PSETEX", cmdPSetEX)
}

func cmdGet(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 2 {
		wrongArgs(conn, "get")
		return
	}
	var v []byte
	var ok bool
	err := s.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		v, ok, e = s.strings.Get(context.Background(), tx, sess.DB, cmd.Args[1], engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeBulkOrNull(conn, v, ok)
}

func cmdSet(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) < 3 {
		wrongArgs(conn, "set")
		return
	}
	var opts redstrings.SetOptions
	for i := 3; i < len(cmd.Args); i++ {
		switch toUpperASCII(argStr(cmd, i)) {
		case "NX":
			opts.NX = true
		case "XX":
			opts.XX = true
		case "KEEPTTL":
			opts.KeepTTL = true
		case "EX":
			if i+1 >= len(cmd.Args) {
				conn.WriteError("ERR syntax error")
				return
			}
			secs, err := parseInt64(argStr(cmd, i+1))
			if err != nil {
				writeErr(conn, err)
				return
			}
			ms := secs * 1000
			opts.TTLMillis = &ms
			i++
		case "PX":
			if i+1 >= len(cmd.Args) {
				conn.WriteError("ERR syntax error")
				return
			}
			ms, err := parseInt64(argStr(cmd, i+1))
			if err != nil {
				writeErr(conn, err)
				return
			}
			opts.TTLMillis = &ms
			i++
		}
	}
	var applied bool
	err := s.core.Do(context.Background(), sess.DB, []string{argStr(cmd, 1)}, func(tx *sql.Tx) error {
		var e error
		applied, e = s.strings.Set(context.Background(), tx, sess.DB, cmd.Args[1], cmd.Args[2], engine.Now(), opts)
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	if !applied {
		conn.WriteNull()
		return
	}
	writeOK(conn)
}

func cmdGetDel(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 2 {
		wrongArgs(conn, "getdel")
		return
	}
	var v []byte
	var ok bool
	err := s.core.Do(context.Background(), sess.DB, []string{argStr(cmd, 1)}, func(tx *sql.Tx) error {
		var e error
		v, ok, e = s.strings.GetDel(context.Background(), tx, sess.DB, cmd.Args[1], engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeBulkOrNull(conn, v, ok)
}

func cmdGetSet(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 3 {
		wrongArgs(conn, "getset")
		return
	}
	var v []byte
	var ok bool
	err := s.core.Do(context.Background(), sess.DB, []string{argStr(cmd, 1)}, func(tx *sql.Tx) error {
		var e error
		v, ok, e = s.strings.GetSet(context.Background(), tx, sess.DB, cmd.Args[1], cmd.Args[2], engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeBulkOrNull(conn, v, ok)
}

func cmdAppend(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 3 {
		wrongArgs(conn, "append")
		return
	}
	var n int64
	err := s.core.Do(context.Background(), sess.DB, []string{argStr(cmd, 1)}, func(tx *sql.Tx) error {
		var e error
		n, e = s.strings.Append(context.Background(), tx, sess.DB, cmd.Args[1], cmd.Args[2], engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	conn.WriteInt64(n)
}

func cmdStrLen(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 2 {
		wrongArgs(conn, "strlen")
		return
	}
	var n int64
	err := s.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		n, e = s.strings.StrLen(context.Background(), tx, sess.DB, cmd.Args[1], engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	conn.WriteInt64(n)
}

func cmdGetRange(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 4 {
		wrongArgs(conn, "getrange")
		return
	}
	start, err := parseInt64(argStr(cmd, 2))
	if err != nil {
		writeErr(conn, err)
		return
	}
	end, err := parseInt64(argStr(cmd, 3))
	if err != nil {
		writeErr(conn, err)
		return
	}
	var v []byte
	err = s.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		v, e = s.strings.GetRange(context.Background(), tx, sess.DB, cmd.Args[1], start, end, engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	conn.WriteBulk(v)
}

func cmdSetRange(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 4 {
		wrongArgs(conn, "setrange")
		return
	}
	offset, err := parseInt64(argStr(cmd, 2))
	if err != nil {
		writeErr(conn, err)
		return
	}
	var n int64
	err = s.core.Do(context.Background(), sess.DB, []string{argStr(cmd, 1)}, func(tx *sql.Tx) error {
		var e error
		n, e = s.strings.SetRange(context.Background(), tx, sess.DB, cmd.Args[1], offset, cmd.Args[3], engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	conn.WriteInt64(n)
}

func cmdIncr(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	incrByHelper(s, sess, conn, cmd, 1)
}

func cmdDecr(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	incrByHelper(s, sess, conn, cmd, -1)
}

func cmdIncrBy(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 3 {
		wrongArgs(conn, "incrby")
		return
	}
	delta, err := parseInt64(argStr(cmd, 2))
	if err != nil {
		writeErr(conn, err)
		return
	}
	incrByHelperN(s, sess, conn, cmd.Args[1], delta)
}

func cmdDecrBy(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 3 {
		wrongArgs(conn, "decrby")
		return
	}
	delta, err := parseInt64(argStr(cmd, 2))
	if err != nil {
		writeErr(conn, err)
		return
	}
	incrByHelperN(s, sess, conn, cmd.Args[1], -delta)
}

func incrByHelper(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command, delta int64) {
	if len(cmd.Args) != 2 {
		wrongArgs(conn, "incr/decr")
		return
	}
	incrByHelperN(s, sess, conn, cmd.Args[1], delta)
}

func incrByHelperN(s *Server, sess *Session, conn redcon.Conn, key []byte, delta int64) {
	var n int64
	err := s.core.Do(context.Background(), sess.DB, []string{string(key)}, func(tx *sql.Tx) error {
		var e error
		n, e = s.strings.Incr(context.Background(), tx, sess.DB, key, delta, engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	conn.WriteInt64(n)
}

func cmdIncrByFloat(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 3 {
		wrongArgs(conn, "incrbyfloat")
		return
	}
	delta, err := parseFloat64(argStr(cmd, 2))
	if err != nil {
		writeErr(conn, err)
		return
	}
	var f float64
	err = s.core.Do(context.Background(), sess.DB, []string{argStr(cmd, 1)}, func(tx *sql.Tx) error {
		var e error
		f, e = s.strings.IncrByFloat(context.Background(), tx, sess.DB, cmd.Args[1], delta, engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeFloat(conn, f)
}

func cmdMGet(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) < 2 {
		wrongArgs(conn, "mget")
		return
	}
	ks := cmd.Args[1:]
	var vs [][]byte
	err := s.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		vs, e = s.strings.MGet(context.Background(), tx, sess.DB, ks, engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	present := make([]bool, len(vs))
	for i, v := range vs {
		present[i] = v != nil
	}
	writeBytesArrayWithNulls(conn, vs, present)
}

func cmdMSet(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) < 3 || len(cmd.Args)%2 != 1 {
		wrongArgs(conn, "mset")
		return
	}
	pairs := map[string][]byte{}
	touched := make([]string, 0, (len(cmd.Args)-1)/2)
	for i := 1; i < len(cmd.Args); i += 2 {
		k := argStr(cmd, i)
		pairs[k] = cmd.Args[i+1]
		touched = append(touched, k)
	}
	err := s.core.Do(context.Background(), sess.DB, touched, func(tx *sql.Tx) error {
		return s.strings.MSet(context.Background(), tx, sess.DB, pairs, engine.Now())
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeOK(conn)
}

func cmdMSetNX(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) < 3 || len(cmd.Args)%2 != 1 {
		wrongArgs(conn, "msetnx")
		return
	}
	pairs := map[string][]byte{}
	touched := make([]string, 0, (len(cmd.Args)-1)/2)
	for i := 1; i < len(cmd.Args); i += 2 {
		k := argStr(cmd, i)
		pairs[k] = cmd.Args[i+1]
		touched = append(touched, k)
	}
	var applied bool
	err := s.core.Do(context.Background(), sess.DB, touched, func(tx *sql.Tx) error {
		var e error
		applied, e = s.strings.MSetNX(context.Background(), tx, sess.DB, pairs, engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeBool01(conn, applied)
}

// cmdSetNX is SET key value NX, reported as an integer per Redis's own
// SETNX reply shape rather than SET's bulk-string-or-null.
func cmdSetNX(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 3 {
		wrongArgs(conn, "setnx")
		return
	}
	var applied bool
	err := s.core.Do(context.Background(), sess.DB, []string{argStr(cmd, 1)}, func(tx *sql.Tx) error {
		var e error
		applied, e = s.strings.Set(context.Background(), tx, sess.DB, cmd.Args[1], cmd.Args[2], engine.Now(), redstrings.SetOptions{NX: true})
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeBool01(conn, applied)
}

func setWithTTL(s *Server, sess *Session, conn redcon.Conn, key, value []byte, ttlMillis int64, name string) {
	if ttlMillis <= 0 {
		conn.WriteError("ERR invalid expire time in '" + name + "' command")
		return
	}
	err := s.core.Do(context.Background(), sess.DB, []string{string(key)}, func(tx *sql.Tx) error {
		_, e := s.strings.Set(context.Background(), tx, sess.DB, key, value, engine.Now(), redstrings.SetOptions{TTLMillis: &ttlMillis})
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeOK(conn)
}

// cmdSetEX is SET key value EX seconds, unconditional (no NX/XX).
func cmdSetEX(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 4 {
		wrongArgs(conn, "setex")
		return
	}
	secs, err := parseInt64(argStr(cmd, 2))
	if err != nil {
		writeErr(conn, err)
		return
	}
	setWithTTL(s, sess, conn, cmd.Args[1], cmd.Args[3], secs*1000, "setex")
}

// cmdPSetEX is SET key value PX milliseconds, unconditional (no NX/XX).
func cmdPSetEX(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 4 {
		wrongArgs(conn, "psetex")
		return
	}
	ms, err := parseInt64(argStr(cmd, 2))
	if err != nil {
		writeErr(conn, err)
		return
	}
	setWithTTL(s, sess, conn, cmd.Args[1], cmd.Args[3], ms, "psetex")
}
