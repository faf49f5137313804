package resp

import (
	"context"
	"database/sql"

	"github.com/tidwall/redcon"

	"github.com/redlite/redlite/internal/engine"
)

func registerHashCommands(d map[string]handlerFunc) {
	reg(d, "HSET", cmdHSet)
	reg(d, "HMSET", cmdHMSet)
	reg(d, "HGET", cmdHGet)
	reg(d, "HGETALL", cmdHGetAll)
	reg(d, "HDEL", cmdHDel)
	reg(d, "HLEN", cmdHLen)
	reg(d, "HEXISTS", cmdHExists)
	reg(d, "HINCRBY", cmdHIncrBy)
	reg(d, "HINCRBYFLOAT", cmdHIncrByFloat)
	reg(d, "HSCAN", cmdHScan)
}

func hsetCommon(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command, name string) {
	if len(cmd.Args) < 4 || len(cmd.Args)%2 != 0 {
		wrongArgs(conn, name)
		return
	}
	fields := map[string][]byte{}
	for i := 2; i < len(cmd.Args); i += 2 {
		fields[argStr(cmd, i)] = cmd.Args[i+1]
	}
	var n int64
	err := s.core.Do(context.Background(), sess.DB, []string{argStr(cmd, 1)}, func(tx *sql.Tx) error {
		var e error
		n, e = s.hashes.HSet(context.Background(), tx, sess.DB, cmd.Args[1], fields, engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	if name == "hmset" {
		writeOK(conn)
		return
	}
	conn.WriteInt64(n)
}

func cmdHSet(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	hsetCommon(s, sess, conn, cmd, "hset")
}

func cmdHMSet(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	hsetCommon(s, sess, conn, cmd, "hmset")
}

func cmdHGet(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 3 {
		wrongArgs(conn, "hget")
		return
	}
	var v []byte
	var ok bool
	err := s.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		v, ok, e = s.hashes.HGet(context.Background(), tx, sess.DB, cmd.Args[1], argStr(cmd, 2), engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeBulkOrNull(conn, v, ok)
}

func cmdHGetAll(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 2 {
		wrongArgs(conn, "hgetall")
		return
	}
	var m map[string][]byte
	err := s.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		m, e = s.hashes.HGetAll(context.Background(), tx, sess.DB, cmd.Args[1], engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeStringMap(conn, m)
}

func cmdHDel(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) < 3 {
		wrongArgs(conn, "hdel")
		return
	}
	fields := make([]string, 0, len(cmd.Args)-2)
	for i := 2; i < len(cmd.Args); i++ {
		fields = append(fields, argStr(cmd, i))
	}
	var n int64
	err := s.core.Do(context.Background(), sess.DB, []string{argStr(cmd, 1)}, func(tx *sql.Tx) error {
		var e error
		n, e = s.hashes.HDel(context.Background(), tx, sess.DB, cmd.Args[1], fields, engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	conn.WriteInt64(n)
}

func cmdHLen(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 2 {
		wrongArgs(conn, "hlen")
		return
	}
	var n int64
	err := s.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		n, e = s.hashes.HLen(context.Background(), tx, sess.DB, cmd.Args[1], engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	conn.WriteInt64(n)
}

func cmdHExists(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 3 {
		wrongArgs(conn, "hexists")
		return
	}
	var ok bool
	err := s.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		ok, e = s.hashes.HExists(context.Background(), tx, sess.DB, cmd.Args[1], argStr(cmd, 2), engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeBool01(conn, ok)
}

func cmdHIncrBy(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 4 {
		wrongArgs(conn, "hincrby")
		return
	}
	delta, err := parseInt64(argStr(cmd, 3))
	if err != nil {
		writeErr(conn, err)
		return
	}
	var n int64
	err = s.core.Do(context.Background(), sess.DB, []string{argStr(cmd, 1)}, func(tx *sql.Tx) error {
		var e error
		n, e = s.hashes.HIncrBy(context.Background(), tx, sess.DB, cmd.Args[1], argStr(cmd, 2), delta, engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	conn.WriteInt64(n)
}

func cmdHIncrByFloat(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 4 {
		wrongArgs(conn, "hincrbyfloat")
		return
	}
	delta, err := parseFloat64(argStr(cmd, 3))
	if err != nil {
		writeErr(conn, err)
		return
	}
	var f float64
	err = s.core.Do(context.Background(), sess.DB, []string{argStr(cmd, 1)}, func(tx *sql.Tx) error {
		var e error
		f, e = s.hashes.HIncrByFloat(context.Background(), tx, sess.DB, cmd.Args[1], argStr(cmd, 2), delta, engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeFloat(conn, f)
}

// cmdHScan wires hashes.Ops.HScan to the wire (spec.md §4.6 "HSCAN returns
// batches with an opaque cursor"). MATCH is accepted for wire compatibility
// but not applied server-side, since the cursor contract scans by field
// order, not by pattern.
func cmdHScan(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) < 3 {
		wrongArgs(conn, "hscan")
		return
	}
	cursor := argStr(cmd, 2)
	if cursor == "0" {
		cursor = ""
	}
	count := 10
	for i := 3; i < len(cmd.Args); i += 2 {
		if toUpperASCII(argStr(cmd, i)) == "COUNT" {
			count = parseIntDefault(cmd, i+1, count)
		}
	}
	var next string
	var fields []string
	var values [][]byte
	err := s.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		next, fields, values, e = s.hashes.HScan(context.Background(), tx, sess.DB, cmd.Args[1], cursor, count, engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	conn.WriteArray(2)
	if next == "" {
		conn.WriteBulkString("0")
	} else {
		conn.WriteBulkString(next)
	}
	conn.WriteArray(len(fields) * 2)
	for i, f := range fields {
		conn.WriteBulkString(f)
		conn.WriteBulk(values[i])
	}
}
