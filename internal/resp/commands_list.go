package resp

import (
	"context"
	"database/sql"

	"github.com/tidwall/redcon"

	"github.com/redlite/redlite/internal/engine"
)

func registerListCommands(d map[string]handlerFunc) {
	reg(d, "LPUSH", cmdLPush)
	reg(d, "RPUSH", cmdRPush)
	reg(d, "LLEN", cmdLLen)
	reg(d, "LPOP", cmdLPop)
	reg(d, "RPOP", cmdRPop)
	reg(d, "LRANGE", cmdLRange)
	reg(d, "LINDEX", cmdLIndex)
	reg(d, "LSET", cmdLSet)
	reg(d, "LTRIM", cmdLTrim)
	reg(d, "LREM", cmdLRem)
	reg(d, "LINSERT", cmdLInsert)
	reg(d, "LMOVE", cmdLMove)
	reg(d, "RPOPLPUSH", cmdRPopLPush)
}

func pushCommon(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command, name string, left bool) {
	if len(cmd.Args) < 3 {
		wrongArgs(conn, name)
		return
	}
	values := cmd.Args[2:]
	var n int64
	err := s.core.Do(context.Background(), sess.DB, []string{argStr(cmd, 1)}, func(tx *sql.Tx) error {
		var e error
		if left {
			n, e = s.lists.LPush(context.Background(), tx, sess.DB, cmd.Args[1], values, engine.Now())
		} else {
			n, e = s.lists.RPush(context.Background(), tx, sess.DB, cmd.Args[1], values, engine.Now())
		}
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	conn.WriteInt64(n)
}

func cmdLPush(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	pushCommon(s, sess, conn, cmd, "lpush", true)
}

func cmdRPush(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	pushCommon(s, sess, conn, cmd, "rpush", false)
}

func cmdLLen(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 2 {
		wrongArgs(conn, "llen")
		return
	}
	var n int64
	err := s.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		n, e = s.lists.LLen(context.Background(), tx, sess.DB, cmd.Args[1], engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	conn.WriteInt64(n)
}

func popCommon(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command, name string, left bool) {
	if len(cmd.Args) < 2 {
		wrongArgs(conn, name)
		return
	}
	count := 1
	hasCount := len(cmd.Args) == 3
	if hasCount {
		count = parseIntDefault(cmd, 2, 1)
	}
	var vs [][]byte
	err := s.core.Do(context.Background(), sess.DB, []string{argStr(cmd, 1)}, func(tx *sql.Tx) error {
		var e error
		if left {
			vs, e = s.lists.LPop(context.Background(), tx, sess.DB, cmd.Args[1], count, engine.Now())
		} else {
			vs, e = s.lists.RPop(context.Background(), tx, sess.DB, cmd.Args[1], count, engine.Now())
		}
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	if !hasCount {
		if len(vs) == 0 {
			conn.WriteNull()
			return
		}
		conn.WriteBulk(vs[0])
		return
	}
	writeBytesArray(conn, vs)
}

func cmdLPop(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	popCommon(s, sess, conn, cmd, "lpop", true)
}

func cmdRPop(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	popCommon(s, sess, conn, cmd, "rpop", false)
}

func cmdLRange(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 4 {
		wrongArgs(conn, "lrange")
		return
	}
	start, err := parseInt64(argStr(cmd, 2))
	if err != nil {
		writeErr(conn, err)
		return
	}
	stop, err := parseInt64(argStr(cmd, 3))
	if err != nil {
		writeErr(conn, err)
		return
	}
	var vs [][]byte
	err = s.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		vs, e = s.lists.LRange(context.Background(), tx, sess.DB, cmd.Args[1], start, stop, engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeBytesArray(conn, vs)
}

func cmdLIndex(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 3 {
		wrongArgs(conn, "lindex")
		return
	}
	idx, err := parseInt64(argStr(cmd, 2))
	if err != nil {
		writeErr(conn, err)
		return
	}
	var v []byte
	var ok bool
	err = s.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		v, ok, e = s.lists.LIndex(context.Background(), tx, sess.DB, cmd.Args[1], idx, engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeBulkOrNull(conn, v, ok)
}

func cmdLSet(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 4 {
		wrongArgs(conn, "lset")
		return
	}
	idx, err := parseInt64(argStr(cmd, 2))
	if err != nil {
		writeErr(conn, err)
		return
	}
	err = s.core.Do(context.Background(), sess.DB, []string{argStr(cmd, 1)}, func(tx *sql.Tx) error {
		return s.lists.LSet(context.Background(), tx, sess.DB, cmd.Args[1], idx, cmd.Args[3], engine.Now())
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeOK(conn)
}

func cmdLTrim(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 4 {
		wrongArgs(conn, "ltrim")
		return
	}
	start, err := parseInt64(argStr(cmd, 2))
	if err != nil {
		writeErr(conn, err)
		return
	}
	stop, err := parseInt64(argStr(cmd, 3))
	if err != nil {
		writeErr(conn, err)
		return
	}
	err = s.core.Do(context.Background(), sess.DB, []string{argStr(cmd, 1)}, func(tx *sql.Tx) error {
		return s.lists.LTrim(context.Background(), tx, sess.DB, cmd.Args[1], start, stop, engine.Now())
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeOK(conn)
}

func cmdLRem(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 4 {
		wrongArgs(conn, "lrem")
		return
	}
	count, err := parseInt64(argStr(cmd, 2))
	if err != nil {
		writeErr(conn, err)
		return
	}
	var n int64
	err = s.core.Do(context.Background(), sess.DB, []string{argStr(cmd, 1)}, func(tx *sql.Tx) error {
		var e error
		n, e = s.lists.LRem(context.Background(), tx, sess.DB, cmd.Args[1], count, cmd.Args[3], engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	conn.WriteInt64(n)
}

func cmdLInsert(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 5 {
		wrongArgs(conn, "linsert")
		return
	}
	var before bool
	switch toUpperASCII(argStr(cmd, 2)) {
	case "BEFORE":
		before = true
	case "AFTER":
		before = false
	default:
		conn.WriteError("ERR syntax error")
		return
	}
	var n int64
	err := s.core.Do(context.Background(), sess.DB, []string{argStr(cmd, 1)}, func(tx *sql.Tx) error {
		var e error
		n, e = s.lists.LInsert(context.Background(), tx, sess.DB, cmd.Args[1], before, cmd.Args[3], cmd.Args[4], engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	conn.WriteInt64(n)
}

func cmdLMove(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 5 {
		wrongArgs(conn, "lmove")
		return
	}
	fromLeft := toUpperASCII(argStr(cmd, 3)) == "LEFT"
	toLeft := toUpperASCII(argStr(cmd, 4)) == "LEFT"
	var v []byte
	var ok bool
	err := s.core.Do(context.Background(), sess.DB, []string{argStr(cmd, 1), argStr(cmd, 2)}, func(tx *sql.Tx) error {
		var e error
		v, ok, e = s.lists.LMove(context.Background(), tx, sess.DB, cmd.Args[1], cmd.Args[2], fromLeft, toLeft, engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeBulkOrNull(conn, v, ok)
}

// cmdRPopLPush is LMOVE src dst RIGHT LEFT under its legacy name (spec.md
// §4.3's "LMOVE / RPOPLPUSH: atomic pop-then-push across two keys").
func cmdRPopLPush(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 3 {
		wrongArgs(conn, "rpoplpush")
		return
	}
	var v []byte
	var ok bool
	err := s.core.Do(context.Background(), sess.DB, []string{argStr(cmd, 1), argStr(cmd, 2)}, func(tx *sql.Tx) error {
		var e error
		v, ok, e = s.lists.LMove(context.Background(), tx, sess.DB, cmd.Args[1], cmd.Args[2], false, true, engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeBulkOrNull(conn, v, ok)
}
