package resp

import (
	"context"
	"database/sql"

	"github.com/tidwall/redcon"

	"github.com/redlite/redlite/internal/engine"
)

func registerSetCommands(d map[string]handlerFunc) {
	reg(d, "SADD", cmdSAdd)
	reg(d, "SREM", cmdSRem)
	reg(d, "SCARD", cmdSCard)
	reg(d, "SISMEMBER", cmdSIsMember)
	reg(d, "SMISMEMBER", cmdSMIsMember)
	reg(d, "SMEMBERS", cmdSMembers)
	reg(d, "SPOP", cmdSPop)
	reg(d, "SRANDMEMBER", cmdSRandMember)
	reg(d, "SDIFF", cmdSDiff)
	reg(d, "SINTER", cmdSInter)
	reg(d, "SUNION", cmdSUnion)
	reg(d, "SDIFFSTORE", cmdSDiffStore)
	reg(d, "SINTERSTORE", cmdSInterStore)
	reg(d, "SUNIONSTORE", cmdSUnionStore)
}

func cmdSAdd(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) < 3 {
		wrongArgs(conn, "sadd")
		return
	}
	var n int64
	err := s.core.Do(context.Background(), sess.DB, []string{argStr(cmd, 1)}, func(tx *sql.Tx) error {
		var e error
		n, e = s.sets.SAdd(context.Background(), tx, sess.DB, cmd.Args[1], cmd.Args[2:], engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	conn.WriteInt64(n)
}

func cmdSRem(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) < 3 {
		wrongArgs(conn, "srem")
		return
	}
	var n int64
	err := s.core.Do(context.Background(), sess.DB, []string{argStr(cmd, 1)}, func(tx *sql.Tx) error {
		var e error
		n, e = s.sets.SRem(context.Background(), tx, sess.DB, cmd.Args[1], cmd.Args[2:], engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	conn.WriteInt64(n)
}

func cmdSCard(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 2 {
		wrongArgs(conn, "scard")
		return
	}
	var n int64
	err := s.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		n, e = s.sets.SCard(context.Background(), tx, sess.DB, cmd.Args[1], engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	conn.WriteInt64(n)
}

func cmdSIsMember(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 3 {
		wrongArgs(conn, "sismember")
		return
	}
	var ok bool
	err := s.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		ok, e = s.sets.SIsMember(context.Background(), tx, sess.DB, cmd.Args[1], cmd.Args[2], engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeBool01(conn, ok)
}

func cmdSMIsMember(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) < 3 {
		wrongArgs(conn, "smismember")
		return
	}
	var res []bool
	err := s.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		res, e = s.sets.SMIsMember(context.Background(), tx, sess.DB, cmd.Args[1], cmd.Args[2:], engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	conn.WriteArray(len(res))
	for _, b := range res {
		writeBool01(conn, b)
	}
}

func cmdSMembers(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 2 {
		wrongArgs(conn, "smembers")
		return
	}
	var vs [][]byte
	err := s.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		vs, e = s.sets.SMembers(context.Background(), tx, sess.DB, cmd.Args[1], engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeBytesArray(conn, vs)
}

func cmdSPop(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) < 2 {
		wrongArgs(conn, "spop")
		return
	}
	count := 1
	hasCount := len(cmd.Args) == 3
	if hasCount {
		count = parseIntDefault(cmd, 2, 1)
		if count < 0 {
			conn.WriteError("ERR value is out of range, must be positive")
			return
		}
	}
	var vs [][]byte
	err := s.core.Do(context.Background(), sess.DB, []string{argStr(cmd, 1)}, func(tx *sql.Tx) error {
		var e error
		vs, e = s.sets.SPop(context.Background(), tx, sess.DB, cmd.Args[1], count, engine.Now())
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

func cmdSRandMember(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) < 2 {
		wrongArgs(conn, "srandmember")
		return
	}
	count := 1
	hasCount := len(cmd.Args) == 3
	if hasCount {
		count = parseIntDefault(cmd, 2, 1)
	}
	var vs [][]byte
	err := s.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		vs, e = s.sets.SRandMember(context.Background(), tx, sess.DB, cmd.Args[1], count, engine.Now())
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

func cmdSDiff(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) < 2 {
		wrongArgs(conn, "sdiff")
		return
	}
	var vs [][]byte
	err := s.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		vs, e = s.sets.SDiff(context.Background(), tx, sess.DB, cmd.Args[1:], engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeBytesArray(conn, vs)
}

func cmdSInter(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) < 2 {
		wrongArgs(conn, "sinter")
		return
	}
	var vs [][]byte
	err := s.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		vs, e = s.sets.SInter(context.Background(), tx, sess.DB, cmd.Args[1:], engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeBytesArray(conn, vs)
}

func cmdSUnion(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) < 2 {
		wrongArgs(conn, "sunion")
		return
	}
	var vs [][]byte
	err := s.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		vs, e = s.sets.SUnion(context.Background(), tx, sess.DB, cmd.Args[1:], engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeBytesArray(conn, vs)
}

func cmdSDiffStore(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) < 3 {
		wrongArgs(conn, "sdiffstore")
		return
	}
	var n int64
	err := s.core.Do(context.Background(), sess.DB, []string{argStr(cmd, 1)}, func(tx *sql.Tx) error {
		var e error
		n, e = s.sets.SDiffStore(context.Background(), tx, sess.DB, cmd.Args[1], cmd.Args[2:], engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	conn.WriteInt64(n)
}

func cmdSInterStore(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) < 3 {
		wrongArgs(conn, "sinterstore")
		return
	}
	var n int64
	err := s.core.Do(context.Background(), sess.DB, []string{argStr(cmd, 1)}, func(tx *sql.Tx) error {
		var e error
		n, e = s.sets.SInterStore(context.Background(), tx, sess.DB, cmd.Args[1], cmd.Args[2:], engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	conn.WriteInt64(n)
}

func cmdSUnionStore(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) < 3 {
		wrongArgs(conn, "sunionstore")
		return
	}
	var n int64
	err := s.core.Do(context.Background(), sess.DB, []string{argStr(cmd, 1)}, func(tx *sql.Tx) error {
		var e error
		n, e = s.sets.SUnionStore(context.Background(), tx, sess.DB, cmd.Args[1], cmd.Args[2:], engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	conn.WriteInt64(n)
}
