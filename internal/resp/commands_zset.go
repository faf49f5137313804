package resp

import (
	"context"
	"database/sql"

	"github.com/tidwall/redcon"

	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/zsets"
)

func registerZSetCommands(d map[string]handlerFunc) {
	reg(d, "ZADD", cmdZAdd)
	reg(d, "ZINCRBY", cmdZIncrBy)
	reg(d, "ZSCORE", cmdZScore)
	reg(d, "ZMSCORE", cmdZMScore)
	reg(d, "ZCARD", cmdZCard)
	reg(d, "ZREM", cmdZRem)
	reg(d, "ZRANK", cmdZRank)
	reg(d, "ZREVRANK", cmdZRevRank)
	reg(d, "ZRANGE", cmdZRange)
	reg(d, "ZREVRANGE", cmdZRevRange)
	reg(d, "ZCOUNT", cmdZCount)
	reg(d, "ZRANGEBYSCORE", cmdZRangeByScore)
	reg(d, "ZRANGEBYLEX", cmdZRangeByLex)
	reg(d, "ZREMRANGEBYRANK", cmdZRemRangeByRank)
	reg(d, "ZREMRANGEBYSCORE", cmdZRemRangeByScore)
	reg(d, "ZUNIONSTORE", cmdZUnionStore)
	reg(d, "ZINTERSTORE", cmdZInterStore)
	reg(d, "ZDIFFSTORE", cmdZDiffStore)
}

func cmdZAdd(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) < 4 {
		wrongArgs(conn, "zadd")
		return
	}
	i := 2
	var opts zsets.AddOptions
loop:
	for i < len(cmd.Args) {
		switch toUpperASCII(argStr(cmd, i)) {
		case "NX":
			opts.NX = true
		case "XX":
			opts.XX = true
		case "GT":
			opts.GT = true
		case "LT":
			opts.LT = true
		case "CH":
			opts.CH = true
		case "INCR":
			opts.Incr = true
		default:
			break loop
		}
		i++
	}
	if (len(cmd.Args)-i)%2 != 0 || i == len(cmd.Args) {
		conn.WriteError("ERR syntax error")
		return
	}
	var members []zsets.Member
	for ; i < len(cmd.Args); i += 2 {
		score, err := parseFloat64(argStr(cmd, i))
		if err != nil {
			writeErr(conn, err)
			return
		}
		members = append(members, zsets.Member{Score: score, Member: cmd.Args[i+1]})
	}
	if opts.Incr {
		// spec.md §4.4: "ZADD INCR is equivalent to ZINCRBY except returns
		// the new score (or nil when NX/XX conditions forbid the write)" —
		// and, like Redis, only a single score/member pair is legal with INCR.
		if len(members) != 1 {
			conn.WriteError("ERR INCR option supports a single increment-element pair")
			return
		}
		var newScore *float64
		err := s.core.Do(context.Background(), sess.DB, []string{argStr(cmd, 1)}, func(tx *sql.Tx) error {
			var e error
			newScore, e = s.zsets.ZAddIncr(context.Background(), tx, sess.DB, cmd.Args[1], members[0].Member, members[0].Score, opts, engine.Now())
			return e
		})
		if err != nil {
			writeErr(conn, err)
			return
		}
		writeFloatPtr(conn, newScore)
		return
	}
	var n int64
	err := s.core.Do(context.Background(), sess.DB, []string{argStr(cmd, 1)}, func(tx *sql.Tx) error {
		var e error
		n, e = s.zsets.ZAdd(context.Background(), tx, sess.DB, cmd.Args[1], members, opts, engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	conn.WriteInt64(n)
}

func cmdZIncrBy(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 4 {
		wrongArgs(conn, "zincrby")
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
		f, e = s.zsets.ZIncrBy(context.Background(), tx, sess.DB, cmd.Args[1], cmd.Args[3], delta, engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeFloat(conn, f)
}

func cmdZScore(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 3 {
		wrongArgs(conn, "zscore")
		return
	}
	var f float64
	var ok bool
	err := s.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		f, ok, e = s.zsets.ZScore(context.Background(), tx, sess.DB, cmd.Args[1], cmd.Args[2], engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	if !ok {
		conn.WriteNull()
		return
	}
	writeFloat(conn, f)
}

func cmdZMScore(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) < 3 {
		wrongArgs(conn, "zmscore")
		return
	}
	var fs []*float64
	err := s.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		fs, e = s.zsets.ZMScore(context.Background(), tx, sess.DB, cmd.Args[1], cmd.Args[2:], engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	conn.WriteArray(len(fs))
	for _, f := range fs {
		writeFloatPtr(conn, f)
	}
}

func cmdZCard(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 2 {
		wrongArgs(conn, "zcard")
		return
	}
	var n int64
	err := s.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		n, e = s.zsets.ZCard(context.Background(), tx, sess.DB, cmd.Args[1], engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	conn.WriteInt64(n)
}

func cmdZRem(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) < 3 {
		wrongArgs(conn, "zrem")
		return
	}
	var n int64
	err := s.core.Do(context.Background(), sess.DB, []string{argStr(cmd, 1)}, func(tx *sql.Tx) error {
		var e error
		n, e = s.zsets.ZRem(context.Background(), tx, sess.DB, cmd.Args[1], cmd.Args[2:], engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	conn.WriteInt64(n)
}

func rankCommon(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command, name string, rev bool) {
	if len(cmd.Args) != 3 {
		wrongArgs(conn, name)
		return
	}
	var rank int64
	var ok bool
	err := s.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		if rev {
			rank, ok, e = s.zsets.ZRevRank(context.Background(), tx, sess.DB, cmd.Args[1], cmd.Args[2], engine.Now())
		} else {
			rank, ok, e = s.zsets.ZRank(context.Background(), tx, sess.DB, cmd.Args[1], cmd.Args[2], engine.Now())
		}
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	if !ok {
		conn.WriteNull()
		return
	}
	conn.WriteInt64(rank)
}

func cmdZRank(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	rankCommon(s, sess, conn, cmd, "zrank", false)
}

func cmdZRevRank(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	rankCommon(s, sess, conn, cmd, "zrevrank", true)
}

func writeMembersMaybeScores(conn redcon.Conn, ms []zsets.Member, withScores bool) {
	if !withScores {
		conn.WriteArray(len(ms))
		for _, m := range ms {
			conn.WriteBulk(m.Member)
		}
		return
	}
	conn.WriteArray(len(ms) * 2)
	for _, m := range ms {
		conn.WriteBulk(m.Member)
		writeFloat(conn, m.Score)
	}
}

func rangeCommon(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command, name string, rev bool) {
	if len(cmd.Args) < 4 {
		wrongArgs(conn, name)
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
	withScores := len(cmd.Args) > 4 && toUpperASCII(argStr(cmd, 4)) == "WITHSCORES"
	var ms []zsets.Member
	err = s.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		ms, e = s.zsets.ZRange(context.Background(), tx, sess.DB, cmd.Args[1], start, stop, rev, engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeMembersMaybeScores(conn, ms, withScores)
}

func cmdZRange(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	rangeCommon(s, sess, conn, cmd, "zrange", false)
}

func cmdZRevRange(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	rangeCommon(s, sess, conn, cmd, "zrevrange", true)
}

func cmdZCount(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 4 {
		wrongArgs(conn, "zcount")
		return
	}
	min, err := zsets.ParseScoreBound(argStr(cmd, 2))
	if err != nil {
		writeErr(conn, err)
		return
	}
	max, err := zsets.ParseScoreBound(argStr(cmd, 3))
	if err != nil {
		writeErr(conn, err)
		return
	}
	var n int64
	err = s.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		n, e = s.zsets.ZCount(context.Background(), tx, sess.DB, cmd.Args[1], min, max, engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	conn.WriteInt64(n)
}

func cmdZRangeByScore(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) < 4 {
		wrongArgs(conn, "zrangebyscore")
		return
	}
	min, err := zsets.ParseScoreBound(argStr(cmd, 2))
	if err != nil {
		writeErr(conn, err)
		return
	}
	max, err := zsets.ParseScoreBound(argStr(cmd, 3))
	if err != nil {
		writeErr(conn, err)
		return
	}
	withScores := false
	var offset, count int64 = 0, -1
	for i := 4; i < len(cmd.Args); i++ {
		switch toUpperASCII(argStr(cmd, i)) {
		case "WITHSCORES":
			withScores = true
		case "LIMIT":
			if i+2 < len(cmd.Args) {
				offset, _ = parseInt64(argStr(cmd, i+1))
				count, _ = parseInt64(argStr(cmd, i+2))
				i += 2
			}
		}
	}
	var ms []zsets.Member
	err = s.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		ms, e = s.zsets.ZRangeByScore(context.Background(), tx, sess.DB, cmd.Args[1], min, max, offset, count, engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeMembersMaybeScores(conn, ms, withScores)
}

func cmdZRangeByLex(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 4 {
		wrongArgs(conn, "zrangebylex")
		return
	}
	min, err := zsets.ParseLexBound(argStr(cmd, 2))
	if err != nil {
		writeErr(conn, err)
		return
	}
	max, err := zsets.ParseLexBound(argStr(cmd, 3))
	if err != nil {
		writeErr(conn, err)
		return
	}
	var vs [][]byte
	err = s.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		vs, e = s.zsets.ZRangeByLex(context.Background(), tx, sess.DB, cmd.Args[1], min, max, engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeBytesArray(conn, vs)
}

func cmdZRemRangeByRank(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 4 {
		wrongArgs(conn, "zremrangebyrank")
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
	var n int64
	err = s.core.Do(context.Background(), sess.DB, []string{argStr(cmd, 1)}, func(tx *sql.Tx) error {
		var e error
		n, e = s.zsets.ZRemRangeByRank(context.Background(), tx, sess.DB, cmd.Args[1], start, stop, engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	conn.WriteInt64(n)
}

func cmdZRemRangeByScore(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 4 {
		wrongArgs(conn, "zremrangebyscore")
		return
	}
	min, err := zsets.ParseScoreBound(argStr(cmd, 2))
	if err != nil {
		writeErr(conn, err)
		return
	}
	max, err := zsets.ParseScoreBound(argStr(cmd, 3))
	if err != nil {
		writeErr(conn, err)
		return
	}
	var n int64
	err = s.core.Do(context.Background(), sess.DB, []string{argStr(cmd, 1)}, func(tx *sql.Tx) error {
		var e error
		n, e = s.zsets.ZRemRangeByScore(context.Background(), tx, sess.DB, cmd.Args[1], min, max, engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	conn.WriteInt64(n)
}

func zStoreCommon(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command, name string, diff bool) {
	if len(cmd.Args) < 4 {
		wrongArgs(conn, name)
		return
	}
	numKeys, err := parseInt64(argStr(cmd, 2))
	if err != nil || numKeys < 1 || int(numKeys) > len(cmd.Args)-3 {
		conn.WriteError("ERR syntax error")
		return
	}
	ks := cmd.Args[3 : 3+numKeys]
	i := 3 + int(numKeys)
	weights := make([]float64, len(ks))
	for j := range weights {
		weights[j] = 1
	}
	agg := zsets.AggregateSum
	touched := []string{argStr(cmd, 1)}
	for _, k := range ks {
		touched = append(touched, string(k))
	}
	for i < len(cmd.Args) {
		switch toUpperASCII(argStr(cmd, i)) {
		case "WEIGHTS":
			for j := 0; j < len(ks) && i+1+j < len(cmd.Args); j++ {
				w, werr := parseFloat64(argStr(cmd, i+1+j))
				if werr == nil {
					weights[j] = w
				}
			}
			i += len(ks) + 1
		case "AGGREGATE":
			if i+1 < len(cmd.Args) {
				switch toUpperASCII(argStr(cmd, i+1)) {
				case "MIN":
					agg = zsets.AggregateMin
				case "MAX":
					agg = zsets.AggregateMax
				default:
					agg = zsets.AggregateSum
				}
			}
			i += 2
		default:
			i++
		}
	}
	var n int64
	err = s.core.Do(context.Background(), sess.DB, touched, func(tx *sql.Tx) error {
		var e error
		switch {
		case diff:
			n, e = s.zsets.ZDiffStore(context.Background(), tx, sess.DB, cmd.Args[1], ks, engine.Now())
		case name == "zunionstore":
			n, e = s.zsets.ZUnionStore(context.Background(), tx, sess.DB, cmd.Args[1], ks, weights, agg, engine.Now())
		default:
			n, e = s.zsets.ZInterStore(context.Background(), tx, sess.DB, cmd.Args[1], ks, weights, agg, engine.Now())
		}
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	conn.WriteInt64(n)
}

func cmdZUnionStore(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	zStoreCommon(s, sess, conn, cmd, "zunionstore", false)
}

func cmdZInterStore(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	zStoreCommon(s, sess, conn, cmd, "zinterstore", false)
}

func cmdZDiffStore(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	zStoreCommon(s, sess, conn, cmd, "zdiffstore", true)
}
