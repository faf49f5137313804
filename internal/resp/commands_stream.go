package resp

import (
	"context"
	"database/sql"

	"github.com/tidwall/redcon"

	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/streams"
)

func registerStreamCommands(d map[string]handlerFunc) {
	reg(d, "XADD", cmdXAdd)
	reg(d, "XLEN", cmdXLen)
	reg(d, "XRANGE", cmdXRange)
	reg(d, "XREVRANGE", cmdXRevRange)
	reg(d, "XDEL", cmdXDel)
	reg(d, "XTRIM", cmdXTrim)
	reg(d, "XGROUP", cmdXGroup)
	reg(d, "XREADGROUP", cmdXReadGroup)
	reg(d, "XACK", cmdXAck)
	reg(d, "XPENDING", cmdXPending)
	reg(d, "XCLAIM", cmdXClaim)
}

func writeEntries(conn redcon.Conn, entries []streams.Entry) {
	conn.WriteArray(len(entries))
	for _, e := range entries {
		conn.WriteArray(2)
		conn.WriteBulkString(e.ID.String())
		conn.WriteArray(len(e.Fields) * 2)
		for _, f := range e.Fields {
			conn.WriteBulkString(f.Name)
			conn.WriteBulk(f.Value)
		}
	}
}

func cmdXAdd(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) < 5 {
		wrongArgs(conn, "xadd")
		return
	}
	i := 2
	var maxlen int64 = -1
	if toUpperASCII(argStr(cmd, i)) == "MAXLEN" {
		i++
		if toUpperASCII(argStr(cmd, i)) == "~" || toUpperASCII(argStr(cmd, i)) == "=" {
			i++
		}
		n, err := parseInt64(argStr(cmd, i))
		if err != nil {
			writeErr(conn, err)
			return
		}
		maxlen = n
		i++
	}
	idArg := argStr(cmd, i)
	i++
	var explicit *streams.ID
	if idArg != "*" {
		id, err := streams.ParseID(idArg)
		if err != nil {
			writeErr(conn, err)
			return
		}
		explicit = &id
	}
	if (len(cmd.Args)-i)%2 != 0 || i == len(cmd.Args) {
		conn.WriteError("ERR wrong number of arguments for 'xadd' command")
		return
	}
	var fields []streams.Field
	for ; i < len(cmd.Args); i += 2 {
		fields = append(fields, streams.Field{Name: argStr(cmd, i), Value: cmd.Args[i+1]})
	}
	var id streams.ID
	err := s.core.Do(context.Background(), sess.DB, []string{argStr(cmd, 1)}, func(tx *sql.Tx) error {
		var e error
		id, e = s.streams.XAdd(context.Background(), tx, sess.DB, cmd.Args[1], explicit, fields, maxlen, engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	conn.WriteBulkString(id.String())
}

func cmdXLen(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 2 {
		wrongArgs(conn, "xlen")
		return
	}
	var n int64
	err := s.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		n, e = s.streams.XLen(context.Background(), tx, sess.DB, cmd.Args[1], engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	conn.WriteInt64(n)
}

func parseRangeID(s string, isStart bool) (streams.ID, error) {
	switch s {
	case "-":
		return streams.ID{MS: 0, Seq: 0}, nil
	case "+":
		return streams.ID{MS: 1<<63 - 1, Seq: 1<<63 - 1}, nil
	}
	return streams.ParseID(s)
}

func rangeStreamCommon(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command, name string, rev bool) {
	if len(cmd.Args) < 4 {
		wrongArgs(conn, name)
		return
	}
	startArg, endArg := argStr(cmd, 2), argStr(cmd, 3)
	if rev {
		startArg, endArg = endArg, startArg
	}
	start, err := parseRangeID(startArg, true)
	if err != nil {
		writeErr(conn, err)
		return
	}
	end, err := parseRangeID(endArg, false)
	if err != nil {
		writeErr(conn, err)
		return
	}
	count := int64(-1)
	if len(cmd.Args) >= 6 && toUpperASCII(argStr(cmd, 4)) == "COUNT" {
		count, _ = parseInt64(argStr(cmd, 5))
	}
	var entries []streams.Entry
	err = s.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		if rev {
			entries, e = s.streams.XRevRange(context.Background(), tx, sess.DB, cmd.Args[1], end, start, count, engine.Now())
		} else {
			entries, e = s.streams.XRange(context.Background(), tx, sess.DB, cmd.Args[1], start, end, count, engine.Now())
		}
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeEntries(conn, entries)
}

func cmdXRange(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	rangeStreamCommon(s, sess, conn, cmd, "xrange", false)
}

func cmdXRevRange(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	rangeStreamCommon(s, sess, conn, cmd, "xrevrange", true)
}

func cmdXDel(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) < 3 {
		wrongArgs(conn, "xdel")
		return
	}
	ids := make([]streams.ID, 0, len(cmd.Args)-2)
	for i := 2; i < len(cmd.Args); i++ {
		id, err := streams.ParseID(argStr(cmd, i))
		if err != nil {
			writeErr(conn, err)
			return
		}
		ids = append(ids, id)
	}
	var n int64
	err := s.core.Do(context.Background(), sess.DB, []string{argStr(cmd, 1)}, func(tx *sql.Tx) error {
		var e error
		n, e = s.streams.XDel(context.Background(), tx, sess.DB, cmd.Args[1], ids, engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	conn.WriteInt64(n)
}

func cmdXTrim(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) < 4 {
		wrongArgs(conn, "xtrim")
		return
	}
	strategy := toUpperASCII(argStr(cmd, 2))
	i := 3
	if toUpperASCII(argStr(cmd, i)) == "~" || toUpperASCII(argStr(cmd, i)) == "=" {
		i++
	}
	var n int64
	var err error
	switch strategy {
	case "MAXLEN":
		maxlen, perr := parseInt64(argStr(cmd, i))
		if perr != nil {
			writeErr(conn, perr)
			return
		}
		err = s.core.Do(context.Background(), sess.DB, []string{argStr(cmd, 1)}, func(tx *sql.Tx) error {
			var e error
			n, e = s.streams.XTrimMaxLen(context.Background(), tx, sess.DB, cmd.Args[1], maxlen, engine.Now())
			return e
		})
	case "MINID":
		minID, perr := streams.ParseID(argStr(cmd, i))
		if perr != nil {
			writeErr(conn, perr)
			return
		}
		err = s.core.Do(context.Background(), sess.DB, []string{argStr(cmd, 1)}, func(tx *sql.Tx) error {
			var e error
			n, e = s.streams.XTrimMinID(context.Background(), tx, sess.DB, cmd.Args[1], minID, engine.Now())
			return e
		})
	default:
		conn.WriteError("ERR syntax error")
		return
	}
	if err != nil {
		writeErr(conn, err)
		return
	}
	conn.WriteInt64(n)
}

func cmdXGroup(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) < 2 {
		wrongArgs(conn, "xgroup")
		return
	}
	switch toUpperASCII(argStr(cmd, 1)) {
	case "CREATE":
		if len(cmd.Args) < 5 {
			wrongArgs(conn, "xgroup create")
			return
		}
		start, err := parseRangeID(argStr(cmd, 4), true)
		if err != nil {
			writeErr(conn, err)
			return
		}
		err = s.core.Do(context.Background(), sess.DB, []string{argStr(cmd, 2)}, func(tx *sql.Tx) error {
			return s.streams.XGroupCreate(context.Background(), tx, sess.DB, cmd.Args[2], argStr(cmd, 3), start, engine.Now())
		})
		if err != nil {
			writeErr(conn, err)
			return
		}
		writeOK(conn)
	case "DESTROY":
		if len(cmd.Args) != 4 {
			wrongArgs(conn, "xgroup destroy")
			return
		}
		err := s.core.Do(context.Background(), sess.DB, []string{argStr(cmd, 2)}, func(tx *sql.Tx) error {
			return s.streams.XGroupDestroy(context.Background(), tx, sess.DB, cmd.Args[2], argStr(cmd, 3), engine.Now())
		})
		if err != nil {
			writeErr(conn, err)
			return
		}
		writeOK(conn)
	default:
		conn.WriteError("ERR unknown XGROUP subcommand")
	}
}

func cmdXReadGroup(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	var group, consumer string
	var key string
	count := int64(-1)
	for i := 1; i < len(cmd.Args); i++ {
		switch toUpperASCII(argStr(cmd, i)) {
		case "GROUP":
			if i+2 < len(cmd.Args) {
				group, consumer = argStr(cmd, i+1), argStr(cmd, i+2)
				i += 2
			}
		case "COUNT":
			if i+1 < len(cmd.Args) {
				count, _ = parseInt64(argStr(cmd, i+1))
				i++
			}
		case "STREAMS":
			if i+2 < len(cmd.Args) {
				key = argStr(cmd, i+1)
			}
			i = len(cmd.Args)
		}
	}
	if group == "" || key == "" {
		conn.WriteError("ERR syntax error")
		return
	}
	var entries []streams.Entry
	err := s.core.Do(context.Background(), sess.DB, []string{key}, func(tx *sql.Tx) error {
		var e error
		entries, e = s.streams.XReadGroup(context.Background(), tx, sess.DB, []byte(key), group, consumer, count, engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	conn.WriteArray(1)
	conn.WriteArray(2)
	conn.WriteBulkString(key)
	writeEntries(conn, entries)
}

func cmdXAck(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) < 4 {
		wrongArgs(conn, "xack")
		return
	}
	ids := make([]streams.ID, 0, len(cmd.Args)-3)
	for i := 3; i < len(cmd.Args); i++ {
		id, err := streams.ParseID(argStr(cmd, i))
		if err != nil {
			writeErr(conn, err)
			return
		}
		ids = append(ids, id)
	}
	var n int64
	err := s.core.Do(context.Background(), sess.DB, []string{argStr(cmd, 1)}, func(tx *sql.Tx) error {
		var e error
		n, e = s.streams.XAck(context.Background(), tx, sess.DB, cmd.Args[1], argStr(cmd, 2), ids, engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	conn.WriteInt64(n)
}

func cmdXPending(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 3 {
		wrongArgs(conn, "xpending")
		return
	}
	var pending []streams.PendingEntry
	err := s.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		pending, e = s.streams.XPending(context.Background(), tx, sess.DB, cmd.Args[1], argStr(cmd, 2), engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	conn.WriteArray(len(pending))
	for _, p := range pending {
		conn.WriteArray(4)
		conn.WriteBulkString(p.ID.String())
		conn.WriteBulkString(p.Consumer)
		conn.WriteInt64(p.IdleMS)
		conn.WriteInt64(p.DeliveryCount)
	}
}

func cmdXClaim(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) < 6 {
		wrongArgs(conn, "xclaim")
		return
	}
	minIdle, err := parseInt64(argStr(cmd, 4))
	if err != nil {
		writeErr(conn, err)
		return
	}
	ids := make([]streams.ID, 0, len(cmd.Args)-5)
	for i := 5; i < len(cmd.Args); i++ {
		id, perr := streams.ParseID(argStr(cmd, i))
		if perr != nil {
			writeErr(conn, perr)
			return
		}
		ids = append(ids, id)
	}
	var entries []streams.Entry
	err = s.core.Do(context.Background(), sess.DB, []string{argStr(cmd, 1)}, func(tx *sql.Tx) error {
		var e error
		entries, e = s.streams.XClaim(context.Background(), tx, sess.DB, cmd.Args[1], argStr(cmd, 2), argStr(cmd, 3), minIdle, ids, engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeEntries(conn, entries)
}
