package resp

import (
	"context"
	"database/sql"

	"github.com/tidwall/redcon"

	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/fts"
)

// registerSearchCommands wires the full-text index surface (spec.md §4.8),
// named after RediSearch's own FT.* command family.
func registerSearchCommands(d map[string]handlerFunc) {
	reg(d, "FT.CREATE", cmdFTCreate)
	reg(d, "FT.DROPINDEX", cmdFTDropIndex)
	reg(d, "FT.ADD", cmdFTAdd)
	reg(d, "FT.DEL", cmdFTDel)
	reg(d, "FT.SEARCH", cmdFTSearch)
}

// cmdFTCreate implements FT.CREATE name ON HASH PREFIX n p1 p2 ... SCHEMA
// field TEXT|TAG|NUMERIC [field TEXT|TAG|NUMERIC ...].
func cmdFTCreate(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) < 6 {
		wrongArgs(conn, "ft.create")
		return
	}
	def := fts.IndexDef{Name: argStr(cmd, 1), DB: sess.DB, Target: "HASH"}
	i := 2
	for i < len(cmd.Args) {
		switch toUpperASCII(argStr(cmd, i)) {
		case "ON":
			if i+1 < len(cmd.Args) {
				def.Target = toUpperASCII(argStr(cmd, i+1))
				i += 2
			}
		case "PREFIX":
			if i+1 < len(cmd.Args) {
				n, _ := parseInt64(argStr(cmd, i+1))
				i += 2
				for j := int64(0); j < n && i < len(cmd.Args); j++ {
					def.Prefixes = append(def.Prefixes, argStr(cmd, i))
					i++
				}
			}
		case "SCHEMA":
			i++
			for i+1 < len(cmd.Args) {
				name := argStr(cmd, i)
				var kind fts.FieldKind
				switch toUpperASCII(argStr(cmd, i+1)) {
				case "TEXT":
					kind = fts.FieldText
				case "TAG":
					kind = fts.FieldTag
				case "NUMERIC":
					kind = fts.FieldNumeric
				default:
					conn.WriteError("ERR unknown field type")
					return
				}
				def.Fields = append(def.Fields, fts.FieldDef{Name: name, Kind: kind})
				i += 2
			}
		default:
			i++
		}
	}
	err := s.core.Do(context.Background(), sess.DB, nil, func(tx *sql.Tx) error {
		return s.fts.CreateIndex(context.Background(), tx, def)
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeOK(conn)
}

func cmdFTDropIndex(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 2 {
		wrongArgs(conn, "ft.dropindex")
		return
	}
	err := s.core.Do(context.Background(), sess.DB, nil, func(tx *sql.Tx) error {
		return s.fts.DropIndex(context.Background(), tx, argStr(cmd, 1))
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeOK(conn)
}

// cmdFTAdd implements FT.ADD index key field1 value1 field2 value2 ...
func cmdFTAdd(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) < 5 || len(cmd.Args)%2 != 1 {
		wrongArgs(conn, "ft.add")
		return
	}
	fields := map[string]string{}
	for i := 3; i < len(cmd.Args); i += 2 {
		fields[argStr(cmd, i)] = argStr(cmd, i+1)
	}
	key := cmd.Args[2]
	err := s.core.Do(context.Background(), sess.DB, []string{string(key)}, func(tx *sql.Tx) error {
		return s.fts.AddDoc(context.Background(), tx, argStr(cmd, 1), sess.DB, key, fields, engine.Now())
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeOK(conn)
}

func cmdFTDel(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 3 {
		wrongArgs(conn, "ft.del")
		return
	}
	err := s.core.Do(context.Background(), sess.DB, []string{argStr(cmd, 2)}, func(tx *sql.Tx) error {
		return s.fts.RemoveDoc(context.Background(), tx, argStr(cmd, 1), sess.DB, cmd.Args[2])
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeOK(conn)
}

func cmdFTSearch(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) < 3 {
		wrongArgs(conn, "ft.search")
		return
	}
	q, err := fts.ParseQuery(argStr(cmd, 2))
	if err != nil {
		writeErr(conn, err)
		return
	}
	limit := 10
	for i := 3; i < len(cmd.Args); i++ {
		if toUpperASCII(argStr(cmd, i)) == "LIMIT" && i+2 < len(cmd.Args) {
			n, _ := parseInt64(argStr(cmd, i+2))
			limit = int(n)
		}
	}
	var hits []fts.SearchHit
	err = s.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		hits, e = s.fts.Search(context.Background(), tx, argStr(cmd, 1), q, limit)
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	conn.WriteArray(len(hits)*2 + 1)
	conn.WriteInt64(int64(len(hits)))
	for _, h := range hits {
		conn.WriteBulk(h.Key)
		conn.WriteArray(0)
	}
}
