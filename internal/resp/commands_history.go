package resp

import (
	"context"
	"database/sql"

	"github.com/tidwall/redcon"

	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/errs"
	"github.com/redlite/redlite/internal/history"
	"github.com/redlite/redlite/internal/keys"
	redstrings "github.com/redlite/redlite/internal/strings"
)

// registerHistoryCommands wires the versioning surface (spec.md §4.9):
// HISTORY.LIST/HISTORY.GET/HISTORY.REVERT/HISTORY.SETSCOPE.
func registerHistoryCommands(d map[string]handlerFunc) {
	reg(d, "HISTORY.LIST", cmdHistoryList)
	reg(d, "HISTORY.GET", cmdHistoryGet)
	reg(d, "HISTORY.REVERT", cmdHistoryRevert)
	reg(d, "HISTORY.SETSCOPE", cmdHistorySetScope)
}

func lookupRow(s *Server, sess *Session, key []byte) (*keys.Row, error) {
	var row *keys.Row
	err := s.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		row, e = s.core.Keys.Lookup(context.Background(), tx, sess.DB, key, engine.Now())
		return e
	})
	return row, err
}

func cmdHistoryList(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 2 {
		wrongArgs(conn, "history.list")
		return
	}
	row, err := lookupRow(s, sess, cmd.Args[1])
	if err != nil {
		writeErr(conn, err)
		return
	}
	if row == nil {
		conn.WriteArray(0)
		return
	}
	var snaps []history.Snapshot
	err = s.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		snaps, e = s.history.List(context.Background(), tx, row.ID)
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	conn.WriteArray(len(snaps))
	for _, sn := range snaps {
		conn.WriteArray(3)
		conn.WriteInt64(sn.Version)
		conn.WriteBulkString(sn.Op)
		conn.WriteInt64(sn.TS)
	}
}

func cmdHistoryGet(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 3 {
		wrongArgs(conn, "history.get")
		return
	}
	version, err := parseInt64(argStr(cmd, 2))
	if err != nil {
		writeErr(conn, err)
		return
	}
	row, err := lookupRow(s, sess, cmd.Args[1])
	if err != nil {
		writeErr(conn, err)
		return
	}
	if row == nil {
		conn.WriteNull()
		return
	}
	var payload []byte
	var found bool
	err = s.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		found, e = s.history.Get(context.Background(), tx, row.ID, version, &payload)
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeBulkOrNull(conn, payload, found)
}

// cmdHistoryRevert restores a string key to a prior version. Non-string
// types are recorded and listable, but revert-via-RESP is only wired for
// strings; other types are reverted by calling history.Ops.Revert from Go
// with a type-specific applyFn. The C ABI exposes no revert function.
func cmdHistoryRevert(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 3 {
		wrongArgs(conn, "history.revert")
		return
	}
	version, err := parseInt64(argStr(cmd, 2))
	if err != nil {
		writeErr(conn, err)
		return
	}
	key := cmd.Args[1]
	err = s.core.Do(context.Background(), sess.DB, []string{string(key)}, func(tx *sql.Tx) error {
		row, e := s.core.Keys.Lookup(context.Background(), tx, sess.DB, key, engine.Now())
		if e != nil {
			return e
		}
		if row == nil {
			return errs.New(errs.KindNotFound, "no such key")
		}
		if row.Type != keys.TypeString {
			return errs.New(errs.KindSyntax, "HISTORY.REVERT over RESP only supports string keys")
		}
		var payload []byte
		return s.history.Revert(context.Background(), tx, sess.DB, row.ID, string(key), version, &payload, func(restored any) error {
			v := restored.(*[]byte)
			_, e := s.strings.Set(context.Background(), tx, sess.DB, key, *v, engine.Now(), redstrings.SetOptions{KeepTTL: true})
			return e
		}, engine.Now())
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeOK(conn)
}

func cmdHistorySetScope(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 4 {
		wrongArgs(conn, "history.setscope")
		return
	}
	scopeType := history.ScopeType(argStr(cmd, 1))
	scopeValue := argStr(cmd, 2)
	retention, err := parseRetentionArg(argStr(cmd, 3))
	if err != nil {
		writeErr(conn, err)
		return
	}
	err = s.core.Do(context.Background(), sess.DB, nil, func(tx *sql.Tx) error {
		return history.SetScope(context.Background(), tx, scopeType, scopeValue, retention)
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeOK(conn)
}

func parseRetentionArg(s string) (history.Retention, error) {
	if s == "unlimited" {
		return history.Retention{Unlimited: true}, nil
	}
	n, err := parseInt64(s)
	if err != nil {
		return history.Retention{}, err
	}
	return history.Retention{MaxVersions: n}, nil
}
