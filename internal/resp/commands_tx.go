package resp

import (
	"context"

	"github.com/tidwall/redcon"
)

// registerTxCommands wires MULTI/EXEC/DISCARD/WATCH/UNWATCH (spec.md §4.9).
func registerTxCommands(d map[string]handlerFunc) {
	reg(d, "MULTI", cmdMulti)
	reg(d, "EXEC", cmdExec)
	reg(d, "DISCARD", cmdDiscard)
	reg(d, "WATCH", cmdWatch)
	reg(d, "UNWATCH", cmdUnwatch)
}

func cmdMulti(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if sess.inTransaction() {
		conn.WriteError("ERR MULTI calls can not be nested")
		return
	}
	sess.startMulti()
	writeOK(conn)
}

func cmdDiscard(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if _, wasInMulti := sess.discardMulti(); !wasInMulti {
		conn.WriteError("ERR DISCARD without MULTI")
		return
	}
	writeOK(conn)
}

func cmdWatch(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if sess.inTransaction() {
		conn.WriteError("ERR WATCH inside MULTI is not allowed")
		return
	}
	if len(cmd.Args) < 2 {
		wrongArgs(conn, "watch")
		return
	}
	for i := 1; i < len(cmd.Args); i++ {
		key := cmd.Args[i]
		entry, ok, err := s.core.ExistsCached(context.Background(), sess.DB, key)
		if err != nil {
			writeErr(conn, err)
			return
		}
		version := int64(0)
		if ok {
			version = entry.Version
		}
		sess.addWatch(sess.DB, string(key), version)
	}
	writeOK(conn)
}

func cmdUnwatch(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	sess.clearWatches()
	writeOK(conn)
}

// cmdExec replays the queued commands if every watched key's version is
// unchanged since WATCH; otherwise it aborts with a null array, matching
// real Redis's optimistic-concurrency semantics for transactions.
func cmdExec(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	// discardMulti clears the watch set and the dirty flag, so read both first.
	watches := sess.watchSnapshot()
	dirty := sess.isDirty()
	queued, wasInMulti := sess.discardMulti()
	if !wasInMulti {
		conn.WriteError("ERR EXEC without MULTI")
		return
	}
	if dirty {
		conn.WriteError("EXECABORT Transaction discarded because of previous errors.")
		return
	}

	for wk, wantVersion := range watches {
		db, key := splitWatchKey(wk)
		entry, ok, err := s.core.ExistsCached(context.Background(), db, []byte(key))
		if err != nil {
			writeErr(conn, err)
			return
		}
		gotVersion := int64(0)
		if ok {
			gotVersion = entry.Version
		}
		if gotVersion != wantVersion {
			conn.WriteArray(-1)
			return
		}
	}

	conn.WriteArray(len(queued))
	for _, qc := range queued {
		h, ok := s.dispatch[qc.name]
		if !ok {
			conn.WriteError("ERR unknown command '" + qc.name + "'")
			continue
		}
		h(s, sess, conn, redcon.Command{Args: qc.args})
	}
}

func splitWatchKey(wk string) (int, string) {
	for i := 0; i < len(wk); i++ {
		if wk[i] == ':' {
			db := 0
			for j := 0; j < i; j++ {
				db = db*10 + int(wk[j]-'0')
			}
			return db, wk[i+1:]
		}
	}
	return 0, wk
}
