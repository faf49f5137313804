package resp

import (
	"strconv"
	"strings"

	"github.com/tidwall/redcon"
)

// registerConnCommands wires PING/ECHO/HELLO/AUTH/SELECT/QUIT/RESET/CLIENT/
// COMMAND — the connection-management surface of spec.md §5.4.
func registerConnCommands(d map[string]handlerFunc) {
	reg(d, "PING", cmdPing)
	reg(d, "ECHO", cmdEcho)
	reg(d, "HELLO", cmdHello)
	reg(d, "AUTH", cmdAuth)
	reg(d, "SELECT", cmdSelect)
	reg(d, "QUIT", cmdQuit)
	reg(d, "RESET", cmdReset)
	reg(d, "CLIENT", cmdClient)
	reg(d, "COMMAND", cmdCommand)
}

func cmdPing(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) > 1 {
		conn.WriteBulk(cmd.Args[1])
		return
	}
	conn.WriteString("PONG")
}

func cmdEcho(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 2 {
		wrongArgs(conn, "echo")
		return
	}
	conn.WriteBulk(cmd.Args[1])
}

func cmdHello(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	for i := 1; i < len(cmd.Args); i++ {
		switch strings.ToUpper(argStr(cmd, i)) {
		case "2":
			sess.RESP3 = false
		case "3":
			sess.RESP3 = true
		case "AUTH":
			if i+2 < len(cmd.Args) {
				if ok := s.checkAuth(argStr(cmd, i+2)); ok {
					sess.Authenticated = true
				}
				i += 2
			}
		}
	}
	fields := []struct {
		k string
		v string
	}{
		{"server", "redlite"},
		{"version", "1.0.0"},
		{"proto", "2"},
		{"id", strconv.FormatInt(int64(sess.ID), 10)},
		{"mode", "standalone"},
		{"role", "master"},
	}
	conn.WriteArray(len(fields)*2 + 2)
	for _, f := range fields {
		conn.WriteBulkString(f.k)
		conn.WriteBulkString(f.v)
	}
	conn.WriteBulkString("modules")
	conn.WriteArray(0)
}

func (s *Server) checkAuth(pass string) bool {
	return s.password == "" || pass == s.password
}

func cmdAuth(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 2 {
		wrongArgs(conn, "auth")
		return
	}
	if s.password == "" {
		conn.WriteError("ERR Client sent AUTH, but no password is set")
		return
	}
	if !s.checkAuth(argStr(cmd, 1)) {
		conn.WriteError("WRONGPASS invalid username-password pair or user is disabled")
		return
	}
	sess.Authenticated = true
	writeOK(conn)
}

func cmdSelect(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 2 {
		wrongArgs(conn, "select")
		return
	}
	n, err := parseInt64(argStr(cmd, 1))
	if err != nil || n < 0 || int(n) >= 16 {
		conn.WriteError("ERR DB index is out of range")
		return
	}
	sess.DB = int(n)
	writeOK(conn)
}

func cmdQuit(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	writeOK(conn)
	conn.Close()
}

func cmdReset(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	sess.DB = 0
	sess.Name = ""
	sess.clearWatches()
	sess.discardMulti()
	sess.Authenticated = s.password == ""
	conn.WriteString("RESET")
}

func cmdClient(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) < 2 {
		wrongArgs(conn, "client")
		return
	}
	switch strings.ToUpper(argStr(cmd, 1)) {
	case "GETNAME":
		conn.WriteBulkString(sess.Name)
	case "SETNAME":
		if len(cmd.Args) != 3 {
			wrongArgs(conn, "client|setname")
			return
		}
		sess.Name = argStr(cmd, 2)
		writeOK(conn)
	case "ID":
		conn.WriteInt(int(sess.ID))
	case "LIST":
		s.mu.Lock()
		var b strings.Builder
		for _, c := range s.clients {
			b.WriteString("id=")
			b.WriteString(strconv.FormatUint(c.ID, 10))
			b.WriteString(" addr=? name=")
			b.WriteString(c.Name)
			b.WriteByte('\n')
		}
		s.mu.Unlock()
		conn.WriteBulkString(b.String())
	case "NO-EVICT", "NO-TOUCH", "SETINFO":
		writeOK(conn)
	default:
		conn.WriteError("ERR unknown CLIENT subcommand")
	}
}

func cmdCommand(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) < 2 {
		conn.WriteArray(0)
		return
	}
	switch strings.ToUpper(argStr(cmd, 1)) {
	case "COUNT":
		conn.WriteInt(len(s.dispatch))
	case "DOCS":
		conn.WriteMap(map[string]any{})
	default:
		conn.WriteArray(0)
	}
}
