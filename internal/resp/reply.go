package resp

import (
	"errors"
	"strconv"

	"github.com/tidwall/redcon"

	"github.com/redlite/redlite/internal/errs"
)

// writeErr maps an internal errs.Error (or any other error) onto its RESP
// error reply, using the Kind→prefix table (spec.md §7's RESP-prefix map).
func writeErr(conn redcon.Conn, err error) {
	var e *errs.Error
	if errors.As(err, &e) {
		conn.WriteError(e.RESPPrefix() + " " + e.Error())
		return
	}
	conn.WriteError("ERR " + err.Error())
}

func writeOK(conn redcon.Conn) { conn.WriteString("OK") }

func writeBulkOrNull(conn redcon.Conn, v []byte, ok bool) {
	if !ok {
		conn.WriteNull()
		return
	}
	conn.WriteBulk(v)
}

func writeBytesArray(conn redcon.Conn, vs [][]byte) {
	conn.WriteArray(len(vs))
	for _, v := range vs {
		conn.WriteBulk(v)
	}
}

func writeBytesArrayWithNulls(conn redcon.Conn, vs [][]byte, present []bool) {
	conn.WriteArray(len(vs))
	for i, v := range vs {
		if present != nil && !present[i] {
			conn.WriteNull()
			continue
		}
		conn.WriteBulk(v)
	}
}

func writeStringArray(conn redcon.Conn, vs []string) {
	conn.WriteArray(len(vs))
	for _, v := range vs {
		conn.WriteBulkString(v)
	}
}

func writeFloat(conn redcon.Conn, f float64) {
	conn.WriteBulkString(strconv.FormatFloat(f, 'g', -1, 64))
}

func writeFloatPtr(conn redcon.Conn, f *float64) {
	if f == nil {
		conn.WriteNull()
		return
	}
	writeFloat(conn, *f)
}

func writeBool01(conn redcon.Conn, b bool) {
	if b {
		conn.WriteInt(1)
	} else {
		conn.WriteInt(0)
	}
}

func writeStringMap(conn redcon.Conn, m map[string][]byte) {
	conn.WriteArray(len(m) * 2)
	for k, v := range m {
		conn.WriteBulkString(k)
		conn.WriteBulk(v)
	}
}
