package resp

import (
	"strconv"
	"strings"

	"github.com/tidwall/redcon"

	"github.com/redlite/redlite/internal/errs"
)

func wrongArgs(conn redcon.Conn, name string) {
	conn.WriteError("ERR wrong number of arguments for '" + strings.ToLower(name) + "' command")
}

func argStr(cmd redcon.Command, i int) string { return string(cmd.Args[i]) }

func parseInt64(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errs.ErrNotInteger
	}
	return n, nil
}

func parseFloat64(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errs.ErrNotFloat
	}
	return f, nil
}

func parseIntDefault(cmd redcon.Command, i int, def int) int {
	if i >= len(cmd.Args) {
		return def
	}
	n, err := strconv.Atoi(string(cmd.Args[i]))
	if err != nil {
		return def
	}
	return n
}
