package resp

import (
	"context"
	"database/sql"

	"github.com/tidwall/redcon"

	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/vectors"
)

// registerVectorCommands wires the vector-set surface (spec.md §4.7),
// modeled on real Redis's own VADD/VSIM/VREM/VDIM/VEMB command family.
func registerVectorCommands(d map[string]handlerFunc) {
	reg(d, "VADD", cmdVAdd)
	reg(d, "VDIM", cmdVDim)
	reg(d, "VREM", cmdVRem)
	reg(d, "VEMB", cmdVEmb)
	reg(d, "VSIM", cmdVSim)
}

func parseVector(cmd redcon.Command, from int, dim int) ([]float32, error) {
	vec := make([]float32, dim)
	for i := 0; i < dim; i++ {
		f, err := parseFloat64(argStr(cmd, from+i))
		if err != nil {
			return nil, err
		}
		vec[i] = float32(f)
	}
	return vec, nil
}

// cmdVAdd implements VADD key VALUES dim f1 f2 ... fn name
// [COSINE|DOT|L2] — dim is an explicit argument giving how many floats
// follow, and the metric defaults to cosine when no option is given.
func cmdVAdd(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) < 6 || toUpperASCII(argStr(cmd, 2)) != "VALUES" {
		wrongArgs(conn, "vadd")
		return
	}
	dim, err := parseInt64(argStr(cmd, 3))
	if err != nil || dim < 1 {
		conn.WriteError("ERR invalid vector dimension")
		return
	}
	if len(cmd.Args) < 4+int(dim)+1 {
		wrongArgs(conn, "vadd")
		return
	}
	vec, err := parseVector(cmd, 4, int(dim))
	if err != nil {
		writeErr(conn, err)
		return
	}
	name := argStr(cmd, 4+int(dim))
	metric := vectors.MetricCosine
	for i := 5 + int(dim); i < len(cmd.Args); i++ {
		switch toUpperASCII(argStr(cmd, i)) {
		case "COSINE":
			metric = vectors.MetricCosine
		case "DOT":
			metric = vectors.MetricDot
		case "L2":
			metric = vectors.MetricL2
		}
	}
	err = s.core.Do(context.Background(), sess.DB, []string{argStr(cmd, 1)}, func(tx *sql.Tx) error {
		return s.vectors.VAdd(context.Background(), tx, sess.DB, cmd.Args[1], name, vec, metric, nil, engine.Now())
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	conn.WriteInt(1)
}

func cmdVDim(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 2 {
		wrongArgs(conn, "vdim")
		return
	}
	var dim int
	err := s.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		dim, e = s.vectors.VDim(context.Background(), tx, sess.DB, cmd.Args[1], engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	conn.WriteInt(dim)
}

func cmdVRem(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 3 {
		wrongArgs(conn, "vrem")
		return
	}
	var ok bool
	err := s.core.Do(context.Background(), sess.DB, []string{argStr(cmd, 1)}, func(tx *sql.Tx) error {
		var e error
		ok, e = s.vectors.VRem(context.Background(), tx, sess.DB, cmd.Args[1], argStr(cmd, 2), engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeBool01(conn, ok)
}

func cmdVEmb(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 3 {
		wrongArgs(conn, "vemb")
		return
	}
	var vec []float32
	var ok bool
	err := s.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		vec, _, ok, e = s.vectors.VGet(context.Background(), tx, sess.DB, cmd.Args[1], argStr(cmd, 2), engine.Now())
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
	conn.WriteArray(len(vec))
	for _, f := range vec {
		writeFloat(conn, float64(f))
	}
}

// cmdVSim implements VSIM key VALUES dim f1 f2 ... fn [COUNT k].
func cmdVSim(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) < 5 || toUpperASCII(argStr(cmd, 2)) != "VALUES" {
		wrongArgs(conn, "vsim")
		return
	}
	dim, err := parseInt64(argStr(cmd, 3))
	if err != nil || dim < 1 {
		conn.WriteError("ERR invalid vector dimension")
		return
	}
	if len(cmd.Args) < 4+int(dim) {
		wrongArgs(conn, "vsim")
		return
	}
	vec, err := parseVector(cmd, 4, int(dim))
	if err != nil {
		writeErr(conn, err)
		return
	}
	topK := 10
	for i := 4 + int(dim); i < len(cmd.Args); i++ {
		if toUpperASCII(argStr(cmd, i)) == "COUNT" && i+1 < len(cmd.Args) {
			topK = parseIntDefault(cmd, i+1, 10)
		}
	}
	var neighbors []vectors.Neighbor
	err = s.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		neighbors, e = s.vectors.VSim(context.Background(), tx, sess.DB, cmd.Args[1], vec, topK, engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	conn.WriteArray(len(neighbors) * 2)
	for _, n := range neighbors {
		conn.WriteBulkString(n.Name)
		writeFloat(conn, n.Score)
	}
}
