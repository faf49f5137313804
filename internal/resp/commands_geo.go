package resp

import (
	"context"
	"database/sql"

	"github.com/tidwall/redcon"

	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/geo"
)

func registerGeoCommands(d map[string]handlerFunc) {
	reg(d, "GEOADD", cmdGeoAdd)
	reg(d, "GEOPOS", cmdGeoPos)
	reg(d, "GEODIST", cmdGeoDist)
	reg(d, "GEOHASH", cmdGeoHash)
	reg(d, "GEOSEARCH", cmdGeoSearch)
}

func cmdGeoAdd(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) < 5 || (len(cmd.Args)-2)%3 != 0 {
		wrongArgs(conn, "geoadd")
		return
	}
	members := map[string][2]float64{}
	for i := 2; i < len(cmd.Args); i += 3 {
		lon, err := parseFloat64(argStr(cmd, i))
		if err != nil {
			writeErr(conn, err)
			return
		}
		lat, err := parseFloat64(argStr(cmd, i+1))
		if err != nil {
			writeErr(conn, err)
			return
		}
		members[argStr(cmd, i+2)] = [2]float64{lon, lat}
	}
	var n int64
	err := s.core.Do(context.Background(), sess.DB, []string{argStr(cmd, 1)}, func(tx *sql.Tx) error {
		var e error
		n, e = s.geo.GeoAdd(context.Background(), tx, sess.DB, cmd.Args[1], members, engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	conn.WriteInt64(n)
}

func cmdGeoPos(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) < 2 {
		wrongArgs(conn, "geopos")
		return
	}
	names := make([]string, 0, len(cmd.Args)-2)
	for i := 2; i < len(cmd.Args); i++ {
		names = append(names, argStr(cmd, i))
	}
	var res []*[2]float64
	err := s.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		res, e = s.geo.GeoPos(context.Background(), tx, sess.DB, cmd.Args[1], names, engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	conn.WriteArray(len(res))
	for _, p := range res {
		if p == nil {
			conn.WriteNull()
			continue
		}
		conn.WriteArray(2)
		writeFloat(conn, p[0])
		writeFloat(conn, p[1])
	}
}

func cmdGeoDist(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) < 4 {
		wrongArgs(conn, "geodist")
		return
	}
	unit := geo.UnitMeters
	if len(cmd.Args) == 5 {
		var ok bool
		unit, ok = geo.ParseUnit(argStr(cmd, 4))
		if !ok {
			conn.WriteError("ERR unsupported unit provided. please use M, KM, FT, MI")
			return
		}
	}
	var dist float64
	var ok bool
	err := s.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		dist, ok, e = s.geo.GeoDist(context.Background(), tx, sess.DB, cmd.Args[1], argStr(cmd, 2), argStr(cmd, 3), unit, engine.Now())
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
	writeFloat(conn, dist)
}

func cmdGeoHash(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) < 2 {
		wrongArgs(conn, "geohash")
		return
	}
	names := make([]string, 0, len(cmd.Args)-2)
	for i := 2; i < len(cmd.Args); i++ {
		names = append(names, argStr(cmd, i))
	}
	var res []string
	err := s.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		res, e = s.geo.GeoHash(context.Background(), tx, sess.DB, cmd.Args[1], names, engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeStringArray(conn, res)
}

func cmdGeoSearch(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) < 6 {
		wrongArgs(conn, "geosearch")
		return
	}
	var search geo.Search
	search.Asc = true
	for i := 2; i < len(cmd.Args); i++ {
		switch toUpperASCII(argStr(cmd, i)) {
		case "FROMMEMBER":
			if i+1 < len(cmd.Args) {
				search.CenterMember = argStr(cmd, i+1)
				i++
			}
		case "FROMLONLAT":
			if i+2 < len(cmd.Args) {
				search.CenterLon, _ = parseFloat64(argStr(cmd, i+1))
				search.CenterLat, _ = parseFloat64(argStr(cmd, i+2))
				i += 2
			}
		case "BYRADIUS":
			if i+2 < len(cmd.Args) {
				r, _ := parseFloat64(argStr(cmd, i+1))
				unit, _ := geo.ParseUnit(argStr(cmd, i+2))
				search.RadiusMeters = geo.ToMeters(r, unit)
				i += 2
			}
		case "BYBOX":
			if i+3 < len(cmd.Args) {
				w, _ := parseFloat64(argStr(cmd, i+1))
				h, _ := parseFloat64(argStr(cmd, i+2))
				unit, _ := geo.ParseUnit(argStr(cmd, i+3))
				search.BoxWidthM = geo.ToMeters(w, unit)
				search.BoxHeightM = geo.ToMeters(h, unit)
				i += 3
			}
		case "ASC":
			search.Asc = true
		case "DESC":
			search.Asc = false
		case "COUNT":
			if i+1 < len(cmd.Args) {
				n, _ := parseInt64(argStr(cmd, i+1))
				search.Count = int(n)
				i++
			}
		}
	}
	var results []geo.Result
	err := s.core.View(context.Background(), func(tx *sql.Tx) error {
		var e error
		results, e = s.geo.GeoSearch(context.Background(), tx, sess.DB, cmd.Args[1], search, engine.Now())
		return e
	})
	if err != nil {
		writeErr(conn, err)
		return
	}
	conn.WriteArray(len(results))
	for _, r := range results {
		conn.WriteBulkString(r.Member)
	}
}
