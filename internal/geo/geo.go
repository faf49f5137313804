// Package geo implements the Geo ops component (spec.md §4.6): geospatial
// members stored as an R*Tree-backed auxiliary to a sorted-set-like key, the
// same way Redis layers GEOADD/GEOSEARCH over a plain zset.
package geo

import (
	"context"
	"database/sql"
	"math"
	"strings"

	"github.com/redlite/redlite/internal/errs"
	"github.com/redlite/redlite/internal/keys"
)

type Ops struct{ keys *keys.Manager }

func New(km *keys.Manager) *Ops { return &Ops{keys: km} }

// earthRadiusMeters is the WGS-84 mean radius Redis itself uses for
// haversine distance (spec.md §4.6).
const earthRadiusMeters = 6372797.560856

const (
	geoLonMin = -180.0
	geoLonMax = 180.0
	geoLatMin = -85.05112878
	geoLatMax = 85.05112878
	geoStep   = 26
)

// Unit is a GEODIST/GEOSEARCH distance unit.
type Unit int

const (
	UnitMeters Unit = iota
	UnitKilometers
	UnitMiles
	UnitFeet
)

func (u Unit) toMeters(m float64) float64 {
	switch u {
	case UnitKilometers:
		return m * 1000
	case UnitMiles:
		return m * 1609.34
	case UnitFeet:
		return m / 3.28084
	default:
		return m
	}
}

func (u Unit) fromMeters(m float64) float64 {
	switch u {
	case UnitKilometers:
		return m / 1000
	case UnitMiles:
		return m / 1609.34
	case UnitFeet:
		return m * 3.28084
	default:
		return m
	}
}

// ParseUnit maps a GEODIST/GEOSEARCH unit token (case-insensitive m/km/mi/ft)
// to a Unit, reporting false for anything else.
func ParseUnit(s string) (Unit, bool) {
	switch strings.ToLower(s) {
	case "m":
		return UnitMeters, true
	case "km":
		return UnitKilometers, true
	case "mi":
		return UnitMiles, true
	case "ft":
		return UnitFeet, true
	default:
		return 0, false
	}
}

// ToMeters converts a value expressed in unit into meters, for building a
// search radius/box from client-supplied GEOSEARCH arguments.
func ToMeters(value float64, unit Unit) float64 {
	switch unit {
	case UnitKilometers:
		return value * 1000
	case UnitMiles:
		return value * 1609.34
	case UnitFeet:
		return value / 3.28084
	default:
		return value
	}
}

func (o *Ops) typeGuard(ctx context.Context, tx *sql.Tx, db int, key []byte, now int64) (*keys.Row, error) {
	row, err := o.keys.Lookup(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return row, err
	}
	if row.Type != keys.TypeZSet {
		return nil, errs.ErrWrongType
	}
	return row, nil
}

// interleave64 spreads xlo into even bit positions and ylo into odd bit
// positions, the building block of the 52-bit geohash score Redis stores in
// the backing zset.
func interleave64(xlo, ylo uint32) uint64 {
	var result uint64
	for i := 0; i < 32; i++ {
		if xlo&(1<<uint(i)) != 0 {
			result |= 1 << uint(2*i)
		}
		if ylo&(1<<uint(i)) != 0 {
			result |= 1 << uint(2*i+1)
		}
	}
	return result
}

func deinterleave64(interleaved uint64) (xlo, ylo uint32) {
	for i := 0; i < 32; i++ {
		if interleaved&(1<<uint(2*i)) != 0 {
			xlo |= 1 << uint(i)
		}
		if interleaved&(1<<uint(2*i+1)) != 0 {
			ylo |= 1 << uint(i)
		}
	}
	return
}

// encodeScore produces the 52-bit interleaved geohash Redis uses as the
// backing zset's score, restricted to the Mercator-safe latitude band.
func encodeScore(lon, lat float64) uint64 {
	latOffset := (lat - geoLatMin) / (geoLatMax - geoLatMin)
	lonOffset := (lon - geoLonMin) / (geoLonMax - geoLonMin)
	ilat := uint32(latOffset * float64(uint64(1)<<geoStep))
	ilon := uint32(lonOffset * float64(uint64(1)<<geoStep))
	return interleave64(ilat, ilon)
}

func decodeScore(bits uint64) (lon, lat float64) {
	ilat, ilon := deinterleave64(bits)
	latOffset := (float64(ilat) + 0.5) / float64(uint64(1)<<geoStep)
	lonOffset := (float64(ilon) + 0.5) / float64(uint64(1)<<geoStep)
	lat = geoLatMin + latOffset*(geoLatMax-geoLatMin)
	lon = geoLonMin + lonOffset*(geoLonMax-geoLonMin)
	return
}

// haversineMeters is the great-circle distance between two lon/lat points.
func haversineMeters(lon1, lat1, lon2, lat2 float64) float64 {
	rad := math.Pi / 180
	lat1r, lat2r := lat1*rad, lat2*rad
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1r)*math.Cos(lat2r)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// GeoAdd stores a member's position: a backing zset row (geohash score,
// keeping ZSCORE/ZRANGE compatible per Redis's own GEO-over-zset design),
// plus the precise lon/lat and its R*Tree bounding box for exact search.
// Returns the count of newly-added (not merely repositioned) members.
func (o *Ops) GeoAdd(ctx context.Context, tx *sql.Tx, db int, key []byte, members map[string][2]float64, now int64) (int64, error) {
	row, err := o.keys.EnsureKey(ctx, tx, db, key, keys.TypeZSet, now)
	if err != nil {
		return 0, err
	}
	var added int64
	for member, coords := range members {
		lon, lat := coords[0], coords[1]
		if lon < geoLonMin || lon > geoLonMax || lat < geoLatMin || lat > geoLatMax {
			return 0, errs.New(errs.KindOutOfRange, "invalid longitude,latitude pair %f,%f", lon, lat)
		}
		score := encodeScore(lon, lat)

		var existed int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM geo_members WHERE key_id=? AND member=?`, row.ID, []byte(member)).Scan(&existed); err != nil && err != sql.ErrNoRows {
			return 0, errs.Wrap(errs.KindIO, err, "geoadd: %v", err)
		}

		var rtreeID int64
		if existed == 1 {
			if err := tx.QueryRowContext(ctx, `SELECT rtree_id FROM geo_members WHERE key_id=? AND member=?`, row.ID, []byte(member)).Scan(&rtreeID); err != nil {
				return 0, errs.Wrap(errs.KindIO, err, "geoadd: %v", err)
			}
			if _, err := tx.ExecContext(ctx, `UPDATE geo_rtree SET min_lon=?, max_lon=?, min_lat=?, max_lat=? WHERE id=?`,
				lon, lon, lat, lat, rtreeID); err != nil {
				return 0, errs.Wrap(errs.KindIO, err, "geoadd: %v", err)
			}
		} else {
			res, err := tx.ExecContext(ctx, `INSERT INTO geo_rtree(min_lon, max_lon, min_lat, max_lat) VALUES (?, ?, ?, ?)`, lon, lon, lat, lat)
			if err != nil {
				return 0, errs.Wrap(errs.KindIO, err, "geoadd: %v", err)
			}
			rtreeID, err = res.LastInsertId()
			if err != nil {
				return 0, errs.Wrap(errs.KindIO, err, "geoadd: %v", err)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO geo_members(key_id, member, longitude, latitude, rtree_id) VALUES (?, ?, ?, ?, ?)`,
				row.ID, []byte(member), lon, lat, rtreeID); err != nil {
				return 0, errs.Wrap(errs.KindIO, err, "geoadd: %v", err)
			}
			added++
		}
		if existed == 1 {
			if _, err := tx.ExecContext(ctx, `UPDATE geo_members SET longitude=?, latitude=? WHERE key_id=? AND member=?`,
				lon, lat, row.ID, []byte(member)); err != nil {
				return 0, errs.Wrap(errs.KindIO, err, "geoadd: %v", err)
			}
		}

		if _, err := tx.ExecContext(ctx, `INSERT INTO zsets(key_id, member, score) VALUES (?, ?, ?)
			ON CONFLICT(key_id, member) DO UPDATE SET score = excluded.score`, row.ID, []byte(member), float64(score)); err != nil {
			return 0, errs.Wrap(errs.KindIO, err, "geoadd: %v", err)
		}
	}
	if err := o.keys.Touch(ctx, tx, row.ID, now); err != nil {
		return 0, err
	}
	return added, nil
}

// GeoPos returns each member's (lon, lat), or nil for members not present.
func (o *Ops) GeoPos(ctx context.Context, tx *sql.Tx, db int, key []byte, members []string, now int64) ([]*[2]float64, error) {
	row, err := o.typeGuard(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return make([]*[2]float64, len(members)), err
	}
	out := make([]*[2]float64, len(members))
	for i, m := range members {
		var lon, lat float64
		if err := tx.QueryRowContext(ctx, `SELECT longitude, latitude FROM geo_members WHERE key_id=? AND member=?`, row.ID, []byte(m)).Scan(&lon, &lat); err != nil {
			if err == sql.ErrNoRows {
				continue
			}
			return nil, errs.Wrap(errs.KindIO, err, "geopos: %v", err)
		}
		out[i] = &[2]float64{lon, lat}
	}
	return out, nil
}

// GeoDist returns the distance between two members in the requested unit,
// or (0, false) if either is absent.
func (o *Ops) GeoDist(ctx context.Context, tx *sql.Tx, db int, key []byte, m1, m2 string, unit Unit, now int64) (float64, bool, error) {
	row, err := o.typeGuard(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return 0, false, err
	}
	var lon1, lat1, lon2, lat2 float64
	if err := tx.QueryRowContext(ctx, `SELECT longitude, latitude FROM geo_members WHERE key_id=? AND member=?`, row.ID, []byte(m1)).Scan(&lon1, &lat1); err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, errs.Wrap(errs.KindIO, err, "geodist: %v", err)
	}
	if err := tx.QueryRowContext(ctx, `SELECT longitude, latitude FROM geo_members WHERE key_id=? AND member=?`, row.ID, []byte(m2)).Scan(&lon2, &lat2); err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, errs.Wrap(errs.KindIO, err, "geodist: %v", err)
	}
	return unit.fromMeters(haversineMeters(lon1, lat1, lon2, lat2)), true, nil
}

// geohashAlphabet is the standard base32 geohash.org alphabet.
const geohashAlphabet = "0123456789bcdefghjkmnpqrstuvwxyz"

// GeoHash returns the standard 11-character geohash.org string for each
// member, re-encoding the stored position against the full -90..90 latitude
// range the public geohash format expects (Redis's own GEOHASH command does
// the same re-encode, since its internal score uses the narrower Mercator
// band).
func (o *Ops) GeoHash(ctx context.Context, tx *sql.Tx, db int, key []byte, members []string, now int64) ([]string, error) {
	row, err := o.typeGuard(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return make([]string, len(members)), err
	}
	out := make([]string, len(members))
	for i, m := range members {
		var lon, lat float64
		if err := tx.QueryRowContext(ctx, `SELECT longitude, latitude FROM geo_members WHERE key_id=? AND member=?`, row.ID, []byte(m)).Scan(&lon, &lat); err != nil {
			if err == sql.ErrNoRows {
				continue
			}
			return nil, errs.Wrap(errs.KindIO, err, "geohash: %v", err)
		}
		out[i] = encodeGeohashString(lon, lat)
	}
	return out, nil
}

func encodeGeohashString(lon, lat float64) string {
	const stdLatMin, stdLatMax = -90.0, 90.0
	latOffset := (lat - stdLatMin) / (stdLatMax - stdLatMin)
	lonOffset := (lon - geoLonMin) / (geoLonMax - geoLonMin)
	ilat := uint32(latOffset * float64(uint64(1)<<geoStep))
	ilon := uint32(lonOffset * float64(uint64(1)<<geoStep))
	bits := interleave64(ilat, ilon) << 3 // pad 52 bits to 55 (11*5)

	buf := make([]byte, 11)
	for i := 0; i < 11; i++ {
		shift := uint(55 - (i+1)*5)
		idx := (bits >> shift) & 0x1f
		buf[i] = geohashAlphabet[idx]
	}
	return string(buf)
}

// Search describes a GEOSEARCH query: a center (from a member or explicit
// lon/lat) and either a radius or a box, plus result ordering/limit.
type Search struct {
	CenterMember string // empty means CenterLon/CenterLat apply
	CenterLon    float64
	CenterLat    float64

	RadiusMeters float64 // 0 with BoxWidth>0 means box mode
	BoxWidthM    float64
	BoxHeightM   float64

	Count int // 0 means unbounded
	Asc   bool
}

// Result is one GEOSEARCH hit.
type Result struct {
	Member     string
	DistanceM  float64
	Lon, Lat   float64
}

// GeoSearch prefilters candidates with the R*Tree's bounding-box index, then
// applies an exact haversine (radius) or lon/lat-delta (box) filter, per
// spec.md §4.6.
func (o *Ops) GeoSearch(ctx context.Context, tx *sql.Tx, db int, key []byte, s Search, now int64) ([]Result, error) {
	row, err := o.typeGuard(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return nil, err
	}

	centerLon, centerLat := s.CenterLon, s.CenterLat
	if s.CenterMember != "" {
		if err := tx.QueryRowContext(ctx, `SELECT longitude, latitude FROM geo_members WHERE key_id=? AND member=?`, row.ID, []byte(s.CenterMember)).Scan(&centerLon, &centerLat); err != nil {
			if err == sql.ErrNoRows {
				return nil, errs.New(errs.KindNotFound, "could not decode requested zset member")
			}
			return nil, errs.Wrap(errs.KindIO, err, "geosearch: %v", err)
		}
	}

	boxRadiusM := s.RadiusMeters
	if boxRadiusM == 0 {
		boxRadiusM = math.Max(s.BoxWidthM, s.BoxHeightM) / 2
	}
	// One degree of latitude is ~111,320m everywhere; longitude shrinks with
	// cos(latitude), so widen the bounding box longitudinally to stay a
	// strict superset of the true search area.
	latDelta := boxRadiusM / 111320.0
	lonDelta := boxRadiusM / (111320.0 * math.Max(math.Cos(centerLat*math.Pi/180), 0.01))

	rows, err := tx.QueryContext(ctx, `SELECT gm.member, gm.longitude, gm.latitude FROM geo_members gm
		JOIN geo_rtree rt ON rt.id = gm.rtree_id
		WHERE gm.key_id = ?
		AND rt.min_lon <= ? AND rt.max_lon >= ?
		AND rt.min_lat <= ? AND rt.max_lat >= ?`,
		row.ID, centerLon+lonDelta, centerLon-lonDelta, centerLat+latDelta, centerLat-latDelta)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, err, "geosearch: %v", err)
	}
	defer rows.Close()

	var candidates []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.Member, &r.Lon, &r.Lat); err != nil {
			return nil, errs.Wrap(errs.KindIO, err, "geosearch: %v", err)
		}
		r.DistanceM = haversineMeters(centerLon, centerLat, r.Lon, r.Lat)
		candidates = append(candidates, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []Result
	for _, c := range candidates {
		if s.RadiusMeters > 0 {
			if c.DistanceM <= s.RadiusMeters {
				out = append(out, c)
			}
			continue
		}
		dLonM := haversineMeters(centerLon, c.Lat, c.Lon, c.Lat)
		dLatM := haversineMeters(c.Lon, centerLat, c.Lon, c.Lat)
		if dLonM <= s.BoxWidthM/2 && dLatM <= s.BoxHeightM/2 {
			out = append(out, c)
		}
	}

	sortResults(out, s.Asc)
	if s.Count > 0 && len(out) > s.Count {
		out = out[:s.Count]
	}
	return out, nil
}

func sortResults(rs []Result, asc bool) {
	for i := 1; i < len(rs); i++ {
		j := i
		for j > 0 {
			less := rs[j].DistanceM < rs[j-1].DistanceM
			if !asc {
				less = rs[j].DistanceM > rs[j-1].DistanceM
			}
			if !less {
				break
			}
			rs[j], rs[j-1] = rs[j-1], rs[j]
			j--
		}
	}
}
