package resp

import (
	"context"
	"database/sql"

	"github.com/redlite/redlite/internal/keys"
)

// copyPayload duplicates the payload rows for a key of type typ from srcID
// to dstID. RENAME reuses key_id unchanged because payload tables key off
// it; COPY instead needs a second, independent row set under a freshly
// allocated key_id, one INSERT...SELECT per payload table the type owns.
func copyPayload(ctx context.Context, tx *sql.Tx, typ keys.Type, srcID, dstID int64) error {
	switch typ {
	case keys.TypeString:
		_, err := tx.ExecContext(ctx, `INSERT INTO strings(key_id, value) SELECT ?, value FROM strings WHERE key_id=?`, dstID, srcID)
		return err
	case keys.TypeHash:
		_, err := tx.ExecContext(ctx, `INSERT INTO hashes(key_id, field, value) SELECT ?, field, value FROM hashes WHERE key_id=?`, dstID, srcID)
		return err
	case keys.TypeList:
		_, err := tx.ExecContext(ctx, `INSERT INTO lists(key_id, position, value) SELECT ?, position, value FROM lists WHERE key_id=?`, dstID, srcID)
		return err
	case keys.TypeSet:
		_, err := tx.ExecContext(ctx, `INSERT INTO sets(key_id, member) SELECT ?, member FROM sets WHERE key_id=?`, dstID, srcID)
		return err
	case keys.TypeZSet:
		if _, err := tx.ExecContext(ctx, `INSERT INTO zsets(key_id, member, score) SELECT ?, member, score FROM zsets WHERE key_id=?`, dstID, srcID); err != nil {
			return err
		}
		return copyGeoMembers(ctx, tx, srcID, dstID)
	case keys.TypeStream:
		if _, err := tx.ExecContext(ctx, `INSERT INTO streams(key_id, ms, seq, payload) SELECT ?, ms, seq, payload FROM streams WHERE key_id=?`, dstID, srcID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO stream_groups(key_id, name, last_ms, last_seq) SELECT ?, name, last_ms, last_seq FROM stream_groups WHERE key_id=?`, dstID, srcID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO stream_pending(key_id, group_name, ms, seq, consumer, delivery_count, delivered_at)
			SELECT ?, group_name, ms, seq, consumer, delivery_count, delivered_at FROM stream_pending WHERE key_id=?`, dstID, srcID)
		return err
	case keys.TypeVectorSet:
		if _, err := tx.ExecContext(ctx, `INSERT INTO vector_sets(key_id, dim, metric) SELECT ?, dim, metric FROM vector_sets WHERE key_id=?`, dstID, srcID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO vector_items(key_id, name, vector, attrs) SELECT ?, name, vector, attrs FROM vector_items WHERE key_id=?`, dstID, srcID)
		return err
	default:
		return nil
	}
}

// copyGeoMembers duplicates any geo auxiliary rows mirrored onto a
// zset-typed key. Each member needs its own fresh R*Tree row — geo_rtree
// ids aren't shareable across keys — so this copies member-by-member
// instead of a single INSERT...SELECT the way the other payload tables do.
func copyGeoMembers(ctx context.Context, tx *sql.Tx, srcID, dstID int64) error {
	rows, err := tx.QueryContext(ctx, `SELECT member, longitude, latitude FROM geo_members WHERE key_id=?`, srcID)
	if err != nil {
		return err
	}
	type geoMember struct {
		name     []byte
		lon, lat float64
	}
	var members []geoMember
	for rows.Next() {
		var m geoMember
		if err := rows.Scan(&m.name, &m.lon, &m.lat); err != nil {
			rows.Close()
			return err
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, m := range members {
		res, err := tx.ExecContext(ctx, `INSERT INTO geo_rtree(min_lon, max_lon, min_lat, max_lat) VALUES (?, ?, ?, ?)`, m.lon, m.lon, m.lat, m.lat)
		if err != nil {
			return err
		}
		rtreeID, err := res.LastInsertId()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO geo_members(key_id, member, longitude, latitude, rtree_id) VALUES (?, ?, ?, ?, ?)`,
			dstID, m.name, m.lon, m.lat, rtreeID); err != nil {
			return err
		}
	}
	return nil
}
