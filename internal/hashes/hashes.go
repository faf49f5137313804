// Package hashes implements the Hash ops component (spec.md §4.6):
// field-level CRUD, numeric increments, and cursor-based scanning.
package hashes

import (
	"context"
	"database/sql"
	"math"
	"strconv"

	"github.com/redlite/redlite/internal/errs"
	"github.com/redlite/redlite/internal/keys"
)

type Ops struct{ keys *keys.Manager }

func New(km *keys.Manager) *Ops { return &Ops{keys: km} }

func (o *Ops) typeGuard(ctx context.Context, tx *sql.Tx, db int, key []byte, now int64) (*keys.Row, error) {
	row, err := o.keys.Lookup(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return row, err
	}
	if row.Type != keys.TypeHash {
		return nil, errs.ErrWrongType
	}
	return row, nil
}

// HSet upserts fields, returning the count of fields that were newly
// created (not merely overwritten), matching HSET's reply contract. Each
// field's existence is checked before the upsert so the count is exact.
func (o *Ops) HSet(ctx context.Context, tx *sql.Tx, db int, key []byte, fields map[string][]byte, now int64) (int64, error) {
	row, err := o.keys.EnsureKey(ctx, tx, db, key, keys.TypeHash, now)
	if err != nil {
		return 0, err
	}
	var created int64
	for f, v := range fields {
		var existed int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM hashes WHERE key_id=? AND field=?`, row.ID, f).Scan(&existed); err != nil && err != sql.ErrNoRows {
			return 0, errs.Wrap(errs.KindIO, err, "hset: %v", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO hashes(key_id, field, value) VALUES (?, ?, ?)
			ON CONFLICT(key_id, field) DO UPDATE SET value = excluded.value`, row.ID, f, v); err != nil {
			return 0, errs.Wrap(errs.KindIO, err, "hset: %v", err)
		}
		if existed == 0 {
			created++
		}
	}
	if err := o.keys.Touch(ctx, tx, row.ID, now); err != nil {
		return 0, err
	}
	return created, nil
}

func (o *Ops) HGet(ctx context.Context, tx *sql.Tx, db int, key []byte, field string, now int64) ([]byte, bool, error) {
	row, err := o.typeGuard(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return nil, false, err
	}
	var v []byte
	if err := tx.QueryRowContext(ctx, `SELECT value FROM hashes WHERE key_id=? AND field=?`, row.ID, field).Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, errs.Wrap(errs.KindIO, err, "hget: %v", err)
	}
	return v, true, nil
}

func (o *Ops) HGetAll(ctx context.Context, tx *sql.Tx, db int, key []byte, now int64) (map[string][]byte, error) {
	row, err := o.typeGuard(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return map[string][]byte{}, err
	}
	rows, err := tx.QueryContext(ctx, `SELECT field, value FROM hashes WHERE key_id=?`, row.ID)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, err, "hgetall: %v", err)
	}
	defer rows.Close()
	out := map[string][]byte{}
	for rows.Next() {
		var f string
		var v []byte
		if err := rows.Scan(&f, &v); err != nil {
			return nil, errs.Wrap(errs.KindIO, err, "hgetall: %v", err)
		}
		out[f] = v
	}
	return out, rows.Err()
}

func (o *Ops) HDel(ctx context.Context, tx *sql.Tx, db int, key []byte, fields []string, now int64) (int64, error) {
	row, err := o.typeGuard(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return 0, err
	}
	var removed int64
	for _, f := range fields {
		res, err := tx.ExecContext(ctx, `DELETE FROM hashes WHERE key_id=? AND field=?`, row.ID, f)
		if err != nil {
			return 0, errs.Wrap(errs.KindIO, err, "hdel: %v", err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}
	if removed > 0 {
		if err := o.deleteIfEmpty(ctx, tx, row.ID, key, db); err != nil {
			return 0, err
		}
		if err := o.keys.Touch(ctx, tx, row.ID, now); err != nil {
			return 0, err
		}
	}
	return removed, nil
}

func (o *Ops) HLen(ctx context.Context, tx *sql.Tx, db int, key []byte, now int64) (int64, error) {
	row, err := o.typeGuard(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return 0, err
	}
	var n int64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM hashes WHERE key_id=?`, row.ID).Scan(&n); err != nil {
		return 0, errs.Wrap(errs.KindIO, err, "hlen: %v", err)
	}
	return n, nil
}

func (o *Ops) HExists(ctx context.Context, tx *sql.Tx, db int, key []byte, field string, now int64) (bool, error) {
	_, ok, err := o.HGet(ctx, tx, db, key, field, now)
	return ok, err
}

// HIncrBy mirrors the string-numeric rules (spec.md §4.6).
func (o *Ops) HIncrBy(ctx context.Context, tx *sql.Tx, db int, key []byte, field string, delta int64, now int64) (int64, error) {
	row, err := o.keys.EnsureKey(ctx, tx, db, key, keys.TypeHash, now)
	if err != nil {
		return 0, err
	}
	v, ok, err := o.HGet(ctx, tx, db, key, field, now)
	if err != nil {
		return 0, err
	}
	var cur int64
	if ok {
		cur, err = strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return 0, errs.ErrNotInteger
		}
	}
	next := cur + delta
	if (delta > 0 && next < cur) || (delta < 0 && next > cur) {
		return 0, errs.New(errs.KindOverflow, "increment or decrement would overflow")
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO hashes(key_id, field, value) VALUES (?, ?, ?)
		ON CONFLICT(key_id, field) DO UPDATE SET value = excluded.value`, row.ID, field, []byte(strconv.FormatInt(next, 10))); err != nil {
		return 0, errs.Wrap(errs.KindIO, err, "hincrby: %v", err)
	}
	if err := o.keys.Touch(ctx, tx, row.ID, now); err != nil {
		return 0, err
	}
	return next, nil
}

func (o *Ops) HIncrByFloat(ctx context.Context, tx *sql.Tx, db int, key []byte, field string, delta float64, now int64) (float64, error) {
	row, err := o.keys.EnsureKey(ctx, tx, db, key, keys.TypeHash, now)
	if err != nil {
		return 0, err
	}
	v, ok, err := o.HGet(ctx, tx, db, key, field, now)
	if err != nil {
		return 0, err
	}
	var cur float64
	if ok {
		cur, err = strconv.ParseFloat(string(v), 64)
		if err != nil {
			return 0, errs.ErrNotFloat
		}
	}
	next := cur + delta
	if math.IsNaN(next) || math.IsInf(next, 0) {
		return 0, errs.New(errs.KindNotFloat, "increment would produce NaN or Infinity")
	}
	formatted := strconv.FormatFloat(next, 'f', -1, 64)
	if _, err := tx.ExecContext(ctx, `INSERT INTO hashes(key_id, field, value) VALUES (?, ?, ?)
		ON CONFLICT(key_id, field) DO UPDATE SET value = excluded.value`, row.ID, field, []byte(formatted)); err != nil {
		return 0, errs.Wrap(errs.KindIO, err, "hincrbyfloat: %v", err)
	}
	if err := o.keys.Touch(ctx, tx, row.ID, now); err != nil {
		return 0, err
	}
	return next, nil
}

// HScan returns a batch of field/value pairs with an opaque cursor, mirroring
// keys.Manager.Scan's contract.
func (o *Ops) HScan(ctx context.Context, tx *sql.Tx, db int, key []byte, cursor string, count int, now int64) (next string, fields []string, values [][]byte, err error) {
	row, err := o.typeGuard(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return "", nil, nil, err
	}
	if count <= 0 {
		count = 10
	}
	rows, err := tx.QueryContext(ctx, `SELECT field, value FROM hashes WHERE key_id=? AND field > ? ORDER BY field ASC LIMIT ?`,
		row.ID, cursor, count)
	if err != nil {
		return "", nil, nil, errs.Wrap(errs.KindIO, err, "hscan: %v", err)
	}
	defer rows.Close()
	var last string
	var seen int
	for rows.Next() {
		var f string
		var v []byte
		if err := rows.Scan(&f, &v); err != nil {
			return "", nil, nil, errs.Wrap(errs.KindIO, err, "hscan: %v", err)
		}
		fields = append(fields, f)
		values = append(values, v)
		last = f
		seen++
	}
	if seen < count {
		return "", fields, values, rows.Err()
	}
	return last, fields, values, rows.Err()
}

func (o *Ops) deleteIfEmpty(ctx context.Context, tx *sql.Tx, keyID int64, key []byte, db int) error {
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM hashes WHERE key_id=?`, keyID).Scan(&n); err != nil {
		return errs.Wrap(errs.KindIO, err, "hash empty check: %v", err)
	}
	if n == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM keys WHERE id=?`, keyID); err != nil {
			return errs.Wrap(errs.KindIO, err, "delete empty hash key: %v", err)
		}
	}
	return nil
}
