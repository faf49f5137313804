// Package lists implements the List ops component (spec.md §4.3): the
// gap-based position allocator and the push/pop/range/index/trim/insert
// family built on it.
//
// Positions are signed integers with deliberate gaps (spec.md's "Open
// question — gap allocator numeric type" is resolved here in favor of
// integers with a renumber fallback, per the spec's normative guidance).
package lists

import (
	"context"
	"database/sql"

	"github.com/redlite/redlite/internal/errs"
	"github.com/redlite/redlite/internal/keys"
)

// GapSize is the default spacing between adjacent positions; spec.md §4.3
// recommends 2^20 to amortize renumbering against a large number of
// middle-inserts before collisions occur.
const GapSize = 1 << 20

type Ops struct{ keys *keys.Manager }

func New(km *keys.Manager) *Ops { return &Ops{keys: km} }

func (o *Ops) typeGuard(ctx context.Context, tx *sql.Tx, db int, key []byte, now int64) (*keys.Row, error) {
	row, err := o.keys.Lookup(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return row, err
	}
	if row.Type != keys.TypeList {
		return nil, errs.ErrWrongType
	}
	return row, nil
}

func (o *Ops) minMax(ctx context.Context, tx *sql.Tx, keyID int64) (min, max sql.NullInt64, err error) {
	err = tx.QueryRowContext(ctx, `SELECT MIN(position), MAX(position) FROM lists WHERE key_id=?`, keyID).Scan(&min, &max)
	if err != nil {
		err = errs.Wrap(errs.KindIO, err, "list bounds: %v", err)
	}
	return
}

// LPush prepends values one at a time, left to right, so the final head is
// the last value given — matching Redis's per-element LPUSH semantics.
func (o *Ops) LPush(ctx context.Context, tx *sql.Tx, db int, key []byte, values [][]byte, now int64) (int64, error) {
	row, err := o.keys.EnsureKey(ctx, tx, db, key, keys.TypeList, now)
	if err != nil {
		return 0, err
	}
	for _, v := range values {
		min, _, err := o.minMax(ctx, tx, row.ID)
		if err != nil {
			return 0, err
		}
		pos := int64(0)
		if min.Valid {
			pos = min.Int64 - GapSize
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO lists(key_id, position, value) VALUES (?, ?, ?)`, row.ID, pos, v); err != nil {
			return 0, errs.Wrap(errs.KindIO, err, "lpush: %v", err)
		}
	}
	if err := o.keys.Touch(ctx, tx, row.ID, now); err != nil {
		return 0, err
	}
	return o.LLen(ctx, tx, db, key, now)
}

// RPush appends values one at a time, left to right.
func (o *Ops) RPush(ctx context.Context, tx *sql.Tx, db int, key []byte, values [][]byte, now int64) (int64, error) {
	row, err := o.keys.EnsureKey(ctx, tx, db, key, keys.TypeList, now)
	if err != nil {
		return 0, err
	}
	for _, v := range values {
		_, max, err := o.minMax(ctx, tx, row.ID)
		if err != nil {
			return 0, err
		}
		pos := int64(0)
		if max.Valid {
			pos = max.Int64 + GapSize
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO lists(key_id, position, value) VALUES (?, ?, ?)`, row.ID, pos, v); err != nil {
			return 0, errs.Wrap(errs.KindIO, err, "rpush: %v", err)
		}
	}
	if err := o.keys.Touch(ctx, tx, row.ID, now); err != nil {
		return 0, err
	}
	return o.LLen(ctx, tx, db, key, now)
}

func (o *Ops) LLen(ctx context.Context, tx *sql.Tx, db int, key []byte, now int64) (int64, error) {
	row, err := o.typeGuard(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return 0, err
	}
	var n int64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM lists WHERE key_id=?`, row.ID).Scan(&n); err != nil {
		return 0, errs.Wrap(errs.KindIO, err, "llen: %v", err)
	}
	return n, nil
}

// pop removes up to count rows from the head (fromLeft) or tail, deleting
// the key if the list becomes empty, returning elements in pop order.
func (o *Ops) pop(ctx context.Context, tx *sql.Tx, db int, key []byte, count int, fromLeft bool, now int64) ([][]byte, error) {
	row, err := o.typeGuard(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return nil, err
	}
	order := "ASC"
	if !fromLeft {
		order = "DESC"
	}
	rows, err := tx.QueryContext(ctx, `SELECT position, value FROM lists WHERE key_id=? ORDER BY position `+order+` LIMIT ?`, row.ID, count)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, err, "pop: %v", err)
	}
	var positions []int64
	var out [][]byte
	for rows.Next() {
		var pos int64
		var v []byte
		if err := rows.Scan(&pos, &v); err != nil {
			rows.Close()
			return nil, errs.Wrap(errs.KindIO, err, "pop: %v", err)
		}
		positions = append(positions, pos)
		out = append(out, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.KindIO, err, "pop: %v", err)
	}
	for _, p := range positions {
		if _, err := tx.ExecContext(ctx, `DELETE FROM lists WHERE key_id=? AND position=?`, row.ID, p); err != nil {
			return nil, errs.Wrap(errs.KindIO, err, "pop: %v", err)
		}
	}
	if len(out) > 0 {
		if err := o.deleteIfEmpty(ctx, tx, row.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (o *Ops) LPop(ctx context.Context, tx *sql.Tx, db int, key []byte, count int, now int64) ([][]byte, error) {
	return o.pop(ctx, tx, db, key, count, true, now)
}

func (o *Ops) RPop(ctx context.Context, tx *sql.Tx, db int, key []byte, count int, now int64) ([][]byte, error) {
	return o.pop(ctx, tx, db, key, count, false, now)
}

// LRange resolves negative indices against the list length and returns the
// inclusive [start, stop] window in head-to-tail order.
func (o *Ops) LRange(ctx context.Context, tx *sql.Tx, db int, key []byte, start, stop int64, now int64) ([][]byte, error) {
	row, err := o.typeGuard(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return nil, err
	}
	n, err := o.LLen(ctx, tx, db, key, now)
	if err != nil {
		return nil, err
	}
	start, stop = resolveRange(start, stop, n)
	if start > stop || n == 0 {
		return [][]byte{}, nil
	}
	limit := stop - start + 1
	rows, err := tx.QueryContext(ctx, `SELECT value FROM lists WHERE key_id=? ORDER BY position ASC LIMIT ? OFFSET ?`, row.ID, limit, start)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, err, "lrange: %v", err)
	}
	defer rows.Close()
	var out [][]byte
	for rows.Next() {
		var v []byte
		if err := rows.Scan(&v); err != nil {
			return nil, errs.Wrap(errs.KindIO, err, "lrange: %v", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// LIndex returns the element at the resolved index, or (nil, false) if out
// of range. Negative indices count from the tail; -1 is the tail element.
func (o *Ops) LIndex(ctx context.Context, tx *sql.Tx, db int, key []byte, index int64, now int64) ([]byte, bool, error) {
	row, err := o.typeGuard(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return nil, false, err
	}
	n, err := o.LLen(ctx, tx, db, key, now)
	if err != nil {
		return nil, false, err
	}
	if index < 0 {
		index += n
	}
	if index < 0 || index >= n {
		return nil, false, nil
	}
	var v []byte
	if err := tx.QueryRowContext(ctx, `SELECT value FROM lists WHERE key_id=? ORDER BY position ASC LIMIT 1 OFFSET ?`, row.ID, index).Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, errs.Wrap(errs.KindIO, err, "lindex: %v", err)
	}
	return v, true, nil
}

// LSet overwrites the element at the resolved index; out-of-range is an error.
func (o *Ops) LSet(ctx context.Context, tx *sql.Tx, db int, key []byte, index int64, value []byte, now int64) error {
	row, err := o.typeGuard(ctx, tx, db, key, now)
	if err != nil {
		return err
	}
	if row == nil {
		return errs.New(errs.KindNotFound, "no such key")
	}
	n, err := o.LLen(ctx, tx, db, key, now)
	if err != nil {
		return err
	}
	if index < 0 {
		index += n
	}
	if index < 0 || index >= n {
		return errs.New(errs.KindOutOfRange, "index out of range")
	}
	var pos int64
	if err := tx.QueryRowContext(ctx, `SELECT position FROM lists WHERE key_id=? ORDER BY position ASC LIMIT 1 OFFSET ?`, row.ID, index).Scan(&pos); err != nil {
		return errs.Wrap(errs.KindIO, err, "lset: %v", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE lists SET value=? WHERE key_id=? AND position=?`, value, row.ID, pos); err != nil {
		return errs.Wrap(errs.KindIO, err, "lset: %v", err)
	}
	return o.keys.Touch(ctx, tx, row.ID, now)
}

// LTrim keeps only the resolved [start, stop] window, deleting everything
// else. Window functions (ROW_NUMBER) give an exact, index-based cut
// without renumbering positions.
func (o *Ops) LTrim(ctx context.Context, tx *sql.Tx, db int, key []byte, start, stop int64, now int64) error {
	row, err := o.typeGuard(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return err
	}
	n, err := o.LLen(ctx, tx, db, key, now)
	if err != nil {
		return err
	}
	start, stop = resolveRange(start, stop, n)
	if start > stop {
		// Trim to empty.
		if _, err := tx.ExecContext(ctx, `DELETE FROM lists WHERE key_id=?`, row.ID); err != nil {
			return errs.Wrap(errs.KindIO, err, "ltrim: %v", err)
		}
		return o.deleteIfEmpty(ctx, tx, row.ID)
	}
	_, err = tx.ExecContext(ctx, `DELETE FROM lists WHERE key_id=? AND position NOT IN (
		SELECT position FROM (
			SELECT position, ROW_NUMBER() OVER (ORDER BY position ASC) - 1 AS rn
			FROM lists WHERE key_id=?
		) WHERE rn BETWEEN ? AND ?
	)`, row.ID, row.ID, start, stop)
	if err != nil {
		return errs.Wrap(errs.KindIO, err, "ltrim: %v", err)
	}
	return o.deleteIfEmpty(ctx, tx, row.ID)
}

// LRem deletes up to |count| elements equal to value: from the head if
// count>0, the tail if count<0, all matches if count==0.
func (o *Ops) LRem(ctx context.Context, tx *sql.Tx, db int, key []byte, count int64, value []byte, now int64) (int64, error) {
	row, err := o.typeGuard(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return 0, err
	}
	order := "ASC"
	limit := count
	if count < 0 {
		order = "DESC"
		limit = -count
	}
	query := `SELECT position FROM lists WHERE key_id=? AND value=? ORDER BY position ` + order
	args := []any{row.ID, value}
	if count != 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, errs.Wrap(errs.KindIO, err, "lrem: %v", err)
	}
	var positions []int64
	for rows.Next() {
		var p int64
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return 0, errs.Wrap(errs.KindIO, err, "lrem: %v", err)
		}
		positions = append(positions, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, errs.Wrap(errs.KindIO, err, "lrem: %v", err)
	}
	for _, p := range positions {
		if _, err := tx.ExecContext(ctx, `DELETE FROM lists WHERE key_id=? AND position=?`, row.ID, p); err != nil {
			return 0, errs.Wrap(errs.KindIO, err, "lrem: %v", err)
		}
	}
	if len(positions) > 0 {
		if err := o.deleteIfEmpty(ctx, tx, row.ID); err != nil {
			return 0, err
		}
		if err := o.keys.Touch(ctx, tx, row.ID, now); err != nil {
			return 0, err
		}
	}
	return int64(len(positions)), nil
}

// LInsert inserts value immediately before or after the first occurrence of
// pivot, triggering a renumber pass when no integer position fits between
// the pivot and its neighbor. Returns the new length, or -1 if pivot is not
// found (Redis's LINSERT contract).
func (o *Ops) LInsert(ctx context.Context, tx *sql.Tx, db int, key []byte, before bool, pivot, value []byte, now int64) (int64, error) {
	row, err := o.typeGuard(ctx, tx, db, key, now)
	if err != nil {
		return 0, err
	}
	if row == nil {
		return 0, nil
	}
	var pivotPos int64
	if err := tx.QueryRowContext(ctx, `SELECT position FROM lists WHERE key_id=? AND value=? ORDER BY position ASC LIMIT 1`, row.ID, pivot).Scan(&pivotPos); err != nil {
		if err == sql.ErrNoRows {
			return -1, nil
		}
		return 0, errs.Wrap(errs.KindIO, err, "linsert: %v", err)
	}

	var neighbor sql.NullInt64
	if before {
		err = tx.QueryRowContext(ctx, `SELECT MAX(position) FROM lists WHERE key_id=? AND position < ?`, row.ID, pivotPos).Scan(&neighbor)
	} else {
		err = tx.QueryRowContext(ctx, `SELECT MIN(position) FROM lists WHERE key_id=? AND position > ?`, row.ID, pivotPos).Scan(&neighbor)
	}
	if err != nil {
		return 0, errs.Wrap(errs.KindIO, err, "linsert: %v", err)
	}

	var newPos int64
	needsRenumber := false
	if before {
		if neighbor.Valid {
			if pivotPos-neighbor.Int64 <= 1 {
				needsRenumber = true
			} else {
				newPos = neighbor.Int64 + (pivotPos-neighbor.Int64)/2
			}
		} else {
			newPos = pivotPos - GapSize
		}
	} else {
		if neighbor.Valid {
			if neighbor.Int64-pivotPos <= 1 {
				needsRenumber = true
			} else {
				newPos = pivotPos + (neighbor.Int64-pivotPos)/2
			}
		} else {
			newPos = pivotPos + GapSize
		}
	}

	if needsRenumber {
		if err := o.renumber(ctx, tx, row.ID); err != nil {
			return 0, err
		}
		// positions changed; recompute and retry once. A fresh renumber
		// guarantees GapSize spacing, so this second attempt always finds
		// room.
		return o.LInsert(ctx, tx, db, key, before, pivot, value, now)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO lists(key_id, position, value) VALUES (?, ?, ?)`, row.ID, newPos, value); err != nil {
		return 0, errs.Wrap(errs.KindIO, err, "linsert: %v", err)
	}
	if err := o.keys.Touch(ctx, tx, row.ID, now); err != nil {
		return 0, err
	}
	return o.LLen(ctx, tx, db, key, now)
}

// renumber rewrites every position for keyID to 0, G, 2G, ... in current
// order, restoring uniform gaps without changing element order (testable
// property 8 in spec.md §8).
func (o *Ops) renumber(ctx context.Context, tx *sql.Tx, keyID int64) error {
	rows, err := tx.QueryContext(ctx, `SELECT position FROM lists WHERE key_id=? ORDER BY position ASC`, keyID)
	if err != nil {
		return errs.Wrap(errs.KindIO, err, "renumber: %v", err)
	}
	var positions []int64
	for rows.Next() {
		var p int64
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return errs.Wrap(errs.KindIO, err, "renumber: %v", err)
		}
		positions = append(positions, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return errs.Wrap(errs.KindIO, err, "renumber: %v", err)
	}

	// Shift to a disjoint negative range first so the subsequent rewrite to
	// final positions never collides with an untouched row under the
	// table's (key_id, position) primary key.
	for i, p := range positions {
		tmp := int64(-(i + 1))
		if _, err := tx.ExecContext(ctx, `UPDATE lists SET position=? WHERE key_id=? AND position=?`, tmp, keyID, p); err != nil {
			return errs.Wrap(errs.KindIO, err, "renumber: %v", err)
		}
	}
	for i := range positions {
		tmp := int64(-(i + 1))
		final := int64(i) * GapSize
		if _, err := tx.ExecContext(ctx, `UPDATE lists SET position=? WHERE key_id=? AND position=?`, final, keyID, tmp); err != nil {
			return errs.Wrap(errs.KindIO, err, "renumber: %v", err)
		}
	}
	return nil
}

// LMove atomically pops from src (head/tail per fromLeft) and pushes onto
// dst (head/tail per toLeft), preserving Redis's circular semantics when
// src and dst are the same key (the pop commits before the push computes
// its new bound, so the moved element is never double-counted).
func (o *Ops) LMove(ctx context.Context, tx *sql.Tx, db int, src, dst []byte, fromLeft, toLeft bool, now int64) ([]byte, bool, error) {
	popped, err := o.pop(ctx, tx, db, src, 1, fromLeft, now)
	if err != nil || len(popped) == 0 {
		return nil, false, err
	}
	v := popped[0]
	var pushErr error
	if toLeft {
		_, pushErr = o.LPush(ctx, tx, db, dst, [][]byte{v}, now)
	} else {
		_, pushErr = o.RPush(ctx, tx, db, dst, [][]byte{v}, now)
	}
	if pushErr != nil {
		return nil, false, pushErr
	}
	return v, true, nil
}

func (o *Ops) deleteIfEmpty(ctx context.Context, tx *sql.Tx, keyID int64) error {
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM lists WHERE key_id=?`, keyID).Scan(&n); err != nil {
		return errs.Wrap(errs.KindIO, err, "list empty check: %v", err)
	}
	if n == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM keys WHERE id=?`, keyID); err != nil {
			return errs.Wrap(errs.KindIO, err, "delete empty list key: %v", err)
		}
	}
	return nil
}

func resolveRange(start, stop, n int64) (int64, int64) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	return start, stop
}
