// Package keys implements the key metadata manager (spec.md §4.1): the
// single `keys` table backing lookup, creation, type-guard, TTL, and touch
// for every Redis data type.
package keys

import (
	"context"
	"database/sql"

	"github.com/redlite/redlite/internal/errs"
)

// Type is the Redis data-type discriminator stored per key (spec.md §3.1).
type Type int

const (
	TypeNone Type = iota
	TypeString
	TypeList
	TypeSet
	TypeHash
	TypeZSet
	TypeStream
	TypeVectorSet
)

// Name returns the Redis TYPE reply string for t.
func (t Type) Name() string {
	switch t {
	case TypeString:
		return "string"
	case TypeList:
		return "list"
	case TypeSet:
		return "set"
	case TypeHash:
		return "hash"
	case TypeZSet:
		return "zset"
	case TypeStream:
		return "stream"
	case TypeVectorSet:
		return "vectorset"
	default:
		return "none"
	}
}

// Executor is satisfied by both *sql.DB and *sql.Tx, letting every ops
// package compose key-metadata operations inside a larger transaction
// without the manager knowing which it has.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Row is a key's metadata as stored in the `keys` table.
type Row struct {
	ID        int64
	DB        int
	Name      []byte
	Type      Type
	CreatedAt int64
	UpdatedAt int64
	ExpireAt  sql.NullInt64
	Version   int64
}

// Expired reports whether the row's deadline has passed as of now (ms).
func (r *Row) Expired(nowMS int64) bool {
	return r.ExpireAt.Valid && r.ExpireAt.Int64 <= nowMS
}

// Manager is stateless; every method takes the Executor and clock explicitly
// so callers control transaction boundaries and determinism in tests.
type Manager struct{}

func New() *Manager { return &Manager{} }

// Lookup returns the key's metadata, or (nil, nil) if it does not exist or
// has expired. Every read path in the engine MUST route through Lookup so
// the "absent once past deadline" invariant (spec.md §3.1) holds uniformly.
// An expired row is lazily deleted best-effort before returning absent.
func (m *Manager) Lookup(ctx context.Context, ex Executor, db int, name []byte, nowMS int64) (*Row, error) {
	row := ex.QueryRowContext(ctx, `SELECT id, type, created_at, updated_at, expire_at, version
		FROM keys WHERE db = ? AND name = ?`, db, name)

	var r Row
	r.DB = db
	r.Name = name
	var typ int
	if err := row.Scan(&r.ID, &typ, &r.CreatedAt, &r.UpdatedAt, &r.ExpireAt, &r.Version); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errs.Wrap(errs.KindIO, err, "lookup key: %v", err)
	}
	r.Type = Type(typ)

	if r.Expired(nowMS) {
		// Best-effort lazy delete; a failure here must not surface as a
		// read error, the key is still logically absent.
		_, _ = ex.ExecContext(ctx, `DELETE FROM keys WHERE id = ?`, r.ID)
		return nil, nil
	}
	return &r, nil
}

// EnsureKey inserts the keys row if absent, or verifies the stored type
// matches if present, per spec.md §4.1's `ensure_key(key, type)` contract.
// A logically expired row under a different type is transparently replaced
// (delete + recreate), matching "deleting the key and re-creating it under a
// new type is the only legal retype".
func (m *Manager) EnsureKey(ctx context.Context, ex Executor, db int, name []byte, typ Type, nowMS int64) (*Row, error) {
	existing, err := m.Lookup(ctx, ex, db, name, nowMS)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.Type != typ {
			return nil, errs.New(errs.KindWrongType,
				"Operation against a key holding the wrong kind of value")
		}
		return existing, nil
	}

	res, err := ex.ExecContext(ctx, `INSERT INTO keys(db, name, type, created_at, updated_at, version)
		VALUES (?, ?, ?, ?, ?, 0)`, db, name, int(typ), nowMS, nowMS)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, err, "create key: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, err, "create key: %v", err)
	}
	return &Row{ID: id, DB: db, Name: name, Type: typ, CreatedAt: nowMS, UpdatedAt: nowMS}, nil
}

// Touch advances a key's last-update timestamp and bumps its WATCH version
// counter, as every mutating write must (spec.md §3.1, §4.9).
func (m *Manager) Touch(ctx context.Context, ex Executor, id int64, nowMS int64) error {
	_, err := ex.ExecContext(ctx, `UPDATE keys SET updated_at = ?, version = version + 1 WHERE id = ?`, nowMS, id)
	if err != nil {
		return errs.Wrap(errs.KindIO, err, "touch key: %v", err)
	}
	return nil
}

// SetTTL sets an absolute expiration deadline in milliseconds since epoch.
func (m *Manager) SetTTL(ctx context.Context, ex Executor, id int64, expireAtMS int64) error {
	_, err := ex.ExecContext(ctx, `UPDATE keys SET expire_at = ? WHERE id = ?`, expireAtMS, id)
	if err != nil {
		return errs.Wrap(errs.KindIO, err, "set ttl: %v", err)
	}
	return nil
}

// ClearTTL removes any expiration deadline (PERSIST).
func (m *Manager) ClearTTL(ctx context.Context, ex Executor, id int64) error {
	_, err := ex.ExecContext(ctx, `UPDATE keys SET expire_at = NULL WHERE id = ?`, id)
	if err != nil {
		return errs.Wrap(errs.KindIO, err, "clear ttl: %v", err)
	}
	return nil
}

// Delete removes the key row; cascading foreign keys remove every payload
// row for it (spec.md §3.1). Reports whether the key existed (and was not
// already expired).
func (m *Manager) Delete(ctx context.Context, ex Executor, db int, name []byte, nowMS int64) (bool, error) {
	row, err := m.Lookup(ctx, ex, db, name, nowMS)
	if err != nil {
		return false, err
	}
	if row == nil {
		return false, nil
	}
	if _, err := ex.ExecContext(ctx, `DELETE FROM keys WHERE id = ?`, row.ID); err != nil {
		return false, errs.Wrap(errs.KindIO, err, "delete key: %v", err)
	}
	return true, nil
}

// Rename moves metadata and (via cascade-free row reuse) cascades payload
// rows along with it, since payload tables key off key_id which does not
// change. dst is overwritten if present (RENAME semantics); nonexistent src
// is a not-found error.
func (m *Manager) Rename(ctx context.Context, ex Executor, db int, src, dst []byte, nowMS int64) error {
	srcRow, err := m.Lookup(ctx, ex, db, src, nowMS)
	if err != nil {
		return err
	}
	if srcRow == nil {
		return errs.New(errs.KindNotFound, "no such key")
	}
	dstRow, err := m.Lookup(ctx, ex, db, dst, nowMS)
	if err != nil {
		return err
	}
	if dstRow != nil {
		if _, err := ex.ExecContext(ctx, `DELETE FROM keys WHERE id = ?`, dstRow.ID); err != nil {
			return errs.Wrap(errs.KindIO, err, "rename: overwrite destination: %v", err)
		}
	}
	if _, err := ex.ExecContext(ctx, `UPDATE keys SET name = ?, updated_at = ?, version = version + 1 WHERE id = ?`,
		dst, nowMS, srcRow.ID); err != nil {
		return errs.Wrap(errs.KindIO, err, "rename: %v", err)
	}
	return nil
}

// RenameNX is RENAMENX: like Rename, but only when dst does not already
// exist. Returns false (no-op) if dst is present, rather than overwriting it.
func (m *Manager) RenameNX(ctx context.Context, ex Executor, db int, src, dst []byte, nowMS int64) (bool, error) {
	srcRow, err := m.Lookup(ctx, ex, db, src, nowMS)
	if err != nil {
		return false, err
	}
	if srcRow == nil {
		return false, errs.New(errs.KindNotFound, "no such key")
	}
	dstRow, err := m.Lookup(ctx, ex, db, dst, nowMS)
	if err != nil {
		return false, err
	}
	if dstRow != nil {
		return false, nil
	}
	if _, err := ex.ExecContext(ctx, `UPDATE keys SET name = ?, updated_at = ?, version = version + 1 WHERE id = ?`,
		dst, nowMS, srcRow.ID); err != nil {
		return false, errs.Wrap(errs.KindIO, err, "renamenx: %v", err)
	}
	return true, nil
}

// SwapDB exchanges the entire contents of logical databases a and b by
// repointing every keys row's db column, in three steps through an unused
// sentinel value so the (db, name) unique index never sees a transient
// collision between the two databases' key sets.
func (m *Manager) SwapDB(ctx context.Context, ex Executor, a, b int) error {
	const sentinel = -1
	if _, err := ex.ExecContext(ctx, `UPDATE keys SET db = ? WHERE db = ?`, sentinel, a); err != nil {
		return errs.Wrap(errs.KindIO, err, "swapdb: %v", err)
	}
	if _, err := ex.ExecContext(ctx, `UPDATE keys SET db = ? WHERE db = ?`, a, b); err != nil {
		return errs.Wrap(errs.KindIO, err, "swapdb: %v", err)
	}
	if _, err := ex.ExecContext(ctx, `UPDATE keys SET db = ? WHERE db = ?`, b, sentinel); err != nil {
		return errs.Wrap(errs.KindIO, err, "swapdb: %v", err)
	}
	return nil
}

// Exists reports whether name is present (and unexpired) in db.
func (m *Manager) Exists(ctx context.Context, ex Executor, db int, name []byte, nowMS int64) (bool, error) {
	row, err := m.Lookup(ctx, ex, db, name, nowMS)
	if err != nil {
		return false, err
	}
	return row != nil, nil
}

// Keys returns every unexpired key name in db matching the given glob
// pattern, evaluated with SQLite's native GLOB operator (the same
// Unix-glob syntax Redis's KEYS uses).
func (m *Manager) Keys(ctx context.Context, ex Executor, db int, pattern string, nowMS int64) ([][]byte, error) {
	rows, err := ex.QueryContext(ctx, `SELECT name FROM keys WHERE db = ? AND name GLOB ? AND (expire_at IS NULL OR expire_at > ?)`,
		db, pattern, nowMS)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, err, "keys: %v", err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var name []byte
		if err := rows.Scan(&name); err != nil {
			return nil, errs.Wrap(errs.KindIO, err, "keys: %v", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// Scan implements the opaque-cursor contract shared with HSCAN (spec.md
// §4.6): cursor is the last-seen key id, 0 means "start of scan". A
// returned cursor of 0 signals completion.
func (m *Manager) Scan(ctx context.Context, ex Executor, db int, cursor int64, pattern string, count int, nowMS int64) (next int64, names [][]byte, err error) {
	if count <= 0 {
		count = 10
	}
	if pattern == "" {
		pattern = "*"
	}
	rows, err := ex.QueryContext(ctx, `SELECT id, name FROM keys
		WHERE db = ? AND id > ? AND name GLOB ? AND (expire_at IS NULL OR expire_at > ?)
		ORDER BY id ASC LIMIT ?`, db, cursor, pattern, nowMS, count)
	if err != nil {
		return 0, nil, errs.Wrap(errs.KindIO, err, "scan: %v", err)
	}
	defer rows.Close()

	var last int64
	var seen int
	for rows.Next() {
		var id int64
		var name []byte
		if err := rows.Scan(&id, &name); err != nil {
			return 0, nil, errs.Wrap(errs.KindIO, err, "scan: %v", err)
		}
		names = append(names, name)
		last = id
		seen++
	}
	if err := rows.Err(); err != nil {
		return 0, nil, errs.Wrap(errs.KindIO, err, "scan: %v", err)
	}
	if seen < count {
		// fewer rows than requested means this page reached the end
		return 0, names, nil
	}
	return last, names, nil
}

// RandomKey returns one unexpired key name in db chosen at random, or nil if
// the database is empty.
func (m *Manager) RandomKey(ctx context.Context, ex Executor, db int, nowMS int64) ([]byte, error) {
	row := ex.QueryRowContext(ctx, `SELECT name FROM keys WHERE db = ? AND (expire_at IS NULL OR expire_at > ?)
		ORDER BY RANDOM() LIMIT 1`, db, nowMS)
	var name []byte
	if err := row.Scan(&name); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errs.Wrap(errs.KindIO, err, "randomkey: %v", err)
	}
	return name, nil
}

// DBSize counts unexpired keys in db.
func (m *Manager) DBSize(ctx context.Context, ex Executor, db int, nowMS int64) (int64, error) {
	row := ex.QueryRowContext(ctx, `SELECT COUNT(*) FROM keys WHERE db = ? AND (expire_at IS NULL OR expire_at > ?)`, db, nowMS)
	var n int64
	if err := row.Scan(&n); err != nil {
		return 0, errs.Wrap(errs.KindIO, err, "dbsize: %v", err)
	}
	return n, nil
}

// Flush deletes every key in db (FLUSHDB); cascades clear all payload tables.
func (m *Manager) Flush(ctx context.Context, ex Executor, db int) error {
	if _, err := ex.ExecContext(ctx, `DELETE FROM keys WHERE db = ?`, db); err != nil {
		return errs.Wrap(errs.KindIO, err, "flushdb: %v", err)
	}
	return nil
}

// FlushAll deletes every key across all 16 logical databases (FLUSHALL).
func (m *Manager) FlushAll(ctx context.Context, ex Executor) error {
	if _, err := ex.ExecContext(ctx, `DELETE FROM keys`); err != nil {
		return errs.Wrap(errs.KindIO, err, "flushall: %v", err)
	}
	return nil
}
