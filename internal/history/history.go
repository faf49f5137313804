// Package history implements the History/versioning ops component (spec.md
// §4.6): per-scope retention policy evaluation over the four-tier
// scope_config table, version-numbered snapshot rows, and HISTORY.REVERT.
package history

import (
	"context"
	"database/sql"
	"path"
	"strconv"
	"strings"

	goccyjson "github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"

	"github.com/redlite/redlite/internal/errs"
)

type Ops struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// New builds an Ops with a shared zstd encoder/decoder pair; both are safe
// for concurrent use once built, and the governor serializes callers anyway.
func New() (*Ops, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "history: build zstd encoder: %v", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "history: build zstd decoder: %v", err)
	}
	return &Ops{encoder: enc, decoder: dec}, nil
}

// Retention is a resolved retention policy for one key: Unlimited if both
// bounds are zero, otherwise the tighter of a time window and a row-count
// cap applies.
type Retention struct {
	Unlimited  bool
	MaxAgeMS   int64 // 0 = no time bound
	MaxVersions int64 // 0 = no count bound
}

// ScopeType is a scope_config tier, checked most-specific first.
type ScopeType string

const (
	ScopeKey     ScopeType = "key"
	ScopePattern ScopeType = "pattern"
	ScopeDB      ScopeType = "db"
	ScopeGlobal  ScopeType = "global"
)

// ResolveRetention looks up the four-tier scope_config table (spec.md §3.3)
// for the "history" subsystem, most specific scope first: exact key, then
// glob pattern, then per-db, then global "*".
func ResolveRetention(ctx context.Context, tx *sql.Tx, db int, key string) (Retention, error) {
	if params, ok, err := lookupScope(ctx, tx, ScopeKey, key); err != nil || ok {
		return params, err
	}
	patterns, err := matchingPatterns(ctx, tx, key)
	if err != nil {
		return Retention{}, err
	}
	for _, p := range patterns {
		if params, ok, err := lookupScope(ctx, tx, ScopePattern, p); err != nil || ok {
			return params, err
		}
	}
	if params, ok, err := lookupScope(ctx, tx, ScopeDB, strconv.Itoa(db)); err != nil || ok {
		return params, err
	}
	if params, ok, err := lookupScope(ctx, tx, ScopeGlobal, "*"); err != nil || ok {
		return params, err
	}
	return Retention{Unlimited: true}, nil
}

func matchingPatterns(ctx context.Context, tx *sql.Tx, key string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT scope_value FROM scope_config WHERE subsystem='history' AND scope_type='pattern'`)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, err, "resolve retention: %v", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, errs.Wrap(errs.KindIO, err, "resolve retention: %v", err)
		}
		if ok, _ := path.Match(p, key); ok {
			out = append(out, p)
		}
	}
	return out, rows.Err()
}

func lookupScope(ctx context.Context, tx *sql.Tx, scopeType ScopeType, scopeValue string) (Retention, bool, error) {
	var params string
	err := tx.QueryRowContext(ctx, `SELECT params FROM scope_config WHERE subsystem='history' AND scope_type=? AND scope_value=?`,
		string(scopeType), scopeValue).Scan(&params)
	if err == sql.ErrNoRows {
		return Retention{}, false, nil
	}
	if err != nil {
		return Retention{}, false, errs.Wrap(errs.KindIO, err, "resolve retention: %v", err)
	}
	r, err := parseRetentionParams(params)
	return r, true, err
}

func parseRetentionParams(params string) (Retention, error) {
	if params == "" || params == "unlimited" {
		return Retention{Unlimited: true}, nil
	}
	var r Retention
	for _, field := range strings.Split(params, ";") {
		kv := strings.SplitN(field, "=", 2)
		if len(kv) != 2 {
			continue
		}
		n, err := strconv.ParseInt(kv[1], 10, 64)
		if err != nil {
			return Retention{}, errs.New(errs.KindSyntax, "invalid retention parameter %q", field)
		}
		switch kv[0] {
		case "max_age_ms":
			r.MaxAgeMS = n
		case "max_versions":
			r.MaxVersions = n
		}
	}
	return r, nil
}

// SetScope writes one scope_config row for the history subsystem.
func SetScope(ctx context.Context, tx *sql.Tx, scopeType ScopeType, scopeValue string, r Retention) error {
	params := "unlimited"
	if !r.Unlimited {
		var parts []string
		if r.MaxAgeMS > 0 {
			parts = append(parts, "max_age_ms="+strconv.FormatInt(r.MaxAgeMS, 10))
		}
		if r.MaxVersions > 0 {
			parts = append(parts, "max_versions="+strconv.FormatInt(r.MaxVersions, 10))
		}
		params = strings.Join(parts, ";")
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO scope_config(subsystem, scope_type, scope_value, params) VALUES ('history', ?, ?, ?)
		ON CONFLICT(subsystem, scope_type, scope_value) DO UPDATE SET params = excluded.params`,
		string(scopeType), scopeValue, params)
	if err != nil {
		return errs.Wrap(errs.KindIO, err, "set history scope: %v", err)
	}
	return nil
}

// Snapshot is one history row: the operation that produced it, its wall
// time, and the serialized key payload at that point.
type Snapshot struct {
	Version int64
	Op      string
	TS      int64
	Payload any
}

// Record appends a new version row for keyID, compressing the marshaled
// snapshot payload with zstd, then enforces the resolved retention policy by
// deleting whatever versions it now exceeds.
func (o *Ops) Record(ctx context.Context, tx *sql.Tx, db int, keyID int64, keyName, op string, payload any, now int64) error {
	raw, err := goccyjson.Marshal(payload)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "history record: %v", err)
	}
	compressed := o.encoder.EncodeAll(raw, nil)

	var nextVersion int64
	err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) + 1 FROM history WHERE key_id=?`, keyID).Scan(&nextVersion)
	if err != nil {
		return errs.Wrap(errs.KindIO, err, "history record: %v", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO history(key_id, version, op, ts, snapshot, compressed) VALUES (?, ?, ?, ?, ?, 1)`,
		keyID, nextVersion, op, now, compressed); err != nil {
		return errs.Wrap(errs.KindIO, err, "history record: %v", err)
	}

	retention, err := ResolveRetention(ctx, tx, db, keyName)
	if err != nil {
		return err
	}
	return o.enforceRetention(ctx, tx, keyID, retention, now)
}

func (o *Ops) enforceRetention(ctx context.Context, tx *sql.Tx, keyID int64, r Retention, now int64) error {
	if r.Unlimited {
		return nil
	}
	if r.MaxAgeMS > 0 {
		cutoff := now - r.MaxAgeMS
		if _, err := tx.ExecContext(ctx, `DELETE FROM history WHERE key_id=? AND ts < ?`, keyID, cutoff); err != nil {
			return errs.Wrap(errs.KindIO, err, "enforce retention: %v", err)
		}
	}
	if r.MaxVersions > 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM history WHERE key_id=? AND version NOT IN (
			SELECT version FROM history WHERE key_id=? ORDER BY version DESC LIMIT ?
		)`, keyID, keyID, r.MaxVersions); err != nil {
			return errs.Wrap(errs.KindIO, err, "enforce retention: %v", err)
		}
	}
	return nil
}

// List returns every retained version's metadata (not the snapshot payload)
// for keyID, ascending by version.
func (o *Ops) List(ctx context.Context, tx *sql.Tx, keyID int64) ([]Snapshot, error) {
	rows, err := tx.QueryContext(ctx, `SELECT version, op, ts FROM history WHERE key_id=? ORDER BY version ASC`, keyID)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, err, "history list: %v", err)
	}
	defer rows.Close()
	var out []Snapshot
	for rows.Next() {
		var s Snapshot
		if err := rows.Scan(&s.Version, &s.Op, &s.TS); err != nil {
			return nil, errs.Wrap(errs.KindIO, err, "history list: %v", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Get decodes the payload stored at version, unmarshaling into dest (a
// pointer) via JSON after zstd-decompressing the stored snapshot.
func (o *Ops) Get(ctx context.Context, tx *sql.Tx, keyID, version int64, dest any) (bool, error) {
	var snapshot []byte
	var compressed bool
	err := tx.QueryRowContext(ctx, `SELECT snapshot, compressed FROM history WHERE key_id=? AND version=?`, keyID, version).Scan(&snapshot, &compressed)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errs.Wrap(errs.KindIO, err, "history get: %v", err)
	}
	raw := snapshot
	if compressed {
		decoded, err := o.decoder.DecodeAll(snapshot, nil)
		if err != nil {
			return false, errs.Wrap(errs.KindInternal, err, "history get: decompress: %v", err)
		}
		raw = decoded
	}
	if err := goccyjson.Unmarshal(raw, dest); err != nil {
		return false, errs.Wrap(errs.KindInternal, err, "history get: %v", err)
	}
	return true, nil
}

// Revert re-applies the payload stored at version as the key's current
// value via applyFn, then records the revert itself as a new version —
// reverting counts toward the retention budget like any other write, it
// does not rewind the version counter (the spec's resolved open question).
func (o *Ops) Revert(ctx context.Context, tx *sql.Tx, db int, keyID int64, keyName string, version int64, dest any, applyFn func(restored any) error, now int64) error {
	found, err := o.Get(ctx, tx, keyID, version, dest)
	if err != nil {
		return err
	}
	if !found {
		return errs.New(errs.KindNotFound, "no such history version")
	}
	if err := applyFn(dest); err != nil {
		return err
	}
	return o.Record(ctx, tx, db, keyID, keyName, "REVERT", dest, now)
}
