// Package strings implements the String ops component (spec.md §4.2):
// GET/SET and the APPEND/INCR/range families, all routed through the key
// metadata manager for type-guarding and TTL.
package strings

import (
	"context"
	"database/sql"
	"math"
	"strconv"

	"github.com/redlite/redlite/internal/errs"
	"github.com/redlite/redlite/internal/keys"
)

// Ops implements the String component over a transaction-scoped executor.
type Ops struct {
	keys *keys.Manager
}

func New(km *keys.Manager) *Ops { return &Ops{keys: km} }

// SetOptions captures SET's optional modifiers (spec.md §4.2).
type SetOptions struct {
	TTLMillis *int64 // nil = no explicit TTL in this call
	KeepTTL   bool
	NX        bool
	XX        bool
}

// Get returns the string value, or (nil, false) if the key is absent.
func (o *Ops) Get(ctx context.Context, tx *sql.Tx, db int, key []byte, now int64) ([]byte, bool, error) {
	row, err := o.keys.Lookup(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return nil, false, err
	}
	if row.Type != keys.TypeString {
		return nil, false, errs.ErrWrongType
	}
	var v []byte
	if err := tx.QueryRowContext(ctx, `SELECT value FROM strings WHERE key_id = ?`, row.ID).Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, errs.Wrap(errs.KindIO, err, "get: %v", err)
	}
	return v, true, nil
}

// Set implements SET with its NX/XX/TTL/KEEPTTL modifiers. Returns false if
// NX/XX prevented the write.
func (o *Ops) Set(ctx context.Context, tx *sql.Tx, db int, key, value []byte, now int64, opts SetOptions) (bool, error) {
	existing, err := o.keys.Lookup(ctx, tx, db, key, now)
	if err != nil {
		return false, err
	}
	if existing != nil && existing.Type != keys.TypeString {
		return false, errs.ErrWrongType
	}
	if opts.NX && existing != nil {
		return false, nil
	}
	if opts.XX && existing == nil {
		return false, nil
	}

	row, err := o.keys.EnsureKey(ctx, tx, db, key, keys.TypeString, now)
	if err != nil {
		return false, err
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO strings(key_id, value) VALUES (?, ?)
		ON CONFLICT(key_id) DO UPDATE SET value = excluded.value`, row.ID, value); err != nil {
		return false, errs.Wrap(errs.KindIO, err, "set: %v", err)
	}

	switch {
	case opts.TTLMillis != nil:
		if err := o.keys.SetTTL(ctx, tx, row.ID, now+*opts.TTLMillis); err != nil {
			return false, err
		}
	case opts.KeepTTL:
		// leave expire_at untouched
	default:
		if err := o.keys.ClearTTL(ctx, tx, row.ID); err != nil {
			return false, err
		}
	}

	if err := o.keys.Touch(ctx, tx, row.ID, now); err != nil {
		return false, err
	}
	return true, nil
}

// GetDel returns the value and deletes the key atomically.
func (o *Ops) GetDel(ctx context.Context, tx *sql.Tx, db int, key []byte, now int64) ([]byte, bool, error) {
	v, ok, err := o.Get(ctx, tx, db, key, now)
	if err != nil || !ok {
		return nil, ok, err
	}
	if _, err := o.keys.Delete(ctx, tx, db, key, now); err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// GetSet sets a new value and returns the old one (nil, false if absent).
func (o *Ops) GetSet(ctx context.Context, tx *sql.Tx, db int, key, value []byte, now int64) ([]byte, bool, error) {
	old, hadOld, err := o.Get(ctx, tx, db, key, now)
	if err != nil {
		return nil, false, err
	}
	if _, err := o.Set(ctx, tx, db, key, value, now, SetOptions{}); err != nil {
		return nil, false, err
	}
	return old, hadOld, nil
}

// Append concatenates bytes to the existing value (creating the key if
// absent) and returns the new length.
func (o *Ops) Append(ctx context.Context, tx *sql.Tx, db int, key, suffix []byte, now int64) (int64, error) {
	existing, _, err := o.Get(ctx, tx, db, key, now)
	if err != nil {
		return 0, err
	}
	newVal := append(append([]byte{}, existing...), suffix...)
	if _, err := o.Set(ctx, tx, db, key, newVal, now, SetOptions{KeepTTL: true}); err != nil {
		return 0, err
	}
	return int64(len(newVal)), nil
}

// StrLen returns the byte length of the value, 0 if absent.
func (o *Ops) StrLen(ctx context.Context, tx *sql.Tx, db int, key []byte, now int64) (int64, error) {
	v, ok, err := o.Get(ctx, tx, db, key, now)
	if err != nil || !ok {
		return 0, err
	}
	return int64(len(v)), nil
}

// GetRange returns the inclusive byte range [start, end], translating
// negative indices from the tail, clamped to the value bounds.
func (o *Ops) GetRange(ctx context.Context, tx *sql.Tx, db int, key []byte, start, end int64, now int64) ([]byte, error) {
	v, ok, err := o.Get(ctx, tx, db, key, now)
	if err != nil || !ok {
		return nil, err
	}
	n := int64(len(v))
	start, end = resolveRange(start, end, n)
	if start > end || n == 0 {
		return []byte{}, nil
	}
	return v[start : end+1], nil
}

// SetRange overwrites bytes starting at offset, zero-padding if offset is
// beyond the current length, and returns the new length.
func (o *Ops) SetRange(ctx context.Context, tx *sql.Tx, db int, key []byte, offset int64, value []byte, now int64) (int64, error) {
	if offset < 0 {
		return 0, errs.New(errs.KindOutOfRange, "offset is out of range")
	}
	existing, _, err := o.Get(ctx, tx, db, key, now)
	if err != nil {
		return 0, err
	}
	newLen := offset + int64(len(value))
	if int64(len(existing)) > newLen {
		newLen = int64(len(existing))
	}
	buf := make([]byte, newLen)
	copy(buf, existing)
	copy(buf[offset:], value)
	if _, err := o.Set(ctx, tx, db, key, buf, now, SetOptions{KeepTTL: true}); err != nil {
		return 0, err
	}
	return int64(len(buf)), nil
}

// Incr adds delta to the integer value (creating it from 0 if absent),
// rejecting non-integer content and 64-bit overflow (spec.md §4.2).
func (o *Ops) Incr(ctx context.Context, tx *sql.Tx, db int, key []byte, delta int64, now int64) (int64, error) {
	existing, ok, err := o.Get(ctx, tx, db, key, now)
	if err != nil {
		return 0, err
	}
	var cur int64
	if ok {
		cur, err = parseStrictInt64(existing)
		if err != nil {
			return 0, err
		}
	}
	next, overflowed := addOverflows(cur, delta)
	if overflowed {
		return 0, errs.New(errs.KindOverflow, "increment or decrement would overflow")
	}
	if _, err := o.Set(ctx, tx, db, key, []byte(strconv.FormatInt(next, 10)), now, SetOptions{KeepTTL: true}); err != nil {
		return 0, err
	}
	return next, nil
}

// IncrByFloat adds delta to the float value, rejecting NaN/Inf results.
func (o *Ops) IncrByFloat(ctx context.Context, tx *sql.Tx, db int, key []byte, delta float64, now int64) (float64, error) {
	existing, ok, err := o.Get(ctx, tx, db, key, now)
	if err != nil {
		return 0, err
	}
	var cur float64
	if ok {
		cur, err = strconv.ParseFloat(string(existing), 64)
		if err != nil {
			return 0, errs.ErrNotFloat
		}
	}
	next := cur + delta
	if math.IsNaN(next) || math.IsInf(next, 0) {
		return 0, errs.New(errs.KindNotFloat, "increment would produce NaN or Infinity")
	}
	formatted := strconv.FormatFloat(next, 'f', -1, 64)
	if _, err := o.Set(ctx, tx, db, key, []byte(formatted), now, SetOptions{KeepTTL: true}); err != nil {
		return 0, err
	}
	return next, nil
}

// MGet fetches multiple keys at once; missing or wrong-typed keys yield nil
// for that position rather than aborting the whole call.
func (o *Ops) MGet(ctx context.Context, tx *sql.Tx, db int, ks [][]byte, now int64) ([][]byte, error) {
	out := make([][]byte, len(ks))
	for i, k := range ks {
		v, ok, err := o.Get(ctx, tx, db, k, now)
		if err != nil {
			if _, isWrongType := errs.As(err, errs.KindWrongType); isWrongType {
				out[i] = nil
				continue
			}
			return nil, err
		}
		if ok {
			out[i] = v
		}
	}
	return out, nil
}

// MSet writes every pair atomically (the whole call runs in one
// transaction already, so "atomic" falls out of the caller's Do wrapper).
func (o *Ops) MSet(ctx context.Context, tx *sql.Tx, db int, pairs map[string][]byte, now int64) error {
	for k, v := range pairs {
		if _, err := o.Set(ctx, tx, db, []byte(k), v, now, SetOptions{}); err != nil {
			return err
		}
	}
	return nil
}

// MSetNX sets every pair only if none of the target keys exist; otherwise
// zero writes occur.
func (o *Ops) MSetNX(ctx context.Context, tx *sql.Tx, db int, pairs map[string][]byte, now int64) (bool, error) {
	for k := range pairs {
		exists, err := o.keys.Exists(ctx, tx, db, []byte(k), now)
		if err != nil {
			return false, err
		}
		if exists {
			return false, nil
		}
	}
	if err := o.MSet(ctx, tx, db, pairs, now); err != nil {
		return false, err
	}
	return true, nil
}

func resolveRange(start, end, n int64) (int64, int64) {
	if start < 0 {
		start += n
	}
	if end < 0 {
		end += n
	}
	if start < 0 {
		start = 0
	}
	if end >= n {
		end = n - 1
	}
	return start, end
}

func parseStrictInt64(b []byte) (int64, error) {
	s := string(b)
	if s == "" || (s[0] == '+' ) {
		return 0, errs.ErrNotInteger
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errs.ErrNotInteger
	}
	return n, nil
}

func addOverflows(a, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, true
	}
	return sum, false
}
