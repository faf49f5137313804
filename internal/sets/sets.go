// Package sets implements the Set ops component (spec.md §4.4): membership,
// cardinality, random sampling, and the diff/inter/union family with their
// STORE variants.
package sets

import (
	"context"
	"crypto/rand"
	"database/sql"
	"math/big"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/redlite/redlite/internal/errs"
	"github.com/redlite/redlite/internal/keys"
)

// bitmapThreshold is the smallest operand size where building roaring
// bitmaps and letting them do the AND/OR/AND-NOT work pays for the
// interning overhead; below it the plain map walk in SDiff/SInter/SUnion is
// already as fast as anything else.
const bitmapThreshold = 256

// interner assigns each member a dense uint32 id on first sight so the
// set-algebra family can hand large operands to roaring.Bitmap instead of
// walking Go maps. It only ever grows for the lifetime of the process: a
// stale id pointing at a member nobody holds anymore is harmless, just a
// hole in the reverse table.
type interner struct {
	mu      sync.Mutex
	ids     map[string]uint32
	members [][]byte
}

func newInterner() *interner {
	return &interner{ids: make(map[string]uint32)}
}

func (in *interner) intern(member []byte) uint32 {
	in.mu.Lock()
	defer in.mu.Unlock()
	if id, ok := in.ids[string(member)]; ok {
		return id
	}
	id := uint32(len(in.members))
	cp := append([]byte(nil), member...)
	in.members = append(in.members, cp)
	in.ids[string(cp)] = id
	return id
}

func (in *interner) member(id uint32) []byte {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.members[id]
}

type Ops struct {
	keys *keys.Manager
	ids  *interner
}

func New(km *keys.Manager) *Ops { return &Ops{keys: km, ids: newInterner()} }

func (o *Ops) typeGuard(ctx context.Context, tx *sql.Tx, db int, key []byte, now int64) (*keys.Row, error) {
	row, err := o.keys.Lookup(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return row, err
	}
	if row.Type != keys.TypeSet {
		return nil, errs.ErrWrongType
	}
	return row, nil
}

// SAdd inserts members, returning the count of members not already present.
func (o *Ops) SAdd(ctx context.Context, tx *sql.Tx, db int, key []byte, members [][]byte, now int64) (int64, error) {
	row, err := o.keys.EnsureKey(ctx, tx, db, key, keys.TypeSet, now)
	if err != nil {
		return 0, err
	}
	var added int64
	for _, m := range members {
		res, err := tx.ExecContext(ctx, `INSERT INTO sets(key_id, member) VALUES (?, ?) ON CONFLICT(key_id, member) DO NOTHING`, row.ID, m)
		if err != nil {
			return 0, errs.Wrap(errs.KindIO, err, "sadd: %v", err)
		}
		n, _ := res.RowsAffected()
		added += n
	}
	if added > 0 {
		if err := o.keys.Touch(ctx, tx, row.ID, now); err != nil {
			return 0, err
		}
	}
	return added, nil
}

func (o *Ops) SRem(ctx context.Context, tx *sql.Tx, db int, key []byte, members [][]byte, now int64) (int64, error) {
	row, err := o.typeGuard(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return 0, err
	}
	var removed int64
	for _, m := range members {
		res, err := tx.ExecContext(ctx, `DELETE FROM sets WHERE key_id=? AND member=?`, row.ID, m)
		if err != nil {
			return 0, errs.Wrap(errs.KindIO, err, "srem: %v", err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}
	if removed > 0 {
		if err := o.deleteIfEmpty(ctx, tx, row.ID); err != nil {
			return 0, err
		}
		if err := o.keys.Touch(ctx, tx, row.ID, now); err != nil {
			return 0, err
		}
	}
	return removed, nil
}

func (o *Ops) SCard(ctx context.Context, tx *sql.Tx, db int, key []byte, now int64) (int64, error) {
	row, err := o.typeGuard(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return 0, err
	}
	var n int64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sets WHERE key_id=?`, row.ID).Scan(&n); err != nil {
		return 0, errs.Wrap(errs.KindIO, err, "scard: %v", err)
	}
	return n, nil
}

func (o *Ops) SIsMember(ctx context.Context, tx *sql.Tx, db int, key, member []byte, now int64) (bool, error) {
	row, err := o.typeGuard(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return false, err
	}
	var x int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM sets WHERE key_id=? AND member=?`, row.ID, member).Scan(&x); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, errs.Wrap(errs.KindIO, err, "sismember: %v", err)
	}
	return true, nil
}

// SMIsMember checks many members in one call.
func (o *Ops) SMIsMember(ctx context.Context, tx *sql.Tx, db int, key []byte, members [][]byte, now int64) ([]bool, error) {
	out := make([]bool, len(members))
	for i, m := range members {
		ok, err := o.SIsMember(ctx, tx, db, key, m, now)
		if err != nil {
			return nil, err
		}
		out[i] = ok
	}
	return out, nil
}

func (o *Ops) SMembers(ctx context.Context, tx *sql.Tx, db int, key []byte, now int64) ([][]byte, error) {
	row, err := o.typeGuard(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return nil, err
	}
	rows, err := tx.QueryContext(ctx, `SELECT member FROM sets WHERE key_id=?`, row.ID)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, err, "smembers: %v", err)
	}
	defer rows.Close()
	var out [][]byte
	for rows.Next() {
		var m []byte
		if err := rows.Scan(&m); err != nil {
			return nil, errs.Wrap(errs.KindIO, err, "smembers: %v", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SPop removes and returns up to count random members, deleting the key if
// it empties out. count<0 is rejected by the caller layer (Redis's SPOP has
// no negative-count form, unlike SRANDMEMBER).
func (o *Ops) SPop(ctx context.Context, tx *sql.Tx, db int, key []byte, count int, now int64) ([][]byte, error) {
	row, err := o.typeGuard(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return nil, err
	}
	rows, err := tx.QueryContext(ctx, `SELECT member FROM sets WHERE key_id=? ORDER BY RANDOM() LIMIT ?`, row.ID, count)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, err, "spop: %v", err)
	}
	var members [][]byte
	for rows.Next() {
		var m []byte
		if err := rows.Scan(&m); err != nil {
			rows.Close()
			return nil, errs.Wrap(errs.KindIO, err, "spop: %v", err)
		}
		members = append(members, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.KindIO, err, "spop: %v", err)
	}
	for _, m := range members {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sets WHERE key_id=? AND member=?`, row.ID, m); err != nil {
			return nil, errs.Wrap(errs.KindIO, err, "spop: %v", err)
		}
	}
	if len(members) > 0 {
		if err := o.deleteIfEmpty(ctx, tx, row.ID); err != nil {
			return nil, err
		}
		if err := o.keys.Touch(ctx, tx, row.ID, now); err != nil {
			return nil, err
		}
	}
	return members, nil
}

// SRandMember samples without removing. A negative count allows repeats (the
// Redis contract): |count| draws, each independently uniform over all
// members, rather than a unique subset.
func (o *Ops) SRandMember(ctx context.Context, tx *sql.Tx, db int, key []byte, count int, now int64) ([][]byte, error) {
	row, err := o.typeGuard(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return nil, err
	}
	if count >= 0 {
		rows, err := tx.QueryContext(ctx, `SELECT member FROM sets WHERE key_id=? ORDER BY RANDOM() LIMIT ?`, row.ID, count)
		if err != nil {
			return nil, errs.Wrap(errs.KindIO, err, "srandmember: %v", err)
		}
		defer rows.Close()
		var out [][]byte
		for rows.Next() {
			var m []byte
			if err := rows.Scan(&m); err != nil {
				return nil, errs.Wrap(errs.KindIO, err, "srandmember: %v", err)
			}
			out = append(out, m)
		}
		return out, rows.Err()
	}

	all, err := o.SMembers(ctx, tx, db, key, now)
	if err != nil || len(all) == 0 {
		return nil, err
	}
	n := -count
	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		idx, err := randIndex(len(all))
		if err != nil {
			return nil, errs.Wrap(errs.KindInternal, err, "srandmember: %v", err)
		}
		out = append(out, all[idx])
	}
	return out, nil
}

func randIndex(n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

func (o *Ops) deleteIfEmpty(ctx context.Context, tx *sql.Tx, keyID int64) error {
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sets WHERE key_id=?`, keyID).Scan(&n); err != nil {
		return errs.Wrap(errs.KindIO, err, "set empty check: %v", err)
	}
	if n == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM keys WHERE id=?`, keyID); err != nil {
			return errs.Wrap(errs.KindIO, err, "delete empty set key: %v", err)
		}
	}
	return nil
}

// loadMembers loads the member set for a key that need not be a Set (plain
// key absence yields an empty set, per SDIFF/SINTER/SUNION semantics where a
// missing key behaves as empty rather than erroring).
func (o *Ops) loadMembers(ctx context.Context, tx *sql.Tx, db int, key []byte, now int64) (map[string][]byte, error) {
	row, err := o.keys.Lookup(ctx, tx, db, key, now)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return map[string][]byte{}, nil
	}
	if row.Type != keys.TypeSet {
		return nil, errs.ErrWrongType
	}
	rows, err := tx.QueryContext(ctx, `SELECT member FROM sets WHERE key_id=?`, row.ID)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, err, "load members: %v", err)
	}
	defer rows.Close()
	out := map[string][]byte{}
	for rows.Next() {
		var m []byte
		if err := rows.Scan(&m); err != nil {
			return nil, errs.Wrap(errs.KindIO, err, "load members: %v", err)
		}
		out[string(m)] = m
	}
	return out, rows.Err()
}

// SDiff computes keys[0] minus the union of keys[1:].
func (o *Ops) SDiff(ctx context.Context, tx *sql.Tx, db int, ks [][]byte, now int64) ([][]byte, error) {
	if len(ks) == 0 {
		return [][]byte{}, nil
	}
	sets, err := o.loadAll(ctx, tx, db, ks, now)
	if err != nil {
		return nil, err
	}
	if o.shouldUseBitmap(sets) {
		return o.bitmapValues(o.bitmapDiff(sets)), nil
	}
	base := sets[0]
	for _, other := range sets[1:] {
		for m := range other {
			delete(base, m)
		}
	}
	return mapValues(base), nil
}

// SInter computes the intersection of every set in ks.
func (o *Ops) SInter(ctx context.Context, tx *sql.Tx, db int, ks [][]byte, now int64) ([][]byte, error) {
	if len(ks) == 0 {
		return [][]byte{}, nil
	}
	sets, err := o.loadAll(ctx, tx, db, ks, now)
	if err != nil {
		return nil, err
	}
	if o.shouldUseBitmap(sets) {
		return o.bitmapValues(o.bitmapInter(sets)), nil
	}
	base := sets[0]
	for _, other := range sets[1:] {
		for m := range base {
			if _, ok := other[m]; !ok {
				delete(base, m)
			}
		}
	}
	return mapValues(base), nil
}

// SUnion computes the union of every set in ks.
func (o *Ops) SUnion(ctx context.Context, tx *sql.Tx, db int, ks [][]byte, now int64) ([][]byte, error) {
	sets, err := o.loadAll(ctx, tx, db, ks, now)
	if err != nil {
		return nil, err
	}
	if o.shouldUseBitmap(sets) {
		return o.bitmapValues(o.bitmapUnion(sets)), nil
	}
	out := map[string][]byte{}
	for _, m := range sets {
		for k2, v := range m {
			out[k2] = v
		}
	}
	return mapValues(out), nil
}

func (o *Ops) loadAll(ctx context.Context, tx *sql.Tx, db int, ks [][]byte, now int64) ([]map[string][]byte, error) {
	out := make([]map[string][]byte, len(ks))
	for i, k := range ks {
		m, err := o.loadMembers(ctx, tx, db, k, now)
		if err != nil {
			return nil, err
		}
		out[i] = m
	}
	return out, nil
}

// shouldUseBitmap hands the operation to roaring.Bitmap once any operand is
// large enough that vectorized AND/OR/AND-NOT beats walking Go maps by
// hand (spec.md §4.12's "in-memory acceleration").
func (o *Ops) shouldUseBitmap(sets []map[string][]byte) bool {
	for _, s := range sets {
		if len(s) >= bitmapThreshold {
			return true
		}
	}
	return false
}

func (o *Ops) bitmapOf(members map[string][]byte) *roaring.Bitmap {
	bm := roaring.New()
	for m := range members {
		bm.Add(o.ids.intern([]byte(m)))
	}
	return bm
}

func (o *Ops) bitmapDiff(sets []map[string][]byte) *roaring.Bitmap {
	base := o.bitmapOf(sets[0])
	for _, s := range sets[1:] {
		base.AndNot(o.bitmapOf(s))
	}
	return base
}

func (o *Ops) bitmapInter(sets []map[string][]byte) *roaring.Bitmap {
	base := o.bitmapOf(sets[0])
	for _, s := range sets[1:] {
		base.And(o.bitmapOf(s))
	}
	return base
}

func (o *Ops) bitmapUnion(sets []map[string][]byte) *roaring.Bitmap {
	base := roaring.New()
	for _, s := range sets {
		base.Or(o.bitmapOf(s))
	}
	return base
}

func (o *Ops) bitmapValues(bm *roaring.Bitmap) [][]byte {
	out := make([][]byte, 0, int(bm.GetCardinality()))
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, o.ids.member(it.Next()))
	}
	return out
}

// storeResult atomically replaces dst's contents with members, creating or
// deleting dst as needed, and returns the resulting cardinality.
func (o *Ops) storeResult(ctx context.Context, tx *sql.Tx, db int, dst []byte, members [][]byte, now int64) (int64, error) {
	existing, err := o.keys.Lookup(ctx, tx, db, dst, now)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM keys WHERE id=?`, existing.ID); err != nil {
			return 0, errs.Wrap(errs.KindIO, err, "store: clear destination: %v", err)
		}
	}
	if len(members) == 0 {
		return 0, nil
	}
	row, err := o.keys.EnsureKey(ctx, tx, db, dst, keys.TypeSet, now)
	if err != nil {
		return 0, err
	}
	for _, m := range members {
		if _, err := tx.ExecContext(ctx, `INSERT INTO sets(key_id, member) VALUES (?, ?)`, row.ID, m); err != nil {
			return 0, errs.Wrap(errs.KindIO, err, "store: %v", err)
		}
	}
	if err := o.keys.Touch(ctx, tx, row.ID, now); err != nil {
		return 0, err
	}
	return int64(len(members)), nil
}

func (o *Ops) SDiffStore(ctx context.Context, tx *sql.Tx, db int, dst []byte, ks [][]byte, now int64) (int64, error) {
	members, err := o.SDiff(ctx, tx, db, ks, now)
	if err != nil {
		return 0, err
	}
	return o.storeResult(ctx, tx, db, dst, members, now)
}

func (o *Ops) SInterStore(ctx context.Context, tx *sql.Tx, db int, dst []byte, ks [][]byte, now int64) (int64, error) {
	members, err := o.SInter(ctx, tx, db, ks, now)
	if err != nil {
		return 0, err
	}
	return o.storeResult(ctx, tx, db, dst, members, now)
}

func (o *Ops) SUnionStore(ctx context.Context, tx *sql.Tx, db int, dst []byte, ks [][]byte, now int64) (int64, error) {
	members, err := o.SUnion(ctx, tx, db, ks, now)
	if err != nil {
		return 0, err
	}
	return o.storeResult(ctx, tx, db, dst, members, now)
}

func mapValues(m map[string][]byte) [][]byte {
	out := make([][]byte, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}
