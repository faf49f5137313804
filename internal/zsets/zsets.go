// Package zsets implements the Sorted Set ops component (spec.md §4.4):
// score-ordered membership, rank queries, and the union/inter/diff family
// with weights and aggregation, treating plain Sets as all-score-1 inputs
// when a caller mixes the two.
package zsets

import (
	"bytes"
	"context"
	"database/sql"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/redlite/redlite/internal/errs"
	"github.com/redlite/redlite/internal/keys"
)

type Ops struct{ keys *keys.Manager }

func New(km *keys.Manager) *Ops { return &Ops{keys: km} }

// Member is one (score, member) pair, the unit ZRANGE WITHSCORES et al
// operate on.
type Member struct {
	Member []byte
	Score  float64
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

// AddOptions captures ZADD's flag set (spec.md §4.4).
type AddOptions struct {
	NX, XX bool
	GT, LT bool
	CH     bool
	Incr   bool
}

// ZAdd inserts or updates scored members, honoring NX/XX/GT/LT/CH, and
// returns the count ZADD reports: newly-added members, or (if CH) added plus
// changed.
func (o *Ops) ZAdd(ctx context.Context, tx *sql.Tx, db int, key []byte, members []Member, opts AddOptions, now int64) (int64, error) {
	row, err := o.keys.EnsureKey(ctx, tx, db, key, keys.TypeZSet, now)
	if err != nil {
		return 0, err
	}
	var added, changed int64
	for _, m := range members {
		var existing sql.NullFloat64
		if err := tx.QueryRowContext(ctx, `SELECT score FROM zsets WHERE key_id=? AND member=?`, row.ID, m.Member).Scan(&existing); err != nil && err != sql.ErrNoRows {
			return 0, errs.Wrap(errs.KindIO, err, "zadd: %v", err)
		}
		exists := existing.Valid
		if opts.NX && exists {
			continue
		}
		if opts.XX && !exists {
			continue
		}
		newScore := m.Score
		if exists {
			if opts.GT && newScore <= existing.Float64 {
				continue
			}
			if opts.LT && newScore >= existing.Float64 {
				continue
			}
			if newScore != existing.Float64 {
				changed++
			}
		} else {
			added++
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO zsets(key_id, member, score) VALUES (?, ?, ?)
			ON CONFLICT(key_id, member) DO UPDATE SET score = excluded.score`, row.ID, m.Member, newScore); err != nil {
			return 0, errs.Wrap(errs.KindIO, err, "zadd: %v", err)
		}
	}
	if added > 0 || changed > 0 {
		if err := o.keys.Touch(ctx, tx, row.ID, now); err != nil {
			return 0, err
		}
	}
	if opts.CH {
		return added + changed, nil
	}
	return added, nil
}

// ZIncrBy adds delta to member's score (creating it at 0 first if absent)
// and returns the resulting score.
func (o *Ops) ZIncrBy(ctx context.Context, tx *sql.Tx, db int, key []byte, member []byte, delta float64, now int64) (float64, error) {
	row, err := o.keys.EnsureKey(ctx, tx, db, key, keys.TypeZSet, now)
	if err != nil {
		return 0, err
	}
	var cur float64
	err = tx.QueryRowContext(ctx, `SELECT score FROM zsets WHERE key_id=? AND member=?`, row.ID, member).Scan(&cur)
	if err != nil && err != sql.ErrNoRows {
		return 0, errs.Wrap(errs.KindIO, err, "zincrby: %v", err)
	}
	next := cur + delta
	if math.IsNaN(next) {
		return 0, errs.New(errs.KindNotFloat, "resulting score is not a number (NaN)")
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO zsets(key_id, member, score) VALUES (?, ?, ?)
		ON CONFLICT(key_id, member) DO UPDATE SET score = excluded.score`, row.ID, member, next); err != nil {
		return 0, errs.Wrap(errs.KindIO, err, "zincrby: %v", err)
	}
	if err := o.keys.Touch(ctx, tx, row.ID, now); err != nil {
		return 0, err
	}
	return next, nil
}

// ZAddIncr implements `ZADD key [NX|XX] [GT|LT] [CH] INCR delta member`:
// equivalent to ZIncrBy but honoring the same NX/XX/GT/LT gate ZAdd does,
// and returning nil (rather than writing) when the gate blocks the member
// (spec.md §4.4: "ZADD INCR is equivalent to ZINCRBY except returns the new
// score (or nil when NX/XX conditions forbid the write)").
func (o *Ops) ZAddIncr(ctx context.Context, tx *sql.Tx, db int, key, member []byte, delta float64, opts AddOptions, now int64) (*float64, error) {
	row, err := o.keys.EnsureKey(ctx, tx, db, key, keys.TypeZSet, now)
	if err != nil {
		return nil, err
	}
	var existing sql.NullFloat64
	if err := tx.QueryRowContext(ctx, `SELECT score FROM zsets WHERE key_id=? AND member=?`, row.ID, member).Scan(&existing); err != nil && err != sql.ErrNoRows {
		return nil, errs.Wrap(errs.KindIO, err, "zadd incr: %v", err)
	}
	exists := existing.Valid
	if opts.NX && exists {
		return nil, nil
	}
	if opts.XX && !exists {
		return nil, nil
	}
	base := 0.0
	if exists {
		base = existing.Float64
	}
	next := base + delta
	if math.IsNaN(next) {
		return nil, errs.New(errs.KindNotFloat, "resulting score is not a number (NaN)")
	}
	if exists {
		if opts.GT && next <= existing.Float64 {
			return nil, nil
		}
		if opts.LT && next >= existing.Float64 {
			return nil, nil
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO zsets(key_id, member, score) VALUES (?, ?, ?)
		ON CONFLICT(key_id, member) DO UPDATE SET score = excluded.score`, row.ID, member, next); err != nil {
		return nil, errs.Wrap(errs.KindIO, err, "zadd incr: %v", err)
	}
	if err := o.keys.Touch(ctx, tx, row.ID, now); err != nil {
		return nil, err
	}
	return &next, nil
}

func (o *Ops) ZScore(ctx context.Context, tx *sql.Tx, db int, key, member []byte, now int64) (float64, bool, error) {
	row, err := o.typeGuard(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return 0, false, err
	}
	var s float64
	if err := tx.QueryRowContext(ctx, `SELECT score FROM zsets WHERE key_id=? AND member=?`, row.ID, member).Scan(&s); err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, errs.Wrap(errs.KindIO, err, "zscore: %v", err)
	}
	return s, true, nil
}

func (o *Ops) ZMScore(ctx context.Context, tx *sql.Tx, db int, key []byte, members [][]byte, now int64) ([]*float64, error) {
	out := make([]*float64, len(members))
	for i, m := range members {
		s, ok, err := o.ZScore(ctx, tx, db, key, m, now)
		if err != nil {
			return nil, err
		}
		if ok {
			v := s
			out[i] = &v
		}
	}
	return out, nil
}

func (o *Ops) ZCard(ctx context.Context, tx *sql.Tx, db int, key []byte, now int64) (int64, error) {
	row, err := o.typeGuard(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return 0, err
	}
	var n int64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM zsets WHERE key_id=?`, row.ID).Scan(&n); err != nil {
		return 0, errs.Wrap(errs.KindIO, err, "zcard: %v", err)
	}
	return n, nil
}

func (o *Ops) ZRem(ctx context.Context, tx *sql.Tx, db int, key []byte, members [][]byte, now int64) (int64, error) {
	row, err := o.typeGuard(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return 0, err
	}
	var removed int64
	for _, m := range members {
		res, err := tx.ExecContext(ctx, `DELETE FROM zsets WHERE key_id=? AND member=?`, row.ID, m)
		if err != nil {
			return 0, errs.Wrap(errs.KindIO, err, "zrem: %v", err)
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

// rank returns the 0-based position of member in ascending score order, or
// -1 if absent. Ties break on member bytes, matching the idx_zsets_order
// index's (score, member) ordering.
func (o *Ops) rank(ctx context.Context, tx *sql.Tx, keyID int64, member []byte) (int64, error) {
	var n int64
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM zsets z1, zsets z2
		WHERE z1.key_id=? AND z2.key_id=? AND z2.member=?
		AND (z1.score < z2.score OR (z1.score = z2.score AND z1.member < z2.member))`,
		keyID, keyID, member).Scan(&n)
	return n, err
}

func (o *Ops) ZRank(ctx context.Context, tx *sql.Tx, db int, key, member []byte, now int64) (int64, bool, error) {
	row, err := o.typeGuard(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return 0, false, err
	}
	_, ok, err := o.ZScore(ctx, tx, db, key, member, now)
	if err != nil || !ok {
		return 0, false, err
	}
	n, err := o.rank(ctx, tx, row.ID, member)
	if err != nil {
		return 0, false, errs.Wrap(errs.KindIO, err, "zrank: %v", err)
	}
	return n, true, nil
}

func (o *Ops) ZRevRank(ctx context.Context, tx *sql.Tx, db int, key, member []byte, now int64) (int64, bool, error) {
	card, err := o.ZCard(ctx, tx, db, key, now)
	if err != nil {
		return 0, false, err
	}
	rank, ok, err := o.ZRank(ctx, tx, db, key, member, now)
	if err != nil || !ok {
		return 0, false, err
	}
	return card - 1 - rank, true, nil
}

// ZRange returns the window [start, stop] by rank, ascending by default or
// descending if rev is set; negative indices count from the tail.
func (o *Ops) ZRange(ctx context.Context, tx *sql.Tx, db int, key []byte, start, stop int64, rev bool, now int64) ([]Member, error) {
	row, err := o.typeGuard(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return nil, err
	}
	n, err := o.ZCard(ctx, tx, db, key, now)
	if err != nil {
		return nil, err
	}
	start, stop = resolveRange(start, stop, n)
	if start > stop || n == 0 {
		return []Member{}, nil
	}
	order := "ASC"
	if rev {
		order = "DESC"
	}
	limit := stop - start + 1
	rows, err := tx.QueryContext(ctx, `SELECT member, score FROM zsets WHERE key_id=? ORDER BY score `+order+`, member `+order+` LIMIT ? OFFSET ?`,
		row.ID, limit, start)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, err, "zrange: %v", err)
	}
	defer rows.Close()
	var out []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.Member, &m.Score); err != nil {
			return nil, errs.Wrap(errs.KindIO, err, "zrange: %v", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ScoreBound is a ZRANGEBYSCORE/ZCOUNT endpoint: a numeric value, possibly
// exclusive, possibly +/-infinity.
type ScoreBound struct {
	Value     float64
	Exclusive bool
}

// ParseScoreBound parses Redis's "[(]<float>|+inf|-inf" syntax.
func ParseScoreBound(s string) (ScoreBound, error) {
	exclusive := false
	if strings.HasPrefix(s, "(") {
		exclusive = true
		s = s[1:]
	}
	switch s {
	case "+inf", "inf":
		return ScoreBound{Value: math.Inf(1), Exclusive: exclusive}, nil
	case "-inf":
		return ScoreBound{Value: math.Inf(-1), Exclusive: exclusive}, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return ScoreBound{}, errs.New(errs.KindNotFloat, "min or max is not a float")
	}
	return ScoreBound{Value: v, Exclusive: exclusive}, nil
}

func (o *Ops) ZCount(ctx context.Context, tx *sql.Tx, db int, key []byte, min, max ScoreBound, now int64) (int64, error) {
	row, err := o.typeGuard(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return 0, err
	}
	minOp, maxOp := ">=", "<="
	if min.Exclusive {
		minOp = ">"
	}
	if max.Exclusive {
		maxOp = "<"
	}
	var n int64
	q := `SELECT COUNT(*) FROM zsets WHERE key_id=? AND score ` + minOp + ` ? AND score ` + maxOp + ` ?`
	if err := tx.QueryRowContext(ctx, q, row.ID, min.Value, max.Value).Scan(&n); err != nil {
		return 0, errs.Wrap(errs.KindIO, err, "zcount: %v", err)
	}
	return n, nil
}

// ZRangeByScore returns members with score in [min, max] (honoring
// exclusivity), ascending by (score, member), with an optional
// offset/count window (count<0 means unbounded).
func (o *Ops) ZRangeByScore(ctx context.Context, tx *sql.Tx, db int, key []byte, min, max ScoreBound, offset, count int64, now int64) ([]Member, error) {
	row, err := o.typeGuard(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return nil, err
	}
	minOp, maxOp := ">=", "<="
	if min.Exclusive {
		minOp = ">"
	}
	if max.Exclusive {
		maxOp = "<"
	}
	q := `SELECT member, score FROM zsets WHERE key_id=? AND score ` + minOp + ` ? AND score ` + maxOp + ` ? ORDER BY score ASC, member ASC`
	args := []any{row.ID, min.Value, max.Value}
	if count >= 0 {
		q += ` LIMIT ? OFFSET ?`
		args = append(args, count, offset)
	} else if offset > 0 {
		q += ` LIMIT -1 OFFSET ?`
		args = append(args, offset)
	}
	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, err, "zrangebyscore: %v", err)
	}
	defer rows.Close()
	var out []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.Member, &m.Score); err != nil {
			return nil, errs.Wrap(errs.KindIO, err, "zrangebyscore: %v", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// LexBound is a ZRANGEBYLEX endpoint: "-"/"+" infinities, or "[" (inclusive)
// / "(" (exclusive) followed by the member bytes.
type LexBound struct {
	NegInf, PosInf bool
	Value          []byte
	Exclusive      bool
}

func ParseLexBound(s string) (LexBound, error) {
	switch {
	case s == "-":
		return LexBound{NegInf: true}, nil
	case s == "+":
		return LexBound{PosInf: true}, nil
	case strings.HasPrefix(s, "["):
		return LexBound{Value: []byte(s[1:])}, nil
	case strings.HasPrefix(s, "("):
		return LexBound{Value: []byte(s[1:]), Exclusive: true}, nil
	default:
		return LexBound{}, errs.New(errs.KindSyntax, "min or max not valid string range item")
	}
}

// ZRangeByLex assumes every member carries the same score (the documented
// precondition for lexicographic range queries) and orders purely by member
// bytes.
func (o *Ops) ZRangeByLex(ctx context.Context, tx *sql.Tx, db int, key []byte, min, max LexBound, now int64) ([][]byte, error) {
	row, err := o.typeGuard(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return nil, err
	}
	rows, err := tx.QueryContext(ctx, `SELECT member FROM zsets WHERE key_id=? ORDER BY member ASC`, row.ID)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, err, "zrangebylex: %v", err)
	}
	defer rows.Close()
	var out [][]byte
	for rows.Next() {
		var m []byte
		if err := rows.Scan(&m); err != nil {
			return nil, errs.Wrap(errs.KindIO, err, "zrangebylex: %v", err)
		}
		if !min.NegInf {
			cmp := bytes.Compare(m, min.Value)
			if min.Exclusive && cmp <= 0 {
				continue
			}
			if !min.Exclusive && cmp < 0 {
				continue
			}
		}
		if !max.PosInf {
			cmp := bytes.Compare(m, max.Value)
			if max.Exclusive && cmp >= 0 {
				continue
			}
			if !max.Exclusive && cmp > 0 {
				continue
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (o *Ops) ZRemRangeByRank(ctx context.Context, tx *sql.Tx, db int, key []byte, start, stop int64, now int64) (int64, error) {
	members, err := o.ZRange(ctx, tx, db, key, start, stop, false, now)
	if err != nil {
		return 0, err
	}
	if len(members) == 0 {
		return 0, nil
	}
	names := make([][]byte, len(members))
	for i, m := range members {
		names[i] = m.Member
	}
	return o.ZRem(ctx, tx, db, key, names, now)
}

func (o *Ops) ZRemRangeByScore(ctx context.Context, tx *sql.Tx, db int, key []byte, min, max ScoreBound, now int64) (int64, error) {
	members, err := o.ZRangeByScore(ctx, tx, db, key, min, max, 0, -1, now)
	if err != nil {
		return 0, err
	}
	if len(members) == 0 {
		return 0, nil
	}
	names := make([][]byte, len(members))
	for i, m := range members {
		names[i] = m.Member
	}
	return o.ZRem(ctx, tx, db, key, names, now)
}

// Aggregate is ZUNIONSTORE/ZINTERSTORE's score-combining rule.
type Aggregate int

const (
	AggregateSum Aggregate = iota
	AggregateMin
	AggregateMax
)

func combine(agg Aggregate, a, b float64) float64 {
	switch agg {
	case AggregateMin:
		return math.Min(a, b)
	case AggregateMax:
		return math.Max(a, b)
	default:
		return a + b
	}
}

// loadWeighted loads key as a score map, defaulting every member's score to
// 1 if key is a plain Set (spec.md's "treat sets as all-score-1 inputs"),
// each multiplied by weight.
func (o *Ops) loadWeighted(ctx context.Context, tx *sql.Tx, db int, key []byte, weight float64, now int64) (map[string]float64, error) {
	row, err := o.keys.Lookup(ctx, tx, db, key, now)
	if err != nil {
		return nil, err
	}
	out := map[string]float64{}
	if row == nil {
		return out, nil
	}
	switch row.Type {
	case keys.TypeZSet:
		rows, err := tx.QueryContext(ctx, `SELECT member, score FROM zsets WHERE key_id=?`, row.ID)
		if err != nil {
			return nil, errs.Wrap(errs.KindIO, err, "load weighted: %v", err)
		}
		defer rows.Close()
		for rows.Next() {
			var m []byte
			var s float64
			if err := rows.Scan(&m, &s); err != nil {
				return nil, errs.Wrap(errs.KindIO, err, "load weighted: %v", err)
			}
			out[string(m)] = s * weight
		}
		return out, rows.Err()
	case keys.TypeSet:
		rows, err := tx.QueryContext(ctx, `SELECT member FROM sets WHERE key_id=?`, row.ID)
		if err != nil {
			return nil, errs.Wrap(errs.KindIO, err, "load weighted: %v", err)
		}
		defer rows.Close()
		for rows.Next() {
			var m []byte
			if err := rows.Scan(&m); err != nil {
				return nil, errs.Wrap(errs.KindIO, err, "load weighted: %v", err)
			}
			out[string(m)] = 1 * weight
		}
		return out, rows.Err()
	default:
		return nil, errs.ErrWrongType
	}
}

func (o *Ops) zUnion(ctx context.Context, tx *sql.Tx, db int, ks [][]byte, weights []float64, agg Aggregate, now int64) (map[string]float64, error) {
	out := map[string]float64{}
	for i, k := range ks {
		w := 1.0
		if i < len(weights) {
			w = weights[i]
		}
		m, err := o.loadWeighted(ctx, tx, db, k, w, now)
		if err != nil {
			return nil, err
		}
		for member, score := range m {
			if cur, ok := out[member]; ok {
				out[member] = combine(agg, cur, score)
			} else {
				out[member] = score
			}
		}
	}
	return out, nil
}

func (o *Ops) zInter(ctx context.Context, tx *sql.Tx, db int, ks [][]byte, weights []float64, agg Aggregate, now int64) (map[string]float64, error) {
	if len(ks) == 0 {
		return map[string]float64{}, nil
	}
	maps := make([]map[string]float64, len(ks))
	for i, k := range ks {
		w := 1.0
		if i < len(weights) {
			w = weights[i]
		}
		m, err := o.loadWeighted(ctx, tx, db, k, w, now)
		if err != nil {
			return nil, err
		}
		maps[i] = m
	}
	out := map[string]float64{}
	for member, score := range maps[0] {
		acc := score
		present := true
		for _, m := range maps[1:] {
			s, ok := m[member]
			if !ok {
				present = false
				break
			}
			acc = combine(agg, acc, s)
		}
		if present {
			out[member] = acc
		}
	}
	return out, nil
}

func (o *Ops) storeMembers(ctx context.Context, tx *sql.Tx, db int, dst []byte, scores map[string]float64, now int64) (int64, error) {
	existing, err := o.keys.Lookup(ctx, tx, db, dst, now)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM keys WHERE id=?`, existing.ID); err != nil {
			return 0, errs.Wrap(errs.KindIO, err, "store: clear destination: %v", err)
		}
	}
	if len(scores) == 0 {
		return 0, nil
	}
	row, err := o.keys.EnsureKey(ctx, tx, db, dst, keys.TypeZSet, now)
	if err != nil {
		return 0, err
	}
	// Insertion order doesn't matter for correctness; sorting keeps the
	// write order deterministic.
	names := make([]string, 0, len(scores))
	for m := range scores {
		names = append(names, m)
	}
	sort.Strings(names)
	for _, m := range names {
		if _, err := tx.ExecContext(ctx, `INSERT INTO zsets(key_id, member, score) VALUES (?, ?, ?)`, row.ID, []byte(m), scores[m]); err != nil {
			return 0, errs.Wrap(errs.KindIO, err, "store: %v", err)
		}
	}
	if err := o.keys.Touch(ctx, tx, row.ID, now); err != nil {
		return 0, err
	}
	return int64(len(scores)), nil
}

func (o *Ops) ZUnionStore(ctx context.Context, tx *sql.Tx, db int, dst []byte, ks [][]byte, weights []float64, agg Aggregate, now int64) (int64, error) {
	scores, err := o.zUnion(ctx, tx, db, ks, weights, agg, now)
	if err != nil {
		return 0, err
	}
	return o.storeMembers(ctx, tx, db, dst, scores, now)
}

func (o *Ops) ZInterStore(ctx context.Context, tx *sql.Tx, db int, dst []byte, ks [][]byte, weights []float64, agg Aggregate, now int64) (int64, error) {
	scores, err := o.zInter(ctx, tx, db, ks, weights, agg, now)
	if err != nil {
		return 0, err
	}
	return o.storeMembers(ctx, tx, db, dst, scores, now)
}

// ZDiffStore keeps members of ks[0] absent from every other key, preserving
// ks[0]'s original scores (ZDIFFSTORE does not use weights or aggregation).
func (o *Ops) ZDiffStore(ctx context.Context, tx *sql.Tx, db int, dst []byte, ks [][]byte, now int64) (int64, error) {
	if len(ks) == 0 {
		return o.storeMembers(ctx, tx, db, dst, map[string]float64{}, now)
	}
	base, err := o.loadWeighted(ctx, tx, db, ks[0], 1, now)
	if err != nil {
		return 0, err
	}
	for _, k := range ks[1:] {
		other, err := o.loadWeighted(ctx, tx, db, k, 1, now)
		if err != nil {
			return 0, err
		}
		for m := range other {
			delete(base, m)
		}
	}
	return o.storeMembers(ctx, tx, db, dst, base, now)
}

func (o *Ops) deleteIfEmpty(ctx context.Context, tx *sql.Tx, keyID int64) error {
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM zsets WHERE key_id=?`, keyID).Scan(&n); err != nil {
		return errs.Wrap(errs.KindIO, err, "zset empty check: %v", err)
	}
	if n == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM keys WHERE id=?`, keyID); err != nil {
			return errs.Wrap(errs.KindIO, err, "delete empty zset key: %v", err)
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
