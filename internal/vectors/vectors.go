// Package vectors implements the Vector Set ops component (spec.md §4.6):
// fixed-dimension embeddings with cosine (default), dot-product or L2
// similarity search, ranked by an exact top-K scan.
package vectors

import (
	"context"
	"database/sql"
	"math"
	"sort"

	goccyjson "github.com/goccy/go-json"

	"github.com/redlite/redlite/internal/errs"
	"github.com/redlite/redlite/internal/keys"
)

type Ops struct{ keys *keys.Manager }

func New(km *keys.Manager) *Ops { return &Ops{keys: km} }

// Metric is the similarity function a vector set was created with.
type Metric string

const (
	MetricCosine Metric = "cosine"
	MetricDot    Metric = "dot"
	MetricL2     Metric = "l2"
)

func encodeVector(v []float32) ([]byte, error) { return goccyjson.Marshal(v) }

func decodeVector(b []byte) ([]float32, error) {
	var v []float32
	if err := goccyjson.Unmarshal(b, &v); err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "decode vector: %v", err)
	}
	return v, nil
}

func encodeAttrs(attrs map[string]any) ([]byte, error) {
	if attrs == nil {
		return nil, nil
	}
	return goccyjson.Marshal(attrs)
}

func decodeAttrs(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := goccyjson.Unmarshal(b, &m); err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "decode attrs: %v", err)
	}
	return m, nil
}

// dimAndMetric reads the set's dimension and metric, and doubles as the type
// check: vector sets are always created via VAdd, which inserts the keys and
// vector_sets rows in one transaction, so a key with no vector_sets row holds
// another type and yields ErrWrongType.
func (o *Ops) dimAndMetric(ctx context.Context, tx *sql.Tx, keyID int64) (int, Metric, error) {
	var dim int
	var metric string
	if err := tx.QueryRowContext(ctx, `SELECT dim, metric FROM vector_sets WHERE key_id=?`, keyID).Scan(&dim, &metric); err != nil {
		if err == sql.ErrNoRows {
			return 0, "", errs.ErrWrongType
		}
		return 0, "", errs.Wrap(errs.KindIO, err, "vector set metadata: %v", err)
	}
	return dim, Metric(metric), nil
}

// VAdd inserts or replaces the named vector. The vector set's dimension and
// metric are captured from the first VADD and enforced on every subsequent
// one (spec.md §4.6 "dimension capture/enforcement").
func (o *Ops) VAdd(ctx context.Context, tx *sql.Tx, db int, key []byte, name string, vector []float32, metric Metric, attrs map[string]any, now int64) error {
	row, err := o.keys.Lookup(ctx, tx, db, key, now)
	if err != nil {
		return err
	}
	if row == nil {
		row, err = o.keys.EnsureKey(ctx, tx, db, key, keys.TypeVectorSet, now)
		if err != nil {
			return err
		}
		if metric == "" {
			metric = MetricCosine
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO vector_sets(key_id, dim, metric) VALUES (?, ?, ?)`, row.ID, len(vector), string(metric)); err != nil {
			return errs.Wrap(errs.KindIO, err, "vadd: %v", err)
		}
	} else if row.Type != keys.TypeVectorSet {
		return errs.ErrWrongType
	} else {
		dim, _, err := o.dimAndMetric(ctx, tx, row.ID)
		if err != nil {
			return err
		}
		if dim != len(vector) {
			return errs.New(errs.KindSyntax, "vector dimension %d does not match set dimension %d", len(vector), dim)
		}
	}

	encoded, err := encodeVector(vector)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "vadd: %v", err)
	}
	encodedAttrs, err := encodeAttrs(attrs)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "vadd: %v", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO vector_items(key_id, name, vector, attrs) VALUES (?, ?, ?, ?)
		ON CONFLICT(key_id, name) DO UPDATE SET vector = excluded.vector, attrs = excluded.attrs`,
		row.ID, []byte(name), encoded, encodedAttrs); err != nil {
		return errs.Wrap(errs.KindIO, err, "vadd: %v", err)
	}
	return o.keys.Touch(ctx, tx, row.ID, now)
}

func (o *Ops) VDim(ctx context.Context, tx *sql.Tx, db int, key []byte, now int64) (int, error) {
	row, err := o.keys.Lookup(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return 0, err
	}
	dim, _, err := o.dimAndMetric(ctx, tx, row.ID)
	return dim, err
}

func (o *Ops) VRem(ctx context.Context, tx *sql.Tx, db int, key []byte, name string, now int64) (bool, error) {
	row, err := o.keys.Lookup(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM vector_items WHERE key_id=? AND name=?`, row.ID, []byte(name))
	if err != nil {
		return false, errs.Wrap(errs.KindIO, err, "vrem: %v", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		var remaining int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM vector_items WHERE key_id=?`, row.ID).Scan(&remaining); err != nil {
			return false, errs.Wrap(errs.KindIO, err, "vrem: %v", err)
		}
		if remaining == 0 {
			if _, err := tx.ExecContext(ctx, `DELETE FROM keys WHERE id=?`, row.ID); err != nil {
				return false, errs.Wrap(errs.KindIO, err, "vrem: %v", err)
			}
		}
		if err := o.keys.Touch(ctx, tx, row.ID, now); err != nil {
			return false, err
		}
	}
	return n > 0, nil
}

func (o *Ops) VGet(ctx context.Context, tx *sql.Tx, db int, key []byte, name string, now int64) ([]float32, map[string]any, bool, error) {
	row, err := o.keys.Lookup(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return nil, nil, false, err
	}
	var rawVec, rawAttrs []byte
	if err := tx.QueryRowContext(ctx, `SELECT vector, attrs FROM vector_items WHERE key_id=? AND name=?`, row.ID, []byte(name)).Scan(&rawVec, &rawAttrs); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, false, nil
		}
		return nil, nil, false, errs.Wrap(errs.KindIO, err, "vget: %v", err)
	}
	v, err := decodeVector(rawVec)
	if err != nil {
		return nil, nil, false, err
	}
	a, err := decodeAttrs(rawAttrs)
	if err != nil {
		return nil, nil, false, err
	}
	return v, a, true, nil
}

func similarity(metric Metric, a, b []float32) float64 {
	switch metric {
	case MetricL2:
		var sum float64
		for i := range a {
			d := float64(a[i] - b[i])
			sum += d * d
		}
		return -math.Sqrt(sum) // higher (less negative) is more similar
	case MetricDot:
		var dot float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
		}
		return dot
	default: // cosine
		var dot, na, nb float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
			na += float64(a[i]) * float64(a[i])
			nb += float64(b[i]) * float64(b[i])
		}
		if na == 0 || nb == 0 {
			return 0
		}
		return dot / (math.Sqrt(na) * math.Sqrt(nb))
	}
}

// Neighbor is one VSIM result: a member name and its similarity score.
type Neighbor struct {
	Name  string
	Score float64
}

// VSim returns the topK most similar items to query, descending by score.
func (o *Ops) VSim(ctx context.Context, tx *sql.Tx, db int, key []byte, query []float32, topK int, now int64) ([]Neighbor, error) {
	row, err := o.keys.Lookup(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return nil, err
	}
	dim, metric, err := o.dimAndMetric(ctx, tx, row.ID)
	if err != nil {
		return nil, err
	}
	if len(query) != dim {
		return nil, errs.New(errs.KindSyntax, "query vector dimension %d does not match set dimension %d", len(query), dim)
	}

	rows, err := tx.QueryContext(ctx, `SELECT name, vector FROM vector_items WHERE key_id=?`, row.ID)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, err, "vsim: %v", err)
	}
	defer rows.Close()

	var out []Neighbor
	for rows.Next() {
		var name string
		var rawVec []byte
		if err := rows.Scan(&name, &rawVec); err != nil {
			return nil, errs.Wrap(errs.KindIO, err, "vsim: %v", err)
		}
		v, err := decodeVector(rawVec)
		if err != nil {
			return nil, err
		}
		out = append(out, Neighbor{Name: name, Score: similarity(metric, query, v)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}
