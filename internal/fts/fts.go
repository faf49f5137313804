// Package fts implements the full-text search ops component (spec.md
// §4.6): index definition lifecycle, a dynamically created FTS5 virtual
// table per index, and a small query grammar combining free-text search
// with tag and numeric field conjunctions.
package fts

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	goccyjson "github.com/goccy/go-json"

	"github.com/redlite/redlite/internal/errs"
)

type Ops struct{}

func New() *Ops { return &Ops{} }

// FieldKind is one field's role within an index: searchable text, an exact
// tag, or a range-queryable number.
type FieldKind string

const (
	FieldText    FieldKind = "text"
	FieldTag     FieldKind = "tag"
	FieldNumeric FieldKind = "numeric"
)

// FieldDef is one field in an index schema.
type FieldDef struct {
	Name string
	Kind FieldKind
}

// IndexDef is a full-text index's definition (spec.md "index definition
// lifecycle"): the target key type, the key-prefixes it applies to, and the
// per-field schema.
type IndexDef struct {
	Name     string
	DB       int
	Target   string // "HASH" or "JSON"
	Prefixes []string
	Fields   []FieldDef
}

// vtableName derives the FTS5 virtual table name from the index name; FTS5
// requires a bare identifier, so non-alphanumeric bytes are sanitized.
func vtableName(index string) string {
	var b strings.Builder
	b.WriteString("fts_vt_")
	for _, r := range index {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

// CreateIndex registers def and creates its backing FTS5 virtual table with
// one column per text field. Tag and numeric fields are not part of the
// virtual table; they live in fts_tags/fts_numeric for exact/range lookups
// that FTS5's token index cannot do efficiently.
func (o *Ops) CreateIndex(ctx context.Context, tx *sql.Tx, def IndexDef) error {
	var existing int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM fts_indexes WHERE name=?`, def.Name).Scan(&existing); err == nil {
		return errs.New(errs.KindSyntax, "Index already exists")
	} else if err != sql.ErrNoRows {
		return errs.Wrap(errs.KindIO, err, "ft.create: %v", err)
	}

	var textCols []string
	for _, f := range def.Fields {
		if f.Kind == FieldText {
			textCols = append(textCols, quoteIdent(f.Name))
		}
	}
	if len(textCols) == 0 {
		textCols = []string{"_empty"}
	}
	vt := vtableName(def.Name)
	createSQL := fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS %s USING fts5(%s)`, vt, strings.Join(textCols, ", "))
	if _, err := tx.ExecContext(ctx, createSQL); err != nil {
		return errs.Wrap(errs.KindIO, err, "ft.create: %v", err)
	}

	fieldsJSON, err := goccyjson.Marshal(def.Fields)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "ft.create: %v", err)
	}
	prefixesJSON, err := goccyjson.Marshal(def.Prefixes)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "ft.create: %v", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO fts_indexes(name, db, target, prefixes, fields) VALUES (?, ?, ?, ?, ?)`,
		def.Name, def.DB, def.Target, string(prefixesJSON), string(fieldsJSON)); err != nil {
		return errs.Wrap(errs.KindIO, err, "ft.create: %v", err)
	}
	return nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func (o *Ops) loadIndex(ctx context.Context, tx *sql.Tx, name string) (IndexDef, error) {
	var def IndexDef
	var prefixesJSON, fieldsJSON string
	if err := tx.QueryRowContext(ctx, `SELECT name, db, target, prefixes, fields FROM fts_indexes WHERE name=?`, name).
		Scan(&def.Name, &def.DB, &def.Target, &prefixesJSON, &fieldsJSON); err != nil {
		if err == sql.ErrNoRows {
			return IndexDef{}, errs.New(errs.KindNotFound, "Unknown index name")
		}
		return IndexDef{}, errs.Wrap(errs.KindIO, err, "load index: %v", err)
	}
	if err := goccyjson.Unmarshal([]byte(prefixesJSON), &def.Prefixes); err != nil {
		return IndexDef{}, errs.Wrap(errs.KindInternal, err, "load index: %v", err)
	}
	if err := goccyjson.Unmarshal([]byte(fieldsJSON), &def.Fields); err != nil {
		return IndexDef{}, errs.Wrap(errs.KindInternal, err, "load index: %v", err)
	}
	return def, nil
}

func (o *Ops) DropIndex(ctx context.Context, tx *sql.Tx, name string) error {
	def, err := o.loadIndex(ctx, tx, name)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, vtableName(def.Name))); err != nil {
		return errs.Wrap(errs.KindIO, err, "ft.dropindex: %v", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM fts_indexes WHERE name=?`, name); err != nil {
		return errs.Wrap(errs.KindIO, err, "ft.dropindex: %v", err)
	}
	return nil
}

// MatchesPrefix reports whether key falls under one of the index's key
// prefixes (every index applies to docs whose key starts with one of them).
func MatchesPrefix(def IndexDef, key string) bool {
	if len(def.Prefixes) == 0 {
		return true
	}
	for _, p := range def.Prefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// AddDoc indexes or reindexes one document's field values under index,
// maintaining the rowid<->key mapping in fts_docs and the side tables for
// tag/numeric fields.
func (o *Ops) AddDoc(ctx context.Context, tx *sql.Tx, indexName string, db int, key []byte, fields map[string]string, now int64) error {
	def, err := o.loadIndex(ctx, tx, indexName)
	if err != nil {
		return err
	}
	if !MatchesPrefix(def, string(key)) {
		return nil
	}
	vt := vtableName(def.Name)

	var rowid int64
	err = tx.QueryRowContext(ctx, `SELECT doc_rowid FROM fts_docs WHERE index_name=? AND db=? AND key=?`, indexName, db, key).Scan(&rowid)
	if err != nil && err != sql.ErrNoRows {
		return errs.Wrap(errs.KindIO, err, "ft.add: %v", err)
	}
	exists := err == nil

	if exists {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE rowid=?`, vt), rowid); err != nil {
			return errs.Wrap(errs.KindIO, err, "ft.add: %v", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM fts_tags WHERE index_name=? AND doc_rowid=?`, indexName, rowid); err != nil {
			return errs.Wrap(errs.KindIO, err, "ft.add: %v", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM fts_numeric WHERE index_name=? AND doc_rowid=?`, indexName, rowid); err != nil {
			return errs.Wrap(errs.KindIO, err, "ft.add: %v", err)
		}
	}

	var textCols []string
	var textVals []any
	for _, f := range def.Fields {
		if f.Kind == FieldText {
			textCols = append(textCols, quoteIdent(f.Name))
			textVals = append(textVals, fields[f.Name])
		}
	}
	if len(textCols) == 0 {
		textCols = []string{"_empty"}
		textVals = []any{""}
	}

	if exists {
		// The FTS5 row for this rowid was already deleted above; reinsert
		// under the same explicit rowid so fts_docs's mapping stays valid.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s(rowid, %s) VALUES (?, %s)`, vt, strings.Join(textCols, ", "), placeholdersFor(len(textVals))),
			append([]any{rowid}, textVals...)...); err != nil {
			return errs.Wrap(errs.KindIO, err, "ft.add: %v", err)
		}
	} else {
		res, err := tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s(%s) VALUES (%s)`, vt, strings.Join(textCols, ", "), placeholdersFor(len(textVals))), textVals...)
		if err != nil {
			return errs.Wrap(errs.KindIO, err, "ft.add: %v", err)
		}
		rowid, err = res.LastInsertId()
		if err != nil {
			return errs.Wrap(errs.KindIO, err, "ft.add: %v", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO fts_docs(index_name, db, key, doc_rowid) VALUES (?, ?, ?, ?)`, indexName, db, key, rowid); err != nil {
			return errs.Wrap(errs.KindIO, err, "ft.add: %v", err)
		}
	}

	for _, f := range def.Fields {
		v, ok := fields[f.Name]
		if !ok {
			continue
		}
		switch f.Kind {
		case FieldTag:
			for _, tag := range strings.Split(v, ",") {
				tag = strings.TrimSpace(tag)
				if tag == "" {
					continue
				}
				if _, err := tx.ExecContext(ctx, `INSERT INTO fts_tags(index_name, doc_rowid, field, value) VALUES (?, ?, ?, ?)`,
					indexName, rowid, f.Name, tag); err != nil {
					return errs.Wrap(errs.KindIO, err, "ft.add: %v", err)
				}
			}
		case FieldNumeric:
			n, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return errs.New(errs.KindSyntax, "invalid numeric field %q value %q", f.Name, v)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO fts_numeric(index_name, doc_rowid, field, value) VALUES (?, ?, ?, ?)`,
				indexName, rowid, f.Name, n); err != nil {
				return errs.Wrap(errs.KindIO, err, "ft.add: %v", err)
			}
		}
	}
	return nil
}

func placeholdersFor(n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = "?"
	}
	return strings.Join(ph, ", ")
}

// RemoveDoc deletes a document from the index by key.
func (o *Ops) RemoveDoc(ctx context.Context, tx *sql.Tx, indexName string, db int, key []byte) error {
	var rowid int64
	if err := tx.QueryRowContext(ctx, `SELECT doc_rowid FROM fts_docs WHERE index_name=? AND db=? AND key=?`, indexName, db, key).Scan(&rowid); err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return errs.Wrap(errs.KindIO, err, "ft.del: %v", err)
	}
	vt := vtableName(indexName)
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE rowid=?`, vt), rowid); err != nil {
		return errs.Wrap(errs.KindIO, err, "ft.del: %v", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM fts_tags WHERE index_name=? AND doc_rowid=?`, indexName, rowid); err != nil {
		return errs.Wrap(errs.KindIO, err, "ft.del: %v", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM fts_numeric WHERE index_name=? AND doc_rowid=?`, indexName, rowid); err != nil {
		return errs.Wrap(errs.KindIO, err, "ft.del: %v", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM fts_docs WHERE index_name=? AND db=? AND key=?`, indexName, db, key); err != nil {
		return errs.Wrap(errs.KindIO, err, "ft.del: %v", err)
	}
	return nil
}

// Query is a parsed FT.SEARCH request: free-text goes straight to FTS5's
// MATCH; @field:{tag} and @field:[min max] clauses are evaluated against
// the side tables and intersected with the text match by rowid.
type Query struct {
	MatchText string
	Tags      map[string][]string      // field -> any-of these tags
	Numeric   map[string][2]float64    // field -> [min, max] inclusive
}

// ParseQuery splits an FT.SEARCH query string into its free-text and
// structured clauses. Structured clauses use the syntax
// `@field:{a|b}` for tags and `@field:[min max]` for numeric ranges; any
// remaining tokens are treated as the free-text portion.
func ParseQuery(raw string) (Query, error) {
	q := Query{Tags: map[string][]string{}, Numeric: map[string][2]float64{}}
	var textTokens []string
	tokens := strings.Fields(raw)
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		// A numeric range clause contains a space; rejoin its pieces.
		if strings.HasPrefix(tok, "@") && strings.Contains(tok, ":[") {
			for !strings.HasSuffix(tok, "]") && i+1 < len(tokens) {
				i++
				tok += " " + tokens[i]
			}
		}
		if !strings.HasPrefix(tok, "@") || !strings.Contains(tok, ":") {
			textTokens = append(textTokens, tok)
			continue
		}
		rest := tok[1:]
		parts := strings.SplitN(rest, ":", 2)
		if len(parts) != 2 {
			textTokens = append(textTokens, tok)
			continue
		}
		field, clause := parts[0], parts[1]
		switch {
		case strings.HasPrefix(clause, "{") && strings.HasSuffix(clause, "}"):
			inner := clause[1 : len(clause)-1]
			q.Tags[field] = strings.Split(inner, "|")
		case strings.HasPrefix(clause, "[") && strings.HasSuffix(clause, "]"):
			inner := clause[1 : len(clause)-1]
			bounds := strings.Fields(inner)
			if len(bounds) != 2 {
				return Query{}, errs.New(errs.KindSyntax, "invalid numeric range clause %q", tok)
			}
			min, err := strconv.ParseFloat(bounds[0], 64)
			if err != nil {
				return Query{}, errs.New(errs.KindSyntax, "invalid numeric range clause %q", tok)
			}
			max, err := strconv.ParseFloat(bounds[1], 64)
			if err != nil {
				return Query{}, errs.New(errs.KindSyntax, "invalid numeric range clause %q", tok)
			}
			q.Numeric[field] = [2]float64{min, max}
		default:
			textTokens = append(textTokens, tok)
		}
	}
	q.MatchText = strings.Join(textTokens, " ")
	return q, nil
}

// SearchHit is one FT.SEARCH result: the original key and its matching doc.
type SearchHit struct {
	Key []byte
	Db  int
}

// Search executes q against indexName, intersecting FTS5's text match with
// every tag/numeric clause by rowid.
func (o *Ops) Search(ctx context.Context, tx *sql.Tx, indexName string, q Query, limit int) ([]SearchHit, error) {
	def, err := o.loadIndex(ctx, tx, indexName)
	if err != nil {
		return nil, err
	}
	vt := vtableName(def.Name)

	var rowids map[int64]bool
	if q.MatchText != "" {
		rows, err := tx.QueryContext(ctx, fmt.Sprintf(`SELECT rowid FROM %s WHERE %s MATCH ?`, vt, vt), q.MatchText)
		if err != nil {
			return nil, errs.Wrap(errs.KindIO, err, "ft.search: %v", err)
		}
		rowids = map[int64]bool{}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, errs.Wrap(errs.KindIO, err, "ft.search: %v", err)
			}
			rowids[id] = true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	for field, tags := range q.Tags {
		placeholders := placeholdersFor(len(tags))
		args := make([]any, 0, len(tags)+2)
		args = append(args, indexName, field)
		for _, t := range tags {
			args = append(args, t)
		}
		rows, err := tx.QueryContext(ctx, fmt.Sprintf(`SELECT DISTINCT doc_rowid FROM fts_tags WHERE index_name=? AND field=? AND value IN (%s)`, placeholders), args...)
		if err != nil {
			return nil, errs.Wrap(errs.KindIO, err, "ft.search: %v", err)
		}
		matched := map[int64]bool{}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, errs.Wrap(errs.KindIO, err, "ft.search: %v", err)
			}
			matched[id] = true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
		rowids = intersect(rowids, matched)
	}

	for field, bounds := range q.Numeric {
		rows, err := tx.QueryContext(ctx, `SELECT DISTINCT doc_rowid FROM fts_numeric WHERE index_name=? AND field=? AND value >= ? AND value <= ?`,
			indexName, field, bounds[0], bounds[1])
		if err != nil {
			return nil, errs.Wrap(errs.KindIO, err, "ft.search: %v", err)
		}
		matched := map[int64]bool{}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, errs.Wrap(errs.KindIO, err, "ft.search: %v", err)
			}
			matched[id] = true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
		rowids = intersect(rowids, matched)
	}

	if rowids == nil {
		// The query carried no clause to narrow by: every doc in the index
		// is a candidate.
		rows, err := tx.QueryContext(ctx, `SELECT doc_rowid FROM fts_docs WHERE index_name=?`, indexName)
		if err != nil {
			return nil, errs.Wrap(errs.KindIO, err, "ft.search: %v", err)
		}
		rowids = map[int64]bool{}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, errs.Wrap(errs.KindIO, err, "ft.search: %v", err)
			}
			rowids[id] = true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	var out []SearchHit
	for id := range rowids {
		var key []byte
		var db int
		if err := tx.QueryRowContext(ctx, `SELECT key, db FROM fts_docs WHERE index_name=? AND doc_rowid=?`, indexName, id).Scan(&key, &db); err != nil {
			if err == sql.ErrNoRows {
				continue
			}
			return nil, errs.Wrap(errs.KindIO, err, "ft.search: %v", err)
		}
		out = append(out, SearchHit{Key: key, Db: db})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func intersect(a, b map[int64]bool) map[int64]bool {
	if a == nil {
		return b
	}
	out := map[int64]bool{}
	for id := range a {
		if b[id] {
			out[id] = true
		}
	}
	return out
}
