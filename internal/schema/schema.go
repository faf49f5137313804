// Package schema owns the on-disk relational layout (spec.md §3) and applies
// it idempotently on open, the way the teacher's StringStore reconciles
// existing state before accepting operations
// (internal/repo/store/store.go.reconcile in the teacher).
package schema

import (
	"context"
	"database/sql"
	"fmt"
)

// statements is applied in order; every statement is an idempotent DDL
// change (CREATE ... IF NOT EXISTS) so Apply is safe to call on every open.
var statements = []string{
	// --- key metadata (spec.md §4.1) ---
	`CREATE TABLE IF NOT EXISTS keys (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		db INTEGER NOT NULL,
		name BLOB NOT NULL,
		type INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		expire_at INTEGER,
		version INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_keys_db_name ON keys(db, name)`,
	`CREATE INDEX IF NOT EXISTS idx_keys_expire_at ON keys(expire_at) WHERE expire_at IS NOT NULL`,

	// --- strings (spec.md §4.2) ---
	`CREATE TABLE IF NOT EXISTS strings (
		key_id INTEGER PRIMARY KEY REFERENCES keys(id) ON DELETE CASCADE,
		value BLOB NOT NULL
	)`,

	// --- hashes (spec.md §4.6) ---
	`CREATE TABLE IF NOT EXISTS hashes (
		key_id INTEGER NOT NULL REFERENCES keys(id) ON DELETE CASCADE,
		field BLOB NOT NULL,
		value BLOB NOT NULL,
		PRIMARY KEY (key_id, field)
	)`,

	// --- lists: gap-based position allocator (spec.md §4.3) ---
	`CREATE TABLE IF NOT EXISTS lists (
		key_id INTEGER NOT NULL REFERENCES keys(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		value BLOB NOT NULL,
		PRIMARY KEY (key_id, position)
	)`,

	// --- sets (spec.md §4.6) ---
	`CREATE TABLE IF NOT EXISTS sets (
		key_id INTEGER NOT NULL REFERENCES keys(id) ON DELETE CASCADE,
		member BLOB NOT NULL,
		PRIMARY KEY (key_id, member)
	)`,

	// --- sorted sets (spec.md §4.4) ---
	`CREATE TABLE IF NOT EXISTS zsets (
		key_id INTEGER NOT NULL REFERENCES keys(id) ON DELETE CASCADE,
		member BLOB NOT NULL,
		score REAL NOT NULL,
		PRIMARY KEY (key_id, member)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_zsets_order ON zsets(key_id, score, member)`,

	// --- streams (spec.md §4.5) ---
	`CREATE TABLE IF NOT EXISTS streams (
		key_id INTEGER NOT NULL REFERENCES keys(id) ON DELETE CASCADE,
		ms INTEGER NOT NULL,
		seq INTEGER NOT NULL,
		payload BLOB NOT NULL,
		PRIMARY KEY (key_id, ms, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS stream_groups (
		key_id INTEGER NOT NULL REFERENCES keys(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		last_ms INTEGER NOT NULL,
		last_seq INTEGER NOT NULL,
		PRIMARY KEY (key_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS stream_pending (
		key_id INTEGER NOT NULL REFERENCES keys(id) ON DELETE CASCADE,
		group_name TEXT NOT NULL,
		ms INTEGER NOT NULL,
		seq INTEGER NOT NULL,
		consumer TEXT NOT NULL,
		delivery_count INTEGER NOT NULL DEFAULT 1,
		delivered_at INTEGER NOT NULL,
		PRIMARY KEY (key_id, group_name, ms, seq)
	)`,

	// --- geo: auxiliary to a sorted-set-like key, mirrored into an R*Tree (spec.md §4.6) ---
	`CREATE TABLE IF NOT EXISTS geo_members (
		key_id INTEGER NOT NULL REFERENCES keys(id) ON DELETE CASCADE,
		member BLOB NOT NULL,
		longitude REAL NOT NULL,
		latitude REAL NOT NULL,
		rtree_id INTEGER NOT NULL,
		PRIMARY KEY (key_id, member)
	)`,
	`CREATE VIRTUAL TABLE IF NOT EXISTS geo_rtree USING rtree(
		id,
		min_lon, max_lon,
		min_lat, max_lat
	)`,

	// --- vector sets (spec.md §4.6) ---
	`CREATE TABLE IF NOT EXISTS vector_sets (
		key_id INTEGER PRIMARY KEY REFERENCES keys(id) ON DELETE CASCADE,
		dim INTEGER NOT NULL,
		metric TEXT NOT NULL DEFAULT 'cosine'
	)`,
	`CREATE TABLE IF NOT EXISTS vector_items (
		key_id INTEGER NOT NULL REFERENCES keys(id) ON DELETE CASCADE,
		name BLOB NOT NULL,
		vector BLOB NOT NULL,
		attrs BLOB,
		PRIMARY KEY (key_id, name)
	)`,

	// --- full-text indexes (spec.md §4.6) ---
	`CREATE TABLE IF NOT EXISTS fts_indexes (
		name TEXT PRIMARY KEY,
		db INTEGER NOT NULL,
		target TEXT NOT NULL,
		prefixes TEXT NOT NULL,
		fields TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS fts_docs (
		index_name TEXT NOT NULL REFERENCES fts_indexes(name) ON DELETE CASCADE,
		db INTEGER NOT NULL,
		key BLOB NOT NULL,
		doc_rowid INTEGER NOT NULL,
		PRIMARY KEY (index_name, db, key)
	)`,
	`CREATE TABLE IF NOT EXISTS fts_tags (
		index_name TEXT NOT NULL REFERENCES fts_indexes(name) ON DELETE CASCADE,
		doc_rowid INTEGER NOT NULL,
		field TEXT NOT NULL,
		value TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_fts_tags_lookup ON fts_tags(index_name, field, value)`,
	`CREATE TABLE IF NOT EXISTS fts_numeric (
		index_name TEXT NOT NULL REFERENCES fts_indexes(name) ON DELETE CASCADE,
		doc_rowid INTEGER NOT NULL,
		field TEXT NOT NULL,
		value REAL NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_fts_numeric_lookup ON fts_numeric(index_name, field, value)`,

	// --- history (spec.md §4.6) ---
	`CREATE TABLE IF NOT EXISTS history (
		key_id INTEGER NOT NULL REFERENCES keys(id) ON DELETE CASCADE,
		version INTEGER NOT NULL,
		op TEXT NOT NULL,
		ts INTEGER NOT NULL,
		snapshot BLOB NOT NULL,
		compressed INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (key_id, version)
	)`,

	// --- four-tier scope configuration shared by history/vectors/fts (spec.md §3.3) ---
	`CREATE TABLE IF NOT EXISTS scope_config (
		subsystem TEXT NOT NULL,
		scope_type TEXT NOT NULL,
		scope_value TEXT NOT NULL,
		params TEXT NOT NULL,
		PRIMARY KEY (subsystem, scope_type, scope_value)
	)`,
}

// Apply creates every table and index idempotently, matching the
// "CREATE ... IF NOT EXISTS" contract of spec.md §6.
func Apply(ctx context.Context, db *sql.DB) error {
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
