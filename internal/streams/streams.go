// Package streams implements the Stream ops component (spec.md §4.5):
// ID-ordered append-only entries, consumer groups, and delivery tracking.
package streams

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	goccyjson "github.com/goccy/go-json"

	"github.com/redlite/redlite/internal/errs"
	"github.com/redlite/redlite/internal/keys"
)

type Ops struct{ keys *keys.Manager }

func New(km *keys.Manager) *Ops { return &Ops{keys: km} }

// ID is a stream entry identifier: millisecond timestamp plus an
// intra-millisecond sequence number.
type ID struct {
	MS  int64
	Seq int64
}

func (id ID) String() string { return fmt.Sprintf("%d-%d", id.MS, id.Seq) }

func (id ID) Less(other ID) bool {
	if id.MS != other.MS {
		return id.MS < other.MS
	}
	return id.Seq < other.Seq
}

// ParseID parses the "ms-seq" or bare "ms" wire form. A bare ms implies
// seq 0, matching XADD/XRANGE's forgiving ID grammar.
func ParseID(s string) (ID, error) {
	parts := strings.SplitN(s, "-", 2)
	ms, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return ID{}, errs.New(errs.KindSyntax, "Invalid stream ID specified as stream command argument")
	}
	if len(parts) == 1 {
		return ID{MS: ms}, nil
	}
	seq, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return ID{}, errs.New(errs.KindSyntax, "Invalid stream ID specified as stream command argument")
	}
	return ID{MS: ms, Seq: seq}, nil
}

// Field is one name/value pair of a stream entry; order is preserved, as
// Redis streams are not a hash (repeated field names are legal).
type Field struct {
	Name  string
	Value []byte
}

// Entry is one stream record: its assigned ID and ordered fields.
type Entry struct {
	ID     ID
	Fields []Field
}

func encodeFields(fields []Field) ([]byte, error) {
	return goccyjson.Marshal(fields)
}

func decodeFields(payload []byte) ([]Field, error) {
	var fields []Field
	if err := goccyjson.Unmarshal(payload, &fields); err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "decode stream payload: %v", err)
	}
	return fields, nil
}

func (o *Ops) typeGuard(ctx context.Context, tx *sql.Tx, db int, key []byte, now int64) (*keys.Row, error) {
	row, err := o.keys.Lookup(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return row, err
	}
	if row.Type != keys.TypeStream {
		return nil, errs.ErrWrongType
	}
	return row, nil
}

func (o *Ops) lastID(ctx context.Context, tx *sql.Tx, keyID int64) (ID, bool, error) {
	var ms, seq int64
	err := tx.QueryRowContext(ctx, `SELECT ms, seq FROM streams WHERE key_id=? ORDER BY ms DESC, seq DESC LIMIT 1`, keyID).Scan(&ms, &seq)
	if err == sql.ErrNoRows {
		return ID{}, false, nil
	}
	if err != nil {
		return ID{}, false, errs.Wrap(errs.KindIO, err, "stream last id: %v", err)
	}
	return ID{MS: ms, Seq: seq}, true, nil
}

// XAdd appends an entry. A nil explicit requests "*" semantics (ms = now,
// seq derived); a non-nil explicit carries a caller-given ID that must
// exceed the stream's current last ID. maxlen, if >= 0, trims the stream to
// at most that many entries after the append; the trim is exact.
func (o *Ops) XAdd(ctx context.Context, tx *sql.Tx, db int, key []byte, explicit *ID, fields []Field, maxlen int64, now int64) (ID, error) {
	row, err := o.keys.EnsureKey(ctx, tx, db, key, keys.TypeStream, now)
	if err != nil {
		return ID{}, err
	}
	last, hasLast, err := o.lastID(ctx, tx, row.ID)
	if err != nil {
		return ID{}, err
	}

	var id ID
	if explicit == nil {
		id = ID{MS: now}
		if hasLast && last.MS >= id.MS {
			id = ID{MS: last.MS, Seq: last.Seq + 1}
		}
	} else {
		id = *explicit
		if hasLast && !last.Less(id) {
			return ID{}, errs.New(errs.KindSyntax, "The ID specified in XADD is equal or smaller than the target stream top item")
		}
	}

	payload, err := encodeFields(fields)
	if err != nil {
		return ID{}, errs.Wrap(errs.KindInternal, err, "xadd: %v", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO streams(key_id, ms, seq, payload) VALUES (?, ?, ?, ?)`, row.ID, id.MS, id.Seq, payload); err != nil {
		return ID{}, errs.Wrap(errs.KindIO, err, "xadd: %v", err)
	}
	if err := o.keys.Touch(ctx, tx, row.ID, now); err != nil {
		return ID{}, err
	}
	if maxlen >= 0 {
		if _, err := o.trimMaxLen(ctx, tx, row.ID, maxlen); err != nil {
			return ID{}, err
		}
	}
	return id, nil
}

func (o *Ops) trimMaxLen(ctx context.Context, tx *sql.Tx, keyID int64, maxlen int64) (int64, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM streams WHERE key_id=? AND (ms, seq) NOT IN (
		SELECT ms, seq FROM streams WHERE key_id=? ORDER BY ms DESC, seq DESC LIMIT ?
	)`, keyID, keyID, maxlen)
	if err != nil {
		return 0, errs.Wrap(errs.KindIO, err, "xtrim maxlen: %v", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// XTrimMinID deletes every entry whose ID is strictly less than minID.
func (o *Ops) XTrimMinID(ctx context.Context, tx *sql.Tx, db int, key []byte, minID ID, now int64) (int64, error) {
	row, err := o.typeGuard(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM streams WHERE key_id=? AND (ms < ? OR (ms = ? AND seq < ?))`,
		row.ID, minID.MS, minID.MS, minID.Seq)
	if err != nil {
		return 0, errs.Wrap(errs.KindIO, err, "xtrim minid: %v", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (o *Ops) XTrimMaxLen(ctx context.Context, tx *sql.Tx, db int, key []byte, maxlen int64, now int64) (int64, error) {
	row, err := o.typeGuard(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return 0, err
	}
	return o.trimMaxLen(ctx, tx, row.ID, maxlen)
}

func (o *Ops) XLen(ctx context.Context, tx *sql.Tx, db int, key []byte, now int64) (int64, error) {
	row, err := o.typeGuard(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return 0, err
	}
	var n int64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM streams WHERE key_id=?`, row.ID).Scan(&n); err != nil {
		return 0, errs.Wrap(errs.KindIO, err, "xlen: %v", err)
	}
	return n, nil
}

// XRange returns entries with start <= ID <= end, ascending, bounded by
// count (count<=0 means unbounded).
func (o *Ops) XRange(ctx context.Context, tx *sql.Tx, db int, key []byte, start, end ID, count int64, now int64) ([]Entry, error) {
	row, err := o.typeGuard(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return nil, err
	}
	q := `SELECT ms, seq, payload FROM streams WHERE key_id=?
		AND (ms > ? OR (ms = ? AND seq >= ?))
		AND (ms < ? OR (ms = ? AND seq <= ?))
		ORDER BY ms ASC, seq ASC`
	args := []any{row.ID, start.MS, start.MS, start.Seq, end.MS, end.MS, end.Seq}
	if count > 0 {
		q += ` LIMIT ?`
		args = append(args, count)
	}
	return o.queryEntries(ctx, tx, q, args...)
}

func (o *Ops) XRevRange(ctx context.Context, tx *sql.Tx, db int, key []byte, end, start ID, count int64, now int64) ([]Entry, error) {
	row, err := o.typeGuard(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return nil, err
	}
	q := `SELECT ms, seq, payload FROM streams WHERE key_id=?
		AND (ms > ? OR (ms = ? AND seq >= ?))
		AND (ms < ? OR (ms = ? AND seq <= ?))
		ORDER BY ms DESC, seq DESC`
	args := []any{row.ID, start.MS, start.MS, start.Seq, end.MS, end.MS, end.Seq}
	if count > 0 {
		q += ` LIMIT ?`
		args = append(args, count)
	}
	return o.queryEntries(ctx, tx, q, args...)
}

func (o *Ops) queryEntries(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]Entry, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, err, "stream range: %v", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		var payload []byte
		if err := rows.Scan(&e.ID.MS, &e.ID.Seq, &payload); err != nil {
			return nil, errs.Wrap(errs.KindIO, err, "stream range: %v", err)
		}
		fields, err := decodeFields(payload)
		if err != nil {
			return nil, err
		}
		e.Fields = fields
		out = append(out, e)
	}
	return out, rows.Err()
}

// XDel removes specific entries by ID, returning the count actually removed.
func (o *Ops) XDel(ctx context.Context, tx *sql.Tx, db int, key []byte, ids []ID, now int64) (int64, error) {
	row, err := o.typeGuard(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return 0, err
	}
	var removed int64
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, `DELETE FROM streams WHERE key_id=? AND ms=? AND seq=?`, row.ID, id.MS, id.Seq)
		if err != nil {
			return 0, errs.Wrap(errs.KindIO, err, "xdel: %v", err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}
	return removed, nil
}

// XGroupCreate registers a consumer group starting after startAfter (use
// ID{-1,0}-adjacent "$" semantics by passing the stream's current last ID
// from the caller).
func (o *Ops) XGroupCreate(ctx context.Context, tx *sql.Tx, db int, key []byte, group string, startAfter ID, now int64) error {
	row, err := o.typeGuard(ctx, tx, db, key, now)
	if err != nil {
		return err
	}
	if row == nil {
		return errs.New(errs.KindNotFound, "The XGROUP subcommand requires the key to exist")
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO stream_groups(key_id, name, last_ms, last_seq) VALUES (?, ?, ?, ?)`,
		row.ID, group, startAfter.MS, startAfter.Seq)
	if err != nil {
		return errs.Wrap(errs.KindIO, err, "BUSYGROUP Consumer Group name already exists: %v", err)
	}
	return nil
}

func (o *Ops) XGroupDestroy(ctx context.Context, tx *sql.Tx, db int, key []byte, group string, now int64) error {
	row, err := o.typeGuard(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM stream_groups WHERE key_id=? AND name=?`, row.ID, group); err != nil {
		return errs.Wrap(errs.KindIO, err, "xgroup destroy: %v", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM stream_pending WHERE key_id=? AND group_name=?`, row.ID, group); err != nil {
		return errs.Wrap(errs.KindIO, err, "xgroup destroy: %v", err)
	}
	return nil
}

// XReadGroup delivers up to count undelivered entries (ID > the group's
// last-delivered ID) to consumer, recording each as pending.
func (o *Ops) XReadGroup(ctx context.Context, tx *sql.Tx, db int, key []byte, group, consumer string, count int64, now int64) ([]Entry, error) {
	row, err := o.typeGuard(ctx, tx, db, key, now)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, errs.New(errs.KindNotFound, "no such key")
	}
	var lastMS, lastSeq int64
	if err := tx.QueryRowContext(ctx, `SELECT last_ms, last_seq FROM stream_groups WHERE key_id=? AND name=?`, row.ID, group).Scan(&lastMS, &lastSeq); err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.New(errs.KindNotFound, "NOGROUP No such consumer group")
		}
		return nil, errs.Wrap(errs.KindIO, err, "xreadgroup: %v", err)
	}

	q := `SELECT ms, seq, payload FROM streams WHERE key_id=? AND (ms > ? OR (ms = ? AND seq > ?)) ORDER BY ms ASC, seq ASC`
	args := []any{row.ID, lastMS, lastMS, lastSeq}
	if count > 0 {
		q += ` LIMIT ?`
		args = append(args, count)
	}
	entries, err := o.queryEntries(ctx, tx, q, args...)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return entries, nil
	}

	last := entries[len(entries)-1].ID
	if _, err := tx.ExecContext(ctx, `UPDATE stream_groups SET last_ms=?, last_seq=? WHERE key_id=? AND name=?`,
		last.MS, last.Seq, row.ID, group); err != nil {
		return nil, errs.Wrap(errs.KindIO, err, "xreadgroup: %v", err)
	}
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, `INSERT INTO stream_pending(key_id, group_name, ms, seq, consumer, delivery_count, delivered_at)
			VALUES (?, ?, ?, ?, ?, 1, ?)
			ON CONFLICT(key_id, group_name, ms, seq) DO UPDATE SET consumer=excluded.consumer, delivery_count=delivery_count+1, delivered_at=excluded.delivered_at`,
			row.ID, group, e.ID.MS, e.ID.Seq, consumer, now); err != nil {
			return nil, errs.Wrap(errs.KindIO, err, "xreadgroup: %v", err)
		}
	}
	return entries, nil
}

// XAck removes pending entries for group, returning the count acknowledged.
func (o *Ops) XAck(ctx context.Context, tx *sql.Tx, db int, key []byte, group string, ids []ID, now int64) (int64, error) {
	row, err := o.typeGuard(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return 0, err
	}
	var acked int64
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, `DELETE FROM stream_pending WHERE key_id=? AND group_name=? AND ms=? AND seq=?`,
			row.ID, group, id.MS, id.Seq)
		if err != nil {
			return 0, errs.Wrap(errs.KindIO, err, "xack: %v", err)
		}
		n, _ := res.RowsAffected()
		acked += n
	}
	return acked, nil
}

// PendingEntry is one row of XPENDING's extended form.
type PendingEntry struct {
	ID            ID
	Consumer      string
	IdleMS        int64
	DeliveryCount int64
}

func (o *Ops) XPending(ctx context.Context, tx *sql.Tx, db int, key []byte, group string, now int64) ([]PendingEntry, error) {
	row, err := o.typeGuard(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return nil, err
	}
	rows, err := tx.QueryContext(ctx, `SELECT ms, seq, consumer, delivery_count, delivered_at FROM stream_pending
		WHERE key_id=? AND group_name=? ORDER BY ms ASC, seq ASC`, row.ID, group)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, err, "xpending: %v", err)
	}
	defer rows.Close()
	var out []PendingEntry
	for rows.Next() {
		var p PendingEntry
		var deliveredAt int64
		if err := rows.Scan(&p.ID.MS, &p.ID.Seq, &p.Consumer, &p.DeliveryCount, &deliveredAt); err != nil {
			return nil, errs.Wrap(errs.KindIO, err, "xpending: %v", err)
		}
		p.IdleMS = now - deliveredAt
		out = append(out, p)
	}
	return out, rows.Err()
}

// XClaim reassigns pending entries idle for at least minIdleMS to a new
// consumer, incrementing their delivery count, and returns the claimed
// entries.
func (o *Ops) XClaim(ctx context.Context, tx *sql.Tx, db int, key []byte, group, consumer string, minIdleMS int64, ids []ID, now int64) ([]Entry, error) {
	row, err := o.typeGuard(ctx, tx, db, key, now)
	if err != nil || row == nil {
		return nil, err
	}
	var claimed []ID
	for _, id := range ids {
		var deliveredAt int64
		err := tx.QueryRowContext(ctx, `SELECT delivered_at FROM stream_pending WHERE key_id=? AND group_name=? AND ms=? AND seq=?`,
			row.ID, group, id.MS, id.Seq).Scan(&deliveredAt)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, errs.Wrap(errs.KindIO, err, "xclaim: %v", err)
		}
		if now-deliveredAt < minIdleMS {
			continue
		}
		if _, err := tx.ExecContext(ctx, `UPDATE stream_pending SET consumer=?, delivery_count=delivery_count+1, delivered_at=?
			WHERE key_id=? AND group_name=? AND ms=? AND seq=?`, consumer, now, row.ID, group, id.MS, id.Seq); err != nil {
			return nil, errs.Wrap(errs.KindIO, err, "xclaim: %v", err)
		}
		claimed = append(claimed, id)
	}
	if len(claimed) == 0 {
		return nil, nil
	}
	var out []Entry
	for _, id := range claimed {
		var payload []byte
		err := tx.QueryRowContext(ctx, `SELECT payload FROM streams WHERE key_id=? AND ms=? AND seq=?`, row.ID, id.MS, id.Seq).Scan(&payload)
		if err == sql.ErrNoRows {
			// Entry was XDEL'd after delivery but before claim; the pending
			// record stays as a tombstone per Redis's own XCLAIM behavior.
			continue
		}
		if err != nil {
			return nil, errs.Wrap(errs.KindIO, err, "xclaim: %v", err)
		}
		fields, err := decodeFields(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{ID: id, Fields: fields})
	}
	return out, nil
}
