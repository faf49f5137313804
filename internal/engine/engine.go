// Package engine is the Core: the open→use→close handle wrapping the SQL
// connection, its pragmas, the concurrency governor, the key-metadata
// cache, and the key-change notifier (spec.md §4.11, §9 "Global state").
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofrs/flock"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	_ "modernc.org/sqlite"

	"github.com/redlite/redlite/internal/cache"
	"github.com/redlite/redlite/internal/config"
	"github.com/redlite/redlite/internal/errs"
	"github.com/redlite/redlite/internal/keys"
	"github.com/redlite/redlite/internal/notifier"
	"github.com/redlite/redlite/internal/schema"
)

const numDatabases = 16

// sqlErr wraps a raw modernc.org/sqlite driver error with a stack trace via
// pkg/errors before handing it to the errs.Kind taxonomy, so a caller that
// needs the original driver error back (errors.Cause) doesn't have to
// string-match the errs.Error's message to get it.
func sqlErr(kind errs.Kind, err error, msg string) error {
	return errs.Wrap(kind, pkgerrors.Wrap(err, msg), "%s: %v", msg, err)
}

// Core is the shared engine handle: a single SQLite connection pool (in
// practice, by design, a single live connection — see Open), its governor,
// and the process-wide notifier map (spec.md §9).
type Core struct {
	DB       *sql.DB
	Keys     *keys.Manager
	Cache    *cache.KeyCache
	Notifier *notifier.Notifier
	Log      *zap.Logger
	Opts     config.Options

	governor *semaphore.Weighted
	lock     *flock.Flock
	closed   atomic.Bool
}

// Open creates or opens the on-disk or in-memory SQLite store, applies the
// pragmas from spec.md §6, runs schema.Apply, and returns a ready Core.
func Open(ctx context.Context, opts config.Options, log *zap.Logger) (*Core, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("engine")

	dsn, fileLock, err := resolveDSN(opts)
	if err != nil {
		return nil, err
	}

	// A single *sql.DB with exactly one open connection mirrors spec.md
	// §4.11's "single-mutex-around-engine-handle": the governor semaphore
	// enforces ordering at the Go level, and pinning the pool to one
	// physical connection stops database/sql's own pool from handing out a
	// second SQLite connection underneath it.
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		if fileLock != nil {
			_ = fileLock.Unlock()
		}
		return nil, errs.Wrap(errs.KindIO, err, "open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(ctx, db, opts); err != nil {
		db.Close()
		if fileLock != nil {
			_ = fileLock.Unlock()
		}
		return nil, err
	}

	if err := schema.Apply(ctx, db); err != nil {
		db.Close()
		if fileLock != nil {
			_ = fileLock.Unlock()
		}
		return nil, err
	}

	kc, err := cache.New(opts.CacheMB)
	if err != nil {
		db.Close()
		if fileLock != nil {
			_ = fileLock.Unlock()
		}
		return nil, err
	}

	c := &Core{
		DB:       db,
		Keys:     keys.New(),
		Cache:    kc,
		Notifier: notifier.New(opts.NotifierBufferSize),
		Log:      log,
		Opts:     opts,
		governor: semaphore.NewWeighted(1),
		lock:     fileLock,
	}
	log.Info("engine opened", zap.String("storage", string(opts.Storage)), zap.String("db", opts.DBPath))
	return c, nil
}

func resolveDSN(opts config.Options) (dsn string, fileLock *flock.Flock, err error) {
	if opts.Storage == config.StorageMemory {
		// A named, shared in-memory database so the single *sql.DB
		// connection pool would still see one logical database even if the
		// driver ever opened a second connection.
		return "file::memory:?cache=shared", nil, nil
	}

	fl := flock.New(opts.DBPath + ".lock")
	ok, err := fl.TryLock()
	if err != nil {
		return "", nil, errs.Wrap(errs.KindIO, err, "acquire storage lock: %v", err)
	}
	if !ok {
		return "", nil, errs.New(errs.KindBusy, "another process already holds %s", opts.DBPath)
	}
	return opts.DBPath, fl, nil
}

func applyPragmas(ctx context.Context, db *sql.DB, opts config.Options) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		fmt.Sprintf("PRAGMA cache_size=-%d", opts.CacheMB*1024), // negative = KB
		fmt.Sprintf("PRAGMA mmap_size=%d", opts.CacheMB*1024*1024*4),
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return errs.Wrap(errs.KindIO, err, "apply pragma %q: %v", p, err)
		}
	}
	return nil
}

// Close releases the storage lock and closes the underlying connection.
// Errors from each step are aggregated with multierr rather than the first
// one masking the second, matching the teacher's shutdown-error handling
// idiom for multi-resource teardown.
func (c *Core) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if closeErr := c.DB.Close(); closeErr != nil {
		err = multierr.Append(err, fmt.Errorf("close db: %w", closeErr))
	}
	if c.lock != nil {
		if unlockErr := c.lock.Unlock(); unlockErr != nil {
			err = multierr.Append(err, fmt.Errorf("release storage lock: %w", unlockErr))
		}
	}
	return err
}

// Do acquires the governor, runs fn inside a transaction, commits on
// success, and publishes notifier wakes for touchedKeys after the governor
// is released — respecting the "never hold the engine mutex while holding
// the notifier lock" ordering rule (spec.md §4.11).
func (c *Core) Do(ctx context.Context, db int, touchedKeys []string, fn func(tx *sql.Tx) error) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}

	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		c.release()
		return sqlErr(errs.KindIO, err, "begin transaction")
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		c.release()
		return err
	}

	if err := tx.Commit(); err != nil {
		c.release()
		return sqlErr(errs.KindIO, err, "commit transaction")
	}
	c.release()

	for _, k := range touchedKeys {
		c.Cache.Invalidate(db, k)
		c.Notifier.Publish(db, k)
	}
	return nil
}

// ExistsCached answers EXISTS/TYPE-style queries from the key-metadata
// cache when possible, falling back to a real read-only lookup on a miss.
// Do invalidates the cache for every key named in its touchedKeys on every
// commit, so a cache hit here is never stale past a write this process
// itself made.
func (c *Core) ExistsCached(ctx context.Context, db int, name []byte) (cache.Entry, bool, error) {
	if e, ok := c.Cache.Get(db, string(name)); ok {
		if e.ExpireAt != 0 && e.ExpireAt <= Now() {
			c.Cache.Invalidate(db, string(name))
		} else {
			return e, true, nil
		}
	}

	var found cache.Entry
	var ok bool
	err := c.View(ctx, func(tx *sql.Tx) error {
		row, err := c.Keys.Lookup(ctx, tx, db, name, Now())
		if err != nil || row == nil {
			return err
		}
		found = cache.Entry{ID: row.ID, Type: int(row.Type), Version: row.Version}
		if row.ExpireAt.Valid {
			found.ExpireAt = row.ExpireAt.Int64
		}
		ok = true
		return nil
	})
	if err != nil {
		return cache.Entry{}, false, err
	}
	if ok {
		c.Cache.Put(db, string(name), found)
	}
	return found, ok, nil
}

// View runs fn in a read-only transaction under the governor; it exists
// separately from Do so read paths don't pay for a notifier publish step.
func (c *Core) View(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	tx, err := c.DB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return sqlErr(errs.KindIO, err, "begin read transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// acquire takes the single governor slot, blocking until it is free. The
// semaphore only fails when ctx ends; that failure is marked permanent, so
// the backoff wrapper returns it at once as a busy error without retrying.
func (c *Core) acquire(ctx context.Context) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	return backoff.Retry(func() error {
		if err := c.governor.Acquire(ctx, 1); err != nil {
			return backoff.Permanent(errs.Wrap(errs.KindBusy, err, "engine handle unavailable: %v", err))
		}
		return nil
	}, b)
}

func (c *Core) release() { c.governor.Release(1) }

// Now returns the current wall clock in epoch milliseconds, the single
// source of "now" every expiration check in the engine uses.
func Now() int64 { return time.Now().UnixMilli() }

// NumDatabases is the fixed logical-database count from spec.md §3.1.
func NumDatabases() int { return numDatabases }
