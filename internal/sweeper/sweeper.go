// Package sweeper implements the cooperative background expiration sweep
// (spec.md §4.1 "lazy expiration + background sweeper"), grounded on the
// teacher's cadence-driven goroutine idiom for periodic maintenance work.
package sweeper

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/errs"
)

const (
	defaultCadence = 100 * time.Millisecond
	defaultBatch   = 20
)

// Sweeper periodically deletes expired keys across every logical database,
// pacing itself with a token bucket so a large backlog of simultaneously
// expiring keys cannot monopolize the engine's single governor slot.
type Sweeper struct {
	core    *engine.Core
	log     *zap.Logger
	cadence time.Duration
	batch   int
	limiter *rate.Limiter

	stop chan struct{}
	done chan struct{}
}

// Option configures a Sweeper at construction.
type Option func(*Sweeper)

func WithCadence(d time.Duration) Option { return func(s *Sweeper) { s.cadence = d } }
func WithBatch(n int) Option             { return func(s *Sweeper) { s.batch = n } }

// New builds a Sweeper bound to core; call Start to begin the background
// loop and Stop to end it.
func New(core *engine.Core, log *zap.Logger, opts ...Option) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Sweeper{
		core:    core,
		log:     log.Named("sweeper"),
		cadence: defaultCadence,
		batch:   defaultBatch,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.limiter = rate.NewLimiter(rate.Every(s.cadence), s.batch)
	return s
}

// Start runs the sweep loop until ctx is canceled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	go s.loop(ctx)
}

// Stop signals the loop to exit and blocks until it has.
func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			if err := s.limiter.Wait(ctx); err != nil {
				continue
			}
			if err := s.sweepOnce(ctx); err != nil {
				s.log.Warn("sweep pass failed", zap.Error(err))
			}
		}
	}
}

// sweepOnce deletes up to batch expired keys per logical database in one
// governed transaction, publishing notifier wakes for each deleted key so
// blocking consumers waiting on it observe the deletion immediately rather
// than at their own poll interval.
func (s *Sweeper) sweepOnce(ctx context.Context) error {
	now := engine.Now()
	for db := 0; db < engine.NumDatabases(); db++ {
		var touched []string
		err := s.core.Do(ctx, db, nil, func(tx *sql.Tx) error {
			names, err := expiredNames(ctx, tx, db, now, s.batch)
			if err != nil {
				return err
			}
			for _, n := range names {
				if _, err := tx.ExecContext(ctx, `DELETE FROM keys WHERE db=? AND name=?`, db, n); err != nil {
					return errs.Wrap(errs.KindIO, err, "sweep delete: %v", err)
				}
			}
			touched = names
			return nil
		})
		if err != nil {
			return err
		}
		for _, n := range touched {
			s.core.Notifier.Publish(db, n)
		}
		if len(touched) > 0 {
			s.log.Debug("swept expired keys", zap.Int("db", db), zap.Int("count", len(touched)))
		}
	}
	return nil
}

func expiredNames(ctx context.Context, tx *sql.Tx, db int, now int64, limit int) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT name FROM keys WHERE db=? AND expire_at IS NOT NULL AND expire_at <= ? LIMIT ?`, db, now, limit)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, err, "find expired: %v", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, errs.Wrap(errs.KindIO, err, "find expired: %v", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
