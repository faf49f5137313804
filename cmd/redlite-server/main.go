// Command redlite-server runs Redlite as a standalone RESP listener: it
// opens the engine, starts the expiration sweeper, and serves Redis clients
// until SIGINT/SIGTERM, at which point it drains the listener and closes
// the engine in order.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/redlite/redlite/internal/config"
	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/resp"
	"github.com/redlite/redlite/internal/sweeper"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "redlite-server:", err)
		os.Exit(1)
	}
}

func run(argv []string) error {
	opts, err := config.Parse(argv)
	if err != nil {
		return err
	}

	logConfig := zap.NewProductionConfig()
	logConfig.EncoderConfig.TimeKey = "ts"
	logConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	log := zap.Must(logConfig.Build())
	defer log.Sync()
	log = log.Named("main")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	core, err := engine.Open(ctx, opts, log)
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer func() {
		if err := core.Close(); err != nil {
			log.Error("engine close failed", zap.Error(err))
		}
	}()

	sw := sweeper.New(core, log,
		sweeper.WithCadence(time.Duration(opts.SweepIntervalMS)*time.Millisecond),
		sweeper.WithBatch(opts.SweepBatch))
	sw.Start(ctx)
	defer sw.Stop()

	server, err := resp.New(core, log, os.Getenv("REDLITE_PASSWORD"))
	if err != nil {
		return fmt.Errorf("build RESP server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", opts.Addr))
		return server.ListenAndServe(gctx, opts.Addr)
	})

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		return fmt.Errorf("server: %w", err)
	}
	log.Info("shutdown complete")
	return nil
}
