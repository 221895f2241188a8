package serverrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	cfgpkg "github.com/marvin-j97/xs/internal/config"
	"github.com/marvin-j97/xs/internal/gateway"
	"github.com/marvin-j97/xs/internal/pool"
	pebblestore "github.com/marvin-j97/xs/internal/storage/pebble"
	"github.com/marvin-j97/xs/internal/store"
	logpkg "github.com/marvin-j97/xs/pkg/log"
)

// Run opens the store, binds the gateway socket and blocks until ctx is
// cancelled or a component fails.
func Run(ctx context.Context, cfg cfgpkg.Config) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := logpkg.ApplyConfig(&cfg.Log)
	if err != nil {
		return fmt.Errorf("serve: logger: %w", err)
	}

	// Redirect stdlib logs (e.g., Pebble) to our logger
	logpkg.RedirectStdLog(logger)

	fsync, err := pebblestore.ParseFsyncMode(cfg.Fsync)
	if err != nil {
		return err
	}

	st, err := store.Spawn(cfg.DataDir, store.Options{
		QueueSize:     cfg.CommandQueue,
		ReadBuffer:    cfg.ReadBuffer,
		Fsync:         fsync,
		FsyncInterval: cfg.FsyncInterval,
		Logger:        logger.With(logpkg.Component("store")),
	})
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	workers := pool.New(cfg.PoolSize)
	defer workers.Close()

	logger.Info("starting xs server",
		logpkg.Str("data_dir", cfg.DataDir),
		logpkg.Str("socket", gateway.SocketPath(cfg.DataDir)),
		logpkg.Str("fsync", cfg.Fsync),
		logpkg.Int("pool_size", cfg.PoolSize),
	)

	gw := gateway.New(st, workers, logger)
	defer gw.Close()

	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error {
		return gw.ListenAndServe(gctx)
	})
	if cfg.RetentionInterval > 0 {
		g.Go(func() error {
			return retentionLoop(gctx, st, cfg.RetentionInterval, logger)
		})
	}

	err = g.Wait()
	if sctx.Err() != nil {
		return nil
	}
	return err
}

// retentionLoop trims expired frames at the configured interval until ctx
// is cancelled.
func retentionLoop(ctx context.Context, st *store.Store, interval time.Duration, logger logpkg.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := st.Trim(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("retention trim failed", logpkg.Err(err))
			}
		}
	}
}
