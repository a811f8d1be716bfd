// Package app wires configuration into a ready transfer service. Both the
// server and the CLI build their dependencies here.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/andresuchdata/batchsync/internal/cache"
	"github.com/andresuchdata/batchsync/internal/config"
	"github.com/andresuchdata/batchsync/internal/repository/postgres"
	"github.com/andresuchdata/batchsync/internal/source"
	"github.com/andresuchdata/batchsync/internal/storage"
	"github.com/andresuchdata/batchsync/internal/transfer"
	"github.com/andresuchdata/batchsync/pkg/logger"
	"github.com/redis/go-redis/v9"
)

type App struct {
	Service *transfer.Service
	Store   storage.ObjectStorage
	DB      *postgres.DB
	Redis   *redis.Client
}

// Build validates cfg and connects the destination, redis and postgres as
// configured. The SFTP source is dialed per invocation, not here.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	loc, err := cfg.Sync.Location()
	if err != nil {
		return nil, err
	}

	a := &App{}
	store, err := storage.New(ctx, cfg.Destination)
	if err != nil {
		return nil, fmt.Errorf("init destination: %w", err)
	}
	a.Store = store

	orch := transfer.NewOrchestrator(source.NewSFTPSource(cfg.SFTP), store, transfer.Options{
		Prefix:        cfg.Destination.Prefix,
		CompressedExt: cfg.Sync.CompressedExt,
		LookbackDays:  cfg.Sync.LookbackDays,
		ScratchDir:    cfg.Sync.ScratchDir,
		Location:      loc,
		OpTimeout:     cfg.Destination.OpTimeout(),
	})

	opts := transfer.ServiceOptions{LockTTL: cfg.Sync.LockTTL()}

	if cfg.Cache.Enabled {
		client, err := cache.NewRedisClient(ctx, cfg.Cache)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init redis: %w", err)
		}
		a.Redis = client
		opts.Locker = cache.NewRedisLocker(client)
		opts.Cache = cache.NewStatusCache(client, cache.StatusTTL(cfg.Cache))
		logger.Log.Info().Msg("redis lock and status cache enabled")
	} else {
		logger.Log.Info().Msg("cache disabled, using a process-local transfer lock")
	}

	if cfg.Database.Enabled {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init database: %w", err)
		}
		a.DB = db
		opts.Runs = postgres.NewRunRepository(db)
	}

	a.Service = transfer.NewService(orch, opts)
	return a, nil
}

func (a *App) Close() error {
	var errs []error
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
