package main

import (
	"context"
	"fmt"
	"os"

	"recordmanager/internal/app"
	"recordmanager/internal/config"
	"recordmanager/internal/core/apperror"
	appctx "recordmanager/internal/core/context"
	"recordmanager/internal/infrastructure/metrics"
	"recordmanager/internal/infrastructure/storage/postgres"
	"recordmanager/internal/infrastructure/storage/postgres/dedup_repo"
	"recordmanager/pkg/logger"
)

// runtime holds what every command needs: configuration, logger, the
// database pool and the wired services.
type runtime struct {
	cfg  config.Config
	log  *logger.Logger
	pool *postgres.Pool
	txm  *postgres.TxManager
	svc  *app.Services
}

// openRuntime loads configuration, connects to the record store and wires
// the services. The returned context carries the run id and the logger.
func openRuntime(ctx context.Context, opts *rootOptions, command string, m *metrics.Collector) (context.Context, *runtime, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return ctx, nil, err
	}
	if cfg.Database.URL == "" {
		return ctx, nil, apperror.NewConfig("database url is not configured (database.url or RECMAN_DATABASE_URL)")
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
	})
	if err != nil {
		return ctx, nil, fmt.Errorf("init logger: %w", err)
	}

	run := appctx.NewRun(command)
	log = log.With("run_id", run.RunID, "command", command)
	ctx = logger.WithLogger(appctx.WithRun(ctx, run), log)

	pool, err := postgres.NewPool(ctx, postgres.PoolConfigFrom(cfg.Database))
	if err != nil {
		return ctx, nil, apperror.NewDatabase("connect", err)
	}

	codec, err := postgres.NewCodec(0)
	if err != nil {
		pool.Close()
		return ctx, nil, err
	}

	txm := postgres.NewTxManager(pool)
	journal := dedup_repo.NewJournalRepo(txm, codec)

	svc, err := app.New(cfg, app.Stores{
		Records:  dedup_repo.NewRecordRepo(txm, codec),
		Clusters: dedup_repo.NewClusterRepo(txm),
		Journal:  journal,
		Tx:       txm,
		History:  journal,
		Ping:     pool.Ping,
	}, m, log)
	if err != nil {
		pool.Close()
		return ctx, nil, err
	}

	return ctx, &runtime{cfg: cfg, log: log, pool: pool, txm: txm, svc: svc}, nil
}

func (r *runtime) Close(ctx context.Context) {
	postgres.LogPoolStats(ctx, r.pool)
	r.pool.Close()
	_ = r.log.Sync()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
