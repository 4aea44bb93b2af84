// Package app wires the dedup services over a record store. The CLI builds
// it over PostgreSQL; tests build it over the in-memory store.
package app

import (
	"context"

	"recordmanager/internal/config"
	"recordmanager/internal/core/tx"
	"recordmanager/internal/domain/dedup"
	"recordmanager/internal/domain/dedup/keys"
	"recordmanager/internal/infrastructure/metrics"
	"recordmanager/internal/metadata"
	"recordmanager/pkg/logger"
)

// Stores are the persistence dependencies of the services.
type Stores struct {
	Records  dedup.RecordRepository
	Clusters dedup.ClusterRepository
	Journal  dedup.Journal
	Tx       tx.Manager

	// History reads the journal of one dedup record. Optional.
	History HistoryReader

	// Ping reports store health. Optional.
	Ping func(ctx context.Context) error
}

// HistoryReader returns journal entries of a dedup record, newest first.
type HistoryReader interface {
	History(ctx context.Context, dedupID string, limit int) ([]dedup.JournalEntry, error)
}

// Services holds the wired dedup components.
type Services struct {
	Config     config.Config
	Stores     Stores
	Formats    *metadata.Registry
	Clusters   *dedup.ClusterStore
	Engine     *dedup.Engine
	Checker    *dedup.Checker
	Propagator *dedup.Propagator
	Controller *dedup.Controller
	Metrics    *metrics.Collector
}

// New wires the services. m may be nil.
func New(cfg config.Config, st Stores, m *metrics.Collector, log *logger.Logger) (*Services, error) {
	if st.Journal == nil {
		st.Journal = dedup.NopJournal()
	}
	if st.Tx == nil {
		st.Tx = tx.Passthrough{}
	}

	opts := []dedup.StoreOption{dedup.WithJournal(st.Journal)}
	if m != nil {
		opts = append(opts, dedup.WithMetrics(m))
	}
	clusters := dedup.NewClusterStore(st.Records, st.Clusters, cfg.Dedup, log, opts...)

	verifier, err := dedup.NewVerifier(cfg.Dedup)
	if err != nil {
		return nil, err
	}

	formats := metadata.NewRegistry()
	engine := dedup.NewEngine(clusters, verifier, keys.NewExtractor(cfg.Dedup), formats, st.Tx, log)
	propagator := dedup.NewPropagator(st.Records, cfg, log)

	return &Services{
		Config:     cfg,
		Stores:     st,
		Formats:    formats,
		Clusters:   clusters,
		Engine:     engine,
		Checker:    dedup.NewChecker(clusters, st.Tx, log),
		Propagator: propagator,
		Controller: dedup.NewController(engine, propagator, cfg, log),
		Metrics:    m,
	}, nil
}
