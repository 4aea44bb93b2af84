package dedup

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"recordmanager/internal/config"
	"recordmanager/internal/core/apperror"
	appctx "recordmanager/internal/core/context"
	"recordmanager/internal/domain/record"
	"recordmanager/pkg/logger"
)

// RunOptions selects what a dedup run processes.
type RunOptions struct {
	// SourceIDs to process in order. Empty means every dedup-enabled source.
	SourceIDs []string

	// Full re-evaluates every non-deleted host-level record instead of only
	// flagged ones.
	Full bool

	// RecordID processes a single record and nothing else.
	RecordID string
}

// SourceSummary is the outcome for one source.
type SourceSummary struct {
	SourceID   string        `json:"sourceId"`
	Processed  int           `json:"processed"`
	Changed    int           `json:"changed"`
	Clustered  int           `json:"clustered"`
	Propagated int           `json:"propagated"`
	Errors     int           `json:"errors"`
	Failed     bool          `json:"failed"`
	Duration   time.Duration `json:"duration"`
}

// Summary is the outcome of a run.
type Summary struct {
	Sources   []SourceSummary `json:"sources"`
	Processed int             `json:"processed"`
	Changed   int             `json:"changed"`
	Errors    int             `json:"errors"`
	Failed    []string        `json:"failed,omitempty"`
	Duration  time.Duration   `json:"duration"`
}

func (s *Summary) add(ss SourceSummary) {
	s.Sources = append(s.Sources, ss)
	s.Processed += ss.Processed
	s.Changed += ss.Changed
	s.Errors += ss.Errors
	if ss.Failed {
		s.Failed = append(s.Failed, ss.SourceID)
	}
}

// Controller drives batch dedup runs over sources.
type Controller struct {
	engine     *Engine
	propagator *Propagator
	cfg        config.Config
	metrics    Metrics
	log        *logger.Logger
}

// NewController creates a controller.
func NewController(engine *Engine, propagator *Propagator, cfg config.Config, log *logger.Logger) *Controller {
	return &Controller{
		engine:     engine,
		propagator: propagator,
		cfg:        cfg,
		metrics:    engine.store.metrics,
		log:        log.WithComponent("dedup_controller"),
	}
}

// Run processes the selected sources one after another. Cancellation of ctx
// is honoured between records; the record in flight always completes. A
// cancelled run returns the partial summary and a CANCELLED error. A source
// that fails is logged and reported in Summary.Failed while the run goes on.
func (c *Controller) Run(ctx context.Context, opts RunOptions) (Summary, error) {
	start := time.Now()
	var sum Summary

	if opts.RecordID != "" {
		ss := SourceSummary{SourceID: record.SourceOf(opts.RecordID)}
		err := c.processRecord(appctx.WithSource(ctx, ss.SourceID), opts.RecordID, true, &ss)
		if err != nil {
			ss.Errors++
			ss.Failed = true
		}
		sum.add(ss)
		sum.Duration = time.Since(start)
		return sum, err
	}

	sources := opts.SourceIDs
	if len(sources) == 0 {
		sources = c.cfg.DedupSources()
	}
	if len(sources) == 0 {
		return sum, apperror.NewConfig("no dedup-enabled sources configured")
	}

	for _, src := range sources {
		if ctx.Err() != nil {
			sum.Duration = time.Since(start)
			return sum, apperror.NewCancelled(sum.Processed)
		}
		if !c.cfg.DedupEnabled(src) {
			c.log.Warnw("deduplication disabled for source, skipping", "source_id", src)
			continue
		}

		ss, err := c.runSource(appctx.WithSource(ctx, src), src, opts.Full)
		sum.add(ss)
		if apperror.IsCancelled(err) {
			sum.Duration = time.Since(start)
			c.log.Warnw("dedup run cancelled", "processed", sum.Processed, "changed", sum.Changed)
			return sum, apperror.NewCancelled(sum.Processed)
		}
		if err != nil {
			c.log.Errorw("dedup of source failed", "source_id", src, "error", err)
		}
	}

	sum.Duration = time.Since(start)
	c.log.Infow("dedup run finished",
		"sources", len(sum.Sources),
		"processed", sum.Processed,
		"changed", sum.Changed,
		"errors", sum.Errors,
		"failed", sum.Failed,
		"duration", sum.Duration.String(),
	)
	return sum, nil
}

func (c *Controller) runSource(ctx context.Context, sourceID string, full bool) (SourceSummary, error) {
	ctx, span := tracer.Start(ctx, "dedup.runSource", trace.WithAttributes(
		attribute.String("source.id", sourceID),
		attribute.Bool("run.full", full),
	))
	defer span.End()

	start := time.Now()
	ss := SourceSummary{SourceID: sourceID}
	log := c.log.WithContext(ctx)

	mode := "incremental"
	if full {
		mode = "full"
	}
	log.Infow("dedup of source started", "mode", mode)

	phases := []RecordFilter{{SourceIDs: []string{sourceID}, UpdateNeeded: true, IncludeDeleted: true}}
	if full {
		// the flagged phase runs last to pick up hosts flagged by propagation
		phases = append([]RecordFilter{{SourceIDs: []string{sourceID}, HostLevelOnly: true}}, phases...)
	}

	for _, f := range phases {
		ids, err := c.collectIDs(ctx, f)
		if err != nil {
			span.RecordError(err)
			ss.Failed = true
			ss.Duration = time.Since(start)
			return ss, err
		}
		for _, id := range ids {
			if ctx.Err() != nil {
				ss.Duration = time.Since(start)
				return ss, apperror.NewCancelled(ss.Processed)
			}
			before := ss.Processed
			if err := c.processRecord(ctx, id, !f.UpdateNeeded, &ss); err != nil {
				ss.Errors++
				c.metrics.RecordProcessed(sourceID, "error")
				log.Errorw("record dedup failed", "record_id", id, "error", err)
				continue
			}
			if every := c.cfg.Dedup.ProgressInterval; every > 0 && ss.Processed != before && ss.Processed%every == 0 {
				c.logProgress(log, ss, start)
			}
		}
	}

	ss.Duration = time.Since(start)
	span.SetAttributes(attribute.Int("records.processed", ss.Processed), attribute.Int("records.errors", ss.Errors))
	log.Infow("dedup of source finished",
		"processed", ss.Processed,
		"changed", ss.Changed,
		"clustered", ss.Clustered,
		"propagated", ss.Propagated,
		"errors", ss.Errors,
		"duration", ss.Duration.String(),
	)
	return ss, nil
}

func (c *Controller) logProgress(log *logger.Logger, ss SourceSummary, start time.Time) {
	elapsed := time.Since(start).Seconds()
	rate := 0.0
	if elapsed > 0 {
		rate = float64(ss.Processed) / elapsed
	}
	log.Infow("dedup progress", "processed", ss.Processed, "changed", ss.Changed, "records_per_sec", fmt.Sprintf("%.1f", rate))
}

func (c *Controller) collectIDs(ctx context.Context, f RecordFilter) ([]string, error) {
	var ids []string
	err := c.engine.store.Records().FindRecords(ctx, f, func(r *record.Record) (bool, error) {
		ids = append(ids, r.ID)
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return ids, nil
}

// processRecord re-reads the record and routes it to the propagator or the
// engine. Unflagged records are skipped unless force is set.
func (c *Controller) processRecord(ctx context.Context, recordID string, force bool, ss *SourceSummary) error {
	ctx = context.WithoutCancel(appctx.WithRecord(ctx, recordID))

	rec, err := c.engine.store.Records().GetRecord(ctx, recordID)
	if err != nil {
		return fmt.Errorf("get record: %w", err)
	}
	if rec == nil {
		if force {
			return apperror.NewNotFound("record", recordID)
		}
		return nil
	}
	if !force && !rec.UpdateNeeded {
		return nil
	}

	if rec.IsComponentPart() {
		n, err := c.propagator.MarkHostsForUpdate(ctx, rec)
		if err != nil {
			return err
		}
		ss.Propagated += n
	}

	before := rec.ClusterID()
	clustered, err := c.engine.DedupRecord(ctx, rec)
	if err != nil {
		return err
	}

	ss.Processed++
	outcome := "unclustered"
	if clustered {
		ss.Clustered++
		outcome = "clustered"
	}
	if rec.ClusterID() != before {
		ss.Changed++
	}
	c.metrics.RecordProcessed(ss.SourceID, outcome)
	return nil
}
