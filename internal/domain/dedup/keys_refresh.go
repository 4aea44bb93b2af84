package dedup

import (
	"context"
	"time"

	"recordmanager/internal/core/apperror"
	appctx "recordmanager/internal/core/context"
)

// KeysSummary is the outcome of a candidate key refresh.
type KeysSummary struct {
	Checked  int           `json:"checked"`
	Changed  int           `json:"changed"`
	Errors   int           `json:"errors"`
	Duration time.Duration `json:"duration"`
}

// RefreshKeys re-parses the stored metadata of every non-deleted record of
// the sources and recomputes its candidate keys. Records whose keys or
// part status changed are saved with update_needed set, so the next
// incremental run re-evaluates them.
func (c *Controller) RefreshKeys(ctx context.Context, sourceIDs []string) (KeysSummary, error) {
	start := time.Now()
	var sum KeysSummary

	if len(sourceIDs) == 0 {
		sourceIDs = c.cfg.DedupSources()
	}
	if len(sourceIDs) == 0 {
		return sum, apperror.NewConfig("no dedup-enabled sources configured")
	}

	ids, err := c.collectIDs(ctx, RecordFilter{SourceIDs: sourceIDs})
	if err != nil {
		return sum, err
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			sum.Duration = time.Since(start)
			return sum, apperror.NewCancelled(sum.Checked)
		}
		changed, err := c.refreshRecord(ctx, id)
		if err != nil {
			sum.Errors++
			c.log.Errorw("key refresh failed", "record_id", id, "error", err)
			continue
		}
		sum.Checked++
		if changed {
			sum.Changed++
		}
		if every := c.cfg.Dedup.ProgressInterval; every > 0 && sum.Checked%every == 0 {
			c.log.Infow("key refresh progress", "checked", sum.Checked, "changed", sum.Changed)
		}
	}

	sum.Duration = time.Since(start)
	c.log.Infow("key refresh finished",
		"sources", sourceIDs,
		"checked", sum.Checked,
		"changed", sum.Changed,
		"errors", sum.Errors,
		"duration", sum.Duration.String(),
	)
	return sum, nil
}

func (c *Controller) refreshRecord(ctx context.Context, recordID string) (bool, error) {
	ctx = context.WithoutCancel(appctx.WithRecord(ctx, recordID))
	e := c.engine

	var changed bool
	err := e.tx.RunInTransaction(ctx, func(ctx context.Context) error {
		rec, err := e.store.Records().GetRecord(ctx, recordID)
		if err != nil || rec == nil || rec.Deleted {
			return err
		}
		if !e.UpdateCandidateKeys(rec, e.parse(rec)) {
			return nil
		}
		changed = true
		rec.UpdateNeeded = true
		rec.Updated = e.now()
		return e.store.Records().SaveRecord(ctx, rec)
	})
	return changed, err
}
