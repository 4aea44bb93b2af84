package dedup

import (
	"context"
	"fmt"
	"time"

	"recordmanager/internal/core/apperror"
	"recordmanager/internal/core/tx"
	"recordmanager/internal/domain/record"
	"recordmanager/pkg/logger"
)

// CheckResult counts a full consistency pass.
type CheckResult struct {
	Checked int `json:"checked"`
	Fixed   int `json:"fixed"`
}

// Checker restores agreement between cluster membership and record links.
// Every check re-reads the stored state before changing anything.
type Checker struct {
	store   *ClusterStore
	tx      tx.Manager
	metrics Metrics
	log     *logger.Logger
	now     func() time.Time
}

// NewChecker creates a checker.
func NewChecker(store *ClusterStore, txm tx.Manager, log *logger.Logger) *Checker {
	return &Checker{
		store:   store,
		tx:      txm,
		metrics: store.metrics,
		log:     log.WithComponent("consistency_checker"),
		now:     store.now,
	}
}

// CheckDedupRecord verifies the cluster against its members and returns
// one line per fix applied.
func (c *Checker) CheckDedupRecord(ctx context.Context, cluster *record.DedupRecord) ([]string, error) {
	var fixes []string
	err := c.tx.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		fixes, err = c.checkDedupRecord(ctx, cluster.ID)
		return err
	})
	return fixes, err
}

func (c *Checker) checkDedupRecord(ctx context.Context, clusterID string) ([]string, error) {
	fresh, err := c.store.GetCluster(ctx, clusterID)
	if err != nil {
		return nil, err
	}
	if fresh == nil {
		return nil, nil
	}

	var fixes []string
	if fresh.Deleted {
		if len(fresh.IDs) == 0 {
			return nil, nil
		}
		released, err := c.store.Dissolve(ctx, clusterID)
		if err != nil {
			return nil, err
		}
		fixes = append(fixes, fmt.Sprintf("Released %d member(s) of deleted dedup record %s", len(released), clusterID))
		return c.report(ctx, clusterID, fixes), nil
	}

	for _, memberID := range fresh.IDs {
		reason, err := c.staleReason(ctx, memberID, clusterID)
		if err != nil {
			return nil, err
		}
		if reason == "" {
			continue
		}
		if err := c.store.RemoveMember(ctx, clusterID, memberID); err != nil {
			return nil, err
		}
		fixes = append(fixes, fmt.Sprintf("Removed %s from dedup record %s (%s)", memberID, clusterID, reason))

		cur, err := c.store.GetCluster(ctx, clusterID)
		if err != nil {
			return nil, err
		}
		if cur == nil || cur.Deleted {
			break
		}
	}

	after, err := c.store.GetCluster(ctx, clusterID)
	if err != nil {
		return nil, err
	}
	switch {
	case after == nil:
	case !after.Deleted && len(after.IDs) < 2:
		if _, err := c.store.Dissolve(ctx, clusterID); err != nil {
			return nil, err
		}
		fixes = append(fixes, fmt.Sprintf("Dissolved dedup record %s with %d member(s)", clusterID, len(after.IDs)))
	case after.Deleted && len(fixes) > 0:
		fixes = append(fixes, fmt.Sprintf("Dedup record %s dissolved", clusterID))
	}

	return c.report(ctx, clusterID, fixes), nil
}

// staleReason returns why memberID does not belong to clusterID, or "".
func (c *Checker) staleReason(ctx context.Context, memberID, clusterID string) (string, error) {
	r, err := c.store.Records().GetRecord(ctx, memberID)
	if err != nil {
		return "", fmt.Errorf("get record %s: %w", memberID, err)
	}
	if r == nil {
		return "record missing", nil
	}
	if reason := excludedReason(r); reason != "" {
		return reason, nil
	}
	if r.ClusterID() != clusterID {
		return fmt.Sprintf("record links to %q", r.ClusterID()), nil
	}
	return "", nil
}

// excludedReason returns why r may not be a cluster member at all, or "".
func excludedReason(r *record.Record) string {
	switch {
	case r.Deleted:
		return "record deleted"
	case r.Suppressed:
		return "record suppressed"
	case r.IsComponentPart():
		return "component part"
	}
	return ""
}

// CheckRecordLinks verifies rec's link against its cluster and returns the
// fix applied, or "".
func (c *Checker) CheckRecordLinks(ctx context.Context, rec *record.Record) (string, error) {
	var fix string
	err := c.tx.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		fix, err = c.checkRecordLinks(ctx, rec)
		return err
	})
	return fix, err
}

func (c *Checker) checkRecordLinks(ctx context.Context, rec *record.Record) (string, error) {
	fresh, err := c.store.Records().GetRecord(ctx, rec.ID)
	if err != nil {
		return "", fmt.Errorf("get record %s: %w", rec.ID, err)
	}
	if fresh == nil || fresh.ClusterID() == "" {
		return "", nil
	}
	clusterID := fresh.ClusterID()

	var fix string
	if reason := excludedReason(fresh); reason != "" {
		if err := c.store.RemoveMember(ctx, clusterID, fresh.ID); err != nil {
			return "", err
		}
		fix = fmt.Sprintf("Removed %s from dedup record %s (%s)", fresh.ID, clusterID, reason)
		return c.reportRecord(ctx, rec, clusterID, fix)
	}

	cluster, err := c.store.GetCluster(ctx, clusterID)
	if err != nil {
		return "", err
	}
	switch {
	case cluster == nil || cluster.Deleted:
		fresh.SetCluster("")
		fresh.Updated = c.now()
		if err := c.store.Records().SaveRecord(ctx, fresh); err != nil {
			return "", fmt.Errorf("unlink record %s: %w", fresh.ID, err)
		}
		fix = fmt.Sprintf("Cleared link of %s to missing or deleted dedup record %s", fresh.ID, clusterID)
	case !cluster.Has(fresh.ID):
		if err := c.store.AddMember(ctx, clusterID, fresh); err != nil {
			return "", err
		}
		fix = fmt.Sprintf("Re-added %s to dedup record %s", fresh.ID, clusterID)
	default:
		return "", nil
	}
	return c.reportRecord(ctx, rec, clusterID, fix)
}

func (c *Checker) report(ctx context.Context, clusterID string, fixes []string) []string {
	for _, f := range fixes {
		c.log.Infow("consistency fix", "dedup_id", clusterID, "fix", f)
		c.metrics.Repaired("dedup_record")
		c.store.appendJournal(ctx, &record.DedupRecord{ID: clusterID}, "", ActionRepaired, f)
	}
	return fixes
}

func (c *Checker) reportRecord(ctx context.Context, rec *record.Record, clusterID, fix string) (string, error) {
	c.log.Infow("consistency fix", "record_id", rec.ID, "dedup_id", clusterID, "fix", fix)
	c.metrics.Repaired("record")
	c.store.appendJournal(ctx, &record.DedupRecord{ID: clusterID}, rec.ID, ActionRepaired, fix)

	fresh, err := c.store.Records().GetRecord(ctx, rec.ID)
	if err != nil {
		return fix, err
	}
	if fresh != nil {
		*rec = *fresh
	}
	return fix, nil
}

// CheckDedupRecords checks every dedup record, deleted ones included.
func (c *Checker) CheckDedupRecords(ctx context.Context) (CheckResult, error) {
	var ids []string
	err := c.store.Clusters().FindDedups(ctx, DedupFilter{IncludeDeleted: true}, func(d *record.DedupRecord) (bool, error) {
		if !d.Deleted || len(d.IDs) > 0 {
			ids = append(ids, d.ID)
		}
		return true, nil
	})
	if err != nil {
		return CheckResult{}, fmt.Errorf("list dedup records: %w", err)
	}

	var res CheckResult
	for _, id := range ids {
		if ctx.Err() != nil {
			return res, apperror.NewCancelled(res.Checked)
		}
		fixes, err := c.CheckDedupRecord(ctx, &record.DedupRecord{ID: id})
		if err != nil {
			c.log.Errorw("dedup record check failed", "dedup_id", id, "error", err)
			continue
		}
		res.Checked++
		res.Fixed += len(fixes)
	}
	c.log.Infow("dedup record check finished", "checked", res.Checked, "fixed", res.Fixed)
	return res, nil
}

// CheckRecords checks the links of every clustered record of sourceID
// (all sources when empty).
func (c *Checker) CheckRecords(ctx context.Context, sourceID string) (CheckResult, error) {
	filter := RecordFilter{Clustered: true, IncludeDeleted: true}
	if sourceID != "" {
		filter.SourceIDs = []string{sourceID}
	}

	var ids []string
	err := c.store.Records().FindRecords(ctx, filter, func(r *record.Record) (bool, error) {
		ids = append(ids, r.ID)
		return true, nil
	})
	if err != nil {
		return CheckResult{}, fmt.Errorf("list records: %w", err)
	}

	var res CheckResult
	for _, id := range ids {
		if ctx.Err() != nil {
			return res, apperror.NewCancelled(res.Checked)
		}
		fix, err := c.CheckRecordLinks(ctx, &record.Record{ID: id})
		if err != nil {
			c.log.Errorw("record link check failed", "record_id", id, "error", err)
			continue
		}
		res.Checked++
		if fix != "" {
			res.Fixed++
		}
	}
	c.log.Infow("record link check finished", "source_id", sourceID, "checked", res.Checked, "fixed", res.Fixed)
	return res, nil
}
