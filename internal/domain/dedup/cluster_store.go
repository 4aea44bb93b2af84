package dedup

import (
	"context"
	"fmt"
	"time"

	"recordmanager/internal/config"
	"recordmanager/internal/core/apperror"
	"recordmanager/internal/core/id"
	"recordmanager/internal/domain/record"
	"recordmanager/pkg/logger"
)

// ClusterStore maintains cluster membership on top of the repositories.
// Every method keeps both directions of the record/cluster link in step.
type ClusterStore struct {
	records       RecordRepository
	clusters      ClusterRepository
	journal       Journal
	metrics       Metrics
	maxCandidates int
	retries       int
	log           *logger.Logger
	now           func() time.Time
}

// StoreOption customizes a ClusterStore.
type StoreOption func(*ClusterStore)

// WithJournal sets the membership journal.
func WithJournal(j Journal) StoreOption {
	return func(s *ClusterStore) { s.journal = j }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) StoreOption {
	return func(s *ClusterStore) { s.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) StoreOption {
	return func(s *ClusterStore) { s.now = now }
}

// NewClusterStore creates a store.
func NewClusterStore(records RecordRepository, clusters ClusterRepository, cfg config.DedupConfig, log *logger.Logger, opts ...StoreOption) *ClusterStore {
	s := &ClusterStore{
		records:       records,
		clusters:      clusters,
		journal:       NopJournal(),
		metrics:       NopMetrics(),
		maxCandidates: cfg.MaxCandidates,
		retries:       cfg.MaxConflictRetries,
		log:           log.WithComponent("cluster_store"),
		now:           time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Records exposes the record repository.
func (s *ClusterStore) Records() RecordRepository { return s.records }

// Clusters exposes the dedup record repository.
func (s *ClusterStore) Clusters() ClusterRepository { return s.clusters }

// GetCluster returns the dedup record or nil.
func (s *ClusterStore) GetCluster(ctx context.Context, clusterID string) (*record.DedupRecord, error) {
	return s.clusters.GetDedup(ctx, clusterID)
}

// ActiveCluster returns the dedup record only when it exists and is not deleted.
func (s *ClusterStore) ActiveCluster(ctx context.Context, clusterID string) (*record.DedupRecord, error) {
	if clusterID == "" {
		return nil, nil
	}
	c, err := s.clusters.GetDedup(ctx, clusterID)
	if err != nil || c == nil || c.Deleted {
		return nil, err
	}
	return c, nil
}

// FindCandidates returns matchable records sharing a key with rec.
func (s *ClusterStore) FindCandidates(ctx context.Context, rec *record.Record) ([]*record.Record, error) {
	keys := rec.Keys()
	if keys.Empty() {
		return nil, nil
	}
	found, err := s.records.FindCandidates(ctx, keys, rec.ID, s.maxCandidates)
	if err != nil {
		return nil, fmt.Errorf("find candidates for %s: %w", rec.ID, err)
	}

	out := found[:0]
	for _, c := range found {
		if c.ID == rec.ID || !c.Matchable() || c.Keys().Overlap(keys) == 0 {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// AddMember links rec into an existing cluster and saves rec.
func (s *ClusterStore) AddMember(ctx context.Context, clusterID string, rec *record.Record) error {
	if rec.IsComponentPart() {
		return apperror.NewComponentPart(rec.ID)
	}

	var joined bool
	c, err := s.updateCluster(ctx, clusterID, func(c *record.DedupRecord) (bool, error) {
		if c == nil || c.Deleted {
			return false, apperror.NewClusterGone(clusterID)
		}
		joined = c.Add(rec.ID)
		return joined, nil
	})
	if err != nil {
		return err
	}

	if rec.ClusterID() != clusterID {
		rec.SetCluster(clusterID)
		rec.Updated = s.now()
		if err := s.records.SaveRecord(ctx, rec); err != nil {
			return fmt.Errorf("link record %s: %w", rec.ID, err)
		}
	}
	if joined {
		s.appendJournal(ctx, c, rec.ID, ActionJoined, "")
	}
	return nil
}

// CreateCluster creates a cluster of the given records and links them.
func (s *ClusterStore) CreateCluster(ctx context.Context, recs ...*record.Record) (*record.DedupRecord, error) {
	if len(recs) < 2 {
		return nil, apperror.NewValidation("a dedup record needs at least two members")
	}
	for _, r := range recs {
		if r.IsComponentPart() {
			return nil, apperror.NewComponentPart(r.ID)
		}
	}

	now := s.now()
	c := &record.DedupRecord{ID: id.New(), Changed: now}
	for _, r := range recs {
		c.Add(r.ID)
	}
	if err := s.clusters.SaveDedup(ctx, c); err != nil {
		return nil, fmt.Errorf("create dedup record: %w", err)
	}

	for i, r := range recs {
		prev := r.ClusterID()
		r.SetCluster(c.ID)
		r.Updated = now
		if err := s.records.SaveRecord(ctx, r); err != nil {
			r.SetCluster(prev)
			s.rollbackCreate(ctx, c, recs[:i])
			return nil, fmt.Errorf("link record %s: %w", r.ID, err)
		}
	}

	s.appendJournal(ctx, c, "", ActionCreated, "")
	return c, nil
}

// rollbackCreate undoes a partially linked cluster for stores without
// transactions. Failures are left for the consistency checker.
func (s *ClusterStore) rollbackCreate(ctx context.Context, c *record.DedupRecord, linked []*record.Record) {
	for _, r := range linked {
		r.SetCluster("")
		if err := s.records.SaveRecord(ctx, r); err != nil {
			s.log.Warnw("rollback unlink failed", "record_id", r.ID, "dedup_id", c.ID, "error", err)
		}
	}
	if err := s.clusters.DeleteDedup(ctx, c.ID); err != nil {
		s.log.Warnw("rollback delete failed", "dedup_id", c.ID, "error", err)
	}
}

// RemoveMember removes recordID from the cluster. Removing a non-member is a
// no-op. A cluster left with one member is dissolved and an empty one is
// marked deleted. The removed record's dedup id is cleared only if it still
// points at this cluster.
func (s *ClusterStore) RemoveMember(ctx context.Context, clusterID, recordID string) error {
	var removed bool
	var orphan string

	c, err := s.updateCluster(ctx, clusterID, func(c *record.DedupRecord) (bool, error) {
		removed, orphan = false, ""
		if c == nil {
			return false, nil
		}
		removed = c.Remove(recordID)
		if !removed && (c.Deleted || len(c.IDs) >= 2) {
			return false, nil
		}
		switch len(c.IDs) {
		case 0:
			c.Deleted = true
		case 1:
			orphan = c.IDs[0]
			c.IDs = nil
			c.Deleted = true
		}
		return true, nil
	})
	if err != nil {
		return err
	}

	if err := s.unlink(ctx, recordID, clusterID); err != nil {
		return err
	}
	if removed {
		s.appendJournal(ctx, c, recordID, ActionLeft, "")
	}
	if orphan != "" {
		if err := s.unlink(ctx, orphan, clusterID); err != nil {
			return err
		}
		s.appendJournal(ctx, c, orphan, ActionDissolved, "last member released")
	}
	return nil
}

// Dissolve releases every member of the cluster and marks it deleted.
// It returns the released record ids.
func (s *ClusterStore) Dissolve(ctx context.Context, clusterID string) ([]string, error) {
	var released []string
	var dissolved bool
	c, err := s.updateCluster(ctx, clusterID, func(c *record.DedupRecord) (bool, error) {
		released, dissolved = nil, false
		if c == nil || (c.Deleted && len(c.IDs) == 0) {
			return false, nil
		}
		released = c.IDs
		c.IDs = nil
		c.Deleted = true
		dissolved = true
		return true, nil
	})
	if err != nil || !dissolved {
		return nil, err
	}
	for _, id := range released {
		if err := s.unlink(ctx, id, clusterID); err != nil {
			return released, err
		}
	}
	s.appendJournal(ctx, c, "", ActionDissolved, fmt.Sprintf("%d member(s) released", len(released)))
	return released, nil
}

// unlink clears the record's dedup id if it points at clusterID.
func (s *ClusterStore) unlink(ctx context.Context, recordID, clusterID string) error {
	r, err := s.records.GetRecord(ctx, recordID)
	if err != nil {
		return fmt.Errorf("get record %s: %w", recordID, err)
	}
	if r == nil || r.ClusterID() != clusterID {
		return nil
	}
	r.SetCluster("")
	r.Updated = s.now()
	if err := s.records.SaveRecord(ctx, r); err != nil {
		return fmt.Errorf("unlink record %s: %w", recordID, err)
	}
	return nil
}

// updateCluster reads the cluster, applies mutate and saves it when mutate
// reports a change. Lost version races are retried on a fresh copy.
func (s *ClusterStore) updateCluster(ctx context.Context, clusterID string, mutate func(*record.DedupRecord) (bool, error)) (*record.DedupRecord, error) {
	for attempt := 0; ; attempt++ {
		c, err := s.clusters.GetDedup(ctx, clusterID)
		if err != nil {
			return nil, fmt.Errorf("get dedup record %s: %w", clusterID, err)
		}
		changed, err := mutate(c)
		if err != nil || !changed {
			return c, err
		}

		c.Changed = s.now()
		err = s.clusters.SaveDedup(ctx, c)
		if err == nil {
			return c, nil
		}
		if !apperror.IsConcurrentModification(err) || attempt >= s.retries {
			return nil, fmt.Errorf("save dedup record %s: %w", clusterID, err)
		}
		s.log.Warnw("dedup record modified concurrently, retrying", "dedup_id", clusterID, "attempt", attempt+1)
	}
}

func (s *ClusterStore) appendJournal(ctx context.Context, c *record.DedupRecord, recordID, action, detail string) {
	s.metrics.ClusterChanged(action)
	err := s.journal.Append(ctx, JournalEntry{
		DedupID:  c.ID,
		RecordID: recordID,
		Action:   action,
		Detail:   detail,
		Snapshot: c.Clone(),
		Created:  s.now(),
	})
	if err != nil {
		s.log.Warnw("journal append failed", "dedup_id", c.ID, "action", action, "error", err)
	}
}
