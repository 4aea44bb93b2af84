// Package dedup implements the deduplication engine: candidate lookup,
// match verification, cluster maintenance, host propagation, consistency
// repair and batch runs.
package dedup

import (
	"context"
	"time"

	"recordmanager/internal/domain/record"
)

// RecordFilter selects records for streaming and counting.
type RecordFilter struct {
	// SourceIDs limits to the given sources. Empty means all.
	SourceIDs []string

	// IDs limits to the given record ids.
	IDs []string

	// UpdateNeeded selects only records flagged for re-evaluation.
	UpdateNeeded bool

	IncludeDeleted bool

	// HostLevelOnly excludes component parts.
	HostLevelOnly bool

	// ComponentPartsOnly selects only component parts.
	ComponentPartsOnly bool

	// Clustered selects only records with a dedup id.
	Clustered bool

	// LinkingIDs selects records whose linking ids contain any of these.
	LinkingIDs []string
}

// DedupFilter selects dedup records.
type DedupFilter struct {
	IncludeDeleted bool
}

// RecordRepository is the record side of the store.
type RecordRepository interface {
	// GetRecord returns nil, nil when the record does not exist.
	GetRecord(ctx context.Context, id string) (*record.Record, error)

	// SaveRecord inserts or replaces the record.
	SaveRecord(ctx context.Context, rec *record.Record) error

	// FindRecords streams matching records ordered by id. fn returns false
	// to stop early.
	FindRecords(ctx context.Context, f RecordFilter, fn func(*record.Record) (bool, error)) error

	CountRecords(ctx context.Context, f RecordFilter) (int64, error)

	// FindCandidates returns non-deleted records sharing at least one key
	// with keys, excluding excludeID. The result may be stale; callers
	// filter again.
	FindCandidates(ctx context.Context, keys record.CandidateKeys, excludeID string, limit int) ([]*record.Record, error)
}

// ClusterRepository is the dedup record side of the store.
type ClusterRepository interface {
	// GetDedup returns nil, nil when the dedup record does not exist.
	GetDedup(ctx context.Context, id string) (*record.DedupRecord, error)

	// SaveDedup inserts a dedup record with Version 0 and updates others
	// guarded by Version. A lost race yields a concurrent modification
	// error. On success Version is incremented.
	SaveDedup(ctx context.Context, d *record.DedupRecord) error

	FindDedups(ctx context.Context, f DedupFilter, fn func(*record.DedupRecord) (bool, error)) error

	// DeleteDedup physically removes a dedup record.
	DeleteDedup(ctx context.Context, id string) error
}

// Journal actions.
const (
	ActionCreated   = "created"
	ActionJoined    = "joined"
	ActionLeft      = "left"
	ActionDissolved = "dissolved"
	ActionRepaired  = "repaired"
)

// JournalEntry is one membership change or repair.
type JournalEntry struct {
	DedupID  string
	RecordID string
	Action   string
	Detail   string
	Snapshot *record.DedupRecord
	Created  time.Time
}

// Journal records membership changes. Append failures are logged, not fatal.
type Journal interface {
	Append(ctx context.Context, e JournalEntry) error
}

type nopJournal struct{}

func (nopJournal) Append(context.Context, JournalEntry) error { return nil }

// NopJournal discards entries.
func NopJournal() Journal { return nopJournal{} }

// Metrics receives engine events. Implemented by the prometheus adapter.
type Metrics interface {
	RecordProcessed(sourceID, outcome string)
	ClusterChanged(action string)
	Repaired(kind string)
}

type nopMetrics struct{}

func (nopMetrics) RecordProcessed(string, string) {}
func (nopMetrics) ClusterChanged(string)          {}
func (nopMetrics) Repaired(string)                {}

// NopMetrics discards events.
func NopMetrics() Metrics { return nopMetrics{} }

// Match reports whether r passes the filter. Stores without a query
// language use it directly.
func (f RecordFilter) Match(r *record.Record) bool {
	if len(f.SourceIDs) > 0 && !contains(f.SourceIDs, r.SourceID) {
		return false
	}
	if len(f.IDs) > 0 && !contains(f.IDs, r.ID) {
		return false
	}
	if f.UpdateNeeded && !r.UpdateNeeded {
		return false
	}
	if !f.IncludeDeleted && r.Deleted {
		return false
	}
	if f.HostLevelOnly && r.IsComponentPart() {
		return false
	}
	if f.ComponentPartsOnly && !r.IsComponentPart() {
		return false
	}
	if f.Clustered && r.DedupID == nil {
		return false
	}
	if len(f.LinkingIDs) > 0 {
		found := false
		for _, id := range r.LinkingIDs {
			if contains(f.LinkingIDs, id) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
