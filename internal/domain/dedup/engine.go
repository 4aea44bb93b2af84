package dedup

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"recordmanager/internal/core/apperror"
	"recordmanager/internal/core/tx"
	"recordmanager/internal/domain/dedup/keys"
	"recordmanager/internal/domain/record"
	"recordmanager/internal/metadata"
	"recordmanager/pkg/logger"
)

var tracer = otel.Tracer("recordmanager/dedup")

// Engine matches records into clusters.
type Engine struct {
	store     *ClusterStore
	verifier  Verifier
	extractor *keys.Extractor
	formats   *metadata.Registry
	tx        tx.Manager
	log       *logger.Logger
	now       func() time.Time
}

// NewEngine creates an engine.
func NewEngine(store *ClusterStore, verifier Verifier, extractor *keys.Extractor, formats *metadata.Registry, txm tx.Manager, log *logger.Logger) *Engine {
	return &Engine{
		store:     store,
		verifier:  verifier,
		extractor: extractor,
		formats:   formats,
		tx:        txm,
		log:       log.WithComponent("dedup_engine"),
		now:       store.now,
	}
}

// Store returns the underlying cluster store.
func (e *Engine) Store() *ClusterStore { return e.store }

// DedupRecord re-evaluates rec: it joins or creates a cluster with the best
// verified candidate, or leaves the record unclustered. Any previous
// membership that no longer applies is removed first. The update flag is
// cleared and rec is saved. It reports whether rec ends up clustered.
func (e *Engine) DedupRecord(ctx context.Context, rec *record.Record) (bool, error) {
	ctx, span := tracer.Start(ctx, "dedup.DedupRecord",
		trace.WithAttributes(attribute.String("record.id", rec.ID)))
	defer span.End()

	var clustered bool
	err := e.tx.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		clustered, err = e.dedupRecord(ctx, rec)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	span.SetAttributes(attribute.Bool("record.clustered", clustered))
	return clustered, nil
}

type candidate struct {
	Entry
	match   record.KeyKind
	overlap int
}

func (e *Engine) dedupRecord(ctx context.Context, rec *record.Record) (bool, error) {
	old := rec.ClusterID()

	if rec.IsComponentPart() {
		rec.SetKeys(record.CandidateKeys{})
	}
	if !rec.Matchable() {
		if err := e.leave(ctx, rec, old); err != nil {
			return false, err
		}
		return false, e.finish(ctx, rec)
	}

	current, err := e.memberCluster(ctx, rec)
	if err != nil {
		return false, err
	}

	best, err := e.bestCandidate(ctx, rec, current)
	if err != nil {
		return false, err
	}

	switch {
	case best == nil:
		if err := e.leave(ctx, rec, old); err != nil {
			return false, err
		}

	case best.Cluster != nil && best.Cluster.ID == old && current != nil:
		e.log.Debugw("record stays in its dedup record", "record_id", rec.ID, "dedup_id", old)

	case best.Cluster != nil:
		if err := e.leave(ctx, rec, old); err != nil {
			return false, err
		}
		err := e.store.AddMember(ctx, best.Cluster.ID, rec)
		if apperror.IsClusterGone(err) {
			// lost a race with a dissolve; pair with the candidate instead
			e.log.Debugw("candidate dedup record vanished", "record_id", rec.ID, "dedup_id", best.Cluster.ID)
			_, err = e.store.CreateCluster(ctx, rec, best.Record)
		}
		if err != nil {
			return false, err
		}

	default:
		if err := e.leave(ctx, rec, old); err != nil {
			return false, err
		}
		if _, err := e.store.CreateCluster(ctx, rec, best.Record); err != nil {
			return false, err
		}
	}

	return rec.ClusterID() != "", e.finish(ctx, rec)
}

// memberCluster returns rec's cluster when it is active and lists rec.
func (e *Engine) memberCluster(ctx context.Context, rec *record.Record) (*record.DedupRecord, error) {
	c, err := e.store.ActiveCluster(ctx, rec.ClusterID())
	if err != nil {
		return nil, err
	}
	if c != nil && !c.Has(rec.ID) {
		return nil, nil
	}
	return c, nil
}

// bestCandidate verifies every candidate and picks the winner: a member of
// rec's current cluster, then any clustered candidate, then the richest key
// overlap, then the oldest record, then the smallest id.
func (e *Engine) bestCandidate(ctx context.Context, rec *record.Record, current *record.DedupRecord) (*candidate, error) {
	found, err := e.store.FindCandidates(ctx, rec)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}

	self := Entry{Record: rec, Metadata: e.parse(rec), Cluster: current}
	recKeys := rec.Keys()

	var accepted []candidate
	for _, c := range found {
		cl, err := e.store.ActiveCluster(ctx, c.ClusterID())
		if err != nil {
			return nil, err
		}
		if cl != nil && !cl.Has(c.ID) {
			cl = nil
		}
		cand := candidate{
			Entry:   Entry{Record: c, Metadata: e.parse(c), Cluster: cl},
			match:   recKeys.StrongestShared(c.Keys()),
			overlap: recKeys.Overlap(c.Keys()),
		}
		ok, err := e.verifier.Verify(self, cand.Entry, cand.match)
		if err != nil {
			e.log.Warnw("verification failed, candidate rejected", "record_id", rec.ID, "candidate_id", c.ID, "error", err)
			continue
		}
		if ok {
			accepted = append(accepted, cand)
		}
	}
	if len(accepted) == 0 {
		return nil, nil
	}

	inCurrent := func(c candidate) bool {
		return current != nil && c.Cluster != nil && c.Cluster.ID == current.ID
	}
	sort.SliceStable(accepted, func(i, j int) bool {
		a, b := accepted[i], accepted[j]
		if inCurrent(a) != inCurrent(b) {
			return inCurrent(a)
		}
		if (a.Cluster != nil) != (b.Cluster != nil) {
			return a.Cluster != nil
		}
		if a.overlap != b.overlap {
			return a.overlap > b.overlap
		}
		if !a.Record.Created.Equal(b.Record.Created) {
			return a.Record.Created.Before(b.Record.Created)
		}
		return a.Record.ID < b.Record.ID
	})
	return &accepted[0], nil
}

// leave removes rec from clusterID if set and clears its link.
func (e *Engine) leave(ctx context.Context, rec *record.Record, clusterID string) error {
	if clusterID == "" {
		return nil
	}
	if err := e.store.RemoveMember(ctx, clusterID, rec.ID); err != nil {
		return err
	}
	rec.SetCluster("")
	return nil
}

func (e *Engine) finish(ctx context.Context, rec *record.Record) error {
	rec.UpdateNeeded = false
	rec.Updated = e.now()
	if err := e.store.Records().SaveRecord(ctx, rec); err != nil {
		return fmt.Errorf("save record %s: %w", rec.ID, err)
	}
	return nil
}

// parse returns rec's metadata or nil when it cannot be parsed.
func (e *Engine) parse(rec *record.Record) metadata.Record {
	if e.formats == nil || len(rec.Data) == 0 {
		return nil
	}
	md, err := e.formats.Parse(rec.Format, rec.Data)
	if err != nil {
		e.log.Debugw("metadata not parseable", "record_id", rec.ID, "format", rec.Format, "error", err)
		return nil
	}
	return md
}

// ParseMetadata parses rec's stored payload.
func (e *Engine) ParseMetadata(rec *record.Record) (metadata.Record, error) {
	if e.formats == nil {
		return nil, apperror.NewConfig("no metadata formats registered")
	}
	return e.formats.Parse(rec.Format, rec.Data)
}

// RemoveFromDedupRecord removes recordID from the cluster.
func (e *Engine) RemoveFromDedupRecord(ctx context.Context, clusterID, recordID string) error {
	return e.tx.RunInTransaction(ctx, func(ctx context.Context) error {
		return e.store.RemoveMember(ctx, clusterID, recordID)
	})
}

// UpdateCandidateKeys recomputes rec's keys and dedup-relevant attributes
// from md (nil when the payload is malformed, giving no keys). It changes
// rec in memory only and reports whether the record needs re-evaluation.
func (e *Engine) UpdateCandidateKeys(rec *record.Record, md metadata.Record) bool {
	before := rec.Keys().Normalize()
	wasPart, wasSuppressed := rec.IsComponentPart(), rec.Suppressed

	if md != nil {
		rec.HostRecordIDs = sortedUnique(md.HostRecordIDs())
		rec.LinkingIDs = sortedUnique(md.LinkingIDs())
		rec.Suppressed = md.Suppressed()
	}
	rec.SetKeys(e.extractor.Extract(md))

	return !before.Equal(rec.Keys()) ||
		wasPart != rec.IsComponentPart() ||
		wasSuppressed != rec.Suppressed
}

func sortedUnique(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := slices.Clone(values)
	slices.Sort(out)
	return slices.Compact(out)
}
