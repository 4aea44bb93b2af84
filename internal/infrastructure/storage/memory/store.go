// Package memory provides an in-process record store. It backs the tests
// and single-shot CLI runs without a database.
package memory

import (
	"context"
	"sort"
	"sync"

	"recordmanager/internal/core/apperror"
	"recordmanager/internal/domain/dedup"
	"recordmanager/internal/domain/record"
)

var (
	_ dedup.RecordRepository  = (*Store)(nil)
	_ dedup.ClusterRepository = (*Store)(nil)
	_ dedup.Journal           = (*Store)(nil)
)

type keyIndex map[string]map[string]struct{}

func (ix keyIndex) add(key, id string) {
	set, ok := ix[key]
	if !ok {
		set = map[string]struct{}{}
		ix[key] = set
	}
	set[id] = struct{}{}
}

func (ix keyIndex) remove(key, id string) {
	if set, ok := ix[key]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(ix, key)
		}
	}
}

// Store keeps records, dedup records and the journal in maps. Values are
// cloned on the way in and out so callers never share state with the store.
type Store struct {
	mu      sync.RWMutex
	records map[string]*record.Record
	dedups  map[string]*record.DedupRecord
	journal []dedup.JournalEntry

	titleIdx keyIndex
	isbnIdx  keyIndex
	idIdx    keyIndex
}

// New creates an empty store.
func New() *Store {
	return &Store{
		records:  map[string]*record.Record{},
		dedups:   map[string]*record.DedupRecord{},
		titleIdx: keyIndex{},
		isbnIdx:  keyIndex{},
		idIdx:    keyIndex{},
	}
}

func (s *Store) GetRecord(_ context.Context, id string) (*record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[id].Clone(), nil
}

func (s *Store) SaveRecord(_ context.Context, rec *record.Record) error {
	if rec.ID == "" {
		return apperror.NewValidation("record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.records[rec.ID]; ok {
		s.unindex(old)
	}
	c := rec.Clone()
	s.records[rec.ID] = c
	s.index(c)
	return nil
}

// index adds the keys of non-deleted records; unmatchable records stay out.
func (s *Store) index(r *record.Record) {
	if r.Deleted {
		return
	}
	for _, k := range r.TitleKeys {
		s.titleIdx.add(k, r.ID)
	}
	for _, k := range r.ISBNKeys {
		s.isbnIdx.add(k, r.ID)
	}
	for _, k := range r.IDKeys {
		s.idIdx.add(k, r.ID)
	}
}

func (s *Store) unindex(r *record.Record) {
	for _, k := range r.TitleKeys {
		s.titleIdx.remove(k, r.ID)
	}
	for _, k := range r.ISBNKeys {
		s.isbnIdx.remove(k, r.ID)
	}
	for _, k := range r.IDKeys {
		s.idIdx.remove(k, r.ID)
	}
}

// FindRecords calls fn outside the lock on a consistent snapshot, so fn may
// write to the store.
func (s *Store) FindRecords(_ context.Context, f dedup.RecordFilter, fn func(*record.Record) (bool, error)) error {
	s.mu.RLock()
	var matched []*record.Record
	for _, r := range s.records {
		if f.Match(r) {
			matched = append(matched, r.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	for _, r := range matched {
		more, err := fn(r)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

func (s *Store) CountRecords(_ context.Context, f dedup.RecordFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, r := range s.records {
		if f.Match(r) {
			n++
		}
	}
	return n, nil
}

func (s *Store) FindCandidates(_ context.Context, keys record.CandidateKeys, excludeID string, limit int) ([]*record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := map[string]struct{}{}
	collect := func(ix keyIndex, values []string) {
		for _, k := range values {
			for id := range ix[k] {
				ids[id] = struct{}{}
			}
		}
	}
	collect(s.titleIdx, keys.Title)
	collect(s.isbnIdx, keys.ISBN)
	collect(s.idIdx, keys.ID)
	delete(ids, excludeID)

	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	out := make([]*record.Record, 0, len(sorted))
	for _, id := range sorted {
		if limit > 0 && len(out) >= limit {
			break
		}
		if r, ok := s.records[id]; ok && !r.Deleted && !r.Suppressed {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (s *Store) GetDedup(_ context.Context, id string) (*record.DedupRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dedups[id].Clone(), nil
}

// SaveDedup inserts when Version is 0 and otherwise updates only if the
// stored version still matches.
func (s *Store) SaveDedup(_ context.Context, d *record.DedupRecord) error {
	if d.ID == "" {
		return apperror.NewValidation("dedup record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.dedups[d.ID]
	switch {
	case d.Version == 0 && ok:
		return apperror.NewConcurrentModification("dedup_records", d.ID)
	case d.Version > 0 && (!ok || existing.Version != d.Version):
		return apperror.NewConcurrentModification("dedup_records", d.ID)
	}

	c := d.Clone()
	c.Version = d.Version + 1
	s.dedups[d.ID] = c
	d.Version = c.Version
	return nil
}

func (s *Store) FindDedups(_ context.Context, f dedup.DedupFilter, fn func(*record.DedupRecord) (bool, error)) error {
	s.mu.RLock()
	var matched []*record.DedupRecord
	for _, d := range s.dedups {
		if f.IncludeDeleted || !d.Deleted {
			matched = append(matched, d.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	for _, d := range matched {
		more, err := fn(d)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

func (s *Store) DeleteDedup(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dedups, id)
	return nil
}

// Append implements dedup.Journal.
func (s *Store) Append(_ context.Context, e dedup.JournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.Snapshot = e.Snapshot.Clone()
	s.journal = append(s.journal, e)
	return nil
}

// Journal returns a copy of the journal entries.
func (s *Store) Journal() []dedup.JournalEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]dedup.JournalEntry(nil), s.journal...)
}

// History returns the journal entries of dedupID, newest first.
func (s *Store) History(_ context.Context, dedupID string, limit int) ([]dedup.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []dedup.JournalEntry
	for i := len(s.journal) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if e := s.journal[i]; e.DedupID == dedupID {
			e.Snapshot = e.Snapshot.Clone()
			out = append(out, e)
		}
	}
	return out, nil
}

// Snapshot returns copies of every record and dedup record, sorted by id.
func (s *Store) Snapshot() ([]*record.Record, []*record.DedupRecord) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := make([]*record.Record, 0, len(s.records))
	for _, r := range s.records {
		recs = append(recs, r.Clone())
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })

	dedups := make([]*record.DedupRecord, 0, len(s.dedups))
	for _, d := range s.dedups {
		dedups = append(dedups, d.Clone())
	}
	sort.Slice(dedups, func(i, j int) bool { return dedups[i].ID < dedups[j].ID })
	return recs, dedups
}
