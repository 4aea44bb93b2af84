package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recordmanager/internal/core/apperror"
	"recordmanager/internal/domain/dedup"
	"recordmanager/internal/domain/record"
)

func TestStore_CandidatesFollowIndex(t *testing.T) {
	ctx := context.Background()
	s := New()

	a := &record.Record{ID: "alpha.1", SourceID: "alpha", ISBNKeys: []string{"9780306406157"}}
	b := &record.Record{ID: "beta.1", SourceID: "beta", ISBNKeys: []string{"9780306406157"}, TitleKeys: []string{"war and peace"}}
	require.NoError(t, s.SaveRecord(ctx, a))
	require.NoError(t, s.SaveRecord(ctx, b))

	got, err := s.FindCandidates(ctx, a.Keys(), a.ID, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "beta.1", got[0].ID)

	// re-saving with other keys drops the old index entries
	b.ISBNKeys = nil
	require.NoError(t, s.SaveRecord(ctx, b))
	got, err = s.FindCandidates(ctx, a.Keys(), a.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	b.Deleted = true
	require.NoError(t, s.SaveRecord(ctx, b))
	got, err = s.FindCandidates(ctx, record.CandidateKeys{Title: []string{"war and peace"}}, "", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_CandidatesSkipSuppressedBeforeLimit(t *testing.T) {
	ctx := context.Background()
	s := New()

	isbn := []string{"9780306406157"}
	for _, r := range []*record.Record{
		{ID: "alpha.1", SourceID: "alpha", ISBNKeys: isbn},
		{ID: "beta.a", SourceID: "beta", ISBNKeys: isbn, Suppressed: true},
		{ID: "beta.b", SourceID: "beta", ISBNKeys: isbn, Suppressed: true},
		{ID: "gamma.z", SourceID: "gamma", ISBNKeys: isbn},
	} {
		require.NoError(t, s.SaveRecord(ctx, r))
	}

	got, err := s.FindCandidates(ctx, record.CandidateKeys{ISBN: isbn}, "alpha.1", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "gamma.z", got[0].ID)
}

func TestStore_ValuesAreCopied(t *testing.T) {
	ctx := context.Background()
	s := New()

	rec := &record.Record{ID: "alpha.1", TitleKeys: []string{"x"}}
	require.NoError(t, s.SaveRecord(ctx, rec))
	rec.TitleKeys[0] = "mutated"

	got, err := s.GetRecord(ctx, "alpha.1")
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, got.TitleKeys)

	missing, err := s.GetRecord(ctx, "alpha.2")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_SaveDedupVersion(t *testing.T) {
	ctx := context.Background()
	s := New()

	d := &record.DedupRecord{ID: "c1", IDs: []string{"alpha.1", "beta.1"}}
	require.NoError(t, s.SaveDedup(ctx, d))
	assert.Equal(t, 1, d.Version)

	stale := d.Clone()
	d.Add("gamma.1")
	require.NoError(t, s.SaveDedup(ctx, d))
	assert.Equal(t, 2, d.Version)

	err := s.SaveDedup(ctx, stale)
	assert.True(t, apperror.IsConcurrentModification(err))

	dup := &record.DedupRecord{ID: "c1"}
	assert.True(t, apperror.IsConcurrentModification(s.SaveDedup(ctx, dup)))
}

func TestStore_FindRecordsStopsEarly(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, id := range []string{"alpha.3", "alpha.1", "alpha.2"} {
		require.NoError(t, s.SaveRecord(ctx, &record.Record{ID: id, SourceID: "alpha"}))
	}

	var seen []string
	err := s.FindRecords(ctx, dedup.RecordFilter{SourceIDs: []string{"alpha"}}, func(r *record.Record) (bool, error) {
		seen = append(seen, r.ID)
		return len(seen) < 2, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha.1", "alpha.2"}, seen)

	n, err := s.CountRecords(ctx, dedup.RecordFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestStore_History(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Append(ctx, dedup.JournalEntry{DedupID: "c1", Action: dedup.ActionCreated}))
	require.NoError(t, s.Append(ctx, dedup.JournalEntry{DedupID: "c2", Action: dedup.ActionCreated}))
	require.NoError(t, s.Append(ctx, dedup.JournalEntry{DedupID: "c1", Action: dedup.ActionJoined, RecordID: "gamma.1"}))

	got, err := s.History(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, dedup.ActionJoined, got[0].Action)
	assert.Equal(t, dedup.ActionCreated, got[1].Action)

	got, err = s.History(ctx, "c1", 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
