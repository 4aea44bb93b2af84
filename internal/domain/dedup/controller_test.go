package dedup_test

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recordmanager/internal/config"
	"recordmanager/internal/core/apperror"
	"recordmanager/internal/domain/dedup"
	"recordmanager/internal/domain/record"
	"recordmanager/internal/infrastructure/storage/memory"
)

func dedupAll() dedup.RunOptions { return dedup.RunOptions{} }

func TestController_IncrementalRun(t *testing.T) {
	f := newFixture(t)
	f.put(bib{id: "alpha.1", title: "Shared work", isbns: []string{"9780306406157"}})
	f.put(bib{id: "beta.1", title: "Shared work", isbns: []string{"9780306406157"}})
	f.put(bib{id: "gamma.1", title: "Unique work", isbns: []string{"9789513148362"}})

	sum, err := f.ctrl.Run(f.ctx, dedupAll())
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Processed)
	assert.Equal(t, 1, sum.Changed, "alpha.1 creates the pair; beta.1 is already linked when its turn comes")
	assert.Zero(t, sum.Errors)
	assert.Empty(t, sum.Failed)
	require.Len(t, sum.Sources, 3)
	assert.Equal(t, "alpha", sum.Sources[0].SourceID)

	n, err := f.store.CountRecords(f.ctx, dedup.RecordFilter{UpdateNeeded: true})
	require.NoError(t, err)
	assert.Zero(t, n)
	f.requireConsistent()

	sum, err = f.ctrl.Run(f.ctx, dedupAll())
	require.NoError(t, err)
	assert.Zero(t, sum.Processed, "nothing flagged")
}

func TestController_FullRunAndScope(t *testing.T) {
	f := newFixture(t)
	f.put(bib{id: "alpha.1", title: "Shared work", isbns: []string{"9780306406157"}})
	f.put(bib{id: "beta.1", title: "Shared work", isbns: []string{"9780306406157"}})
	_, err := f.ctrl.Run(f.ctx, dedupAll())
	require.NoError(t, err)

	sum, err := f.ctrl.Run(f.ctx, dedup.RunOptions{SourceIDs: []string{"beta"}, Full: true})
	require.NoError(t, err)
	require.Len(t, sum.Sources, 1)
	assert.Equal(t, 1, sum.Processed)
	assert.Zero(t, sum.Changed)
}

func TestController_SingleRecord(t *testing.T) {
	f := newFixture(t)
	f.put(bib{id: "alpha.1", title: "Shared work", isbns: []string{"9780306406157"}})
	f.put(bib{id: "beta.1", title: "Shared work", isbns: []string{"9780306406157"}})

	sum, err := f.ctrl.Run(f.ctx, dedup.RunOptions{RecordID: "beta.1"})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Processed)
	assert.NotNil(t, f.get("beta.1").DedupID)

	_, err = f.ctrl.Run(f.ctx, dedup.RunOptions{RecordID: "beta.404"})
	assert.True(t, apperror.IsNotFound(err))
}

func TestController_NoSources(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Sources = nil })
	_, err := f.ctrl.Run(f.ctx, dedupAll())
	assert.True(t, apperror.IsConfig(err))
}

func TestController_PropagatesComponentParts(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Sources["beta"] = config.Source{Dedup: true, HostSources: []string{"alpha"}}
	})
	f.put(bib{id: "alpha.1", title: "Host volume", isbns: []string{"9780306406157"}})
	_, err := f.ctrl.Run(f.ctx, dedup.RunOptions{SourceIDs: []string{"alpha"}})
	require.NoError(t, err)
	require.False(t, f.get("alpha.1").UpdateNeeded)

	f.put(bib{id: "beta.7", title: "Chapter one", hosts: []string{"1"}})
	sum, err := f.ctrl.Run(f.ctx, dedup.RunOptions{SourceIDs: []string{"beta"}})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Sources[0].Propagated)
	assert.True(t, f.get("alpha.1").UpdateNeeded, "host flagged for re-evaluation")
	assert.False(t, f.get("beta.7").UpdateNeeded)
	assert.Nil(t, f.get("beta.7").DedupID)
}

// cancelAfter cancels the run after n processed records.
type cancelAfter struct {
	n      int
	cancel context.CancelFunc
}

func (c *cancelAfter) RecordProcessed(string, string) {
	c.n--
	if c.n == 0 {
		c.cancel()
	}
}
func (c *cancelAfter) ClusterChanged(string) {}
func (c *cancelAfter) Repaired(string)       {}

func TestController_CancelBetweenRecords(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.Default()
	cfg.Sources = map[string]config.Source{"alpha": {Dedup: true}, "beta": {Dedup: true}}
	store := memory.New()
	f := newFixtureWith(t, cfg, store, nil, dedup.WithMetrics(&cancelAfter{n: 2, cancel: cancel}))

	f.put(bib{id: "alpha.1", title: "Shared work", isbns: []string{"9780306406157"}})
	f.put(bib{id: "alpha.2", title: "Other work", isbns: []string{"9789513148362"}})
	f.put(bib{id: "alpha.3", title: "Third work"})
	f.put(bib{id: "beta.1", title: "Shared work", isbns: []string{"9780306406157"}})

	sum, err := f.ctrl.Run(ctx, dedupAll())
	require.Error(t, err)
	assert.True(t, apperror.IsCancelled(err))
	assert.Equal(t, 2, sum.Processed)
	assert.True(t, f.get("alpha.3").UpdateNeeded, "not reached")
	assert.True(t, f.get("beta.1").UpdateNeeded, "next source not started")
	f.requireConsistent()
}

var (
	workloadTitles  = []string{"Shared work", "Other work", "Third work", "Fourth work", "ab"}
	workloadISBNs   = []string{"9780306406157", "9789513148362", "0-306-40615-2", "bogus", ""}
	workloadAuthors = []string{"Leino, Eino", "Manner, Eeva-Liisa", ""}
)

func randomBib(rng *rand.Rand, id string) bib {
	b := bib{id: id, title: workloadTitles[rng.Intn(len(workloadTitles))], year: 1990 + rng.Intn(3)}
	if isbn := workloadISBNs[rng.Intn(len(workloadISBNs))]; isbn != "" {
		b.isbns = []string{isbn}
	}
	if a := workloadAuthors[rng.Intn(len(workloadAuthors))]; a != "" {
		b.authors = []string{a}
	}
	switch rng.Intn(10) {
	case 0:
		b.deleted = true
	case 1:
		b.hosts = []string{"1"}
	case 2:
		b.suppressed = true
	}
	return b
}

func workloadIDs(perSource int) []string {
	var ids []string
	for _, s := range []string{"alpha", "beta", "gamma"} {
		for i := 1; i <= perSource; i++ {
			ids = append(ids, s+"."+string(rune('a'+i)))
		}
	}
	return ids
}

// TestInvariantsUnderRandomWorkload interleaves random harvest updates
// with incremental runs and checks the record/cluster invariants after
// every round.
func TestInvariantsUnderRandomWorkload(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	f := newFixture(t)

	ids := workloadIDs(8)
	for _, id := range ids {
		f.put(randomBib(rng, id))
	}
	for round := 0; round < 10; round++ {
		_, err := f.ctrl.Run(f.ctx, dedup.RunOptions{Full: round%3 == 2})
		require.NoError(t, err)

		recs, clusters := f.store.Snapshot()
		require.Empty(t, record.CheckInvariants(recs, clusters), "round %d", round)

		for i := 0; i < 6; i++ {
			f.put(randomBib(rng, ids[rng.Intn(len(ids))]))
		}
	}

	_, err := f.ctrl.Run(f.ctx, dedupAll())
	require.NoError(t, err)
	res, err := f.checker.CheckDedupRecords(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Fixed, "engine output needs no repair")
	rres, err := f.checker.CheckRecords(f.ctx, "")
	require.NoError(t, err)
	assert.Zero(t, rres.Fixed)
}

// TestInvariantsAfterEachEngineCall drives the engine directly with
// random DedupRecord and RemoveFromDedupRecord calls and checks the
// invariants after every single call.
func TestInvariantsAfterEachEngineCall(t *testing.T) {
	for _, seed := range []int64{1, 7, 42, 1234, 99991} {
		t.Run(fmt.Sprintf("seed %d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			f := newFixture(t)

			ids := workloadIDs(6)
			for _, id := range ids {
				f.put(randomBib(rng, id))
			}

			for step := 0; step < 200; step++ {
				id := ids[rng.Intn(len(ids))]
				var op string
				switch n := rng.Intn(10); {
				case n < 5:
					op = "dedup " + id
					_, err := f.engine.DedupRecord(f.ctx, f.get(id))
					require.NoError(t, err, op)
				case n < 8:
					clusterID := f.get(id).ClusterID()
					if clusterID == "" {
						if active := f.activeClusters(); len(active) > 0 {
							// removing a non-member must leave the cluster intact
							clusterID = active[rng.Intn(len(active))].ID
						}
					}
					if clusterID == "" {
						continue
					}
					op = "remove " + id + " from " + clusterID
					require.NoError(t, f.engine.RemoveFromDedupRecord(f.ctx, clusterID, id), op)
				default:
					// a harvest update is always followed by its dedup pass
					op = "harvest and dedup " + id
					f.put(randomBib(rng, id))
					_, err := f.engine.DedupRecord(f.ctx, f.get(id))
					require.NoError(t, err, op)
				}

				recs, clusters := f.store.Snapshot()
				require.Empty(t, record.CheckInvariants(recs, clusters), "step %d: %s", step, op)
			}
		})
	}
}

func TestController_RefreshKeys(t *testing.T) {
	f := newFixture(t)
	f.put(bib{id: "alpha.1", title: "Shared work", isbns: []string{"9780306406157"}})
	f.put(bib{id: "beta.1", title: "Other work", isbns: []string{"9789513148362"}})
	_, err := f.ctrl.Run(f.ctx, dedupAll())
	require.NoError(t, err)

	// keys written by an older normalisation
	stale := f.get("alpha.1")
	stale.TitleKeys = []string{"shared work (old)"}
	require.NoError(t, f.store.SaveRecord(f.ctx, stale))

	sum, err := f.ctrl.RefreshKeys(f.ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Checked)
	assert.Equal(t, 1, sum.Changed)

	got := f.get("alpha.1")
	assert.True(t, got.UpdateNeeded)
	assert.NotContains(t, got.TitleKeys, "shared work (old)")
	assert.False(t, f.get("beta.1").UpdateNeeded)

	sum, err = f.ctrl.RefreshKeys(f.ctx, []string{"alpha"})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Checked)
	assert.Zero(t, sum.Changed)
}
