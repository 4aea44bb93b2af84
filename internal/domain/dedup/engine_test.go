package dedup_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recordmanager/internal/config"
	"recordmanager/internal/domain/dedup"
	"recordmanager/internal/metadata"
)

func TestDedupRecord_ISBNMatchAcrossSources(t *testing.T) {
	f := newFixture(t)
	f.put(bib{id: "alpha.1", title: "Tutki ja kirjoita", isbns: []string{"951-31-4836-X"}})
	f.put(bib{id: "beta.1", title: "TUTKI JA KIRJOITA", isbns: []string{"9789513148362"}})

	assert.True(t, f.dedup("alpha.1"))

	a, b := f.get("alpha.1"), f.get("beta.1")
	require.NotNil(t, a.DedupID)
	assert.Equal(t, a.ClusterID(), b.ClusterID())
	assert.False(t, a.UpdateNeeded)
	assert.Equal(t, []string{"alpha.1", "beta.1"}, f.cluster(a.ClusterID()).IDs)
	f.requireConsistent()

	journal := f.store.Journal()
	require.Len(t, journal, 1)
	assert.Equal(t, dedup.ActionCreated, journal[0].Action)
}

func TestDedupRecord_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.put(bib{id: "alpha.1", title: "Tutki ja kirjoita", isbns: []string{"9789513148362"}})
	f.put(bib{id: "beta.1", title: "Tutki ja kirjoita", isbns: []string{"9789513148362"}})

	require.True(t, f.dedup("alpha.1"))
	first := f.get("alpha.1").ClusterID()
	version := f.cluster(first).Version

	require.True(t, f.dedup("alpha.1"))
	require.True(t, f.dedup("beta.1"))

	assert.Equal(t, first, f.get("alpha.1").ClusterID())
	assert.Equal(t, version, f.cluster(first).Version, "no cluster writes on re-evaluation")
	assert.Len(t, f.activeClusters(), 1)
	f.requireConsistent()
}

func TestDedupRecord_SameSourceGuard(t *testing.T) {
	t.Run("rejected by default", func(t *testing.T) {
		f := newFixture(t)
		f.put(bib{id: "alpha.1", title: "Same book", isbns: []string{"9780306406157"}})
		f.put(bib{id: "alpha.2", title: "Same book", isbns: []string{"9780306406157"}})

		assert.False(t, f.dedup("alpha.1"))
		assert.Nil(t, f.get("alpha.1").DedupID)
	})

	t.Run("allowed by configuration", func(t *testing.T) {
		f := newFixture(t, func(c *config.Config) { c.Dedup.AllowSameSource = true })
		f.put(bib{id: "alpha.1", title: "Same book", isbns: []string{"9780306406157"}})
		f.put(bib{id: "alpha.2", title: "Same book", isbns: []string{"9780306406157"}})

		assert.True(t, f.dedup("alpha.1"))
		f.requireConsistent()
	})

	t.Run("cluster already holds the source", func(t *testing.T) {
		f := newFixture(t)
		f.put(bib{id: "alpha.1", title: "Same book", isbns: []string{"9780306406157"}})
		f.put(bib{id: "beta.1", title: "Same book", isbns: []string{"9780306406157"}})
		require.True(t, f.dedup("alpha.1"))

		f.put(bib{id: "alpha.2", title: "Same book", isbns: []string{"9780306406157"}})
		assert.False(t, f.dedup("alpha.2"))
		assert.Len(t, f.cluster(f.get("beta.1").ClusterID()).IDs, 2)
		f.requireConsistent()
	})
}

func TestDedupRecord_SuppressedCandidatesDoNotCrowdOutMatches(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Dedup.MaxCandidates = 2 })
	f.put(bib{id: "alpha.1", title: "Shared work", isbns: []string{"9780306406157"}})
	f.put(bib{id: "beta.a", title: "Shared work", isbns: []string{"9780306406157"}, suppressed: true})
	f.put(bib{id: "beta.b", title: "Shared work", isbns: []string{"9780306406157"}, suppressed: true})
	f.put(bib{id: "gamma.z", title: "Shared work", isbns: []string{"9780306406157"}})

	require.True(t, f.dedup("alpha.1"))
	clusterID := f.get("alpha.1").ClusterID()
	assert.Equal(t, []string{"alpha.1", "gamma.z"}, f.cluster(clusterID).IDs)
	assert.Nil(t, f.get("beta.a").DedupID)
	f.requireConsistent()
}

func TestDedupRecord_JoinsExistingCluster(t *testing.T) {
	f := newFixture(t)
	f.put(bib{id: "alpha.1", title: "Shared work", isbns: []string{"9780306406157"}})
	f.put(bib{id: "beta.1", title: "Shared work", isbns: []string{"9780306406157"}})
	require.True(t, f.dedup("alpha.1"))
	clusterID := f.get("alpha.1").ClusterID()

	f.put(bib{id: "gamma.1", title: "Shared work", isbns: []string{"0-306-40615-2"}})
	assert.True(t, f.dedup("gamma.1"))

	assert.Equal(t, clusterID, f.get("gamma.1").ClusterID())
	assert.Equal(t, []string{"alpha.1", "beta.1", "gamma.1"}, f.cluster(clusterID).IDs)
	assert.Len(t, f.activeClusters(), 1)
	f.requireConsistent()
}

func TestDedupRecord_TitleOnlyNeedsCorroboration(t *testing.T) {
	tests := []struct {
		name string
		a, b bib
		want bool
	}{
		{
			name: "same year and author",
			a:    bib{id: "alpha.1", title: "The collected poems", authors: []string{"Leino, Eino"}, year: 1990},
			b:    bib{id: "beta.1", title: "Collected poems.", authors: []string{"Eino Leino"}, year: 1991},
			want: true,
		},
		{
			name: "years too far apart",
			a:    bib{id: "alpha.1", title: "The collected poems", authors: []string{"Leino, Eino"}, year: 1990},
			b:    bib{id: "beta.1", title: "Collected poems", authors: []string{"Leino, Eino"}, year: 2005},
			want: false,
		},
		{
			name: "different authors",
			a:    bib{id: "alpha.1", title: "Collected poems", authors: []string{"Leino, Eino"}, year: 1990},
			b:    bib{id: "beta.1", title: "Collected poems", authors: []string{"Manner, Eeva-Liisa"}, year: 1990},
			want: false,
		},
		{
			name: "nothing to corroborate",
			a:    bib{id: "alpha.1", title: "Collected poems"},
			b:    bib{id: "beta.1", title: "Collected poems"},
			want: false,
		},
		{
			name: "different format families",
			a:    bib{id: "alpha.1", title: "Collected poems", year: 1990},
			b:    bib{id: "beta.1", title: "Collected poems", year: 1990, leader: "00000cim a2200000 i 4500"},
			want: false,
		},
		{
			name: "disjoint isbns",
			a:    bib{id: "alpha.1", title: "Collected poems", year: 1990, isbns: []string{"9780306406157"}},
			b:    bib{id: "beta.1", title: "Collected poems", year: 1990, isbns: []string{"9789513148362"}},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.put(tt.a)
			f.put(tt.b)
			assert.Equal(t, tt.want, f.dedup(tt.a.id))
			f.requireConsistent()
		})
	}
}

func TestDedupRecord_DeletedRecordDissolvesPair(t *testing.T) {
	f := newFixture(t)
	f.put(bib{id: "alpha.1", title: "Shared work", isbns: []string{"9780306406157"}})
	f.put(bib{id: "beta.1", title: "Shared work", isbns: []string{"9780306406157"}})
	require.True(t, f.dedup("alpha.1"))
	clusterID := f.get("alpha.1").ClusterID()

	f.put(bib{id: "alpha.1", title: "Shared work", isbns: []string{"9780306406157"}, deleted: true})
	assert.False(t, f.dedup("alpha.1"))

	assert.Nil(t, f.get("alpha.1").DedupID)
	assert.Nil(t, f.get("beta.1").DedupID, "remaining singleton is released")
	c := f.cluster(clusterID)
	assert.True(t, c.Deleted)
	assert.Empty(t, c.IDs)
	f.requireConsistent()
}

func TestDedupRecord_KeysChangeLeavesCluster(t *testing.T) {
	f := newFixture(t)
	f.put(bib{id: "alpha.1", title: "Shared work", isbns: []string{"9780306406157"}})
	f.put(bib{id: "beta.1", title: "Shared work", isbns: []string{"9780306406157"}})
	f.put(bib{id: "gamma.1", title: "Shared work", isbns: []string{"9780306406157"}})
	require.True(t, f.dedup("alpha.1"))
	require.True(t, f.dedup("gamma.1"))
	clusterID := f.get("alpha.1").ClusterID()

	f.put(bib{id: "gamma.1", title: "Entirely different", isbns: []string{"9789513148362"}})
	assert.False(t, f.dedup("gamma.1"))

	assert.Nil(t, f.get("gamma.1").DedupID)
	assert.Equal(t, []string{"alpha.1", "beta.1"}, f.cluster(clusterID).IDs)
	f.requireConsistent()
}

func TestDedupRecord_MovesToBetterCluster(t *testing.T) {
	f := newFixture(t)
	f.put(bib{id: "alpha.1", title: "First work", isbns: []string{"9780306406157"}})
	f.put(bib{id: "beta.1", title: "First work", isbns: []string{"9780306406157"}})
	require.True(t, f.dedup("alpha.1"))
	first := f.get("alpha.1").ClusterID()

	f.put(bib{id: "alpha.2", title: "Second work", isbns: []string{"9789513148362"}})
	f.put(bib{id: "gamma.1", title: "Second work", isbns: []string{"9789513148362"}})
	require.True(t, f.dedup("alpha.2"))
	second := f.get("alpha.2").ClusterID()
	require.NotEqual(t, first, second)

	// beta.1 is re-catalogued as the second work
	f.put(bib{id: "beta.1", title: "Second work", isbns: []string{"9789513148362"}})
	assert.True(t, f.dedup("beta.1"))

	assert.Equal(t, second, f.get("beta.1").ClusterID())
	assert.True(t, f.cluster(first).Deleted)
	assert.Nil(t, f.get("alpha.1").DedupID)
	f.requireConsistent()
}

func TestDedupRecord_ComponentPartNeverClustered(t *testing.T) {
	f := newFixture(t)
	f.put(bib{id: "alpha.1", title: "Host volume", isbns: []string{"9780306406157"}})
	part := f.put(bib{id: "alpha.2", title: "An article in the volume", hosts: []string{"1"}})
	f.put(bib{id: "beta.9", title: "An article in the volume", year: 2000})

	assert.True(t, part.IsComponentPart())
	assert.True(t, part.Keys().Empty())
	assert.False(t, f.dedup("alpha.2"))
	assert.False(t, f.dedup("beta.9"))
	assert.Nil(t, f.get("alpha.2").DedupID)
	f.requireConsistent()
}

func TestDedupRecord_NoKeysLeavesCluster(t *testing.T) {
	f := newFixture(t)
	f.put(bib{id: "alpha.1", title: "Shared work", isbns: []string{"9780306406157"}})
	f.put(bib{id: "beta.1", title: "Shared work", isbns: []string{"9780306406157"}})
	require.True(t, f.dedup("alpha.1"))

	f.put(bib{id: "beta.1", title: "ab"})
	assert.False(t, f.dedup("beta.1"))
	assert.Nil(t, f.get("alpha.1").DedupID)
	f.requireConsistent()
}

func TestUpdateCandidateKeys(t *testing.T) {
	f := newFixture(t)
	rec := f.put(bib{id: "alpha.1", title: "Shared work", isbns: []string{"9780306406157"}})

	md, err := f.formats.Parse(metadata.FormatMARC, rec.Data)
	require.NoError(t, err)
	assert.False(t, f.engine.UpdateCandidateKeys(rec, md), "same payload, same keys")

	changed := bib{id: "alpha.1", title: "Shared work", isbns: []string{"9789513148362"}}
	md, err = f.formats.Parse(metadata.FormatMARC, changed.marc())
	require.NoError(t, err)
	assert.True(t, f.engine.UpdateCandidateKeys(rec, md))
	assert.Equal(t, []string{"9789513148362"}, rec.ISBNKeys)

	assert.True(t, f.engine.UpdateCandidateKeys(rec, nil), "malformed payload drops keys")
	assert.True(t, rec.Keys().Empty())
}

func TestRemoveFromDedupRecord(t *testing.T) {
	f := newFixture(t)
	f.put(bib{id: "alpha.1", title: "Shared work", isbns: []string{"9780306406157"}})
	f.put(bib{id: "beta.1", title: "Shared work", isbns: []string{"9780306406157"}})
	f.put(bib{id: "gamma.1", title: "Shared work", isbns: []string{"9780306406157"}})
	require.True(t, f.dedup("alpha.1"))
	require.True(t, f.dedup("gamma.1"))
	clusterID := f.get("alpha.1").ClusterID()

	require.NoError(t, f.engine.RemoveFromDedupRecord(f.ctx, clusterID, "gamma.1"))
	require.NoError(t, f.engine.RemoveFromDedupRecord(f.ctx, clusterID, "gamma.1"))

	assert.Nil(t, f.get("gamma.1").DedupID)
	assert.Equal(t, []string{"alpha.1", "beta.1"}, f.cluster(clusterID).IDs)
	f.requireConsistent()
}
