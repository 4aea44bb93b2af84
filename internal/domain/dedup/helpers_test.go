package dedup_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"recordmanager/internal/config"
	"recordmanager/internal/core/tx"
	"recordmanager/internal/domain/dedup"
	"recordmanager/internal/domain/dedup/keys"
	"recordmanager/internal/domain/record"
	"recordmanager/internal/infrastructure/storage/memory"
	"recordmanager/internal/metadata"
	"recordmanager/pkg/logger"
)

// bib describes a test record rendered as MARCXML.
type bib struct {
	id      string // <source>.<local>
	title   string
	isbns   []string
	ids     []string
	authors []string
	year    int
	leader  string
	hosts   []string
	deleted bool

	// suppressed adds a STA $a SUPPRESSED field
	suppressed bool
}

func (b bib) marc() []byte {
	var sb strings.Builder
	leader := b.leader
	if leader == "" {
		leader = "00000cam a2200000 i 4500"
	}
	local := b.id[strings.IndexByte(b.id, '.')+1:]
	fmt.Fprintf(&sb, `<record><leader>%s</leader><controlfield tag="001">%s</controlfield>`, leader, local)
	if b.year > 0 {
		fmt.Fprintf(&sb, `<controlfield tag="008">000000s%04d    xx            000 0 eng d</controlfield>`, b.year)
	}
	for _, isbn := range b.isbns {
		fmt.Fprintf(&sb, `<datafield tag="020" ind1=" " ind2=" "><subfield code="a">%s</subfield></datafield>`, isbn)
	}
	for _, id := range b.ids {
		fmt.Fprintf(&sb, `<datafield tag="035" ind1=" " ind2=" "><subfield code="a">%s</subfield></datafield>`, id)
	}
	for i, a := range b.authors {
		tag := "700"
		if i == 0 {
			tag = "100"
		}
		fmt.Fprintf(&sb, `<datafield tag="%s" ind1="1" ind2=" "><subfield code="a">%s</subfield></datafield>`, tag, a)
	}
	fmt.Fprintf(&sb, `<datafield tag="245" ind1="0" ind2="0"><subfield code="a">%s</subfield></datafield>`, b.title)
	if b.suppressed {
		sb.WriteString(`<datafield tag="STA" ind1=" " ind2=" "><subfield code="a">SUPPRESSED</subfield></datafield>`)
	}
	for _, h := range b.hosts {
		fmt.Fprintf(&sb, `<datafield tag="773" ind1="0" ind2=" "><subfield code="w">%s</subfield></datafield>`, h)
	}
	sb.WriteString(`</record>`)
	return []byte(sb.String())
}

type fixture struct {
	t       *testing.T
	ctx     context.Context
	cfg     config.Config
	store   *memory.Store
	cs      *dedup.ClusterStore
	engine  *dedup.Engine
	checker *dedup.Checker
	ctrl    *dedup.Controller
	formats *metadata.Registry
	clock   time.Time
}

func newFixture(t *testing.T, mutate ...func(*config.Config)) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Sources = map[string]config.Source{
		"alpha": {Format: metadata.FormatMARC, Dedup: true},
		"beta":  {Format: metadata.FormatMARC, Dedup: true},
		"gamma": {Format: metadata.FormatMARC, Dedup: true},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return newFixtureWith(t, cfg, memory.New(), nil)
}

func newFixtureWith(t *testing.T, cfg config.Config, store *memory.Store, clusters dedup.ClusterRepository, opts ...dedup.StoreOption) *fixture {
	t.Helper()
	log := logger.NewNop()
	if clusters == nil {
		clusters = store
	}

	f := &fixture{t: t, ctx: context.Background(), cfg: cfg, store: store, clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	opts = append([]dedup.StoreOption{dedup.WithJournal(store)}, opts...)
	f.cs = dedup.NewClusterStore(store, clusters, cfg.Dedup, log, opts...)

	verifier, err := dedup.NewVerifier(cfg.Dedup)
	require.NoError(t, err)

	f.formats = metadata.NewRegistry()
	f.engine = dedup.NewEngine(f.cs, verifier, keys.NewExtractor(cfg.Dedup), f.formats, tx.Passthrough{}, log)
	f.checker = dedup.NewChecker(f.cs, tx.Passthrough{}, log)
	f.ctrl = dedup.NewController(f.engine, dedup.NewPropagator(store, cfg, log), cfg, log)
	return f
}

// put stores b as a flagged record with freshly extracted keys.
func (f *fixture) put(b bib) *record.Record {
	f.t.Helper()
	f.clock = f.clock.Add(time.Minute)
	rec := &record.Record{
		ID:           b.id,
		SourceID:     record.SourceOf(b.id),
		Format:       metadata.FormatMARC,
		Data:         b.marc(),
		Deleted:      b.deleted,
		UpdateNeeded: true,
		Created:      f.clock,
		Updated:      f.clock,
	}
	if old := f.get(b.id); old != nil {
		rec.Created = old.Created
		rec.DedupID = old.DedupID
	}
	md, err := f.formats.Parse(rec.Format, rec.Data)
	require.NoError(f.t, err)
	f.engine.UpdateCandidateKeys(rec, md)
	require.NoError(f.t, f.store.SaveRecord(f.ctx, rec))
	return rec
}

func (f *fixture) get(id string) *record.Record {
	f.t.Helper()
	r, err := f.store.GetRecord(f.ctx, id)
	require.NoError(f.t, err)
	return r
}

func (f *fixture) dedup(id string) bool {
	f.t.Helper()
	ok, err := f.engine.DedupRecord(f.ctx, f.get(id))
	require.NoError(f.t, err)
	return ok
}

func (f *fixture) cluster(id string) *record.DedupRecord {
	f.t.Helper()
	d, err := f.store.GetDedup(f.ctx, id)
	require.NoError(f.t, err)
	return d
}

func (f *fixture) requireConsistent() {
	f.t.Helper()
	recs, clusters := f.store.Snapshot()
	require.Empty(f.t, record.CheckInvariants(recs, clusters))
}

func (f *fixture) activeClusters() []*record.DedupRecord {
	_, clusters := f.store.Snapshot()
	var out []*record.DedupRecord
	for _, c := range clusters {
		if !c.Deleted {
			out = append(out, c)
		}
	}
	return out
}
