package v1_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recordmanager/internal/app"
	"recordmanager/internal/config"
	"recordmanager/internal/domain/record"
	v1 "recordmanager/internal/infrastructure/http/v1"
	"recordmanager/internal/infrastructure/http/v1/dto"
	"recordmanager/internal/infrastructure/metrics"
	"recordmanager/internal/infrastructure/storage/memory"
	"recordmanager/internal/metadata"
	"recordmanager/pkg/logger"
)

type apiFixture struct {
	t       *testing.T
	store   *memory.Store
	svc     *app.Services
	handler http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	cfg := config.Default()
	cfg.Sources = map[string]config.Source{
		"alpha": {Format: metadata.FormatMARC, Dedup: true},
		"beta":  {Format: metadata.FormatMARC, Dedup: true},
	}

	store := memory.New()
	svc, err := app.New(cfg, app.Stores{
		Records:  store,
		Clusters: store,
		Journal:  store,
		History:  store,
	}, metrics.NewCollector(), logger.NewNop())
	require.NoError(t, err)

	return &apiFixture{
		t:     t,
		store: store,
		svc:   svc,
		handler: v1.NewRouter(v1.RouterConfig{
			Services: svc,
			Logger:   logger.NewNop(),
			Info:     func() map[string]any { return map[string]any{"store": "memory"} },
		}),
	}
}

// put stores a flagged MARC record with freshly extracted keys.
func (f *apiFixture) put(id, title, isbn string) {
	f.t.Helper()
	local := id[strings.IndexByte(id, '.')+1:]
	data := fmt.Sprintf(`<record><leader>00000cam a2200000 i 4500</leader>`+
		`<controlfield tag="001">%s</controlfield>`+
		`<datafield tag="020" ind1=" " ind2=" "><subfield code="a">%s</subfield></datafield>`+
		`<datafield tag="245" ind1="0" ind2="0"><subfield code="a">%s</subfield></datafield>`+
		`</record>`, local, isbn, title)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := &record.Record{
		ID:           id,
		SourceID:     record.SourceOf(id),
		Format:       metadata.FormatMARC,
		Data:         []byte(data),
		UpdateNeeded: true,
		Created:      now,
		Updated:      now,
	}
	md, err := f.svc.Formats.Parse(rec.Format, rec.Data)
	require.NoError(f.t, err)
	f.svc.Engine.UpdateCandidateKeys(rec, md)
	require.NoError(f.t, f.store.SaveRecord(context.Background(), rec))
}

func (f *apiFixture) do(method, path string) *httptest.ResponseRecorder {
	f.t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodGet, "/health/live")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))

	w = f.do(http.MethodGet, "/health/ready")
	assert.Equal(t, http.StatusOK, w.Code)

	info := decode[map[string]any](t, f.do(http.MethodGet, "/health/info"))
	assert.Equal(t, "recordmanager", info["app"])
	assert.Equal(t, "memory", info["store"])
}

func TestGetRecord(t *testing.T) {
	f := newAPIFixture(t)
	f.put("alpha.1", "Tutki ja kirjoita", "9789513148362")

	w := f.do(http.MethodGet, "/api/v1/records/alpha.1")
	require.Equal(t, http.StatusOK, w.Code)
	rec := decode[dto.RecordResponse](t, w)
	assert.Equal(t, "alpha", rec.SourceID)
	assert.Equal(t, []string{"9789513148362"}, rec.Keys.ISBN)
	assert.True(t, rec.UpdateNeeded)
	assert.Empty(t, rec.DedupID)

	w = f.do(http.MethodGet, "/api/v1/records/alpha.404")
	assert.Equal(t, http.StatusNotFound, w.Code)
	body := decode[dto.ErrorResponse](t, w)
	assert.Equal(t, "NOT_FOUND", body.Code)
}

func TestDedupLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	f.put("alpha.1", "Tutki ja kirjoita", "9789513148362")
	f.put("beta.1", "TUTKI JA KIRJOITA", "9789513148362")

	w := f.do(http.MethodPost, "/api/v1/records/alpha.1/dedup")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	run := decode[dto.RunResponse](t, w)
	assert.Equal(t, 1, run.Processed)
	require.NotEmpty(t, run.DedupID)

	w = f.do(http.MethodGet, "/api/v1/dedup/"+run.DedupID)
	require.Equal(t, http.StatusOK, w.Code)
	cluster := decode[dto.DedupRecordResponse](t, w)
	assert.Equal(t, []string{"alpha.1", "beta.1"}, cluster.IDs)
	assert.Len(t, cluster.Members, 2)

	w = f.do(http.MethodPost, "/api/v1/dedup/"+run.DedupID+"/check")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[dto.CheckResponse](t, w).Fixes)

	w = f.do(http.MethodDelete, "/api/v1/dedup/"+run.DedupID+"/members/gamma.1")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodDelete, "/api/v1/dedup/"+run.DedupID+"/members/beta.1")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// two members minus one dissolves the cluster
	for _, id := range []string{"alpha.1", "beta.1"} {
		rec := decode[dto.RecordResponse](t, f.do(http.MethodGet, "/api/v1/records/"+id))
		assert.Empty(t, rec.DedupID, id)
	}
	cluster = decode[dto.DedupRecordResponse](t, f.do(http.MethodGet, "/api/v1/dedup/"+run.DedupID))
	assert.True(t, cluster.Deleted)

	journal := decode[dto.ListResponse[dto.JournalEntryResponse]](t, f.do(http.MethodGet, "/api/v1/dedup/"+run.DedupID+"/journal"))
	require.NotEmpty(t, journal.Items)
	assert.Equal(t, "dissolved", journal.Items[0].Action)
	assert.Equal(t, "created", journal.Items[len(journal.Items)-1].Action)
}

func TestRecordCheckAndPropagate(t *testing.T) {
	f := newAPIFixture(t)
	f.put("alpha.1", "Tutki ja kirjoita", "9789513148362")

	w := f.do(http.MethodPost, "/api/v1/records/alpha.1/check")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[dto.CheckResponse](t, w).Fixes)

	w = f.do(http.MethodPost, "/api/v1/records/alpha.1/propagate")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListSources(t *testing.T) {
	f := newAPIFixture(t)
	f.put("alpha.1", "Tutki ja kirjoita", "9789513148362")
	f.put("alpha.2", "Toinen kirja", "9780306406157")

	w := f.do(http.MethodGet, "/api/v1/sources")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[dto.ListResponse[dto.SourceResponse]](t, w)
	require.Len(t, list.Items, 2)
	assert.Equal(t, "alpha", list.Items[0].ID)
	assert.Equal(t, int64(2), list.Items[0].Records)
	assert.Equal(t, int64(2), list.Items[0].UpdateNeeded)
	assert.Equal(t, "beta", list.Items[1].ID)
	assert.Zero(t, list.Items[1].Records)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.do(http.MethodGet, "/health/live")

	w := f.do(http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `recordmanager_http_requests_total{method="GET",route="/health/live",status_code="200"} 1`)
}
