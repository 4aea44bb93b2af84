package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"recordmanager/internal/domain/record"
)

type storedRecord struct {
	record.Record
	DataCompression string `db:"data_compression"`
	Ignored         string `db:"-"`
}

func TestExtractDBColumns_Embedded(t *testing.T) {
	cols := ExtractDBColumns[storedRecord]()

	for _, expected := range []string{
		"id", "source_id", "host_record_id", "linking_id", "title_keys",
		"isbn_keys", "id_keys", "dedup_id", "update_needed", "data", "data_compression",
	} {
		assert.Contains(t, cols, expected)
	}
	assert.NotContains(t, cols, "-")
	assert.Equal(t, "data_compression", cols[len(cols)-1])
}

func TestStructToMap_Record(t *testing.T) {
	now := time.Now().UTC()
	rec := storedRecord{
		Record: record.Record{
			ID:           "alpha.1",
			SourceID:     "alpha",
			ISBNKeys:     []string{"9789513148362"},
			UpdateNeeded: true,
			Created:      now,
		},
		DataCompression: CompressionNone,
	}
	rec.SetCluster("c1")

	m := StructToMap(&rec)

	assert.Equal(t, "alpha.1", m["id"])
	assert.Equal(t, []string{"9789513148362"}, m["isbn_keys"])
	assert.Equal(t, true, m["update_needed"])
	assert.Equal(t, now, m["created"])
	assert.Equal(t, "none", m["data_compression"])
	assert.Equal(t, "c1", *(m["dedup_id"].(*string)))
	assert.NotContains(t, m, "Ignored")
}
