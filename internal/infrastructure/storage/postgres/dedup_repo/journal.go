package dedup_repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"recordmanager/internal/core/apperror"
	"recordmanager/internal/core/id"
	"recordmanager/internal/domain/dedup"
	"recordmanager/internal/domain/record"
	"recordmanager/internal/infrastructure/storage/postgres"
)

const journalTable = "dedup_journal"

var _ dedup.Journal = (*JournalRepo)(nil)

// journalRow is one dedup_journal row. Snapshot is the JSON encoded dedup
// record, compressed above the codec threshold.
type journalRow struct {
	ID                  string    `db:"id"`
	DedupID             string    `db:"dedup_id"`
	RecordID            string    `db:"record_id"`
	Action              string    `db:"action"`
	Detail              string    `db:"detail"`
	Snapshot            []byte    `db:"snapshot"`
	SnapshotCompression string    `db:"snapshot_compression"`
	Created             time.Time `db:"created"`
}

// JournalRepo appends membership changes and repairs to dedup_journal.
type JournalRepo struct {
	txm   *postgres.TxManager
	codec *postgres.Codec
}

// NewJournalRepo creates a journal repository.
func NewJournalRepo(txm *postgres.TxManager, codec *postgres.Codec) *JournalRepo {
	return &JournalRepo{txm: txm, codec: codec}
}

// Append writes e in the caller's transaction.
func (r *JournalRepo) Append(ctx context.Context, e dedup.JournalEntry) error {
	row, err := r.toRow(e)
	if err != nil {
		return err
	}

	sql, args, err := Builder().
		Insert(journalTable).
		SetMap(postgres.StructToMap(row)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return apperror.NewDatabase("append_journal", err).WithDetail("dedup_id", e.DedupID)
	}
	return nil
}

func (r *JournalRepo) toRow(e dedup.JournalEntry) (journalRow, error) {
	row := journalRow{
		ID:                  id.New(),
		DedupID:             e.DedupID,
		RecordID:            e.RecordID,
		Action:              e.Action,
		Detail:              e.Detail,
		SnapshotCompression: postgres.CompressionNone,
		Created:             e.Created,
	}
	if row.Created.IsZero() {
		row.Created = time.Now().UTC()
	}
	if e.Snapshot != nil {
		raw, err := json.Marshal(e.Snapshot)
		if err != nil {
			return row, fmt.Errorf("marshal snapshot: %w", err)
		}
		row.Snapshot, row.SnapshotCompression = r.codec.Encode(raw)
	}
	return row, nil
}

// History returns the newest journal entries of a dedup record first.
func (r *JournalRepo) History(ctx context.Context, dedupID string, limit int) ([]dedup.JournalEntry, error) {
	q := Builder().
		Select(postgres.ExtractDBColumns[journalRow]()...).
		From(journalTable).
		Where(squirrel.Eq{"dedup_id": dedupID}).
		OrderBy("created DESC", "id DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []*journalRow
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &rows, sql, args...); err != nil {
		return nil, apperror.NewDatabase("journal_history", err).WithDetail("dedup_id", dedupID)
	}

	entries := make([]dedup.JournalEntry, 0, len(rows))
	for _, row := range rows {
		e := dedup.JournalEntry{
			DedupID:  row.DedupID,
			RecordID: row.RecordID,
			Action:   row.Action,
			Detail:   row.Detail,
			Created:  row.Created,
		}
		if len(row.Snapshot) > 0 {
			raw, err := r.codec.Decode(row.Snapshot, row.SnapshotCompression)
			if err != nil {
				return nil, err
			}
			var snap record.DedupRecord
			if err := json.Unmarshal(raw, &snap); err != nil {
				return nil, fmt.Errorf("unmarshal snapshot: %w", err)
			}
			e.Snapshot = &snap
		}
		entries = append(entries, e)
	}
	return entries, nil
}
