// Package dedup_repo provides the PostgreSQL implementations of the dedup
// repositories over the records, dedup_records and dedup_journal tables.
package dedup_repo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"recordmanager/internal/core/apperror"
	"recordmanager/internal/domain/dedup"
	"recordmanager/internal/domain/record"
	"recordmanager/internal/infrastructure/storage/postgres"
)

const recordsTable = "records"

var _ dedup.RecordRepository = (*RecordRepo)(nil)

// recordRow is the stored form of a record. Data holds the encoded payload.
type recordRow struct {
	record.Record
	DataCompression string `db:"data_compression"`
}

// RecordRepo stores records. The data payload is zstd compressed above the
// codec threshold.
type RecordRepo struct {
	txm        *postgres.TxManager
	codec      *postgres.Codec
	selectCols []string
	upsertSet  string
}

// NewRecordRepo creates a record repository.
func NewRecordRepo(txm *postgres.TxManager, codec *postgres.Codec) *RecordRepo {
	cols := postgres.ExtractDBColumns[recordRow]()

	set := make([]string, 0, len(cols))
	for _, c := range cols {
		if c == "id" || c == "created" {
			continue
		}
		set = append(set, c+" = EXCLUDED."+c)
	}

	return &RecordRepo{
		txm:        txm,
		codec:      codec,
		selectCols: cols,
		upsertSet:  strings.Join(set, ", "),
	}
}

// Builder returns a squirrel builder with PostgreSQL placeholders.
func Builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

func (r *RecordRepo) baseSelect() squirrel.SelectBuilder {
	return Builder().Select(r.selectCols...).From(recordsTable)
}

// GetRecord returns nil, nil when the record does not exist.
func (r *RecordRepo) GetRecord(ctx context.Context, id string) (*record.Record, error) {
	sql, args, err := r.baseSelect().Where(squirrel.Eq{"id": id}).Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var row recordRow
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &row, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, apperror.NewDatabase("get_record", err).WithDetail("record_id", id)
	}
	return r.fromRow(&row)
}

// SaveRecord upserts rec.
func (r *RecordRepo) SaveRecord(ctx context.Context, rec *record.Record) error {
	if rec.ID == "" {
		return apperror.NewValidation("record id is required")
	}

	sql, args, err := r.upsertQuery(rec, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}

	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return apperror.NewDatabase("save_record", err).WithDetail("record_id", rec.ID)
	}
	return nil
}

func (r *RecordRepo) upsertQuery(rec *record.Record, now time.Time) (string, []any, error) {
	row := recordRow{Record: *rec}
	row.Data, row.DataCompression = r.codec.Encode(rec.Data)
	row.HostRecordIDs = nilIfEmpty(rec.HostRecordIDs)
	row.LinkingIDs = nilIfEmpty(rec.LinkingIDs)
	row.TitleKeys = nilIfEmpty(rec.TitleKeys)
	row.ISBNKeys = nilIfEmpty(rec.ISBNKeys)
	row.IDKeys = nilIfEmpty(rec.IDKeys)
	if row.Created.IsZero() {
		row.Created = now
	}
	if row.Updated.IsZero() {
		row.Updated = now
	}

	return Builder().
		Insert(recordsTable).
		SetMap(postgres.StructToMap(row)).
		Suffix("ON CONFLICT (id) DO UPDATE SET " + r.upsertSet).
		ToSql()
}

// FindRecords streams matching records ordered by id. Inside a transaction
// the rows are read completely before fn runs, since fn may write through
// the same connection.
func (r *RecordRepo) FindRecords(ctx context.Context, f dedup.RecordFilter, fn func(*record.Record) (bool, error)) error {
	sql, args, err := applyFilter(r.baseSelect(), f).OrderBy("id").ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	if r.txm.GetTx(ctx) != nil {
		var rows []*recordRow
		if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &rows, sql, args...); err != nil {
			return apperror.NewDatabase("find_records", err)
		}
		for _, row := range rows {
			rec, err := r.fromRow(row)
			if err != nil {
				return err
			}
			more, err := fn(rec)
			if err != nil || !more {
				return err
			}
		}
		return nil
	}

	rows, err := r.txm.GetQuerier(ctx).Query(ctx, sql, args...)
	if err != nil {
		return apperror.NewDatabase("find_records", err)
	}
	defer rows.Close()

	rs := pgxscan.NewRowScanner(rows)
	for rows.Next() {
		var row recordRow
		if err := rs.Scan(&row); err != nil {
			return fmt.Errorf("scan record: %w", err)
		}
		rec, err := r.fromRow(&row)
		if err != nil {
			return err
		}
		more, err := fn(rec)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return apperror.NewDatabase("find_records", err)
	}
	return nil
}

// CountRecords counts matching records.
func (r *RecordRepo) CountRecords(ctx context.Context, f dedup.RecordFilter) (int64, error) {
	sql, args, err := applyFilter(Builder().Select("count(*)").From(recordsTable), f).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}

	var n int64
	if err := r.txm.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, apperror.NewDatabase("count_records", err)
	}
	return n, nil
}

// FindCandidates looks records up through the GIN indexes on the key arrays.
// Deleted and suppressed records are excluded before the limit applies.
func (r *RecordRepo) FindCandidates(ctx context.Context, keys record.CandidateKeys, excludeID string, limit int) ([]*record.Record, error) {
	q, ok := r.candidateQuery(keys, excludeID, limit)
	if !ok {
		return nil, nil
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []*recordRow
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &rows, sql, args...); err != nil {
		return nil, apperror.NewDatabase("find_candidates", err).WithDetail("record_id", excludeID)
	}

	out := make([]*record.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := r.fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *RecordRepo) candidateQuery(keys record.CandidateKeys, excludeID string, limit int) (squirrel.SelectBuilder, bool) {
	var anyKey squirrel.Or
	if len(keys.Title) > 0 {
		anyKey = append(anyKey, squirrel.Expr("title_keys && ?", keys.Title))
	}
	if len(keys.ISBN) > 0 {
		anyKey = append(anyKey, squirrel.Expr("isbn_keys && ?", keys.ISBN))
	}
	if len(keys.ID) > 0 {
		anyKey = append(anyKey, squirrel.Expr("id_keys && ?", keys.ID))
	}
	if len(anyKey) == 0 {
		return squirrel.SelectBuilder{}, false
	}

	q := r.baseSelect().
		Where(anyKey).
		Where(squirrel.Eq{"deleted": false}).
		Where(squirrel.Eq{"suppressed": false}).
		Where(squirrel.NotEq{"id": excludeID}).
		OrderBy("id")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return q, true
}

func (r *RecordRepo) fromRow(row *recordRow) (*record.Record, error) {
	data, err := r.codec.Decode(row.Data, row.DataCompression)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", row.ID, err)
	}
	rec := row.Record
	rec.Data = data
	return &rec, nil
}

// applyFilter translates a RecordFilter into WHERE clauses.
func applyFilter(q squirrel.SelectBuilder, f dedup.RecordFilter) squirrel.SelectBuilder {
	if len(f.SourceIDs) > 0 {
		q = q.Where(squirrel.Eq{"source_id": f.SourceIDs})
	}
	if len(f.IDs) > 0 {
		q = q.Where(squirrel.Eq{"id": f.IDs})
	}
	if f.UpdateNeeded {
		q = q.Where(squirrel.Eq{"update_needed": true})
	}
	if !f.IncludeDeleted {
		q = q.Where(squirrel.Eq{"deleted": false})
	}
	if f.HostLevelOnly {
		q = q.Where("host_record_id IS NULL")
	}
	if f.ComponentPartsOnly {
		q = q.Where("host_record_id IS NOT NULL")
	}
	if f.Clustered {
		q = q.Where(squirrel.NotEq{"dedup_id": nil})
	}
	if len(f.LinkingIDs) > 0 {
		q = q.Where(squirrel.Expr("linking_id && ?", f.LinkingIDs))
	}
	return q
}

// nilIfEmpty stores empty arrays as NULL so the partial indexes skip them.
func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}
