package dedup_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"recordmanager/internal/core/apperror"
	"recordmanager/internal/domain/dedup"
	"recordmanager/internal/domain/record"
	"recordmanager/internal/infrastructure/storage/postgres"
)

const dedupTable = "dedup_records"

var _ dedup.ClusterRepository = (*ClusterRepo)(nil)

// ClusterRepo stores dedup records with optimistic locking on version.
type ClusterRepo struct {
	txm        *postgres.TxManager
	selectCols []string
}

// NewClusterRepo creates a dedup record repository.
func NewClusterRepo(txm *postgres.TxManager) *ClusterRepo {
	return &ClusterRepo{
		txm:        txm,
		selectCols: postgres.ExtractDBColumns[record.DedupRecord](),
	}
}

// GetDedup returns nil, nil when the dedup record does not exist.
func (r *ClusterRepo) GetDedup(ctx context.Context, id string) (*record.DedupRecord, error) {
	sql, args, err := Builder().Select(r.selectCols...).From(dedupTable).
		Where(squirrel.Eq{"id": id}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var d record.DedupRecord
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &d, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, apperror.NewDatabase("get_dedup", err).WithDetail("dedup_id", id)
	}
	return &d, nil
}

// SaveDedup inserts when Version is 0 and otherwise updates the row only
// if its version is unchanged.
func (r *ClusterRepo) SaveDedup(ctx context.Context, d *record.DedupRecord) error {
	if d.ID == "" {
		return apperror.NewValidation("dedup record id is required")
	}

	var (
		sql  string
		args []any
		err  error
	)
	if d.Version == 0 {
		sql, args, err = r.insertQuery(d)
	} else {
		sql, args, err = r.updateQuery(d)
	}
	if err != nil {
		return fmt.Errorf("build dedup write: %w", err)
	}

	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return apperror.NewDatabase("save_dedup", err).WithDetail("dedup_id", d.ID)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewConcurrentModification(dedupTable, d.ID)
	}

	d.Version++
	return nil
}

func (r *ClusterRepo) insertQuery(d *record.DedupRecord) (string, []any, error) {
	return Builder().
		Insert(dedupTable).
		Columns("id", "ids", "deleted", "changed", "version").
		Values(d.ID, idsOrEmpty(d.IDs), d.Deleted, changedOrNow(d.Changed), 1).
		Suffix("ON CONFLICT (id) DO NOTHING").
		ToSql()
}

func (r *ClusterRepo) updateQuery(d *record.DedupRecord) (string, []any, error) {
	return Builder().
		Update(dedupTable).
		Set("ids", idsOrEmpty(d.IDs)).
		Set("deleted", d.Deleted).
		Set("changed", changedOrNow(d.Changed)).
		Set("version", squirrel.Expr("version + 1")).
		Where(squirrel.Eq{"id": d.ID}).
		Where(squirrel.Eq{"version": d.Version}).
		ToSql()
}

// FindDedups calls fn for each dedup record in id order.
func (r *ClusterRepo) FindDedups(ctx context.Context, f dedup.DedupFilter, fn func(*record.DedupRecord) (bool, error)) error {
	q := Builder().Select(r.selectCols...).From(dedupTable).OrderBy("id")
	if !f.IncludeDeleted {
		q = q.Where(squirrel.Eq{"deleted": false})
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	var dedups []*record.DedupRecord
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &dedups, sql, args...); err != nil {
		return apperror.NewDatabase("find_dedups", err)
	}
	for _, d := range dedups {
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

// DeleteDedup removes the row. Used only to roll back a failed create.
func (r *ClusterRepo) DeleteDedup(ctx context.Context, id string) error {
	sql, args, err := Builder().Delete(dedupTable).Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return apperror.NewDatabase("delete_dedup", err).WithDetail("dedup_id", id)
	}
	return nil
}

func idsOrEmpty(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func changedOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
