package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	v1 "github.com/aevon-lab/sliceflow/internal/api/v1"
	"github.com/aevon-lab/sliceflow/internal/core/partition"
	"github.com/aevon-lab/sliceflow/internal/core/storage"
)

// PutSlices stores a batch of slices in one transaction. Re-putting an
// existing slice version is a no-op.
func (a *Adapter) PutSlices(ctx context.Context, slices []*v1.Slice) error {
	if len(slices) == 0 {
		return nil
	}
	return a.inTx(ctx, "put slices", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, queryInsertSlice)
		if err != nil {
			return fmt.Errorf("put slices: prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, s := range slices {
			data, err := marshalDocument("slice data", s.Data)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx,
				s.TenantID,
				s.EntityKey,
				s.SliceType,
				s.Version,
				partition.For(s.TenantID, s.EntityKey),
				data,
				s.SourceRawDataVersion,
				s.Hash,
				s.RuleSetID,
				s.RuleSetVersion,
				s.CreatedAt,
			); err != nil {
				return fmt.Errorf("put slices: insert %s/%s: %w", s.EntityKey, s.SliceType, err)
			}
		}
		return nil
	})
}

func (a *Adapter) GetLatestSlice(ctx context.Context, tenantID, entityKey, sliceType string) (*v1.Slice, error) {
	s, err := scanSlice(a.stmtGetLatestSlice.QueryRowContext(ctx, tenantID, entityKey, sliceType))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get slice: %w", err)
	}
	return s, nil
}

// GetLatestSlices returns the newest slice of every type, ordered by slice type.
func (a *Adapter) GetLatestSlices(ctx context.Context, tenantID, entityKey string) ([]*v1.Slice, error) {
	return a.querySlices(ctx, queryGetLatestSlices, tenantID, entityKey)
}

func (a *Adapter) GetSlicesByVersion(ctx context.Context, tenantID, entityKey string, rawVersion int64) ([]*v1.Slice, error) {
	return a.querySlices(ctx, queryGetSlicesByVersion, tenantID, entityKey, rawVersion)
}

func (a *Adapter) querySlices(ctx context.Context, query string, args ...interface{}) ([]*v1.Slice, error) {
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query slices: %w", err)
	}
	defer rows.Close()

	var out []*v1.Slice
	for rows.Next() {
		s, err := scanSlice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan slice row: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating slices: %w", err)
	}
	return out, nil
}
