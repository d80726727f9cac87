package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	v1 "github.com/aevon-lab/sliceflow/internal/api/v1"
	"github.com/aevon-lab/sliceflow/internal/core/partition"
	"github.com/aevon-lab/sliceflow/internal/core/storage"
)

// SaveRawData stores rec and its outbox entries in one transaction. Writers of
// one entity are serialized by an advisory lock, and the insert is conditional
// on no version at or above rec.Version existing.
func (a *Adapter) SaveRawData(ctx context.Context, rec *v1.RawDataRecord, outbox ...*v1.OutboxEntry) error {
	payload, err := marshalDocument("payload", rec.Payload)
	if err != nil {
		return err
	}

	err = a.inTx(ctx, "save raw data", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, queryLockEntity, rec.TenantID, rec.EntityKey); err != nil {
			return fmt.Errorf("failed to lock entity %s: %w", rec.EntityKey, err)
		}

		res, err := tx.ExecContext(ctx, queryInsertRawData,
			rec.TenantID,
			rec.EntityKey,
			rec.Version,
			partition.For(rec.TenantID, rec.EntityKey),
			rec.SchemaID,
			rec.SchemaVersion,
			payload,
			rec.PayloadHash,
			rec.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert raw data: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read insert result: %w", err)
		}
		if n == 0 {
			return storage.ErrStaleVersion
		}

		inserted, err := insertOutbox(ctx, tx, outbox)
		if err != nil {
			return err
		}
		if inserted < len(outbox) {
			return fmt.Errorf("outbox entry for %s: %w", rec.EntityKey, storage.ErrDuplicate)
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.Debug("[Postgres] Saved raw data",
		"tenant_id", rec.TenantID,
		"entity_key", rec.EntityKey,
		"version", rec.Version,
		"outbox_entries", len(outbox))
	return nil
}

func (a *Adapter) GetRawData(ctx context.Context, tenantID, entityKey string, version int64) (*v1.RawDataRecord, error) {
	return getRawData(a.stmtGetRawData.QueryRowContext(ctx, tenantID, entityKey, version))
}

func (a *Adapter) GetLatestRawData(ctx context.Context, tenantID, entityKey string) (*v1.RawDataRecord, error) {
	return getRawData(a.stmtGetLatestRawData.QueryRowContext(ctx, tenantID, entityKey))
}

func (a *Adapter) GetPreviousRawData(ctx context.Context, tenantID, entityKey string, before int64) (*v1.RawDataRecord, error) {
	return getRawData(a.stmtGetPreviousRawData.QueryRowContext(ctx, tenantID, entityKey, before))
}

func getRawData(row *sql.Row) (*v1.RawDataRecord, error) {
	rec, err := scanRawData(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get raw data: %w", err)
	}
	return rec, nil
}
