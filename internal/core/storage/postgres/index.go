package postgres

import (
	"context"
	"database/sql"
	"fmt"

	v1 "github.com/aevon-lab/sliceflow/internal/api/v1"
)

func (a *Adapter) PutIndexEntry(ctx context.Context, e *v1.IndexEntry) error {
	if _, err := a.db.ExecContext(ctx, queryInsertIndexEntry, indexArgs(e)...); err != nil {
		return fmt.Errorf("failed to put index entry: %w", err)
	}
	return nil
}

// ReplaceIndexEntries deletes every entry owned by entityKey and inserts
// entries in the same transaction.
func (a *Adapter) ReplaceIndexEntries(ctx context.Context, tenantID, entityKey string, entries []*v1.IndexEntry) error {
	return a.inTx(ctx, "replace index entries", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, queryDeleteOwnedIndexEntries, tenantID, entityKey); err != nil {
			return fmt.Errorf("replace index entries: delete: %w", err)
		}
		if len(entries) == 0 {
			return nil
		}

		stmt, err := tx.PrepareContext(ctx, queryInsertIndexEntry)
		if err != nil {
			return fmt.Errorf("replace index entries: prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, e := range entries {
			if _, err := stmt.ExecContext(ctx, indexArgs(e)...); err != nil {
				return fmt.Errorf("replace index entries: insert %s=%s: %w", e.IndexType, e.IndexValue, err)
			}
		}
		return nil
	})
}

func (a *Adapter) QueryIndex(ctx context.Context, tenantID, indexType, indexValue string, limit int) ([]string, error) {
	rows, err := a.stmtQueryIndex.QueryContext(ctx, tenantID, indexType, indexValue, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query index: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan index row: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating index rows: %w", err)
	}
	return keys, nil
}

func (a *Adapter) CountIndex(ctx context.Context, tenantID, indexType, indexValue string) (int, error) {
	var n int
	if err := a.stmtCountIndex.QueryRowContext(ctx, tenantID, indexType, indexValue).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count index: %w", err)
	}
	return n, nil
}

func indexArgs(e *v1.IndexEntry) []interface{} {
	return []interface{}{
		e.TenantID,
		e.IndexType,
		e.IndexValue,
		e.EntityKey,
		string(e.Kind),
		e.SourceIndex,
		e.MaxFanout,
	}
}
