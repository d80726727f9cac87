package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	v1 "github.com/aevon-lab/sliceflow/internal/api/v1"
	"github.com/aevon-lab/sliceflow/internal/core/storage"
	"github.com/lib/pq"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// InsertOutbox inserts entries in one transaction. Entries whose id already
// exists are skipped; storage.ErrDuplicate is returned only when every entry existed.
func (a *Adapter) InsertOutbox(ctx context.Context, entries ...*v1.OutboxEntry) error {
	if len(entries) == 0 {
		return nil
	}
	var inserted int
	err := a.inTx(ctx, "insert outbox", func(tx *sql.Tx) error {
		var err error
		inserted, err = insertOutbox(ctx, tx, entries)
		return err
	})
	if err != nil {
		return err
	}
	if inserted == 0 {
		return fmt.Errorf("outbox entries %s: %w", entries[0].ID, storage.ErrDuplicate)
	}
	if skipped := len(entries) - inserted; skipped > 0 {
		slog.Debug("[Postgres] Skipped existing outbox entries", "skipped", skipped, "inserted", inserted)
	}
	return nil
}

// insertOutbox returns how many entries were new.
func insertOutbox(ctx context.Context, ex execer, entries []*v1.OutboxEntry) (int, error) {
	inserted := 0
	for _, e := range entries {
		payload := []byte(e.Payload)
		if len(payload) == 0 {
			payload = []byte("{}")
		}
		status := e.Status
		if status == "" {
			status = v1.OutboxPending
		}

		res, err := ex.ExecContext(ctx, queryInsertOutbox,
			e.ID,
			string(e.AggregateType),
			e.AggregateID,
			e.EventType,
			payload,
			string(status),
			e.RetryCount,
			nullableInt(e.Priority),
			nullableTime(e.NextRetryAt),
			e.CreatedAt,
		)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert outbox entry %s: %w", e.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, fmt.Errorf("failed to read insert result: %w", err)
		}
		inserted += int(n)
	}
	return inserted, nil
}

// ClaimOutbox claims up to limit due entries. Postgres does not keep the
// subquery order through RETURNING, so the batch is sorted here.
func (a *Adapter) ClaimOutbox(ctx context.Context, workerID string, limit int, now time.Time) ([]*v1.OutboxEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := a.stmtClaimOutbox.QueryContext(ctx, workerID, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox entries: %w", err)
	}
	entries, err := collectOutbox(rows)
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		pi, pj := priorityOf(entries[i]), priorityOf(entries[j])
		if pi != pj {
			return pi > pj
		}
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].ID < entries[j].ID
	})
	return entries, nil
}

func (a *Adapter) MarkOutboxProcessed(ctx context.Context, id, workerID string, now time.Time) error {
	return a.execLeased(ctx, "mark outbox processed", queryMarkOutboxProcessed, id, workerID, now)
}

func (a *Adapter) MarkOutboxRetry(ctx context.Context, id, workerID string, retryCount int, nextRetryAt time.Time, reason string) error {
	return a.execLeased(ctx, "mark outbox retry", queryMarkOutboxRetry, id, workerID, retryCount, nextRetryAt, reason)
}

func (a *Adapter) MoveOutboxToDLQ(ctx context.Context, id, workerID string, retryCount int, reason string) error {
	return a.execLeased(ctx, "move outbox to dlq", queryMoveOutboxToDLQ, id, workerID, retryCount, reason)
}

// execLeased runs an update guarded by the caller's claim.
func (a *Adapter) execLeased(ctx context.Context, op, query string, args ...interface{}) error {
	res, err := a.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if n == 0 {
		return storage.ErrLeaseLost
	}
	return nil
}

func (a *Adapter) ReleaseOutbox(ctx context.Context, workerID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := a.db.ExecContext(ctx, queryReleaseOutbox, workerID, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to release outbox entries: %w", err)
	}
	return nil
}

// ReleaseStaleOutbox dead-letters expired claims that have used their last
// attempt, then releases the rest.
func (a *Adapter) ReleaseStaleOutbox(ctx context.Context, claimedBefore time.Time, maxRetries int) (int, int, error) {
	var released, dead int64
	err := a.inTx(ctx, "release stale outbox", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, queryDeadLetterStaleOutbox, claimedBefore, maxRetries)
		if err != nil {
			return fmt.Errorf("failed to dead-letter stale outbox entries: %w", err)
		}
		if dead, err = res.RowsAffected(); err != nil {
			return err
		}

		res, err = tx.ExecContext(ctx, queryReleaseStaleOutbox, claimedBefore)
		if err != nil {
			return fmt.Errorf("failed to release stale outbox entries: %w", err)
		}
		released, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, 0, err
	}
	return int(released), int(dead), nil
}

func (a *Adapter) ReplayOutbox(ctx context.Context, id string) error {
	res, err := a.db.ExecContext(ctx, queryReplayOutbox, id)
	if err != nil {
		return fmt.Errorf("failed to replay outbox entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to replay outbox entry: %w", err)
	}
	if n > 0 {
		return nil
	}

	if _, err := a.GetOutbox(ctx, id); err != nil {
		return err
	}
	return storage.ErrNotReplayable
}

func (a *Adapter) GetOutbox(ctx context.Context, id string) (*v1.OutboxEntry, error) {
	e, err := scanOutbox(a.db.QueryRowContext(ctx, queryGetOutbox, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox entry: %w", err)
	}
	return e, nil
}

// ListOutbox lists entries oldest first. A non-positive limit lists all.
func (a *Adapter) ListOutbox(ctx context.Context, status v1.OutboxStatus, limit int) ([]*v1.OutboxEntry, error) {
	var lim interface{}
	if limit > 0 {
		lim = limit
	}
	rows, err := a.db.QueryContext(ctx, queryListOutbox, string(status), lim)
	if err != nil {
		return nil, fmt.Errorf("failed to list outbox entries: %w", err)
	}
	return collectOutbox(rows)
}

func collectOutbox(rows *sql.Rows) ([]*v1.OutboxEntry, error) {
	defer rows.Close()

	var out []*v1.OutboxEntry
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox rows: %w", err)
	}
	return out, nil
}

func priorityOf(e *v1.OutboxEntry) int {
	if e.Priority == nil {
		return 0
	}
	return *e.Priority
}
