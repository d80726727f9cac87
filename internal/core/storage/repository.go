package storage

import (
	"context"
	"errors"
	"time"

	v1 "github.com/aevon-lab/sliceflow/internal/api/v1"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrStaleVersion is returned when a raw data version is not newer than the stored latest.
	ErrStaleVersion = errors.New("version is not newer than the latest stored version")

	// ErrDuplicate is returned when an outbox entry id already exists.
	ErrDuplicate = errors.New("record already exists")

	// ErrLeaseLost is returned when an outbox entry is no longer claimed by the caller.
	ErrLeaseLost = errors.New("outbox claim no longer held")

	// ErrNotReplayable is returned when replaying an outbox entry that is not dead-lettered.
	ErrNotReplayable = errors.New("outbox entry is not in DLQ")
)

// RawDataStore persists immutable raw data versions.
type RawDataStore interface {
	// SaveRawData stores rec together with outbox entries in one atomic write.
	// Returns ErrStaleVersion unless rec.Version exceeds every stored version of the entity.
	SaveRawData(ctx context.Context, rec *v1.RawDataRecord, outbox ...*v1.OutboxEntry) error

	// GetRawData returns one exact version.
	GetRawData(ctx context.Context, tenantID, entityKey string, version int64) (*v1.RawDataRecord, error)

	// GetLatestRawData returns the newest version.
	GetLatestRawData(ctx context.Context, tenantID, entityKey string) (*v1.RawDataRecord, error)

	// GetPreviousRawData returns the newest version older than before.
	GetPreviousRawData(ctx context.Context, tenantID, entityKey string, before int64) (*v1.RawDataRecord, error)
}

// SliceStore persists slice versions.
type SliceStore interface {
	// PutSlices stores a batch of slices atomically.
	PutSlices(ctx context.Context, slices []*v1.Slice) error

	// GetLatestSlice returns the newest slice of one type.
	GetLatestSlice(ctx context.Context, tenantID, entityKey, sliceType string) (*v1.Slice, error)

	// GetLatestSlices returns the newest slice of every type.
	GetLatestSlices(ctx context.Context, tenantID, entityKey string) ([]*v1.Slice, error)

	// GetSlicesByVersion returns, per type, the newest slice derived from raw data version rawVersion.
	GetSlicesByVersion(ctx context.Context, tenantID, entityKey string, rawVersion int64) ([]*v1.Slice, error)
}

// IndexStore persists forward and inverted index entries.
type IndexStore interface {
	// PutIndexEntry adds one entry; re-adding an existing entry is a no-op.
	PutIndexEntry(ctx context.Context, entry *v1.IndexEntry) error

	// ReplaceIndexEntries swaps every entry owned by entityKey for entries in one atomic step.
	ReplaceIndexEntries(ctx context.Context, tenantID, entityKey string, entries []*v1.IndexEntry) error

	// QueryIndex returns up to limit owning entity keys in ascending order.
	QueryIndex(ctx context.Context, tenantID, indexType, indexValue string, limit int) ([]string, error)

	// CountIndex returns how many entities own (indexType, indexValue).
	CountIndex(ctx context.Context, tenantID, indexType, indexValue string) (int, error)
}

// OutboxStore persists outbox entries and their delivery state.
// Mark operations only succeed while workerID still holds the claim.
type OutboxStore interface {
	// InsertOutbox skips entries whose id already exists and returns
	// ErrDuplicate only when none of entries was new.
	InsertOutbox(ctx context.Context, entries ...*v1.OutboxEntry) error

	// ClaimOutbox moves up to limit due PENDING entries to PROCESSING for workerID,
	// highest priority first, then oldest.
	ClaimOutbox(ctx context.Context, workerID string, limit int, now time.Time) ([]*v1.OutboxEntry, error)

	MarkOutboxProcessed(ctx context.Context, id, workerID string, now time.Time) error

	// MarkOutboxRetry returns an entry to PENDING, due again at nextRetryAt.
	MarkOutboxRetry(ctx context.Context, id, workerID string, retryCount int, nextRetryAt time.Time, reason string) error

	MoveOutboxToDLQ(ctx context.Context, id, workerID string, retryCount int, reason string) error

	// ReleaseOutbox returns claimed but unstarted entries to PENDING without counting a retry.
	ReleaseOutbox(ctx context.Context, workerID string, ids []string) error

	// ReleaseStaleOutbox returns entries claimed before claimedBefore to PENDING, counting
	// the lost attempt; entries reaching maxRetries go to DLQ instead.
	ReleaseStaleOutbox(ctx context.Context, claimedBefore time.Time, maxRetries int) (released, deadLettered int, err error)

	// ReplayOutbox moves a DLQ entry back to PENDING with a fresh retry budget.
	ReplayOutbox(ctx context.Context, id string) error

	GetOutbox(ctx context.Context, id string) (*v1.OutboxEntry, error)
	ListOutbox(ctx context.Context, status v1.OutboxStatus, limit int) ([]*v1.OutboxEntry, error)
}

// Store is the full persistence surface of the pipeline.
type Store interface {
	RawDataStore
	SliceStore
	IndexStore
	OutboxStore
}
