package memory

import (
	"context"
	"testing"
	"time"

	v1 "github.com/aevon-lab/sliceflow/internal/api/v1"
	"github.com/aevon-lab/sliceflow/internal/core/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(version int64, payload map[string]interface{}) *v1.RawDataRecord {
	return &v1.RawDataRecord{
		TenantID:      "t1",
		EntityKey:     "PRODUCT#p1",
		Version:       version,
		SchemaID:      "product",
		SchemaVersion: "1.0.0",
		Payload:       payload,
	}
}

func TestStore_RawDataVersions(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	entry := &v1.OutboxEntry{ID: "e1", Status: v1.OutboxPending}
	require.NoError(t, s.SaveRawData(ctx, record(10, map[string]interface{}{"n": 1}), entry))
	require.NoError(t, s.SaveRawData(ctx, record(20, map[string]interface{}{"n": 2})))

	assert.ErrorIs(t, s.SaveRawData(ctx, record(20, nil)), storage.ErrStaleVersion)
	assert.ErrorIs(t, s.SaveRawData(ctx, record(15, nil)), storage.ErrStaleVersion)

	latest, err := s.GetLatestRawData(ctx, "t1", "PRODUCT#p1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), latest.Version)

	prev, err := s.GetPreviousRawData(ctx, "t1", "PRODUCT#p1", 20)
	require.NoError(t, err)
	assert.Equal(t, int64(10), prev.Version)

	_, err = s.GetPreviousRawData(ctx, "t1", "PRODUCT#p1", 10)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	got, err := s.GetRawData(ctx, "t1", "PRODUCT#p1", 10)
	require.NoError(t, err)
	got.Payload["n"] = 99
	again, _ := s.GetRawData(ctx, "t1", "PRODUCT#p1", 10)
	assert.Equal(t, 1, again.Payload["n"], "stored payload must not alias returned copies")

	stored, err := s.GetOutbox(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, v1.OutboxPending, stored.Status)
}

func TestStore_Slices(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.PutSlices(ctx, []*v1.Slice{
		{TenantID: "t1", EntityKey: "PRODUCT#p1", SliceType: "core", Version: 1, SourceRawDataVersion: 100},
		{TenantID: "t1", EntityKey: "PRODUCT#p1", SliceType: "pricing", Version: 2, SourceRawDataVersion: 100},
	}))
	require.NoError(t, s.PutSlices(ctx, []*v1.Slice{
		{TenantID: "t1", EntityKey: "PRODUCT#p1", SliceType: "core", Version: 3, SourceRawDataVersion: 200},
	}))

	latest, err := s.GetLatestSlice(ctx, "t1", "PRODUCT#p1", "core")
	require.NoError(t, err)
	assert.Equal(t, int64(3), latest.Version)

	all, err := s.GetLatestSlices(ctx, "t1", "PRODUCT#p1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, int64(3), all[0].Version)
	assert.Equal(t, "pricing", all[1].SliceType)

	pinned, err := s.GetSlicesByVersion(ctx, "t1", "PRODUCT#p1", 100)
	require.NoError(t, err)
	require.Len(t, pinned, 2)
	assert.Equal(t, int64(1), pinned[0].Version)

	_, err = s.GetLatestSlice(ctx, "t1", "PRODUCT#p1", "brand")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_IndexReplace(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	edge := func(value, owner string) *v1.IndexEntry {
		return &v1.IndexEntry{TenantID: "t1", IndexType: "BRAND", IndexValue: value, EntityKey: owner, Kind: v1.IndexInverted}
	}

	require.NoError(t, s.PutIndexEntry(ctx, edge("BRAND#b1", "PRODUCT#p1")))
	require.NoError(t, s.PutIndexEntry(ctx, edge("BRAND#b1", "PRODUCT#p1")))
	require.NoError(t, s.PutIndexEntry(ctx, edge("BRAND#b1", "PRODUCT#p2")))

	n, err := s.CountIndex(ctx, "t1", "BRAND", "BRAND#b1")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "put must be idempotent")

	require.NoError(t, s.ReplaceIndexEntries(ctx, "t1", "PRODUCT#p1", []*v1.IndexEntry{edge("BRAND#b2", "PRODUCT#p1")}))

	keys, err := s.QueryIndex(ctx, "t1", "BRAND", "BRAND#b1", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"PRODUCT#p2"}, keys, "old edge must be gone")

	keys, err = s.QueryIndex(ctx, "t1", "BRAND", "BRAND#b2", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"PRODUCT#p1"}, keys)

	require.NoError(t, s.ReplaceIndexEntries(ctx, "t1", "PRODUCT#p2", nil))
	n, _ = s.CountIndex(ctx, "t1", "BRAND", "BRAND#b1")
	assert.Zero(t, n)
}

func TestStore_OutboxLifecycle(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	high := 5

	require.NoError(t, s.InsertOutbox(ctx,
		&v1.OutboxEntry{ID: "a", Status: v1.OutboxPending, CreatedAt: now},
		&v1.OutboxEntry{ID: "b", Status: v1.OutboxPending, CreatedAt: now.Add(time.Second), Priority: &high},
		&v1.OutboxEntry{ID: "c", Status: v1.OutboxPending, CreatedAt: now.Add(2 * time.Second)},
	))
	assert.ErrorIs(t, s.InsertOutbox(ctx, &v1.OutboxEntry{ID: "a"}), storage.ErrDuplicate)

	claimed, err := s.ClaimOutbox(ctx, "w1", 2, now)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, "b", claimed[0].ID, "higher priority first")
	assert.Equal(t, "a", claimed[1].ID)
	assert.Equal(t, "w1", *claimed[0].ClaimedBy)

	assert.ErrorIs(t, s.MarkOutboxProcessed(ctx, "a", "w2", now), storage.ErrLeaseLost)
	require.NoError(t, s.MarkOutboxProcessed(ctx, "b", "w1", now))

	require.NoError(t, s.MarkOutboxRetry(ctx, "a", "w1", 1, now.Add(time.Minute), "boom"))
	claimed, err = s.ClaimOutbox(ctx, "w1", 10, now)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "c", claimed[0].ID, "a is not due yet")

	claimed, err = s.ClaimOutbox(ctx, "w1", 10, now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, 1, claimed[0].RetryCount)

	require.NoError(t, s.MoveOutboxToDLQ(ctx, "a", "w1", 2, "gave up"))
	dlq, err := s.ListOutbox(ctx, v1.OutboxDLQ, 0)
	require.NoError(t, err)
	require.Len(t, dlq, 1)
	assert.Equal(t, "gave up", *dlq[0].FailureReason)

	assert.ErrorIs(t, s.ReplayOutbox(ctx, "b"), storage.ErrNotReplayable)
	require.NoError(t, s.ReplayOutbox(ctx, "a"))
	replayed, _ := s.GetOutbox(ctx, "a")
	assert.Equal(t, v1.OutboxPending, replayed.Status)
	assert.Zero(t, replayed.RetryCount, "replay grants a fresh retry budget")
	assert.Equal(t, "gave up", *replayed.FailureReason)
}

func TestStore_InsertOutboxSkipsExisting(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.InsertOutbox(ctx, &v1.OutboxEntry{ID: "a", Status: v1.OutboxPending}))
	require.NoError(t, s.InsertOutbox(ctx,
		&v1.OutboxEntry{ID: "a", Status: v1.OutboxPending},
		&v1.OutboxEntry{ID: "b", Status: v1.OutboxPending},
	))

	b, err := s.GetOutbox(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, v1.OutboxPending, b.Status)

	assert.ErrorIs(t, s.InsertOutbox(ctx,
		&v1.OutboxEntry{ID: "a"},
		&v1.OutboxEntry{ID: "b"},
	), storage.ErrDuplicate)
}

func TestStore_ReleaseStale(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.InsertOutbox(ctx,
		&v1.OutboxEntry{ID: "a", Status: v1.OutboxPending, CreatedAt: now},
		&v1.OutboxEntry{ID: "b", Status: v1.OutboxPending, CreatedAt: now, RetryCount: 2},
	))
	_, err := s.ClaimOutbox(ctx, "w1", 10, now)
	require.NoError(t, err)

	released, dead, err := s.ReleaseStaleOutbox(ctx, now, 3)
	require.NoError(t, err)
	assert.Zero(t, released+dead, "claims at the cutoff are not stale")

	released, dead, err = s.ReleaseStaleOutbox(ctx, now.Add(time.Minute), 3)
	require.NoError(t, err)
	assert.Equal(t, 1, released)
	assert.Equal(t, 1, dead)

	a, _ := s.GetOutbox(ctx, "a")
	assert.Equal(t, v1.OutboxPending, a.Status)
	assert.Equal(t, 1, a.RetryCount)
	b, _ := s.GetOutbox(ctx, "b")
	assert.Equal(t, v1.OutboxDLQ, b.Status)

	require.NoError(t, s.ReleaseOutbox(ctx, "w1", []string{"a"}))
}
