package redisstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	v1 "github.com/aevon-lab/sliceflow/internal/api/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMember_RoundTrip(t *testing.T) {
	typ, val, ok := splitMember(member("BRAND", "BRAND#b1"))
	require.True(t, ok)
	assert.Equal(t, "BRAND", typ)
	assert.Equal(t, "BRAND#b1", val)

	_, _, ok = splitMember("no-separator")
	assert.False(t, ok)
}

// TestIndexStore_Integration requires a running Redis.
// We skip if connection fails.
func TestIndexStore_Integration(t *testing.T) {
	prefix := fmt.Sprintf("sliceflow-test-%d", time.Now().UnixNano())
	store := NewIndexStore("localhost:6379", "", 0, prefix)
	defer store.Close()
	ctx := context.Background()
	if err := store.Ping(ctx); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	edge := func(value, owner string) *v1.IndexEntry {
		return &v1.IndexEntry{TenantID: "t1", IndexType: "BRAND", IndexValue: value, EntityKey: owner}
	}

	require.NoError(t, store.PutIndexEntry(ctx, edge("BRAND#b1", "PRODUCT#p2")))
	require.NoError(t, store.PutIndexEntry(ctx, edge("BRAND#b1", "PRODUCT#p2")))
	require.NoError(t, store.ReplaceIndexEntries(ctx, "t1", "PRODUCT#p1", []*v1.IndexEntry{edge("BRAND#b1", "PRODUCT#p1")}))

	n, err := store.CountIndex(ctx, "t1", "BRAND", "BRAND#b1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	keys, err := store.QueryIndex(ctx, "t1", "BRAND", "BRAND#b1", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"PRODUCT#p1"}, keys)

	require.NoError(t, store.ReplaceIndexEntries(ctx, "t1", "PRODUCT#p1", []*v1.IndexEntry{edge("BRAND#b9", "PRODUCT#p1")}))
	keys, err = store.QueryIndex(ctx, "t1", "BRAND", "BRAND#b1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"PRODUCT#p2"}, keys)

	owned, err := store.OwnedEntries(ctx, "t1", "PRODUCT#p1")
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, "BRAND#b9", owned[0].IndexValue)
}
