// Package redisstore implements the inverted index on Redis sets.
//
// Layout, per tenant:
//
//	<prefix>:idx:<tenant>:<type>\x1f<value>  SET of owning entity keys
//	<prefix>:own:<tenant>:<entityKey>        SET of "<type>\x1f<value>" members owned by the entity
package redisstore

import (
	"context"
	"fmt"
	"strings"

	v1 "github.com/aevon-lab/sliceflow/internal/api/v1"
	"github.com/redis/go-redis/v9"
)

const sep = "\x1f"

// replaceScript swaps the full edge set of one owner atomically.
// KEYS[1] = owner key
// ARGV[1] = value key prefix ("<prefix>:idx:<tenant>:")
// ARGV[2] = owning entity key
// ARGV[3..] = new members ("<type>\x1f<value>")
// Value keys are derived inside the script and not declared in KEYS, so the
// script needs a single-node or Sentinel deployment, not Redis Cluster.
var replaceScript = redis.NewScript(`
local owner_key = KEYS[1]
local prefix = ARGV[1]
local owner = ARGV[2]

local old = redis.call("SMEMBERS", owner_key)
for _, member in ipairs(old) do
    redis.call("SREM", prefix .. member, owner)
end
redis.call("DEL", owner_key)

for i = 3, #ARGV do
    redis.call("SADD", prefix .. ARGV[i], owner)
    redis.call("SADD", owner_key, ARGV[i])
end
return #ARGV - 2
`)

// IndexStore implements storage.IndexStore using Redis.
type IndexStore struct {
	client *redis.Client
	prefix string
}

// NewIndexStore creates a new store backed by Redis.
func NewIndexStore(addr, password string, db int, prefix string) *IndexStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewIndexStoreWithClient(rdb, prefix)
}

// NewIndexStoreWithClient wraps an existing client.
func NewIndexStoreWithClient(client *redis.Client, prefix string) *IndexStore {
	if prefix == "" {
		prefix = "sliceflow"
	}
	return &IndexStore{client: client, prefix: prefix}
}

// Ping checks connectivity.
func (s *IndexStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *IndexStore) Close() error {
	return s.client.Close()
}

func (s *IndexStore) valuePrefix(tenantID string) string {
	return fmt.Sprintf("%s:idx:%s:", s.prefix, tenantID)
}

func (s *IndexStore) ownerKey(tenantID, entityKey string) string {
	return fmt.Sprintf("%s:own:%s:%s", s.prefix, tenantID, entityKey)
}

func member(indexType, indexValue string) string {
	return indexType + sep + indexValue
}

func (s *IndexStore) PutIndexEntry(ctx context.Context, entry *v1.IndexEntry) error {
	m := member(entry.IndexType, entry.IndexValue)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, s.valuePrefix(entry.TenantID)+m, entry.EntityKey)
		pipe.SAdd(ctx, s.ownerKey(entry.TenantID, entry.EntityKey), m)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put index entry: %w", err)
	}
	return nil
}

func (s *IndexStore) ReplaceIndexEntries(ctx context.Context, tenantID, entityKey string, entries []*v1.IndexEntry) error {
	args := make([]interface{}, 0, len(entries)+2)
	args = append(args, s.valuePrefix(tenantID), entityKey)
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		m := member(e.IndexType, e.IndexValue)
		if seen[m] {
			continue
		}
		seen[m] = true
		args = append(args, m)
	}

	if err := replaceScript.Run(ctx, s.client, []string{s.ownerKey(tenantID, entityKey)}, args...).Err(); err != nil {
		return fmt.Errorf("redis replace index entries: %w", err)
	}
	return nil
}

func (s *IndexStore) QueryIndex(ctx context.Context, tenantID, indexType, indexValue string, limit int) ([]string, error) {
	sort := &redis.Sort{Alpha: true}
	if limit > 0 {
		sort.Count = int64(limit)
	}
	keys, err := s.client.Sort(ctx, s.valuePrefix(tenantID)+member(indexType, indexValue), sort).Result()
	if err != nil {
		return nil, fmt.Errorf("redis query index: %w", err)
	}
	return keys, nil
}

func (s *IndexStore) CountIndex(ctx context.Context, tenantID, indexType, indexValue string) (int, error) {
	n, err := s.client.SCard(ctx, s.valuePrefix(tenantID)+member(indexType, indexValue)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis count index: %w", err)
	}
	return int(n), nil
}

// splitMember is the inverse of member.
func splitMember(m string) (indexType, indexValue string, ok bool) {
	return strings.Cut(m, sep)
}

// OwnedEntries lists the (type, value) pairs owned by entityKey.
func (s *IndexStore) OwnedEntries(ctx context.Context, tenantID, entityKey string) ([]*v1.IndexEntry, error) {
	members, err := s.client.SMembers(ctx, s.ownerKey(tenantID, entityKey)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis owned entries: %w", err)
	}
	out := make([]*v1.IndexEntry, 0, len(members))
	for _, m := range members {
		typ, val, ok := splitMember(m)
		if !ok {
			continue
		}
		out = append(out, &v1.IndexEntry{TenantID: tenantID, IndexType: typ, IndexValue: val, EntityKey: entityKey})
	}
	return out, nil
}
