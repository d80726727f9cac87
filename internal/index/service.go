// Package index maintains the inverted index that maps referenced entities
// and indexed values back to the entities that own them.
package index

import (
	"context"
	"log/slog"

	v1 "github.com/aevon-lab/sliceflow/internal/api/v1"
	coreerr "github.com/aevon-lab/sliceflow/internal/core/errors"
	"github.com/aevon-lab/sliceflow/internal/core/storage"
)

// DefaultQueryLimit caps Query when the caller passes no limit.
const DefaultQueryLimit = 1000

// Service validates index operations and delegates to an IndexStore backend
// (Postgres, Redis or memory).
type Service struct {
	store storage.IndexStore
}

// NewService creates a new index service.
func NewService(store storage.IndexStore) *Service {
	return &Service{store: store}
}

// Put adds the edge (indexType, indexValue) -> entityKey. Re-adding is a no-op.
func (s *Service) Put(ctx context.Context, tenantID, indexType, indexValue, entityKey string) error {
	entry := &v1.IndexEntry{
		TenantID:   tenantID,
		IndexType:  indexType,
		IndexValue: indexValue,
		EntityKey:  entityKey,
		Kind:       v1.IndexForward,
	}
	if err := validate(entry); err != nil {
		return err
	}
	return coreerr.NewStorageError("put index entry", s.store.PutIndexEntry(ctx, entry))
}

// Replace makes entries the complete set owned by entityKey. Edges the entity
// no longer references are removed in the same store operation.
func (s *Service) Replace(ctx context.Context, tenantID, entityKey string, entries []*v1.IndexEntry) error {
	for _, e := range entries {
		if e.TenantID != tenantID || e.EntityKey != entityKey {
			return coreerr.NewValidationError("entity_key", "index entry for %s/%s cannot be owned by %s/%s",
				e.TenantID, e.EntityKey, tenantID, entityKey)
		}
		if err := validate(e); err != nil {
			return err
		}
	}
	if err := s.store.ReplaceIndexEntries(ctx, tenantID, entityKey, entries); err != nil {
		return coreerr.NewStorageError("replace index entries", err)
	}
	slog.Debug("[Index] Replaced entries", "tenant_id", tenantID, "entity_key", entityKey, "count", len(entries))
	return nil
}

// Query returns up to limit entity keys indexed under (indexType, indexValue), sorted.
func (s *Service) Query(ctx context.Context, tenantID, indexType, indexValue string, limit int) ([]string, error) {
	if indexType == "" || indexValue == "" {
		return nil, coreerr.NewValidationError("index", "index type and value are required")
	}
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	keys, err := s.store.QueryIndex(ctx, tenantID, indexType, indexValue, limit)
	if err != nil {
		return nil, coreerr.NewStorageError("query index", err)
	}
	return keys, nil
}

// Count returns the number of entities indexed under (indexType, indexValue).
func (s *Service) Count(ctx context.Context, tenantID, indexType, indexValue string) (int, error) {
	n, err := s.store.CountIndex(ctx, tenantID, indexType, indexValue)
	if err != nil {
		return 0, coreerr.NewStorageError("count index", err)
	}
	return n, nil
}

func validate(e *v1.IndexEntry) error {
	if e.IndexType == "" {
		return coreerr.NewValidationError("index_type", "is required")
	}
	if e.IndexValue == "" {
		return coreerr.NewValidationError("index_value", "is required")
	}
	if e.EntityKey == "" {
		return coreerr.NewValidationError("entity_key", "is required")
	}
	return nil
}
