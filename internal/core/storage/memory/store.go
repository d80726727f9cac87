// Package memory implements the storage ports in process memory for
// development mode and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	v1 "github.com/aevon-lab/sliceflow/internal/api/v1"
	"github.com/aevon-lab/sliceflow/internal/core/document"
	"github.com/aevon-lab/sliceflow/internal/core/storage"
)

var _ storage.Store = (*Store)(nil)

type entityID struct {
	tenant string
	key    string
}

type indexID struct {
	tenant string
	typ    string
	value  string
}

// Store is a storage.Store guarded by one mutex.
type Store struct {
	mu sync.Mutex

	raw    map[entityID][]*v1.RawDataRecord // ascending by version
	slices map[entityID][]*v1.Slice         // ascending by version

	index  map[indexID]map[string]*v1.IndexEntry // value -> owner -> entry
	owners map[entityID][]*v1.IndexEntry

	outbox map[string]*v1.OutboxEntry
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		raw:    make(map[entityID][]*v1.RawDataRecord),
		slices: make(map[entityID][]*v1.Slice),
		index:  make(map[indexID]map[string]*v1.IndexEntry),
		owners: make(map[entityID][]*v1.IndexEntry),
		outbox: make(map[string]*v1.OutboxEntry),
	}
}

// --- raw data ---

func (s *Store) SaveRawData(_ context.Context, rec *v1.RawDataRecord, outbox ...*v1.OutboxEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := entityID{rec.TenantID, rec.EntityKey}
	versions := s.raw[id]
	if n := len(versions); n > 0 && versions[n-1].Version >= rec.Version {
		return storage.ErrStaleVersion
	}
	for _, e := range outbox {
		if _, exists := s.outbox[e.ID]; exists {
			return storage.ErrDuplicate
		}
	}

	s.raw[id] = append(versions, copyRecord(rec))
	for _, e := range outbox {
		s.outbox[e.ID] = copyEntry(e)
	}
	return nil
}

func (s *Store) GetRawData(_ context.Context, tenantID, entityKey string, version int64) (*v1.RawDataRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.raw[entityID{tenantID, entityKey}] {
		if r.Version == version {
			return copyRecord(r), nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) GetLatestRawData(_ context.Context, tenantID, entityKey string) (*v1.RawDataRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.raw[entityID{tenantID, entityKey}]
	if len(versions) == 0 {
		return nil, storage.ErrNotFound
	}
	return copyRecord(versions[len(versions)-1]), nil
}

func (s *Store) GetPreviousRawData(_ context.Context, tenantID, entityKey string, before int64) (*v1.RawDataRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.raw[entityID{tenantID, entityKey}]
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].Version < before {
			return copyRecord(versions[i]), nil
		}
	}
	return nil, storage.ErrNotFound
}

// --- slices ---

func (s *Store) PutSlices(_ context.Context, slices []*v1.Slice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sl := range slices {
		id := entityID{sl.TenantID, sl.EntityKey}
		list := append(s.slices[id], copySlice(sl))
		sort.SliceStable(list, func(i, j int) bool { return list[i].Version < list[j].Version })
		s.slices[id] = list
	}
	return nil
}

func (s *Store) GetLatestSlice(_ context.Context, tenantID, entityKey, sliceType string) (*v1.Slice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.slices[entityID{tenantID, entityKey}]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].SliceType == sliceType {
			return copySlice(list[i]), nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) GetLatestSlices(_ context.Context, tenantID, entityKey string) ([]*v1.Slice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return latestPerType(s.slices[entityID{tenantID, entityKey}], func(*v1.Slice) bool { return true }), nil
}

func (s *Store) GetSlicesByVersion(_ context.Context, tenantID, entityKey string, rawVersion int64) ([]*v1.Slice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return latestPerType(s.slices[entityID{tenantID, entityKey}], func(sl *v1.Slice) bool {
		return sl.SourceRawDataVersion == rawVersion
	}), nil
}

func latestPerType(list []*v1.Slice, keep func(*v1.Slice) bool) []*v1.Slice {
	seen := make(map[string]bool)
	var out []*v1.Slice
	for i := len(list) - 1; i >= 0; i-- {
		sl := list[i]
		if seen[sl.SliceType] || !keep(sl) {
			continue
		}
		seen[sl.SliceType] = true
		out = append(out, copySlice(sl))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SliceType < out[j].SliceType })
	return out
}

// --- index ---

func (s *Store) PutIndexEntry(_ context.Context, entry *v1.IndexEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.addEntry(entry)
	return nil
}

func (s *Store) addEntry(entry *v1.IndexEntry) {
	id := indexID{entry.TenantID, entry.IndexType, entry.IndexValue}
	owners, ok := s.index[id]
	if !ok {
		owners = make(map[string]*v1.IndexEntry)
		s.index[id] = owners
	}
	if _, exists := owners[entry.EntityKey]; exists {
		return
	}
	e := *entry
	owners[entry.EntityKey] = &e

	oid := entityID{entry.TenantID, entry.EntityKey}
	s.owners[oid] = append(s.owners[oid], &e)
}

func (s *Store) ReplaceIndexEntries(_ context.Context, tenantID, entityKey string, entries []*v1.IndexEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	oid := entityID{tenantID, entityKey}
	for _, old := range s.owners[oid] {
		id := indexID{old.TenantID, old.IndexType, old.IndexValue}
		delete(s.index[id], entityKey)
		if len(s.index[id]) == 0 {
			delete(s.index, id)
		}
	}
	delete(s.owners, oid)

	for _, e := range entries {
		s.addEntry(e)
	}
	return nil
}

func (s *Store) QueryIndex(_ context.Context, tenantID, indexType, indexValue string, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	owners := s.index[indexID{tenantID, indexType, indexValue}]
	keys := make([]string, 0, len(owners))
	for k := range owners {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}

func (s *Store) CountIndex(_ context.Context, tenantID, indexType, indexValue string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.index[indexID{tenantID, indexType, indexValue}]), nil
}

// --- outbox ---

func (s *Store) InsertOutbox(_ context.Context, entries ...*v1.OutboxEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(entries) == 0 {
		return nil
	}
	inserted := 0
	for _, e := range entries {
		if _, exists := s.outbox[e.ID]; exists {
			continue
		}
		s.outbox[e.ID] = copyEntry(e)
		inserted++
	}
	if inserted == 0 {
		return storage.ErrDuplicate
	}
	return nil
}

func (s *Store) ClaimOutbox(_ context.Context, workerID string, limit int, now time.Time) ([]*v1.OutboxEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*v1.OutboxEntry
	for _, e := range s.outbox {
		if e.Status != v1.OutboxPending {
			continue
		}
		if e.NextRetryAt != nil && e.NextRetryAt.After(now) {
			continue
		}
		due = append(due, e)
	}
	sort.Slice(due, func(i, j int) bool {
		pi, pj := priorityOf(due[i]), priorityOf(due[j])
		if pi != pj {
			return pi > pj
		}
		if !due[i].CreatedAt.Equal(due[j].CreatedAt) {
			return due[i].CreatedAt.Before(due[j].CreatedAt)
		}
		return due[i].ID < due[j].ID
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*v1.OutboxEntry, 0, len(due))
	for _, e := range due {
		at, by := now, workerID
		e.Status = v1.OutboxProcessing
		e.ClaimedAt = &at
		e.ClaimedBy = &by
		claimed = append(claimed, copyEntry(e))
	}
	return claimed, nil
}

func priorityOf(e *v1.OutboxEntry) int {
	if e.Priority == nil {
		return 0
	}
	return *e.Priority
}

func (s *Store) claimed(id, workerID string) (*v1.OutboxEntry, error) {
	e, ok := s.outbox[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if e.Status != v1.OutboxProcessing || e.ClaimedBy == nil || *e.ClaimedBy != workerID {
		return nil, storage.ErrLeaseLost
	}
	return e, nil
}

func (s *Store) MarkOutboxProcessed(_ context.Context, id, workerID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.claimed(id, workerID)
	if err != nil {
		return err
	}
	at := now
	e.Status = v1.OutboxProcessed
	e.ProcessedAt = &at
	return nil
}

func (s *Store) MarkOutboxRetry(_ context.Context, id, workerID string, retryCount int, nextRetryAt time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.claimed(id, workerID)
	if err != nil {
		return err
	}
	next, why := nextRetryAt, reason
	e.Status = v1.OutboxPending
	e.RetryCount = retryCount
	e.NextRetryAt = &next
	e.FailureReason = &why
	e.ClaimedAt, e.ClaimedBy = nil, nil
	return nil
}

func (s *Store) MoveOutboxToDLQ(_ context.Context, id, workerID string, retryCount int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.claimed(id, workerID)
	if err != nil {
		return err
	}
	why := reason
	e.Status = v1.OutboxDLQ
	e.RetryCount = retryCount
	e.FailureReason = &why
	e.ClaimedAt, e.ClaimedBy = nil, nil
	return nil
}

func (s *Store) ReleaseOutbox(_ context.Context, workerID string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		e, err := s.claimed(id, workerID)
		if err != nil {
			continue
		}
		e.Status = v1.OutboxPending
		e.ClaimedAt, e.ClaimedBy = nil, nil
	}
	return nil
}

func (s *Store) ReleaseStaleOutbox(_ context.Context, claimedBefore time.Time, maxRetries int) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var released, dead int
	for _, e := range s.outbox {
		if e.Status != v1.OutboxProcessing || e.ClaimedAt == nil || !e.ClaimedAt.Before(claimedBefore) {
			continue
		}
		e.RetryCount++
		e.ClaimedAt, e.ClaimedBy = nil, nil
		reason := "claim expired"
		e.FailureReason = &reason
		if e.RetryCount >= maxRetries {
			e.Status = v1.OutboxDLQ
			dead++
			continue
		}
		e.Status = v1.OutboxPending
		e.NextRetryAt = nil
		released++
	}
	return released, dead, nil
}

func (s *Store) ReplayOutbox(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.outbox[id]
	if !ok {
		return storage.ErrNotFound
	}
	if e.Status != v1.OutboxDLQ {
		return storage.ErrNotReplayable
	}
	e.Status = v1.OutboxPending
	e.RetryCount = 0
	e.NextRetryAt = nil
	return nil
}

func (s *Store) GetOutbox(_ context.Context, id string) (*v1.OutboxEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.outbox[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyEntry(e), nil
}

func (s *Store) ListOutbox(_ context.Context, status v1.OutboxStatus, limit int) ([]*v1.OutboxEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*v1.OutboxEntry
	for _, e := range s.outbox {
		if status == "" || e.Status == status {
			out = append(out, copyEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- copies ---

func copyRecord(r *v1.RawDataRecord) *v1.RawDataRecord {
	c := *r
	c.Payload = document.CopyMap(r.Payload)
	return &c
}

func copySlice(s *v1.Slice) *v1.Slice {
	c := *s
	c.Data = document.CopyMap(s.Data)
	return &c
}

func copyEntry(e *v1.OutboxEntry) *v1.OutboxEntry {
	c := *e
	c.Payload = append([]byte(nil), e.Payload...)
	return &c
}
