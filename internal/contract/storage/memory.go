package storage

import (
	"context"
	"sync"

	"github.com/aevon-lab/sliceflow/internal/contract"
)

// MemoryRepository is an in-memory implementation of contract.Repository.
// Useful for testing and development.
type MemoryRepository struct {
	mu   sync.RWMutex
	docs map[contract.Key]*contract.Document
}

// NewMemoryRepository creates a new in-memory contract repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		docs: make(map[contract.Key]*contract.Document),
	}
}

// Create parses the header of definition and stores it.
func (r *MemoryRepository) Create(_ context.Context, definition []byte) (*contract.Document, error) {
	doc, err := contract.NewDocument(definition)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := doc.Key()
	if _, exists := r.docs[key]; exists {
		return nil, contract.ErrAlreadyExists
	}
	r.docs[key] = doc
	return copyDoc(doc), nil
}

func (r *MemoryRepository) Get(_ context.Context, key contract.Key) (*contract.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc, exists := r.docs[key]
	if !exists {
		return nil, contract.ErrNotFound
	}
	return copyDoc(doc), nil
}

func (r *MemoryRepository) Versions(_ context.Context, kind contract.Kind, id string) ([]*contract.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*contract.Document
	for k, doc := range r.docs {
		if k.Kind == kind && k.ID == id {
			out = append(out, copyDoc(doc))
		}
	}
	return out, nil
}

func (r *MemoryRepository) List(_ context.Context, kind contract.Kind) ([]*contract.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*contract.Document
	for k, doc := range r.docs {
		if kind == "" || k.Kind == kind {
			out = append(out, copyDoc(doc))
		}
	}
	return out, nil
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, key contract.Key, status contract.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, exists := r.docs[key]
	if !exists {
		return contract.ErrNotFound
	}
	doc.Status = status
	return nil
}

// copyDoc returns a copy that does not share the mutable header.
func copyDoc(d *contract.Document) *contract.Document {
	c := *d
	return &c
}
