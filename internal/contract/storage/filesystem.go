package storage

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aevon-lab/sliceflow/internal/contract"
)

// FileSystemRepository serves contracts from *.yaml / *.yml files under a root
// directory. Layout is free-form; each file holds one contract version and is
// identified by its header. Files are read at construction and on Reload.
type FileSystemRepository struct {
	rootDir string

	mu   sync.RWMutex
	docs map[contract.Key]*contract.Document
}

// NewFileSystemRepository creates a repository and eagerly loads every contract
// under rootDir. A missing directory yields an empty repository.
func NewFileSystemRepository(rootDir string) (*FileSystemRepository, error) {
	r := &FileSystemRepository{rootDir: rootDir}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload rescans the root directory. On error the previous contents are kept.
func (r *FileSystemRepository) Reload() error {
	docs := make(map[contract.Key]*contract.Document)
	paths := make(map[contract.Key]string)

	err := filepath.WalkDir(r.rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == r.rootDir {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ext := filepath.Ext(path); ext != ".yaml" && ext != ".yml" {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading contract file %s: %w", path, err)
		}
		if len(strings.TrimSpace(string(data))) == 0 {
			return nil
		}
		doc, err := contract.NewDocument(data)
		if err != nil {
			return fmt.Errorf("contract file %s: %w", path, err)
		}
		key := doc.Key()
		if prev, exists := paths[key]; exists {
			return fmt.Errorf("contract %s defined twice (%s and %s)", key, prev, path)
		}
		docs[key] = doc
		paths[key] = path
		return nil
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.docs = docs
	r.mu.Unlock()

	slog.Info("[ContractRepository] Loaded contracts", "dir", r.rootDir, "count", len(docs))
	return nil
}

func (r *FileSystemRepository) Get(_ context.Context, key contract.Key) (*contract.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc, ok := r.docs[key]
	if !ok {
		return nil, contract.ErrNotFound
	}
	return doc, nil
}

func (r *FileSystemRepository) Versions(_ context.Context, kind contract.Kind, id string) ([]*contract.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*contract.Document
	for k, doc := range r.docs {
		if k.Kind == kind && k.ID == id {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (r *FileSystemRepository) List(_ context.Context, kind contract.Kind) ([]*contract.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*contract.Document, 0, len(r.docs))
	for k, doc := range r.docs {
		if kind == "" || k.Kind == kind {
			out = append(out, doc)
		}
	}
	return out, nil
}

// UpdateStatus is not supported; edit the status field in the file and reload.
func (r *FileSystemRepository) UpdateStatus(_ context.Context, key contract.Key, _ contract.Status) error {
	return fmt.Errorf("%w: edit the status of %s under %s", contract.ErrReadOnly, key, r.rootDir)
}
