package contract

import (
	"context"
	"errors"
)

// Common errors
var (
	// ErrNotFound is returned when a contract version is not in the repository.
	ErrNotFound      = errors.New("contract not found")
	ErrAlreadyExists = errors.New("contract already exists")
	ErrReadOnly      = errors.New("contract repository is read-only")
)

// Document is one stored contract version: its header plus the raw YAML.
type Document struct {
	Header
	Definition  []byte
	Fingerprint string
}

// Repository stores contract documents.
type Repository interface {
	// Get returns one exact version. Returns ErrNotFound if absent.
	Get(ctx context.Context, key Key) (*Document, error)

	// Versions returns every stored version of (kind, id).
	Versions(ctx context.Context, kind Kind, id string) ([]*Document, error)

	// List returns every document of kind, or all documents when kind is empty.
	List(ctx context.Context, kind Kind) ([]*Document, error)

	// UpdateStatus changes the lifecycle status of one version.
	UpdateStatus(ctx context.Context, key Key, status Status) error
}

// NewDocument reads the header of definition and wraps it for storage.
func NewDocument(definition []byte) (*Document, error) {
	h, err := ReadHeader(definition)
	if err != nil {
		return nil, err
	}
	return &Document{Header: h, Definition: definition, Fingerprint: ComputeFingerprint(definition)}, nil
}
