package ingestion

import (
	"context"
	"errors"
	"log/slog"
	"time"

	v1 "github.com/aevon-lab/sliceflow/internal/api/v1"
	"github.com/aevon-lab/sliceflow/internal/core/document"
	coreerr "github.com/aevon-lab/sliceflow/internal/core/errors"
	"github.com/aevon-lab/sliceflow/internal/core/storage"
	"github.com/aevon-lab/sliceflow/internal/core/version"
	"github.com/aevon-lab/sliceflow/internal/outbox"
	"github.com/gin-gonic/gin"
)

// Ingestion outcomes.
const (
	StatusAccepted  = "accepted"
	StatusUnchanged = "unchanged"
)

// Result describes what Ingest did with one record.
type Result struct {
	Status      string `json:"status"`
	TenantID    string `json:"tenant_id"`
	EntityKey   string `json:"entity_key"`
	Version     int64  `json:"version"`
	PayloadHash string `json:"payload_hash"`
}

type Service struct {
	store            storage.RawDataStore
	versions         version.Generator
	maxBodySizeBytes int
	nowFn            func() time.Time
}

func NewService(store storage.RawDataStore, versions version.Generator, maxBodySizeMB int) *Service {
	if store == nil {
		panic("ingestion: store must not be nil")
	}
	if versions == nil {
		panic("ingestion: version generator must not be nil")
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 1 // default to 1MB
	}
	return &Service{
		store:            store,
		versions:         versions,
		maxBodySizeBytes: maxBodySizeMB * 1024 * 1024,
		nowFn:            time.Now,
	}
}

// RegisterRoutes registers the ingestion service routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/raw-data", s.IngestHandler)
	r.GET("/v1/raw-data/:tenant_id/:entity_key", s.GetHandler)
}

// Ingest validates rec, assigns it a fresh version and stores it together with
// its RawDataIngested outbox entry. A payload identical to the latest stored
// version is not stored again.
func (s *Service) Ingest(ctx context.Context, rec *v1.RawDataRecord) (*Result, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	hash, err := document.Hash(document.DomainPayload, rec.Payload)
	if err != nil {
		return nil, coreerr.NewValidationError("payload", "cannot be canonicalized: %v", err)
	}

	latest, err := s.store.GetLatestRawData(ctx, rec.TenantID, rec.EntityKey)
	switch {
	case err == nil && latest.PayloadHash == hash:
		slog.Debug("[Ingestion] Payload unchanged, skipping",
			"tenant_id", rec.TenantID, "entity_key", rec.EntityKey, "version", latest.Version)
		return &Result{
			Status:      StatusUnchanged,
			TenantID:    rec.TenantID,
			EntityKey:   rec.EntityKey,
			Version:     latest.Version,
			PayloadHash: hash,
		}, nil
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return nil, coreerr.NewStorageError("get latest raw data", err)
	}

	rec.Version = s.versions.Next()
	rec.PayloadHash = hash
	rec.CreatedAt = s.nowFn().UTC()

	entry, err := outbox.NewEntry(v1.AggregateRawData, rec.EntityKey, v1.EventRawDataIngested, v1.RawDataIngested{
		TenantID:  rec.TenantID,
		EntityKey: rec.EntityKey,
		Version:   rec.Version,
	})
	if err != nil {
		return nil, err
	}
	entry.CreatedAt = rec.CreatedAt

	if err := s.store.SaveRawData(ctx, rec, entry); err != nil {
		if errors.Is(err, storage.ErrStaleVersion) {
			return nil, err
		}
		return nil, coreerr.NewStorageError("save raw data", err)
	}

	return &Result{
		Status:      StatusAccepted,
		TenantID:    rec.TenantID,
		EntityKey:   rec.EntityKey,
		Version:     rec.Version,
		PayloadHash: hash,
	}, nil
}
