// Package view assembles slices into the responses declared by ViewDefinitions.
package view

import (
	"context"
	"log/slog"

	v1 "github.com/aevon-lab/sliceflow/internal/api/v1"
	"github.com/aevon-lab/sliceflow/internal/contract"
	"github.com/aevon-lab/sliceflow/internal/core/document"
	coreerr "github.com/aevon-lab/sliceflow/internal/core/errors"
	"github.com/aevon-lab/sliceflow/internal/core/storage"
)

// DefinitionSource loads gated view definitions. Implemented by *contract.Registry.
type DefinitionSource interface {
	LoadViewDefinition(ctx context.Context, ref contract.Ref) (*contract.ViewDefinition, error)
}

// Service assembles views from the slice store.
type Service struct {
	views  DefinitionSource
	slices storage.SliceStore
}

// NewService creates a view service.
func NewService(views DefinitionSource, slices storage.SliceStore) *Service {
	return &Service{views: views, slices: slices}
}

// AssembleRef loads the view definition for ref and assembles it.
func (s *Service) AssembleRef(ctx context.Context, ref contract.Ref, tenantID, entityKey string, version int64) (*v1.ViewResult, error) {
	def, err := s.views.LoadViewDefinition(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.Assemble(ctx, def, tenantID, entityKey, version)
}

// Assemble builds the view of one entity. version 0 reads the latest slices;
// otherwise the slices derived from that raw data version are used.
//
// Absent required slices fail the assembly unless the definition is
// PARTIAL_ALLOWED without optionalOnly. Absent slices that are allowed are
// omitted, or replaced by their configured default under DEFAULT_VALUE.
func (s *Service) Assemble(ctx context.Context, def *contract.ViewDefinition, tenantID, entityKey string, version int64) (*v1.ViewResult, error) {
	if tenantID == "" || entityKey == "" {
		return nil, coreerr.NewValidationError("entity_key", "tenant and entity key are required")
	}

	var (
		found []*v1.Slice
		err   error
	)
	if version > 0 {
		found, err = s.slices.GetSlicesByVersion(ctx, tenantID, entityKey, version)
	} else {
		found, err = s.slices.GetLatestSlices(ctx, tenantID, entityKey)
	}
	if err != nil {
		return nil, coreerr.NewStorageError("load slices", err)
	}
	byType := make(map[string]*v1.Slice, len(found))
	for _, sl := range found {
		byType[sl.SliceType] = sl
	}

	var missingRequired []string
	for _, t := range def.RequiredSlices {
		if byType[t] == nil {
			missingRequired = append(missingRequired, t)
		}
	}
	if len(missingRequired) > 0 && !partialRequiredAllowed(def) {
		slog.Debug("[View] Required slices missing",
			"view_id", def.ID, "tenant_id", tenantID, "entity_key", entityKey, "missing", missingRequired)
		return nil, &coreerr.MissingSliceError{ViewID: def.ID, EntityKey: entityKey, Missing: missingRequired}
	}

	res := &v1.ViewResult{
		ViewID:    def.ID,
		EntityKey: entityKey,
		Version:   version,
		Slices:    make(map[string]map[string]interface{}),
	}
	meta := &v1.ResponseMeta{UsedSlices: []string{}}

	for _, t := range append(append([]string{}, def.RequiredSlices...), def.OptionalSlices...) {
		if sl := byType[t]; sl != nil {
			res.Slices[t] = document.CopyMap(sl.Data)
			meta.UsedSlices = append(meta.UsedSlices, t)
			if version == 0 && sl.SourceRawDataVersion > res.Version {
				res.Version = sl.SourceRawDataVersion
			}
			continue
		}

		meta.MissingSlices = append(meta.MissingSlices, t)
		if def.FallbackPolicy.Kind == contract.FallbackDefaultValue {
			if d, ok := def.FallbackPolicy.Defaults[t]; ok {
				res.Slices[t] = document.CopyMap(d)
				meta.DefaultedSlices = append(meta.DefaultedSlices, t)
				continue
			}
		}
		res.Missing = append(res.Missing, t)
	}

	meta.Complete = len(meta.MissingSlices) == 0
	if def.IncludeMeta {
		res.Meta = meta
	}
	return res, nil
}

func partialRequiredAllowed(def *contract.ViewDefinition) bool {
	return def.MissingPolicy == contract.PartialAllowed && !def.PartialPolicy.OptionalOnly
}
