// Package propagation holds the outbox handlers that carry a raw data change
// through slicing, dependent fanout and external shipment.
package propagation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	v1 "github.com/aevon-lab/sliceflow/internal/api/v1"
	"github.com/aevon-lab/sliceflow/internal/changeset"
	"github.com/aevon-lab/sliceflow/internal/contract"
	coreerr "github.com/aevon-lab/sliceflow/internal/core/errors"
	"github.com/aevon-lab/sliceflow/internal/core/storage"
	"github.com/aevon-lab/sliceflow/internal/fanout"
	"github.com/aevon-lab/sliceflow/internal/outbox"
	"github.com/aevon-lab/sliceflow/internal/sink"
	"github.com/aevon-lab/sliceflow/internal/slicing"
)

// RuleSets finds the RuleSet governing an entity type.
type RuleSets interface {
	RuleSetForEntityType(ctx context.Context, entityType string) (*contract.RuleSet, error)
}

// Slicer re-slices one entity. Implemented by *slicing.Workflow.
type Slicer interface {
	ExecuteTypes(ctx context.Context, tenantID, entityKey string, version int64, ref *contract.Ref, sliceTypes []string) (*slicing.Outcome, error)
}

// Fanout propagates a change to dependent entities. Implemented by *fanout.Workflow.
type Fanout interface {
	OnEntityChange(ctx context.Context, tenantID, upstreamEntityType, upstreamEntityKey string, upstreamVersion int64) (*fanout.Result, error)
}

// Handlers implements the pipeline's outbox event handlers.
type Handlers struct {
	raw    storage.RawDataStore
	slices storage.SliceStore
	outbox storage.OutboxStore
	rules  RuleSets
	slicer Slicer
	fanout Fanout
	sink   sink.Sink
}

// NewHandlers wires the handlers. sk may be nil when no sink is configured.
func NewHandlers(
	raw storage.RawDataStore,
	slices storage.SliceStore,
	ob storage.OutboxStore,
	rules RuleSets,
	slicer Slicer,
	fo Fanout,
	sk sink.Sink,
) *Handlers {
	return &Handlers{
		raw:    raw,
		slices: slices,
		outbox: ob,
		rules:  rules,
		slicer: slicer,
		fanout: fo,
		sink:   sk,
	}
}

// Register routes every pipeline event type to its handler.
func (h *Handlers) Register(r *outbox.Router) {
	r.Register(v1.EventRawDataIngested, outbox.HandlerFunc(h.HandleRawDataIngested))
	r.Register(v1.EventChangeSetComputed, outbox.HandlerFunc(h.HandleChangeSetComputed))
	r.Register(v1.EventSliceUpdated, outbox.HandlerFunc(h.HandleSliceUpdated))
}

// HandleRawDataIngested diffs the ingested version against its predecessor,
// re-slices the impacted slice types and, when anything changed, enqueues a
// ChangeSetComputed event for dependent entities.
func (h *Handlers) HandleRawDataIngested(ctx context.Context, entry *v1.OutboxEntry) error {
	var evt v1.RawDataIngested
	if err := outbox.Decode(entry, &evt); err != nil {
		return err
	}

	rec, err := h.raw.GetRawData(ctx, evt.TenantID, evt.EntityKey, evt.Version)
	if errors.Is(err, storage.ErrNotFound) {
		return &coreerr.NotFoundError{Resource: "raw data", Key: fmt.Sprintf("%s@%d", evt.EntityKey, evt.Version)}
	}
	if err != nil {
		return coreerr.NewStorageError("get raw data", err)
	}

	prev, err := h.raw.GetPreviousRawData(ctx, evt.TenantID, evt.EntityKey, evt.Version)
	if errors.Is(err, storage.ErrNotFound) {
		prev = nil
	} else if err != nil {
		return coreerr.NewStorageError("get previous raw data", err)
	}

	cs := changeset.Calculate(prev, rec)
	if cs.Empty() {
		slog.Debug("[Propagation] No changes", "tenant_id", evt.TenantID, "entity_key", evt.EntityKey, "version", evt.Version)
		return nil
	}

	if err := h.resliceImpacted(ctx, rec, cs); err != nil {
		return err
	}

	next, err := outbox.NewEntry(v1.AggregateChangeSet, rec.EntityKey, v1.EventChangeSetComputed, v1.ChangeSetComputed{
		TenantID:     rec.TenantID,
		EntityKey:    rec.EntityKey,
		EntityType:   rec.EntityType(),
		FromVersion:  cs.FromVersion,
		ToVersion:    cs.ToVersion,
		ChangedPaths: cs.Paths(),
	})
	if err != nil {
		return err
	}
	next.ID = outbox.DerivedID(v1.EventChangeSetComputed, rec.TenantID, rec.EntityKey, fmt.Sprint(rec.Version))
	if err := h.outbox.InsertOutbox(ctx, next); err != nil && !errors.Is(err, storage.ErrDuplicate) {
		return coreerr.NewStorageError("insert changeset outbox entry", err)
	}

	slog.Debug("[Propagation] Change set computed", "tenant_id", rec.TenantID, "changes", cs.String())
	return nil
}

// resliceImpacted runs slicing for the slice types cs affects. Entities without
// a RuleSet have nothing to slice but still propagate to their dependents.
func (h *Handlers) resliceImpacted(ctx context.Context, rec *v1.RawDataRecord, cs *changeset.ChangeSet) error {
	rs, err := h.rules.RuleSetForEntityType(ctx, rec.EntityType())
	if coreerr.IsNotFound(err) {
		slog.Debug("[Propagation] No ruleset for entity type", "entity_type", rec.EntityType())
		return nil
	}
	if err != nil {
		return err
	}

	types, all := changeset.Impact(cs, rs)
	if !all && len(types) == 0 {
		slog.Debug("[Propagation] Change affects no slice type", "entity_key", rec.EntityKey, "paths", cs.Paths())
		return nil
	}
	if all {
		types = nil
	}

	// The latest version is sliced: a newer ingest makes slicing this one pointless.
	ref := rs.Ref()
	out, err := h.slicer.ExecuteTypes(ctx, rec.TenantID, rec.EntityKey, 0, &ref, types)
	if err != nil {
		return err
	}
	if err := out.Err(); err != nil {
		return fmt.Errorf("failed to build slices for %s: %w", rec.EntityKey, err)
	}
	return nil
}

// HandleChangeSetComputed re-slices every entity that references the changed one.
func (h *Handlers) HandleChangeSetComputed(ctx context.Context, entry *v1.OutboxEntry) error {
	var evt v1.ChangeSetComputed
	if err := outbox.Decode(entry, &evt); err != nil {
		return err
	}

	res, err := h.fanout.OnEntityChange(ctx, evt.TenantID, evt.EntityType, evt.EntityKey, evt.ToVersion)
	if err != nil {
		return err
	}
	if res.FailedCount > 0 {
		return fmt.Errorf("fanout for %s failed for %d of %d entities", evt.EntityKey, res.FailedCount, res.TotalAffected)
	}
	return nil
}

// HandleSliceUpdated ships the announced slice version to the configured sinks.
// A slice superseded by a newer version is not shipped; the newer one has its own event.
func (h *Handlers) HandleSliceUpdated(ctx context.Context, entry *v1.OutboxEntry) error {
	var evt v1.SliceUpdated
	if err := outbox.Decode(entry, &evt); err != nil {
		return err
	}
	if h.sink == nil {
		return nil
	}

	latest, err := h.slices.GetLatestSlice(ctx, evt.TenantID, evt.EntityKey, evt.SliceType)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && latest.Version < evt.Version) {
		return &coreerr.NotFoundError{Resource: "slice", Key: fmt.Sprintf("%s/%s@%d", evt.EntityKey, evt.SliceType, evt.Version)}
	}
	if err != nil {
		return coreerr.NewStorageError("get latest slice", err)
	}
	if latest.Version > evt.Version {
		slog.Debug("[Propagation] Slice superseded, not shipping",
			"entity_key", evt.EntityKey, "slice_type", evt.SliceType, "version", evt.Version, "latest", latest.Version)
		return nil
	}

	return h.sink.Ship(ctx, latest)
}
