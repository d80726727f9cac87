package slicing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	v1 "github.com/aevon-lab/sliceflow/internal/api/v1"
	"github.com/aevon-lab/sliceflow/internal/contract"
	coreerr "github.com/aevon-lab/sliceflow/internal/core/errors"
	"github.com/aevon-lab/sliceflow/internal/core/storage"
	"github.com/aevon-lab/sliceflow/internal/metrics"
)

// RuleSetSource loads gated RuleSets. Implemented by *contract.Registry.
type RuleSetSource interface {
	LoadRuleSet(ctx context.Context, ref contract.Ref) (*contract.RuleSet, error)
	RuleSetForEntityType(ctx context.Context, entityType string) (*contract.RuleSet, error)
}

// IndexWriter replaces the index entries owned by an entity. Implemented by *index.Service.
type IndexWriter interface {
	Replace(ctx context.Context, tenantID, entityKey string, entries []*v1.IndexEntry) error
}

// Listener is notified after slices are persisted.
type Listener interface {
	SlicesUpdated(ctx context.Context, slices []*v1.Slice) error
}

// Outcome is the result of one workflow run.
type Outcome struct {
	TenantID       string          `json:"tenant_id"`
	EntityKey      string          `json:"entity_key"`
	RawDataVersion int64           `json:"raw_data_version"`
	RuleSet        string          `json:"ruleset"`
	Slices         []*v1.Slice     `json:"slices"`
	IndexEntries   int             `json:"index_entries"`
	// Historical is set when the requested version has been superseded. The
	// slices are computed but nothing is persisted.
	Historical     bool            `json:"historical,omitempty"`
	Failures       []FailureReport `json:"failures,omitempty"`

	err error
}

// FailureReport is the serializable form of a Failure.
type FailureReport struct {
	SliceType string `json:"slice_type"`
	Error     string `json:"error"`
}

// Err returns the joined slice failures, or nil when every requested slice was built.
func (o *Outcome) Err() error {
	return o.err
}

// Workflow loads raw data and its RuleSet, runs the Engine and persists the
// result: slices first, then the entity's index entries, then the listener.
type Workflow struct {
	rules    RuleSetSource
	raw      storage.RawDataStore
	slices   storage.SliceStore
	index    IndexWriter
	engine   *Engine
	listener Listener
	metrics  *metrics.Metrics
}

// NewWorkflow creates a slicing workflow. listener and m may be nil.
func NewWorkflow(
	rules RuleSetSource,
	raw storage.RawDataStore,
	slices storage.SliceStore,
	index IndexWriter,
	engine *Engine,
	listener Listener,
	m *metrics.Metrics,
) *Workflow {
	return &Workflow{
		rules:    rules,
		raw:      raw,
		slices:   slices,
		index:    index,
		engine:   engine,
		listener: listener,
		metrics:  m,
	}
}

// Execute slices every slice type of the entity. version 0 selects the latest
// raw data; a nil ref selects the RuleSet for the entity's type.
func (w *Workflow) Execute(ctx context.Context, tenantID, entityKey string, version int64, ref *contract.Ref) (*Outcome, error) {
	return w.ExecuteTypes(ctx, tenantID, entityKey, version, ref, nil)
}

// ExecuteTypes slices only sliceTypes (all when empty). Index entries are
// always recomputed in full. A pinned version older than the latest raw data
// is sliced without writing slices, index entries or notifications, so the
// current state and its fanout edges stay with the latest version.
func (w *Workflow) ExecuteTypes(ctx context.Context, tenantID, entityKey string, version int64, ref *contract.Ref, sliceTypes []string) (*Outcome, error) {
	start := time.Now()

	rec, err := w.loadRawData(ctx, tenantID, entityKey, version)
	if err != nil {
		return nil, err
	}

	historical, err := w.superseded(ctx, rec, version)
	if err != nil {
		return nil, err
	}

	rs, err := w.loadRuleSet(ctx, rec, ref)
	if err != nil {
		return nil, err
	}

	res, err := w.engine.Slice(ctx, rec, rs, sliceTypes)
	if err != nil {
		slog.Error("[Slicing] Slicing aborted",
			"tenant_id", tenantID, "entity_key", entityKey, "version", rec.Version, "error", err)
		return nil, err
	}

	if historical {
		slog.Info("[Slicing] Sliced superseded version without persisting",
			"tenant_id", tenantID, "entity_key", entityKey, "version", rec.Version)
		return &Outcome{
			TenantID:       rec.TenantID,
			EntityKey:      rec.EntityKey,
			RawDataVersion: rec.Version,
			RuleSet:        rs.Ref().String(),
			Slices:         res.Slices,
			IndexEntries:   len(res.Entries),
			Historical:     true,
			Failures:       failureReports(res.Failures),
			err:            res.Err(),
		}, nil
	}

	if len(res.Slices) > 0 {
		if err := w.slices.PutSlices(ctx, res.Slices); err != nil {
			return nil, coreerr.NewStorageError("put slices", err)
		}
	}
	if err := w.index.Replace(ctx, rec.TenantID, rec.EntityKey, res.Entries); err != nil {
		return nil, err
	}
	if w.listener != nil && len(res.Slices) > 0 {
		if err := w.listener.SlicesUpdated(ctx, res.Slices); err != nil {
			return nil, err
		}
	}

	out := &Outcome{
		TenantID:       rec.TenantID,
		EntityKey:      rec.EntityKey,
		RawDataVersion: rec.Version,
		RuleSet:        rs.Ref().String(),
		Slices:         res.Slices,
		IndexEntries:   len(res.Entries),
		err:            res.Err(),
	}

	written := make([]string, len(res.Slices))
	for i, s := range res.Slices {
		written[i] = s.SliceType
	}
	failed := make([]string, len(res.Failures))
	for i, f := range res.Failures {
		failed[i] = f.SliceType
	}
	out.Failures = failureReports(res.Failures)
	w.metrics.RecordSlicing(rs.EntityType, written, failed, time.Since(start))

	if len(failed) > 0 {
		slog.Warn("[Slicing] Some slices failed",
			"tenant_id", tenantID, "entity_key", entityKey, "failed", failed, "error", out.err)
	}
	slog.Debug("[Slicing] Sliced entity",
		"tenant_id", tenantID, "entity_key", entityKey, "version", rec.Version,
		"slices", written, "index_entries", len(res.Entries))
	return out, nil
}

func (w *Workflow) loadRawData(ctx context.Context, tenantID, entityKey string, version int64) (*v1.RawDataRecord, error) {
	var (
		rec *v1.RawDataRecord
		err error
	)
	if version > 0 {
		rec, err = w.raw.GetRawData(ctx, tenantID, entityKey, version)
	} else {
		rec, err = w.raw.GetLatestRawData(ctx, tenantID, entityKey)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &coreerr.NotFoundError{Resource: "raw data", Key: entityKey}
	}
	if err != nil {
		return nil, coreerr.NewStorageError("get raw data", err)
	}
	return rec, nil
}

// superseded reports whether a pinned rec is older than the entity's latest raw data.
func (w *Workflow) superseded(ctx context.Context, rec *v1.RawDataRecord, pinned int64) (bool, error) {
	if pinned <= 0 {
		return false, nil
	}
	latest, err := w.raw.GetLatestRawData(ctx, rec.TenantID, rec.EntityKey)
	if err != nil {
		return false, coreerr.NewStorageError("get latest raw data", err)
	}
	return latest.Version > rec.Version, nil
}

func failureReports(failures []Failure) []FailureReport {
	var out []FailureReport
	for _, f := range failures {
		out = append(out, FailureReport{SliceType: f.SliceType, Error: f.Err.Error()})
	}
	return out
}

func (w *Workflow) loadRuleSet(ctx context.Context, rec *v1.RawDataRecord, ref *contract.Ref) (*contract.RuleSet, error) {
	if ref != nil {
		return w.rules.LoadRuleSet(ctx, *ref)
	}
	return w.rules.RuleSetForEntityType(ctx, rec.EntityType())
}
