// Package fanout re-slices the entities that reference a changed entity.
package fanout

import (
	"context"
	"fmt"
	"log/slog"

	v1 "github.com/aevon-lab/sliceflow/internal/api/v1"
	"github.com/aevon-lab/sliceflow/internal/contract"
	coreerr "github.com/aevon-lab/sliceflow/internal/core/errors"
	"github.com/aevon-lab/sliceflow/internal/metrics"
	"github.com/aevon-lab/sliceflow/internal/slicing"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxFanout = 10000
	DefaultBatchSize = 10
)

// Status is the terminal state of one fanout invocation.
type Status string

const (
	// StatusResolved means no entity references the upstream entity.
	StatusResolved Status = "RESOLVED"
	// StatusSkipped means the circuit breaker tripped and nothing was processed.
	StatusSkipped Status = "SKIPPED"
	// StatusProcessed means every affected entity was attempted.
	StatusProcessed Status = "PROCESSED"
)

// EntityError reports one affected entity that failed to re-slice.
type EntityError struct {
	EntityKey string `json:"entity_key"`
	Error     string `json:"error"`
}

// Result summarises one fanout invocation.
type Result struct {
	Status            Status        `json:"status"`
	UpstreamEntityKey string        `json:"upstream_entity_key"`
	UpstreamVersion   int64         `json:"upstream_version"`
	TotalAffected     int           `json:"total_affected"`
	ProcessedCount    int           `json:"processed_count"`
	SkippedCount      int           `json:"skipped_count"`
	FailedCount       int           `json:"failed_count"`
	Errors            []EntityError `json:"errors,omitempty"`
}

// IndexReader resolves the entities referencing an entity. Implemented by *index.Service.
type IndexReader interface {
	Count(ctx context.Context, tenantID, indexType, indexValue string) (int, error)
	Query(ctx context.Context, tenantID, indexType, indexValue string, limit int) ([]string, error)
}

// Slicer re-slices one entity. Implemented by *slicing.Workflow.
type Slicer interface {
	Execute(ctx context.Context, tenantID, entityKey string, version int64, ref *contract.Ref) (*slicing.Outcome, error)
}

// Config bounds a fanout.
type Config struct {
	// MaxFanout is the global circuit breaker; it applies regardless of per-index limits.
	MaxFanout int
	BatchSize int
}

// Workflow runs RESOLVE -> (SKIP | PROCESS) -> DONE for one upstream change.
type Workflow struct {
	index   IndexReader
	slicer  Slicer
	cfg     Config
	metrics *metrics.Metrics
}

// NewWorkflow creates a fanout workflow. Zero config values take the defaults.
func NewWorkflow(index IndexReader, slicer Slicer, cfg Config, m *metrics.Metrics) *Workflow {
	if cfg.MaxFanout <= 0 {
		cfg.MaxFanout = DefaultMaxFanout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Workflow{index: index, slicer: slicer, cfg: cfg, metrics: m}
}

// OnEntityChange re-slices every entity whose index entries reference
// upstreamEntityKey. Batches run one after another; the entities of one batch
// run concurrently. A failing entity does not stop the others and successes
// are never rolled back. Affected entities are sliced with their latest raw
// data, so fanout does not cascade further.
func (w *Workflow) OnEntityChange(ctx context.Context, tenantID, upstreamEntityType, upstreamEntityKey string, upstreamVersion int64) (*Result, error) {
	if upstreamEntityType == "" {
		entityType, _, ok := v1.SplitEntityKey(upstreamEntityKey)
		if !ok {
			return nil, coreerr.NewValidationError("entity_key", "malformed entity key %q", upstreamEntityKey)
		}
		upstreamEntityType = entityType
	}

	res := &Result{UpstreamEntityKey: upstreamEntityKey, UpstreamVersion: upstreamVersion}

	// RESOLVE
	count, err := w.index.Count(ctx, tenantID, upstreamEntityType, upstreamEntityKey)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve fanout for %s: %w", upstreamEntityKey, err)
	}
	if count > w.cfg.MaxFanout {
		return w.skip(res, count), nil
	}
	if count == 0 {
		res.Status = StatusResolved
		w.record(res)
		return res, nil
	}

	keys, err := w.index.Query(ctx, tenantID, upstreamEntityType, upstreamEntityKey, w.cfg.MaxFanout+1)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve fanout for %s: %w", upstreamEntityKey, err)
	}
	if len(keys) > w.cfg.MaxFanout {
		return w.skip(res, len(keys)), nil
	}
	res.TotalAffected = len(keys)

	// PROCESS
	for start := 0; start < len(keys); start += w.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			res.Status = StatusProcessed
			w.record(res)
			return res, err
		}
		end := min(start+w.cfg.BatchSize, len(keys))
		w.processBatch(ctx, tenantID, keys[start:end], res)
	}

	res.Status = StatusProcessed
	w.record(res)
	slog.Info("[Fanout] Processed",
		"tenant_id", tenantID,
		"upstream", upstreamEntityKey,
		"version", upstreamVersion,
		"affected", res.TotalAffected,
		"processed", res.ProcessedCount,
		"failed", res.FailedCount)
	return res, nil
}

func (w *Workflow) processBatch(ctx context.Context, tenantID string, batch []string, res *Result) {
	errs := make([]error, len(batch))

	var g errgroup.Group
	for i, key := range batch {
		g.Go(func() error {
			out, err := w.slicer.Execute(ctx, tenantID, key, 0, nil)
			if err == nil {
				err = out.Err()
			}
			errs[i] = err
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range errs {
		if err == nil {
			res.ProcessedCount++
			continue
		}
		res.FailedCount++
		res.Errors = append(res.Errors, EntityError{EntityKey: batch[i], Error: err.Error()})
		slog.Error("[Fanout] Entity failed", "tenant_id", tenantID, "entity_key", batch[i], "error", err)
	}
}

func (w *Workflow) skip(res *Result, count int) *Result {
	res.Status = StatusSkipped
	res.TotalAffected = count
	res.SkippedCount = count
	w.record(res)
	slog.Warn("[Fanout] Circuit breaker tripped, skipping fanout",
		"upstream", res.UpstreamEntityKey,
		"version", res.UpstreamVersion,
		"affected", count,
		"max_fanout", w.cfg.MaxFanout)
	return res
}

func (w *Workflow) record(res *Result) {
	w.metrics.RecordFanout(string(res.Status), res.TotalAffected, res.ProcessedCount, res.SkippedCount, res.FailedCount)
}
