// Package sink ships persisted slices to external systems.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	v1 "github.com/aevon-lab/sliceflow/internal/api/v1"
	"github.com/aevon-lab/sliceflow/internal/metrics"
)

// Sink delivers one slice. Deliveries are at-least-once: a sink may see the
// same slice version more than once and should treat it idempotently.
type Sink interface {
	Name() string
	Ship(ctx context.Context, slice *v1.Slice) error
}

// Message is the JSON document every sink publishes.
type Message struct {
	TenantID             string                 `json:"tenant_id"`
	EntityKey            string                 `json:"entity_key"`
	SliceType            string                 `json:"slice_type"`
	Version              int64                  `json:"version"`
	SourceRawDataVersion int64                  `json:"source_raw_data_version"`
	Hash                 string                 `json:"hash"`
	RuleSet              string                 `json:"ruleset"`
	Data                 map[string]interface{} `json:"data"`
	ShippedAt            time.Time              `json:"shipped_at"`
}

// Encode renders slice as a Message.
func Encode(slice *v1.Slice) ([]byte, error) {
	raw, err := json.Marshal(Message{
		TenantID:             slice.TenantID,
		EntityKey:            slice.EntityKey,
		SliceType:            slice.SliceType,
		Version:              slice.Version,
		SourceRawDataVersion: slice.SourceRawDataVersion,
		Hash:                 slice.Hash,
		RuleSet:              slice.RuleSetID + "@" + slice.RuleSetVersion,
		Data:                 slice.Data,
		ShippedAt:            time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode slice %s/%s: %w", slice.EntityKey, slice.SliceType, err)
	}
	return raw, nil
}

// Multi ships to every sink and joins their errors. A failing sink does not
// stop delivery to the others.
type Multi struct {
	sinks   []Sink
	metrics *metrics.Metrics
}

// NewMulti fans out to sinks.
func NewMulti(m *metrics.Metrics, sinks ...Sink) *Multi {
	return &Multi{sinks: sinks, metrics: m}
}

func (m *Multi) Name() string { return "multi" }

// Len returns the number of configured sinks.
func (m *Multi) Len() int { return len(m.sinks) }

// Ship delivers slice to every sink.
func (m *Multi) Ship(ctx context.Context, slice *v1.Slice) error {
	var errs []error
	for _, s := range m.sinks {
		err := s.Ship(ctx, slice)
		m.metrics.RecordShipment(s.Name(), err)
		if err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that holds resources.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// Log writes slices to the structured log. Meant for development.
type Log struct{}

func (Log) Name() string { return "log" }

func (Log) Ship(_ context.Context, slice *v1.Slice) error {
	slog.Info("[Sink] Slice updated",
		"tenant_id", slice.TenantID,
		"entity_key", slice.EntityKey,
		"slice_type", slice.SliceType,
		"version", slice.Version,
		"hash", slice.Hash)
	return nil
}
