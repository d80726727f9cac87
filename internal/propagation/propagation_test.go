package propagation

import (
	"context"
	"fmt"
	"sync"
	"testing"

	v1 "github.com/aevon-lab/sliceflow/internal/api/v1"
	"github.com/aevon-lab/sliceflow/internal/contract/contracttest"
	coreerr "github.com/aevon-lab/sliceflow/internal/core/errors"
	"github.com/aevon-lab/sliceflow/internal/core/storage/memory"
	"github.com/aevon-lab/sliceflow/internal/core/version"
	"github.com/aevon-lab/sliceflow/internal/fanout"
	"github.com/aevon-lab/sliceflow/internal/index"
	"github.com/aevon-lab/sliceflow/internal/ingestion"
	"github.com/aevon-lab/sliceflow/internal/join"
	"github.com/aevon-lab/sliceflow/internal/outbox"
	"github.com/aevon-lab/sliceflow/internal/slicing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu      sync.Mutex
	shipped []*v1.Slice
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Ship(_ context.Context, slice *v1.Slice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shipped = append(s.shipped, slice)
	return nil
}

func (s *recordingSink) count(entityKey, sliceType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sl := range s.shipped {
		if sl.EntityKey == entityKey && sl.SliceType == sliceType {
			n++
		}
	}
	return n
}

type pipeline struct {
	store    *memory.Store
	ingest   *ingestion.Service
	worker   *outbox.Worker
	handlers *Handlers
	slicer   *slicing.Workflow
	fanout   *fanout.Workflow
	sink     *recordingSink
}

func newPipeline(t *testing.T, maxFanout int) *pipeline {
	t.Helper()
	store := memory.NewStore()
	reg, _ := contracttest.NewRegistry(t, contracttest.BrandRuleSet, contracttest.ProductRuleSet)
	versions := version.NewSequence(0)
	idx := index.NewService(store)

	slicer := slicing.NewWorkflow(reg, store, store, idx,
		slicing.NewEngine(join.NewExecutor(store, store), versions), NewOutboxListener(store), nil)
	fo := fanout.NewWorkflow(idx, slicer, fanout.Config{MaxFanout: maxFanout}, nil)
	sk := &recordingSink{}

	h := NewHandlers(store, store, store, reg, slicer, fo, sk)
	router := outbox.NewRouter()
	h.Register(router)

	return &pipeline{
		store:    store,
		ingest:   ingestion.NewService(store, versions, 1),
		worker:   outbox.NewWorker(store, router, outbox.Config{WorkerID: "w1"}, nil),
		handlers: h,
		slicer:   slicer,
		fanout:   fo,
		sink:     sk,
	}
}

func (p *pipeline) put(t *testing.T, entityKey string, payload map[string]interface{}) int64 {
	t.Helper()
	res, err := p.ingest.Ingest(context.Background(), &v1.RawDataRecord{
		TenantID:      "t1",
		EntityKey:     entityKey,
		SchemaID:      "test",
		SchemaVersion: "1.0.0",
		Payload:       payload,
	})
	require.NoError(t, err)
	return res.Version
}

// drain runs the worker until the outbox is empty.
func (p *pipeline) drain(t *testing.T) {
	t.Helper()
	for i := 0; i < 50; i++ {
		n, err := p.worker.PollOnce(context.Background())
		require.NoError(t, err)
		if n == 0 {
			dlq, err := p.store.ListOutbox(context.Background(), v1.OutboxDLQ, 0)
			require.NoError(t, err)
			require.Empty(t, dlq, "no entry may be dead-lettered")
			return
		}
	}
	t.Fatal("outbox did not drain")
}

func (p *pipeline) slice(t *testing.T, entityKey, sliceType string) *v1.Slice {
	t.Helper()
	s, err := p.store.GetLatestSlice(context.Background(), "t1", entityKey, sliceType)
	require.NoError(t, err)
	return s
}

func product(name, brandID string, amount float64) map[string]interface{} {
	return map[string]interface{}{
		"name":    name,
		"sku":     "SKU-" + name,
		"brandId": brandID,
		"price":   map[string]interface{}{"amount": amount, "currency": "EUR"},
	}
}

func brandName(s *v1.Slice) interface{} {
	b, _ := s.Data["brand"].(map[string]interface{})
	return b["name"]
}

func TestPipeline_BrandRenamePropagatesToProducts(t *testing.T) {
	p := newPipeline(t, 0)

	p.put(t, "BRAND#b1", map[string]interface{}{"name": "Acme", "country": "DE"})
	p.put(t, "PRODUCT#p1", product("Runner", "b1", 99.5))
	p.put(t, "PRODUCT#p2", product("Walker", "b1", 49))
	p.drain(t)

	assert.Equal(t, "Acme", brandName(p.slice(t, "PRODUCT#p1", "brand")))
	assert.Equal(t, "Acme", brandName(p.slice(t, "PRODUCT#p2", "brand")))

	p.put(t, "BRAND#b1", map[string]interface{}{"name": "Acme Corp", "country": "DE"})
	p.drain(t)

	assert.Equal(t, "Acme Corp", brandName(p.slice(t, "PRODUCT#p1", "brand")))
	assert.Equal(t, "Acme Corp", brandName(p.slice(t, "PRODUCT#p2", "brand")))
	assert.Equal(t, 2, p.sink.count("BRAND#b1", "core"))
	assert.GreaterOrEqual(t, p.sink.count("PRODUCT#p1", "brand"), 2)
}

func TestFanout_BrandChangeAcrossThreeProducts(t *testing.T) {
	tests := []struct {
		name      string
		maxFanout int
		want      fanout.Result
		advanced  bool
	}{
		{
			name:     "default limit processes every product",
			want:     fanout.Result{Status: fanout.StatusProcessed, TotalAffected: 3, ProcessedCount: 3},
			advanced: true,
		},
		{
			name:      "limit of two skips all three",
			maxFanout: 2,
			want:      fanout.Result{Status: fanout.StatusSkipped, TotalAffected: 3, SkippedCount: 3},
		},
	}

	products := []string{"PRODUCT#p1", "PRODUCT#p2", "PRODUCT#p3"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPipeline(t, tt.maxFanout)
			ctx := context.Background()

			p.put(t, "BRAND#b1", map[string]interface{}{"name": "Acme"})
			for i, key := range products {
				p.put(t, key, product(fmt.Sprintf("item-%d", i), "b1", 10))
			}
			p.drain(t)

			owners, err := p.store.QueryIndex(ctx, "t1", "BRAND", "BRAND#b1", 10)
			require.NoError(t, err)
			require.Equal(t, products, owners)

			before := make(map[string]int64, len(products))
			for _, key := range products {
				before[key] = p.slice(t, key, "brand").Version
			}

			v2 := p.put(t, "BRAND#b1", map[string]interface{}{"name": "Acme Inc"})
			_, err = p.slicer.Execute(ctx, "t1", "BRAND#b1", v2, nil)
			require.NoError(t, err)

			res, err := p.fanout.OnEntityChange(ctx, "t1", "BRAND", "BRAND#b1", v2)
			require.NoError(t, err)
			assert.Equal(t, tt.want.Status, res.Status)
			assert.Equal(t, tt.want.TotalAffected, res.TotalAffected)
			assert.Equal(t, tt.want.ProcessedCount, res.ProcessedCount)
			assert.Equal(t, tt.want.SkippedCount, res.SkippedCount)
			assert.Zero(t, res.FailedCount)

			for _, key := range products {
				after := p.slice(t, key, "brand")
				if tt.advanced {
					assert.Greater(t, after.Version, before[key], key)
					assert.Equal(t, "Acme Inc", brandName(after), key)
				} else {
					assert.Equal(t, before[key], after.Version, key)
					assert.Equal(t, "Acme", brandName(after), key)
				}
			}
		})
	}
}

func TestPipeline_CircuitBreakerSkipsFanout(t *testing.T) {
	p := newPipeline(t, 2)

	p.put(t, "BRAND#b1", map[string]interface{}{"name": "Acme", "country": "DE"})
	p.put(t, "PRODUCT#p1", product("Runner", "b1", 99.5))
	p.put(t, "PRODUCT#p2", product("Walker", "b1", 49))
	p.put(t, "PRODUCT#p3", product("Sprinter", "b1", 79))
	p.drain(t)

	p.put(t, "BRAND#b1", map[string]interface{}{"name": "Acme Corp", "country": "DE"})
	p.drain(t)

	assert.Equal(t, "Acme Corp", p.slice(t, "BRAND#b1", "core").Data["name"])
	assert.Equal(t, "Acme", brandName(p.slice(t, "PRODUCT#p1", "brand")), "three dependents exceed a fanout limit of two")
}

func TestPipeline_ImpactLimitsReslicing(t *testing.T) {
	p := newPipeline(t, 0)

	p.put(t, "BRAND#b1", map[string]interface{}{"name": "Acme", "country": "DE"})
	p.put(t, "PRODUCT#p1", product("Runner", "b1", 99.5))
	p.drain(t)
	core := p.slice(t, "PRODUCT#p1", "core")
	pricing := p.slice(t, "PRODUCT#p1", "pricing")

	p.put(t, "PRODUCT#p1", product("Runner", "b1", 89.5))
	p.drain(t)

	assert.Equal(t, core.Version, p.slice(t, "PRODUCT#p1", "core").Version, "core does not watch price")
	newPricing := p.slice(t, "PRODUCT#p1", "pricing")
	assert.Greater(t, newPricing.Version, pricing.Version)
	assert.Equal(t, 89.5, newPricing.Data["amount"])
}

func TestHandlers_MalformedPayloadIsNotRetryable(t *testing.T) {
	p := newPipeline(t, 0)
	entry := &v1.OutboxEntry{ID: "x", EventType: v1.EventRawDataIngested, Payload: []byte(`{"version":"nope"}`)}

	err := p.handlers.HandleRawDataIngested(context.Background(), entry)
	require.Error(t, err)
	assert.False(t, coreerr.IsRetryable(err))
}

func TestHandlers_SliceUpdatedSkipsSupersededVersion(t *testing.T) {
	p := newPipeline(t, 0)
	ctx := context.Background()
	require.NoError(t, p.store.PutSlices(ctx, []*v1.Slice{
		{TenantID: "t1", EntityKey: "BRAND#b1", SliceType: "core", Version: 5},
		{TenantID: "t1", EntityKey: "BRAND#b1", SliceType: "core", Version: 9},
	}))

	announce := func(version int64) error {
		e, err := outbox.NewEntry(v1.AggregateSlice, "BRAND#b1", v1.EventSliceUpdated, v1.SliceUpdated{
			TenantID: "t1", EntityKey: "BRAND#b1", SliceType: "core", Version: version,
		})
		require.NoError(t, err)
		return p.handlers.HandleSliceUpdated(ctx, e)
	}

	require.NoError(t, announce(5))
	assert.Zero(t, p.sink.count("BRAND#b1", "core"))

	require.NoError(t, announce(9))
	assert.Equal(t, 1, p.sink.count("BRAND#b1", "core"))

	err := announce(12)
	assert.True(t, coreerr.IsNotFound(err), "a version newer than the store is retried")
}

func TestOutboxListener_Idempotent(t *testing.T) {
	store := memory.NewStore()
	l := NewOutboxListener(store)
	ctx := context.Background()
	slices := []*v1.Slice{
		{TenantID: "t1", EntityKey: "PRODUCT#p1", SliceType: "core", Version: 1},
		{TenantID: "t1", EntityKey: "PRODUCT#p1", SliceType: "pricing", Version: 2},
	}

	require.NoError(t, l.SlicesUpdated(ctx, slices))
	require.NoError(t, l.SlicesUpdated(ctx, slices))

	pending, err := store.ListOutbox(ctx, v1.OutboxPending, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	for _, e := range pending {
		assert.Equal(t, v1.EventSliceUpdated, e.EventType)
		assert.Equal(t, v1.AggregateSlice, e.AggregateType)
	}
}
