package slicing

import (
	"context"
	"testing"

	v1 "github.com/aevon-lab/sliceflow/internal/api/v1"
	"github.com/aevon-lab/sliceflow/internal/contract"
	"github.com/aevon-lab/sliceflow/internal/contract/contracttest"
	coreerr "github.com/aevon-lab/sliceflow/internal/core/errors"
	"github.com/aevon-lab/sliceflow/internal/core/storage/memory"
	"github.com/aevon-lab/sliceflow/internal/core/version"
	"github.com/aevon-lab/sliceflow/internal/join"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func productRecord(version int64, brandID string) *v1.RawDataRecord {
	return &v1.RawDataRecord{
		TenantID:      "t1",
		EntityKey:     "PRODUCT#p1",
		Version:       version,
		SchemaID:      "product",
		SchemaVersion: "1.0.0",
		Payload: map[string]interface{}{
			"name":    "Runner",
			"sku":     "SKU-1",
			"brandId": brandID,
			"price":   map[string]interface{}{"amount": 99.5, "currency": "EUR"},
		},
	}
}

func loadProductRuleSet(t *testing.T) *contract.RuleSet {
	t.Helper()
	reg, _ := contracttest.NewRegistry(t, contracttest.ProductRuleSet)
	rs, err := reg.LoadRuleSet(context.Background(), contract.Ref{ID: "product-core"})
	require.NoError(t, err)
	return rs
}

func storeWithBrand(t *testing.T) *memory.Store {
	t.Helper()
	s := memory.NewStore()
	require.NoError(t, s.PutSlices(context.Background(), []*v1.Slice{{
		TenantID: "t1", EntityKey: "BRAND#b1", SliceType: "core", Version: 1,
		Data: map[string]interface{}{"name": "Acme", "country": "DE", "founded": 1950},
	}}))
	return s
}

func TestEngine_Slice(t *testing.T) {
	s := storeWithBrand(t)
	engine := NewEngine(join.NewExecutor(s, s), version.NewSequence(0))
	rs := loadProductRuleSet(t)

	res, err := engine.Slice(context.Background(), productRecord(100, "b1"), rs, nil)
	require.NoError(t, err)
	require.Empty(t, res.Failures)
	require.Len(t, res.Slices, 3)

	byType := make(map[string]*v1.Slice)
	for _, sl := range res.Slices {
		byType[sl.SliceType] = sl
		assert.Equal(t, int64(100), sl.SourceRawDataVersion)
		assert.Equal(t, "product-core", sl.RuleSetID)
		assert.NotEmpty(t, sl.Hash)
	}
	assert.Equal(t, map[string]interface{}{"name": "Runner", "sku": "SKU-1"}, byType["core"].Data)
	assert.Equal(t, map[string]interface{}{"amount": 99.5, "currency": "EUR"}, byType["pricing"].Data)
	assert.Equal(t, map[string]interface{}{
		"brandId": "b1",
		"brand":   map[string]interface{}{"name": "Acme", "country": "DE"},
	}, byType["brand"].Data)

	require.Len(t, res.Entries, 2)
	assert.Equal(t, &v1.IndexEntry{
		TenantID: "t1", IndexType: "BRAND", IndexValue: "BRAND#b1", EntityKey: "PRODUCT#p1",
		Kind: v1.IndexInverted, SourceIndex: "by_brand", MaxFanout: contract.DefaultMaxFanout,
	}, res.Entries[0])
	assert.Equal(t, v1.IndexForward, res.Entries[1].Kind)
	assert.Equal(t, "by_sku", res.Entries[1].IndexType)
	assert.Equal(t, "SKU-1", res.Entries[1].IndexValue)
}

func TestEngine_SliceIsDeterministic(t *testing.T) {
	s := storeWithBrand(t)
	engine := NewEngine(join.NewExecutor(s, s), version.NewSequence(0))
	rs := loadProductRuleSet(t)

	first, err := engine.Slice(context.Background(), productRecord(100, "b1"), rs, nil)
	require.NoError(t, err)
	second, err := engine.Slice(context.Background(), productRecord(100, "b1"), rs, nil)
	require.NoError(t, err)

	for i := range first.Slices {
		assert.Equal(t, first.Slices[i].Hash, second.Slices[i].Hash)
		assert.Equal(t, first.Slices[i].Data, second.Slices[i].Data)
		assert.Less(t, first.Slices[i].Version, second.Slices[i].Version, "versions are always fresh")
	}
	assert.Equal(t, first.Entries, second.Entries)
}

func TestEngine_OnlyRequestedTypes(t *testing.T) {
	s := storeWithBrand(t)
	engine := NewEngine(join.NewExecutor(s, s), version.NewSequence(0))

	res, err := engine.Slice(context.Background(), productRecord(100, "b1"), loadProductRuleSet(t), []string{"pricing"})
	require.NoError(t, err)
	require.Len(t, res.Slices, 1)
	assert.Equal(t, "pricing", res.Slices[0].SliceType)
	assert.Len(t, res.Entries, 2, "index entries are always complete")
}

func TestEngine_OptionalJoinMissingTarget(t *testing.T) {
	s := memory.NewStore()
	engine := NewEngine(join.NewExecutor(s, s), version.NewSequence(0))

	res, err := engine.Slice(context.Background(), productRecord(100, "b9"), loadProductRuleSet(t), nil)
	require.NoError(t, err)
	require.Len(t, res.Slices, 3)
	assert.Equal(t, map[string]interface{}{"brandId": "b9", "brand": nil}, res.Slices[2].Data)
}

func TestEngine_JoinFailures(t *testing.T) {
	rs := loadProductRuleSet(t)
	s := memory.NewStore()
	engine := NewEngine(join.NewExecutor(s, s), version.NewSequence(0))

	rec := productRecord(100, "b1")
	rec.Payload["brandId"] = []interface{}{"b1", "b2"}

	res, err := engine.Slice(context.Background(), rec, rs, nil)
	require.NoError(t, err, "an optional join failure fails only its slice")
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "brand", res.Failures[0].SliceType)
	assert.Len(t, res.Slices, 2)
	assert.Error(t, res.Err())

	required := *rs
	required.Slices = append([]contract.SliceDefinition(nil), rs.Slices...)
	brand := required.Slices[2]
	brand.Joins = []contract.JoinSpec{rs.Slices[2].Joins[0]}
	brand.Joins[0].Required = true
	required.Slices[2] = brand

	_, err = engine.Slice(context.Background(), productRecord(100, "b1"), &required, nil)
	assert.True(t, coreerr.IsNotFound(err), "a required join failure aborts the run")
}

func TestEngine_WrongEntityType(t *testing.T) {
	s := memory.NewStore()
	engine := NewEngine(join.NewExecutor(s, s), version.NewSequence(0))
	rec := productRecord(1, "b1")
	rec.EntityKey = "BRAND#b1"

	_, err := engine.Slice(context.Background(), rec, loadProductRuleSet(t), nil)
	var verr *coreerr.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestIndexEntries_FanoutLimit(t *testing.T) {
	rs := &contract.RuleSet{
		EntityType: "ORDER",
		Indexes:    []contract.IndexSpec{{Type: "by_item", Selector: "items", References: "PRODUCT", MaxFanout: 2}},
	}
	rec := &v1.RawDataRecord{TenantID: "t1", EntityKey: "ORDER#o1", Payload: map[string]interface{}{
		"items": []interface{}{"p1", "p2", "p2"},
	}}

	entries, err := IndexEntries(rec, rs)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "duplicates collapse")

	rec.Payload["items"] = []interface{}{"p1", "p2", "p3"}
	_, err = IndexEntries(rec, rs)
	var limit *coreerr.FanoutLimitExceeded
	assert.ErrorAs(t, err, &limit)
}

func TestBuild(t *testing.T) {
	payload := map[string]interface{}{
		"a": 1,
		"b": map[string]interface{}{"c": "x", "d": "y"},
	}

	tests := []struct {
		name string
		rule contract.BuildRule
		want map[string]interface{}
	}{
		{"pass through all", contract.PassThrough{Fields: []string{"*"}}, payload},
		{"pass through nested", contract.PassThrough{Fields: []string{"b.c", "missing"}}, map[string]interface{}{"b": map[string]interface{}{"c": "x"}}},
		{"map fields", contract.MapFields{Mappings: []contract.FieldMapping{{Source: "b.d", Target: "out.d"}, {Source: "a", Target: "n"}}},
			map[string]interface{}{"out": map[string]interface{}{"d": "y"}, "n": 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Build(payload, tt.rule)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
