//go:build property
// +build property

package slicing

import (
	"context"
	"testing"

	v1 "github.com/aevon-lab/sliceflow/internal/api/v1"
	"github.com/aevon-lab/sliceflow/internal/core/storage/memory"
	"github.com/aevon-lab/sliceflow/internal/core/version"
	"github.com/aevon-lab/sliceflow/internal/join"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: slicing the same record twice yields identical data, hashes and index entries.
func TestSliceIdempotence(t *testing.T) {
	rs := loadProductRuleSet(t)
	s := memory.NewStore()
	engine := NewEngine(join.NewExecutor(s, s), version.NewSequence(0))

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("re-slicing is idempotent", prop.ForAll(
		func(name, sku, brand, currency string, amount float64) bool {
			rec := &v1.RawDataRecord{
				TenantID:  "t1",
				EntityKey: "PRODUCT#p1",
				Version:   1,
				Payload: map[string]interface{}{
					"name":    name,
					"sku":     sku,
					"brandId": brand,
					"price":   map[string]interface{}{"amount": amount, "currency": currency},
				},
			}

			first, err1 := engine.Slice(context.Background(), rec, rs, nil)
			second, err2 := engine.Slice(context.Background(), rec, rs, nil)
			if err1 != nil || err2 != nil {
				return err1 != nil && err2 != nil
			}
			if len(first.Slices) != len(second.Slices) || len(first.Entries) != len(second.Entries) {
				return false
			}
			for i := range first.Slices {
				if first.Slices[i].Hash != second.Slices[i].Hash {
					return false
				}
			}
			for i := range first.Entries {
				if *first.Entries[i] != *second.Entries[i] {
					return false
				}
			}
			return true
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.AlphaString(),
		gen.OneConstOf("EUR", "USD", ""),
		gen.Float64Range(0, 1e6),
	))

	properties.TestingRun(t)
}

// Property: the slice hash changes whenever sliced data changes.
func TestSliceHashSensitivity(t *testing.T) {
	rs := loadProductRuleSet(t)
	s := memory.NewStore()
	engine := NewEngine(join.NewExecutor(s, s), version.NewSequence(0))

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("different names hash differently", prop.ForAll(
		func(a, b string) bool {
			if a == b {
				return true
			}
			slice := func(name string) string {
				res, err := engine.Slice(context.Background(), &v1.RawDataRecord{
					TenantID: "t1", EntityKey: "PRODUCT#p1", Version: 1,
					Payload: map[string]interface{}{"name": name},
				}, rs, []string{"core"})
				if err != nil || len(res.Slices) != 1 {
					return ""
				}
				return res.Slices[0].Hash
			}
			ha, hb := slice(a), slice(b)
			return ha != "" && hb != "" && ha != hb
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
