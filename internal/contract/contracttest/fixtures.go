// Package contracttest provides contract fixtures shared by package tests.
package contracttest

import (
	"context"
	"testing"

	"github.com/aevon-lab/sliceflow/internal/contract"
	"github.com/aevon-lab/sliceflow/internal/contract/storage"
)

// BrandRuleSet slices BRAND entities into a single pass-through slice.
const BrandRuleSet = `
kind: RULESET
id: brand-core
version: 1.0.0
status: ACTIVE
entityType: BRAND
slices:
  - type: core
    build:
      passThrough: ["*"]
`

// ProductRuleSet slices PRODUCT entities, joins their brand and indexes them by brand and sku.
const ProductRuleSet = `
kind: RULESET
id: product-core
version: 1.0.0
status: ACTIVE
entityType: PRODUCT
slices:
  - type: core
    build:
      passThrough: [name, sku]
  - type: pricing
    build:
      mapFields:
        - from: price.amount
          to: amount
        - from: price.currency
          to: currency
  - type: brand
    build:
      passThrough: [brandId]
    joins:
      - name: brand
        targetEntityType: BRAND
        targetSliceType: core
        joinPath: brandId
        cardinality: MANY_TO_ONE
        fields: [name, country]
indexes:
  - type: by_brand
    selector: brandId
    references: BRAND
  - type: by_sku
    selector: sku
impactMap:
  core: [name, sku]
  pricing: [price]
  brand: [brandId]
`

// ProductView requires core and pricing and optionally shows the brand.
const ProductView = `
kind: VIEW_DEFINITION
id: product-detail
version: 1.0.0
status: ACTIVE
requiredSlices: [core, pricing]
optionalSlices: [brand]
missingPolicy: FAIL_CLOSED
includeMeta: true
`

// NewRegistry returns a registry over a memory repository seeded with docs.
func NewRegistry(t testing.TB, docs ...string) (*contract.Registry, *storage.MemoryRepository) {
	t.Helper()
	repo := storage.NewMemoryRepository()
	for _, d := range docs {
		if _, err := repo.Create(context.Background(), []byte(d)); err != nil {
			t.Fatalf("seeding contract: %v", err)
		}
	}
	return contract.NewRegistry(repo), repo
}
