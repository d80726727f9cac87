package document

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDoc() map[string]interface{} {
	return map[string]interface{}{
		"name":  "Lamp",
		"brand": map[string]interface{}{"id": "b1", "name": "Acme"},
		"tags":  []interface{}{"home", "light", nil},
		"items": []interface{}{
			map[string]interface{}{"sku": "s1", "qty": json.Number("2")},
			map[string]interface{}{"sku": "s2"},
			map[string]interface{}{"qty": 1.0},
		},
	}
}

func TestGet(t *testing.T) {
	doc := sampleDoc()

	tests := []struct {
		name  string
		path  string
		want  interface{}
		found bool
	}{
		{"top level", "name", "Lamp", true},
		{"nested", "brand.id", "b1", true},
		{"array index", "items.1.sku", "s2", true},
		{"missing", "brand.country", nil, false},
		{"through scalar", "name.first", nil, false},
		{"index out of range", "items.9", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Get(doc, tt.path)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCollect(t *testing.T) {
	doc := sampleDoc()

	assert.Equal(t, []interface{}{"b1"}, Collect(doc, "brand.id"))
	assert.Equal(t, []interface{}{"home", "light"}, Collect(doc, "tags"))
	assert.Equal(t, []interface{}{"s1", "s2"}, Collect(doc, "items[].sku"))
	assert.Empty(t, Collect(doc, "brand[].id"))
	assert.Empty(t, Collect(doc, "unknown"))
	assert.Nil(t, Collect(nil, "name"))
}

func TestSetAndProject(t *testing.T) {
	out := map[string]interface{}{"brand": "flat"}
	Set(out, "brand.name", "Acme")
	Set(out, "price.amount", 10)
	assert.Equal(t, map[string]interface{}{
		"brand": map[string]interface{}{"name": "Acme"},
		"price": map[string]interface{}{"amount": 10},
	}, out)

	doc := sampleDoc()
	projected := Project(doc, []string{"name", "brand.name", "missing"})
	assert.Equal(t, map[string]interface{}{
		"name":  "Lamp",
		"brand": map[string]interface{}{"name": "Acme"},
	}, projected)

	all := Project(doc, []string{Wildcard})
	assert.Equal(t, doc, all)
	all["brand"].(map[string]interface{})["id"] = "changed"
	assert.Equal(t, "b1", doc["brand"].(map[string]interface{})["id"], "projection must not alias the source")
}

func TestUniqueKeys(t *testing.T) {
	keys := UniqueKeys([]interface{}{"b2", "b1", json.Number("7"), 3.0, "b1", map[string]interface{}{}, true})
	assert.Equal(t, []string{"3", "7", "b1", "b2", "true"}, keys)
}

func TestHash(t *testing.T) {
	a := map[string]interface{}{"b": 1, "a": []interface{}{"x", "y"}}
	b := map[string]interface{}{"a": []interface{}{"x", "y"}, "b": 1}

	h1, err := Hash(DomainSlice, a)
	require.NoError(t, err)
	h2, err := Hash(DomainSlice, b)
	require.NoError(t, err)
	assert.Equal(t, h1, h2, "key order must not change the hash")
	assert.Len(t, h1, 64)

	h3, err := Hash(DomainPayload, a)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3, "domains must separate digests")

	canonical, err := Canonical(b)
	require.NoError(t, err)
	assert.Equal(t, `{"a":["x","y"],"b":1}`, string(canonical))
}
