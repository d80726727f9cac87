// Package changeset computes structural diffs between raw data versions and
// maps them onto the slice types they affect.
package changeset

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	v1 "github.com/aevon-lab/sliceflow/internal/api/v1"
	"github.com/aevon-lab/sliceflow/internal/contract"
	"github.com/aevon-lab/sliceflow/internal/core/document"
	"github.com/shopspring/decimal"
)

// Op is the kind of change at one path.
type Op string

const (
	OpAdded   Op = "ADDED"
	OpRemoved Op = "REMOVED"
	OpChanged Op = "CHANGED"
)

// Change is one path-addressed difference. Arrays are compared as a whole and
// reported at the path of the array.
type Change struct {
	Path     string      `json:"path"`
	Op       Op          `json:"op"`
	OldValue interface{} `json:"old_value,omitempty"`
	NewValue interface{} `json:"new_value,omitempty"`
}

// ChangeSet is the difference between two versions of one entity.
type ChangeSet struct {
	TenantID    string   `json:"tenant_id"`
	EntityKey   string   `json:"entity_key"`
	FromVersion int64    `json:"from_version,omitempty"` // 0 when there is no previous version
	ToVersion   int64    `json:"to_version"`
	Changes     []Change `json:"changes"`
}

// Initial reports whether the change set describes the first version of an entity.
func (c *ChangeSet) Initial() bool {
	return c.FromVersion == 0
}

// Empty reports whether nothing changed.
func (c *ChangeSet) Empty() bool {
	return !c.Initial() && len(c.Changes) == 0
}

// Paths returns the changed paths in order.
func (c *ChangeSet) Paths() []string {
	paths := make([]string, len(c.Changes))
	for i, ch := range c.Changes {
		paths[i] = ch.Path
	}
	return paths
}

// Calculate diffs two versions of the same entity. from may be nil for the first version.
func Calculate(from, to *v1.RawDataRecord) *ChangeSet {
	cs := &ChangeSet{
		TenantID:  to.TenantID,
		EntityKey: to.EntityKey,
		ToVersion: to.Version,
	}
	var old map[string]interface{}
	if from != nil {
		cs.FromVersion = from.Version
		old = from.Payload
	}
	cs.Changes = Diff(old, to.Payload)
	return cs
}

// Diff returns the changes turning old into new, sorted by path.
func Diff(old, new map[string]interface{}) []Change {
	var changes []Change
	diffObject("", old, new, &changes)
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes
}

func diffObject(prefix string, old, new map[string]interface{}, out *[]Change) {
	for k, ov := range old {
		path := join(prefix, k)
		nv, ok := new[k]
		if !ok {
			*out = append(*out, Change{Path: path, Op: OpRemoved, OldValue: ov})
			continue
		}
		diffValue(path, ov, nv, out)
	}
	for k, nv := range new {
		if _, ok := old[k]; !ok {
			*out = append(*out, Change{Path: join(prefix, k), Op: OpAdded, NewValue: nv})
		}
	}
}

func diffValue(path string, ov, nv interface{}, out *[]Change) {
	om, oIsMap := ov.(map[string]interface{})
	nm, nIsMap := nv.(map[string]interface{})
	if oIsMap && nIsMap {
		diffObject(path, om, nm, out)
		return
	}
	if !equal(ov, nv) {
		*out = append(*out, Change{Path: path, Op: OpChanged, OldValue: ov, NewValue: nv})
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// equal compares JSON values; numbers compare by value regardless of their Go type.
func equal(a, b interface{}) bool {
	if da, ok := number(a); ok {
		db, ok := number(b)
		return ok && da.Equal(db)
	}
	switch at := a.(type) {
	case []interface{}:
		bt, ok := b.([]interface{})
		if !ok || len(at) != len(bt) {
			return false
		}
		for i := range at {
			if !equal(at[i], bt[i]) {
				return false
			}
		}
		return true
	case map[string]interface{}:
		bt, ok := b.(map[string]interface{})
		if !ok || len(at) != len(bt) {
			return false
		}
		for k, v := range at {
			w, ok := bt[k]
			if !ok || !equal(v, w) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func number(v interface{}) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(t), true
	case float32:
		return decimal.NewFromFloat32(t), true
	case int:
		return decimal.NewFromInt(int64(t)), true
	case int64:
		return decimal.NewFromInt(t), true
	case int32:
		return decimal.NewFromInt32(t), true
	}
	return decimal.Decimal{}, false
}

// Impact returns the slice types of rs that must be recomputed for cs, in
// declaration order. all is true when every slice type is affected.
//
// A watched path matches a changed path when either is a prefix of the other.
// An empty impact map, or the first version of an entity, affects every slice
// type; a slice type missing from a non-empty map is always included.
func Impact(cs *ChangeSet, rs *contract.RuleSet) (types []string, all bool) {
	if cs.Initial() || len(rs.ImpactMap) == 0 {
		return rs.SliceTypes(), true
	}
	if len(cs.Changes) == 0 {
		return nil, false
	}

	for _, sliceType := range rs.SliceTypes() {
		watched, declared := rs.ImpactMap[sliceType]
		if !declared || watches(watched, cs.Changes) {
			types = append(types, sliceType)
		}
	}
	return types, len(types) == len(rs.Slices)
}

func watches(watched []string, changes []Change) bool {
	for _, w := range watched {
		w = normalize(w)
		if w == document.Wildcard || w == "" {
			return true
		}
		for _, ch := range changes {
			if overlaps(w, ch.Path) {
				return true
			}
		}
	}
	return false
}

// normalize strips array iteration markers; diffs report arrays as a whole.
func normalize(path string) string {
	path = strings.TrimSpace(path)
	if path == document.Wildcard {
		return path
	}
	if i := strings.Index(path, "[]"); i >= 0 {
		path = path[:i]
	}
	return strings.TrimSuffix(path, ".")
}

func overlaps(a, b string) bool {
	return a == b || strings.HasPrefix(b, a+".") || strings.HasPrefix(a, b+".")
}

// String renders a compact description for logs.
func (c *ChangeSet) String() string {
	return fmt.Sprintf("%s@%d->%d (%d changes)", c.EntityKey, c.FromVersion, c.ToVersion, len(c.Changes))
}
