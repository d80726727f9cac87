// Package document addresses and hashes schemaless JSON documents.
//
// Paths are dot separated ("brand.id"). A segment ending in "[]" walks every
// element of an array ("items[].sku"); a numeric segment indexes one element.
package document

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// Wildcard selects every top-level field in a projection.
const Wildcard = "*"

// Get returns the value at path. Array iteration segments are not allowed.
func Get(doc map[string]interface{}, path string) (interface{}, bool) {
	if path == "" {
		return doc, doc != nil
	}
	var cur interface{} = doc
	for _, seg := range strings.Split(path, ".") {
		next, ok := step(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func step(cur interface{}, seg string) (interface{}, bool) {
	switch node := cur.(type) {
	case map[string]interface{}:
		v, ok := node[seg]
		return v, ok
	case []interface{}:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(node) {
			return nil, false
		}
		return node[i], true
	default:
		return nil, false
	}
}

// Collect returns every non-null value reached by path, in document order.
// A terminal array contributes its elements rather than itself.
func Collect(doc map[string]interface{}, path string) []interface{} {
	if doc == nil || path == "" {
		return nil
	}
	var out []interface{}
	collect(doc, strings.Split(path, "."), &out)
	return out
}

func collect(cur interface{}, segs []string, out *[]interface{}) {
	if len(segs) == 0 {
		switch v := cur.(type) {
		case nil:
		case []interface{}:
			for _, e := range v {
				if e != nil {
					*out = append(*out, e)
				}
			}
		default:
			*out = append(*out, v)
		}
		return
	}

	seg := segs[0]
	if name, ok := strings.CutSuffix(seg, "[]"); ok {
		node := cur
		if name != "" {
			var found bool
			if node, found = step(cur, name); !found {
				return
			}
		}
		arr, ok := node.([]interface{})
		if !ok {
			return
		}
		for _, e := range arr {
			collect(e, segs[1:], out)
		}
		return
	}

	next, ok := step(cur, seg)
	if !ok {
		return
	}
	collect(next, segs[1:], out)
}

// Set writes value at path, creating intermediate objects as needed.
// Intermediate non-object values are replaced.
func Set(doc map[string]interface{}, path string, value interface{}) {
	segs := strings.Split(path, ".")
	cur := doc
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			cur[seg] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = value
}

// Project copies the listed paths of doc into a new document.
// A Wildcard field copies every top-level field. Absent paths are skipped.
func Project(doc map[string]interface{}, fields []string) map[string]interface{} {
	out := make(map[string]interface{})
	for _, f := range fields {
		if f == Wildcard {
			for k, v := range doc {
				out[k] = Copy(v)
			}
			continue
		}
		if v, ok := Get(doc, f); ok {
			Set(out, f, Copy(v))
		}
	}
	return out
}

// Copy deep-copies JSON-shaped values.
func Copy(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = Copy(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = Copy(e)
		}
		return out
	default:
		return v
	}
}

// CopyMap deep-copies a document.
func CopyMap(doc map[string]interface{}) map[string]interface{} {
	if doc == nil {
		return nil
	}
	return Copy(doc).(map[string]interface{})
}

// KeyString renders a scalar document value as an index or join key.
func KeyString(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, t != ""
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

// UniqueKeys renders values with KeyString, dropping non-scalars and duplicates.
// The result is sorted.
func UniqueKeys(values []interface{}) []string {
	seen := make(map[string]struct{}, len(values))
	keys := make([]string, 0, len(values))
	for _, v := range values {
		k, ok := KeyString(v)
		if !ok {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
