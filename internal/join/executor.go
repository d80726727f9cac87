// Package join resolves JoinSpecs against the latest stored target data.
package join

import (
	"context"
	"errors"
	"fmt"

	v1 "github.com/aevon-lab/sliceflow/internal/api/v1"
	"github.com/aevon-lab/sliceflow/internal/contract"
	"github.com/aevon-lab/sliceflow/internal/core/document"
	coreerr "github.com/aevon-lab/sliceflow/internal/core/errors"
	"github.com/aevon-lab/sliceflow/internal/core/storage"
)

// Result is the resolved fragment of one join.
type Result struct {
	Name        string
	Destination string

	// Value is a document for *_TO_ONE joins (nil when absent) and a list of
	// documents, in key order, for *_TO_MANY joins.
	Value interface{}

	// Keys are the target entity keys found at the join path.
	Keys []string

	// Missing are target keys with no stored data.
	Missing []string
}

// Executor fetches join targets. Every call reads the stores; nothing is cached.
type Executor struct {
	raw    storage.RawDataStore
	slices storage.SliceStore
}

// NewExecutor creates a join executor over the raw data and slice stores.
func NewExecutor(raw storage.RawDataStore, slices storage.SliceStore) *Executor {
	return &Executor{raw: raw, slices: slices}
}

// Resolve walks spec.JoinPath in source and fetches every referenced target.
// A *_TO_MANY join referencing more than maxFanout targets fails with
// FanoutLimitExceeded; results are never truncated.
func (e *Executor) Resolve(ctx context.Context, tenantID string, spec *contract.JoinSpec, source map[string]interface{}, maxFanout int) (*Result, error) {
	ids := document.UniqueKeys(document.Collect(source, spec.JoinPath))
	res := &Result{Name: spec.Name, Destination: spec.Destination()}
	for _, id := range ids {
		res.Keys = append(res.Keys, v1.NewEntityKey(spec.TargetEntityType, id))
	}

	if !spec.Cardinality.Many() {
		switch {
		case len(res.Keys) > 1:
			return nil, coreerr.NewValidationError(spec.JoinPath,
				"join %q is %s but found %d keys", spec.Name, spec.Cardinality, len(res.Keys))
		case len(res.Keys) == 0:
			if spec.Required {
				return nil, &coreerr.NotFoundError{Resource: "join key for " + spec.Name, Key: spec.JoinPath}
			}
			return res, nil
		}

		doc, err := e.fetch(ctx, tenantID, res.Keys[0], spec)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			res.Missing = res.Keys
			return res, nil
		}
		res.Value = doc
		return res, nil
	}

	if maxFanout <= 0 {
		maxFanout = contract.DefaultMaxFanout
	}
	if len(res.Keys) > maxFanout {
		return nil, &coreerr.FanoutLimitExceeded{Source: "join " + spec.Name, Count: len(res.Keys), Limit: maxFanout}
	}

	docs := make([]interface{}, 0, len(res.Keys))
	for _, key := range res.Keys {
		doc, err := e.fetch(ctx, tenantID, key, spec)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			res.Missing = append(res.Missing, key)
			continue
		}
		docs = append(docs, doc)
	}
	if len(res.Keys) == 0 && spec.Required {
		return nil, &coreerr.NotFoundError{Resource: "join key for " + spec.Name, Key: spec.JoinPath}
	}
	res.Value = docs
	return res, nil
}

// fetch returns the projected target document, or nil when the target does not
// exist and the join is optional.
func (e *Executor) fetch(ctx context.Context, tenantID, key string, spec *contract.JoinSpec) (map[string]interface{}, error) {
	var (
		data map[string]interface{}
		err  error
	)
	if spec.TargetSliceType != "" {
		var sl *v1.Slice
		sl, err = e.slices.GetLatestSlice(ctx, tenantID, key, spec.TargetSliceType)
		if sl != nil {
			data = sl.Data
		}
	} else {
		var rec *v1.RawDataRecord
		rec, err = e.raw.GetLatestRawData(ctx, tenantID, key)
		if rec != nil {
			data = rec.Payload
		}
	}

	if errors.Is(err, storage.ErrNotFound) {
		if spec.Required {
			return nil, &coreerr.NotFoundError{Resource: fmt.Sprintf("join target for %s", spec.Name), Key: key}
		}
		return nil, nil
	}
	if err != nil {
		return nil, coreerr.NewStorageError("fetch join target "+key, err)
	}

	if len(spec.Fields) == 0 {
		return document.CopyMap(data), nil
	}
	return document.Project(data, spec.Fields), nil
}
