// Package slicing cuts raw data into typed slices according to a RuleSet and
// keeps the entity's index entries in step with its payload.
package slicing

import (
	"context"
	"errors"
	"fmt"
	"time"

	v1 "github.com/aevon-lab/sliceflow/internal/api/v1"
	"github.com/aevon-lab/sliceflow/internal/contract"
	"github.com/aevon-lab/sliceflow/internal/core/document"
	coreerr "github.com/aevon-lab/sliceflow/internal/core/errors"
	"github.com/aevon-lab/sliceflow/internal/core/version"
	"github.com/aevon-lab/sliceflow/internal/join"
)

// Failure records a slice definition that could not be built.
type Failure struct {
	SliceType string
	Err       error
}

func (f Failure) Error() string {
	return fmt.Sprintf("slice %s: %v", f.SliceType, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// Result is the output of one slicing run.
type Result struct {
	Slices []*v1.Slice

	// Entries is the complete index entry set owned by the entity, computed
	// from every IndexSpec regardless of which slice types were requested.
	Entries []*v1.IndexEntry

	Failures []Failure
}

// Err joins every failure, or returns nil.
func (r *Result) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// JoinResolver resolves one join against stored data.
type JoinResolver interface {
	Resolve(ctx context.Context, tenantID string, spec *contract.JoinSpec, source map[string]interface{}, maxFanout int) (*join.Result, error)
}

// Engine builds slices. Given the same record, RuleSet and stored join
// targets it produces the same slice data and hashes; only versions differ.
type Engine struct {
	joins    JoinResolver
	versions version.Generator
	nowFn    func() time.Time
}

// NewEngine creates a slicing engine.
func NewEngine(joins JoinResolver, versions version.Generator) *Engine {
	return &Engine{
		joins:    joins,
		versions: versions,
		nowFn: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Slice builds the slices of rec described by rs. When only is non-empty just
// those slice types are built. A failed optional join fails only its slice
// definition; a failed required join aborts the run.
func (e *Engine) Slice(ctx context.Context, rec *v1.RawDataRecord, rs *contract.RuleSet, only []string) (*Result, error) {
	if et := rec.EntityType(); et != rs.EntityType {
		return nil, coreerr.NewValidationError("entity_key", "ruleset %s slices %s, not %s", rs.ID, rs.EntityType, et)
	}

	entries, err := IndexEntries(rec, rs)
	if err != nil {
		return nil, err
	}
	res := &Result{Entries: entries}

	wanted := make(map[string]bool, len(only))
	for _, t := range only {
		wanted[t] = true
	}

	now := e.nowFn()
	for i := range rs.Slices {
		def := &rs.Slices[i]
		if len(wanted) > 0 && !wanted[def.Type] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := e.build(ctx, rec, rs, def)
		if err != nil {
			var required *requiredJoinError
			if errors.As(err, &required) {
				return nil, required.err
			}
			res.Failures = append(res.Failures, Failure{SliceType: def.Type, Err: err})
			continue
		}

		hash, err := document.Hash(document.DomainSlice, map[string]interface{}{
			"slice_type": def.Type,
			"data":       data,
		})
		if err != nil {
			res.Failures = append(res.Failures, Failure{SliceType: def.Type, Err: err})
			continue
		}

		res.Slices = append(res.Slices, &v1.Slice{
			TenantID:             rec.TenantID,
			EntityKey:            rec.EntityKey,
			SliceType:            def.Type,
			Version:              e.versions.Next(),
			Data:                 data,
			SourceRawDataVersion: rec.Version,
			Hash:                 hash,
			RuleSetID:            rs.ID,
			RuleSetVersion:       rs.Version.String(),
			CreatedAt:            now,
		})
	}
	return res, nil
}

type requiredJoinError struct {
	err error
}

func (e *requiredJoinError) Error() string { return e.err.Error() }

func (e *Engine) build(ctx context.Context, rec *v1.RawDataRecord, rs *contract.RuleSet, def *contract.SliceDefinition) (map[string]interface{}, error) {
	data, err := Build(rec.Payload, def.Build)
	if err != nil {
		return nil, err
	}

	for i := range def.Joins {
		spec := &def.Joins[i]
		frag, err := e.joins.Resolve(ctx, rec.TenantID, spec, rec.Payload, rs.JoinFanoutLimit(spec))
		if err != nil {
			err = fmt.Errorf("join %s: %w", spec.Name, err)
			if spec.Required {
				return nil, &requiredJoinError{err: fmt.Errorf("slice %s: %w", def.Type, err)}
			}
			return nil, err
		}
		document.Set(data, frag.Destination, frag.Value)
	}
	return data, nil
}

// Build applies a build rule to a payload.
func Build(payload map[string]interface{}, rule contract.BuildRule) (map[string]interface{}, error) {
	switch r := rule.(type) {
	case contract.PassThrough:
		return document.Project(payload, r.Fields), nil
	case contract.MapFields:
		out := make(map[string]interface{}, len(r.Mappings))
		for _, m := range r.Mappings {
			if v, ok := document.Get(payload, m.Source); ok {
				document.Set(out, m.Target, document.Copy(v))
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported build rule %T", rule)
	}
}

// IndexEntries derives the index entries rec owns under rs. An IndexSpec with
// References yields INVERTED edges keyed by the referenced entity; one without
// yields FORWARD entries keyed by the selected value.
func IndexEntries(rec *v1.RawDataRecord, rs *contract.RuleSet) ([]*v1.IndexEntry, error) {
	var entries []*v1.IndexEntry
	for i := range rs.Indexes {
		spec := &rs.Indexes[i]
		values := document.UniqueKeys(document.Collect(rec.Payload, spec.Selector))
		if limit := spec.EffectiveMaxFanout(); len(values) > limit {
			return nil, &coreerr.FanoutLimitExceeded{Source: "index " + spec.Type, Count: len(values), Limit: limit}
		}

		for _, value := range values {
			entry := &v1.IndexEntry{
				TenantID:    rec.TenantID,
				EntityKey:   rec.EntityKey,
				SourceIndex: spec.Type,
				MaxFanout:   spec.EffectiveMaxFanout(),
			}
			if spec.References != "" {
				entry.Kind = v1.IndexInverted
				entry.IndexType = spec.References
				entry.IndexValue = v1.NewEntityKey(spec.References, value)
			} else {
				entry.Kind = v1.IndexForward
				entry.IndexType = spec.Type
				entry.IndexValue = value
			}
			entries = append(entries, entry)
		}
	}
	return entries, nil
}
