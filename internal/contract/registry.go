package contract

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
	coreerr "github.com/aevon-lab/sliceflow/internal/core/errors"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheCapacity is the default number of parsed contracts to cache.
const DefaultCacheCapacity = 1000

// Registry loads contracts by reference, parses them once per document
// revision and passes every load through the status gate.
type Registry struct {
	repo  Repository
	cache *LRUCache
	group singleflight.Group // dedupe concurrent parses of one document
}

// NewRegistry creates a new contract registry.
func NewRegistry(repo Repository) *Registry {
	return NewRegistryWithCache(repo, DefaultCacheCapacity)
}

// NewRegistryWithCache creates a registry with a custom cache capacity.
func NewRegistryWithCache(repo Repository, cacheCapacity int) *Registry {
	return &Registry{
		repo:  repo,
		cache: NewLRUCache(cacheCapacity),
	}
}

// LoadRuleSet loads a gated RuleSet with its join and index refs resolved.
func (r *Registry) LoadRuleSet(ctx context.Context, ref Ref) (*RuleSet, error) {
	c, err := r.load(ctx, KindRuleSet, ref)
	if err != nil {
		return nil, err
	}
	return r.resolveRefs(ctx, c.(*RuleSet))
}

// LoadViewDefinition loads a gated ViewDefinition.
func (r *Registry) LoadViewDefinition(ctx context.Context, ref Ref) (*ViewDefinition, error) {
	c, err := r.load(ctx, KindViewDefinition, ref)
	if err != nil {
		return nil, err
	}
	return c.(*ViewDefinition), nil
}

// LoadJoinSpec loads a gated standalone JoinSpec.
func (r *Registry) LoadJoinSpec(ctx context.Context, ref Ref) (*JoinContract, error) {
	c, err := r.load(ctx, KindJoinSpec, ref)
	if err != nil {
		return nil, err
	}
	return c.(*JoinContract), nil
}

// LoadIndexSpec loads a gated standalone IndexSpec.
func (r *Registry) LoadIndexSpec(ctx context.Context, ref Ref) (*IndexContract, error) {
	c, err := r.load(ctx, KindIndexSpec, ref)
	if err != nil {
		return nil, err
	}
	return c.(*IndexContract), nil
}

// RuleSetForEntityType returns the highest usable RuleSet version declared for entityType.
func (r *Registry) RuleSetForEntityType(ctx context.Context, entityType string) (*RuleSet, error) {
	docs, err := r.repo.List(ctx, KindRuleSet)
	if err != nil {
		return nil, coreerr.NewStorageError("list rulesets", err)
	}

	var best *RuleSet
	for _, doc := range docs {
		if !doc.Status.Usable() {
			continue
		}
		c, err := r.parse(doc)
		if err != nil {
			return nil, err
		}
		rs := c.(*RuleSet)
		if rs.EntityType != entityType {
			continue
		}
		if best == nil || rs.Version.GreaterThan(best.Version) {
			best = rs
		}
	}
	if best == nil {
		return nil, &coreerr.NotFoundError{Resource: "ruleset for entity type", Key: entityType}
	}
	if err := Gate(best.Meta); err != nil {
		return nil, err
	}
	return r.resolveRefs(ctx, best)
}

// List returns the metadata of every stored contract of kind (all kinds when empty),
// ordered by kind, id and version.
func (r *Registry) List(ctx context.Context, kind Kind) ([]Meta, error) {
	docs, err := r.repo.List(ctx, kind)
	if err != nil {
		return nil, coreerr.NewStorageError("list contracts", err)
	}
	metas := make([]Meta, 0, len(docs))
	for _, d := range docs {
		metas = append(metas, Meta{
			ID:          d.ID,
			Kind:        d.Kind,
			Version:     d.Version,
			Status:      d.Status,
			Fingerprint: d.Fingerprint,
		})
	}
	sort.Slice(metas, func(i, j int) bool {
		if metas[i].Kind != metas[j].Kind {
			return metas[i].Kind < metas[j].Kind
		}
		if metas[i].ID != metas[j].ID {
			return metas[i].ID < metas[j].ID
		}
		return metas[i].Version.LessThan(metas[j].Version)
	})
	return metas, nil
}

// Document returns the stored document ref resolves to, whatever its status.
func (r *Registry) Document(ctx context.Context, kind Kind, ref Ref) (*Document, error) {
	return r.resolve(ctx, kind, ref)
}

// SetStatus moves one contract version to a new lifecycle status.
func (r *Registry) SetStatus(ctx context.Context, key Key, status Status) error {
	if !status.Valid() {
		return coreerr.NewValidationError("status", "unknown status %q", status)
	}
	if err := r.repo.UpdateStatus(ctx, key, status); err != nil {
		if errors.Is(err, ErrNotFound) {
			return &coreerr.NotFoundError{Resource: "contract", Key: key.String()}
		}
		return err
	}
	return nil
}

func (r *Registry) load(ctx context.Context, kind Kind, ref Ref) (Contract, error) {
	doc, err := r.resolve(ctx, kind, ref)
	if err != nil {
		return nil, err
	}
	c, err := r.parse(doc)
	if err != nil {
		return nil, err
	}
	if err := Gate(c.ContractMeta()); err != nil {
		return nil, err
	}
	return c, nil
}

// resolve finds the document for ref. Without a version it prefers the highest
// usable version and falls back to the highest overall, which the gate then rejects.
func (r *Registry) resolve(ctx context.Context, kind Kind, ref Ref) (*Document, error) {
	if ref.ID == "" {
		return nil, coreerr.NewValidationError("ref", "contract id is required")
	}
	notFound := &coreerr.NotFoundError{Resource: "contract " + string(kind), Key: ref.String()}

	if ref.Version != "" {
		v, err := semver.NewVersion(ref.Version)
		if err != nil {
			return nil, coreerr.NewValidationError("ref", "invalid version %q", ref.Version)
		}
		doc, err := r.repo.Get(ctx, Key{Kind: kind, ID: ref.ID, Version: v.String()})
		if errors.Is(err, ErrNotFound) {
			return nil, notFound
		}
		if err != nil {
			return nil, coreerr.NewStorageError("get contract", err)
		}
		return doc, nil
	}

	docs, err := r.repo.Versions(ctx, kind, ref.ID)
	if err != nil {
		return nil, coreerr.NewStorageError("list contract versions", err)
	}
	if len(docs) == 0 {
		return nil, notFound
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Version.GreaterThan(docs[j].Version) })
	for _, d := range docs {
		if d.Status.Usable() {
			return d, nil
		}
	}
	return docs[0], nil
}

// parse returns the cached contract for doc or parses it. The repository's
// status is authoritative over the status written in the document.
func (r *Registry) parse(doc *Document) (Contract, error) {
	key := fmt.Sprintf("%s#%s#%s", doc.Key(), doc.Fingerprint, doc.Status)
	if c := r.cache.Get(key); c != nil {
		return c, nil
	}

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		if c := r.cache.Get(key); c != nil {
			return c, nil
		}
		c, err := Parse(doc.Definition)
		if err != nil {
			return nil, fmt.Errorf("failed to parse contract %s: %w", doc.Key(), err)
		}
		switch t := c.(type) {
		case *RuleSet:
			t.Status = doc.Status
		case *ViewDefinition:
			t.Status = doc.Status
		case *JoinContract:
			t.Status = doc.Status
		case *IndexContract:
			t.Status = doc.Status
		}
		r.cache.Put(key, c)
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Contract), nil
}

// resolveRefs returns rs with every join and index ref replaced by the referenced
// contract. rs itself is shared and left untouched.
func (r *Registry) resolveRefs(ctx context.Context, rs *RuleSet) (*RuleSet, error) {
	if !rs.hasRefs() {
		return rs, nil
	}

	out := *rs
	out.Slices = make([]SliceDefinition, len(rs.Slices))
	for i, s := range rs.Slices {
		def := s
		def.Joins = make([]JoinSpec, len(s.Joins))
		for k, j := range s.Joins {
			if j.Ref == nil {
				def.Joins[k] = j
				continue
			}
			jc, err := r.LoadJoinSpec(ctx, *j.Ref)
			if err != nil {
				return nil, fmt.Errorf("ruleset %s slice %s: %w", rs.ID, s.Type, err)
			}
			resolved := jc.Spec
			if j.Name != "" {
				resolved.Name = j.Name
			}
			if j.Into != "" {
				resolved.Into = j.Into
			}
			if j.Required {
				resolved.Required = true
			}
			def.Joins[k] = resolved
		}
		out.Slices[i] = def
	}

	out.Indexes = make([]IndexSpec, len(rs.Indexes))
	for i, ix := range rs.Indexes {
		if ix.Ref == nil {
			out.Indexes[i] = ix
			continue
		}
		ic, err := r.LoadIndexSpec(ctx, *ix.Ref)
		if err != nil {
			return nil, fmt.Errorf("ruleset %s index: %w", rs.ID, err)
		}
		out.Indexes[i] = ic.Spec
	}

	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *RuleSet) hasRefs() bool {
	for _, s := range r.Slices {
		for _, j := range s.Joins {
			if j.Ref != nil {
				return true
			}
		}
	}
	for _, ix := range r.Indexes {
		if ix.Ref != nil {
			return true
		}
	}
	return false
}
