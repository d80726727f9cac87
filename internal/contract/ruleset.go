package contract

import (
	"github.com/aevon-lab/sliceflow/internal/core/document"
	coreerr "github.com/aevon-lab/sliceflow/internal/core/errors"
)

// DefaultMaxFanout bounds join and index fan-out when a spec leaves it unset.
const DefaultMaxFanout = 10000

// RuleSet declares how one entity type is cut into slices and indexed.
type RuleSet struct {
	Meta

	EntityType string            `json:"entity_type"`
	Slices     []SliceDefinition `json:"slices"`
	Indexes    []IndexSpec       `json:"indexes,omitempty"`

	// ImpactMap maps a slice type to the payload paths it depends on.
	// An empty map means every change recomputes every slice.
	ImpactMap map[string][]string `json:"impact_map,omitempty"`
}

func (r *RuleSet) ContractMeta() Meta { return r.Meta }

// SliceTypes lists the slice types in declaration order.
func (r *RuleSet) SliceTypes() []string {
	types := make([]string, len(r.Slices))
	for i, s := range r.Slices {
		types[i] = s.Type
	}
	return types
}

// SliceDefinition describes one slice type of a RuleSet.
type SliceDefinition struct {
	Type  string     `json:"type"`
	Build BuildRule  `json:"build"`
	Joins []JoinSpec `json:"joins,omitempty"`
}

// BuildRule shapes slice data from the raw payload. The variants are
// PassThrough and MapFields; the set is closed.
type BuildRule interface {
	buildRule()
}

// PassThrough copies the listed payload paths unchanged. "*" copies every top-level field.
type PassThrough struct {
	Fields []string `json:"fields"`
}

func (PassThrough) buildRule() {}

// FieldMapping copies Source to Target.
type FieldMapping struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// MapFields copies payload paths to renamed targets, in order.
type MapFields struct {
	Mappings []FieldMapping `json:"mappings"`
}

func (MapFields) buildRule() {}

// Cardinality is the relationship between source and join target.
type Cardinality string

const (
	OneToOne   Cardinality = "ONE_TO_ONE"
	OneToMany  Cardinality = "ONE_TO_MANY"
	ManyToOne  Cardinality = "MANY_TO_ONE"
	ManyToMany Cardinality = "MANY_TO_MANY"
)

// Many reports whether the join resolves to a list of targets.
func (c Cardinality) Many() bool {
	return c == OneToMany || c == ManyToMany
}

func (c Cardinality) valid() bool {
	switch c {
	case OneToOne, OneToMany, ManyToOne, ManyToMany:
		return true
	}
	return false
}

// JoinSpec resolves related entities into a slice.
type JoinSpec struct {
	Name string `json:"name"`

	// Ref names a standalone JOIN_SPEC contract. The registry replaces the
	// spec with the referenced one when the RuleSet is loaded.
	Ref *Ref `json:"ref,omitempty"`

	TargetEntityType string `json:"target_entity_type"`

	// JoinPath is the source document path holding the target key(s).
	JoinPath string `json:"join_path"`

	// TargetSliceType selects the target's latest slice; empty joins its raw data.
	TargetSliceType string `json:"target_slice_type,omitempty"`

	Cardinality Cardinality `json:"cardinality"`

	// Into is where the resolved target(s) land in the slice; defaults to Name.
	Into string `json:"into,omitempty"`

	// Fields projects the target document; empty or "*" keeps everything.
	Fields []string `json:"fields,omitempty"`

	Required  bool `json:"required,omitempty"`
	MaxFanout int  `json:"max_fanout,omitempty"`
}

// Destination returns the path the join result is written to.
func (j *JoinSpec) Destination() string {
	if j.Into != "" {
		return j.Into
	}
	return j.Name
}

// Validate checks a resolved (non-ref) join.
func (j *JoinSpec) Validate() error {
	if j.Name == "" {
		return coreerr.NewValidationError("joins.name", "is required")
	}
	if j.TargetEntityType == "" {
		return coreerr.NewValidationError("joins.targetEntityType", "is required for join %q", j.Name)
	}
	if j.JoinPath == "" {
		return coreerr.NewValidationError("joins.joinPath", "is required for join %q", j.Name)
	}
	if !j.Cardinality.valid() {
		return coreerr.NewValidationError("joins.cardinality", "unsupported cardinality %q for join %q", j.Cardinality, j.Name)
	}
	if j.MaxFanout < 0 {
		return coreerr.NewValidationError("joins.maxFanout", "must be >= 0 for join %q", j.Name)
	}
	return nil
}

// IndexSpec declares a forward index and, when References is set, inverted
// edges from the referenced entity back to the owning entity.
type IndexSpec struct {
	Ref *Ref `json:"ref,omitempty"`

	Type       string `json:"type"`
	Selector   string `json:"selector"`
	References string `json:"references,omitempty"`
	MaxFanout  int    `json:"max_fanout,omitempty"`
}

// EffectiveMaxFanout applies DefaultMaxFanout to an unset bound.
func (s *IndexSpec) EffectiveMaxFanout() int {
	if s.MaxFanout > 0 {
		return s.MaxFanout
	}
	return DefaultMaxFanout
}

// Validate checks a resolved (non-ref) index spec.
func (s *IndexSpec) Validate() error {
	if s.Type == "" {
		return coreerr.NewValidationError("indexes.type", "is required")
	}
	if s.Selector == "" {
		return coreerr.NewValidationError("indexes.selector", "is required for index %q", s.Type)
	}
	if s.MaxFanout < 0 {
		return coreerr.NewValidationError("indexes.maxFanout", "must be >= 0 for index %q", s.Type)
	}
	return nil
}

// JoinFanoutLimit returns the bound for join j: its own MaxFanout, else the
// bound of an index referencing the same entity type, else DefaultMaxFanout.
func (r *RuleSet) JoinFanoutLimit(j *JoinSpec) int {
	if j.MaxFanout > 0 {
		return j.MaxFanout
	}
	for i := range r.Indexes {
		if r.Indexes[i].References == j.TargetEntityType && r.Indexes[i].MaxFanout > 0 {
			return r.Indexes[i].MaxFanout
		}
	}
	return DefaultMaxFanout
}

// Validate checks the structure of a RuleSet. Joins and indexes that are
// still unresolved refs are skipped.
func (r *RuleSet) Validate() error {
	if r.EntityType == "" {
		return coreerr.NewValidationError("entityType", "is required for ruleset %q", r.ID)
	}
	if len(r.Slices) == 0 {
		return coreerr.NewValidationError("slices", "ruleset %q declares no slices", r.ID)
	}

	seen := make(map[string]bool, len(r.Slices))
	for _, s := range r.Slices {
		if s.Type == "" {
			return coreerr.NewValidationError("slices.type", "is required in ruleset %q", r.ID)
		}
		if seen[s.Type] {
			return coreerr.NewValidationError("slices.type", "duplicate slice type %q", s.Type)
		}
		seen[s.Type] = true

		switch b := s.Build.(type) {
		case PassThrough:
			if len(b.Fields) == 0 {
				return coreerr.NewValidationError("slices.build.passThrough", "slice %q selects no fields", s.Type)
			}
		case MapFields:
			if len(b.Mappings) == 0 {
				return coreerr.NewValidationError("slices.build.mapFields", "slice %q maps no fields", s.Type)
			}
			for _, m := range b.Mappings {
				if m.Source == "" || m.Target == "" || m.Target == document.Wildcard {
					return coreerr.NewValidationError("slices.build.mapFields", "slice %q has an incomplete mapping", s.Type)
				}
			}
		default:
			return coreerr.NewValidationError("slices.build", "slice %q has no build rule", s.Type)
		}

		names := make(map[string]bool, len(s.Joins))
		for i := range s.Joins {
			j := &s.Joins[i]
			if j.Ref != nil && j.TargetEntityType == "" {
				continue
			}
			if err := j.Validate(); err != nil {
				return err
			}
			if names[j.Name] {
				return coreerr.NewValidationError("joins.name", "duplicate join %q in slice %q", j.Name, s.Type)
			}
			names[j.Name] = true
		}
	}

	indexTypes := make(map[string]bool, len(r.Indexes))
	for i := range r.Indexes {
		ix := &r.Indexes[i]
		if ix.Ref != nil && ix.Type == "" {
			continue
		}
		if err := ix.Validate(); err != nil {
			return err
		}
		if indexTypes[ix.Type] {
			return coreerr.NewValidationError("indexes.type", "duplicate index %q", ix.Type)
		}
		indexTypes[ix.Type] = true
	}

	for sliceType := range r.ImpactMap {
		if !seen[sliceType] {
			return coreerr.NewValidationError("impactMap", "unknown slice type %q", sliceType)
		}
	}
	return nil
}

// JoinContract is a standalone JOIN_SPEC contract.
type JoinContract struct {
	Meta
	Spec JoinSpec `json:"spec"`
}

func (j *JoinContract) ContractMeta() Meta { return j.Meta }

// IndexContract is a standalone INDEX_SPEC contract.
type IndexContract struct {
	Meta
	Spec IndexSpec `json:"spec"`
}

func (i *IndexContract) ContractMeta() Meta { return i.Meta }
