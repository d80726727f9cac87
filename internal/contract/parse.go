package contract

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	coreerr "github.com/aevon-lab/sliceflow/internal/core/errors"
	"gopkg.in/yaml.v3"
)

// rawHeader is the on-disk header shared by every contract document.
type rawHeader struct {
	Kind    string `yaml:"kind"`
	ID      string `yaml:"id"`
	Version string `yaml:"version"`
	Status  string `yaml:"status"`
}

type rawMapping struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

type rawBuild struct {
	PassThrough []string     `yaml:"passThrough"`
	MapFields   []rawMapping `yaml:"mapFields"`
}

type rawJoin struct {
	Ref              string   `yaml:"ref"`
	Name             string   `yaml:"name"`
	TargetEntityType string   `yaml:"targetEntityType"`
	JoinPath         string   `yaml:"joinPath"`
	TargetSliceType  string   `yaml:"targetSliceType"`
	Cardinality      string   `yaml:"cardinality"`
	Into             string   `yaml:"into"`
	Fields           []string `yaml:"fields"`
	Required         bool     `yaml:"required"`
	MaxFanout        int      `yaml:"maxFanout"`
}

type rawIndex struct {
	Ref        string `yaml:"ref"`
	Type       string `yaml:"type"`
	Selector   string `yaml:"selector"`
	References string `yaml:"references"`
	MaxFanout  int    `yaml:"maxFanout"`
}

type rawSlice struct {
	Type  string    `yaml:"type"`
	Build rawBuild  `yaml:"build"`
	Joins []rawJoin `yaml:"joins"`
}

type rawRuleSet struct {
	rawHeader  `yaml:",inline"`
	EntityType string              `yaml:"entityType"`
	Slices     []rawSlice          `yaml:"slices"`
	Indexes    []rawIndex          `yaml:"indexes"`
	ImpactMap  map[string][]string `yaml:"impactMap"`
}

type rawView struct {
	rawHeader      `yaml:",inline"`
	RequiredSlices []string `yaml:"requiredSlices"`
	OptionalSlices []string `yaml:"optionalSlices"`
	MissingPolicy  string   `yaml:"missingPolicy"`
	PartialPolicy  struct {
		OptionalOnly bool `yaml:"optionalOnly"`
	} `yaml:"partialPolicy"`
	FallbackPolicy struct {
		Kind     string                            `yaml:"kind"`
		Defaults map[string]map[string]interface{} `yaml:"defaults"`
	} `yaml:"fallbackPolicy"`
	IncludeMeta bool `yaml:"includeMeta"`
}

type rawJoinContract struct {
	rawHeader `yaml:",inline"`
	Spec      rawJoin `yaml:"spec"`
}

type rawIndexContract struct {
	rawHeader `yaml:",inline"`
	Spec      rawIndex `yaml:"spec"`
}

// Header is the identifying part of a contract document, readable without a full parse.
type Header struct {
	Kind    Kind
	ID      string
	Version *semver.Version
	Status  Status
}

// Key returns the storage key of the document.
func (h Header) Key() Key {
	return Key{Kind: h.Kind, ID: h.ID, Version: h.Version.String()}
}

// ReadHeader decodes and validates only the header of a contract document.
func ReadHeader(data []byte) (Header, error) {
	var raw rawHeader
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Header{}, coreerr.NewValidationError("", "malformed contract document: %v", err)
	}
	return raw.header()
}

func (h rawHeader) header() (Header, error) {
	kind, err := ParseKind(h.Kind)
	if err != nil {
		return Header{}, err
	}
	if h.ID == "" {
		return Header{}, coreerr.NewValidationError("id", "is required")
	}
	ver, err := semver.NewVersion(h.Version)
	if err != nil {
		return Header{}, coreerr.NewValidationError("version", "invalid semantic version %q for %s", h.Version, h.ID)
	}
	status := Status(strings.ToUpper(h.Status))
	if status == "" {
		status = StatusDraft
	}
	if !status.Valid() {
		return Header{}, coreerr.NewValidationError("status", "unknown status %q for %s", h.Status, h.ID)
	}
	return Header{Kind: kind, ID: h.ID, Version: ver, Status: status}, nil
}

// Parse decodes a YAML contract document into its typed variant and validates it.
func Parse(data []byte) (Contract, error) {
	h, err := ReadHeader(data)
	if err != nil {
		return nil, err
	}
	meta := Meta{
		ID:          h.ID,
		Kind:        h.Kind,
		Version:     h.Version,
		Status:      h.Status,
		Fingerprint: ComputeFingerprint(data),
	}

	switch h.Kind {
	case KindRuleSet:
		var raw rawRuleSet
		if err := decode(data, &raw); err != nil {
			return nil, err
		}
		rs, err := raw.ruleSet(meta)
		if err != nil {
			return nil, err
		}
		if err := rs.Validate(); err != nil {
			return nil, err
		}
		return rs, nil

	case KindViewDefinition:
		var raw rawView
		if err := decode(data, &raw); err != nil {
			return nil, err
		}
		v := &ViewDefinition{
			Meta:           meta,
			RequiredSlices: raw.RequiredSlices,
			OptionalSlices: raw.OptionalSlices,
			MissingPolicy:  MissingPolicy(strings.ToUpper(raw.MissingPolicy)),
			PartialPolicy:  PartialPolicy{OptionalOnly: raw.PartialPolicy.OptionalOnly},
			FallbackPolicy: FallbackPolicy{
				Kind:     FallbackKind(strings.ToUpper(raw.FallbackPolicy.Kind)),
				Defaults: raw.FallbackPolicy.Defaults,
			},
			IncludeMeta: raw.IncludeMeta,
		}
		if err := v.Validate(); err != nil {
			return nil, err
		}
		return v, nil

	case KindJoinSpec:
		var raw rawJoinContract
		if err := decode(data, &raw); err != nil {
			return nil, err
		}
		if raw.Spec.Ref != "" {
			return nil, coreerr.NewValidationError("spec.ref", "join spec %s cannot reference another contract", h.ID)
		}
		if raw.Spec.Name == "" {
			raw.Spec.Name = h.ID
		}
		spec, err := raw.Spec.joinSpec()
		if err != nil {
			return nil, err
		}
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		return &JoinContract{Meta: meta, Spec: spec}, nil

	case KindIndexSpec:
		var raw rawIndexContract
		if err := decode(data, &raw); err != nil {
			return nil, err
		}
		if raw.Spec.Ref != "" {
			return nil, coreerr.NewValidationError("spec.ref", "index spec %s cannot reference another contract", h.ID)
		}
		if raw.Spec.Type == "" {
			raw.Spec.Type = h.ID
		}
		spec, err := raw.Spec.indexSpec()
		if err != nil {
			return nil, err
		}
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		return &IndexContract{Meta: meta, Spec: spec}, nil
	}
	return nil, fmt.Errorf("unhandled contract kind %q", h.Kind)
}

func decode(data []byte, out interface{}) error {
	if err := yaml.Unmarshal(data, out); err != nil {
		return coreerr.NewValidationError("", "malformed contract document: %v", err)
	}
	return nil
}

func (raw *rawRuleSet) ruleSet(meta Meta) (*RuleSet, error) {
	rs := &RuleSet{
		Meta:       meta,
		EntityType: raw.EntityType,
		ImpactMap:  raw.ImpactMap,
	}

	for _, s := range raw.Slices {
		def := SliceDefinition{Type: s.Type}
		switch {
		case len(s.Build.PassThrough) > 0 && len(s.Build.MapFields) > 0:
			return nil, coreerr.NewValidationError("slices.build", "slice %q declares both passThrough and mapFields", s.Type)
		case len(s.Build.PassThrough) > 0:
			def.Build = PassThrough{Fields: s.Build.PassThrough}
		case len(s.Build.MapFields) > 0:
			mappings := make([]FieldMapping, len(s.Build.MapFields))
			for i, m := range s.Build.MapFields {
				mappings[i] = FieldMapping{Source: m.From, Target: m.To}
			}
			def.Build = MapFields{Mappings: mappings}
		}

		for _, j := range s.Joins {
			spec, err := j.joinSpec()
			if err != nil {
				return nil, err
			}
			def.Joins = append(def.Joins, spec)
		}
		rs.Slices = append(rs.Slices, def)
	}

	for _, ix := range raw.Indexes {
		spec, err := ix.indexSpec()
		if err != nil {
			return nil, err
		}
		rs.Indexes = append(rs.Indexes, spec)
	}
	return rs, nil
}

func (j rawJoin) joinSpec() (JoinSpec, error) {
	spec := JoinSpec{
		Name:             j.Name,
		TargetEntityType: j.TargetEntityType,
		JoinPath:         j.JoinPath,
		TargetSliceType:  j.TargetSliceType,
		Cardinality:      Cardinality(strings.ToUpper(j.Cardinality)),
		Into:             j.Into,
		Fields:           j.Fields,
		Required:         j.Required,
		MaxFanout:        j.MaxFanout,
	}
	if j.Ref != "" {
		ref, err := ParseRef(j.Ref)
		if err != nil {
			return JoinSpec{}, err
		}
		spec.Ref = &ref
	}
	return spec, nil
}

func (ix rawIndex) indexSpec() (IndexSpec, error) {
	spec := IndexSpec{
		Type:       ix.Type,
		Selector:   ix.Selector,
		References: ix.References,
		MaxFanout:  ix.MaxFanout,
	}
	if ix.Ref != "" {
		ref, err := ParseRef(ix.Ref)
		if err != nil {
			return IndexSpec{}, err
		}
		spec.Ref = &ref
	}
	return spec, nil
}
