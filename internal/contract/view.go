package contract

import (
	coreerr "github.com/aevon-lab/sliceflow/internal/core/errors"
)

// MissingPolicy decides what happens when a required slice is absent.
type MissingPolicy string

const (
	FailClosed     MissingPolicy = "FAIL_CLOSED"
	PartialAllowed MissingPolicy = "PARTIAL_ALLOWED"
)

// FallbackKind decides what replaces an absent slice.
type FallbackKind string

const (
	FallbackNone         FallbackKind = "NONE"
	FallbackDefaultValue FallbackKind = "DEFAULT_VALUE"
)

// PartialPolicy refines PARTIAL_ALLOWED.
type PartialPolicy struct {
	// OptionalOnly restricts partial responses to missing optional slices.
	OptionalOnly bool `json:"optional_only"`
}

// FallbackPolicy supplies substitutes for absent slices.
type FallbackPolicy struct {
	Kind     FallbackKind                      `json:"kind"`
	Defaults map[string]map[string]interface{} `json:"defaults,omitempty"`
}

// ViewDefinition declares which slices compose a view and how gaps are handled.
type ViewDefinition struct {
	Meta

	RequiredSlices []string       `json:"required_slices"`
	OptionalSlices []string       `json:"optional_slices,omitempty"`
	MissingPolicy  MissingPolicy  `json:"missing_policy"`
	PartialPolicy  PartialPolicy  `json:"partial_policy"`
	FallbackPolicy FallbackPolicy `json:"fallback_policy"`

	// IncludeMeta attaches ResponseMeta to assembled results.
	IncludeMeta bool `json:"include_meta"`
}

func (v *ViewDefinition) ContractMeta() Meta { return v.Meta }

// Validate applies policy defaults and checks the definition.
func (v *ViewDefinition) Validate() error {
	if v.MissingPolicy == "" {
		v.MissingPolicy = FailClosed
	}
	if v.FallbackPolicy.Kind == "" {
		v.FallbackPolicy.Kind = FallbackNone
	}

	switch v.MissingPolicy {
	case FailClosed, PartialAllowed:
	default:
		return coreerr.NewValidationError("missingPolicy", "unsupported policy %q", v.MissingPolicy)
	}
	switch v.FallbackPolicy.Kind {
	case FallbackNone, FallbackDefaultValue:
	default:
		return coreerr.NewValidationError("fallbackPolicy.kind", "unsupported fallback %q", v.FallbackPolicy.Kind)
	}

	if len(v.RequiredSlices)+len(v.OptionalSlices) == 0 {
		return coreerr.NewValidationError("requiredSlices", "view %q selects no slices", v.ID)
	}
	seen := make(map[string]bool)
	for _, s := range append(append([]string{}, v.RequiredSlices...), v.OptionalSlices...) {
		if s == "" {
			return coreerr.NewValidationError("requiredSlices", "empty slice type in view %q", v.ID)
		}
		if seen[s] {
			return coreerr.NewValidationError("optionalSlices", "slice %q listed twice in view %q", s, v.ID)
		}
		seen[s] = true
	}
	for s := range v.FallbackPolicy.Defaults {
		if !seen[s] {
			return coreerr.NewValidationError("fallbackPolicy.defaults", "default for unknown slice %q", s)
		}
	}
	return nil
}
