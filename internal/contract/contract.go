// Package contract holds the declarative contracts that drive slicing, joins,
// indexing and view assembly, plus the registry that loads them.
package contract

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	coreerr "github.com/aevon-lab/sliceflow/internal/core/errors"
)

// Status is the lifecycle state of a contract version.
type Status string

const (
	StatusDraft      Status = "DRAFT"
	StatusActive     Status = "ACTIVE"
	StatusDeprecated Status = "DEPRECATED"
	StatusArchived   Status = "ARCHIVED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusActive, StatusDeprecated, StatusArchived:
		return true
	}
	return false
}

// Usable reports whether a contract in this status may be loaded for execution.
func (s Status) Usable() bool {
	return s == StatusActive || s == StatusDeprecated
}

// Kind discriminates the contract variants.
type Kind string

const (
	KindRuleSet        Kind = "RULESET"
	KindViewDefinition Kind = "VIEW_DEFINITION"
	KindJoinSpec       Kind = "JOIN_SPEC"
	KindIndexSpec      Kind = "INDEX_SPEC"
)

// ParseKind accepts the canonical name or its lower-case, dash separated form.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.ReplaceAll(s, "-", "_")))
	switch k {
	case KindRuleSet, KindViewDefinition, KindJoinSpec, KindIndexSpec:
		return k, nil
	}
	return "", coreerr.NewValidationError("kind", "unknown contract kind %q", s)
}

// Meta is the header shared by every contract.
type Meta struct {
	ID          string          `json:"id"`
	Kind        Kind            `json:"kind"`
	Version     *semver.Version `json:"version"`
	Status      Status          `json:"status"`
	Fingerprint string          `json:"fingerprint"`
}

// Ref returns the exact reference of this contract version.
func (m Meta) Ref() Ref {
	return Ref{ID: m.ID, Version: m.Version.String()}
}

// Contract is implemented by *RuleSet, *ViewDefinition, *JoinContract and *IndexContract.
// Loaded contracts are shared through the registry cache and must not be mutated.
type Contract interface {
	ContractMeta() Meta
}

// Ref addresses a contract by id and optional exact version.
// An empty Version selects the highest usable version.
type Ref struct {
	ID      string `json:"id"`
	Version string `json:"version,omitempty"`
}

// ParseRef parses "id" or "id@1.2.3".
func ParseRef(s string) (Ref, error) {
	id, ver, _ := strings.Cut(strings.TrimSpace(s), "@")
	if id == "" {
		return Ref{}, coreerr.NewValidationError("ref", "contract id is required")
	}
	if ver != "" {
		if _, err := semver.NewVersion(ver); err != nil {
			return Ref{}, coreerr.NewValidationError("ref", "invalid version %q in %q", ver, s)
		}
	}
	return Ref{ID: id, Version: ver}, nil
}

func (r Ref) String() string {
	if r.Version == "" {
		return r.ID
	}
	return r.ID + "@" + r.Version
}

// Key identifies one stored contract version.
type Key struct {
	Kind    Kind
	ID      string
	Version string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s@%s", k.Kind, k.ID, k.Version)
}

// ComputeFingerprint returns the SHA-256 of a contract definition.
func ComputeFingerprint(definition []byte) string {
	sum := sha256.Sum256(definition)
	return hex.EncodeToString(sum[:])
}
