package v1

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	coreerr "github.com/aevon-lab/sliceflow/internal/core/errors"
)

// DefaultTenantID is applied to records that arrive without a tenant.
const DefaultTenantID = "default"

// NewEntityKey joins an entity type and its id into the "<TYPE>#<id>" form.
// An id that is already a full entity key is returned unchanged.
func NewEntityKey(entityType, id string) string {
	if strings.Contains(id, "#") {
		return id
	}
	return entityType + "#" + id
}

// SplitEntityKey returns the entity type and id of key.
func SplitEntityKey(key string) (entityType, id string, ok bool) {
	i := strings.Index(key, "#")
	if i <= 0 || i == len(key)-1 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}

// RawDataRecord is one immutable, versioned snapshot of an upstream entity.
type RawDataRecord struct {
	TenantID  string `json:"tenant_id"`
	EntityKey string `json:"entity_key"`

	// Version is assigned on ingestion by the process-wide version generator.
	// It strictly increases per (TenantID, EntityKey).
	Version int64 `json:"version"`

	SchemaID      string `json:"schema_id"`
	SchemaVersion string `json:"schema_version"`

	Payload map[string]interface{} `json:"payload"`

	// PayloadHash is the SHA-256 of the canonical JSON payload.
	PayloadHash string `json:"payload_hash,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the caller-supplied attributes and applies the tenant default.
func (r *RawDataRecord) Validate() error {
	if r.TenantID == "" {
		r.TenantID = DefaultTenantID
	}
	if _, _, ok := SplitEntityKey(r.EntityKey); !ok {
		return coreerr.NewValidationError("entity_key", "must have the form TYPE#id, got %q", r.EntityKey)
	}
	if r.SchemaID == "" {
		return coreerr.NewValidationError("schema_id", "is required")
	}
	if _, err := semver.NewVersion(r.SchemaVersion); err != nil {
		return coreerr.NewValidationError("schema_version", "invalid semantic version %q", r.SchemaVersion)
	}
	if r.Payload == nil {
		return coreerr.NewValidationError("payload", "is required")
	}
	return nil
}

// EntityType returns the type prefix of the record's entity key.
func (r *RawDataRecord) EntityType() string {
	t, _, _ := SplitEntityKey(r.EntityKey)
	return t
}

// Slice is a derived, versioned sub-document produced by a RuleSet slice definition.
type Slice struct {
	TenantID  string `json:"tenant_id"`
	EntityKey string `json:"entity_key"`
	SliceType string `json:"slice_type"`

	// Version is freshly generated on every re-slice.
	Version int64 `json:"version"`

	Data map[string]interface{} `json:"data"`

	SourceRawDataVersion int64 `json:"source_raw_data_version"`

	// Hash covers (SliceType, Data) only, so identical inputs hash identically across runs.
	Hash string `json:"hash"`

	RuleSetID      string    `json:"rule_set_id"`
	RuleSetVersion string    `json:"rule_set_version"`
	CreatedAt      time.Time `json:"created_at"`
}

// IndexKind separates direct-lookup rows from reference edges.
type IndexKind string

const (
	IndexForward  IndexKind = "FORWARD"
	IndexInverted IndexKind = "INVERTED"
)

// IndexEntry is one row of the inverted index. For INVERTED entries IndexType is the
// referenced entity type and IndexValue the referenced entity key.
type IndexEntry struct {
	TenantID    string    `json:"tenant_id"`
	IndexType   string    `json:"index_type"`
	IndexValue  string    `json:"index_value"`
	EntityKey   string    `json:"entity_key"`
	Kind        IndexKind `json:"kind"`
	SourceIndex string    `json:"source_index"`
	MaxFanout   int       `json:"max_fanout"`
}

// AggregateType identifies what an outbox entry refers to.
type AggregateType string

const (
	AggregateRawData   AggregateType = "RAW_DATA"
	AggregateSlice     AggregateType = "SLICE"
	AggregateChangeSet AggregateType = "CHANGESET"
)

// OutboxStatus is the delivery state of an outbox entry.
type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "PENDING"
	OutboxProcessing OutboxStatus = "PROCESSING"
	OutboxProcessed  OutboxStatus = "PROCESSED"
	OutboxFailed     OutboxStatus = "FAILED"
	OutboxDLQ        OutboxStatus = "DLQ"
)

// Outbox event types.
const (
	EventRawDataIngested   = "RawDataIngested"
	EventSliceUpdated      = "SliceUpdated"
	EventChangeSetComputed = "ChangeSetComputed"
)

// OutboxEntry is a durable intent to perform one side effect.
type OutboxEntry struct {
	ID            string          `json:"id"`
	AggregateType AggregateType   `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Status        OutboxStatus    `json:"status"`
	RetryCount    int             `json:"retry_count"`
	ClaimedAt     *time.Time      `json:"claimed_at,omitempty"`
	ClaimedBy     *string         `json:"claimed_by,omitempty"`
	Priority      *int            `json:"priority,omitempty"`
	FailureReason *string         `json:"failure_reason,omitempty"`
	NextRetryAt   *time.Time      `json:"next_retry_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
}

// ResponseMeta describes how a view was assembled.
type ResponseMeta struct {
	Complete        bool     `json:"complete"`
	UsedSlices      []string `json:"used_slices"`
	MissingSlices   []string `json:"missing_slices,omitempty"`
	DefaultedSlices []string `json:"defaulted_slices,omitempty"`
}

// ViewResult is the assembled response of a ViewDefinition.
type ViewResult struct {
	ViewID    string                            `json:"view_id"`
	EntityKey string                            `json:"entity_key"`
	Version   int64                             `json:"version"`
	Slices    map[string]map[string]interface{} `json:"slices"`
	Missing   []string                          `json:"missing,omitempty"`
	Meta      *ResponseMeta                     `json:"meta,omitempty"`
}
