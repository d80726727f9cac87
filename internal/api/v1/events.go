package v1

// RawDataIngested is the payload of an EventRawDataIngested outbox entry.
type RawDataIngested struct {
	TenantID  string `json:"tenant_id"`
	EntityKey string `json:"entity_key"`
	Version   int64  `json:"version"`
}

// ChangeSetComputed is the payload of an EventChangeSetComputed outbox entry.
type ChangeSetComputed struct {
	TenantID     string   `json:"tenant_id"`
	EntityKey    string   `json:"entity_key"`
	EntityType   string   `json:"entity_type"`
	FromVersion  int64    `json:"from_version,omitempty"`
	ToVersion    int64    `json:"to_version"`
	ChangedPaths []string `json:"changed_paths,omitempty"`
}

// SliceUpdated is the payload of an EventSliceUpdated outbox entry.
type SliceUpdated struct {
	TenantID  string `json:"tenant_id"`
	EntityKey string `json:"entity_key"`
	SliceType string `json:"slice_type"`
	Version   int64  `json:"version"`
}
