package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	v1 "github.com/aevon-lab/sliceflow/internal/api/v1"
)

type scanner interface {
	Scan(dest ...interface{}) error
}

// marshalDocument encodes a payload or slice body for a JSONB column.
func marshalDocument(what string, doc map[string]interface{}) ([]byte, error) {
	if doc == nil {
		doc = map[string]interface{}{}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", what, err)
	}
	return raw, nil
}

// scanRawData scans rawDataColumns. Compatible with both sql.Row and sql.Rows.
func scanRawData(row scanner) (*v1.RawDataRecord, error) {
	var rec v1.RawDataRecord
	var payload []byte

	err := row.Scan(
		&rec.TenantID,
		&rec.EntityKey,
		&rec.Version,
		&rec.SchemaID,
		&rec.SchemaVersion,
		&payload,
		&rec.PayloadHash,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &rec.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload of %s@%d: %w", rec.EntityKey, rec.Version, err)
	}
	return &rec, nil
}

// scanSlice scans sliceColumns.
func scanSlice(row scanner) (*v1.Slice, error) {
	var s v1.Slice
	var data []byte

	err := row.Scan(
		&s.TenantID,
		&s.EntityKey,
		&s.SliceType,
		&s.Version,
		&data,
		&s.SourceRawDataVersion,
		&s.Hash,
		&s.RuleSetID,
		&s.RuleSetVersion,
		&s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &s.Data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal slice %s/%s@%d: %w", s.EntityKey, s.SliceType, s.Version, err)
	}
	return &s, nil
}

// scanOutbox scans outboxColumns, mapping NULL columns to nil pointers.
func scanOutbox(row scanner) (*v1.OutboxEntry, error) {
	var (
		e             v1.OutboxEntry
		payload       []byte
		claimedAt     sql.NullTime
		claimedBy     sql.NullString
		priority      sql.NullInt64
		failureReason sql.NullString
		nextRetryAt   sql.NullTime
		processedAt   sql.NullTime
	)

	err := row.Scan(
		&e.ID,
		&e.AggregateType,
		&e.AggregateID,
		&e.EventType,
		&payload,
		&e.Status,
		&e.RetryCount,
		&claimedAt,
		&claimedBy,
		&priority,
		&failureReason,
		&nextRetryAt,
		&e.CreatedAt,
		&processedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Payload = json.RawMessage(payload)
	if claimedAt.Valid {
		e.ClaimedAt = &claimedAt.Time
	}
	if claimedBy.Valid {
		e.ClaimedBy = &claimedBy.String
	}
	if priority.Valid {
		p := int(priority.Int64)
		e.Priority = &p
	}
	if failureReason.Valid {
		e.FailureReason = &failureReason.String
	}
	if nextRetryAt.Valid {
		e.NextRetryAt = &nextRetryAt.Time
	}
	if processedAt.Valid {
		e.ProcessedAt = &processedAt.Time
	}
	return &e, nil
}

func nullableInt(p *int) interface{} {
	if p == nil {
		return nil
	}
	return int64(*p)
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
