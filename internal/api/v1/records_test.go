package v1

import (
	"errors"
	"testing"

	coreerr "github.com/aevon-lab/sliceflow/internal/core/errors"
)

func TestRawDataRecord_Validation(t *testing.T) {
	tests := []struct {
		name      string
		record    RawDataRecord
		wantField string
		checkFn   func(*testing.T, *RawDataRecord)
	}{
		{
			name: "valid record",
			record: RawDataRecord{
				TenantID:      "t1",
				EntityKey:     "PRODUCT#p1",
				SchemaID:      "product",
				SchemaVersion: "1.0.0",
				Payload:       map[string]interface{}{"name": "Lamp"},
			},
		},
		{
			name: "tenant defaults",
			record: RawDataRecord{
				EntityKey:     "BRAND#b1",
				SchemaID:      "brand",
				SchemaVersion: "2.1.0",
				Payload:       map[string]interface{}{},
			},
			checkFn: func(t *testing.T, r *RawDataRecord) {
				if r.TenantID != DefaultTenantID {
					t.Errorf("TenantID should default to %q, got %q", DefaultTenantID, r.TenantID)
				}
			},
		},
		{
			name:      "entity key without type",
			record:    RawDataRecord{EntityKey: "p1", SchemaID: "product", SchemaVersion: "1.0.0", Payload: map[string]interface{}{}},
			wantField: "entity_key",
		},
		{
			name:      "missing schema id",
			record:    RawDataRecord{EntityKey: "PRODUCT#p1", SchemaVersion: "1.0.0", Payload: map[string]interface{}{}},
			wantField: "schema_id",
		},
		{
			name:      "bad schema version",
			record:    RawDataRecord{EntityKey: "PRODUCT#p1", SchemaID: "product", SchemaVersion: "one", Payload: map[string]interface{}{}},
			wantField: "schema_version",
		},
		{
			name:      "missing payload",
			record:    RawDataRecord{EntityKey: "PRODUCT#p1", SchemaID: "product", SchemaVersion: "1.0.0"},
			wantField: "payload",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.record.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				if tt.checkFn != nil {
					tt.checkFn(t, &tt.record)
				}
				return
			}

			var ve *coreerr.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Validate() error = %v, want ValidationError", err)
			}
			if ve.Field != tt.wantField {
				t.Errorf("ValidationError.Field = %q, want %q", ve.Field, tt.wantField)
			}
		})
	}
}

func TestEntityKey(t *testing.T) {
	if got := NewEntityKey("BRAND", "b1"); got != "BRAND#b1" {
		t.Errorf("NewEntityKey() = %q", got)
	}
	if got := NewEntityKey("BRAND", "BRAND#b1"); got != "BRAND#b1" {
		t.Errorf("NewEntityKey() should keep a full key, got %q", got)
	}

	typ, id, ok := SplitEntityKey("PRODUCT#p#1")
	if !ok || typ != "PRODUCT" || id != "p#1" {
		t.Errorf("SplitEntityKey() = %q, %q, %v", typ, id, ok)
	}
	for _, bad := range []string{"", "#p1", "PRODUCT#", "PRODUCT"} {
		if _, _, ok := SplitEntityKey(bad); ok {
			t.Errorf("SplitEntityKey(%q) should fail", bad)
		}
	}
}
