package contract

import (
	"log/slog"

	coreerr "github.com/aevon-lab/sliceflow/internal/core/errors"
)

// Gate admits ACTIVE and DEPRECATED contracts. DEPRECATED ones are logged;
// DRAFT and ARCHIVED ones are rejected with a ContractStatusError.
func Gate(m Meta) error {
	switch m.Status {
	case StatusActive:
		return nil
	case StatusDeprecated:
		slog.Warn("[ContractGate] Using deprecated contract",
			"kind", m.Kind, "id", m.ID, "version", m.Version.String())
		return nil
	default:
		return &coreerr.ContractStatusError{
			Kind:    string(m.Kind),
			ID:      m.ID,
			Version: m.Version.String(),
			Status:  string(m.Status),
		}
	}
}
