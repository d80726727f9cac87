package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const (
	HttpInternalError          = "internal_error"
	HttpInvalidJsonError       = "invalid_json"
	HttpValidationError        = "validation_failed"
	HttpContractStatusError    = "contract_not_usable"
	HttpNotFoundError          = "not_found"
	HttpMissingSliceError      = "missing_slices"
	HttpFanoutLimitError       = "fanout_limit_exceeded"
	HttpStorageError           = "storage_error"
	HttpStaleVersionError      = "stale_version"
	HttpContractReadOnlyError  = "contract_source_read_only"
	HttpOutboxEntryStatusError = "outbox_entry_not_replayable"
)

// ErrorResponse is the error body returned by every HTTP handler.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}

// ValidationError reports malformed input: a bad record, contract or request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on '%s': %s", e.Field, e.Message)
	}
	return "validation failed: " + e.Message
}

// Details surfaces the failing field for API error responses.
func (e *ValidationError) Details() map[string]interface{} {
	if e.Field == "" {
		return nil
	}
	return map[string]interface{}{"field": e.Field}
}

// NewValidationError builds a ValidationError for field with a formatted message.
func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ContractStatusError is returned when a contract is DRAFT or ARCHIVED.
type ContractStatusError struct {
	Kind    string
	ID      string
	Version string
	Status  string
}

func (e *ContractStatusError) Error() string {
	return fmt.Sprintf("contract %s %s@%s is %s and cannot be used", e.Kind, e.ID, e.Version, e.Status)
}

// FanoutLimitExceeded is returned when a join or index lookup would exceed its fan-out bound.
type FanoutLimitExceeded struct {
	Source string
	Count  int
	Limit  int
}

func (e *FanoutLimitExceeded) Error() string {
	return fmt.Sprintf("fanout limit exceeded for %s: %d > %d", e.Source, e.Count, e.Limit)
}

// StorageError wraps an underlying store failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError wraps err unless it is nil.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// NotFoundError is returned when an entity, slice or contract does not exist.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.Key)
}

// MissingSliceError is returned by fail-closed view assembly.
type MissingSliceError struct {
	ViewID    string
	EntityKey string
	Missing   []string
}

func (e *MissingSliceError) Error() string {
	return fmt.Sprintf("view %s for %s is missing slices: %s", e.ViewID, e.EntityKey, strings.Join(e.Missing, ", "))
}

// Details lists the absent slice types.
func (e *MissingSliceError) Details() map[string]interface{} {
	return map[string]interface{}{"missing_slices": e.Missing}
}

// InternalError marks an invariant violation inside the pipeline.
type InternalError struct {
	Message string
	Err     error
}

func (e *InternalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("internal error: %s: %v", e.Message, e.Err)
	}
	return "internal error: " + e.Message
}

func (e *InternalError) Unwrap() error { return e.Err }

// Detailer is implemented by errors that carry structured response details.
type Detailer interface {
	Details() map[string]interface{}
}

// IsNotFound reports whether err is a NotFoundError anywhere in its chain.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsRetryable reports whether an outbox handler failure should be retried.
// Malformed input and unusable contracts will fail the same way on every attempt.
func IsRetryable(err error) bool {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return false
	}
	var cs *ContractStatusError
	return !errors.As(err, &cs)
}

// Response maps err onto an HTTP status and response body.
func Response(err error, message string) (int, ErrorResponse) {
	resp := ErrorResponse{Message: message, Details: err.Error()}
	if d, ok := detailsOf(err); ok {
		resp.Details = d
	}

	var (
		ve *ValidationError
		cs *ContractStatusError
		nf *NotFoundError
		ms *MissingSliceError
		fl *FanoutLimitExceeded
		se *StorageError
	)
	switch {
	case errors.As(err, &ve):
		resp.ErrorType = HttpValidationError
		return http.StatusBadRequest, resp
	case errors.As(err, &cs):
		resp.ErrorType = HttpContractStatusError
		return http.StatusConflict, resp
	case errors.As(err, &ms):
		resp.ErrorType = HttpMissingSliceError
		return http.StatusNotFound, resp
	case errors.As(err, &nf):
		resp.ErrorType = HttpNotFoundError
		return http.StatusNotFound, resp
	case errors.As(err, &fl):
		resp.ErrorType = HttpFanoutLimitError
		return http.StatusUnprocessableEntity, resp
	case errors.As(err, &se):
		resp.ErrorType = HttpStorageError
		return http.StatusServiceUnavailable, resp
	default:
		resp.ErrorType = HttpInternalError
		return http.StatusInternalServerError, resp
	}
}

func detailsOf(err error) (map[string]interface{}, bool) {
	var d Detailer
	if errors.As(err, &d) {
		if m := d.Details(); len(m) > 0 {
			return m, true
		}
	}
	return nil, false
}
