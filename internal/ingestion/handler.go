package ingestion

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	v1 "github.com/aevon-lab/sliceflow/internal/api/v1"
	httperr "github.com/aevon-lab/sliceflow/internal/core/errors"
	"github.com/aevon-lab/sliceflow/internal/core/storage"
	"github.com/gin-gonic/gin"
)

const (
	msgReadBodyFailed = "Failed to read request body"
	msgInvalidJSON    = "Invalid JSON body"
	msgPersistFailed  = "Failed to persist raw data"
	msgStaleVersion   = "A newer version of this entity already exists"
)

// IngestRequest is the body of POST /v1/raw-data. Versions are always assigned
// by the service, never by the caller.
type IngestRequest struct {
	TenantID      string                 `json:"tenant_id"`
	EntityKey     string                 `json:"entity_key"`
	SchemaID      string                 `json:"schema_id"`
	SchemaVersion string                 `json:"schema_version"`
	Payload       map[string]interface{} `json:"payload"`
}

// ingestionError carries the structured HTTP error shape from a helper back to the orchestrator.
type ingestionError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *ingestionError) Error() string {
	return e.message
}

// IngestHandler handles POST /v1/raw-data.
func (s *Service) IngestHandler(c *gin.Context) {
	rec, payloadSize, ierr := s.parseRecord(c)
	if ierr != nil {
		writeError(c, ierr)
		return
	}

	slog.Info("[Ingestion] Received raw data",
		"tenant_id", rec.TenantID,
		"entity_key", rec.EntityKey,
		"schema_id", rec.SchemaID,
		"schema_version", rec.SchemaVersion,
		"payload_size", payloadSize)

	res, err := s.Ingest(c.Request.Context(), rec)
	if err != nil {
		writeError(c, persistError(rec, err))
		return
	}

	status := http.StatusAccepted
	if res.Status == StatusUnchanged {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

// GetHandler handles GET /v1/raw-data/:tenant_id/:entity_key?version=.
// Without a version the latest record is returned.
func (s *Service) GetHandler(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	entityKey := c.Param("entity_key")

	var (
		rec *v1.RawDataRecord
		err error
	)
	if raw := c.Query("version"); raw != "" {
		ver, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil || ver <= 0 {
			c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
				ErrorType: httperr.HttpValidationError,
				Message:   "version must be a positive integer",
			})
			return
		}
		rec, err = s.store.GetRawData(c.Request.Context(), tenantID, entityKey, ver)
	} else {
		rec, err = s.store.GetLatestRawData(c.Request.Context(), tenantID, entityKey)
	}

	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, httperr.ErrorResponse{
			ErrorType: httperr.HttpNotFoundError,
			Message:   "Raw data not found",
			Details:   map[string]interface{}{"tenant_id": tenantID, "entity_key": entityKey},
		})
		return
	}
	if err != nil {
		slog.Error("[Ingestion] Failed to load raw data", "error", err, "entity_key", entityKey)
		c.JSON(httperr.Response(httperr.NewStorageError("get raw data", err), "Failed to load raw data"))
		return
	}
	c.JSON(http.StatusOK, rec)
}

// parseRecord reads the size-limited body and binds it into a RawDataRecord.
func (s *Service) parseRecord(c *gin.Context) (*v1.RawDataRecord, int, *ingestionError) {
	maxBytes := int64(s.maxBodySizeBytes)
	limitedBody := io.LimitReader(c.Request.Body, maxBytes+1) // +1 to detect oversized requests

	bodyBytes, err := io.ReadAll(limitedBody)
	if err != nil {
		slog.Error("[Ingestion] Failed to read request body", "error", err)
		return nil, 0, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgReadBodyFailed,
		}
	}

	if int64(len(bodyBytes)) > maxBytes {
		slog.Warn("[Ingestion] Request body exceeds maximum size", "size", len(bodyBytes), "max", maxBytes)
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusRequestEntityTooLarge,
			errorType:  httperr.HttpInvalidJsonError,
			message:    "Request body exceeds maximum allowed size",
			details: map[string]interface{}{
				"max_size_mb": maxBytes / (1024 * 1024),
			},
		}
	}

	c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))

	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.Warn("[Ingestion] Invalid JSON body received", "error", err, "payload_size", len(bodyBytes))
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgInvalidJSON,
		}
	}

	return &v1.RawDataRecord{
		TenantID:      req.TenantID,
		EntityKey:     req.EntityKey,
		SchemaID:      req.SchemaID,
		SchemaVersion: req.SchemaVersion,
		Payload:       req.Payload,
	}, len(bodyBytes), nil
}

// persistError maps an Ingest failure onto the response shape.
func persistError(rec *v1.RawDataRecord, err error) *ingestionError {
	var ve *httperr.ValidationError
	switch {
	case errors.As(err, &ve):
		slog.Warn("[Ingestion] Record validation failed", "error", err, "entity_key", rec.EntityKey)
		ierr := &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpValidationError,
			message:    err.Error(),
		}
		if d := ve.Details(); d != nil {
			ierr.details = d
		}
		return ierr
	case errors.Is(err, storage.ErrStaleVersion):
		slog.Info("[Ingestion] Stale version rejected", "entity_key", rec.EntityKey, "version", rec.Version)
		return &ingestionError{
			statusCode: http.StatusConflict,
			errorType:  httperr.HttpStaleVersionError,
			message:    msgStaleVersion,
		}
	}

	slog.Error("[Ingestion] Failed to persist raw data", "error", err, "entity_key", rec.EntityKey)
	status, resp := httperr.Response(err, msgPersistFailed)
	return &ingestionError{
		statusCode: status,
		errorType:  resp.ErrorType,
		message:    msgPersistFailed,
	}
}

// writeError serializes an ingestionError as the JSON HTTP response.
func writeError(c *gin.Context, err *ingestionError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}
