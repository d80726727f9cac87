package outbox

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	v1 "github.com/aevon-lab/sliceflow/internal/api/v1"
	httperr "github.com/aevon-lab/sliceflow/internal/core/errors"
	"github.com/aevon-lab/sliceflow/internal/core/storage"
	"github.com/gin-gonic/gin"
)

const defaultListLimit = 100

// Admin exposes outbox inspection and DLQ replay over HTTP.
type Admin struct {
	store storage.OutboxStore
}

// NewAdmin creates the outbox admin API.
func NewAdmin(store storage.OutboxStore) *Admin {
	return &Admin{store: store}
}

// RegisterRoutes registers the outbox admin routes.
func (a *Admin) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/outbox", a.HandleList)
	r.GET("/v1/outbox/:id", a.HandleGet)
	r.POST("/v1/outbox/:id/replay", a.HandleReplay)
}

// HandleList handles GET /v1/outbox?status=DLQ&limit=100
func (a *Admin) HandleList(c *gin.Context) {
	status := v1.OutboxStatus(c.DefaultQuery("status", string(v1.OutboxDLQ)))
	switch status {
	case v1.OutboxPending, v1.OutboxProcessing, v1.OutboxProcessed, v1.OutboxFailed, v1.OutboxDLQ:
	default:
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpValidationError,
			Message:   "Invalid status",
			Details:   string(status),
		})
		return
	}

	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
				ErrorType: httperr.HttpValidationError,
				Message:   "Invalid limit",
				Details:   raw,
			})
			return
		}
		limit = n
	}

	entries, err := a.store.ListOutbox(c.Request.Context(), status, limit)
	if err != nil {
		c.JSON(httperr.Response(httperr.NewStorageError("list outbox", err), "Failed to list outbox entries"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  status,
		"entries": entries,
		"count":   len(entries),
	})
}

// HandleGet handles GET /v1/outbox/:id
func (a *Admin) HandleGet(c *gin.Context) {
	entry, err := a.store.GetOutbox(c.Request.Context(), c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, httperr.ErrorResponse{
			ErrorType: httperr.HttpNotFoundError,
			Message:   "Outbox entry not found",
			Details:   c.Param("id"),
		})
		return
	}
	if err != nil {
		c.JSON(httperr.Response(httperr.NewStorageError("get outbox", err), "Failed to load outbox entry"))
		return
	}
	c.JSON(http.StatusOK, entry)
}

// HandleReplay handles POST /v1/outbox/:id/replay. Only DLQ entries can be replayed.
func (a *Admin) HandleReplay(c *gin.Context) {
	id := c.Param("id")
	err := a.store.ReplayOutbox(c.Request.Context(), id)
	switch {
	case err == nil:
		slog.Info("[OutboxAdmin] Replayed DLQ entry with a fresh retry budget", "id", id)
		c.JSON(http.StatusAccepted, gin.H{"id": id, "status": v1.OutboxPending})
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, httperr.ErrorResponse{
			ErrorType: httperr.HttpNotFoundError,
			Message:   "Outbox entry not found",
			Details:   id,
		})
	case errors.Is(err, storage.ErrNotReplayable):
		c.JSON(http.StatusConflict, httperr.ErrorResponse{
			ErrorType: httperr.HttpOutboxEntryStatusError,
			Message:   "Outbox entry is not dead-lettered",
			Details:   id,
		})
	default:
		c.JSON(httperr.Response(httperr.NewStorageError("replay outbox", err), "Failed to replay outbox entry"))
	}
}
