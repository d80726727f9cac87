package fanout

import (
	"net/http"

	httperr "github.com/aevon-lab/sliceflow/internal/core/errors"
	"github.com/gin-gonic/gin"
)

// TriggerRequest starts a fanout for one upstream entity.
type TriggerRequest struct {
	EntityKey  string `json:"entity_key" binding:"required"`
	EntityType string `json:"entity_type"`
	Version    int64  `json:"version"`
}

// RegisterRoutes registers the fanout trigger.
func (w *Workflow) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/fanout/:tenant_id", w.HandleTrigger)
}

// HandleTrigger handles POST /v1/fanout/:tenant_id.
func (w *Workflow) HandleTrigger(c *gin.Context) {
	tenantID := c.Param("tenant_id")

	var req TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid JSON",
			Details:   err.Error(),
		})
		return
	}

	res, err := w.OnEntityChange(c.Request.Context(), tenantID, req.EntityType, req.EntityKey, req.Version)
	if err != nil {
		c.JSON(httperr.Response(err, "Fanout failed"))
		return
	}
	c.JSON(http.StatusOK, res)
}
