package slicing

import (
	"net/http"

	"github.com/aevon-lab/sliceflow/internal/contract"
	httperr "github.com/aevon-lab/sliceflow/internal/core/errors"
	"github.com/gin-gonic/gin"
)

// TriggerRequest is the optional body of a slicing trigger.
type TriggerRequest struct {
	Version    int64    `json:"version"`
	RuleSet    string   `json:"ruleset"` // "id" or "id@version"
	SliceTypes []string `json:"slice_types"`
}

// RegisterRoutes registers the slicing trigger.
func (w *Workflow) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/slicing/:tenant_id/:entity_key", w.HandleTrigger)
}

// HandleTrigger handles POST /v1/slicing/:tenant_id/:entity_key.
// The entity key must be URL encoded ("PRODUCT%23p1").
func (w *Workflow) HandleTrigger(c *gin.Context) {
	var uri struct {
		TenantID  string `uri:"tenant_id" binding:"required"`
		EntityKey string `uri:"entity_key" binding:"required"`
	}
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid path parameters",
			Details:   err.Error(),
		})
		return
	}

	var req TriggerRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
				ErrorType: httperr.HttpInvalidJsonError,
				Message:   "Invalid JSON",
				Details:   err.Error(),
			})
			return
		}
	}

	var ref *contract.Ref
	if req.RuleSet != "" {
		parsed, err := contract.ParseRef(req.RuleSet)
		if err != nil {
			c.JSON(httperr.Response(err, "Invalid ruleset reference"))
			return
		}
		ref = &parsed
	}

	out, err := w.ExecuteTypes(c.Request.Context(), uri.TenantID, uri.EntityKey, req.Version, ref, req.SliceTypes)
	if err != nil {
		c.JSON(httperr.Response(err, "Slicing failed"))
		return
	}

	status := http.StatusOK
	if out.Err() != nil {
		status = http.StatusMultiStatus
	}
	c.JSON(status, out)
}
