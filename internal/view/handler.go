package view

import (
	"net/http"

	"github.com/aevon-lab/sliceflow/internal/contract"
	httperr "github.com/aevon-lab/sliceflow/internal/core/errors"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the view API.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/views/:view_id/:tenant_id/:entity_key", s.HandleAssemble)
}

// HandleAssemble handles GET /v1/views/:view_id/:tenant_id/:entity_key
// view_id may pin a contract version ("product-detail@1.0.0").
// Query parameters: version (raw data version, default latest)
func (s *Service) HandleAssemble(c *gin.Context) {
	var uri struct {
		ViewID    string `uri:"view_id" binding:"required"`
		TenantID  string `uri:"tenant_id" binding:"required"`
		EntityKey string `uri:"entity_key" binding:"required"`
	}
	var query struct {
		Version int64 `form:"version" binding:"min=0"`
	}

	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid path parameters",
			Details:   err.Error(),
		})
		return
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid query parameters",
			Details:   err.Error(),
		})
		return
	}

	ref, err := contract.ParseRef(uri.ViewID)
	if err != nil {
		c.JSON(httperr.Response(err, "Invalid view reference"))
		return
	}

	res, err := s.AssembleRef(c.Request.Context(), ref, uri.TenantID, uri.EntityKey, query.Version)
	if err != nil {
		c.JSON(httperr.Response(err, "Failed to assemble view"))
		return
	}
	c.JSON(http.StatusOK, res)
}
