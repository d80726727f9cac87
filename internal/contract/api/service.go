package api

import (
	"github.com/aevon-lab/sliceflow/internal/contract"
	"github.com/gin-gonic/gin"
)

// Service provides the contract inspection and lifecycle API.
type Service struct {
	registry *contract.Registry
}

// NewService creates a new contract API service.
func NewService(reg *contract.Registry) *Service {
	return &Service{registry: reg}
}

// RegisterRoutes registers the contract API routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	handler := NewHandler(s.registry)

	contracts := r.Group("/v1/contracts")
	{
		contracts.GET("", handler.HandleList)
		// /v1/contracts/{kind}/{id}?version=
		contracts.GET("/:kind/:id", handler.HandleGet)
		contracts.PUT("/:kind/:id/:version/status", handler.HandleSetStatus)
	}
}
