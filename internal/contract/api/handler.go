package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/Masterminds/semver/v3"
	"github.com/aevon-lab/sliceflow/internal/contract"
	httperr "github.com/aevon-lab/sliceflow/internal/core/errors"
	"github.com/gin-gonic/gin"
	"gopkg.in/yaml.v3"
)

// Handler handles contract HTTP requests.
type Handler struct {
	registry *contract.Registry
}

// NewHandler creates a new contract API handler.
func NewHandler(reg *contract.Registry) *Handler {
	return &Handler{registry: reg}
}

// ContractResponse is the response body of GET /v1/contracts/{kind}/{id}.
// Definition holds the YAML document decoded into JSON-compatible data.
type ContractResponse struct {
	contract.Meta
	Definition interface{} `json:"definition"`
}

// SetStatusRequest is the request body for PUT /v1/contracts/{kind}/{id}/{version}/status.
type SetStatusRequest struct {
	Status contract.Status `json:"status"`
}

// HandleList handles GET /v1/contracts?kind=.
func (h *Handler) HandleList(c *gin.Context) {
	var kind contract.Kind
	if raw := c.Query("kind"); raw != "" {
		k, err := contract.ParseKind(raw)
		if err != nil {
			c.JSON(httperr.Response(err, "Invalid contract kind"))
			return
		}
		kind = k
	}

	metas, err := h.registry.List(c.Request.Context(), kind)
	if err != nil {
		slog.Error("[ContractAPI] Contract list error", "error", err)
		c.JSON(httperr.Response(err, "Failed to list contracts"))
		return
	}
	c.JSON(http.StatusOK, metas)
}

// HandleGet handles GET /v1/contracts/{kind}/{id}. Without a version the
// highest usable version is returned.
func (h *Handler) HandleGet(c *gin.Context) {
	kind, err := contract.ParseKind(c.Param("kind"))
	if err != nil {
		c.JSON(httperr.Response(err, "Invalid contract kind"))
		return
	}
	ref, err := contract.ParseRef(c.Param("id") + versionSuffix(c.Query("version")))
	if err != nil {
		c.JSON(httperr.Response(err, "Invalid contract reference"))
		return
	}

	doc, err := h.registry.Document(c.Request.Context(), kind, ref)
	if err != nil {
		c.JSON(httperr.Response(err, "Contract not found"))
		return
	}

	var parsed map[string]interface{}
	if err := yaml.Unmarshal(doc.Definition, &parsed); err != nil {
		slog.Error("[ContractAPI] Contract conversion error", "error", err, "contract", doc.Key())
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to convert contract definition",
		})
		return
	}

	c.JSON(http.StatusOK, ContractResponse{
		Meta: contract.Meta{
			ID:          doc.ID,
			Kind:        doc.Kind,
			Version:     doc.Version,
			Status:      doc.Status,
			Fingerprint: doc.Fingerprint,
		},
		Definition: parsed,
	})
}

// HandleSetStatus handles PUT /v1/contracts/{kind}/{id}/{version}/status.
func (h *Handler) HandleSetStatus(c *gin.Context) {
	kind, err := contract.ParseKind(c.Param("kind"))
	if err != nil {
		c.JSON(httperr.Response(err, "Invalid contract kind"))
		return
	}
	ref, err := contract.ParseRef(c.Param("id") + versionSuffix(c.Param("version")))
	if err != nil {
		c.JSON(httperr.Response(err, "Invalid contract reference"))
		return
	}

	var req SetStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid JSON body",
		})
		return
	}

	v, err := semver.NewVersion(ref.Version)
	if err != nil {
		c.JSON(httperr.Response(httperr.NewValidationError("version", "invalid version %q", ref.Version), "Invalid contract reference"))
		return
	}
	key := contract.Key{Kind: kind, ID: ref.ID, Version: v.String()}
	if err := h.registry.SetStatus(c.Request.Context(), key, req.Status); err != nil {
		if errors.Is(err, contract.ErrReadOnly) {
			c.JSON(http.StatusMethodNotAllowed, httperr.ErrorResponse{
				ErrorType: httperr.HttpContractReadOnlyError,
				Message:   "Contract source is read-only",
				Details:   err.Error(),
			})
			return
		}
		c.JSON(httperr.Response(err, "Failed to update contract status"))
		return
	}

	slog.Info("[ContractAPI] Contract status changed", "contract", key.String(), "status", req.Status)
	c.JSON(http.StatusOK, gin.H{"kind": kind, "id": key.ID, "version": key.Version, "status": req.Status})
}

func versionSuffix(v string) string {
	if v == "" {
		return ""
	}
	return "@" + v
}
