package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/corralhq/corral/internal/middleware"
	"github.com/corralhq/corral/internal/services"
	apperrors "github.com/corralhq/corral/pkg/errors"
	"github.com/corralhq/corral/pkg/response"
)

// SchemaHandler exposes the schema registry endpoints.
type SchemaHandler struct {
	schemas *services.SchemaService
}

type createSchemaRequest struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// Create handles POST /api/schemas.
func (h *SchemaHandler) Create(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	var req createSchemaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.NewBadRequest("invalid request body"))
		return
	}

	schema, err := h.schemas.Create(c.Request.Context(), claims, req.Kind, req.Data)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, schema)
}

// Get handles GET /api/schemas/:id.
func (h *SchemaHandler) Get(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	schema, err := h.schemas.Get(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, schema)
}

// List handles GET /api/schemas.
func (h *SchemaHandler) List(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	schemas, err := h.schemas.List(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, schemas)
}

type updateSchemaRequest struct {
	Data json.RawMessage `json:"data"`
}

// Update handles PATCH /api/schemas/:id.
func (h *SchemaHandler) Update(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	var req updateSchemaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.NewBadRequest("invalid request body"))
		return
	}

	schema, err := h.schemas.Update(c.Request.Context(), claims, c.Param("id"), req.Data)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, schema)
}

// Delete handles DELETE /api/schemas/:id.
func (h *SchemaHandler) Delete(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	if err := h.schemas.Delete(c.Request.Context(), claims, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}
