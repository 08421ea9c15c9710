package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/corralhq/corral/internal/middleware"
	"github.com/corralhq/corral/internal/services"
	apperrors "github.com/corralhq/corral/pkg/errors"
	"github.com/corralhq/corral/pkg/response"
)

// PermissionHandler exposes grant management endpoints.
type PermissionHandler struct {
	permissions *services.PermissionService
}

type shareRequest struct {
	ResourceID string   `json:"resource_id"`
	Principal  string   `json:"principal"`
	Actions    []string `json:"actions"`
}

// Share handles POST /api/permissions/share.
func (h *PermissionHandler) Share(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	var req shareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.NewBadRequest("invalid request body"))
		return
	}

	grants, err := h.permissions.Share(c.Request.Context(), claims, req.ResourceID, req.Principal, req.Actions)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, grants)
}

// Unshare handles POST /api/permissions/unshare.
func (h *PermissionHandler) Unshare(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	var req shareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.NewBadRequest("invalid request body"))
		return
	}

	grants, err := h.permissions.Unshare(c.Request.Context(), claims, req.ResourceID, req.Principal, req.Actions)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, grants)
}

// Check handles GET /api/permissions/check?resource_id=&action=.
func (h *PermissionHandler) Check(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	resourceID := c.Query("resource_id")
	action := c.Query("action")
	if resourceID == "" || action == "" {
		response.Error(c, apperrors.NewBadRequest("resource_id and action are required"))
		return
	}

	if err := h.permissions.Check(c.Request.Context(), claims, resourceID, action); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"allowed": true})
}

// Get handles GET /api/permissions/resources/:id/principals/:principal.
func (h *PermissionHandler) Get(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	grants, err := h.permissions.Get(c.Request.Context(), claims, c.Param("id"), c.Param("principal"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, grants)
}

// List handles GET /api/permissions/resources/:id.
func (h *PermissionHandler) List(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	grants, err := h.permissions.List(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, grants)
}
