package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/corralhq/corral/internal/middleware"
	"github.com/corralhq/corral/internal/services"
	apperrors "github.com/corralhq/corral/pkg/errors"
	"github.com/corralhq/corral/pkg/response"
)

// GroupHandler exposes group management endpoints.
type GroupHandler struct {
	groups *services.GroupService
}

type createGroupRequest struct {
	Name string `json:"name"`
}

// Create handles POST /api/groups.
func (h *GroupHandler) Create(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	var req createGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.NewBadRequest("invalid request body"))
		return
	}

	group, err := h.groups.Create(c.Request.Context(), claims, req.Name)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, group)
}

// Get handles GET /api/groups/:id.
func (h *GroupHandler) Get(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	group, err := h.groups.Get(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, group)
}

// List handles GET /api/groups.
func (h *GroupHandler) List(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	groups, err := h.groups.List(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, groups)
}

// Members handles GET /api/groups/:id/members.
func (h *GroupHandler) Members(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	members, err := h.groups.Members(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, members)
}

type addMemberRequest struct {
	UserID  string `json:"user_id"`
	IsAdmin bool   `json:"is_admin"`
}

// AddMember handles POST /api/groups/:id/members.
func (h *GroupHandler) AddMember(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	var req addMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		response.Error(c, apperrors.NewBadRequest("user_id is required"))
		return
	}

	if err := h.groups.AddMember(c.Request.Context(), claims, c.Param("id"), req.UserID, req.IsAdmin); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"added": true})
}

// RemoveMember handles DELETE /api/groups/:id/members/:userId.
func (h *GroupHandler) RemoveMember(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	if err := h.groups.RemoveMember(c.Request.Context(), claims, c.Param("id"), c.Param("userId")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"removed": true})
}

// Delete handles DELETE /api/groups/:id.
func (h *GroupHandler) Delete(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	if err := h.groups.Delete(c.Request.Context(), claims, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}
