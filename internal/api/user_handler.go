package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/corralhq/corral/internal/middleware"
	"github.com/corralhq/corral/internal/services"
	apperrors "github.com/corralhq/corral/pkg/errors"
	"github.com/corralhq/corral/pkg/response"
	"github.com/corralhq/corral/pkg/validator"
)

// UserHandler exposes user management endpoints.
type UserHandler struct {
	users *services.UserService
}

// Create handles POST /api/users.
func (h *UserHandler) Create(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	var input services.CreateUserInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, apperrors.NewBadRequest("invalid request body"))
		return
	}
	if err := validator.ValidateStruct(input); err != nil {
		response.Error(c, apperrors.NewBadRequest(err.Error()))
		return
	}

	user, err := h.users.Create(c.Request.Context(), claims, input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, user)
}

// Get handles GET /api/users/:id.
func (h *UserHandler) Get(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	user, err := h.users.Get(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

// List handles GET /api/users.
func (h *UserHandler) List(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	users, err := h.users.List(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, users)
}

// Update handles PATCH /api/users/:id.
func (h *UserHandler) Update(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	var input services.UpdateUserInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, apperrors.NewBadRequest("invalid request body"))
		return
	}

	user, err := h.users.Update(c.Request.Context(), claims, c.Param("id"), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

// Delete handles DELETE /api/users/:id.
func (h *UserHandler) Delete(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	if err := h.users.Delete(c.Request.Context(), claims, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}
