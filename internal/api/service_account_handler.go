package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/corralhq/corral/internal/middleware"
	"github.com/corralhq/corral/internal/services"
	apperrors "github.com/corralhq/corral/pkg/errors"
	"github.com/corralhq/corral/pkg/response"
)

// ServiceAccountHandler exposes machine-principal management. All routes are
// admin gated in the router.
type ServiceAccountHandler struct {
	accounts *services.ServiceAccountService
}

type createServiceAccountRequest struct {
	Name    string `json:"name"`
	IsAdmin bool   `json:"is_admin"`
}

// Create handles POST /api/service-accounts. The response is the only place
// the generated secret ever appears.
func (h *ServiceAccountHandler) Create(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	var req createServiceAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.NewBadRequest("invalid request body"))
		return
	}

	created, err := h.accounts.Create(c.Request.Context(), claims, req.Name, req.IsAdmin)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, created)
}

// Get handles GET /api/service-accounts/:id.
func (h *ServiceAccountHandler) Get(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	account, err := h.accounts.Get(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, account)
}

// List handles GET /api/service-accounts.
func (h *ServiceAccountHandler) List(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	accounts, err := h.accounts.List(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, accounts)
}

// Delete handles DELETE /api/service-accounts/:id.
func (h *ServiceAccountHandler) Delete(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	if err := h.accounts.Delete(c.Request.Context(), claims, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}
