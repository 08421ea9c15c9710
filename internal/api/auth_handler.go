package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/corralhq/corral/internal/services"
	apperrors "github.com/corralhq/corral/pkg/errors"
	"github.com/corralhq/corral/pkg/response"
)

// AuthHandler exposes the credential exchange endpoints.
type AuthHandler struct {
	auth *services.AuthService
}

type loginRequest struct {
	// Password login.
	Email    string `json:"email"`
	Password string `json:"password"`
	// Service-account login.
	Account string `json:"account"`
	Secret  string `json:"secret"`
}

// Login exchanges user or service-account credentials for a token pair.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.NewBadRequest("invalid request body"))
		return
	}

	var (
		pair *services.TokenPair
		err  error
	)
	switch {
	case req.Account != "":
		pair, err = h.auth.LoginServiceAccount(c.Request.Context(), req.Account, req.Secret)
	case req.Email != "":
		pair, err = h.auth.LoginPassword(c.Request.Context(), req.Email, req.Password)
	default:
		response.Error(c, apperrors.NewBadRequest("either email or account credentials are required"))
		return
	}
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh exchanges a refresh token for a new pair.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		response.Error(c, apperrors.NewBadRequest("refresh_token is required"))
		return
	}

	pair, err := h.auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, pair)
}
