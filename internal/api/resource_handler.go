package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/corralhq/corral/internal/middleware"
	"github.com/corralhq/corral/internal/services"
	apperrors "github.com/corralhq/corral/pkg/errors"
	"github.com/corralhq/corral/pkg/response"
)

// ResourceHandler exposes the catalog CRUD and listing endpoints.
type ResourceHandler struct {
	resources *services.ResourceService
}

// Create handles POST /api/resources.
func (h *ResourceHandler) Create(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	var input services.CreateResourceInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, apperrors.NewBadRequest("invalid request body"))
		return
	}

	resource, err := h.resources.Create(c.Request.Context(), claims, input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, resource)
}

// Get handles GET /api/resources/:id.
func (h *ResourceHandler) Get(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	resource, err := h.resources.Get(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, resource)
}

// Update handles PATCH /api/resources/:id.
func (h *ResourceHandler) Update(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	var input services.UpdateResourceInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, apperrors.NewBadRequest("invalid request body"))
		return
	}

	resource, err := h.resources.Update(c.Request.Context(), claims, c.Param("id"), input, middleware.GetFencingGuard(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, resource)
}

// Delete handles DELETE /api/resources/:id.
func (h *ResourceHandler) Delete(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	err := h.resources.Delete(c.Request.Context(), claims, c.Param("id"), middleware.GetFencingGuard(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// List handles GET /api/resources. Labels come as "k=v" pairs in repeated
// "label" query params; "filter" is a jsonpath predicate, "kind" an exact
// match and "q" a search term.
func (h *ResourceHandler) List(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	labels := make(map[string]string)
	for _, pair := range c.QueryArray("label") {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			response.Error(c, apperrors.NewBadRequest("label filters must be of the form key=value"))
			return
		}
		labels[key] = value
	}

	query := services.ListQuery{
		Labels:   labels,
		JSONPath: c.Query("filter"),
		Kind:     c.Query("kind"),
		Search:   c.Query("q"),
	}

	resources, err := h.resources.List(c.Request.Context(), claims, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, resources)
}
