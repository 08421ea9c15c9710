package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/corralhq/corral/internal/middleware"
	"github.com/corralhq/corral/internal/services"
	apperrors "github.com/corralhq/corral/pkg/errors"
	"github.com/corralhq/corral/pkg/logger"
	"github.com/corralhq/corral/pkg/response"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// EventHandler exposes the event log and the live subscription stream.
type EventHandler struct {
	events *services.EventService
}

type publishRequest struct {
	ResourceID   string            `json:"resource_id"`
	ResourceKind string            `json:"resource_kind"`
	EventType    string            `json:"event_type"`
	Data         json.RawMessage   `json:"data"`
	Labels       map[string]string `json:"labels"`
}

// Publish handles POST /api/events. Admin only, enforced by the service.
func (h *EventHandler) Publish(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	var req publishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.NewBadRequest("invalid request body"))
		return
	}

	event, err := h.events.Publish(c.Request.Context(), claims, services.PublishInput{
		ResourceID:   req.ResourceID,
		ResourceKind: req.ResourceKind,
		EventType:    req.EventType,
		Data:         req.Data,
		Labels:       req.Labels,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, event)
}

// List handles GET /api/events?after=&limit=.
func (h *EventHandler) List(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	after, _ := strconv.ParseInt(c.Query("after"), 10, 64)
	limit, _ := strconv.Atoi(c.Query("limit"))

	events, err := h.events.List(c.Request.Context(), claims, after, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, events)
}

// Subscribe handles GET /api/events/subscribe, upgrading to a websocket that
// streams matching events until the client disconnects.
func (h *EventHandler) Subscribe(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	filters := services.SubscribeFilters{
		ResourceID:   c.Query("resource_id"),
		ResourceKind: c.Query("kind"),
		EventType:    c.Query("event_type"),
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.WithModule("api.events").Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := contextWithConnClose(c, conn)
	defer cancel()

	feed, err := h.events.Subscribe(ctx, claims, filters)
	if err != nil {
		_ = conn.WriteJSON(gin.H{"error": apperrors.FromError(err).Code})
		return
	}

	for msg := range feed {
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}
