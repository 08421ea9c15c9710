package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/corralhq/corral/internal/middleware"
	"github.com/corralhq/corral/internal/services"
	apperrors "github.com/corralhq/corral/pkg/errors"
	"github.com/corralhq/corral/pkg/response"
)

// LockHandler exposes the distributed lock endpoints. Lock leases are
// websocket streams: the connection's lifetime is the lease's lifetime and
// every frame is a heartbeat carrying the fencing token.
type LockHandler struct {
	locks *services.LockService
}

// Acquire handles GET /api/locks/:id, blocking until the lock is granted.
func (h *LockHandler) Acquire(c *gin.Context) {
	if _, ok := middleware.GetClaims(c); !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := contextWithConnClose(c, conn)
	defer cancel()

	lease, err := h.locks.Acquire(ctx, c.Param("id"))
	if err != nil {
		_ = conn.WriteJSON(gin.H{"error": apperrors.FromError(err).Code})
		return
	}
	defer lease.Release()

	streamLease(ctx, conn, lease)
}

// TryAcquire handles GET /api/locks/:id/try. Contended locks fail before the
// websocket upgrade with a resource-exhausted response.
func (h *LockHandler) TryAcquire(c *gin.Context) {
	if _, ok := middleware.GetClaims(c); !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	lease, err := h.locks.TryAcquire(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		lease.Release()
		return
	}
	defer conn.Close()
	defer lease.Release()

	ctx, cancel := contextWithConnClose(c, conn)
	defer cancel()

	streamLease(ctx, conn, lease)
}

// CheckFencing handles GET /api/locks/:id/fencing?token=.
func (h *LockHandler) CheckFencing(c *gin.Context) {
	if _, ok := middleware.GetClaims(c); !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	token, err := strconv.ParseInt(c.Query("token"), 10, 64)
	if err != nil {
		response.Error(c, apperrors.NewBadRequest("token must be an integer"))
		return
	}

	current, err := h.locks.CheckFencingToken(c.Request.Context(), c.Param("id"), token)
	if err != nil {
		response.Error(c, apperrors.ErrInternalServer.WithInternal(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"current": current})
}

func streamLease(ctx context.Context, conn *websocket.Conn, lease *services.Lease) {
	for {
		select {
		case <-ctx.Done():
			return
		case hb, ok := <-lease.C():
			if !ok {
				return
			}
			if err := conn.WriteJSON(hb); err != nil {
				return
			}
		}
	}
}

// contextWithConnClose derives a context cancelled when the websocket peer
// goes away. The read pump discards client frames; its only job is noticing
// the disconnect.
func contextWithConnClose(c *gin.Context, conn *websocket.Conn) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(c.Request.Context())

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	return ctx, cancel
}
