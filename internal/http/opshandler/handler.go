package opshandler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"realtimesvc/internal/locks"
	"realtimesvc/internal/presence"
	"realtimesvc/internal/redis/connmgr"
)

// Handler exposes the small ops surface: health plus read-only views over
// presence and lock state. The realtime paths all run over the WS endpoint.
type Handler struct {
	mgr      *connmgr.Manager
	presence *presence.Tracker
	locks    *locks.Manager
}

func New(mgr *connmgr.Manager, tracker *presence.Tracker, lockMgr *locks.Manager) *Handler {
	return &Handler{mgr: mgr, presence: tracker, locks: lockMgr}
}

func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/healthz", h.health)
	r.GET("/presence/:tenantId", h.listOnline)
	r.GET("/presence/:tenantId/:userId", h.userPresence)
	r.GET("/documents/:documentId/lock", h.documentLock)
}

func (h *Handler) health(c *gin.Context) {
	if !h.mgr.Healthy() {
		c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (h *Handler) listOnline(c *gin.Context) {
	users, err := h.presence.ListOnline(c.Request.Context(), c.Param("tenantId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, OnlineResponse{Online: users})
}

func (h *Handler) userPresence(c *gin.Context) {
	rec, err := h.presence.Get(c.Request.Context(), c.Param("tenantId"), c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	if rec == nil {
		c.JSON(http.StatusOK, UserPresenceResponse{Online: false})
		return
	}
	c.JSON(http.StatusOK, UserPresenceResponse{
		Online:     true,
		Status:     rec.Status,
		LastSeenAt: rec.LastSeenAt,
	})
}

func (h *Handler) documentLock(c *gin.Context) {
	scope := locks.DocumentScope(c.Param("documentId"))
	if elementID := c.Query("element_id"); elementID != "" {
		scope = locks.ElementScope(c.Param("documentId"), elementID)
	}

	rec, err := h.locks.Inspect(c.Request.Context(), scope)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	if rec == nil {
		c.JSON(http.StatusOK, LockResponse{Locked: false})
		return
	}
	// The token never leaves the holder; only the holder id is reported.
	c.JSON(http.StatusOK, LockResponse{
		Locked:     true,
		HolderID:   rec.HolderID,
		AcquiredAt: rec.AcquiredAt,
	})
}
