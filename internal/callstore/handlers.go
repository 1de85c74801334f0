package callstore

import (
	"errors"
	"net/http"

	"calldesk/internal/auth"
	"calldesk/internal/calls"
	"calldesk/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers exposes the record store over HTTP.
// Keep these thin: parse input, call the service, map errors to status codes.
type Handlers struct {
	Calls *Service
	Hub   *Hub
}

func actorFrom(c *gin.Context) (Actor, bool) {
	ctx := c.Request.Context()
	uid, err := auth.UserID(ctx)
	if err != nil {
		return Actor{}, false
	}
	wid, err := auth.WorkspaceID(ctx)
	if err != nil {
		return Actor{}, false
	}
	role, _ := auth.Role(ctx)
	return Actor{UserID: uid, WorkspaceID: wid, Role: role, IP: c.ClientIP()}, true
}

// List returns the caller's records, newest first.
// Supervisors may pass ?agent_id= to read a teammate's records.
func (h Handlers) List(c *gin.Context) {
	a, ok := actorFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}
	docs, err := h.Calls.List(c.Request.Context(), a, c.Query("agent_id"))
	if err != nil {
		h.fail(c, "list", err)
		return
	}
	c.JSON(http.StatusOK, docs)
}

func (h Handlers) Create(c *gin.Context) {
	a, ok := actorFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}
	var d calls.Document
	if err := c.ShouldBindJSON(&d); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	out, err := h.Calls.Create(c.Request.Context(), a, d)
	if err != nil {
		h.fail(c, "create", err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (h Handlers) Update(c *gin.Context) {
	a, ok := actorFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}
	var d calls.Document
	if err := c.ShouldBindJSON(&d); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	out, err := h.Calls.Update(c.Request.Context(), a, c.Param("id"), d)
	if err != nil {
		h.fail(c, "update", err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) Delete(c *gin.Context) {
	a, ok := actorFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}
	if err := h.Calls.Delete(c.Request.Context(), a, c.Param("id")); err != nil {
		h.fail(c, "delete", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Stream upgrades to a websocket that carries the caller's record changes.
func (h Handlers) Stream(c *gin.Context) {
	if h.Hub == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "stream not configured"})
		return
	}
	a, ok := actorFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}
	if err := h.Hub.Serve(c.Writer, c.Request, a.owner()); err != nil {
		// Upgrade has already written the error response.
		logger.FromGin(c).Warn("stream upgrade failed", "err", err)
	}
}

func (h Handlers) fail(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrForbidden):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	default:
		logger.FromGin(c).Error("call store failure", "op", op, "err", err)
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "storage failure"})
	}
}

// Register mounts the record routes on g. Auth and role checks are expected upstream.
func (h Handlers) Register(g *gin.RouterGroup) {
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/stream", h.Stream)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
}
