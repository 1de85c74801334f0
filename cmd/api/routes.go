package main

import (
	"database/sql"
	"net/http"
	"time"

	"calldesk/internal/auth"
	"calldesk/internal/callstore"
	"calldesk/internal/rbac"
	"calldesk/pkg/utils"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers delegate to internal modules.
func registerRoutes(r *gin.Engine, authMW gin.HandlerFunc, h callstore.Handlers, db *sql.DB) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if db != nil {
			if err := utils.HealthCheck(c.Request.Context(), db, 2*time.Second); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "db": "unreachable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			wid, _ := auth.WorkspaceID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(http.StatusOK, gin.H{"user_id": uid, "workspace_id": wid, "role": role})
		})

		calls := v1.Group("/calls")
		calls.Use(rbac.RequireWorkspace())
		calls.Use(rbac.RequireAnyRole(rbac.DeskRoles...))
		h.Register(calls)
	}
}
