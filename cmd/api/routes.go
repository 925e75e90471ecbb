package main

import (
	"context"
	"net/http"

	"callflow/internal/auth"
	"callflow/internal/httpapi"
	"callflow/internal/rbac"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc, ready func(context.Context) error) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		if err := ready(c.Request.Context()); err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Provider webhooks (public). Authenticated by HMAC signature when a secret is configured.
	r.POST("/webhooks/elevenlabs/post-call", h.PostCallWebhook)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW, rbac.RequireTenant())
	{
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			tid, _ := auth.TenantID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(http.StatusOK, gin.H{"user_id": uid, "tenant_id": tid, "role": role})
		})

		// MEETINGS routes
		// Voice-agent tools hold agent_tool tokens and may only book or check availability.
		meetings := v1.Group("/meetings")
		{
			tools := rbac.RequireAnyRole(rbac.RoleAdmin, rbac.RoleMember, rbac.RoleAgentTool)
			meetings.POST("/confirm-booking", tools, h.ConfirmBooking)
			meetings.POST("/check-availability", tools, h.CheckAvailability)

			readers := rbac.RequireAnyRole(rbac.RoleAdmin, rbac.RoleMember)
			meetings.GET("", readers, h.ListMeetings)
			meetings.GET("/:id", readers, h.GetMeeting)
		}

		// CALLS routes
		calls := v1.Group("/calls")
		calls.Use(rbac.RequireAnyRole(rbac.RoleAdmin, rbac.RoleMember))
		{
			calls.GET("", h.ListCalls)
			calls.GET("/stats/overview", h.StatsOverview)
			calls.GET("/:id", h.GetCall)
		}

		// ADMIN routes
		// Queue inspection and dead letters are tenant-admin tools.
		admin := v1.Group("/admin")
		admin.Use(rbac.RequireAnyRole(rbac.RoleAdmin))
		{
			admin.GET("/queues/:queue", h.QueueStatus)
			admin.GET("/queues/:queue/dead-letters", h.DeadLetters)
		}

		// Token issuance is reserved for super_admin (RequireAnyRole always admits it).
		v1.POST("/admin/tokens", rbac.RequireAnyRole(), h.IssueToken)
	}
}
