package main

import (
	"voice-platform/internal/auth"
	"voice-platform/internal/httpapi"
	"voice-platform/internal/rbac"
	"voice-platform/internal/telephony"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, webhooks telephony.TwilioWebhookHandler, api httpapi.Handlers, authMW, healthz gin.HandlerFunc) {
	// public
	r.GET("/healthz", healthz)

	// Provider webhooks (public endpoints, authenticated by Twilio request
	// signatures inside the handler).
	{
		r.POST("/webhooks/twilio/voice", webhooks.HandleInboundCall)
		r.POST(webhooks.Paths.Gather, webhooks.HandleGather)
		r.POST(webhooks.Paths.Timeout, webhooks.HandleTimeout)
		r.POST(webhooks.Paths.Recording, webhooks.HandleRecording)
		r.POST("/webhooks/twilio/status", webhooks.HandleStatus)
	}

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		// Identity echo, useful for debugging token wiring.
		v1.GET("/me", func(c *gin.Context) {
			id, err := auth.IdentityFromContext(c.Request.Context())
			if err != nil {
				c.JSON(401, gin.H{"error": "unauthenticated"})
				return
			}
			c.JSON(200, gin.H{"user_id": id.UserID, "workspace_id": id.WorkspaceID, "role": id.Role})
		})

		// AUTH routes (token issuance).
		// NOTE: This is a placeholder login route; real credential validation is not implemented.
		v1.Group("/auth").POST("/login", api.Login)

		// ROUTING administration. Writes are owner/supervisor only; reads
		// are open to agents as well.
		routes := v1.Group("/routing")
		{
			write := routes.Group("")
			write.Use(httpapi.RequireWorkspaceAndAnyRole(rbac.RoleOwner, rbac.RoleSupervisor)...)
			{
				write.POST("/rules", api.SaveRule)
				write.POST("/rules/:rule_id/targets", api.SaveTarget)
				write.PUT("/rules/:rule_id/targets", api.ReplaceTargets)
			}

			read := routes.Group("")
			read.Use(httpapi.RequireWorkspaceAndAnyRole(rbac.RoleOwner, rbac.RoleSupervisor, rbac.RoleAgent)...)
			{
				read.GET("/rules", api.ListRules)
				read.GET("/rules/:rule_id", api.GetRule)
				read.GET("/logs", api.ListRoutingLogs)
			}
		}

		// IVR FLOW administration.
		flows := v1.Group("/flows")
		{
			write := flows.Group("")
			write.Use(httpapi.RequireWorkspaceAndAnyRole(rbac.RoleOwner, rbac.RoleSupervisor)...)
			{
				write.POST("", api.CreateFlow)
				write.PUT("/:flow_id", api.UpdateFlow)
				write.POST("/:flow_id/publish", api.PublishFlow)
			}

			read := flows.Group("")
			read.Use(httpapi.RequireWorkspaceAndAnyRole(rbac.RoleOwner, rbac.RoleSupervisor, rbac.RoleAgent)...)
			{
				read.GET("/:flow_id", api.GetFlow)
				read.GET("/:flow_id/summary", api.FlowReport)
			}
		}

		// CALLS and REPORTS (read only).
		read := v1.Group("")
		read.Use(httpapi.RequireWorkspaceAndAnyRole(rbac.RoleOwner, rbac.RoleSupervisor, rbac.RoleAgent)...)
		{
			read.GET("/calls", api.ListCalls)
			read.GET("/reports/calls", api.CallsReport)
			read.GET("/reports/routing", api.RoutingReport)
		}
	}
}
