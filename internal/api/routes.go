package api

import (
	"net/http"

	"heartpulse-billing/internal/middleware"
	"heartpulse-billing/internal/response"
	"heartpulse-billing/internal/services"

	"github.com/gin-gonic/gin"
)

// Dependencies holds the constructed services the handlers dispatch to. Built
// once per process; there is no shared mutable state beyond these clients.
type Dependencies struct {
	Links      *services.LinkService
	Reconciler *services.Reconciler
	Verifier   *services.SignedPayloadVerifier
	Backfill   *services.BackfillOrchestrator
}

var deps *Dependencies

// SetupRoutes sets up all routes
func SetupRoutes(r *gin.Engine, d *Dependencies) {
	deps = d

	// The webhook contract distinguishes 405 from 404
	r.HandleMethodNotAllowed = true
	r.NoMethod(func(c *gin.Context) {
		response.Fail(c, http.StatusMethodNotAllowed, "Method not allowed")
	})

	api := r.Group("/api")
	{
		// Subscription routes for the authenticated client
		subscription := api.Group("/subscription")
		subscription.Use(middleware.UserAuthMiddleware())
		{
			subscription.POST("/link", LinkSubscription)
			subscription.POST("/backfill", BackfillSubscriptions)
		}

		// App Store notification routes (no authentication, Apple calls these)
		appstore := api.Group("/appstore")
		{
			appstore.POST("/notifications", AppStoreNotificationHandler)
		}
	}

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "heartpulse-billing",
		})
	})
}
