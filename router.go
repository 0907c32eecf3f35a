package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"storefront/api/handlers"
	"storefront/api/logger"
	"storefront/api/middleware"
)

type routerDeps struct {
	Logger    *zap.Logger
	ClientURL string
	JWTSecret []byte
	Track     *handlers.TrackHandlers
	Chat      *handlers.ChatHandlers
	Limiter   *middleware.RateLimiter
}

func setupRouter(d routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(logger.GinMiddleware(d.Logger))
	r.Use(logger.Recovery(d.Logger))
	r.Use(middleware.CORSMiddleware(d.ClientURL))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Storefront API is running")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	if d.Limiter != nil {
		api.Use(d.Limiter.Middleware())
	}
	{
		events := api.Group("/events")
		events.POST("/user", d.Track.TrackUserEvent)
		events.POST("/session", d.Track.TrackSessionEvent)
		events.POST("/user/batch", d.Track.TrackUserEventBatch)
		events.POST("/session/batch", d.Track.TrackSessionEventBatch)
		events.GET("/health", d.Track.CheckHealth)

		stats := events.Group("/stats")
		stats.Use(middleware.AuthRequired(d.JWTSecret, d.Logger))
		stats.GET("/event-counts", d.Track.GetEventCountsOverTime)
		stats.GET("/unique-users", d.Track.GetUniqueUsersOverTime)

		// The RAG service decides the access tier from customer_id, so chat
		// routes accept anonymous callers.
		chat := api.Group("/v1/chat")
		chat.Use(middleware.OptionalAuth(d.JWTSecret, d.Logger))
		chat.POST("/message", d.Chat.SendMessage)
		chat.GET("/health", d.Chat.CheckHealth)
		chat.GET("/history/:sessionId", d.Chat.GetSessionHistory)
		chat.GET("/history/customer/:customerId", d.Chat.GetCustomerHistory)
		chat.DELETE("/history/:sessionId", d.Chat.DeleteSessionHistory)
	}

	return r
}
