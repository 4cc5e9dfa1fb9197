package router

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"solver-backend/internal/config"
	"solver-backend/internal/handlers"
	"solver-backend/internal/middleware"
)

// corsMiddleware applies the configured origin allowlist
func corsMiddleware(cfg *config.CORSConfig) gin.HandlerFunc {
	allowAll := len(cfg.AllowedOrigins) == 0
	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = true
	}

	maxAge := cfg.MaxAge
	if maxAge == 0 {
		maxAge = 86400
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (allowAll || allowed[origin]) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Correlation-Id")
			c.Header("Access-Control-Max-Age", strconv.Itoa(maxAge))
			if cfg.AllowCredentials {
				c.Header("Access-Control-Allow-Credentials", "true")
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Handlers the handler set mounted by the router
type Handlers struct {
	Auth      *handlers.AuthHandler
	Intent    *handlers.IntentHandler
	Match     *handlers.MatchHandler
	Basic     *handlers.BasicHandler
	WebSocket *handlers.WebSocketHandler
}

// SetupRouter builds the gin engine with all routes and middleware
func SetupRouter(cfg *config.Config, h *Handlers) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Correlation())
	r.Use(corsMiddleware(&cfg.CORS))

	r.GET("/health", h.Basic.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		api.POST("/auth/login", h.Auth.Login)
		api.GET("/ws", h.WebSocket.Subscribe)

		protected := api.Group("")
		protected.Use(middleware.JWTAuth())
		{
			protected.POST("/intents", h.Intent.Submit)
			protected.GET("/intents", h.Intent.List)
			protected.GET("/intents/pending", h.Intent.ListPending)
			protected.GET("/intents/:nullifier", h.Intent.Get)
			protected.POST("/intents/:nullifier/cancel", h.Intent.Cancel)

			protected.GET("/matches", h.Match.List)
			protected.POST("/matches/:match_id/confirm", h.Match.Confirm)

			protected.GET("/stats", h.Basic.Stats)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
			return
		}
		c.Status(http.StatusNotFound)
	})

	return r
}
