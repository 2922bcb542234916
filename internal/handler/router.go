package handler

import (
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/finance-api/internal/middleware"
)

// RouterDeps holds everything NewRouter wires together.
type RouterDeps struct {
	Auth           *AuthHandler
	Health         *HealthHandler
	AuthMiddleware *middleware.AuthMiddleware
	// RateLimiter is nil when redis is disabled.
	RateLimiter    *middleware.RateLimiter
	StrictLimit    middleware.RateLimitConfig
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewRouter builds the gin engine with the middleware stack and all routes.
func NewRouter(deps RouterDeps) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.L()
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(ginzap.GinzapWithConfig(logger, &ginzap.Config{
		UTC:        true,
		TimeFormat: time.RFC3339,
		SkipPaths:  []string{"/health"},
		Context: func(c *gin.Context) []zap.Field {
			fields := []zap.Field{zap.String("request_id", c.GetString(middleware.ContextRequestIDKey))}
			if userID, ok := c.Get(middleware.ContextUserIDKey); ok {
				fields = append(fields, zap.Any("user_id", userID))
			}
			return fields
		},
	}))
	router.Use(ginzap.RecoveryWithZap(logger, true))

	if len(deps.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     deps.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.RequestIDHeader},
			ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/", deps.Health.Root)
	router.GET("/health", deps.Health.Health)
	router.GET("/health/db", deps.Health.Database)
	router.GET("/health/readiness", deps.Health.Readiness)

	strict := func(c *gin.Context) { c.Next() }
	authGroup := router.Group("/api/v1/auth")
	if deps.RateLimiter != nil {
		authGroup.Use(deps.RateLimiter.LimitByIP(middleware.DefaultAuthRateLimitConfig()))
		strict = deps.RateLimiter.Limit(deps.StrictLimit)
	}
	{
		authGroup.POST("/request-code", strict, deps.Auth.RequestCode)
		authGroup.POST("/verify-code", strict, deps.Auth.VerifyCode)
		authGroup.POST("/set-password", deps.Auth.SetPassword)
		authGroup.POST("/login", strict, deps.Auth.Login)
		authGroup.POST("/refresh", deps.Auth.Refresh)
		authGroup.POST("/logout", deps.Auth.Logout)
		authGroup.GET("/me", deps.AuthMiddleware.RequireAuth(), deps.Auth.GetMe)
	}

	return router
}
