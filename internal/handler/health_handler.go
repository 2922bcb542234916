package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/yourusername/finance-api/internal/domain/entity"
	"github.com/yourusername/finance-api/internal/domain/repository"
)

const (
	serviceName    = "finance-assistant-backend"
	serviceVersion = "0.1.0"
)

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	db     *gorm.DB
	cache  repository.CacheRepository
	logger *zap.Logger
}

// NewHealthHandler creates the handler. cache may be nil when redis is disabled.
func NewHealthHandler(db *gorm.DB, cache repository.CacheRepository) *HealthHandler {
	return &HealthHandler{db: db, cache: cache, logger: zap.L().Named("health")}
}

func (h *HealthHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"service": serviceName, "version": serviceVersion})
}

func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Database reports which of the auth tables exist.
func (h *HealthHandler) Database(c *gin.Context) {
	migrator := h.db.WithContext(c.Request.Context()).Migrator()
	tables := map[string]bool{
		entity.User{}.TableName():              migrator.HasTable(&entity.User{}),
		entity.EmailVerification{}.TableName(): migrator.HasTable(&entity.EmailVerification{}),
		entity.RefreshToken{}.TableName():      migrator.HasTable(&entity.RefreshToken{}),
	}

	status := http.StatusOK
	for _, present := range tables {
		if !present {
			status = http.StatusServiceUnavailable
		}
	}
	c.JSON(status, gin.H{"status": statusWord(status), "tables": tables})
}

// Readiness pings the database and, when configured, redis.
func (h *HealthHandler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{"database": "ok"}
	status := http.StatusOK

	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		h.logger.Warn("database ping failed", zap.Error(err))
		checks["database"] = "unavailable"
		status = http.StatusServiceUnavailable
	}

	if h.cache != nil {
		checks["redis"] = "ok"
		if err := h.cache.Ping(ctx); err != nil {
			h.logger.Warn("redis ping failed", zap.Error(err))
			checks["redis"] = "unavailable"
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, gin.H{"status": statusWord(status), "checks": checks})
}

func statusWord(code int) string {
	if code == http.StatusOK {
		return "ok"
	}
	return "unavailable"
}
