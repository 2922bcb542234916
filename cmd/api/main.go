package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/yourusername/finance-api/internal/config"
	"github.com/yourusername/finance-api/internal/domain/repository"
	"github.com/yourusername/finance-api/internal/handler"
	"github.com/yourusername/finance-api/internal/middleware"
	pgRepo "github.com/yourusername/finance-api/internal/repository/postgres"
	redisRepo "github.com/yourusername/finance-api/internal/repository/redis"
	"github.com/yourusername/finance-api/internal/service"
	"github.com/yourusername/finance-api/pkg/auth"
	"github.com/yourusername/finance-api/pkg/auth/manager"
	"github.com/yourusername/finance-api/pkg/database"
	"github.com/yourusername/finance-api/pkg/logger"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.Init(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	log.Info("configuration loaded", cfg.LogFields()...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.NewPostgresDB(cfg.Database.PostgresConnectionString(), cfg.Database.LogLevel)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := database.MigrateDB(db); err != nil {
		log.Fatal("Failed to migrate database", zap.Error(err))
	}

	// Redis is optional: without it the rate limiter and the resend cooldown are off.
	var redisClient redis.UniversalClient
	var cacheRepo repository.CacheRepository
	if cfg.Redis.Enabled {
		redisClient, err = database.NewUniversalRedisClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		repo, err := redisRepo.NewCacheRepo(redisClient)
		if err != nil {
			log.Fatal("Failed to initialize CacheRepo", zap.Error(err))
		}
		cacheRepo = repo
		log.Info("Successfully connected to Redis")
	}

	userRepo, err := pgRepo.NewUserRepo(db)
	if err != nil {
		log.Fatal("Failed to initialize UserRepo", zap.Error(err))
	}
	codeRepo, err := pgRepo.NewEmailVerificationRepo(db)
	if err != nil {
		log.Fatal("Failed to initialize EmailVerificationRepo", zap.Error(err))
	}
	refreshTokenRepo, err := pgRepo.NewRefreshTokenRepo(db)
	if err != nil {
		log.Fatal("Failed to initialize RefreshTokenRepo", zap.Error(err))
	}

	jwtService, err := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Algorithm, cfg.JWT.AccessTTL(), cfg.JWT.RefreshTTL())
	if err != nil {
		log.Fatal("Failed to initialize JWTService", zap.Error(err))
	}
	issuer, err := manager.NewTokenIssuer(jwtService, refreshTokenRepo)
	if err != nil {
		log.Fatal("Failed to initialize TokenIssuer", zap.Error(err))
	}
	ledger, err := manager.NewRefreshLedger(jwtService, refreshTokenRepo, issuer)
	if err != nil {
		log.Fatal("Failed to initialize RefreshLedger", zap.Error(err))
	}

	emailService, err := service.NewEmailService(cfg.Email, cfg.Auth.CodeTTL())
	if err != nil {
		log.Fatal("Failed to initialize EmailService", zap.Error(err))
	}
	codes, err := service.NewCodeIssuer(codeRepo, emailService, cacheRepo, service.CodeIssuerConfig{
		CodeTTL:        cfg.Auth.CodeTTL(),
		MaxAttempts:    cfg.Auth.CodeMaxAttempts,
		VerifyWindow:   cfg.Auth.VerifyWindow(),
		ResendCooldown: cfg.Auth.CodeResendCooldown,
		Pepper:         cfg.Auth.CodePepper,
	})
	if err != nil {
		log.Fatal("Failed to initialize CodeIssuer", zap.Error(err))
	}
	creds, err := service.NewCredentialStore(userRepo, codes, cfg.Auth.BcryptCost)
	if err != nil {
		log.Fatal("Failed to initialize CredentialStore", zap.Error(err))
	}
	sessions, err := service.NewSessionAuthenticator(jwtService, userRepo)
	if err != nil {
		log.Fatal("Failed to initialize SessionAuthenticator", zap.Error(err))
	}
	authService, err := service.NewAuthService(codes, creds, issuer, ledger, sessions)
	if err != nil {
		log.Fatal("Failed to initialize AuthService", zap.Error(err))
	}

	cookies := manager.NewCookieManager(
		cfg.Auth.AccessCookieName,
		cfg.Auth.CookieDomain,
		cfg.Auth.CookieSecure,
		cfg.Auth.CookieSameSite,
		cfg.JWT.AccessTTL(),
	)

	var rateLimiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		if redisClient != nil {
			rateLimiter = middleware.NewRateLimiter(redisClient)
		} else {
			log.Warn("rate limit is enabled but redis is disabled, auth endpoints are not limited")
		}
	}

	router := handler.NewRouter(handler.RouterDeps{
		Auth:           handler.NewAuthHandler(authService, cookies, cfg.Auth.TokenTransport),
		Health:         handler.NewHealthHandler(db, cacheRepo),
		AuthMiddleware: middleware.NewAuthMiddleware(sessions, cookies, cfg.Auth.TokenTransport),
		RateLimiter:    rateLimiter,
		StrictLimit:    middleware.StrictAuthRateLimitConfig(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         log,
	})

	if gin.Mode() == gin.ReleaseMode {
		if err := router.SetTrustedProxies(nil); err != nil {
			log.Warn("failed to set trusted proxies", zap.Error(err))
		}
	} else {
		if err := router.SetTrustedProxies([]string{"127.0.0.1", "::1"}); err != nil {
			log.Warn("failed to set trusted proxies", zap.Error(err))
		}
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		log.Info("Starting server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Error("Error closing Redis client", zap.Error(err))
		}
	}
	if sqlDB, err := database.GetSQLDB(db); err == nil {
		_ = sqlDB.Close()
	}

	log.Info("Server exited properly")
}
