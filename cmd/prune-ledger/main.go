// Command prune-ledger deletes revoked or expired refresh tokens and stale
// email codes older than the retention period.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/yourusername/finance-api/internal/config"
	pgRepo "github.com/yourusername/finance-api/internal/repository/postgres"
	"github.com/yourusername/finance-api/internal/service"
	"github.com/yourusername/finance-api/pkg/database"
	"github.com/yourusername/finance-api/pkg/logger"
)

func main() {
	configPath := pflag.String("config", envOr("CONFIG_PATH", "config/config.yaml"), "path to the YAML config file")
	retention := pflag.Duration("retention", 30*24*time.Hour, "keep rows created within this period")
	dryRun := pflag.Bool("dry-run", false, "count matching rows without deleting them")
	archivePath := pflag.String("archive", "", "write the pruned ledger rows to this .xlsx file")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.Init(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgresDB(cfg.Database.PostgresConnectionString(), cfg.Database.LogLevel)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	if sqlDB, err := database.GetSQLDB(db); err == nil {
		defer sqlDB.Close()
	}

	tokenRepo, err := pgRepo.NewRefreshTokenRepo(db)
	if err != nil {
		log.Fatal("failed to init refresh token repository", zap.Error(err))
	}
	codeRepo, err := pgRepo.NewEmailVerificationRepo(db)
	if err != nil {
		log.Fatal("failed to init email verification repository", zap.Error(err))
	}
	pruner, err := service.NewLedgerPruner(tokenRepo, codeRepo)
	if err != nil {
		log.Fatal("failed to init pruner", zap.Error(err))
	}

	opts := service.PruneOptions{Retention: *retention, DryRun: *dryRun}
	if *archivePath != "" {
		file, err := os.Create(*archivePath)
		if err != nil {
			log.Fatal("failed to create archive file", zap.String("path", *archivePath), zap.Error(err))
		}
		defer file.Close()
		opts.Archive = file
	}

	result, err := pruner.Prune(ctx, opts)
	if err != nil {
		log.Fatal("prune failed", zap.Error(err))
	}
	log.Info("prune complete",
		zap.Int64("refresh_tokens", result.RefreshTokens),
		zap.Int64("email_codes", result.EmailCodes),
		zap.Bool("dry_run", *dryRun))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
