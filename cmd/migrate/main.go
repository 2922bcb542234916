// Command migrate applies, rolls back or forces schema migrations.
//
//	migrate [--config path] [--source file://migrations] up|down|version|force
package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/yourusername/finance-api/internal/config"
	"github.com/yourusername/finance-api/pkg/database"
	"github.com/yourusername/finance-api/pkg/logger"
)

func main() {
	configPath := pflag.String("config", envOr("CONFIG_PATH", "config/config.yaml"), "path to the YAML config file")
	source := pflag.String("source", database.DefaultMigrationsURL, "migrations source URL")
	steps := pflag.Int("steps", 0, "number of migrations for up/down; 0 means all")
	forceVersion := pflag.Int("version", -1, "version to force, used with the force command")
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

	if pflag.NArg() != 1 {
		log.Fatal("expected exactly one command: up, down, version or force")
	}

	db, err := sql.Open("postgres", cfg.Database.PostgresConnectionString())
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatal("failed to ping database", zap.Error(err))
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Fatal("failed to create migrate driver", zap.Error(err))
	}
	m, err := migrate.NewWithDatabaseInstance(*source, "postgres", driver)
	if err != nil {
		log.Fatal("failed to create migrate instance", zap.Error(err))
	}

	command := pflag.Arg(0)
	if err := run(m, command, *steps, *forceVersion); err != nil {
		log.Fatal("migration command failed", zap.String("command", command), zap.Error(err))
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		log.Fatal("failed to read schema version", zap.Error(err))
	}
	log.Info("done", zap.String("command", command), zap.Uint("version", version), zap.Bool("dirty", dirty))
}

func run(m *migrate.Migrate, command string, steps, forceVersion int) error {
	var err error
	switch command {
	case "up":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	case "force":
		// Clears the dirty flag after a failed migration was fixed by hand.
		if forceVersion < 0 {
			return fmt.Errorf("force requires --version")
		}
		err = m.Force(forceVersion)
	case "version":
		return nil
	default:
		return fmt.Errorf("unknown command %q", command)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
