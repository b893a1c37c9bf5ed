package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"quotad/internal/config"
	"quotad/internal/logger"
	"quotad/internal/model"
	"quotad/internal/notify"
	"quotad/internal/repository"
	"quotad/internal/secrets"
	"quotad/internal/service"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

func main() {
	// Parse mode flag
	mode := flag.String("mode", "sweep", "Daemon mode: sweep|refresh")
	flag.Parse()

	// Initialize logger
	logger := logger.New()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logger.Warn().Msg("Warning: no .env file found")
	}

	// Load config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Msgf("Error loading config: %v", err)
	}

	// Set up context with graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Resolve the DB password, from Secret Manager when configured
	password := cfg.DBPassword
	if cfg.DBPasswordSecret != "" {
		manager, err := secrets.NewManager(ctx, cfg.GCPProjectID)
		if err != nil {
			logger.Fatal().Msgf("Failed to create Secret Manager client: %v", err)
		}
		password, err = manager.Secret(ctx, cfg.DBPasswordSecret)
		if err != nil {
			logger.Fatal().Msgf("Failed to resolve DB password secret: %v", err)
		}
		_ = manager.Close()
	}

	// Initialize DB connection
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.DBUser, password, cfg.DBHost, cfg.DBPort, cfg.DBName, cfg.DBSSLMode)
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		logger.Fatal().Msgf("Failed to open DB connection: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Msgf("Failed to ping DB: %v", err)
	}
	logger.Info().Msg("Database connection established")

	if err := repository.EnsureSchema(ctx, pool); err != nil {
		logger.Fatal().Msgf("Failed to ensure schema: %v", err)
	}

	// Optional quota event publisher
	var events *notify.Emitter
	if cfg.GCPProjectID != "" {
		pub, err := notify.NewPublisher(ctx, cfg.GCPProjectID)
		if err != nil {
			logger.Fatal().Msgf("Failed to create Pub/Sub publisher: %v", err)
		}
		defer pub.Close()
		events = notify.NewEmitter(pub, cfg.EventTopic, logger)
	}

	// Wire the quota engine
	resources := model.DefaultResources()
	store := repository.NewStore(pool, logger)
	syncs := service.NewDefaultSyncRegistry(repository.NewSyncRepo(pool))
	limits := service.NewLimitsService(repository.NewQuotaRepo(pool), resources, logger)
	reservations := service.NewReservationService(store, limits, syncs, resources, service.Options{
		UntilRefresh: cfg.UntilRefresh,
		MaxAge:       time.Duration(cfg.MaxAgeSec) * time.Second,
	}, logger, events)

	// Dispatch to the selected loop
	var runErr error
	switch *mode {
	case "sweep":
		runErr = runSweep(ctx, logger, reservations, time.Duration(cfg.SweepIntervalSec)*time.Second)
	case "refresh":
		runErr = runRefresh(ctx, logger, store, reservations, resources, time.Duration(cfg.RefreshIntervalSec)*time.Second)
	default:
		logger.Fatal().Msgf("Invalid mode: %s", *mode)
	}

	if runErr != nil {
		logger.Fatal().Msgf("%s loop failed: %v", *mode, runErr)
	}

	logger.Info().Msgf("%s loop stopped gracefully", *mode)
}

// runSweep periodically retires reservations whose expiry has passed.
func runSweep(ctx context.Context, logger zerolog.Logger, reservations service.ReservationService, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info().Dur("interval", interval).Msg("reservation expiry sweep started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			expired, err := reservations.ExpireReservations(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("expiry sweep failed")
				continue
			}
			if expired > 0 {
				logger.Info().Int64("expired", expired).Msg("expiry sweep completed")
			}
		}
	}
}

// runRefresh periodically forces a recount of every tracked (project, user)
// pair to correct usage drift.
func runRefresh(ctx context.Context, logger zerolog.Logger, store repository.Store, reservations service.ReservationService, resources model.Resources, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// A project-scoped owner only has rows for per-project resources;
	// recounting the per-user ones for it would create stray rows.
	synced := resources.SyncedNames()
	var perProject []string
	for name, def := range resources {
		if def.Sync != "" && def.PerProject {
			perProject = append(perProject, name)
		}
	}

	logger.Info().Dur("interval", interval).Msg("usage refresh loop started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			owners, err := store.UsageOwners(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("listing usage owners failed")
				continue
			}
			for _, owner := range owners {
				names := synced
				if owner.UserID == "" {
					names = perProject
				}
				if err := reservations.RefreshUsage(ctx, owner.ProjectID, owner.UserID, names); err != nil {
					logger.Error().Err(err).
						Str("project_id", owner.ProjectID).
						Str("user_id", owner.UserID).
						Msg("forced usage refresh failed")
				}
			}
		}
	}
}
