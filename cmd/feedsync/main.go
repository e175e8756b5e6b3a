package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rughaus/feedsync/internal/cache"
	"github.com/rughaus/feedsync/internal/config"
	"github.com/rughaus/feedsync/internal/database"
	"github.com/rughaus/feedsync/internal/lock"
	"github.com/rughaus/feedsync/internal/models"
	"github.com/rughaus/feedsync/internal/observability"
	"github.com/rughaus/feedsync/internal/report"
	"github.com/rughaus/feedsync/internal/repository"
	"github.com/rughaus/feedsync/internal/sync"
	"github.com/rughaus/feedsync/internal/worker"
	"github.com/rughaus/feedsync/pkg/supplierfeed"
)

// main is the entrypoint for the supplier feed sync engine. It runs one sync
// by default, or a scheduler loop with -daemon.
func main() {
	var (
		dryRun    = flag.Bool("dry-run", false, "classify and report without persistence writes")
		parseOnly = flag.Bool("parse-only", false, "parse and count without reconciling")
		limit     = flag.Int("limit", 0, "stop after N products (0 = no limit)")
		filePath  = flag.String("file", "", "read the feed from a local file instead of the network")
		feedURL   = flag.String("feed-url", "", "override the configured feed URL")
		reportDir = flag.String("report-dir", "", "override the configured report directory")
		debug     = flag.Bool("debug", false, "verbose logging")
		daemon    = flag.Bool("daemon", false, "run on a recurring schedule instead of once")
	)
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *feedURL != "" {
		cfg.Feed.URL = *feedURL
	}
	if *reportDir != "" {
		cfg.Sync.ReportDir = *reportDir
	}

	// 2. Setup logger
	setupLogger(cfg.Env, *debug)
	log.Info().Str("env", cfg.Env).Msg("starting feedsync")

	// 3. Connect database
	db, err := database.Connect(&cfg.DB)
	if err != nil {
		log.Error().Err(err).Msg("database connection failed")
		fmt.Fprintf(os.Stderr, "database connection failed: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	// 3a. Run migrations
	if err := runMigrations(db.DB); err != nil {
		log.Error().Err(err).Msg("migration failed")
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
		os.Exit(1)
	}
	log.Info().Msg("migrations completed successfully")

	// 4. Run lock: file marker by default, redis lease for multi-host setups
	var guard lock.Guard
	if cfg.Sync.LockBackend == "redis" {
		redisClient, err := cache.NewRedisClient(&cfg.Redis)
		if err != nil {
			log.Error().Err(err).Msg("redis connection failed")
			fmt.Fprintf(os.Stderr, "redis connection failed: %v\n", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		guard = lock.NewRedisGuard(redisClient, "feedsync:run-lock", cfg.Sync.LockTTL)
	} else {
		guard = lock.NewFileGuard(cfg.Sync.LockPath)
	}

	// 5. Feed source
	var source sync.FeedSource
	if *filePath != "" {
		source = sync.FileSource{Path: *filePath}
	} else {
		if cfg.Feed.URL == "" {
			fmt.Fprintln(os.Stderr, "no feed source: set FEED_URL or pass -file")
			os.Exit(1)
		}
		source = supplierfeed.NewClient(cfg.Feed.URL, cfg.Feed.Token)
	}

	// 6. Repositories, reporting and engine
	catalogRepo := repository.NewCatalogRepository(db)
	runRepo := repository.NewRunRepository(db)

	var sinks report.Factory = report.FileFactory{Dir: cfg.Sync.ReportDir}
	if *parseOnly {
		sinks = report.NopFactory{}
	}

	engine := sync.New(guard, source, catalogRepo, runRepo, sinks, sync.Options{
		DryRun:       *dryRun,
		ParseOnly:    *parseOnly,
		Limit:        *limit,
		QueueSize:    cfg.Sync.QueueSize,
		RateUSDToEUR: cfg.Feed.RateUSDToEUR,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *daemon {
		observability.Start(cfg.MetricsPort)
		worker.NewSyncWorker(engine, cfg.Sync.Interval).Start(ctx)
		return
	}

	run := engine.Run(ctx)
	if run.Status != models.RunStatusSuccess {
		os.Exit(1)
	}
}

func setupLogger(env string, debug bool) {
	if env == "production" && !debug {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func runMigrations(db *sql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		"file://migrations",
		"postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("could not run migrations: %w", err)
	}

	return nil
}
