package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/docutag/phishguard"
	"github.com/docutag/phishguard/api"
	"github.com/docutag/phishguard/config"
	"github.com/docutag/phishguard/db"
	"github.com/docutag/phishguard/enrich"
	"github.com/docutag/phishguard/metrics"
	"github.com/docutag/phishguard/model"
	"github.com/docutag/phishguard/resolver"
	"github.com/docutag/phishguard/storage"
	"github.com/docutag/phishguard/tracing"
)

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt parses an integer variable, falling back to defaultValue
func getEnvInt(logger *slog.Logger, key string, defaultValue int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		logger.Warn("invalid integer value, using default", "key", key, "provided", raw, "default", defaultValue)
		return defaultValue
	}
	return v
}

func getEnvFloat(logger *slog.Logger, key string, defaultValue float64) float64 {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		logger.Warn("invalid number, using default", "key", key, "provided", raw, "default", defaultValue)
		return defaultValue
	}
	return v
}

func getEnvBool(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(defaultValue)))
	if err != nil {
		return defaultValue
	}
	return v
}

// dbConfigFromEnv builds the PostgreSQL DSN; ok is false without DB_HOST
func dbConfigFromEnv(logger *slog.Logger) (db.Config, bool) {
	dbHost := getEnv("DB_HOST", "")
	if dbHost == "" {
		return db.Config{}, false
	}
	dbPort := getEnv("DB_PORT", "5432")
	dbUser := getEnv("DB_USER", "phishguard")
	dbPassword := getEnv("DB_PASSWORD", "phishguard_dev_pass")
	dbName := getEnv("DB_NAME", "phishguard")

	logger.Info("using PostgreSQL feedback store", "host", dbHost, "port", dbPort, "database", dbName)
	return db.Config{
		DSN: fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable", dbHost, dbPort, dbUser, dbPassword, dbName),
	}, true
}

func openDB(ctx context.Context, cfg db.Config) (*db.DB, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return db.New(ctx, cfg)
}

// rollbackLatest reverts the most recent feedback store migration
func rollbackLatest(ctx context.Context, logger *slog.Logger) error {
	cfg, ok := dbConfigFromEnv(logger)
	if !ok {
		return fmt.Errorf("DB_HOST is required for -migrate-down")
	}
	database, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.Rollback(ctx, database.DB()); err != nil {
		return err
	}
	logger.Info("rolled back latest migration")
	return nil
}

func main() {
	// A missing .env is normal outside local development
	_ = godotenv.Load()

	// Setup structured logging with JSON output
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("phishguard service initializing", "version", "1.0.0")

	// Initialize tracing
	tp, err := tracing.InitTracer("phishguard")
	if err != nil {
		logger.Warn("failed to initialize tracer, continuing without tracing", "error", err)
	} else {
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				logger.Error("error shutting down tracer", "error", err)
			}
		}()
		logger.Info("tracing initialized successfully")
	}

	// Command-line flags (override environment variables)
	port := flag.String("port", getEnv("PORT", "8000"), "Server port")
	artifactDir := flag.String("artifact-dir", getEnv("ARTIFACT_DIR", storage.DefaultConfig().BasePath), "Directory holding model artifacts")
	tuningFile := flag.String("tuning-file", getEnv("TUNING_FILE", ""), "Optional YAML file with fusion tuning")
	enableEnrichment := flag.Bool("enable-enrichment", getEnvBool("ENRICHMENT_ENABLED", false), "Add DNS and whois features")
	disableCORS := flag.Bool("disable-cors", false, "Disable CORS")
	migrateDown := flag.Bool("migrate-down", false, "Roll back the latest feedback store migration and exit")
	flag.Parse()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	if *migrateDown {
		if err := rollbackLatest(ctx, logger); err != nil {
			logger.Error("migration rollback failed", "error", err)
			os.Exit(1)
		}
		return
	}

	// Artifact source: S3 when a bucket is configured, local directory otherwise
	var source storage.Source
	if bucket := getEnv("ARTIFACT_S3_BUCKET", ""); bucket != "" {
		s3Source, err := storage.NewS3Source(ctx, storage.S3Config{
			Endpoint:        getEnv("ARTIFACT_S3_ENDPOINT", ""),
			Region:          getEnv("ARTIFACT_S3_REGION", "us-east-1"),
			Bucket:          bucket,
			Prefix:          getEnv("ARTIFACT_S3_PREFIX", ""),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			UsePathStyle:    getEnvBool("ARTIFACT_S3_PATH_STYLE", false),
		})
		if err != nil {
			logger.Error("failed to create S3 artifact source", "error", err)
			os.Exit(1)
		}
		source = s3Source
	} else {
		fileSource, err := storage.NewFileSource(storage.Config{BasePath: *artifactDir})
		if err != nil {
			logger.Error("failed to open artifact directory", "path", *artifactDir, "error", err)
			os.Exit(1)
		}
		source = fileSource
	}
	logger.Info("using artifact source", "source", source.Describe())

	tuning := config.NewStore(*tuningFile, logger)

	// The service starts not-ready when the first load fails
	registry := model.NewRegistry(source, logger)
	if _, err := registry.Reload(ctx, tuning.Current().AEThresholdMultiplier); err != nil {
		logger.Warn("initial model load failed, serving in not-ready state", "error", err)
	}

	urlResolver, err := resolver.New(resolver.Options{
		CacheSize:         getEnvInt(logger, "SHORTENER_CACHE_SIZE", resolver.DefaultCacheSize),
		RequestsPerSecond: getEnvFloat(logger, "SHORTENER_RPS", 20),
		Logger:            logger,
	})
	if err != nil {
		logger.Error("failed to create resolver", "error", err)
		os.Exit(1)
	}

	engineOpts := phishguard.Options{
		Resolver: urlResolver,
		Logger:   logger,
	}
	if *enableEnrichment {
		engineOpts.Enricher = enrich.New(enrich.Options{
			DNSServer: getEnv("DNS_SERVER", enrich.DefaultDNSServer),
			Logger:    logger,
		})
		logger.Info("network enrichment enabled")
	}
	engine := phishguard.New(registry, tuning, engineOpts)

	// PostgreSQL feedback store (optional)
	services := api.Services{
		Engine:   engine,
		Registry: registry,
		Tuning:   tuning,
	}
	if dbConfig, ok := dbConfigFromEnv(logger); ok {
		database, err := openDB(ctx, dbConfig)
		if err != nil {
			logger.Error("failed to initialize database", "error", err)
			os.Exit(1)
		}
		services.Feedback = database

		// Initialize database metrics
		dbMetrics := metrics.NewDatabaseMetrics("phishguard")
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					dbMetrics.UpdateDBStats(database.DB())
				}
			}
		}()
		logger.Info("database metrics initialized")
	} else {
		logger.Info("DB_HOST not set, feedback endpoints disabled")
	}

	cfg := api.DefaultConfig()
	cfg.Addr = ":" + *port
	cfg.CORSEnabled = !*disableCORS
	cfg.Logger = logger

	server, err := api.NewServer(cfg, services)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	go tuning.Watch(ctx, 30*time.Second)

	// Start server in a goroutine
	go func() {
		logger.Info("phishguard service starting",
			"port", *port,
			"artifact_source", source.Describe(),
			"tuning_file", *tuningFile,
			"enrichment_enabled", *enableEnrichment,
			"feedback_enabled", services.Feedback != nil,
		)

		if err := server.Start(); err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// SIGHUP reloads tuning and models; SIGINT/SIGTERM shut down
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	for sig := range signals {
		if sig != syscall.SIGHUP {
			break
		}
		logger.Info("SIGHUP received, reloading")
		t, err := tuning.Reload()
		if err != nil {
			logger.Warn("tuning reload failed, keeping previous values", "error", err)
		}
		if _, err := registry.Reload(ctx, t.AEThresholdMultiplier); err != nil {
			logger.Error("model reload failed", "error", err)
		}
	}

	// Graceful shutdown
	logger.Info("shutting down gracefully")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
