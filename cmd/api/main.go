package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fieldops/internal/api"
	"fieldops/internal/config"
	"fieldops/internal/database"
	"fieldops/internal/domain"
	"fieldops/internal/events"
	"fieldops/internal/google"
	"fieldops/internal/logging"
	"fieldops/internal/metrics"
	"fieldops/internal/repository"
	"fieldops/internal/service"
	"fieldops/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	categories, err := loadCategories(cfg, &logger)
	if err != nil {
		return err
	}

	dbPath := config.ResolvePath(cfg.App.Root, cfg.Database.Path)
	db, err := database.NewDB(dbPath, &logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", dbPath).Msg("init database")
		return err
	}
	defer db.Close()

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config, but starting API application. Check your config.")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go database.NewBackupService(db, cfg.Backup, cfg.App.Root, &logger).Start(ctx)

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer repository.Close(redisClient)
	}

	sheetsService := initGoogleSheets(ctx, cfg, db, redisClient, &logger)

	sheetsWorker := worker.NewSheetsWorker(db, sheetsService, redisClient, worker.Options{
		QueueSize:    cfg.Sync.QueueSize,
		PollInterval: cfg.Sync.PollInterval,
		BatchSize:    cfg.Sync.BatchSize,
	}, &logger)
	go sheetsWorker.Start(ctx)

	bus := events.NewEventBus(&logger)
	worker.SubscribeJobEvents(bus, sheetsWorker, &logger)

	jobService := service.NewJobService(db, bus, categories, &logger)

	httpServer := api.NewHTTPServer(cfg.API, api.Deps{
		Jobs:      jobService,
		Sheets:    sheetsService,
		Worker:    sheetsWorker,
		Queue:     db,
		SheetName: cfg.Google.SheetName,
	}, &logger)

	startMetrics(ctx, cfg, &logger)

	return serve(ctx, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

// loadCategories reads the categories file when present; otherwise the list
// from the main config is used.
func loadCategories(cfg *config.Config, logger *zerolog.Logger) ([]string, error) {
	categoriesPath := os.Getenv("CATEGORIES_PATH")
	if categoriesPath == "" {
		categoriesPath = "configs/categories.yaml"
	}
	data, err := os.ReadFile(categoriesPath)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info().Str("categories_path", categoriesPath).Msg("categories file not found, using config")
		return cfg.Categories, nil
	}
	if err != nil {
		logger.Error().Err(err).Str("categories_path", categoriesPath).Msg("read categories")
		return nil, err
	}

	var categoriesConfig struct {
		Categories []string `yaml:"categories"`
	}
	if err := yaml.Unmarshal(data, &categoriesConfig); err != nil {
		logger.Error().Err(err).Str("categories_path", categoriesPath).Msg("parse categories")
		return nil, err
	}
	if len(categoriesConfig.Categories) == 0 {
		return cfg.Categories, nil
	}
	if err := config.ValidateCategories(categoriesConfig.Categories); err != nil {
		return nil, fmt.Errorf("categories %s: %w", categoriesPath, err)
	}
	return categoriesConfig.Categories, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = repository.Close(redisClient)
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

func initGoogleSheets(
	ctx context.Context,
	cfg *config.Config,
	db *database.DB,
	redisClient *redis.Client,
	logger *zerolog.Logger,
) *google.SheetsService {
	sheetsService := google.New(ctx, cfg.Google, cfg.App.Root, db, logger)

	var locks domain.LockRepository = repository.NewMemoryLockRepository()
	if redisClient != nil {
		locks = repository.NewFailoverLockRepository(
			repository.NewRedisLockRepository(redisClient, cfg.Redis.LockTTL),
			locks,
			logger,
		)
	}
	sheetsService.UseLocker(locks)

	if !sheetsService.Configured() {
		return sheetsService
	}
	if res := sheetsService.TestConnection(ctx); !res.OK() {
		logger.Warn().Err(res.Err).Str("kind", res.Kind.String()).Msg("google sheets connection check failed")
	} else {
		logger.Info().Str("spreadsheet_id", sheetsService.SpreadsheetID()).Msg("google sheets connected")
	}
	return sheetsService
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func serve(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
