// Command sync rewrites the job sheet from the local database once and exits.
// The exit code is 0 on success, 2 when the sheet is not configured and 1 on
// any other failure.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fieldops/internal/config"
	"fieldops/internal/database"
	"fieldops/internal/export"
	"fieldops/internal/google"
	"fieldops/internal/logging"
	"fieldops/internal/repository"

	"github.com/rs/zerolog"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config.yaml")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall deadline for the sync")
	headersOnly := flag.Bool("headers-only", false, "only write the header row")
	exportDir := flag.String("export-dir", "", "also save an xlsx snapshot of the job log into this directory")
	flag.Parse()

	if *configPath == "" {
		*configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		return 1
	}
	if closer != nil {
		defer closer.Close()
	}
	logger := logging.Component(baseLogger, "sync-cli")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	db, err := database.NewDB(config.ResolvePath(cfg.App.Root, cfg.Database.Path), &logger)
	if err != nil {
		logger.Error().Err(err).Msg("init database")
		return 1
	}
	defer db.Close()

	sheetsService := google.New(ctx, cfg.Google, cfg.App.Root, db, &logger)

	// share the sink lock with a running API process
	if cfg.Redis.Address != "" {
		redisClient := repository.NewRedisClient(cfg.Redis)
		defer repository.Close(redisClient)
		if err := repository.Ping(ctx, redisClient); err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, syncing without the shared lock")
		} else {
			sheetsService.UseLocker(repository.NewRedisLockRepository(redisClient, cfg.Redis.LockTTL))
		}
	}

	res := sheetsService.EnsureHeaders(ctx)
	if res.OK() && !*headersOnly {
		res = sheetsService.SyncAllJobs(ctx)
	}

	if *exportDir != "" {
		if err := saveSnapshot(ctx, db, cfg, *exportDir, &logger); err != nil {
			logger.Error().Err(err).Msg("xlsx snapshot failed")
			return 1
		}
	}

	switch res.Kind {
	case google.KindNone:
		logger.Info().Int("rows", res.Rows).Int("buckets", res.Buckets).Msg("sheet synced")
		return 0
	case google.KindConfig:
		logger.Warn().Err(res.Err).Msg("google sheets is not configured")
		return 2
	default:
		logger.Error().Err(res.Err).Str("kind", res.Kind.String()).Msg("sheet sync failed")
		return 1
	}
}

func saveSnapshot(ctx context.Context, db *database.DB, cfg *config.Config, dir string, logger *zerolog.Logger) error {
	jobs, err := db.ListJobsForSheet(ctx)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	path, err := export.SaveFile(config.ResolvePath(cfg.App.Root, dir), cfg.Google.SheetName, jobs, time.Now())
	if err != nil {
		return err
	}
	logger.Info().Str("path", path).Int("jobs", len(jobs)).Msg("xlsx snapshot saved")
	return nil
}
