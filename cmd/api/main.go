package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"adforge/internal/domain"
	"adforge/internal/events"
	"adforge/internal/governor"
	"adforge/internal/http/handlers"
	"adforge/internal/http/httpapi"
	"adforge/internal/infra"
	"adforge/internal/metrics"
	"adforge/internal/pipeline"
	"adforge/internal/providers/overlay"
	"adforge/internal/providers/publish"
	"adforge/internal/providers/variant"
	"adforge/internal/providers/videosynth"
	"adforge/internal/stage"
	"adforge/internal/storage"
	"adforge/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "api")

	ctx := context.Background()
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer pool.Close()

	jobs := store.NewPostgres(pool)
	if err := jobs.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to ensure schema")
	}

	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	files, err := storage.NewFileStore(storagePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure storage")
	}

	var publisher events.Publisher = events.NewMemory()
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid redis url")
		}
		publisher = events.NewRedisPublisher(redis.NewClient(redisOpts), logger)
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	coordinator, err := pipeline.New(pipeline.Options{
		Store:        jobs,
		Governor:     governor.New(governor.KindGPU, cfg.GPUSlots),
		Executors:    buildExecutors(cfg, files, &logger),
		Publisher:    publisher,
		Metrics:      collector,
		Logger:       logger,
		MaxRetries:   cfg.StageMaxRetries,
		RetryBackoff: cfg.RetryBackoff,
		LeaseMaxWait: cfg.LeaseMaxWait,
		Timeouts:     stageTimeouts(cfg),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build pipeline")
	}

	app := &handlers.App{
		Pipeline:       coordinator,
		Files:          files,
		Logger:         logger,
		StorageBaseURL: cfg.StorageBaseURL,
		Ready: func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return pool.Ping(pingCtx)
		},
	}
	router := httpapi.NewRouter(app, httpapi.Options{
		AllowedOrigins:  cfg.AllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		DefaultLocale:   "en",
		StaticDir:       files.BasePath(),
		Metrics:         registry,
	})

	server := infra.NewHTTPServer(cfg, router)
	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}

// buildExecutors wires the full stage set. The API never drives stages, but
// sharing the construction with the worker keeps submission validation and
// planning identical in both processes.
func buildExecutors(cfg *infra.Config, files *storage.FileStore, logger *infra.Logger) []stage.Executor {
	synthClient := videosynth.NewClient(videosynth.Options{
		APIKey:  cfg.SynthAPIKey,
		BaseURL: cfg.SynthBaseURL,
		Model:   cfg.SynthModel,
		Logger:  logger,
	})
	publishClient := publish.NewClient(publish.Options{
		AccessToken: cfg.MetaAccessToken,
		AdAccountID: cfg.MetaAdAccountID,
		PageID:      cfg.MetaPageID,
		Sandbox:     cfg.MetaSandbox,
		Logger:      logger,
	})
	return []stage.Executor{
		variant.New(files),
		videosynth.NewProvider(synthClient, files),
		overlay.New(files),
		publish.NewProvider(publishClient, files),
	}
}

func stageTimeouts(cfg *infra.Config) map[domain.StageKind]time.Duration {
	return map[domain.StageKind]time.Duration{
		domain.StageVariant:    cfg.VariantTimeout,
		domain.StageVideoSynth: cfg.SynthTimeout,
		domain.StageOverlay:    cfg.OverlayTimeout,
		domain.StagePublish:    cfg.PublishTimeout,
	}
}
