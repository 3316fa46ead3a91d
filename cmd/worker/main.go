package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"adforge/internal/domain"
	"adforge/internal/events"
	"adforge/internal/governor"
	"adforge/internal/infra"
	"adforge/internal/infra/credentials"
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

const (
	jobPollInterval  = 2 * time.Second
	cleanupInterval  = time.Hour
	shutdownDeadline = 30 * time.Second
)

type worker struct {
	id          string
	jobs        *store.Postgres
	files       *storage.FileStore
	coordinator *pipeline.Coordinator
	logger      infra.Logger
	retention   int

	wg sync.WaitGroup
}

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	jobs := store.NewPostgres(pool)
	if err := jobs.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to ensure schema")
	}

	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	files, err := storage.NewFileStore(storagePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}

	var publisher events.Publisher = events.NewMemory()
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: invalid redis url")
		}
		publisher = events.NewRedisPublisher(redis.NewClient(redisOpts), logger)
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	go serveMetrics(cfg.MetricsPort, registry, logger)

	gov := governor.New(governor.KindGPU, cfg.GPUSlots)
	gov.SetNotify(func(inUse, waiting int) {
		collector.SetGPULeasesInUse(inUse)
	})

	if cfg.SynthAPIKey == "" {
		logger.Warn().Str("model", cfg.SynthModel).Msg("worker: synth api key missing, using synthetic clip generation")
	}

	synthClient := videosynth.NewClient(videosynth.Options{
		APIKey:  cfg.SynthAPIKey,
		BaseURL: cfg.SynthBaseURL,
		Model:   cfg.SynthModel,
		Logger:  &logger,
	})
	metaToken := cfg.MetaAccessToken
	if metaToken == "" {
		creds := credentials.NewStore(pool)
		if err := creds.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("worker: failed to ensure credentials schema")
		}
		tok, err := creds.MetaAccessToken(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: failed to load meta access token")
		}
		metaToken = tok
	}
	publishClient := publish.NewClient(publish.Options{
		AccessToken: metaToken,
		AdAccountID: cfg.MetaAdAccountID,
		PageID:      cfg.MetaPageID,
		Sandbox:     cfg.MetaSandbox,
		Logger:      &logger,
	})

	coordinator, err := pipeline.New(pipeline.Options{
		Store:    jobs,
		Governor: gov,
		Executors: []stage.Executor{
			variant.New(files),
			videosynth.NewProvider(synthClient, files),
			overlay.New(files),
			publish.NewProvider(publishClient, files),
		},
		Publisher:    publisher,
		Metrics:      collector,
		Logger:       logger,
		MaxRetries:   cfg.StageMaxRetries,
		RetryBackoff: cfg.RetryBackoff,
		LeaseMaxWait: cfg.LeaseMaxWait,
		Timeouts: map[domain.StageKind]time.Duration{
			domain.StageVariant:    cfg.VariantTimeout,
			domain.StageVideoSynth: cfg.SynthTimeout,
			domain.StageOverlay:    cfg.OverlayTimeout,
			domain.StagePublish:    cfg.PublishTimeout,
		},
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to build pipeline")
	}

	w := &worker{
		id:          fmt.Sprintf("worker-%s", uuid.NewString()[:8]),
		jobs:        jobs,
		files:       files,
		coordinator: coordinator,
		logger:      logger,
		retention:   cfg.RetentionDays,
	}

	// Claims orphaned by a previous crash block recovery until released.
	if err := jobs.ResetClaims(ctx); err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to reset claims")
	}
	if pending, err := jobs.ListPending(ctx); err == nil && len(pending) > 0 {
		logger.Info().Int("count", len(pending)).Msg("worker: pending jobs found at startup")
	}

	if err := w.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	w.drain()
	logger.Info().Msg("worker: stopped")
}

// run claims jobs and drives each in its own goroutine until ctx is
// cancelled. The GPU governor serializes the expensive stage across jobs.
func (w *worker) run(ctx context.Context) error {
	w.logger.Info().Str("worker_id", w.id).Msg("worker: started")

	poll := time.NewTicker(jobPollInterval)
	defer poll.Stop()
	cleanup := time.NewTicker(cleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-cleanup.C:
			w.cleanupExpired(ctx)
		case <-poll.C:
			w.claimAvailable(ctx)
		}
	}
}

// claimAvailable drains the queue of currently claimable jobs.
func (w *worker) claimAvailable(ctx context.Context) {
	for {
		jobID, err := w.jobs.ClaimQueued(ctx, w.id)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, context.Canceled) {
				w.logger.Error().Err(err).Msg("worker: claim failed")
			}
			return
		}
		w.wg.Add(1)
		go func(id string) {
			defer w.wg.Done()
			if err := w.coordinator.Drive(ctx, id); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error().Err(err).Str("job_id", id).Msg("worker: drive failed")
			}
		}(jobID)
	}
}

func (w *worker) cleanupExpired(ctx context.Context) {
	removed, err := w.jobs.DeleteExpired(ctx, w.retention)
	if err != nil {
		w.logger.Error().Err(err).Msg("worker: job retention cleanup failed")
	} else if removed > 0 {
		w.logger.Info().Int("removed", removed).Msg("worker: expired jobs deleted")
	}

	files, err := w.files.CleanupOlderThan(ctx, time.Duration(w.retention)*24*time.Hour)
	if err != nil {
		w.logger.Error().Err(err).Msg("worker: artifact retention cleanup failed")
	} else if files > 0 {
		w.logger.Info().Int("removed", files).Msg("worker: expired artifact files deleted")
	}
}

func serveMetrics(port string, registry *prometheus.Registry, logger infra.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	logger.Info().Str("port", port).Msg("worker: metrics listening")
	if err := http.ListenAndServe(net.JoinHostPort("", port), mux); err != nil {
		logger.Error().Err(err).Msg("worker: metrics server failed")
	}
}

// drain waits for in-flight jobs to finish their current attempt.
func (w *worker) drain() {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownDeadline):
		w.logger.Warn().Msg("worker: shutdown deadline reached with jobs still in flight")
	}
}
