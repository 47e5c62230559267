package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/iago/vidai-studio/internal/ai"
	"github.com/iago/vidai-studio/internal/config"
	"github.com/iago/vidai-studio/internal/fetch"
	"github.com/iago/vidai-studio/internal/media"
	"github.com/iago/vidai-studio/internal/progress"
	"github.com/iago/vidai-studio/internal/queue"
	"github.com/iago/vidai-studio/internal/repository"
	"github.com/iago/vidai-studio/internal/retry"
	"github.com/iago/vidai-studio/internal/service"
	"github.com/iago/vidai-studio/internal/worker"
)

// Runtime is the wired pipeline shared by the API server and the CLI.
type Runtime struct {
	Jobs      *service.JobsService
	Settings  *service.SettingsService
	Processor *worker.Processor
	Streams   *queue.StreamsPublisher

	ctx     context.Context
	cancel  context.CancelFunc
	closers []func()
}

// Context lives until Close; background helpers outside the pipeline, such
// as the rate limiter sweeper, stop with it.
func (r *Runtime) Context() context.Context {
	return r.ctx
}

// Build wires stores, the progress mirror, the media chain, the Gemini
// analyzer and the processor from cfg. Optional backends fall back to local
// ones when they are not configured or unreachable.
func Build(ctx context.Context, cfg config.Config, logger *log.Logger) (*Runtime, error) {
	runtime := &Runtime{}

	if err := os.MkdirAll(filepath.Dir(cfg.SettingsFile), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	settingsRepo, err := repository.NewFileSettingsRepository(cfg.SettingsFile, logger)
	if err != nil {
		return nil, fmt.Errorf("open settings: %w", err)
	}
	historyRepo, err := runtime.setupHistory(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	mirror := runtime.setupMirror(ctx, cfg, logger)
	broker := progress.NewBroker(progress.BrokerConfig{Mirror: mirror, Logger: logger})

	resolver := media.NewCachingResolver(media.Chain{
		media.DirectResolver{},
		media.NewYtDlpResolver(media.YtDlpConfig{BinaryPath: cfg.YtDlpPath, Timeout: cfg.ResolveTimeout}),
	}, media.CacheConfig{TTL: cfg.ResolveCacheTTL, MaxEntries: cfg.ResolveCacheItems})

	fetcher := fetch.NewFetcher(fetch.Config{
		Resolver:        resolver,
		Transcoder:      fetch.NewFFmpegTranscoder(fetch.FFmpegConfig{BinaryPath: cfg.FFmpegPath, Timeout: cfg.TranscodeTimeout}),
		TempDir:         cfg.TempDir,
		DownloadTimeout: cfg.DownloadTimeout,
		MaxRetries:      cfg.FetchMaxRetries,
		Logger:          logger,
	})

	catalog := ai.NewModelCatalog(ai.ModelCatalogConfig{
		DefaultModel:  cfg.DefaultModel,
		FallbackModel: cfg.FallbackModel,
		Models:        cfg.GeminiModels,
	})
	analyzer := ai.NewAnalyzer(ai.AnalyzerConfig{
		Client: ai.NewGeminiClient(ai.GeminiClientConfig{
			BaseURL:        cfg.GeminiBaseURL,
			RequestTimeout: cfg.GeminiRequestTimeout,
			UploadTimeout:  cfg.GeminiUploadTimeout,
			MaxRetries:     cfg.GeminiMaxRetries,
		}),
		Catalog:        catalog,
		MaxUploadBytes: cfg.MaxUploadBytes,
		PollPolicy: retry.Policy{
			Initial: cfg.GeminiPollInitial,
			Max:     cfg.GeminiPollMax,
			MaxWait: cfg.GeminiPollMaxWait,
		},
		Logger: logger,
	})

	runtime.Processor = worker.NewProcessor(worker.Config{
		Fetcher:         fetcher,
		Backend:         analyzer,
		History:         historyRepo,
		Broker:          broker,
		OutputDir:       cfg.OutputDir,
		DownloadWorkers: cfg.DownloadWorkers,
		JobTimeout:      cfg.JobTimeout,
		Logger:          logger,
	})
	runtime.Jobs = service.NewJobsService(service.JobsDependencies{
		Processor: runtime.Processor,
		History:   historyRepo,
		Settings:  settingsRepo,
		Catalog:   catalog,
		Logger:    logger,
	})
	runtime.Settings = service.NewSettingsService(settingsRepo, catalog, logger)
	runtime.ctx, runtime.cancel = context.WithCancel(context.Background())
	return runtime, nil
}

// Close stops the processor first so terminal events still reach the mirror.
func (r *Runtime) Close(ctx context.Context) error {
	err := r.Processor.Shutdown(ctx)
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.cancel()
	return err
}

func (r *Runtime) setupHistory(ctx context.Context, cfg config.Config, logger *log.Logger) (repository.HistoryRepository, error) {
	if cfg.DatabaseURL != "" {
		pgRepo, err := repository.NewPostgresHistoryRepository(ctx, cfg.DatabaseURL, cfg.HistoryMaxItems)
		if err == nil {
			logger.Printf("postgres history repository initialized")
			r.closers = append(r.closers, pgRepo.Close)
			return pgRepo, nil
		}
		logger.Printf("failed to initialize postgres history, fallback to file: %v", err)
	}

	fileRepo, err := repository.OpenFileHistoryRepository(cfg.HistoryFile, cfg.HistoryMaxItems, logger)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	logger.Printf("file history repository path=%s max_items=%d", fileRepo.Path(), cfg.HistoryMaxItems)
	return fileRepo, nil
}

func (r *Runtime) setupMirror(ctx context.Context, cfg config.Config, logger *log.Logger) progress.Mirror {
	if cfg.RedisAddr == "" {
		logger.Printf("REDIS_ADDR not configured, progress stays in process")
		return nil
	}

	streams, err := queue.NewStreamsPublisher(ctx, queue.StreamsConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Stream:   cfg.RedisProgressStream,
		MaxLen:   cfg.RedisStreamMaxLen,
	})
	if err != nil {
		logger.Printf("failed to initialize redis progress stream, continuing without mirror: %v", err)
		return nil
	}
	r.Streams = streams

	batching := queue.NewBatchingPublisher(context.Background(), streams, queue.BatchingConfig{
		MaxBatchSize:  cfg.ProgressBatchSize,
		FlushInterval: cfg.ProgressBatchFlush,
		QueueCapacity: cfg.ProgressBatchCapacity,
		Logger:        logger,
	})
	r.closers = append(r.closers, func() { _ = streams.Close() }, batching.Close)
	logger.Printf("redis progress stream initialized stream=%s", cfg.RedisProgressStream)
	return batching
}
