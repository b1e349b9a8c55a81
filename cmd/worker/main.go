package main

import (
	"context"
	"errors"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"mediaforge/internal/adapter/repo"
	"mediaforge/internal/domain"
	"mediaforge/internal/engine"
	"mediaforge/internal/infra"
	"mediaforge/internal/progress"
	"mediaforge/internal/providers/gemini"
	"mediaforge/internal/providers/speech"
	"mediaforge/internal/providers/wan"
	"mediaforge/internal/queue"
	"mediaforge/internal/storage"
)

const (
	claimInterval = 2 * time.Second

	// Stale jobs are processing rows whose runner died without reaching a
	// terminal state. The threshold sits above the longest job ceiling so a
	// healthy long-running video job is never swept.
	staleAfter    = 45 * time.Minute
	sweepInterval = 5 * time.Minute
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	jobRepo := repo.NewJobRepository(dbpool)
	if err := jobRepo.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to ensure database schema")
	}

	keyfile, err := infra.LoadKeyfile(cfg.CredentialFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load credential file")
	}
	pools := buildPools(cfg, keyfile)
	if len(pools) == 0 {
		logger.Fatal().Msg("no provider credentials configured")
	}

	blobs, err := buildBlobStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize blob store")
	}

	var progressStore *progress.Store
	if cfg.RedisAddr != "" {
		progressStore = progress.NewStore(redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		}))
	}

	geminiClient := gemini.NewClient(gemini.Options{
		BaseURL: cfg.GeminiBaseURL,
		Model:   cfg.GeminiModel,
		Logger:  &logger,
	})
	adapters := map[domain.JobKind]engine.Adapter{
		domain.JobKindVideo: wan.NewClient(wan.Options{BaseURL: cfg.WanBaseURL, Logger: &logger}),
		domain.JobKindImage: geminiClient,
		// Composite jobs describe multi-part outputs; the streaming model
		// handles them with the same contract as images.
		domain.JobKindComposite: geminiClient,
		domain.JobKindSpeech:    speech.NewClient(speech.Options{BaseURL: cfg.SpeechBaseURL, Logger: &logger}),
	}

	runner, err := engine.NewRunner(engine.RunnerOptions{
		Repo:           jobRepo,
		Blobs:          blobs,
		Progress:       progressStore,
		Adapters:       adapters,
		Pools:          pools,
		Backoff:        engine.Backoff{Base: cfg.BackoffBase, Budget: cfg.RetryBudget, DegradeAfter: 2},
		Logger:         &logger,
		AttemptTimeout: cfg.AttemptTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build runner")
	}

	handle := func(ctx context.Context, jobID string) error {
		job, err := jobRepo.GetByID(ctx, jobID)
		if err != nil {
			return err
		}
		if job.Status.Terminal() {
			return nil
		}
		return runner.Run(ctx, job)
	}

	go sweepStalled(ctx, jobRepo, logger)

	if cfg.AMQPURL != "" {
		client, err := queue.Dial(queue.Options{URL: cfg.AMQPURL, QueueName: cfg.DispatchQueue, Logger: &logger})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect dispatch queue")
		}
		defer client.Close()

		logger.Info().Int("concurrency", cfg.WorkerConcurrency).Msg("worker consuming dispatch queue")
		if err := client.Consume(ctx, cfg.WorkerConcurrency, handle); err != nil && !errors.Is(err, context.Canceled) {
			logger.Fatal().Err(err).Msg("dispatch queue consumer failed")
		}
	} else {
		logger.Info().Int("concurrency", cfg.WorkerConcurrency).Msg("worker claiming jobs from database")
		claimLoop(ctx, cfg.WorkerConcurrency, jobRepo, runner, logger)
	}

	logger.Info().Msg("worker stopped")
}

// claimLoop runs concurrency goroutines that each claim one pending job at a
// time straight from Postgres. FOR UPDATE SKIP LOCKED in the claim query keeps
// multiple workers from picking the same row.
func claimLoop(ctx context.Context, concurrency int, jobRepo *repo.JobRepositoryPG, runner *engine.Runner, logger infra.Logger) {
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := jobRepo.ClaimPending(ctx)
				if err != nil {
					if errors.Is(err, domain.ErrNotFound) {
						select {
						case <-ctx.Done():
							return
						case <-time.After(claimInterval):
						}
						continue
					}
					if ctx.Err() != nil {
						return
					}
					logger.Error().Err(err).Msg("worker: claim pending job failed")
					select {
					case <-ctx.Done():
						return
					case <-time.After(claimInterval):
					}
					continue
				}
				if err := runner.Run(ctx, job); err != nil {
					logger.Error().Err(err).Str("job_id", job.ID).Msg("worker: job failed")
				}
			}
		}()
	}
	wg.Wait()
}

func sweepStalled(ctx context.Context, jobRepo *repo.JobRepositoryPG, logger infra.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept, err := jobRepo.FailStalled(ctx, staleAfter)
			if err != nil {
				logger.Error().Err(err).Msg("worker: stale job sweep failed")
				continue
			}
			if swept > 0 {
				logger.Warn().Int64("count", swept).Msg("worker: failed stalled jobs")
			}
		}
	}
}

func buildBlobStore(cfg *infra.Config) (engine.BlobStore, error) {
	if cfg.S3Endpoint != "" {
		return storage.NewS3Store(storage.S3Options{
			Endpoint:   cfg.S3Endpoint,
			AccessKey:  cfg.S3AccessKey,
			SecretKey:  cfg.S3SecretKey,
			Bucket:     cfg.S3Bucket,
			UseSSL:     cfg.S3UseSSL,
			PublicBase: cfg.S3PublicBase,
		})
	}
	return storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
}

func buildPools(cfg *infra.Config, keyfile *infra.Keyfile) map[string]*engine.Pool {
	pools := map[string]*engine.Pool{}
	for provider, keys := range map[string][]string{
		"wan":    keyfile.Keys("wan", cfg.WanAPIKey),
		"gemini": keyfile.Keys("gemini", cfg.GeminiAPIKey),
		"speech": keyfile.Keys("speech", cfg.SpeechAPIKey),
	} {
		if len(keys) == 0 {
			continue
		}
		pools[provider] = engine.NewPool(engine.PoolOptions{Provider: provider, Secrets: keys})
	}
	return pools
}
