package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"mediaforge/internal/adapter/repo"
	"mediaforge/internal/engine"
	httpapi "mediaforge/internal/http"
	"mediaforge/internal/http/handlers"
	"mediaforge/internal/infra"
	"mediaforge/internal/progress"
	"mediaforge/internal/queue"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "api")

	ctx := context.Background()
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

	var publisher handlers.Publisher
	if cfg.AMQPURL != "" {
		client, err := queue.Dial(queue.Options{URL: cfg.AMQPURL, QueueName: cfg.DispatchQueue, Logger: &logger})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect dispatch queue")
		}
		defer client.Close()
		publisher = client
	} else {
		logger.Info().Msg("no AMQP_URL configured, worker will claim jobs from database")
	}

	var progressStore *progress.Store
	if cfg.RedisAddr != "" {
		progressStore = progress.NewStore(redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		}))
	}

	app := handlers.NewApp(jobRepo, publisher, progressStore, pools, logger)
	server := infra.NewHTTPServer(cfg, logger, httpapi.NewRouter(app))

	go func() {
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
