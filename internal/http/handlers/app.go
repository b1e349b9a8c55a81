package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"mediaforge/internal/domain"
	"mediaforge/internal/engine"
	"mediaforge/internal/infra"
	"mediaforge/internal/progress"
)

// Publisher hands accepted job ids to the worker. A nil publisher means no
// broker is configured and the worker claims pending rows from Postgres.
type Publisher interface {
	Publish(ctx context.Context, jobID string) error
}

// App bundles the dependencies shared by all HTTP handlers.
type App struct {
	Repo     domain.JobRepository
	Queue    Publisher
	Progress *progress.Store
	Pools    map[string]*engine.Pool
	Logger   infra.Logger

	validate *validator.Validate
}

func NewApp(repo domain.JobRepository, queue Publisher, progressStore *progress.Store, pools map[string]*engine.Pool, logger infra.Logger) *App {
	return &App{
		Repo:     repo,
		Queue:    queue,
		Progress: progressStore,
		Pools:    pools,
		Logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, message string) {
	a.json(w, code, map[string]string{"error": message})
}
