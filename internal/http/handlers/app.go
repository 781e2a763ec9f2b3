package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"pageforge/internal/domain"
	"pageforge/internal/pipeline"
)

const maxBriefBytes = 1 << 20

// JobService is the job API the handlers drive.
type JobService interface {
	Submit(ctx context.Context, raw []byte) (pipeline.Submission, error)
	Observe(ctx context.Context, jobID string) (domain.JobState, error)
	Advance(ctx context.Context, jobID string) (domain.JobState, error)
	Get(ctx context.Context, jobID string) (domain.JobState, error)
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker func(ctx context.Context) error

type App struct {
	Jobs   JobService
	Assets domain.ObjectStore
	Health map[string]HealthChecker
}

func NewApp(jobs JobService, assets domain.ObjectStore) *App {
	return &App{Jobs: jobs, Assets: assets, Health: map[string]HealthChecker{}}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, errorBody{Error: errorDetail{Code: errCode, Message: message}})
}

// fail maps a service error onto the HTTP error taxonomy.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *domain.ValidationError
	var perr *domain.PersistenceError
	var pverr *domain.ProviderError
	switch {
	case errors.As(err, &verr):
		a.json(w, http.StatusBadRequest, errorBody{Error: errorDetail{Code: "validation_failed", Message: "request is invalid", Details: verr.Fields}})
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, domain.ErrUnknownProvider):
		a.error(w, http.StatusBadRequest, "unknown_provider", err.Error())
	case errors.As(err, &perr):
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("persistence failure")
		a.error(w, http.StatusServiceUnavailable, "store_unavailable", "job store is unavailable, retry later")
	case errors.As(err, &pverr):
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("text provider failure")
		a.error(w, http.StatusBadGateway, "provider_failed", pverr.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		a.error(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("unhandled error")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
