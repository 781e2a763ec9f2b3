package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"pageforge/internal/http/handlers"
	"pageforge/internal/infra"
	"pageforge/internal/middleware"
)

type RouterOptions struct {
	Logger             infra.Logger
	RateLimitPerMinute int
	CORSAllowedOrigins []string
}

func NewRouter(app *handlers.App, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		middleware.Logger(opts.Logger),
		chimw.Recoverer,
		middleware.CORS(opts.CORSAllowedOrigins),
	)

	r.Get("/v1/healthz", app.Healthz)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)

	r.Route("/v1/jobs", func(r chi.Router) {
		r.With(middleware.RateLimit(opts.RateLimitPerMinute, time.Minute)).Post("/", app.SubmitJob)
		r.Get("/{id}", app.GetJob)
		r.Get("/{id}/status", app.JobStatus)
		r.Post("/{id}/process", app.ProcessJob)
	})

	r.Get("/assets/*", app.ServeAsset)
	r.Head("/assets/*", app.ServeAsset)

	return r
}
