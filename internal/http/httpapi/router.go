// Package httpapi assembles the HTTP router.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"adforge/internal/http/handlers"
	"adforge/internal/middleware"
)

// Options tunes the router's middleware stack.
type Options struct {
	AllowedOrigins  []string
	RateLimitPerMin int
	DefaultLocale   string
	StaticDir       string
	Metrics         prometheus.Gatherer
}

// NewRouter mounts the API surface on a chi router.
func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimiddleware.RealIP,
		chimiddleware.Recoverer,
		middleware.Logger(app.Logger),
		middleware.CORS(opts.AllowedOrigins),
		middleware.Locale(opts.DefaultLocale),
	)
	// Only submissions are rate limited; status polling is expected to be
	// frequent while a job renders.
	limit := func(next http.Handler) http.Handler { return next }
	if opts.RateLimitPerMin > 0 {
		limit = middleware.RateLimit(opts.RateLimitPerMin, time.Minute)
	}

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/ads", func(r chi.Router) {
		r.With(limit).Post("/", app.AdsSubmit)
		r.Get("/{job_id}", app.AdStatus)
		r.Post("/{job_id}/cancel", app.AdCancel)
		r.Get("/{job_id}/artifacts", app.AdArtifacts)
		r.Get("/{job_id}/bundle", app.AdBundle)
	})

	if opts.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Metrics, promhttp.HandlerOpts{}))
	}

	if opts.StaticDir != "" {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir)))
		r.Get("/static/*", fileServer.ServeHTTP)
	}

	return r
}
