// Package http exposes the service over HTTP: the JSON API under /api/v1,
// the public redirect route, and the operational endpoints (health, readiness,
// metrics).
package http

import (
	"context"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shortapp/shortener/internal/entity"
	"github.com/shortapp/shortener/internal/service"
)

// URLService is the lifecycle surface the handlers depend on.
type URLService interface {
	Create(ctx context.Context, params entity.CreateShortURLParams) (*entity.ShortURL, error)
	Redirect(ctx context.Context, shortCode string) (*entity.ShortURL, error)
	Get(ctx context.Context, shortCode string) (*entity.ShortURL, error)
	List(ctx context.Context, limit int) ([]*entity.ShortURL, error)
	Stats(ctx context.Context, shortCode string) (*service.Stats, error)
	SoftDelete(ctx context.Context, shortCode string) error
	Restore(ctx context.Context, shortCode string) error
}

// ReadinessCheck reports whether one backing dependency is reachable.
type ReadinessCheck func(ctx context.Context) error

func getValidate() *validator.Validate {
	validate := validator.New()

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return validate
}

// NewRouter assembles the HTTP surface. registry may be nil, which disables
// the /metrics endpoint; checks may be empty, which makes /readiness always
// report ready.
func NewRouter(logger *httplog.Logger, svc URLService, registry *prometheus.Registry, checks map[string]ReadinessCheck) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*"},
		AllowedMethods:   []string{"POST", "GET", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Accept"},
		AllowCredentials: false,
		MaxAge:           84600,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httplog.RequestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)
	r.Get("/readiness", handleReadiness(checks))

	if registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json"))

		validate := getValidate()

		r.Get("/ping", handlePing)

		r.Route("/short_urls", func(r chi.Router) {
			r.Post("/", handleCreateShortURL(svc, validate))
			r.Get("/", handleListShortURLs(svc))

			r.Route("/{shortCode}", func(r chi.Router) {
				r.Get("/", handleGetShortURL(svc))
				r.Delete("/", handleDeleteShortURL(svc))
				r.Get("/stats", handleGetShortURLStats(svc))
				r.Post("/restore", handleRestoreShortURL(svc))
			})
		})
	})

	r.Get("/{shortCode:[A-Za-z0-9]+}", handleRedirect(svc))

	return r
}
