package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/handler"
	mw "github.com/khjohns/Fravik-utslippsfribyggeplass/internal/middleware"
)

type Options struct {
	AllowedOrigins []string
	Limiter        *mw.RateLimiter
	Logger         *zap.Logger
}

func New(opts Options, subH *handler.SubmissionHandler, healthH *handler.HealthHandler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.Recovery(opts.Logger))
	r.Use(mw.Logger(opts.Logger))
	r.Use(mw.CORS(opts.AllowedOrigins))

	r.Get("/health", healthH.Ready)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/Health", healthH.Live)
		r.Get("/submission", subH.Get)

		r.Group(func(r chi.Router) {
			if opts.Limiter != nil {
				r.Use(opts.Limiter.Middleware)
			}
			r.Post("/submit", subH.Submit)
		})
	})

	return r
}
