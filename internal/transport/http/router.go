package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-flashcall-auth/internal/config"
	"github.com/go-flashcall-auth/internal/transport/http/handler"
	appmiddleware "github.com/go-flashcall-auth/internal/transport/http/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// NewRouter builds and returns the application router. ctx bounds the
// background goroutines of the rate limiter.
func NewRouter(ctx context.Context, cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	if cfg.TrustProxyHeaders {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	sensitiveRL := appmiddleware.NewRateLimiter(ctx, rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)

	healthH := handler.NewHealthHandler()
	flashH := handler.NewFlashCallHandler(deps.FlashCall, cfg.ExposeCode)

	r.Get("/health-check/{action}", healthH.Ping)
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/flash-call", func(r chi.Router) {
		r.With(sensitiveRL.Limit).Post("/initiate", flashH.Initiate)
		r.With(sensitiveRL.Limit).Post("/verify", flashH.Verify)
		r.With(sensitiveRL.Limit).Post("/verify-caller-id", flashH.VerifyCallerID)

		if deps.ProofVerifier != nil {
			r.With(appmiddleware.Auth(deps.ProofVerifier)).Get("/proof", flashH.Proof)
		}
	})

	return r
}
