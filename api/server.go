/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind the store gateway
  3. Logger:     zerolog request line (method, path, status, latency)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the back-office UI
  6. httprate:   Per-IP request limit (disabled at 0)

ROUTE GROUPS:
  /healthz              Liveness and store ping (no auth)
  /metrics              Prometheus scrape endpoint (no auth)
  /api/*                Till API, operator identity required (auth.go)

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// RouterConfig holds the router's knobs.
type RouterConfig struct {
	JWTSecret          string
	CORSOrigins        []string
	RateLimitPerMinute int
	Logger             zerolog.Logger

	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
	// Health is pinged by /healthz. Nil reports healthy.
	Health func(ctx context.Context) error
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", OperatorHeader},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if cfg.RateLimitPerMinute > 0 {
		r.Use(httprate.LimitByIP(cfg.RateLimitPerMinute, time.Minute))
	}

	r.Get("/healthz", healthHandler(cfg.Health))
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.JWTSecret))

		// Terminal routes
		r.Route("/terminals/{id}", func(r chi.Router) {
			r.Get("/", h.GetTerminal)
			r.Get("/shift", h.GetActiveShift)
			r.Get("/session", h.GetActiveSession)
			r.Get("/shifts", h.ListShiftHistory)
			r.Get("/sessions", h.ListSessionHistory)
			r.Get("/can-start-session", h.CanStartSession)
		})

		// Shift routes
		r.Route("/shifts", func(r chi.Router) {
			r.Post("/", h.StartShift)
			r.Get("/{id}", h.GetShift)
			r.Get("/{id}/can-close", h.CanCloseShift)
			r.Post("/{id}/close", h.CloseShift)
		})

		// Session routes
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.StartSession)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetSession)
				r.Post("/sales", h.RecordSale)
				r.Get("/can-close", h.CanCloseSession)
				r.Get("/preconditions", h.SettlementPreconditions)
				r.Post("/close", h.CloseSession)

				// Settlement routes
				r.Route("/settlement", func(r chi.Router) {
					r.Get("/", h.GetSettlement)
					r.Put("/denominations", h.SetDenominations)
					r.Post("/interim", h.RecordInterim)
					r.Post("/adjustments", h.AddAdjustment)
					r.Delete("/adjustments/{adjID}", h.RemoveAdjustment)
					r.Put("/reason", h.SelectVarianceReason)
				})
			})
		})

		r.Get("/variance-reasons", h.ListVarianceReasons)
	})

	return r
}

func healthHandler(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				writeError(w, http.StatusServiceUnavailable, "unhealthy", err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// requestLogger logs each request with method, path, status, latency, and
// request id.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			ev := logger.Info()
			if status >= http.StatusInternalServerError {
				ev = logger.Error()
			}
			ev.Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("latency", time.Since(start)).
				Msg("request")
		})
	}
}
