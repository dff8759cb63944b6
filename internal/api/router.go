package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hadefuwa/PLC-App-Flutter/internal/adapter/config"
	"github.com/hadefuwa/PLC-App-Flutter/internal/domain"
	"github.com/hadefuwa/PLC-App-Flutter/internal/health"
	"github.com/hadefuwa/PLC-App-Flutter/internal/metrics"
	"github.com/rs/zerolog"
)

// Options configures the router.
type Options struct {
	Session Session

	// Defaults fill in connect requests that omit ip, rack or slot
	Defaults domain.Target

	API     config.APIConfig
	Health  *health.HealthChecker
	Metrics *metrics.Registry

	// MetricsHandler serves /metrics when set
	MetricsHandler http.Handler

	Logger zerolog.Logger
}

// NewRouter creates the HTTP router: the /api routes used by the app plus
// the health and metrics endpoints.
func NewRouter(opts Options) chi.Router {
	mw := NewMiddleware(opts.API, opts.Logger, opts.Metrics)
	h := &handlers{
		session:  opts.Session,
		defaults: opts.Defaults,
		logger:   opts.Logger.With().Str("component", "api").Logger(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(mw.RequestLogger)
	r.Use(mw.CORS)
	r.Use(mw.LimitRequestBody)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.handleHealth)
		r.Get("/status", h.handleStatus)
		r.Get("/stats", h.handleStats)
		r.Post("/connect", h.handleConnect)
		r.Post("/disconnect", h.handleDisconnect)

		r.Route("/read", func(r chi.Router) {
			r.Post("/db", h.handleReadTyped)
			r.Post("/db/real", h.handleReadDBReal)
			r.Post("/db/int", h.handleReadDBInt)
			r.Post("/db/bool", h.handleReadDBBool)
			r.Post("/m/bit", h.handleReadMBit)
			r.Post("/area", h.handleReadArea)
			r.Post("/tag", h.handleReadTag)
		})

		r.Route("/write", func(r chi.Router) {
			r.Post("/db", h.handleWriteTyped)
			r.Post("/db/real", h.handleWriteDBReal)
			r.Post("/db/int", h.handleWriteDBInt)
			r.Post("/db/bool", h.handleWriteDBBool)
			r.Post("/m/bit", h.handleWriteMBit)
			r.Post("/area", h.handleWriteArea)
			r.Post("/tag", h.handleWriteTag)
		})
	})

	if opts.Health != nil {
		r.Get("/health", opts.Health.HealthHandler)
		r.Get("/health/live", opts.Health.LivenessHandler)
		r.Get("/health/ready", opts.Health.ReadinessHandler)
	}
	if opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", opts.MetricsHandler)
	}

	return r
}
