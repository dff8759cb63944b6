package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/hadefuwa/PLC-App-Flutter/internal/adapter/config"
	"github.com/hadefuwa/PLC-App-Flutter/internal/metrics"
	"github.com/hadefuwa/PLC-App-Flutter/pkg/logging"
	"github.com/rs/zerolog"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// Middleware holds the HTTP middleware of the API.
type Middleware struct {
	config  config.APIConfig
	logger  zerolog.Logger
	metrics *metrics.Registry
}

// NewMiddleware creates a new middleware with the given configuration.
func NewMiddleware(cfg config.APIConfig, logger zerolog.Logger, metricsReg *metrics.Registry) *Middleware {
	return &Middleware{
		config:  cfg,
		logger:  logger.With().Str("component", "api").Logger(),
		metrics: metricsReg,
	}
}

// LimitRequestBody caps the request body size.
func (m *Middleware) LimitRequestBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.config.MaxRequestBodySize > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, m.config.MaxRequestBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// CORS adds CORS headers based on configuration and answers preflight
// requests itself.
func (m *Middleware) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		allowedOrigin := ""
		if len(m.config.AllowedOrigins) == 0 {
			allowedOrigin = "*"
		} else {
			for _, o := range m.config.AllowedOrigins {
				if o == "*" || o == origin {
					allowedOrigin = origin
					break
				}
			}
		}

		if allowedOrigin == "" {
			m.logger.Warn().Str("origin", origin).Msg("CORS: origin not allowed")
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+RequestIDHeader)
		w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequestLogger assigns a request id, stores a request-scoped logger in the
// context and logs and counts every finished request.
func (m *Middleware) RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)

		logger := logging.WithRequestContext(m.logger, requestID, r.Method, r.URL.Path)
		r = r.WithContext(logger.WithContext(r.Context()))

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		m.metrics.RecordHTTPRequest(route, strconv.Itoa(status))

		event := logger.Debug()
		if status >= http.StatusBadRequest {
			event = logger.Warn()
		}
		event.
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
