package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/erauner12/articlesync-api/internal/service/syncservice"
	"github.com/erauner12/articlesync-api/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// DefaultMaxBodyBytes bounds a sync request body when Server.MaxBodyBytes is unset
const DefaultMaxBodyBytes int64 = 8 << 20

// Server holds dependencies for HTTP handlers
type Server struct {
	Svc *syncservice.Service

	// SharedSecret is compared against X-Sync-Token or a bearer token.
	// Empty disables the check.
	SharedSecret    string
	RateLimitConfig RateLimitInfo
	MaxBodyBytes    int64

	limiter *RateLimiter
}

// errorResponse is the JSON body of every non-2xx response
type errorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

// writeError writes a JSON error carrying the request's correlation ID
func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeJSON(w, code, errorResponse{
		Error:         http.StatusText(code),
		Message:       msg,
		CorrelationID: GetCorrelationID(r.Context()),
	})
}

// writeServiceError maps service and store errors to a status code and
// returns the code written
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) int {
	var verr *syncservice.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, r, http.StatusBadRequest, verr.Error())
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "article not found")
		return http.StatusNotFound
	case errors.Is(err, store.ErrUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "storage temporarily unavailable, retry the request")
		return http.StatusServiceUnavailable
	default:
		log.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("unexpected sync failure")
		writeError(w, r, http.StatusInternalServerError, "sync failed")
		return http.StatusInternalServerError
	}
}

// parseLimit parses a limit query param with default and max
func parseLimit(q string, def, max int) int {
	if q == "" {
		return def
	}
	n, err := strconv.Atoi(q)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func (s *Server) maxBodyBytes() int64 {
	if s.MaxBodyBytes > 0 {
		return s.MaxBodyBytes
	}
	return DefaultMaxBodyBytes
}

// Close stops background work started by Routes
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
		s.limiter = nil
	}
}

// Routes creates the HTTP router with all sync endpoints.
// Call Close once the router is no longer served.
func (s *Server) Routes() http.Handler {
	// A rebuilt router replaces the previous limiter
	s.Close()
	if s.RateLimitConfig.Burst > 0 {
		s.limiter = NewRateLimiter(s.RateLimitConfig)
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(CorrelationMiddleware)
	r.Use(SessionMiddleware)
	r.Use(middleware.Recoverer)

	// Health check (unauthenticated)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	})

	// Capability discovery and metrics (unauthenticated)
	r.Get("/v1/sync/info", s.Info)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(SharedSecretMiddleware(s.SharedSecret))
		r.Use(RateLimitMiddleware(s.limiter))

		// Push + pull round-trip
		r.Post("/v1/sync/{namespace}", s.Sync)
		r.Get("/v1/sync/{namespace}/changes", s.Changes)

		// Diagnostics
		r.Get("/v1/articles/{namespace}/stats", s.Stats)
		r.Get("/v1/articles/{namespace}/{id}", s.GetArticle)
	})

	log.Info().Bool("auth", s.SharedSecret != "").Msg("HTTP routes registered")
	return r
}
