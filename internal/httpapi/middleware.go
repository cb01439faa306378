package httpapi

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type contextKey string

const (
	sessionIDKey     contextKey = "sessionId"
	correlationIDKey contextKey = "correlationId"
)

// SessionMiddleware reads X-Sync-Session header and adds it to context
// This allows correlation of the several round-trips of one client sync run
func SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.Header.Get("X-Sync-Session")

		if sessionID != "" {
			ctx := context.WithValue(r.Context(), sessionIDKey, sessionID)

			// Build session logger from existing contextual logger (preserves correlation ID)
			logger := log.Ctx(ctx).With().Str("sessionId", sessionID).Logger()
			ctx = logger.WithContext(ctx)

			r = r.WithContext(ctx)
		}

		next.ServeHTTP(w, r)
	})
}

// GetSessionID retrieves the session ID from context
func GetSessionID(ctx context.Context) string {
	if sessionID, ok := ctx.Value(sessionIDKey).(string); ok {
		return sessionID
	}
	return ""
}

// CorrelationMiddleware reads X-Correlation-ID header and adds it to context
// Generates a new correlation ID if client doesn't provide one
func CorrelationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		// Echo back for client verification
		w.Header().Set("X-Correlation-ID", correlationID)

		ctx := context.WithValue(r.Context(), correlationIDKey, correlationID)

		logger := log.With().Str("correlation_id", correlationID).Logger()
		ctx = logger.WithContext(ctx)

		r = r.WithContext(ctx)
		next.ServeHTTP(w, r)
	})
}

// GetCorrelationID retrieves the correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	if correlationID, ok := ctx.Value(correlationIDKey).(string); ok {
		return correlationID
	}
	return ""
}

// SharedSecretMiddleware rejects requests whose token does not match secret.
// The token is read from X-Sync-Token, falling back to Authorization: Bearer.
// An empty secret disables the check.
func SharedSecretMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		want := []byte(secret)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get("X-Sync-Token")
			if token == "" {
				if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
					token = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
				}
			}

			if subtle.ConstantTimeCompare([]byte(token), want) != 1 {
				log.Ctx(r.Context()).Warn().
					Str("path", r.URL.Path).
					Bool("token_present", token != "").
					Msg("rejected request with invalid sync token")
				writeError(w, r, http.StatusUnauthorized, "missing or invalid sync token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
