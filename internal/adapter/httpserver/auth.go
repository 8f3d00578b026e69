package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/fairyhunter13/pagebroker/internal/domain"
)

type callerKey struct{}

// CallerFrom returns the authenticated credential attached by the auth
// middleware. The second return is false on unauthenticated routes.
func CallerFrom(r *http.Request) (domain.Key, bool) {
	v := r.Context().Value(callerKey{})
	if v == nil {
		return domain.Key{}, false
	}
	k, ok := v.(domain.Key)
	return k, ok
}

// extractAPIKey pulls the plaintext key from the request. Precedence:
// X-API-Key header, then api_key query parameter, then api_key cookie.
func extractAPIKey(r *http.Request) string {
	if v := r.Header.Get("X-API-Key"); v != "" {
		return v
	}
	if v := r.URL.Query().Get("api_key"); v != "" {
		return v
	}
	if c, err := r.Cookie("api_key"); err == nil && c.Value != "" {
		return c.Value
	}
	return ""
}

// Authenticate resolves the request credential, applies the per-key rate
// limit and stores the caller in the request context. Unauthenticated
// requests stop here with 401.
func (s *Server) Authenticate() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, err := s.Keys.Authenticate(r.Context(), extractAPIKey(r))
			if err != nil {
				writeError(w, r, err, nil)
				return
			}
			if s.Limiter != nil {
				allowed, retryAfter, lerr := s.Limiter.Allow(r.Context(), caller.ID, 1)
				if lerr == nil && !allowed {
					if retryAfter > 0 {
						w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter/time.Second)+1))
					}
					writeError(w, r, fmt.Errorf("op=ratelimit key=%s: %w", caller.ID, domain.ErrRateLimited), nil)
					return
				}
			}
			ctx := context.WithValue(r.Context(), callerKey{}, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
