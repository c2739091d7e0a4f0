package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"
)

// rejectionBody is the JSON payload returned with a 429. RetryAfter is
// delta-seconds until the window resets, the same value as the Retry-After
// header.
type rejectionBody struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	RetryAfter int64  `json:"retryAfter"`
}

// ClientKeyFunc extracts the client identity a request is limited by.
type ClientKeyFunc func(r *http.Request) string

// DefaultClientKey identifies clients by API key header, then forwarded
// address, then remote address. Returns "" when nothing is usable, which the
// service maps to the shared unknown-client window.
func DefaultClientKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware gates every request through the rate limiter. Admitted requests
// carry X-RateLimit-* headers; rejected requests get a 429 with a JSON body
// and a Retry-After header. keyFunc may be nil, in which case DefaultClientKey
// is used.
func (s *Service) Middleware(keyFunc ClientKeyFunc) func(http.Handler) http.Handler {
	if keyFunc == nil {
		keyFunc = DefaultClientKey
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result := s.Check(r.Context(), keyFunc(r))

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(s.defaults.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.UnixMilli(), 10))

			if !result.Allowed {
				wait := time.Until(result.ResetAt)
				if wait < 0 {
					wait = 0
				}
				retryAfter := int64(wait.Seconds()) + 1
				h.Set("Retry-After", strconv.FormatInt(retryAfter, 10))
				h.Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(rejectionBody{
					Status:     "error",
					Message:    "rate limit exceeded",
					RetryAfter: retryAfter,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
