package ratelimit_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-catalog-infra/pkg/keyvalue"
	"github.com/illmade-knight/go-catalog-infra/pkg/ratelimit"
)

func newGatedHandler(t *testing.T, limit int) http.Handler {
	t.Helper()
	store := keyvalue.NewMemoryStore()
	svc, err := ratelimit.NewService(store, ratelimit.WindowConfig{Limit: limit, WindowSize: time.Minute}, zerolog.Nop())
	require.NoError(t, err)

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("catalog"))
	})
	return svc.Middleware(nil)(next)
}

func doRequest(handler http.Handler, apiKey string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/products", nil)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_AdmittedRequestCarriesHeaders(t *testing.T) {
	handler := newGatedHandler(t, 5)

	rec := doRequest(handler, "key-1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "catalog", rec.Body.String())
	assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "4", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
}

func TestMiddleware_RejectsOverCeilingWithJSONBody(t *testing.T) {
	handler := newGatedHandler(t, 2)

	doRequest(handler, "key-1")
	doRequest(handler, "key-1")
	rec := doRequest(handler, "key-1")

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	var body struct {
		Status     string `json:"status"`
		Message    string `json:"message"`
		RetryAfter int64  `json:"retryAfter"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "error", body.Status)
	assert.NotEmpty(t, body.Message)
	assert.Greater(t, body.RetryAfter, int64(0))

	headerSeconds, err := strconv.ParseInt(rec.Header().Get("Retry-After"), 10, 64)
	require.NoError(t, err)
	assert.Equal(t, headerSeconds, body.RetryAfter, "body retryAfter matches the Retry-After header, in seconds")

	t.Run("a different client is unaffected", func(t *testing.T) {
		rec := doRequest(handler, "key-2")
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestDefaultClientKey(t *testing.T) {
	t.Run("prefers the API key header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-API-Key", "abc")
		req.Header.Set("X-Forwarded-For", "203.0.113.9")
		assert.Equal(t, "abc", ratelimit.DefaultClientKey(req))
	})

	t.Run("falls back to the forwarded address", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.9")
		assert.Equal(t, "203.0.113.9", ratelimit.DefaultClientKey(req))
	})

	t.Run("falls back to the remote address", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "198.51.100.7:4242"
		assert.Equal(t, "198.51.100.7", ratelimit.DefaultClientKey(req))
	})
}
