package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRequestID(t *testing.T) {
	t.Run("generates_id_when_missing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/", nil)
		RequestID(okHandler).ServeHTTP(rec, req)
		assert.Len(t, rec.Header().Get("X-Request-ID"), 16)
	})

	t.Run("preserves_provided_id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-Request-ID", "my-custom-id")
		RequestID(okHandler).ServeHTTP(rec, req)
		assert.Equal(t, "my-custom-id", rec.Header().Get("X-Request-ID"))
	})
}

func TestCORSWithOrigins(t *testing.T) {
	t.Run("wildcard_when_no_origins_configured", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Origin", "https://anywhere.example")
		CORSWithOrigins(nil)(okHandler).ServeHTTP(rec, req)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("allowed_origin_echoed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Origin", "https://ok.example")
		CORSWithOrigins([]string{"https://ok.example"})(okHandler).ServeHTTP(rec, req)
		assert.Equal(t, "https://ok.example", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("disallowed_origin_options_forbidden", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("OPTIONS", "/", nil)
		req.Header.Set("Origin", "https://evil.example")
		CORSWithOrigins([]string{"https://ok.example"})(okHandler).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("disallowed_origin_non_options_passes_through", func(t *testing.T) {
		called := false
		inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Origin", "https://evil.example")
		CORSWithOrigins([]string{"https://ok.example"})(inner).ServeHTTP(rec, req)
		assert.True(t, called, "expected inner handler to run for a non-preflight request")
	})
}

func TestRateLimiter(t *testing.T) {
	mw := RateLimiter(1, 1)(okHandler)

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "203.0.113.1:5555"

	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "first request")

	rec = httptest.NewRecorder()
	mw.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code, "second immediate request")
}

func TestMaxBodySize(t *testing.T) {
	mw := MaxBodySize(4)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 1024)
		if _, err := r.Body.Read(buf); err == nil {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusRequestEntityTooLarge)
	}))

	req := httptest.NewRequest("POST", "/", strings.NewReader("way too many bytes"))
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestClientIP(t *testing.T) {
	t.Run("x_forwarded_for_first_hop", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-Forwarded-For", "198.51.100.5, 10.0.0.1")
		assert.Equal(t, "198.51.100.5", clientIP(req))
	})

	t.Run("falls_back_to_remote_addr", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = "192.0.2.9:1234"
		assert.Equal(t, "192.0.2.9", clientIP(req))
	})
}
