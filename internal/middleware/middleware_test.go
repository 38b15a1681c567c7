package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Code
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	_, err := uuid.Parse(seen)
	assert.NoError(t, err)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestRecovery(t *testing.T) {
	h := Recovery(zaptest.NewLogger(t))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", errorCode(t, rec))
}

func TestRecovery_RepanicsAbort(t *testing.T) {
	h := Recovery(zaptest.NewLogger(t))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestLogging_UsesRoutePattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /console/roles/{id}/edit", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	req := httptest.NewRequest(http.MethodGet, "/console/roles/7/edit", nil)
	rec := httptest.NewRecorder()
	Logging(zaptest.NewLogger(t))(mux).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "GET /console/roles/{id}/edit", req.Pattern)
}

func TestStatusRecorder_Unwrap(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, statusCode: http.StatusOK}

	require.NoError(t, http.NewResponseController(sr).Flush())
	assert.True(t, rec.Flushed)

	sr.WriteHeader(http.StatusCreated)
	sr.WriteHeader(http.StatusTeapot)
	assert.Equal(t, http.StatusCreated, sr.statusCode)
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewRateLimiter(ctx, 1, 2).Limit(okHandler)
	call := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/console/config", nil)
		req.Header.Set("X-Forwarded-For", ip+", 10.0.0.1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, call("192.0.2.1"))
	assert.Equal(t, http.StatusOK, call("192.0.2.1"))
	assert.Equal(t, http.StatusTooManyRequests, call("192.0.2.1"))
	assert.Equal(t, http.StatusOK, call("192.0.2.2"), "limits are per client")
}

func TestRateLimiter_EvictsIdle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Now()
	rl := NewRateLimiter(ctx, 1, 1)
	rl.now = func() time.Time { return now }
	rl.visitor("192.0.2.1")

	now = now.Add(visitorTTL + time.Second)
	rl.evictIdle()
	assert.Empty(t, rl.visitors)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:5555"
	assert.Equal(t, "198.51.100.7", clientIP(req))

	req.Header.Set("X-Forwarded-For", " 203.0.113.9 , 198.51.100.7")
	assert.Equal(t, "203.0.113.9", clientIP(req))
}

type fakeVerifier struct {
	claims *Claims
	err    error
}

func (f fakeVerifier) Verify(context.Context, string) (*Claims, error) { return f.claims, f.err }

func TestAuth(t *testing.T) {
	admin := &Claims{Subject: "u1", PreferredUsername: "alice", Groups: []string{"/platform-admins"}}
	tests := []struct {
		name     string
		header   string
		verifier fakeVerifier
		status   int
		code     string
	}{
		{"missing header", "", fakeVerifier{claims: admin}, http.StatusUnauthorized, "MISSING_TOKEN"},
		{"wrong scheme", "Basic dXNlcjpwdw==", fakeVerifier{claims: admin}, http.StatusUnauthorized, "INVALID_TOKEN"},
		{"bad token", "Bearer nope", fakeVerifier{err: errors.New("expired")}, http.StatusUnauthorized, "INVALID_TOKEN"},
		{"issuer down", "Bearer tok", fakeVerifier{err: &ProviderError{Err: errors.New("dial tcp")}}, http.StatusServiceUnavailable, "OIDC_UNAVAILABLE"},
		{"valid", "bearer tok", fakeVerifier{claims: admin}, http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *Claims
			h := Auth(zaptest.NewLogger(t), tt.verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = GetClaims(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/console/roles/create", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.code != "" {
				assert.Equal(t, tt.code, errorCode(t, rec))
				return
			}
			assert.Equal(t, admin, got)
		})
	}
}

func TestRequireGroups(t *testing.T) {
	h := RequireGroups(zaptest.NewLogger(t), "platform-admins")(okHandler)

	serve := func(claims *Claims) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if claims != nil {
			req = req.WithContext(WithClaims(req.Context(), claims))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, serve(nil))
	assert.Equal(t, http.StatusForbidden, serve(&Claims{Groups: []string{"developers"}}))
	assert.Equal(t, http.StatusOK, serve(&Claims{Groups: []string{"platform-admins"}}))
	assert.Equal(t, http.StatusOK, serve(&Claims{Groups: []string{"/platform-admins"}}))
}

func TestCORS(t *testing.T) {
	h := CORS("https://console.example")(okHandler)

	req := httptest.NewRequest(http.MethodOptions, "/console/config", nil)
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://console.example", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	CORS("")(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
