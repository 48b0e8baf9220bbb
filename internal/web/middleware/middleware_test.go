package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/JonMunkholm/hpsync/internal/config"
	"github.com/JonMunkholm/hpsync/internal/core"
)

func TestTrustedRealIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		realIP     string
		forwarded  string
		want       string
	}{
		{"untrusted keeps connection address", "203.0.113.7:4567", "198.51.100.1", "", "203.0.113.7"},
		{"trusted uses X-Real-IP", "10.1.2.3:4567", "198.51.100.1", "", "198.51.100.1"},
		{"trusted uses first forwarded entry", "10.1.2.3:4567", "", "198.51.100.2, 10.0.0.1", "198.51.100.2"},
		{"trusted bare address", "192.168.1.10:80", "198.51.100.3", "", "198.51.100.3"},
		{"invalid header ignored", "10.1.2.3:4567", "not-an-ip", "", "10.1.2.3"},
	}

	mw := TrustedRealIP([]string{"10.0.0.0/8", "192.168.1.10", "bogus"})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := mw(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) { got = r.RemoteAddr }))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)

			if got != tt.want {
				t.Errorf("RemoteAddr = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAPIKeyAuth(t *testing.T) {
	tests := []struct {
		name   string
		cfg    config.SecurityConfig
		key    string
		status int
	}{
		{"disabled", config.SecurityConfig{}, "", http.StatusOK},
		{"missing key", config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"k1"}}, "", http.StatusUnauthorized},
		{"wrong key", config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"k1"}}, "k2", http.StatusForbidden},
		{"second key", config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"k1", "k2"}}, "k2", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := APIKeyAuth(&tt.cfg)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			req := httptest.NewRequest(http.MethodGet, "/api/imports", nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}

func TestActor(t *testing.T) {
	tests := []struct {
		name   string
		header string
		status int
		want   int64
	}{
		{"defaults to system actor", "", http.StatusOK, 2},
		{"header", "17", http.StatusOK, 17},
		{"not a number", "admin", http.StatusBadRequest, 0},
		{"not positive", "0", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got int64
			h := Actor(2)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				got = core.ActorIDFromContext(r.Context(), -1)
			}))
			req := httptest.NewRequest(http.MethodPost, "/api/imports/1/run", nil)
			if tt.header != "" {
				req.Header.Set(ActorHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if got != tt.want {
				t.Errorf("actor = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestLogger_CapturesStatus(t *testing.T) {
	h := Logger(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hi"))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
}
