package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORSOriginMatching(t *testing.T) {
	mw := CORS(CORSConfig{
		AllowedOrigins: []string{"127.0.0.1", "localhost"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	})
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	cases := []struct {
		name    string
		origin  string
		allowed bool
	}{
		{"exact host with port", "http://127.0.0.1:5173", true},
		{"localhost", "http://localhost:3000", true},
		{"lookalike subdomain", "http://127.0.0.1.evil.example", false},
		{"host containing entry", "http://evil-localhost.example", false},
		{"unrelated host", "http://example.com", false},
		{"unparseable origin", "http://[::1", false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", tc.origin)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		got := rec.Header().Get("Access-Control-Allow-Origin")
		if tc.allowed && got != tc.origin {
			t.Fatalf("%s: allow-origin = %q, want %q", tc.name, got, tc.origin)
		}
		if !tc.allowed && got != "" {
			t.Fatalf("%s: origin %q was admitted", tc.name, tc.origin)
		}
	}
}

func TestCORSWildcard(t *testing.T) {
	mw := CORS(CORSConfig{AllowedOrigins: []string{"*"}})
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://anywhere.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://anywhere.example" {
		t.Fatalf("allow-origin = %q, want the request origin", got)
	}
}
