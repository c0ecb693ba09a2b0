package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestObservabilityLogsRoutePattern(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	obs := NewObservability("openrated-test", logger, nil, true)

	router := chi.NewRouter()
	router.Use(obs.Middleware)
	router.Get("/v1/bids/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/bids/0xabc", nil))
	if res.Code != http.StatusTeapot {
		t.Fatalf("unexpected status %d", res.Code)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("decode log: %v (%s)", err, buf.String())
	}
	if entry["route"] != "/v1/bids/{id}" {
		t.Fatalf("expected route pattern, got %v", entry["route"])
	}
	if status, _ := entry["status"].(float64); int(status) != http.StatusTeapot {
		t.Fatalf("expected status 418, got %v", entry["status"])
	}
}

func TestObservabilityQuietWhenLoggingDisabled(t *testing.T) {
	var buf bytes.Buffer
	obs := NewObservability("", slog.New(slog.NewTextHandler(&buf, nil)), nil, false)
	obs.Middleware(okHandler()).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if strings.TrimSpace(buf.String()) != "" {
		t.Fatalf("expected no access log, got %q", buf.String())
	}
}

func TestCORS(t *testing.T) {
	handler := CORS(CORSConfig{AllowedOrigins: []string{"https://app.example"}})(okHandler())

	preflight := httptest.NewRequest(http.MethodOptions, "/v1/bids", nil)
	preflight.Header.Set("Origin", "https://app.example")
	preflight.Header.Set("Access-Control-Request-Method", http.MethodPost)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, preflight)
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", res.Code)
	}
	if res.Header().Get("Access-Control-Allow-Origin") != "https://app.example" {
		t.Fatalf("missing allow-origin header")
	}
	if !strings.Contains(res.Header().Get("Access-Control-Allow-Headers"), "X-Signature") {
		t.Fatalf("signature header not allowed: %q", res.Header().Get("Access-Control-Allow-Headers"))
	}

	foreign := httptest.NewRequest(http.MethodGet, "/v1/bids", nil)
	foreign.Header.Set("Origin", "https://evil.example")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, foreign)
	if res.Code != http.StatusOK || res.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("foreign origin should pass without CORS headers")
	}
}
