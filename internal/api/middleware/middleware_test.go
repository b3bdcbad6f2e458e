package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNormalizePath(t *testing.T) {
	valid := strings.Repeat("ab", 16)

	tests := []struct {
		path string
		want string
	}{
		{"/health/live", "/health/live"},
		{"/metrics", "/metrics"},
		{"/api/v1/files", "/api/v1/files"},
		{"/api/v1/maintenance/sweep", "/api/v1/maintenance/sweep"},
		{"/api/v1/files/" + valid, "/api/v1/files/{handle}"},
		{"/api/v1/files/" + valid + "/content", "/api/v1/files/{handle}/content"},
		{"/api/v1/files/not-a-handle", "/api/v1/files/{invalid}"},
		{"/api/v1/files/" + valid + "/other", "other"},
		{"/api/v1/files/", "other"},
		{"/random/path", "other"},
	}

	for _, tt := range tests {
		if got := normalizePath(tt.path); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, хотели %q", tt.path, got, tt.want)
		}
	}
}

func TestRequestLogger_Levels(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusNotFound, "WARN"},
		{http.StatusServiceUnavailable, "ERROR"},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&buf, nil))

		h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tt.status)
			_, _ = w.Write([]byte("body"))
		}))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/info", nil))

		out := buf.String()
		if !strings.Contains(out, `"level":"`+tt.level+`"`) {
			t.Errorf("статус %d: хотели уровень %s, получили %s", tt.status, tt.level, out)
		}
		if !strings.Contains(out, `"bytes":4`) {
			t.Errorf("статус %d: размер ответа не записан: %s", tt.status, out)
		}
	}
}

func TestMetricsMiddleware_PassesThrough(t *testing.T) {
	h := MetricsMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/files", nil))

	if rec.Code != http.StatusCreated {
		t.Errorf("хотели %d, получили %d", http.StatusCreated, rec.Code)
	}
}
