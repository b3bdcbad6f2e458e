// metrics.go — Prometheus HTTP метрики Secure Share.
// Регистрирует метрики: ss_http_requests_total, ss_http_request_duration_seconds.
// Бизнес-метрики (ss_ingest_total, ss_views_total и др.) регистрируются
// в пакете service.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/secureshare/internal/handle"
)

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ss_http_requests_total",
			Help: "Общее количество HTTP-запросов к Secure Share",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ss_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к Secure Share в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// filesPrefix — префикс endpoints содержимого.
const filesPrefix = "/api/v1/files/"

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Нормализуем путь для лейблов метрик
			// (заменяем handle на {handle} для предотвращения кардинальности)
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
		})
	}
}

// normalizePath заменяет handle в пути на {handle}.
// /api/v1/files/0123...cdef/content → /api/v1/files/{handle}/content
// Пути вне API сворачиваются в "other".
func normalizePath(path string) string {
	switch path {
	case "/health/live", "/health/ready", "/metrics",
		"/api/v1/info", "/api/v1/files", "/api/v1/openapi.yaml",
		"/api/v1/maintenance/sweep", "/api/v1/maintenance/reconcile":
		return path
	}

	if rest, ok := strings.CutPrefix(path, filesPrefix); ok {
		segment, suffix, _ := strings.Cut(rest, "/")
		if segment != "" {
			name := "{handle}"
			if !handle.Valid(segment) {
				name = "{invalid}"
			}
			switch suffix {
			case "":
				return filesPrefix + name
			case "content":
				return filesPrefix + name + "/content"
			}
		}
	}
	return "other"
}
