// health.go — обработчики health endpoints для Kubernetes probes.
package handlers

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bigkaa/secureshare/internal/config"
)

// statusFail — строковая константа для статуса "fail" в health checks.
const statusFail = "fail"

// checkTimeout — таймаут одной проверки готовности.
const checkTimeout = 2 * time.Second

// Check — проверка готовности одного компонента.
type Check struct {
	Name string
	// Critical — при отказе сервис не готов (503); иначе статус degraded
	Critical bool
	Fn       func(ctx context.Context) error
}

// DependencyHealth — состояние внешних зависимостей (topologymetrics).
type DependencyHealth interface {
	Health() map[string]bool
}

// HealthHandler реализует health endpoints: /health/live, /health/ready.
type HealthHandler struct {
	version      string
	checks       []Check
	dependencies DependencyHealth
}

// NewHealthHandler создаёт обработчик health endpoints.
// dependencies может быть nil.
func NewHealthHandler(checks []Check, dependencies DependencyHealth) *HealthHandler {
	return &HealthHandler{
		version:      config.Version,
		checks:       checks,
		dependencies: dependencies,
	}
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "secure-share",
	})
}

// HealthReady обрабатывает GET /health/ready.
// Выполняет все зарегистрированные проверки и состояние зависимостей.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	overallStatus := "ok"
	httpStatus := http.StatusOK

	checks := make(map[string]any, len(h.checks)+1)
	for _, c := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Fn(ctx)
		cancel()

		if err == nil {
			checks[c.Name] = map[string]any{"status": "ok"}
			continue
		}
		checks[c.Name] = map[string]any{
			"status":  statusFail,
			"message": err.Error(),
		}
		if c.Critical {
			overallStatus = statusFail
			httpStatus = http.StatusServiceUnavailable
		} else if overallStatus != statusFail {
			overallStatus = "degraded"
		}
	}

	if h.dependencies != nil {
		deps := h.dependencies.Health()
		checks["dependencies"] = deps
		for _, ok := range deps {
			if !ok && overallStatus != statusFail {
				overallStatus = "degraded"
			}
		}
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "secure-share",
		"checks":    checks,
	})
}

// DirWritable возвращает проверку доступности директории на запись.
func DirWritable(dir string) func(ctx context.Context) error {
	return func(_ context.Context) error {
		testFile := filepath.Join(dir, ".health_check")
		if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
			return err
		}
		_ = os.Remove(testFile)
		return nil
	}
}
