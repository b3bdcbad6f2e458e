// maintenance.go — обработчики POST /api/v1/maintenance/sweep и /reconcile.
// Делегирует очистку в Reaper, сверку — в ReconcileService.
package handlers

import (
	"context"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/secureshare/internal/api/errors"
	"github.com/bigkaa/secureshare/internal/service"
)

// Sweeper — явный запуск очистки истёкших записей.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// ReconcileRunner — интерфейс для запуска reconciliation.
// Позволяет тестировать handler без полного ReconcileService.
type ReconcileRunner interface {
	// RunOnce выполняет один цикл reconciliation.
	// Возвращает результат и флаг "уже выполняется".
	RunOnce(ctx context.Context) (*service.ReconcileResult, bool, error)
}

// MaintenanceHandler — обработчик endpoints обслуживания.
type MaintenanceHandler struct {
	sweeper    Sweeper
	reconciler ReconcileRunner
}

// NewMaintenanceHandler создаёт обработчик maintenance endpoints.
func NewMaintenanceHandler(sweeper Sweeper, reconciler ReconcileRunner) *MaintenanceHandler {
	return &MaintenanceHandler{
		sweeper:    sweeper,
		reconciler: reconciler,
	}
}

type sweepResponse struct {
	Reaped int `json:"reaped"`
}

// Sweep обрабатывает POST /api/v1/maintenance/sweep.
// Выполняет один проход очистки и возвращает число удалённых записей.
func (h *MaintenanceHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	reaped, err := h.sweeper.Sweep(r.Context(), time.Now())
	if err != nil {
		apierrors.Write(w, apierrors.CodeStorageError, "Ошибка очистки: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sweepResponse{Reaped: reaped})
}

// Reconcile обрабатывает POST /api/v1/maintenance/reconcile.
// Запускает синхронный цикл reconciliation и возвращает результат.
// Если reconciliation уже выполняется — 409 RECONCILE_IN_PROGRESS.
func (h *MaintenanceHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	result, inProgress, err := h.reconciler.RunOnce(r.Context())
	if inProgress {
		apierrors.ReconcileInProgress(w, "Reconciliation уже выполняется")
		return
	}
	if err != nil {
		apierrors.Write(w, apierrors.CodeStorageError, "Ошибка сверки: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}
