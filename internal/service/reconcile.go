// reconcile.go — сверка хранилища содержимого с реестром.
//
// Сверка перечисляет объекты Content Store и для каждого ищет живую
// запись реестра по handle (часть имени до первой точки):
//   - orphaned_content: записи нет, объект старше grace — объект удаляется
//   - size_mismatch: размер объекта не совпадает с записью — только отчёт
//
// Объекты моложе grace не трогаются: это может быть незавершённая загрузка.
// Заодно удаляются закрытые записи WAL.
//
// Запускается по тикеру (SS_RECONCILE_INTERVAL) и по запросу.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/secureshare/internal/domain/model"
	"github.com/bigkaa/secureshare/internal/storage"
	"github.com/bigkaa/secureshare/internal/storage/wal"
)

var (
	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ss_reconcile_runs_total",
		Help: "Общее количество запусков сверки",
	})

	reconcileIssuesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ss_reconcile_issues_total",
		Help: "Общее количество проблем, обнаруженных сверкой",
	}, []string{"type"})

	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ss_reconcile_duration_seconds",
		Help:    "Длительность сверки в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	})
)

// IssueType — тип проблемы, найденной сверкой.
type IssueType string

const (
	IssueOrphanedContent IssueType = "orphaned_content"
	IssueSizeMismatch    IssueType = "size_mismatch"
)

// ReconcileIssue — одна найденная проблема.
type ReconcileIssue struct {
	Type       IssueType `json:"type"`
	StoredName string    `json:"stored_name"`
	Handle     string    `json:"handle,omitempty"`
	// Resolved — true, если проблема устранена (объект удалён)
	Resolved bool `json:"resolved"`
}

// ReconcileResult — результат одного прохода сверки.
type ReconcileResult struct {
	StartedAt      time.Time        `json:"started_at"`
	CompletedAt    time.Time        `json:"completed_at"`
	ObjectsScanned int              `json:"objects_scanned"`
	OrphansDeleted int              `json:"orphans_deleted"`
	Issues         []ReconcileIssue `json:"issues"`
	WALCleaned     int              `json:"wal_cleaned"`
}

// ReconcileService — сверка хранилища.
type ReconcileService struct {
	registry storage.Registry
	content  storage.ContentStore
	journal  *wal.WAL
	grace    time.Duration
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu        sync.Mutex
	inProcess bool
	cancel    context.CancelFunc
}

// NewReconcileService создаёт сервис сверки. journal может быть nil.
func NewReconcileService(
	registry storage.Registry,
	content storage.ContentStore,
	journal *wal.WAL,
	grace time.Duration,
	interval time.Duration,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		registry: registry,
		content:  content,
		journal:  journal,
		grace:    grace,
		interval: interval,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "reconcile")),
	}
}

// Start запускает фоновую сверку с периодическим тикером.
func (rs *ReconcileService) Start(ctx context.Context) {
	rsCtx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel

	go rs.run(rsCtx)

	rs.logger.Info("Сверка запущена", slog.String("interval", rs.interval.String()))
}

// Stop останавливает фоновую сверку.
func (rs *ReconcileService) Stop() {
	if rs.cancel != nil {
		rs.cancel()
	}
	rs.logger.Info("Сверка остановлена")
}

// IsInProgress возвращает true, если сверка выполняется.
func (rs *ReconcileService) IsInProgress() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.inProcess
}

func (rs *ReconcileService) run(ctx context.Context) {
	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := rs.RunOnce(ctx); err != nil && ctx.Err() == nil {
				rs.logger.Error("Ошибка сверки", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce выполняет один проход сверки.
// Если сверка уже выполняется, возвращает nil, true, nil.
func (rs *ReconcileService) RunOnce(ctx context.Context) (*ReconcileResult, bool, error) {
	rs.mu.Lock()
	if rs.inProcess {
		rs.mu.Unlock()
		rs.logger.Warn("Сверка уже выполняется, пропуск")
		return nil, true, nil
	}
	rs.inProcess = true
	rs.mu.Unlock()

	defer func() {
		rs.mu.Lock()
		rs.inProcess = false
		rs.mu.Unlock()
	}()

	result := &ReconcileResult{StartedAt: rs.now().UTC(), Issues: []ReconcileIssue{}}
	rs.logger.Info("Сверка начата")

	if err := rs.reconcile(ctx, result); err != nil {
		return nil, false, err
	}

	if rs.journal != nil {
		cleaned, err := rs.journal.CleanCommitted()
		if err != nil {
			rs.logger.Warn("Ошибка очистки WAL", slog.String("error", err.Error()))
		}
		result.WALCleaned = cleaned
	}

	result.CompletedAt = rs.now().UTC()
	duration := result.CompletedAt.Sub(result.StartedAt)

	reconcileRunsTotal.Inc()
	reconcileDurationSeconds.Observe(duration.Seconds())
	for _, issue := range result.Issues {
		reconcileIssuesTotal.WithLabelValues(string(issue.Type)).Inc()
	}

	rs.logger.Info("Сверка завершена",
		slog.Int("objects_scanned", result.ObjectsScanned),
		slog.Int("issues", len(result.Issues)),
		slog.Int("orphans_deleted", result.OrphansDeleted),
		slog.Duration("duration", duration),
	)
	return result, false, nil
}

func (rs *ReconcileService) reconcile(ctx context.Context, result *ReconcileResult) error {
	blobs, err := rs.content.List(ctx)
	if err != nil {
		return newError(KindStorage, err, "ошибка перечисления содержимого")
	}
	result.ObjectsScanned = len(blobs)

	now := rs.now()
	for _, blob := range blobs {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		h := handleOf(blob.StoredName)
		rec, err := rs.registry.Get(ctx, h, now)
		switch {
		case err == nil:
			if rec.StoredName == blob.StoredName && rec.Size != blob.Size {
				result.Issues = append(result.Issues, ReconcileIssue{
					Type:       IssueSizeMismatch,
					StoredName: blob.StoredName,
					Handle:     h,
				})
			}
			continue
		case !errors.Is(err, model.ErrNotFound):
			return newError(KindStorage, err, "ошибка реестра при сверке")
		}

		if now.Sub(blob.ModTime) < rs.grace {
			continue
		}

		issue := ReconcileIssue{
			Type:       IssueOrphanedContent,
			StoredName: blob.StoredName,
			Handle:     h,
		}
		if err := rs.content.Delete(ctx, blob.StoredName); err != nil {
			rs.logger.Warn("Не удалось удалить объект без записи",
				slog.String("stored_name", blob.StoredName),
				slog.String("error", err.Error()),
			)
		} else {
			issue.Resolved = true
			result.OrphansDeleted++
			rs.logger.Info("Удалён объект без записи",
				slog.String("stored_name", blob.StoredName),
				slog.Int64("size", blob.Size),
			)
		}
		result.Issues = append(result.Issues, issue)
	}
	return nil
}

// handleOf извлекает handle из StoredName ({handle}.{ext}).
func handleOf(storedName string) string {
	h, _, _ := strings.Cut(storedName, ".")
	return h
}
