// reaper.go — очистка истёкших записей (Expiry Reaper).
//
// Для каждой истёкшей записи: атомарное удаление из реестра, затем
// удаление содержимого. Запись, уже удалённая параллельным процессом,
// пропускается. Ошибка удаления содержимого только логируется: объект
// без записи подберёт сверка хранилища.
//
// Запускается при старте, перед каждой загрузкой и просмотром,
// по запросу и по тикеру (SS_SWEEP_INTERVAL).
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/secureshare/internal/domain/model"
	"github.com/bigkaa/secureshare/internal/storage"
	"github.com/bigkaa/secureshare/internal/storage/wal"
)

var (
	reaperRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ss_reaper_runs_total",
		Help: "Общее количество запусков очистки",
	})

	reaperReapedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ss_reaper_reaped_total",
		Help: "Общее количество удалённых истёкших записей",
	})

	reaperErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ss_reaper_errors_total",
		Help: "Общее количество ошибок при очистке",
	})

	reaperDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ss_reaper_duration_seconds",
		Help:    "Длительность очистки в секундах",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	})
)

// Reaper — удаление истёкших записей и их содержимого.
type Reaper struct {
	registry storage.Registry
	content  storage.ContentStore
	// journal — необязательный журнал; nil отключает запись намерений
	journal  *wal.WAL
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReaper создаёт сервис очистки.
func NewReaper(
	registry storage.Registry,
	content storage.ContentStore,
	journal *wal.WAL,
	interval time.Duration,
	logger *slog.Logger,
) *Reaper {
	return &Reaper{
		registry: registry,
		content:  content,
		journal:  journal,
		interval: interval,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "reaper")),
	}
}

// Start запускает фоновую очистку по тикеру. Первый проход — сразу.
func (r *Reaper) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.run(runCtx)

	r.logger.Info("Очистка запущена", slog.String("interval", r.interval.String()))
}

// Stop останавливает фоновую очистку и ждёт завершения текущего прохода.
func (r *Reaper) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	r.logger.Info("Очистка остановлена")
}

func (r *Reaper) run(ctx context.Context) {
	defer close(r.done)

	r.sweepLogged(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepLogged(ctx)
		}
	}
}

func (r *Reaper) sweepLogged(ctx context.Context) {
	if _, err := r.Sweep(ctx, r.now()); err != nil && ctx.Err() == nil {
		r.logger.Error("Ошибка очистки", slog.String("error", err.Error()))
	}
}

// Sweep удаляет все записи, истёкшие к моменту now, и возвращает их
// количество. Повторный вызов с тем же now возвращает 0.
func (r *Reaper) Sweep(ctx context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweep(ctx, now)
}

// SweepIfIdle выполняет очистку, только если она не идёт в этом процессе.
// Реестр сам скрывает истёкшие записи, поэтому пропуск безопасен.
func (r *Reaper) SweepIfIdle(ctx context.Context) {
	if !r.mu.TryLock() {
		return
	}
	defer r.mu.Unlock()

	if _, err := r.sweep(ctx, r.now()); err != nil {
		r.logger.Warn("Попутная очистка не удалась", slog.String("error", err.Error()))
	}
}

func (r *Reaper) sweep(ctx context.Context, now time.Time) (int, error) {
	start := time.Now()
	reaped, failed := 0, 0

	for rec, err := range r.registry.ListExpired(ctx, now) {
		if err != nil {
			reaperErrorsTotal.Inc()
			return reaped, newError(KindStorage, err, "ошибка сканирования истёкших записей")
		}
		if ctx.Err() != nil {
			return reaped, ctx.Err()
		}

		ok, err := r.reap(ctx, rec)
		if err != nil {
			failed++
			reaperErrorsTotal.Inc()
			r.logger.Error("Не удалось удалить истёкшую запись",
				slog.String("handle", rec.Handle),
				slog.String("error", err.Error()),
			)
			continue
		}
		if ok {
			reaped++
		}
	}

	duration := time.Since(start)
	reaperRunsTotal.Inc()
	reaperReapedTotal.Add(float64(reaped))
	reaperDurationSeconds.Observe(duration.Seconds())

	if reaped > 0 || failed > 0 {
		r.logger.Info("Очистка завершена",
			slog.Int("reaped", reaped),
			slog.Int("errors", failed),
			slog.Duration("duration", duration),
		)
	}
	return reaped, nil
}

// reap удаляет одну запись и её содержимое. false — запись уже удалена
// другим участником.
func (r *Reaper) reap(ctx context.Context, rec *model.Record) (bool, error) {
	var entry *wal.Entry
	if r.journal != nil {
		var err error
		if entry, err = r.journal.StartTransaction(wal.OpReap, rec.Handle, rec.StoredName); err != nil {
			return false, err
		}
	}

	deleted, err := r.registry.Delete(ctx, rec.Handle)
	if err != nil {
		r.closeEntry(entry, false)
		if errors.Is(err, model.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	if err := r.content.Delete(ctx, deleted.StoredName); err != nil {
		r.logger.Warn("Содержимое истёкшей записи не удалено",
			slog.String("handle", deleted.Handle),
			slog.String("stored_name", deleted.StoredName),
			slog.String("error", err.Error()),
		)
	}
	r.closeEntry(entry, true)

	r.logger.Debug("Истёкшая запись удалена",
		slog.String("handle", deleted.Handle),
		slog.Int64("views", deleted.ViewCount),
	)
	return true, nil
}

func (r *Reaper) closeEntry(entry *wal.Entry, commit bool) {
	if entry == nil {
		return
	}
	var err error
	if commit {
		err = r.journal.Commit(entry.TransactionID)
	} else {
		err = r.journal.Rollback(entry.TransactionID)
	}
	if err != nil {
		r.logger.Error("Ошибка закрытия WAL-транзакции",
			slog.String("tx_id", entry.TransactionID),
			slog.String("error", err.Error()),
		)
	}
}
