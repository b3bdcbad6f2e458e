// access.go — выдача содержимого с учётом просмотров (Access Service).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/secureshare/internal/domain/model"
	"github.com/bigkaa/secureshare/internal/handle"
	"github.com/bigkaa/secureshare/internal/storage"
)

// accessTotal — результаты просмотров: success, not_found, error.
var accessTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ss_views_total",
	Help: "Общее количество обращений к содержимому по результату",
}, []string{"result"})

// AccessService — выдача содержимого по handle.
type AccessService struct {
	registry storage.Registry
	content  storage.ContentStore
	reaper   *Reaper
	now      func() time.Time
	logger   *slog.Logger
}

// NewAccessService создаёт сервис просмотра. reaper может быть nil.
func NewAccessService(
	registry storage.Registry,
	content storage.ContentStore,
	reaper *Reaper,
	logger *slog.Logger,
) *AccessService {
	return &AccessService{
		registry: registry,
		content:  content,
		reaper:   reaper,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "access")),
	}
}

// Access засчитывает один просмотр и возвращает снимок записи после
// увеличения счётчика вместе с содержимым. Неизвестный и истёкший
// handle неразличимы: оба дают KindNotFound.
func (s *AccessService) Access(ctx context.Context, h string) (*model.Record, []byte, error) {
	if s.reaper != nil {
		s.reaper.SweepIfIdle(ctx)
	}

	if !handle.Valid(h) {
		accessTotal.WithLabelValues("not_found").Inc()
		return nil, nil, newError(KindNotFound, nil, "объект не найден")
	}

	rec, err := s.registry.IncrementView(ctx, h, s.now())
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			accessTotal.WithLabelValues("not_found").Inc()
			return nil, nil, newError(KindNotFound, err, "объект не найден")
		}
		accessTotal.WithLabelValues("error").Inc()
		return nil, nil, newError(KindStorage, err, "ошибка реестра")
	}

	data, err := s.content.Get(ctx, rec.StoredName)
	if err != nil {
		if errors.Is(err, model.ErrContentNotFound) && s.removedMeanwhile(ctx, h) {
			// Запись истекла и убрана между счётчиком и чтением
			accessTotal.WithLabelValues("not_found").Inc()
			return nil, nil, newError(KindNotFound, err, "объект не найден")
		}
		accessTotal.WithLabelValues("error").Inc()
		if errors.Is(err, model.ErrContentNotFound) {
			s.logger.Error("Содержимое живой записи отсутствует",
				slog.String("handle", rec.Handle),
				slog.String("stored_name", rec.StoredName),
			)
			return nil, nil, newError(KindInternalInconsistency, err, "содержимое объекта отсутствует")
		}
		return nil, nil, newError(KindStorage, err, "ошибка хранилища содержимого")
	}

	accessTotal.WithLabelValues("success").Inc()
	s.logger.Debug("Просмотр",
		slog.String("handle", rec.Handle),
		slog.Int64("views", rec.ViewCount),
	)
	return rec, data, nil
}

// removedMeanwhile сообщает, что записи h в реестре уже нет.
func (s *AccessService) removedMeanwhile(ctx context.Context, h string) bool {
	_, err := s.registry.Get(ctx, h, s.now())
	return errors.Is(err, model.ErrNotFound)
}

// ExpiresIn возвращает оставшееся время в виде «N seconds», «N minutes»
// или «N hours» с округлением вниз.
func ExpiresIn(remaining time.Duration) string {
	secs := int64(remaining / time.Second)
	if secs < 0 {
		secs = 0
	}
	switch {
	case secs < 60:
		return fmt.Sprintf("%d seconds", secs)
	case secs < 3600:
		return fmt.Sprintf("%d minutes", secs/60)
	default:
		return fmt.Sprintf("%d hours", secs/3600)
	}
}
