// ingest.go — приём содержимого (Ingest Service).
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/secureshare/internal/domain/model"
	"github.com/bigkaa/secureshare/internal/handle"
	"github.com/bigkaa/secureshare/internal/storage"
	"github.com/bigkaa/secureshare/internal/storage/wal"
)

// ingestTotal — результаты загрузок: success или код ошибки.
var ingestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ss_ingest_total",
	Help: "Общее количество загрузок по результату",
}, []string{"result"})

// IngestParams — параметры загрузки.
type IngestParams struct {
	Content      []byte
	OriginalName string
	// ContentType — заявленный клиентом тип; может быть пустым
	ContentType string
	// Expiry — срок жизни в секундах, как его передал клиент.
	// Пустая строка — TTL или Limits.DefaultTTL.
	Expiry string
	// TTL — срок жизни для вызовов изнутри процесса; nil — Limits.DefaultTTL
	TTL    *time.Duration
	Policy model.Policy
}

// IngestService — приём содержимого.
type IngestService struct {
	limits   Limits
	handles  *handle.Generator
	registry storage.Registry
	content  storage.ContentStore
	journal  *wal.WAL
	reaper   *Reaper
	now      func() time.Time
	logger   *slog.Logger
}

// NewIngestService создаёт сервис загрузки. reaper может быть nil.
func NewIngestService(
	limits Limits,
	handles *handle.Generator,
	registry storage.Registry,
	content storage.ContentStore,
	journal *wal.WAL,
	reaper *Reaper,
	logger *slog.Logger,
) *IngestService {
	return &IngestService{
		limits:   limits,
		handles:  handles,
		registry: registry,
		content:  content,
		journal:  journal,
		reaper:   reaper,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "ingest")),
	}
}

// Limits возвращает действующие ограничения.
func (s *IngestService) Limits() Limits {
	return s.limits
}

// Ingest сохраняет содержимое и регистрирует запись.
//
// Поток:
//  1. Попутная очистка истёкших записей
//  2. Проверка содержимого, затем TTL, затем типа
//  3. Генерация handle и StoredName
//  4. WAL StartTransaction
//  5. Content.Put
//  6. Registry.Insert (при ошибке содержимое удаляется)
//  7. WAL Commit
func (s *IngestService) Ingest(ctx context.Context, params IngestParams) (*model.Record, error) {
	if s.reaper != nil {
		s.reaper.SweepIfIdle(ctx)
	}

	rec, err := s.ingest(ctx, params)
	if err != nil {
		ingestTotal.WithLabelValues(string(KindOf(err))).Inc()
		return nil, err
	}
	ingestTotal.WithLabelValues("success").Inc()

	s.logger.Info("Содержимое загружено",
		slog.String("handle", rec.Handle),
		slog.String("filename", rec.OriginalName),
		slog.String("content_type", rec.ContentType),
		slog.Int64("size", rec.Size),
		slog.Time("expires_at", rec.ExpiresAt),
	)
	return rec, nil
}

func (s *IngestService) ingest(ctx context.Context, params IngestParams) (*model.Record, error) {
	ttl, contentType, err := s.validate(params)
	if err != nil {
		return nil, err
	}

	h, err := s.handles.Generate()
	if err != nil {
		return nil, newError(KindStorage, err, "не удалось сгенерировать handle")
	}

	sum := sha256.Sum256(params.Content)
	now := s.now().UTC()
	rec := &model.Record{
		Handle:       h,
		OriginalName: params.OriginalName,
		StoredName:   handle.StoredName(h, params.OriginalName),
		ContentType:  contentType,
		Size:         int64(len(params.Content)),
		Checksum:     hex.EncodeToString(sum[:]),
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
		Policy:       params.Policy,
	}

	if err := s.store(ctx, rec, params.Content); err != nil {
		if errors.Is(err, model.ErrHandleExists) || errors.Is(err, model.ErrContentExists) {
			return nil, newError(KindInternalInconsistency, err, "handle %s уже занят", h)
		}
		return nil, newError(KindStorage, err, "не удалось сохранить содержимое")
	}
	return rec, nil
}

// validate проверяет входные данные и возвращает итоговые TTL и тип.
func (s *IngestService) validate(params IngestParams) (time.Duration, string, error) {
	size := int64(len(params.Content))
	if size == 0 {
		return 0, "", newError(KindEmptyContent, nil, "содержимое пусто")
	}
	if size > s.limits.MaxContentSize {
		return 0, "", newError(KindTooLarge, nil,
			"размер %d байт превышает максимум %d байт", size, s.limits.MaxContentSize)
	}

	ttl, err := s.resolveTTL(params)
	if err != nil {
		return 0, "", err
	}

	contentType, err := s.resolveContentType(params.ContentType, params.Content)
	if err != nil {
		return 0, "", err
	}
	return ttl, contentType, nil
}

// resolveTTL выбирает срок жизни: Expiry, затем TTL, затем значение по умолчанию.
func (s *IngestService) resolveTTL(params IngestParams) (time.Duration, error) {
	ttl := s.limits.DefaultTTL
	if raw := strings.TrimSpace(params.Expiry); raw != "" {
		seconds, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, newError(KindInvalidTTL, err, "expiry должен быть целым числом секунд")
		}
		if seconds <= 0 || seconds > int64(MaxTTL/time.Second) {
			return 0, newError(KindInvalidTTL, nil, "expiry вне диапазона 1..%d секунд", int64(MaxTTL/time.Second))
		}
		ttl = time.Duration(seconds) * time.Second
	} else if params.TTL != nil {
		ttl = *params.TTL
	}

	if ttl <= 0 || ttl > MaxTTL {
		return 0, newError(KindInvalidTTL, nil, "срок жизни вне диапазона, получено %s", ttl)
	}
	return ttl, nil
}

// resolveContentType проверяет тип по списку разрешённых.
// Если заявленный тип пуст или не разрешён, тип определяется по первым
// байтам содержимого; в записи сохраняется тот, что прошёл проверку.
func (s *IngestService) resolveContentType(declared string, content []byte) (string, error) {
	if strings.TrimSpace(declared) != "" {
		contentType := NormalizeContentType(declared)
		if s.limits.Allows(contentType) {
			return contentType, nil
		}
	}

	sniffed := NormalizeContentType(http.DetectContentType(content))
	if s.limits.Allows(sniffed) {
		return sniffed, nil
	}

	rejected := sniffed
	if strings.TrimSpace(declared) != "" {
		rejected = NormalizeContentType(declared)
	}
	return "", newError(KindUnsupportedType, nil, "тип содержимого %s не разрешён", rejected)
}

// store выполняет запись содержимого и вставку записи под WAL-транзакцией.
func (s *IngestService) store(ctx context.Context, rec *model.Record, data []byte) error {
	entry, err := s.journal.StartTransaction(wal.OpIngest, rec.Handle, rec.StoredName)
	if err != nil {
		return err
	}

	if err := s.content.Put(ctx, rec.StoredName, data); err != nil {
		s.rollback(ctx, entry, rec, false)
		return err
	}

	if err := s.registry.Insert(ctx, rec); err != nil {
		// Put не перезаписывает, значит объект записан этой загрузкой
		s.rollback(ctx, entry, rec, true)
		return err
	}

	if err := s.journal.Commit(entry.TransactionID); err != nil {
		// Запись уже видна в реестре, восстановление закоммитит её повторно
		s.logger.Error("Ошибка коммита WAL",
			slog.String("tx_id", entry.TransactionID),
			slog.String("handle", rec.Handle),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// rollback удаляет записанное содержимое и откатывает транзакцию.
func (s *IngestService) rollback(ctx context.Context, entry *wal.Entry, rec *model.Record, written bool) {
	if written {
		if err := s.content.Delete(ctx, rec.StoredName); err != nil {
			s.logger.Error("Не удалось удалить содержимое после ошибки загрузки",
				slog.String("handle", rec.Handle),
				slog.String("stored_name", rec.StoredName),
				slog.String("error", err.Error()),
			)
			// Транзакция остаётся pending: восстановление удалит объект
			return
		}
	}
	if err := s.journal.Rollback(entry.TransactionID); err != nil {
		s.logger.Error("Ошибка отката WAL",
			slog.String("tx_id", entry.TransactionID),
			slog.String("error", err.Error()),
		)
	}
}
