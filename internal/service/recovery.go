// recovery.go — доведение незавершённых WAL-транзакций после рестарта.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bigkaa/secureshare/internal/domain/model"
	"github.com/bigkaa/secureshare/internal/storage"
	"github.com/bigkaa/secureshare/internal/storage/wal"
)

// RecoveryResult — итог восстановления.
type RecoveryResult struct {
	Committed  int
	RolledBack int
	Failed     int
}

// RecoverJournal обрабатывает pending записи WAL:
//   - ingest, запись есть в реестре — транзакция коммитится;
//   - ingest, записи нет — содержимое удаляется, транзакция откатывается;
//   - reap — удаление записи и содержимого доводится до конца.
//
// Вызывается при старте до приёма запросов.
func RecoverJournal(
	ctx context.Context,
	journal *wal.WAL,
	registry storage.Registry,
	content storage.ContentStore,
	logger *slog.Logger,
) (*RecoveryResult, error) {
	logger = logger.With(slog.String("component", "recovery"))

	pending, err := journal.RecoverPending()
	if err != nil {
		return nil, err
	}

	result := &RecoveryResult{}
	for _, entry := range pending {
		commit, err := recoverEntry(ctx, entry, registry, content)
		if err != nil {
			result.Failed++
			logger.Error("Не удалось восстановить WAL-транзакцию",
				slog.String("tx_id", entry.TransactionID),
				slog.String("handle", entry.Handle),
				slog.String("error", err.Error()),
			)
			continue
		}

		if commit {
			err = journal.Commit(entry.TransactionID)
			result.Committed++
		} else {
			err = journal.Rollback(entry.TransactionID)
			result.RolledBack++
		}
		if err != nil {
			logger.Error("Ошибка закрытия WAL-транзакции",
				slog.String("tx_id", entry.TransactionID),
				slog.String("error", err.Error()),
			)
		}
	}

	if len(pending) > 0 {
		logger.Info("Восстановление WAL завершено",
			slog.Int("committed", result.Committed),
			slog.Int("rolled_back", result.RolledBack),
			slog.Int("failed", result.Failed),
		)
	}
	return result, nil
}

// recoverEntry возвращает true, если транзакцию нужно закоммитить.
func recoverEntry(ctx context.Context, entry *wal.Entry, registry storage.Registry, content storage.ContentStore) (bool, error) {
	switch entry.Operation {
	case wal.OpIngest:
		_, err := registry.Get(ctx, entry.Handle, time.Now())
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, model.ErrNotFound) {
			return false, err
		}
		// Записи нет или она уже истекла: содержимое никому не нужно
		if err := content.Delete(ctx, entry.StoredName); err != nil {
			return false, err
		}
		return false, nil

	case wal.OpReap:
		if _, err := registry.Delete(ctx, entry.Handle); err != nil && !errors.Is(err, model.ErrNotFound) {
			return false, err
		}
		if err := content.Delete(ctx, entry.StoredName); err != nil {
			return false, err
		}
		return true, nil

	default:
		// Неизвестная операция: закрываем без действий
		return false, nil
	}
}
