package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/bigkaa/secureshare/internal/api/handlers"
	"github.com/bigkaa/secureshare/internal/config"
	"github.com/bigkaa/secureshare/internal/storage"
	"github.com/bigkaa/secureshare/internal/storage/blobcache"
	"github.com/bigkaa/secureshare/internal/storage/filestore"
	"github.com/bigkaa/secureshare/internal/storage/index"
	"github.com/bigkaa/secureshare/internal/storage/redisindex"
	"github.com/bigkaa/secureshare/internal/storage/s3store"
	"github.com/bigkaa/secureshare/internal/storage/sqliteindex"
	"github.com/bigkaa/secureshare/internal/storage/wal"
)

// pinger — бэкенд с проверкой доступности.
type pinger interface {
	Ping(ctx context.Context) error
}

// backends — открытые хранилища экземпляра.
type backends struct {
	registry storage.Registry
	content  storage.ContentStore
	journal  *wal.WAL

	// registryPing / contentPing — nil для локальных бэкендов
	registryPing pinger
	contentPing  pinger
}

// openBackends открывает реестр, хранилище содержимого и журнал
// в соответствии с конфигурацией. При ошибке уже открытые бэкенды закрываются.
func openBackends(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *backends, err error) {
	b := &backends{}
	defer func() {
		if err != nil {
			b.close(logger)
		}
	}()

	// Журнал у каждого экземпляра свой: восстановление не трогает чужие операции
	journal, err := wal.New(cfg.JournalDir(), logger)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации WAL: %w", err)
	}
	b.journal = journal

	switch cfg.ContentBackend {
	case config.ContentBackendS3:
		store, err := s3store.New(ctx, s3store.Config{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
			Prefix:   cfg.S3Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("ошибка инициализации S3: %w", err)
		}
		b.content = store
		b.contentPing = store
	default:
		store, err := filestore.New(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("ошибка инициализации FileStore: %w", err)
		}
		b.content = store
	}

	if cfg.CacheEntries > 0 {
		b.content = blobcache.New(b.content, cfg.CacheEntries, cfg.CacheTTL, cfg.CacheMaxItemSize)
		logger.Info("Кэш содержимого включён",
			slog.Int("entries", cfg.CacheEntries),
			slog.String("ttl", cfg.CacheTTL.String()),
		)
	}

	switch cfg.RegistryBackend {
	case config.RegistryBackendRedis:
		idx, err := redisindex.Open(ctx, cfg.RedisURL, cfg.RedisPrefix, logger)
		if err != nil {
			return nil, err
		}
		b.registry = idx
		b.registryPing = idx
	case config.RegistryBackendSQLite:
		idx, err := sqliteindex.Open(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		b.registry = idx
		b.registryPing = idx
	default:
		idx, err := index.New(cfg.MetaDir, logger)
		if err != nil {
			return nil, fmt.Errorf("ошибка инициализации реестра: %w", err)
		}
		b.registry = idx
	}

	return b, nil
}

// checks собирает проверки готовности для /health/ready.
func (b *backends) checks(cfg *config.Config) []handlers.Check {
	var checks []handlers.Check

	if b.registryPing != nil {
		checks = append(checks, handlers.Check{Name: "registry", Critical: true, Fn: b.registryPing.Ping})
	} else {
		checks = append(checks, handlers.Check{Name: "registry", Critical: true, Fn: handlers.DirWritable(cfg.MetaDir)})
	}

	if b.contentPing != nil {
		checks = append(checks, handlers.Check{Name: "content", Critical: true, Fn: b.contentPing.Ping})
	} else {
		checks = append(checks, handlers.Check{Name: "content", Critical: true, Fn: handlers.DirWritable(cfg.DataDir)})
	}

	// Без журнала загрузки работают, но восстановление после сбоя невозможно
	checks = append(checks, handlers.Check{Name: "wal", Fn: handlers.DirWritable(cfg.JournalDir())})

	return checks
}

// close закрывает открытые бэкенды. Повторный вызов безопасен.
func (b *backends) close(logger *slog.Logger) {
	if b.registry != nil {
		if err := b.registry.Close(); err != nil {
			logger.Warn("Ошибка закрытия реестра", slog.String("error", err.Error()))
		}
		b.registry = nil
	}
	if c, ok := b.content.(io.Closer); ok {
		if err := c.Close(); err != nil {
			logger.Warn("Ошибка закрытия хранилища содержимого", slog.String("error", err.Error()))
		}
	}
	b.content = nil
}
