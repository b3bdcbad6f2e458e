// Пакет sqliteindex — реестр метаданных в SQLite (modernc.org/sqlite,
// без cgo). Каждая операция реестра — один SQL-оператор, поэтому
// атомарность обеспечивает сама СУБД, в том числе между процессами.
package sqliteindex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bigkaa/secureshare/internal/domain/model"
	"github.com/bigkaa/secureshare/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
    handle           TEXT PRIMARY KEY,
    original_name    TEXT    NOT NULL,
    stored_name      TEXT    NOT NULL,
    content_type     TEXT    NOT NULL,
    size             INTEGER NOT NULL,
    checksum         TEXT    NOT NULL,
    created_at       INTEGER NOT NULL,
    expires_at       INTEGER NOT NULL,
    view_count       INTEGER NOT NULL DEFAULT 0,
    block_screenshot INTEGER NOT NULL DEFAULT 0,
    block_download   INTEGER NOT NULL DEFAULT 0,
    block_copy       INTEGER NOT NULL DEFAULT 0,
    watermark        INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS records_expires_at ON records (expires_at);
`

// columns — порядок столбцов для scanRecord.
const columns = `handle, original_name, stored_name, content_type, size, checksum,
    created_at, expires_at, view_count,
    block_screenshot, block_download, block_copy, watermark`

// Index — реестр метаданных поверх database/sql.
type Index struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open открывает (или создаёт) базу по пути path и применяет схему.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию %s: %w", filepath.Dir(path), err)
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия SQLite %s: %w", path, err)
	}
	// Одно соединение: ListExpired закрывает курсор до выдачи записей
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ошибка применения схемы SQLite: %w", err)
	}

	idx := &Index{
		db:     db,
		logger: logger.With(slog.String("component", "sqliteindex")),
	}

	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&count); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ошибка чтения реестра SQLite: %w", err)
	}
	idx.logger.Info("Реестр метаданных SQLite открыт",
		slog.String("path", path),
		slog.Int("records", count),
	)
	return idx, nil
}

// Insert добавляет запись; model.ErrHandleExists, если handle занят.
func (idx *Index) Insert(ctx context.Context, rec *model.Record) error {
	res, err := idx.db.ExecContext(ctx, `
INSERT INTO records (`+columns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?)
ON CONFLICT(handle) DO NOTHING`,
		rec.Handle, rec.OriginalName, rec.StoredName, rec.ContentType, rec.Size, rec.Checksum,
		rec.CreatedAt.UnixNano(), rec.ExpiresAt.UnixNano(),
		rec.Policy.BlockScreenshot, rec.Policy.BlockDownload, rec.Policy.BlockCopy, rec.Policy.Watermark,
	)
	if err != nil {
		return fmt.Errorf("ошибка вставки %s: %w", rec.Handle, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка вставки %s: %w", rec.Handle, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", rec.Handle, model.ErrHandleExists)
	}
	return nil
}

// Get возвращает снимок записи; истёкшая запись считается отсутствующей.
func (idx *Index) Get(ctx context.Context, handle string, now time.Time) (*model.Record, error) {
	row := idx.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM records WHERE handle = ? AND expires_at > ?`,
		handle, now.UnixNano(),
	)
	return scanOne(row, handle)
}

// IncrementView атомарно увеличивает счётчик просмотров.
func (idx *Index) IncrementView(ctx context.Context, handle string, now time.Time) (*model.Record, error) {
	row := idx.db.QueryRowContext(ctx,
		`UPDATE records SET view_count = view_count + 1
WHERE handle = ? AND expires_at > ?
RETURNING `+columns,
		handle, now.UnixNano(),
	)
	return scanOne(row, handle)
}

// Delete атомарно удаляет запись и возвращает её.
func (idx *Index) Delete(ctx context.Context, handle string) (*model.Record, error) {
	row := idx.db.QueryRowContext(ctx,
		`DELETE FROM records WHERE handle = ? RETURNING `+columns,
		handle,
	)
	return scanOne(row, handle)
}

// ListExpired выбирает истёкшие записи одним запросом и выдаёт их после
// закрытия курсора, чтобы потребитель мог вызывать Delete.
func (idx *Index) ListExpired(ctx context.Context, now time.Time) iter.Seq2[*model.Record, error] {
	return func(yield func(*model.Record, error) bool) {
		expired, err := idx.queryExpired(ctx, now)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, rec := range expired {
			if !yield(rec, nil) {
				return
			}
		}
	}
}

func (idx *Index) queryExpired(ctx context.Context, now time.Time) ([]*model.Record, error) {
	rows, err := idx.db.QueryContext(ctx,
		`SELECT `+columns+` FROM records WHERE expires_at <= ? ORDER BY expires_at`,
		now.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка сканирования сроков: %w", err)
	}
	defer rows.Close()

	var expired []*model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		expired = append(expired, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка сканирования сроков: %w", err)
	}
	return expired, nil
}

// Ping проверяет доступность базы.
func (idx *Index) Ping(ctx context.Context) error {
	return idx.db.PingContext(ctx)
}

// Close закрывает базу.
func (idx *Index) Close() error {
	return idx.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOne(row *sql.Row, handle string) (*model.Record, error) {
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", handle, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка SQLite для %s: %w", handle, err)
	}
	return rec, nil
}

func scanRecord(s scanner) (*model.Record, error) {
	var (
		rec                  model.Record
		createdAt, expiresAt int64
	)
	err := s.Scan(
		&rec.Handle, &rec.OriginalName, &rec.StoredName, &rec.ContentType, &rec.Size, &rec.Checksum,
		&createdAt, &expiresAt, &rec.ViewCount,
		&rec.Policy.BlockScreenshot, &rec.Policy.BlockDownload, &rec.Policy.BlockCopy, &rec.Policy.Watermark,
	)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	rec.ExpiresAt = time.Unix(0, expiresAt).UTC()
	return &rec, nil
}

var _ storage.Registry = (*Index)(nil)
