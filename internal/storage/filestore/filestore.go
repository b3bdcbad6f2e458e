// Пакет filestore — Content Store на локальном диске.
// Хранит содержимое объектов как отдельные файлы в dataDir, имя файла —
// StoredName записи. О метаданных ничего не знает.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bigkaa/secureshare/internal/domain/model"
	"github.com/bigkaa/secureshare/internal/storage"
)

// tmpSuffix — суффикс временных файлов незавершённой записи.
const tmpSuffix = ".tmp"

// FileStore — управление физическими файлами на диске.
type FileStore struct {
	// dataDir — корневая директория хранения (SS_DATA_DIR)
	dataDir string
}

// New создаёт новый FileStore. Создаёт директорию, если она не существует.
func New(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}

	return &FileStore{dataDir: dataDir}, nil
}

// Put записывает содержимое под именем storedName.
//
// Паттерн: temp файл → запись → fsync → atomic link.
// Читатели видят либо весь файл, либо ничего. Temp файл удаляется всегда.
// Если файл storedName уже есть, возвращает model.ErrContentExists.
func (s *FileStore) Put(_ context.Context, storedName string, data []byte) error {
	fullPath, err := s.path(storedName)
	if err != nil {
		return err
	}

	f, err := os.CreateTemp(s.dataDir, "."+storedName+".*"+tmpSuffix)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	tmpPath := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи данных: %w", err)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	// link вместо rename: существующий файл не заменяется
	err = os.Link(tmpPath, fullPath)
	os.Remove(tmpPath)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%s: %w", storedName, model.ErrContentExists)
	}
	if err != nil {
		return fmt.Errorf("ошибка атомарной публикации файла: %w", err)
	}

	return nil
}

// Get читает содержимое целиком.
// Возвращает model.ErrContentNotFound, если файла нет.
func (s *FileStore) Get(_ context.Context, storedName string) ([]byte, error) {
	fullPath, err := s.path(storedName)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", storedName, model.ErrContentNotFound)
		}
		return nil, fmt.Errorf("ошибка чтения файла %s: %w", storedName, err)
	}

	return data, nil
}

// Delete удаляет файл с диска.
// Возвращает nil, если файл уже не существует.
func (s *FileStore) Delete(_ context.Context, storedName string) error {
	fullPath, err := s.path(storedName)
	if err != nil {
		return err
	}

	err = os.Remove(fullPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("ошибка удаления файла %s: %w", storedName, err)
	}
	return nil
}

// List возвращает все файлы содержимого в dataDir.
// Поддиректории, скрытые и временные файлы пропускаются.
func (s *FileStore) List(_ context.Context) ([]model.BlobInfo, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return nil, fmt.Errorf("ошибка сканирования директории %s: %w", s.dataDir, err)
	}

	result := make([]model.BlobInfo, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || strings.HasSuffix(name, tmpSuffix) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// Файл удалён между ReadDir и Info
			continue
		}

		result = append(result, model.BlobInfo{
			StoredName: name,
			Size:       info.Size(),
			ModTime:    info.ModTime(),
		})
	}

	return result, nil
}

// FullPath возвращает абсолютный путь к файлу на диске.
func (s *FileStore) FullPath(storedName string) string {
	return filepath.Join(s.dataDir, storedName)
}

// DataDir возвращает путь к директории данных.
func (s *FileStore) DataDir() string {
	return s.dataDir
}

// path проверяет, что storedName — простое имя файла без разделителей,
// и возвращает полный путь.
func (s *FileStore) path(storedName string) (string, error) {
	if storedName == "" || storedName != filepath.Base(storedName) ||
		strings.HasPrefix(storedName, ".") {
		return "", fmt.Errorf("недопустимое имя содержимого %q", storedName)
	}
	return filepath.Join(s.dataDir, storedName), nil
}

// Проверка соответствия интерфейсу на этапе компиляции.
var _ storage.ContentStore = (*FileStore)(nil)
