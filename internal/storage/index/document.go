package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bigkaa/secureshare/internal/domain/model"
)

// documentVersion — версия формата registry.json.
const documentVersion = 1

// document — персистентное представление реестра.
// Один JSON-файл: handle → запись.
type document struct {
	Version int                      `json:"version"`
	Records map[string]*model.Record `json:"records"`
}

func newDocument() *document {
	return &document{
		Version: documentVersion,
		Records: make(map[string]*model.Record),
	}
}

// readDocument читает registry.json.
// Отсутствующий файл — пустой реестр, не ошибка.
func readDocument(path string) (*document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return newDocument(), nil
		}
		return nil, fmt.Errorf("ошибка чтения %s: %w", path, err)
	}

	doc := newDocument()
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("ошибка десериализации %s: %w", path, err)
	}
	if doc.Version != documentVersion {
		return nil, fmt.Errorf("неподдерживаемая версия %s: %d", path, doc.Version)
	}
	if doc.Records == nil {
		doc.Records = make(map[string]*model.Record)
	}

	return doc, nil
}

// writeDocument атомарно записывает registry.json.
// Паттерн: JSON → temp файл → fsync → atomic rename.
func writeDocument(path string, doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации реестра: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	tmpPath := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}
