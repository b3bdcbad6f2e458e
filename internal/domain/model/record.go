// Пакет model — доменные модели Secure Share.
// Record — единая структура метаданных хранимого объекта, используется
// всеми бэкендами реестра и сервисным слоем.
package model

import (
	"time"
)

// Policy — флаги политики отображения.
// Хранилище их не интерпретирует: сохраняет при загрузке и
// возвращает без изменений при каждом просмотре.
type Policy struct {
	BlockScreenshot bool `json:"block_screenshot"`
	BlockDownload   bool `json:"block_download"`
	BlockCopy       bool `json:"block_copy"`
	Watermark       bool `json:"watermark"`
}

// Record — метаданные одного объекта. Ключ — Handle.
// Все поля, кроме ViewCount, неизменяемы после создания.
type Record struct {
	// Handle — непрозрачный публичный идентификатор (128 бит, hex)
	Handle string `json:"handle"`

	// OriginalName — имя файла, переданное при загрузке
	OriginalName string `json:"original_name"`

	// StoredName — имя содержимого в Content Store.
	// Формат: {handle}.{ext}
	StoredName string `json:"stored_name"`

	// ContentType — MIME-тип (непрозрачная строка)
	ContentType string `json:"content_type"`

	// Size — размер содержимого в байтах
	Size int64 `json:"size"`

	// Checksum — SHA-256 хэш содержимого
	Checksum string `json:"checksum"`

	// CreatedAt — время создания (UTC)
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt — время истечения (CreatedAt + TTL), всегда > CreatedAt
	ExpiresAt time.Time `json:"expires_at"`

	// ViewCount — количество успешных просмотров
	ViewCount int64 `json:"view_count"`

	// Policy — флаги политики отображения
	Policy Policy `json:"policy"`
}

// IsExpired проверяет, истёк ли срок жизни записи.
// Запись с ExpiresAt <= now считается истёкшей.
func (r *Record) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Clone возвращает независимую копию записи.
func (r *Record) Clone() *Record {
	copied := *r
	return &copied
}

// BlobInfo — сведения о физическом объекте в Content Store.
// Используется только при reconciliation.
type BlobInfo struct {
	StoredName string
	Size       int64
	ModTime    time.Time
}
