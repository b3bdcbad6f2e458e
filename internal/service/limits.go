package service

import (
	"mime"
	"slices"
	"strings"
	"time"
)

// DefaultAllowedContentTypes — типы содержимого, принимаемые по умолчанию.
var DefaultAllowedContentTypes = []string{
	"application/pdf",
	"image/jpeg",
	"image/png",
	"image/gif",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"text/plain",
}

const (
	// DefaultMaxContentSize — 100 MiB.
	DefaultMaxContentSize int64 = 100 << 20
	// DefaultTTL — срок жизни, если клиент его не указал.
	DefaultTTL = time.Hour
	// AnyContentType в списке разрешённых снимает ограничение по типу.
	AnyContentType = "*"
	// MaxTTL — верхняя граница срока жизни, при которой ExpiresAt не переполняется.
	MaxTTL = 100 * 365 * 24 * time.Hour
)

// Limits — ограничения загрузки.
type Limits struct {
	MaxContentSize      int64
	DefaultTTL          time.Duration
	AllowedContentTypes []string
}

// DefaultLimits возвращает ограничения по умолчанию.
func DefaultLimits() Limits {
	return Limits{
		MaxContentSize:      DefaultMaxContentSize,
		DefaultTTL:          DefaultTTL,
		AllowedContentTypes: slices.Clone(DefaultAllowedContentTypes),
	}
}

// Allows проверяет тип содержимого по списку разрешённых.
// Пустой список разрешает всё.
func (l Limits) Allows(contentType string) bool {
	if len(l.AllowedContentTypes) == 0 {
		return true
	}
	ct := NormalizeContentType(contentType)
	for _, allowed := range l.AllowedContentTypes {
		if allowed == AnyContentType || NormalizeContentType(allowed) == ct {
			return true
		}
	}
	return false
}

// NormalizeContentType убирает параметры (charset и т.д.) и приводит
// тип к нижнему регистру. Пустой тип — application/octet-stream.
func NormalizeContentType(contentType string) string {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return "application/octet-stream"
	}
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		return mediaType
	}
	if idx := strings.Index(contentType, ";"); idx != -1 {
		contentType = contentType[:idx]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}
