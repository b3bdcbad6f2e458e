package handle

import (
	"path/filepath"
	"strings"
)

// maxExtLen — максимальная длина расширения в StoredName.
const maxExtLen = 16

// StoredName возвращает имя содержимого для Content Store.
// Формат: {handle}.{ext}, расширение берётся из оригинального имени.
// Пример: ("a1b2...", "отчёт.PDF") → "a1b2....pdf"
func StoredName(h, originalName string) string {
	ext := sanitizeExt(filepath.Ext(originalName))
	if ext == "" {
		return h
	}
	return h + "." + ext
}

// sanitizeExt оставляет в расширении только латиницу и цифры,
// приводит к нижнему регистру и ограничивает длину.
func sanitizeExt(ext string) string {
	ext = strings.TrimPrefix(ext, ".")

	var result strings.Builder
	for _, r := range strings.ToLower(ext) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			result.WriteRune(r)
		}
	}

	s := result.String()
	if len(s) > maxExtLen {
		s = s[:maxExtLen]
	}
	return s
}
