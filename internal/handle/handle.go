// Пакет handle — генерация непрозрачных идентификаторов объектов.
//
// Handle — 128 бит из crypto/rand в hex (32 символа). Пригоден и как
// токен в URL, и как часть имени файла. Последовательные или
// предсказуемые идентификаторы недопустимы.
package handle

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// Size — количество случайных байт в handle.
const Size = 16

// Generator — генератор handle.
type Generator struct {
	entropy io.Reader
}

// New создаёт генератор на crypto/rand.
func New() *Generator {
	return &Generator{entropy: rand.Reader}
}

// NewWithReader создаёт генератор с указанным источником энтропии.
// Используется в тестах.
func NewWithReader(r io.Reader) *Generator {
	return &Generator{entropy: r}
}

// Generate возвращает новый handle.
// Ошибка возможна только при отказе источника энтропии.
func (g *Generator) Generate() (string, error) {
	buf := make([]byte, Size)
	if _, err := io.ReadFull(g.entropy, buf); err != nil {
		return "", fmt.Errorf("источник энтропии недоступен: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Valid проверяет формат handle: ровно 32 hex-символа в нижнем регистре.
// Позволяет отсечь мусорные запросы до обращения к реестру.
func Valid(h string) bool {
	if len(h) != Size*2 {
		return false
	}
	for _, c := range h {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
