// Пакет service — бизнес-логика Secure Share: загрузка, просмотр,
// очистка истёкших записей, восстановление журнала и сверка хранилища.
package service

import (
	"errors"
	"fmt"
)

// Kind — класс ошибки сервисного слоя. Значение совпадает с кодом
// ошибки в HTTP-ответе.
type Kind string

const (
	KindEmptyContent          Kind = "EMPTY_CONTENT"
	KindTooLarge              Kind = "TOO_LARGE"
	KindInvalidTTL            Kind = "INVALID_TTL"
	KindUnsupportedType       Kind = "UNSUPPORTED_TYPE"
	KindNotFound              Kind = "NOT_FOUND"
	KindStorage               Kind = "STORAGE_ERROR"
	KindInternalInconsistency Kind = "INTERNAL_INCONSISTENCY"
)

// IsValidation — ошибка входных данных; повтор без изменений бесполезен.
func (k Kind) IsValidation() bool {
	switch k {
	case KindEmptyContent, KindTooLarge, KindInvalidTTL, KindUnsupportedType:
		return true
	}
	return false
}

// Error — ошибка сервисного слоя.
type Error struct {
	Kind    Kind
	Message string
	// Err — исходная ошибка хранилища (может быть nil)
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf возвращает класс ошибки. Ошибки вне сервисного слоя
// считаются ошибками хранилища.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindStorage
}
