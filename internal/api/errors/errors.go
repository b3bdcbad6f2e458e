// Пакет errors — ответы с ошибками в формате Secure Share.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors //nolint:revive // конфликт имени со stdlib, пакет импортируется как apierrors

import (
	"encoding/json"
	"net/http"
)

// Коды ошибок, определённые в OpenAPI контракте.
const (
	CodeEmptyContent          = "EMPTY_CONTENT"
	CodeTooLarge              = "TOO_LARGE"
	CodeInvalidTTL            = "INVALID_TTL"
	CodeUnsupportedType       = "UNSUPPORTED_TYPE"
	CodeValidationError       = "VALIDATION_ERROR"
	CodeNotFound              = "NOT_FOUND"
	CodeReconcileInProgress   = "RECONCILE_IN_PROGRESS"
	CodeStorageError          = "STORAGE_ERROR"
	CodeInternalInconsistency = "INTERNAL_INCONSISTENCY"
	CodeInternalError         = "INTERNAL_ERROR"
)

// statusByCode — HTTP-статус для каждого кода.
var statusByCode = map[string]int{
	CodeEmptyContent:          http.StatusBadRequest,
	CodeTooLarge:              http.StatusRequestEntityTooLarge,
	CodeInvalidTTL:            http.StatusBadRequest,
	CodeUnsupportedType:       http.StatusBadRequest,
	CodeValidationError:       http.StatusBadRequest,
	CodeNotFound:              http.StatusNotFound,
	CodeReconcileInProgress:   http.StatusConflict,
	CodeStorageError:          http.StatusServiceUnavailable,
	CodeInternalInconsistency: http.StatusInternalServerError,
	CodeInternalError:         http.StatusInternalServerError,
}

// StatusFor возвращает HTTP-статус для кода ошибки; неизвестный код — 500.
func StatusFor(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// Write записывает ошибку со статусом, соответствующим коду.
func Write(w http.ResponseWriter, code, message string) {
	WriteError(w, StatusFor(code), code, message)
}

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	Write(w, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	Write(w, CodeNotFound, message)
}

// TooLarge — 413 содержимое превышает лимит.
func TooLarge(w http.ResponseWriter, message string) {
	Write(w, CodeTooLarge, message)
}

// ReconcileInProgress — 409 сверка уже выполняется.
func ReconcileInProgress(w http.ResponseWriter, message string) {
	Write(w, CodeReconcileInProgress, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	Write(w, CodeInternalError, message)
}
