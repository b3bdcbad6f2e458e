// Пакет openapi — встроенный контракт HTTP API Secure Share.
package openapi

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.yaml
var contract []byte

// Contract возвращает исходный YAML контракта.
func Contract() []byte {
	return contract
}

// Load разбирает и валидирует контракт.
// Вызывается при старте: некорректный контракт — ошибка конфигурации сборки.
func Load(ctx context.Context) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx

	doc, err := loader.LoadFromData(contract)
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора OpenAPI контракта: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("невалидный OpenAPI контракт: %w", err)
	}
	return doc, nil
}

// Handler отдаёт контракт по GET /api/v1/openapi.yaml.
func Handler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(contract)
}
