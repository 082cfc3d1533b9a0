// Пакет openapi — встроенный OpenAPI-контракт LaborFlow API.
package openapi

import (
	"context"
	_ "embed"
	"fmt"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed laborflow.yaml
var spec []byte

// formatsOnce регистрирует форматы строк один раз на процесс:
// реестр форматов kin-openapi глобальный.
var formatsOnce sync.Once

// Raw возвращает контракт в исходном виде (YAML).
func Raw() []byte {
	return spec
}

// Load разбирает и проверяет встроенный контракт.
// Формат uuid без регистрации kin-openapi не проверяет.
func Load() (*openapi3.T, error) {
	formatsOnce.Do(func() {
		openapi3.DefineStringFormatValidator("uuid",
			openapi3.NewRegexpFormatValidator(openapi3.FormatOfStringForUUIDOfRFC4122))
	})

	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(spec)
	if err != nil {
		return nil, fmt.Errorf("разбор OpenAPI-контракта: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("проверка OpenAPI-контракта: %w", err)
	}
	return doc, nil
}
