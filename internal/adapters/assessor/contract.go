package assessor

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed contract.yaml
var contractYAML []byte

// Contract parses and validates the embedded OpenAPI description of the
// backend surface this client depends on. main loads it at startup so a
// broken contract document fails fast; tests assert the client only
// touches documented operations.
func Contract(ctx context.Context) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx

	doc, err := loader.LoadFromData(contractYAML)
	if err != nil {
		return nil, fmt.Errorf("parse assessor contract: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("validate assessor contract: %w", err)
	}
	return doc, nil
}
