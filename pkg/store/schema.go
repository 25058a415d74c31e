package store

import (
	"fmt"
	"os"

	"github.com/dukex/amhsctl/pkg/document"
	"github.com/xeipuuv/gojsonschema"
)

// Schema validates layout seed documents.
type Schema struct {
	compiled *gojsonschema.Schema
}

func NewSchema(raw []byte) (*Schema, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Schema{compiled: compiled}, nil
}

func LoadSchemaFile(path string) (*Schema, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema %s: %w", path, err)
	}

	return NewSchema(raw)
}

// Validate returns a *SchemaError when doc violates the schema.
func (s *Schema) Validate(doc *document.Document) error {
	data, err := doc.MarshalJSON()
	if err != nil {
		return err
	}

	result, err := s.compiled.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("failed to validate document: %w", err)
	}

	if result.Valid() {
		return nil
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		violations = append(violations, desc.String())
	}

	return &SchemaError{Violations: violations}
}
