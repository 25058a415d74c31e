package store

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidSample = errors.New("sample number must be between 1 and 3")
	ErrNoData        = errors.New("store returned no document")
	ErrSchema        = errors.New("document does not match schema")
)

// SchemaError lists the violations found before a save. Nothing was sent.
type SchemaError struct {
	Violations []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: %s", ErrSchema, strings.Join(e.Violations, "; "))
}

func (e *SchemaError) Unwrap() error {
	return ErrSchema
}

func IsSchemaError(err error) bool {
	return errors.Is(err, ErrSchema)
}
