package affix

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/gyaneshwarpardhi/affix/internal/operation"
)

//go:embed schema.json
var schemaSource string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiled() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("affix.schema.json", schemaSource)
	})
	return schema, schemaErr
}

// Validate checks the shape of an affix record before it is stored. It does
// not check that the operation type is registered.
func Validate(rec operation.Record) error {
	s, err := compiled()
	if err != nil {
		return fmt.Errorf("compile affix schema: %w", err)
	}
	// Round-trip through JSON so YAML and Go numeric types validate the same.
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("affix record: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("affix record: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("affix record: %w", err)
	}
	return nil
}
