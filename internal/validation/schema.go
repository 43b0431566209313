package validation

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// GoJSONSchema adapts a JSON Schema document (as a Go map, matching how
// config/fixtures typically decode one) to the SchemaValidator interface
// JsonSchemaRule depends on, via xeipuuv/gojsonschema.
type GoJSONSchema struct {
	schema gojsonschema.JSONLoader
}

// NewGoJSONSchema compiles a schema document for repeated validation.
func NewGoJSONSchema(schemaDoc map[string]any) *GoJSONSchema {
	return &GoJSONSchema{schema: gojsonschema.NewGoLoader(schemaDoc)}
}

// Validate marshals entity to JSON and checks it against the compiled
// schema, returning one message per violation.
func (s *GoJSONSchema) Validate(entity any) ([]string, error) {
	raw, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("marshal entity for schema validation: %w", err)
	}
	docLoader := gojsonschema.NewBytesLoader(raw)
	result, err := gojsonschema.Validate(s.schema, docLoader)
	if err != nil {
		return nil, fmt.Errorf("run json schema validation: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return msgs, nil
}
