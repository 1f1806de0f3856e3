package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema validates model output against a JSON schema.
type Schema struct {
	schema *jsonschema.Schema
}

// CompileSchema compiles a schema given as a Go map.
func CompileSchema(name string, schemaMap map[string]any) (*Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Schema{schema: schema}, nil
}

// MustCompileSchema is CompileSchema for package-level schemas.
func MustCompileSchema(name string, schemaMap map[string]any) *Schema {
	s, err := CompileSchema(name, schemaMap)
	if err != nil {
		panic(err)
	}
	return s
}

// Decode strips any code fence from a model response, parses it as a JSON
// object and validates it.
func (s *Schema) Decode(raw string) (map[string]any, error) {
	var v any
	if err := json.Unmarshal([]byte(StripCodeFence(raw)), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if err := s.schema.Validate(v); err != nil {
		return nil, fmt.Errorf("%w: json does not match schema: %v", ErrInvalidResponse, err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrInvalidResponse)
	}
	return obj, nil
}
