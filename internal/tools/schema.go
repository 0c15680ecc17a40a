package tools

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// compileSchema normalizes a descriptor schema through JSON and compiles it.
// A nil schema compiles to nil.
func compileSchema(toolID string, schema map[string]any) (*jsonschema.Schema, error) {
	if schema == nil {
		return nil, nil
	}

	schemaObj, err := normalizeJSON(schema)
	if err != nil {
		return nil, fmt.Errorf("param_schema: %w", err)
	}

	url := toolID + ".schema.json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, schemaObj); err != nil {
		return nil, fmt.Errorf("param_schema: %w", err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("param_schema: %w", err)
	}
	return sch, nil
}

// normalizeJSON round-trips v through encoding/json so YAML-decoded maps and
// Go-typed values match what the validator expects.
func normalizeJSON(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// validateParams checks required parameters and the compiled schema.
func validateParams(params map[string]any, required []string, sch *jsonschema.Schema) error {
	for _, name := range required {
		if _, ok := params[name]; !ok {
			return fmt.Errorf("%w: missing required parameter %q", ErrInvalidParams, name)
		}
	}

	if sch == nil {
		return nil
	}

	if params == nil {
		params = map[string]any{}
	}
	args, err := normalizeJSON(params)
	if err != nil {
		return fmt.Errorf("%w: parameters are not valid JSON: %v", ErrInvalidParams, err)
	}
	if err := sch.Validate(args); err != nil {
		return fmt.Errorf("%w: schema validation failed: %v", ErrInvalidParams, err)
	}
	return nil
}
