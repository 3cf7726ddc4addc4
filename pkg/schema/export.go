package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// GenerateFlowJSONSchema produces a JSON Schema Draft 2020-12 document from
// the Go Flow struct.
func GenerateFlowJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	r.DoNotReference = false

	s := r.Reflect(&Flow{})
	s.ID = "https://github.com/ormasoftchile/stepflow/schemas/flow-v0.json"
	s.Title = "Stepflow Flow v0"
	s.Description = "Schema for stepflow flow YAML documents"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}

// GenerateModuleJSONSchema produces a JSON Schema Draft 2020-12 document
// from the Go Module struct.
func GenerateModuleJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	r.DoNotReference = false

	s := r.Reflect(&Module{})
	s.ID = "https://github.com/ormasoftchile/stepflow/schemas/module-v0.json"
	s.Title = "Stepflow Module v0"
	s.Description = "Schema for stepflow reusable module YAML documents"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal module schema: %w", err)
	}
	return data, nil
}
