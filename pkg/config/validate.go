package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// GenerateJSONSchema produces a JSON Schema Draft 2020-12 document from the
// Document struct.
func GenerateJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	r.DoNotReference = false

	s := r.Reflect(&Document{})
	s.ID = "https://github.com/ormasoftchile/stepflow/schemas/config-v0.json"
	s.Title = "Stepflow Handler Configuration v0"
	s.Description = "Schema for stepflow handler configuration YAML documents"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}

// decodeDocument strict-decodes a YAML config document and checks it against
// the generated JSON Schema before returning it.
func decodeDocument(data []byte) (Document, error) {
	// Decode over the defaults so omitted global fields keep their
	// built-in values.
	doc := Document{Globals: DefaultGlobals()}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("parse: %w", err)
	}
	if doc.Handlers == nil {
		doc.Handlers = make(map[string]HandlerSettings)
	}
	if err := validateSemantic(&doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// validateSemantic runs the JSON Schema check over the document.
func validateSemantic(doc *Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal for schema validation: %w", err)
	}

	schemaJSON, err := GenerateJSONSchema()
	if err != nil {
		return fmt.Errorf("generate schema: %w", err)
	}

	schemaDoc, err := sjsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return fmt.Errorf("unmarshal schema: %w", err)
	}

	c := sjsonschema.NewCompiler()
	if err := c.AddResource("config-v0.json", schemaDoc); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := c.Compile("config-v0.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return fmt.Errorf("unmarshal document: %w", err)
	}
	if err := sch.Validate(instance); err != nil {
		if ve, ok := err.(*sjsonschema.ValidationError); ok {
			var msgs []string
			for _, cause := range flattenValidationErrors(ve) {
				loc := strings.Join(cause.InstanceLocation, "/")
				msgs = append(msgs, fmt.Sprintf("%s: %v", loc, cause.ErrorKind))
			}
			return fmt.Errorf("schema validation: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("schema validation: %w", err)
	}
	return nil
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}
