package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// CompileError reports a schema that cannot be expressed as, or checked
// with, a JSON Schema document.
type CompileError struct {
	Type    string `json:"type"`
	Details string `json:"details"`
	Context string `json:"context,omitempty"`
}

func (e *CompileError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("Schema compilation failed for %s: %s", e.Context, e.Details)
	}
	return fmt.Sprintf("Schema compilation failed: %s", e.Details)
}

// JSONSchema exports s as a Draft-7 JSON Schema document. This is the
// form published to clients by the discovery entrypoints.
func (s *Schema) JSONSchema() map[string]any {
	if s == nil {
		return map[string]any{}
	}
	doc := map[string]any{}
	if s.Title != "" {
		doc["title"] = s.Title
	}
	if s.Description != "" {
		doc["description"] = s.Description
	}
	if s.ReadOnly {
		doc["readOnly"] = true
	}
	if s.WriteOnly {
		doc["writeOnly"] = true
	}
	if s.Default != nil {
		doc["default"] = s.Default
	}

	switch s.Type {
	case TypeWildcard:
		return doc
	case TypeOneOf:
		alternatives := make([]any, len(s.Alternatives))
		for i, a := range s.Alternatives {
			alternatives[i] = a.JSONSchema()
		}
		doc["oneOf"] = alternatives
		return doc
	}

	doc["type"] = s.Type.String()
	switch s.Type {
	case TypeInteger, TypeNumber:
		if s.Minimum != nil {
			doc["minimum"] = *s.Minimum
		}
		if s.Maximum != nil {
			doc["maximum"] = *s.Maximum
		}
	case TypeString:
		if len(s.Enums) > 0 {
			enums := make([]any, len(s.Enums))
			for i, e := range s.Enums {
				enums[i] = e
			}
			doc["enum"] = enums
		}
	case TypeArray:
		if s.Items != nil {
			doc["items"] = s.Items.JSONSchema()
		}
		if s.MinItems != nil {
			doc["minItems"] = *s.MinItems
		}
		if s.MaxItems != nil {
			doc["maxItems"] = *s.MaxItems
		}
	case TypeObject:
		properties := make(map[string]any, len(s.Properties))
		for _, p := range s.Properties {
			properties[p.Name] = p.Schema.JSONSchema()
		}
		doc["properties"] = properties
		if len(s.Required) > 0 {
			required := make([]any, len(s.Required))
			for i, r := range s.Required {
				required[i] = r
			}
			doc["required"] = required
		}
		if s.AdditionalProperties == nil {
			doc["additionalProperties"] = false
		} else {
			doc["additionalProperties"] = s.AdditionalProperties.JSONSchema()
		}
	}
	return doc
}

// Compile checks that the exported document of s is a well-formed JSON
// Schema. Registries call it once per declared schema at startup.
func Compile(s *Schema, context string) (*gojsonschema.Schema, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(s.JSONSchema()))
	if err != nil {
		return nil, &CompileError{
			Type:    "SchemaCompilation",
			Details: err.Error(),
			Context: context,
		}
	}
	return compiled, nil
}

// CrossCheck validates value against the exported JSON Schema of s with
// gojsonschema and returns its verdict and messages. It is the reference
// the native validator is measured against; the messages it produces are
// not the client-facing ones.
func CrossCheck(value any, s *Schema) (bool, []string, error) {
	compiled, err := Compile(s, "")
	if err != nil {
		return false, nil, err
	}
	document, err := json.Marshal(value)
	if err != nil {
		return false, nil, &CompileError{
			Type:    "InvalidJson",
			Details: fmt.Sprintf("Failed to marshal value for validation: %v", err),
		}
	}
	result, err := compiled.Validate(gojsonschema.NewBytesLoader(document))
	if err != nil {
		return false, nil, &CompileError{
			Type:    "SchemaCompilation",
			Details: fmt.Sprintf("Failed to validate document: %v", err),
		}
	}
	var details []string
	for _, desc := range result.Errors() {
		details = append(details, strings.TrimSpace(desc.String()))
	}
	return result.Valid(), details, nil
}
