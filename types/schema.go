package types

import (
	"fmt"
)

// SchemaType represents JSON Schema types.
type SchemaType string

const (
	SchemaTypeString  SchemaType = "string"
	SchemaTypeNumber  SchemaType = "number"
	SchemaTypeInteger SchemaType = "integer"
	SchemaTypeBoolean SchemaType = "boolean"
	SchemaTypeNull    SchemaType = "null"
	SchemaTypeObject  SchemaType = "object"
	SchemaTypeArray   SchemaType = "array"
)

// JSONSchema represents a JSON Schema definition for node input/output.
// Only the subset the kernel validates is modeled; unknown keywords are
// carried by callers out of band.
type JSONSchema struct {
	Title       string `json:"title,omitempty" yaml:"title,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	Type SchemaType `json:"type,omitempty" yaml:"type,omitempty"`

	// Object properties
	Properties           map[string]*JSONSchema `json:"properties,omitempty" yaml:"properties,omitempty"`
	Required             []string               `json:"required,omitempty" yaml:"required,omitempty"`
	AdditionalProperties *bool                  `json:"additionalProperties,omitempty" yaml:"additionalProperties,omitempty"`

	// Array items
	Items *JSONSchema `json:"items,omitempty" yaml:"items,omitempty"`

	// Enum
	Enum []any `json:"enum,omitempty" yaml:"enum,omitempty"`

	// Default value
	Default any `json:"default,omitempty" yaml:"default,omitempty"`
}

// NewObjectSchema creates a new object schema.
func NewObjectSchema() *JSONSchema {
	return &JSONSchema{Type: SchemaTypeObject, Properties: map[string]*JSONSchema{}}
}

// WithProperty adds a property to an object schema.
func (s *JSONSchema) WithProperty(name string, prop *JSONSchema) *JSONSchema {
	if s.Properties == nil {
		s.Properties = map[string]*JSONSchema{}
	}
	s.Properties[name] = prop
	return s
}

// WithRequired marks properties as required.
func (s *JSONSchema) WithRequired(names ...string) *JSONSchema {
	s.Required = append(s.Required, names...)
	return s
}

// Validate checks value against the schema. A nil schema accepts anything.
// Validation is shallow-typed: structural keywords the kernel does not model
// are ignored rather than rejected.
func (s *JSONSchema) Validate(value any) error {
	if s == nil || s.Type == "" {
		return nil
	}
	switch s.Type {
	case SchemaTypeNull:
		if value != nil {
			return NewError(ErrSchemaMismatch, fmt.Sprintf("expected null, got %T", value))
		}
	case SchemaTypeString:
		if _, ok := value.(string); !ok {
			return NewError(ErrSchemaMismatch, fmt.Sprintf("expected string, got %T", value))
		}
	case SchemaTypeBoolean:
		if _, ok := value.(bool); !ok {
			return NewError(ErrSchemaMismatch, fmt.Sprintf("expected boolean, got %T", value))
		}
	case SchemaTypeNumber, SchemaTypeInteger:
		if !isNumeric(value) {
			return NewError(ErrSchemaMismatch, fmt.Sprintf("expected %s, got %T", s.Type, value))
		}
	case SchemaTypeArray:
		items, ok := value.([]any)
		if !ok {
			return NewError(ErrSchemaMismatch, fmt.Sprintf("expected array, got %T", value))
		}
		for i, item := range items {
			if err := s.Items.Validate(item); err != nil {
				return NewError(ErrSchemaMismatch, fmt.Sprintf("item %d", i)).WithCause(err)
			}
		}
	case SchemaTypeObject:
		obj, ok := value.(map[string]any)
		if !ok {
			return NewError(ErrSchemaMismatch, fmt.Sprintf("expected object, got %T", value))
		}
		for _, req := range s.Required {
			if _, present := obj[req]; !present {
				return NewError(ErrSchemaMismatch, fmt.Sprintf("missing required property %q", req))
			}
		}
		for name, prop := range s.Properties {
			v, present := obj[name]
			if !present {
				continue
			}
			if err := prop.Validate(v); err != nil {
				return NewError(ErrSchemaMismatch, fmt.Sprintf("property %q", name)).WithCause(err)
			}
		}
		if s.AdditionalProperties != nil && !*s.AdditionalProperties {
			for name := range obj {
				if _, declared := s.Properties[name]; !declared {
					return NewError(ErrSchemaMismatch, fmt.Sprintf("unexpected property %q", name))
				}
			}
		}
	default:
		return NewError(ErrSchemaMismatch, fmt.Sprintf("unknown schema type %q", s.Type))
	}
	if len(s.Enum) > 0 {
		for _, allowed := range s.Enum {
			if allowed == value {
				return nil
			}
		}
		return NewError(ErrSchemaMismatch, fmt.Sprintf("value %v not in enum", value))
	}
	return nil
}

func isNumeric(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}
	return false
}
