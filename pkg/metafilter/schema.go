/*
Package metafilter validates document metadata against a typed schema and
translates structured filter expressions into a restriction applied before
retrieval. The filter is pushed down to the storage layer as a native
predicate wherever possible so the search space shrinks before similarity and
graph retrieval run, instead of trimming results afterwards.
*/
package metafilter

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/twattier/rag-engine/pkg/types"
)

// FieldType enumerates supported metadata field types.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldInteger FieldType = "integer"
	FieldDate    FieldType = "date"
	FieldBoolean FieldType = "boolean"
	FieldTags    FieldType = "tags"
)

// FieldDef defines a single metadata field.
type FieldDef struct {
	FieldName   string      `json:"field_name" yaml:"field_name"`
	Type        FieldType   `json:"type" yaml:"type"`
	Required    bool        `json:"required" yaml:"required"`
	Default     interface{} `json:"default,omitempty" yaml:"default,omitempty"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
}

// Schema is the active metadata schema. Filter fields referenced in a query
// must exist here; unknown fields are rejected, never silently ignored.
type Schema struct {
	Fields []FieldDef `json:"metadata_fields" yaml:"metadata_fields"`

	byName map[string]FieldDef
}

// NewSchema builds a schema from field definitions.
func NewSchema(fields []FieldDef) (*Schema, error) {
	byName := make(map[string]FieldDef, len(fields))
	for _, f := range fields {
		if f.FieldName == "" {
			return nil, &types.ValidationError{Field: "field_name", Reason: "cannot be empty"}
		}
		switch f.Type {
		case FieldString, FieldInteger, FieldDate, FieldBoolean, FieldTags:
		default:
			return nil, &types.ValidationError{Field: f.FieldName, Reason: fmt.Sprintf("unknown field type %q", f.Type)}
		}
		if _, dup := byName[f.FieldName]; dup {
			return nil, &types.ValidationError{Field: f.FieldName, Reason: "duplicate field definition"}
		}
		if f.Default != nil {
			if _, err := coerceValue(f.FieldName, f.Default, f.Type); err != nil {
				return nil, err
			}
		}
		byName[f.FieldName] = f
	}
	return &Schema{Fields: fields, byName: byName}, nil
}

// LoadSchema reads a schema from a YAML file.
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata schema: %w", err)
	}
	var raw struct {
		Fields []FieldDef `yaml:"metadata_fields"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse metadata schema: %w", err)
	}
	return NewSchema(raw.Fields)
}

// Field returns the definition for name, if present.
func (s *Schema) Field(name string) (FieldDef, bool) {
	def, ok := s.byName[name]
	return def, ok
}

// ValidateMetadata checks document metadata against the schema, applies
// defaults for missing fields and returns the validated map. Extra fields not
// in the schema pass through untouched.
func (s *Schema) ValidateMetadata(metadata map[string]interface{}) (map[string]interface{}, error) {
	validated := make(map[string]interface{}, len(metadata))

	for _, def := range s.Fields {
		value, present := metadata[def.FieldName]
		if !present || value == nil {
			if def.Required {
				return nil, &types.ValidationError{Field: def.FieldName, Reason: "required field is missing"}
			}
			if def.Default != nil {
				validated[def.FieldName] = def.Default
			}
			continue
		}
		coerced, err := coerceValue(def.FieldName, value, def.Type)
		if err != nil {
			return nil, err
		}
		validated[def.FieldName] = coerced
	}

	for name, value := range metadata {
		if _, known := s.byName[name]; !known {
			validated[name] = value
		}
	}
	return validated, nil
}

// coerceValue validates value against the field type and normalizes it
// (dates to time.Time, integers to int64, tags to []string).
func coerceValue(field string, value interface{}, ft FieldType) (interface{}, error) {
	switch ft {
	case FieldString:
		s, ok := value.(string)
		if !ok {
			return nil, &types.ValidationError{Field: field, Reason: fmt.Sprintf("must be string, got %T", value)}
		}
		return s, nil

	case FieldInteger:
		switch v := value.(type) {
		case int:
			return int64(v), nil
		case int64:
			return v, nil
		case float64:
			// JSON numbers decode as float64; accept whole values only.
			if v != float64(int64(v)) {
				return nil, &types.ValidationError{Field: field, Reason: "must be integer"}
			}
			return int64(v), nil
		default:
			return nil, &types.ValidationError{Field: field, Reason: fmt.Sprintf("must be integer, got %T", value)}
		}

	case FieldDate:
		switch v := value.(type) {
		case time.Time:
			return v, nil
		case string:
			t, err := time.Parse("2006-01-02", v)
			if err != nil {
				if t, err = time.Parse(time.RFC3339, v); err != nil {
					return nil, &types.ValidationError{Field: field, Reason: fmt.Sprintf("must be ISO 8601 date, got %q", v)}
				}
			}
			return t, nil
		default:
			return nil, &types.ValidationError{Field: field, Reason: fmt.Sprintf("must be date, got %T", value)}
		}

	case FieldBoolean:
		b, ok := value.(bool)
		if !ok {
			return nil, &types.ValidationError{Field: field, Reason: fmt.Sprintf("must be boolean, got %T", value)}
		}
		return b, nil

	case FieldTags:
		switch v := value.(type) {
		case []string:
			return v, nil
		case []interface{}:
			tags := make([]string, len(v))
			for i, item := range v {
				s, ok := item.(string)
				if !ok {
					return nil, &types.ValidationError{Field: field, Reason: "tags must contain only strings"}
				}
				tags[i] = s
			}
			return tags, nil
		default:
			return nil, &types.ValidationError{Field: field, Reason: fmt.Sprintf("must be a list of strings, got %T", value)}
		}
	}
	return nil, &types.ValidationError{Field: field, Reason: fmt.Sprintf("unknown field type %q", ft)}
}
