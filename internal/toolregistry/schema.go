package toolregistry

import "fmt"

// FieldType is the closed set of argument types a tool schema can
// declare.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldInt    FieldType = "int"
	FieldFloat  FieldType = "float"
	FieldBool   FieldType = "bool"
)

// FieldSpec describes one argument: its type, whether it's required,
// and an optional extra constraint run after the type check passes.
type FieldSpec struct {
	Type     FieldType
	Required bool
	Validate func(value any) error
}

// Schema is a tool's parameter contract, keyed by field name.
type Schema map[string]FieldSpec

// FieldDiagnostic reports one schema violation for one field.
type FieldDiagnostic struct {
	Field   string
	Message string
}

// Validate checks args against the schema, returning every violation
// found rather than stopping at the first, so callers get complete
// per-field diagnostics in one round trip.
func (s Schema) Validate(args map[string]any) []FieldDiagnostic {
	var diagnostics []FieldDiagnostic

	for name, spec := range s {
		value, present := args[name]
		if !present {
			if spec.Required {
				diagnostics = append(diagnostics, FieldDiagnostic{Field: name, Message: "required field missing"})
			}
			continue
		}
		if err := checkType(spec.Type, value); err != nil {
			diagnostics = append(diagnostics, FieldDiagnostic{Field: name, Message: err.Error()})
			continue
		}
		if spec.Validate != nil {
			if err := spec.Validate(value); err != nil {
				diagnostics = append(diagnostics, FieldDiagnostic{Field: name, Message: err.Error()})
			}
		}
	}

	for name := range args {
		if _, known := s[name]; !known {
			diagnostics = append(diagnostics, FieldDiagnostic{Field: name, Message: "unknown field"})
		}
	}

	return diagnostics
}

func checkType(t FieldType, value any) error {
	switch t {
	case FieldString:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("expected string")
		}
	case FieldInt:
		switch value.(type) {
		case int, int32, int64, float64:
		default:
			return fmt.Errorf("expected int")
		}
	case FieldFloat:
		switch value.(type) {
		case float32, float64, int, int64:
		default:
			return fmt.Errorf("expected float")
		}
	case FieldBool:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected bool")
		}
	default:
		return fmt.Errorf("unknown field type %q", t)
	}
	return nil
}
