package util

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// ValidationError represents a single argument validation problem.
type ValidationError struct {
	Field   string `json:"field"`   // Field that failed validation
	Value   any    `json:"value"`   // Value that was provided
	Message string `json:"message"` // Human-readable error message
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// StructField describes one exported field of an argument struct.
type StructField struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

// StructFields derives argument descriptions from a Go struct using
// reflection. Fields tagged json:"-" are skipped; pointer and omitempty
// fields are optional.
func StructFields(structType any) []StructField {
	t := reflect.TypeOf(structType)
	if t == nil {
		return nil
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}

	fields := make([]StructField, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}

		name := field.Name
		if jsonTag != "" {
			parts := strings.Split(jsonTag, ",")
			if parts[0] != "" {
				name = parts[0]
			}
		}

		fields = append(fields, StructField{
			Name:        name,
			Type:        JSONType(field.Type),
			Description: field.Tag.Get("description"),
			Required:    !hasOmitEmpty(jsonTag) && field.Type.Kind() != reflect.Ptr,
		})
	}
	return fields
}

// JSONType returns the JSON schema type for a given Go type.
func JSONType(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Bool:
		return "boolean"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	case reflect.Ptr:
		return JSONType(t.Elem())
	default:
		return "string"
	}
}

// hasOmitEmpty checks if a JSON tag has the "omitempty" option.
func hasOmitEmpty(tag string) bool {
	parts := strings.Split(tag, ",")
	for _, part := range parts[1:] {
		if strings.TrimSpace(part) == "omitempty" {
			return true
		}
	}
	return false
}

// Coerce converts value to the canonical Go representation of the JSON
// schema type expectedType. Only unambiguous conversions are performed:
//
//	integer <- integral numbers, whole floats, json.Number, decimal strings
//	number  <- any numeric type, json.Number, numeric strings
//	boolean <- bool, "true", "false"
//	string  <- string only
//	array   <- []any, []string
//	object  <- map[string]any
//
// Integers are returned as int64 and numbers as float64.
func Coerce(value any, expectedType string) (any, error) {
	switch expectedType {
	case "string":
		if s, ok := value.(string); ok {
			return s, nil
		}
	case "integer":
		return coerceInteger(value)
	case "number":
		return coerceNumber(value)
	case "boolean":
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			switch v {
			case "true":
				return true, nil
			case "false":
				return false, nil
			}
		}
	case "array":
		switch v := value.(type) {
		case []any:
			return v, nil
		case []string:
			out := make([]any, len(v))
			for i := range v {
				out[i] = v[i]
			}
			return out, nil
		}
	case "object":
		if m, ok := value.(map[string]any); ok {
			return m, nil
		}
	case "":
		return value, nil
	default:
		return nil, fmt.Errorf("unsupported schema type %s", expectedType)
	}
	return nil, fmt.Errorf("expected type %s, got %T", expectedType, value)
}

func coerceInteger(value any) (any, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return nil, fmt.Errorf("integer %d out of range", v)
		}
		return int64(v), nil
	case float32:
		return wholeFloat(float64(v))
	case float64: // JSON unmarshaling produces float64 for numbers
		return wholeFloat(v)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
		return nil, fmt.Errorf("expected type integer, got %q", v.String())
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("expected type integer, got %q", v)
		}
		return i, nil
	}
	return nil, fmt.Errorf("expected type integer, got %T", value)
}

func wholeFloat(f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return nil, fmt.Errorf("expected type integer, got %v", f)
	}
	return int64(f), nil
}

func coerceNumber(value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return reflect.ValueOf(v).Convert(reflect.TypeOf(float64(0))).Float(), nil
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f, nil
		}
		return nil, fmt.Errorf("expected type number, got %q", v.String())
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("expected type number, got %q", v)
		}
		return f, nil
	}
	return nil, fmt.Errorf("expected type number, got %T", value)
}
