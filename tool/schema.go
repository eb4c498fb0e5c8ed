package tool

import (
	"fmt"
	"sort"

	"github.com/hupe1980/exodus/core"
	"github.com/hupe1980/exodus/internal/util"
)

// ParamType is the JSON schema type of an argument.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
)

// Param declares one named argument.
type Param struct {
	Type        ParamType `json:"type"`
	Description string    `json:"description,omitempty"`
	Required    bool      `json:"required,omitempty"`
	Default     any       `json:"default,omitempty"`
	Enum        []string  `json:"enum,omitempty"` // string params only
}

func (p Param) check() error {
	switch p.Type {
	case TypeString, TypeInteger, TypeNumber, TypeBoolean, TypeArray, TypeObject:
	default:
		return fmt.Errorf("unsupported type %q", p.Type)
	}
	if len(p.Enum) > 0 && p.Type != TypeString {
		return fmt.Errorf("enum is only supported for string params")
	}
	if p.Default != nil {
		if _, err := util.Coerce(p.Default, string(p.Type)); err != nil {
			return fmt.Errorf("default: %w", err)
		}
	}
	return nil
}

// Schema renders params as a JSON schema object.
func Schema(params map[string]Param) map[string]any {
	properties := make(map[string]any, len(params))
	required := make([]string, 0)

	for name, p := range params {
		prop := map[string]any{"type": string(p.Type)}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		if len(p.Enum) > 0 {
			prop["enum"] = append([]string(nil), p.Enum...)
		}
		properties[name] = prop
		if p.Required {
			required = append(required, name)
		}
	}
	sort.Strings(required)

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// ParamsFromStruct derives params from a struct using reflection. Fields
// without omitempty that are not pointers are required.
//
// Example:
//
//	type SumArgs struct {
//	  A int `json:"a" description:"First addend"`
//	  B int `json:"b" description:"Second addend"`
//	}
//
//	params := tool.ParamsFromStruct(SumArgs{})
func ParamsFromStruct(structType any) map[string]Param {
	fields := util.StructFields(structType)
	params := make(map[string]Param, len(fields))
	for _, f := range fields {
		params[f.Name] = Param{
			Type:        ParamType(f.Type),
			Description: f.Description,
			Required:    f.Required,
		}
	}
	return params
}

// Validate checks args against params and returns a new map holding the
// coerced arguments with defaults filled in. Every offending field is
// reported in a single InvalidArguments error.
func Validate(toolName string, params map[string]Param, args map[string]any) (map[string]any, error) {
	problems := map[string]string{}
	out := make(map[string]any, len(params))

	for name, value := range args {
		p, ok := params[name]
		if !ok {
			problems[name] = "unknown argument"
			continue
		}
		if value == nil {
			continue // treated as absent
		}
		v, err := util.Coerce(value, string(p.Type))
		if err != nil {
			problems[name] = err.Error()
			continue
		}
		if len(p.Enum) > 0 && !contains(p.Enum, v.(string)) {
			problems[name] = fmt.Sprintf("must be one of %v", p.Enum)
			continue
		}
		out[name] = v
	}

	for name, p := range params {
		if _, ok := out[name]; ok {
			continue
		}
		if _, bad := problems[name]; bad {
			continue
		}
		if p.Default != nil {
			v, _ := util.Coerce(p.Default, string(p.Type))
			out[name] = core.CloneArgs(map[string]any{name: v})[name]
			continue
		}
		if p.Required {
			problems[name] = "required argument is missing"
		}
	}

	if len(problems) > 0 {
		return nil, core.InvalidArgumentsError(toolName, problems)
	}
	return out, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
