package tools

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// BuildSchema generates a JSON Schema from a Go struct type using reflection.
// Supported struct tags:
//   - json: field name
//   - jsonschema: extra attributes (description, required, enum=a|b|c)
//
// Example:
//
//	type Args struct {
//	    Query string `json:"query" jsonschema:"description=Search query,required"`
//	}
func BuildSchema(v any) map[string]any {
	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}
	}
	return buildObjectSchema(t)
}

func buildObjectSchema(t reflect.Type) map[string]any {
	properties := make(map[string]any)
	var required []string

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		fieldName := field.Name
		if jsonTag := field.Tag.Get("json"); jsonTag != "" {
			parts := strings.Split(jsonTag, ",")
			if parts[0] == "-" {
				continue
			}
			if parts[0] != "" {
				fieldName = parts[0]
			}
		}

		propSchema := buildTypeSchema(field.Type)

		if jsTag := field.Tag.Get("jsonschema"); jsTag != "" {
			for _, attr := range strings.Split(jsTag, ",") {
				switch {
				case attr == "required":
					required = append(required, fieldName)
				case strings.HasPrefix(attr, "description="):
					propSchema["description"] = strings.TrimPrefix(attr, "description=")
				case strings.HasPrefix(attr, "enum="):
					values := strings.Split(strings.TrimPrefix(attr, "enum="), "|")
					enum := make([]any, len(values))
					for i, v := range values {
						enum[i] = v
					}
					propSchema["enum"] = enum
				}
			}
		}

		properties[fieldName] = propSchema
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func buildTypeSchema(t reflect.Type) map[string]any {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	schema := make(map[string]any)
	switch t.Kind() {
	case reflect.String:
		schema["type"] = "string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		schema["type"] = "integer"
	case reflect.Float32, reflect.Float64:
		schema["type"] = "number"
	case reflect.Bool:
		schema["type"] = "boolean"
	case reflect.Slice, reflect.Array:
		schema["type"] = "array"
		schema["items"] = buildTypeSchema(t.Elem())
	case reflect.Map:
		schema["type"] = "object"
	case reflect.Struct:
		return buildObjectSchema(t)
	default:
		schema["type"] = "string"
	}
	return schema
}

// ValidateArgs checks args against the tool's declared parameter schema.
// It verifies required fields are present and that provided values match
// the declared primitive types. The first violation is returned.
func ValidateArgs(tool Tool, args map[string]any) error {
	schema := tool.Parameters()

	if required, ok := schema["required"].([]string); ok {
		for _, field := range required {
			if _, present := args[field]; !present {
				return &SchemaViolation{Tool: tool.Name(), Field: field, Message: "required field missing"}
			}
		}
	} else if required, ok := schema["required"].([]any); ok {
		for _, f := range required {
			field, _ := f.(string)
			if _, present := args[field]; field != "" && !present {
				return &SchemaViolation{Tool: tool.Name(), Field: field, Message: "required field missing"}
			}
		}
	}

	properties, _ := schema["properties"].(map[string]any)
	for name, value := range args {
		propAny, declared := properties[name]
		if !declared {
			return &SchemaViolation{Tool: tool.Name(), Field: name, Message: "unknown field"}
		}
		prop, _ := propAny.(map[string]any)
		declaredType, _ := prop["type"].(string)
		if declaredType == "" || value == nil {
			continue
		}
		if err := checkType(tool.Name(), name, declaredType, value); err != nil {
			return err
		}
		if enum, ok := prop["enum"].([]any); ok {
			if err := checkEnum(tool.Name(), name, enum, value); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkType(tool, field, declaredType string, value any) error {
	ok := false
	switch declaredType {
	case "string":
		_, ok = value.(string)
	case "integer":
		switch v := value.(type) {
		case int, int32, int64:
			ok = true
		case float64:
			ok = v == float64(int64(v))
		}
	case "number":
		switch value.(type) {
		case int, int32, int64, float32, float64:
			ok = true
		}
	case "boolean":
		_, ok = value.(bool)
	case "array":
		ok = reflect.ValueOf(value).Kind() == reflect.Slice
	case "object":
		_, ok = value.(map[string]any)
	default:
		ok = true
	}
	if !ok {
		return &SchemaViolation{Tool: tool, Field: field, Message: fmt.Sprintf("expected %s, got %T", declaredType, value)}
	}
	return nil
}

func checkEnum(tool, field string, enum []any, value any) error {
	for _, allowed := range enum {
		if allowed == value {
			return nil
		}
	}
	return &SchemaViolation{Tool: tool, Field: field, Message: fmt.Sprintf("value %v not in enum", value)}
}

// ValidatePayload checks a Success payload against the tool's declared
// output fields. A tool with no declared outputs accepts any payload.
func ValidatePayload(tool Tool, payload json.RawMessage) error {
	fields := tool.OutputFields()
	if len(fields) == 0 {
		return nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return &SchemaViolation{Tool: tool.Name(), Message: fmt.Sprintf("payload is not a JSON object: %v", err)}
	}
	for _, field := range fields {
		if _, present := obj[field]; !present {
			return &SchemaViolation{Tool: tool.Name(), Field: field, Message: "declared output field missing"}
		}
	}
	return nil
}
