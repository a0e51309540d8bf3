package tools

// Common JSON Schema building blocks

// StringSchema creates a JSON schema for a string field
func StringSchema(description string) map[string]any {
	return map[string]any{
		"type":        "string",
		"description": description,
	}
}

// NumberSchema creates a JSON schema for a floating point field
func NumberSchema(description string) map[string]any {
	return map[string]any{
		"type":        "number",
		"description": description,
	}
}

// IntegerSchema creates a JSON schema for an integer field with optional min/max
func IntegerSchema(description string, min, max *int) map[string]any {
	schema := map[string]any{
		"type":        "integer",
		"description": description,
	}
	if min != nil {
		schema["minimum"] = *min
	}
	if max != nil {
		schema["maximum"] = *max
	}
	return schema
}

// BooleanSchema creates a JSON schema for a boolean field
func BooleanSchema(description string) map[string]any {
	return map[string]any{
		"type":        "boolean",
		"description": description,
	}
}

// EnumSchema creates a JSON schema for an enum field
func EnumSchema(description string, values []string) map[string]any {
	return map[string]any{
		"type":        "string",
		"description": description,
		"enum":        values,
	}
}

// BuildSchema creates a complete JSON schema object with properties and required fields
func BuildSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// PageSchema returns the pagination properties shared by list tools
func PageSchema(extra map[string]any) map[string]any {
	min1, max200 := 1, maxPerPage
	props := map[string]any{
		"page":    IntegerSchema("Page number, starting at 1", &min1, nil),
		"perPage": IntegerSchema("Items per page (1-200, default 30)", &min1, &max200),
	}
	for k, v := range extra {
		props[k] = v
	}
	return BuildSchema(props, nil)
}

// IDSchema returns the schema for tools addressing one Strava object
func IDSchema(description string) map[string]any {
	min1 := 1
	return BuildSchema(map[string]any{
		"id": IntegerSchema(description, &min1, nil),
	}, []string{"id"})
}
