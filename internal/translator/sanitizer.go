// Package translator implements the bidirectional transforms between the
// OpenAI and Anthropic request dialects and the Gemini-shaped Cloud Code
// Assist wire format, plus the JSON-Schema sanitizer for tool definitions
// and the session-repair pass for corrupted conversation histories.
package translator

import (
	"encoding/json"
	"strings"
	"unicode"
)

// forbiddenSchemaKeys are JSON-Schema keywords the upstream rejects; they
// are stripped recursively wherever they appear.
var forbiddenSchemaKeys = []string{
	"$schema", "$id", "$ref", "$defs", "definitions",
	"default", "examples", "title",
	"minLength", "maxLength", "pattern", "format",
	"minimum", "maximum", "exclusiveMinimum", "exclusiveMaximum", "multipleOf",
	"minItems", "maxItems", "uniqueItems",
	"minProperties", "maxProperties", "propertyNames",
	"contentMediaType", "contentEncoding",
	"additionalProperties",
}

var forbiddenSchemaKeySet = func() map[string]struct{} {
	set := make(map[string]struct{}, len(forbiddenSchemaKeys))
	for _, key := range forbiddenSchemaKeys {
		set[key] = struct{}{}
	}
	return set
}()

// SanitizeSchema strips unsupported JSON-Schema keywords from a tool input
// schema at any depth and rewrites const constraints as single-element
// enums. Invalid JSON is returned unchanged.
func SanitizeSchema(schema []byte) []byte {
	var value interface{}
	if err := json.Unmarshal(schema, &value); err != nil {
		return schema
	}
	cleaned := sanitizeSchemaValue(value)
	out, err := json.Marshal(cleaned)
	if err != nil {
		return schema
	}
	return out
}

func sanitizeSchemaValue(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		cleaned := make(map[string]interface{}, len(v))
		for key, child := range v {
			if _, forbidden := forbiddenSchemaKeySet[key]; forbidden {
				continue
			}
			if key == "const" {
				cleaned["enum"] = []interface{}{child}
				continue
			}
			cleaned[key] = sanitizeSchemaValue(child)
		}
		return cleaned
	case []interface{}:
		cleaned := make([]interface{}, len(v))
		for i, child := range v {
			cleaned[i] = sanitizeSchemaValue(child)
		}
		return cleaned
	default:
		return value
	}
}

// SanitizeToolName normalizes a tool name to the character set the upstream
// accepts: slashes and spaces become underscores, a leading digit gains an
// underscore prefix, and anything outside [A-Za-z0-9_.:-] is dropped.
func SanitizeToolName(name string) string {
	replaced := strings.NewReplacer("/", "_", " ", "_").Replace(name)
	var builder strings.Builder
	for _, r := range replaced {
		if r > unicode.MaxASCII {
			continue
		}
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9',
			r == '_', r == '.', r == ':', r == '-':
			builder.WriteRune(r)
		}
	}
	cleaned := builder.String()
	if cleaned != "" && cleaned[0] >= '0' && cleaned[0] <= '9' {
		cleaned = "_" + cleaned
	}
	return cleaned
}
