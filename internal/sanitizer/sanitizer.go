// Package sanitizer rewrites client-supplied JSON Schemas into the restricted
// dialect the upstream validator accepts. Unsupported keywords are either
// normalized into supported ones, flattened, hoisted into the description as
// prose, or stripped.
package sanitizer

import (
	"encoding/json"
	"fmt"
	"sort"
)

// placeholderDescription documents the boolean injected into empty object
// schemas, which the upstream validator rejects outright.
const placeholderDescription = "Placeholder property for an object without defined properties. Always pass true."

// constraint keywords hoisted into the description in phase 3, in emission
// order.
var hoistedConstraints = []string{
	"minLength", "maxLength", "minimum", "maximum",
	"exclusiveMinimum", "exclusiveMaximum", "pattern",
	"minItems", "maxItems", "minProperties", "maxProperties",
	"format", "default", "examples",
}

// keywords deleted outright in phase 4.
var strippedKeywords = []string{
	"$schema", "$defs", "definitions", "$ref", "$id", "$comment",
	"title", "propertyNames", "additionalProperties",
	"if", "then", "else", "not", "dependentSchemas", "dependentRequired",
}

// Sanitize rewrites a JSON Schema (decoded as map[string]interface{}) into
// the upstream dialect. The input map is not mutated.
//
// Parameters:
//   - schema: The decoded client schema
//
// Returns:
//   - map[string]interface{}: The sanitized schema
func Sanitize(schema map[string]interface{}) map[string]interface{} {
	out := sanitizeNode(schema)
	ensurePlaceholder(out)
	return out
}

// SanitizeRaw is the raw-JSON convenience wrapper used by the translators.
// Invalid input is returned unchanged.
func SanitizeRaw(raw []byte) []byte {
	var schema map[string]interface{}
	if err := json.Unmarshal(raw, &schema); err != nil {
		return raw
	}
	sanitized := Sanitize(schema)
	encoded, err := json.Marshal(sanitized)
	if err != nil {
		return raw
	}
	return encoded
}

func sanitizeNode(schema map[string]interface{}) map[string]interface{} {
	node := cloneMap(schema)

	normalizeConst(node)
	normalizeTypeArray(node)
	flattenAllOf(node)
	flattenChoice(node, "anyOf")
	flattenChoice(node, "oneOf")
	hoistConstraints(node)
	stripKeywords(node)
	descendChildren(node)

	return node
}

// normalizeConst rewrites const: v into enum: [v].
func normalizeConst(node map[string]interface{}) {
	if v, ok := node["const"]; ok {
		node["enum"] = []interface{}{v}
		delete(node, "const")
	}
}

// normalizeTypeArray picks the first non-null entry of a type array and
// records the original list plus a nullable marker in the description.
func normalizeTypeArray(node map[string]interface{}) {
	types, ok := node["type"].([]interface{})
	if !ok {
		return
	}
	var picked string
	nullable := false
	for _, t := range types {
		s, _ := t.(string)
		if s == "null" {
			nullable = true
			continue
		}
		if picked == "" && s != "" {
			picked = s
		}
	}
	if picked == "" {
		picked = "string"
	}
	node["type"] = picked
	note := fmt.Sprintf("type was %s", joinTypes(types))
	if nullable {
		note += ", nullable"
	}
	appendDescription(node, note)
}

func joinTypes(types []interface{}) string {
	out := "["
	for i, t := range types {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%v", t)
	}
	return out + "]"
}

// flattenAllOf deep-merges every allOf branch into the node. Properties are
// merged per-key; all other keys are first-wins on the result.
func flattenAllOf(node map[string]interface{}) {
	branches, ok := node["allOf"].([]interface{})
	if !ok {
		return
	}
	delete(node, "allOf")
	for _, raw := range branches {
		branch, okBranch := raw.(map[string]interface{})
		if !okBranch {
			continue
		}
		mergeSchema(node, branch)
	}
	appendDescription(node, "allOf flattened")
}

func mergeSchema(dst, src map[string]interface{}) {
	for key, value := range src {
		if key == "properties" {
			srcProps, okSrc := value.(map[string]interface{})
			if !okSrc {
				continue
			}
			dstProps, okDst := dst["properties"].(map[string]interface{})
			if !okDst {
				dstProps = make(map[string]interface{})
				dst["properties"] = dstProps
			}
			for name, prop := range srcProps {
				if _, exists := dstProps[name]; !exists {
					dstProps[name] = prop
				}
			}
			continue
		}
		if _, exists := dst[key]; !exists {
			dst[key] = value
		}
	}
}

// flattenChoice replaces anyOf/oneOf with the branch carrying the most keys.
func flattenChoice(node map[string]interface{}, keyword string) {
	branches, ok := node[keyword].([]interface{})
	if !ok {
		return
	}
	delete(node, keyword)
	var best map[string]interface{}
	for _, raw := range branches {
		branch, okBranch := raw.(map[string]interface{})
		if !okBranch {
			continue
		}
		if best == nil || len(branch) > len(best) {
			best = branch
		}
	}
	if best != nil {
		mergeSchema(node, best)
	}
	appendDescription(node, keyword+" flattened")
}

// hoistConstraints appends scalar constraint values to the description and
// deletes the keyword.
func hoistConstraints(node map[string]interface{}) {
	for _, name := range hoistedConstraints {
		value, ok := node[name]
		if !ok {
			continue
		}
		if isScalar(value) {
			appendDescription(node, fmt.Sprintf("%s: %v", name, value))
		}
		delete(node, name)
	}
}

func isScalar(v interface{}) bool {
	switch v.(type) {
	case string, bool, float64, int, int64, json.Number, nil:
		return true
	}
	return false
}

func stripKeywords(node map[string]interface{}) {
	for _, name := range strippedKeywords {
		delete(node, name)
	}
}

// descendChildren recurses into properties and items.
func descendChildren(node map[string]interface{}) {
	if props, ok := node["properties"].(map[string]interface{}); ok {
		names := make([]string, 0, len(props))
		for name := range props {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if child, okChild := props[name].(map[string]interface{}); okChild {
				props[name] = sanitizeNode(child)
			}
		}
	}
	if items, ok := node["items"].(map[string]interface{}); ok {
		node["items"] = sanitizeNode(items)
	}
}

// ensurePlaceholder injects a _placeholder boolean into object schemas with
// no properties, recursively.
func ensurePlaceholder(node map[string]interface{}) {
	typ, _ := node["type"].(string)
	props, hasProps := node["properties"].(map[string]interface{})
	if typ == "object" && (!hasProps || len(props) == 0) {
		node["properties"] = map[string]interface{}{
			"_placeholder": map[string]interface{}{
				"type":        "boolean",
				"description": placeholderDescription,
			},
		}
		return
	}
	for _, raw := range props {
		if child, ok := raw.(map[string]interface{}); ok {
			ensurePlaceholder(child)
		}
	}
	if items, ok := node["items"].(map[string]interface{}); ok {
		ensurePlaceholder(items)
	}
}

func appendDescription(node map[string]interface{}, note string) {
	current, _ := node["description"].(string)
	if current == "" {
		node["description"] = note
		return
	}
	node["description"] = current + "; " + note
}

func cloneMap(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for key, value := range in {
		out[key] = cloneValue(value)
	}
	return out
}

func cloneValue(in interface{}) interface{} {
	switch v := in.(type) {
	case map[string]interface{}:
		return cloneMap(v)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return in
	}
}
