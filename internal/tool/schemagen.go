package tool

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// SchemaFromStruct reflects a Go struct (typically passed as a zero-value
// pointer, e.g. SchemaFromStruct(&WebFetchInput{})) into the JSON Schema
// document a Definition.InputSchema expects, so a tool author can declare
// the input contract as a typed struct instead of a hand-written map.
// Field names follow the struct's "json" tag, matching how the rest of the
// kernel marshals tool input/output.
//
// The reflector targets one tool's input type, producing the same schema
// dialect the Executor validates against.
func SchemaFromStruct(v any) (map[string]any, error) {
	r := &jsonschema.Reflector{
		FieldNameTag:               "json",
		ExpandedStruct:             true,
		AllowAdditionalProperties:  false,
		RequiredFromJSONSchemaTags: true,
	}
	schema := r.Reflect(v)
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
