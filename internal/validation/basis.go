// Package validation checks basis payloads against the expected schema before
// they are persisted.
package validation

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// basisSchema describes the citation/evidence payload attached to a completed
// report: an array of per-field entries, each carrying reasoning and citations.
const basisSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"properties": {
			"field": {"type": "string"},
			"reasoning": {"type": "string"},
			"confidence": {"type": ["number", "string", "null"]},
			"citations": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"url": {"type": "string"},
						"excerpts": {
							"type": "array",
							"items": {"type": "string"}
						}
					},
					"required": ["url"]
				}
			}
		},
		"required": ["field"]
	}
}`

var compiledBasisSchema *gojsonschema.Schema

func init() {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(basisSchema))
	if err != nil {
		panic(fmt.Sprintf("basis schema does not compile: %v", err))
	}
	compiledBasisSchema = schema
}

// ValidateBasis validates a serialized basis payload. A validation failure is
// returned as an error; callers treat it as advisory and drop the payload
// rather than failing the report.
func ValidateBasis(basisJSON []byte) error {
	result, err := compiledBasisSchema.Validate(gojsonschema.NewBytesLoader(basisJSON))
	if err != nil {
		return fmt.Errorf("validate basis: %w", err)
	}
	if !result.Valid() {
		var issues []string
		for _, desc := range result.Errors() {
			issues = append(issues, desc.String())
		}
		return fmt.Errorf("basis validation failed: %v", issues)
	}
	return nil
}
