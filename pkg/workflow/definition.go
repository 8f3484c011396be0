// Package workflow executes declared step graphs as dependency-gated runs.
package workflow

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/dmateus/botherd/pkg/models"
)

// definitionSchema is the structural contract for stored definitions.
// Unknown step types are rejected here, at parse time, never during a run.
const definitionSchema = `{
	"type": "object",
	"required": ["steps"],
	"properties": {
		"steps": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "name", "type"],
				"properties": {
					"id":   {"type": "string", "minLength": 1},
					"name": {"type": "string", "minLength": 1},
					"type": {"type": "string", "enum": ["bot_task", "approval", "wait"]},
					"dependsOn": {
						"type": "array",
						"items": {"type": "string"}
					},
					"priority": {"type": "string", "enum": ["urgent", "high", "medium", "low"]},
					"spec": {"type": "object"}
				}
			}
		},
		"onFailure": {"type": "string", "enum": ["stop"]}
	}
}`

// ParseError indicates the raw definition is not valid JSON.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse workflow definition: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// DefinitionError indicates valid JSON that is not a valid definition:
// missing or non-array steps, unknown step types, duplicate step ids.
type DefinitionError struct {
	Details []string
}

func (e *DefinitionError) Error() string {
	return "invalid workflow definition: " + strings.Join(e.Details, "; ")
}

// ParseDefinition parses and structurally validates a raw definition. An
// empty steps array is valid: the degenerate always-complete plan.
func ParseDefinition(raw string) (*models.WorkflowDefinition, error) {
	var probe any
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return nil, &ParseError{Err: err}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(definitionSchema),
		gojsonschema.NewStringLoader(raw),
	)
	if err != nil {
		return nil, &ParseError{Err: err}
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}

		return nil, &DefinitionError{Details: details}
	}

	var def models.WorkflowDefinition
	if err := json.Unmarshal([]byte(raw), &def); err != nil {
		return nil, &ParseError{Err: err}
	}

	if def.Steps == nil {
		return nil, &DefinitionError{Details: []string{"steps must be an array"}}
	}

	seen := make(map[string]bool, len(def.Steps))
	for _, step := range def.Steps {
		if seen[step.ID] {
			return nil, &DefinitionError{Details: []string{fmt.Sprintf("duplicate step id %q", step.ID)}}
		}

		seen[step.ID] = true
	}

	return &def, nil
}
