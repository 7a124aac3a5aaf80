package planner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// PlanSchema is the JSON schema of a plan document. Both the planner-facing
// names (goal, tasks, tools, dependencies) and the step-facing names
// (description, steps, required_capabilities, depends_on) are accepted.
const PlanSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "id": {"type": "string"},
    "goal": {"type": "string"},
    "description": {"type": "string"},
    "tasks": {"type": "array", "items": {"$ref": "#/definitions/task"}},
    "steps": {"type": "array", "items": {"$ref": "#/definitions/task"}}
  },
  "anyOf": [
    {"required": ["tasks"]},
    {"required": ["steps"]}
  ],
  "definitions": {
    "task": {
      "type": "object",
      "properties": {
        "id": {"type": "string"},
        "description": {"type": "string"},
        "tools": {"type": "array", "items": {"type": "string"}},
        "required_capabilities": {"type": "array", "items": {"type": "string"}},
        "dependencies": {"type": "array", "items": {"type": "string"}},
        "depends_on": {"type": "array", "items": {"type": "string"}},
        "optional": {"type": "boolean"},
        "inputs": {
          "type": "object",
          "additionalProperties": {"type": ["string", "number", "boolean"]}
        }
      },
      "required": ["description"]
    }
  }
}`

// Format identifies the encoding of a plan document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

type planDocument struct {
	ID          string         `json:"id"`
	Goal        string         `json:"goal"`
	Description string         `json:"description"`
	Tasks       []taskDocument `json:"tasks"`
	Steps       []taskDocument `json:"steps"`
}

type taskDocument struct {
	ID                   string         `json:"id"`
	Description          string         `json:"description"`
	Tools                []string       `json:"tools"`
	RequiredCapabilities []string       `json:"required_capabilities"`
	Dependencies         []string       `json:"dependencies"`
	DependsOn            []string       `json:"depends_on"`
	Optional             bool           `json:"optional"`
	Inputs               map[string]any `json:"inputs"`
}

var planSchemaLoader = gojsonschema.NewStringLoader(PlanSchema)

// LoadPlanFile reads a plan document from disk. The format follows the file
// extension; .yaml and .yml are YAML, everything else is JSON.
func LoadPlanFile(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}

	format := FormatJSON
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = FormatYAML
	}

	return ParsePlan(data, format)
}

// ParsePlan decodes, schema-checks and validates a plan document.
func ParsePlan(data []byte, format Format) (*Plan, error) {
	if format == FormatYAML {
		converted, err := yamlToJSON(data)
		if err != nil {
			return nil, err
		}
		data = converted
	}

	if err := validatePlanSchema(data); err != nil {
		return nil, fmt.Errorf("plan schema validation failed: %w", err)
	}

	var doc planDocument
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse plan JSON: %w", err)
	}

	return doc.toPlan()
}

func (d planDocument) toPlan() (*Plan, error) {
	description := d.Goal
	if description == "" {
		description = d.Description
	}

	tasks := d.Tasks
	if len(tasks) == 0 {
		tasks = d.Steps
	}

	steps := make([]Step, 0, len(tasks))
	for _, t := range tasks {
		step := Step{
			ID:                   t.ID,
			Description:          t.Description,
			RequiredCapabilities: append(t.Tools, t.RequiredCapabilities...),
			DependsOn:            append(t.Dependencies, t.DependsOn...),
			Optional:             t.Optional,
		}
		if len(t.Inputs) > 0 {
			step.Inputs = make(map[string]string, len(t.Inputs))
			for k, v := range t.Inputs {
				step.Inputs[k] = fmt.Sprint(v)
			}
		}
		steps = append(steps, step)
	}

	plan, err := NewPlan(description, steps)
	if err != nil {
		return nil, err
	}
	if d.ID != "" {
		plan.ID = d.ID
	}
	return plan, nil
}

func validatePlanSchema(data []byte) error {
	result, err := gojsonschema.Validate(planSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("schema validation errors: %s", strings.Join(msgs, "; "))
	}
	return nil
}

func yamlToJSON(data []byte) ([]byte, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse plan YAML: %w", err)
	}
	out, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to convert plan YAML: %w", err)
	}
	return out, nil
}
