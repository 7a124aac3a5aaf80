package planner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const planJSON = `{
  "id": "plan-7",
  "goal": "Research Go schedulers",
  "tasks": [
    {"id": "search", "description": "Search the web", "tools": ["web_search"], "inputs": {"query": "go dag", "limit": 5}},
    {"id": "summarize", "description": "Summarize results", "tools": ["llm"], "dependencies": ["search"]},
    {"id": "chart", "description": "Draw a chart", "dependencies": ["search"], "optional": true}
  ]
}`

const planYAML = `
description: Build and ship
steps:
  - id: build
    description: Compile
    required_capabilities: [shell]
    inputs:
      command: make build
  - id: ship
    description: Upload
    depends_on: [build]
`

func TestParsePlan_JSON(t *testing.T) {
	plan, err := ParsePlan([]byte(planJSON), FormatJSON)
	require.NoError(t, err)

	assert.Equal(t, "plan-7", plan.ID)
	assert.Equal(t, "Research Go schedulers", plan.Description)
	require.Len(t, plan.Steps, 3)

	search := plan.Steps[0]
	assert.Equal(t, []string{"web_search"}, search.RequiredCapabilities)
	assert.Equal(t, map[string]string{"query": "go dag", "limit": "5"}, search.Inputs)

	assert.Equal(t, []string{"search"}, plan.Steps[1].DependsOn)
	assert.True(t, plan.Steps[2].Optional)
}

func TestParsePlan_YAML(t *testing.T) {
	plan, err := ParsePlan([]byte(planYAML), FormatYAML)
	require.NoError(t, err)

	assert.NotEmpty(t, plan.ID)
	assert.Equal(t, "Build and ship", plan.Description)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, []string{"shell"}, plan.Steps[0].RequiredCapabilities)
	assert.Equal(t, "make build", plan.Steps[0].Inputs["command"])
	assert.Equal(t, []string{"build"}, plan.Steps[1].DependsOn)
}

func TestParsePlan_Errors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		format  Format
		wantErr string
	}{
		{"malformed json", `{"tasks": [`, FormatJSON, "schema"},
		{"missing tasks", `{"goal": "x"}`, FormatJSON, "schema validation failed"},
		{"task without description", `{"goal": "x", "tasks": [{"id": "a"}]}`, FormatJSON, "description"},
		{"wrong type", `{"goal": "x", "tasks": [{"description": "a", "optional": "yes"}]}`, FormatJSON, "schema validation failed"},
		{"malformed yaml", "steps: [unclosed", FormatYAML, "failed to parse plan YAML"},
		{"missing goal", `{"tasks": [{"description": "a"}]}`, FormatJSON, "description cannot be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePlan([]byte(tt.data), tt.format)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("structural errors surface as validation errors", func(t *testing.T) {
		data := `{"goal": "x", "tasks": [
			{"id": "A", "description": "a", "dependencies": ["B"]},
			{"id": "B", "description": "b", "dependencies": ["A"]}
		]}`
		_, err := ParsePlan([]byte(data), FormatJSON)
		assert.True(t, IsValidationKind(err, ValidationCycleDetected))
	})

	t.Run("empty task list", func(t *testing.T) {
		_, err := ParsePlan([]byte(`{"goal": "x", "tasks": []}`), FormatJSON)
		assert.True(t, IsValidationKind(err, ValidationEmptyPlan))
	})
}

func TestLoadPlanFile(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "plan.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(planJSON), 0o644))
	plan, err := LoadPlanFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "plan-7", plan.ID)

	yamlPath := filepath.Join(dir, "plan.yml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(planYAML), 0o644))
	plan, err = LoadPlanFile(yamlPath)
	require.NoError(t, err)
	assert.Len(t, plan.Steps, 2)

	_, err = LoadPlanFile(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read plan file")
}
