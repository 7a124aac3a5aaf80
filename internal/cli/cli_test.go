package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harun/stepflow/pkg/planner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const okPlan = `
goal: Build report
tasks:
  - id: fetch
    description: Fetch data
    inputs:
      command: echo 21
  - id: double
    description: Double it
    dependencies: [fetch]
    inputs:
      command: echo $((STEPFLOW_DEP_FETCH * 2))
  - id: extra
    description: Optional extra
    optional: true
    inputs:
      command: exit 1
`

const failingPlan = `{
  "goal": "Broken",
  "tasks": [
    {"id": "boom", "description": "Always fails", "inputs": {"command": "echo nope >&2; exit 2"}},
    {"id": "after", "description": "Never runs", "dependencies": ["boom"], "inputs": {"command": "echo hi"}}
  ]
}`

type testEnv struct {
	dir    string
	config string
}

func newTestEnv(t *testing.T, extra string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := "data_dir: " + dir + "\n" +
		"logging:\n  level: error\n  pretty: false\n" +
		"engine:\n  max_attempts: 2\n" + extra
	path := filepath.Join(dir, "stepflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return &testEnv{dir: dir, config: path}
}

func (e *testEnv) writePlan(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (e *testEnv) execute(args ...string) (string, string, error) {
	cmd := NewRootCmd()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(append([]string{"--config", e.config}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRootCommand(t *testing.T) {
	t.Run("version flag", func(t *testing.T) {
		cmd := NewRootCmd()
		cmd.SetArgs([]string{"--version"})
		output := &bytes.Buffer{}
		cmd.SetOut(output)

		require.NoError(t, cmd.Execute())
		assert.Contains(t, output.String(), "stepflow version "+GetVersion())
	})

	t.Run("subcommands", func(t *testing.T) {
		cmd := NewRootCmd()
		for _, name := range []string{"run", "validate", "history", "schedule"} {
			found, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, found.Name())
		}
	})

	t.Run("global flags", func(t *testing.T) {
		cmd := NewRootCmd()
		require.NotNil(t, cmd.PersistentFlags().Lookup("config"))
		require.NotNil(t, cmd.PersistentFlags().Lookup("log-level"))
	})
}

func TestRunCommand_Success(t *testing.T) {
	env := newTestEnv(t, "")
	plan := env.writePlan(t, "plan.yaml", okPlan)

	stdout, _, err := env.execute("run", plan)
	require.NoError(t, err)

	assert.Contains(t, stdout, "task_start")
	assert.Contains(t, stdout, "Completed: Double it")
	assert.Contains(t, stdout, "success=true")
	assert.Contains(t, stdout, "✓ double")
	assert.Contains(t, stdout, "✗ extra")

	history, _, err := env.execute("history")
	require.NoError(t, err)
	assert.Contains(t, history, "Build report")
	assert.Contains(t, history, "completed")
}

func TestRunCommand_JSONOutput(t *testing.T) {
	env := newTestEnv(t, "")
	plan := env.writePlan(t, "plan.yaml", okPlan)

	stdout, _, err := env.execute("run", plan, "--output", "json")
	require.NoError(t, err)

	var result planner.Result[string]
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.True(t, result.Success)
	assert.Equal(t, "42", result.Outputs["double"])
	assert.Equal(t, planner.StepStatusFailed, result.Steps["extra"].Status)

	detail, _, err := env.execute("history", result.RunID)
	require.NoError(t, err)
	assert.Contains(t, detail, result.RunID)
	assert.Contains(t, detail, "double")
	assert.Contains(t, detail, `"42"`)
}

func TestRunCommand_RequiredFailure(t *testing.T) {
	env := newTestEnv(t, "")
	plan := env.writePlan(t, "plan.json", failingPlan)

	stdout, _, err := env.execute("run", plan, "-q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "completed with failures")
	assert.NotContains(t, stdout, "task_start")
	assert.Contains(t, stdout, "✗ boom")
	assert.Contains(t, stdout, "✗ after: blocked dependency [boom]")
}

func TestRunCommand_InvalidInput(t *testing.T) {
	env := newTestEnv(t, "")

	_, _, err := env.execute("run", filepath.Join(env.dir, "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read plan file")

	plan := env.writePlan(t, "plan.yaml", okPlan)
	_, _, err = env.execute("run", plan, "--output", "xml")
	assert.ErrorContains(t, err, "invalid output format")
}

func TestRunCommand_AuditLog(t *testing.T) {
	env := newTestEnv(t, "audit:\n  enabled: true\n")
	plan := env.writePlan(t, "plan.yaml", okPlan)

	_, _, err := env.execute("run", plan, "-q")
	require.NoError(t, err)

	f, err := os.Open(filepath.Join(env.dir, "audit.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var actions []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		assert.Equal(t, "plan_execution", entry["type"])
		actions = append(actions, entry["action"].(string))
	}
	require.NotEmpty(t, actions)
	assert.Equal(t, "plan", actions[0])
	assert.Equal(t, "execution_complete", actions[len(actions)-1])
}

func TestValidateCommand(t *testing.T) {
	env := newTestEnv(t, "")
	plan := env.writePlan(t, "plan.yaml", okPlan)

	stdout, _, err := env.execute("validate", plan)
	require.NoError(t, err)
	assert.Contains(t, stdout, "3 steps in 2 levels")
	assert.Contains(t, stdout, "level 1: fetch, extra")
	assert.Contains(t, stdout, "level 2: double")

	cyclic := env.writePlan(t, "cyclic.json", `{"goal": "x", "tasks": [
		{"id": "A", "description": "a", "dependencies": ["B"]},
		{"id": "B", "description": "b", "dependencies": ["A"]}
	]}`)
	_, _, err = env.execute("validate", cyclic)
	require.Error(t, err)
	assert.True(t, planner.IsValidationKind(err, planner.ValidationCycleDetected))
}

func TestHistoryCommand(t *testing.T) {
	env := newTestEnv(t, "")

	stdout, _, err := env.execute("history")
	require.NoError(t, err)
	assert.Contains(t, stdout, "No runs recorded")

	_, _, err = env.execute("history", "missing-run")
	assert.ErrorContains(t, err, "run not found")

	disabled := newTestEnv(t, "store:\n  enabled: false\n")
	_, _, err = disabled.execute("history")
	assert.ErrorContains(t, err, "disabled")
}

func TestScheduleCommand_Validation(t *testing.T) {
	env := newTestEnv(t, "")
	plan := env.writePlan(t, "plan.yaml", okPlan)

	_, _, err := env.execute("schedule", plan)
	assert.ErrorContains(t, err, "cron")

	_, _, err = env.execute("schedule", plan, "--cron", "every tuesday")
	assert.ErrorContains(t, err, "invalid cron expression")

	_, _, err = env.execute("schedule", filepath.Join(env.dir, "nope.yaml"), "--cron", "@hourly")
	assert.ErrorContains(t, err, "failed to read plan file")
}

func TestInvalidConfig(t *testing.T) {
	env := newTestEnv(t, "")
	_, _, err := env.execute("--log-level", "loud", "history")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "invalid config"))
}

func TestAuditStatus(t *testing.T) {
	assert.Equal(t, "success", auditStatus(planner.EventTaskComplete))
	assert.Equal(t, "failure", auditStatus(planner.EventExecutionError))
	assert.Equal(t, "pending", auditStatus(planner.EventTaskProgress))
}
