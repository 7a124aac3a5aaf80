// Package shellexec provides a planner capability that runs each step as a
// shell command.
package shellexec

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/harun/stepflow/pkg/planner"
	"github.com/rs/zerolog"
)

// CommandInput is the step input holding the command line.
const CommandInput = "command"

// ErrNoCommand is returned for a step without a command input.
var ErrNoCommand = errors.New("step has no command input")

// Capability runs step.Inputs["command"] with /bin/sh -c. Dependency outputs
// are exported as STEPFLOW_DEP_<ID>, other inputs as STEPFLOW_INPUT_<KEY>.
// Each stdout line is reported as progress; the trimmed stdout is the output.
type Capability struct {
	Shell  string
	Dir    string
	Env    []string
	logger zerolog.Logger
}

// New creates a shell capability running in dir (empty for the current
// directory).
func New(dir string, logger zerolog.Logger) *Capability {
	return &Capability{
		Shell:  "/bin/sh",
		Dir:    dir,
		logger: logger.With().Str("component", "shellexec").Logger(),
	}
}

// Execute implements planner.Capability[string].
func (c *Capability) Execute(ctx context.Context, step planner.Step, deps map[string]string, progress planner.ProgressFunc) (string, error) {
	script := strings.TrimSpace(step.Inputs[CommandInput])
	if script == "" {
		return "", fmt.Errorf("step %s: %w", step.ID, ErrNoCommand)
	}

	cmd := exec.CommandContext(ctx, c.Shell, "-c", script)
	cmd.Dir = c.Dir
	cmd.Env = buildEnvironment(c.Env, step, deps)
	cmd.WaitDelay = time.Second

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("failed to open stdout: %w", err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start command: %w", err)
	}

	var out strings.Builder
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		out.WriteString(line)
		out.WriteByte('\n')
		if progress != nil {
			progress(line, nil)
		}
	}
	scanErr := scanner.Err()

	waitErr := cmd.Wait()
	output := strings.TrimSpace(out.String())

	c.logger.Debug().
		Str("step_id", step.ID).
		Dur("duration", time.Since(start)).
		Bool("failed", waitErr != nil).
		Msg("Command finished")

	if waitErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return output, fmt.Errorf("command interrupted: %w", ctxErr)
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return output, fmt.Errorf("command failed: %w: %s", waitErr, msg)
		}
		return output, fmt.Errorf("command failed: %w", waitErr)
	}
	if scanErr != nil {
		return output, fmt.Errorf("failed to read command output: %w", scanErr)
	}

	return output, nil
}

func buildEnvironment(extra []string, step planner.Step, deps map[string]string) []string {
	env := append([]string{}, os.Environ()...)
	env = append(env, extra...)
	env = append(env, "STEPFLOW_STEP_ID="+step.ID)

	for _, key := range sortedKeys(deps) {
		env = append(env, "STEPFLOW_DEP_"+normalizeEnvKey(key)+"="+deps[key])
	}
	for _, key := range sortedKeys(step.Inputs) {
		if key == CommandInput {
			continue
		}
		env = append(env, "STEPFLOW_INPUT_"+normalizeEnvKey(key)+"="+step.Inputs[key])
	}
	return env
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func normalizeEnvKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "UNKNOWN"
	}

	var builder strings.Builder
	builder.Grow(len(key))
	for _, r := range strings.ToUpper(key) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			builder.WriteRune(r)
			continue
		}
		builder.WriteRune('_')
	}
	return builder.String()
}
