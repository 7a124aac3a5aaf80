package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLoggerRecord(t *testing.T) {
	var buf bytes.Buffer
	audit := NewAuditLogger(&buf)

	audit.Record(context.Background(), AuditEvent{
		Type:     "step",
		RunID:    "run-1",
		StepID:   "fetch",
		Action:   "task_error",
		Status:   "failure",
		Message:  "boom",
		Metadata: map[string]interface{}{"attempt": 2},
	})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "step", entry["type"])
	assert.Equal(t, "run-1", entry["run_id"])
	assert.Equal(t, "fetch", entry["step_id"])
	assert.Equal(t, "task_error", entry["action"])
	assert.Equal(t, "failure", entry["status"])
	assert.Equal(t, "boom", entry["message"])
	assert.NotEmpty(t, entry["timestamp"])
}

func TestOpenAuditLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "events.jsonl")

	audit, err := OpenAuditLogger(path)
	require.NoError(t, err)

	audit.Record(context.Background(), AuditEvent{Type: "run", RunID: "r1", Action: "plan", Status: "pending"})
	audit.Record(context.Background(), AuditEvent{Type: "run", RunID: "r1", Action: "execution_complete", Status: "success"})
	require.NoError(t, audit.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[1], "execution_complete")
}

func TestNilAuditLogger(t *testing.T) {
	var audit *AuditLogger
	assert.NotPanics(t, func() {
		audit.Record(context.Background(), AuditEvent{Action: "noop"})
	})
	assert.NoError(t, audit.Close())
}
