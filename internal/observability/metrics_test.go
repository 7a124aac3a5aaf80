package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordStepOutcome(t *testing.T) {
	m := getMetrics()

	succeededBefore := testutil.ToFloat64(m.stepsTotal.WithLabelValues("succeeded"))
	retriesBefore := testutil.ToFloat64(m.stepRetries)

	RecordStepOutcome("succeeded", 20*time.Millisecond, 3)

	assert.Equal(t, succeededBefore+1, testutil.ToFloat64(m.stepsTotal.WithLabelValues("succeeded")))
	assert.Equal(t, retriesBefore+2, testutil.ToFloat64(m.stepRetries))
}

func TestRecordStepOutcomeWithoutAttempts(t *testing.T) {
	m := getMetrics()

	skippedBefore := testutil.ToFloat64(m.stepsTotal.WithLabelValues("skipped"))
	retriesBefore := testutil.ToFloat64(m.stepRetries)

	RecordStepOutcome("skipped", 0, 0)

	assert.Equal(t, skippedBefore+1, testutil.ToFloat64(m.stepsTotal.WithLabelValues("skipped")))
	assert.Equal(t, retriesBefore, testutil.ToFloat64(m.stepRetries))
}

func TestRecordRunAndRound(t *testing.T) {
	m := getMetrics()

	runsBefore := testutil.ToFloat64(m.runsTotal.WithLabelValues("completed", "true"))
	roundsBefore := testutil.ToFloat64(m.roundsTotal)

	RecordRound(4)
	RecordRun("completed", true, time.Second, 1)

	assert.Equal(t, runsBefore+1, testutil.ToFloat64(m.runsTotal.WithLabelValues("completed", "true")))
	assert.Equal(t, roundsBefore+1, testutil.ToFloat64(m.roundsTotal))
}

func TestActiveSteps(t *testing.T) {
	m := getMetrics()
	before := testutil.ToFloat64(m.activeSteps)

	IncActiveSteps()
	assert.Equal(t, before+1, testutil.ToFloat64(m.activeSteps))
	DecActiveSteps()
	assert.Equal(t, before, testutil.ToFloat64(m.activeSteps))
}

func TestMetricsHandler(t *testing.T) {
	RecordRound(1)

	server := httptest.NewServer(MetricsHandler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "stepflow_rounds_total")
}
