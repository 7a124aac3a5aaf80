package stream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/stepflow/pkg/planner"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) EventMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg EventMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func waitForClients(t *testing.T, s *Server, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Clients().Count() == n }, 2*time.Second, 5*time.Millisecond)
}

func TestServer_StreamsRunEvents(t *testing.T) {
	s := NewServer("127.0.0.1:0", zerolog.Nop())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn := dial(t, ts)
	waitForClients(t, s, 1)

	plan, err := planner.NewPlan("stream me", []planner.Step{
		{ID: "a", Description: "first"},
		{ID: "b", Description: "second", DependsOn: []string{"a"}},
	})
	require.NoError(t, err)

	capability := planner.CapabilityFunc[string](func(ctx context.Context, step planner.Step, deps map[string]string, progress planner.ProgressFunc) (string, error) {
		return "ok-" + step.ID, nil
	})
	_, err = planner.NewExecutor[string](capability, planner.WithRunID("run-ws")).
		Run(context.Background(), plan, s.Broadcaster())
	require.NoError(t, err)

	want := []string{"plan", "task_start", "task_complete", "task_start", "task_complete", "execution_complete"}
	for i, kind := range want {
		msg := readMessage(t, conn)
		assert.Equal(t, "event", msg.Type)
		assert.Equal(t, kind, msg.Event)
		assert.Equal(t, int64(i+1), msg.Seq)
		assert.Equal(t, "run-ws", msg.RunID)
		assert.NotZero(t, msg.Timestamp)
	}
}

func TestServer_LateClientGetsBacklog(t *testing.T) {
	s := NewServer("127.0.0.1:0", zerolog.Nop())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	b := s.Broadcaster()
	b.Emit(planner.Event{Kind: planner.EventPlan, Message: "early"})
	b.Emit(planner.Event{Kind: planner.EventTaskStart, StepID: "a", Message: "Starting: a"})

	conn := dial(t, ts)
	waitForClients(t, s, 1)
	b.Emit(planner.Event{Kind: planner.EventTaskComplete, StepID: "a", Message: "Completed: a"})

	first := readMessage(t, conn)
	assert.Equal(t, "early", first.Message)
	assert.Equal(t, int64(1), first.Seq)

	second := readMessage(t, conn)
	assert.Equal(t, "a", second.StepID)
	assert.Equal(t, int64(2), second.Seq)

	third := readMessage(t, conn)
	assert.Equal(t, "task_complete", third.Event)
	assert.Equal(t, int64(3), third.Seq)
	assert.Equal(t, int64(3), b.Seq())
}

func TestBroadcaster_BacklogBounded(t *testing.T) {
	b := NewBroadcaster(NewClientRegistry(), zerolog.Nop())
	b.maxBacklog = 3
	for i := 0; i < 10; i++ {
		b.Emit(planner.Event{Kind: planner.EventTaskProgress, Message: "tick"})
	}
	require.Len(t, b.backlog, 3)
	assert.Equal(t, int64(8), b.backlog[0].Seq)
	assert.Equal(t, int64(10), b.backlog[2].Seq)
}

func TestServer_ClientDisconnectIsRemoved(t *testing.T) {
	s := NewServer("127.0.0.1:0", zerolog.Nop())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn := dial(t, ts)
	waitForClients(t, s, 1)
	require.Len(t, s.Clients().Info(), 1)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	conn.Close()
	waitForClients(t, s, 0)

	// Broadcasting with no clients is a no-op.
	s.Broadcaster().Emit(planner.Event{Kind: planner.EventPlan})
}

func TestServer_Healthz(t *testing.T) {
	s := NewServer("127.0.0.1:0", zerolog.Nop())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok","clients":0}`, string(body))
}

func TestServer_StartStop(t *testing.T) {
	s := NewServer("127.0.0.1:0", zerolog.Nop())
	require.NoError(t, s.Start())
	assert.NotEqual(t, "127.0.0.1:0", s.Addr())

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}
