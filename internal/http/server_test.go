package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"example.com/behavior-fleet/internal/agent"
	"example.com/behavior-fleet/internal/controller"
	"example.com/behavior-fleet/internal/db"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "controller.db"))
	require.NoError(t, err)
	s := newServer(d)
	t.Cleanup(func() { _ = s.Close() })
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func statusJSON(t *testing.T, id string) []byte {
	t.Helper()
	buf, err := json.Marshal(agent.StatusPayload{Agent: id, Fleet: "lab", Online: true, Status: "RUNNING", Active: []string{"Wait"}})
	require.NoError(t, err)
	return buf
}

func activeJSON(t *testing.T, id string, frame uint64) []byte {
	t.Helper()
	buf, err := json.Marshal(agent.ActivePayload{Agent: id, Active: []string{"Selector", "patrol"}, Status: "RUNNING", Frame: frame})
	require.NoError(t, err)
	return buf
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/healthz"},
		{http.MethodPost, "/api/agents"},
		{http.MethodGet, "/api/agents/command/broadcast"},
		{http.MethodPut, "/api/agents/scout"},
		{http.MethodGet, "/api/agents/scout/command"},
		{http.MethodPost, "/api/agents/scout/transitions"},
		{http.MethodPost, "/api/agents/scout/watch"},
		{http.MethodDelete, "/api/scenarios"},
		{http.MethodGet, "/api/scenarios/validate"},
		{http.MethodPost, "/api/scenarios/1"},
		{http.MethodDelete, "/api/commands"},
		{http.MethodPost, "/api/events"},
	} {
		req, err := http.NewRequest(tc.method, ts.URL+tc.path, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode, "%s %s", tc.method, tc.path)
	}
}

func TestIngest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, ts := newTestServer(t)

	require.NoError(t, s.ingest(ctx, "fleet/status/scout", statusJSON(t, "scout")))
	require.NoError(t, s.ingest(ctx, "fleet/active/scout", activeJSON(t, "scout", 7)))
	require.ErrorContains(t, s.ingest(ctx, "fleet/commands/scout", []byte(`{}`)), "unexpected topic")
	require.ErrorContains(t, s.ingest(ctx, "lab/status/scout", []byte(`{}`)), "unable to parse agent id")

	resp, err := http.Get(ts.URL + "/api/agents/scout")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var a db.Agent
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&a))
	require.Equal(t, uint64(7), a.Frame)
	require.Equal(t, []string{"Selector", "patrol"}, a.Active)
}

func TestEventStream(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/events?agent=scout")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": connected\n", line)
	require.Eventually(t, func() bool { return s.Events.Clients() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.ingest(ctx, "fleet/status/rover", statusJSON(t, "rover")))
	require.NoError(t, s.ingest(ctx, "fleet/active/scout", activeJSON(t, "scout", 3)))

	var data string
	for data == "" {
		line, err = r.ReadString('\n')
		require.NoError(t, err)
		data, _ = strings.CutPrefix(strings.TrimSpace(line), "data: ")
	}
	var ev controller.Event
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	require.Equal(t, controller.EventTransition, ev.Kind)
	require.Equal(t, "scout", ev.Agent)
}

func TestWatchAgent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, ts := newTestServer(t)
	require.NoError(t, s.ingest(ctx, "fleet/status/scout", statusJSON(t, "scout")))

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/agents/scout/watch"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))

	var ev controller.Event
	require.NoError(t, ws.ReadJSON(&ev))
	require.Equal(t, controller.EventStatus, ev.Kind)
	require.Equal(t, "scout", ev.Agent)

	require.NoError(t, s.ingest(ctx, "fleet/active/rover", activeJSON(t, "rover", 1)))
	require.NoError(t, s.ingest(ctx, "fleet/active/scout", activeJSON(t, "scout", 2)))
	ev = controller.Event{}
	require.NoError(t, ws.ReadJSON(&ev))
	require.Equal(t, controller.EventTransition, ev.Kind)
	require.Equal(t, "scout", ev.Agent)

	require.NoError(t, ws.WriteJSON(map[string]any{"type": "set", "data": map[string]any{"key": "alarm", "value": true}}))
	ev = controller.Event{}
	require.NoError(t, ws.ReadJSON(&ev))
	require.Equal(t, controller.EventCommand, ev.Kind)

	require.NoError(t, ws.WriteJSON(map[string]any{"type": "teleport"}))
	var reply map[string]string
	require.NoError(t, ws.ReadJSON(&reply))
	require.Equal(t, "error", reply["kind"])
	require.Contains(t, reply["error"], "unknown command type")

	commands, err := s.DB.ListCommands(ctx, "scout")
	require.NoError(t, err)
	require.Len(t, commands, 1)
	require.Equal(t, "set", commands[0].Type)
}

func TestBrokerClose(t *testing.T) {
	t.Parallel()

	b := NewSSEBroker()
	ch := b.Subscribe()
	b.Broadcast("hello")
	require.Equal(t, "hello", <-ch)

	b.Close()
	_, open := <-ch
	require.False(t, open)

	late := b.Subscribe()
	_, open = <-late
	require.False(t, open)
	b.Broadcast("ignored")
	b.Unsubscribe(late)
	b.Close()
}
