package server

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

	"github.com/aristath/maestro/internal/config"
	"github.com/aristath/maestro/internal/di"
	"github.com/aristath/maestro/internal/events"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func newTestServer(t *testing.T) (*Server, *di.Container) {
	t.Helper()
	policy, err := config.LoadPolicy("")
	require.NoError(t, err)

	dir := t.TempDir()
	cfg := &config.Config{
		DataDir:             dir,
		Port:                0,
		DevMode:             true,
		ClientsFile:         filepath.Join(dir, "clients.csv"),
		HoldingsFile:        filepath.Join(dir, "holdings.csv"),
		AllocationTolerance: 2.0,
		Schedule:            "0 30 8 * * 1-5",
		MarketViewFile:      filepath.Join(dir, "market_view.txt"),
		MFAPIBaseURL:        "http://127.0.0.1:0",
		FetchConcurrency:    1,
		Policy:              policy,
	}

	container, jobs, err := di.Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(container.Close)

	return New(Config{Log: zerolog.Nop(), Container: container, Jobs: jobs, DevMode: true}), container
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, path := range []string{"/health", "/api/health"} {
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Contains(t, rec.Body.String(), "healthy", path)
	}
}

func TestHealth_UnhealthyDatabase(t *testing.T) {
	srv, container := newTestServer(t)
	require.NoError(t, container.CacheDB.Close())

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "unhealthy")
}

func TestRoutes_ModuleHandlersMounted(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/system/jobs", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "daily_run")
}

func readSSE(t *testing.T, reader *bufio.Reader) map[string]interface{} {
	t.Helper()
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if payload, ok := strings.CutPrefix(strings.TrimSpace(line), "data: "); ok {
			var msg map[string]interface{}
			require.NoError(t, json.Unmarshal([]byte(payload), &msg))
			return msg
		}
	}
}

func TestEventsStream_SSE(t *testing.T) {
	srv, container := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events/stream?types=RUN_STARTED", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	assert.Equal(t, "connected", readSSE(t, reader)["type"])

	// Filtered out by the types query
	container.EventManager.Emit("maestro", &events.RunData{Type: events.RunFailed, RunID: "r0", Status: "failed"})
	container.EventManager.Emit("maestro", &events.RunData{Type: events.RunStarted, RunID: "r1", Status: "running"})

	msg := readSSE(t, reader)
	assert.Equal(t, "RUN_STARTED", msg["type"])
	assert.Equal(t, "maestro", msg["module"])
	data, ok := msg["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "r1", data["run_id"])
}

func TestEventsStream_WebSocket(t *testing.T) {
	srv, container := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/api/events/ws", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var msg streamMessage
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, "connected", msg.Type)

	baseline := container.EventBus.SubscriberCount()
	assert.Positive(t, baseline)

	container.EventManager.Emit("approval", &events.RunData{Type: events.RunSucceeded, RunID: "r2", Status: "succeeded"})

	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, "RUN_SUCCEEDED", msg.Type)
	assert.Equal(t, "approval", msg.Module)
}
