package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aristath/hosd/internal/events"
	"github.com/aristath/hosd/internal/metrics"
	"github.com/aristath/hosd/internal/modules/dominance"
	dominancehandlers "github.com/aristath/hosd/internal/modules/dominance/handlers"
	"github.com/aristath/hosd/internal/modules/runs"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func newTestServer(t *testing.T) (*Server, *events.Bus) {
	t.Helper()
	log := zerolog.Nop()
	db := newTestDB(t)
	bus := events.NewBus(log)
	m := metrics.New()

	repo := runs.NewRepository(db.Conn(), log)
	svc := runs.NewService(repo, dominance.NewOptimizer(dominance.DefaultSettings(), log), bus, m, 2, log)

	srv := New(Config{
		Log:     log,
		DB:      db,
		DataDir: t.TempDir(),
		Port:    0,
		Bus:     bus,
		Metrics: m,
		Handler: dominancehandlers.NewHandler(svc, repo, 10, log),
	})
	return srv, bus
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, "hosd", resp["service"])
}

func TestServer_OptimizeAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	body := `{"problem": {"scenarios": [[0.05, 0.01, 0.03]], "benchmark": [0.05, 0.01, 0.03]}}`
	req := httptest.NewRequest(http.MethodPost, "/api/optimize", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `hosd_runs_total{status="converged"} 1`)
	assert.Contains(t, rec.Body.String(), "hosd_cutting_plane_rounds_total 1")
}

func TestServer_EventStream(t *testing.T) {
	srv, bus := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(ts.URL + "/api/events/stream?types=RUN_FAILED")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, `"connected"`)
	_, err = reader.ReadString('\n')
	require.NoError(t, err)

	bus.Publish("runs", &events.RoundCompletedData{RunID: "ignored"})
	bus.Publish("runs", &events.RunFailedData{RunID: "r1", Error: "boom"})

	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: RUN_FAILED\n", line)

	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "data: "))

	var event events.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event))
	assert.Equal(t, events.RunFailed, event.Type)
	assert.Equal(t, &events.RunFailedData{RunID: "r1", Error: "boom"}, event.Data)
}

func TestServer_EventWebSocket(t *testing.T) {
	srv, bus := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events/ws?types=RUN_COMPLETED"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool {
		return bus.Subscribers(events.RunCompleted) == 1
	}, 5*time.Second, 10*time.Millisecond)

	bus.Publish("runs", &events.RunCompletedData{RunID: "r2", Converged: true, Rounds: 3})

	var event events.Event
	require.NoError(t, wsjson.Read(ctx, conn, &event))
	assert.Equal(t, events.RunCompleted, event.Type)
	data, ok := event.Data.(*events.RunCompletedData)
	require.True(t, ok)
	assert.Equal(t, "r2", data.RunID)
	assert.Equal(t, 3, data.Rounds)
}

func TestStatusMonitor_PublishesOnChange(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	var got []*events.Event
	bus.Subscribe(func(e *events.Event) { got = append(got, e) }, events.SystemStatusChanged)

	db := newTestDB(t)
	require.NoError(t, db.WALCheckpoint("TRUNCATE"))

	m := NewStatusMonitor(bus, NewSystemHandlers(zerolog.Nop(), "", db, nil), zerolog.Nop())
	assert.True(t, m.checkStatus())
	require.Len(t, got, 1)

	data, ok := got[0].Data.(*events.SystemStatusData)
	require.True(t, ok)
	assert.Positive(t, data.DatabaseSizeBytes)
}

func TestStatusChanged(t *testing.T) {
	base := &events.SystemStatusData{CPUPercent: 10, MemoryPercent: 50}

	assert.True(t, statusChanged(nil, base))
	assert.False(t, statusChanged(base, &events.SystemStatusData{CPUPercent: 12, MemoryPercent: 51}))
	assert.True(t, statusChanged(base, &events.SystemStatusData{CPUPercent: 20, MemoryPercent: 50}))
	assert.True(t, statusChanged(base, &events.SystemStatusData{CPUPercent: 10, MemoryPercent: 44}))
	assert.True(t, statusChanged(base, &events.SystemStatusData{CPUPercent: 10, MemoryPercent: 50, FailingJobs: 1}))
}
