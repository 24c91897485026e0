package api

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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netsweep/internal/config"
	"github.com/anstrom/netsweep/internal/discovery"
	"github.com/anstrom/netsweep/internal/errors"
	"github.com/anstrom/netsweep/internal/scanning"
)

type stubTargets struct{}

func (stubTargets) Expand(entries []string) ([]string, error) { return entries, nil }
func (stubTargets) Discover(string) ([]string, error)         { return []string{"192.168.7.1"}, nil }
func (stubTargets) ListAdapters() ([]discovery.Adapter, error) {
	return []discovery.Adapter{{Name: "eth0", Index: 2}}, nil
}

type stubSweeper struct{}

func (stubSweeper) ScanWithID(_ context.Context, _ string, targets []string) <-chan scanning.DeviceRecord {
	out := make(chan scanning.DeviceRecord, len(targets))
	for _, target := range targets {
		out <- scanning.DeviceRecord{Target: target, Hostname: "N/A", Status: scanning.StatusOnline}
	}
	close(out)
	return out
}

type stubGate struct{ healthy bool }

func (g stubGate) IsHealthy() bool        { return g.healthy }
func (g stubGate) GetActive() int         { return 0 }
func (g stubGate) GetAvailableSlots() int { return 10 }

func createTestConfig() *config.Config {
	cfg := config.Default()
	cfg.API.Port = 0
	cfg.API.RequestLogging = false
	return cfg
}

func createTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	s, err := New(cfg, Dependencies{
		Targets: stubTargets{},
		Sweeper: stubSweeper{},
		Gate:    stubGate{healthy: true},
	})
	require.NoError(t, err)
	return s
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestNewRequiresDependencies(t *testing.T) {
	tests := []struct {
		name string
		deps Dependencies
	}{
		{"nothing", Dependencies{}},
		{"no sweeper", Dependencies{Targets: stubTargets{}}},
		{"no targets", Dependencies{Sweeper: stubSweeper{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(createTestConfig(), tt.deps)
			require.Error(t, err)
			assert.Nil(t, s)
			assert.True(t, errors.IsCode(err, errors.CodeConfiguration))
		})
	}
}

func TestServerAddress(t *testing.T) {
	cfg := createTestConfig()
	cfg.API.ListenAddr = "0.0.0.0"
	cfg.API.Port = 9091
	s := createTestServer(t, cfg)

	assert.Equal(t, "0.0.0.0:9091", s.GetAddress())
	assert.NotNil(t, s.GetRouter())
	assert.Equal(t, 0, s.ActiveStreams())
}

func TestServerRoutes(t *testing.T) {
	s := createTestServer(t, createTestConfig())

	tests := []struct {
		path     string
		wantCode int
		contains string
	}{
		{"/api/v1/liveness", http.StatusOK, `"status":"alive"`},
		{"/api/v1/health", http.StatusOK, `"scanner":"ok"`},
		{"/api/v1/version", http.StatusOK, `"go_version"`},
		{"/api/v1/adapters", http.StatusOK, `"name":"eth0"`},
		{"/", http.StatusOK, `"service":"netsweep"`},
		{"/api/v1/missing", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := get(t, s.Handler(), tt.path)
			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.contains != "" {
				assert.Contains(t, rec.Body.String(), tt.contains)
			}
		})
	}
}

func TestServerSecurityHeaders(t *testing.T) {
	s := createTestServer(t, createTestConfig())
	rec := get(t, s.Handler(), "/api/v1/liveness")

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestServerCORS(t *testing.T) {
	s := createTestServer(t, createTestConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/liveness", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServerMetricsEndpoint(t *testing.T) {
	s := createTestServer(t, createTestConfig())

	require.Equal(t, http.StatusOK, get(t, s.Handler(), "/api/v1/health").Code)

	rec := get(t, s.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "netsweep_api_requests_total")
	assert.Contains(t, body, `path="/api/v1/health"`)
}

func TestServerMetricsDisabled(t *testing.T) {
	cfg := createTestConfig()
	cfg.Metrics.Enabled = false
	s := createTestServer(t, cfg)

	assert.Equal(t, http.StatusNotFound, get(t, s.Handler(), "/metrics").Code)
	assert.NotContains(t, get(t, s.Handler(), "/").Body.String(), `"metrics"`)
}

func TestServerRateLimit(t *testing.T) {
	cfg := createTestConfig()
	cfg.API.RateLimitRequests = 1
	cfg.API.RateLimitWindow = time.Hour
	s := createTestServer(t, cfg)

	assert.Equal(t, http.StatusOK, get(t, s.Handler(), "/api/v1/liveness").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(t, s.Handler(), "/api/v1/liveness").Code)
}

func TestServerUnhealthyGate(t *testing.T) {
	s, err := New(createTestConfig(), Dependencies{
		Targets: stubTargets{},
		Sweeper: stubSweeper{},
		Gate:    stubGate{healthy: false},
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusServiceUnavailable, get(t, s.Handler(), "/api/v1/health").Code)
}

func TestServerScanWebSocket(t *testing.T) {
	cfg := createTestConfig()
	cfg.API.RequestLogging = true
	s := createTestServer(t, cfg)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/scan/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"targets": []string{"10.9.0.1", "10.9.0.2"}}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var types []string
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected read error: %v", err)
			break
		}
		var msg struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(data, &msg))
		types = append(types, msg.Type)
	}

	assert.Equal(t, []string{"record", "record", "complete"}, types)
}

func TestServerStartStop(t *testing.T) {
	cfg := createTestConfig()
	cfg.API.ListenAddr = "127.0.0.1"
	s := createTestServer(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestIndexListsEndpoints(t *testing.T) {
	s := createTestServer(t, createTestConfig())
	rec := get(t, s.Handler(), "/")

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	var index struct {
		Service   string            `json:"service"`
		Endpoints map[string]string `json:"endpoints"`
	}
	require.NoError(t, json.Unmarshal(body, &index))
	assert.Equal(t, "netsweep", index.Service)
	assert.Equal(t, "/api/v1/scan/ws", index.Endpoints["scan"])
	assert.Equal(t, "/metrics", index.Endpoints["metrics"])
}
