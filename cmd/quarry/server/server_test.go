package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/quarry/cmd/quarry/config"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Address = "127.0.0.1:0"
	cfg.Server.UploadDir = t.TempDir()
	cfg.Metrics.Enabled = false
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	srv, err := New(context.Background(), cfg, zerolog.New(zerolog.NewTestWriter(t)), "test")
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, h http.Handler, path string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		r.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestServer_UnconfiguredGroups(t *testing.T) {
	srv := newTestServer(t, testConfig(t))
	h := srv.Handler()

	w := get(t, h, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "test", health["version"])

	for _, path := range []string{"/db/snapshot", "/stocks/AAPL/analysis", "/market/status"} {
		t.Run(path, func(t *testing.T) {
			w := get(t, h, path)
			assert.Equal(t, http.StatusServiceUnavailable, w.Code)
			assert.Contains(t, w.Body.String(), "UNAVAILABLE")
		})
	}

	t.Run("datasets are always served", func(t *testing.T) {
		w := get(t, h, "/files/unknown")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestServer_SQLiteExplorer(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = filepath.Join(t.TempDir(), "explore.db")
	srv := newTestServer(t, cfg)

	w := get(t, srv.Handler(), "/db/status")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"connected":true`)

	w = get(t, srv.Handler(), "/db/snapshot")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"backend":"sql"`)

	t.Run("chat without a model", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/db/chat", jsonBody(`{"question":"how many tables?"}`))
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, r)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestServer_Auth(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth = config.AuthConfig{
		Enabled:    true,
		Type:       "bearer",
		BearerAuth: config.BearerAuthConfig{Tokens: map[string]string{"secret": "alice"}},
	}
	h := newTestServer(t, cfg).Handler()

	assert.Equal(t, http.StatusOK, get(t, h, "/health").Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/files/x").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/files/x", "Authorization", "Bearer secret").Code)
}

func TestServer_ServeAndShutdown(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = true
	cfg.Metrics.Address = "127.0.0.1:0"
	srv := newTestServer(t, cfg)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	url := fmt.Sprintf("http://%s/health", ln.Addr())
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func jsonBody(s string) *strings.Reader {
	return strings.NewReader(s)
}
