package httpserver_test

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/fenrys/internal/infrastructure/httpserver"
	"github.com/lllypuk/fenrys/tests/testutil"
)

func get(server *httpserver.Server, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	server.Echo().ServeHTTP(rec, req)
	return rec
}

func splitAddress(t *testing.T, address string) (string, int) {
	t.Helper()

	host, port, err := net.SplitHostPort(address)
	require.NoError(t, err)
	n, err := strconv.Atoi(port)
	require.NoError(t, err)
	return host, n
}

func TestNewServer_AppliesConfig(t *testing.T) {
	server := httpserver.NewServer(httpserver.ServerConfig{
		Host:         "127.0.0.1",
		Port:         8080,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 20 * time.Second,
	}, nil)

	e := server.Echo()
	assert.True(t, e.HideBanner)
	assert.True(t, e.HidePort)
	assert.Equal(t, 15*time.Second, e.Server.ReadTimeout)
	assert.Equal(t, 20*time.Second, e.Server.WriteTimeout)
	assert.Equal(t, "127.0.0.1:8080", server.Address())
}

func TestServer_RegisterMetrics(t *testing.T) {
	t.Run("custom registry", func(t *testing.T) {
		// Arrange
		reg := prometheus.NewRegistry()
		counter := prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fenrys_test_total",
			Help: "Test counter",
		})
		reg.MustRegister(counter)
		counter.Add(3)

		server := httpserver.NewServer(httpserver.DefaultServerConfig(), nil)
		server.RegisterMetrics(reg)

		// Act
		rec := get(server, httpserver.PathMetrics)

		// Assert
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "fenrys_test_total 3")
	})

	t.Run("default registry", func(t *testing.T) {
		server := httpserver.NewServer(httpserver.DefaultServerConfig(), nil)
		server.RegisterMetrics(nil)

		rec := get(server, httpserver.PathMetrics)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "go_goroutines")
	})
}

func TestServer_RecoversPanics(t *testing.T) {
	server := httpserver.NewServer(httpserver.DefaultServerConfig(), slog.New(slog.DiscardHandler))
	server.Echo().GET("/boom", func(echo.Context) error {
		panic("boom")
	})

	rec := get(server, "/boom")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"status":"error"}`, rec.Body.String())
}

func TestServer_UnknownRoute(t *testing.T) {
	server := httpserver.NewServer(httpserver.DefaultServerConfig(), nil)
	server.RegisterHealth(nil)

	assert.Equal(t, http.StatusNotFound, get(server, "/streams").Code)

	req := httptest.NewRequest(http.MethodPost, httpserver.PathHealth, nil)
	rec := httptest.NewRecorder()
	server.Echo().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_StartAndShutdown(t *testing.T) {
	// Arrange
	server := httpserver.NewServer(httpserver.ServerConfig{
		Host:            "127.0.0.1",
		Port:            0,
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		ShutdownTimeout: time.Second,
		Instance:        "worker-1",
	}, testutil.NewTestLogger())
	server.RegisterHealth(nil)

	done := make(chan error, 1)
	go func() { done <- server.Start() }()
	testutil.WaitClosed(t, server.Ready(), 5*time.Second)

	// Act
	resp, err := http.Get(fmt.Sprintf("http://%s%s", server.Address(), httpserver.PathHealth))
	require.NoError(t, err)
	_ = resp.Body.Close()

	// Assert
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEqual(t, "127.0.0.1:0", server.Address())

	require.NoError(t, server.Shutdown(context.Background()))
	select {
	case err = <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServer_ShutdownBeforeStart(t *testing.T) {
	server := httpserver.NewServer(httpserver.DefaultServerConfig(), nil)

	assert.NoError(t, server.Shutdown(context.Background()))
}

func TestServer_StartFailsOnBusyPort(t *testing.T) {
	first := httpserver.NewServer(httpserver.ServerConfig{Host: "127.0.0.1"}, testutil.NewTestLogger())
	go func() { _ = first.Start() }()
	testutil.WaitClosed(t, first.Ready(), 5*time.Second)
	t.Cleanup(func() { _ = first.Shutdown(context.Background()) })

	host, port := splitAddress(t, first.Address())
	second := httpserver.NewServer(httpserver.ServerConfig{Host: host, Port: port}, testutil.NewTestLogger())

	assert.Error(t, second.Start())
}
