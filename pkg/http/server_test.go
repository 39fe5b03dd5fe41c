package http

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingHandler struct{}

func (pingHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ping", func(c echo.Context) error { return SuccessResponse(c, "pong") })
}

func TestServerLifecycle(t *testing.T) {
	srv := NewServer(pingHandler{},
		WithHost("127.0.0.1"),
		WithPort(0),
		WithRegistry(prometheus.NewRegistry()),
		WithTimeouts(time.Second, time.Second, time.Second),
	)
	require.NoError(t, srv.Start())
	base := "http://" + srv.Echo().Listener.Addr().String()

	resp, err := http.Get(base + "/ping")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"data":"pong"`)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Stop(context.Background()))
}

func TestServerStartReportsBindError(t *testing.T) {
	first := NewServer(nil, WithHost("127.0.0.1"), WithPort(0), WithRegistry(prometheus.NewRegistry()))
	require.NoError(t, first.Start())
	defer func() { _ = first.Stop(context.Background()) }()

	p := first.Echo().Listener.Addr().(*net.TCPAddr).Port

	second := NewServer(nil, WithHost("127.0.0.1"), WithPort(p), WithRegistry(prometheus.NewRegistry()))
	assert.Error(t, second.Start())
}
