package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestNewServer(t *testing.T) {
	reg := prometheus.NewRegistry()
	server := NewServer(":0", reg) // :0 lets OS pick available port

	require.NotNil(t, server)
	require.NotNil(t, server.httpServer)
	require.Equal(t, ":0", server.httpServer.Addr)
}

func httpGet(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return http.DefaultClient.Do(req)
}

// startServer serves reg on a random local port and returns its base URL and
// a stop function that cancels the server and returns Serve's result.
func startServer(t *testing.T, reg *prometheus.Registry) (string, func() error) {
	t.Helper()

	server := NewServer("127.0.0.1:0", reg)
	ln, err := server.Listen()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ctx, ln)
	}()

	stop := func() error {
		cancel()
		select {
		case err := <-errCh:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("metrics server did not stop")
			return nil
		}
	}
	return "http://" + ln.Addr().String(), stop
}

func TestServer_ServeAndShutdown(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	baseURL, stop := startServer(t, reg)

	resp, err := httpGet(t.Context(), baseURL+"/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "ok", string(body))

	require.NoError(t, stop())
}

func TestServer_MetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()

	m, err := New(reg)
	require.NoError(t, err)

	m.SessionOpened()
	m.IncFrameWritten("row")
	m.IncError(ErrTypeDecode)

	baseURL, stop := startServer(t, reg)
	defer func() { _ = stop() }()

	resp, err := httpGet(t.Context(), baseURL+"/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	bodyStr := string(body)
	require.Contains(t, bodyStr, "gateway_sessions_active")
	require.Contains(t, bodyStr, "gateway_frames_written_total")
	require.Contains(t, bodyStr, "gateway_errors_total")
}

func TestServer_RunAddressInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	server := NewServer(ln.Addr().String(), prometheus.NewRegistry())
	err = server.Run(t.Context())
	require.Error(t, err)
	require.Contains(t, err.Error(), "listen on")
}
