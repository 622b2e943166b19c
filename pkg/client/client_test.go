package client_test

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gtzirun/cloud/internal/relay"
	"github.com/gtzirun/cloud/internal/relay/relaytest"
	"github.com/gtzirun/cloud/internal/server"
	tlsconf "github.com/gtzirun/cloud/internal/tls"
	"github.com/gtzirun/cloud/pkg/client"
)

func newDaemon(t *testing.T) (*client.Client, *relay.Supervisor, *relaytest.Spawner) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	sp := relaytest.NewSpawner()
	sup := relay.NewSupervisor(relay.Config{
		RelayServer:    "rtmp://srs:1935/live",
		ThirdPartyBase: "rtmp://push.example.com/third/",
		GracePeriod:    50 * time.Millisecond,
	}, sp, quiet)
	ts := httptest.NewServer(server.NewRouter(sup, "/relay", quiet).Handler())
	t.Cleanup(ts.Close)
	return client.New(client.Config{BaseURL: ts.URL + "/relay/", Logger: quiet}), sup, sp
}

func TestClient_RoundTrip(t *testing.T) {
	c, _, sp := newDaemon(t)
	ctx := context.Background()

	require.True(t, c.IsReachable(ctx))

	st, err := c.CreateStream(ctx, "cam")
	require.NoError(t, err)
	require.NotEmpty(t, st.Key)
	assert.Equal(t, "rtmp://srs:1935/live/"+st.Key, st.PushURL)
	assert.Contains(t, st.Destination, "t_id=cam")

	require.NoError(t, c.ConfigureDestination(ctx, st.Key, "rtmp://dest/x"))
	require.NoError(t, c.StartStream(ctx, st.Key))
	assert.ErrorIs(t, c.StartStream(ctx, st.Key), client.ErrAlreadyRunning)

	status, err := c.Status(ctx, st.Key)
	require.NoError(t, err)
	assert.True(t, status.Running)
	require.NotNil(t, status.Process)
	assert.Equal(t, sp.Handles()[0].PID(), status.Process.PID)

	list, err := c.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, c.StopStream(ctx, st.Key))
	assert.ErrorIs(t, c.StopStream(ctx, st.Key), client.ErrNotFound)
}

func TestClient_ErrorMapping(t *testing.T) {
	c, sup, sp := newDaemon(t)
	ctx := context.Background()

	assert.ErrorIs(t, c.StartStream(ctx, "stream-none"), client.ErrNotFound)
	assert.ErrorIs(t, c.ConfigureDestination(ctx, "stream-none", "rtmp://d/x"), client.ErrNotFound)
	_, err := c.Status(ctx, "stream-none")
	assert.ErrorIs(t, err, client.ErrNotFound)
	assert.ErrorIs(t, c.ConfigureDestination(ctx, "stream-none", ""), client.ErrInvalidDestination)

	st, err := c.CreateStream(ctx, "")
	require.NoError(t, err)
	sp.FailWith(relaytest.ErrInjected)
	assert.ErrorIs(t, c.StartStream(ctx, st.Key), client.ErrSpawnFailed)

	require.NoError(t, sup.Shutdown(ctx))
	_, err = c.CreateStream(ctx, "")
	assert.ErrorIs(t, err, client.ErrClosed)
}

func TestClient_Unreachable(t *testing.T) {
	c := client.New(client.Config{BaseURL: "http://127.0.0.1:1", Timeout: time.Second})
	assert.False(t, c.IsReachable(context.Background()))
	assert.Error(t, c.StartStream(context.Background(), "stream-x"))
}

func TestClient_TLSWithCA(t *testing.T) {
	gin.SetMode(gin.TestMode)
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	sup := relay.NewSupervisor(relay.Config{RelayServer: "rtmp://srs:1935/live", GracePeriod: 50 * time.Millisecond}, relaytest.NewSpawner(), quiet)

	dir := t.TempDir()
	tlsCfg, err := tlsconf.Config{Enabled: true, Dir: dir, AutoGenerate: true}.Setup()
	require.NoError(t, err)
	srv, err := server.NewServer("127.0.0.1:0", server.NewRouter(sup, "", quiet), tlsCfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	ctx := context.Background()
	untrusted := client.New(client.Config{BaseURL: "https://" + srv.Addr, Logger: quiet, Timeout: 5 * time.Second})
	assert.False(t, untrusted.IsReachable(ctx))

	ca, err := client.TLSWithCA(filepath.Join(dir, "tls.crt"))
	require.NoError(t, err)
	trusted := client.New(client.Config{BaseURL: "https://" + srv.Addr, Logger: quiet, Timeout: 5 * time.Second, TLS: ca})
	require.True(t, trusted.IsReachable(ctx))
	st, err := trusted.CreateStream(ctx, "cam")
	require.NoError(t, err)
	assert.NotEmpty(t, st.Key)

	_, err = client.TLSWithCA(filepath.Join(dir, "missing.pem"))
	assert.Error(t, err)
}
