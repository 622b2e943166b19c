//go:build !windows

package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gtzirun/cloud/internal/relay"
)

func writeFakeFFmpeg(t *testing.T, dir string) string {
	t.Helper()
	p := filepath.Join(dir, "fake-ffmpeg")
	if err := os.WriteFile(p, []byte("#!/bin/sh\nexec sleep 30\n"), 0o755); err != nil {
		t.Fatalf("write fake ffmpeg: %v", err)
	}
	return p
}

func TestServe_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	bin := writeFakeFFmpeg(t, dir)
	cfgPath := dir + "/relayd.toml"
	writeFile(t, cfgPath, `
[server]
listen = "127.0.0.1:0"
base_path = "/api"

[relay]
ffmpeg_path = "`+bin+`"
grace_period = "1s"

[log]
level = "error"

[metrics]
enabled = true

[history]
sinks = ["`+dir+`/history.db"]
`)

	ctx, cancel := context.WithCancel(context.Background())
	addrCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() { errCh <- runServe(ctx, cfgPath, func(addr string) { addrCh <- addr }) }()

	var addr string
	select {
	case addr = <-addrCh:
	case err := <-errCh:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not become ready")
	}
	api := "http://" + addr + "/api"

	out, err := run(t, "create", "--api-url="+api)
	require.NoError(t, err)
	var st relay.Stream
	require.NoError(t, json.Unmarshal([]byte(out), &st))

	_, err = run(t, "start", "--key="+st.Key, "--api-url="+api)
	require.NoError(t, err)

	resp, err := http.Get(api + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Contains(t, string(body), "relayd_relay_starts_total")

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not shut down")
	}
}

