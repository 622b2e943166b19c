//go:build !windows

package process

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gtzirun/cloud/internal/logger"
)

// writeRelay writes an executable shell script standing in for ffmpeg.
func writeRelay(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-ffmpeg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write relay script: %v", err)
	}
	return path
}

func testSpec(bin string) Spec {
	return Spec{
		Name:   "stream-abc",
		Binary: bin,
		Input:  "rtmp://srs:1935/live/stream-abc",
		Output: "rtmp://dest/x",
	}
}

func waitUntil(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", d)
}

func TestSpawnAndGracefulStop(t *testing.T) {
	h, err := Spawn(testSpec(writeRelay(t, "exec sleep 30")))
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if !h.IsAlive() || h.PID() <= 0 {
		t.Fatalf("expected live process, got %+v", h.Snapshot())
	}
	args := strings.Join(h.Args(), " ")
	if !strings.Contains(args, "rtmp://srs:1935/live/stream-abc") || !strings.HasSuffix(args, "rtmp://dest/x") {
		t.Fatalf("unexpected args: %s", args)
	}

	start := time.Now()
	out, err := h.Stop(2 * time.Second)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if out != OutcomeTerminated {
		t.Fatalf("expected terminated, got %s", out)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("graceful stop took too long: %s", time.Since(start))
	}
	if h.IsAlive() {
		t.Fatalf("process still alive after stop")
	}
	st := h.Snapshot()
	if st.State != StateTerminated || st.Running || st.StoppedAt.IsZero() {
		t.Fatalf("unexpected status after stop: %+v", st)
	}
}

func TestStopKillsAfterGrace(t *testing.T) {
	h, err := Spawn(testSpec(writeRelay(t, "trap '' TERM\nwhile true; do sleep 0.05; done")))
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	// give the shell time to install its trap
	time.Sleep(300 * time.Millisecond)

	grace := 300 * time.Millisecond
	start := time.Now()
	out, err := h.Stop(grace)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if out != OutcomeKilled {
		t.Fatalf("expected killed, got %s", out)
	}
	if elapsed := time.Since(start); elapsed < grace || elapsed > grace+killReapWait {
		t.Fatalf("stop duration %s outside [grace, grace+reap]", elapsed)
	}
	if h.IsAlive() {
		t.Fatalf("process alive after kill")
	}
	if got := h.Snapshot().State; got != StateKilled {
		t.Fatalf("expected state killed, got %s", got)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	h, err := Spawn(testSpec(writeRelay(t, "exec sleep 30")))
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if _, err := h.Stop(time.Second); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	out, err := h.Stop(time.Second)
	if err != nil || out != OutcomeAlreadyExited {
		t.Fatalf("second stop: outcome=%s err=%v", out, err)
	}
}

func TestConcurrentStop(t *testing.T) {
	h, err := Spawn(testSpec(writeRelay(t, "exec sleep 30")))
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.Stop(time.Second); err != nil {
				t.Errorf("stop: %v", err)
			}
		}()
	}
	wg.Wait()
	if h.IsAlive() {
		t.Fatalf("process alive after concurrent stops")
	}
}

func TestCrashIsObservable(t *testing.T) {
	h, err := Spawn(testSpec(writeRelay(t, "exit 3")))
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	waitUntil(t, 2*time.Second, func() bool { return !h.IsAlive() })
	<-h.Done()
	st := h.Snapshot()
	if st.State != StateExited {
		t.Fatalf("expected exited state, got %s", st.State)
	}
	if st.ExitErr == "" {
		t.Fatalf("expected exit error to be recorded")
	}
	out, err := h.Stop(time.Second)
	if err != nil || out != OutcomeAlreadyExited {
		t.Fatalf("stop after crash: outcome=%s err=%v", out, err)
	}
}

func TestSpawnMissingBinary(t *testing.T) {
	spec := testSpec(filepath.Join(t.TempDir(), "does-not-exist"))
	if _, err := Spawn(spec); err == nil {
		t.Fatalf("expected spawn error for missing binary")
	}
}

func TestSpawnInvalidSpec(t *testing.T) {
	spec := testSpec(writeRelay(t, "exit 0"))
	spec.Output = ""
	if _, err := Spawn(spec); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestOutputToFiles(t *testing.T) {
	dir := t.TempDir()
	spec := testSpec(writeRelay(t, `echo "out $@"; echo "err line" 1>&2`))
	spec.Log = logger.Config{File: logger.FileConfig{Dir: dir}}
	h, err := Spawn(spec)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	<-h.Done()
	b, err := os.ReadFile(filepath.Join(dir, "stream-abc.stdout.log"))
	if err != nil {
		t.Fatalf("read stdout log: %v", err)
	}
	if !strings.Contains(string(b), "rtmp://dest/x") {
		t.Fatalf("stdout log missing args: %q", string(b))
	}
	b, err = os.ReadFile(filepath.Join(dir, "stream-abc.stderr.log"))
	if err != nil || !strings.Contains(string(b), "err line") {
		t.Fatalf("stderr log content=%q err=%v", string(b), err)
	}
}

func TestOutputToLogger(t *testing.T) {
	var mu sync.Mutex
	var buf bytes.Buffer
	w := &lockedWriter{mu: &mu, w: &buf}
	spec := testSpec(writeRelay(t, `echo "err line" 1>&2`))
	spec.Logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h, err := Spawn(spec)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	<-h.Done()
	mu.Lock()
	out := buf.String()
	mu.Unlock()
	if !strings.Contains(out, `msg="err line"`) || !strings.Contains(out, "stream=stderr") || !strings.Contains(out, "stream_key=stream-abc") {
		t.Fatalf("relay output not forwarded: %s", out)
	}
}

type lockedWriter struct {
	mu *sync.Mutex
	w  *bytes.Buffer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
