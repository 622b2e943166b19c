package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gtzirun/cloud/internal/process"
)

type stubHandle struct{ pid int }

func (s stubHandle) Stop(time.Duration) (process.StopOutcome, error) {
	return process.OutcomeTerminated, nil
}
func (s stubHandle) IsAlive() bool { return true }
func (s stubHandle) PID() int { return s.pid }
func (s stubHandle) Snapshot() process.Status { return process.Status{PID: s.pid} }

func TestRegistry_UnknownKey(t *testing.T) {
	r := NewRegistry(nil)
	const k = "stream-missing"

	if err := r.SetDestination(k, "rtmp://d/x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SetDestination: %v", err)
	}
	if _, err := r.Destination(k); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Destination: %v", err)
	}
	if err := r.AttachHandle(k, stubHandle{1}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("AttachHandle: %v", err)
	}
	if _, err := r.DetachHandle(k); !errors.Is(err, ErrNotFound) {
		t.Fatalf("DetachHandle: %v", err)
	}
	if r.HasHandle(k) {
		t.Fatal("HasHandle on unknown key")
	}
	if _, err := r.lock(context.Background(), k); !errors.Is(err, ErrNotFound) {
		t.Fatalf("lock: %v", err)
	}
}

func TestRegistry_CreateRegeneratesOnCollision(t *testing.T) {
	keys := []string{"stream-a", "stream-a", "stream-b"}
	i := 0
	r := NewRegistry(func() string { k := keys[i]; i++; return k })

	if got := r.Create(); got != "stream-a" {
		t.Fatalf("first key %q", got)
	}
	if got := r.Create(); got != "stream-b" {
		t.Fatalf("second key %q, want stream-b", got)
	}
}

func TestRegistry_DestinationLastWriteWins(t *testing.T) {
	r := NewRegistry(nil)
	k := r.Create()

	if _, err := r.Destination(k); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unset destination should be NotFound, got %v", err)
	}
	for _, d := range []string{"rtmp://a/1", "rtmp://b/2", "rtmp://c/3"} {
		if err := r.SetDestination(k, d); err != nil {
			t.Fatalf("SetDestination: %v", err)
		}
	}
	got, err := r.Destination(k)
	if err != nil || got != "rtmp://c/3" {
		t.Fatalf("Destination = %q, %v", got, err)
	}
}

func TestRegistry_AttachDetach(t *testing.T) {
	r := NewRegistry(nil)
	k := r.Create()

	if err := r.AttachHandle(k, stubHandle{1}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("attach without destination: %v", err)
	}
	_ = r.SetDestination(k, "rtmp://d/x")
	if err := r.AttachHandle(k, stubHandle{1}); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := r.AttachHandle(k, stubHandle{2}); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second attach: %v", err)
	}
	if !r.HasHandle(k) || r.Running() != 1 {
		t.Fatal("expected one attached handle")
	}
	if pids := r.PIDs(); pids[k] != 1 {
		t.Fatalf("PIDs = %v", pids)
	}

	h, err := r.DetachHandle(k)
	if err != nil || h.PID() != 1 {
		t.Fatalf("detach = %v, %v", h, err)
	}
	if _, err := r.DetachHandle(k); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second detach: %v", err)
	}
	if !r.Exists(k) {
		t.Fatal("entry must survive detach")
	}
}

func TestRegistry_ConcurrentAttachOnlyOneWins(t *testing.T) {
	r := NewRegistry(nil)
	k := r.Create()
	_ = r.SetDestination(k, "rtmp://d/x")

	const n = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, already := 0, 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			err := r.AttachHandle(k, stubHandle{pid})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrAlreadyRunning):
				already++
			}
		}(i + 1)
	}
	wg.Wait()
	if wins != 1 || already != n-1 {
		t.Fatalf("wins=%d already=%d", wins, already)
	}
}

func TestRegistry_LockHonoursContext(t *testing.T) {
	r := NewRegistry(nil)
	k := r.Create()

	unlock, err := r.lock(context.Background(), k)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := r.lock(ctx, k); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	other := r.Create()
	unlockOther, err := r.lock(context.Background(), other)
	if err != nil {
		t.Fatalf("other key must not be blocked: %v", err)
	}
	unlockOther()
	unlock()

	again, err := r.lock(context.Background(), k)
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	again()
}

func TestRegistry_FreeLockWinsOverExpiredContext(t *testing.T) {
	r := NewRegistry(nil)
	k := r.Create()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 100; i++ {
		unlock, err := r.lock(ctx, k)
		if err != nil {
			t.Fatalf("attempt %d: free lock refused with done ctx: %v", i, err)
		}
		unlock()
	}
}

func TestRegistry_KeysSorted(t *testing.T) {
	keys := []string{"stream-c", "stream-a", "stream-b"}
	i := 0
	r := NewRegistry(func() string { k := keys[i]; i++; return k })
	for range keys {
		r.Create()
	}
	got := r.Keys()
	if len(got) != 3 || got[0] != "stream-a" || got[2] != "stream-c" {
		t.Fatalf("Keys = %v", got)
	}
}
