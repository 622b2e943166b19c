// Package relaytest provides in-memory relay spawners for tests.
package relaytest

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gtzirun/cloud/internal/process"
	"github.com/gtzirun/cloud/internal/relay"
)

var pidSeq atomic.Int64

func init() { pidSeq.Store(100000) }

// Handle is a fake relay process. It never touches the OS.
type Handle struct {
	Key    string
	Input  string
	Output string

	mu        sync.Mutex
	pid       int
	state     process.State
	alive     bool
	startedAt time.Time
	stops     int
	released  bool
	// StopOutcome is returned by the first Stop on a live handle.
	StopOutcome process.StopOutcome
	onStop      func(*Handle)
}

func (h *Handle) Stop(time.Duration) (process.StopOutcome, error) {
	h.mu.Lock()
	h.stops++
	var cb func(*Handle)
	if !h.released {
		h.released = true
		cb = h.onStop
	}
	out := process.OutcomeAlreadyExited
	if h.alive {
		h.alive = false
		out = h.StopOutcome
		if out == process.OutcomeKilled {
			h.state = process.StateKilled
		} else {
			out = process.OutcomeTerminated
			h.state = process.StateTerminated
		}
	}
	h.mu.Unlock()
	if cb != nil {
		cb(h)
	}
	return out, nil
}

// Crash marks the handle as exited without a stop request.
func (h *Handle) Crash() {
	h.mu.Lock()
	h.alive = false
	h.state = process.StateExited
	h.mu.Unlock()
}

func (h *Handle) IsAlive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alive
}

func (h *Handle) PID() int { return h.pid }

func (h *Handle) Stops() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stops
}

func (h *Handle) Snapshot() process.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return process.Status{
		Name:      h.Key,
		PID:       h.pid,
		Args:      []string{"-i", h.Input, "-c:a", "copy", "-c:v", "copy", "-f", "flv", h.Output},
		State:     h.state,
		Running:   h.alive,
		StartedAt: h.startedAt,
	}
}

// Spawner records every spawned handle and tracks how many are alive at once.
type Spawner struct {
	mu      sync.Mutex
	handles []*Handle
	live    int
	maxLive map[string]int
	liveKey map[string]int
	err     error
	delay   time.Duration
	outcome process.StopOutcome
}

func NewSpawner() *Spawner {
	return &Spawner{maxLive: map[string]int{}, liveKey: map[string]int{}}
}

// ErrInjected is the spawn failure tests usually pass to FailWith.
var ErrInjected = errors.New("injected spawn failure")

// FailWith makes subsequent spawns fail with err until cleared with nil.
func (s *Spawner) FailWith(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// SetDelay makes Spawn block for d, widening race windows in tests.
func (s *Spawner) SetDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

// SetStopOutcome sets the outcome reported by handles spawned afterwards.
func (s *Spawner) SetStopOutcome(o process.StopOutcome) {
	s.mu.Lock()
	s.outcome = o
	s.mu.Unlock()
}

func (s *Spawner) Spawn(key, input, output string) (relay.Handle, error) {
	s.mu.Lock()
	err, delay, outcome := s.err, s.delay, s.outcome
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}

	h := &Handle{
		Key:         key,
		Input:       input,
		Output:      output,
		pid:         int(pidSeq.Add(1)),
		state:       process.StateRunning,
		alive:       true,
		startedAt:   time.Now(),
		StopOutcome: outcome,
	}
	h.onStop = s.released

	s.mu.Lock()
	s.handles = append(s.handles, h)
	s.live++
	s.liveKey[key]++
	if s.liveKey[key] > s.maxLive[key] {
		s.maxLive[key] = s.liveKey[key]
	}
	s.mu.Unlock()
	return h, nil
}

func (s *Spawner) released(h *Handle) {
	s.mu.Lock()
	s.live--
	s.liveKey[h.Key]--
	s.mu.Unlock()
}

// Handles returns every handle spawned so far.
func (s *Spawner) Handles() []*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Handle(nil), s.handles...)
}

// Spawned counts spawns for key.
func (s *Spawner) Spawned(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, h := range s.handles {
		if h.Key == key {
			n++
		}
	}
	return n
}

// Live counts handles not yet stopped. Crashed handles still count.
func (s *Spawner) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// MaxConcurrent is the highest number of unstopped handles seen for key.
func (s *Spawner) MaxConcurrent(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxLive[key]
}

// Sequence returns a key generator yielding keys in order.
func Sequence(keys ...string) func() string {
	var mu sync.Mutex
	i := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		k := keys[i%len(keys)]
		i++
		return k
	}
}
