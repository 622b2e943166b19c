package process

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/gtzirun/cloud/internal/logger"
)

const (
	// killReapWait bounds the wait for the monitor to reap the child after SIGKILL.
	killReapWait = 2 * time.Second
	// pipeWaitDelay bounds how long Wait keeps copying output after the child exits.
	pipeWaitDelay = time.Second
)

// Handle owns exactly one running relay process. The monitor goroutine
// started by Spawn is the only caller of cmd.Wait.
type Handle struct {
	spec   Spec
	cmd    *exec.Cmd
	logger *slog.Logger

	mu       sync.Mutex
	status   Status
	stopping bool
	closers  []io.Closer
	done     chan struct{} // closed by monitor when cmd.Wait returns
}

// Spawn starts the relay described by spec.
func Spawn(spec Spec) (*Handle, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	cmd := spec.BuildCommand()
	configureSysProcAttr(cmd)
	cmd.WaitDelay = pipeWaitDelay

	h := &Handle{
		spec:   spec,
		cmd:    cmd,
		logger: spec.logger(),
		done:   make(chan struct{}),
	}
	if err := h.configureOutput(); err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		h.closeWriters()
		return nil, fmt.Errorf("start %s: %w", cmd.Path, err)
	}
	h.status = Status{
		Name:      spec.Name,
		PID:       cmd.Process.Pid,
		Args:      append([]string(nil), cmd.Args...),
		State:     StateRunning,
		Running:   true,
		StartedAt: time.Now(),
	}
	h.logger.Info("relay process started", "pid", h.status.PID, "input", spec.Input, "output", RedactURL(spec.Output))
	go h.monitor()
	return h, nil
}

// configureOutput sends stdout/stderr to rotating files when a log dir is
// configured and otherwise into the logger at debug level.
func (h *Handle) configureOutput() error {
	outW, errW, err := h.spec.Log.ProcessWriters(h.spec.Name)
	if err != nil {
		return err
	}
	if outW == nil {
		outW = logger.NewLineWriter(h.logger.With("stream", "stdout"), slog.LevelDebug)
	}
	if errW == nil {
		errW = logger.NewLineWriter(h.logger.With("stream", "stderr"), slog.LevelDebug)
	}
	h.cmd.Stdout = outW
	h.cmd.Stderr = errW
	h.closers = []io.Closer{outW, errW}
	return nil
}

func (h *Handle) monitor() {
	err := h.cmd.Wait()
	h.mu.Lock()
	h.status.Running = false
	h.status.StoppedAt = time.Now()
	if err != nil {
		h.status.ExitErr = err.Error()
	}
	unexpected := !h.stopping
	if unexpected {
		h.status.State = StateExited
	}
	h.mu.Unlock()
	if unexpected {
		h.logger.Warn("relay process exited unexpectedly", "pid", h.cmd.Process.Pid, "error", err)
	}
	h.closeWriters()
	close(h.done)
}

func (h *Handle) closeWriters() {
	h.mu.Lock()
	closers := h.closers
	h.closers = nil
	h.mu.Unlock()
	for _, c := range closers {
		_ = c.Close()
	}
}

// Stop asks the process group to terminate, waits up to grace and then
// kills it. Calling Stop on an exited handle is a no-op.
func (h *Handle) Stop(grace time.Duration) (StopOutcome, error) {
	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		return OutcomeAlreadyExited, nil
	default:
	}
	h.stopping = true
	h.status.State = StateTerminating
	pid := h.status.PID
	h.mu.Unlock()

	if err := terminateGroup(pid); err != nil {
		h.logger.Debug("terminate signal failed", "pid", pid, "error", err)
	}
	timer := time.NewTimer(grace)
	select {
	case <-h.done:
		timer.Stop()
		h.setState(StateTerminated)
		return OutcomeTerminated, nil
	case <-timer.C:
	}

	h.logger.Warn("relay did not exit within grace period, killing", "pid", pid, "grace", grace)
	if err := killGroup(pid); err != nil {
		h.logger.Debug("kill signal failed", "pid", pid, "error", err)
	}
	select {
	case <-h.done:
	case <-time.After(killReapWait):
		return OutcomeKilled, fmt.Errorf("relay pid %d still running after kill", pid)
	}
	h.setState(StateKilled)
	return OutcomeKilled, nil
}

func (h *Handle) setState(s State) {
	h.mu.Lock()
	h.status.State = s
	h.mu.Unlock()
}

// IsAlive is a non-blocking liveness probe.
func (h *Handle) IsAlive() bool {
	select {
	case <-h.done:
		return false
	default:
	}
	return pidAlive(h.PID())
}

// Done is closed once the process has been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) PID() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status.PID
}

func (h *Handle) Args() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.status.Args...)
}

// Snapshot returns a copy of the current status.
func (h *Handle) Snapshot() Status {
	h.mu.Lock()
	s := h.status
	s.Args = append([]string(nil), h.status.Args...)
	h.mu.Unlock()
	return s
}

// isZombieLinux returns true if /proc/<pid>/status reports a zombie state (Z).
func isZombieLinux(pid int) bool {
	if runtime.GOOS != "linux" {
		return false
	}
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}
