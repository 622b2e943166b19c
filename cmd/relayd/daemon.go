package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// ServeFlags holds flags of the serve command.
type ServeFlags struct {
	Daemonize bool
	PIDFile   string
	LogFile   string
}

// daemonArgs strips --daemonize so the background child runs in the
// foreground of its own session.
func daemonArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if a == "--daemonize" || strings.HasPrefix(a, "--daemonize=") {
			continue
		}
		out = append(out, a)
	}
	return out
}

// daemonize re-executes relayd with args in a new session. The daemon's
// stdout and stderr go to logFile, or are discarded when it is empty. The
// child writes the pid file itself once it is serving.
func daemonize(args []string, logFile string, out io.Writer) (int, error) {
	executable, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("failed to get executable path: %w", err)
	}

	// #nosec G204
	cmd := exec.Command(executable, daemonArgs(args)...)
	configureDaemonAttrs(cmd)

	if logFile != "" {
		// #nosec G304
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return 0, fmt.Errorf("failed to open log file: %w", err)
		}
		defer func() { _ = f.Close() }()
		cmd.Stdout = f
		cmd.Stderr = f
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start daemon process: %w", err)
	}
	pid := cmd.Process.Pid
	_ = cmd.Process.Release()
	_, _ = fmt.Fprintf(out, "relayd started with PID %d\n", pid)
	return pid, nil
}

// writePIDFile refuses to overwrite the pid file of a live daemon.
func writePIDFile(path string, pid int) error {
	if b, err := os.ReadFile(path); err == nil {
		if old, convErr := strconv.Atoi(strings.TrimSpace(string(b))); convErr == nil && old != pid && pidAlive(old) {
			return fmt.Errorf("relayd already running with PID %d (%s)", old, path)
		}
	}
	// #nosec G306
	return os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644)
}

func removePIDFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
