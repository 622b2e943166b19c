//go:build windows

package process

import (
	"os"
	"os/exec"
)

func configureSysProcAttr(cmd *exec.Cmd) {}

// Windows has no graceful signal for console-less children; both phases kill.
func terminateGroup(pid int) error { return killGroup(pid) }

func killGroup(pid int) error {
	if pid <= 0 {
		return nil
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	return p.Kill()
}

// pidAlive defers to the monitor goroutine; a live handle has not been reaped.
func pidAlive(pid int) bool { return pid > 0 }
