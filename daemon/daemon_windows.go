//go:build windows
// +build windows

package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// IsProcessRunning checks if a process with the given PID is running.
// On Windows FindProcess succeeds for dead PIDs, so probe with Signal(0)
// and treat permission errors as "running".
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	return err == nil || err == os.ErrPermission
}

// StopProcess kills the process. Windows has no SIGINT delivery for
// detached processes, so shutdown is not graceful there.
func StopProcess(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid PID: %d", pid)
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process: %w", err)
	}
	if err := process.Kill(); err != nil {
		return fmt.Errorf("failed to kill process: %w", err)
	}
	return nil
}

func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP | 0x00000008, // DETACHED_PROCESS
	}
}

// livenessCheck polls the child PID on Windows; pipe inheritance via
// ExtraFiles is not supported there.
type livenessCheck struct {
	pid int
}

func newLivenessCheck() (*livenessCheck, error) {
	return &livenessCheck{}, nil
}

func (l *livenessCheck) configureCmd(cmd *exec.Cmd) {}

func (l *livenessCheck) start(pid int) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		for IsProcessRunning(pid) {
			time.Sleep(500 * time.Millisecond)
		}
		close(ch)
	}()
	return ch
}

func (l *livenessCheck) cleanup() {}
