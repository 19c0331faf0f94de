// Package daemon provides process lifecycle helpers for the symdex daemon:
// PID file management, liveness checks and background spawning.
//
// The PID file contains a single line with the process ID as a decimal
// integer. Writes are guarded by a lock file so two daemons cannot start on
// the same project concurrently.
package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/gofrs/flock"

	"github.com/symdex/symdex/internal/fileutil"
)

// WritePIDFile writes the current process ID to pidPath. The returned lock
// is held for the daemon's lifetime; release it with RemovePIDFile at
// shutdown (the OS drops it on abnormal exit).
func WritePIDFile(pidPath string) (*flock.Flock, error) {
	if err := fileutil.EnsureParentDir(pidPath); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	lock := flock.New(pidPath + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire pid lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another symdex daemon is running for this project (lock held)")
	}

	content := fmt.Sprintf("%d\n", os.Getpid())
	tmpPath := pidPath + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(content), 0600); err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("failed to write PID file: %w", err)
	}
	if err := fileutil.ReplaceFileAtomically(tmpPath, pidPath); err != nil {
		_ = os.Remove(tmpPath)
		_ = lock.Unlock()
		return nil, fmt.Errorf("failed to rename PID file: %w", err)
	}

	return lock, nil
}

// ReadPIDFile reads the process ID from pidPath.
//
// Return values:
//   - (0, nil):   no PID file exists (daemon not running or not started yet)
//   - (pid, nil): PID file exists and contains a valid process ID
//   - (0, error): PID file exists but is corrupt or unreadable
func ReadPIDFile(pidPath string) (int, error) {
	data, err := os.ReadFile(pidPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}
	return pid, nil
}

// RemovePIDFile removes the PID file, its lock file, and releases lock when
// non-nil.
func RemovePIDFile(pidPath string, lock *flock.Flock) error {
	if lock != nil {
		_ = lock.Unlock()
	}
	_ = os.Remove(pidPath + ".lock")

	if err := os.Remove(pidPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// GetRunningPID returns the PID of the running daemon, or 0 when not
// running. Stale PID files are cleaned up as a side effect.
func GetRunningPID(pidPath string) (int, error) {
	pid, err := ReadPIDFile(pidPath)
	if err != nil {
		return 0, err
	}
	if pid == 0 {
		return 0, nil
	}
	if !IsProcessRunning(pid) {
		_ = RemovePIDFile(pidPath, nil)
		return 0, nil
	}
	return pid, nil
}

// SpawnBackground re-executes the current binary as a detached background
// process with stdout/stderr redirected to logPath. Returns the child PID
// and a channel that is closed when the child exits, so callers can detect
// early startup failures.
func SpawnBackground(logPath string, args []string) (int, <-chan struct{}, error) {
	executable, err := os.Executable()
	if err != nil {
		return 0, nil, fmt.Errorf("failed to get executable path: %w", err)
	}

	if err := fileutil.EnsureParentDir(logPath); err != nil {
		return 0, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	liveness, err := newLivenessCheck()
	if err != nil {
		logFile.Close()
		return 0, nil, err
	}

	cmd := exec.Command(executable, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Stdin = nil
	cmd.Env = append(os.Environ(), "SYMDEX_BACKGROUND=1")
	cmd.SysProcAttr = sysProcAttr()
	liveness.configureCmd(cmd)

	if err := cmd.Start(); err != nil {
		logFile.Close()
		liveness.cleanup()
		return 0, nil, fmt.Errorf("failed to start background process: %w", err)
	}

	logFile.Close()
	exitCh := liveness.start(cmd.Process.Pid)

	return cmd.Process.Pid, exitCh, nil
}
