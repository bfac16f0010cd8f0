// Package pidlock implements the Bus startup mutual-exclusion primitive
// (spec §4.8 step 1, §5, §7): an exclusive whole-file advisory lock on the
// PID file, with stale-vs-live diagnosis via OS process enumeration.
// Grounded on pid_manager.PIDFileManager. Stale locks are never
// auto-cleared — the operator must remove the file manually, because a
// stale lock on a network filesystem indicates a real problem, not routine
// cleanup.
//
// Process-liveness and cmdline verification have no library anywhere in the
// retrieval pack (no psutil-equivalent); this package reads /proc/<pid>/cmdline
// directly, a documented stdlib-only exception (see DESIGN.md).
package pidlock

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/gofrs/flock"
)

// ErrAnotherInstanceRunning is returned when the lock is held by a live
// process, whether or not its cmdline matches scriptName.
var ErrAnotherInstanceRunning = fmt.Errorf("pidlock: another instance is already running")

// StaleLockError is returned when the lock is held (or was held) by a PID
// that is no longer alive. It is never auto-cleared.
type StaleLockError struct {
	PID  int
	Path string
}

func (e *StaleLockError) Error() string {
	return fmt.Sprintf(
		"pidlock: stale lock detected (PID %d not running). "+
			"This indicates a network filesystem or kernel issue. "+
			"Manual intervention required: rm %s", e.PID, e.Path)
}

// Lock wraps an acquired advisory lock on a PID file.
type Lock struct {
	path string
	fl   *flock.Flock
}

// Acquire attempts to exclusively lock path, a PID file. On contention it
// diagnoses the holder: if its PID is alive, returns (a wrapped)
// ErrAnotherInstanceRunning, with the cmdline included when it contains
// scriptName; if the PID is not alive, returns a *StaleLockError naming the
// manual recovery command; an empty or non-numeric PID file yields a plain
// error. On success, the
// current PID is written and fsynced, and the returned Lock's Release
// removes the file.
func Acquire(path, scriptName string) (*Lock, error) {
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("pidlock: lock %s: %w", path, err)
	}
	if !locked {
		return nil, diagnose(path, scriptName)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		fl.Unlock()
		return nil, fmt.Errorf("pidlock: open %s for write: %w", path, err)
	}
	if _, err := f.WriteString(strconv.Itoa(os.Getpid()) + "\n"); err != nil {
		f.Close()
		fl.Unlock()
		return nil, fmt.Errorf("pidlock: write pid: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		fl.Unlock()
		return nil, fmt.Errorf("pidlock: fsync pid file: %w", err)
	}
	if err := f.Close(); err != nil {
		fl.Unlock()
		return nil, fmt.Errorf("pidlock: close pid file: %w", err)
	}

	return &Lock{path: path, fl: fl}, nil
}

// Release unlocks and removes the PID file. Safe to call on normal exit or
// from a signal-driven shutdown path (spec §4.8 "register a cleanup hook").
func (l *Lock) Release() error {
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("pidlock: unlock: %w", err)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("pidlock: remove %s: %w", l.path, err)
	}
	return nil
}

func diagnose(path, scriptName string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("pidlock: read held lock file %s: %w", path, err)
	}
	pidStr := strings.TrimSpace(string(raw))
	if pidStr == "" {
		return fmt.Errorf("pidlock: PID file locked but empty (another process initializing)")
	}
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return fmt.Errorf("pidlock: PID file locked but contains invalid data: %q", pidStr)
	}

	alive, cmdline := isProcessRunning(pid)
	if alive && strings.Contains(cmdline, scriptName) {
		return fmt.Errorf("%w (pid %d, cmd %q)", ErrAnotherInstanceRunning, pid, cmdline)
	}
	if alive {
		// A live process holds the PID but its cmdline doesn't match —
		// treat conservatively as a real conflict rather than assuming
		// PID reuse, since we can still observe it is genuinely running.
		return fmt.Errorf("%w (pid %d)", ErrAnotherInstanceRunning, pid)
	}
	return &StaleLockError{PID: pid, Path: path}
}

// isProcessRunning reports whether pid is alive (via signal 0, the portable
// kill(2) liveness probe) and, on Linux, its /proc/<pid>/cmdline contents
// (NUL-joined args rendered space-separated).
func isProcessRunning(pid int) (bool, string) {
	if err := syscall.Kill(pid, syscall.Signal(0)); err != nil {
		return false, ""
	}
	cmdline, _ := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	return true, strings.ReplaceAll(strings.Trim(string(cmdline), "\x00"), "\x00", " ")
}
