// Package lockfile provides flock-based locks.
//
// Two kinds of lock are offered. An instance lock stops two CarePipe servers from sharing a
// state directory; it fails fast and reports the process holding it. A data lock guards a single
// data file: readers take it shared, writers take it exclusive, and both block until granted.
// Both are released by the kernel when the process exits.
package lockfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// LockFileName is the name of the instance lock file created in the state directory.
const LockFileName = "carepipe.lock"

// DataLockSuffix is appended to a data file path to name its lock file.
const DataLockSuffix = ".lock"

// Mode selects a shared or exclusive data lock.
type Mode int

// Lock modes.
const (
	Shared Mode = iota
	Exclusive
)

func (m Mode) String() string {
	if m == Exclusive {
		return "exclusive"
	}
	return "shared"
}

func (m Mode) flag() int {
	if m == Exclusive {
		return syscall.LOCK_EX
	}
	return syscall.LOCK_SH
}

// Lock is a held flock.
type Lock struct {
	file     *os.File
	path     string
	mode     Mode
	instance bool // instance locks remove their file on release
	acquired bool
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// AcquireInstanceLock takes the exclusive instance lock on stateDir without blocking. If another
// process holds it, a *LockError describes that process.
func AcquireInstanceLock(stateDir string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	slog.Debug("Lockfile.AcquireInstanceLock: acquiring", "lock_path", lockPath)

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		info := readExistingLockInfo(lockPath)
		slog.Error("Lockfile.AcquireInstanceLock: another instance holds the lock", "lock_path", lockPath, "existing_lock_info", info, "error", err)
		return nil, &LockError{LockPath: lockPath, ExistingInfo: info, Cause: err}
	}

	if _, err := fmt.Fprintf(file, "pid=%d\n", os.Getpid()); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}
	if err := file.Sync(); err != nil {
		slog.Warn("Lockfile.AcquireInstanceLock: failed to sync lock file", "lock_path", lockPath, "error", err)
	}

	slog.Info("Lockfile.AcquireInstanceLock: acquired", "lock_path", lockPath, "pid", os.Getpid())
	return &Lock{file: file, path: lockPath, mode: Exclusive, instance: true, acquired: true}, nil
}

// Acquire takes a data lock for dataPath, blocking until it is granted. The lock lives in a
// sibling file so the data file itself can be replaced atomically while locked.
func Acquire(dataPath string, mode Mode) (*Lock, error) {
	lockPath := dataPath + DataLockSuffix
	if dir := filepath.Dir(lockPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create lock directory %s: %w", dir, err)
		}
	}
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}
	for {
		err = syscall.Flock(int(file.Fd()), mode.flag())
		if err != syscall.EINTR {
			break
		}
	}
	if err != nil {
		file.Close()
		return nil, &LockError{LockPath: lockPath, Cause: err}
	}
	slog.Debug("Lockfile.Acquire: acquired", "lock_path", lockPath, "mode", mode)
	return &Lock{file: file, path: lockPath, mode: mode, acquired: true}, nil
}

// Release releases the lock. Instance locks also remove their file. Safe to call repeatedly.
func (l *Lock) Release() error {
	if l == nil || !l.acquired || l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Error("Lockfile.Release: failed to release flock", "lock_path", l.path, "error", err)
	}
	if err := l.file.Close(); err != nil {
		slog.Error("Lockfile.Release: failed to close lock file", "lock_path", l.path, "error", err)
	}
	if l.instance {
		if err := os.Remove(l.path); err != nil {
			slog.Error("Lockfile.Release: failed to remove lock file", "lock_path", l.path, "error", err)
		}
		slog.Info("Lockfile.Release: instance lock released", "lock_path", l.path)
	} else {
		slog.Debug("Lockfile.Release: released", "lock_path", l.path, "mode", l.mode)
	}
	l.acquired = false
	l.file = nil
	return nil
}

// LockError reports a lock that could not be acquired.
type LockError struct {
	LockPath     string
	ExistingInfo string
	Cause        error
}

func (e *LockError) Error() string {
	if e.ExistingInfo == "" {
		return fmt.Sprintf("failed to lock %s: %v", e.LockPath, e.Cause)
	}
	return fmt.Sprintf("another CarePipe instance is already running using the same state directory.\n\n"+
		"Lock file: %s\nExisting process: %s\n\n"+
		"If no other instance is running the lock may be stale. Remove it with:\n  rm %s",
		e.LockPath, e.ExistingInfo, e.LockPath)
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// readExistingLockInfo describes the process recorded in an instance lock file.
func readExistingLockInfo(lockPath string) string {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return "unable to read lock file information"
	}
	content := string(data)
	if content == "" {
		return "lock file exists but contains no process information"
	}
	if pid := extractPIDFromLockInfo(content); pid > 0 {
		if isProcessRunning(pid) {
			return fmt.Sprintf("PID %d (running)", pid)
		}
		return fmt.Sprintf("PID %d (not running - stale lock)", pid)
	}
	return fmt.Sprintf("process information: %s", strings.TrimSpace(content))
}

func extractPIDFromLockInfo(content string) int {
	const pidPrefix = "pid="
	idx := strings.Index(content, pidPrefix)
	if idx == -1 {
		return 0
	}
	start := idx + len(pidPrefix)
	end := start
	for end < len(content) && content[end] >= '0' && content[end] <= '9' {
		end++
	}
	pid, err := strconv.Atoi(content[start:end])
	if err != nil {
		return 0
	}
	return pid
}

// isProcessRunning sends signal 0 to pid.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
