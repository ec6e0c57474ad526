// Package lock guards a session directory so only one daemon writes its
// data files. The lock file also advertises where the owning daemon serves
// its dashboard API.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// FileName is the lock file inside a session directory.
const FileName = "LOCK"

// ErrNotRunning is returned by ReadInfo when no daemon holds the lock.
var ErrNotRunning = errors.New("no daemon running for session")

// LockHeldError is returned when another process holds the session lock.
type LockHeldError struct {
	PID  int
	Path string
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("session lock held by PID %d (%s)", e.PID, e.Path)
}

// Info is what the lock holder writes into the lock file.
type Info struct {
	PID     int
	Started time.Time
	// Listen is the dashboard HTTP address of the holder.
	Listen string
}

// Lock represents an acquired session lock file.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes an exclusive lock on the session directory and records
// info in it. Returns LockHeldError if another process already holds it.
func Acquire(sessionDir string, info Info) (*Lock, error) {
	lockPath := filepath.Join(sessionDir, FileName)

	if err := os.MkdirAll(sessionDir, 0700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err != nil {
		held, _ := readInfo(lockPath)
		_ = f.Close()
		return nil, &LockHeldError{PID: held.PID, Path: lockPath}
	}

	if info.PID == 0 {
		info.PID = os.Getpid()
	}
	if info.Started.IsZero() {
		info.Started = time.Now()
	}
	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := f.Seek(0, 0); err != nil {
		_ = f.Close()
		return nil, err
	}
	content := fmt.Sprintf("pid=%d\ntime=%s\nlisten=%s\n",
		info.PID, info.Started.UTC().Format(time.RFC3339), info.Listen)
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return nil, err
	}

	return &Lock{file: f, path: lockPath}, nil
}

// Release releases the lock. Safe to call on nil receiver.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove lock file before closing to avoid stale files.
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

// ReadInfo returns what the running daemon recorded in its lock file.
func ReadInfo(sessionDir string) (Info, error) {
	info, err := readInfo(filepath.Join(sessionDir, FileName))
	if errors.Is(err, os.ErrNotExist) {
		return Info{}, ErrNotRunning
	}
	return info, err
}

func readInfo(path string) (Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Info{}, err
	}
	var info Info
	for _, line := range strings.Split(string(data), "\n") {
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			info.PID, _ = strconv.Atoi(val)
		case "time":
			info.Started, _ = time.Parse(time.RFC3339, val)
		case "listen":
			info.Listen = val
		}
	}
	return info, nil
}
