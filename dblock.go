package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const (
	lockFilePerms = 0o600
	lockDirPerms  = 0o700
)

// Sync modes recorded in the lock file.
const (
	lockModeOnce  = "once"
	lockModeWatch = "watch"
)

// errDatabaseBusy reports that another sync run holds the database lock.
var errDatabaseBusy = errors.New("database is in use by another sync")

// lockHolder identifies the process holding a database lock.
type lockHolder struct {
	PID   int       `json:"pid"`
	Mode  string    `json:"mode"`
	Since time.Time `json:"since"`
}

func (h *lockHolder) String() string {
	if h.Mode == lockModeWatch {
		return fmt.Sprintf("sync --watch, PID %d, since %s", h.PID, formatTime(h.Since))
	}

	return fmt.Sprintf("sync, PID %d, since %s", h.PID, formatTime(h.Since))
}

// busyError is returned by lockDatabase when the lock is taken.
type busyError struct {
	path   string
	holder *lockHolder // nil when the holder could not be read
}

func (e *busyError) Error() string {
	if e.holder == nil {
		return fmt.Sprintf("%v (lock %s)", errDatabaseBusy, e.path)
	}

	return fmt.Sprintf("%v (%s; lock %s)", errDatabaseBusy, e.holder, e.path)
}

func (e *busyError) Unwrap() error { return errDatabaseBusy }

// dbLock is an exclusive flock on a database's lock file. Every sync run
// holds one, so two processes never sync the same database at once.
type dbLock struct {
	path string
	f    *os.File
}

// lockDatabase takes the lock at path without waiting and records the
// current process as its holder. A lock held elsewhere yields a *busyError.
func lockDatabase(path, mode string) (*dbLock, error) {
	if path == "" {
		return nil, errors.New("lock file path is empty: no database path configured")
	}

	if err := os.MkdirAll(filepath.Dir(path), lockDirPerms); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	f, err := openLocked(path)
	if err != nil {
		return nil, err
	}

	l := &dbLock{path: path, f: f}

	if err := l.record(mode); err != nil {
		l.Release()
		return nil, err
	}

	return l, nil
}

// maxLockAttempts bounds retries when a releasing holder unlinks the file
// between our open and flock.
const maxLockAttempts = 3

// openLocked opens path and takes an exclusive flock on it. The returned
// file is still linked at path.
func openLocked(path string) (*os.File, error) {
	for range maxLockAttempts {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, lockFilePerms)
		if err != nil {
			return nil, fmt.Errorf("opening lock file: %w", err)
		}

		if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
			if !errors.Is(err, syscall.EWOULDBLOCK) {
				f.Close()
				return nil, fmt.Errorf("locking %s: %w", path, err)
			}

			holder, _ := parseLockHolder(f)
			f.Close()

			return nil, &busyError{path: path, holder: holder}
		}

		if linked(f, path) {
			return f, nil
		}

		f.Close()
	}

	return nil, fmt.Errorf("locking %s: lock file kept changing", path)
}

// linked reports whether f is the file currently at path.
func linked(f *os.File, path string) bool {
	opened, err := f.Stat()
	if err != nil {
		return false
	}

	current, err := os.Stat(path)
	if err != nil {
		return false
	}

	return os.SameFile(opened, current)
}

// record overwrites the lock file with "<pid> <mode> <unix ms>".
func (l *dbLock) record(mode string) error {
	if err := l.f.Truncate(0); err != nil {
		return fmt.Errorf("truncating lock file: %w", err)
	}

	line := fmt.Sprintf("%d %s %d\n", os.Getpid(), mode, time.Now().UnixMilli())
	if _, err := l.f.WriteAt([]byte(line), 0); err != nil {
		return fmt.Errorf("writing lock file: %w", err)
	}

	return l.f.Sync()
}

// Release removes the lock file, then drops the lock.
func (l *dbLock) Release() {
	os.Remove(l.path)
	l.f.Close()
}

// currentLockHolder reports who holds the lock at path, or nil when nobody
// does. A leftover file from a crashed run is not held and reads as nil.
func currentLockHolder(path string) (*lockHolder, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("opening lock file: %w", err)
	}
	defer f.Close()

	err = syscall.Flock(int(f.Fd()), syscall.LOCK_SH|syscall.LOCK_NB)
	if err == nil {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN) //nolint:errcheck // closing releases it anyway
		return nil, nil
	}

	if !errors.Is(err, syscall.EWOULDBLOCK) {
		return nil, fmt.Errorf("probing %s: %w", path, err)
	}

	return parseLockHolder(f)
}

func parseLockHolder(r io.ReaderAt) (*lockHolder, error) {
	buf := make([]byte, 128)

	n, err := r.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading lock file: %w", err)
	}

	fields := strings.Fields(string(buf[:n]))
	if len(fields) != 3 {
		return nil, fmt.Errorf("malformed lock file: %q", strings.TrimSpace(string(buf[:n])))
	}

	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, fmt.Errorf("malformed lock file PID: %w", err)
	}

	ms, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed lock file time: %w", err)
	}

	return &lockHolder{PID: pid, Mode: fields[1], Since: time.UnixMilli(ms)}, nil
}
