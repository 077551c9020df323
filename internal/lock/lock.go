// Package lock implements the singleton process lock: an advisory flock on a
// well-known file holding the owner PID, with stale-lock reclamation.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// ErrHeld is returned when the lock belongs to a live process. Callers are
// expected to exit non-zero so duplicate deployments are noticed.
var ErrHeld = errors.New("lock held by a running process")

const (
	// ownerReadAttempts x ownerReadInterval bounds how long Acquire waits for
	// a contending writer to flush its PID before treating the file as stale.
	ownerReadAttempts = 5
	ownerReadInterval = 50 * time.Millisecond
)

// PIDFile is an exclusive OS-level lock on a single file. It is not safe for
// concurrent use by multiple goroutines; one process holds one PIDFile.
type PIDFile struct {
	path string
	file *os.File
	log  *logrus.Entry
}

// New creates a lock handle for the given path without acquiring it.
func New(path string) *PIDFile {
	if path == "" {
		path = DefaultPath()
	}
	return &PIDFile{
		path: path,
		log:  logrus.WithField("component", "lock"),
	}
}

// DefaultPath is the lock location used when configuration does not set one.
func DefaultPath() string {
	return filepath.Join(os.TempDir(), "gor2m.lock")
}

// Path returns the lock file location.
func (l *PIDFile) Path() string {
	return l.path
}

// Acquire takes the exclusive lock, writing this process's PID into the file.
// If the lock is held by a live process it returns ErrHeld. If the recorded
// owner is dead (or unreadable after a brief retry) the stale file is removed
// and the lock is retried once.
func (l *PIDFile) Acquire() error {
	if err := l.tryLock(); err == nil {
		l.log.WithField("path", l.path).Debug("process lock acquired")
		return nil
	}

	pid, err := l.readOwner()
	if err == nil && pidAlive(pid) {
		return fmt.Errorf("%w: pid %d owns %s", ErrHeld, pid, l.path)
	}

	if err != nil {
		l.log.WithField("path", l.path).WithError(err).Warn("lock owner unreadable, treating as stale")
	} else {
		l.log.WithFields(logrus.Fields{"path": l.path, "pid": pid}).Warn("removing stale lock left by dead process")
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale lock file: %w", err)
	}

	if err := l.tryLock(); err != nil {
		return fmt.Errorf("reacquire after removing stale lock: %w", err)
	}
	l.log.WithField("path", l.path).Debug("process lock acquired after stale cleanup")
	return nil
}

// Release unlocks, closes, and deletes the lock file. Safe to call when the
// lock was never acquired.
func (l *PIDFile) Release() error {
	if l.file == nil {
		return nil
	}

	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		l.file.Close()
		l.file = nil
		return fmt.Errorf("release lock: %w", err)
	}
	if err := l.file.Close(); err != nil {
		l.file = nil
		return fmt.Errorf("close lock file: %w", err)
	}
	l.file = nil
	os.Remove(l.path)
	return nil
}

// tryLock opens the file and attempts a non-blocking exclusive flock; on
// success the owner PID is written and fsynced.
func (l *PIDFile) tryLock() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return fmt.Errorf("flock %s: %w", l.path, err)
	}

	if err := writePID(f); err != nil {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return err
	}

	l.file = f
	return nil
}

func writePID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return fmt.Errorf("seek lock file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return fmt.Errorf("write PID to lock file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync lock file: %w", err)
	}
	return nil
}

// readOwner parses the PID recorded in the lock file. An empty file is a
// benign race with a writer that has not flushed yet, so the read is retried
// briefly before giving up.
func (l *PIDFile) readOwner() (int, error) {
	var lastErr error
	for attempt := 0; attempt < ownerReadAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(ownerReadInterval)
		}

		data, err := os.ReadFile(l.path)
		if err != nil {
			lastErr = err
			continue
		}

		content := strings.TrimSpace(string(data))
		if content == "" {
			lastErr = fmt.Errorf("lock file %s is empty", l.path)
			continue
		}

		pid, err := strconv.Atoi(content)
		if err != nil {
			lastErr = fmt.Errorf("lock file %s holds %q, not a PID", l.path, content)
			continue
		}
		return pid, nil
	}
	return 0, lastErr
}

// pidAlive reports whether the given PID refers to a live process. Signal 0
// probes existence; EPERM means the process exists under another user.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
