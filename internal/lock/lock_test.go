package lock

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func TestAcquireWritesOwnPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.lock")

	l := New(path)
	if err := l.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer l.Release()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading lock file: %v", err)
	}
	want := fmt.Sprintf("%d", os.Getpid())
	if got := strings.TrimSpace(string(data)); got != want {
		t.Errorf("lock file holds %q, want %q", got, want)
	}
}

func TestSecondAcquireFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.lock")

	first := New(path)
	if err := first.Acquire(); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	defer first.Release()

	// A second handle uses a separate file description, so its flock
	// conflicts even within the same process.
	second := New(path)
	err := second.Acquire()
	if err == nil {
		second.Release()
		t.Fatal("second Acquire should fail while the lock is held")
	}
	if !errors.Is(err, ErrHeld) {
		t.Errorf("expected ErrHeld, got %v", err)
	}
}

func TestStaleLockReclaimed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.lock")

	// Record the PID of a process that has already exited.
	cmd := exec.Command("true")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start helper process: %v", err)
	}
	deadPID := cmd.Process.Pid
	if err := cmd.Wait(); err != nil {
		t.Fatalf("helper process failed: %v", err)
	}

	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", deadPID)), 0600); err != nil {
		t.Fatalf("writing stale lock file: %v", err)
	}

	l := New(path)
	if err := l.Acquire(); err != nil {
		t.Fatalf("Acquire should reclaim a stale lock, got: %v", err)
	}
	defer l.Release()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading lock file: %v", err)
	}
	want := fmt.Sprintf("%d", os.Getpid())
	if got := strings.TrimSpace(string(data)); got != want {
		t.Errorf("reclaimed lock holds %q, want %q", got, want)
	}
}

func TestReleaseRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.lock")

	l := New(path)
	if err := l.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("lock file should be removed on release, stat err: %v", err)
	}

	// Releasing again is a no-op
	if err := l.Release(); err != nil {
		t.Errorf("second Release should be a no-op, got: %v", err)
	}
}

func TestAcquireAfterRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.lock")

	first := New(path)
	if err := first.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	second := New(path)
	if err := second.Acquire(); err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
	second.Release()
}

func TestUnparseableOwnerTreatedAsStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.lock")

	if err := os.WriteFile(path, []byte("not-a-pid\n"), 0600); err != nil {
		t.Fatalf("writing lock file: %v", err)
	}

	// No flock is held on the garbage file, so the first tryLock succeeds
	// outright; this covers the path where a crashed writer left junk behind.
	l := New(path)
	if err := l.Acquire(); err != nil {
		t.Fatalf("Acquire should succeed over an unlocked garbage file: %v", err)
	}
	l.Release()
}

func TestDefaultPath(t *testing.T) {
	l := New("")
	if l.Path() != DefaultPath() {
		t.Errorf("empty path should fall back to DefaultPath, got %q", l.Path())
	}
}
