package filelock_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dispatcharr/exporter/internal/filelock"
)

func TestTryLockIsExclusiveAcrossHandles(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "election.lock")
	first, err := filelock.Open(path)
	if err != nil {
		t.Fatalf("open first handle: %v", err)
	}
	defer first.Close()
	if err := first.TryLock(); err != nil {
		t.Fatalf("first TryLock: %v", err)
	}

	second, err := filelock.Open(path)
	if err != nil {
		t.Fatalf("open second handle: %v", err)
	}
	defer second.Close()
	if err := second.TryLock(); !errors.Is(err, filelock.ErrLocked) {
		t.Fatalf("second TryLock = %v, want ErrLocked", err)
	}

	if err := first.Unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := second.TryLock(); err != nil {
		t.Fatalf("TryLock after release: %v", err)
	}
}

func TestTryLockIsIdempotentForHolder(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "election.lock")
	h, err := filelock.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer h.Close()
	if err := h.TryLock(); err != nil {
		t.Fatalf("first TryLock: %v", err)
	}
	if err := h.TryLock(); err != nil {
		t.Fatalf("repeat TryLock by holder: %v", err)
	}
}

func TestWritePIDRecordsOwner(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "election.lock")
	h, err := filelock.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer h.Close()
	if err := h.TryLock(); err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	if err := h.WritePID(); err != nil {
		t.Fatalf("WritePID: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("lock file empty after WritePID")
	}
}

func TestRemoveIgnoresMissingFile(t *testing.T) {
	t.Parallel()

	if err := filelock.Remove(filepath.Join(t.TempDir(), "never-created.lock")); err != nil {
		t.Fatalf("Remove on missing file: %v", err)
	}
}

func TestCloseReleasesLock(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "election.lock")
	first, err := filelock.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := first.TryLock(); err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second, err := filelock.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()
	if err := second.TryLock(); err != nil {
		t.Fatalf("TryLock after close: %v", err)
	}
}
