// Package filelock provides the non-blocking advisory file lock used as the
// same-host tiebreaker during listener auto-start elections. The lock is
// advisory: it only arbitrates between cooperating workers on one machine,
// while the shared cache arbitrates across machines.
package filelock

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

// ErrLocked is returned by TryLock when another process already holds the
// exclusive lock.
var ErrLocked = errors.New("filelock: already locked")

// Handle is an open lock file. The advisory lock is only held between a
// successful TryLock and the matching Unlock or Close.
type Handle struct {
	path   string
	f      *os.File
	locked bool
}

// Open creates or opens the lock file at path. The file is world-writable so
// workers running as different users can contend for the same lock.
func Open(path string) (*Handle, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return nil, fmt.Errorf("filelock: open %s: %w", path, err)
	}
	return &Handle{path: path, f: f}, nil
}

// Path reports the lock file location.
func (h *Handle) Path() string {
	return h.path
}

// TryLock attempts to take the exclusive advisory lock without blocking.
// It returns ErrLocked when another process holds the lock.
func (h *Handle) TryLock() error {
	if h.locked {
		return nil
	}
	if err := tryLockFile(h.f); err != nil {
		return err
	}
	h.locked = true
	return nil
}

// WritePID records the owning process id in the lock file so operators can
// identify the holder. Only meaningful after TryLock succeeds.
func (h *Handle) WritePID() error {
	if err := h.f.Truncate(0); err != nil {
		return fmt.Errorf("filelock: truncate %s: %w", h.path, err)
	}
	if _, err := h.f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0); err != nil {
		return fmt.Errorf("filelock: write pid: %w", err)
	}
	return h.f.Sync()
}

// Unlock releases the advisory lock while keeping the file open.
func (h *Handle) Unlock() error {
	if !h.locked {
		return nil
	}
	if err := unlockFile(h.f); err != nil {
		return err
	}
	h.locked = false
	return nil
}

// Close releases the lock when held and closes the file. The file itself is
// left on disk; Remove deletes it.
func (h *Handle) Close() error {
	if h.locked {
		if err := unlockFile(h.f); err != nil {
			_ = h.f.Close()
			return err
		}
		h.locked = false
	}
	return h.f.Close()
}

// Remove deletes the lock file from disk, ignoring a missing file.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("filelock: remove %s: %w", path, err)
	}
	return nil
}
