//go:build !unix

package filelock

import "os"

// tryLockFile is a stub on non-Unix platforms; elections there rely on the
// shared cache flag alone.
func tryLockFile(f *os.File) error { return nil }

// unlockFile is the stub counterpart to tryLockFile on non-Unix platforms.
func unlockFile(f *os.File) error { return nil }
