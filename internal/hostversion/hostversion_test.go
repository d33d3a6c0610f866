package hostversion

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeVersionFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "version.py")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write version file: %v", err)
	}
	return path
}

func TestVersionRelease(t *testing.T) {
	t.Parallel()

	path := writeVersionFile(t, "__version__ = \"0.19.0\"\n")
	r := New(path, nil)
	defer r.Close()

	if got := r.Version(); got != "0.19.0" {
		t.Fatalf("Version() = %q", got)
	}
}

func TestVersionDevBuild(t *testing.T) {
	t.Parallel()

	path := writeVersionFile(t, "__version__ = '0.19.0'\n__timestamp__ = '20260815.1430'\n")
	r := New(path, nil)
	defer r.Close()

	if got := r.Version(); got != "v0.19.0-20260815.1430" {
		t.Fatalf("Version() = %q", got)
	}
}

func TestVersionMissingFile(t *testing.T) {
	t.Parallel()

	r := New(filepath.Join(t.TempDir(), "version.py"), nil)
	defer r.Close()

	if got := r.Version(); got != "unknown" {
		t.Fatalf("Version() = %q", got)
	}
}

func TestVersionMalformedFile(t *testing.T) {
	t.Parallel()

	path := writeVersionFile(t, "print('no version here')\n")
	r := New(path, nil)
	defer r.Close()

	if got := r.Version(); got != "unknown" {
		t.Fatalf("Version() = %q", got)
	}
}

func TestVersionPicksUpRewrite(t *testing.T) {
	t.Parallel()

	path := writeVersionFile(t, "__version__ = \"0.19.0\"\n")
	r := New(path, nil)
	defer r.Close()

	if got := r.Version(); got != "0.19.0" {
		t.Fatalf("initial Version() = %q", got)
	}

	// The host replaces version.py by writing a sibling and renaming it over.
	tmp := path + ".new"
	if err := os.WriteFile(tmp, []byte("__version__ = \"0.20.0\"\n"), 0o644); err != nil {
		t.Fatalf("write replacement: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename replacement: %v", err)
	}

	// The watch invalidates asynchronously; poll until the new value lands.
	// Without a watcher the Reader re-reads every call, so this terminates
	// in fallback mode too.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if r.Version() == "0.20.0" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Version() never observed rewrite, last = %q", r.Version())
}
