// Package hostversion reads the host application's version file. The file is
// a tiny Python module containing __version__ and, on dev builds,
// __timestamp__ assignments; the host rewrites it on upgrade, so the parsed
// result is cached and invalidated through a filesystem watch.
package hostversion

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/fsnotify/fsnotify"
	"pkt.systems/pslog"

	"github.com/dispatcharr/exporter/internal/logfields"
)

var (
	versionRe   = regexp.MustCompile(`__version__\s*=\s*['"]([^'"]+)['"]`)
	timestampRe = regexp.MustCompile(`__timestamp__\s*=\s*['"]([^'"]+)['"]`)
)

// Reader resolves the host application version with a watch-invalidated
// cache. When the watcher cannot start (missing directory, exhausted inotify
// descriptors) every call falls back to reading the file directly.
type Reader struct {
	path   string
	logger pslog.Logger

	mu     sync.Mutex
	cached string
	valid  bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// New builds a Reader for the version file at path and starts the watch.
func New(path string, logger pslog.Logger) *Reader {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	r := &Reader{
		path:   path,
		logger: logfields.WithComponent(logger, "hostversion"),
		done:   make(chan struct{}),
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.logger.Debug("hostversion.watch.unavailable", "error", err)
		return r
	}
	// Watch the directory, not the file: the host replaces version.py by
	// rename, which drops a direct file watch.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		r.logger.Debug("hostversion.watch.add_failed", "path", path, "error", err)
		_ = watcher.Close()
		return r
	}
	r.watcher = watcher
	go r.watch()
	return r
}

// Version returns the formatted host version, "unknown" when the file cannot
// be read or parsed. Dev builds with a timestamp render as
// v<version>-<timestamp>.
func (r *Reader) Version() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.watcher != nil && r.valid {
		return r.cached
	}
	v, err := parseFile(r.path)
	if err != nil {
		r.logger.Debug("hostversion.read.failed", "path", r.path, "error", err)
		return "unknown"
	}
	if r.watcher != nil {
		r.cached = v
		r.valid = true
	}
	return v
}

// Close stops the watch. The Reader remains usable in fallback mode.
func (r *Reader) Close() error {
	r.mu.Lock()
	watcher := r.watcher
	r.watcher = nil
	r.valid = false
	r.mu.Unlock()
	if watcher == nil {
		return nil
	}
	err := watcher.Close()
	<-r.done
	return err
}

func (r *Reader) watch() {
	defer close(r.done)
	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(r.path) {
				continue
			}
			r.mu.Lock()
			r.valid = false
			r.mu.Unlock()
			r.logger.Debug("hostversion.cache.invalidated", "op", event.Op.String())
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Debug("hostversion.watch.error", "error", err)
		}
	}
}

func parseFile(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	m := versionRe.FindSubmatch(content)
	if m == nil {
		return "", fmt.Errorf("hostversion: no __version__ in %s", path)
	}
	version := string(m[1])
	if ts := timestampRe.FindSubmatch(content); ts != nil {
		return fmt.Sprintf("v%s-%s", version, string(ts[1])), nil
	}
	return version, nil
}
