package exporter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"pkt.systems/pslog"

	"github.com/dispatcharr/exporter/api"
	"github.com/dispatcharr/exporter/internal/cache"
	"github.com/dispatcharr/exporter/internal/clock"
	"github.com/dispatcharr/exporter/internal/logfields"
)

var (
	// ErrAlreadyRunning is returned when a start finds a listener already
	// bound, locally or anywhere a peer has published one via the cache.
	ErrAlreadyRunning = errors.New("exporter: metrics server already running")
	// ErrPortInUse is returned when the configured port cannot be bound.
	ErrPortInUse = errors.New("exporter: port already in use")
	// ErrNotRunning is returned by Stop when no listener is running here.
	ErrNotRunning = errors.New("exporter: metrics server not running")
	// ErrStopUnconfirmed is returned when a cross-worker stop request is not
	// confirmed within the wait timeout. The stop may still complete later.
	ErrStopUnconfirmed = errors.New("exporter: server did not confirm shutdown")
)

// ServerState is the listener lifecycle state.
type ServerState int32

const (
	// StateStopped means no listener is bound on this worker.
	StateStopped ServerState = iota
	// StateBinding means a bind is in flight.
	StateBinding
	// StateRunning means the listener is serving and its monitor is polling.
	StateRunning
	// StateStopping means shutdown has begun but not completed.
	StateStopping
)

func (s ServerState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateBinding:
		return "binding"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// cacheOpTimeout bounds each coordination write/read the lifecycle performs
// outside a caller-supplied context.
const cacheOpTimeout = 3 * time.Second

// MetricsServer owns one bound metrics listener: the socket, the serving
// goroutine, and the monitor goroutine that polls the shared cache for stop
// requests. At most one per worker process is RUNNING at a time; the Plugin
// enforces that with the cache flag and its local reference.
type MetricsServer struct {
	settings Settings
	handler  http.Handler
	cache    cache.Cache
	clock    clock.Clock
	logger   pslog.Logger

	// lockFilePath is removed best-effort on clean stop.
	lockFilePath string
	pollInterval time.Duration

	mu      sync.Mutex
	state   ServerState
	srv     *http.Server
	ln      net.Listener
	stopped chan struct{}
}

// NewMetricsServer builds a stopped MetricsServer around the supplied
// handler. Start binds it.
func NewMetricsServer(settings Settings, handler http.Handler, ca cache.Cache, clk clock.Clock, lockFilePath string, pollInterval time.Duration, logger pslog.Logger) *MetricsServer {
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &MetricsServer{
		settings:     settings,
		handler:      handler,
		cache:        ca,
		clock:        clk,
		logger:       logfields.WithComponent(logger, "server"),
		lockFilePath: lockFilePath,
		pollInterval: pollInterval,
	}
}

// State reports the current lifecycle state.
func (m *MetricsServer) State() ServerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Running reports whether the listener is serving.
func (m *MetricsServer) Running() bool {
	return m.State() == StateRunning
}

// Addr returns the bound address, or nil when not running.
func (m *MetricsServer) Addr() net.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ln == nil {
		return nil
	}
	return m.ln.Addr()
}

// Settings returns the settings this listener was started with.
func (m *MetricsServer) Settings() Settings {
	return m.settings
}

// Start binds the listener and publishes the coordination triplet. A peer
// already publishing server_running, or a second Start on this instance,
// returns ErrAlreadyRunning; a bind failure returns ErrPortInUse.
func (m *MetricsServer) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateStopped {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.state = StateBinding
	m.mu.Unlock()

	fail := func(err error) error {
		m.mu.Lock()
		m.state = StateStopped
		m.mu.Unlock()
		return err
	}

	// A peer may have bound between the caller's check and ours; the cache
	// flag is authoritative across workers.
	if running, _ := m.peerRunning(ctx); running {
		return fail(ErrAlreadyRunning)
	}

	addr := net.JoinHostPort(m.settings.Host, strconv.Itoa(m.settings.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		m.logger.Error("server.lifecycle.bind_failed", "addr", addr, "error", err)
		return fail(fmt.Errorf("%w: %s: %v", ErrPortInUse, addr, err))
	}

	if err := m.publishRunning(ctx); err != nil {
		// The listener works without the flag; peers just cannot see it.
		// Keep going, matching the best-effort contract of the cache.
		m.logger.Warn("server.lifecycle.publish_failed", "error", err)
	}

	srv := &http.Server{Handler: m.handler}
	stopped := make(chan struct{})

	m.mu.Lock()
	m.srv = srv
	m.ln = ln
	m.stopped = stopped
	m.state = StateRunning
	m.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Warn("server.lifecycle.serve_error", "error", err)
		}
	}()
	go m.monitor(stopped)

	m.logger.Info("server.lifecycle.started", "addr", ln.Addr().String(), "endpoint", m.settings.Endpoint())
	return nil
}

// Stop shuts the listener down, clears the coordination keys, and removes
// the lock file best-effort. Idempotent: a stopped server returns
// ErrNotRunning.
func (m *MetricsServer) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateRunning {
		m.mu.Unlock()
		return ErrNotRunning
	}
	m.state = StateStopping
	srv := m.srv
	stopped := m.stopped
	m.mu.Unlock()

	m.logger.Info("server.lifecycle.stopping")
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		m.logger.Warn("server.lifecycle.shutdown_error", "error", err)
		_ = srv.Close()
	}

	m.cleanup(ctx)

	m.mu.Lock()
	m.srv = nil
	m.ln = nil
	m.stopped = nil
	m.state = StateStopped
	m.mu.Unlock()
	close(stopped)

	m.logger.Info("server.lifecycle.stopped")
	return nil
}

// monitor polls the shared cache for a stop request until the server stops.
// A stop requested elsewhere is observed within one poll interval.
func (m *MetricsServer) monitor(stopped chan struct{}) {
	for {
		select {
		case <-stopped:
			return
		case <-m.clock.After(m.pollInterval):
		}
		ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
		flag, err := m.cache.Get(ctx, api.KeyStopRequested)
		cancel()
		if err != nil {
			if !errors.Is(err, cache.ErrNotFound) {
				m.logger.Debug("server.monitor.poll_error", "error", err)
			}
			continue
		}
		if flag != api.FlagTrue {
			continue
		}
		m.logger.Info("server.monitor.stop_requested")
		stopCtx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
		if err := m.Stop(stopCtx); err != nil && !errors.Is(err, ErrNotRunning) {
			m.logger.Warn("server.monitor.stop_failed", "error", err)
		}
		cancel()
		return
	}
}

func (m *MetricsServer) peerRunning(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()
	flag, err := m.cache.Get(ctx, api.KeyServerRunning)
	if errors.Is(err, cache.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		// Cannot tell; treat as not running so a cache outage does not wedge
		// manual starts. The bind itself still arbitrates the port.
		m.logger.Debug("server.lifecycle.flag_check_failed", "error", err)
		return false, err
	}
	return flag == api.FlagTrue, nil
}

func (m *MetricsServer) publishRunning(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()
	// A stop request aimed at a server that was already gone would otherwise
	// survive in the cache and shut this listener down on its first poll.
	if err := m.cache.Delete(ctx, api.KeyStopRequested); err != nil {
		return err
	}
	if err := m.cache.Set(ctx, api.KeyServerRunning, api.FlagTrue); err != nil {
		return err
	}
	if err := m.cache.Set(ctx, api.KeyServerHost, m.settings.Host); err != nil {
		return err
	}
	return m.cache.Set(ctx, api.KeyServerPort, strconv.Itoa(m.settings.Port))
}

// cleanup clears the coordination keys and the election lock file. Both are
// best-effort; the keys also clear stop_requested so a later start does not
// immediately re-trigger shutdown.
func (m *MetricsServer) cleanup(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()
	err := m.cache.Delete(ctx,
		api.KeyServerRunning,
		api.KeyServerHost,
		api.KeyServerPort,
		api.KeyStopRequested,
	)
	if err != nil {
		m.logger.Warn("server.lifecycle.flag_cleanup_failed", "error", err)
	}
	if m.lockFilePath != "" {
		if err := os.Remove(m.lockFilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.logger.Debug("server.lifecycle.lockfile_cleanup_failed", "path", m.lockFilePath, "error", err)
		}
	}
}

// ProbePort checks port availability with a throwaway bind. An error means
// the port is in use (or unbindable) and will not free itself by waiting.
func ProbePort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("%w: probe %s:%d: %v", ErrPortInUse, host, port, err)
	}
	return ln.Close()
}
