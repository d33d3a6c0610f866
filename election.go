package exporter

import (
	"context"
	"errors"
	"time"

	"github.com/dispatcharr/exporter/api"
	"github.com/dispatcharr/exporter/internal/cache"
	"github.com/dispatcharr/exporter/internal/filelock"
	"github.com/dispatcharr/exporter/internal/store"
)

// electionOutcome summarises how one auto-start election attempt ended.
type electionOutcome string

const (
	// electionLostLock: another worker on this host holds the lock file.
	electionLostLock electionOutcome = "lost_lock"
	// electionPeerRunning: a listener is already published in the cache.
	electionPeerRunning electionOutcome = "peer_running"
	// electionAlreadyCompleted: an election already ran for this deployment.
	electionAlreadyCompleted electionOutcome = "already_completed"
	// electionDisabled: auto-start was off when the decision was frozen.
	electionDisabled electionOutcome = "disabled"
	// electionStarted: this worker won and bound the listener.
	electionStarted electionOutcome = "started"
	// electionPortBusy: the configured port is bound elsewhere; terminal.
	electionPortBusy electionOutcome = "port_busy"
	// electionExhausted: all retries consumed without a successful start.
	electionExhausted electionOutcome = "exhausted"
	// electionAborted: the election could not run (lock open failure,
	// cancelled context).
	electionAborted electionOutcome = "aborted"
)

// StartElection launches the auto-start election in the background. It runs
// at most once per Plugin regardless of how often it is called; the host may
// construct the plugin again on reload within the same process.
func (p *Plugin) StartElection(ctx context.Context) {
	p.electionOnce.Do(func() {
		go func() {
			outcome := p.runElection(ctx)
			p.logger.Info("election.finished", "outcome", string(outcome))
		}()
	})
}

// runElection is the single-instance auto-start election: a
// non-blocking file lock arbitrates workers on this host, the shared cache
// arbitrates across hosts, and the auto-start decision is frozen at read
// time so runtime settings changes cannot alter an in-flight election.
func (p *Plugin) runElection(ctx context.Context) electionOutcome {
	logger := p.logger

	lock, err := filelock.Open(p.cfg.LockFilePath)
	if err != nil {
		logger.Warn("election.lock.open_failed", "path", p.cfg.LockFilePath, "error", err)
		return electionAborted
	}
	if err := lock.TryLock(); err != nil {
		// Expected contention: another worker on this host is handling the
		// election. Exactly one attempt, no retry.
		if errors.Is(err, filelock.ErrLocked) {
			logger.Debug("election.lock.contended", "path", p.cfg.LockFilePath)
		} else {
			logger.Warn("election.lock.acquire_failed", "path", p.cfg.LockFilePath, "error", err)
		}
		_ = lock.Close()
		return electionLostLock
	}
	// Record the winner's PID in the lock file so operators can see which
	// worker is coordinating. Informational only.
	if err := lock.WritePID(); err != nil {
		logger.Debug("election.lock.pid_write_failed", "error", err)
	}
	release := func() {
		if err := lock.Unlock(); err != nil {
			logger.Debug("election.lock.release_failed", "error", err)
		}
		_ = lock.Close()
	}

	if flag, err := p.cacheGet(ctx, api.KeyAutostartCompleted); err == nil && flag == api.FlagTrue {
		logger.Debug("election.skip.already_completed")
		release()
		return electionAlreadyCompleted
	}
	if flag, err := p.cacheGet(ctx, api.KeyServerRunning); err == nil && flag == api.FlagTrue {
		logger.Debug("election.skip.peer_running")
		p.markAutostartCompleted(ctx)
		release()
		return electionPeerRunning
	}

	// Freeze the auto-start decision now. Settings saved after this point
	// still shape the eventual listener (host, port, toggles are re-read per
	// attempt) but cannot flip whether this election starts one.
	enabled, err := p.autoStartEnabled(ctx)
	if err != nil {
		logger.Debug("election.settings.unavailable", "error", err)
		enabled = false
	}
	p.markAutostartCompleted(ctx)
	if !enabled {
		logger.Debug("election.skip.disabled")
		release()
		return electionDisabled
	}

	// Let the host application finish booting before the first bind attempt.
	if !p.sleep(ctx, p.cfg.StartupDelay) {
		release()
		return electionAborted
	}

	for attempt := 1; attempt <= p.cfg.MaxStartRetries; attempt++ {
		if attempt > 1 {
			if !p.sleep(ctx, p.cfg.RetryDelay*time.Duration(attempt)) {
				release()
				return electionAborted
			}
		}

		settings, err := p.loadSettings(ctx)
		if err != nil {
			logger.Warn("election.attempt.settings_failed", "attempt", attempt, "error", err)
			continue
		}
		logger.Info("election.attempt.starting",
			"attempt", attempt,
			"max_attempts", p.cfg.MaxStartRetries,
			"host", settings.Host,
			"port", settings.Port,
		)

		if err := ProbePort(settings.Host, settings.Port); err != nil {
			// The port will not free itself by waiting; stop immediately.
			logger.Info("election.attempt.port_busy", "host", settings.Host, "port", settings.Port, "error", err)
			release()
			return electionPortBusy
		}

		if err := p.startListener(ctx, settings); err != nil {
			if errors.Is(err, ErrAlreadyRunning) {
				logger.Debug("election.attempt.peer_won", "attempt", attempt)
				release()
				return electionPeerRunning
			}
			logger.Warn("election.attempt.failed", "attempt", attempt, "error", err)
			continue
		}

		// Keep the file lock held for the life of this process so a second
		// election here can never start a second listener; it releases
		// naturally on process exit.
		p.mu.Lock()
		p.electionLock = lock
		p.mu.Unlock()
		logger.Info("election.won", "endpoint", settings.Endpoint())
		return electionStarted
	}

	logger.Warn("election.exhausted", "attempts", p.cfg.MaxStartRetries)
	release()
	return electionExhausted
}

// autoStartEnabled reads the host's plugin config row and reports whether the
// plugin is enabled with auto-start on. A missing row means never configured,
// which is disabled.
func (p *Plugin) autoStartEnabled(ctx context.Context) (bool, error) {
	cfg, err := p.store.PluginConfig(ctx, api.PluginKey)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !cfg.Enabled {
		return false, nil
	}
	settings, err := ParseSettings(cfg.Settings)
	if err != nil {
		return false, err
	}
	return settings.AutoStart, nil
}

func (p *Plugin) markAutostartCompleted(ctx context.Context) {
	opCtx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()
	if err := p.cache.Set(opCtx, api.KeyAutostartCompleted, api.FlagTrue); err != nil {
		p.logger.Debug("election.completed_flag.set_failed", "error", err)
	}
}

func (p *Plugin) cacheGet(ctx context.Context, key string) (string, error) {
	opCtx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()
	val, err := p.cache.Get(opCtx, key)
	if err != nil && !errors.Is(err, cache.ErrNotFound) {
		p.logger.Debug("election.cache.read_failed", "key", key, "error", err)
	}
	return val, err
}

// sleep waits d on the plugin clock; false means the context was cancelled.
func (p *Plugin) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-p.clock.After(d):
		return true
	}
}
