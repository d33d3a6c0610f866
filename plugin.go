package exporter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"pkt.systems/pslog"

	"github.com/dispatcharr/exporter/api"
	"github.com/dispatcharr/exporter/internal/cache"
	cachelogging "github.com/dispatcharr/exporter/internal/cache/logging"
	cacheredis "github.com/dispatcharr/exporter/internal/cache/redis"
	"github.com/dispatcharr/exporter/internal/clock"
	"github.com/dispatcharr/exporter/internal/collect"
	"github.com/dispatcharr/exporter/internal/filelock"
	"github.com/dispatcharr/exporter/internal/hostversion"
	"github.com/dispatcharr/exporter/internal/httpapi"
	"github.com/dispatcharr/exporter/internal/logfields"
	"github.com/dispatcharr/exporter/internal/store"
	storepostgres "github.com/dispatcharr/exporter/internal/store/postgres"
	"github.com/dispatcharr/exporter/internal/updates"
	"github.com/dispatcharr/exporter/internal/version"
)

type options struct {
	logger     pslog.Logger
	clock      clock.Clock
	cache      cache.Cache
	store      store.Store
	httpClient *http.Client
	hostVer    func() string
}

// Option customises plugin construction; primarily used by tests to inject
// in-memory backends and a manual clock.
type Option func(*options)

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(logger pslog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithClock sets the time source for every wait, poll, and backoff.
func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clock = clk }
}

// WithCache injects a shared cache client, skipping the Redis connection.
func WithCache(ca cache.Cache) Option {
	return func(o *options) { o.cache = ca }
}

// WithStore injects a database reader, skipping the Postgres connection.
func WithStore(st store.Store) Option {
	return func(o *options) { o.store = st }
}

// WithHTTPClient sets the client used for update checks.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// WithHostVersion overrides the host version source.
func WithHostVersion(fn func() string) Option {
	return func(o *options) { o.hostVer = fn }
}

// Plugin is the explicit singleton manager for one worker process: it owns
// the connections to the host's database and cache, the at-most-once
// election attempt, the local listener reference (when this worker owns it),
// and the action dispatcher the host invokes.
type Plugin struct {
	cfg        Config
	logger     pslog.Logger
	clock      clock.Clock
	cache      cache.Cache
	store      store.Store
	collector  *collect.Collector
	hostVer    func() string
	hostReader *hostversion.Reader
	httpClient *http.Client

	ownsCache bool
	ownsStore bool

	electionOnce sync.Once

	mu           sync.Mutex
	server       *MetricsServer
	electionLock *filelock.Handle
}

// NewPlugin validates cfg, connects to the host's cache and database (unless
// injected), and returns a plugin ready for StartElection and Run. It does
// not bind any listener.
func NewPlugin(ctx context.Context, cfg Config, opts ...Option) (*Plugin, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = pslog.NoopLogger()
	}
	if o.clock == nil {
		o.clock = clock.System()
	}

	p := &Plugin{
		cfg:        cfg,
		logger:     logfields.WithComponent(o.logger, "plugin"),
		clock:      o.clock,
		cache:      o.cache,
		store:      o.store,
		hostVer:    o.hostVer,
		httpClient: o.httpClient,
	}
	if p.httpClient == nil {
		p.httpClient = &http.Client{Timeout: cfg.UpdateTimeout}
	}
	if p.cache == nil {
		rc, err := cacheredis.New(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("plugin: connect cache: %w", err)
		}
		p.cache = cachelogging.Wrap(rc, o.logger)
		p.ownsCache = true
	}
	if p.store == nil {
		st, err := storepostgres.New(ctx, cfg.PostgresDSN)
		if err != nil {
			if p.ownsCache {
				_ = p.cache.Close()
			}
			return nil, fmt.Errorf("plugin: connect store: %w", err)
		}
		p.store = st
		p.ownsStore = true
	}
	if p.hostVer == nil {
		p.hostReader = hostversion.New(cfg.HostVersionPath, o.logger)
		p.hostVer = p.hostReader.Version
	}
	p.collector = collect.New(p.store, p.cache, p.clock, p.hostVer, o.logger)

	p.logger.Info("plugin.initialized", "version", version.Current())
	return p, nil
}

// Server returns the local listener instance, or nil when this worker does
// not own one.
func (p *Plugin) Server() *MetricsServer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.server
}

// Close stops any local listener and releases every owned resource. The
// election lock, if held, releases with it.
func (p *Plugin) Close(ctx context.Context) error {
	p.mu.Lock()
	server := p.server
	lock := p.electionLock
	p.server = nil
	p.electionLock = nil
	p.mu.Unlock()

	var errs []error
	if server != nil && server.Running() {
		if err := server.Stop(ctx); err != nil && !errors.Is(err, ErrNotRunning) {
			errs = append(errs, err)
		}
	}
	if lock != nil {
		if err := lock.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if p.hostReader != nil {
		if err := p.hostReader.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if p.ownsCache {
		if err := p.cache.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if p.ownsStore {
		p.store.Close()
	}
	return errors.Join(errs...)
}

// loadSettings reads the host's persisted plugin settings; a missing row
// yields the defaults.
func (p *Plugin) loadSettings(ctx context.Context) (Settings, error) {
	cfg, err := p.store.PluginConfig(ctx, api.PluginKey)
	if errors.Is(err, store.ErrNotFound) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return Settings{}, err
	}
	return ParseSettings(cfg.Settings)
}

func (p *Plugin) toggles(settings Settings) collect.Toggles {
	return collect.Toggles{
		M3U:            settings.IncludeM3UStats,
		EPG:            settings.IncludeEPGStats,
		VOD:            settings.IncludeVODStats,
		Clients:        settings.IncludeClientStats,
		SourceURLs:     settings.IncludeSourceURLs,
		Legacy:         settings.IncludeLegacyMetrics,
		SettingsLabels: settings.MetricLabels(),
	}
}

// startListener builds the HTTP surface for the supplied settings, binds it,
// and records it as this worker's listener. Double-starts anywhere in the
// fleet surface as ErrAlreadyRunning.
func (p *Plugin) startListener(ctx context.Context, settings Settings) error {
	p.mu.Lock()
	if p.server != nil && p.server.Running() {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	p.mu.Unlock()

	toggles := p.toggles(settings)
	handler := httpapi.NewHandler(httpapi.Config{
		Render: func(ctx context.Context) ([]byte, error) {
			return p.collector.Render(ctx, toggles)
		},
		HostVersion:        p.hostVer,
		ExporterVersion:    version.Current(),
		Endpoint:           settings.Endpoint(),
		Settings:           settings.MetricLabels(),
		BaseURL:            settings.BaseURL,
		SuppressAccessLogs: settings.SuppressAccessLogs,
		Tracing:            p.cfg.OTLPEndpoint != "",
		Logger:             p.logger,
		Now:                p.clock.Now,
	})
	server := NewMetricsServer(settings, handler, p.cache, p.clock, p.cfg.LockFilePath, p.cfg.PollInterval, p.logger)
	if err := server.Start(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	p.server = server
	p.mu.Unlock()
	return nil
}

// Run dispatches one host-invoked action. It never returns a Go error;
// failures travel in the result's status and message.
func (p *Plugin) Run(ctx context.Context, action string, params map[string]any) api.ActionResult {
	p.logger.Debug("plugin.action.dispatch", "action", action)
	switch action {
	case api.ActionStartServer:
		return p.actionStart(ctx)
	case api.ActionStopServer:
		return p.actionStop(ctx)
	case api.ActionRestartServer:
		return p.actionRestart(ctx)
	case api.ActionServerStatus:
		return p.actionStatus(ctx)
	case api.ActionCheckForUpdates:
		return p.actionCheckForUpdates(ctx)
	default:
		return api.Error(fmt.Sprintf("Unknown action: %s", action))
	}
}

func (p *Plugin) actionStart(ctx context.Context) api.ActionResult {
	settings, err := p.loadSettings(ctx)
	if err != nil {
		return api.Error(fmt.Sprintf("Failed to load settings: %v", err))
	}

	if running, host, port := p.peerState(ctx); running {
		return api.Error(fmt.Sprintf("Metrics server is already running on http://%s:%s/metrics", host, port))
	}
	if local := p.Server(); local != nil && local.Running() {
		return api.Error(fmt.Sprintf("Metrics server is already running on %s", local.Settings().Endpoint()))
	}

	if err := p.startListener(ctx, settings); err != nil {
		switch {
		case errors.Is(err, ErrAlreadyRunning):
			return api.Error("Metrics server is already running")
		case errors.Is(err, ErrPortInUse):
			return api.Error(fmt.Sprintf("Failed to start metrics server: port %d is already in use", settings.Port))
		default:
			return api.Error(fmt.Sprintf("Failed to start server: %v", err))
		}
	}

	result := api.Success("Metrics server started successfully")
	result.Endpoint = settings.Endpoint()
	result.HealthCheck = settings.HealthURL()
	result.Note = "Metrics are generated fresh on each Prometheus scrape request"
	return result
}

func (p *Plugin) actionStop(ctx context.Context) api.ActionResult {
	// Local instance first: stopping directly is immediate and confirmed.
	if local := p.Server(); local != nil && local.Running() {
		if err := local.Stop(ctx); err != nil && !errors.Is(err, ErrNotRunning) {
			return api.Error(fmt.Sprintf("Failed to stop server: %v", err))
		}
		return api.Success("Metrics server stopped successfully")
	}

	// The listener lives in another worker; request and wait.
	if err := p.requestStop(ctx); err != nil {
		return api.Error(fmt.Sprintf("Failed to signal stop: %v", err))
	}
	if err := p.waitStopped(ctx); err != nil {
		return api.Warning(fmt.Sprintf("Stop signal sent, but server did not confirm shutdown within %s", p.cfg.StopWaitTimeout))
	}
	return api.Success("Metrics server stopped successfully")
}

func (p *Plugin) actionRestart(ctx context.Context) api.ActionResult {
	if local := p.Server(); local != nil && local.Running() {
		if err := local.Stop(ctx); err != nil && !errors.Is(err, ErrNotRunning) {
			return api.Error(fmt.Sprintf("Failed to stop server: %v", err))
		}
	} else if running, _, _ := p.peerState(ctx); running {
		if err := p.requestStop(ctx); err != nil {
			return api.Error(fmt.Sprintf("Failed to signal stop: %v", err))
		}
		if err := p.waitStopped(ctx); err != nil {
			return api.Error("Server is still running after stop attempt")
		}
	}

	// Give the old listener time to finish its cleanup, then make sure the
	// one-shot stop flag is gone before the fresh start.
	p.sleep(ctx, p.cfg.SettleDelay)
	if err := p.clearStopFlag(ctx); err != nil {
		p.logger.Warn("plugin.restart.clear_stop_failed", "error", err)
	}
	p.sleep(ctx, p.cfg.SettleDelay)

	if running, _, _ := p.peerState(ctx); running {
		return api.Error("Server is still running after stop attempt")
	}

	settings, err := p.loadSettings(ctx)
	if err != nil {
		return api.Error(fmt.Sprintf("Failed to load settings: %v", err))
	}
	if err := p.startListener(ctx, settings); err != nil {
		if errors.Is(err, ErrPortInUse) {
			return api.Error("Server stopped but failed to restart: port may be in use")
		}
		return api.Error(fmt.Sprintf("Failed to restart server: %v", err))
	}

	result := api.Success("Metrics server restarted successfully")
	result.Endpoint = settings.Endpoint()
	result.HealthCheck = settings.HealthURL()
	return result
}

func (p *Plugin) actionStatus(ctx context.Context) api.ActionResult {
	running, host, port := p.peerState(ctx)
	endpoint := ""
	switch {
	case running && host != "" && port != "":
		endpoint = fmt.Sprintf("http://%s:%s/metrics", host, port)
	default:
		if local := p.Server(); local != nil && local.Running() {
			running = true
			endpoint = local.Settings().Endpoint()
		} else {
			settings, err := p.loadSettings(ctx)
			if err != nil {
				settings = DefaultSettings()
			}
			endpoint = settings.Endpoint()
		}
	}
	if running {
		return api.Success(fmt.Sprintf("Server is running on %s", endpoint))
	}
	return api.Success("Server is not running")
}

func (p *Plugin) actionCheckForUpdates(ctx context.Context) api.ActionResult {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.UpdateTimeout)
	defer cancel()
	release, err := updates.Latest(ctx, p.httpClient, p.cfg.UpdateManifestURL)
	if err != nil {
		return api.Error(fmt.Sprintf("Failed to check for updates: %v", err))
	}
	current := version.Current()
	result := api.ActionResult{
		Status:         api.StatusSuccess,
		CurrentVersion: current,
		LatestVersion:  release.TagName,
	}
	newer, err := updates.IsNewer(current, release.TagName)
	if err != nil {
		result.Message = fmt.Sprintf("Latest release is %s; running build %s could not be compared", release.TagName, current)
		return result
	}
	result.UpdateAvailable = newer
	if newer {
		result.Message = fmt.Sprintf("Update available: %s (running %s)", release.TagName, current)
		result.Note = release.HTMLURL
	} else {
		result.Message = fmt.Sprintf("Up to date (running %s)", current)
	}
	return result
}

// peerState reads the published listener triplet from the shared cache.
func (p *Plugin) peerState(ctx context.Context) (running bool, host, port string) {
	opCtx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()
	flag, err := p.cache.Get(opCtx, api.KeyServerRunning)
	if err != nil || flag != api.FlagTrue {
		return false, "", ""
	}
	if h, err := p.cache.Get(opCtx, api.KeyServerHost); err == nil {
		host = h
	}
	if pt, err := p.cache.Get(opCtx, api.KeyServerPort); err == nil {
		port = pt
	}
	if host == "" {
		host = DefaultHost
	}
	if port == "" {
		port = strconv.Itoa(DefaultPort)
	}
	return true, host, port
}

func (p *Plugin) requestStop(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()
	return p.cache.Set(opCtx, api.KeyStopRequested, api.FlagTrue)
}

func (p *Plugin) clearStopFlag(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()
	return p.cache.Delete(opCtx, api.KeyStopRequested)
}

// waitStopped polls for the running flag to clear. ErrStopUnconfirmed means
// the timeout elapsed; the protocol can only request, not force.
func (p *Plugin) waitStopped(ctx context.Context) error {
	deadline := p.clock.Now().Add(p.cfg.StopWaitTimeout)
	for {
		opCtx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
		flag, err := p.cache.Get(opCtx, api.KeyServerRunning)
		cancel()
		if errors.Is(err, cache.ErrNotFound) || (err == nil && flag != api.FlagTrue) {
			return nil
		}
		if !p.clock.Now().Before(deadline) {
			return ErrStopUnconfirmed
		}
		if !p.sleep(ctx, p.cfg.StopPollInterval) {
			return ErrStopUnconfirmed
		}
	}
}
