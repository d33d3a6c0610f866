// Package api defines the coordination contract shared by every worker that
// embeds the exporter: the cache keys used to agree on who owns the listener,
// the action names accepted by the plugin, and the result envelope handed
// back to the host. Values here are wire format; changing one is a breaking
// change for mixed-version worker fleets.
package api

// KeyPrefix namespaces every coordination key in the shared cache.
const KeyPrefix = "prometheus_exporter:"

const (
	// KeyServerRunning is set to FlagTrue while a worker holds a bound listener.
	KeyServerRunning = KeyPrefix + "server_running"
	// KeyServerHost records the host the running listener is bound to.
	KeyServerHost = KeyPrefix + "server_host"
	// KeyServerPort records the port the running listener is bound to.
	KeyServerPort = KeyPrefix + "server_port"
	// KeyStopRequested signals the owning worker to shut the listener down.
	KeyStopRequested = KeyPrefix + "stop_requested"
	// KeyAutostartCompleted marks that one auto-start election already ran for
	// this deployment, so restarted workers do not elect again.
	KeyAutostartCompleted = KeyPrefix + "autostart_completed"
)

// FlagTrue is the value stored under boolean coordination keys.
const FlagTrue = "1"

// PluginKey is the row key the host uses for this plugin's persisted config.
const PluginKey = "prometheus_exporter"

// DefaultLockFilePath is the advisory lock file used as the same-host
// tiebreaker during auto-start elections.
const DefaultLockFilePath = "/tmp/prometheus_exporter_autostart.lock"

const (
	// ActionStartServer starts the metrics listener on the receiving worker.
	ActionStartServer = "start_server"
	// ActionStopServer stops the listener, locally or via the shared cache.
	ActionStopServer = "stop_server"
	// ActionRestartServer stops any running listener and starts a fresh one.
	ActionRestartServer = "restart_server"
	// ActionServerStatus reports whether a listener is running and where.
	ActionServerStatus = "server_status"
	// ActionCheckForUpdates compares the running build against the latest release.
	ActionCheckForUpdates = "check_for_updates"
)

const (
	// StatusSuccess marks an action that completed as requested.
	StatusSuccess = "success"
	// StatusWarning marks an action that completed with a caveat the operator
	// should read (for example an unconfirmed cross-worker stop).
	StatusWarning = "warning"
	// StatusError marks an action that failed; Message carries the reason.
	StatusError = "error"
)

// ActionResult is the envelope every action returns to the host UI. Actions
// never surface Go errors across the host boundary; failures travel in
// Status and Message instead.
type ActionResult struct {
	// Status is one of StatusSuccess, StatusWarning, StatusError.
	Status string `json:"status"`
	// Message is the operator-facing summary of what happened.
	Message string `json:"message"`
	// Endpoint is the scrape URL when a listener is running.
	Endpoint string `json:"endpoint,omitempty"`
	// HealthCheck is the health URL when a listener is running.
	HealthCheck string `json:"health_check,omitempty"`
	// Note carries supplementary detail (freshness caveats, stale-state hints).
	Note string `json:"note,omitempty"`
	// CurrentVersion is the running build version (check_for_updates).
	CurrentVersion string `json:"current_version,omitempty"`
	// LatestVersion is the newest published release (check_for_updates).
	LatestVersion string `json:"latest_version,omitempty"`
	// UpdateAvailable reports whether LatestVersion is newer than CurrentVersion.
	UpdateAvailable bool `json:"update_available,omitempty"`
}

// Success builds a StatusSuccess result with the supplied message.
func Success(message string) ActionResult {
	return ActionResult{Status: StatusSuccess, Message: message}
}

// Warning builds a StatusWarning result with the supplied message.
func Warning(message string) ActionResult {
	return ActionResult{Status: StatusWarning, Message: message}
}

// Error builds a StatusError result with the supplied message.
func Error(message string) ActionResult {
	return ActionResult{Status: StatusError, Message: message}
}
