package exporter

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// DefaultPort is the listener TCP port when the host has not saved one.
	DefaultPort = 9192
	// DefaultHost is the listener bind address when the host has not saved one.
	DefaultHost = "0.0.0.0"
)

// Settings are the host-managed plugin options. They are persisted by the
// host application in its plugin-config row and re-read on every start, so a
// worker answering an action always sees the operator's latest saved values.
type Settings struct {
	// AutoStart enables the election protocol's listener start attempt.
	AutoStart bool
	// Port is the listener TCP port.
	Port int
	// Host is the listener bind address.
	Host string
	// IncludeM3UStats toggles provider account and profile metric families.
	IncludeM3UStats bool
	// IncludeEPGStats toggles guide source metric families.
	IncludeEPGStats bool
	// IncludeVODStats toggles VOD session metric families.
	IncludeVODStats bool
	// IncludeClientStats toggles per-client connection metric families.
	IncludeClientStats bool
	// IncludeSourceURLs includes provider URLs and XC usernames in labels.
	// Leave off when sharing scrape output for troubleshooting.
	IncludeSourceURLs bool
	// IncludeLegacyMetrics additionally emits the deprecated wide-label info
	// variants so pre-migration consumers keep their series shape.
	IncludeLegacyMetrics bool
	// SuppressAccessLogs mutes per-request access logging on the listener.
	SuppressAccessLogs bool
	// BaseURL, when set, makes the status page render absolute asset URLs.
	BaseURL string
}

// DefaultSettings returns the option values used when the host has never
// saved a plugin config row.
func DefaultSettings() Settings {
	return Settings{
		AutoStart:          false,
		Port:               DefaultPort,
		Host:               DefaultHost,
		IncludeM3UStats:    true,
		SuppressAccessLogs: true,
	}
}

// ParseSettings decodes a host-persisted settings map into Settings, applying
// defaults for absent keys. The host UI serializes values loosely, so bools
// may arrive as strings and numbers as floats; all of those are accepted.
func ParseSettings(raw map[string]any) (Settings, error) {
	s := DefaultSettings()
	if raw == nil {
		return s, nil
	}
	var err error
	if s.AutoStart, err = settingBool(raw, "auto_start", s.AutoStart); err != nil {
		return s, err
	}
	if s.Port, err = settingInt(raw, "port", s.Port); err != nil {
		return s, err
	}
	if s.Port < 1 || s.Port > 65535 {
		return s, fmt.Errorf("settings: port %d out of range", s.Port)
	}
	if s.Host, err = settingString(raw, "host", s.Host); err != nil {
		return s, err
	}
	if s.IncludeM3UStats, err = settingBool(raw, "include_m3u_stats", s.IncludeM3UStats); err != nil {
		return s, err
	}
	if s.IncludeEPGStats, err = settingBool(raw, "include_epg_stats", s.IncludeEPGStats); err != nil {
		return s, err
	}
	if s.IncludeVODStats, err = settingBool(raw, "include_vod_stats", s.IncludeVODStats); err != nil {
		return s, err
	}
	if s.IncludeClientStats, err = settingBool(raw, "include_client_stats", s.IncludeClientStats); err != nil {
		return s, err
	}
	if s.IncludeSourceURLs, err = settingBool(raw, "include_source_urls", s.IncludeSourceURLs); err != nil {
		return s, err
	}
	if s.IncludeLegacyMetrics, err = settingBool(raw, "include_legacy_metrics", s.IncludeLegacyMetrics); err != nil {
		return s, err
	}
	if s.SuppressAccessLogs, err = settingBool(raw, "suppress_access_logs", s.SuppressAccessLogs); err != nil {
		return s, err
	}
	if s.BaseURL, err = settingString(raw, "base_url", s.BaseURL); err != nil {
		return s, err
	}
	s.BaseURL = strings.TrimRight(s.BaseURL, "/")
	return s, nil
}

// MetricLabels serializes the settings as label pairs for the settings echo
// metric family. Connection endpoints and the base URL are deliberately not
// echoed; only toggles and the listener address belong in metric labels.
func (s Settings) MetricLabels() map[string]string {
	return map[string]string{
		"auto_start":             strconv.FormatBool(s.AutoStart),
		"port":                   strconv.Itoa(s.Port),
		"host":                   s.Host,
		"include_m3u_stats":      strconv.FormatBool(s.IncludeM3UStats),
		"include_epg_stats":      strconv.FormatBool(s.IncludeEPGStats),
		"include_vod_stats":      strconv.FormatBool(s.IncludeVODStats),
		"include_client_stats":   strconv.FormatBool(s.IncludeClientStats),
		"include_source_urls":    strconv.FormatBool(s.IncludeSourceURLs),
		"include_legacy_metrics": strconv.FormatBool(s.IncludeLegacyMetrics),
	}
}

// Endpoint returns the scrape URL for these settings.
func (s Settings) Endpoint() string {
	return fmt.Sprintf("http://%s:%d/metrics", s.Host, s.Port)
}

// HealthURL returns the health check URL for these settings.
func (s Settings) HealthURL() string {
	return fmt.Sprintf("http://%s:%d/health", s.Host, s.Port)
}

func settingBool(raw map[string]any, key string, def bool) (bool, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return def, nil
	}
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(val))
		if err != nil {
			return def, fmt.Errorf("settings: %s: %w", key, err)
		}
		return parsed, nil
	case float64:
		return val != 0, nil
	case int:
		return val != 0, nil
	default:
		return def, fmt.Errorf("settings: %s: unsupported type %T", key, v)
	}
}

func settingInt(raw map[string]any, key string, def int) (int, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return def, nil
	}
	switch val := v.(type) {
	case float64:
		return int(val), nil
	case int:
		return val, nil
	case int64:
		return int(val), nil
	case string:
		trimmed := strings.TrimSpace(val)
		if trimmed == "" {
			return def, nil
		}
		parsed, err := strconv.Atoi(trimmed)
		if err != nil {
			return def, fmt.Errorf("settings: %s: %w", key, err)
		}
		return parsed, nil
	default:
		return def, fmt.Errorf("settings: %s: unsupported type %T", key, v)
	}
}

func settingString(raw map[string]any, key, def string) (string, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return def, nil
	}
	val, ok := v.(string)
	if !ok {
		return def, fmt.Errorf("settings: %s: unsupported type %T", key, v)
	}
	if strings.TrimSpace(val) == "" {
		return def, nil
	}
	return val, nil
}

// Field describes one operator-facing option for the host's plugin UI.
type Field struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Type    string `json:"type"`
	Default any    `json:"default"`
	Help    string `json:"help_text"`
}

// SettingsFields enumerates the options the host UI renders for this plugin,
// in display order.
var SettingsFields = []Field{
	{ID: "auto_start", Label: "Auto-Start Metrics Server", Type: "boolean", Default: false,
		Help: "Automatically start the metrics server when the plugin loads (recommended)"},
	{ID: "port", Label: "Metrics Server Port", Type: "number", Default: DefaultPort,
		Help: "Port for the metrics HTTP server"},
	{ID: "host", Label: "Metrics Server Host", Type: "string", Default: DefaultHost,
		Help: "Host address to bind to (0.0.0.0 for all interfaces, 127.0.0.1 for localhost only)"},
	{ID: "include_m3u_stats", Label: "Include M3U Account Statistics", Type: "boolean", Default: true,
		Help: "Include M3U account and profile metrics in the output"},
	{ID: "include_epg_stats", Label: "Include EPG Source Statistics", Type: "boolean", Default: false,
		Help: "Include EPG source and status metrics in the output"},
	{ID: "include_vod_stats", Label: "Include VOD Statistics", Type: "boolean", Default: false,
		Help: "Include VOD session and stream metrics in the output"},
	{ID: "include_client_stats", Label: "Include Client Statistics", Type: "boolean", Default: false,
		Help: "Include per-client connection metrics in the output"},
	{ID: "include_source_urls", Label: "Include Provider/Source Information", Type: "boolean", Default: false,
		Help: "Include server URLs & XC usernames in M3U account and EPG source metrics. Ensure this is DISABLED if sharing output for troubleshooting."},
	{ID: "include_legacy_metrics", Label: "Include Legacy Metric Formats", Type: "boolean", Default: false,
		Help: "Also emit the deprecated wide-label info metrics alongside the normalized gauges"},
	{ID: "suppress_access_logs", Label: "Suppress Access Logs", Type: "boolean", Default: true,
		Help: "Mute per-request access logging on the metrics listener"},
	{ID: "base_url", Label: "Base URL", Type: "string", Default: "",
		Help: "When set, the status page renders absolute asset URLs under this base"},
}
