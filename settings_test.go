package exporter

import (
	"strings"
	"testing"
)

func TestParseSettingsDefaults(t *testing.T) {
	t.Parallel()

	s, err := ParseSettings(nil)
	if err != nil {
		t.Fatalf("ParseSettings(nil): %v", err)
	}
	if s.Port != DefaultPort {
		t.Fatalf("Port = %d, want %d", s.Port, DefaultPort)
	}
	if s.Host != DefaultHost {
		t.Fatalf("Host = %q, want %q", s.Host, DefaultHost)
	}
	if !s.IncludeM3UStats {
		t.Fatal("IncludeM3UStats should default on")
	}
	if s.IncludeEPGStats || s.IncludeVODStats || s.IncludeClientStats {
		t.Fatal("optional stat groups should default off")
	}
	if !s.SuppressAccessLogs {
		t.Fatal("SuppressAccessLogs should default on")
	}
	if s.AutoStart {
		t.Fatal("AutoStart should default off")
	}
}

func TestParseSettingsLooseTypes(t *testing.T) {
	t.Parallel()

	// The host UI serializes settings loosely: bools as strings, ints as
	// floats.
	s, err := ParseSettings(map[string]any{
		"auto_start":        "true",
		"port":              float64(9000),
		"host":              "127.0.0.1",
		"include_epg_stats": float64(1),
		"include_m3u_stats": false,
	})
	if err != nil {
		t.Fatalf("ParseSettings: %v", err)
	}
	if !s.AutoStart {
		t.Fatal("auto_start string not parsed")
	}
	if s.Port != 9000 {
		t.Fatalf("Port = %d, want 9000", s.Port)
	}
	if s.Host != "127.0.0.1" {
		t.Fatalf("Host = %q", s.Host)
	}
	if !s.IncludeEPGStats {
		t.Fatal("include_epg_stats float not parsed")
	}
	if s.IncludeM3UStats {
		t.Fatal("include_m3u_stats override ignored")
	}
}

func TestParseSettingsRejectsBadPort(t *testing.T) {
	t.Parallel()

	if _, err := ParseSettings(map[string]any{"port": float64(70000)}); err == nil {
		t.Fatal("port out of range accepted")
	}
	if _, err := ParseSettings(map[string]any{"port": float64(0)}); err == nil {
		t.Fatal("port zero accepted")
	}
}

func TestParseSettingsTrimsBaseURL(t *testing.T) {
	t.Parallel()

	s, err := ParseSettings(map[string]any{"base_url": "https://dispatcharr.example/exporter/"})
	if err != nil {
		t.Fatalf("ParseSettings: %v", err)
	}
	if strings.HasSuffix(s.BaseURL, "/") {
		t.Fatalf("BaseURL not trimmed: %q", s.BaseURL)
	}
}

func TestSettingsEndpoints(t *testing.T) {
	t.Parallel()

	s := DefaultSettings()
	s.Host = "10.0.0.5"
	s.Port = 9100
	if got := s.Endpoint(); got != "http://10.0.0.5:9100/metrics" {
		t.Fatalf("Endpoint = %q", got)
	}
	if got := s.HealthURL(); got != "http://10.0.0.5:9100/health" {
		t.Fatalf("HealthURL = %q", got)
	}
}

func TestMetricLabelsOmitSecrets(t *testing.T) {
	t.Parallel()

	s := DefaultSettings()
	s.BaseURL = "https://dispatcharr.example"
	labels := s.MetricLabels()
	if _, ok := labels["base_url"]; ok {
		t.Fatal("base_url must not be echoed into metric labels")
	}
	if labels["port"] != "9192" {
		t.Fatalf("port label = %q", labels["port"])
	}
	if labels["include_m3u_stats"] != "true" {
		t.Fatalf("include_m3u_stats label = %q", labels["include_m3u_stats"])
	}
}
