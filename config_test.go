package exporter

import (
	"testing"
	"time"

	"github.com/dispatcharr/exporter/api"
)

func TestConfigValidateAppliesDefaults(t *testing.T) {
	t.Parallel()

	var cfg Config
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.PostgresDSN != DefaultPostgresDSN {
		t.Fatalf("PostgresDSN = %q", cfg.PostgresDSN)
	}
	if cfg.RedisURL != DefaultRedisURL {
		t.Fatalf("RedisURL = %q", cfg.RedisURL)
	}
	if cfg.LockFilePath != api.DefaultLockFilePath {
		t.Fatalf("LockFilePath = %q", cfg.LockFilePath)
	}
	if cfg.StartupDelay != DefaultStartupDelay {
		t.Fatalf("StartupDelay = %s", cfg.StartupDelay)
	}
	if cfg.MaxStartRetries != DefaultMaxStartRetries {
		t.Fatalf("MaxStartRetries = %d", cfg.MaxStartRetries)
	}
	if cfg.StopWaitTimeout != DefaultStopWaitTimeout {
		t.Fatalf("StopWaitTimeout = %s", cfg.StopWaitTimeout)
	}
	if cfg.UpdateManifestURL == "" {
		t.Fatal("UpdateManifestURL not defaulted")
	}
}

func TestConfigValidateKeepsExplicitValues(t *testing.T) {
	t.Parallel()

	cfg := Config{
		StartupDelay:    time.Millisecond,
		MaxStartRetries: 2,
		RetryDelay:      time.Millisecond,
		StopWaitTimeout: 50 * time.Millisecond,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.StartupDelay != time.Millisecond {
		t.Fatalf("StartupDelay overwritten: %s", cfg.StartupDelay)
	}
	if cfg.MaxStartRetries != 2 {
		t.Fatalf("MaxStartRetries overwritten: %d", cfg.MaxStartRetries)
	}
}

func TestConfigValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	cfg := Config{StartupDelay: -time.Second}
	if err := cfg.Validate(); err == nil {
		t.Fatal("negative startup delay accepted")
	}

	cfg = Config{StopWaitTimeout: time.Millisecond, StopPollInterval: time.Second}
	if err := cfg.Validate(); err == nil {
		t.Fatal("poll interval above wait timeout accepted")
	}
}
