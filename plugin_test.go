package exporter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dispatcharr/exporter/api"
	"github.com/dispatcharr/exporter/internal/cache"
	cachememory "github.com/dispatcharr/exporter/internal/cache/memory"
	storememory "github.com/dispatcharr/exporter/internal/store/memory"
)

func TestActionStatusNotRunning(t *testing.T) {
	t.Parallel()

	p := newTestPlugin(t, cachememory.New(), storememory.New())
	result := p.Run(context.Background(), api.ActionServerStatus, nil)
	if result.Status != api.StatusSuccess {
		t.Fatalf("status = %q: %s", result.Status, result.Message)
	}
	if result.Message != "Server is not running" {
		t.Fatalf("message = %q", result.Message)
	}
}

func TestActionStartStopLifecycle(t *testing.T) {
	t.Parallel()

	ca := cachememory.New()
	st := storememory.New()
	port := freePort(t)
	st.SetPluginSettings(api.PluginKey, true, map[string]any{
		"host": "127.0.0.1",
		"port": float64(port),
	})
	p := newTestPlugin(t, ca, st)

	result := p.Run(context.Background(), api.ActionStartServer, nil)
	if result.Status != api.StatusSuccess {
		t.Fatalf("start: %q %s", result.Status, result.Message)
	}
	if !strings.Contains(result.Endpoint, "/metrics") {
		t.Fatalf("endpoint = %q", result.Endpoint)
	}
	server := p.Server()
	if server == nil || !server.Running() {
		t.Fatal("no running listener after start action")
	}

	result = p.Run(context.Background(), api.ActionStartServer, nil)
	if result.Status != api.StatusError {
		t.Fatalf("second start: %q %s", result.Status, result.Message)
	}
	if !strings.Contains(result.Message, "already running") {
		t.Fatalf("second start message = %q", result.Message)
	}

	result = p.Run(context.Background(), api.ActionServerStatus, nil)
	if result.Status != api.StatusSuccess || !strings.Contains(result.Message, "running on") {
		t.Fatalf("status: %q %s", result.Status, result.Message)
	}

	result = p.Run(context.Background(), api.ActionStopServer, nil)
	if result.Status != api.StatusSuccess {
		t.Fatalf("stop: %q %s", result.Status, result.Message)
	}
	if server.Running() {
		t.Fatal("listener still running after stop action")
	}
	if _, err := ca.Get(context.Background(), api.KeyServerRunning); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("server_running survived stop: %v", err)
	}
}

func TestActionStopCrossWorkerTimesOut(t *testing.T) {
	t.Parallel()

	ca := cachememory.New()
	if err := ca.Set(context.Background(), api.KeyServerRunning, api.FlagTrue); err != nil {
		t.Fatalf("seed flag: %v", err)
	}
	p := newTestPlugin(t, ca, storememory.New())

	result := p.Run(context.Background(), api.ActionStopServer, nil)
	if result.Status != api.StatusWarning {
		t.Fatalf("status = %q: %s", result.Status, result.Message)
	}
	if !strings.Contains(result.Message, "did not confirm shutdown") {
		t.Fatalf("message = %q", result.Message)
	}
	// The request itself must have been published for the owning worker.
	flag, err := ca.Get(context.Background(), api.KeyStopRequested)
	if err != nil || flag != api.FlagTrue {
		t.Fatalf("stop_requested = %q, %v", flag, err)
	}
}

func TestActionStopCrossWorkerConfirmed(t *testing.T) {
	t.Parallel()

	ca := cachememory.New()
	if err := ca.Set(context.Background(), api.KeyServerRunning, api.FlagTrue); err != nil {
		t.Fatalf("seed flag: %v", err)
	}
	p := newTestPlugin(t, ca, storememory.New())

	// Simulate the owning worker reacting to the stop request.
	go func() {
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			if flag, err := ca.Get(context.Background(), api.KeyStopRequested); err == nil && flag == api.FlagTrue {
				_ = ca.Delete(context.Background(), api.KeyServerRunning)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	result := p.Run(context.Background(), api.ActionStopServer, nil)
	if result.Status != api.StatusSuccess {
		t.Fatalf("status = %q: %s", result.Status, result.Message)
	}
}

func TestActionRestartLocalListener(t *testing.T) {
	t.Parallel()

	ca := cachememory.New()
	st := storememory.New()
	st.SetPluginSettings(api.PluginKey, true, map[string]any{
		"host": "127.0.0.1",
		"port": float64(freePort(t)),
	})
	p := newTestPlugin(t, ca, st)

	if result := p.Run(context.Background(), api.ActionStartServer, nil); result.Status != api.StatusSuccess {
		t.Fatalf("start: %q %s", result.Status, result.Message)
	}
	first := p.Server()

	result := p.Run(context.Background(), api.ActionRestartServer, nil)
	if result.Status != api.StatusSuccess {
		t.Fatalf("restart: %q %s", result.Status, result.Message)
	}
	second := p.Server()
	if second == nil || !second.Running() {
		t.Fatal("no running listener after restart")
	}
	if first == second {
		t.Fatal("restart reused the old listener instance")
	}
	if _, err := ca.Get(context.Background(), api.KeyStopRequested); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("stop_requested survived restart: %v", err)
	}
}

func TestActionUnknown(t *testing.T) {
	t.Parallel()

	p := newTestPlugin(t, cachememory.New(), storememory.New())
	result := p.Run(context.Background(), "reticulate_splines", nil)
	if result.Status != api.StatusError {
		t.Fatalf("status = %q", result.Status)
	}
	if !strings.Contains(result.Message, "Unknown action") {
		t.Fatalf("message = %q", result.Message)
	}
}

func TestActionCheckForUpdates(t *testing.T) {
	t.Parallel()

	manifest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tag_name":"v99.0.0","name":"v99.0.0","html_url":"https://example.test/releases/v99.0.0"}`))
	}))
	defer manifest.Close()

	cfg := Config{
		LockFilePath:      filepath.Join(t.TempDir(), "election.lock"),
		UpdateManifestURL: manifest.URL,
	}
	p, err := NewPlugin(context.Background(), cfg,
		WithCache(cachememory.New()),
		WithStore(storememory.New()),
		WithHostVersion(func() string { return "0.0.0-test" }),
		WithHTTPClient(manifest.Client()),
	)
	if err != nil {
		t.Fatalf("NewPlugin: %v", err)
	}
	defer p.Close(context.Background())

	result := p.Run(context.Background(), api.ActionCheckForUpdates, nil)
	if result.Status != api.StatusSuccess {
		t.Fatalf("status = %q: %s", result.Status, result.Message)
	}
	if result.LatestVersion != "v99.0.0" {
		t.Fatalf("latest = %q", result.LatestVersion)
	}
	if !result.UpdateAvailable {
		t.Fatalf("update not flagged: %s", result.Message)
	}
}
