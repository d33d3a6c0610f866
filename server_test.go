package exporter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/dispatcharr/exporter/api"
	"github.com/dispatcharr/exporter/internal/cache"
	cachememory "github.com/dispatcharr/exporter/internal/cache/memory"
	"github.com/dispatcharr/exporter/internal/clock"
)

func testSettings() Settings {
	s := DefaultSettings()
	s.Host = "127.0.0.1"
	s.Port = 0 // ephemeral
	return s
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})
}

func TestServerStartPublishesAndServes(t *testing.T) {
	t.Parallel()

	ca := cachememory.New()
	srv := NewMetricsServer(testSettings(), okHandler(), ca, nil, "", time.Second, nil)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Stop(context.Background())

	if !srv.Running() {
		t.Fatal("server not running after Start")
	}
	flag, err := ca.Get(context.Background(), api.KeyServerRunning)
	if err != nil || flag != api.FlagTrue {
		t.Fatalf("server_running = %q, %v", flag, err)
	}
	if _, err := ca.Get(context.Background(), api.KeyServerHost); err != nil {
		t.Fatalf("server_host missing: %v", err)
	}
	if _, err := ca.Get(context.Background(), api.KeyServerPort); err != nil {
		t.Fatalf("server_port missing: %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr().String() + "/")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "ok\n" {
		t.Fatalf("GET = %d %q", resp.StatusCode, body)
	}
}

func TestServerDoubleStartFails(t *testing.T) {
	t.Parallel()

	srv := NewMetricsServer(testSettings(), okHandler(), cachememory.New(), nil, "", time.Second, nil)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Stop(context.Background())

	if err := srv.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start = %v, want ErrAlreadyRunning", err)
	}
}

func TestServerStartRespectsPeerFlag(t *testing.T) {
	t.Parallel()

	ca := cachememory.New()
	if err := ca.Set(context.Background(), api.KeyServerRunning, api.FlagTrue); err != nil {
		t.Fatalf("seed flag: %v", err)
	}
	srv := NewMetricsServer(testSettings(), okHandler(), ca, nil, "", time.Second, nil)
	if err := srv.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("Start with peer flag = %v, want ErrAlreadyRunning", err)
	}
	if srv.Running() {
		t.Fatal("server running despite peer flag")
	}
}

func TestServerStopClearsCoordinationKeys(t *testing.T) {
	t.Parallel()

	ca := cachememory.New()
	srv := NewMetricsServer(testSettings(), okHandler(), ca, nil, "", time.Second, nil)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := ca.Set(context.Background(), api.KeyStopRequested, api.FlagTrue); err != nil {
		t.Fatalf("seed stop flag: %v", err)
	}
	if err := srv.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	for _, key := range []string{api.KeyServerRunning, api.KeyServerHost, api.KeyServerPort, api.KeyStopRequested} {
		if _, err := ca.Get(context.Background(), key); !errors.Is(err, cache.ErrNotFound) {
			t.Fatalf("key %s survived Stop: %v", key, err)
		}
	}
	if err := srv.Stop(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("second Stop = %v, want ErrNotRunning", err)
	}
}

func TestServerMonitorHonorsStopRequest(t *testing.T) {
	t.Parallel()

	ca := cachememory.New()
	clk := clock.NewManual(time.Unix(1700000000, 0))
	srv := NewMetricsServer(testSettings(), okHandler(), ca, clk, "", time.Second, nil)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Let the monitor register its first poll wait before requesting the stop.
	waitFor(t, time.Second, time.Millisecond, func() bool { return clk.Waiting() > 0 })
	if err := ca.Set(context.Background(), api.KeyStopRequested, api.FlagTrue); err != nil {
		t.Fatalf("set stop flag: %v", err)
	}
	clk.Advance(time.Second)

	waitFor(t, time.Second, time.Millisecond, func() bool { return !srv.Running() })
	if _, err := ca.Get(context.Background(), api.KeyServerRunning); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("server_running survived monitored stop: %v", err)
	}
}

func TestServerStartClearsStaleStopRequest(t *testing.T) {
	t.Parallel()

	ca := cachememory.New()
	clk := clock.NewManual(time.Unix(1700000000, 0))
	// A stop requested while nothing was running would otherwise linger and
	// shut the next listener down on its first poll.
	if err := ca.Set(context.Background(), api.KeyStopRequested, api.FlagTrue); err != nil {
		t.Fatalf("seed stop flag: %v", err)
	}
	srv := NewMetricsServer(testSettings(), okHandler(), ca, clk, "", time.Second, nil)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Stop(context.Background())

	if _, err := ca.Get(context.Background(), api.KeyStopRequested); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("stale stop_requested survived Start: %v", err)
	}

	// Run one monitor poll and confirm the server stays up.
	waitFor(t, time.Second, time.Millisecond, func() bool { return clk.Waiting() > 0 })
	clk.Advance(time.Second)
	waitFor(t, time.Second, time.Millisecond, func() bool { return clk.Waiting() > 0 })
	if !srv.Running() {
		t.Fatal("server stopped itself on a stale stop request")
	}
}

func TestProbePortReportsBusyPort(t *testing.T) {
	t.Parallel()

	srv := NewMetricsServer(testSettings(), okHandler(), cachememory.New(), nil, "", time.Second, nil)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Stop(context.Background())

	_, portStr, err := net.SplitHostPort(srv.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	if err := ProbePort("127.0.0.1", port); !errors.Is(err, ErrPortInUse) {
		t.Fatalf("ProbePort on bound port = %v, want ErrPortInUse", err)
	}
	if err := ProbePort("127.0.0.1", 0); err != nil {
		t.Fatalf("ProbePort on ephemeral port: %v", err)
	}
}
