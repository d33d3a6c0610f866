package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testHandler(render func(ctx context.Context) ([]byte, error)) http.Handler {
	return NewHandler(Config{
		Render:          render,
		HostVersion:     func() string { return "0.19.0" },
		ExporterVersion: "v1.2.3",
		Endpoint:        "http://127.0.0.1:9192/metrics",
	})
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	exposition := "# HELP dispatcharr_channels Total number of channels\ndispatcharr_channels{status=\"total\"} 3\n"
	h := testHandler(func(context.Context) ([]byte, error) {
		return []byte(exposition), nil
	})

	rec := get(t, h, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != expositionContentType {
		t.Fatalf("content type = %q", got)
	}
	if rec.Body.String() != exposition {
		t.Fatalf("body = %q", rec.Body.String())
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("no request id header")
	}
}

func TestMetricsHeadOmitsBody(t *testing.T) {
	t.Parallel()

	h := testHandler(func(context.Context) ([]byte, error) {
		return []byte("dispatcharr_channels 3\n"), nil
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("HEAD body = %q", rec.Body.String())
	}
}

func TestMetricsRejectsWrites(t *testing.T) {
	t.Parallel()

	h := testHandler(func(context.Context) ([]byte, error) {
		return nil, errors.New("must not be called")
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/metrics", strings.NewReader("x")))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMetricsRenderFailure(t *testing.T) {
	t.Parallel()

	h := testHandler(func(context.Context) ([]byte, error) {
		return nil, errors.New("database gone")
	})
	rec := get(t, h, "/metrics")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.HasPrefix(string(body), "# ERROR: ") {
		t.Fatalf("body = %q", body)
	}
	if !strings.Contains(string(body), "database gone") {
		t.Fatalf("error not surfaced: %q", body)
	}
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	h := testHandler(func(context.Context) ([]byte, error) { return nil, nil })
	rec := get(t, h, "/health")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK\n" {
		t.Fatalf("health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestStatusPage(t *testing.T) {
	t.Parallel()

	h := testHandler(func(context.Context) ([]byte, error) { return nil, nil })
	rec := get(t, h, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/html; charset=utf-8" {
		t.Fatalf("content type = %q", got)
	}
	body := rec.Body.String()
	for _, want := range []string{"v1.2.3", "0.19.0", "http://127.0.0.1:9192/metrics", `href="/metrics"`, `href="/health"`} {
		if !strings.Contains(body, want) {
			t.Fatalf("status page missing %q:\n%s", want, body)
		}
	}
}

func TestStatusPageSettings(t *testing.T) {
	t.Parallel()

	h := NewHandler(Config{
		Render:   func(context.Context) ([]byte, error) { return nil, nil },
		Settings: map[string]string{"include_vod_stats": "false", "auto_start": "true"},
	})
	rec := get(t, h, "/")
	body := rec.Body.String()
	for _, want := range []string{"auto_start", "include_vod_stats"} {
		if !strings.Contains(body, want) {
			t.Fatalf("settings table missing %q:\n%s", want, body)
		}
	}
	if strings.Index(body, "auto_start") > strings.Index(body, "include_vod_stats") {
		t.Fatal("settings not sorted by name")
	}
}

func TestStatusPageBaseURL(t *testing.T) {
	t.Parallel()

	h := NewHandler(Config{
		Render:  func(context.Context) ([]byte, error) { return nil, nil },
		BaseURL: "/exporter",
	})
	rec := get(t, h, "/")
	body := rec.Body.String()
	if !strings.Contains(body, `href="/exporter/metrics"`) {
		t.Fatalf("base url not applied:\n%s", body)
	}
}

func TestUnknownPath(t *testing.T) {
	t.Parallel()

	h := testHandler(func(context.Context) ([]byte, error) { return nil, nil })
	rec := get(t, h, "/nope")
	if rec.Code != http.StatusNotFound || rec.Body.String() != "Not Found\n" {
		t.Fatalf("unknown path = %d %q", rec.Code, rec.Body.String())
	}
}
