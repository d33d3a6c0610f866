// Package httpapi serves the exporter's HTTP surface: the Prometheus
// exposition endpoint, a health probe, and a small HTML status page.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"pkt.systems/pslog"

	"github.com/dispatcharr/exporter/internal/logfields"
)

// expositionContentType is the Prometheus text exposition format version the
// renderer produces.
const expositionContentType = "text/plain; version=0.0.4; charset=utf-8"

// Config wires a Handler. Render is the only required field.
type Config struct {
	// Render produces one full exposition document per scrape.
	Render func(ctx context.Context) ([]byte, error)
	// HostVersion reports the host application version for the status page.
	HostVersion func() string
	// ExporterVersion is this build's version string.
	ExporterVersion string
	// Endpoint is the operator-facing scrape URL shown on the status page.
	Endpoint string
	// Settings is the active settings echo rendered on the status page.
	Settings map[string]string
	// BaseURL, when set, prefixes status-page links.
	BaseURL string
	// SuppressAccessLogs demotes per-request logs to trace level.
	SuppressAccessLogs bool
	// Tracing wraps the handler in OpenTelemetry HTTP instrumentation.
	Tracing bool
	Logger  pslog.Logger
	// Now supplies time for uptime reporting; nil uses the wall clock.
	Now func() time.Time
}

type handler struct {
	cfg       Config
	logger    pslog.Logger
	startedAt time.Time
	now       func() time.Time
}

// NewHandler builds the exporter's HTTP handler with access logging and,
// when enabled, tracing middleware applied.
func NewHandler(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	h := &handler{
		cfg:       cfg,
		logger:    logfields.WithComponent(logger, "httpapi"),
		startedAt: now(),
		now:       now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", h.handleMetrics)
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/", h.handleIndex)

	var wrapped http.Handler = mux
	wrapped = h.accessLog(wrapped)
	if cfg.Tracing {
		wrapped = otelhttp.NewHandler(wrapped, "exporter.http")
	}
	return wrapped
}

// handleMetrics renders a fresh exposition document per request. Failures
// return 500 with a comment body so a scrape never caches stale output.
func (h *handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := h.cfg.Render(r.Context())
	if err != nil {
		h.logger.Warn("httpapi.metrics.render_failed", "error", err)
		w.Header().Set("Content-Type", expositionContentType)
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, "# ERROR: %v\n", err)
		return
	}
	w.Header().Set("Content-Type", expositionContentType)
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(body)
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK\n"))
}

func (h *handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("Not Found\n"))
		return
	}
	h.renderStatusPage(w)
}
