// Package collect gathers operational state from the host application's
// database and shared cache and renders it as Prometheus exposition text.
//
// Rendering is two-phase: a snapshot gathers all backing data with each
// sub-collector guarded independently, then snapshot-bound collectors emit
// const metrics into a fresh registry whose gathered output is deterministic
// for a fixed snapshot. A failing sub-collector drops only its own families.
package collect

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"pkt.systems/pslog"

	"github.com/dispatcharr/exporter/internal/cache"
	"github.com/dispatcharr/exporter/internal/clock"
	"github.com/dispatcharr/exporter/internal/logfields"
	"github.com/dispatcharr/exporter/internal/store"
	"github.com/dispatcharr/exporter/internal/version"
)

// Toggles selects which optional families a scrape renders and how labels
// are shaped. It is derived from the host-managed settings by the caller.
type Toggles struct {
	M3U     bool
	EPG     bool
	VOD     bool
	Clients bool
	// SourceURLs includes provider URLs and usernames in info labels.
	SourceURLs bool
	// Legacy restores the deprecated wide-label info shapes.
	Legacy bool
	// SettingsLabels is the label echo for the settings info family.
	SettingsLabels map[string]string
}

// Collector renders scrapes. Safe for concurrent use; every scrape builds
// its own snapshot and registry.
type Collector struct {
	store       store.Store
	cache       cache.Cache
	clock       clock.Clock
	hostVersion func() string
	logger      pslog.Logger
	tracer      trace.Tracer
}

// New builds a Collector. hostVersion supplies the host application's
// version string per scrape; nil renders "unknown".
func New(st store.Store, ca cache.Cache, clk clock.Clock, hostVersion func() string, logger pslog.Logger) *Collector {
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	if hostVersion == nil {
		hostVersion = func() string { return "unknown" }
	}
	return &Collector{
		store:       st,
		cache:       ca,
		clock:       clk,
		hostVersion: hostVersion,
		logger:      logfields.WithComponent(logger, "collect"),
		tracer:      otel.Tracer("github.com/dispatcharr/exporter/collect"),
	}
}

// Render produces one full exposition document for the supplied toggles.
// Families are separated by a blank line; series order is deterministic for
// a fixed snapshot.
func (c *Collector) Render(ctx context.Context, toggles Toggles) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "exporter.scrape", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	begin := time.Now()
	snap := c.snapshot(ctx, toggles)
	elapsed := time.Since(begin)
	span.SetAttributes(
		attribute.Int("exporter.scrape.failed_families", len(snap.FailedFamilies)),
		attribute.Int64("exporter.scrape.gather_ms", elapsed.Milliseconds()),
	)

	sc := &snapshotCollector{
		snap:             snap,
		toggles:          toggles,
		exporterVersion:  version.Current(),
		goVersion:        runtime.Version(),
		settingsLabels:   toggles.SettingsLabels,
		legacy:           toggles.Legacy,
		includeURLs:      toggles.SourceURLs,
		scrapeDuration:   elapsed,
		scrapeErrorCount: len(snap.FailedFamilies),
	}
	registry := prometheus.NewRegistry()
	if err := registry.Register(sc); err != nil {
		span.SetStatus(codes.Error, "register")
		return nil, fmt.Errorf("collect: register snapshot collector: %w", err)
	}
	families, err := registry.Gather()
	if err != nil {
		span.SetStatus(codes.Error, "gather")
		return nil, fmt.Errorf("collect: gather: %w", err)
	}

	var buf bytes.Buffer
	for i, family := range families {
		if i > 0 {
			buf.WriteByte('\n')
		}
		if _, err := expfmt.MetricFamilyToText(&buf, family); err != nil {
			span.SetStatus(codes.Error, "encode")
			return nil, fmt.Errorf("collect: encode %s: %w", family.GetName(), err)
		}
	}

	c.logger.Debug("collect.scrape.rendered",
		"families", len(families),
		"failed_families", len(snap.FailedFamilies),
		"elapsed", elapsed,
	)
	span.SetStatus(codes.Ok, "")
	return buf.Bytes(), nil
}
