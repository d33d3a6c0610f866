// Package logging decorates a cache.Cache with structured logs and tracing
// spans around every operation.
package logging

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"pkt.systems/pslog"

	"github.com/dispatcharr/exporter/internal/cache"
)

type wrapped struct {
	inner  cache.Cache
	logger pslog.Logger
	tracer trace.Tracer
}

// Wrap decorates inner with trace/debug logging and tracing spans.
func Wrap(inner cache.Cache, logger pslog.Logger) cache.Cache {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &wrapped{
		inner:  inner,
		logger: logger,
		tracer: otel.Tracer("github.com/dispatcharr/exporter/cache"),
	}
}

func (w *wrapped) start(ctx context.Context, op string) (context.Context, trace.Span, time.Time, func(error)) {
	begin := time.Now()
	ctx, span := w.tracer.Start(ctx, "exporter.cache."+op, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.String("exporter.cache.operation", op))
	return ctx, span, begin, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "cache_error")
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.SetAttributes(attribute.Int64("exporter.cache.duration_ms", time.Since(begin).Milliseconds()))
	}
}

func (w *wrapped) Get(ctx context.Context, key string) (string, error) {
	ctx, span, begin, finish := w.start(ctx, "get")
	defer span.End()

	w.logger.Trace("cache.get.begin", "key", key)
	val, err := w.inner.Get(ctx, key)
	finish(err)
	if err != nil {
		w.logger.Debug("cache.get.error", "key", key, "error", err, "elapsed", time.Since(begin))
		return val, err
	}
	w.logger.Debug("cache.get.success", "key", key, "elapsed", time.Since(begin))
	return val, nil
}

func (w *wrapped) Set(ctx context.Context, key, value string) error {
	ctx, span, begin, finish := w.start(ctx, "set")
	defer span.End()

	w.logger.Trace("cache.set.begin", "key", key)
	err := w.inner.Set(ctx, key, value)
	finish(err)
	if err != nil {
		w.logger.Debug("cache.set.error", "key", key, "error", err, "elapsed", time.Since(begin))
		return err
	}
	w.logger.Debug("cache.set.success", "key", key, "elapsed", time.Since(begin))
	return nil
}

func (w *wrapped) Delete(ctx context.Context, keys ...string) error {
	ctx, span, begin, finish := w.start(ctx, "delete")
	defer span.End()

	span.SetAttributes(attribute.Int("exporter.cache.key_count", len(keys)))
	w.logger.Trace("cache.delete.begin", "keys", len(keys))
	err := w.inner.Delete(ctx, keys...)
	finish(err)
	if err != nil {
		w.logger.Debug("cache.delete.error", "keys", len(keys), "error", err, "elapsed", time.Since(begin))
		return err
	}
	w.logger.Debug("cache.delete.success", "keys", len(keys), "elapsed", time.Since(begin))
	return nil
}

func (w *wrapped) Scan(ctx context.Context, pattern string) ([]string, error) {
	ctx, span, begin, finish := w.start(ctx, "scan")
	defer span.End()

	span.SetAttributes(attribute.String("exporter.cache.pattern", pattern))
	w.logger.Trace("cache.scan.begin", "pattern", pattern)
	keys, err := w.inner.Scan(ctx, pattern)
	finish(err)
	if err != nil {
		w.logger.Debug("cache.scan.error", "pattern", pattern, "error", err, "elapsed", time.Since(begin))
		return keys, err
	}
	span.SetAttributes(attribute.Int("exporter.cache.match_count", len(keys)))
	w.logger.Debug("cache.scan.success", "pattern", pattern, "count", len(keys), "elapsed", time.Since(begin))
	return keys, nil
}

func (w *wrapped) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	ctx, span, begin, finish := w.start(ctx, "hgetall")
	defer span.End()

	w.logger.Trace("cache.hgetall.begin", "key", key)
	fields, err := w.inner.HGetAll(ctx, key)
	finish(err)
	if err != nil {
		w.logger.Debug("cache.hgetall.error", "key", key, "error", err, "elapsed", time.Since(begin))
		return fields, err
	}
	w.logger.Debug("cache.hgetall.success", "key", key, "fields", len(fields), "elapsed", time.Since(begin))
	return fields, nil
}

func (w *wrapped) SCard(ctx context.Context, key string) (int64, error) {
	ctx, span, begin, finish := w.start(ctx, "scard")
	defer span.End()

	w.logger.Trace("cache.scard.begin", "key", key)
	n, err := w.inner.SCard(ctx, key)
	finish(err)
	if err != nil {
		w.logger.Debug("cache.scard.error", "key", key, "error", err, "elapsed", time.Since(begin))
		return n, err
	}
	w.logger.Debug("cache.scard.success", "key", key, "cardinality", n, "elapsed", time.Since(begin))
	return n, nil
}

func (w *wrapped) SMembers(ctx context.Context, key string) ([]string, error) {
	ctx, span, begin, finish := w.start(ctx, "smembers")
	defer span.End()

	w.logger.Trace("cache.smembers.begin", "key", key)
	members, err := w.inner.SMembers(ctx, key)
	finish(err)
	if err != nil {
		w.logger.Debug("cache.smembers.error", "key", key, "error", err, "elapsed", time.Since(begin))
		return members, err
	}
	w.logger.Debug("cache.smembers.success", "key", key, "members", len(members), "elapsed", time.Since(begin))
	return members, nil
}

func (w *wrapped) Ping(ctx context.Context) error {
	ctx, span, begin, finish := w.start(ctx, "ping")
	defer span.End()

	err := w.inner.Ping(ctx)
	finish(err)
	if err != nil {
		w.logger.Debug("cache.ping.error", "error", err, "elapsed", time.Since(begin))
		return err
	}
	w.logger.Trace("cache.ping.success", "elapsed", time.Since(begin))
	return nil
}

func (w *wrapped) Close() error {
	err := w.inner.Close()
	if err != nil {
		w.logger.Debug("cache.close.error", "error", err)
		return err
	}
	w.logger.Debug("cache.close.success")
	return nil
}
