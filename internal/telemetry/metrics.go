package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RunMetrics holds the instruments a conversion run reports on.
type RunMetrics struct {
	chunksSynthesized metric.Int64Counter
	chunksFailed      metric.Int64Counter
	retries           metric.Int64Counter
	charsSent         metric.Int64Counter
	synthSeconds      metric.Float64Histogram
}

func NewRunMetrics(log *slog.Logger) *RunMetrics {
	meter := otel.Meter("github.com/speakbooklabs/speakbook")
	m := &RunMetrics{}
	var err error
	if m.chunksSynthesized, err = meter.Int64Counter("speakbook.chunks.synthesized",
		metric.WithDescription("Chunks successfully synthesized")); err != nil {
		log.Warn("failed to create counter", slog.String("error", err.Error()))
	}
	if m.chunksFailed, err = meter.Int64Counter("speakbook.chunks.failed",
		metric.WithDescription("Chunks that exhausted their retry budget")); err != nil {
		log.Warn("failed to create counter", slog.String("error", err.Error()))
	}
	if m.retries, err = meter.Int64Counter("speakbook.synthesis.retries",
		metric.WithDescription("Retried synthesis requests")); err != nil {
		log.Warn("failed to create counter", slog.String("error", err.Error()))
	}
	if m.charsSent, err = meter.Int64Counter("speakbook.synthesis.characters",
		metric.WithDescription("Characters submitted for synthesis")); err != nil {
		log.Warn("failed to create counter", slog.String("error", err.Error()))
	}
	if m.synthSeconds, err = meter.Float64Histogram("speakbook.synthesis.duration_seconds",
		metric.WithDescription("Wall-clock time per synthesis request")); err != nil {
		log.Warn("failed to create histogram", slog.String("error", err.Error()))
	}
	return m
}

func (m *RunMetrics) ChunkDone(ctx context.Context, chapter int, chars int, attempts int, seconds float64) {
	attrs := metric.WithAttributes(attribute.Int("chapter", chapter))
	if m.chunksSynthesized != nil {
		m.chunksSynthesized.Add(ctx, 1, attrs)
	}
	if m.charsSent != nil {
		m.charsSent.Add(ctx, int64(chars), attrs)
	}
	if attempts > 1 && m.retries != nil {
		m.retries.Add(ctx, int64(attempts-1), attrs)
	}
	if m.synthSeconds != nil {
		m.synthSeconds.Record(ctx, seconds, attrs)
	}
}

func (m *RunMetrics) ChunkFailed(ctx context.Context, chapter int) {
	if m.chunksFailed != nil {
		m.chunksFailed.Add(ctx, 1, metric.WithAttributes(attribute.Int("chapter", chapter)))
	}
}
