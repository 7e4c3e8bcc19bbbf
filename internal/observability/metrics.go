package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds all pipeline metrics:
// - Latency: stage and local job durations
// - Traffic: stages and jobs processed
// - Errors: stage failures, dropped callbacks
// - Saturation: concurrently running local jobs
type Metrics struct {
	meter metric.Meter

	// Stage metrics
	StageDuration    metric.Float64Histogram
	StagesTotal      metric.Int64Counter
	StageErrorsTotal metric.Int64Counter

	// Local job metrics (process pool saturation)
	LocalJobDuration metric.Float64Histogram
	LocalJobsTotal   metric.Int64Counter
	LocalJobsActive  metric.Int64UpDownCounter

	// Partition progress
	PartitionsCompleted metric.Int64Counter

	// Callback delivery metrics
	NotifyDuration  metric.Float64Histogram
	NotifyDelivered metric.Int64Counter
	NotifyFailed    metric.Int64Counter
	NotifyDropped   metric.Int64Counter
}

// NewMetrics creates and registers all metrics with a Prometheus exporter.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("correct-pipeline")
	m := &Metrics{meter: meter}

	// Stage metrics. Stages run external aligners and consensus callers,
	// so the buckets reach into hours.
	m.StageDuration, err = meter.Float64Histogram(
		"stage_duration_seconds",
		metric.WithDescription("Pipeline stage duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 10, 60, 300, 900, 1800, 3600, 7200, 14400, 28800),
	)
	if err != nil {
		return nil, nil, err
	}

	m.StagesTotal, err = meter.Int64Counter(
		"stages_total",
		metric.WithDescription("Total number of stages executed"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.StageErrorsTotal, err = meter.Int64Counter(
		"stage_errors_total",
		metric.WithDescription("Total number of failed stages"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Local job metrics
	m.LocalJobDuration, err = meter.Float64Histogram(
		"local_job_duration_seconds",
		metric.WithDescription("Local process execution duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600),
	)
	if err != nil {
		return nil, nil, err
	}

	m.LocalJobsTotal, err = meter.Int64Counter(
		"local_jobs_total",
		metric.WithDescription("Total number of local processes spawned"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.LocalJobsActive, err = meter.Int64UpDownCounter(
		"local_jobs_active",
		metric.WithDescription("Number of currently running local processes (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.PartitionsCompleted, err = meter.Int64Counter(
		"partitions_completed_total",
		metric.WithDescription("Total number of consensus partitions completed"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Callback metrics
	m.NotifyDuration, err = meter.Float64Histogram(
		"notify_duration_seconds",
		metric.WithDescription("Callback delivery latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifyDelivered, err = meter.Int64Counter(
		"notify_delivered_total",
		metric.WithDescription("Total events successfully delivered"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifyFailed, err = meter.Int64Counter(
		"notify_failed_total",
		metric.WithDescription("Total events failed after retries"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifyDropped, err = meter.Int64Counter(
		"notify_dropped_total",
		metric.WithDescription("Total events dropped (buffer full or circuit open)"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.Handler(), nil
}

// RecordStageStarted records a stage beginning execution.
func (m *Metrics) RecordStageStarted(ctx context.Context, stage string) {
	m.StagesTotal.Add(ctx, 1, WithStage(stage))
}

// RecordStageCompleted records a stage finishing (success or failure).
func (m *Metrics) RecordStageCompleted(ctx context.Context, stage string, success bool, durationSeconds float64) {
	attrs := metric.WithAttributes(stageAttr(stage), successAttr(success))
	m.StageDuration.Record(ctx, durationSeconds, attrs)

	if !success {
		m.StageErrorsTotal.Add(ctx, 1, WithStage(stage))
	}
}

// RecordLocalJobStarted records a local process being spawned.
func (m *Metrics) RecordLocalJobStarted(ctx context.Context) {
	m.LocalJobsTotal.Add(ctx, 1)
	m.LocalJobsActive.Add(ctx, 1)
}

// RecordLocalJobFinished records a local process exiting.
func (m *Metrics) RecordLocalJobFinished(ctx context.Context, durationSeconds float64, success bool) {
	m.LocalJobDuration.Record(ctx, durationSeconds, WithSuccess(success))
	m.LocalJobsActive.Add(ctx, -1)
}

// RecordPartitionCompleted records one consensus partition finishing.
func (m *Metrics) RecordPartitionCompleted(ctx context.Context) {
	m.PartitionsCompleted.Add(ctx, 1)
}

// RecordNotifyDelivered records a successful event delivery with its duration.
func (m *Metrics) RecordNotifyDelivered(ctx context.Context, durationSeconds float64) {
	m.NotifyDelivered.Add(ctx, 1)
	m.NotifyDuration.Record(ctx, durationSeconds)
}

// RecordNotifyFailed records a failed event delivery.
func (m *Metrics) RecordNotifyFailed(ctx context.Context) {
	m.NotifyFailed.Add(ctx, 1)
}

// RecordNotifyDropped records a dropped event.
func (m *Metrics) RecordNotifyDropped(ctx context.Context) {
	m.NotifyDropped.Add(ctx, 1)
}
