package observability

import (
	"context"
	"testing"
)

func TestNewMetrics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	metrics, handler, err := NewMetrics(ctx)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	if metrics == nil {
		t.Fatal("Expected metrics to be non-nil")
	}

	if handler == nil {
		t.Fatal("Expected handler to be non-nil")
	}
}

func TestRecordStageMetrics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	metrics, _, err := NewMetrics(ctx)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	// Should not panic
	metrics.RecordStageStarted(ctx, "convert")
	metrics.RecordStageCompleted(ctx, "convert", true, 42.0)
	metrics.RecordStageStarted(ctx, "consensus")
	metrics.RecordStageCompleted(ctx, "consensus", false, 3600.0)
	metrics.RecordPartitionCompleted(ctx)
}

func TestRecordLocalJobMetrics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	metrics, _, err := NewMetrics(ctx)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	// Should not panic
	metrics.RecordLocalJobStarted(ctx)
	metrics.RecordLocalJobFinished(ctx, 5.5, true)
	metrics.RecordLocalJobStarted(ctx)
	metrics.RecordLocalJobFinished(ctx, 120.0, false)
}

func TestRecordNotifyMetrics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	metrics, _, err := NewMetrics(ctx)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	// Should not panic
	metrics.RecordNotifyDelivered(ctx, 0.05)
	metrics.RecordNotifyFailed(ctx)
	metrics.RecordNotifyDropped(ctx)
}
