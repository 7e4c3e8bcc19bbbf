// Package notify delivers pipeline lifecycle events to an optional
// callback URL as CloudEvents. Delivery is asynchronous: events are queued
// in a bounded channel and sent by a worker pool with retry and a circuit
// breaker, so a slow or dead callback endpoint never stalls the pipeline.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"corrector/internal/observability"
	"corrector/pkg/backoff"
	"corrector/pkg/circuitbreaker"
	"corrector/pkg/cloudevent"
)

// Event types for pipeline lifecycle callbacks.
const (
	EventRunStart      = "corrector.run.start"
	EventRunComplete   = "corrector.run.complete"
	EventRunFailed     = "corrector.run.failed"
	EventStageStart    = "corrector.stage.start"
	EventStageComplete = "corrector.stage.complete"
)

const (
	defaultBufferSize = 256
	defaultWorkers    = 2
	defaultMaxRetries = 3
	eventSource       = "corrector/pipeline"
)

// Config holds notifier configuration.
type Config struct {
	URL         string        // callback destination; empty disables delivery
	SigningKey  string        // HMAC key, empty = no signing
	Events      []string      // event type filter; empty = all
	HTTPTimeout time.Duration // per-request timeout (default: 10s)
}

// Stats holds notifier counters.
type Stats struct {
	Queued    int64
	Delivered int64
	Failed    int64
	Dropped   int64
}

// Notifier sends pipeline events to the configured callback.
type Notifier struct {
	config  Config
	runID   string
	queue   chan *cloudevent.CloudEvent
	sender  *cloudevent.Sender
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
	metrics *observability.Metrics // nil disables recording

	queued    atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	wg       sync.WaitGroup
	shutdown chan struct{}
	closed   atomic.Bool
}

// New creates a notifier for one pipeline run. A nil notifier, a notifier
// with an empty URL, and a nil metrics pointer are all safe.
func New(runID string, cfg Config, metrics *observability.Metrics) *Notifier {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}

	n := &Notifier{
		config:   cfg,
		runID:    runID,
		queue:    make(chan *cloudevent.CloudEvent, defaultBufferSize),
		sender:   cloudevent.NewSender(cfg.HTTPTimeout),
		breaker:  circuitbreaker.New(circuitbreaker.Config{}),
		logger:   slog.With("component", "notify"),
		metrics:  metrics,
		shutdown: make(chan struct{}),
	}

	if cfg.URL != "" {
		n.wg.Add(defaultWorkers)
		for range defaultWorkers {
			go n.worker()
		}
	}
	return n
}

// Emit queues one event for async delivery. Filtered or unconfigured
// events are silently discarded; a full buffer drops the event with a
// warning rather than blocking the pipeline.
func (n *Notifier) Emit(eventType string, data map[string]any) {
	if n == nil || n.config.URL == "" || n.closed.Load() {
		return
	}
	if len(n.config.Events) > 0 && !slices.Contains(n.config.Events, eventType) {
		return
	}

	if data == nil {
		data = map[string]any{}
	}
	data["runId"] = n.runID
	eventID := fmt.Sprintf("%s-%d", n.runID, time.Now().UnixNano())
	event := cloudevent.New(eventType, eventSource, n.runID, eventID, data)

	select {
	case n.queue <- event:
		n.queued.Add(1)
	default:
		n.dropped.Add(1)
		if n.metrics != nil {
			n.metrics.RecordNotifyDropped(context.Background())
		}
		n.logger.Warn("Event dropped, buffer full", "type", eventType)
	}
}

// EmitStage queues a stage lifecycle event.
func (n *Notifier) EmitStage(eventType, stage string) {
	n.Emit(eventType, map[string]any{"stage": stage})
}

// Stats returns current notifier counters.
func (n *Notifier) Stats() Stats {
	return Stats{
		Queued:    n.queued.Load(),
		Delivered: n.delivered.Load(),
		Failed:    n.failed.Load(),
		Dropped:   n.dropped.Load(),
	}
}

// Close drains queued events and stops the workers. The context deadline
// bounds how long the drain may take.
func (n *Notifier) Close(ctx context.Context) error {
	if n == nil || n.closed.Swap(true) {
		return nil
	}
	if n.config.URL == "" {
		return nil
	}

	close(n.shutdown)

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		n.logger.Info("Notifier shutdown complete",
			"delivered", n.delivered.Load(),
			"failed", n.failed.Load(),
			"dropped", n.dropped.Load(),
		)
		return nil
	case <-ctx.Done():
		n.logger.Warn("Notifier shutdown timed out", "remaining", len(n.queue))
		return ctx.Err()
	}
}

// worker processes events from the queue.
func (n *Notifier) worker() {
	defer n.wg.Done()

	for {
		select {
		case <-n.shutdown:
			// Drain remaining events before exiting.
			for {
				select {
				case event := <-n.queue:
					n.deliver(event)
				default:
					return
				}
			}
		case event := <-n.queue:
			n.deliver(event)
		}
	}
}

// deliver attempts delivery with retry, guarded by the circuit breaker.
func (n *Notifier) deliver(event *cloudevent.CloudEvent) {
	if !n.breaker.Allow() {
		n.dropped.Add(1)
		if n.metrics != nil {
			n.metrics.RecordNotifyDropped(context.Background())
		}
		n.logger.Debug("Event dropped, circuit open", "type", event.Type)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	if err := n.sendWithRetry(ctx, event); err != nil {
		n.breaker.RecordFailure()
		n.failed.Add(1)
		if n.metrics != nil {
			n.metrics.RecordNotifyFailed(ctx)
		}
		n.logger.Warn("Event delivery failed", "type", event.Type, "error", err)
		return
	}

	n.breaker.RecordSuccess()
	n.delivered.Add(1)
	if n.metrics != nil {
		n.metrics.RecordNotifyDelivered(ctx, time.Since(start).Seconds())
	}
}

func (n *Notifier) sendWithRetry(ctx context.Context, event *cloudevent.CloudEvent) error {
	opts := cloudevent.SendOptions{SigningKey: n.config.SigningKey}

	var lastErr error
	for attempt := range defaultMaxRetries + 1 {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff.Exponential(attempt, nil)):
			}
		}

		lastErr = n.sender.Send(ctx, n.config.URL, event, opts)
		if lastErr == nil {
			return nil
		}
		if cloudevent.IsClientError(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
