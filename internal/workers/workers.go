// Package workers provides the worker pool that drains the event queue
// and drives the processor.
package workers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/getflowetic/flowetic/internal/models"
	"github.com/prometheus/client_golang/prometheus"
)

type dProcessor interface {
	Process(ctx context.Context, event models.WebhookEvent) error
}

// Pool is a fixed set of workers fed by a bounded in-memory queue.
//
// Enqueue never blocks the caller: acknowledging a webhook must not wait
// on processing capacity. When the queue is full the event stays stored
// but unprocessed, which Enqueue signals so the caller can record it.
type Pool struct {
	proc dProcessor

	queue   chan models.WebhookEvent
	count   int
	started bool
	mu      sync.Mutex

	queueDepth    prometheus.Gauge
	activeWorkers prometheus.Gauge
	droppedEvents prometheus.Counter
}

type options struct {
	queueSize   int
	workerCount int
}

// Options represents an optional function to override Pool default values.
type Options func(*options)

// WithQueueSize overrides the default queue capacity.
func WithQueueSize(size int) Options {
	return func(o *options) {
		o.queueSize = size
	}
}

// WithWorkerCount overrides the default number of workers.
func WithWorkerCount(count int) Options {
	return func(o *options) {
		o.workerCount = count
	}
}

// New creates a worker pool with the provided processor and Prometheus registerer.
func New(proc dProcessor, reg prometheus.Registerer, args ...Options) (*Pool, error) {
	opts := options{
		queueSize:   256,
		workerCount: 4,
	}
	for _, opt := range args {
		opt(&opts)
	}
	if opts.queueSize <= 0 || opts.workerCount <= 0 {
		return nil, fmt.Errorf("queue size and worker count must be positive, got %d and %d", opts.queueSize, opts.workerCount)
	}

	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ingest_queue_depth",
		Help: "Number of events waiting in the processing queue.",
	})
	activeWorkers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ingest_active_workers",
		Help: "Number of running processing workers.",
	})
	droppedEvents := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_queue_dropped_total",
		Help: "Number of events rejected because the processing queue was full.",
	})
	for _, c := range []prometheus.Collector{queueDepth, activeWorkers, droppedEvents} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register worker pool metrics: %v", err)
		}
	}

	return &Pool{
		proc:  proc,
		queue: make(chan models.WebhookEvent, opts.queueSize),
		count: opts.workerCount,

		queueDepth:    queueDepth,
		activeWorkers: activeWorkers,
		droppedEvents: droppedEvents,
	}, nil
}

// Enqueue hands an event to the pool. It reports false when the queue is
// full, without blocking.
func (p *Pool) Enqueue(event models.WebhookEvent) bool {
	select {
	case p.queue <- event:
		p.queueDepth.Inc()
		return true
	default:
		p.droppedEvents.Inc()
		return false
	}
}

// Run starts the workers and blocks until the context is canceled and all
// workers are done. Queued events still in flight when the context ends
// are abandoned; they remain stored and unprocessed.
//
// Always returns a non-nil error, which is the context error.
func (p *Pool) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("worker pool already running")
	}
	p.started = true
	p.mu.Unlock()

	slog.Info("Worker pool started", "workers", p.count, "queue_capacity", cap(p.queue))

	var wg sync.WaitGroup
	wg.Add(p.count)
	for i := range p.count {
		go p.worker(ctx, i, &wg)
	}

	<-ctx.Done()
	slog.Info("Context canceled, stopping worker pool")
	wg.Wait()
	return ctx.Err()
}

// worker drains the queue until ctx is canceled.
func (p *Pool) worker(ctx context.Context, id int, wg *sync.WaitGroup) {
	defer wg.Done()

	p.activeWorkers.Inc()
	defer p.activeWorkers.Dec()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("Worker stopped", "worker", id)
			return
		case event := <-p.queue:
			p.queueDepth.Dec()
			if err := p.proc.Process(ctx, event); err != nil {
				slog.Error("Worker failed to record processing outcome",
					"worker", id, "client_id", event.ClientID, "event_id", event.ID, "err", err)
			}
		}
	}
}
