package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"gemini-slack-bot/metrics"
	"gemini-slack-bot/models"
)

const (
	DefaultWorkers   = 8
	DefaultQueueSize = 256
)

var ErrNotStarted = errors.New("dispatch: dispatcher not started")

// EventHandler is the per-event pipeline run by each worker. *Relay
// implements it.
type EventHandler interface {
	Handle(ctx context.Context, event InboundEvent) Outcome
}

type DispatcherOptions struct {
	Handler   EventHandler
	Workers   int
	QueueSize int
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

type job struct {
	id         string
	raw        json.RawMessage
	enqueuedAt time.Time
}

// Dispatcher hands events to a fixed pool of workers. Dispatch never blocks:
// when the queue is full the event is dropped and counted.
type Dispatcher struct {
	handler EventHandler
	workers int
	queue   chan job
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu      sync.RWMutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Handler == nil {
		return nil, fmt.Errorf("dispatch: handler is required")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handler: opts.Handler,
		workers: workers,
		queue:   make(chan job, queueSize),
		metrics: m,
		logger:  logger.With("component", "dispatcher"),
		done:    make(chan struct{}),
	}, nil
}

// Start launches the workers. Work runs under ctx until Stop gives up
// waiting for it.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.stopped {
		return
	}
	d.started = true

	workerCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	wg := conc.NewWaitGroup()
	for i := 0; i < d.workers; i++ {
		wg.Go(func() {
			for j := range d.queue {
				d.metrics.QueueDepth.Set(float64(len(d.queue)))
				d.run(workerCtx, j)
			}
		})
	}
	go func() {
		wg.Wait()
		close(d.done)
	}()
	d.logger.Info("dispatcher started", "workers", d.workers, "queue_size", cap(d.queue))
}

// Dispatch queues raw (the inner "event" object of a callback) and reports
// whether it was accepted.
func (d *Dispatcher) Dispatch(raw json.RawMessage) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.started || d.stopped {
		d.metrics.EventsRejected.Inc()
		d.logger.Warn("event rejected", "error", ErrNotStarted)
		return false
	}

	j := job{id: uuid.NewString(), raw: raw, enqueuedAt: time.Now()}
	select {
	case d.queue <- j:
		d.metrics.EventsDispatched.Inc()
		d.metrics.QueueDepth.Set(float64(len(d.queue)))
		return true
	default:
		d.metrics.EventsRejected.Inc()
		d.logger.Warn("event rejected, queue full", "job_id", j.id, "queue_size", cap(d.queue))
		return false
	}
}

// Stop refuses new events and waits for queued ones to finish. If ctx ends
// first, in-flight work is cancelled and ctx.Err() is returned.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		return nil
	}
	defer d.cancel()

	select {
	case <-d.done:
		d.logger.Info("dispatcher stopped")
		return nil
	case <-ctx.Done():
		d.logger.Warn("dispatcher stop timed out, cancelling in-flight events")
		return ctx.Err()
	}
}

// run processes one job. A panic is confined to the job that raised it.
func (d *Dispatcher) run(ctx context.Context, j job) {
	logger := d.logger.With("job_id", j.id)
	outcome := models.OutcomePanicked

	var catcher panics.Catcher
	catcher.Try(func() {
		outcome = d.process(ctx, logger, j)
	})
	if recovered := catcher.Recovered(); recovered != nil {
		outcome = models.OutcomePanicked
		logger.Error("event handler panicked", "error", recovered.AsError())
	}

	d.metrics.Outcomes.WithLabelValues(string(outcome)).Inc()
	logger.Debug("event finished", "outcome", outcome, "elapsed", time.Since(j.enqueuedAt))
}

func (d *Dispatcher) process(ctx context.Context, logger *slog.Logger, j job) Outcome {
	var event InboundEvent
	if err := json.Unmarshal(j.raw, &event); err != nil {
		logger.Error("decode event failed", "error", err)
		return models.OutcomeInvalidEvent
	}
	logger.Debug("received event", "type", event.Type, "text", event.Text)
	return d.handler.Handle(ctx, event)
}
