package billing

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/billingsync/pkg/logger"
	"github.com/dmitrymomot/billingsync/pkg/queue"
)

const resyncQueue = "billing.resync"

// Refresher is the part of the Syncer the dispatcher drives.
type Refresher interface {
	Refresh(ctx context.Context, customerID string) (Snapshot, error)
}

// resyncPayload is the queued form of a webhook-triggered resync.
type resyncPayload struct {
	EventID    string `json:"event_id"`
	EventType  string `json:"event_type"`
	CustomerID string `json:"customer_id"`
}

// Dispatcher runs webhook-triggered resyncs in the background on an
// in-process task queue, decoupled from the HTTP request that delivered
// the event. Transient failures are retried on the queue's backoff
// schedule; resyncs that run out of retries end in the dead letter queue
// and the read path heals them on the next cache miss.
type Dispatcher struct {
	refresher  Refresher
	logger     *slog.Logger
	metrics    *Metrics
	maxRetries int8

	storage  *queue.MemoryStorage
	enqueuer *queue.Enqueuer
	worker   *queue.Worker

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher creates a Dispatcher and starts its workers.
// Call Close to drain pending work on shutdown.
func NewDispatcher(refresher Refresher, opts ...DispatcherOption) *Dispatcher {
	if refresher == nil {
		panic("billing: Refresher is required")
	}

	o := &dispatcherOptions{
		logger:       slog.Default(),
		backoff:      queue.DefaultBackoff(),
		maxAttempts:  3,
		concurrency:  4,
		queueSize:    256,
		pollInterval: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(o)
	}

	log := o.logger.With(logger.Component("billing.dispatcher"))
	storage := queue.NewMemoryStorage(
		queue.WithCapacity(o.queueSize),
		queue.WithRetryBackoff(o.backoff),
	)
	// Both constructors fail only on a nil repository.
	enqueuer, _ := queue.NewEnqueuer(storage, queue.WithDefaultQueue(resyncQueue))
	worker, _ := queue.NewWorker(storage,
		queue.WithQueues(resyncQueue),
		queue.WithMaxConcurrentTasks(o.concurrency),
		queue.WithPullInterval(o.pollInterval),
		queue.WithWorkerLogger(log),
	)

	d := &Dispatcher{
		refresher:  refresher,
		logger:     log,
		metrics:    o.metrics,
		maxRetries: int8(min(o.maxAttempts-1, 10)),
		storage:    storage,
		enqueuer:   enqueuer,
		worker:     worker,
	}

	_ = worker.RegisterHandler(queue.NewTaskHandler(d.resync))
	if err := worker.Start(context.Background()); err != nil {
		panic("billing: start resync worker: " + err.Error())
	}

	return d
}

// Dispatch queues a resync for the event's customer without blocking.
// It reports false when the dispatcher is closed or its queue is full.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.WarnContext(ctx, "dispatcher closed, dropping resync", logger.EventID(event.ID))
		return false
	}

	err := d.enqueuer.Enqueue(ctx, resyncPayload{
		EventID:    event.ID,
		EventType:  event.Type,
		CustomerID: event.CustomerID,
	}, queue.WithMaxRetries(d.maxRetries))
	if err != nil {
		d.logger.WarnContext(ctx, "failed to queue resync, dropping it",
			logger.EventID(event.ID),
			logger.CustomerID(event.CustomerID),
			logger.Error(err))
		d.metrics.resyncGaveUp()
		return false
	}

	d.worker.Wake()
	return true
}

// DeadLetters returns the resyncs that were given up on, oldest first.
func (d *Dispatcher) DeadLetters() []queue.DeadTask {
	return d.storage.DeadTasks()
}

// Close stops accepting work and waits until every queued resync, pending
// retries included, has finished. If ctx expires first, running resyncs
// stop waiting on the provider and ctx.Err is returned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	defer d.storage.Close()

	err := d.drain(ctx)
	if stopErr := d.worker.Stop(ctx); err == nil {
		err = stopErr
	}
	return err
}

func (d *Dispatcher) drain(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for d.storage.Len() > 0 {
		select {
		case <-ctx.Done():
			d.logger.Warn("dispatcher closed with resyncs outstanding",
				slog.Int("outstanding", d.storage.Len()))
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// resync is the queue handler. Failures that a retry cannot fix skip the
// remaining budget.
func (d *Dispatcher) resync(ctx context.Context, p resyncPayload) error {
	log := d.logger.With(logger.EventID(p.EventID), logger.EventType(p.EventType))

	if p.CustomerID == "" {
		log.ErrorContext(ctx, "cannot resync billing state", logger.Error(ErrMissingCustomerID))
		return errors.Join(queue.ErrSkipRetry, ErrMissingCustomerID)
	}
	log = log.With(logger.CustomerID(p.CustomerID))

	info, _ := queue.TaskInfoFromContext(ctx)
	_, err := d.refresher.Refresh(ctx, p.CustomerID)

	switch {
	case err == nil:
		log.DebugContext(ctx, "billing state resynced", logger.RetryCount(int(info.RetryCount)))
		return nil
	case !isRetryable(err):
		log.WarnContext(ctx, "resync failed permanently", logger.Error(err))
		return errors.Join(queue.ErrSkipRetry, err)
	case info.LastAttempt():
		log.ErrorContext(ctx, "resync failed after retries",
			logger.RetryCount(int(info.RetryCount)),
			logger.Error(err))
		d.metrics.resyncGaveUp()
		return err
	default:
		d.metrics.resyncRetried()
		log.InfoContext(ctx, "resync failed, will retry",
			logger.RetryCount(int(info.RetryCount)+1),
			logger.Error(err))
		return err
	}
}

func isRetryable(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable) ||
		errors.Is(err, ErrUpstreamMalformed) ||
		errors.Is(err, ErrPersistenceFailure)
}
