package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// WorkerRepository is the storage side a Worker needs.
type WorkerRepository interface {
	// ClaimTask atomically claims the next ready task or returns ErrNoTaskToClaim.
	ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*Task, error)

	// CompleteTask removes a finished task.
	CompleteTask(ctx context.Context, taskID uuid.UUID) error

	// FailTask records the error and increments the retry count.
	FailTask(ctx context.Context, taskID uuid.UUID, errorMsg string) error

	// MoveToDLQ moves a task to the dead letter queue.
	MoveToDLQ(ctx context.Context, taskID uuid.UUID) error
}

// Worker processes tasks from the queue.
type Worker struct {
	repo     WorkerRepository
	handlers map[string]Handler
	queues   []string
	workerID uuid.UUID
	sem      chan struct{}
	wake     chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex
	stopMu   sync.Mutex // guards stopping together with wg.Add

	pullInterval time.Duration
	lockTimeout  time.Duration
	logger       *slog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	taskCtx  context.Context
	abort    context.CancelFunc
	stopping atomic.Bool
}

// NewWorker creates a worker. It does nothing until Start.
func NewWorker(repo WorkerRepository, opts ...WorkerOption) (*Worker, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	options := &workerOptions{
		queues:             []string{DefaultQueueName},
		pullInterval:       time.Second,
		lockTimeout:        5 * time.Minute,
		maxConcurrentTasks: 1,
		logger:             slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Worker{
		repo:         repo,
		handlers:     make(map[string]Handler),
		queues:       options.queues,
		workerID:     uuid.New(),
		sem:          make(chan struct{}, options.maxConcurrentTasks),
		wake:         make(chan struct{}, 1),
		pullInterval: options.pullInterval,
		lockTimeout:  options.lockTimeout,
		logger:       options.logger,
	}, nil
}

// RegisterHandler registers a task handler. A nil handler is ignored.
func (w *Worker) RegisterHandler(handler Handler) error {
	if handler == nil {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.handlers[handler.Name()] = handler
	return nil
}

// Start begins claiming tasks in the background.
//
// Handlers run on a context that keeps ctx's values but not its
// cancellation: stopping the worker lets running tasks finish, and only
// a Stop deadline cancels them.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return ErrWorkerStarted
	}
	if len(w.handlers) == 0 {
		w.mu.Unlock()
		return ErrNoHandlers
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.taskCtx, w.abort = context.WithCancel(context.WithoutCancel(ctx))
	w.mu.Unlock()

	w.stopping.Store(false)
	go w.run()

	w.logger.Info("worker started",
		slog.String("worker_id", w.workerID.String()),
		slog.Any("queues", w.queues),
		slog.Int("max_concurrent", cap(w.sem)))

	return nil
}

// Wake makes the worker look for tasks now instead of at the next pull tick.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Stop stops claiming tasks and waits for running ones. If ctx expires
// first, running handlers see their context cancelled and Stop returns
// ctx.Err without waiting for them.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return ErrWorkerNotStarted
	}

	w.stopMu.Lock()
	w.stopping.Store(true)
	w.stopMu.Unlock()

	cancel, abort := w.cancel, w.abort
	w.cancel = nil
	w.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		abort()
		w.logger.Info("worker stopped", slog.String("worker_id", w.workerID.String()))
		return nil
	case <-ctx.Done():
		abort()
		w.logger.Warn("worker stop deadline exceeded, cancelling running tasks",
			slog.String("worker_id", w.workerID.String()))
		return ctx.Err()
	}
}

func (w *Worker) run() {
	ticker := time.NewTicker(w.pullInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
		case <-w.wake:
		}
		w.claimAvailable()
	}
}

// claimAvailable starts tasks until every slot is busy or nothing is ready.
func (w *Worker) claimAvailable() {
	for {
		select {
		case w.sem <- struct{}{}:
		default:
			return
		}

		w.stopMu.Lock()
		if w.stopping.Load() {
			w.stopMu.Unlock()
			<-w.sem
			return
		}
		w.wg.Add(1)
		w.stopMu.Unlock()

		task, err := w.repo.ClaimTask(w.taskCtx, w.workerID, w.queues, w.lockTimeout)
		if err != nil || task == nil {
			w.wg.Done()
			<-w.sem
			if err != nil && !errors.Is(err, ErrNoTaskToClaim) {
				w.logger.Error("failed to claim task",
					slog.String("worker_id", w.workerID.String()),
					slog.String("error", err.Error()))
			}
			return
		}

		go func() {
			defer w.wg.Done()
			defer w.Wake()
			defer func() { <-w.sem }()

			if err := w.processTask(task); err != nil && !errors.Is(err, ErrHandlerNotFound) {
				w.logger.Error("failed to process task",
					slog.String("worker_id", w.workerID.String()),
					slog.String("task_id", task.ID.String()),
					slog.String("error", err.Error()))
			}
		}()
	}
}

func (w *Worker) processTask(task *Task) (retErr error) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("handler panicked",
				slog.String("worker_id", w.workerID.String()),
				slog.String("task_id", task.ID.String()),
				slog.String("task_name", task.TaskName),
				slog.Any("panic", r))
			retErr = w.handleTaskFailure(task, fmt.Errorf("panic in handler: %v", r), time.Since(start))
		}
	}()

	w.mu.RLock()
	handler, ok := w.handlers[task.TaskName]
	w.mu.RUnlock()

	if !ok {
		return w.handleMissingHandler(task)
	}

	ctx, cancel := context.WithTimeout(withTaskInfo(w.taskCtx, task), w.lockTimeout)
	defer cancel()

	if err := handler.Handle(ctx, task.Payload); err != nil {
		return w.handleTaskFailure(task, err, time.Since(start))
	}
	return w.handleTaskSuccess(task, time.Since(start))
}

// handleMissingHandler sends the task straight to the dead letter queue:
// every retry would fail the same way until a handler is deployed.
func (w *Worker) handleMissingHandler(task *Task) error {
	w.logger.Error("no handler registered for task type",
		slog.String("worker_id", w.workerID.String()),
		slog.String("task_id", task.ID.String()),
		slog.String("task_name", task.TaskName))

	if err := w.repo.FailTask(w.taskCtx, task.ID, ErrHandlerNotFound.Error()+": "+task.TaskName); err != nil {
		return fmt.Errorf("failed to mark task %s as failed: %w", task.ID, err)
	}
	if err := w.repo.MoveToDLQ(w.taskCtx, task.ID); err != nil {
		return fmt.Errorf("failed to move task %s to DLQ: %w", task.ID, err)
	}
	return ErrHandlerNotFound
}

// handleTaskFailure always records the failure first. The task is dead when
// the handler asked to skip retries or when this was its last allowed run;
// otherwise FailTask has already rescheduled it.
func (w *Worker) handleTaskFailure(task *Task, execErr error, duration time.Duration) error {
	skip := errors.Is(execErr, ErrSkipRetry)

	w.logger.Error("task failed",
		slog.String("worker_id", w.workerID.String()),
		slog.String("task_id", task.ID.String()),
		slog.String("task_name", task.TaskName),
		slog.Int("retry_count", int(task.RetryCount)),
		slog.Int("max_retries", int(task.MaxRetries)),
		slog.Bool("skip_retry", skip),
		slog.Duration("duration", duration),
		slog.String("error", execErr.Error()))

	if err := w.repo.FailTask(w.taskCtx, task.ID, execErr.Error()); err != nil {
		return fmt.Errorf("failed to update task %s status to failed: %w", task.ID, err)
	}

	if !skip && task.RetryCount < task.MaxRetries {
		return nil
	}

	if err := w.repo.MoveToDLQ(w.taskCtx, task.ID); err != nil {
		return fmt.Errorf("failed to move task %s to DLQ: %w", task.ID, err)
	}
	w.logger.Warn("task moved to dead letter queue",
		slog.String("worker_id", w.workerID.String()),
		slog.String("task_id", task.ID.String()),
		slog.String("task_name", task.TaskName))

	return nil
}

func (w *Worker) handleTaskSuccess(task *Task, duration time.Duration) error {
	if err := w.repo.CompleteTask(w.taskCtx, task.ID); err != nil {
		return fmt.Errorf("failed to mark task %s as completed: %w", task.ID, err)
	}

	w.logger.Debug("task completed",
		slog.String("worker_id", w.workerID.String()),
		slog.String("task_id", task.ID.String()),
		slog.String("task_name", task.TaskName),
		slog.Duration("duration", duration))

	return nil
}
