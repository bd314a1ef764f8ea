package queue

import "errors"

var (
	// ErrRepositoryNil is returned when a nil repository is provided.
	ErrRepositoryNil = errors.New("repository cannot be nil")

	// ErrPayloadNil is returned when attempting to enqueue a nil payload.
	ErrPayloadNil = errors.New("payload cannot be nil")

	// ErrQueueFull is returned when the repository refuses new pending tasks.
	ErrQueueFull = errors.New("queue is full")

	// ErrTaskNotFound is returned when a task id is unknown to the repository.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskNotProcessing is returned when completing or failing a task that was not claimed.
	ErrTaskNotProcessing = errors.New("task is not in processing state")

	// ErrNoTaskToClaim is returned by ClaimTask when nothing is ready to run.
	ErrNoTaskToClaim = errors.New("no task to claim")

	// ErrHandlerNotFound is returned when no handler is registered for a task.
	ErrHandlerNotFound = errors.New("no handler registered for task type")

	// ErrNoHandlers is returned when a worker starts without handlers.
	ErrNoHandlers = errors.New("no task handlers registered")

	// ErrWorkerStarted is returned by Start on a running worker.
	ErrWorkerStarted = errors.New("worker already started")

	// ErrWorkerNotStarted is returned by Stop on an idle worker.
	ErrWorkerNotStarted = errors.New("worker not started")

	// ErrSkipRetry marks a handler failure that retrying cannot fix.
	// Wrap it with errors.Join to send the task straight to the dead letter queue.
	ErrSkipRetry = errors.New("task failed permanently")
)
