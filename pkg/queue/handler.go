package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type (
	// Handler runs tasks whose TaskName equals Name().
	Handler interface {
		Name() string
		Handle(ctx context.Context, payload json.RawMessage) error
	}

	// TaskHandlerFunc processes a decoded payload.
	TaskHandlerFunc[T any] func(ctx context.Context, payload T) error
)

// NewTaskHandler binds fn to tasks enqueued with a payload of type T.
// The task name is T's qualified type name, matching what Enqueue derives.
func NewTaskHandler[T any](fn TaskHandlerFunc[T]) Handler {
	var payload T
	return &taskHandler[T]{
		name:    qualifiedStructName(payload),
		handler: fn,
	}
}

type taskHandler[T any] struct {
	name    string
	handler TaskHandlerFunc[T]
}

func (h *taskHandler[T]) Name() string {
	return h.name
}

// Handle decodes the payload; a payload that cannot be decoded will never
// decode, so the error skips retries.
func (h *taskHandler[T]) Handle(ctx context.Context, payload json.RawMessage) error {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return fmt.Errorf("%w: decode %s payload: %w", ErrSkipRetry, h.name, err)
	}
	return h.handler(ctx, t)
}

// TaskInfo describes the task a handler is currently running.
type TaskInfo struct {
	ID         uuid.UUID
	Name       string
	RetryCount int8
	MaxRetries int8
}

// LastAttempt reports whether a failure of this run ends the task.
func (i TaskInfo) LastAttempt() bool {
	return i.RetryCount >= i.MaxRetries
}

type taskInfoKey struct{}

func withTaskInfo(ctx context.Context, task *Task) context.Context {
	return context.WithValue(ctx, taskInfoKey{}, TaskInfo{
		ID:         task.ID,
		Name:       task.TaskName,
		RetryCount: task.RetryCount,
		MaxRetries: task.MaxRetries,
	})
}

// TaskInfoFromContext returns the running task's counters.
func TaskInfoFromContext(ctx context.Context) (TaskInfo, bool) {
	info, ok := ctx.Value(taskInfoKey{}).(TaskInfo)
	return info, ok
}

func qualifiedStructName(v any) string {
	return strings.TrimLeft(fmt.Sprintf("%T", v), "*")
}
