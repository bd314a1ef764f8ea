package queue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStorage implements EnqueuerRepository and WorkerRepository in
// process. Completed tasks are forgotten; dead tasks are kept up to the
// dead letter capacity, oldest first out.
type MemoryStorage struct {
	mu      sync.Mutex
	tasks   map[uuid.UUID]*Task
	pending int
	dlq     []DeadTask

	capacity    int
	dlqCapacity int
	backoff     BackoffStrategy
	now         func() time.Time

	lockTicker *time.Ticker
	done       chan struct{}
	closeOnce  sync.Once
}

// StorageOption configures a MemoryStorage.
type StorageOption func(*MemoryStorage)

// WithCapacity bounds how many tasks may wait to run, retries included.
// Zero means unbounded.
func WithCapacity(n int) StorageOption {
	return func(ms *MemoryStorage) {
		if n >= 0 {
			ms.capacity = n
		}
	}
}

// WithDeadLetterCapacity bounds how many dead tasks are retained.
func WithDeadLetterCapacity(n int) StorageOption {
	return func(ms *MemoryStorage) {
		if n >= 0 {
			ms.dlqCapacity = n
		}
	}
}

// WithRetryBackoff sets the delay schedule applied by FailTask.
func WithRetryBackoff(b BackoffStrategy) StorageOption {
	return func(ms *MemoryStorage) {
		if b != nil {
			ms.backoff = b
		}
	}
}

// NewMemoryStorage creates the storage and starts its lock expiration loop.
// Call Close to stop it.
func NewMemoryStorage(opts ...StorageOption) *MemoryStorage {
	ms := &MemoryStorage{
		tasks:       make(map[uuid.UUID]*Task),
		dlqCapacity: 1000,
		backoff:     DefaultBackoff(),
		now:         time.Now,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(ms)
	}

	ms.lockTicker = time.NewTicker(time.Second)
	go ms.lockExpirationManager()

	return ms
}

// Close stops the background goroutine. It is safe to call more than once.
func (ms *MemoryStorage) Close() error {
	ms.closeOnce.Do(func() {
		close(ms.done)
		ms.lockTicker.Stop()
	})
	return nil
}

// CreateTask implements EnqueuerRepository.
func (ms *MemoryStorage) CreateTask(_ context.Context, task *Task) error {
	if task == nil {
		return errors.New("task cannot be nil")
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.tasks[task.ID]; exists {
		return fmt.Errorf("task with ID %s already exists", task.ID)
	}
	if ms.capacity > 0 && ms.pending >= ms.capacity {
		return ErrQueueFull
	}

	taskCopy := *task
	taskCopy.Status = TaskStatusPending
	ms.tasks[task.ID] = &taskCopy
	ms.pending++

	return nil
}

// ClaimTask implements WorkerRepository. The earliest scheduled ready task wins.
func (ms *MemoryStorage) ClaimTask(_ context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*Task, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	var best *Task
	for _, task := range ms.tasks {
		if task.Status != TaskStatusPending || !slices.Contains(queues, task.Queue) {
			continue
		}
		if task.ScheduledAt.After(now) {
			continue
		}
		if best == nil || task.ScheduledAt.Before(best.ScheduledAt) {
			best = task
		}
	}

	if best == nil {
		return nil, ErrNoTaskToClaim
	}

	lockUntil := now.Add(lockDuration)
	best.Status = TaskStatusProcessing
	best.LockedUntil = &lockUntil
	best.LockedBy = &workerID
	ms.pending--

	taskCopy := *best
	return &taskCopy, nil
}

// CompleteTask implements WorkerRepository.
func (ms *MemoryStorage) CompleteTask(_ context.Context, taskID uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, err := ms.processing(taskID)
	if err != nil {
		return err
	}
	delete(ms.tasks, task.ID)
	return nil
}

// FailTask implements WorkerRepository. The retry count goes up by one; a
// task with retries left goes back to pending after the backoff delay,
// otherwise it is marked failed and waits for MoveToDLQ.
func (ms *MemoryStorage) FailTask(_ context.Context, taskID uuid.UUID, errorMsg string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, err := ms.processing(taskID)
	if err != nil {
		return err
	}

	task.RetryCount++
	task.Error = &errorMsg
	task.LockedUntil = nil
	task.LockedBy = nil

	if task.RetryCount > task.MaxRetries {
		task.Status = TaskStatusFailed
		return nil
	}

	task.Status = TaskStatusPending
	task.ScheduledAt = ms.now().Add(ms.backoff.NextInterval(int(task.RetryCount)))
	ms.pending++
	return nil
}

// MoveToDLQ implements WorkerRepository.
func (ms *MemoryStorage) MoveToDLQ(_ context.Context, taskID uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, exists := ms.tasks[taskID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if task.Status == TaskStatusPending {
		ms.pending--
	}
	delete(ms.tasks, taskID)

	if ms.dlqCapacity == 0 {
		return nil
	}
	dead := DeadTask{
		TaskID:     task.ID,
		Queue:      task.Queue,
		TaskName:   task.TaskName,
		Payload:    task.Payload,
		RetryCount: task.RetryCount,
		FailedAt:   ms.now(),
	}
	if task.Error != nil {
		dead.Error = *task.Error
	}
	if len(ms.dlq) >= ms.dlqCapacity {
		ms.dlq = slices.Delete(ms.dlq, 0, len(ms.dlq)-ms.dlqCapacity+1)
	}
	ms.dlq = append(ms.dlq, dead)

	return nil
}

// Len reports how many tasks are pending or running.
func (ms *MemoryStorage) Len() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return len(ms.tasks)
}

// DeadTasks returns a copy of the dead letter queue, oldest first.
func (ms *MemoryStorage) DeadTasks() []DeadTask {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return slices.Clone(ms.dlq)
}

func (ms *MemoryStorage) processing(taskID uuid.UUID) (*Task, error) {
	task, exists := ms.tasks[taskID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if task.Status != TaskStatusProcessing {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotProcessing, taskID)
	}
	return task, nil
}

// lockExpirationManager returns tasks whose worker vanished without
// completing or failing them to the pending set.
func (ms *MemoryStorage) lockExpirationManager() {
	for {
		select {
		case <-ms.lockTicker.C:
			ms.expireLocks()
		case <-ms.done:
			return
		}
	}
}

func (ms *MemoryStorage) expireLocks() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	for _, task := range ms.tasks {
		if task.Status == TaskStatusProcessing && task.LockedUntil != nil && task.LockedUntil.Before(now) {
			task.Status = TaskStatusPending
			task.LockedUntil = nil
			task.LockedBy = nil
			ms.pending++
		}
	}
}
