package queue_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingsync/pkg/logger"
	"github.com/dmitrymomot/billingsync/pkg/queue"
)

type harness struct {
	storage  *queue.MemoryStorage
	enqueuer *queue.Enqueuer
	worker   *queue.Worker
}

func newHarness(t *testing.T, handler queue.Handler, opts ...queue.WorkerOption) *harness {
	t.Helper()

	storage := newStorage(t, queue.WithRetryBackoff(queue.FixedBackoff{Interval: time.Millisecond}))
	enqueuer, err := queue.NewEnqueuer(storage)
	require.NoError(t, err)

	worker, err := queue.NewWorker(storage, append([]queue.WorkerOption{
		queue.WithWorkerLogger(logger.Discard()),
		queue.WithPullInterval(5 * time.Millisecond),
	}, opts...)...)
	require.NoError(t, err)
	require.NoError(t, worker.RegisterHandler(handler))
	require.NoError(t, worker.Start(context.Background()))

	return &harness{storage: storage, enqueuer: enqueuer, worker: worker}
}

func (h *harness) enqueue(t *testing.T, p testPayload, opts ...queue.EnqueueOption) {
	t.Helper()
	require.NoError(t, h.enqueuer.Enqueue(context.Background(), p, opts...))
	h.worker.Wake()
}

func (h *harness) drained(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return h.storage.Len() == 0 }, 2*time.Second, 2*time.Millisecond)
	require.NoError(t, h.worker.Stop(context.Background()))
}

func TestWorker_Lifecycle(t *testing.T) {
	t.Parallel()

	t.Run("nil repository", func(t *testing.T) {
		t.Parallel()
		w, err := queue.NewWorker(nil)
		assert.Nil(t, w)
		assert.ErrorIs(t, err, queue.ErrRepositoryNil)
	})

	t.Run("start without handlers", func(t *testing.T) {
		t.Parallel()
		w, err := queue.NewWorker(newStorage(t))
		require.NoError(t, err)
		assert.ErrorIs(t, w.Start(context.Background()), queue.ErrNoHandlers)
		assert.ErrorIs(t, w.Stop(context.Background()), queue.ErrWorkerNotStarted)
	})

	t.Run("double start", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, queue.NewTaskHandler(func(context.Context, testPayload) error { return nil }))
		assert.ErrorIs(t, h.worker.Start(context.Background()), queue.ErrWorkerStarted)
		require.NoError(t, h.worker.Stop(context.Background()))
		assert.ErrorIs(t, h.worker.Stop(context.Background()), queue.ErrWorkerNotStarted)
	})
}

func TestWorker_ProcessesTasks(t *testing.T) {
	t.Parallel()

	var (
		mu  sync.Mutex
		got []testPayload
	)
	h := newHarness(t, queue.NewTaskHandler(func(_ context.Context, p testPayload) error {
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
		return nil
	}), queue.WithMaxConcurrentTasks(3))

	for i := range 5 {
		h.enqueue(t, testPayload{Value: i})
	}
	h.drained(t)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []testPayload{{Value: 0}, {Value: 1}, {Value: 2}, {Value: 3}, {Value: 4}}, got)
	assert.Empty(t, h.storage.DeadTasks())
}

func TestWorker_Retries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		maxRetries int8
		failures   int32
		err        error
		wantCalls  int32
		wantDead   bool
	}{
		{name: "succeeds first time", maxRetries: 2, wantCalls: 1},
		{name: "recovers within budget", maxRetries: 2, failures: 2, err: errors.New("flaky"), wantCalls: 3},
		{name: "exhausts budget", maxRetries: 2, failures: 10, err: errors.New("down"), wantCalls: 3, wantDead: true},
		{name: "no retries", maxRetries: 0, failures: 10, err: errors.New("down"), wantCalls: 1, wantDead: true},
		{name: "skip retry", maxRetries: 5, failures: 10, err: errors.Join(queue.ErrSkipRetry, errors.New("bad")), wantCalls: 1, wantDead: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			h := newHarness(t, queue.NewTaskHandler(func(context.Context, testPayload) error {
				if calls.Add(1) <= tt.failures {
					return tt.err
				}
				return nil
			}))

			h.enqueue(t, testPayload{Message: tt.name}, queue.WithMaxRetries(tt.maxRetries))
			h.drained(t)

			assert.Equal(t, tt.wantCalls, calls.Load())
			dead := h.storage.DeadTasks()
			if !tt.wantDead {
				assert.Empty(t, dead)
				return
			}
			require.Len(t, dead, 1)
			assert.Equal(t, tt.err.Error(), dead[0].Error)
		})
	}
}

func TestWorker_TaskInfoInContext(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		infos []queue.TaskInfo
	)
	h := newHarness(t, queue.NewTaskHandler(func(ctx context.Context, _ testPayload) error {
		info, ok := queue.TaskInfoFromContext(ctx)
		assert.True(t, ok)
		mu.Lock()
		infos = append(infos, info)
		mu.Unlock()
		if !info.LastAttempt() {
			return errors.New("again")
		}
		return nil
	}))

	h.enqueue(t, testPayload{}, queue.WithMaxRetries(2))
	h.drained(t)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, infos, 3)
	for i, info := range infos {
		assert.Equal(t, int8(i), info.RetryCount)
		assert.Equal(t, int8(2), info.MaxRetries)
		assert.Equal(t, "queue_test.testPayload", info.Name)
	}
}

func TestWorker_PanicIsRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	h := newHarness(t, queue.NewTaskHandler(func(context.Context, testPayload) error {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return nil
	}))

	h.enqueue(t, testPayload{}, queue.WithMaxRetries(1))
	h.drained(t)

	assert.Equal(t, int32(2), calls.Load())
	assert.Empty(t, h.storage.DeadTasks())
}

func TestWorker_MissingHandlerGoesToDLQ(t *testing.T) {
	t.Parallel()

	h := newHarness(t, queue.NewTaskHandler(func(context.Context, testPayload) error { return nil }))
	h.enqueue(t, testPayload{}, queue.WithTaskName("unknown.Task"), queue.WithMaxRetries(5))
	h.drained(t)

	dead := h.storage.DeadTasks()
	require.Len(t, dead, 1)
	assert.Equal(t, "unknown.Task", dead[0].TaskName)
	assert.Contains(t, dead[0].Error, queue.ErrHandlerNotFound.Error())
}

func TestWorker_RespectsConcurrencyLimit(t *testing.T) {
	t.Parallel()

	var running, peak atomic.Int32
	h := newHarness(t, queue.NewTaskHandler(func(context.Context, testPayload) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return nil
	}), queue.WithMaxConcurrentTasks(2))

	for i := range 8 {
		h.enqueue(t, testPayload{Value: i})
	}
	h.drained(t)

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestWorker_StopDeadlineCancelsRunningTasks(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	cancelled := make(chan struct{})
	h := newHarness(t, queue.NewTaskHandler(func(ctx context.Context, _ testPayload) error {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}))

	h.enqueue(t, testPayload{}, queue.WithMaxRetries(0))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	begin := time.Now()
	assert.ErrorIs(t, h.worker.Stop(ctx), context.DeadlineExceeded)
	assert.Less(t, time.Since(begin), time.Second)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("running task was not cancelled")
	}
}

func TestWorker_StopWaitsForRunningTasks(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	var finished atomic.Bool
	h := newHarness(t, queue.NewTaskHandler(func(ctx context.Context, _ testPayload) error {
		close(started)
		time.Sleep(30 * time.Millisecond)
		finished.Store(ctx.Err() == nil)
		return nil
	}))

	h.enqueue(t, testPayload{})
	<-started
	require.NoError(t, h.worker.Stop(context.Background()))
	assert.True(t, finished.Load(), "stopping must not cancel a task that finishes in time")
}
