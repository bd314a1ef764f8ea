// Package queue is a small task queue: an Enqueuer stores JSON payloads, a
// Worker claims them from a repository and runs the registered Handler, and
// failed tasks are retried on a backoff schedule until their retry budget is
// spent, after which they land in a dead letter queue.
//
// MemoryStorage implements both repositories in process. It is what the
// billing dispatcher runs on; a durable repository can replace it without
// touching handlers.
//
// Basic usage:
//
//	storage := queue.NewMemoryStorage(queue.WithCapacity(256))
//	enqueuer, _ := queue.NewEnqueuer(storage)
//	worker, _ := queue.NewWorker(storage, queue.WithMaxConcurrentTasks(4))
//	_ = worker.RegisterHandler(queue.NewTaskHandler(func(ctx context.Context, p ResyncPayload) error {
//		return refresh(ctx, p.CustomerID)
//	}))
//	_ = worker.Start(ctx)
//	_ = enqueuer.Enqueue(ctx, ResyncPayload{CustomerID: "cus_1"}, queue.WithMaxRetries(2))
//	worker.Wake()
//
// Handlers opt out of retries by returning an error that wraps ErrSkipRetry.
// TaskInfoFromContext exposes the retry counters to a running handler.
package queue
