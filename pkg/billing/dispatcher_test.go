package billing_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingsync/pkg/billing"
	"github.com/dmitrymomot/billingsync/pkg/logger"
	"github.com/dmitrymomot/billingsync/pkg/queue"
)

type refreshFunc func(ctx context.Context, customerID string) (billing.Snapshot, error)

func (f refreshFunc) Refresh(ctx context.Context, customerID string) (billing.Snapshot, error) {
	return f(ctx, customerID)
}

func newDispatcher(r billing.Refresher, opts ...billing.DispatcherOption) *billing.Dispatcher {
	return billing.NewDispatcher(r, append([]billing.DispatcherOption{
		billing.WithDispatcherLogger(logger.Discard()),
		billing.WithBackoff(queue.FixedBackoff{Interval: time.Millisecond}),
		billing.WithPollInterval(5 * time.Millisecond),
	}, opts...)...)
}

func dispatch(d *billing.Dispatcher, event billing.Event) bool {
	return d.Dispatch(context.Background(), event)
}

func TestDispatcher_RetriesRetryableErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		failures  int
		err       error
		wantCalls int32
		wantDead  bool
		retried   float64
		dropped   float64
	}{
		{name: "succeeds first time", wantCalls: 1},
		{name: "recovers after upstream outage", failures: 2, err: billing.ErrUpstreamUnavailable, wantCalls: 3, retried: 2},
		{name: "gives up after budget", failures: 10, err: billing.ErrUpstreamUnavailable, wantCalls: 3, wantDead: true, retried: 2, dropped: 1},
		{name: "retries persistence failures", failures: 1, err: billing.ErrPersistenceFailure, wantCalls: 2, retried: 1},
		{name: "does not retry unknown customer", failures: 10, err: billing.ErrUnknownCustomer, wantCalls: 1, wantDead: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			reg := prometheus.NewRegistry()
			var calls atomic.Int32
			d := newDispatcher(refreshFunc(func(_ context.Context, cid string) (billing.Snapshot, error) {
				assert.Equal(t, "cus_1", cid)
				if int(calls.Add(1)) <= tt.failures {
					return billing.None(), errors.Join(tt.err, errors.New("attempt failed"))
				}
				return billing.None(), nil
			}), billing.WithMaxAttempts(3), billing.WithDispatcherMetrics(billing.NewMetrics(reg)))

			require.True(t, dispatch(d, billing.Event{ID: "evt_1", Type: "invoice.paid", CustomerID: "cus_1"}))
			require.NoError(t, d.Close(context.Background()))

			assert.Equal(t, tt.wantCalls, calls.Load())
			assert.Equal(t, tt.retried, counterValue(t, reg, "billing_resync_retries_total"))
			assert.Equal(t, tt.dropped, counterValue(t, reg, "billing_resync_dropped_total"))
			if tt.wantDead {
				assert.Len(t, d.DeadLetters(), 1)
			} else {
				assert.Empty(t, d.DeadLetters())
			}
		})
	}
}

func TestDispatcher_MissingCustomerIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	d := newDispatcher(refreshFunc(func(context.Context, string) (billing.Snapshot, error) {
		calls.Add(1)
		return billing.None(), nil
	}))

	require.True(t, dispatch(d, billing.Event{ID: "evt_1", Type: "invoice.paid"}))
	require.NoError(t, d.Close(context.Background()))
	assert.Zero(t, calls.Load())

	dead := d.DeadLetters()
	require.Len(t, dead, 1)
	assert.Contains(t, dead[0].Error, billing.ErrMissingCustomerID.Error())
	assert.JSONEq(t, `{"event_id":"evt_1","event_type":"invoice.paid","customer_id":""}`, string(dead[0].Payload))
}

func TestDispatcher_RecoversFromPanics(t *testing.T) {
	t.Parallel()

	var (
		calls atomic.Int32
		mu    sync.Mutex
		done  = map[string]bool{}
	)
	d := newDispatcher(refreshFunc(func(_ context.Context, cid string) (billing.Snapshot, error) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		mu.Lock()
		done[cid] = true
		mu.Unlock()
		return billing.None(), nil
	}), billing.WithConcurrency(1))

	require.True(t, dispatch(d, billing.Event{ID: "evt_1", CustomerID: "cus_1"}))
	require.True(t, dispatch(d, billing.Event{ID: "evt_2", CustomerID: "cus_2"}))
	require.NoError(t, d.Close(context.Background()))

	// The panicking run is retried like any other failure.
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, map[string]bool{"cus_1": true, "cus_2": true}, done)
	assert.Empty(t, d.DeadLetters())
}

func TestDispatcher_ProcessesConcurrently(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		seen = map[string]int{}
	)
	d := newDispatcher(refreshFunc(func(_ context.Context, cid string) (billing.Snapshot, error) {
		mu.Lock()
		seen[cid]++
		mu.Unlock()
		return billing.None(), nil
	}), billing.WithConcurrency(4), billing.WithQueueSize(64))

	customers := []string{"cus_a", "cus_b", "cus_c", "cus_d", "cus_e"}
	for _, cid := range customers {
		require.True(t, dispatch(d, billing.Event{ID: "evt_" + cid, CustomerID: cid}))
	}
	require.NoError(t, d.Close(context.Background()))

	for _, cid := range customers {
		assert.Equal(t, 1, seen[cid], cid)
	}
}

func TestDispatcher_QueueFullDropsEvents(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	release := make(chan struct{})
	d := newDispatcher(refreshFunc(func(context.Context, string) (billing.Snapshot, error) {
		<-release
		return billing.None(), nil
	}), billing.WithConcurrency(1), billing.WithQueueSize(1), billing.WithDispatcherMetrics(billing.NewMetrics(reg)))

	accepted := 0
	for i := range 5 {
		if dispatch(d, billing.Event{ID: "evt", CustomerID: "cus_" + string(rune('a'+i))}) {
			accepted++
		}
	}
	close(release)
	require.NoError(t, d.Close(context.Background()))

	assert.LessOrEqual(t, accepted, 2)
	assert.GreaterOrEqual(t, accepted, 1)
	assert.Equal(t, float64(5-accepted), counterValue(t, reg, "billing_resync_dropped_total"))
}

func TestDispatcher_DispatchAfterClose(t *testing.T) {
	t.Parallel()

	d := newDispatcher(refreshFunc(func(context.Context, string) (billing.Snapshot, error) {
		return billing.None(), nil
	}))
	require.NoError(t, d.Close(context.Background()))
	require.NoError(t, d.Close(context.Background()))
	assert.False(t, dispatch(d, billing.Event{ID: "evt_1", CustomerID: "cus_1"}))
}

func TestDispatcher_CloseTimeoutAbortsBackoff(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	d := newDispatcher(refreshFunc(func(context.Context, string) (billing.Snapshot, error) {
		calls.Add(1)
		return billing.None(), billing.ErrUpstreamUnavailable
	}),
		billing.WithBackoff(queue.FixedBackoff{Interval: time.Hour}),
		billing.WithMaxAttempts(5),
	)

	require.True(t, dispatch(d, billing.Event{ID: "evt_1", CustomerID: "cus_1"}))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)
	assert.Equal(t, int32(1), calls.Load())
}

// A provider call that hangs must not hold shutdown past the Close deadline.
func TestDispatcher_CloseDeadlineWithSlowProvider(t *testing.T) {
	t.Parallel()

	store := &mockStore{}
	provider := &mockProvider{}
	release := make(chan time.Time)
	t.Cleanup(func() { close(release) })

	entered := make(chan struct{})
	var once sync.Once
	store.On("FindOrganizationByCustomerID", mock.Anything, "cus_1").
		Run(func(mock.Arguments) { once.Do(func() { close(entered) }) }).
		Return(&billing.Organization{ID: "org_1", BillingCustomerID: "cus_1"}, nil)
	store.On("UpdateBillingState", mock.Anything, "org_1", mock.Anything).Return(nil).Maybe()
	provider.On("ListSubscriptions", mock.Anything, listParams("cus_1")).
		WaitUntil(release).
		Return([]billing.ProviderSubscription{}, nil)

	d := newDispatcher(newSyncer(store, provider, newFakeCache()))
	require.True(t, dispatch(d, billing.Event{ID: "evt_1", Type: "invoice.paid", CustomerID: "cus_1"}))
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("resync did not start")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	begin := time.Now()
	assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)
	assert.Less(t, time.Since(begin), 500*time.Millisecond)
}

// counterValue sums every sample of the named counter family.
func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}
