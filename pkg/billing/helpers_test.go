package billing_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/dmitrymomot/billingsync/pkg/billing"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) FindOrganization(ctx context.Context, id string) (*billing.Organization, error) {
	args := m.Called(ctx, id)
	org, _ := args.Get(0).(*billing.Organization)
	return org, args.Error(1)
}

func (m *mockStore) FindOrganizationByCustomerID(ctx context.Context, cid string) (*billing.Organization, error) {
	args := m.Called(ctx, cid)
	org, _ := args.Get(0).(*billing.Organization)
	return org, args.Error(1)
}

func (m *mockStore) UpdateBillingState(ctx context.Context, id string, state billing.BillingState) error {
	args := m.Called(ctx, id, state)
	return args.Error(0)
}

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) ListSubscriptions(ctx context.Context, params billing.ListSubscriptionsParams) ([]billing.ProviderSubscription, error) {
	args := m.Called(ctx, params)
	subs, _ := args.Get(0).([]billing.ProviderSubscription)
	return subs, args.Error(1)
}

func (m *mockProvider) GetPrice(ctx context.Context, priceID string) (*billing.ProviderPrice, error) {
	args := m.Called(ctx, priceID)
	price, _ := args.Get(0).(*billing.ProviderPrice)
	return price, args.Error(1)
}

var errCacheDown = errors.New("cache connection refused")

// fakeCache is a map-backed billing.Cache that counts operations and can be
// switched into a failing mode.
type fakeCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	failing bool
	ops     int
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string][]byte)}
}

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops++
	if c.failing {
		return nil, false, errCacheDown
	}
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *fakeCache) Set(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops++
	if c.failing {
		return errCacheDown
	}
	c.data[key] = append([]byte(nil), value...)
	return nil
}

func (c *fakeCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops++
	if c.failing {
		return errCacheDown
	}
	delete(c.data, key)
	return nil
}

func (c *fakeCache) setFailing(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failing = v
}

func (c *fakeCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}

func (c *fakeCache) opCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ops
}

var (
	periodStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	periodEnd   = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
)

func ptr[T any](v T) *T { return &v }

// proSubscription is the provider-side view of org_1's plan.
func proSubscription() billing.ProviderSubscription {
	return billing.ProviderSubscription{
		ID:                 "sub_1",
		Status:             "active",
		CurrentPeriodStart: periodStart,
		CurrentPeriodEnd:   periodEnd,
		Items:              []billing.ProviderItem{{PriceID: "price_pro"}},
		PaymentMethod:      &billing.PaymentMethod{Brand: "visa", Last4: "4242"},
	}
}

func proPrice() *billing.ProviderPrice {
	return &billing.ProviderPrice{
		ID:         "price_pro",
		Nickname:   ptr("Pro"),
		UnitAmount: ptr(int64(4900)),
		Currency:   ptr("usd"),
		Interval:   ptr("month"),
		Product:    &billing.Product{Name: "Compliance Pro"},
	}
}

func proSnapshot() billing.Snapshot {
	return billing.Active(billing.Subscription{
		ID:                 "sub_1",
		Status:             billing.StatusActive,
		PriceID:            "price_pro",
		CurrentPeriodStart: periodStart,
		CurrentPeriodEnd:   periodEnd,
		Price: &billing.Price{
			Nickname:   ptr("Pro"),
			UnitAmount: ptr(int64(4900)),
			Currency:   ptr("usd"),
			Interval:   ptr("month"),
		},
		Product:       &billing.Product{Name: "Compliance Pro"},
		PaymentMethod: &billing.PaymentMethod{Brand: "visa", Last4: "4242"},
	})
}
