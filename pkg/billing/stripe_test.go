package billing_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/dmitrymomot/billingsync/pkg/billing"
)

const testWebhookSecret = "whsec_test_secret"

func signStripe(t *testing.T, payload string, at time.Time) string {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: at,
	})
	return signed.Header
}

func TestStripeVerifier(t *testing.T) {
	t.Parallel()

	verifier, err := billing.NewStripeVerifier(testWebhookSecret)
	require.NoError(t, err)

	deleted := `{"id":"evt_1","object":"event","type":"customer.subscription.deleted","api_version":"2025-03-31.basil",` +
		`"data":{"object":{"id":"sub_1","object":"subscription","customer":"cus_2"}}}`
	expanded := `{"id":"evt_2","object":"event","type":"invoice.paid","api_version":"2020-08-27",` +
		`"data":{"object":{"id":"in_1","object":"invoice","customer":{"id":"cus_3","object":"customer"}}}}`
	noCustomer := `{"id":"evt_3","object":"event","type":"invoice.upcoming","api_version":"2025-03-31.basil",` +
		`"data":{"object":{"id":"in_2","object":"invoice"}}}`

	t.Run("valid signature", func(t *testing.T) {
		t.Parallel()
		ev, err := verifier.Verify([]byte(deleted), signStripe(t, deleted, time.Now()))
		require.NoError(t, err)
		assert.Equal(t, &billing.Event{ID: "evt_1", Type: "customer.subscription.deleted", CustomerID: "cus_2"}, ev)
	})

	t.Run("expanded customer and older api version", func(t *testing.T) {
		t.Parallel()
		ev, err := verifier.Verify([]byte(expanded), signStripe(t, expanded, time.Now()))
		require.NoError(t, err)
		assert.Equal(t, "cus_3", ev.CustomerID)
	})

	t.Run("no customer reference", func(t *testing.T) {
		t.Parallel()
		ev, err := verifier.Verify([]byte(noCustomer), signStripe(t, noCustomer, time.Now()))
		require.NoError(t, err)
		assert.Empty(t, ev.CustomerID)
	})

	t.Run("tampered payload", func(t *testing.T) {
		t.Parallel()
		sig := signStripe(t, deleted, time.Now())
		_, err := verifier.Verify([]byte(expanded), sig)
		assert.ErrorIs(t, err, billing.ErrSignatureInvalid)
	})

	t.Run("wrong secret", func(t *testing.T) {
		t.Parallel()
		other, err := billing.NewStripeVerifier("whsec_other")
		require.NoError(t, err)
		_, err = other.Verify([]byte(deleted), signStripe(t, deleted, time.Now()))
		assert.ErrorIs(t, err, billing.ErrSignatureInvalid)
	})

	t.Run("expired timestamp", func(t *testing.T) {
		t.Parallel()
		_, err := verifier.Verify([]byte(deleted), signStripe(t, deleted, time.Now().Add(-time.Hour)))
		assert.ErrorIs(t, err, billing.ErrSignatureInvalid)
	})

	t.Run("garbage header", func(t *testing.T) {
		t.Parallel()
		_, err := verifier.Verify([]byte(deleted), "not-a-signature")
		assert.ErrorIs(t, err, billing.ErrSignatureInvalid)
	})

	t.Run("signed but not json", func(t *testing.T) {
		t.Parallel()
		_, err := verifier.Verify([]byte("not json"), signStripe(t, "not json", time.Now()))
		assert.ErrorIs(t, err, billing.ErrMalformedEvent)
	})

	t.Run("missing secret", func(t *testing.T) {
		t.Parallel()
		_, err := billing.NewStripeVerifier("")
		assert.ErrorIs(t, err, billing.ErrMissingWebhookSecret)
	})
}

func newStripeTestProvider(t *testing.T, handler http.HandlerFunc) *billing.StripeProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	api := &client.API{}
	api.Init("sk_test_123", &stripe.Backends{API: backend, Connect: backend, Uploads: backend})
	return billing.NewStripeProviderWithAPI(api)
}

func writeStripeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestStripeProvider_ListSubscriptions(t *testing.T) {
	t.Parallel()

	provider := newStripeTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/subscriptions", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "cus_1", q.Get("customer"))
		assert.Equal(t, "all", q.Get("status"))
		assert.Equal(t, "1", q.Get("limit"))
		assert.Equal(t, "data.default_payment_method", q.Get("expand[0]"))

		writeStripeJSON(w, map[string]any{
			"object":   "list",
			"url":      "/v1/subscriptions",
			"has_more": true,
			"data": []any{map[string]any{
				"id":                   "sub_1",
				"object":               "subscription",
				"status":               "past_due",
				"cancel_at_period_end": true,
				"default_payment_method": map[string]any{
					"id":     "pm_1",
					"object": "payment_method",
					"card":   map[string]any{"brand": "visa", "last4": "4242"},
				},
				"items": map[string]any{
					"object": "list",
					"data": []any{map[string]any{
						"id":                   "si_1",
						"object":               "subscription_item",
						"current_period_start": periodStart.Unix(),
						"current_period_end":   periodEnd.Unix(),
						"price":                map[string]any{"id": "price_pro", "object": "price"},
					}},
				},
			}},
		})
	})

	subs, err := provider.ListSubscriptions(context.Background(), billing.ListSubscriptionsParams{CustomerID: "cus_1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, billing.ProviderSubscription{
		ID:                 "sub_1",
		Status:             "past_due",
		CancelAtPeriodEnd:  true,
		CurrentPeriodStart: periodStart,
		CurrentPeriodEnd:   periodEnd,
		Items:              []billing.ProviderItem{{PriceID: "price_pro"}},
		PaymentMethod:      &billing.PaymentMethod{Brand: "visa", Last4: "4242"},
	}, subs[0])
}

func TestStripeProvider_ListSubscriptionsEmpty(t *testing.T) {
	t.Parallel()

	provider := newStripeTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		writeStripeJSON(w, map[string]any{"object": "list", "url": "/v1/subscriptions", "data": []any{}})
	})

	subs, err := provider.ListSubscriptions(context.Background(), billing.ListSubscriptionsParams{CustomerID: "cus_2", Limit: 1})
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestStripeProvider_ListSubscriptionsError(t *testing.T) {
	t.Parallel()

	provider := newStripeTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"type":"api_error","message":"boom"}}`))
	})

	_, err := provider.ListSubscriptions(context.Background(), billing.ListSubscriptionsParams{CustomerID: "cus_1", Limit: 1})
	assert.Error(t, err)
}

func TestStripeProvider_GetPrice(t *testing.T) {
	t.Parallel()

	provider := newStripeTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/prices/price_pro", r.URL.Path)
		assert.Equal(t, "product", r.URL.Query().Get("expand[0]"))
		writeStripeJSON(w, map[string]any{
			"id":          "price_pro",
			"object":      "price",
			"nickname":    "Pro",
			"unit_amount": 4900,
			"currency":    "usd",
			"recurring":   map[string]any{"interval": "month"},
			"product":     map[string]any{"id": "prod_1", "object": "product", "name": "Compliance Pro"},
		})
	})

	price, err := provider.GetPrice(context.Background(), "price_pro")
	require.NoError(t, err)
	assert.Equal(t, proPrice(), price)
}

func TestNewStripeProvider_MissingKey(t *testing.T) {
	t.Parallel()
	_, err := billing.NewStripeProvider(billing.StripeConfig{})
	assert.ErrorIs(t, err, billing.ErrMissingAPIKey)
}
