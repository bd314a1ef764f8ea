package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
)

// PaddleSignatureHeader carries the webhook signature on Paddle deliveries.
const PaddleSignatureHeader = "Paddle-Signature"

// PaddleEventTypes are the Paddle notifications that can change subscription state.
var PaddleEventTypes = []string{
	"subscription.created",
	"subscription.updated",
	"subscription.activated",
	"subscription.canceled",
	"subscription.past_due",
	"subscription.paused",
	"subscription.resumed",
	"subscription.trialing",
	"transaction.completed",
	"transaction.payment_failed",
}

// PaddleConfig holds configuration for the Paddle provider.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// PaddleProvider implements Provider for Paddle Billing.
// Paddle does not expose a default payment method on subscriptions, so
// snapshots built from it carry no payment method.
type PaddleProvider struct {
	client *paddle.SDK
}

// NewPaddleProvider creates a Paddle-backed Provider.
func NewPaddleProvider(cfg PaddleConfig) (*PaddleProvider, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	var (
		client *paddle.SDK
		err    error
	)
	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(cfg.APIKey)
	case "production", "":
		client, err = paddle.New(cfg.APIKey)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidProviderEnvironment, cfg.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &PaddleProvider{client: client}, nil
}

// ListSubscriptions lists the customer's subscriptions, newest first.
func (p *PaddleProvider) ListSubscriptions(ctx context.Context, params ListSubscriptionsParams) ([]ProviderSubscription, error) {
	req := &paddle.ListSubscriptionsRequest{
		CustomerID: []string{params.CustomerID},
		OrderBy:    paddle.PtrTo("id[DESC]"),
	}
	if params.Limit > 0 {
		req.PerPage = paddle.PtrTo(params.Limit)
	}

	res, err := p.client.SubscriptionsClient.ListSubscriptions(ctx, req)
	if err != nil {
		return nil, err
	}

	var out []ProviderSubscription
	err = res.Iter(ctx, func(s *paddle.Subscription) (bool, error) {
		out = append(out, subscriptionFromPaddle(s))
		return params.Limit <= 0 || len(out) < params.Limit, nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// GetPrice fetches a price with its product included.
func (p *PaddleProvider) GetPrice(ctx context.Context, priceID string) (*ProviderPrice, error) {
	price, err := p.client.PricesClient.GetPrice(ctx, &paddle.GetPriceRequest{
		PriceID:        priceID,
		IncludeProduct: true,
	})
	if err != nil {
		return nil, err
	}

	out := &ProviderPrice{ID: price.ID}
	switch {
	case price.Name != nil && *price.Name != "":
		out.Nickname = paddle.PtrTo(*price.Name)
	case price.Description != "":
		out.Nickname = paddle.PtrTo(price.Description)
	}
	// Paddle encodes amounts as strings in the lowest denomination.
	if amount, err := strconv.ParseInt(price.UnitPrice.Amount, 10, 64); err == nil {
		out.UnitAmount = &amount
	}
	if price.UnitPrice.CurrencyCode != "" {
		out.Currency = paddle.PtrTo(strings.ToLower(string(price.UnitPrice.CurrencyCode)))
	}
	if price.BillingCycle != nil && price.BillingCycle.Interval != "" {
		out.Interval = paddle.PtrTo(string(price.BillingCycle.Interval))
	}
	if price.Product.Name != "" {
		out.Product = &Product{Name: price.Product.Name}
	}

	return out, nil
}

func subscriptionFromPaddle(s *paddle.Subscription) ProviderSubscription {
	if s == nil {
		return ProviderSubscription{}
	}

	out := ProviderSubscription{
		ID:     s.ID,
		Status: string(s.Status),
	}
	if s.CurrentBillingPeriod != nil {
		out.CurrentPeriodStart = parsePaddleTime(s.CurrentBillingPeriod.StartsAt)
		out.CurrentPeriodEnd = parsePaddleTime(s.CurrentBillingPeriod.EndsAt)
	}
	if s.ScheduledChange != nil && string(s.ScheduledChange.Action) == "cancel" {
		out.CancelAtPeriodEnd = true
	}
	for _, item := range s.Items {
		out.Items = append(out.Items, ProviderItem{PriceID: item.Price.ID})
	}

	return out
}

func parsePaddleTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// PaddleVerifier authenticates Paddle webhook deliveries.
type PaddleVerifier struct {
	verifier *paddle.WebhookVerifier
}

// NewPaddleVerifier creates a verifier for the notification destination's secret.
func NewPaddleVerifier(secret string) (*PaddleVerifier, error) {
	if secret == "" {
		return nil, ErrMissingWebhookSecret
	}
	return &PaddleVerifier{verifier: paddle.NewWebhookVerifier(secret)}, nil
}

// Verify checks the Paddle-Signature header and decodes the notification.
func (v *PaddleVerifier) Verify(payload []byte, signature string) (*Event, error) {
	// The SDK verifier works on requests, so rebuild one around the payload.
	req, err := http.NewRequest(http.MethodPost, "/", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Join(ErrMalformedEvent, err)
	}
	req.Header.Set(PaddleSignatureHeader, signature)

	valid, err := v.verifier.Verify(req)
	if err != nil {
		return nil, errors.Join(ErrSignatureInvalid, err)
	}
	if !valid {
		return nil, ErrSignatureInvalid
	}

	var notification struct {
		EventID   string         `json:"event_id"`
		EventType string         `json:"event_type"`
		Data      map[string]any `json:"data"`
	}
	if err := json.Unmarshal(payload, &notification); err != nil {
		return nil, errors.Join(ErrMalformedEvent, err)
	}

	event := &Event{
		ID:   notification.EventID,
		Type: notification.EventType,
	}
	if id, ok := notification.Data["customer_id"].(string); ok {
		event.CustomerID = id
	}

	return event, nil
}
