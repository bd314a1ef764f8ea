package billing

import (
	"context"
	"errors"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeSignatureHeader carries the webhook signature on Stripe deliveries.
const StripeSignatureHeader = "Stripe-Signature"

// StripeEventTypes are the Stripe events that can change subscription state.
var StripeEventTypes = []string{
	"checkout.session.completed",
	"customer.subscription.created",
	"customer.subscription.updated",
	"customer.subscription.deleted",
	"customer.subscription.paused",
	"customer.subscription.resumed",
	"customer.subscription.pending_update_applied",
	"customer.subscription.pending_update_expired",
	"customer.subscription.trial_will_end",
	"invoice.paid",
	"invoice.payment_failed",
	"invoice.payment_action_required",
	"invoice.upcoming",
	"invoice.marked_uncollectible",
	"invoice.payment_succeeded",
	"payment_intent.succeeded",
	"payment_intent.payment_failed",
	"payment_intent.canceled",
}

// StripeConfig holds configuration for the Stripe provider.
type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
}

// StripeProvider implements Provider on top of stripe-go.
type StripeProvider struct {
	api *client.API
}

// NewStripeProvider creates a Stripe-backed Provider.
func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	if cfg.SecretKey == "" {
		return nil, ErrMissingAPIKey
	}

	api := &client.API{}
	api.Init(cfg.SecretKey, nil)
	return newStripeProvider(api), nil
}

func newStripeProvider(api *client.API) *StripeProvider {
	return &StripeProvider{api: api}
}

// ListSubscriptions lists the customer's subscriptions in every status.
// Stripe returns them newest first; the default payment method is expanded
// so no second round trip is needed.
func (p *StripeProvider) ListSubscriptions(ctx context.Context, params ListSubscriptionsParams) ([]ProviderSubscription, error) {
	lp := &stripe.SubscriptionListParams{
		Customer: stripe.String(params.CustomerID),
		Status:   stripe.String("all"),
	}
	lp.Context = ctx
	if params.Limit > 0 {
		lp.Limit = stripe.Int64(int64(params.Limit))
	}
	lp.AddExpand("data.default_payment_method")

	var out []ProviderSubscription
	iter := p.api.Subscriptions.List(lp)
	for iter.Next() {
		out = append(out, subscriptionFromStripe(iter.Subscription()))
		// The iterator pages transparently; stop before it fetches more.
		if params.Limit > 0 && len(out) >= params.Limit {
			break
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

// GetPrice fetches a price with its product expanded.
func (p *StripeProvider) GetPrice(ctx context.Context, priceID string) (*ProviderPrice, error) {
	params := &stripe.PriceParams{}
	params.Context = ctx
	params.AddExpand("product")

	price, err := p.api.Prices.Get(priceID, params)
	if err != nil {
		return nil, err
	}
	return priceFromStripe(price), nil
}

func subscriptionFromStripe(s *stripe.Subscription) ProviderSubscription {
	if s == nil {
		return ProviderSubscription{}
	}

	out := ProviderSubscription{
		ID:                s.ID,
		Status:            string(s.Status),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
	}

	if s.Items != nil {
		for _, item := range s.Items.Data {
			if item == nil {
				continue
			}
			if len(out.Items) == 0 {
				out.CurrentPeriodStart = unixTime(item.CurrentPeriodStart)
				out.CurrentPeriodEnd = unixTime(item.CurrentPeriodEnd)
			}
			var priceID string
			if item.Price != nil {
				priceID = item.Price.ID
			}
			out.Items = append(out.Items, ProviderItem{PriceID: priceID})
		}
	}

	if pm := s.DefaultPaymentMethod; pm != nil && pm.Card != nil {
		out.PaymentMethod = &PaymentMethod{
			Brand: string(pm.Card.Brand),
			Last4: pm.Card.Last4,
		}
	}

	return out
}

func priceFromStripe(price *stripe.Price) *ProviderPrice {
	if price == nil {
		return nil
	}

	amount := price.UnitAmount
	out := &ProviderPrice{
		ID:         price.ID,
		UnitAmount: &amount,
	}
	if price.Nickname != "" {
		nickname := price.Nickname
		out.Nickname = &nickname
	}
	if price.Currency != "" {
		currency := string(price.Currency)
		out.Currency = &currency
	}
	if price.Recurring != nil && price.Recurring.Interval != "" {
		interval := string(price.Recurring.Interval)
		out.Interval = &interval
	}
	if price.Product != nil && price.Product.Name != "" {
		out.Product = &Product{Name: price.Product.Name}
	}

	return out
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// StripeVerifier authenticates Stripe webhook deliveries.
type StripeVerifier struct {
	secret string
}

// NewStripeVerifier creates a verifier for the endpoint's signing secret.
func NewStripeVerifier(secret string) (*StripeVerifier, error) {
	if secret == "" {
		return nil, ErrMissingWebhookSecret
	}
	return &StripeVerifier{secret: secret}, nil
}

// Verify checks the Stripe-Signature header and decodes the event.
// API version mismatches are ignored: only the event type and the customer
// reference are read, and both are stable across versions.
func (v *StripeVerifier) Verify(payload []byte, signature string) (*Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if errors.Is(err, webhook.ErrNotSigned) ||
			errors.Is(err, webhook.ErrInvalidHeader) ||
			errors.Is(err, webhook.ErrNoValidSignature) ||
			errors.Is(err, webhook.ErrTooOld) {
			return nil, errors.Join(ErrSignatureInvalid, err)
		}
		return nil, errors.Join(ErrMalformedEvent, err)
	}

	event := &Event{
		ID:   ev.ID,
		Type: string(ev.Type),
	}
	if ev.Data != nil {
		event.CustomerID = customerReference(ev.Data.Object["customer"])
	}

	return event, nil
}

// customerReference reads a customer field that is either an id or an
// expanded customer object.
func customerReference(v any) string {
	switch c := v.(type) {
	case string:
		return c
	case map[string]any:
		if id, ok := c["id"].(string); ok {
			return id
		}
	}
	return ""
}
