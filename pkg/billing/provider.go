package billing

import (
	"context"
	"time"
)

// Provider is the narrow read-only view of the upstream billing system.
// Implementations use the official provider SDKs and translate their
// objects into the types below.
type Provider interface {
	// ListSubscriptions returns the customer's subscriptions, newest first,
	// across every lifecycle status, with payment method detail inlined.
	ListSubscriptions(ctx context.Context, params ListSubscriptionsParams) ([]ProviderSubscription, error)

	// GetPrice returns price detail with the owning product inlined.
	GetPrice(ctx context.Context, priceID string) (*ProviderPrice, error)
}

// ListSubscriptionsParams narrows a subscription listing.
type ListSubscriptionsParams struct {
	CustomerID string
	Limit      int
}

// ProviderSubscription is a provider subscription reduced to the fields
// a snapshot needs.
type ProviderSubscription struct {
	ID                 string
	Status             string
	CancelAtPeriodEnd  bool
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	Items              []ProviderItem
	PaymentMethod      *PaymentMethod
}

// ProviderItem is a single subscription line item.
type ProviderItem struct {
	PriceID string
}

// ProviderPrice is price detail with its product.
type ProviderPrice struct {
	ID         string
	Nickname   *string
	UnitAmount *int64
	Currency   *string
	Interval   *string
	Product    *Product
}

// Event is a verified webhook notification reduced to what the ingestor needs.
type Event struct {
	ID         string
	Type       string
	CustomerID string // empty when the event object carries no customer reference
}

// EventVerifier authenticates a raw webhook payload and decodes it.
// Verification failures wrap ErrSignatureInvalid.
type EventVerifier interface {
	Verify(payload []byte, signature string) (*Event, error)
}
