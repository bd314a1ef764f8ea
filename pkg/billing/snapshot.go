package billing

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies the active variant of a Snapshot.
type Kind string

const (
	KindNone      Kind = "none"
	KindSelfServe Kind = "self_serve"
	KindProvider  Kind = "provider"
)

// SubscriptionType is the discriminator persisted next to the denormalized
// snapshot in the durable store.
type SubscriptionType string

const (
	SubscriptionTypeNone      SubscriptionType = "NONE"
	SubscriptionTypeProvider  SubscriptionType = "PROVIDER"
	SubscriptionTypeSelfServe SubscriptionType = "SELF_SERVE"
)

// Snapshot is the immutable billing state of an organization.
// The zero value is the None variant. Snapshots are replaced wholesale,
// never patched.
type Snapshot struct {
	kind Kind
	sub  *Subscription
}

// Subscription holds the fields of the provider variant.
// Price, Product and PaymentMethod are nil when the provider could not supply them.
type Subscription struct {
	ID                 string         `json:"subscription_id"`
	Status             Status         `json:"status"`
	PriceID            string         `json:"price_id"`
	CurrentPeriodStart time.Time      `json:"current_period_start"`
	CurrentPeriodEnd   time.Time      `json:"current_period_end"`
	CancelAtPeriodEnd  bool           `json:"cancel_at_period_end"`
	Price              *Price         `json:"price"`
	Product            *Product       `json:"product"`
	PaymentMethod      *PaymentMethod `json:"payment_method"`
}

// Price is best-effort catalog detail; every field is nullable.
type Price struct {
	Nickname   *string `json:"nickname"`
	UnitAmount *int64  `json:"unit_amount"`
	Currency   *string `json:"currency"`
	Interval   *string `json:"interval"`
}

type Product struct {
	Name string `json:"name"`
}

type PaymentMethod struct {
	Brand string `json:"brand"`
	Last4 string `json:"last4"`
}

// None returns the snapshot for organizations without a billing relationship.
func None() Snapshot {
	return Snapshot{kind: KindNone}
}

// SelfServe returns the snapshot for organizations that opted out of billing.
func SelfServe() Snapshot {
	return Snapshot{kind: KindSelfServe}
}

// Active returns a provider snapshot holding a private copy of sub.
func Active(sub Subscription) Snapshot {
	return Snapshot{kind: KindProvider, sub: sub.clone()}
}

func (s Snapshot) Kind() Kind {
	if s.kind == "" {
		return KindNone
	}
	return s.kind
}

func (s Snapshot) IsNone() bool      { return s.Kind() == KindNone }
func (s Snapshot) IsSelfServe() bool { return s.Kind() == KindSelfServe }
func (s Snapshot) IsActive() bool    { return s.Kind() == KindProvider }

// Subscription returns a copy of the provider fields.
// The boolean is false for the None and SelfServe variants.
func (s Snapshot) Subscription() (Subscription, bool) {
	if s.Kind() != KindProvider || s.sub == nil {
		return Subscription{}, false
	}
	return *s.sub.clone(), true
}

// SubscriptionType maps the variant onto the durable store discriminator.
func (s Snapshot) SubscriptionType() SubscriptionType {
	switch s.Kind() {
	case KindProvider:
		return SubscriptionTypeProvider
	case KindSelfServe:
		return SubscriptionTypeSelfServe
	default:
		return SubscriptionTypeNone
	}
}

type snapshotJSON struct {
	Kind         Kind          `json:"kind"`
	Subscription *Subscription `json:"subscription,omitempty"`
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	out := snapshotJSON{Kind: s.Kind()}
	if out.Kind == KindProvider {
		out.Subscription = s.sub
	}
	return json.Marshal(out)
}

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var in snapshotJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	switch in.Kind {
	case KindNone, "":
		*s = None()
	case KindSelfServe:
		*s = SelfServe()
	case KindProvider:
		if in.Subscription == nil {
			return fmt.Errorf("%w: provider snapshot without subscription", ErrInvalidSnapshot)
		}
		*s = Snapshot{kind: KindProvider, sub: in.Subscription}
	default:
		return fmt.Errorf("%w: unknown snapshot kind %q", ErrInvalidSnapshot, in.Kind)
	}
	return nil
}

func (s *Subscription) clone() *Subscription {
	if s == nil {
		return nil
	}
	c := *s
	if s.Price != nil {
		p := Price{
			Nickname:   clonePtr(s.Price.Nickname),
			UnitAmount: clonePtr(s.Price.UnitAmount),
			Currency:   clonePtr(s.Price.Currency),
			Interval:   clonePtr(s.Price.Interval),
		}
		c.Price = &p
	}
	if s.Product != nil {
		p := *s.Product
		c.Product = &p
	}
	if s.PaymentMethod != nil {
		pm := *s.PaymentMethod
		c.PaymentMethod = &pm
	}
	return &c
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
