package billing

import "context"

// Organization is the billing-relevant slice of a tenant record.
type Organization struct {
	ID                string
	BillingCustomerID string // empty until checkout links a provider customer
	OptedOutOfBilling bool
	LastKnownSnapshot *Snapshot
}

// BillingState is the denormalized copy written after every sync.
type BillingState struct {
	SubscriptionType SubscriptionType
	Snapshot         *Snapshot // nil clears the column
}

// Store is the durable system of record for organizations.
// Implementations return ErrOrganizationNotFound for missing rows.
type Store interface {
	FindOrganization(ctx context.Context, organizationID string) (*Organization, error)
	FindOrganizationByCustomerID(ctx context.Context, customerID string) (*Organization, error)
	UpdateBillingState(ctx context.Context, organizationID string, state BillingState) error
}
