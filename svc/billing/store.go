package billingsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrymomot/billingsync/pkg/billing"
	"github.com/dmitrymomot/billingsync/pkg/pg"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	selectOrganizationByID = `SELECT id, COALESCE(billing_customer_id, ''), opted_out_of_billing, billing_snapshot
FROM organizations WHERE id = $1`

	selectOrganizationByCustomerID = `SELECT id, COALESCE(billing_customer_id, ''), opted_out_of_billing, billing_snapshot
FROM organizations WHERE billing_customer_id = $1`

	updateBillingState = `UPDATE organizations
SET subscription_type = $2, billing_snapshot = $3, billing_synced_at = now()
WHERE id = $1`
)

// Store implements billing.Store on PostgreSQL.
type Store struct {
	db DBTX
}

var _ billing.Store = (*Store)(nil)

func NewStore(db DBTX) *Store {
	return &Store{db: db}
}

func (s *Store) FindOrganization(ctx context.Context, organizationID string) (*billing.Organization, error) {
	return s.findOne(ctx, selectOrganizationByID, organizationID)
}

func (s *Store) FindOrganizationByCustomerID(ctx context.Context, customerID string) (*billing.Organization, error) {
	return s.findOne(ctx, selectOrganizationByCustomerID, customerID)
}

func (s *Store) findOne(ctx context.Context, query, arg string) (*billing.Organization, error) {
	var (
		org      billing.Organization
		snapshot []byte
	)
	err := s.db.QueryRow(ctx, query, arg).Scan(&org.ID, &org.BillingCustomerID, &org.OptedOutOfBilling, &snapshot)
	if pg.IsNotFoundError(err) {
		return nil, billing.ErrOrganizationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query organization: %w", err)
	}

	if len(snapshot) > 0 {
		var snap billing.Snapshot
		if err := json.Unmarshal(snapshot, &snap); err != nil {
			// A corrupt denormalized copy must not hide the organization.
			return &org, nil
		}
		org.LastKnownSnapshot = &snap
	}
	return &org, nil
}

// UpdateBillingState overwrites the denormalized billing columns.
func (s *Store) UpdateBillingState(ctx context.Context, organizationID string, state billing.BillingState) error {
	var snapshot any
	if state.Snapshot != nil {
		raw, err := json.Marshal(state.Snapshot)
		if err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
		snapshot = raw
	}

	tag, err := s.db.Exec(ctx, updateBillingState, organizationID, string(state.SubscriptionType), snapshot)
	if err != nil {
		return fmt.Errorf("update billing state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.Join(billing.ErrOrganizationNotFound, fmt.Errorf("organization %q", organizationID))
	}
	return nil
}
