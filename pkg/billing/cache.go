package billing

import (
	"context"
	"encoding/json"
	"fmt"
)

// DefaultKeyPrefix namespaces every cache key written by this package.
const DefaultKeyPrefix = "billing"

// Cache is a best-effort key-value store. Values may disappear at any time.
// Get reports a miss with found=false and a nil error.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// NoOpCache disables caching; every read goes to the sync path.
type NoOpCache struct{}

func (NoOpCache) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (NoOpCache) Set(context.Context, string, []byte) error         { return nil }
func (NoOpCache) Delete(context.Context, string) error              { return nil }

// keys builds cache keys. Snapshots are keyed by provider customer id,
// the organization mapping lives under its own key.
type keys struct {
	prefix string
}

func (k keys) customer(customerID string) string {
	return k.prefix + ":customer:" + customerID
}

func (k keys) organization(organizationID string) string {
	return k.prefix + ":org:" + organizationID
}

// snapshotCache layers snapshot encoding over a raw Cache.
type snapshotCache struct {
	cache Cache
	keys  keys
}

func (c snapshotCache) getSnapshot(ctx context.Context, customerID string) (Snapshot, bool, error) {
	raw, found, err := c.cache.Get(ctx, c.keys.customer(customerID))
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	}
	if !found {
		return Snapshot{}, false, nil
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

func (c snapshotCache) setSnapshot(ctx context.Context, customerID string, snap Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.cache.Set(ctx, c.keys.customer(customerID), raw)
}

func (c snapshotCache) deleteSnapshot(ctx context.Context, customerID string) error {
	return c.cache.Delete(ctx, c.keys.customer(customerID))
}

func (c snapshotCache) getCustomerID(ctx context.Context, organizationID string) (string, bool, error) {
	raw, found, err := c.cache.Get(ctx, c.keys.organization(organizationID))
	if err != nil {
		return "", false, fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	}
	if !found || len(raw) == 0 {
		return "", false, nil
	}
	return string(raw), true, nil
}

func (c snapshotCache) setCustomerID(ctx context.Context, organizationID, customerID string) error {
	return c.cache.Set(ctx, c.keys.organization(organizationID), []byte(customerID))
}
