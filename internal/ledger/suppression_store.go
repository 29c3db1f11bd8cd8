package ledger

import (
	"context"
	"fmt"

	"github.com/listwatch/listwatch/internal/monitor"
)

// filterGlobalSQL screens a candidate batch against the blocked-seller set
// and the global suppression set in one round trip.
const filterGlobalSQL = `
WITH candidates AS (
    SELECT unnest($1::text[]) AS item_id, unnest($2::text[]) AS seller_name
)
SELECT c.item_id
FROM candidates c
WHERE NOT EXISTS (SELECT 1 FROM blocked_sellers b WHERE b.seller_name = c.seller_name)
  AND NOT EXISTS (SELECT 1 FROM suppressed_items_global s WHERE s.item_id = c.item_id)`

// filterLocalSQL is the per-group variant: the local suppression set replaces
// the global one, so groups do not shadow each other's deliveries.
const filterLocalSQL = `
WITH candidates AS (
    SELECT unnest($1::text[]) AS item_id, unnest($2::text[]) AS seller_name
)
SELECT c.item_id
FROM candidates c
WHERE NOT EXISTS (SELECT 1 FROM blocked_sellers b WHERE b.seller_name = c.seller_name)
  AND NOT EXISTS (
      SELECT 1 FROM suppressed_items_local s
      WHERE s.item_id = c.item_id AND s.group_name = $3)`

// SuppressionStore implements monitor.SuppressionStore on Postgres.
type SuppressionStore struct {
	pool Pool
}

// NewSuppressionStore builds a suppression store over an existing pool.
func NewSuppressionStore(pool Pool) (*SuppressionStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &SuppressionStore{pool: pool}, nil
}

// FilterBlocked returns the listings that pass the seller blocklist and the
// scope-selected suppression set, preserving input order. The whole batch is
// checked with a single query.
func (s *SuppressionStore) FilterBlocked(ctx context.Context, listings []monitor.Listing, scope monitor.BlocklistScope, group string) ([]monitor.Listing, error) {
	if len(listings) == 0 {
		return nil, nil
	}
	itemIDs := make([]string, len(listings))
	sellers := make([]string, len(listings))
	for i, l := range listings {
		itemIDs[i] = l.ItemID
		sellers[i] = l.SellerName
	}

	var (
		query string
		args  []any
	)
	switch scope {
	case monitor.ScopeLocal:
		if group == "" {
			return nil, fmt.Errorf("group is required for local scope")
		}
		query = filterLocalSQL
		args = []any{itemIDs, sellers, group}
	default:
		query = filterGlobalSQL
		args = []any{itemIDs, sellers}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("filter listings: %w", err)
	}
	defer rows.Close()

	allowed := make(map[string]struct{}, len(listings))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan filtered item: %w", err)
		}
		allowed[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("filter listings: %w", err)
	}

	var out []monitor.Listing
	for _, l := range listings {
		if _, ok := allowed[l.ItemID]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

// SuppressGlobal records the item in the global suppression set. Re-adding an
// existing item is a no-op.
func (s *SuppressionStore) SuppressGlobal(ctx context.Context, itemID string) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO suppressed_items_global (item_id)
VALUES ($1)
ON CONFLICT (item_id) DO NOTHING`, itemID)
	if err != nil {
		return fmt.Errorf("suppress item %s globally: %w", itemID, err)
	}
	return nil
}

// SuppressLocal records the item in the group's suppression set. Re-adding an
// existing pair is a no-op.
func (s *SuppressionStore) SuppressLocal(ctx context.Context, itemID, group string) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO suppressed_items_local (item_id, group_name)
VALUES ($1, $2)
ON CONFLICT (item_id, group_name) DO NOTHING`, itemID, group)
	if err != nil {
		return fmt.Errorf("suppress item %s for %s: %w", itemID, group, err)
	}
	return nil
}

// BlockSeller adds the seller to the blocklist that screens every future
// candidate batch.
func (s *SuppressionStore) BlockSeller(ctx context.Context, sellerName string) error {
	if sellerName == "" {
		return fmt.Errorf("seller name is required")
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO blocked_sellers (seller_name)
VALUES ($1)
ON CONFLICT (seller_name) DO NOTHING`, sellerName)
	if err != nil {
		return fmt.Errorf("block seller %s: %w", sellerName, err)
	}
	return nil
}

// Archive upserts the delivered listing into the item archive.
func (s *SuppressionStore) Archive(ctx context.Context, group string, listing monitor.Listing) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO archived_items (item_id, group_name, title, price, currency, seller_name, location, published, url)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (item_id) DO UPDATE
SET group_name = EXCLUDED.group_name,
    title = EXCLUDED.title,
    price = EXCLUDED.price,
    currency = EXCLUDED.currency,
    seller_name = EXCLUDED.seller_name,
    location = EXCLUDED.location,
    published = EXCLUDED.published,
    url = EXCLUDED.url,
    archived_at = now()`,
		listing.ItemID, group, listing.Title, listing.Price, listing.Currency,
		listing.SellerName, listing.Location, listing.Published, listing.URL)
	if err != nil {
		return fmt.Errorf("archive item %s: %w", listing.ItemID, err)
	}
	return nil
}
