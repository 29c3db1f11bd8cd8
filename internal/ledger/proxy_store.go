package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/listwatch/listwatch/internal/monitor"
)

// leaseProxySQL leases one random free proxy. Random order spreads load so no
// single proxy absorbs every request burst.
const leaseProxySQL = `
WITH next_proxy AS (
    SELECT id
    FROM proxies
    WHERE NOT banned AND locked_by IS NULL
    ORDER BY random()
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
UPDATE proxies
SET locked_by = $1, locked_at = now()
FROM next_proxy
WHERE proxies.id = next_proxy.id
RETURNING proxies.id, proxies.url, proxies.banned`

// ProxyStore implements monitor.ProxyPool on Postgres.
type ProxyStore struct {
	pool Pool
}

// NewProxyStore builds a proxy store over an existing pool.
func NewProxyStore(pool Pool) (*ProxyStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ProxyStore{pool: pool}, nil
}

// LeaseFree leases a random non-banned, unleased proxy for holder. Returns
// (nil, nil) when the pool is exhausted.
func (s *ProxyStore) LeaseFree(ctx context.Context, holder string) (*monitor.Proxy, error) {
	if holder == "" {
		return nil, fmt.Errorf("holder is required")
	}
	var p monitor.Proxy
	err := s.pool.QueryRow(ctx, leaseProxySQL, holder).Scan(&p.ID, &p.URL, &p.Banned)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lease proxy: %w", err)
	}
	return &p, nil
}

// Ban marks the proxy permanently banned and clears any lease on it.
func (s *ProxyStore) Ban(ctx context.Context, proxyID int64) error {
	_, err := s.pool.Exec(ctx, `
UPDATE proxies
SET banned = TRUE, locked_by = NULL, locked_at = NULL
WHERE id = $1`, proxyID)
	if err != nil {
		return fmt.Errorf("ban proxy %d: %w", proxyID, err)
	}
	return nil
}

// Renew refreshes the lease timestamp on every proxy the holder has, so a
// lease backing a long-lived session is not reclaimed while still in use.
// Renewing without a lease is a no-op.
func (s *ProxyStore) Renew(ctx context.Context, holder string) error {
	_, err := s.pool.Exec(ctx, `
UPDATE proxies
SET locked_at = now()
WHERE locked_by = $1`, holder)
	if err != nil {
		return fmt.Errorf("renew proxies for %s: %w", holder, err)
	}
	return nil
}

// Release clears every lease the holder has on proxies. Idempotent.
func (s *ProxyStore) Release(ctx context.Context, holder string) error {
	_, err := s.pool.Exec(ctx, `
UPDATE proxies
SET locked_by = NULL, locked_at = NULL
WHERE locked_by = $1`, holder)
	if err != nil {
		return fmt.Errorf("release proxies for %s: %w", holder, err)
	}
	return nil
}

// ReclaimExpired clears proxy leases older than maxAge. Ban flags survive.
func (s *ProxyStore) ReclaimExpired(ctx context.Context, maxAgeSeconds int64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE proxies
SET locked_by = NULL, locked_at = NULL
WHERE locked_at IS NOT NULL AND locked_at < now() - make_interval(secs => $1)`, maxAgeSeconds)
	if err != nil {
		return 0, fmt.Errorf("reclaim proxies: %w", err)
	}
	return tag.RowsAffected(), nil
}

// InsertProxies adds proxy descriptors to the pool, skipping duplicates.
func (s *ProxyStore) InsertProxies(ctx context.Context, urls []string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
INSERT INTO proxies (url)
SELECT unnest($1::text[])
ON CONFLICT (url) DO NOTHING`, urls)
	if err != nil {
		return 0, fmt.Errorf("insert proxies: %w", err)
	}
	return tag.RowsAffected(), nil
}
