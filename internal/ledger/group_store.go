package ledger

import (
	"context"
	"fmt"

	"github.com/listwatch/listwatch/internal/monitor"
)

// GroupStore manages group rows. Groups are configured by operators and read
// by the lease path; the worker core never mutates them.
type GroupStore struct {
	pool Pool
}

// NewGroupStore builds a group store over an existing pool.
func NewGroupStore(pool Pool) (*GroupStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &GroupStore{pool: pool}, nil
}

// ListEnabled returns every enabled group.
func (s *GroupStore) ListEnabled(ctx context.Context) ([]monitor.Group, error) {
	rows, err := s.pool.Query(ctx, `
SELECT name, enabled, scope, destinations, min_price, max_price, category
FROM groups
WHERE enabled
ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var groups []monitor.Group
	for rows.Next() {
		var g monitor.Group
		if err := rows.Scan(&g.Name, &g.Enabled, &g.Scope, &g.Destinations, &g.MinPrice, &g.MaxPrice, &g.Category); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return groups, nil
}

// Upsert creates or updates a group row by name.
func (s *GroupStore) Upsert(ctx context.Context, g monitor.Group) error {
	if g.Name == "" {
		return fmt.Errorf("group name is required")
	}
	if g.Scope != monitor.ScopeGlobal && g.Scope != monitor.ScopeLocal {
		return fmt.Errorf("invalid scope %q", g.Scope)
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO groups (name, enabled, scope, destinations, min_price, max_price, category)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (name) DO UPDATE
SET enabled = EXCLUDED.enabled,
    scope = EXCLUDED.scope,
    destinations = EXCLUDED.destinations,
    min_price = EXCLUDED.min_price,
    max_price = EXCLUDED.max_price,
    category = EXCLUDED.category`,
		g.Name, g.Enabled, g.Scope, g.Destinations, g.MinPrice, g.MaxPrice, g.Category)
	if err != nil {
		return fmt.Errorf("upsert group %s: %w", g.Name, err)
	}
	return nil
}

// SetEnabled flips a group's enabled flag. Disabled groups keep their tasks
// but stop surfacing them to the lease path.
func (s *GroupStore) SetEnabled(ctx context.Context, name string, enabled bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE groups SET enabled = $2 WHERE name = $1`, name, enabled)
	if err != nil {
		return fmt.Errorf("set group %s enabled=%t: %w", name, enabled, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("group %s not found", name)
	}
	return nil
}
