// Package gate filters extracted listings and delivers the survivors,
// suppressing each one only after its delivery is confirmed.
package gate

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/listwatch/listwatch/internal/monitor"
)

// Config controls the local (pre-ledger) filter stage.
type Config struct {
	// FreshnessMarkers are the published-field values that count as fresh.
	// A listing whose published signal matches none of them, or is absent,
	// is rejected.
	FreshnessMarkers []string
}

// Gate owns the filter-and-deliver stage of the worker loop.
type Gate struct {
	suppressions monitor.SuppressionStore
	notifier     monitor.Notifier
	markers      map[string]struct{}
	logger       *zap.Logger
}

// New builds a gate. The notifier and suppression store are required.
func New(cfg Config, suppressions monitor.SuppressionStore, notifier monitor.Notifier, logger *zap.Logger) (*Gate, error) {
	if suppressions == nil {
		return nil, fmt.Errorf("suppression store is required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	if len(cfg.FreshnessMarkers) == 0 {
		return nil, fmt.Errorf("at least one freshness marker is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	markers := make(map[string]struct{}, len(cfg.FreshnessMarkers))
	for _, m := range cfg.FreshnessMarkers {
		markers[strings.ToLower(strings.TrimSpace(m))] = struct{}{}
	}
	return &Gate{
		suppressions: suppressions,
		notifier:     notifier,
		markers:      markers,
		logger:       logger,
	}, nil
}

// Process filters the batch and delivers the survivors in extraction order.
// Each listing is suppressed and archived only after every destination
// confirmed it; a delivery failure stops the batch immediately so undelivered
// listings stay unsuppressed and reappear on the next attempt. The returned
// count covers fully delivered listings only.
func (g *Gate) Process(ctx context.Context, task *monitor.Task, listings []monitor.Listing) (int, error) {
	if task == nil {
		return 0, fmt.Errorf("task is required")
	}

	candidates := g.filterLocal(task, listings)
	if len(candidates) == 0 {
		return 0, nil
	}

	candidates, err := g.suppressions.FilterBlocked(ctx, candidates, task.Scope, task.GroupName)
	if err != nil {
		return 0, fmt.Errorf("screen candidates: %w", err)
	}

	delivered := 0
	for _, listing := range candidates {
		for _, dest := range task.Destinations {
			if err := g.notifier.Deliver(ctx, dest, listing); err != nil {
				g.logger.Warn("delivery failed, stopping batch",
					zap.String("group", task.GroupName),
					zap.String("item_id", listing.ItemID),
					zap.String("destination", dest),
					zap.Int("delivered", delivered),
					zap.Error(err))
				return delivered, fmt.Errorf("deliver item %s to %s: %w: %w", listing.ItemID, dest, monitor.ErrDeliveryFailed, err)
			}
		}
		if err := g.suppress(ctx, task, listing); err != nil {
			return delivered, err
		}
		delivered++
	}
	return delivered, nil
}

// suppress records the delivered listing in both suppression sets and the
// archive. Both sets get the entry regardless of the group's scope so a later
// scope flip cannot resurface it.
func (g *Gate) suppress(ctx context.Context, task *monitor.Task, listing monitor.Listing) error {
	if err := g.suppressions.SuppressGlobal(ctx, listing.ItemID); err != nil {
		return fmt.Errorf("suppress item %s: %w", listing.ItemID, err)
	}
	if err := g.suppressions.SuppressLocal(ctx, listing.ItemID, task.GroupName); err != nil {
		return fmt.Errorf("suppress item %s: %w", listing.ItemID, err)
	}
	if err := g.suppressions.Archive(ctx, task.GroupName, listing); err != nil {
		return fmt.Errorf("archive item %s: %w", listing.ItemID, err)
	}
	return nil
}

// filterLocal applies the in-process checks: freshness and price bounds.
func (g *Gate) filterLocal(task *monitor.Task, listings []monitor.Listing) []monitor.Listing {
	var out []monitor.Listing
	for _, l := range listings {
		if !g.fresh(l.Published) {
			continue
		}
		if !withinPrice(task, l) {
			continue
		}
		out = append(out, l)
	}
	return out
}

func (g *Gate) fresh(published string) bool {
	key := strings.ToLower(strings.TrimSpace(published))
	if key == "" {
		return false
	}
	_, ok := g.markers[key]
	return ok
}

// withinPrice checks the group's price bounds. A listing without a parsed
// price fails any configured bound.
func withinPrice(task *monitor.Task, l monitor.Listing) bool {
	if task.MinPrice == nil && task.MaxPrice == nil {
		return true
	}
	if l.PriceValue == nil {
		return false
	}
	if task.MinPrice != nil && *l.PriceValue < *task.MinPrice {
		return false
	}
	if task.MaxPrice != nil && *l.PriceValue > *task.MaxPrice {
		return false
	}
	return true
}
