package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"

	"github.com/listwatch/listwatch/internal/monitor"
)

// ResolverConfig controls the click-through challenge resolver.
type ResolverConfig struct {
	// ChallengeSelector matches the challenge markup; its absence after an
	// interaction means the challenge cleared.
	ChallengeSelector string
	// ClickSelector is the element the resolver clicks on each attempt.
	ClickSelector string
	// SettleDelay is how long to wait after a click before re-checking.
	SettleDelay time.Duration
}

// ClickResolver clears click-through interstitials on live browser pages.
// Static pages cannot be interacted with, so resolution always fails there.
type ClickResolver struct {
	cfg ResolverConfig
}

// NewClickResolver builds a resolver.
func NewClickResolver(cfg ResolverConfig) (*ClickResolver, error) {
	if cfg.ChallengeSelector == "" {
		return nil, fmt.Errorf("challenge selector is required")
	}
	if cfg.ClickSelector == "" {
		return nil, fmt.Errorf("click selector is required")
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 2 * time.Second
	}
	return &ClickResolver{cfg: cfg}, nil
}

type interactivePage interface {
	run(ctx context.Context, actions ...chromedp.Action) error
}

// NopResolver never clears a challenge. Deployments without a click-through
// selector use it so challenged pages go straight to retry.
type NopResolver struct{}

// Resolve reports the challenge as unresolved.
func (NopResolver) Resolve(context.Context, monitor.PageHandle, int) (bool, error) {
	return false, nil
}

// Resolve clicks the challenge element up to maxAttempts times, checking the
// DOM after each click. Returns true once the challenge markup is gone.
func (r *ClickResolver) Resolve(ctx context.Context, page monitor.PageHandle, maxAttempts int) (bool, error) {
	live, ok := page.(interactivePage)
	if !ok {
		return false, nil
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := live.run(ctx,
			chromedp.Click(r.cfg.ClickSelector, chromedp.ByQuery),
			chromedp.Sleep(r.cfg.SettleDelay),
		)
		if err != nil {
			return false, fmt.Errorf("challenge click attempt %d: %w", attempt+1, err)
		}

		cleared, err := r.cleared(ctx, page)
		if err != nil {
			return false, err
		}
		if cleared {
			return true, nil
		}
	}
	return false, nil
}

func (r *ClickResolver) cleared(ctx context.Context, page monitor.PageHandle) (bool, error) {
	html, err := page.HTML(ctx)
	if err != nil {
		return false, fmt.Errorf("read page after challenge click: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false, fmt.Errorf("parse page after challenge click: %w", err)
	}
	return doc.Find(r.cfg.ChallengeSelector).Length() == 0, nil
}
