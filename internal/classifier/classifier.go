// Package classifier maps a navigated page to a canonical outcome tag using
// cheap HTML and status-code signals.
package classifier

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/listwatch/listwatch/internal/monitor"
)

// Config controls the heuristic signals.
type Config struct {
	// ChallengeSelectors match CAPTCHA or interstitial markup.
	ChallengeSelectors []string
	// ChallengeKeywords match challenge phrases in the raw markup,
	// case-insensitively.
	ChallengeKeywords []string
	// CatalogSelector matches the listing container on a usable results page.
	CatalogSelector string
}

// Heuristic implements monitor.Classifier without any remote calls.
type Heuristic struct {
	challengeSelectors []string
	challengeKeywords  []string
	catalogSelector    string
}

// New constructs a heuristic classifier.
func New(cfg Config) (*Heuristic, error) {
	if cfg.CatalogSelector == "" {
		return nil, fmt.Errorf("catalog selector is required")
	}
	keywords := make([]string, 0, len(cfg.ChallengeKeywords))
	for _, kw := range cfg.ChallengeKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			keywords = append(keywords, kw)
		}
	}
	return &Heuristic{
		challengeSelectors: cfg.ChallengeSelectors,
		challengeKeywords:  keywords,
		catalogSelector:    cfg.CatalogSelector,
	}, nil
}

// Classify inspects status code first, then markup. Order matters: proxy-ban
// codes outrank challenge markup because an interstitial served over a banned
// proxy is still a ban.
func (h *Heuristic) Classify(ctx context.Context, page monitor.PageHandle) (monitor.Outcome, error) {
	switch page.StatusCode() {
	case http.StatusForbidden, http.StatusProxyAuthRequired:
		return monitor.OutcomeAccessDenied, nil
	case http.StatusTooManyRequests:
		return monitor.OutcomeRateLimited, nil
	}

	html, err := page.HTML(ctx)
	if err != nil {
		return monitor.OutcomeIndeterminate, fmt.Errorf("read page markup: %w", err)
	}
	if strings.TrimSpace(html) == "" {
		return monitor.OutcomeIndeterminate, nil
	}

	if h.containsChallengeKeyword(html) {
		return monitor.OutcomeChallengePresent, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return monitor.OutcomeIndeterminate, fmt.Errorf("parse page markup: %w", err)
	}
	for _, sel := range h.challengeSelectors {
		if sel == "" {
			continue
		}
		if doc.Find(sel).Length() > 0 {
			return monitor.OutcomeChallengePresent, nil
		}
	}
	if doc.Find(h.catalogSelector).Length() > 0 {
		return monitor.OutcomeContentReady, nil
	}
	return monitor.OutcomeIndeterminate, nil
}

func (h *Heuristic) containsChallengeKeyword(html string) bool {
	if len(h.challengeKeywords) == 0 {
		return false
	}
	lower := strings.ToLower(html)
	for _, kw := range h.challengeKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
