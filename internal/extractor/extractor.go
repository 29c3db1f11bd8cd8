// Package extractor pulls structured listings out of catalog pages using
// configured CSS selectors.
package extractor

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/listwatch/listwatch/internal/monitor"
)

// Config holds the per-marketplace selector set.
type Config struct {
	// ItemSelector matches one catalog card.
	ItemSelector string
	// ItemIDAttr is the card attribute carrying the stable item identifier.
	// When empty the identifier is derived from the item link path.
	ItemIDAttr string
	// Field selectors are evaluated relative to the card.
	TitleSelector     string
	PriceSelector     string
	SellerSelector    string
	LocationSelector  string
	PublishedSelector string
	LinkSelector      string
}

// CSS implements monitor.Extractor with goquery.
type CSS struct {
	cfg Config
}

// New constructs a CSS extractor.
func New(cfg Config) (*CSS, error) {
	if cfg.ItemSelector == "" {
		return nil, fmt.Errorf("item selector is required")
	}
	if cfg.LinkSelector == "" {
		return nil, fmt.Errorf("link selector is required")
	}
	return &CSS{cfg: cfg}, nil
}

// Extract parses the page and returns the listings in document order.
// Cards without a resolvable identifier are skipped rather than failing the
// batch. Zero usable cards is a valid result, reported as extraction_empty.
func (e *CSS) Extract(ctx context.Context, page monitor.PageHandle, targetURL string) ([]monitor.Listing, monitor.Outcome, error) {
	html, err := page.HTML(ctx)
	if err != nil {
		return nil, monitor.OutcomeIndeterminate, fmt.Errorf("read page markup: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, monitor.OutcomeIndeterminate, fmt.Errorf("parse page markup: %w", err)
	}

	base, err := url.Parse(targetURL)
	if err != nil {
		return nil, monitor.OutcomeIndeterminate, fmt.Errorf("parse target url: %w", err)
	}

	var listings []monitor.Listing
	doc.Find(e.cfg.ItemSelector).Each(func(_ int, card *goquery.Selection) {
		l, ok := e.extractCard(card, base)
		if ok {
			listings = append(listings, l)
		}
	})

	if len(listings) == 0 {
		return nil, monitor.OutcomeExtractionEmpty, nil
	}
	return listings, monitor.OutcomeExtractionOK, nil
}

func (e *CSS) extractCard(card *goquery.Selection, base *url.URL) (monitor.Listing, bool) {
	link := e.resolveLink(card, base)

	id := ""
	if e.cfg.ItemIDAttr != "" {
		id, _ = card.Attr(e.cfg.ItemIDAttr)
	}
	if id == "" {
		id = idFromLink(link)
	}
	if id == "" {
		return monitor.Listing{}, false
	}

	price := text(card, e.cfg.PriceSelector)
	value, currency := parsePrice(price)

	return monitor.Listing{
		ItemID:     id,
		Title:      text(card, e.cfg.TitleSelector),
		Price:      price,
		PriceValue: value,
		Currency:   currency,
		SellerName: text(card, e.cfg.SellerSelector),
		Location:   text(card, e.cfg.LocationSelector),
		Published:  text(card, e.cfg.PublishedSelector),
		URL:        link,
	}, true
}

func (e *CSS) resolveLink(card *goquery.Selection, base *url.URL) string {
	href, ok := card.Find(e.cfg.LinkSelector).First().Attr("href")
	if !ok || href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

func text(card *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(card.Find(selector).First().Text())
}

// idFromLink takes the last non-empty path segment of the item link.
func idFromLink(link string) string {
	if link == "" {
		return ""
	}
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i] != "" {
			return segments[i]
		}
	}
	return ""
}

// parsePrice pulls the integer amount out of a display price like
// "1 250 EUR" or "$1,250". The remainder after removing digits, spacing, and
// separators is taken as the currency marker.
func parsePrice(raw string) (*int64, string) {
	var digits strings.Builder
	var currency strings.Builder
	for _, r := range raw {
		switch {
		case unicode.IsDigit(r):
			digits.WriteRune(r)
		case unicode.IsSpace(r), r == ',', r == '.':
			// grouping and decimal separators carry no signal here
		default:
			currency.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return nil, strings.TrimSpace(currency.String())
	}
	v, err := strconv.ParseInt(digits.String(), 10, 64)
	if err != nil {
		return nil, strings.TrimSpace(currency.String())
	}
	return &v, strings.TrimSpace(currency.String())
}
