// Package urlbuild constructs marketplace catalog URLs for a group's fetch
// targets from brand and model combinations.
package urlbuild

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Search describes one group's catalog search space.
type Search struct {
	// BaseURL is the marketplace origin, e.g. https://market.example.com.
	BaseURL string
	// Region is the region path segment. Empty means the all-regions segment.
	Region string
	// CategoryPath is the category path appended after the region, with a
	// leading slash.
	CategoryPath string
	// EnrichTerm, when set, is appended to every non-empty query so generic
	// brand names still land in the right category.
	EnrichTerm string
	// Brands and Models drive the query combinations. A brand with models
	// yields one URL for the bare brand plus one per model; no brands at all
	// yields a single query-less category URL.
	Brands []string
	Models map[string][]string
	// Params are static query parameters added to every URL.
	Params map[string]string
}

const allRegions = "all"

// TaskURLs expands the search space into fetch-target URLs, one per
// brand/model combination, in stable order.
func TaskURLs(s Search) ([]string, error) {
	if s.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if s.CategoryPath == "" {
		return nil, fmt.Errorf("category path is required")
	}

	if len(s.Brands) == 0 {
		u, err := build(s, "")
		if err != nil {
			return nil, err
		}
		return []string{u}, nil
	}

	var urls []string
	for _, brand := range s.Brands {
		u, err := build(s, brand)
		if err != nil {
			return nil, err
		}
		urls = append(urls, u)
		for _, model := range s.Models[brand] {
			u, err := build(s, brand+" "+model)
			if err != nil {
				return nil, err
			}
			urls = append(urls, u)
		}
	}
	return urls, nil
}

func build(s Search, query string) (string, error) {
	base, err := url.Parse(s.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}

	region := s.Region
	if region == "" {
		region = allRegions
	}
	base.Path = strings.TrimRight(base.Path, "/") + "/" + region + s.CategoryPath

	params := url.Values{}
	for _, key := range sortedKeys(s.Params) {
		params.Set(key, s.Params[key])
	}
	if query != "" {
		if s.EnrichTerm != "" {
			query = query + " " + s.EnrichTerm
		}
		params.Set("q", query)
	}
	base.RawQuery = params.Encode()
	return base.String(), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
