package session

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/listwatch/listwatch/internal/monitor"
)

// StaticFactory builds plain-HTTP sessions on gocolly, for markets that
// serve complete markup without JavaScript.
type StaticFactory struct {
	cfg Config
}

// New builds a collector routed through the given proxy.
func (f *StaticFactory) New(_ context.Context, proxy *monitor.Proxy) (monitor.Session, error) {
	c := colly.NewCollector(colly.Async(false))
	if f.cfg.UserAgent != "" {
		c.UserAgent = f.cfg.UserAgent
	}
	c.IgnoreRobotsTxt = true
	c.SetRequestTimeout(f.cfg.NavigationTimeout)

	if proxy != nil {
		proxyURL, err := staticProxyURL(*proxy)
		if err != nil {
			return nil, err
		}
		if err := c.SetProxy(proxyURL); err != nil {
			return nil, fmt.Errorf("set proxy: %w", err)
		}
	}
	return &StaticSession{collector: c, timeout: f.cfg.NavigationTimeout}, nil
}

func staticProxyURL(p monitor.Proxy) (string, error) {
	server, user, pass, err := p.Endpoint()
	if err != nil {
		return "", fmt.Errorf("parse proxy descriptor: %w", err)
	}
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("parse proxy server: %w", err)
	}
	u.User = url.UserPassword(user, pass)
	return u.String(), nil
}

// StaticSession fetches pages over one proxied HTTP client.
type StaticSession struct {
	collector *colly.Collector
	timeout   time.Duration
}

// Navigate fetches the URL and snapshots status and body. Non-2xx responses
// are still pages: the classifier decides what a 403 or 429 means.
func (s *StaticSession) Navigate(ctx context.Context, target string) (monitor.PageHandle, error) {
	page := &staticPage{url: target}

	collector := s.collector.Clone()
	collector.OnResponse(func(r *colly.Response) {
		page.url = r.Request.URL.String()
		page.status = r.StatusCode
		page.html = string(r.Body)
	})
	var transportErr error
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			page.url = r.Request.URL.String()
			page.status = r.StatusCode
			page.html = string(r.Body)
			return
		}
		transportErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if transportErr != nil {
			return nil, fmt.Errorf("fetch %s: %w", target, transportErr)
		}
		if page.status == 0 && err != nil {
			return nil, fmt.Errorf("fetch %s: %w", target, err)
		}
	}
	return page, nil
}

// Close is a no-op; the collector holds no process resources.
func (s *StaticSession) Close() {}

type staticPage struct {
	url    string
	status int
	html   string
}

func (p *staticPage) URL() string                          { return p.url }
func (p *staticPage) StatusCode() int                      { return p.status }
func (p *staticPage) HTML(context.Context) (string, error) { return p.html, nil }
