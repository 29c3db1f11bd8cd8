package session

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/listwatch/listwatch/internal/monitor"
)

// BrowserFactory builds chromedp-backed sessions.
type BrowserFactory struct {
	cfg Config
}

// New starts a browser process routed through the given proxy and opens one
// long-lived tab. The tab survives across navigations so cookies and the
// challenge state persist for the session's lifetime.
func (f *BrowserFactory) New(ctx context.Context, proxy *monitor.Proxy) (monitor.Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", f.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)

	var username, password string
	if proxy != nil {
		server, user, pass, err := proxy.Endpoint()
		if err != nil {
			return nil, fmt.Errorf("parse proxy descriptor: %w", err)
		}
		username, password = user, pass
		opts = append(opts, chromedp.ProxyServer(server))
	}

	// The allocator hangs off Background so the session outlives the caller's
	// per-operation context; Close tears it down.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	s := &BrowserSession{
		allocCancel: allocCancel,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		navTimeout:  f.cfg.NavigationTimeout,
		meta:        &responseMeta{},
	}
	s.listen(username, password)

	if err := s.bootstrap(username != "", f.cfg.UserAgent); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// BrowserSession is one headless browser bound to one proxy.
type BrowserSession struct {
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	navTimeout  time.Duration
	meta        *responseMeta
}

func (s *BrowserSession) listen(username, password string) {
	chromedp.ListenTarget(s.tabCtx, func(ev any) {
		switch e := ev.(type) {
		case *network.EventResponseReceived:
			s.meta.capture(e)
		case *fetch.EventAuthRequired:
			execCtx := cdp.WithExecutor(s.tabCtx, chromedp.FromContext(s.tabCtx).Target)
			go func() {
				_ = fetch.ContinueWithAuth(e.RequestID, &fetch.AuthChallengeResponse{
					Response: fetch.AuthChallengeResponseResponseProvideCredentials,
					Username: username,
					Password: password,
				}).Do(execCtx)
			}()
		case *fetch.EventRequestPaused:
			execCtx := cdp.WithExecutor(s.tabCtx, chromedp.FromContext(s.tabCtx).Target)
			go func() {
				_ = fetch.ContinueRequest(e.RequestID).Do(execCtx)
			}()
		}
	})
}

func (s *BrowserSession) bootstrap(proxyAuth bool, userAgent string) error {
	actions := []chromedp.Action{network.Enable()}
	if proxyAuth {
		// Fetch interception is only needed to answer the proxy's auth
		// challenge; without credentials it just slows every request down.
		actions = append(actions, fetch.Enable().WithHandleAuthRequests(true))
	}
	if userAgent != "" {
		actions = append(actions, emulation.SetUserAgentOverride(userAgent))
	}

	runCtx, cancel := context.WithTimeout(s.tabCtx, s.navTimeout)
	defer cancel()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		return fmt.Errorf("bootstrap browser session: %w", err)
	}
	return nil
}

// Navigate loads the URL in the session tab and waits for the document body.
func (s *BrowserSession) Navigate(ctx context.Context, url string) (monitor.PageHandle, error) {
	s.meta.reset()

	runCtx, cancel := context.WithTimeout(s.tabCtx, s.navTimeout)
	defer cancel()

	var finalURL string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500*time.Millisecond),
		chromedp.Location(&finalURL),
	)
	if err != nil {
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}

	status, respURL := s.meta.snapshot()
	if respURL == "" {
		respURL = finalURL
	}
	if respURL == "" {
		respURL = url
	}
	if status == 0 {
		status = http.StatusOK
	}
	return &browserPage{session: s, url: respURL, status: status}, nil
}

// Close tears down the tab and the browser process.
func (s *BrowserSession) Close() {
	s.tabCancel()
	s.allocCancel()
}

// browserPage reads the live DOM, so HTML reflects any interaction that
// happened after navigation.
type browserPage struct {
	session *BrowserSession
	url     string
	status  int
}

func (p *browserPage) URL() string     { return p.url }
func (p *browserPage) StatusCode() int { return p.status }

func (p *browserPage) HTML(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read page markup: %w", err)
	}
	return html, nil
}

// run executes actions against the session tab, bounded by both the caller's
// context and the session's navigation timeout.
func (p *browserPage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(p.session.tabCtx, p.session.navTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(runCtx, actions...)
	}()
	select {
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// responseMeta records the document response of the latest navigation.
type responseMeta struct {
	mu     sync.Mutex
	status int
	url    string
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) reset() {
	m.mu.Lock()
	m.status = 0
	m.url = ""
	m.mu.Unlock()
}

func (m *responseMeta) snapshot() (int, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, m.url
}
