package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/localrank/gridrank/internal/rank"
)

// HeadlessConfig controls the headless browser fetcher.
type HeadlessConfig struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	Proxy             rank.ProxyConfig
}

// Headless fetches fully rendered results pages with headless Chrome. It
// implements rank.SearchFetcher and is the promotion target when the probe
// hits a bot challenge.
type Headless struct {
	cfg         HeadlessConfig
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewHeadless creates a Headless fetcher with a shared browser allocator.
func NewHeadless(cfg HeadlessConfig) (*Headless, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.Proxy.Server != "" {
		opts = append(opts, chromedp.ProxyServer(cfg.Proxy.Server))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Headless{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the browser allocator.
func (h *Headless) Close() {
	h.allocCancel()
}

// Fetch navigates to the results page and returns the rendered DOM.
func (h *Headless) Fetch(ctx context.Context, req rank.SearchRequest) (rank.SearchContent, error) {
	if err := h.acquire(ctx); err != nil {
		return rank.SearchContent{}, err
	}
	defer h.release()

	taskCtx, taskCancel := chromedp.NewContext(h.allocator)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, h.cfg.NavigationTimeout)
	defer cancel()

	meta := &responseMeta{}
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	target := SearchURL(req.Keyword, req.Lat, req.Lng)
	start := time.Now()
	var html, finalURL string
	actions := []chromedp.Action{
		h.networkSetup(),
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return rank.SearchContent{}, fmt.Errorf("headless fetch: %w", err)
	}

	status, respURL := meta.snapshot()
	if status == 0 {
		status = 200
	}
	if respURL == "" {
		respURL = finalURL
	}
	if respURL == "" {
		respURL = target
	}
	return rank.SearchContent{
		Body:         []byte(html),
		URL:          respURL,
		StatusCode:   status,
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

func (h *Headless) networkSetup() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if h.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(h.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (h *Headless) acquire(ctx context.Context) error {
	if h.limiter == nil {
		return nil
	}
	select {
	case h.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (h *Headless) release() {
	if h.limiter == nil {
		return
	}
	select {
	case <-h.limiter:
	default:
	}
}

// responseMeta captures the document response from CDP network events.
type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.url = resp.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) snapshot() (int, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, m.url
}
