package fetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/localrank/gridrank/internal/rank"
)

// ProbeConfig controls the plain-HTTP probe fetcher.
type ProbeConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// Probe fetches results pages over plain HTTP through the request's proxy
// session. It implements rank.SearchFetcher.
type Probe struct {
	cfg ProbeConfig
}

// NewProbe creates a Probe.
func NewProbe(cfg ProbeConfig) *Probe {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Probe{cfg: cfg}
}

// Fetch executes one GET for the request's keyword and coordinate.
func (p *Probe) Fetch(ctx context.Context, req rank.SearchRequest) (rank.SearchContent, error) {
	collector := colly.NewCollector(colly.Async(false))
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(p.cfg.Timeout)
	if p.cfg.UserAgent != "" {
		collector.UserAgent = p.cfg.UserAgent
	}

	transport, err := proxyTransport(req.Proxy)
	if err != nil {
		return rank.SearchContent{}, err
	}
	collector.WithTransport(transport)

	var (
		content  rank.SearchContent
		fetchErr error
	)
	start := time.Now()
	collector.OnResponse(func(r *colly.Response) {
		content = rank.SearchContent{
			Body:       append([]byte(nil), r.Body...),
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		// Challenge interstitials arrive as HTTP errors; keep the body so
		// the detector can see them.
		if r != nil {
			content = rank.SearchContent{
				Body:       append([]byte(nil), r.Body...),
				StatusCode: r.StatusCode,
				Duration:   time.Since(start),
			}
		}
		fetchErr = err
	})

	target := SearchURL(req.Keyword, req.Lat, req.Lng)
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()
	select {
	case <-ctx.Done():
		return rank.SearchContent{}, fmt.Errorf("probe fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return content, fmt.Errorf("probe visit: %w", err)
		}
	}
	if fetchErr != nil {
		if content.StatusCode == http.StatusTooManyRequests || content.StatusCode == http.StatusForbidden {
			return content, nil
		}
		return content, fmt.Errorf("probe response: %w", fetchErr)
	}
	return content, nil
}

// proxyTransport builds a transport bound to the request's proxy session, or
// the environment proxy when none is set.
func proxyTransport(proxy rank.ProxyConfig) (*http.Transport, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
	if proxy.Server == "" {
		return transport, nil
	}
	proxyURL, err := url.Parse(proxy.Server)
	if err != nil {
		return nil, fmt.Errorf("parse proxy server: %w", err)
	}
	if proxy.Username != "" {
		proxyURL.User = url.UserPassword(proxy.Username, proxy.Password)
	}
	transport.Proxy = http.ProxyURL(proxyURL)
	return transport, nil
}
