package crawler

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// FetcherConfig controls the Colly-backed fetcher.
type FetcherConfig struct {
	UserAgent      string
	RequestTimeout time.Duration
	// RateLimitRPS caps requests per second per domain; <= 0 disables the
	// politeness limiter.
	RateLimitRPS float64
}

// CollyFetcher implements Fetcher using the Colly collector. Each Fetch
// clones the base collector and dials through the proxy supplied in the
// request, so concurrent fetches can use different egress identities.
type CollyFetcher struct {
	base    *colly.Collector
	limiter *domainLimiter
	logger  *zap.Logger
}

// NewCollyFetcher constructs a configured Colly-based Fetcher.
func NewCollyFetcher(cfg FetcherConfig, logger *zap.Logger) (*CollyFetcher, error) {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "deepcrawl/1.0"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	base := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
	)
	base.SetRequestTimeout(cfg.RequestTimeout)
	base.WithTransport(&http.Transport{
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.RequestTimeout,
		ForceAttemptHTTP2:     true,
	})

	return &CollyFetcher{
		base:    base,
		limiter: newDomainLimiter(cfg.RateLimitRPS),
		logger:  logger,
	}, nil
}

// Fetch retrieves one page through req.Proxy and extracts outbound links
// with their anchor text.
func (f *CollyFetcher) Fetch(ctx context.Context, req FetchRequest) (FetchOutcome, error) {
	if err := f.limiter.Wait(ctx, req.URL); err != nil {
		return FetchOutcome{}, err
	}
	if err := ctx.Err(); err != nil {
		return FetchOutcome{}, err
	}

	collector := f.base.Clone()
	if req.Proxy.Host != "" {
		if err := collector.SetProxy(req.Proxy.URL().String()); err != nil {
			return FetchOutcome{}, &FetchError{Kind: FetchErrConnection, Retriable: true, Err: err}
		}
	}

	outcome := FetchOutcome{
		URL:            req.URL,
		AnchorContexts: make(map[string]string),
	}
	var fetchErr error

	collector.OnResponse(func(r *colly.Response) {
		outcome.StatusCode = r.StatusCode
		outcome.ContentType = r.Headers.Get("Content-Type")
		outcome.Text = string(r.Body)
	})
	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link == "" {
			return
		}
		if _, seen := outcome.AnchorContexts[link]; !seen {
			outcome.Links = append(outcome.Links, link)
		}
		// Last anchor text wins; a later, longer context is usually the
		// navigational label rather than an icon link.
		if text := strings.TrimSpace(e.Text); text != "" || outcome.AnchorContexts[link] == "" {
			outcome.AnchorContexts[link] = text
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = classifyFetchError(status, err)
	})

	// Visit runs in its own goroutine so cancellation interrupts an
	// in-flight fetch instead of waiting out the request timeout.
	done := make(chan error, 1)
	go func() {
		err := collector.Visit(req.URL)
		collector.Wait()
		done <- err
	}()
	select {
	case <-ctx.Done():
		return FetchOutcome{}, ctx.Err()
	case err := <-done:
		if err != nil {
			return FetchOutcome{}, classifyFetchError(0, err)
		}
	}

	if fetchErr != nil {
		return FetchOutcome{}, fetchErr
	}
	if outcome.StatusCode == 0 {
		return FetchOutcome{}, &FetchError{
			Kind:      FetchErrConnection,
			Retriable: true,
			Err:       errors.New("no response received"),
		}
	}
	return outcome, nil
}

// classifyFetchError maps transport and HTTP failures onto the retriable /
// non-retriable split the engine acts on.
func classifyFetchError(status int, err error) *FetchError {
	if err == nil {
		err = errors.New("unknown fetch error")
	}
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return &FetchError{Kind: FetchErrHTTP, StatusCode: status, Retriable: true, Err: err}
	case status >= 400:
		return &FetchError{Kind: FetchErrHTTP, StatusCode: status, Retriable: false, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &FetchError{Kind: FetchErrTimeout, Retriable: true, Err: err}
	}
	return &FetchError{Kind: FetchErrConnection, Retriable: true, Err: err}
}
