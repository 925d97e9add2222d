package crawler

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crawlkit/deepcrawl/internal/proxy"
)

// stubFetcher serves a static page graph and records every request in order.
type stubFetcher struct {
	mu    sync.Mutex
	pages map[string]FetchOutcome
	errs  map[string][]error
	calls []FetchRequest
	// generate, when set, synthesizes outcomes for unknown URLs.
	generate func(req FetchRequest) FetchOutcome
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		pages: make(map[string]FetchOutcome),
		errs:  make(map[string][]error),
	}
}

func (f *stubFetcher) page(url string, links []string, anchors map[string]string) {
	f.pages[url] = FetchOutcome{
		URL:            url,
		StatusCode:     200,
		ContentType:    "text/html",
		Text:           "content of " + url,
		Links:          links,
		AnchorContexts: anchors,
	}
}

func (f *stubFetcher) failOnce(url string, err error) {
	f.errs[url] = append(f.errs[url], err)
}

func (f *stubFetcher) Fetch(ctx context.Context, req FetchRequest) (FetchOutcome, error) {
	if err := ctx.Err(); err != nil {
		return FetchOutcome{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if queue := f.errs[req.URL]; len(queue) > 0 {
		err := queue[0]
		f.errs[req.URL] = queue[1:]
		return FetchOutcome{}, err
	}
	if out, ok := f.pages[req.URL]; ok {
		return out, nil
	}
	if f.generate != nil {
		return f.generate(req), nil
	}
	return FetchOutcome{URL: req.URL, StatusCode: 200, ContentType: "text/html"}, nil
}

func (f *stubFetcher) calledURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	urls := make([]string, len(f.calls))
	for i, c := range f.calls {
		urls[i] = c.URL
	}
	return urls
}

func (f *stubFetcher) proxyHosts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	hosts := make([]string, len(f.calls))
	for i, c := range f.calls {
		hosts[i] = c.Proxy.Host
	}
	return hosts
}

// immediateRetryPolicy retries without backoff to keep tests fast.
type immediateRetryPolicy struct{ max int }

func (p immediateRetryPolicy) ShouldRetry(err error, attempt int) bool {
	return IsRetriable(err) && attempt < p.max
}

func (p immediateRetryPolicy) Backoff(int) time.Duration { return 0 }

func newTestEngine(t *testing.T, f Fetcher, nProxies, concurrency int) *Engine {
	t.Helper()
	entries := make([]proxy.Entry, nProxies)
	for i := range entries {
		entries[i] = proxy.Entry{Host: fmt.Sprintf("proxy%d", i), Port: 1000 + i}
	}
	rot, err := proxy.NewRotator(entries)
	require.NoError(t, err)
	eng, err := NewEngine(EngineConfig{Concurrency: concurrency, MaxRetries: 2}, f, rot, zap.NewNop(), nil)
	require.NoError(t, err)
	return eng.WithRetryPolicy(immediateRetryPolicy{max: 2})
}

func testSpec(kind Strategy, maxPages, maxDepth int) StrategySpec {
	return StrategySpec{
		Kind:     kind,
		MaxPages: maxPages,
		MaxDepth: maxDepth,
		Filters: FilterSpec{
			AllowedDomains:      []string{"example.com"},
			URLPatterns:         []string{"*"},
			AllowedContentTypes: []string{"text/html"},
		},
	}
}

func collect(t *testing.T, stream <-chan Result) []Result {
	t.Helper()
	var results []Result
	timeout := time.After(10 * time.Second)
	for {
		select {
		case res, ok := <-stream:
			if !ok {
				return results
			}
			results = append(results, res)
		case <-timeout:
			t.Fatal("result stream did not terminate")
		}
	}
}

func resultURLs(results []Result) []string {
	urls := make([]string, len(results))
	for i, r := range results {
		urls[i] = r.URL
	}
	return urls
}

// MockFetcher is a testify mock over the Fetcher collaborator.
type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) Fetch(ctx context.Context, req FetchRequest) (FetchOutcome, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(FetchOutcome), args.Error(1)
}

func TestEngineSinglePageCrawl(t *testing.T) {
	t.Parallel()

	fetcher := new(MockFetcher)
	fetcher.On("Fetch", mock.Anything, mock.MatchedBy(func(req FetchRequest) bool {
		return req.URL == "https://example.com/" && req.Depth == 0
	})).Return(FetchOutcome{
		URL:         "https://example.com/",
		StatusCode:  200,
		ContentType: "text/html; charset=utf-8",
		Text:        "hello",
	}, nil).Once()

	eng := newTestEngine(t, fetcher, 1, 1)
	require.NoError(t, eng.SetStrategy(testSpec(StrategyBFS, 5, 2)))

	stream, err := eng.Start(context.Background(), "https://example.com/")
	require.NoError(t, err)

	results := collect(t, stream)
	require.Len(t, results, 1)
	require.Equal(t, "hello", results[0].Content)
	require.Equal(t, 0, results[0].Depth)
	require.Equal(t, StateCompleted, eng.State())
	fetcher.AssertExpectations(t)
}

func TestEngineBudgetExhaustedScenario(t *testing.T) {
	t.Parallel()

	// Seed yields three links; with max_pages = 2 exactly the seed and the
	// first-discovered link are emitted.
	fetcher := newStubFetcher()
	fetcher.page("https://example.com/", []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/c",
	}, nil)

	eng := newTestEngine(t, fetcher, 3, 1)
	require.NoError(t, eng.SetStrategy(testSpec(StrategyBFS, 2, 2)))

	stream, err := eng.Start(context.Background(), "https://example.com/")
	require.NoError(t, err)

	results := collect(t, stream)
	require.Equal(t, []string{"https://example.com/", "https://example.com/a"}, resultURLs(results))
	require.Equal(t, StateBudgetExhausted, eng.State())
	require.Equal(t, 2, eng.SnapshotSession().PagesFetched)
}

func TestEngineDedup(t *testing.T) {
	t.Parallel()

	fetcher := newStubFetcher()
	fetcher.page("https://example.com/", []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/a",
	}, nil)
	fetcher.page("https://example.com/a", []string{
		"https://example.com/b",
		"https://example.com/",
	}, nil)

	eng := newTestEngine(t, fetcher, 1, 1)
	require.NoError(t, eng.SetStrategy(testSpec(StrategyBFS, 10, 3)))

	stream, err := eng.Start(context.Background(), "https://example.com/")
	require.NoError(t, err)

	results := collect(t, stream)
	urls := resultURLs(results)
	seen := make(map[string]int)
	for _, u := range urls {
		seen[u]++
	}
	for u, n := range seen {
		require.Equal(t, 1, n, "url %s emitted %d times", u, n)
	}
	require.Len(t, urls, 3)
	require.Equal(t, StateCompleted, eng.State())
}

func TestEngineBudgetOnInfiniteGraph(t *testing.T) {
	t.Parallel()

	// Every page links to three fresh URLs; only the budget stops the crawl.
	var counter int64
	var mu sync.Mutex
	fetcher := newStubFetcher()
	fetcher.generate = func(req FetchRequest) FetchOutcome {
		mu.Lock()
		defer mu.Unlock()
		links := make([]string, 3)
		for i := range links {
			counter++
			links[i] = fmt.Sprintf("https://example.com/p/%d", counter)
		}
		return FetchOutcome{
			URL:         req.URL,
			StatusCode:  200,
			ContentType: "text/html",
			Links:       links,
		}
	}

	eng := newTestEngine(t, fetcher, 2, 4)
	require.NoError(t, eng.SetStrategy(testSpec(StrategyBFS, 5, 100)))

	stream, err := eng.Start(context.Background(), "https://example.com/")
	require.NoError(t, err)

	results := collect(t, stream)
	require.Len(t, results, 5)
	require.Equal(t, StateBudgetExhausted, eng.State())
}

func TestEngineDomainContainment(t *testing.T) {
	t.Parallel()

	fetcher := newStubFetcher()
	fetcher.page("https://example.com/", []string{
		"https://other.com/news/1",
		"https://sub.example.com/x",
		"https://example.com.evil.net/y",
	}, nil)

	eng := newTestEngine(t, fetcher, 1, 1)
	require.NoError(t, eng.SetStrategy(testSpec(StrategyBFS, 10, 2)))

	stream, err := eng.Start(context.Background(), "https://example.com/")
	require.NoError(t, err)

	results := collect(t, stream)
	require.Equal(t, []string{"https://example.com/", "https://sub.example.com/x"}, resultURLs(results))
	for _, u := range fetcher.calledURLs() {
		require.NotContains(t, u, "other.com")
		require.NotContains(t, u, "evil.net")
	}
}

func TestEngineDepthContainment(t *testing.T) {
	t.Parallel()

	fetcher := newStubFetcher()
	fetcher.page("https://example.com/", []string{"https://example.com/d1"}, nil)
	fetcher.page("https://example.com/d1", []string{"https://example.com/d2"}, nil)
	fetcher.page("https://example.com/d2", []string{"https://example.com/d3"}, nil)

	eng := newTestEngine(t, fetcher, 1, 1)
	require.NoError(t, eng.SetStrategy(testSpec(StrategyBFS, 10, 2)))

	stream, err := eng.Start(context.Background(), "https://example.com/")
	require.NoError(t, err)

	results := collect(t, stream)
	require.Equal(t, []string{
		"https://example.com/",
		"https://example.com/d1",
		"https://example.com/d2",
	}, resultURLs(results))
	for _, r := range results {
		require.LessOrEqual(t, r.Depth, 2)
	}
	require.Equal(t, StateCompleted, eng.State())
}

func TestEngineBestFirstDispatchOrder(t *testing.T) {
	t.Parallel()

	// Anchor text at discovery time drives priority: two keyword hits beat
	// one beat zero. Dispatch at concurrency 1 must be non-increasing.
	fetcher := newStubFetcher()
	fetcher.page("https://example.com/", []string{
		"https://example.com/x",
		"https://example.com/y",
		"https://example.com/z",
	}, map[string]string{
		"https://example.com/x": "latest news",
		"https://example.com/y": "about us",
		"https://example.com/z": "daily news roundup",
	})

	spec := testSpec(StrategyBestFirst, 10, 2)
	spec.Score = ScoreSpec{Keywords: []string{"news", "daily"}, Weight: 0.7}

	eng := newTestEngine(t, fetcher, 1, 1)
	require.NoError(t, eng.SetStrategy(spec))

	stream, err := eng.Start(context.Background(), "https://example.com/")
	require.NoError(t, err)
	collect(t, stream)

	require.Equal(t, []string{
		"https://example.com/",
		"https://example.com/z",
		"https://example.com/x",
		"https://example.com/y",
	}, fetcher.calledURLs())
}

func TestEngineBestFirstTiesDispatchInDiscoveryOrder(t *testing.T) {
	t.Parallel()

	fetcher := newStubFetcher()
	fetcher.page("https://example.com/", []string{
		"https://example.com/first",
		"https://example.com/second",
		"https://example.com/third",
	}, nil) // no anchors: every link scores 0

	spec := testSpec(StrategyBestFirst, 10, 1)
	spec.Score = ScoreSpec{Keywords: []string{"news"}, Weight: 0.7}

	eng := newTestEngine(t, fetcher, 1, 1)
	require.NoError(t, eng.SetStrategy(spec))

	stream, err := eng.Start(context.Background(), "https://example.com/")
	require.NoError(t, err)
	collect(t, stream)

	require.Equal(t, []string{
		"https://example.com/",
		"https://example.com/first",
		"https://example.com/second",
		"https://example.com/third",
	}, fetcher.calledURLs())
}

func TestEngineProxyRotation(t *testing.T) {
	t.Parallel()

	fetcher := newStubFetcher()
	fetcher.page("https://example.com/", []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/c",
		"https://example.com/d",
	}, nil)

	eng := newTestEngine(t, fetcher, 3, 1)
	require.NoError(t, eng.SetStrategy(testSpec(StrategyBFS, 10, 1)))

	stream, err := eng.Start(context.Background(), "https://example.com/")
	require.NoError(t, err)
	collect(t, stream)

	require.Equal(t, []string{"proxy0", "proxy1", "proxy2", "proxy0", "proxy1"}, fetcher.proxyHosts())
}

func TestEngineRetryUsesNextProxy(t *testing.T) {
	t.Parallel()

	fetcher := newStubFetcher()
	fetcher.page("https://example.com/", []string{"https://example.com/a"}, nil)
	fetcher.failOnce("https://example.com/", &FetchError{
		Kind: FetchErrTimeout, Retriable: true, Err: errors.New("timeout"),
	})

	eng := newTestEngine(t, fetcher, 2, 1)
	require.NoError(t, eng.SetStrategy(testSpec(StrategyBFS, 10, 1)))

	stream, err := eng.Start(context.Background(), "https://example.com/")
	require.NoError(t, err)
	results := collect(t, stream)

	// Retry consumed the next rotation slot, so the following page wraps
	// back to the first proxy.
	require.Equal(t, []string{"proxy0", "proxy1", "proxy0"}, fetcher.proxyHosts())
	require.Len(t, results, 2)
}

func TestEngineNonRetriableDropsImmediately(t *testing.T) {
	t.Parallel()

	fetcher := newStubFetcher()
	fetcher.page("https://example.com/", []string{"https://example.com/gone"}, nil)
	fetcher.failOnce("https://example.com/gone", &FetchError{
		Kind: FetchErrHTTP, StatusCode: 404, Retriable: false, Err: errors.New("not found"),
	})

	eng := newTestEngine(t, fetcher, 1, 1)
	require.NoError(t, eng.SetStrategy(testSpec(StrategyBFS, 10, 1)))

	stream, err := eng.Start(context.Background(), "https://example.com/")
	require.NoError(t, err)
	results := collect(t, stream)

	require.Equal(t, []string{"https://example.com/"}, resultURLs(results))
	require.Equal(t, []string{"https://example.com/", "https://example.com/gone"}, fetcher.calledURLs())
	require.Equal(t, StateCompleted, eng.State(), "a bad page never aborts the session")
}

func TestEngineRetriesExhaustedDropURL(t *testing.T) {
	t.Parallel()

	timeoutErr := &FetchError{Kind: FetchErrTimeout, Retriable: true, Err: errors.New("timeout")}
	fetcher := newStubFetcher()
	fetcher.page("https://example.com/", []string{"https://example.com/flaky"}, nil)
	for i := 0; i < 3; i++ {
		fetcher.failOnce("https://example.com/flaky", timeoutErr)
	}

	eng := newTestEngine(t, fetcher, 1, 1)
	require.NoError(t, eng.SetStrategy(testSpec(StrategyBFS, 10, 1)))

	stream, err := eng.Start(context.Background(), "https://example.com/")
	require.NoError(t, err)
	results := collect(t, stream)

	require.Len(t, results, 1)
	// 1 attempt for the seed, then 1 + 2 retries for the flaky page.
	require.Len(t, fetcher.calledURLs(), 4)
	require.Equal(t, StateCompleted, eng.State())
}

func TestEnginePostFetchContentTypeReject(t *testing.T) {
	t.Parallel()

	fetcher := newStubFetcher()
	fetcher.page("https://example.com/", []string{"https://example.com/report"}, nil)
	fetcher.pages["https://example.com/report"] = FetchOutcome{
		URL:         "https://example.com/report",
		StatusCode:  200,
		ContentType: "application/pdf",
		Text:        "%PDF-1.7",
	}

	eng := newTestEngine(t, fetcher, 1, 1)
	require.NoError(t, eng.SetStrategy(testSpec(StrategyBFS, 10, 1)))

	stream, err := eng.Start(context.Background(), "https://example.com/")
	require.NoError(t, err)
	results := collect(t, stream)

	// The link was eligible for enqueue without content-type metadata; the
	// page is dropped only after fetch, with no result emitted.
	require.Equal(t, []string{"https://example.com/"}, resultURLs(results))
	require.Contains(t, fetcher.calledURLs(), "https://example.com/report")
	require.Equal(t, StateCompleted, eng.State())
}

func TestEngineSeedBypassesAdmission(t *testing.T) {
	t.Parallel()

	fetcher := newStubFetcher()
	fetcher.page("https://example.com/", []string{
		"https://example.com/news/1",
		"https://example.com/sports/1",
	}, nil)

	spec := testSpec(StrategyBFS, 10, 1)
	spec.Filters.URLPatterns = []string{"*news*"}

	eng := newTestEngine(t, fetcher, 1, 1)
	require.NoError(t, eng.SetStrategy(spec))

	// The operator-supplied seed does not match *news* but is crawled anyway.
	stream, err := eng.Start(context.Background(), "https://example.com/")
	require.NoError(t, err)
	results := collect(t, stream)

	require.Equal(t, []string{"https://example.com/", "https://example.com/news/1"}, resultURLs(results))
}

func TestEngineCancel(t *testing.T) {
	t.Parallel()

	fetcher := newStubFetcher()
	fetcher.page("https://example.com/", []string{"https://example.com/slow"}, nil)
	blockStarted := make(chan struct{})
	blocking := &blockingFetcher{inner: fetcher, blockURL: "https://example.com/slow", started: blockStarted}

	eng := newTestEngine(t, blocking, 1, 1)
	require.NoError(t, eng.SetStrategy(testSpec(StrategyBFS, 10, 1)))

	stream, err := eng.Start(context.Background(), "https://example.com/")
	require.NoError(t, err)

	go func() {
		<-blockStarted
		eng.Cancel()
	}()

	results := collect(t, stream)
	require.Equal(t, []string{"https://example.com/"}, resultURLs(results), "in-flight page is discarded, not emitted")
	require.Equal(t, StateCancelled, eng.State())
}

type blockingFetcher struct {
	inner    Fetcher
	blockURL string
	started  chan struct{}
	once     sync.Once
}

func (f *blockingFetcher) Fetch(ctx context.Context, req FetchRequest) (FetchOutcome, error) {
	if req.URL == f.blockURL {
		f.once.Do(func() { close(f.started) })
		<-ctx.Done()
		return FetchOutcome{}, ctx.Err()
	}
	return f.inner.Fetch(ctx, req)
}

func TestEngineStartWithoutStrategy(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t, newStubFetcher(), 1, 1)
	_, err := eng.Start(context.Background(), "https://example.com/")
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestEngineStartTwice(t *testing.T) {
	t.Parallel()

	fetcher := newStubFetcher()
	fetcher.page("https://example.com/", nil, nil)
	eng := newTestEngine(t, fetcher, 1, 1)
	require.NoError(t, eng.SetStrategy(testSpec(StrategyBFS, 1, 0)))

	stream, err := eng.Start(context.Background(), "https://example.com/")
	require.NoError(t, err)
	_, err = eng.Start(context.Background(), "https://example.com/")
	require.ErrorIs(t, err, ErrAlreadyStarted)
	collect(t, stream)
}

func TestEngineInvalidSeedFails(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t, newStubFetcher(), 1, 1)
	require.NoError(t, eng.SetStrategy(testSpec(StrategyBFS, 1, 0)))

	_, err := eng.Start(context.Background(), "not a url")
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, StateFailed, eng.State())
}

func TestEngineSetStrategyValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*StrategySpec)
	}{
		{"malformed glob", func(s *StrategySpec) { s.Filters.URLPatterns = []string{"[bad"} }},
		{"zero page budget", func(s *StrategySpec) { s.MaxPages = 0 }},
		{"negative depth", func(s *StrategySpec) { s.MaxDepth = -1 }},
		{"unknown strategy", func(s *StrategySpec) { s.Kind = "dfs" }},
		{"bad scorer weight", func(s *StrategySpec) {
			s.Kind = StrategyBestFirst
			s.Score = ScoreSpec{Keywords: []string{"x"}, Weight: 2}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newTestEngine(t, newStubFetcher(), 1, 1)
			spec := testSpec(StrategyBFS, 5, 2)
			tt.mutate(&spec)
			var cfgErr *ConfigError
			require.ErrorAs(t, eng.SetStrategy(spec), &cfgErr)
		})
	}
}

func TestEngineConcurrentWorkersNoDuplicates(t *testing.T) {
	t.Parallel()

	links := make([]string, 20)
	for i := range links {
		links[i] = fmt.Sprintf("https://example.com/wide/%d", i)
	}
	fetcher := newStubFetcher()
	fetcher.page("https://example.com/", links, nil)

	eng := newTestEngine(t, fetcher, 3, 8)
	require.NoError(t, eng.SetStrategy(testSpec(StrategyBFS, 50, 1)))

	stream, err := eng.Start(context.Background(), "https://example.com/")
	require.NoError(t, err)
	results := collect(t, stream)

	require.Len(t, results, 21)
	seen := make(map[string]struct{})
	for _, r := range results {
		_, dup := seen[r.URL]
		require.False(t, dup, "duplicate emission of %s", r.URL)
		seen[r.URL] = struct{}{}
	}
	require.Equal(t, StateCompleted, eng.State())
}

func TestEngineReleasesSessionGoroutines(t *testing.T) {
	// Counts process goroutines, so it must not run in parallel with other
	// tests in this package.
	runSession := func() {
		fetcher := newStubFetcher()
		fetcher.page("https://example.com/", []string{"https://example.com/a"}, nil)
		eng := newTestEngine(t, fetcher, 1, 1)
		require.NoError(t, eng.SetStrategy(testSpec(StrategyBFS, 5, 1)))
		stream, err := eng.Start(context.Background(), "https://example.com/")
		require.NoError(t, err)
		results := collect(t, stream)
		require.Len(t, results, 2)
		require.Equal(t, StateCompleted, eng.State())
	}

	runSession() // warm up shared machinery
	before := runtime.NumGoroutine()

	const sessions = 25
	for i := 0; i < sessions; i++ {
		runSession()
	}

	// Completed sessions must not pin their cancellation watcher; allow a
	// little slack for runtime background goroutines.
	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before+5
	}, 5*time.Second, 20*time.Millisecond,
		"goroutines before=%d after=%d", before, runtime.NumGoroutine())
}

func TestEngineSnapshot(t *testing.T) {
	t.Parallel()

	fetcher := newStubFetcher()
	fetcher.page("https://example.com/", []string{"https://example.com/a"}, nil)

	eng := newTestEngine(t, fetcher, 1, 1)
	require.NoError(t, eng.SetStrategy(testSpec(StrategyBFS, 5, 1)))

	snap := eng.SnapshotSession()
	require.Equal(t, StateIdle, snap.State)

	stream, err := eng.Start(context.Background(), "https://example.com/")
	require.NoError(t, err)
	collect(t, stream)

	snap = eng.SnapshotSession()
	require.Equal(t, StateCompleted, snap.State)
	require.Equal(t, 2, snap.PagesFetched)
	require.Equal(t, 5, snap.MaxPages)
	require.Equal(t, 2, snap.VisitedCount)
	require.NotEmpty(t, snap.SessionID)
}
