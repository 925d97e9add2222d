package crawler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/crawlkit/deepcrawl/internal/progress"
	"github.com/crawlkit/deepcrawl/internal/proxy"
)

// EngineConfig carries the session-independent engine knobs.
type EngineConfig struct {
	// Concurrency bounds in-flight fetches. Callers requiring strict
	// traversal order must set it to 1.
	Concurrency int
	// MaxRetries is the number of additional attempts after a retriable
	// fetch failure. Each retry uses the next proxy in rotation.
	MaxRetries int
}

// Engine orchestrates frontier, filter chain, scorer, proxy rotator, and
// fetcher into one crawl session. An Engine runs exactly one session; build
// a new Engine per crawl.
type Engine struct {
	cfg     EngineConfig
	fetcher Fetcher
	rotator *proxy.Rotator
	retry   RetryPolicy
	clock   Clock
	logger  *zap.Logger
	emitter progress.Emitter

	sessionID uuid.UUID

	mu       sync.Mutex
	cond     *sync.Cond
	state    State
	spec     *StrategySpec
	chain    *FilterChain
	scorer   Scorer
	frontier Frontier
	visited  *visitedSet
	fetched  int
	inflight int

	results chan Result
	cancel  context.CancelFunc
}

// NewEngine constructs an idle engine. The rotator is mandatory: a crawl
// must not start without an egress identity. The emitter may be nil.
func NewEngine(
	cfg EngineConfig,
	fetcher Fetcher,
	rotator *proxy.Rotator,
	logger *zap.Logger,
	emitter progress.Emitter,
) (*Engine, error) {
	if fetcher == nil {
		return nil, configErrorf("fetcher", "fetcher is required")
	}
	if rotator == nil {
		return nil, configErrorf("proxy", "proxy rotator is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:       cfg,
		fetcher:   fetcher,
		rotator:   rotator,
		retry:     NewFetchRetryPolicy(cfg.MaxRetries),
		clock:     systemClock{},
		logger:    logger,
		emitter:   emitter,
		sessionID: uuid.New(),
		state:     StateIdle,
	}
	e.cond = sync.NewCond(&e.mu)
	return e, nil
}

// WithClock overrides the engine clock; intended for tests.
func (e *Engine) WithClock(c Clock) *Engine {
	if c != nil {
		e.clock = c
	}
	return e
}

// WithRetryPolicy overrides the retry policy; intended for tests.
func (e *Engine) WithRetryPolicy(p RetryPolicy) *Engine {
	if p != nil {
		e.retry = p
	}
	return e
}

// SessionID identifies this engine's session.
func (e *Engine) SessionID() uuid.UUID { return e.sessionID }

// SetStrategy configures the traversal for the session. It must be called
// before Start; a malformed glob, non-positive page budget, or invalid
// scorer weight is a ConfigError.
func (e *Engine) SetStrategy(spec StrategySpec) error {
	chain, err := NewFilterChain(spec.Filters)
	if err != nil {
		return err
	}
	if spec.MaxPages <= 0 {
		return configErrorf("max_pages", "must be > 0, got %d", spec.MaxPages)
	}
	if spec.MaxDepth < 0 {
		return configErrorf("max_depth", "must be >= 0, got %d", spec.MaxDepth)
	}

	var scorer Scorer
	switch spec.Kind {
	case StrategyBFS:
	case StrategyBestFirst:
		ks, err := NewKeywordScorer(spec.Score)
		if err != nil {
			return err
		}
		scorer = ks
	default:
		return configErrorf("strategy", "unknown strategy %q", spec.Kind)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateIdle {
		return ErrAlreadyStarted
	}
	e.spec = &spec
	e.chain = chain
	e.scorer = scorer
	return nil
}

// Start begins the crawl from seed and returns the result stream. The seed
// bypasses the pre-push domain and pattern checks since it is
// operator-supplied; its content type is still checked after fetch. The
// returned channel closes when the session reaches a terminal state with no
// pending results lost.
func (e *Engine) Start(ctx context.Context, seed string) (<-chan Result, error) {
	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	if e.spec == nil {
		e.mu.Unlock()
		return nil, ErrNotConfigured
	}
	normalized, err := NormalizeURL(seed)
	if err != nil {
		e.state = StateFailed
		e.mu.Unlock()
		return nil, configErrorf("seed", "invalid seed url %q: %v", seed, err)
	}

	e.visited = newVisitedSet()
	switch e.spec.Kind {
	case StrategyBestFirst:
		e.frontier = newBestFirstFrontier(e.spec.MaxDepth, e.visited)
	default:
		e.frontier = newBFSFrontier(e.spec.MaxDepth, e.visited)
	}
	e.frontier.Push(Target{URL: normalized, Depth: 0}, 0)

	// Budget bounds total emissions, so the buffer guarantees sends never
	// block and cancellation stays prompt.
	e.results = make(chan Result, e.spec.MaxPages)
	e.state = StateRunning

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.mu.Unlock()

	e.emit(progress.Event{Stage: progress.StageSessionStart, Note: string(e.spec.Kind)})
	e.logger.Info("crawl session started",
		zap.String("session_id", e.sessionID.String()),
		zap.String("seed", normalized),
		zap.String("strategy", string(e.spec.Kind)),
		zap.Int("max_pages", e.spec.MaxPages),
		zap.Int("max_depth", e.spec.MaxDepth),
	)

	go e.watchCancellation(runCtx)
	go e.run(runCtx)
	return e.results, nil
}

// Cancel transitions the session to StateCancelled, stops new dispatch, and
// propagates cancellation to in-flight fetches. Safe to call at any time.
func (e *Engine) Cancel() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// State returns the current engine state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SnapshotSession returns a point-in-time view for the status API.
func (e *Engine) SnapshotSession() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := Snapshot{
		SessionID:    e.sessionID.String(),
		State:        e.state,
		PagesFetched: e.fetched,
	}
	if e.spec != nil {
		snap.MaxPages = e.spec.MaxPages
	}
	if e.frontier != nil {
		snap.FrontierLen = e.frontier.Len()
	}
	if e.visited != nil {
		snap.VisitedCount = e.visited.len()
	}
	return snap
}

func (e *Engine) watchCancellation(ctx context.Context) {
	<-ctx.Done()
	e.mu.Lock()
	if e.state == StateRunning {
		e.state = StateCancelled
	}
	e.cond.Broadcast()
	e.mu.Unlock()
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.results)
	defer e.finish()

	// A slot is reserved before popping so that, at concurrency 1, the next
	// target is chosen only after the previous page's links are enqueued;
	// dispatch order then matches the frontier discipline exactly.
	g := new(errgroup.Group)
	sem := make(chan struct{}, e.cfg.Concurrency)
	for {
		sem <- struct{}{}
		target, ok := e.nextTarget()
		if !ok {
			<-sem
			break
		}
		g.Go(func() error {
			defer func() { <-sem }()
			e.process(ctx, target)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.logger.Error("worker group failed", zap.Error(err))
	}
}

// nextTarget blocks until a target is available, the session reaches a
// terminal state, or the frontier empties with nothing in flight.
func (e *Engine) nextTarget() (Target, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for {
		if e.state != StateRunning {
			return Target{}, false
		}
		if t, ok := e.frontier.Pop(); ok {
			e.inflight++
			return t, true
		}
		if e.inflight == 0 {
			e.state = StateCompleted
			return Target{}, false
		}
		e.cond.Wait()
	}
}

func (e *Engine) process(ctx context.Context, t Target) {
	defer func() {
		e.mu.Lock()
		e.inflight--
		e.cond.Broadcast()
		e.mu.Unlock()
	}()

	outcome, via, err := e.fetchWithRetry(ctx, t)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			fetchDropsTotal.Inc()
			e.emit(progress.Event{Stage: progress.StageFetchDrop, URL: t.URL, Depth: t.Depth, Note: err.Error()})
			e.logger.Warn("dropping url after failed fetch",
				zap.String("url", t.URL), zap.Int("depth", t.Depth), zap.Error(err))
		}
		return
	}

	if !e.chain.AdmitContentType(outcome.ContentType) {
		pagesFilteredTotal.Inc()
		e.emit(progress.Event{Stage: progress.StagePageFiltered, URL: t.URL, Depth: t.Depth, Note: outcome.ContentType})
		e.logger.Debug("page rejected post-fetch",
			zap.String("url", t.URL), zap.String("content_type", outcome.ContentType))
		return
	}

	e.mu.Lock()
	if e.state != StateRunning || e.fetched >= e.spec.MaxPages {
		// Draining in-flight work after cancellation or budget exhaustion;
		// the page is discarded, not emitted.
		e.mu.Unlock()
		return
	}
	e.fetched++
	budgetHit := e.fetched == e.spec.MaxPages
	if budgetHit {
		e.state = StateBudgetExhausted
	}
	e.mu.Unlock()

	pagesFetchedTotal.Inc()
	e.results <- Result{
		URL:         t.URL,
		Depth:       t.Depth,
		Content:     outcome.Text,
		Links:       outcome.Links,
		ContentType: outcome.ContentType,
		Proxy:       via,
		FetchedAt:   e.clock.Now(),
	}

	if budgetHit {
		e.cond.Broadcast()
		return
	}
	e.expand(t, outcome)
}

// expand scores and enqueues the outbound links of a fetched page.
func (e *Engine) expand(parent Target, outcome FetchOutcome) {
	admitted := 0
	e.mu.Lock()
	for _, link := range outcome.Links {
		normalized, err := NormalizeURL(link)
		if err != nil {
			continue
		}
		if !e.chain.AdmitURL(normalized) {
			continue
		}
		score := 0.0
		if e.scorer != nil {
			score = e.scorer.Score(outcome.AnchorContexts[link])
		}
		e.frontier.Push(Target{
			URL:       normalized,
			Depth:     parent.Depth + 1,
			ParentURL: parent.URL,
		}, score)
		admitted++
	}
	e.cond.Broadcast()
	e.mu.Unlock()

	if admitted > 0 {
		linksAdmittedTotal.Add(float64(admitted))
	}
}

// fetchWithRetry fetches t, retrying retriable failures against the next
// proxy in rotation. Retries consume rotation slots like any other fetch.
func (e *Engine) fetchWithRetry(ctx context.Context, t Target) (FetchOutcome, proxy.Entry, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		entry := e.rotator.Next()
		e.emit(progress.Event{Stage: progress.StageFetchStart, URL: t.URL, Depth: t.Depth, Proxy: entry.Addr()})

		start := e.clock.Now()
		outcome, err := e.fetcher.Fetch(ctx, FetchRequest{URL: t.URL, Depth: t.Depth, Proxy: entry})
		if err == nil {
			e.emit(progress.Event{
				Stage: progress.StageFetchDone,
				URL:   t.URL,
				Depth: t.Depth,
				Proxy: entry.Addr(),
				Dur:   e.clock.Now().Sub(start),
			})
			return outcome, entry, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return FetchOutcome{}, proxy.Entry{}, ctx.Err()
		}
		if !e.retry.ShouldRetry(err, attempt) {
			return FetchOutcome{}, proxy.Entry{}, lastErr
		}

		fetchRetriesTotal.Inc()
		e.emit(progress.Event{Stage: progress.StageFetchRetry, URL: t.URL, Depth: t.Depth, Proxy: entry.Addr(), Note: err.Error()})
		if !sleepCtx(ctx, e.retry.Backoff(attempt)) {
			return FetchOutcome{}, proxy.Entry{}, ctx.Err()
		}
	}
}

func (e *Engine) finish() {
	e.mu.Lock()
	if !e.state.Terminal() {
		e.state = StateCompleted
	}
	state := e.state
	fetched := e.fetched
	cancel := e.cancel
	e.mu.Unlock()

	// The terminal state is set before the session context is released, so
	// watchCancellation observes a finished session and leaves it alone.
	if cancel != nil {
		cancel()
	}

	e.emit(progress.Event{Stage: progress.StageSessionDone, Note: string(state)})
	e.logger.Info("crawl session finished",
		zap.String("session_id", e.sessionID.String()),
		zap.String("state", string(state)),
		zap.Int("pages_fetched", fetched),
	)
}

func (e *Engine) emit(evt progress.Event) {
	if e.emitter == nil {
		return
	}
	evt.SessionID = progress.UUIDToBytes(e.sessionID)
	evt.TS = e.clock.Now()
	e.emitter.Emit(evt)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
