// Package crawler defines core types shared across subsystems.
package crawler

import (
	"time"

	"github.com/crawlkit/deepcrawl/internal/proxy"
)

// State represents the lifecycle state of a crawl engine.
type State string

// Engine states. Start moves the engine from StateIdle to StateRunning;
// every run ends in exactly one of the terminal states.
const (
	StateIdle            State = "idle"
	StateRunning         State = "running"
	StateCompleted       State = "completed"
	StateBudgetExhausted State = "budget_exhausted"
	StateCancelled       State = "cancelled"
	StateFailed          State = "failed"
)

// Terminal reports whether the state ends a crawl session.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateBudgetExhausted, StateCancelled, StateFailed:
		return true
	}
	return false
}

// Strategy selects the traversal discipline for a session.
type Strategy string

// Supported traversal strategies.
const (
	StrategyBFS       Strategy = "bfs"
	StrategyBestFirst Strategy = "best_first"
)

// FilterSpec describes the admission rules for one session. Immutable once
// the strategy is set.
type FilterSpec struct {
	AllowedDomains      []string
	URLPatterns         []string
	AllowedContentTypes []string
}

// ScoreSpec configures the keyword relevance scorer for best-first crawls.
type ScoreSpec struct {
	Keywords []string
	Weight   float64
}

// StrategySpec carries everything the engine needs to configure a session.
type StrategySpec struct {
	Kind     Strategy
	Filters  FilterSpec
	Score    ScoreSpec
	MaxDepth int
	MaxPages int
}

// Target is one discovered-but-not-yet-fetched URL. The URL is normalized;
// it is the identity key for deduplication. Targets are immutable.
type Target struct {
	URL       string
	Depth     int
	ParentURL string
}

// FetchRequest captures everything needed to fetch one page.
type FetchRequest struct {
	URL   string
	Depth int
	Proxy proxy.Entry
}

// FetchOutcome is returned by a Fetcher on success. Links are absolute URLs
// in document order; AnchorContexts maps a link to the anchor text observed
// at discovery time, which is all the scorer sees before the page is fetched.
type FetchOutcome struct {
	URL            string
	StatusCode     int
	ContentType    string
	Text           string
	Links          []string
	AnchorContexts map[string]string
}

// Result is produced once per successfully fetched and admitted page.
type Result struct {
	URL         string
	Depth       int
	Content     string
	Links       []string
	ContentType string
	Proxy       proxy.Entry
	FetchedAt   time.Time
}

// Snapshot is a point-in-time view of a running session, served by the
// status API.
type Snapshot struct {
	SessionID    string `json:"session_id"`
	State        State  `json:"state"`
	PagesFetched int    `json:"pages_fetched"`
	MaxPages     int    `json:"max_pages"`
	FrontierLen  int    `json:"frontier_len"`
	VisitedCount int    `json:"visited_count"`
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
