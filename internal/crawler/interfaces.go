package crawler

import "context"

// Fetcher retrieves one URL through one proxy and returns the rendered text,
// outbound links, and response metadata. Implementations must honor ctx
// cancellation and classify failures as *FetchError so the engine can decide
// whether to retry.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchOutcome, error)
}

// ResultSink receives each Result as it is produced. The engine guarantees
// at-most-once delivery per URL within a session.
type ResultSink interface {
	Write(ctx context.Context, res Result) error
}

// Scorer maps discovery-time text (anchor text, surrounding context) to a
// priority in [0, 1]. Implementations must be pure and safe for concurrent
// use.
type Scorer interface {
	Score(text string) float64
}

// Frontier is the traversal data structure holding pending targets. Push is
// a no-op for over-depth candidates and for URLs already seen this session;
// the priority argument is ignored by breadth-first implementations.
// Frontier implementations are not safe for concurrent use; the engine
// serializes access.
type Frontier interface {
	Push(t Target, priority float64)
	Pop() (Target, bool)
	Len() int
}
